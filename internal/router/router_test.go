package router

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizmatters/agent-builder/site-orchestrator/internal/events"
	"github.com/bizmatters/agent-builder/site-orchestrator/internal/models"
	"github.com/bizmatters/agent-builder/site-orchestrator/internal/registry"
)

// MockPipeline records dispatched operations
type MockPipeline struct {
	startReqs  []models.StartGenerationRequest
	pauseIDs   []string
	resumeIDs  []string
	editReqs   []models.EditElementRequest
	startErr   error
	pauseErr   error
	resumeErr  error
	editErr    error
}

func (m *MockPipeline) StartGeneration(ctx context.Context, req models.StartGenerationRequest) error {
	m.startReqs = append(m.startReqs, req)
	return m.startErr
}

func (m *MockPipeline) PauseGeneration(ctx context.Context, projectID string) error {
	m.pauseIDs = append(m.pauseIDs, projectID)
	return m.pauseErr
}

func (m *MockPipeline) ResumeGeneration(ctx context.Context, projectID string) error {
	m.resumeIDs = append(m.resumeIDs, projectID)
	return m.resumeErr
}

func (m *MockPipeline) EditElement(ctx context.Context, req models.EditElementRequest) error {
	m.editReqs = append(m.editReqs, req)
	return m.editErr
}

// CaptureConn implements registry.Conn and retains envelopes for assertions
type CaptureConn struct {
	envelopes []events.Envelope
}

func (c *CaptureConn) WriteJSON(v interface{}) error {
	if env, ok := v.(events.Envelope); ok {
		c.envelopes = append(c.envelopes, env)
	}
	return nil
}

func (c *CaptureConn) Ping() error  { return nil }
func (c *CaptureConn) Close() error { return nil }

func (c *CaptureConn) lastError(t *testing.T) events.ErrorPayload {
	t.Helper()
	require.NotEmpty(t, c.envelopes)
	last := c.envelopes[len(c.envelopes)-1]
	require.Equal(t, events.TypeError, last.Type)
	var p events.ErrorPayload
	require.NoError(t, json.Unmarshal(last.Payload, &p))
	return p
}

func frame(t *testing.T, msgType string, payload interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	data, err := json.Marshal(map[string]interface{}{
		"type":    msgType,
		"payload": json.RawMessage(raw),
	})
	require.NoError(t, err)
	return data
}

func setup(t *testing.T) (*Router, *registry.Registry, *MockPipeline, *CaptureConn, string) {
	t.Helper()
	reg := registry.New()
	pipeline := &MockPipeline{}
	r := New(reg, pipeline)
	conn := &CaptureConn{}
	id := reg.Register(conn)
	return r, reg, pipeline, conn, id
}

func TestMalformedEnvelopeRepliesError(t *testing.T) {
	r, _, pipeline, conn, id := setup(t)

	r.HandleMessage(context.Background(), id, []byte("{not json"))

	p := conn.lastError(t)
	assert.Equal(t, models.ErrCodeInvalidRequest, p.Code)
	assert.Empty(t, pipeline.startReqs)
}

func TestUnknownTypeIsDropped(t *testing.T) {
	r, _, pipeline, conn, id := setup(t)

	r.HandleMessage(context.Background(), id, frame(t, "future_message_kind", map[string]string{"x": "y"}))

	// Dropped, not an error reply, and the connection survives
	assert.Empty(t, conn.envelopes)
	assert.Empty(t, pipeline.startReqs)
}

func TestJoinProject(t *testing.T) {
	r, reg, _, conn, id := setup(t)

	r.HandleMessage(context.Background(), id, frame(t, events.TypeJoinProject, map[string]string{"project_id": "project-a"}))

	room, ok := reg.CurrentRoom(id)
	require.True(t, ok)
	assert.Equal(t, "project-a", room)

	require.Len(t, conn.envelopes, 1)
	assert.Equal(t, events.TypeProjectJoined, conn.envelopes[0].Type)
}

func TestJoinProjectMissingID(t *testing.T) {
	r, reg, _, conn, id := setup(t)

	r.HandleMessage(context.Background(), id, frame(t, events.TypeJoinProject, map[string]string{}))

	p := conn.lastError(t)
	assert.Equal(t, models.ErrCodeValidationFailed, p.Code)
	_, ok := reg.CurrentRoom(id)
	assert.False(t, ok)
}

func TestLeaveProject(t *testing.T) {
	r, reg, _, _, id := setup(t)
	require.True(t, reg.Join(id, "project-a"))

	r.HandleMessage(context.Background(), id, frame(t, events.TypeLeaveProject, map[string]string{"project_id": "project-a"}))

	_, ok := reg.CurrentRoom(id)
	assert.False(t, ok)
}

func TestStartGenerationJoinsIssuerBeforeDispatch(t *testing.T) {
	r, reg, pipeline, _, id := setup(t)

	r.HandleMessage(context.Background(), id, frame(t, events.TypeStartGeneration, map[string]interface{}{
		"project_id": "project-a",
		"prompt":     "build a landing page",
	}))

	// The issuing connection is in the room before any pipeline event fires
	room, ok := reg.CurrentRoom(id)
	require.True(t, ok)
	assert.Equal(t, "project-a", room)

	require.Len(t, pipeline.startReqs, 1)
	assert.Equal(t, "project-a", pipeline.startReqs[0].ProjectID)
	assert.Equal(t, "build a landing page", pipeline.startReqs[0].Prompt)
}

func TestStartGenerationValidation(t *testing.T) {
	r, _, pipeline, conn, id := setup(t)

	r.HandleMessage(context.Background(), id, frame(t, events.TypeStartGeneration, map[string]string{"project_id": "project-a"}))

	p := conn.lastError(t)
	assert.Equal(t, models.ErrCodeValidationFailed, p.Code)
	// Validation failures never reach the pipeline
	assert.Empty(t, pipeline.startReqs)
}

func TestStartGenerationDuplicateRunError(t *testing.T) {
	r, _, pipeline, conn, id := setup(t)
	pipeline.startErr = assert.AnError

	r.HandleMessage(context.Background(), id, frame(t, events.TypeStartGeneration, map[string]string{
		"project_id": "project-a",
		"prompt":     "build a landing page",
	}))

	p := conn.lastError(t)
	assert.Equal(t, models.ErrCodeJobAlreadyRunning, p.Code)
}

func TestPauseAndResumeDispatch(t *testing.T) {
	r, _, pipeline, _, id := setup(t)

	r.HandleMessage(context.Background(), id, frame(t, events.TypePauseGeneration, map[string]string{"project_id": "project-a"}))
	r.HandleMessage(context.Background(), id, frame(t, events.TypeResumeGeneration, map[string]string{"project_id": "project-a"}))

	assert.Equal(t, []string{"project-a"}, pipeline.pauseIDs)
	assert.Equal(t, []string{"project-a"}, pipeline.resumeIDs)
}

func TestEditElementDispatch(t *testing.T) {
	r, _, pipeline, _, id := setup(t)

	r.HandleMessage(context.Background(), id, frame(t, events.TypeEditElement, map[string]string{
		"project_id":  "project-a",
		"element_id":  "hero",
		"instruction": "change the heading color to green",
	}))

	require.Len(t, pipeline.editReqs, 1)
	assert.Equal(t, "hero", pipeline.editReqs[0].ElementID)
}

func TestEditElementValidation(t *testing.T) {
	r, _, pipeline, conn, id := setup(t)

	r.HandleMessage(context.Background(), id, frame(t, events.TypeEditElement, map[string]string{
		"project_id": "project-a",
		"element_id": "hero",
	}))

	p := conn.lastError(t)
	assert.Equal(t, models.ErrCodeValidationFailed, p.Code)
	assert.Empty(t, pipeline.editReqs)
}
