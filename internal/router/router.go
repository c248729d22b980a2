package router

import (
	"context"
	"encoding/json"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/bizmatters/agent-builder/site-orchestrator/internal/events"
	"github.com/bizmatters/agent-builder/site-orchestrator/internal/models"
	"github.com/bizmatters/agent-builder/site-orchestrator/internal/registry"
)

var tracer = otel.Tracer("message-router")

// Pipeline is the orchestrator surface the router dispatches to. Kept as an
// interface so the router can be exercised with a fake in isolation.
type Pipeline interface {
	StartGeneration(ctx context.Context, req models.StartGenerationRequest) error
	PauseGeneration(ctx context.Context, projectID string) error
	ResumeGeneration(ctx context.Context, projectID string) error
	EditElement(ctx context.Context, req models.EditElementRequest) error
}

// Router classifies inbound messages and dispatches them. It holds no job
// state of its own.
type Router struct {
	registry *registry.Registry
	pipeline Pipeline
	tracer   trace.Tracer
}

// New creates a new message router
func New(reg *registry.Registry, pipeline Pipeline) *Router {
	return &Router{
		registry: reg,
		pipeline: pipeline,
		tracer:   tracer,
	}
}

// HandleMessage parses one inbound frame from a connection and routes it.
// Unrecognized types are logged and dropped rather than treated as fatal.
func (r *Router) HandleMessage(ctx context.Context, connectionID string, raw []byte) {
	ctx, span := r.tracer.Start(ctx, "router.handle_message")
	defer span.End()

	var env events.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		span.RecordError(err)
		r.replyError(connectionID, "malformed message envelope", models.ErrCodeInvalidRequest)
		return
	}

	span.SetAttributes(
		attribute.String("message.type", env.Type),
		attribute.String("connection.id", connectionID),
	)

	switch env.Type {
	case events.TypeJoinProject:
		r.handleJoin(connectionID, env.Payload)
	case events.TypeLeaveProject:
		r.handleLeave(connectionID, env.Payload)
	case events.TypeStartGeneration:
		r.handleStartGeneration(ctx, connectionID, env.Payload)
	case events.TypePauseGeneration:
		r.handlePause(ctx, connectionID, env.Payload)
	case events.TypeResumeGeneration:
		r.handleResume(ctx, connectionID, env.Payload)
	case events.TypeEditElement:
		r.handleEditElement(ctx, connectionID, env.Payload)
	default:
		// Forward compatibility: future message kinds must not kill the
		// connection.
		log.Printf("Dropping unrecognized message type %q from connection %s", env.Type, connectionID)
	}
}

// projectPayload is the shared shape of room-membership commands
type projectPayload struct {
	ProjectID string `json:"project_id"`
}

func (r *Router) handleJoin(connectionID string, raw json.RawMessage) {
	var p projectPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.ProjectID == "" {
		r.replyError(connectionID, "join_project requires project_id", models.ErrCodeValidationFailed)
		return
	}

	if !r.registry.Join(connectionID, p.ProjectID) {
		r.replyError(connectionID, "connection is not registered", models.ErrCodeNotFound)
		return
	}

	if env, err := events.NewEnvelope(events.TypeProjectJoined, events.ProjectJoinedPayload{ProjectID: p.ProjectID}); err == nil {
		r.registry.SendTo(connectionID, env)
	}
}

func (r *Router) handleLeave(connectionID string, raw json.RawMessage) {
	var p projectPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.ProjectID == "" {
		r.replyError(connectionID, "leave_project requires project_id", models.ErrCodeValidationFailed)
		return
	}
	r.registry.Leave(connectionID, p.ProjectID)
}

func (r *Router) handleStartGeneration(ctx context.Context, connectionID string, raw json.RawMessage) {
	var req models.StartGenerationRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		r.replyError(connectionID, "malformed start_generation payload", models.ErrCodeValidationFailed)
		return
	}
	if req.ProjectID == "" || req.Prompt == "" {
		r.replyError(connectionID, "start_generation requires project_id and prompt", models.ErrCodeValidationFailed)
		return
	}

	// Ready-handshake for the join/start race: the issuing connection is in
	// the project room before the first pipeline event can be emitted.
	r.registry.Join(connectionID, req.ProjectID)

	if err := r.pipeline.StartGeneration(ctx, req); err != nil {
		r.replyError(connectionID, err.Error(), models.ErrCodeJobAlreadyRunning)
	}
}

func (r *Router) handlePause(ctx context.Context, connectionID string, raw json.RawMessage) {
	var p projectPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.ProjectID == "" {
		r.replyError(connectionID, "pause_generation requires project_id", models.ErrCodeValidationFailed)
		return
	}
	if err := r.pipeline.PauseGeneration(ctx, p.ProjectID); err != nil {
		r.replyError(connectionID, err.Error(), models.ErrCodeInvalidRequest)
	}
}

func (r *Router) handleResume(ctx context.Context, connectionID string, raw json.RawMessage) {
	var p projectPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.ProjectID == "" {
		r.replyError(connectionID, "resume_generation requires project_id", models.ErrCodeValidationFailed)
		return
	}
	if err := r.pipeline.ResumeGeneration(ctx, p.ProjectID); err != nil {
		r.replyError(connectionID, err.Error(), models.ErrCodeInvalidRequest)
	}
}

func (r *Router) handleEditElement(ctx context.Context, connectionID string, raw json.RawMessage) {
	var req models.EditElementRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		r.replyError(connectionID, "malformed edit_element payload", models.ErrCodeValidationFailed)
		return
	}
	if req.ProjectID == "" || req.ElementID == "" || req.Instruction == "" {
		r.replyError(connectionID, "edit_element requires project_id, element_id and instruction", models.ErrCodeValidationFailed)
		return
	}

	if err := r.pipeline.EditElement(ctx, req); err != nil {
		r.replyError(connectionID, err.Error(), models.ErrCodeInternalError)
	}
}

// replyError sends a local error frame to the offending connection only;
// validation failures never reach the pipeline or other observers
func (r *Router) replyError(connectionID, message, code string) {
	env, err := events.NewEnvelope(events.TypeError, events.ErrorPayload{Message: message, Code: code})
	if err != nil {
		return
	}
	if !r.registry.SendTo(connectionID, env) {
		log.Printf("Could not deliver error reply to connection %s: %s", connectionID, message)
	}
}
