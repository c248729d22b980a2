package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/bizmatters/agent-builder/site-orchestrator/internal/models"
)

// Envelope is the wire frame shared by inbound and outbound messages, so the
// same framing code can parse both directions.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	ID        string          `json:"id,omitempty"`
}

// Inbound message types
const (
	TypeJoinProject      = "join_project"
	TypeLeaveProject     = "leave_project"
	TypeStartGeneration  = "start_generation"
	TypePauseGeneration  = "pause_generation"
	TypeResumeGeneration = "resume_generation"
	TypeEditElement      = "edit_element"
)

// Outbound event types
const (
	TypeConnected        = "connected"
	TypeProjectJoined    = "project:joined"
	TypeProgress         = "generation:progress"
	TypeStream           = "generation:stream"
	TypeElementGenerated = "element:generated"
	TypePreviewUpdate    = "preview:update"
	TypeComplete         = "generation:complete"
	TypeGenerationError  = "generation:error"
	TypeEditPatch        = "edit:patch"
	TypeEditComplete     = "edit:complete"
	TypeError            = "error"
)

// Typed payloads for the outbound event vocabulary. These replace
// map[string]interface{} so payload shape is statically checked per kind.

// ConnectedPayload is sent once when a connection is registered
type ConnectedPayload struct {
	ConnectionID string `json:"connection_id"`
}

// ProjectJoinedPayload acknowledges room membership before any job events flow
type ProjectJoinedPayload struct {
	ProjectID string `json:"project_id"`
}

// ProgressPayload reports coarse pipeline progress
type ProgressPayload struct {
	ProjectID              string       `json:"project_id"`
	Phase                  models.Phase `json:"phase"`
	CurrentStep            string       `json:"current_step"`
	CompletedSteps         int          `json:"completed_steps"`
	TotalSteps             int          `json:"total_steps"`
	Percentage             int          `json:"percentage"`
	EstimatedTimeRemaining int          `json:"estimated_time_remaining_seconds"`
}

// StreamPayload carries incremental text as a unit is produced
type StreamPayload struct {
	ProjectID          string       `json:"project_id"`
	Phase              models.Phase `json:"phase"`
	UnitID             string       `json:"unit_id,omitempty"`
	AccumulatedContent string       `json:"accumulated_content"`
	IsComplete         bool         `json:"is_complete"`
}

// ElementGeneratedPayload announces one unit's finished artifact
type ElementGeneratedPayload struct {
	ProjectID     string              `json:"project_id"`
	UnitID        string              `json:"unit_id"`
	Kind          models.ArtifactKind `json:"kind"`
	Content       string              `json:"content"`
	Documentation string              `json:"documentation,omitempty"`
	Position      int                 `json:"position"`
}

// PreviewUpdatePayload carries the fully assembled page
type PreviewUpdatePayload struct {
	ProjectID        string `json:"project_id"`
	AssembledContent string `json:"assembled_content"`
}

// CompletePayload is the terminal success event
type CompletePayload struct {
	ProjectID string `json:"project_id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

// GenerationErrorPayload reports a terminal or step-level failure
type GenerationErrorPayload struct {
	ProjectID   string   `json:"project_id"`
	Error       string   `json:"error"`
	Step        string   `json:"step,omitempty"`
	Recoverable bool     `json:"recoverable"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// EditPatchPayload reports the outcome of a surgical edit attempt. For
// rejections Applied is false and RequiresFullRegeneration directs the caller
// to a fresh start_generation.
type EditPatchPayload struct {
	ProjectID                string           `json:"project_id"`
	ElementID                string           `json:"element_id"`
	Applied                  bool             `json:"applied"`
	RequiresFullRegeneration bool             `json:"requires_full_regeneration,omitempty"`
	Reason                   string           `json:"reason,omitempty"`
	Patch                    []models.PatchOp `json:"patch,omitempty"`
}

// EditCompletePayload carries the accepted edit's new content
type EditCompletePayload struct {
	ProjectID  string `json:"project_id"`
	ElementID  string `json:"element_id"`
	NewContent string `json:"new_content"`
	Summary    string `json:"summary"`
}

// ErrorPayload is a locally produced reply for malformed inbound messages
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// NewEnvelope wraps a typed payload in the outbound wire frame
func NewEnvelope(eventType string, payload interface{}) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Type:      eventType,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
		ID:        uuid.New().String(),
	}, nil
}
