package models

import (
	"time"
)

// Phase represents the lifecycle stage of a generation job
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhasePlanning   Phase = "planning"
	PhaseGenerating Phase = "generating"
	PhasePaused     Phase = "paused"
	PhaseAssembling Phase = "assembling"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
)

// Terminal reports whether the phase is a terminal state
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// Estimated complexity tags for planned units
const (
	ComplexityLow    = "low"
	ComplexityMedium = "medium"
	ComplexityHigh   = "high"
)

// ArtifactKind classifies generated content
type ArtifactKind string

const (
	ArtifactKindHTML ArtifactKind = "html"
	ArtifactKindCSS  ArtifactKind = "css"
	ArtifactKindJS   ArtifactKind = "js"
)

// AssembledArtifactName is the fixed identifier for the fully assembled page,
// distinguishing it from per-unit artifacts
const AssembledArtifactName = "__assembled__"

// Preferences holds the generation options supplied with a start request
type Preferences struct {
	OutputFormat  string `json:"output_format,omitempty"`
	Styling       string `json:"styling,omitempty"`
	Responsive    bool   `json:"responsive"`
	Accessibility bool   `json:"accessibility"`
}

// Unit is one planned piece of work within a job. Units are immutable once
// planned except for being marked generated.
type Unit struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Description string `json:"description"`
	Complexity  string `json:"complexity"`
	Generated   bool   `json:"generated"`
}

// Plan is the ordered set of units produced by the planning phase
type Plan struct {
	Units   []Unit `json:"units"`
	Summary string `json:"summary,omitempty"`
}

// Artifact is generated content for a single unit or for the assembled whole.
// Artifacts are append-only within a job: edits create new versions, never
// in-place overwrites.
type Artifact struct {
	ID            string       `json:"id"`
	JobID         string       `json:"job_id"`
	ProjectID     string       `json:"project_id"`
	Name          string       `json:"name"`
	Kind          ArtifactKind `json:"kind"`
	Content       string       `json:"content"`
	Documentation string       `json:"documentation,omitempty"`
	OrderIndex    int          `json:"order_index"`
	CreatedAt     time.Time    `json:"created_at"`
}

// Job is one generation run for a project
type Job struct {
	ID          string      `json:"id"`
	ProjectID   string      `json:"project_id"`
	Prompt      string      `json:"prompt"`
	Phase       Phase       `json:"phase"`
	Preferences Preferences `json:"preferences"`
	Units       []Unit      `json:"units"`
	Error       string      `json:"error,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Project is the container a generation job runs against
type Project struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	CreatedByUserID string    `json:"created_by_user_id"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Patch operation kinds
const (
	PatchOpInsert    = "insert"
	PatchOpDelete    = "delete"
	PatchOpUnchanged = "unchanged"
)

// PatchOp is one ordered operation in an edit patch
type PatchOp struct {
	Op   string `json:"op"`
	Text string `json:"text"`
}

// StartGenerationRequest carries the payload of a start_generation message
type StartGenerationRequest struct {
	ProjectID   string      `json:"project_id"`
	Prompt      string      `json:"prompt"`
	Preferences Preferences `json:"preferences"`
}

// EditElementRequest carries the payload of an edit_element message.
// Content is optional; when absent the latest persisted artifact for
// ElementID is used.
type EditElementRequest struct {
	ProjectID   string `json:"project_id"`
	ElementID   string `json:"element_id"`
	Instruction string `json:"instruction"`
	Content     string `json:"content,omitempty"`
}
