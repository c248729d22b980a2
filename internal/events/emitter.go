package events

import (
	"log"
)

// Broadcaster fans outbound envelopes to connections. Implemented by the
// connection registry.
type Broadcaster interface {
	BroadcastToProject(projectID string, env Envelope) int
	BroadcastToAll(env Envelope) int
}

// Emitter produces the canonical outbound event vocabulary and hands delivery
// to the registry, decoupling the orchestrator from connection mechanics.
type Emitter struct {
	broadcaster Broadcaster
}

// NewEmitter creates a new event emitter
func NewEmitter(broadcaster Broadcaster) *Emitter {
	return &Emitter{broadcaster: broadcaster}
}

// broadcast delivers an event to a project room. When the room has no
// confirmed members yet (a join may still be in flight on another
// connection), it falls back to a best-effort broadcast to every connection.
func (e *Emitter) broadcast(projectID, eventType string, payload interface{}) int {
	env, err := NewEnvelope(eventType, payload)
	if err != nil {
		log.Printf("Failed to marshal %s event for project %s: %v", eventType, projectID, err)
		return 0
	}

	delivered := e.broadcaster.BroadcastToProject(projectID, env)
	if delivered == 0 {
		delivered = e.broadcaster.BroadcastToAll(env)
	}
	return delivered
}

// EmitProgress broadcasts a generation:progress event
func (e *Emitter) EmitProgress(p ProgressPayload) int {
	return e.broadcast(p.ProjectID, TypeProgress, p)
}

// EmitStream broadcasts a generation:stream fragment event
func (e *Emitter) EmitStream(p StreamPayload) int {
	return e.broadcast(p.ProjectID, TypeStream, p)
}

// EmitElementGenerated broadcasts an element:generated event
func (e *Emitter) EmitElementGenerated(p ElementGeneratedPayload) int {
	return e.broadcast(p.ProjectID, TypeElementGenerated, p)
}

// EmitPreviewUpdate broadcasts a preview:update event
func (e *Emitter) EmitPreviewUpdate(p PreviewUpdatePayload) int {
	return e.broadcast(p.ProjectID, TypePreviewUpdate, p)
}

// EmitComplete broadcasts the terminal generation:complete event
func (e *Emitter) EmitComplete(p CompletePayload) int {
	return e.broadcast(p.ProjectID, TypeComplete, p)
}

// EmitGenerationError broadcasts a generation:error event
func (e *Emitter) EmitGenerationError(p GenerationErrorPayload) int {
	return e.broadcast(p.ProjectID, TypeGenerationError, p)
}

// EmitEditPatch broadcasts an edit:patch event
func (e *Emitter) EmitEditPatch(p EditPatchPayload) int {
	return e.broadcast(p.ProjectID, TypeEditPatch, p)
}

// EmitEditComplete broadcasts an edit:complete event
func (e *Emitter) EmitEditComplete(p EditCompletePayload) int {
	return e.broadcast(p.ProjectID, TypeEditComplete, p)
}
