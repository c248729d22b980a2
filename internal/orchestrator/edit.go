package orchestrator

import (
	"context"
	"fmt"
	"log"

	"go.opentelemetry.io/otel/attribute"

	"github.com/bizmatters/agent-builder/site-orchestrator/internal/events"
	"github.com/bizmatters/agent-builder/site-orchestrator/internal/models"
)

// EditElement applies a surgical edit to an existing artifact. Rejections are
// normal responses broadcast as edit:patch with applied=false; they never
// partially apply and never change stored content.
func (o *Orchestrator) EditElement(ctx context.Context, req models.EditElementRequest) error {
	ctx, span := o.tracer.Start(ctx, "orchestrator.edit_element")
	defer span.End()
	span.SetAttributes(
		attribute.String("project.id", req.ProjectID),
		attribute.String("element.id", req.ElementID),
	)

	content := req.Content
	var source *models.Artifact
	if content == "" {
		artifact, err := o.store.GetLatestArtifact(ctx, req.ProjectID, req.ElementID)
		if err != nil {
			return fmt.Errorf("failed to load element %s: %w", req.ElementID, err)
		}
		source = artifact
		content = artifact.Content
	}

	result := o.editor.Apply(ctx, content, req.Instruction)

	if !result.Applied {
		span.SetAttributes(attribute.String("edit.rejection", result.Reason))
		log.Printf("Surgical edit rejected for element %s in project %s: %s", req.ElementID, req.ProjectID, result.Reason)
		o.emitter.EmitEditPatch(events.EditPatchPayload{
			ProjectID:                req.ProjectID,
			ElementID:                req.ElementID,
			Applied:                  false,
			RequiresFullRegeneration: result.RequiresFullRegeneration,
			Reason:                   result.Reason,
		})
		return nil
	}

	// Edits create a new artifact version, never an in-place overwrite
	version := &models.Artifact{
		ProjectID: req.ProjectID,
		Name:      req.ElementID,
		Kind:      models.ArtifactKindHTML,
		Content:   result.NewContent,
	}
	if source != nil {
		version.JobID = source.JobID
		version.Kind = source.Kind
		version.OrderIndex = source.OrderIndex
	}
	if err := o.store.SaveArtifact(ctx, version); err != nil {
		return fmt.Errorf("failed to persist edited artifact: %w", err)
	}

	o.emitter.EmitEditPatch(events.EditPatchPayload{
		ProjectID: req.ProjectID,
		ElementID: req.ElementID,
		Applied:   true,
		Patch:     result.Patch,
	})
	o.emitter.EmitEditComplete(events.EditCompletePayload{
		ProjectID:  req.ProjectID,
		ElementID:  req.ElementID,
		NewContent: result.NewContent,
		Summary:    result.Summary,
	})

	log.Printf("Surgical edit applied to element %s in project %s", req.ElementID, req.ProjectID)
	return nil
}
