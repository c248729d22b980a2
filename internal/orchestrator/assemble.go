package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/bizmatters/agent-builder/site-orchestrator/internal/models"
)

// assemble combines every artifact the run produced into one ordered document
// and persists it under the fixed assembled name with the job's highest order
// index. Content is grouped by kind (markup first, then style, then behavior)
// and concatenated in planned order within each kind. An empty or partial
// result is still assembled so the state machine can advance.
func (o *Orchestrator) assemble(ctx context.Context, job *models.Job) (string, error) {
	artifacts, err := o.store.ListArtifacts(ctx, job.ID)
	if err != nil {
		return "", fmt.Errorf("failed to load artifacts for assembly: %w", err)
	}

	var html, css, js []string
	maxIndex := -1
	for _, a := range artifacts {
		if a.Name == models.AssembledArtifactName {
			continue
		}
		if a.OrderIndex > maxIndex {
			maxIndex = a.OrderIndex
		}
		switch a.Kind {
		case models.ArtifactKindCSS:
			css = append(css, a.Content)
		case models.ArtifactKindJS:
			js = append(js, a.Content)
		default:
			html = append(html, a.Content)
		}
	}

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n<meta charset=\"utf-8\">\n")
	b.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">\n")
	if len(css) > 0 {
		b.WriteString("<style>\n")
		b.WriteString(strings.Join(css, "\n"))
		b.WriteString("\n</style>\n")
	}
	b.WriteString("</head>\n<body>\n")
	b.WriteString(strings.Join(html, "\n"))
	if len(js) > 0 {
		b.WriteString("\n<script>\n")
		b.WriteString(strings.Join(js, "\n"))
		b.WriteString("\n</script>")
	}
	b.WriteString("\n</body>\n</html>\n")

	assembled := &models.Artifact{
		JobID:      job.ID,
		ProjectID:  job.ProjectID,
		Name:       models.AssembledArtifactName,
		Kind:       models.ArtifactKindHTML,
		Content:    b.String(),
		OrderIndex: maxIndex + 1,
	}
	if err := o.store.SaveArtifact(ctx, assembled); err != nil {
		return "", fmt.Errorf("failed to persist assembled artifact: %w", err)
	}

	return assembled.Content, nil
}
