package edit

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/bizmatters/agent-builder/site-orchestrator/internal/models"
)

// LineDiff computes an ordered line-level patch between two contents. The
// same primitive backs both edit reporting and change-magnitude gating.
func LineDiff(oldContent, newContent string) []models.PatchOp {
	dmp := diffmatchpatch.New()

	oldChars, newChars, lines := dmp.DiffLinesToChars(oldContent, newContent)
	diffs := dmp.DiffMain(oldChars, newChars, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	ops := make([]models.PatchOp, 0, len(diffs))
	for _, d := range diffs {
		op := models.PatchOpUnchanged
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			op = models.PatchOpInsert
		case diffmatchpatch.DiffDelete:
			op = models.PatchOpDelete
		}
		ops = append(ops, models.PatchOp{Op: op, Text: d.Text})
	}
	return ops
}

// ChangedFraction reports how much of the original content a patch touches.
// A modified line appears as a paired delete and insert, so the larger of the
// two counts is used to avoid double-counting in-place changes.
func ChangedFraction(ops []models.PatchOp, oldContent string) float64 {
	total := countLines(oldContent)
	if total == 0 {
		return 1.0
	}

	inserted, deleted := 0, 0
	for _, op := range ops {
		switch op.Op {
		case models.PatchOpInsert:
			inserted += countLines(op.Text)
		case models.PatchOpDelete:
			deleted += countLines(op.Text)
		}
	}

	changed := inserted
	if deleted > changed {
		changed = deleted
	}
	return float64(changed) / float64(total)
}

// countLines counts non-empty-terminated lines of a text block
func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}
