package edit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizmatters/agent-builder/site-orchestrator/internal/models"
)

func TestLineDiffIdentical(t *testing.T) {
	content := "a\nb\nc\n"
	ops := LineDiff(content, content)

	require.Len(t, ops, 1)
	assert.Equal(t, models.PatchOpUnchanged, ops[0].Op)
	assert.Equal(t, 0.0, ChangedFraction(ops, content))
}

func TestLineDiffSingleLineChange(t *testing.T) {
	oldContent := "a\nb\nc\nd\n"
	newContent := "a\nB\nc\nd\n"

	ops := LineDiff(oldContent, newContent)

	var inserted, deleted []string
	for _, op := range ops {
		switch op.Op {
		case models.PatchOpInsert:
			inserted = append(inserted, op.Text)
		case models.PatchOpDelete:
			deleted = append(deleted, op.Text)
		}
	}
	require.Len(t, inserted, 1)
	require.Len(t, deleted, 1)
	assert.Equal(t, "b\n", deleted[0])
	assert.Equal(t, "B\n", inserted[0])

	// A modified line is a paired delete and insert, counted once
	assert.InDelta(t, 0.25, ChangedFraction(ops, oldContent), 1e-9)
}

func TestLineDiffPureInsertion(t *testing.T) {
	oldContent := "a\nb\n"
	newContent := "a\nb\nc\nd\n"

	ops := LineDiff(oldContent, newContent)
	assert.InDelta(t, 1.0, ChangedFraction(ops, oldContent), 1e-9)
}

func TestChangedFractionEmptyOriginal(t *testing.T) {
	ops := LineDiff("", "anything\n")
	assert.Equal(t, 1.0, ChangedFraction(ops, ""))
}

func TestCountLines(t *testing.T) {
	assert.Equal(t, 0, countLines(""))
	assert.Equal(t, 1, countLines("one"))
	assert.Equal(t, 1, countLines("one\n"))
	assert.Equal(t, 3, countLines("a\nb\nc"))
}
