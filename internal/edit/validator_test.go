package edit

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockBackend implements Backend with a canned candidate
type MockBackend struct {
	candidate string
	err       error
	calls     int
}

func (m *MockBackend) EditContent(ctx context.Context, content, instruction string) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return m.candidate, nil
}

// pageWithLines builds an HTML block with the given number of body lines
func pageWithLines(n int) string {
	var b strings.Builder
	b.WriteString("<div class=\"hero\">\n")
	b.WriteString("  <h1 class=\"text-red-500\">Welcome</h1>\n")
	for i := 0; i < n-3; i++ {
		b.WriteString(fmt.Sprintf("  <p>line %d</p>\n", i))
	}
	b.WriteString("</div>\n")
	return b.String()
}

func TestClassify(t *testing.T) {
	c := NewClassifier()

	tests := []struct {
		instruction string
		want        Classification
	}{
		{"change the heading color to green", ClassificationSimple},
		{"fix typo in the footer", ClassificationSimple},
		{"rename the button", ClassificationSimple},
		{"make the hero image larger", ClassificationModerate},
		{"add a new pricing section", ClassificationStructural},
		{"restructure the page", ClassificationStructural},
		{"add authentication", ClassificationStructural},
		// Structural wins even when a simple keyword also matches
		{"change the color scheme and add a new section", ClassificationStructural},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, c.Classify(tt.instruction), "instruction: %s", tt.instruction)
	}
}

func TestStructuralInstructionRejectedWithoutBackendCall(t *testing.T) {
	backend := &MockBackend{}
	v := NewValidator(backend, nil, DefaultConfig())

	result := v.Apply(context.Background(), pageWithLines(40), "add a new testimonials section")

	assert.False(t, result.Applied)
	assert.True(t, result.RequiresFullRegeneration)
	assert.Equal(t, ReasonStructuralChange, result.Reason)
	assert.Equal(t, ClassificationStructural, result.Classification)
	assert.Equal(t, 0, backend.calls)
	assert.Empty(t, result.NewContent)
}

func TestSimpleColorEditApplied(t *testing.T) {
	content := pageWithLines(40)
	// No backend: the deterministic color-class fallback handles it
	v := NewValidator(nil, nil, DefaultConfig())

	result := v.Apply(context.Background(), content, "change the heading color to green")

	require.True(t, result.Applied, "reason: %s", result.Reason)
	assert.Equal(t, ClassificationSimple, result.Classification)
	assert.Contains(t, result.NewContent, "text-green-500")
	assert.NotContains(t, result.NewContent, "text-red-500")
	assert.NotEmpty(t, result.Patch)
}

func TestBackendCandidateGatedByThreshold(t *testing.T) {
	content := pageWithLines(40)

	// Candidate rewrites most of the page: well over the moderate threshold
	rewritten := strings.ReplaceAll(content, "line", "item")
	backend := &MockBackend{candidate: rewritten}
	v := NewValidator(backend, nil, DefaultConfig())

	result := v.Apply(context.Background(), content, "make the hero image larger")

	assert.False(t, result.Applied)
	assert.True(t, result.RequiresFullRegeneration)
	assert.Equal(t, ReasonTooBroad, result.Reason)
	assert.Equal(t, 1, backend.calls)
	// Rejection never partially applies
	assert.Empty(t, result.NewContent)
}

func TestSimpleEditHeldToTighterThreshold(t *testing.T) {
	content := pageWithLines(40)

	// Candidate touches 4 lines out of 40: passes 20% but not 5%
	lines := strings.Split(content, "\n")
	for i := 2; i < 6; i++ {
		lines[i] = strings.Replace(lines[i], "line", "entry", 1)
	}
	backend := &MockBackend{candidate: strings.Join(lines, "\n")}
	v := NewValidator(backend, nil, DefaultConfig())

	result := v.Apply(context.Background(), content, "fix typo in the body")

	assert.False(t, result.Applied)
	assert.Equal(t, ReasonTooBroad, result.Reason)
	assert.Equal(t, ClassificationSimple, result.Classification)
}

func TestQuotedTextReplacementFallback(t *testing.T) {
	content := pageWithLines(40)
	backend := &MockBackend{err: assert.AnError}
	v := NewValidator(backend, nil, DefaultConfig())

	result := v.Apply(context.Background(), content, `change the text "Welcome" to "Hello there"`)

	require.True(t, result.Applied, "reason: %s", result.Reason)
	assert.Contains(t, result.NewContent, "Hello there")
	assert.NotContains(t, result.NewContent, "Welcome")
	assert.Equal(t, 1, backend.calls)
}

func TestNoChangeProducedRejected(t *testing.T) {
	content := pageWithLines(10)
	// Backend echoes the content back unchanged
	backend := &MockBackend{candidate: content}
	v := NewValidator(backend, nil, DefaultConfig())

	result := v.Apply(context.Background(), content, "make it nicer")

	assert.False(t, result.Applied)
	assert.True(t, result.RequiresFullRegeneration)
	assert.Equal(t, ReasonNoChange, result.Reason)
}

func TestInsaneBackendCandidateFallsThrough(t *testing.T) {
	content := pageWithLines(40)
	// Candidate lost the closing tags and most of the content
	backend := &MockBackend{candidate: "<div>oops"}
	v := NewValidator(backend, nil, DefaultConfig())

	result := v.Apply(context.Background(), content, "change the heading color to green")

	// The local color fallback still applies the edit
	require.True(t, result.Applied, "reason: %s", result.Reason)
	assert.Contains(t, result.NewContent, "text-green-500")
}

func TestSaneCandidate(t *testing.T) {
	assert.False(t, saneCandidate("<div>long enough content here</div>", "<d"))
	assert.False(t, saneCandidate("<div>content</div>", "div content no closing tags"))
	assert.True(t, saneCandidate("<div>content</div>", "<div>changed</div>"))
}
