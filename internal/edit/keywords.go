package edit

import (
	"strings"
)

// Classification of an edit instruction's blast radius
type Classification string

const (
	// ClassificationSimple marks narrow, line-local edits held to the tight
	// change threshold
	ClassificationSimple Classification = "simple"
	// ClassificationModerate marks edits that are neither clearly narrow nor
	// structural
	ClassificationModerate Classification = "moderate"
	// ClassificationStructural marks edits that require full regeneration
	ClassificationStructural Classification = "structural"
)

// Classifier matches instructions against configurable keyword sets. The sets
// are data, not control flow, so they can be tuned and tested independently.
type Classifier struct {
	SimpleKeywords     []string
	StructuralKeywords []string
}

// DefaultSimpleKeywords denote narrow, nearly line-local edits
var DefaultSimpleKeywords = []string{
	"rename",
	"change text",
	"change the text",
	"change wording",
	"replace text",
	"fix typo",
	"typo",
	"change color",
	"change the color",
	"color",
	"update label",
	"change label",
	"capitalize",
}

// DefaultStructuralKeywords denote edits whose blast radius demands full
// regeneration
var DefaultStructuralKeywords = []string{
	"add new section",
	"add a new",
	"new section",
	"new page",
	"remove section",
	"delete section",
	"restructure",
	"redesign",
	"reorganize",
	"rewrite",
	"integrate",
	"add authentication",
	"add login",
	"add signup",
	"add navigation",
	"change layout",
}

// NewClassifier creates a classifier with the default keyword sets
func NewClassifier() *Classifier {
	return &Classifier{
		SimpleKeywords:     DefaultSimpleKeywords,
		StructuralKeywords: DefaultStructuralKeywords,
	}
}

// Classify matches an instruction against both keyword sets. A structural
// match wins regardless of overlap with the simple set.
func (c *Classifier) Classify(instruction string) Classification {
	normalized := strings.ToLower(instruction)

	for _, kw := range c.StructuralKeywords {
		if strings.Contains(normalized, kw) {
			return ClassificationStructural
		}
	}
	for _, kw := range c.SimpleKeywords {
		if strings.Contains(normalized, kw) {
			return ClassificationSimple
		}
	}
	return ClassificationModerate
}
