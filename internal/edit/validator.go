package edit

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/bizmatters/agent-builder/site-orchestrator/internal/models"
)

var tracer = otel.Tracer("surgical-edit")

// Rejection reasons, distinguishing the classification gate from the
// magnitude gate
const (
	ReasonStructuralChange = "structural_change_requires_regeneration"
	ReasonTooBroad         = "change_exceeds_threshold"
	ReasonNoChange         = "no_change_produced"
)

// Backend produces a constrained edit candidate for an instruction
type Backend interface {
	EditContent(ctx context.Context, content, instruction string) (string, error)
}

// Config holds the validator's tunables
type Config struct {
	// MaxChangeFraction caps the changed-line fraction for moderate edits
	MaxChangeFraction float64
	// SimpleChangeFraction is the tightened cap for simple-classified edits
	SimpleChangeFraction float64
	// BackendTimeout bounds the candidate request
	BackendTimeout time.Duration
}

// DefaultConfig returns the standard thresholds
func DefaultConfig() Config {
	return Config{
		MaxChangeFraction:    0.20,
		SimpleChangeFraction: 0.05,
		BackendTimeout:       30 * time.Second,
	}
}

// Result is the outcome of a surgical edit attempt. Rejections are normal
// responses, never partial applications.
type Result struct {
	Applied                  bool             `json:"applied"`
	RequiresFullRegeneration bool             `json:"requires_full_regeneration"`
	Reason                   string           `json:"reason,omitempty"`
	Classification           Classification   `json:"classification"`
	NewContent               string           `json:"new_content,omitempty"`
	Patch                    []models.PatchOp `json:"patch,omitempty"`
	Summary                  string           `json:"summary,omitempty"`
}

// Validator applies small, targeted edits to existing content while rejecting
// edits whose blast radius is disproportionate
type Validator struct {
	backend    Backend
	classifier *Classifier
	cfg        Config
	tracer     trace.Tracer
}

// NewValidator creates a surgical edit validator
func NewValidator(backend Backend, classifier *Classifier, cfg Config) *Validator {
	if classifier == nil {
		classifier = NewClassifier()
	}
	return &Validator{
		backend:    backend,
		classifier: classifier,
		cfg:        cfg,
		tracer:     tracer,
	}
}

// Apply runs the three-step validation: classify suitability, produce a
// candidate, gate the change magnitude.
func (v *Validator) Apply(ctx context.Context, content, instruction string) *Result {
	ctx, span := v.tracer.Start(ctx, "surgical_edit.apply")
	defer span.End()

	class := v.classifier.Classify(instruction)
	span.SetAttributes(attribute.String("edit.classification", string(class)))

	// Step 1: structural instructions are rejected before any backend call
	if class == ClassificationStructural {
		return &Result{
			Applied:                  false,
			RequiresFullRegeneration: true,
			Reason:                   ReasonStructuralChange,
			Classification:           class,
		}
	}

	// Step 2: backend candidate, with deterministic local fallback
	candidate := v.backendCandidate(ctx, content, instruction)
	if candidate == "" {
		candidate = localSubstitution(content, instruction)
	}
	if candidate == "" || candidate == content {
		span.SetAttributes(attribute.String("edit.rejection", ReasonNoChange))
		return &Result{
			Applied:                  false,
			RequiresFullRegeneration: true,
			Reason:                   ReasonNoChange,
			Classification:           class,
		}
	}

	// Step 3: magnitude gate on the line diff
	patch := LineDiff(content, candidate)
	fraction := ChangedFraction(patch, content)

	threshold := v.cfg.MaxChangeFraction
	if class == ClassificationSimple {
		threshold = v.cfg.SimpleChangeFraction
	}
	span.SetAttributes(attribute.Float64("edit.changed_fraction", fraction))

	if fraction > threshold {
		log.Printf("Rejecting edit %q: changed fraction %.3f exceeds threshold %.3f", instruction, fraction, threshold)
		return &Result{
			Applied:                  false,
			RequiresFullRegeneration: true,
			Reason:                   ReasonTooBroad,
			Classification:           class,
		}
	}

	return &Result{
		Applied:        true,
		Classification: class,
		NewContent:     candidate,
		Patch:          patch,
		Summary:        fmt.Sprintf("Applied edit: %s", instruction),
	}
}

// backendCandidate asks the engine for a constrained edit and sanity-checks
// the result. Returns "" when the backend path cannot be used.
func (v *Validator) backendCandidate(ctx context.Context, content, instruction string) string {
	if v.backend == nil {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, v.cfg.BackendTimeout)
	defer cancel()

	candidate, err := v.backend.EditContent(ctx, content, instruction)
	if err != nil {
		log.Printf("Edit backend failed, falling back to local substitution: %v", err)
		return ""
	}
	if !saneCandidate(content, candidate) {
		log.Printf("Edit backend candidate failed sanity check, falling back to local substitution")
		return ""
	}
	return candidate
}

// saneCandidate rejects candidates that are implausibly short or that lost
// the structural markers of the content type
func saneCandidate(original, candidate string) bool {
	if len(candidate) < len(original)/2 {
		return false
	}
	if strings.Contains(original, "</") && !strings.Contains(candidate, "</") {
		return false
	}
	return true
}

var (
	quotedPairRe = regexp.MustCompile(`"([^"]+)"\s*(?:to|with)\s*"([^"]+)"`)
	colorClassRe = regexp.MustCompile(`(text|bg|border|from|to|ring)-(slate|gray|zinc|neutral|stone|red|orange|amber|yellow|lime|green|emerald|teal|cyan|sky|blue|indigo|violet|purple|fuchsia|pink|rose)-(\d{2,3})`)
)

var colorPalette = []string{
	"slate", "gray", "zinc", "neutral", "stone", "red", "orange", "amber",
	"yellow", "lime", "green", "emerald", "teal", "cyan", "sky", "blue",
	"indigo", "violet", "purple", "fuchsia", "pink", "rose",
}

// localSubstitution is the deterministic fallback: pattern-matched text,
// color-class and class-attribute replacements. Returns "" when no strategy
// matches.
func localSubstitution(content, instruction string) string {
	// Quoted "old" to "new" text replacement (rename, wording, labels)
	if m := quotedPairRe.FindStringSubmatch(instruction); m != nil {
		if strings.Contains(content, m[1]) {
			return strings.ReplaceAll(content, m[1], m[2])
		}
		return ""
	}

	// Utility color class replacement: swap the color token, keep prefix and shade
	lower := strings.ToLower(instruction)
	if strings.Contains(lower, "color") || strings.Contains(lower, "colour") {
		target := ""
		for _, c := range colorPalette {
			if strings.Contains(lower, c) {
				target = c
				break
			}
		}
		if target == "" {
			return ""
		}
		replaced := false
		out := colorClassRe.ReplaceAllStringFunc(content, func(match string) string {
			if replaced {
				return match
			}
			parts := colorClassRe.FindStringSubmatch(match)
			if parts[2] == target {
				return match
			}
			replaced = true
			return fmt.Sprintf("%s-%s-%s", parts[1], target, parts[3])
		})
		if !replaced {
			return ""
		}
		return out
	}

	return ""
}
