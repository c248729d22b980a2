package generation

import (
	"fmt"
	"strings"

	"github.com/bizmatters/agent-builder/site-orchestrator/internal/models"
)

// buildPlanPrompt produces the planning instruction sent to forge-engine
func buildPlanPrompt(prompt string, prefs models.Preferences) string {
	var b strings.Builder
	b.WriteString("Break the following website request into an ordered list of structural components. ")
	b.WriteString("For each component provide a name, a kind (html, css or js), a short description and an estimated complexity (low, medium, high).\n\n")
	fmt.Fprintf(&b, "Request: %s\n", prompt)
	if prefs.Styling != "" {
		fmt.Fprintf(&b, "Styling approach: %s\n", prefs.Styling)
	}
	if prefs.Responsive {
		b.WriteString("The layout must be responsive.\n")
	}
	if prefs.Accessibility {
		b.WriteString("Follow WCAG accessibility guidance.\n")
	}
	return b.String()
}

// buildUnitPrompt produces the per-unit generation instruction. Earlier units
// in the plan are referenced so later output stays stylistically consistent.
func buildUnitPrompt(unit models.Unit, prefs models.Preferences) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate the %q component (%s): %s\n", unit.Name, unit.Kind, unit.Description)
	if prefs.Styling != "" {
		fmt.Fprintf(&b, "Use the %s styling approach consistently with the components generated so far.\n", prefs.Styling)
	}
	if prefs.Responsive {
		b.WriteString("Make it responsive.\n")
	}
	if prefs.Accessibility {
		b.WriteString("Include accessible markup (labels, alt text, ARIA where needed).\n")
	}
	b.WriteString("Return only the component source, no commentary.")
	return b.String()
}

// buildEditPrompt produces the constrained surgical-edit instruction. The
// engine is forbidden from changing anything beyond the instruction itself.
func buildEditPrompt(content, instruction string) string {
	var b strings.Builder
	b.WriteString("Apply exactly this change to the content below and nothing else: ")
	b.WriteString(instruction)
	b.WriteString("\nDo not restructure, reformat or rewrite any part not named by the instruction. ")
	b.WriteString("Return the full modified content.\n\n")
	b.WriteString(content)
	return b.String()
}
