package tracker

import (
	"fmt"
	"strings"
)

// Validation outcomes of a list-run verification pass.
const (
	ValidationPass    = "PASS"
	ValidationFail    = "FAIL"
	ValidationUnknown = "UNKNOWN"
)

const validationMarker = "VALIDATION_RESULT:"

func buildCardPrompt(card *Card) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Work on this tracker card.\n\nCard: %s\n", card.Name)
	if card.URL != "" {
		fmt.Fprintf(&sb, "URL: %s\n", card.URL)
	}
	if card.Desc != "" {
		fmt.Fprintf(&sb, "\n%s\n", card.Desc)
	}
	sb.WriteString("\nWhen finished, summarize what you did and anything left open.")
	return sb.String()
}

func buildListRunCardPrompt(card *Card, index, total int, listName string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "List run %q, card %d of %d.\n\n", listName, index+1, total)
	sb.WriteString(buildCardPrompt(card))
	return sb.String()
}

func buildValidationPrompt(card *Card, output string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Verify whether the work for card %q is actually complete.\n", card.Name)
	sb.WriteString("Check the repository state, not just the report below.\n\n")
	fmt.Fprintf(&sb, "Execution report:\n%s\n\n", output)
	sb.WriteString("End your answer with exactly one line: VALIDATION_RESULT: PASS or VALIDATION_RESULT: FAIL.")
	return sb.String()
}

// parseValidationResult extracts the verdict from a verification pass. The
// marker is matched case-insensitively; anything else is UNKNOWN.
func parseValidationResult(text string) string {
	upper := strings.ToUpper(text)
	idx := strings.LastIndex(upper, validationMarker)
	if idx < 0 {
		return ValidationUnknown
	}
	rest := strings.TrimSpace(upper[idx+len(validationMarker):])
	switch {
	case strings.HasPrefix(rest, ValidationPass):
		return ValidationPass
	case strings.HasPrefix(rest, ValidationFail):
		return ValidationFail
	}
	return ValidationUnknown
}
