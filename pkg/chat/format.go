package chat

import (
	"fmt"
	"strings"
)

// Marker tokens emitted by the agent inside its final text. The executor is
// the only component that interprets them.
const (
	MarkerUpdate  = "<!-- UPDATE -->"
	MarkerRestart = "<!-- RESTART -->"

	markerListRunOpen = "<!-- LIST_RUN:"
	markerClose       = "-->"

	summaryEnvelope = "SUMMARY:"
	detailsEnvelope = "DETAILS:"

	previewLines = 3
)

// HasMarker reports whether text carries the given marker token.
func HasMarker(text, marker string) bool {
	return strings.Contains(text, marker)
}

// ParseListRunMarker extracts the list name from a "<!-- LIST_RUN: X -->"
// token, if present.
func ParseListRunMarker(text string) (string, bool) {
	start := strings.Index(text, markerListRunOpen)
	if start < 0 {
		return "", false
	}
	rest := text[start+len(markerListRunOpen):]
	end := strings.Index(rest, markerClose)
	if end < 0 {
		return "", false
	}
	name := strings.TrimSpace(rest[:end])
	if name == "" {
		return "", false
	}
	return name, true
}

// StripMarkers removes all control-marker tokens from text.
func StripMarkers(text string) string {
	text = strings.ReplaceAll(text, MarkerUpdate, "")
	text = strings.ReplaceAll(text, MarkerRestart, "")
	for {
		start := strings.Index(text, markerListRunOpen)
		if start < 0 {
			break
		}
		end := strings.Index(text[start:], markerClose)
		if end < 0 {
			break
		}
		text = text[:start] + text[start+end+len(markerClose):]
	}
	return strings.TrimSpace(text)
}

// ParseSummaryDetails splits agent output into a short channel-facing
// summary and a thread-only body. When the SUMMARY:/DETAILS: envelopes are
// absent, the first three lines serve as the preview and the full text goes
// to the thread.
func ParseSummaryDetails(text string) (summary, details string) {
	sIdx := strings.Index(text, summaryEnvelope)
	dIdx := strings.Index(text, detailsEnvelope)
	if sIdx >= 0 && dIdx > sIdx {
		summary = strings.TrimSpace(text[sIdx+len(summaryEnvelope) : dIdx])
		details = strings.TrimSpace(text[dIdx+len(detailsEnvelope):])
		return summary, details
	}

	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) <= previewLines {
		return strings.TrimSpace(text), ""
	}
	summary = strings.TrimSpace(strings.Join(lines[:previewLines], "\n"))
	details = strings.TrimSpace(strings.Join(lines[previewLines:], "\n"))
	return summary, details
}

// StripSummaryDetailsMarkers removes the envelope tokens but keeps the text.
func StripSummaryDetailsMarkers(text string) string {
	text = strings.ReplaceAll(text, summaryEnvelope, "")
	text = strings.ReplaceAll(text, detailsEnvelope, "")
	return strings.TrimSpace(text)
}

// BuildTrackerHeader formats the header line for a tracker-card session.
func BuildTrackerHeader(cardName, cardURL, sessionID string) string {
	var sb strings.Builder
	sb.WriteString("🌀 ")
	if cardURL != "" {
		fmt.Fprintf(&sb, "<%s|%s>", cardURL, cardName)
	} else {
		sb.WriteString(cardName)
	}
	if sessionID != "" {
		fmt.Fprintf(&sb, " · session `%s`", shortID(sessionID))
	}
	return sb.String()
}

// BuildContextUsageBar renders a 10-slot context-usage bar, or "" when the
// inputs cannot produce one.
func BuildContextUsageBar(usedTokens, maxTokens int) string {
	if maxTokens <= 0 || usedTokens < 0 {
		return ""
	}
	pct := usedTokens * 100 / maxTokens
	if pct > 100 {
		pct = 100
	}
	filled := pct / 10
	bar := strings.Repeat("█", filled) + strings.Repeat("░", 10-filled)
	return fmt.Sprintf("`%s` %d%% context used", bar, pct)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
