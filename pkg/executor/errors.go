package executor

import "strings"

// Error classes surfaced to users. Raw stack traces never reach chat; each
// class maps to a short message plus a continuation hint.
type errorClass int

const (
	errGeneric errorClass = iota
	errUsageLimit
	errAuth
	errNetwork
)

func classifyError(msg string) errorClass {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "usage limit") || strings.Contains(lower, "rate limit") || strings.Contains(lower, "rate_limit"):
		return errUsageLimit
	case strings.Contains(lower, "401") || strings.Contains(lower, "403") ||
		strings.Contains(lower, "unauthorized") || strings.Contains(lower, "forbidden") ||
		strings.Contains(lower, "authentication"):
		return errAuth
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "network") || strings.Contains(lower, "no such host") ||
		strings.Contains(lower, "timeout"):
		return errNetwork
	}
	return errGeneric
}

// userErrorMessage composes the chat-facing error text for a failed turn.
func userErrorMessage(msg string) string {
	switch classifyError(msg) {
	case errUsageLimit:
		return "⏳ Usage limit reached; try again shortly."
	case errAuth:
		return "🔑 Authentication error. Check credentials and try again."
	case errNetwork:
		return "🌐 Network error; retrying may help."
	default:
		return "⚠️ " + msg
	}
}
