package tools

import "strings"

// Error-message classification driving the executor's retry decision.
// Unknown failures default to retriable.
var retriablePatterns = []string{
	"timeout",
	"network",
	"connection",
	"temporary",
	"unavailable",
	"overload",
	"rate limit",
	"too many requests",
	"service degraded",
	"concurrent",
}

var nonRetriablePatterns = []string{
	"authentication",
	"authorization",
	"permission denied",
	"access denied",
	"invalid credentials",
	"forbidden",
	"not found",
	"bad request",
	"invalid input",
	"validation failed",
}

// isRetriableMessage classifies a failure message. The retriable set wins
// over the non-retriable set when both match.
func isRetriableMessage(message string) bool {
	lowered := strings.ToLower(message)
	for _, pattern := range retriablePatterns {
		if strings.Contains(lowered, pattern) {
			return true
		}
	}
	for _, pattern := range nonRetriablePatterns {
		if strings.Contains(lowered, pattern) {
			return false
		}
	}
	return true
}
