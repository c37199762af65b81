package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRetriableMessage(t *testing.T) {
	tests := []struct {
		message   string
		retriable bool
	}{
		{"connection refused", true},
		{"request timeout after 30s", true},
		{"network unreachable", true},
		{"service temporarily unavailable", true},
		{"rate limit exceeded", true},
		{"too many requests", true},
		{"backend overload detected", true},
		{"service degraded", true},
		{"concurrent modification", true},

		{"authentication failed", false},
		{"authorization required", false},
		{"permission denied", false},
		{"access denied for user", false},
		{"invalid credentials", false},
		{"forbidden", false},
		{"file not found", false},
		{"bad request", false},
		{"invalid input: path required", false},
		{"validation failed: missing field", false},

		// Unknown messages default to retriable.
		{"something odd happened", true},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.retriable, isRetriableMessage(tc.message), "message: %s", tc.message)
	}
}

func TestRetriableWinsOverNonRetriable(t *testing.T) {
	// When both lists match, the retriable classification takes precedence.
	assert.True(t, isRetriableMessage("timeout while checking permission denied"))
}
