package domain_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/triagehq/triage/internal/domain"
)

func TestValidSessionID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		id   string
		want bool
	}{
		{"uuid", "3f1c9a60-6a54-4c8e-9d2b-0f6f3a8e1b42", true},
		{"short alnum", "s1", true},
		{"underscores and dashes", "incident_42-a", true},
		{"max length", strings.Repeat("a", 128), true},
		{"empty", "", false},
		{"too long", strings.Repeat("a", 129), false},
		{"path traversal", "../escaped", false},
		{"forward slash", "a/b", false},
		{"backslash", `a\b`, false},
		{"dot", "a.b", false},
		{"space", "a b", false},
		{"null byte", "a\x00b", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, domain.ValidSessionID(tt.id))
		})
	}
}
