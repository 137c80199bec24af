package splitter

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestClip(t *testing.T) {
	ts := NewRecursiveCharacterTextSplitter(40, 0)
	para := "The quick brown fox jumps over the dog."
	text := strings.Repeat(para+"\n\n", 10)

	tests := []struct {
		name  string
		text  string
		limit int
		want  string
	}{
		{"short text untouched", "hello", 100, "hello"},
		{"no limit", text, 0, text},
		{"keeps whole chunks", text, 85, para + "\n" + para},
		{"single oversized word", strings.Repeat("x", 50), 10, strings.Repeat("x", 10)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ts.Clip(tt.text, tt.limit)
			assert.Equal(t, tt.want, got)
			if tt.limit > 0 {
				assert.LessOrEqual(t, utf8.RuneCountInString(got), tt.limit)
			}
		})
	}
}
