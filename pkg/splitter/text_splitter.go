package splitter

import (
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"
)

// TextSplitter wraps the langchaingo text splitter
type TextSplitter struct {
	splitter textsplitter.TextSplitter
}

// NewRecursiveCharacterTextSplitter creates a new recursive character text splitter
func NewRecursiveCharacterTextSplitter(chunkSize, chunkOverlap int) *TextSplitter {
	ts := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
	)

	return &TextSplitter{splitter: ts}
}

// SplitText splits text into chunks
func (ts *TextSplitter) SplitText(text string) ([]string, error) {
	return ts.splitter.SplitText(text)
}

// Clip keeps the leading chunks of text that fit in limit runes, so a long
// page is cut at a paragraph or sentence boundary instead of mid-word.
func (ts *TextSplitter) Clip(text string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	chunks, err := ts.SplitText(text)
	if err != nil || len(chunks) == 0 {
		return hardClip(text, limit)
	}

	var b strings.Builder
	n := 0
	for _, c := range chunks {
		size := utf8.RuneCountInString(c)
		if n > 0 {
			size++
		}
		if n+size > limit {
			break
		}
		if n > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(c)
		n += size
	}
	if n == 0 {
		return hardClip(text, limit)
	}
	return b.String()
}

func hardClip(text string, limit int) string {
	r := []rune(text)
	if len(r) <= limit {
		return text
	}
	return string(r[:limit])
}
