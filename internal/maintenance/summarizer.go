package maintenance

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Summarizer produces a shorter replacement for record content. An external
// model-backed implementation can be plugged in; the default truncates at a
// sentence boundary.
type Summarizer interface {
	Summarize(ctx context.Context, content string, targetLength int) (string, error)
}

// TruncatingSummarizer cuts content at the last sentence boundary at or
// before targetLength, falling back to a word boundary and then a hard cut.
type TruncatingSummarizer struct{}

func (TruncatingSummarizer) Summarize(_ context.Context, content string, targetLength int) (string, error) {
	if targetLength <= 0 || len(content) <= targetLength {
		return content, nil
	}
	cut := truncAtRune(content, targetLength)
	if idx := lastSentenceEnd(cut); idx > 0 {
		return strings.TrimRightFunc(cut[:idx+1], unicode.IsSpace), nil
	}
	if idx := strings.LastIndexFunc(cut, unicode.IsSpace); idx > 0 {
		return strings.TrimRightFunc(cut[:idx], unicode.IsSpace) + "…", nil
	}
	return cut + "…", nil
}

// truncAtRune cuts s to at most n bytes without splitting a multi-byte rune.
func truncAtRune(s string, n int) string {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func lastSentenceEnd(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		switch s[i] {
		case '.', '!', '?':
			// Avoid treating "e.g." style abbreviations mid-word as an end.
			if i == len(s)-1 || s[i+1] == ' ' || s[i+1] == '\n' {
				return i
			}
		}
	}
	return -1
}
