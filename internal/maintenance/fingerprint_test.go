package maintenance

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestPrefixFingerprint_NormalizesAndTruncates(t *testing.T) {
	fp := PrefixFingerprinter{Length: 10}

	require.Equal(t, fp.Fingerprint("Hello   World"), fp.Fingerprint("hello world"))
	require.Equal(t, "hello worl", fp.Fingerprint("Hello World Again"))

	// The known weakness: divergence past the prefix collides.
	a := fp.Fingerprint("identical start, then A")
	b := fp.Fingerprint("identical start, then B")
	require.Equal(t, a, b)
}

func TestSHA256Fingerprint_FullContent(t *testing.T) {
	fp := SHA256Fingerprinter{}

	a := fp.Fingerprint("identical start, then A")
	b := fp.Fingerprint("identical start, then B")
	require.NotEqual(t, a, b)
	require.Equal(t, fp.Fingerprint("Same  Text"), fp.Fingerprint("same text"))
	require.Len(t, a, 64)
}

func TestNewFingerprinter(t *testing.T) {
	fp, err := NewFingerprinter("", 50)
	require.NoError(t, err)
	require.Equal(t, "prefix", fp.Name())

	fp, err = NewFingerprinter("sha256", 0)
	require.NoError(t, err)
	require.Equal(t, "sha256", fp.Name())

	_, err = NewFingerprinter("md5", 0)
	require.Error(t, err)
}

func TestTruncatingSummarizer_SentenceBoundary(t *testing.T) {
	s := TruncatingSummarizer{}
	ctx := context.Background()

	content := "First sentence here. Second sentence follows. Third one is cut."
	summary, err := s.Summarize(ctx, content, 50)
	require.NoError(t, err)
	require.Equal(t, "First sentence here. Second sentence follows.", summary)

	// Short content passes through untouched.
	summary, err = s.Summarize(ctx, "tiny", 50)
	require.NoError(t, err)
	require.Equal(t, "tiny", summary)

	// No sentence boundary falls back to a word boundary.
	content = strings.Repeat("word ", 20)
	summary, err = s.Summarize(ctx, content, 23)
	require.NoError(t, err)
	require.LessOrEqual(t, len(summary), 26)
	require.True(t, strings.HasSuffix(summary, "…"))
}

func TestTruncatingSummarizer_KeepsRunesIntact(t *testing.T) {
	s := TruncatingSummarizer{}
	ctx := context.Background()

	// Every rune is three bytes, so most byte offsets split one.
	content := strings.Repeat("日本語の長い記憶", 10)
	for target := 5; target < 30; target++ {
		summary, err := s.Summarize(ctx, content, target)
		require.NoError(t, err)
		require.True(t, utf8.ValidString(summary), "target %d produced invalid UTF-8: %q", target, summary)
	}

	// Multibyte words separated by spaces take the word-boundary path.
	content = strings.Repeat("日本語 ", 20)
	summary, err := s.Summarize(ctx, content, 25)
	require.NoError(t, err)
	require.True(t, utf8.ValidString(summary))
	require.True(t, strings.HasSuffix(summary, "…"))
}
