package maintenance

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Fingerprinter maps record content to a grouping key for deduplication.
// Records with equal fingerprints are treated as duplicates of each other.
type Fingerprinter interface {
	Fingerprint(content string) string
	Name() string
}

// PrefixFingerprinter groups by the first N characters of normalized
// content. It is cheap but weak: two records that diverge only after the
// prefix collide. Use SHA256Fingerprinter when that matters.
type PrefixFingerprinter struct {
	Length int
}

func (p PrefixFingerprinter) Name() string { return "prefix" }

func (p PrefixFingerprinter) Fingerprint(content string) string {
	s := normalize(content)
	n := p.Length
	if n <= 0 {
		n = 100
	}
	runes := []rune(s)
	if len(runes) > n {
		runes = runes[:n]
	}
	return string(runes)
}

// SHA256Fingerprinter hashes the full normalized content, so only
// whole-content duplicates group together.
type SHA256Fingerprinter struct{}

func (SHA256Fingerprinter) Name() string { return "sha256" }

func (SHA256Fingerprinter) Fingerprint(content string) string {
	sum := sha256.Sum256([]byte(normalize(content)))
	return hex.EncodeToString(sum[:])
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// NewFingerprinter resolves a Fingerprinter by configured name.
func NewFingerprinter(name string, prefixLength int) (Fingerprinter, error) {
	switch name {
	case "", "prefix":
		return PrefixFingerprinter{Length: prefixLength}, nil
	case "sha256":
		return SHA256Fingerprinter{}, nil
	default:
		return nil, fmt.Errorf("unknown fingerprint strategy %q; valid: prefix, sha256", name)
	}
}
