// Package dedupe finds units of the current run whose text is identical or
// nearly identical to one already accepted, so their output can be reused
// without another backend call.
package dedupe

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/unicode/norm"
)

const (
	// DefaultThreshold is the minimum similarity for reuse.
	DefaultThreshold = 0.95
	// MaxFuzzyRunes bounds the O(n·m) edit distance; longer texts only
	// match when identical after normalization.
	MaxFuzzyRunes = 1000
)

type entry struct {
	text   string
	runes  int
	output string
}

// Index remembers accepted (text, output) pairs. It is safe for concurrent use.
type Index struct {
	threshold float64

	mu      sync.RWMutex
	exact   map[string]string
	entries []entry
}

// New returns an index. A threshold ≤ 0 disables fuzzy matching; exact
// matches are still found.
func New(threshold float64) *Index {
	return &Index{threshold: threshold, exact: make(map[string]string)}
}

// Add records the accepted output for text.
func (ix *Index) Add(text, output string) {
	key := normalizeText(text)
	if key == "" {
		return
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, ok := ix.exact[key]; ok {
		return
	}
	ix.exact[key] = output
	n := utf8.RuneCountInString(key)
	if n <= MaxFuzzyRunes {
		ix.entries = append(ix.entries, entry{text: key, runes: n, output: output})
	}
}

// Match returns the output of the most similar recorded text, if its
// similarity reaches the threshold.
func (ix *Index) Match(text string) (string, float64, bool) {
	key := normalizeText(text)
	if key == "" {
		return "", 0, false
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if out, ok := ix.exact[key]; ok {
		return out, 1.0, true
	}
	n := utf8.RuneCountInString(key)
	if ix.threshold <= 0 || n > MaxFuzzyRunes {
		return "", 0, false
	}

	var best string
	bestScore := 0.0
	for _, e := range ix.entries {
		// Quick length pre-filter: if the length difference alone makes it
		// impossible to reach the threshold, skip the expensive edit distance.
		maxL, diff := n, n-e.runes
		if e.runes > maxL {
			maxL = e.runes
		}
		if diff < 0 {
			diff = -diff
		}
		if maxL > 0 && 1.0-float64(diff)/float64(maxL) < ix.threshold {
			continue
		}

		score := Similarity(key, e.text)
		if score >= ix.threshold && score > bestScore {
			bestScore = score
			best = e.output
		}
	}
	if bestScore == 0 {
		return "", 0, false
	}
	return best, bestScore, true
}

// Len returns the number of distinct texts recorded.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.exact)
}

// normalizeText trims whitespace and applies Unicode NFC normalization
// for consistent comparison.
func normalizeText(text string) string {
	return norm.NFC.String(strings.TrimSpace(text))
}

// Similarity returns a similarity score in [0, 1] (1 = identical).
func Similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	maxLen := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(levenshtein.ComputeDistance(a, b))/float64(maxLen)
}
