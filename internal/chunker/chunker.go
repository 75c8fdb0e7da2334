// Package chunker splits normalized document text into ordered, bounded
// units while preserving sentence and paragraph integrity. Splitting is
// lossless: concatenating the unit texts in index order gives back the input
// exactly. It also extracts short context snippets (last sentence, last N
// words) that LLM prompts use to keep continuity across unit boundaries.
package chunker

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/valpere/tradutor/internal"
)

const (
	// DefaultContextWords is the default number of words extracted by
	// ExtractContext for use as a sliding-window context.
	DefaultContextWords = 25
)

var (
	reTrailingSpace = regexp.MustCompile(`[ \t]+\n`)
	reManyBlank     = regexp.MustCompile(`\n{3,}`)
	reSectionStart  = regexp.MustCompile(`(?m)^#{1,3}[ \t]+\S`)
	reDelimiter     = regexp.MustCompile(`###\s*TEXTO_(?:TRADUZIDO|REFINADO)_[A-Z_]*`)
	reSentenceSplit = regexp.MustCompile(`([.!?…]["'”’)]?)\s+`)
)

// Normalize prepares raw extracted text for hashing and chunking: Unicode
// NFC, LF line endings, no trailing spaces, at most one blank line between
// paragraphs, no leading or trailing whitespace.
func Normalize(text string) string {
	text = norm.NFC.String(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = reTrailingSpace.ReplaceAllString(text, "\n")
	text = reManyBlank.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// Split cuts text into units of at most maxChars runes. Cut points are
// chosen in order of preference:
//  1. Paragraph boundaries (\n\n), when they leave the unit at least half full
//  2. Sentence-ending punctuation (. ! ? …, optionally closed by a quote)
//     followed by whitespace
//  3. Any paragraph boundary
//  4. Whitespace (word boundary), flagged as a hard cut
//  5. Hard cut at maxChars, flagged
//
// Boundaries are searched backwards from the maxChars limit, so the last
// viable one wins and small trailing units are avoided. Whitespace that
// follows a cut belongs to the next unit. If maxChars ≤ 0 the whole text is
// a single unit. Empty text yields no units.
func Split(text string, maxChars int) []internal.Unit {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if maxChars <= 0 || len(runes) <= maxChars {
		return []internal.Unit{internal.NewUnit(0, text, false)}
	}

	var units []internal.Unit
	pos := 0
	for len(runes)-pos > maxChars {
		end, hard := findCut(runes, pos, maxChars)
		units = append(units, internal.NewUnit(len(units), string(runes[pos:end]), hard))
		pos = end
	}
	if pos < len(runes) {
		units = append(units, internal.NewUnit(len(units), string(runes[pos:]), false))
	}
	return units
}

// SplitSections splits Markdown so that every heading line (#, ## or ###)
// starts a new unit, then bounds each section with Split. Indices are
// renumbered across sections; concatenation is still lossless.
func SplitSections(text string, maxChars int) []internal.Unit {
	if text == "" {
		return nil
	}
	starts := []int{0}
	for _, loc := range reSectionStart.FindAllStringIndex(text, -1) {
		if loc[0] > 0 {
			starts = append(starts, loc[0])
		}
	}

	var units []internal.Unit
	for i, start := range starts {
		end := len(text)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		for _, u := range Split(text[start:end], maxChars) {
			units = append(units, internal.NewUnit(len(units), u.Text, u.HardCut))
		}
	}
	return units
}

// Join concatenates unit texts in index order.
func Join(units []internal.Unit) string {
	var b strings.Builder
	for _, u := range units {
		b.WriteString(u.Text)
	}
	return b.String()
}

// findCut returns the rune index where the unit starting at pos should end
// and whether the cut fell outside any paragraph or sentence boundary.
func findCut(runes []rune, pos, maxChars int) (int, bool) {
	limit := pos + maxChars

	para := lastBoundary(runes, pos, limit, isParagraphBreak)
	if para > 0 && para-pos >= maxChars/2 {
		return para, false
	}
	if sent := lastBoundary(runes, pos, limit, isSentenceEnd); sent > 0 {
		return sent, false
	}
	if para > 0 {
		return para, false
	}
	if word := lastBoundary(runes, pos, limit, isWordBreak); word > 0 {
		return word, true
	}
	return limit, true
}

// lastBoundary scans backwards from limit for the last end index e in
// (pos, limit] accepted by match, such that runes[pos:e] is not blank.
// It returns 0 when nothing qualifies.
func lastBoundary(runes []rune, pos, limit int, match func([]rune, int) bool) int {
	for e := limit; e > pos; e-- {
		if match(runes, e) && !blank(runes[pos:e]) {
			return e
		}
	}
	return 0
}

// isParagraphBreak reports whether a blank line starts at e.
func isParagraphBreak(runes []rune, e int) bool {
	return e+1 < len(runes) && runes[e] == '\n' && runes[e+1] == '\n'
}

// isSentenceEnd reports whether runes[:e] ends a sentence and whitespace follows.
func isSentenceEnd(runes []rune, e int) bool {
	if e >= len(runes) || !unicode.IsSpace(runes[e]) {
		return false
	}
	last := runes[e-1]
	if isClosingQuote(last) && e >= 2 {
		last = runes[e-2]
	}
	return last == '.' || last == '!' || last == '?' || last == '…'
}

func isWordBreak(runes []rune, e int) bool {
	return e < len(runes) && unicode.IsSpace(runes[e])
}

func isClosingQuote(r rune) bool {
	switch r {
	case '"', '\'', '”', '’', ')', '»':
		return true
	}
	return false
}

func blank(runes []rune) bool {
	for _, r := range runes {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

// ExtractContext returns the last wordCount words of text, joined by a single
// space. It is intended for use as a sliding-window context snippet passed to
// LLM translators so they can maintain narrative continuity across chunks.
// If text has fewer words than wordCount, the entire text is returned.
// If wordCount ≤ 0, DefaultContextWords is used.
func ExtractContext(text string, wordCount int) string {
	if wordCount <= 0 {
		wordCount = DefaultContextWords
	}
	words := strings.Fields(text)
	if len(words) <= wordCount {
		return strings.Join(words, " ")
	}
	return strings.Join(words[len(words)-wordCount:], " ")
}

// LastSentence returns the last non-empty sentence of text with whitespace
// collapsed and output delimiters removed.
func LastSentence(text string) string {
	cleaned := reDelimiter.ReplaceAllString(text, "")
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	parts := strings.Split(reSentenceSplit.ReplaceAllString(cleaned, "$1\x00"), "\x00")
	for i := len(parts) - 1; i >= 0; i-- {
		candidate := strings.TrimSpace(strings.Trim(strings.TrimSpace(parts[i]), "#"))
		if candidate != "" {
			return candidate
		}
	}
	return ""
}
