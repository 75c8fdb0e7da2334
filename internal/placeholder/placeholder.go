// Package placeholder swaps Markdown code and HTML tags for [PHn] markers
// before a unit goes to the model and puts them back afterwards.
//
// It also owns the markers written into the assembled document where a unit
// could not be produced, so that gaps are explicit and locatable.
package placeholder

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	reFencedCode = regexp.MustCompile("(?s)```.*?```")
	reInlineCode = regexp.MustCompile("`[^`\n]+`")
	reHTMLTag    = regexp.MustCompile(`</?[A-Za-z][^<>\n]*>`)

	rePlaceholder = regexp.MustCompile(`\[PH(\d+)\]`)

	// failure and gap markers in assembled output
	reUnitMarker = regexp.MustCompile(`\[\[TRADUTOR:(FALHA|LACUNA) unidade=(\d+)\]\]`)
)

// Protect returns text with code, tags and unit markers replaced by [PH0],
// [PH1], ... and the replaced originals, indexed by marker number.
func Protect(text string) (string, []string) {
	var originals []string
	mark := func(m string) string {
		originals = append(originals, m)
		return fmt.Sprintf("[PH%d]", len(originals)-1)
	}
	// Fences first so inline backticks inside them are not split out. Unit
	// markers from an earlier stage must reach the output unchanged.
	for _, re := range []*regexp.Regexp{reFencedCode, reInlineCode, reHTMLTag, reUnitMarker} {
		text = re.ReplaceAllStringFunc(text, mark)
	}
	return text, originals
}

// Restore puts the originals back. Markers with an unknown number stay.
func Restore(text string, originals []string) string {
	if len(originals) == 0 {
		return text
	}
	return rePlaceholder.ReplaceAllStringFunc(text, func(m string) string {
		n, err := strconv.Atoi(rePlaceholder.FindStringSubmatch(m)[1])
		if err != nil || n >= len(originals) {
			return m
		}
		return originals[n]
	})
}

// InstructionHint is the prompt line asking the model to keep markers.
func InstructionHint() string {
	return "Preserve todos os marcadores [PHn] exatamente como aparecem: não traduza, não mova e não remova."
}

// Missing returns the [PHn] markers present in source but absent from
// candidate.
func Missing(source, candidate string) []string {
	var missing []string
	seen := make(map[string]bool)
	for _, m := range rePlaceholder.FindAllString(source, -1) {
		if seen[m] {
			continue
		}
		seen[m] = true
		if !strings.Contains(candidate, m) {
			missing = append(missing, m)
		}
	}
	return missing
}

// Failure is the marker that stands in for a unit whose translation failed.
func Failure(index int) string {
	return fmt.Sprintf("[[TRADUTOR:FALHA unidade=%d]]", index)
}

// Gap is the marker for a unit index that has no recorded output at all.
func Gap(index int) string {
	return fmt.Sprintf("[[TRADUTOR:LACUNA unidade=%d]]", index)
}

// IsFailure reports whether text is exactly a failure or gap marker.
func IsFailure(text string) bool {
	loc := reUnitMarker.FindStringIndex(strings.TrimSpace(text))
	return loc != nil && loc[0] == 0 && loc[1] == len(strings.TrimSpace(text))
}

// UnitMarkers returns the unit indices named by failure and gap markers in
// an assembled document, in order of appearance.
func UnitMarkers(text string) []int {
	var out []int
	for _, m := range reUnitMarker.FindAllStringSubmatch(text, -1) {
		if idx, err := strconv.Atoi(m[2]); err == nil {
			out = append(out, idx)
		}
	}
	return out
}
