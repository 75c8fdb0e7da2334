// Package glossary selects the terminology injected into each unit's prompt
// and enforces locked translations on model output.
package glossary

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// Term is one glossary entry. The field names follow the glossary file
// format: {"terms": [{"key": "wand", "pt": "varinha", "enforce": true}]}.
type Term struct {
	Source   string   `yaml:"key" json:"key"`
	Target   string   `yaml:"pt" json:"pt"`
	Enforce  bool     `yaml:"enforce,omitempty" json:"enforce,omitempty"`
	Aliases  []string `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	Category string   `yaml:"category,omitempty" json:"category,omitempty"`
	Notes    string   `yaml:"notes,omitempty" json:"notes,omitempty"`
}

type file struct {
	Terms []Term `yaml:"terms"`
}

// LoadFile reads a YAML or JSON glossary file. Entries without a key or a
// translation are skipped.
func LoadFile(path string) ([]Term, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read glossary %s: %w", path, err)
	}
	var f file
	// JSON is a subset of YAML, so one decoder serves both formats.
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse glossary %s: %w", path, err)
	}
	terms := f.Terms[:0]
	for _, t := range f.Terms {
		t.Source, t.Target = strings.TrimSpace(t.Source), strings.TrimSpace(t.Target)
		if t.Source == "" || t.Target == "" {
			continue
		}
		terms = append(terms, t)
	}
	return terms, nil
}

type pattern struct {
	text string
	re   *regexp.Regexp
}

type compiled struct {
	Term
	patterns []pattern
}

// Glossary is an immutable, matched-ready set of terms.
type Glossary struct {
	terms         []compiled
	limit         int
	fallbackLimit int
}

// New builds a glossary. On duplicate keys (case-insensitive) the later
// term wins, so callers pass lower-priority sources first. limit bounds the
// matching terms returned by Lookup (≤ 0 means no bound); fallbackLimit
// bounds the generic terms returned when nothing matches.
func New(terms []Term, limit, fallbackLimit int) *Glossary {
	byKey := make(map[string]Term)
	for _, t := range terms {
		byKey[strings.ToLower(t.Source)] = t
	}
	g := &Glossary{limit: limit, fallbackLimit: fallbackLimit}
	for _, t := range byKey {
		c := compiled{Term: t}
		for _, s := range append([]string{t.Source}, t.Aliases...) {
			if s = strings.TrimSpace(s); s != "" {
				c.patterns = append(c.patterns, pattern{text: s, re: regexp.MustCompile(`(?i)` + regexp.QuoteMeta(s))})
			}
		}
		g.terms = append(g.terms, c)
	}
	sort.Slice(g.terms, func(i, j int) bool {
		if g.terms[i].Enforce != g.terms[j].Enforce {
			return g.terms[i].Enforce
		}
		return strings.ToLower(g.terms[i].Source) < strings.ToLower(g.terms[j].Source)
	})
	return g
}

// Len returns the number of distinct terms.
func (g *Glossary) Len() int {
	if g == nil {
		return 0
	}
	return len(g.terms)
}

// Terms returns every term, enforced ones first.
func (g *Glossary) Terms() []Term {
	if g == nil {
		return nil
	}
	out := make([]Term, len(g.terms))
	for i, c := range g.terms {
		out[i] = c.Term
	}
	return out
}

// Lookup returns the terms to inject for a unit: those whose source or an
// alias occurs in text as a whole word, up to limit. When none occur, it
// returns up to fallbackLimit terms so the prompt still carries the most
// important conventions.
func (g *Glossary) Lookup(text string) []Term {
	if g == nil {
		return nil
	}
	var matched []Term
	for _, c := range g.terms {
		if g.limit > 0 && len(matched) >= g.limit {
			break
		}
		if c.occursIn(text) {
			matched = append(matched, c.Term)
		}
	}
	if len(matched) > 0 {
		return matched
	}
	n := min(g.fallbackLimit, len(g.terms))
	if n <= 0 {
		return nil
	}
	out := make([]Term, 0, n)
	for _, c := range g.terms[:n] {
		out = append(out, c.Term)
	}
	return out
}

// Enforce substitutes the locked translation for every source-term
// occurrence that survived in output, for enforced terms that appear in the
// unit's source text. It returns the new output and the number of
// substitutions.
func (g *Glossary) Enforce(source, output string) (string, int) {
	if g == nil {
		return output, 0
	}
	total := 0
	for _, c := range g.terms {
		if !c.Enforce || !c.occursIn(source) {
			continue
		}
		for _, p := range c.patterns {
			if strings.EqualFold(p.text, c.Target) {
				continue
			}
			var n int
			output, n = replaceWords(p.re, output, c.Target)
			total += n
		}
	}
	return output, total
}

func (c compiled) occursIn(text string) bool {
	for _, p := range c.patterns {
		if len(wordMatches(p.re, text)) > 0 {
			return true
		}
	}
	return false
}

// wordMatches returns the matches of re in text that are delimited by
// non-word runes. RE2's \b is ASCII-only, so the boundary check is done here.
func wordMatches(re *regexp.Regexp, text string) [][]int {
	var out [][]int
	for _, loc := range re.FindAllStringIndex(text, -1) {
		before, _ := utf8.DecodeLastRuneInString(text[:loc[0]])
		after, _ := utf8.DecodeRuneInString(text[loc[1]:])
		if isWordRune(before) || isWordRune(after) {
			continue
		}
		out = append(out, loc)
	}
	return out
}

func replaceWords(re *regexp.Regexp, text, repl string) (string, int) {
	locs := wordMatches(re, text)
	if len(locs) == 0 {
		return text, 0
	}
	var b strings.Builder
	prev := 0
	for _, loc := range locs {
		b.WriteString(text[prev:loc[0]])
		b.WriteString(repl)
		prev = loc[1]
	}
	b.WriteString(text[prev:])
	return b.String(), len(locs)
}

func isWordRune(r rune) bool {
	return r != utf8.RuneError && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_')
}

// Format renders terms as the prompt block.
func Format(terms []Term) string {
	if len(terms) == 0 {
		return ""
	}
	lines := []string{"GLOSSÁRIO CANÔNICO (use SEMPRE estas traduções):"}
	for _, t := range terms {
		line := fmt.Sprintf("- %s -> %s", t.Source, t.Target)
		if t.Category != "" {
			line += " (" + t.Category + ")"
		}
		if t.Notes != "" {
			line += " | " + t.Notes
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// Pairs returns "source=target" strings for cache parameter hashing.
func Pairs(terms []Term) []string {
	out := make([]string, len(terms))
	for i, t := range terms {
		out[i] = t.Source + "=" + t.Target
	}
	return out
}
