// Package validator decides whether a sanitized LLM output is acceptable for
// a unit, and what to do when it is not.
//
// Every check is an independent predicate over (source, candidate, stage).
// A per-stage ordered policy table maps triggered checks to a decision:
// retry while attempts remain, then the stage's exhausted decision.
// Translation never falls back to its English source; refinement falls back
// to its own (already translated) input.
package validator

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/valpere/tradutor/internal"
	"github.com/valpere/tradutor/internal/detector"
	"github.com/valpere/tradutor/internal/placeholder"
)

// Decision is what the unit processor does with a candidate.
type Decision int

const (
	Accept Decision = iota
	Retry
	Fallback
	Fail
)

func (d Decision) String() string {
	switch d {
	case Accept:
		return "accept"
	case Retry:
		return "retry"
	case Fallback:
		return "fallback"
	case Fail:
		return "fail"
	}
	return "unknown"
}

// Flag names a failed check.
type Flag string

const (
	FlagEmpty           Flag = "empty"
	FlagLengthRatio     Flag = "length_ratio"
	FlagLanguageDrift   Flag = "language_drift"
	FlagCollapse        Flag = "collapse"
	FlagPlaceholderLoss Flag = "placeholder_loss"
	FlagTruncated       Flag = "truncated"
	FlagEntityDrift     Flag = "entity_drift"
)

// Input is what every check sees.
type Input struct {
	Source    string
	Candidate string
	Stage     internal.Stage
	// Truncated is set by the sanitizer when the output delimiter block was
	// opened but never closed.
	Truncated bool
}

// Check is a pure predicate; it returns true when the candidate is bad.
type Check func(Input) bool

// Verdict is the validator's answer for one candidate.
type Verdict struct {
	Decision Decision
	Flags    []Flag
}

// FlagStrings returns the flags as plain strings for results and logs.
func (v Verdict) FlagStrings() []string {
	if len(v.Flags) == 0 {
		return nil
	}
	out := make([]string, len(v.Flags))
	for i, f := range v.Flags {
		out[i] = string(f)
	}
	return out
}

// LanguageDetector is the subset of detector.Detector the drift check uses.
type LanguageDetector interface {
	DetectISO(text string) (string, bool)
}

// Band is an inclusive output/input length ratio range.
type Band struct {
	Min float64 `mapstructure:"min"`
	Max float64 `mapstructure:"max"`
}

// Contains reports whether r lies inside the band.
func (b Band) Contains(r float64) bool {
	return r >= b.Min && r <= b.Max
}

// Config tunes the checks.
type Config struct {
	TranslateRatio Band `mapstructure:"translate_ratio"`
	RefineRatio    Band `mapstructure:"refine_ratio"`
	// DriftThreshold is the largest tolerated share of sentences in a
	// disallowed language.
	DriftThreshold float64 `mapstructure:"drift_threshold"`
	// MinRatioRunes is the source length under which the ratio check is
	// skipped; ratios of very short texts are noise.
	MinRatioRunes int `mapstructure:"min_ratio_runes"`
	// EntityOverlap is the least share of the input's named entities a
	// refinement must keep.
	EntityOverlap float64 `mapstructure:"entity_overlap"`
	// MaxNewEntities is how many more named entities than its input a
	// refinement may carry.
	MaxNewEntities int `mapstructure:"max_new_entities"`
}

// DefaultConfig returns the stock bands and thresholds.
func DefaultConfig() Config {
	return Config{
		TranslateRatio: Band{Min: 0.5, Max: 2.5},
		RefineRatio:    Band{Min: 0.8, Max: 1.25},
		DriftThreshold: 0.30,
		MinRatioRunes:  40,
		EntityOverlap:  0.6,
		MaxNewEntities: 5,
	}
}

// Rule binds a check to the decision taken once retries are exhausted.
type Rule struct {
	Flag      Flag
	Check     Check
	Exhausted Decision
}

// Validator evaluates the policy table for a stage.
type Validator struct {
	cfg      Config
	det      LanguageDetector
	policies map[internal.Stage][]Rule
}

// New builds a Validator. A nil detector disables the language drift check.
func New(cfg Config, det LanguageDetector) *Validator {
	v := &Validator{cfg: cfg, det: det}
	v.policies = map[internal.Stage][]Rule{
		internal.StageTranslate: {
			{FlagEmpty, isEmpty, Fail},
			{FlagTruncated, isTruncated, Fail},
			{FlagLengthRatio, v.ratioOutOfBand, Fail},
			{FlagLanguageDrift, v.languageDrift, Fail},
			{FlagCollapse, isCollapsed, Fail},
			{FlagPlaceholderLoss, lostPlaceholders, Fail},
		},
		internal.StageRefine: {
			{FlagEmpty, isEmpty, Fallback},
			{FlagTruncated, isTruncated, Fallback},
			{FlagLengthRatio, v.ratioOutOfBand, Fallback},
			{FlagLanguageDrift, v.languageDrift, Fallback},
			{FlagEntityDrift, v.entityDrift, Fallback},
			{FlagCollapse, isCollapsed, Fallback},
			{FlagPlaceholderLoss, lostPlaceholders, Fallback},
		},
	}
	return v
}

// Validate checks a candidate that carries no sanitizer signals.
func (v *Validator) Validate(source, candidate string, stage internal.Stage, attemptsLeft int) Verdict {
	return v.Evaluate(Input{Source: source, Candidate: candidate, Stage: stage}, attemptsLeft)
}

// Evaluate runs every check of the stage's policy. All triggered flags are
// reported; the first triggered rule decides. attemptsLeft is the number of
// further backend calls still allowed for the unit.
func (v *Validator) Evaluate(in Input, attemptsLeft int) Verdict {
	stage := in.Stage
	verdict := Verdict{Decision: Accept}
	var first *Rule
	for i, rule := range v.policies[stage] {
		if !rule.Check(in) {
			continue
		}
		verdict.Flags = append(verdict.Flags, rule.Flag)
		if first == nil {
			first = &v.policies[stage][i]
		}
		// Nothing else is meaningful on empty output.
		if rule.Flag == FlagEmpty {
			break
		}
	}
	if first == nil {
		return verdict
	}
	if attemptsLeft > 0 {
		verdict.Decision = Retry
	} else {
		verdict.Decision = first.Exhausted
	}
	return verdict
}

// Noop accepts every candidate.
type Noop struct{}

func (Noop) Validate(string, string, internal.Stage, int) Verdict {
	return Verdict{Decision: Accept}
}

func (Noop) Evaluate(Input, int) Verdict {
	return Verdict{Decision: Accept}
}

// --- checks ---

func isEmpty(in Input) bool {
	return strings.TrimSpace(in.Candidate) == ""
}

func isTruncated(in Input) bool {
	return in.Truncated
}

func (v *Validator) ratioOutOfBand(in Input) bool {
	src := utf8.RuneCountInString(strings.TrimSpace(in.Source))
	if src < v.cfg.MinRatioRunes || src == 0 {
		return false
	}
	ratio := float64(utf8.RuneCountInString(strings.TrimSpace(in.Candidate))) / float64(src)
	band := v.cfg.TranslateRatio
	if in.Stage == internal.StageRefine {
		band = v.cfg.RefineRatio
	}
	return !band.Contains(ratio)
}

// disallowed lists, per stage, the languages that count as drift. English is
// only drift after translation; refinement input may legitimately quote it.
var disallowed = map[internal.Stage]map[string]bool{
	internal.StageTranslate: {"en": true, "es": true, "fr": true, "zh": true, "ja": true, "ko": true},
	internal.StageRefine:    {"es": true, "fr": true, "zh": true, "ja": true, "ko": true},
}

func (v *Validator) languageDrift(in Input) bool {
	if v.det == nil {
		return false
	}
	sentences := detector.Sentences(in.Candidate)
	if len(sentences) == 0 {
		return false
	}
	bad := 0
	for _, s := range sentences {
		if iso, ok := v.det.DetectISO(s); ok && disallowed[in.Stage][iso] {
			bad++
		}
	}
	return float64(bad)/float64(len(sentences)) > v.cfg.DriftThreshold
}

var reEntityToken = regexp.MustCompile(`[\p{L}\p{N}][\p{L}\p{N}'’-]*`)

// entities returns the capitalized words of text that do not open a
// sentence: names, places and titles.
func entities(text string) map[string]bool {
	out := make(map[string]bool)
	for _, loc := range reEntityToken.FindAllStringIndex(text, -1) {
		word := text[loc[0]:loc[1]]
		r, _ := utf8.DecodeRuneInString(word)
		if !unicode.IsUpper(r) || utf8.RuneCountInString(word) < 3 || opensSentence(text[:loc[0]]) {
			continue
		}
		out[word] = true
	}
	return out
}

// opensSentence reports whether the text before a word ends a sentence or
// a line, ignoring quotes, dashes and spaces in between.
func opensSentence(before string) bool {
	trimmed := strings.TrimRightFunc(before, func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune(`"'“”‘’«»—–-(*_#`, r)
	})
	if trimmed == "" || strings.Contains(before[len(trimmed):], "\n") {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(trimmed)
	return strings.ContainsRune(".!?…:", r)
}

// entityDrift flags a refinement that dropped most of its input's named
// entities or invented many new ones.
func (v *Validator) entityDrift(in Input) bool {
	orig := entities(in.Source)
	if len(orig) == 0 {
		return false
	}
	got := entities(in.Candidate)
	shared := 0
	for e := range orig {
		if got[e] {
			shared++
		}
	}
	if float64(shared)/float64(len(orig)) < v.cfg.EntityOverlap {
		return true
	}
	return len(got) > len(orig)+v.cfg.MaxNewEntities
}

func lostPlaceholders(in Input) bool {
	return len(placeholder.Missing(in.Source, in.Candidate)) > 0
}

const (
	// minRepeatedLineRunes exempts short lines ("* * *", "— Sim, senhor.")
	// from the repeated line check.
	minRepeatedLineRunes = 20
	maxLineRepeats       = 3
	maxWordRun           = 10
	maxPatternRunes      = 30
	minPatternCopies     = 4
	patternCoverage      = 0.6
)

// stopwords are function words a model may legitimately stutter on in
// OCR-damaged input; runs of them are not collapse.
var stopwords = map[string]bool{
	"a": true, "o": true, "as": true, "os": true, "e": true, "é": true,
	"de": true, "da": true, "do": true, "das": true, "dos": true,
	"em": true, "na": true, "no": true, "que": true, "se": true,
	"um": true, "uma": true, "the": true, "of": true, "and": true,
}

var reWord = regexp.MustCompile(`[\p{L}\p{N}]+`)

// isCollapsed detects degenerate generation: one line repeated three or
// more times, one word repeated in a long run, or a short pattern that
// tiles most of the output.
func isCollapsed(in Input) bool {
	return repeatedLine(in.Candidate) || wordRun(in.Candidate) || shortPatternLoop(in.Candidate)
}

func repeatedLine(text string) bool {
	counts := make(map[string]int)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if utf8.RuneCountInString(line) < minRepeatedLineRunes || !strings.ContainsFunc(line, unicode.IsLetter) {
			continue
		}
		counts[line]++
		if counts[line] >= maxLineRepeats {
			return true
		}
	}
	return false
}

func wordRun(text string) bool {
	words := reWord.FindAllString(strings.ToLower(text), -1)
	run := 1
	for i := 1; i < len(words); i++ {
		if words[i] == words[i-1] && !stopwords[words[i]] {
			run++
			if run >= maxWordRun {
				return true
			}
			continue
		}
		run = 1
	}
	return false
}

// shortPatternLoop looks for a period p ≤ maxPatternRunes such that a single
// stretch where runes[i] == runes[i+p] covers most of the text.
func shortPatternLoop(text string) bool {
	runes := []rune(strings.Join(strings.Fields(text), " "))
	n := len(runes)
	if n < maxPatternRunes*2 {
		return false
	}
	need := int(patternCoverage * float64(n))
	for p := 1; p <= maxPatternRunes; p++ {
		stretch := 0
		for i := 0; i+p < n; i++ {
			if runes[i] != runes[i+p] {
				stretch = 0
				continue
			}
			stretch++
			if stretch+p >= need && stretch >= (minPatternCopies-1)*p {
				return true
			}
		}
	}
	return false
}
