// Package detector identifies the language of text fragments.
package detector

import (
	"regexp"
	"strings"
	"unicode/utf8"

	lingua "github.com/pemistahl/lingua-go"
)

// MinSentenceRunes is the shortest sentence worth classifying; shorter
// fragments ("Sim.", "OK!") produce unreliable results.
const MinSentenceRunes = 20

// Languages the pipeline can plausibly see: the source, the target and the
// usual drift targets of multilingual models.
var candidates = []lingua.Language{
	lingua.Portuguese,
	lingua.English,
	lingua.Spanish,
	lingua.French,
	lingua.Italian,
	lingua.German,
	lingua.Chinese,
	lingua.Japanese,
	lingua.Korean,
}

var reSentence = regexp.MustCompile(`[^.!?…\n]+[.!?…]*`)

type Detector struct {
	detector lingua.LanguageDetector
}

// New builds a detector restricted to the candidate languages. Models are
// loaded on first use and are large; share one instance.
func New() *Detector {
	detector := lingua.NewLanguageDetectorBuilder().
		FromLanguages(candidates...).
		Build()

	return &Detector{detector: detector}
}

func (d *Detector) Detect(text string) (lingua.Language, bool) {
	if text == "" {
		return lingua.Unknown, false
	}
	return d.detector.DetectLanguageOf(text)
}

// DetectISO returns the lowercase ISO 639-1 code of the detected language.
func (d *Detector) DetectISO(text string) (string, bool) {
	lang, ok := d.Detect(text)
	if !ok {
		return "", false
	}
	return strings.ToLower(lang.IsoCode639_1().String()), true
}

// Sentences splits text into trimmed sentences long enough to classify.
func Sentences(text string) []string {
	var out []string
	for _, s := range reSentence.FindAllString(text, -1) {
		s = strings.TrimSpace(s)
		if utf8.RuneCountInString(s) >= MinSentenceRunes {
			out = append(out, s)
		}
	}
	return out
}
