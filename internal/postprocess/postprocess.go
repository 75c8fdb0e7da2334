// Package postprocess removes common LLM artifacts from model output.
//
// It is applied to the raw text returned by the backend for every unit,
// in both the translation and the refinement stage, before the validator
// sees it. Sanitization is a pure text transformation: it never fails and
// always returns its best-effort result plus a report of what was removed.
package postprocess

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/valpere/tradutor/internal"
)

const (
	// MinRepeatRunes is the shortest repeated block that gets collapsed.
	// Shorter repeats ("Não! Não! Não!") are legitimate dialogue.
	MinRepeatRunes = 50
	// RepeatThreshold is how many consecutive copies make a block degenerate.
	RepeatThreshold = 2
	// maxBlockSegments bounds how many sentences a repeated block may span.
	maxBlockSegments = 8
)

// Output delimiters the prompts ask the model to wrap its answer in.
const (
	TranslateBegin = "### TEXTO_TRADUZIDO_INICIO"
	TranslateEnd   = "### TEXTO_TRADUZIDO_FIM"
	RefineBegin    = "### TEXTO_REFINADO_INICIO"
	RefineEnd      = "### TEXTO_REFINADO_FIM"
)

// Report counts what Sanitize removed.
type Report struct {
	ThinkBlocks         int
	Delimiters          int
	EchoLines           int
	MetaLines           int
	QuoteWrapping       int
	RepeatedBlocks      int
	DuplicateParagraphs int
	// Truncated is set when the output opened a delimiter block and never
	// closed it: the model was cut off.
	Truncated bool
}

// Total returns the number of removals of any kind.
func (r Report) Total() int {
	return r.ThinkBlocks + r.Delimiters + r.EchoLines + r.MetaLines + r.QuoteWrapping +
		r.RepeatedBlocks + r.DuplicateParagraphs
}

// Map returns the non-zero counters keyed by name, for logs and results.
func (r Report) Map() map[string]int {
	m := make(map[string]int)
	add := func(k string, v int) {
		if v > 0 {
			m[k] = v
		}
	}
	add("think_blocks", r.ThinkBlocks)
	add("delimiters", r.Delimiters)
	add("echo_lines", r.EchoLines)
	add("meta_lines", r.MetaLines)
	add("quote_wrapping", r.QuoteWrapping)
	add("repeated_blocks", r.RepeatedBlocks)
	add("duplicate_paragraphs", r.DuplicateParagraphs)
	if r.Truncated {
		m["truncated"] = 1
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// Sanitize removes LLM artifacts from raw and returns the trimmed result.
// source is the text the model was asked to process; it decides whether
// outer quotes are an artifact or part of the text. Phases:
//  1. Thinking / reasoning block removal
//  2. Output delimiter extraction (### TEXTO_..._INICIO / _FIM)
//  3. Instruction echo removal (prompt leakage)
//  4. Meta-commentary removal (EN and PT-BR)
//  5. Quote wrapping removal, unless source is itself quoted
//  6. Degenerate repeated block collapse
//  7. Consecutive duplicate paragraph removal (refinement only)
func Sanitize(raw, source string, stage internal.Stage) (string, Report) {
	var rep Report
	text := raw

	text, rep.ThinkBlocks = removeThinkingBlocks(text)
	text, rep.Delimiters, rep.Truncated = extractDelimited(text, stage)
	text, rep.EchoLines = removeInstructionEchoes(text)
	text, rep.MetaLines = removeMetaLines(text)
	text, rep.QuoteWrapping = removeQuoteWrapping(text, source)
	text, rep.RepeatedBlocks = collapseRepeats(text)
	if stage == internal.StageRefine {
		text, rep.DuplicateParagraphs = dropDuplicateParagraphs(text)
	}

	return strings.TrimSpace(text), rep
}

// --- Phase 1: thinking blocks ---

// thinkingBlockRe matches complete <thinking>…</thinking> style blocks.
// Each tag variant is listed explicitly because Go's RE2 engine does not
// support backreferences.
// Flags: i = case-insensitive, s = dot matches newline.
var thinkingBlockRe = regexp.MustCompile(
	`(?is)<thinking>.*?</thinking>|<think>.*?</think>|<reasoning>.*?</reasoning>|<reflection>.*?</reflection>|<analysis>.*?</analysis>`,
)

// truncatedThinkingRe matches an opened thinking tag whose closing tag is
// missing (the model was cut off mid-thought).
var truncatedThinkingRe = regexp.MustCompile(
	`(?is)(?:<thinking>|<think>|<reasoning>|<reflection>|<analysis>).*$`,
)

// strayTagRe matches closing tags left behind after an unbalanced block.
var strayTagRe = regexp.MustCompile(`(?i)</?(?:thinking|think|reasoning|reflection|analysis)>`)

func removeThinkingBlocks(text string) (string, int) {
	n := len(thinkingBlockRe.FindAllStringIndex(text, -1))
	text = thinkingBlockRe.ReplaceAllString(text, "")
	if truncatedThinkingRe.MatchString(text) {
		n++
		text = truncatedThinkingRe.ReplaceAllString(text, "")
	}
	n += len(strayTagRe.FindAllStringIndex(text, -1))
	text = strayTagRe.ReplaceAllString(text, "")
	return text, n
}

// --- Phase 2: output delimiters ---

var markerLineRe = regexp.MustCompile(`(?m)^.*###\s*TEXTO_(?:TRADUZIDO|REFINADO)_[A-Z_]*.*$\n?`)

// extractDelimited keeps only the text between the stage's last begin marker
// and the end marker that follows it, so an echoed prompt is skipped. A
// begin marker without an end marker keeps everything after it and reports
// the output as truncated. Stray markers of either stage are dropped.
func extractDelimited(text string, stage internal.Stage) (string, int, bool) {
	pairs := [][2]string{{TranslateBegin, TranslateEnd}, {RefineBegin, RefineEnd}}
	if stage == internal.StageRefine {
		pairs[0], pairs[1] = pairs[1], pairs[0]
	}

	n := 0
	truncated := false
	for _, p := range pairs {
		start := strings.LastIndex(text, p[0])
		if start == -1 {
			continue
		}
		body := text[start+len(p[0]):]
		n++
		if end := strings.Index(body, p[1]); end != -1 {
			body = body[:end]
			n++
		} else {
			truncated = true
		}
		text = body
		break
	}

	n += len(markerLineRe.FindAllStringIndex(text, -1))
	text = markerLineRe.ReplaceAllString(text, "")
	return text, n, truncated
}

// --- Phase 3: instruction echoes ---

// echoPatterns match introductory phrases that LLMs sometimes prepend even
// when instructed not to.  Each pattern is anchored to the start of the string
// and requires a colon to reduce false positives on legitimate content.
var echoPatterns = []*regexp.Regexp{
	// "Here is / Here's [the] [refined|polished|translated] translation:"
	regexp.MustCompile(`(?i)^here(?:'s| is)(?: the)? (?:refined |polished |translated )?(?:translation|text)\s*:`),
	// "[The] [refined|polished] [translation|translated text]:"
	regexp.MustCompile(`(?i)^(?:the )?(?:refined |polished )?(?:translation|translated text)\s*:`),
	// "Certainly / Sure / Of course[,] here is [the] translation:"
	regexp.MustCompile(`(?i)^(?:certainly|sure|of course)[,.]? here(?:'s| is)(?: the)? (?:refined |polished |translated )?(?:translation|text)\s*:`),
	// "Aqui está a tradução:", "Tradução:", "Texto refinado:"
	regexp.MustCompile(`(?i)^(?:aqui est[áa] (?:a |o )?)?(?:tradu[çc][ãa]o|texto (?:refinado|traduzido|revisado))\s*:`),
}

// echoLineRes match prompt scaffolding echoed back on its own line.
var echoLineRes = []*regexp.Regexp{
	regexp.MustCompile(`(?im)^\s*CONTEXT \(DO NOT TRANSLATE OR REWRITE\):.*$\n?(?:^\s*".*"\s*$\n?)?`),
	regexp.MustCompile(`(?im)^\s*TEXTO A SER TRADUZIDO:\s*$\n?`),
	regexp.MustCompile(`(?im)^\s*TEXTO PARA REVIS[ÃA]O(?: \(PT-BR\))?:\s*$\n?`),
	regexp.MustCompile(`(?is)===GLOSSARIO_SUGERIDO_INICIO===.*?(?:===GLOSSARIO_SUGERIDO_FIM===|$)`),
	regexp.MustCompile(`(?m)^\s*"""\s*$\n?`),
}

func removeInstructionEchoes(text string) (string, int) {
	n := 0
	for _, re := range echoLineRes {
		n += len(re.FindAllStringIndex(text, -1))
		text = re.ReplaceAllString(text, "")
	}
	text = strings.TrimSpace(text)
	for _, re := range echoPatterns {
		if loc := re.FindStringIndex(text); loc != nil && loc[0] == 0 {
			text = strings.TrimSpace(text[loc[1]:])
			n++
		}
	}
	text = strings.TrimPrefix(text, `"""`)
	text = strings.TrimSuffix(text, `"""`)
	return text, n
}

// --- Phase 4: meta-commentary ---

// metaPatterns flag whole lines where the model talks about itself or its
// edits instead of producing text. They are matched against the lowercased
// line.
var metaPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bas an ai\b`),
	regexp.MustCompile(`\bas a (?:large )?language model\b`),
	regexp.MustCompile(`\bi(?:'m| am) (?:just )?an ai\b`),
	regexp.MustCompile(`\bi cannot (?:provide|translate|help)\b`),
	regexp.MustCompile(`\bcomo (?:um|uma) (?:modelo de linguagem|assistente(?: virtual)?|ia)\b`),
	regexp.MustCompile(`\b(?:eu )?sou apenas (?:um|uma) (?:modelo|assistente|ia)\b`),
	regexp.MustCompile(`^\s*(?:mudan[çc]as e justificativas|altera[çc](?:ão|ao|ões|oes) realizadas)\b`),
	regexp.MustCompile(`^\s*(?:nesta|nessa) revis[ãa]o\b`),
	regexp.MustCompile(`^\s*(?:justificativa|racionalidade|rationale)\s*:`),
	regexp.MustCompile(`^\s*em resumo\s*:`),
	regexp.MustCompile(`^\s*\(?(?:nota do tradutor|translator'?s note)\b`),
}

func removeMetaLines(text string) (string, int) {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	n := 0
	for _, line := range lines {
		lowered := strings.ToLower(line)
		meta := false
		for _, re := range metaPatterns {
			if re.MatchString(lowered) {
				meta = true
				break
			}
		}
		if meta {
			n++
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n"), n
}

// --- Phase 5: quote wrapping ---

// quotePairs are the outer quote pairs a model may wrap its answer in.
var quotePairs = [][2]rune{{'"', '"'}, {'\'', '\''}, {'«', '»'}, {'“', '”'}, {'‘', '’'}}

// quotedBy returns the quote pair wrapping all of text, if any.
func quotedBy(text string) ([2]rune, bool) {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) < 2 {
		return [2]rune{}, false
	}
	for _, q := range quotePairs {
		if runes[0] == q[0] && runes[len(runes)-1] == q[1] {
			return q, true
		}
	}
	return [2]rune{}, false
}

// removeQuoteWrapping strips a matching pair of outer quotes when the entire
// text is wrapped in them and no quote of the same kind appears inside. A
// source that is itself wrapped (a line of dialogue) keeps its quotes.
func removeQuoteWrapping(text, source string) (string, int) {
	text = strings.TrimSpace(text)
	if _, ok := quotedBy(source); ok {
		return text, 0
	}
	q, ok := quotedBy(text)
	if !ok {
		return text, 0
	}
	runes := []rune(text)
	inner := string(runes[1 : len(runes)-1])
	if strings.ContainsRune(inner, q[0]) || strings.ContainsRune(inner, q[1]) {
		return text, 0
	}
	return strings.TrimSpace(inner), 1
}

// --- Phase 6: degenerate repetition ---

// collapseRepeats collapses a block of one or more consecutive sentences
// that is immediately repeated RepeatThreshold or more times into a single
// copy. Blocks shorter than MinRepeatRunes are left alone.
func collapseRepeats(text string) (string, int) {
	segs := segments(text)
	if len(segs) < RepeatThreshold {
		return text, 0
	}
	keys := make([]string, len(segs))
	for i, s := range segs {
		keys[i] = strings.TrimSpace(s)
	}

	var b strings.Builder
	removed := 0
	for i := 0; i < len(segs); {
		k, reps := repeatAt(keys, i)
		if reps >= RepeatThreshold {
			last := i + (reps-1)*k
			for j := 0; j < k-1; j++ {
				b.WriteString(segs[i+j])
			}
			b.WriteString(segs[last+k-1])
			removed += reps - 1
			i += reps * k
			continue
		}
		b.WriteString(segs[i])
		i++
	}
	return b.String(), removed
}

// repeatAt finds the shortest block length k starting at i whose text is at
// least MinRepeatRunes long and repeats consecutively. It returns k and the
// number of copies (1 when nothing repeats).
func repeatAt(keys []string, i int) (int, int) {
	for k := 1; k <= maxBlockSegments && i+2*k <= len(keys); k++ {
		if utf8.RuneCountInString(strings.Join(keys[i:i+k], " ")) < MinRepeatRunes {
			continue
		}
		reps := 1
		for i+(reps+1)*k <= len(keys) && equalBlocks(keys, i, i+reps*k, k) {
			reps++
		}
		if reps > 1 {
			return k, reps
		}
	}
	return 1, 1
}

func equalBlocks(keys []string, a, b, k int) bool {
	for j := 0; j < k; j++ {
		if keys[a+j] != keys[b+j] || keys[a+j] == "" {
			return false
		}
	}
	return true
}

// segments splits text after sentence-ending punctuation and after line
// breaks, keeping every separator attached to the preceding segment so that
// joining the segments gives back text unchanged.
func segments(text string) []string {
	runes := []rune(text)
	var out []string
	start := 0
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		end := false
		switch {
		case r == '\n':
			end = true
		case r == '.' || r == '!' || r == '?' || r == '…':
			j := i + 1
			for j < len(runes) && strings.ContainsRune(`"'”’)»`, runes[j]) {
				j++
			}
			if j == len(runes) || unicode.IsSpace(runes[j]) {
				i = j - 1
				end = true
			}
		}
		if !end {
			continue
		}
		j := i + 1
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		out = append(out, string(runes[start:j]))
		start = j
		i = j - 1
	}
	if start < len(runes) {
		out = append(out, string(runes[start:]))
	}
	return out
}

// --- Phase 7: duplicate paragraphs ---

var paragraphBreakRe = regexp.MustCompile(`\n[ \t]*\n\s*`)

// dropDuplicateParagraphs removes a paragraph that is an exact copy of the
// one right before it, regardless of length.
func dropDuplicateParagraphs(text string) (string, int) {
	paras := paragraphBreakRe.Split(strings.TrimSpace(text), -1)
	if len(paras) < 2 {
		return text, 0
	}
	kept := paras[:1]
	removed := 0
	for _, p := range paras[1:] {
		if strings.TrimSpace(p) != "" && strings.TrimSpace(p) == strings.TrimSpace(kept[len(kept)-1]) {
			removed++
			continue
		}
		kept = append(kept, p)
	}
	if removed == 0 {
		return text, 0
	}
	return strings.Join(kept, "\n\n"), removed
}
