// Package preprocess turns the raw text layer of a PDF into clean prose:
// extraction noise is dropped and hard-wrapped lines are reflowed into
// paragraphs separated by blank lines, which is what the chunker splits on.
package preprocess

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// RunningLineMinCount is how often a short line must recur before it is
	// treated as a running header or footer.
	RunningLineMinCount = 6
	// RunningLineMaxRunes bounds the length of running header candidates.
	RunningLineMaxRunes = 80
	// tocWindow is how many leading lines are searched for a contents block.
	tocWindow = 200
	// tocMinEntries is the least number of entries a contents block needs.
	tocMinEntries = 3
	// tocGapLimit ends a contents block after this many non-entry lines.
	tocGapLimit = 8
)

// Report counts what Clean changed.
type Report struct {
	InvisibleChars int
	PageNumbers    int
	PromoLines     int
	TOCLines       int
	RunningLines   int
	DuplicateLines int
	HyphenJoins    int
	ReflowMerges   int
}

// Map returns the non-zero counters keyed by name, for logs.
func (r Report) Map() map[string]int {
	m := make(map[string]int)
	for k, v := range map[string]int{
		"invisible_chars": r.InvisibleChars,
		"page_numbers":    r.PageNumbers,
		"promo_lines":     r.PromoLines,
		"toc_lines":       r.TOCLines,
		"running_lines":   r.RunningLines,
		"duplicate_lines": r.DuplicateLines,
		"hyphen_joins":    r.HyphenJoins,
		"reflow_merges":   r.ReflowMerges,
	} {
		if v > 0 {
			m[k] = v
		}
	}
	return m
}

var (
	invisibleReplacer = strings.NewReplacer(
		"\u00ad", "", "\u200b", "", "\u200c", "", "\u200d", "", "\ufeff", "", "\uffff", "",
	)
	rePageNumber  = regexp.MustCompile(`(?i)^(?:page\s+)?[-–—]?\s*\d{1,4}\s*[-–—]?(?:\s+of\s+\d{1,4})?$`)
	reHyphenBreak = regexp.MustCompile(`(\p{Ll})-\n(\p{Ll})`)
	reSpaces      = regexp.MustCompile(`[ \t]+`)
	reSpaceBefore = regexp.MustCompile(` +([,.;:!?])`)
	reBlankRuns   = regexp.MustCompile(`\n{3,}`)
	reSeparator   = regexp.MustCompile(`^(?:\*\s*){2,}$|^[.·…]{2,}$|^[-_=]{3,}$`)
	reHeading     = regexp.MustCompile(`(?i)^(?:#{1,6}\s|(?:chapter|part|book|cap[ií]tulo|parte|livro)\s+(?:\d+|[ivxlc]+|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve|um|dois|tr[êe]s)\b|(?:prologue|epilogue|afterword|interlude|pr[óo]logo|ep[ií]logo)\b)`)
	reSentenceEnd = regexp.MustCompile(`[.!?…]["'”’»)]*$`)
	reTOCMarker   = regexp.MustCompile(`(?i)^(?:table of contents|contents|sum[áa]rio|[íi]ndice)$`)
	reTOCEntry    = regexp.MustCompile(`(?i)(?:\.{2,}\s*\d{1,4}|\s\d{1,4})$|^(?:chapter|cap[ií]tulo)\s+\d+|^(?:prologue|epilogue|afterword|pr[óo]logo|ep[ií]logo)$`)
)

// promoMarkers are watermark domains and scan-group promotions. A line
// carrying one is never book text.
var promoMarkers = []string{
	"oceanofpdf", "gomanga.com", "jnovels", "zerobooks", "discord.gg",
	"patreon.com", "mp4directs.com",
}

// promoPhrases only count on lines that are not dialogue.
var promoPhrases = []string{
	"join our discord", "sign up for our newsletter", "stay up to date",
	"download our mobile app", "downloading our mobile app", "thank you for reading",
	"thank you for downloading", "visit us online", "get the latest news", "support us on",
}

// Clean runs every pass over raw PDF text and returns the result with a
// report of what was changed.
func Clean(text string) (string, Report) {
	var rep Report

	text = strings.ReplaceAll(strings.ReplaceAll(text, "\r\n", "\n"), "\r", "\n")
	before := utf8.RuneCountInString(text)
	text = invisibleReplacer.Replace(text)
	rep.InvisibleChars = before - utf8.RuneCountInString(text)
	text = strings.ReplaceAll(text, "\u00a0", " ")

	lines := strings.Split(text, "\n")
	lines, rep.PageNumbers, rep.PromoLines = dropNoise(lines)
	lines, rep.TOCLines = dropContents(lines)
	lines, rep.RunningLines = dropRunningLines(lines)
	lines, rep.DuplicateLines = dropConsecutiveDuplicates(lines)
	text = strings.Join(lines, "\n")

	rep.HyphenJoins = len(reHyphenBreak.FindAllStringIndex(text, -1))
	text = reHyphenBreak.ReplaceAllString(text, "$1$2")

	text, rep.ReflowMerges = Reflow(text)

	text = reSpaces.ReplaceAllString(text, " ")
	text = reSpaceBefore.ReplaceAllString(text, "$1")
	text = reBlankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text), rep
}

func dropNoise(lines []string) (kept []string, pages, promo int) {
	kept = lines[:0]
	for _, line := range lines {
		s := strings.TrimSpace(line)
		switch {
		case s != "" && rePageNumber.MatchString(s):
			pages++
		case isPromo(s):
			promo++
		default:
			kept = append(kept, line)
		}
	}
	return kept, pages, promo
}

func isPromo(line string) bool {
	if line == "" {
		return false
	}
	lower := strings.ToLower(line)
	for _, m := range promoMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	if isDialogue(line) {
		return false
	}
	for _, p := range promoPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func isDialogue(line string) bool {
	r, _ := utf8.DecodeRuneInString(strings.TrimSpace(line))
	return strings.ContainsRune(`"“‘'—–«`, r)
}

// dropContents removes a table of contents near the start of the text: a
// marker line followed by at least tocMinEntries entry-like lines. The block
// ends at prose, at a repeat of its first entry, or after tocGapLimit
// consecutive non-entry lines.
func dropContents(lines []string) ([]string, int) {
	limit := min(len(lines), tocWindow)
	for i := 0; i < limit; i++ {
		if !reTOCMarker.MatchString(strings.TrimSpace(lines[i])) {
			continue
		}
		entries, last, gap := 0, i, 0
		first := ""
		for j := i + 1; j < len(lines) && j < i+tocWindow; j++ {
			s := strings.TrimSpace(lines[j])
			if s == "" {
				continue
			}
			if utf8.RuneCountInString(s) < 120 && reTOCEntry.MatchString(s) {
				// The first entry showing up again is the body's own heading.
				if strings.EqualFold(s, first) {
					break
				}
				if first == "" {
					first = s
				}
				entries++
				last, gap = j, 0
				continue
			}
			if looksLikeProse(s) {
				break
			}
			if gap++; gap >= tocGapLimit {
				break
			}
		}
		if entries < tocMinEntries {
			continue
		}
		removed := last - i + 1
		return append(lines[:i:i], lines[last+1:]...), removed
	}
	return lines, 0
}

func looksLikeProse(s string) bool {
	n := utf8.RuneCountInString(s)
	if n >= 120 {
		return true
	}
	letters := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			letters++
		}
	}
	return n > 40 && float64(letters)/float64(n) > 0.6 && strings.ContainsAny(s, ".!?")
}

// runningKey normalizes a line for header and footer matching: case,
// digits (page numbers) and punctuation are ignored.
func runningKey(line string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(strings.TrimSpace(line)) {
		switch {
		case unicode.IsLetter(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case unicode.IsSpace(r):
			space = true
		}
	}
	return b.String()
}

// dropRunningLines removes short lines that recur throughout the document,
// such as a book title or chapter name printed on every page. Lines that
// end a sentence are kept: repeated dialogue is legitimate.
func dropRunningLines(lines []string) ([]string, int) {
	keys := make([]string, len(lines))
	counts := make(map[string]int)
	for i, line := range lines {
		s := strings.TrimSpace(line)
		if s == "" || utf8.RuneCountInString(s) > RunningLineMaxRunes || reSentenceEnd.MatchString(s) || reSeparator.MatchString(s) {
			continue
		}
		if keys[i] = runningKey(s); keys[i] != "" {
			counts[keys[i]]++
		}
	}
	kept := lines[:0]
	removed := 0
	for i, line := range lines {
		if keys[i] != "" && counts[keys[i]] >= RunningLineMinCount {
			removed++
			continue
		}
		kept = append(kept, line)
	}
	return kept, removed
}

func dropConsecutiveDuplicates(lines []string) ([]string, int) {
	kept := lines[:0]
	prev := ""
	removed := 0
	for _, line := range lines {
		s := strings.Join(strings.Fields(line), " ")
		if s != "" && s == prev && !reSeparator.MatchString(s) {
			removed++
			continue
		}
		prev = s
		kept = append(kept, line)
	}
	return kept, removed
}

// Reflow joins hard-wrapped lines into paragraphs separated by one blank
// line. A paragraph ends at a blank line, a heading or separator, a line
// that ends a sentence and is shorter than the wrap width, or a sentence end
// followed by an opening quote or dash. It returns the number of line joins.
func Reflow(text string) (string, int) {
	lines := strings.Split(text, "\n")
	width := wrapWidth(lines)

	var paras []string
	var buf []string
	merges := 0
	flush := func() {
		if len(buf) == 0 {
			return
		}
		merges += len(buf) - 1
		paras = append(paras, strings.Join(buf, " "))
		buf = buf[:0]
	}

	for _, line := range lines {
		s := strings.TrimSpace(line)
		switch {
		case s == "":
			flush()
			continue
		case isHeading(s) || reSeparator.MatchString(s):
			flush()
			paras = append(paras, s)
			continue
		}
		if len(buf) > 0 && isDialogue(s) && reSentenceEnd.MatchString(buf[len(buf)-1]) {
			flush()
		}
		buf = append(buf, s)
		if reSentenceEnd.MatchString(s) && float64(utf8.RuneCountInString(s)) < 0.8*float64(width) {
			flush()
		}
	}
	flush()
	return strings.Join(paras, "\n\n"), merges
}

func isHeading(s string) bool {
	n := utf8.RuneCountInString(s)
	if n > 60 {
		return false
	}
	if strings.HasPrefix(s, "#") || reHeading.MatchString(s) && !reSentenceEnd.MatchString(s) {
		return true
	}
	// ALL CAPS short lines are titles.
	return n <= 40 && strings.ContainsFunc(s, unicode.IsLetter) && !strings.ContainsFunc(s, unicode.IsLower)
}

// wrapWidth estimates the column at which the PDF wrapped its lines: the
// 80th percentile of non-blank line lengths.
func wrapWidth(lines []string) int {
	var lens []int
	for _, l := range lines {
		if n := utf8.RuneCountInString(strings.TrimSpace(l)); n > 0 {
			lens = append(lens, n)
		}
	}
	if len(lens) == 0 {
		return 0
	}
	sort.Ints(lens)
	return lens[len(lens)*4/5]
}
