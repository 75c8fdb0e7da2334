package chunker_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valpere/tradutor/internal"
	"github.com/valpere/tradutor/internal/chunker"
)

func texts(units []internal.Unit) []string {
	out := make([]string, len(units))
	for i, u := range units {
		out[i] = u.Text
	}
	return out
}

// --- Split tests ---

func TestSplit_ShortText(t *testing.T) {
	units := chunker.Split("Hello, world!", 100)
	require.Len(t, units, 1)
	assert.Equal(t, "Hello, world!", units[0].Text)
	assert.Equal(t, 0, units[0].Index)
	assert.Equal(t, 13, units[0].CharCount)
	assert.Equal(t, internal.HashText("Hello, world!"), units[0].Hash)
}

func TestSplit_Unlimited(t *testing.T) {
	text := strings.Repeat("word ", 500)
	assert.Len(t, chunker.Split(text, 0), 1)
}

func TestSplit_EmptyText(t *testing.T) {
	assert.Empty(t, chunker.Split("", 100))
}

func TestSplit_Scenario(t *testing.T) {
	units := chunker.Split("Para one. Para two.", 10)
	assert.Equal(t, []string{"Para one.", " Para two."}, texts(units))
	assert.False(t, units[0].HardCut)
}

func TestSplit_ParagraphBoundary(t *testing.T) {
	para1 := "First paragraph has some text in it."
	para2 := "Second paragraph text here."
	text := para1 + "\n\n" + para2

	units := chunker.Split(text, 45)
	require.Len(t, units, 2)
	assert.Equal(t, para1, units[0].Text)
	assert.Equal(t, "\n\n"+para2, units[1].Text)
}

func TestSplit_PrefersLateSentenceOverEarlyParagraph(t *testing.T) {
	text := "Tiny.\n\nThis sentence is long enough. And this one closes the window. Tail text follows on."
	units := chunker.Split(text, 70)
	require.GreaterOrEqual(t, len(units), 2)
	assert.True(t, strings.HasSuffix(units[0].Text, "window."), "got %q", units[0].Text)
}

func TestSplit_SentenceBoundaryWithClosingQuote(t *testing.T) {
	text := `He said "stop here." Then he left the room quietly.`
	units := chunker.Split(text, 25)
	require.GreaterOrEqual(t, len(units), 2)
	assert.Equal(t, `He said "stop here."`, units[0].Text)
}

func TestSplit_HardCutIsFlagged(t *testing.T) {
	text := strings.Repeat("x", 25)
	units := chunker.Split(text, 10)
	require.Len(t, units, 3)
	assert.True(t, units[0].HardCut)
	assert.True(t, units[1].HardCut)
	assert.Equal(t, 10, units[0].CharCount)
}

func TestSplit_WordBoundaryBeforeHardCut(t *testing.T) {
	text := "one two three four five six seven eight nine ten"
	units := chunker.Split(text, 20)
	require.GreaterOrEqual(t, len(units), 2)
	for _, u := range units[:len(units)-1] {
		assert.True(t, u.HardCut)
	}
	for _, word := range strings.Fields(text) {
		assert.Contains(t, chunker.Join(units), word)
	}
}

func TestSplit_MultibyteIsRuneSafe(t *testing.T) {
	text := strings.Repeat("ação ", 40)
	for _, u := range chunker.Split(text, 17) {
		assert.True(t, utf8.ValidString(u.Text))
		assert.LessOrEqual(t, u.CharCount, 17)
	}
}

func TestSplit_Properties(t *testing.T) {
	docs := []string{
		"The quick brown fox jumps over the lazy dog. Pack my box with five dozen liquor jugs. How vexingly quick daft zebras jump!",
		"Chapter 1\n\nIt was a dark night. The rain fell.\n\n\"Who's there?\" she asked. Nobody answered…\n\nChapter 2\n\nMorning came.",
		strings.Repeat("Loremipsumdolorsitamet", 30),
		strings.Repeat("Um parágrafo em português, com acentuação. ", 20) + "\n\n" + strings.Repeat("Outro! ", 30),
	}
	for _, doc := range docs {
		for _, size := range []int{7, 16, 33, 80, 250} {
			units := chunker.Split(doc, size)

			assert.Equal(t, doc, chunker.Join(units), "reconstruction, size=%d", size)
			for i, u := range units {
				assert.Equal(t, i, u.Index)
				assert.LessOrEqual(t, u.CharCount, size, "bound, size=%d unit=%q", size, u.Text)
			}
			assert.Equal(t, units, chunker.Split(doc, size), "determinism, size=%d", size)
		}
	}
}

// --- SplitSections tests ---

func TestSplitSections_HeadingStartsUnit(t *testing.T) {
	text := "Intro line.\n\n## Capítulo 1\n\nTexto curto.\n\n## Capítulo 2\n\nMais texto."
	units := chunker.SplitSections(text, 1000)
	require.Len(t, units, 3)
	assert.True(t, strings.HasPrefix(units[1].Text, "## Capítulo 1"))
	assert.True(t, strings.HasPrefix(units[2].Text, "## Capítulo 2"))
	assert.Equal(t, text, chunker.Join(units))
	assert.Equal(t, 2, units[2].Index)
}

func TestSplitSections_NoHeadings(t *testing.T) {
	text := "Sem títulos aqui. Apenas texto."
	units := chunker.SplitSections(text, 1000)
	require.Len(t, units, 1)
	assert.Equal(t, text, units[0].Text)
}

// --- Normalize tests ---

func TestNormalize(t *testing.T) {
	in := "  Line one.  \r\nLine two.\r\n\r\n\r\n\r\nPará two.  "
	got := chunker.Normalize(in)
	assert.Equal(t, "Line one.\nLine two.\n\nPará two.", got)
}

// --- ExtractContext tests ---

func TestExtractContext_FewerWordsThanLimit(t *testing.T) {
	assert.Equal(t, "short text", chunker.ExtractContext("short text", 25))
}

func TestExtractContext_MoreWordsThanLimit(t *testing.T) {
	text := strings.TrimSpace(strings.Repeat("word ", 50))
	assert.Len(t, strings.Fields(chunker.ExtractContext(text, 25)), 25)
}

func TestExtractContext_DefaultWordCount(t *testing.T) {
	text := strings.TrimSpace(strings.Repeat("w ", 50))
	assert.Len(t, strings.Fields(chunker.ExtractContext(text, 0)), chunker.DefaultContextWords)
}

func TestExtractContext_LastWordsCorrect(t *testing.T) {
	assert.Equal(t, "gamma delta epsilon", chunker.ExtractContext("alpha beta gamma delta epsilon", 3))
}

// --- LastSentence tests ---

func TestLastSentence(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"simple", "First one. Second one.", "Second one."},
		{"markers removed", "### TEXTO_TRADUZIDO_INICIO\nOlá. Tudo bem?\n### TEXTO_TRADUZIDO_FIM", "Tudo bem?"},
		{"no punctuation", "just words here", "just words here"},
		{"empty", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, chunker.LastSentence(tt.in))
		})
	}
}
