package dedupe

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimilarity_CountsRunes(t *testing.T) {
	// Two substitutions over four runes, not over six bytes.
	assert.InDelta(t, 0.5, Similarity("ação", "acao"), 1e-9)
	assert.InDelta(t, 1.0-3.0/7.0, Similarity("kitten", "sitting"), 1e-9)
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("", ""))
	assert.Equal(t, 1.0, Similarity("abc", "abc"))
	assert.InDelta(t, 0.0, Similarity("abc", "xyz"), 1e-9)
	assert.InDelta(t, 0.9, Similarity("abcdefghij", "abcdefghiX"), 1e-9)
}

func TestIndex_ExactMatchIgnoresEdgeWhitespace(t *testing.T) {
	ix := New(DefaultThreshold)
	ix.Add("  The door opened.\n", "A porta se abriu.")

	out, score, ok := ix.Match("The door opened.")
	assert.True(t, ok)
	assert.Equal(t, 1.0, score)
	assert.Equal(t, "A porta se abriu.", out)
}

func TestIndex_NearDuplicate(t *testing.T) {
	ix := New(DefaultThreshold)
	src := "Chapter One. The boy who lived on Privet Drive was not an ordinary boy at all."
	ix.Add(src, "Capítulo Um.")

	out, score, ok := ix.Match(strings.Replace(src, "One", "One!", 1))
	assert.True(t, ok)
	assert.GreaterOrEqual(t, score, DefaultThreshold)
	assert.Equal(t, "Capítulo Um.", out)

	_, _, ok = ix.Match("Something completely different from the original text here.")
	assert.False(t, ok)
}

func TestIndex_LongTextsOnlyExact(t *testing.T) {
	ix := New(DefaultThreshold)
	long := strings.Repeat("a", MaxFuzzyRunes+10)
	ix.Add(long, "saida")

	_, _, ok := ix.Match(long + "b")
	assert.False(t, ok)

	out, _, ok := ix.Match(long)
	assert.True(t, ok)
	assert.Equal(t, "saida", out)
}

func TestIndex_FirstOutputWins(t *testing.T) {
	ix := New(DefaultThreshold)
	ix.Add("texto", "primeira")
	ix.Add("texto", "segunda")
	out, _, _ := ix.Match("texto")
	assert.Equal(t, "primeira", out)
	assert.Equal(t, 1, ix.Len())
}

func TestIndex_DisabledFuzzy(t *testing.T) {
	ix := New(0)
	ix.Add("abcdefghijklmnopqrst", "x")
	_, _, ok := ix.Match("abcdefghijklmnopqrsX")
	assert.False(t, ok)
	_, _, ok = ix.Match("abcdefghijklmnopqrst")
	assert.True(t, ok)
}

func TestIndex_EmptyText(t *testing.T) {
	ix := New(DefaultThreshold)
	ix.Add("   ", "x")
	_, _, ok := ix.Match("")
	assert.False(t, ok)
	assert.Zero(t, ix.Len())
}
