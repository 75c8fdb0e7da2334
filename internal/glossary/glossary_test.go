package glossary

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTerms() []Term {
	return []Term{
		{Source: "wand", Target: "varinha", Enforce: true},
		{Source: "Muggle", Target: "Trouxa", Aliases: []string{"Muggles"}},
		{Source: "Hogwarts", Target: "Hogwarts", Enforce: true},
		{Source: "Quidditch", Target: "Quadribol"},
	}
}

func TestLoadFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "glossario.yaml")
	content := `terms:
  - key: wand
    pt: varinha
    enforce: true
  - key: Muggle
    pt: Trouxa
    aliases: [Muggles]
    category: termo
  - key: ""
    pt: ignorado
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	terms, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, terms, 2)
	assert.Equal(t, Term{Source: "wand", Target: "varinha", Enforce: true}, terms[0])
	assert.Equal(t, []string{"Muggles"}, terms[1].Aliases)
	assert.Equal(t, "termo", terms[1].Category)
}

func TestLoadFile_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "glossario.json")
	content := `{"terms": [{"key": "wand", "pt": "varinha", "enforce": true}, {"key": "owl", "pt": "coruja"}]}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	terms, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, terms, 2)
	assert.True(t, terms[0].Enforce)
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("terms: [unclosed"), 0o644))
	_, err = LoadFile(path)
	assert.Error(t, err)
}

func TestNew_LaterTermOverrides(t *testing.T) {
	g := New([]Term{
		{Source: "wand", Target: "bastão"},
		{Source: "Wand", Target: "varinha", Enforce: true},
	}, 10, 5)
	require.Equal(t, 1, g.Len())
	assert.Equal(t, "varinha", g.Terms()[0].Target)
}

func TestLookup_MatchesWholeWords(t *testing.T) {
	g := New(sampleTerms(), 10, 2)

	got := g.Lookup("The Muggles saw a wand near the wall.")
	assert.Equal(t, []string{"wand=varinha", "Muggle=Trouxa"}, Pairs(got))

	// "wander" must not match "wand".
	got = g.Lookup("They wander through Hogwarts.")
	assert.Equal(t, []string{"Hogwarts=Hogwarts"}, Pairs(got))
}

func TestLookup_Limit(t *testing.T) {
	g := New(sampleTerms(), 1, 2)
	got := g.Lookup("wand, Hogwarts and Quidditch")
	assert.Len(t, got, 1)
}

func TestLookup_FallbackWhenNothingMatches(t *testing.T) {
	g := New(sampleTerms(), 10, 2)
	got := g.Lookup("Nothing relevant here.")
	// Enforced terms come first, alphabetically.
	assert.Equal(t, []string{"Hogwarts=Hogwarts", "wand=varinha"}, Pairs(got))

	assert.Nil(t, New(sampleTerms(), 10, 0).Lookup("Nothing relevant here."))
}

func TestLookup_NilGlossary(t *testing.T) {
	var g *Glossary
	assert.Nil(t, g.Lookup("wand"))
	assert.Zero(t, g.Len())
	out, n := g.Enforce("wand", "wand")
	assert.Equal(t, "wand", out)
	assert.Zero(t, n)
}

func TestEnforce(t *testing.T) {
	g := New(sampleTerms(), 10, 2)

	tests := []struct {
		name   string
		source string
		output string
		want   string
		count  int
	}{
		{
			name:   "surviving source term replaced",
			source: "He raised his wand.",
			output: "Ele ergueu sua wand.",
			want:   "Ele ergueu sua varinha.",
			count:  1,
		},
		{
			name:   "case insensitive",
			source: "The Wand chooses.",
			output: "A Wand escolhe.",
			want:   "A varinha escolhe.",
			count:  1,
		},
		{
			name:   "term absent from source is left alone",
			source: "He raised his hand.",
			output: "Ele ergueu a wand.",
			want:   "Ele ergueu a wand.",
			count:  0,
		},
		{
			name:   "non-enforced term untouched",
			source: "A Muggle came.",
			output: "Um Muggle veio.",
			want:   "Um Muggle veio.",
			count:  0,
		},
		{
			name:   "identity term is a no-op",
			source: "Welcome to Hogwarts.",
			output: "Bem-vindo a Hogwarts.",
			want:   "Bem-vindo a Hogwarts.",
			count:  0,
		},
		{
			name:   "partial words untouched",
			source: "His wand broke.",
			output: "Sua varinha quebrou; wanderlust.",
			want:   "Sua varinha quebrou; wanderlust.",
			count:  0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, n := g.Enforce(tt.source, tt.output)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.count, n)
		})
	}
}

func TestFormat(t *testing.T) {
	assert.Empty(t, Format(nil))
	got := Format([]Term{
		{Source: "wand", Target: "varinha"},
		{Source: "Muggle", Target: "Trouxa", Category: "termo", Notes: "pessoa sem magia"},
	})
	assert.Equal(t, "GLOSSÁRIO CANÔNICO (use SEMPRE estas traduções):\n- wand -> varinha\n- Muggle -> Trouxa (termo) | pessoa sem magia", got)
}
