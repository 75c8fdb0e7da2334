package postprocess

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/valpere/tradutor/internal"
)

func TestRemoveThinkingBlocks(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		count    int
	}{
		{name: "empty string", input: "", expected: "", count: 0},
		{name: "no thinking blocks", input: "Uma tradução normal.", expected: "Uma tradução normal.", count: 0},
		{name: "simple thinking block", input: "Some text<thinking>Let me translate this</thinking>More text", expected: "Some textMore text", count: 1},
		{name: "think block", input: "<think>hmm</think>Olá", expected: "Olá", count: 1},
		{name: "analysis block", input: "A<analysis>x</analysis>B", expected: "AB", count: 1},
		{name: "multiple blocks", input: "<thinking>First</thinking>middle<reasoning>Second</reasoning>", expected: "middle", count: 2},
		{name: "truncated block", input: "Before<thinking>Incomplete", expected: "Before", count: 1},
		{name: "stray closing tag", input: "Texto</think>", expected: "Texto", count: 1},
		{name: "case insensitive", input: "<THINK>x</THINK>ok", expected: "ok", count: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, n := removeThinkingBlocks(tt.input)
			assert.Equal(t, tt.expected, got)
			assert.Equal(t, tt.count, n)
		})
	}
}

func TestSanitize_Delimiters(t *testing.T) {
	tests := []struct {
		name      string
		stage     internal.Stage
		input     string
		expected  string
		truncated bool
	}{
		{
			name:     "translation markers",
			stage:    internal.StageTranslate,
			input:    "Claro!\n### TEXTO_TRADUZIDO_INICIO\nOlá mundo.\n### TEXTO_TRADUZIDO_FIM\nEspero ter ajudado.",
			expected: "Olá mundo.",
		},
		{
			name:     "refinement markers",
			stage:    internal.StageRefine,
			input:    "### TEXTO_REFINADO_INICIO\nTexto polido.\n### TEXTO_REFINADO_FIM",
			expected: "Texto polido.",
		},
		{
			name:      "truncated output keeps text after begin marker",
			stage:     internal.StageRefine,
			input:     "### TEXTO_REFINADO_INICIO\nTexto cortado",
			expected:  "Texto cortado",
			truncated: true,
		},
		{
			name:     "stray end marker removed",
			stage:    internal.StageTranslate,
			input:    "Olá mundo.\n### TEXTO_TRADUZIDO_FIM",
			expected: "Olá mundo.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, rep := Sanitize(tt.input, "", tt.stage)
			assert.Equal(t, tt.expected, got)
			assert.Positive(t, rep.Delimiters)
			assert.Equal(t, tt.truncated, rep.Truncated)
		})
	}
}

func TestSanitize_InstructionEchoes(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"english preamble", "Here is the translation: Olá.", "Olá."},
		{"sure preamble", "Sure, here is the translation:\nOlá.", "Olá."},
		{"portuguese label", "Texto refinado:\nO texto final.", "O texto final."},
		{"context label echoed", "CONTEXT (DO NOT TRANSLATE OR REWRITE):\n\"previous words\"\nOlá.", "Olá."},
		{"input label echoed", "TEXTO A SER TRADUZIDO:\nOlá.", "Olá."},
		{"glossary block echoed", "===GLOSSARIO_SUGERIDO_INICIO===\nwand -> varinha\n===GLOSSARIO_SUGERIDO_FIM===\nOlá.", "Olá."},
		{"legitimate colon kept", "Tradução livre de um poema: versos.", "Tradução livre de um poema: versos."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := Sanitize(tt.input, "", internal.StageTranslate)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestSanitize_MetaCommentary(t *testing.T) {
	in := "Olá mundo.\nComo um modelo de linguagem, não posso opinar.\nAs an AI language model, I tried my best.\nTchau."
	got, rep := Sanitize(in, "", internal.StageRefine)
	assert.Equal(t, "Olá mundo.\nTchau.", got)
	assert.Equal(t, 2, rep.MetaLines)
}

func TestSanitize_DialogueIsNotMeta(t *testing.T) {
	in := "— Desculpe, não posso ir — disse ela."
	got, rep := Sanitize(in, "", internal.StageTranslate)
	assert.Equal(t, in, got)
	assert.Zero(t, rep.Total())
}

func TestRemoveQuoteWrapping(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		source   string
		expected string
	}{
		{"double quotes", `"Olá mundo."`, "Hello world.", "Olá mundo."},
		{"guillemets", "«Olá mundo.»", "Hello world.", "Olá mundo."},
		{"curly quotes", "“Olá mundo.”", "Hello world.", "Olá mundo."},
		{"inner quotes kept", `"A" e "B"`, "A and B", `"A" e "B"`},
		{"mismatched kept", `"Olá mundo.'`, "Hello world.", `"Olá mundo.'`},
		{"single char", `"`, "", `"`},
		{"quoted dialogue source keeps quotes", `"Vamos embora."`, `"Let's go."`, `"Vamos embora."`},
		{"curly dialogue source keeps quotes", "“Vamos embora.”", "  “Let's go.”\n", "“Vamos embora.”"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := removeQuoteWrapping(tt.input, tt.source)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestSanitize_QuotedDialogueUnit(t *testing.T) {
	got, rep := Sanitize(`"Quem está aí?"`, `"Who goes there?"`, internal.StageTranslate)
	assert.Equal(t, `"Quem está aí?"`, got)
	assert.Zero(t, rep.QuoteWrapping)
}

func TestSanitize_DuplicateParagraphRefineOnly(t *testing.T) {
	in := "Ele riu.\n\nEle riu.\n\nDepois saiu."

	got, rep := Sanitize(in, "", internal.StageRefine)
	assert.Equal(t, "Ele riu.\n\nDepois saiu.", got)
	assert.Equal(t, 1, rep.DuplicateParagraphs)
	assert.Zero(t, rep.RepeatedBlocks)

	got, rep = Sanitize(in, "", internal.StageTranslate)
	assert.Equal(t, in, got)
	assert.Zero(t, rep.DuplicateParagraphs)
}

func TestSanitize_TruncatedReport(t *testing.T) {
	_, rep := Sanitize("### TEXTO_TRADUZIDO_INICIO\nO mago ergueu a", "The wizard raised the wand.", internal.StageTranslate)
	assert.True(t, rep.Truncated)
	assert.Equal(t, 1, rep.Map()["truncated"])

	_, rep = Sanitize("### TEXTO_TRADUZIDO_INICIO\nO mago.\n### TEXTO_TRADUZIDO_FIM", "The wizard.", internal.StageTranslate)
	assert.False(t, rep.Truncated)
}

func TestSanitize_RepeatedSentence(t *testing.T) {
	s := "Esta é uma frase longa que se repete várias vezes no texto. "
	got, rep := Sanitize(strings.Repeat(s, 3)+"Fim.", "", internal.StageTranslate)
	assert.Equal(t, s+"Fim.", got)
	assert.Equal(t, 2, rep.RepeatedBlocks)
}

func TestSanitize_RepeatedMultiSentenceBlock(t *testing.T) {
	a := "Primeira frase do bloco repetido aqui. "
	b := "Segunda frase fecha o bloco. "
	got, rep := Sanitize(a+b+a+b, "", internal.StageTranslate)
	assert.Equal(t, strings.TrimSpace(a+b), got)
	assert.Equal(t, 1, rep.RepeatedBlocks)
}

func TestSanitize_RepeatedParagraph(t *testing.T) {
	p := "Um parágrafo inteiro que o modelo resolveu repetir sem motivo algum."
	got, rep := Sanitize(p+"\n\n"+p, "", internal.StageRefine)
	assert.Equal(t, p, got)
	assert.Equal(t, 1, rep.RepeatedBlocks)
}

func TestSanitize_ShortDialogueRepeatExempt(t *testing.T) {
	in := "Não! Não! Não!"
	got, rep := Sanitize(in, "", internal.StageTranslate)
	assert.Equal(t, in, got)
	assert.Zero(t, rep.RepeatedBlocks)
}

func TestSanitize_CleanTextUntouched(t *testing.T) {
	in := "O menino correu até a porta.\n\nEla sorriu. \"Entre\", disse."
	got, rep := Sanitize(in, "", internal.StageTranslate)
	assert.Equal(t, in, got)
	assert.Nil(t, rep.Map())
}

func TestSanitize_Combined(t *testing.T) {
	in := "<think>planning</think>Here is the translation:\n### TEXTO_TRADUZIDO_INICIO\n\"Olá mundo.\"\n### TEXTO_TRADUZIDO_FIM"
	got, rep := Sanitize(in, "", internal.StageTranslate)
	assert.Equal(t, "Olá mundo.", got)
	m := rep.Map()
	assert.Equal(t, 1, m["think_blocks"])
	assert.Equal(t, 2, m["delimiters"])
	assert.Equal(t, 1, m["quote_wrapping"])
}

func TestSegments_Lossless(t *testing.T) {
	for _, in := range []string{
		"",
		"Uma frase. Outra frase!\nLinha nova… \"Citação.\" Fim",
		"sem pontuação nenhuma",
		"A.\n\n\nB?",
	} {
		assert.Equal(t, in, strings.Join(segments(in), ""))
	}
}
