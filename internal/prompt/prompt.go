// Package prompt renders the per-unit LLM prompts of both stages.
package prompt

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/valpere/tradutor/internal"
	"github.com/valpere/tradutor/internal/placeholder"
	"github.com/valpere/tradutor/internal/postprocess"
)

// TemplateVersion is folded into cache keys; bump it whenever a template
// changes so stale outputs are not served.
const TemplateVersion = "tradutor-prompts-3"

// Request carries everything a template needs for one unit.
type Request struct {
	Stage internal.Stage
	// Text is the unit text, already placeholder-protected.
	Text string
	// Context is read-only continuity text from the previous unit.
	Context string
	// Glossary is a pre-formatted glossary block.
	Glossary string
	// Placeholders adds the [PHn] preservation hint.
	Placeholders bool
}

// Builder turns a Request into a prompt string.
type Builder interface {
	Build(r Request) string
}

// Func adapts a plain function to Builder.
type Func func(r Request) string

func (f Func) Build(r Request) string { return f(r) }

// Templates is the default Builder.
type Templates struct {
	source string
	target string
}

// New returns templates for the given source and target languages.
func New(source, target language.Tag) *Templates {
	namer := display.English.Languages()
	return &Templates{
		source: strings.ToUpper(namer.Name(source)),
		target: strings.ToUpper(namer.Name(target)),
	}
}

// Default returns English → Brazilian Portuguese templates.
func Default() *Templates {
	return New(language.English, language.BrazilianPortuguese)
}

func (t *Templates) Build(r Request) string {
	if r.Stage == internal.StageRefine {
		return t.refine(r)
	}
	return t.translate(r)
}

func (t *Templates) translate(r Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a professional translator. Translate the text from %s to %s.\n\n", t.source, t.target)
	b.WriteString("Do not summarize. Do not add explanations, comments, or glossaries.\n")
	b.WriteString("Do not invent new sentences or events. Do not skip any part of the original text.\n")
	b.WriteString("Do not replace content with \"...\". Preserve paragraph breaks as much as possible.\n")
	b.WriteString("Keep names and proper nouns as is unless a clear translation is standard.\n\n")
	b.WriteString("Não resuma o texto. Não acrescente comentários ou glossário.\n")
	b.WriteString("Não omita frases. Não use \"...\" para pular partes do conteúdo.\n")
	b.WriteString("Preserve a ordem e o conteúdo de todas as frases.\n")
	if r.Placeholders {
		b.WriteString(placeholder.InstructionHint() + "\n")
	}
	b.WriteString("\nYour response must be EXACTLY in this format and nothing else:\n")
	fmt.Fprintf(&b, "%s\n<tradução para PT-BR>\n%s\n\n", postprocess.TranslateBegin, postprocess.TranslateEnd)

	if r.Glossary != "" {
		b.WriteString("VOCÊ DEVE SEGUIR EXATAMENTE AS TRADUÇÕES OFICIAIS DO GLOSSÁRIO ABAIXO.\n")
		b.WriteString("NÃO CRIE OUTRAS VERSÕES. NÃO ALTERE NOMES PRÓPRIOS. NÃO ADICIONE EXPLICAÇÕES.\n")
		b.WriteString(r.Glossary + "\n\n")
	}
	if ctx := strings.TrimSpace(r.Context); ctx != "" {
		fmt.Fprintf(&b, "CONTEXT (DO NOT TRANSLATE OR REWRITE):\n%q\n\n", ctx)
	}
	fmt.Fprintf(&b, "TEXTO A SER TRADUZIDO:\n\"\"\"%s\"\"\"", r.Text)
	return b.String()
}

func (t *Templates) refine(r Request) string {
	var b strings.Builder
	b.WriteString("Você atuará como um POLIDOR MINIMALISTA.\n\n")
	b.WriteString("Reescreva o texto abaixo sem alterar fatos, ordem, diálogos ou conteúdo narrativo.\n")
	b.WriteString("Corrija apenas pequenos erros de digitação e vírgulas, e resolva artefatos de OCR/PDF.\n")
	b.WriteString("NÃO resuma. NÃO expanda. NÃO interprete. NÃO remova ideias. NÃO adicione nada.\n")
	b.WriteString("NÃO envolva a saída em molduras ou comentários. NÃO inclua glossários.\n")
	b.WriteString("NÃO use \"...\" para representar conteúdo omitido. NÃO mude o idioma.\n")
	b.WriteString("Preserve todos os parágrafos, falas e informações.\n")
	if r.Placeholders {
		b.WriteString(placeholder.InstructionHint() + "\n")
	}
	b.WriteString("\nFormate sua resposta EXATAMENTE assim e nada mais:\n")
	fmt.Fprintf(&b, "%s\n<texto refinado>\n%s\n\n", postprocess.RefineBegin, postprocess.RefineEnd)

	if r.Glossary != "" {
		b.WriteString("Mantenha a terminologia do glossário:\n")
		b.WriteString(r.Glossary + "\n\n")
	}
	if ctx := strings.TrimSpace(r.Context); ctx != "" {
		fmt.Fprintf(&b, "CONTEXT (DO NOT TRANSLATE OR REWRITE):\n%q\n\n", ctx)
	}
	fmt.Fprintf(&b, "Texto para revisão (PT-BR):\n\"\"\"%s\"\"\"", r.Text)
	return b.String()
}
