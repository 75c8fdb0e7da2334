package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valpere/tradutor/internal"
	"github.com/valpere/tradutor/internal/config"
)

func TestDocStem(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"livros/Book.pdf", "Book"},
		{"saida/Book_pt.md", "Book"},
		{"saida/Book_pt_refinado.md", "Book"},
		{"notes.txt", "notes"},
		{"paper.v2.md", "paper.v2"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, docStem(tt.path))
		})
	}
}

func TestStagePaths(t *testing.T) {
	appConfig = &config.Config{OutputDir: "saida"}
	t.Cleanup(func() { appConfig = nil })

	assert.Equal(t, filepath.Join("saida", "Book_pt.md"), stageOutputPath("Book", internal.StageTranslate))
	assert.Equal(t, filepath.Join("saida", "Book_pt_refinado.md"), stageOutputPath("Book", internal.StageRefine))
	assert.Equal(t, filepath.Join("saida", "Book_refine_report.json"), reportPath("Book", internal.StageRefine))
}

func TestWriteOutputHTML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "Book_pt.md")

	require.NoError(t, writeOutput(path, "## Capítulo 1\n\nOlá.\n", "Book", true))

	md, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "## Capítulo 1\n\nOlá.\n", string(md))

	html, err := os.ReadFile(filepath.Join(dir, "sub", "Book_pt.html"))
	require.NoError(t, err)
	assert.Contains(t, string(html), "<title>Book</title>")
	assert.Contains(t, string(html), "<p>Olá.</p>")
}

func TestLoadGlossaryFiles(t *testing.T) {
	appConfig = &config.Config{Glossary: config.GlossaryConfig{Limit: 30, FallbackLimit: 10}}
	t.Cleanup(func() { appConfig = nil })

	path := filepath.Join(t.TempDir(), "glossary.yaml")
	require.NoError(t, os.WriteFile(path, []byte("terms:\n  - key: wand\n    pt: varinha\n    enforce: true\n"), 0o644))

	gl, err := loadGlossary(t.Context(), nil, []string{path})
	require.NoError(t, err)
	require.NotNil(t, gl)
	assert.Equal(t, 1, gl.Len())

	gl, err = loadGlossary(t.Context(), nil, nil)
	require.NoError(t, err)
	assert.Nil(t, gl)
}

func TestStageModel(t *testing.T) {
	opts := stageOptions{model: "translator-large"}
	assert.Equal(t, "translator-large", opts.stageModel(internal.StageTranslate))
	assert.Empty(t, opts.stageModel(internal.StageRefine), "--model must not leak into the refine stage")

	opts.refineModel = "refiner-small"
	assert.Equal(t, "translator-large", opts.stageModel(internal.StageTranslate))
	assert.Equal(t, "refiner-small", opts.stageModel(internal.StageRefine))
}

func TestLoadDocument_Markdown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Book_pt.md")
	require.NoError(t, os.WriteFile(path, []byte("## Um\n\nTexto.\n"), 0o644))

	got, err := loadDocument(path)
	require.NoError(t, err)
	assert.Equal(t, "## Um\n\nTexto.\n", got)
}
