package extract

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestText_Markdown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "livro.md")
	require.NoError(t, os.WriteFile(path, []byte("# Title\n\nBody.\n"), 0o644))

	got, err := Text(path)
	require.NoError(t, err)
	assert.Equal(t, "# Title\n\nBody.\n", got)
}

func TestText_Unsupported(t *testing.T) {
	_, err := Text("livro.epub")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestText_BrokenPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.pdf")
	require.NoError(t, os.WriteFile(path, []byte("not a pdf"), 0o644))

	_, err := Text(path)
	assert.Error(t, err)
	_, err = PageCount(path)
	assert.Error(t, err)
}

func TestKind(t *testing.T) {
	assert.Equal(t, "pdf", Kind("a/B.PDF"))
	assert.Equal(t, "markdown", Kind("notes.markdown"))
	assert.Equal(t, "markdown", Kind("notes.txt"))
	assert.Equal(t, "", Kind("notes.docx"))
}

func TestDocument_MarkdownSkipsPreprocessing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "livro.md")
	require.NoError(t, os.WriteFile(path, []byte("Title\n12\nBody.\n"), 0o644))

	got, rep, err := Document(path)
	require.NoError(t, err)
	assert.Equal(t, "Title\n12\nBody.\n", got)
	assert.Empty(t, rep.Map())
}
