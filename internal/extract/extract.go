// Package extract reads the source text of a document: plain text from a
// PDF, or a Markdown/text file as-is.
package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/valpere/tradutor/internal/preprocess"
)

var (
	ErrUnsupported = errors.New("unsupported input format")
	// ErrNoText means the PDF has no extractable text layer (scanned pages).
	ErrNoText = errors.New("PDF contains no extractable text")
)

const (
	KindPDF      = "pdf"
	KindMarkdown = "markdown"
)

// Kind classifies an input path by extension.
func Kind(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return KindPDF
	case ".md", ".markdown", ".txt":
		return KindMarkdown
	}
	return ""
}

// Text returns the document text of path.
func Text(path string) (string, error) {
	text, _, err := Document(path)
	return text, err
}

// Document returns the document text of path along with what preprocessing
// removed. Markdown is returned as-is; PDF text goes through preprocess.Clean.
func Document(path string) (string, preprocess.Report, error) {
	switch Kind(path) {
	case KindPDF:
		return PDFText(path)
	case KindMarkdown:
		data, err := os.ReadFile(path)
		if err != nil {
			return "", preprocess.Report{}, fmt.Errorf("failed to read %s: %w", path, err)
		}
		return string(data), preprocess.Report{}, nil
	}
	return "", preprocess.Report{}, fmt.Errorf("%w: %s", ErrUnsupported, filepath.Ext(path))
}

// PDFText extracts the plain text of every page and cleans it into
// paragraphs. Pages are joined by a single newline so that a paragraph
// broken across pages is reflowed back together.
func PDFText(path string) (string, preprocess.Report, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", preprocess.Report{}, fmt.Errorf("failed to open PDF %s: %w", path, err)
	}
	defer f.Close()

	var pages []string
	for n := 1; n <= r.NumPage(); n++ {
		page := r.Page(n)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return "", preprocess.Report{}, fmt.Errorf("failed to extract page %d: %w", n, err)
		}
		content = strings.TrimSpace(strings.ReplaceAll(content, "\r\n", "\n"))
		if content != "" {
			pages = append(pages, content)
		}
	}

	text, rep := preprocess.Clean(strings.Join(pages, "\n"))
	if strings.IndexFunc(text, func(r rune) bool { return !unicode.IsSpace(r) }) < 0 {
		return "", rep, fmt.Errorf("%w: %s", ErrNoText, path)
	}
	return text, rep, nil
}

// PageCount returns the number of pages of a PDF.
func PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to count pages of %s: %w", path, err)
	}
	return n, nil
}
