package processor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PageSeparator joins the text of consecutive pages.
const PageSeparator = "\n"

// ErrParse is returned when the input cannot be opened or read as a PDF.
// The underlying library error is kept in the chain.
var ErrParse = errors.New("pdf parse error")

// LedongthucExtractor implements PDFExtractor using github.com/ledongthuc/pdf
type LedongthucExtractor struct{}

// NewLedongthucExtractor creates a new instance of LedongthucExtractor
func NewLedongthucExtractor() *LedongthucExtractor {
	return &LedongthucExtractor{}
}

// ExtractFromBytes extracts the text of every page, in page order, joined by
// PageSeparator. Pages without content contribute an empty string.
func (e *LedongthucExtractor) ExtractFromBytes(data []byte) (string, error) {
	doc, err := e.ExtractDocument(data)
	if err != nil {
		return "", err
	}
	return doc.Text, nil
}

// ExtractDocument is ExtractFromBytes that also reports the page count.
func (e *LedongthucExtractor) ExtractDocument(data []byte) (Document, error) {
	r, err := openReader(data)
	if err != nil {
		return Document{}, err
	}
	text, err := e.extractText(r)
	if err != nil {
		return Document{}, err
	}
	return Document{Text: text, Pages: r.NumPage()}, nil
}

// ExtractFromReader extracts text from an io.Reader
func (e *LedongthucExtractor) ExtractFromReader(reader io.Reader) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("failed to read PDF: %w", err)
	}
	return e.ExtractFromBytes(data)
}

// ExtractFromFile extracts text from a PDF file path
func (e *LedongthucExtractor) ExtractFromFile(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF file: %w", err)
	}
	return e.ExtractFromBytes(data)
}

// openReader opens data as a PDF. The library panics on some malformed
// inputs, so panics are turned into ErrParse as well.
func openReader(data []byte) (r *pdf.Reader, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r = nil
			err = fmt.Errorf("%w: %v", ErrParse, rec)
		}
	}()

	r, err = pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	return r, nil
}

// extractText extracts text from a PDF reader
func (e *LedongthucExtractor) extractText(r *pdf.Reader) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			text = ""
			err = fmt.Errorf("%w: %v", ErrParse, rec)
		}
	}()

	total := r.NumPage()
	pages := make([]string, 0, total)

	for i := 1; i <= total; i++ {
		page := r.Page(i)
		if page.V.IsNull() || page.V.Key("Contents").IsNull() {
			pages = append(pages, "")
			continue
		}

		// font resource names are scoped to the page
		content, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("%w: page %d: %w", ErrParse, i, err)
		}
		pages = append(pages, content)
	}

	return strings.Join(pages, PageSeparator), nil
}
