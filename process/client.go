package processor

import "io"

// Document is the text of a PDF together with its page count.
type Document struct {
	Text  string
	Pages int
}

// PDFExtractor defines the interface for PDF text extraction
type PDFExtractor interface {
	// ExtractDocument extracts text and page count from an in-memory PDF
	ExtractDocument(data []byte) (Document, error)

	// ExtractFromBytes extracts text from an in-memory PDF
	ExtractFromBytes(data []byte) (string, error)

	// ExtractFromReader extracts text from an io.Reader
	ExtractFromReader(reader io.Reader) (string, error)

	// ExtractFromFile extracts text from a PDF file path
	ExtractFromFile(filePath string) (string, error)
}

// Client wraps the PDFExtractor interface for easy swapping of implementations
type Client struct {
	extractor PDFExtractor
}

// NewClient creates a new PDF processor client with the given extractor implementation
func NewClient(extractor PDFExtractor) *Client {
	return &Client{
		extractor: extractor,
	}
}

// ExtractText extracts text from PDF bytes
func (c *Client) ExtractText(data []byte) (string, error) {
	return c.extractor.ExtractFromBytes(data)
}

// ExtractDocument extracts text and page count, parsing the PDF once
func (c *Client) ExtractDocument(data []byte) (Document, error) {
	return c.extractor.ExtractDocument(data)
}

// ExtractTextFromFile extracts text from a PDF file
func (c *Client) ExtractTextFromFile(filePath string) (string, error) {
	return c.extractor.ExtractFromFile(filePath)
}

// ExtractText extracts text from PDF bytes with the default extractor.
func ExtractText(data []byte) (string, error) {
	return NewLedongthucExtractor().ExtractFromBytes(data)
}
