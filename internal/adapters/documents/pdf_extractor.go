package documents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/smartqrhealth/backend/internal/domain/providers"
)

// PDFExtractor extracts plain text from PDF bytes
type PDFExtractor struct{}

var _ providers.TextExtractor = PDFExtractor{}

// NewPDFExtractor creates a PDF text extractor
func NewPDFExtractor() PDFExtractor {
	return PDFExtractor{}
}

// ExtractText returns the document's text with surrounding whitespace trimmed.
// A PDF without a text layer yields an empty string and no error.
func (PDFExtractor) ExtractText(ctx context.Context, data []byte) (text string, err error) {
	if len(data) == 0 {
		return "", errors.New("empty pdf document")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("failed to parse pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("failed to extract pdf text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("failed to read pdf text: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}
