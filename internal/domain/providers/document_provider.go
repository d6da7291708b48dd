package providers

import (
	"context"
	"errors"
)

// ErrDocumentNotFound is returned when a report file reference cannot be resolved.
var ErrDocumentNotFound = errors.New("report file not found")

// StoredDocument is a report file read from storage
type StoredDocument struct {
	Path     string
	Name     string
	MimeType string
	Data     []byte
}

// DocumentStore resolves report file references to their bytes
type DocumentStore interface {
	Open(ctx context.Context, fileURL string) (*StoredDocument, error)
}

// TextExtractor extracts plain text from a document
type TextExtractor interface {
	ExtractText(ctx context.Context, data []byte) (string, error)
}
