// Package documents reads uploaded report files and extracts their text.
package documents

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/smartqrhealth/backend/internal/domain/providers"
)

// LocalStore resolves report file references against an uploads directory
type LocalStore struct {
	root string
}

var _ providers.DocumentStore = (*LocalStore)(nil)

// NewLocalStore creates a store rooted at uploadsDir
func NewLocalStore(uploadsDir string) *LocalStore {
	return &LocalStore{root: uploadsDir}
}

// Open reads the file behind a report file reference such as
// "/uploads/reports/abc.pdf" or "reports/abc.pdf".
func (s *LocalStore) Open(ctx context.Context, fileURL string) (*providers.StoredDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	full, err := s.resolve(fileURL)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", providers.ErrDocumentNotFound, fileURL)
		}
		return nil, fmt.Errorf("failed to read report file: %w", err)
	}

	return &providers.StoredDocument{
		Path:     full,
		Name:     filepath.Base(full),
		MimeType: DetectMimeType(full, data),
		Data:     data,
	}, nil
}

func (s *LocalStore) resolve(fileURL string) (string, error) {
	ref := strings.TrimSpace(strings.ReplaceAll(fileURL, "\\", "/"))
	if ref == "" {
		return "", fmt.Errorf("%w: empty file reference", providers.ErrDocumentNotFound)
	}

	// Everything is cleaned as rooted so ".." cannot climb above the uploads dir.
	cleaned := path.Clean("/" + ref)
	cleaned = strings.TrimPrefix(cleaned, "/")
	cleaned = strings.TrimPrefix(cleaned, "uploads/")
	if cleaned == "" || cleaned == "uploads" {
		return "", fmt.Errorf("%w: %s", providers.ErrDocumentNotFound, fileURL)
	}

	return filepath.Join(s.root, filepath.FromSlash(cleaned)), nil
}

// DetectMimeType prefers the file extension and falls back to content sniffing.
func DetectMimeType(name string, data []byte) string {
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); byExt != "" {
		if i := strings.Index(byExt, ";"); i >= 0 {
			byExt = byExt[:i]
		}
		return byExt
	}
	if len(data) == 0 {
		return "application/octet-stream"
	}
	sniffed := http.DetectContentType(data)
	if i := strings.Index(sniffed, ";"); i >= 0 {
		sniffed = sniffed[:i]
	}
	return sniffed
}
