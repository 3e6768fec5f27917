// Package media stages attachments for sending. Staging validates a file
// against the configured size and type limits, uploads it, and holds the
// returned stable reference until the next send consumes it.
package media

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/caioqm/deskchat/internal/backend"
	"github.com/caioqm/deskchat/internal/store"
)

// ErrorKind classifies a staging failure.
type ErrorKind string

const (
	ErrTooLarge     ErrorKind = "too_large"
	ErrInvalidType  ErrorKind = "invalid_type"
	ErrUploadFailed ErrorKind = "upload_failed"
)

// StagingError reports why a file could not be staged. The file name is the
// base name, good enough to surface to the user.
type StagingError struct {
	Kind ErrorKind
	Name string
	Err  error
}

func (e *StagingError) Error() string {
	return fmt.Sprintf("staging %s: %s: %v", e.Name, e.Kind, e.Err)
}

func (e *StagingError) Unwrap() error { return e.Err }

// Uploader is the backend surface the stager needs.
type Uploader interface {
	UploadAttachment(ctx context.Context, name, mimeType string, r io.Reader) (*backend.UploadResponse, error)
}

// Limits are the validation bounds for staged files.
type Limits struct {
	MaxSizeBytes int64
	// AllowedTypes are exact MIME types or prefix wildcards like "image/*".
	// Empty means everything is allowed.
	AllowedTypes []string
}

// Stager validates and uploads files, accumulating stable references until
// a send takes them.
type Stager struct {
	api    Uploader
	limits Limits
	logger *zap.Logger

	mu     sync.Mutex
	staged []store.Attachment
}

func NewStager(api Uploader, limits Limits, logger *zap.Logger) *Stager {
	return &Stager{api: api, limits: limits, logger: logger.Named("media")}
}

// Stage validates the file at path, uploads it and appends the returned
// reference to the staged set. A failed validation leaves the staged set
// untouched.
func (s *Stager) Stage(ctx context.Context, path string) (*store.Attachment, error) {
	name := filepath.Base(path)

	info, err := os.Stat(path)
	if err != nil {
		return nil, &StagingError{Kind: ErrUploadFailed, Name: name, Err: err}
	}
	if s.limits.MaxSizeBytes > 0 && info.Size() > s.limits.MaxSizeBytes {
		return nil, &StagingError{Kind: ErrTooLarge, Name: name,
			Err: fmt.Errorf("%d bytes exceeds limit of %d", info.Size(), s.limits.MaxSizeBytes)}
	}

	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if !typeAllowed(mimeType, s.limits.AllowedTypes) {
		return nil, &StagingError{Kind: ErrInvalidType, Name: name,
			Err: fmt.Errorf("type %s is not allowed", mimeType)}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, &StagingError{Kind: ErrUploadFailed, Name: name, Err: err}
	}
	defer f.Close()

	resp, err := s.api.UploadAttachment(ctx, name, mimeType, f)
	if err != nil {
		return nil, &StagingError{Kind: ErrUploadFailed, Name: name, Err: err}
	}

	att := store.Attachment{Name: resp.FileName, URL: resp.StorageURL, MimeType: resp.FileType}
	s.mu.Lock()
	s.staged = append(s.staged, att)
	s.mu.Unlock()
	s.logger.Info("attachment staged",
		zap.String("name", att.Name),
		zap.String("type", att.MimeType))
	return &att, nil
}

// Staged returns a copy of the currently staged references.
func (s *Stager) Staged() []store.Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.Attachment(nil), s.staged...)
}

// Take returns the staged references and clears the set. The next send
// consumes exactly the refs staged before it.
func (s *Stager) Take() []store.Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.staged
	s.staged = nil
	return out
}

// Discard drops all staged references without sending them.
func (s *Stager) Discard() {
	s.mu.Lock()
	s.staged = nil
	s.mu.Unlock()
}

func typeAllowed(mimeType string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if prefix, ok := strings.CutSuffix(a, "/*"); ok {
			if strings.HasPrefix(mimeType, prefix+"/") {
				return true
			}
			continue
		}
		if mimeType == a {
			return true
		}
	}
	return false
}
