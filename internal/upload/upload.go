package upload

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"photo-ingest-go/internal/logger"
)

// sniffLen is the number of leading bytes inspected to detect the content type.
const sniffLen = 3072

var (
	// ErrTypeNotAllowed is returned for content types outside the whitelist.
	ErrTypeNotAllowed = errors.New("file type not allowed, only images are accepted")

	// ErrTooLarge is returned when the upload exceeds the size limit.
	ErrTooLarge = errors.New("file too large")

	// ErrEmpty is returned for zero-byte uploads.
	ErrEmpty = errors.New("empty file")
)

// ValidationError is returned when an upload is rejected.
type ValidationError struct {
	Name        string
	ContentType string
	Err         error
}

func (e *ValidationError) Error() string {
	if e.ContentType != "" {
		return fmt.Sprintf("upload %s (%s): %v", e.Name, e.ContentType, e.Err)
	}
	return fmt.Sprintf("upload %s: %v", e.Name, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Validator checks uploads against a content type whitelist and a size limit.
type Validator struct {
	AllowedTypes []string
	MaxSize      int64
}

// IsAllowed reports whether a MIME type is on the whitelist. Parameters such as charset are ignored.
func (v Validator) IsAllowed(contentType string) bool {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	for _, t := range v.AllowedTypes {
		if t == contentType {
			return true
		}
	}
	return false
}

// Upload is a validated raw file that landed in the temporary directory.
type Upload struct {
	Path         string
	OriginalName string
	ContentType  string
	Size         int64
}

// Receiver validates incoming files and writes accepted ones to the temporary directory.
type Receiver struct {
	tempDir   string
	validator Validator
	logger    *logrus.Logger
}

// NewReceiver returns a Receiver writing into tempDir.
func NewReceiver(tempDir string, validator Validator, log *logrus.Logger) *Receiver {
	return &Receiver{tempDir: tempDir, validator: validator, logger: log}
}

// Receive validates src and copies it to a uniquely named temp file.
// The content type is checked before any file is created; a rejected upload leaves nothing behind.
func (r *Receiver) Receive(src io.Reader, originalName, declaredType string) (*Upload, error) {
	log := logger.ForFile(r.logger, originalName, "upload")

	if declaredType != "" && declaredType != "application/octet-stream" && !r.validator.IsAllowed(declaredType) {
		log.Warnf("Rejected declared content type %s", declaredType)
		return nil, &ValidationError{Name: originalName, ContentType: declaredType, Err: ErrTypeNotAllowed}
	}

	header := make([]byte, sniffLen)
	n, err := io.ReadFull(src, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, &ValidationError{Name: originalName, Err: err}
	}
	header = header[:n]
	if n == 0 {
		return nil, &ValidationError{Name: originalName, Err: ErrEmpty}
	}

	detected := mimetype.Detect(header)
	if !r.validator.IsAllowed(detected.String()) {
		log.Warnf("Rejected detected content type %s", detected.String())
		return nil, &ValidationError{Name: originalName, ContentType: detected.String(), Err: ErrTypeNotAllowed}
	}

	path := filepath.Join(r.tempDir, tempFileName(detected.Extension()))
	out, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	body := io.MultiReader(bytes.NewReader(header), src)
	written, err := io.Copy(out, io.LimitReader(body, r.validator.MaxSize+1))
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	if written > r.validator.MaxSize {
		_ = os.Remove(path)
		log.Warnf("Rejected upload over %d bytes", r.validator.MaxSize)
		return nil, &ValidationError{Name: originalName, ContentType: detected.String(), Err: ErrTooLarge}
	}

	log.WithFields(logrus.Fields{
		"temp_path":    path,
		"content_type": detected.String(),
		"size":         written,
	}).Debug("Upload accepted")

	return &Upload{
		Path:         path,
		OriginalName: originalName,
		ContentType:  detected.String(),
		Size:         written,
	}, nil
}

func tempFileName(ext string) string {
	return fmt.Sprintf("upload-%d-%s%s", time.Now().UnixNano(), uuid.NewString()[:8], ext)
}
