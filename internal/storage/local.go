package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"photo-ingest-go/internal/logger"
)

// LocalBackend stores files under a served static directory.
type LocalBackend struct {
	root      string
	urlPrefix string
	logger    *logrus.Logger
}

// NewLocalBackend creates a local backend rooted at root. References are
// "<urlPrefix>/<folder>/<name>", or "<folder>/<name>" when urlPrefix is empty.
func NewLocalBackend(root, urlPrefix string, log *logrus.Logger) (*LocalBackend, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &LocalBackend{
		root:      filepath.Clean(root),
		urlPrefix: strings.TrimSuffix(urlPrefix, "/"),
		logger:    log,
	}, nil
}

// Name returns "local".
func (b *LocalBackend) Name() string { return "local" }

// Root returns the directory files are stored under.
func (b *LocalBackend) Root() string { return b.root }

// Store moves the file into <root>/<folder>/ and returns its relative reference.
func (b *LocalBackend) Store(ctx context.Context, file File, folder string) (string, error) {
	name := file.Name
	if name == "" {
		name = filepath.Base(file.Path)
	}
	rel := path.Join(cleanFolder(folder), name)

	dest, err := b.resolve(rel)
	if err != nil {
		return "", &StorageError{Backend: b.Name(), Op: "store", Ref: rel, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return "", &StorageError{Backend: b.Name(), Op: "store", Ref: rel, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", &StorageError{Backend: b.Name(), Op: "store", Ref: rel, Err: err}
	}

	if filepath.Clean(file.Path) != dest {
		if err := moveFile(file.Path, dest); err != nil {
			return "", &StorageError{Backend: b.Name(), Op: "store", Ref: rel, Err: err}
		}
	}

	ref := b.reference(rel)
	logger.WithReference(b.logger, b.Name(), ref).Debugf("Stored %s", file.Path)
	return ref, nil
}

// Remove deletes the file behind ref. A missing file is not an error.
func (b *LocalBackend) Remove(ctx context.Context, ref string) error {
	rel, err := b.relative(ref)
	if err != nil {
		return &StorageError{Backend: b.Name(), Op: "remove", Ref: ref, Err: err}
	}
	full, err := b.resolve(rel)
	if err != nil {
		return &StorageError{Backend: b.Name(), Op: "remove", Ref: ref, Err: err}
	}

	info, err := os.Lstat(full)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return &StorageError{Backend: b.Name(), Op: "remove", Ref: ref, Err: err}
	}
	if err == nil && !info.Mode().IsRegular() {
		return &StorageError{Backend: b.Name(), Op: "remove", Ref: ref, Err: fmt.Errorf("%w: not a stored file", ErrInvalidReference)}
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &StorageError{Backend: b.Name(), Op: "remove", Ref: ref, Err: err}
	}
	logger.WithReference(b.logger, b.Name(), ref).Debug("Removed")
	return nil
}

func (b *LocalBackend) reference(rel string) string {
	if b.urlPrefix == "" {
		return rel
	}
	return b.urlPrefix + "/" + rel
}

// relative strips the url prefix from a reference.
func (b *LocalBackend) relative(ref string) (string, error) {
	if ref == "" {
		return "", ErrInvalidReference
	}
	if b.urlPrefix == "" {
		return ref, nil
	}
	rel, ok := strings.CutPrefix(ref, b.urlPrefix+"/")
	if !ok {
		return "", ErrForeignReference
	}
	return rel, nil
}

// resolve maps a slash-separated relative path to a path under root, rejecting traversal.
func (b *LocalBackend) resolve(rel string) (string, error) {
	full := filepath.Join(b.root, filepath.FromSlash(rel))
	if full == b.root || !strings.HasPrefix(full, b.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path traversal detected", ErrInvalidReference)
	}
	return full, nil
}

func cleanFolder(folder string) string {
	folder = strings.Trim(filepath.ToSlash(folder), "/")
	if folder == "" {
		return "."
	}
	return folder
}

// Overridden in tests to force the copy fallback.
var (
	renameFile   = os.Rename
	removeSource = os.Remove
)

// moveFile renames src to dst, falling back to copy and remove across filesystems.
// dst never outlives a failed move.
func moveFile(src, dst string) error {
	if err := renameFile(src, dst); err == nil {
		return nil
	}
	if err := copyFile(src, dst); err != nil {
		_ = os.Remove(dst)
		return err
	}
	if err := removeSource(src); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return nil
}

// copyFile copies file src to dst.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
