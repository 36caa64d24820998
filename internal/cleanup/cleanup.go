package cleanup

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"photo-ingest-go/internal/logger"
)

// Warning describes a temporary file that could not be removed.
// It is logged and counted, never returned to the caller of the pipeline.
type Warning struct {
	Path string
	Err  error
}

func (w *Warning) Error() string {
	return fmt.Sprintf("cleanup %s: %v", w.Path, w.Err)
}

func (w *Warning) Unwrap() error { return w.Err }

// WarningHook is notified for every cleanup warning.
type WarningHook func(w *Warning)

// Manager hands out Handles for temporary source files.
type Manager struct {
	logger   *logrus.Logger
	hook     WarningHook
	warnings atomic.Int64
}

// NewManager returns a Manager. hook may be nil.
func NewManager(log *logrus.Logger, hook WarningHook) *Manager {
	return &Manager{logger: log, hook: hook}
}

// Track returns a Handle that removes path exactly once when released.
func (m *Manager) Track(path string) *Handle {
	return &Handle{path: path, manager: m}
}

// Warnings returns the number of failed removals so far.
func (m *Manager) Warnings() int64 {
	return m.warnings.Load()
}

func (m *Manager) warn(w *Warning) {
	m.warnings.Add(1)
	logger.ForFile(m.logger, w.Path, "cleanup").Warnf("Temporary file cleanup failed: %v", w.Err)
	if m.hook != nil {
		m.hook(w)
	}
}

// Handle owns one temporary file.
type Handle struct {
	path    string
	manager *Manager
	once    sync.Once
	removed bool
}

// Path returns the tracked path.
func (h *Handle) Path() string {
	return h.path
}

// Release removes the file. Only the first call has any effect; an already missing
// file counts as removed. Failures are reported through the Manager as warnings.
func (h *Handle) Release() {
	h.once.Do(func() {
		err := os.Remove(h.path)
		if err == nil || errors.Is(err, os.ErrNotExist) {
			h.removed = true
			return
		}
		h.manager.warn(&Warning{Path: h.path, Err: err})
	})
}

// Removed reports whether Release removed the file (or found it already gone).
func (h *Handle) Removed() bool {
	return h.removed
}
