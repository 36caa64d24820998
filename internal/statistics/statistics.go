package statistics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// maxErrors bounds the in-memory error list of a long-running server.
const maxErrors = 500

// Statistics contains counters for the ingestion pipeline.
// Counters are updated atomically; the error list and format breakdown are guarded by mutex.
type Statistics struct {
	UploadsReceived  int64
	UploadsRejected  int64
	ImagesCompressed int64
	ImagesFailed     int64
	LosslessEncodes  int64
	FilesStored      int64
	FilesRemoved     int64
	StorageErrors    int64
	CleanupWarnings  int64

	BytesIn  int64
	BytesOut int64

	StartTime time.Time

	Errors []StatError

	FormatStats map[string]int64

	mutex   sync.RWMutex
	metrics *Metrics
}

// StatError represents an error that occurred during processing.
type StatError struct {
	FilePath  string    `json:"file_path"`
	Operation string    `json:"operation"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// NewStatistics returns a new Statistics instance. metrics may be nil.
func NewStatistics(metrics *Metrics) *Statistics {
	return &Statistics{
		StartTime:   time.Now(),
		FormatStats: make(map[string]int64),
		Errors:      make([]StatError, 0),
		metrics:     metrics,
	}
}

// RecordUpload counts an accepted or rejected upload.
func (s *Statistics) RecordUpload(accepted bool) {
	if accepted {
		atomic.AddInt64(&s.UploadsReceived, 1)
	} else {
		atomic.AddInt64(&s.UploadsRejected, 1)
	}
	s.metrics.observeUpload(accepted)
}

// RecordCompression counts a successful compression.
func (s *Statistics) RecordCompression(format string, originalSize, compressedSize int64, lossless bool, duration time.Duration) {
	atomic.AddInt64(&s.ImagesCompressed, 1)
	atomic.AddInt64(&s.BytesIn, originalSize)
	atomic.AddInt64(&s.BytesOut, compressedSize)
	if lossless {
		atomic.AddInt64(&s.LosslessEncodes, 1)
	}

	s.mutex.Lock()
	s.FormatStats[format]++
	s.mutex.Unlock()

	s.metrics.observeCompression(format, originalSize, compressedSize, duration)
}

// RecordCompressionFailure counts a failed compression.
func (s *Statistics) RecordCompressionFailure(filePath string, err error) {
	atomic.AddInt64(&s.ImagesFailed, 1)
	s.AddError(filePath, "compress", err.Error())
	s.metrics.observeCompressionFailure()
}

// RecordStore counts a storage write.
func (s *Statistics) RecordStore(backend, filePath string, err error) {
	if err != nil {
		atomic.AddInt64(&s.StorageErrors, 1)
		s.AddError(filePath, "store", err.Error())
	} else {
		atomic.AddInt64(&s.FilesStored, 1)
	}
	s.metrics.observeStorage(backend, "store", err)
}

// RecordRemove counts a storage delete.
func (s *Statistics) RecordRemove(backend, ref string, err error) {
	if err != nil {
		atomic.AddInt64(&s.StorageErrors, 1)
		s.AddError(ref, "remove", err.Error())
	} else {
		atomic.AddInt64(&s.FilesRemoved, 1)
	}
	s.metrics.observeStorage(backend, "remove", err)
}

// RecordCleanupWarning counts a temp file that could not be removed.
func (s *Statistics) RecordCleanupWarning(filePath string, err error) {
	atomic.AddInt64(&s.CleanupWarnings, 1)
	s.AddError(filePath, "cleanup", err.Error())
	s.metrics.observeCleanupWarning()
}

// AddError records an error that occurred during processing.
func (s *Statistics) AddError(filePath, operation, errorMsg string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if len(s.Errors) >= maxErrors {
		s.Errors = s.Errors[1:]
	}
	s.Errors = append(s.Errors, StatError{
		FilePath:  filePath,
		Operation: operation,
		Error:     errorMsg,
		Timestamp: time.Now(),
	})
}

// SavedPercentage returns the share of input bytes removed by compression.
func (s *Statistics) SavedPercentage() float64 {
	in := atomic.LoadInt64(&s.BytesIn)
	if in == 0 {
		return 0
	}
	return float64(in-atomic.LoadInt64(&s.BytesOut)) / float64(in) * 100
}

// Snapshot returns the counters as a JSON-friendly map.
func (s *Statistics) Snapshot() map[string]interface{} {
	s.mutex.RLock()
	formats := make(map[string]int64, len(s.FormatStats))
	for k, v := range s.FormatStats {
		formats[k] = v
	}
	errorCount := len(s.Errors)
	s.mutex.RUnlock()

	return map[string]interface{}{
		"uploads_received":  atomic.LoadInt64(&s.UploadsReceived),
		"uploads_rejected":  atomic.LoadInt64(&s.UploadsRejected),
		"images_compressed": atomic.LoadInt64(&s.ImagesCompressed),
		"images_failed":     atomic.LoadInt64(&s.ImagesFailed),
		"lossless_encodes":  atomic.LoadInt64(&s.LosslessEncodes),
		"files_stored":      atomic.LoadInt64(&s.FilesStored),
		"files_removed":     atomic.LoadInt64(&s.FilesRemoved),
		"storage_errors":    atomic.LoadInt64(&s.StorageErrors),
		"cleanup_warnings":  atomic.LoadInt64(&s.CleanupWarnings),
		"bytes_in":          atomic.LoadInt64(&s.BytesIn),
		"bytes_out":         atomic.LoadInt64(&s.BytesOut),
		"saved_percentage":  s.SavedPercentage(),
		"formats":           formats,
		"errors":            errorCount,
		"uptime":            time.Since(s.StartTime).Round(time.Second).String(),
	}
}

// GetSummary returns a formatted summary of the statistics.
func (s *Statistics) GetSummary() string {
	return fmt.Sprintf(`Photo Ingest Statistics Summary:
Uploads:
  Received: %d
  Rejected: %d

Compression:
  Compressed: %d
  Failed: %d
  Lossless: %d
  Input: %s
  Output: %s
  Saved: %.2f%%

Storage:
  Stored: %d
  Removed: %d
  Errors: %d

Cleanup warnings: %d
Elapsed: %s

%s`,
		atomic.LoadInt64(&s.UploadsReceived),
		atomic.LoadInt64(&s.UploadsRejected),
		atomic.LoadInt64(&s.ImagesCompressed),
		atomic.LoadInt64(&s.ImagesFailed),
		atomic.LoadInt64(&s.LosslessEncodes),
		formatBytes(atomic.LoadInt64(&s.BytesIn)),
		formatBytes(atomic.LoadInt64(&s.BytesOut)),
		s.SavedPercentage(),
		atomic.LoadInt64(&s.FilesStored),
		atomic.LoadInt64(&s.FilesRemoved),
		atomic.LoadInt64(&s.StorageErrors),
		atomic.LoadInt64(&s.CleanupWarnings),
		time.Since(s.StartTime).Round(time.Millisecond),
		s.GetErrorSummary(),
	)
}

// GetErrorSummary returns a summary of errors that occurred during processing.
func (s *Statistics) GetErrorSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.Errors) == 0 {
		return "No errors occurred during processing"
	}

	result := fmt.Sprintf("Errors (%d total):\n", len(s.Errors))
	for i, err := range s.Errors {
		if i >= 10 {
			result += fmt.Sprintf("  ... and %d more errors\n", len(s.Errors)-10)
			break
		}
		result += fmt.Sprintf("  [%s] %s: %s - %s\n",
			err.Timestamp.Format("15:04:05"),
			err.Operation,
			err.FilePath,
			err.Error)
	}
	return result
}

// formatBytes returns a human-readable string for a byte count.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
