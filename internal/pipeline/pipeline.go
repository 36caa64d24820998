package pipeline

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"photo-ingest-go/internal/batch"
	"photo-ingest-go/internal/cleanup"
	"photo-ingest-go/internal/compressor"
	"photo-ingest-go/internal/logger"
	"photo-ingest-go/internal/statistics"
	"photo-ingest-go/internal/storage"
)

// EventType identifies a pipeline event.
type EventType string

const (
	EventStarted    EventType = "ingest_started"
	EventCompressed EventType = "image_compressed"
	EventStored     EventType = "image_stored"
	EventFailed     EventType = "ingest_failed"
	EventRemoved    EventType = "image_removed"
)

// Event is emitted to the EventHook as an item moves through the pipeline.
type Event struct {
	Type        EventType          `json:"type"`
	Source      string             `json:"source,omitempty"`
	Reference   string             `json:"reference,omitempty"`
	Backend     string             `json:"backend,omitempty"`
	Compression *compressor.Result `json:"compression,omitempty"`
	Error       string             `json:"error,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
}

// EventHook receives pipeline events. It is called synchronously and must not block.
type EventHook func(Event)

// Result is the outcome of a successful ingest.
type Result struct {
	Compression compressor.Result `json:"compression"`
	Reference   string            `json:"reference"`
	Backend     string            `json:"backend"`
}

// Pipeline compresses temporary source images and hands the output to a storage backend.
type Pipeline struct {
	compressor compressor.Compressor
	backend    storage.Backend
	cleanup    *cleanup.Manager
	stats      *statistics.Statistics
	logger     *logrus.Logger
	defaults   compressor.Config
	scheduler  batch.Scheduler

	hookMutex sync.RWMutex
	hook      EventHook
}

// NewPipeline returns a new Pipeline.
func NewPipeline(
	comp compressor.Compressor,
	backend storage.Backend,
	cleanups *cleanup.Manager,
	stats *statistics.Statistics,
	log *logrus.Logger,
	defaults compressor.Config,
	scheduler batch.Scheduler,
) *Pipeline {
	return NewPipelineWithHook(comp, backend, cleanups, stats, log, defaults, scheduler, nil)
}

// NewPipelineWithHook returns a Pipeline that reports every event to hook.
func NewPipelineWithHook(
	comp compressor.Compressor,
	backend storage.Backend,
	cleanups *cleanup.Manager,
	stats *statistics.Statistics,
	log *logrus.Logger,
	defaults compressor.Config,
	scheduler batch.Scheduler,
	hook EventHook,
) *Pipeline {
	return &Pipeline{
		compressor: comp,
		backend:    backend,
		cleanup:    cleanups,
		stats:      stats,
		logger:     log,
		defaults:   defaults,
		scheduler:  scheduler,
		hook:       hook,
	}
}

// SetEventHook replaces the event hook.
func (p *Pipeline) SetEventHook(hook EventHook) {
	p.hookMutex.Lock()
	p.hook = hook
	p.hookMutex.Unlock()
}

// Backend returns the storage backend.
func (p *Pipeline) Backend() storage.Backend {
	return p.backend
}

// Defaults returns the compression settings applied before per-call options.
func (p *Pipeline) Defaults() compressor.Config {
	return p.defaults
}

// Ingest compresses sourcePath, stores the output under folder and removes the source.
// The source is consumed on every path, success or failure. When storing fails the
// compressed output is discarded as well, so nothing from this call is left behind.
func (p *Pipeline) Ingest(ctx context.Context, sourcePath, folder string, opts ...compressor.Option) (*Result, error) {
	log := logger.ForFile(p.logger, sourcePath, "ingest")
	source := p.cleanup.Track(sourcePath)
	defer source.Release()

	cfg := p.defaults.With(opts...)
	p.emit(Event{Type: EventStarted, Source: sourcePath})

	res, err := p.compressor.Compress(ctx, sourcePath, cfg)
	if err != nil {
		log.Errorf("Compression failed: %v", err)
		p.stats.RecordCompressionFailure(sourcePath, err)
		p.emit(Event{Type: EventFailed, Source: sourcePath, Error: err.Error()})
		return nil, err
	}
	p.stats.RecordCompression(res.Format, res.OriginalSize, res.CompressedSize, res.Lossless, res.FinishedAt.Sub(res.StartedAt))
	p.emit(Event{Type: EventCompressed, Source: sourcePath, Compression: res})

	file := storage.File{
		Path:        res.CompressedFile,
		Name:        filepath.Base(res.CompressedFile),
		ContentType: cfg.Format.ContentType(),
	}
	ref, err := p.backend.Store(ctx, file, folder)
	p.stats.RecordStore(p.backend.Name(), res.CompressedFile, err)
	if err != nil {
		log.Errorf("Storing compressed image failed: %v", err)
		p.cleanup.Track(res.CompressedFile).Release()
		p.emit(Event{Type: EventFailed, Source: sourcePath, Backend: p.backend.Name(), Error: err.Error()})
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"backend":   p.backend.Name(),
		"reference": ref,
		"ratio":     res.CompressionRatio,
	}).Info("Image ingested")
	p.emit(Event{Type: EventStored, Source: sourcePath, Reference: ref, Backend: p.backend.Name(), Compression: res})

	return &Result{Compression: *res, Reference: ref, Backend: p.backend.Name()}, nil
}

// IngestBatch ingests paths in scheduler windows. Outcomes are returned in input order;
// a failed item never affects the others.
func (p *Pipeline) IngestBatch(ctx context.Context, paths []string, folder string, opts ...compressor.Option) []batch.Outcome[*Result] {
	logger.ForStage(p.logger, "ingest_batch").Infof("Ingesting %d files in windows of %d", len(paths), p.scheduler.Window)
	return batch.Run(ctx, p.scheduler, paths, func(ctx context.Context, path string) (*Result, error) {
		return p.Ingest(ctx, path, folder, opts...)
	})
}

// Remove deletes a previously stored image by its reference.
func (p *Pipeline) Remove(ctx context.Context, ref string) error {
	err := p.backend.Remove(ctx, ref)
	p.stats.RecordRemove(p.backend.Name(), ref, err)
	if err != nil {
		logger.WithReference(p.logger, p.backend.Name(), ref).Errorf("Remove failed: %v", err)
		p.emit(Event{Type: EventFailed, Reference: ref, Backend: p.backend.Name(), Error: err.Error()})
		return err
	}
	p.emit(Event{Type: EventRemoved, Reference: ref, Backend: p.backend.Name()})
	return nil
}

func (p *Pipeline) emit(ev Event) {
	p.hookMutex.RLock()
	hook := p.hook
	p.hookMutex.RUnlock()
	if hook == nil {
		return
	}
	ev.Timestamp = time.Now()
	hook(ev)
}
