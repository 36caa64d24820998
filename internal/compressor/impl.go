package compressor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"

	"photo-ingest-go/internal/batch"
	"photo-ingest-go/internal/extractor"
	"photo-ingest-go/internal/logger"
)

// DefaultCompressor is the default implementation of the Compressor interface.
type DefaultCompressor struct {
	logger    *logrus.Logger
	extractor extractor.MetadataExtractor
	scheduler batch.Scheduler
	encode    EncodeFunc
}

// NewDefaultCompressor creates a new DefaultCompressor instance.
func NewDefaultCompressor(log *logrus.Logger, scheduler batch.Scheduler) *DefaultCompressor {
	return &DefaultCompressor{
		logger:    log,
		extractor: extractor.NewEXIFExtractor(log),
		scheduler: scheduler,
		encode:    EncodeImage,
	}
}

// Compress resizes sourcePath to fit cfg's bounding box, re-encodes it and writes it under cfg.OutputDir.
// On failure no file attributable to this call is left in the output directory.
func (c *DefaultCompressor) Compress(ctx context.Context, sourcePath string, cfg Config) (*Result, error) {
	start := time.Now()
	log := logger.ForFile(c.logger, sourcePath, "compress")

	if err := cfg.Validate(); err != nil {
		return nil, &ValidationError{Path: sourcePath, Err: err}
	}
	if err := checkReadable(sourcePath); err != nil {
		return nil, &ValidationError{Path: sourcePath, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, &CompressionError{Path: sourcePath, Op: "start", Err: err}
	}

	info, err := c.extractor.Extract(sourcePath)
	if err != nil {
		return nil, &CompressionError{Path: sourcePath, Op: "probe", Err: err}
	}

	img, err := imaging.Open(sourcePath, imaging.AutoOrientation(true))
	if err != nil {
		return nil, &CompressionError{Path: sourcePath, Op: "decode", Err: err}
	}

	bounds := img.Bounds()
	width, height := TargetSize(bounds.Dx(), bounds.Dy(), cfg.MaxWidth, cfg.MaxHeight)
	if width != bounds.Dx() || height != bounds.Dy() {
		img = imaging.Resize(img, width, height, imaging.Lanczos)
	}
	log.Debugf("Resizing %dx%d -> %dx%d (orientation %s)", bounds.Dx(), bounds.Dy(), width, height, info.Orientation)

	if err := ctx.Err(); err != nil {
		return nil, &CompressionError{Path: sourcePath, Op: "resize", Err: err}
	}

	lossless := cfg.Lossless()
	var buf bytes.Buffer
	if err := c.encode(&buf, img, cfg.Format, cfg.Quality, lossless); err != nil {
		return nil, &CompressionError{Path: sourcePath, Op: "encode", Err: err}
	}

	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return nil, &CompressionError{Path: sourcePath, Op: "mkdir", Err: err}
	}

	outPath := filepath.Join(cfg.OutputDir, GenerateFileName(sourcePath, cfg.Format))
	tmpPath := outPath + ".tmp"
	committed := false
	defer func() {
		if !committed {
			removeQuietly(tmpPath)
			removeQuietly(outPath)
		}
	}()

	if err := os.WriteFile(tmpPath, buf.Bytes(), 0644); err != nil {
		return nil, &CompressionError{Path: sourcePath, Op: "write", Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, &CompressionError{Path: sourcePath, Op: "write", Err: err}
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		return nil, &CompressionError{Path: sourcePath, Op: "rename", Err: err}
	}

	compInfo, err := os.Stat(outPath)
	if err != nil {
		return nil, &CompressionError{Path: sourcePath, Op: "stat", Err: err}
	}
	if compInfo.Size() == 0 {
		return nil, &CompressionError{Path: sourcePath, Op: "write", Err: errors.New("encoder produced no data")}
	}
	committed = true

	res := &Result{
		OriginalFile:     sourcePath,
		CompressedFile:   outPath,
		OriginalSize:     info.Size,
		CompressedSize:   compInfo.Size(),
		Width:            width,
		Height:           height,
		CompressionRatio: CompressionRatio(info.Size, compInfo.Size()),
		Format:           string(cfg.Format),
		Lossless:         lossless,
		TakenAt:          info.TakenAt,
		StartedAt:        start,
		FinishedAt:       time.Now(),
	}

	log.WithFields(logrus.Fields{
		"output":   outPath,
		"ratio":    res.CompressionRatio,
		"lossless": lossless,
		"duration": res.FinishedAt.Sub(start).String(),
	}).Info("Image compressed")

	return res, nil
}

// CompressBatch compresses paths in windows of the scheduler's size.
// A failing item is reported in its own outcome and never stops the others.
func (c *DefaultCompressor) CompressBatch(ctx context.Context, paths []string, cfg Config) []batch.Outcome[*Result] {
	outcomes := batch.Run(ctx, c.scheduler, paths, func(ctx context.Context, path string) (*Result, error) {
		return c.Compress(ctx, path, cfg)
	})

	for _, o := range outcomes {
		if o.Err != nil {
			logger.ForFile(c.logger, o.Input, "compress_batch").Errorf("Compression failed: %v", o.Err)
		}
	}
	return outcomes
}

// checkReadable verifies that path is a regular file that can be opened for reading.
func checkReadable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("not a regular file")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	return f.Close()
}

// removeQuietly is best-effort removal of a partial output file.
func removeQuietly(path string) {
	_ = os.Remove(path)
}
