package compressor

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"photo-ingest-go/internal/batch"
)

// LosslessQualityThreshold is the quality above which the encoder switches to lossless mode.
const LosslessQualityThreshold = 90

// Format is an output image format.
type Format string

const (
	FormatWebP Format = "webp"
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatGIF  Format = "gif"
	FormatTIFF Format = "tiff"
	FormatBMP  Format = "bmp"
)

// ParseFormat returns the Format for a name such as "webp" or "JPG".
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), ".")) {
	case "webp":
		return FormatWebP, nil
	case "jpeg", "jpg":
		return FormatJPEG, nil
	case "png":
		return FormatPNG, nil
	case "gif":
		return FormatGIF, nil
	case "tiff", "tif":
		return FormatTIFF, nil
	case "bmp":
		return FormatBMP, nil
	default:
		return "", fmt.Errorf("unsupported output format: %q", name)
	}
}

// Extension returns the file extension for the format, including the dot.
func (f Format) Extension() string {
	if f == FormatJPEG {
		return ".jpg"
	}
	return "." + string(f)
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatWebP:
		return "image/webp"
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatGIF:
		return "image/gif"
	case FormatTIFF:
		return "image/tiff"
	case FormatBMP:
		return "image/bmp"
	default:
		return "application/octet-stream"
	}
}

// Config defines the constraints of a single compression.
// It is a value type: With returns a modified copy and never touches the receiver.
type Config struct {
	MaxWidth  int
	MaxHeight int
	Quality   int
	Format    Format
	OutputDir string
}

// Option overrides a field of a Config.
type Option func(*Config)

// DefaultConfig returns the default compression constraints.
func DefaultConfig() Config {
	return Config{
		MaxWidth:  1920,
		MaxHeight: 1080,
		Quality:   80,
		Format:    FormatWebP,
		OutputDir: filepath.Join("uploads", "compressed"),
	}
}

// With returns a copy of c with the options applied.
func (c Config) With(opts ...Option) Config {
	for _, opt := range opts {
		if opt != nil {
			opt(&c)
		}
	}
	return c
}

// WithMaxSize overrides the bounding box.
func WithMaxSize(width, height int) Option {
	return func(c *Config) {
		c.MaxWidth = width
		c.MaxHeight = height
	}
}

// WithMaxWidth overrides only the bounding box width.
func WithMaxWidth(width int) Option {
	return func(c *Config) { c.MaxWidth = width }
}

// WithMaxHeight overrides only the bounding box height.
func WithMaxHeight(height int) Option {
	return func(c *Config) { c.MaxHeight = height }
}

// WithQuality overrides the encoder quality.
func WithQuality(quality int) Option {
	return func(c *Config) { c.Quality = quality }
}

// WithFormat overrides the output format.
func WithFormat(format Format) Option {
	return func(c *Config) { c.Format = format }
}

// WithOutputDir overrides the output directory.
func WithOutputDir(dir string) Option {
	return func(c *Config) { c.OutputDir = dir }
}

// Lossless reports whether the encoder runs in lossless mode for this config.
func (c Config) Lossless() bool {
	return c.Quality > LosslessQualityThreshold
}

// Validate checks the config values.
func (c Config) Validate() error {
	if c.MaxWidth <= 0 || c.MaxHeight <= 0 {
		return fmt.Errorf("max dimensions must be positive, got %dx%d", c.MaxWidth, c.MaxHeight)
	}
	if c.Quality < 1 || c.Quality > 100 {
		return fmt.Errorf("quality must be in [1,100], got %d", c.Quality)
	}
	if _, err := ParseFormat(string(c.Format)); err != nil {
		return err
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output directory is required")
	}
	return nil
}

// Result describes a successfully compressed image.
type Result struct {
	OriginalFile     string     `json:"originalFile"`
	CompressedFile   string     `json:"compressedFile"`
	OriginalSize     int64      `json:"originalSize"`
	CompressedSize   int64      `json:"compressedSize"`
	Width            int        `json:"width"`
	Height           int        `json:"height"`
	CompressionRatio string     `json:"compressionRatio"`
	Format           string     `json:"format"`
	Lossless         bool       `json:"lossless"`
	TakenAt          *time.Time `json:"takenAt,omitempty"`
	StartedAt        time.Time  `json:"startedAt"`
	FinishedAt       time.Time  `json:"finishedAt"`
}

// Compressor resizes and re-encodes images.
type Compressor interface {
	// Compress processes one source file. The source is never removed.
	Compress(ctx context.Context, sourcePath string, cfg Config) (*Result, error)
	// CompressBatch processes the paths in fixed-size windows and returns one outcome per path, in order.
	CompressBatch(ctx context.Context, paths []string, cfg Config) []batch.Outcome[*Result]
}
