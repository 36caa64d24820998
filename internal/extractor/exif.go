package extractor

import (
	"fmt"
	"image"
	"os"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/sirupsen/logrus"

	// Decoders for image.DecodeConfig; jpeg, png, gif, bmp and tiff are registered by imaging.
	_ "github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// EXIFExtractor reads dimensions from the image header and orientation/date from EXIF metadata.
type EXIFExtractor struct {
	logger *logrus.Logger
}

// NewEXIFExtractor returns a new EXIFExtractor.
func NewEXIFExtractor(logger *logrus.Logger) *EXIFExtractor {
	return &EXIFExtractor{logger: logger}
}

// Extract returns the size, format and display dimensions of an image file.
// Missing or broken EXIF data is not an error; an unreadable image header is.
func (e *EXIFExtractor) Extract(filePath string) (*ImageInfo, error) {
	fileInfo, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	cfg, format, err := image.DecodeConfig(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid image dimensions %dx%d", cfg.Width, cfg.Height)
	}

	info := &ImageInfo{
		Path:   filePath,
		Size:   fileInfo.Size(),
		Format: format,
		Width:  cfg.Width,
		Height: cfg.Height,
	}

	if format == "jpeg" || format == "tiff" {
		e.readEXIF(file, info)
	}
	if info.Orientation.SwapsDimensions() {
		info.Width, info.Height = info.Height, info.Width
	}

	return info, nil
}

// readEXIF fills orientation and capture date from EXIF data, if present.
func (e *EXIFExtractor) readEXIF(file *os.File, info *ImageInfo) {
	if _, err := file.Seek(0, 0); err != nil {
		return
	}

	x, err := exif.Decode(file)
	if err != nil {
		e.logger.Debugf("No EXIF data in %s: %v", info.Path, err)
		return
	}

	if tag, err := x.Get(exif.Orientation); err == nil {
		if v, err := tag.Int(0); err == nil {
			info.Orientation = Orientation(v)
		}
	}

	if tm, err := x.DateTime(); err == nil {
		info.TakenAt = &tm
		return
	}

	if field, err := x.Get(exif.DateTimeDigitized); err == nil {
		if dateStr, err := field.StringVal(); err == nil {
			info.TakenAt = parseEXIFDateTime(dateStr)
		}
	}
}

// parseEXIFDateTime parses an EXIF date time string. Returns nil if parsing fails.
func parseEXIFDateTime(dateStr string) *time.Time {
	if dateStr == "" {
		return nil
	}

	formats := []string{
		"2006:01:02 15:04:05",
		"2006-01-02 15:04:05",
		"2006:01:02",
		"2006-01-02",
		time.RFC3339,
	}

	for _, format := range formats {
		if date, err := time.Parse(format, dateStr); err == nil {
			return &date
		}
	}
	return nil
}
