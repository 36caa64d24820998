package compressor

import (
	"fmt"
	"image"
	"image/png"
	"io"

	"github.com/disintegration/imaging"
	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
)

// losslessWebPLevel trades encode time for size in lossless mode (0 fastest, 9 smallest).
const losslessWebPLevel = 6

// EncodeFunc writes img to w in the given format.
type EncodeFunc func(w io.Writer, img image.Image, format Format, quality int, lossless bool) error

// EncodeImage writes img to w in the configured format.
// When lossless is set the WebP encoder uses its lossless mode and quality is ignored.
// PNG, GIF, TIFF and BMP ignore quality.
func EncodeImage(w io.Writer, img image.Image, format Format, quality int, lossless bool) error {
	switch format {
	case FormatWebP:
		return encodeWebP(w, img, quality, lossless)
	case FormatJPEG:
		// JPEG has no lossless mode; the quality value is used as given.
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
	case FormatPNG:
		return imaging.Encode(w, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression))
	case FormatGIF:
		return imaging.Encode(w, img, imaging.GIF)
	case FormatTIFF:
		return imaging.Encode(w, img, imaging.TIFF)
	case FormatBMP:
		return imaging.Encode(w, img, imaging.BMP)
	default:
		return fmt.Errorf("unsupported output format: %q", format)
	}
}

func encodeWebP(w io.Writer, img image.Image, quality int, lossless bool) error {
	var (
		options *encoder.Options
		err     error
	)
	if lossless {
		options, err = encoder.NewLosslessEncoderOptions(encoder.PresetDefault, losslessWebPLevel)
	} else {
		options, err = encoder.NewLossyEncoderOptions(encoder.PresetDefault, float32(quality))
	}
	if err != nil {
		return fmt.Errorf("webp encoder options: %w", err)
	}
	return webp.Encode(w, img, options)
}
