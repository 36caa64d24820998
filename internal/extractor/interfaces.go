package extractor

import (
	"time"
)

// MetadataExtractor reads the intrinsic properties of a source image without decoding its pixels.
type MetadataExtractor interface {
	Extract(filePath string) (*ImageInfo, error)
}

// ImageInfo describes a source image.
type ImageInfo struct {
	Path        string
	Size        int64
	Format      string
	Width       int // display width, after EXIF orientation
	Height      int // display height, after EXIF orientation
	Orientation Orientation
	TakenAt     *time.Time
}

// Orientation is the EXIF orientation tag value (1-8).
type Orientation int

const (
	OrientationUnknown    Orientation = 0
	OrientationNormal     Orientation = 1
	OrientationTranspose  Orientation = 5
	OrientationRotate90   Orientation = 6
	OrientationTransverse Orientation = 7
	OrientationRotate270  Orientation = 8
)

// SwapsDimensions reports whether displaying the image exchanges width and height.
func (o Orientation) SwapsDimensions() bool {
	return o >= OrientationTranspose && o <= OrientationRotate270
}

// String returns a human-readable description of the orientation.
func (o Orientation) String() string {
	switch o {
	case OrientationNormal:
		return "Normal"
	case 2:
		return "Mirror horizontal"
	case 3:
		return "Rotate 180"
	case 4:
		return "Mirror vertical"
	case OrientationTranspose:
		return "Transpose"
	case OrientationRotate90:
		return "Rotate 90 CW"
	case OrientationTransverse:
		return "Transverse"
	case OrientationRotate270:
		return "Rotate 270 CW"
	default:
		return "Unknown"
	}
}
