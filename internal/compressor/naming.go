package compressor

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateFileName derives a collision-resistant output filename from the original path:
// <sanitized base>-<unix nanos>-<random>.<ext>.
func GenerateFileName(originalPath string, format Format) string {
	return fmt.Sprintf("%s-%d-%s%s",
		SanitizeBaseName(originalPath),
		time.Now().UnixNano(),
		randomSuffix(),
		format.Extension(),
	)
}

// SanitizeBaseName returns the lowercased base name without extension,
// with every character outside [a-zA-Z0-9] replaced by '_'.
func SanitizeBaseName(originalPath string) string {
	base := filepath.Base(originalPath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "." || base == string(filepath.Separator) {
		base = ""
	}

	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "image"
	}
	return b.String()
}

func randomSuffix() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")[:12]
}
