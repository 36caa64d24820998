package compressor

import (
	"path/filepath"
	"regexp"
	"testing"
)

func TestScaleFactor(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		maxW, maxH    int
		want          float64
	}{
		{"landscape into full hd", 4000, 3000, 1920, 1080, 0.36},
		{"smaller than box", 800, 600, 1920, 1080, 1.0},
		{"exact fit", 1920, 1080, 1920, 1080, 1.0},
		{"width bound", 3840, 1080, 1920, 1080, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ScaleFactor(tt.width, tt.height, tt.maxW, tt.maxH)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("ScaleFactor(%d, %d, %d, %d) = %v, want %v", tt.width, tt.height, tt.maxW, tt.maxH, got, tt.want)
			}
		})
	}
}

func TestTargetSize(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		maxW, maxH    int
		wantW, wantH  int
	}{
		{"landscape into full hd", 4000, 3000, 1920, 1080, 1440, 1080},
		{"portrait into full hd", 3000, 4000, 1920, 1080, 810, 1080},
		{"never enlarges", 800, 600, 1920, 1080, 800, 600},
		{"square into tall box", 1000, 1000, 100, 200, 100, 100},
		{"sliver keeps one pixel", 1, 10000, 1920, 1080, 1, 1080},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := TargetSize(tt.width, tt.height, tt.maxW, tt.maxH)
			if w != tt.wantW || h != tt.wantH {
				t.Errorf("TargetSize(%d, %d, %d, %d) = %dx%d, want %dx%d",
					tt.width, tt.height, tt.maxW, tt.maxH, w, h, tt.wantW, tt.wantH)
			}
			if w > tt.maxW || h > tt.maxH {
				t.Errorf("result %dx%d exceeds box %dx%d", w, h, tt.maxW, tt.maxH)
			}
		})
	}
}

func TestCompressionRatio(t *testing.T) {
	tests := []struct {
		original, compressed int64
		want                 string
	}{
		{0, 10, "0%"},
		{0, 0, "0%"},
		{1000, 250, "25.00%"},
		{3, 1, "33.33%"},
		{100, 150, "150.00%"},
	}

	for _, tt := range tests {
		if got := CompressionRatio(tt.original, tt.compressed); got != tt.want {
			t.Errorf("CompressionRatio(%d, %d) = %q, want %q", tt.original, tt.compressed, got, tt.want)
		}
	}
}

func TestGenerateFileName(t *testing.T) {
	pattern := regexp.MustCompile(`^my_photo_2024-\d+-[0-9a-f]{12}\.webp$`)
	name := GenerateFileName(filepath.Join("uploads", "temp", "My Photo 2024.JPG"), FormatWebP)
	if !pattern.MatchString(name) {
		t.Errorf("GenerateFileName() = %q, does not match %s", name, pattern)
	}

	if got := GenerateFileName("shot.png", FormatJPEG); filepath.Ext(got) != ".jpg" {
		t.Errorf("jpeg output should use .jpg, got %q", got)
	}

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		n := GenerateFileName("same.png", FormatPNG)
		if seen[n] {
			t.Fatalf("duplicate name generated: %s", n)
		}
		seen[n] = true
	}
}

func TestSanitizeBaseName(t *testing.T) {
	tests := map[string]string{
		"IMG_0001.JPG":           "img_0001",
		"holiday photo (1).jpeg": "holiday_photo__1_",
		"../../etc/passwd":       "passwd",
		"Ünïcode.png":            "_n_code",
		".png":                   "image",
		"":                       "image",
	}

	for input, want := range tests {
		if got := SanitizeBaseName(input); got != want {
			t.Errorf("SanitizeBaseName(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestConfigWithDoesNotMutate(t *testing.T) {
	base := DefaultConfig()
	derived := base.With(WithQuality(95), WithFormat(FormatPNG), WithMaxSize(100, 50), WithOutputDir("out"))

	if base != DefaultConfig() {
		t.Errorf("base config was modified: %+v", base)
	}
	want := Config{MaxWidth: 100, MaxHeight: 50, Quality: 95, Format: FormatPNG, OutputDir: "out"}
	if derived != want {
		t.Errorf("derived = %+v, want %+v", derived, want)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxWidth != 1920 || cfg.MaxHeight != 1080 || cfg.Quality != 80 || cfg.Format != FormatWebP {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.OutputDir != filepath.Join("uploads", "compressed") {
		t.Errorf("unexpected output dir: %s", cfg.OutputDir)
	}
	if cfg.Lossless() {
		t.Error("default quality must be lossy")
	}
}

func TestConfigLossless(t *testing.T) {
	tests := map[int]bool{80: false, 90: false, 91: true, 100: true}
	for quality, want := range tests {
		if got := DefaultConfig().With(WithQuality(quality)).Lossless(); got != want {
			t.Errorf("quality %d: Lossless() = %v, want %v", quality, got, want)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		opt     Option
		wantErr bool
	}{
		{"defaults", nil, false},
		{"zero width", WithMaxSize(0, 100), true},
		{"negative height", WithMaxSize(100, -1), true},
		{"quality zero", WithQuality(0), true},
		{"quality over 100", WithQuality(101), true},
		{"unknown format", WithFormat("heic"), true},
		{"empty output dir", WithOutputDir(""), true},
		{"jpeg", WithFormat(FormatJPEG), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := DefaultConfig().With(tt.opt).Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	tests := map[string]Format{
		"webp":  FormatWebP,
		"JPG":   FormatJPEG,
		"jpeg":  FormatJPEG,
		".png":  FormatPNG,
		"tif":   FormatTIFF,
		" gif ": FormatGIF,
		"bmp":   FormatBMP,
	}
	for input, want := range tests {
		got, err := ParseFormat(input)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v; want %q", input, got, err, want)
		}
	}

	if _, err := ParseFormat("heic"); err == nil {
		t.Error("expected error for unsupported format")
	}
	if got := FormatWebP.ContentType(); got != "image/webp" {
		t.Errorf("webp content type = %q", got)
	}
}
