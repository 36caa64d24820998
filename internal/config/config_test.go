package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	if cfg.Pipeline.MaxWidth != 1920 || cfg.Pipeline.MaxHeight != 1080 || cfg.Pipeline.Quality != 80 || cfg.Pipeline.Format != "webp" {
		t.Errorf("unexpected pipeline defaults: %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.BatchWindow != 3 {
		t.Errorf("batch window = %d, want 3", cfg.Pipeline.BatchWindow)
	}
	if cfg.Upload.MaxFileSize != 5*1024*1024 {
		t.Errorf("max file size = %d", cfg.Upload.MaxFileSize)
	}
	if !reflect.DeepEqual(cfg.Upload.AllowedMimeTypes, DefaultAllowedMimeTypes) {
		t.Errorf("allowed types = %v", cfg.Upload.AllowedMimeTypes)
	}
	if cfg.Storage.Backend != BackendLocal || cfg.Storage.S3.ACL != "public-read" {
		t.Errorf("unexpected storage defaults: %+v", cfg.Storage)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"bad format", func(c *Config) { c.Pipeline.Format = "heic" }, "unsupported output format"},
		{"bad quality", func(c *Config) { c.Pipeline.Quality = 0 }, "quality"},
		{"zero width", func(c *Config) { c.Pipeline.MaxWidth = 0 }, "max dimensions"},
		{"negative timeout", func(c *Config) { c.Pipeline.ItemTimeout = -time.Second }, "item_timeout"},
		{"no temp dir", func(c *Config) { c.Upload.TempDir = "" }, "temp_dir"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "ftp" }, "invalid storage backend"},
		{"s3 without bucket", func(c *Config) { c.Storage.Backend = "s3" }, "bucket"},
		{"s3 without region", func(c *Config) {
			c.Storage.Backend = "s3"
			c.Storage.S3.Bucket = "b"
		}, "region"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "port"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateNormalizes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pipeline.Format = "JPG"
	cfg.Pipeline.BatchWindow = 0
	cfg.Upload.MaxFileSize = 0
	cfg.Upload.AllowedMimeTypes = []string{" Image/PNG ", "image/png", ""}
	cfg.Storage.Backend = " S3 "
	cfg.Storage.S3.Bucket = "photos"
	cfg.Storage.S3.Region = "us-east-1"

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.Pipeline.Format != "jpeg" || cfg.Pipeline.BatchWindow != 3 || cfg.Upload.MaxFileSize != 5*1024*1024 {
		t.Errorf("pipeline/upload not normalized: %+v %+v", cfg.Pipeline, cfg.Upload)
	}
	if !reflect.DeepEqual(cfg.Upload.AllowedMimeTypes, []string{"image/png"}) {
		t.Errorf("mime types = %v", cfg.Upload.AllowedMimeTypes)
	}
	if cfg.Storage.Backend != BackendS3 {
		t.Errorf("backend = %q", cfg.Storage.Backend)
	}

	cfg.Upload.AllowedMimeTypes = nil
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(cfg.Upload.AllowedMimeTypes, DefaultAllowedMimeTypes) {
		t.Errorf("empty whitelist should fall back to defaults, got %v", cfg.Upload.AllowedMimeTypes)
	}
}

func TestLoadConfigFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
pipeline:
  quality: 95
  format: png
  item_timeout: 45s
upload:
  max_file_size: 1048576
storage:
  backend: s3
  s3:
    bucket: from-file
    region: eu-central-1
server:
  port: 9000
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PHOTO_INGEST_STORAGE_S3_BUCKET", "from-env")
	t.Setenv("PHOTO_INGEST_PIPELINE_MAX_WIDTH", "800")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Pipeline.Quality != 95 || cfg.Pipeline.Format != "png" || cfg.Pipeline.ItemTimeout != 45*time.Second {
		t.Errorf("pipeline = %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.MaxWidth != 800 || cfg.Pipeline.MaxHeight != 1080 {
		t.Errorf("env override / default lost: %dx%d", cfg.Pipeline.MaxWidth, cfg.Pipeline.MaxHeight)
	}
	if cfg.Storage.S3.Bucket != "from-env" || cfg.Storage.S3.Region != "eu-central-1" || cfg.Storage.S3.ACL != "public-read" {
		t.Errorf("s3 = %+v", cfg.Storage.S3)
	}
	if cfg.Upload.MaxFileSize != 1048576 || cfg.Server.Port != 9000 {
		t.Errorf("upload/server = %+v %+v", cfg.Upload, cfg.Server)
	}
}

func TestLoadConfigInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("pipeline:\n  format: heic\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected validation error")
	}
}

func TestCompressionConfig(t *testing.T) {
	p := DefaultConfig().Pipeline
	p.Format = "jpg"
	p.Quality = 91

	cfg, err := p.CompressionConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Format != "jpeg" || !cfg.Lossless() || cfg.OutputDir != p.OutputDir {
		t.Errorf("compression config = %+v", cfg)
	}
}

func TestEnsureDirectories(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultConfig()
	cfg.Upload.TempDir = filepath.Join(root, "temp")
	cfg.Pipeline.OutputDir = filepath.Join(root, "compressed")
	cfg.Storage.Local.Root = filepath.Join(root, "public")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories() error = %v", err)
	}
	for _, dir := range []string{cfg.Upload.TempDir, cfg.Pipeline.OutputDir, cfg.Storage.Local.Root} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Errorf("%s not created: %v", dir, err)
		}
		if len(entries) != 0 {
			t.Errorf("%s should be empty after the write probe", dir)
		}
	}

	blocker := filepath.Join(root, "file")
	if err := os.WriteFile(blocker, nil, 0644); err != nil {
		t.Fatal(err)
	}
	cfg.Upload.TempDir = filepath.Join(blocker, "temp")
	if err := cfg.EnsureDirectories(); err == nil {
		t.Error("expected error when temp dir cannot be created")
	}
}
