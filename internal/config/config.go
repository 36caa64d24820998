package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"photo-ingest-go/internal/compressor"
)

// Storage backend names.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

// Config represents the main configuration structure
type Config struct {
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Upload   UploadConfig   `mapstructure:"upload"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// PipelineConfig contains the default compression constraints and batch settings
type PipelineConfig struct {
	MaxWidth    int           `mapstructure:"max_width"`
	MaxHeight   int           `mapstructure:"max_height"`
	Quality     int           `mapstructure:"quality"`
	Format      string        `mapstructure:"format"`
	OutputDir   string        `mapstructure:"output_dir"`
	Folder      string        `mapstructure:"folder"` // storage folder for compressed images
	BatchWindow int           `mapstructure:"batch_window"`
	ItemTimeout time.Duration `mapstructure:"item_timeout"` // 0 disables per-item deadlines
}

// UploadConfig contains settings for accepting raw uploads
type UploadConfig struct {
	TempDir          string   `mapstructure:"temp_dir"`
	MaxFileSize      int64    `mapstructure:"max_file_size"` // bytes
	AllowedMimeTypes []string `mapstructure:"allowed_mime_types"`
}

// StorageConfig selects and configures the storage backend
type StorageConfig struct {
	Backend string             `mapstructure:"backend"`
	Local   LocalStorageConfig `mapstructure:"local"`
	S3      S3StorageConfig    `mapstructure:"s3"`
}

// LocalStorageConfig contains settings for the local filesystem backend
type LocalStorageConfig struct {
	Root      string `mapstructure:"root"`
	URLPrefix string `mapstructure:"url_prefix"`
}

// S3StorageConfig contains settings for the S3 backend
type S3StorageConfig struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	PublicBaseURL   string `mapstructure:"public_base_url"`
	ACL             string `mapstructure:"acl"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// ServerConfig contains settings for the upload server
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// DefaultAllowedMimeTypes is the upload whitelist.
var DefaultAllowedMimeTypes = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
	"image/bmp",
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	def := compressor.DefaultConfig()
	return &Config{
		Pipeline: PipelineConfig{
			MaxWidth:    def.MaxWidth,
			MaxHeight:   def.MaxHeight,
			Quality:     def.Quality,
			Format:      string(def.Format),
			OutputDir:   def.OutputDir,
			Folder:      "compressed",
			BatchWindow: 3,
			ItemTimeout: 0,
		},
		Upload: UploadConfig{
			TempDir:          filepath.Join("uploads", "temp"),
			MaxFileSize:      5 * 1024 * 1024,
			AllowedMimeTypes: append([]string(nil), DefaultAllowedMimeTypes...),
		},
		Storage: StorageConfig{
			Backend: BackendLocal,
			Local: LocalStorageConfig{
				Root:      filepath.Join("uploads", "public"),
				URLPrefix: "/uploads",
			},
			S3: S3StorageConfig{
				ACL: "public-read",
			},
		},
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			FilePath:   filepath.Join("logs", "photo-ingest.log"),
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config file in current directory and home directory
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.photo-ingest")
		v.AddConfigPath("/etc/photo-ingest")
	}

	// Enable environment variable support, e.g. PHOTO_INGEST_STORAGE_S3_BUCKET
	v.SetEnvPrefix("PHOTO_INGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	registerDefaults(v, config)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// registerDefaults makes every key known to viper so that environment variables can override it.
func registerDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("pipeline.max_width", c.Pipeline.MaxWidth)
	v.SetDefault("pipeline.max_height", c.Pipeline.MaxHeight)
	v.SetDefault("pipeline.quality", c.Pipeline.Quality)
	v.SetDefault("pipeline.format", c.Pipeline.Format)
	v.SetDefault("pipeline.output_dir", c.Pipeline.OutputDir)
	v.SetDefault("pipeline.folder", c.Pipeline.Folder)
	v.SetDefault("pipeline.batch_window", c.Pipeline.BatchWindow)
	v.SetDefault("pipeline.item_timeout", c.Pipeline.ItemTimeout)

	v.SetDefault("upload.temp_dir", c.Upload.TempDir)
	v.SetDefault("upload.max_file_size", c.Upload.MaxFileSize)
	v.SetDefault("upload.allowed_mime_types", c.Upload.AllowedMimeTypes)

	v.SetDefault("storage.backend", c.Storage.Backend)
	v.SetDefault("storage.local.root", c.Storage.Local.Root)
	v.SetDefault("storage.local.url_prefix", c.Storage.Local.URLPrefix)
	v.SetDefault("storage.s3.bucket", c.Storage.S3.Bucket)
	v.SetDefault("storage.s3.region", c.Storage.S3.Region)
	v.SetDefault("storage.s3.endpoint", c.Storage.S3.Endpoint)
	v.SetDefault("storage.s3.public_base_url", c.Storage.S3.PublicBaseURL)
	v.SetDefault("storage.s3.acl", c.Storage.S3.ACL)
	v.SetDefault("storage.s3.access_key_id", c.Storage.S3.AccessKeyID)
	v.SetDefault("storage.s3.secret_access_key", c.Storage.S3.SecretAccessKey)

	v.SetDefault("server.port", c.Server.Port)
	v.SetDefault("server.read_timeout", c.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", c.Server.WriteTimeout)

	v.SetDefault("logging.level", c.Logging.Level)
	v.SetDefault("logging.file_path", c.Logging.FilePath)
	v.SetDefault("logging.max_size", c.Logging.MaxSize)
	v.SetDefault("logging.max_backups", c.Logging.MaxBackups)
	v.SetDefault("logging.max_age", c.Logging.MaxAge)
	v.SetDefault("logging.compress", c.Logging.Compress)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if _, err := c.Pipeline.CompressionConfig(); err != nil {
		return err
	}
	format, _ := compressor.ParseFormat(c.Pipeline.Format)
	c.Pipeline.Format = string(format)

	if c.Pipeline.BatchWindow <= 0 {
		c.Pipeline.BatchWindow = 3
	}
	if c.Pipeline.ItemTimeout < 0 {
		return fmt.Errorf("item_timeout must not be negative: %s", c.Pipeline.ItemTimeout)
	}

	if c.Upload.TempDir == "" {
		return fmt.Errorf("upload.temp_dir is required")
	}
	if c.Upload.MaxFileSize <= 0 {
		c.Upload.MaxFileSize = 5 * 1024 * 1024
	}
	c.Upload.AllowedMimeTypes = normalizeMimeTypes(c.Upload.AllowedMimeTypes)
	if len(c.Upload.AllowedMimeTypes) == 0 {
		c.Upload.AllowedMimeTypes = append([]string(nil), DefaultAllowedMimeTypes...)
	}

	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	switch c.Storage.Backend {
	case BackendLocal:
		if c.Storage.Local.Root == "" {
			return fmt.Errorf("storage.local.root is required for the local backend")
		}
	case BackendS3:
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required for the s3 backend")
		}
		if c.Storage.S3.Region == "" && c.Storage.S3.PublicBaseURL == "" {
			return fmt.Errorf("storage.s3.region or storage.s3.public_base_url is required")
		}
	default:
		return fmt.Errorf("invalid storage backend: %s (valid: local, s3)", c.Storage.Backend)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	return nil
}

// CompressionConfig converts the pipeline section into compressor defaults.
func (p PipelineConfig) CompressionConfig() (compressor.Config, error) {
	format, err := compressor.ParseFormat(p.Format)
	if err != nil {
		return compressor.Config{}, err
	}
	cfg := compressor.DefaultConfig().With(
		compressor.WithMaxSize(p.MaxWidth, p.MaxHeight),
		compressor.WithQuality(p.Quality),
		compressor.WithFormat(format),
		compressor.WithOutputDir(p.OutputDir),
	)
	if err := cfg.Validate(); err != nil {
		return compressor.Config{}, fmt.Errorf("invalid pipeline settings: %w", err)
	}
	return cfg, nil
}

// EnsureDirectories creates the temp and output directories and checks they are writable.
// Failure here is a fatal startup condition.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Upload.TempDir, c.Pipeline.OutputDir}
	if c.Storage.Backend == BackendLocal {
		dirs = append(dirs, c.Storage.Local.Root)
	}
	for _, dir := range dirs {
		if err := ensureWritableDir(dir); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func ensureWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("cannot create directory %s: %w", dir, err)
	}
	probe, err := os.CreateTemp(dir, ".write-check-*")
	if err != nil {
		return fmt.Errorf("directory %s is not writable: %w", dir, err)
	}
	name := probe.Name()
	probe.Close()
	return os.Remove(name)
}

func normalizeMimeTypes(types []string) []string {
	seen := make(map[string]bool, len(types))
	normalized := make([]string, 0, len(types))
	for _, t := range types {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		normalized = append(normalized, t)
	}
	return normalized
}
