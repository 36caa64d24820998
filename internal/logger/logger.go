package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Field keys shared by every pipeline stage, so one image can be followed through the log.
const (
	FieldFile      = "file"
	FieldStage     = "stage"
	FieldBackend   = "backend"
	FieldReference = "reference"
)

// Options controls where pipeline logs go.
type Options struct {
	Level string
	// File is rotated by lumberjack. Empty means console only.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	Console    bool
}

// New returns a JSON logger writing to the rotated file and, if requested, stdout.
func New(opts Options) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
	}

	out, err := output(opts)
	if err != nil {
		return nil, err
	}

	log := logrus.New()
	log.SetLevel(level)
	log.SetOutput(out)
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02 15:04:05",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "timestamp",
			logrus.FieldKeyMsg:  "message",
		},
	})
	return log, nil
}

func output(opts Options) (io.Writer, error) {
	if opts.File == "" {
		return os.Stdout, nil
	}
	if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	rotated := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}
	if !opts.Console {
		return rotated, nil
	}
	return io.MultiWriter(rotated, os.Stdout), nil
}

// NewDiscard returns a logger that drops every entry.
func NewDiscard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// ForFile tags entries with the image being processed and the pipeline stage handling it.
func ForFile(log *logrus.Logger, path, stage string) *logrus.Entry {
	return log.WithFields(logrus.Fields{
		FieldFile:  path,
		FieldStage: stage,
	})
}

// ForStage tags entries that concern a whole stage rather than one image.
func ForStage(log *logrus.Logger, stage string) *logrus.Entry {
	return log.WithField(FieldStage, stage)
}

// WithReference tags entries with a stored object.
func WithReference(log *logrus.Logger, backend, ref string) *logrus.Entry {
	return log.WithFields(logrus.Fields{
		FieldBackend:   backend,
		FieldReference: ref,
	})
}
