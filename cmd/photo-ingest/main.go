package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"photo-ingest-go/internal/batch"
	"photo-ingest-go/internal/cleanup"
	"photo-ingest-go/internal/compressor"
	"photo-ingest-go/internal/config"
	"photo-ingest-go/internal/logger"
	"photo-ingest-go/internal/pipeline"
	"photo-ingest-go/internal/statistics"
	"photo-ingest-go/internal/storage"
	"photo-ingest-go/internal/upload"
	"photo-ingest-go/internal/web"
)

var (
	cfgFile   string
	verbose   bool
	quiet     bool
	version   = "dev"
	buildTime string
	port      int

	maxWidth  int
	maxHeight int
	quality   int
	format    string
	outputDir string
	folder    string
	asJSON    bool
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "photo-ingest",
	Short: "Compress uploaded images and store them locally or in S3",
	Long: `photo-ingest takes freshly uploaded raw images, scales them to fit a bounding
box, re-encodes them (WebP by default) and hands the result to a storage backend.

Features:
- Aspect-preserving downscaling, never enlarging
- WebP, JPEG, PNG, GIF, TIFF and BMP output; quality above 90 switches to lossless
- Local filesystem or S3 storage
- Batches processed in windows of three
- Temporary files are always cleaned up`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// compressCmd compresses files without storing them.
var compressCmd = &cobra.Command{
	Use:   "compress <file>...",
	Short: "Compress images into the output directory, keeping the sources",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCompress(cmd, args)
	},
}

// ingestCmd runs the full pipeline.
var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Compress images and store them in the configured backend",
	Long: `Runs the full pipeline for every file: compress, store, clean up.
The source files are treated as temporary uploads and are removed afterwards,
whether or not ingestion succeeded.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(cmd, args)
	},
}

// removeCmd deletes a stored image.
var removeCmd = &cobra.Command{
	Use:   "remove <reference>",
	Short: "Remove a stored image by the reference returned from ingest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRemove(args[0])
	},
}

// serveCmd starts the upload server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the upload server",
	Long: `Starts an HTTP server that accepts multipart uploads on POST /api/photos,
streams pipeline events on /ws and exposes Prometheus metrics on /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	for _, cmd := range []*cobra.Command{compressCmd, ingestCmd} {
		addCompressionFlags(cmd.Flags())
		cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	}
	ingestCmd.Flags().StringVar(&folder, "folder", "", "storage folder (default from config)")

	serveCmd.Flags().IntVar(&port, "port", 0, "port to run the server on (default from config)")

	rootCmd.AddCommand(compressCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(serveCmd)
}

func addCompressionFlags(flags *pflag.FlagSet) {
	flags.IntVar(&maxWidth, "max-width", 0, "maximum output width")
	flags.IntVar(&maxHeight, "max-height", 0, "maximum output height")
	flags.IntVar(&quality, "quality", 0, "output quality 1-100; above 90 is lossless")
	flags.StringVar(&format, "format", "", "output format: webp, jpeg, png, gif, tiff, bmp")
	flags.StringVar(&outputDir, "output-dir", "", "directory for compressed files")
}

// initConfig loads a .env file so that PHOTO_INGEST_* variables can be kept next to the binary.
func initConfig() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: could not load .env: %v\n", err)
	}
}

// compressionOptions turns the flags that were set into compressor options.
// Unset flags leave the configured pipeline values in place.
func compressionOptions(cmd *cobra.Command) ([]compressor.Option, error) {
	var opts []compressor.Option
	flags := cmd.Flags()
	if flags.Changed("max-width") {
		opts = append(opts, compressor.WithMaxWidth(maxWidth))
	}
	if flags.Changed("max-height") {
		opts = append(opts, compressor.WithMaxHeight(maxHeight))
	}
	if flags.Changed("quality") {
		opts = append(opts, compressor.WithQuality(quality))
	}
	if flags.Changed("format") {
		f, err := compressor.ParseFormat(format)
		if err != nil {
			return nil, err
		}
		opts = append(opts, compressor.WithFormat(f))
	}
	if flags.Changed("output-dir") {
		opts = append(opts, compressor.WithOutputDir(outputDir))
	}
	return opts, nil
}

// runCompress compresses the given files and leaves the sources in place.
func runCompress(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := setupLogger(cfg)

	opts, err := compressionOptions(cmd)
	if err != nil {
		return err
	}
	defaults, err := cfg.Pipeline.CompressionConfig()
	if err != nil {
		return err
	}
	compCfg := defaults.With(opts...)
	if err := compCfg.Validate(); err != nil {
		return err
	}

	scheduler := batch.NewScheduler(cfg.Pipeline.BatchWindow, cfg.Pipeline.ItemTimeout)
	comp := compressor.NewDefaultCompressor(log, scheduler)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	outcomes := comp.CompressBatch(ctx, args, compCfg)
	return report(outcomes, func(res *compressor.Result) string {
		return fmt.Sprintf("%s -> %s (%dx%d, %s)", res.OriginalFile, res.CompressedFile, res.Width, res.Height, res.CompressionRatio)
	})
}

// runIngest runs the full pipeline over the given files.
func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := setupLogger(cfg)

	opts, err := compressionOptions(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, stats, err := buildPipeline(ctx, cfg, log, nil)
	if err != nil {
		return err
	}

	target := cfg.Pipeline.Folder
	if folder != "" {
		target = folder
	}

	outcomes := p.IngestBatch(ctx, args, target, opts...)
	err = report(outcomes, func(res *pipeline.Result) string {
		return fmt.Sprintf("%s -> %s (%s)", res.Compression.OriginalFile, res.Reference, res.Compression.CompressionRatio)
	})

	if !quiet && !asJSON {
		fmt.Println("\n" + stats.GetSummary())
	}
	return err
}

// runRemove deletes a stored image.
func runRemove(ref string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := setupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, _, err := buildPipeline(ctx, cfg, log, nil)
	if err != nil {
		return err
	}
	if err := p.Remove(ctx, ref); err != nil {
		return err
	}
	if !quiet {
		fmt.Printf("Removed %s\n", ref)
	}
	return nil
}

// runServe starts the web server and handles graceful shutdown.
func runServe(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := setupLogger(cfg)

	if cmd.Flags().Changed("port") {
		cfg.Server.Port = port
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	p, stats, err := buildPipeline(context.Background(), cfg, log, reg)
	if err != nil {
		return err
	}

	receiver := upload.NewReceiver(cfg.Upload.TempDir, upload.Validator{
		AllowedTypes: cfg.Upload.AllowedMimeTypes,
		MaxSize:      cfg.Upload.MaxFileSize,
	}, log)
	server := web.NewServer(cfg, log, p, receiver, stats, reg)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.Server.Port); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	if !quiet {
		fmt.Printf("photo-ingest %s listening on http://localhost:%d (backend: %s)\n", version, cfg.Server.Port, p.Backend().Name())
		fmt.Printf("Press Ctrl+C to stop the server\n\n")
	}

	select {
	case <-sigChan:
	case err := <-errChan:
		return fmt.Errorf("server failed: %w", err)
	}
	log.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	if !quiet {
		fmt.Println("\n" + stats.GetSummary())
	}
	return nil
}

// buildPipeline wires the backend, cleanup manager, statistics and compressor. reg may be nil.
func buildPipeline(ctx context.Context, cfg *config.Config, log *logrus.Logger, reg prometheus.Registerer) (*pipeline.Pipeline, *statistics.Statistics, error) {
	var metrics *statistics.Metrics
	if reg != nil {
		metrics = statistics.NewMetrics(reg)
	}
	stats := statistics.NewStatistics(metrics)

	defaults, err := cfg.Pipeline.CompressionConfig()
	if err != nil {
		return nil, nil, err
	}

	backend, err := storage.New(ctx, cfg.Storage, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create storage backend: %w", err)
	}

	cleanups := cleanup.NewManager(log, func(w *cleanup.Warning) {
		stats.RecordCleanupWarning(w.Path, w.Err)
	})
	scheduler := batch.NewScheduler(cfg.Pipeline.BatchWindow, cfg.Pipeline.ItemTimeout)
	comp := compressor.NewDefaultCompressor(log, scheduler)

	return pipeline.NewPipeline(comp, backend, cleanups, stats, log, defaults, scheduler), stats, nil
}

// report prints batch outcomes and returns an error when any item failed.
func report[T any](outcomes []batch.Outcome[T], describe func(T) string) error {
	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}

	if asJSON {
		type item struct {
			Input  string `json:"input"`
			Result T      `json:"result,omitempty"`
			Error  string `json:"error,omitempty"`
		}
		items := make([]item, 0, len(outcomes))
		for _, o := range outcomes {
			it := item{Input: o.Input, Result: o.Value}
			if o.Err != nil {
				it.Error = o.Err.Error()
			}
			items = append(items, it)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(items); err != nil {
			return err
		}
	} else if !quiet {
		for _, o := range outcomes {
			if o.Err != nil {
				fmt.Printf("FAILED %s: %v\n", o.Input, o.Err)
				continue
			}
			fmt.Println(describe(o.Value))
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(outcomes))
	}
	return nil
}

// loadConfig loads configuration and prepares the working directories.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	loggerCfg := logger.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.FilePath,
		MaxSizeMB:  cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
		Console:    !quiet && !asJSON,
	}

	if verbose {
		loggerCfg.Level = "debug"
	}
	if quiet {
		loggerCfg.Level = "error"
	}

	log, err := logger.New(loggerCfg)
	if err != nil {
		log = logrus.New()
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

func main() {
	if buildTime != "" {
		rootCmd.Version = fmt.Sprintf("%s (built %s)", version, buildTime)
	}
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
