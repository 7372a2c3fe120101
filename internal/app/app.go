// Package app wires the command line to the viewer pipeline.
package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"innerear/internal/logging"
	"innerear/internal/models"
	"innerear/pkg/config"
	"innerear/pkg/dataset"
	"innerear/pkg/formats"
	"innerear/pkg/scene"
	"innerear/pkg/visualization"
)

// Exit codes
const (
	exitOK      = 0
	exitFailure = 1
	exitMissing = 2
	exitLoad    = 3
)

type options struct {
	configPath    string
	dataDir       string
	snapshot      string
	extractSlices bool
	slicesDir     string
	cores         int
	exportSTL     string
	logLevel      string
	logFormat     string
	writeConfig   string
}

// ShowFunc displays a started session until the user closes it or ctx is
// cancelled.
type ShowFunc func(ctx context.Context, s *visualization.Session, logger *zap.Logger) error

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	var opts options
	fs := flag.NewFlagSet("innerear", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", "", "YAML configuration file (defaults are used when empty or missing)")
	fs.StringVar(&opts.dataDir, "data", "", "Dataset directory (default: configured directory or the working directory)")
	fs.StringVar(&opts.snapshot, "snapshot", "", "Render one frame to this WebP file and exit without opening a window")
	fs.BoolVar(&opts.extractSlices, "extract-slices", false, "Save every slice along all axes as WebP and exit")
	fs.StringVar(&opts.slicesDir, "slices-dir", "slices", "Directory for -extract-slices output")
	fs.IntVar(&opts.cores, "cores", runtime.NumCPU(), "Number of workers for -extract-slices")
	fs.StringVar(&opts.exportSTL, "export-stl", "", "Write every structure as binary STL into this directory and exit")
	fs.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&opts.logFormat, "log-format", "", "Log format: console or json")
	fs.StringVar(&opts.writeConfig, "write-config", "", "Write the default configuration to this file and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		fs.Usage()
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return &opts, nil
}

// loadConfig reads the configuration file and applies flag overrides.
func loadConfig(opts *options) (*config.Config, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.dataDir != "" {
		cfg.Dataset.Dir = opts.dataDir
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Log.Format = opts.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Run executes the command with args and returns the process exit code.
func Run(ctx context.Context, args []string, stderr io.Writer, show ShowFunc) int {
	opts, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "innerear: %v\n", err)
		return exitFailure
	}

	if opts.writeConfig != "" {
		if err := config.CreateDefaultConfigFile(opts.writeConfig); err != nil {
			fmt.Fprintf(stderr, "innerear: %v\n", err)
			return exitFailure
		}
		fmt.Fprintf(stderr, "wrote default configuration to %s\n", opts.writeConfig)
		return exitOK
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(stderr, "innerear: %v\n", err)
		return exitFailure
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(stderr, "innerear: %v\n", err)
		return exitFailure
	}
	defer logger.Sync()

	if err := view(ctx, cfg, opts, logger, show); err != nil {
		logger.Error("viewer failed", zap.Error(err))
		fmt.Fprintf(stderr, "innerear: %v\n", err)
		return exitCode(err)
	}
	return exitOK
}

// exitCode maps a fatal error to the process exit status.
func exitCode(err error) int {
	var missing *dataset.MissingFileError
	var load *formats.LoadError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &missing):
		return exitMissing
	case errors.As(err, &load):
		return exitLoad
	default:
		return exitFailure
	}
}

// view runs the pipeline: locate, build, then show the scene in a window or
// write the requested files headlessly.
func view(ctx context.Context, cfg *config.Config, opts *options, logger *zap.Logger, show ShowFunc) error {
	paths, err := dataset.Locate(cfg.Dataset)
	if err != nil {
		return err
	}
	logger.Info("located dataset",
		zap.String("dir", paths.Dir),
		zap.String("volume", paths.Volume),
		zap.Int("structures", len(paths.Surfaces)),
	)

	sc, err := scene.NewBuilder(formats.Default(), scene.StyleFromConfig(cfg.Display), logger).Build(paths)
	if err != nil {
		return err
	}

	session, err := visualization.Open(cfg.Display, logger)
	if err != nil {
		return err
	}
	defer session.Close()

	if err := session.Load(sc); err != nil {
		return err
	}

	if opts.extractSlices {
		if err := extractSlices(sc.Volume, cfg.Display, opts, logger); err != nil {
			return err
		}
	}

	if opts.exportSTL != "" {
		paths, err := sc.ExportSTL(opts.exportSTL)
		if err != nil {
			return err
		}
		logger.Info("exported meshes", zap.Int("count", len(paths)), zap.String("dir", opts.exportSTL))
	}

	if err := session.Start(); err != nil {
		return err
	}

	if opts.snapshot != "" {
		if err := session.Snapshot(opts.snapshot); err != nil {
			return err
		}
		logger.Info("wrote snapshot", zap.String("path", opts.snapshot))
		return nil
	}
	if opts.extractSlices || opts.exportSTL != "" {
		return nil
	}

	return show(ctx, session, logger)
}

// extractSlices writes every slice of every axis into its own directory under
// slicesDir. Axes run concurrently and share the worker budget.
func extractSlices(vol *models.Volume, d config.Display, opts *options, logger *zap.Logger) error {
	workers := max(1, opts.cores/len(models.Axes))

	var g errgroup.Group
	for _, axis := range models.Axes {
		g.Go(func() error {
			dir := filepath.Join(opts.slicesDir, strings.ToLower(axis.String()))
			n, err := visualization.ExportSliceSequence(vol, axis, d.ColorWindow, d.ColorLevel, dir, workers)
			if err != nil {
				return fmt.Errorf("extract %s slices: %w", axis, err)
			}
			logger.Info("extracted slices", zap.Stringer("axis", axis), zap.Int("count", n), zap.String("dir", dir))
			return nil
		})
	}
	return g.Wait()
}
