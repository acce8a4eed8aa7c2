package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/spf13/pflag"
	"gopkg.in/natefinch/lumberjack.v2"
	"libdb.so/micvis"
	"libdb.so/micvis/internal/audiograph"
	"libdb.so/micvis/internal/capture"
	"libdb.so/micvis/internal/capture/hostcapture"
	"libdb.so/micvis/internal/ledstrip"
	"libdb.so/micvis/internal/speaker"
	"libdb.so/micvis/internal/termpage"
	"libdb.so/micvis/internal/visualizer"
)

var (
	config       = "micvis.toml"
	verbose      = false
	logFile      = "micvis.log"
	headless     = false
	snapshot     = ""
	listBackends = false
)

func init() {
	pflag.StringVarP(&config, "config", "c", config, "configuration file")
	pflag.BoolVarP(&verbose, "verbose", "v", verbose, "verbose output")
	pflag.StringVar(&logFile, "log-file", logFile, "log file used while the terminal is in use")
	pflag.BoolVar(&headless, "headless", headless, "draw offscreen and start listening immediately")
	pflag.StringVar(&snapshot, "snapshot", snapshot, "write the last frame as a PNG on exit")
	pflag.BoolVar(&listBackends, "list-backends", listBackends, "list capture backends and exit")
}

func main() {
	pflag.Parse()

	if listBackends {
		for _, name := range hostcapture.Names() {
			fmt.Println(name)
		}
		return
	}

	logLevel := slog.LevelWarn
	if verbose {
		logLevel = slog.LevelDebug
	}

	// The terminal page owns stdout and stderr while it runs.
	var logOutput io.Writer = os.Stderr
	if !headless {
		logOutput = &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
		}
	}

	logger := slog.New(slog.NewTextHandler(logOutput, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := readConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	strategies, err := hostcapture.Named(cfg.Capture.Backends)
	if err != nil {
		return err
	}

	host := micvis.Host{
		Capture: capture.New(strategies...),
	}

	if cfg.Audio.Speakers {
		host.OpenOutput = func(sampleRate float64, blockSize int) (audiograph.Destination, error) {
			return speaker.Open(sampleRate, blockSize)
		}
	}

	if cfg.LEDs != nil {
		host.Mirrors = append(host.Mirrors, ledstrip.New(ledstrip.Config{
			Device:     cfg.LEDs.Device,
			Baud:       cfg.LEDs.Baud,
			Count:      cfg.LEDs.Count,
			AckTimeout: time.Duration(cfg.LEDs.AckTimeout),
		}, slog.Default()))
	}

	var snapshotSurface *visualizer.ImageSurface

	if headless {
		page := micvis.NewHeadlessPage(320, 150)
		host.Page = page
		snapshotSurface = page.Image()
		// Nobody is there to click.
		page.Click(micvis.BackgroundClick)
	} else {
		screen, err := tcell.NewScreen()
		if err != nil {
			return fmt.Errorf("failed to open terminal: %w", err)
		}

		page, err := termpage.New(screen)
		if err != nil {
			return err
		}
		defer page.Close()
		host.Page = page

		if snapshot != "" {
			w, h := page.Surface().Size()
			mirror := imageMirror{visualizer.NewImageSurface(w, h)}
			host.Mirrors = append(host.Mirrors, mirror)
			snapshotSurface = mirror.ImageSurface
		}
	}

	s, err := micvis.NewSession(cfg, host, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("session failed: %w", err)
	}

	if snapshot != "" {
		if err := writeSnapshot(snapshotSurface); err != nil {
			return err
		}
	}

	return nil
}

// imageMirror keeps an offscreen copy of the page for snapshots.
type imageMirror struct {
	*visualizer.ImageSurface
}

func (imageMirror) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func writeSnapshot(s *visualizer.ImageSurface) error {
	f, err := os.Create(snapshot)
	if err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}
	defer f.Close()

	if err := s.WritePNG(f); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return f.Close()
}

// readConfig reads the configuration file. A missing default file means the
// defaults; a missing file given with -c is an error.
func readConfig() (*micvis.Config, error) {
	f, err := os.Open(config)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !pflag.CommandLine.Changed("config") {
			return micvis.DefaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	cfg, err := micvis.ParseConfig(f)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}
	return cfg, nil
}
