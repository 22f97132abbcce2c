// Command basketbot runs the basket rotation bot. It loads and validates
// the configuration, sets up logging and signal handling, and runs the
// configured mode.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alanyoungcy/basketbot/internal/app"
	"github.com/alanyoungcy/basketbot/internal/config"
	"github.com/alanyoungcy/basketbot/internal/crypto"
	"github.com/alanyoungcy/basketbot/internal/logging"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stderr))
}

// run executes the command and returns its exit code. Every return path
// runs the deferred log close, so a rotating log file is released before
// the process exits.
func run(args []string, stdin io.Reader, stderr io.Writer) int {
	fs := flag.NewFlagSet("basketbot", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "config.toml", "path to configuration file")
	mode := fs.String("mode", "", "override the configured mode (run, api, once, status, export)")
	day := fs.String("day", "", "UTC day exported by the export mode, YYYY-MM-DD (default yesterday)")
	encryptTo := fs.String("encrypt-secret", "", "read a 3Commas API secret from stdin, encrypt it with BASKETBOT_THREECOMMAS_SECRET_PASSWORD and write it to this path")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *encryptTo != "" {
		if err := encryptSecret(*encryptTo, stdin); err != nil {
			fmt.Fprintf(stderr, "encrypt-secret: %v\n", err)
			return 1
		}
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load config %s: %v\n", *configPath, err)
		return 1
	}
	if *mode != "" {
		cfg.Mode = strings.ToLower(*mode)
	}

	logger, logCloser := logging.New(logging.Options{
		Level:      cfg.LogLevel,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	defer logCloser.Close()
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return 1
	}

	opts := app.Options{}
	if *day != "" {
		d, err := time.Parse(time.DateOnly, *day)
		if err != nil {
			logger.Error("invalid -day", slog.String("day", *day), slog.String("error", err.Error()))
			return 1
		}
		opts.ExportDay = d
	}

	logger.Info("basketbot starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)

	application := app.New(cfg, opts, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = application.Run(ctx)
	stop()
	application.Close()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("basketbot exited with error", slog.String("error", err.Error()))
		return 1
	}
	logger.Info("basketbot stopped")
	return 0
}

func encryptSecret(path string, stdin io.Reader) error {
	password := os.Getenv("BASKETBOT_THREECOMMAS_SECRET_PASSWORD")
	if password == "" {
		return errors.New("BASKETBOT_THREECOMMAS_SECRET_PASSWORD is not set")
	}
	secret, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && secret == "" {
		return fmt.Errorf("reading secret: %w", err)
	}
	blob, err := crypto.EncryptSecret(strings.TrimSpace(secret), password)
	if err != nil {
		return err
	}
	return os.WriteFile(path, blob, 0o600)
}
