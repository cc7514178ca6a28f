package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/AnatoliyZakhryapin/DeviceService/internal/auth"
	"github.com/AnatoliyZakhryapin/DeviceService/internal/calibration"
	"github.com/AnatoliyZakhryapin/DeviceService/internal/journal/memjournal"
	"github.com/AnatoliyZakhryapin/DeviceService/internal/pipeline"
	"github.com/AnatoliyZakhryapin/DeviceService/internal/uplink"
	"github.com/AnatoliyZakhryapin/DeviceService/pkg/config"
)

type options struct {
	config  string
	source  string
	dryRun  bool
	timeout time.Duration
	verbose bool
}

// uplink-test выполняет один тик конвейера: логин, чтение CSV, калибровка, отправка.
func main() {
	opts := parseFlags()
	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(opts.config)
	if err != nil {
		fail(logger, "load config", err)
	}
	if opts.source != "" {
		cfg.Service.SourcePath = opts.source
	}
	if err := cfg.Validate(false); err != nil {
		fail(logger, "invalid config", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	httpClient := &http.Client{Timeout: cfg.RequestTimeout()}
	tokens := &auth.TokenCache{
		Endpoint:    cfg.Service.LoginEndpoint,
		Credentials: auth.Credentials{Username: cfg.Service.Username, Password: cfg.Service.Password},
		TTL:         cfg.TokenTTL(),
		HTTP:        httpClient,
		Logger:      logger,
	}
	var up uplink.Client = &uplink.HTTPClient{
		Endpoint: cfg.Service.DataEndpoint,
		HTTP:     httpClient,
		Logger:   logger,
		Attempts: cfg.Upload.Attempts,
		Delay:    cfg.UploadDelay(),
	}
	if opts.dryRun {
		up = &uplink.StdoutClient{Writer: os.Stdout}
	}

	jr := memjournal.New(1)
	offset, scale := cfg.CalibrationCoefficients()
	pipe := &pipeline.Pipeline{
		Source:    cfg.Service.SourcePath,
		Calibrate: calibration.Linear{Offset: offset, Scale: scale}.Func(),
		Tokens:    tokens,
		Uplink:    up,
		Journal:   jr,
		Logger:    logger,
	}
	rep := pipe.Tick(ctx)
	if rep.Err != nil {
		fail(logger, "tick failed at stage "+rep.Outcome, rep.Err)
	}

	fmt.Printf("Uplink test OK. Batch %s: %d readings uploaded (%d rows skipped) in %s, token valid until %s\n",
		rep.BatchID, rep.Readings, rep.Skipped, rep.Duration.Round(time.Millisecond), tokens.Expiry().Format(time.RFC3339))
	if entries := jr.Entries(); len(entries) == 1 {
		fmt.Printf("Fingerprint: %016x\n", entries[0].Fingerprint)
	}
}

func parseFlags() options {
	var opt options
	pflag.StringVarP(&opt.config, "config", "c", "appsettings.json", "path to configuration file")
	pflag.StringVar(&opt.source, "source", "", "sensor CSV path (overrides config)")
	pflag.BoolVar(&opt.dryRun, "dry-run", false, "authenticate but print the payload instead of uploading")
	pflag.DurationVar(&opt.timeout, "timeout", 30*time.Second, "overall timeout")
	pflag.BoolVarP(&opt.verbose, "verbose", "v", false, "debug logs")
	pflag.Parse()
	return opt
}

func fail(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "err", err)
	os.Exit(1)
}
