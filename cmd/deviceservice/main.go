package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/AnatoliyZakhryapin/DeviceService/internal/api"
	"github.com/AnatoliyZakhryapin/DeviceService/internal/auth"
	"github.com/AnatoliyZakhryapin/DeviceService/internal/calibration"
	"github.com/AnatoliyZakhryapin/DeviceService/internal/metrics"
	"github.com/AnatoliyZakhryapin/DeviceService/internal/pipeline"
	"github.com/AnatoliyZakhryapin/DeviceService/internal/service"
	"github.com/AnatoliyZakhryapin/DeviceService/internal/uplink"
	"github.com/AnatoliyZakhryapin/DeviceService/pkg/config"
)

type options struct {
	config        string
	httpAddr      string
	noControl     bool
	source        string
	output        string
	journal       string
	journalTable  string
	stdinStop     bool
	shutdownGrace time.Duration
	logFile       string
	logFormat     string
	debug         bool
	version       bool
	generateCfg   string
}

const version = "1.0.0"

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if opts.version {
		fmt.Println("deviceservice", version)
		return
	}
	if opts.generateCfg != "" {
		if err := generateExampleConfig(opts.generateCfg); err != nil {
			fmt.Fprintf(os.Stderr, "write example config: %v\n", err)
			os.Exit(1)
		}
		return
	}

	logger, closeLog, err := newLogger(opts.logFormat, opts.debug, opts.logFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "log file: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()
	slog.SetDefault(logger)

	if err := run(opts, logger); err != nil {
		logger.Error("deviceservice stopped with error", "err", err)
		closeLog()
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var opt options
	fs := pflag.NewFlagSet("deviceservice", pflag.ContinueOnError)

	fs.StringVarP(&opt.config, "config", "c", "appsettings.json", "path to configuration file (appsettings JSON or YAML)")
	fs.StringVar(&opt.httpAddr, "http-addr", "", "control server address (overrides control.addr)")
	fs.BoolVar(&opt.noControl, "no-control", false, "do not run the control server")
	fs.StringVar(&opt.source, "source", "", "sensor CSV path (overrides service.source_path)")
	fs.StringVar(&opt.output, "output", "http", "upload target: http or stdout (dry run)")
	fs.StringVar(&opt.journal, "journal", "", "journal DSN: sqlite://file.db, postgres://..., clickhouse://..., influxdb://..., memory: (quote it in YAML)")
	fs.StringVar(&opt.journalTable, "journal-table", "", "journal table or measurement name (overrides journal.table)")
	fs.BoolVar(&opt.stdinStop, "stdin-stop", false, "stop the service when Enter is pressed")
	fs.DurationVar(&opt.shutdownGrace, "shutdown-grace", 5*time.Second, "how long to wait for an in-flight tick on shutdown")
	fs.StringVar(&opt.logFile, "log-file", "", "write logs to file instead of stderr")
	fs.StringVar(&opt.logFormat, "log-format", "text", "log format: text or json")
	fs.BoolVar(&opt.debug, "debug", false, "enable debug logs")
	fs.BoolVar(&opt.version, "version", false, "print version and exit")
	fs.StringVar(&opt.generateCfg, "generate-config", "", "write example YAML config to file (use '-' for stdout)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: deviceservice [options]\n\n")
		fmt.Fprintln(os.Stderr, "Periodically uploads calibrated sensor readings. Example:")
		fmt.Fprintln(os.Stderr, "  deviceservice --config appsettings.json --journal sqlite://journal.db")
		fmt.Fprintln(os.Stderr)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return opt, err
	}
	if opt.output != "http" && opt.output != "stdout" {
		return opt, fmt.Errorf("--output must be http or stdout, got %q", opt.output)
	}
	return opt, nil
}

// applyOverrides переносит флаги командной строки поверх файла конфигурации.
func applyOverrides(cfg *config.Config, opt options) {
	if opt.httpAddr != "" {
		cfg.Control.Addr = opt.httpAddr
	}
	if opt.source != "" {
		cfg.Service.SourcePath = opt.source
	}
	if opt.journal != "" {
		cfg.Journal.DSN = opt.journal
	}
	if opt.journalTable != "" {
		cfg.Journal.Table = opt.journalTable
	}
}

func run(opt options, logger *slog.Logger) error {
	cfg, err := config.Load(opt.config)
	if err != nil {
		return err
	}
	applyOverrides(cfg, opt)
	controlEnabled := !opt.noControl
	if err := cfg.Validate(controlEnabled); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	httpClient := &http.Client{Timeout: cfg.RequestTimeout()}

	tokens := &auth.TokenCache{
		Endpoint:    cfg.Service.LoginEndpoint,
		Credentials: auth.Credentials{Username: cfg.Service.Username, Password: cfg.Service.Password},
		TTL:         cfg.TokenTTL(),
		HTTP:        httpClient,
		Logger:      logger.With("component", "auth"),
		OnLogin:     m.AuthRequest,
	}

	var up uplink.Client = &uplink.HTTPClient{
		Endpoint:  cfg.Service.DataEndpoint,
		HTTP:      httpClient,
		Logger:    logger.With("component", "uplink"),
		Attempts:  cfg.Upload.Attempts,
		Delay:     cfg.UploadDelay(),
		OnAttempt: m.UploadAttempt,
	}
	if opt.output == "stdout" {
		up = &uplink.StdoutClient{Writer: os.Stdout}
	}

	jr, err := openJournal(ctx, cfg.Journal, logger.With("component", "journal"))
	if err != nil {
		return err
	}
	defer jr.Close()

	offset, scale := cfg.CalibrationCoefficients()
	pipe := &pipeline.Pipeline{
		Source:    cfg.Service.SourcePath,
		Calibrate: calibration.Linear{Offset: offset, Scale: scale}.Func(),
		Tokens:    tokens,
		Uplink:    up,
		Journal:   jr,
		Metrics:   m,
		Logger:    logger.With("component", "pipeline"),
	}
	ctrl, err := service.New(service.Config{
		Interval: cfg.PollInterval(),
		Pipeline: pipe,
		Auth:     tokens,
		Metrics:  m,
		Logger:   logger.With("component", "service"),
	})
	if err != nil {
		return err
	}

	logger.Info("deviceservice starting",
		"version", version,
		"source", cfg.Service.SourcePath,
		"interval", cfg.PollInterval(),
		"output", opt.output,
		"journal", journalKind(cfg.Journal.DSN))

	g, gctx := errgroup.WithContext(ctx)
	if controlEnabled {
		validator, err := api.NewTokenValidator(cfg.JWT)
		if err != nil {
			return err
		}
		server := api.NewServer(api.ServerConfig{
			Lifecycle: ctrl,
			Tokens:    validator,
			Metrics:   m.Handler(),
			Logger:    logger.With("component", "control"),
		})
		g.Go(func() error {
			if err := server.Listen(gctx, cfg.Control.Addr, cfg.Control.TLSCert, cfg.Control.TLSKey); err != nil {
				return fmt.Errorf("control server: %w", err)
			}
			return nil
		})
	}

	if _, err := ctrl.Start(gctx); err != nil && !controlEnabled {
		// Без пульта сервис нельзя будет запустить повторно.
		return err
	}

	if opt.stdinStop {
		fmt.Println("Press Enter to stop the service...")
		g.Go(func() error {
			waitForEnter(gctx)
			stop()
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", "grace", opt.shutdownGrace)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), opt.shutdownGrace)
		defer cancel()
		if err := ctrl.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown incomplete", "err", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("deviceservice stopped")
	return nil
}

// waitForEnter возвращается по Enter в stdin или по отмене ctx.
func waitForEnter(ctx context.Context) {
	lines := make(chan struct{})
	go func() {
		_, _ = bufio.NewReader(os.Stdin).ReadString('\n')
		close(lines)
	}()
	select {
	case <-lines:
	case <-ctx.Done():
	}
}

func generateExampleConfig(path string) error {
	if path == "-" {
		_, err := os.Stdout.WriteString(config.ExampleYAML)
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(config.ExampleYAML), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("Example config written to %s\n", path)
	return nil
}
