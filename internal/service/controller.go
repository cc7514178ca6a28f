// Package service управляет жизненным циклом периодического конвейера: Stopped ↔ Running.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AnatoliyZakhryapin/DeviceService/internal/metrics"
	"github.com/AnatoliyZakhryapin/DeviceService/internal/pipeline"
)

type State string

// ErrClosed возвращается из Start и Restart после Shutdown.
var ErrClosed = errors.New("service: controller is shut down")

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
)

// Ticker выполняет один тик конвейера.
type Ticker interface {
	Tick(ctx context.Context) pipeline.Report
}

// Authenticator выполняет разовую аутентификацию перед запуском таймера.
type Authenticator interface {
	Authenticate(ctx context.Context) error
}

// Status содержит снимок состояния для панели управления.
type Status struct {
	State     State     `json:"state"`
	Since     time.Time `json:"since"`
	LastError string    `json:"last_error,omitempty"`
}

type Config struct {
	Interval time.Duration
	Pipeline Ticker
	Auth     Authenticator
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Controller держит одну блокировку на Start/Stop/Restart/Status, поэтому два
// одновременных Start не взведут два таймера.
type Controller struct {
	mu sync.Mutex

	interval time.Duration
	pipeline Ticker
	auth     Authenticator
	metrics  *metrics.Metrics
	logger   *slog.Logger

	state   State
	since   time.Time
	lastErr error
	run     *schedule
	closed  bool

	// inflight учитывает тики, запущенные любым планировщиком; ждёт его только Shutdown.
	inflight sync.WaitGroup
}

// schedule — один взведённый таймер.
type schedule struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config) (*Controller, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("service: interval must be > 0")
	}
	if cfg.Pipeline == nil || cfg.Auth == nil {
		return nil, fmt.Errorf("service: pipeline and auth must be set")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		interval: cfg.Interval,
		pipeline: cfg.Pipeline,
		auth:     cfg.Auth,
		metrics:  cfg.Metrics,
		logger:   logger,
		state:    StateStopped,
		since:    time.Now(),
	}, nil
}

// Start аутентифицируется и взводит таймер. changed=false, если сервис уже работал
// или аутентификация не удалась (тогда возвращается ошибка и сервис остаётся Stopped).
func (c *Controller) Start(ctx context.Context) (changed bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startLocked(ctx)
}

// Stop снимает таймер. Тик, который уже выполняется, доработает сам.
func (c *Controller) Stop() (changed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked()
}

// Restart = Stop + Start под одной блокировкой. Неудачный повторный старт оставляет сервис Stopped.
func (c *Controller) Restart(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger.Info("restarting service")
	c.stopLocked()
	_, err := c.startLocked(ctx)
	return err
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{State: c.state, Since: c.since}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}

// Shutdown снимает таймер и ждёт незавершённые тики, пока не истечёт ctx.
// После Shutdown контроллер закрыт: Start и Restart возвращают ErrClosed.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.stopLocked()
	c.mu.Unlock()

	done := make(chan struct{})
	// По истечении ctx горутина остаётся ждать тик; повторный Shutdown заводит ещё одну.
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		c.logger.Warn("abandoning in-flight tick", "err", ctx.Err())
		return fmt.Errorf("service: shutdown: %w", ctx.Err())
	}
}

func (c *Controller) startLocked(ctx context.Context) (bool, error) {
	if c.closed {
		c.logger.Info("service is shut down, start ignored")
		return false, ErrClosed
	}
	if c.state == StateRunning {
		c.logger.Info("service is already running")
		return false, nil
	}
	c.logger.Info("starting service")
	if err := c.auth.Authenticate(ctx); err != nil {
		c.lastErr = err
		c.logger.Error("initial authentication failed, service cannot start without a valid token", "err", err)
		return false, fmt.Errorf("service: start: %w", err)
	}
	c.logger.Info("initial authentication successful", "interval", c.interval)

	// Таймер живёт на своём контексте: ответ HTTP-хендлера не должен его гасить.
	runCtx, cancel := context.WithCancel(context.Background())
	run := &schedule{cancel: cancel, done: make(chan struct{})}
	go c.loop(runCtx, run.done)

	c.run = run
	c.lastErr = nil
	c.setState(StateRunning)
	return true, nil
}

func (c *Controller) stopLocked() bool {
	if c.state != StateRunning {
		c.logger.Info("service is not running")
		return false
	}
	c.logger.Info("stopping service")
	c.run.cancel()
	<-c.run.done
	c.run = nil
	c.setState(StateStopped)
	return true
}

func (c *Controller) setState(s State) {
	c.state = s
	c.since = time.Now()
	c.metrics.SetRunning(s == StateRunning)
}

// loop запускает тик на каждый сигнал таймера. Перекрытие тиков отсекает сам конвейер.
func (c *Controller) loop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			c.inflight.Add(1)
			go func() {
				defer c.inflight.Done()
				c.pipeline.Tick(context.WithoutCancel(ctx))
			}()
		}
	}
}
