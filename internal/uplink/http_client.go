package uplink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/AnatoliyZakhryapin/DeviceService/internal/faults"
)

const (
	DefaultAttempts = 3
	DefaultDelay    = time.Second
)

// SleepFunc ждёт d между попытками.
type SleepFunc func(ctx context.Context, d time.Duration) error

// HTTPClient отправляет пачку POST-запросом с bearer-токеном.
// Попытка успешна только при статусе 2xx; остальные статусы и ошибки транспорта
// логируются, пока не исчерпан бюджет Attempts. Пауза между попытками фиксированная.
type HTTPClient struct {
	Endpoint  string
	HTTP      *http.Client
	Logger    *slog.Logger
	Attempts  int
	Delay     time.Duration
	Sleep     SleepFunc
	OnAttempt func(ok bool)

	mu            sync.Mutex
	totalDuration time.Duration
	totalCalls    int64
}

// Send сериализует пачку и пытается доставить её до Attempts раз.
func (c *HTTPClient) Send(ctx context.Context, batch Batch) error {
	if c == nil {
		return fmt.Errorf("http client: nil receiver")
	}
	if c.Endpoint == "" {
		return fmt.Errorf("http client: Endpoint is empty")
	}
	payload, err := encodeReadings(batch.Readings)
	if err != nil {
		return err
	}

	attempts := c.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	delay := c.Delay
	if delay <= 0 {
		delay = DefaultDelay
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = c.post(ctx, batch, payload)
		if c.OnAttempt != nil {
			c.OnAttempt(lastErr == nil)
		}
		if lastErr == nil {
			return nil
		}
		c.logger().Warn("failed to send data",
			"attempt", fmt.Sprintf("%d/%d", attempt, attempts),
			"batch_id", batch.ID,
			"err", lastErr)
		if attempt == attempts {
			break
		}
		if err := c.sleep(ctx, delay); err != nil {
			return faults.Upload(attempt, err)
		}
	}
	return faults.Upload(attempts, lastErr)
}

func (c *HTTPClient) post(ctx context.Context, batch Batch, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("http client: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+batch.Token)
	if batch.ID != "" {
		req.Header.Set("X-Batch-ID", batch.ID)
	}

	start := time.Now()
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("http client: do request: %w", err)
	}
	defer resp.Body.Close()

	elapsed := time.Since(start)
	c.mu.Lock()
	c.totalDuration += elapsed
	c.totalCalls++
	avg := time.Duration(int64(c.totalDuration) / c.totalCalls)
	calls := c.totalCalls
	c.mu.Unlock()
	c.logger().Debug("data POST",
		"url", c.Endpoint, "status", resp.Status, "elapsed", elapsed, "avg", avg, "calls", calls)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("http client: POST failed: status=%s body=%s", resp.Status, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *HTTPClient) sleep(ctx context.Context, d time.Duration) error {
	if c.Sleep != nil {
		return c.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *HTTPClient) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func (c *HTTPClient) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
