// Package auth хранит bearer-токен удалённого сервера и обновляет его по требованию.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/AnatoliyZakhryapin/DeviceService/internal/faults"
)

// Credentials содержит учётные данные для логина.
type Credentials struct {
	Username string
	Password string
}

// Observer получает результат каждого запроса логина (метрики).
type Observer func(ok bool)

// TokenCache держит текущий токен и срок его действия.
// Токен и срок всегда обновляются вместе, под одним мьютексом.
type TokenCache struct {
	Endpoint    string
	Credentials Credentials
	TTL         time.Duration
	HTTP        *http.Client
	Logger      *slog.Logger
	Now         func() time.Time
	OnLogin     Observer

	mu     sync.Mutex
	token  string
	expiry time.Time
}

type loginRequest struct {
	Email    string `json:"Email"`
	Password string `json:"Password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// Authenticate выполняет логин и при успехе заменяет токен.
// При любой ошибке предыдущее состояние не меняется. Повторов нет, решает вызывающий.
func (c *TokenCache) Authenticate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticateLocked(ctx)
}

// EnsureValid ничего не делает, если токен есть и не истёк; иначе выполняет Authenticate.
func (c *TokenCache) EnsureValid(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.validLocked() {
		return nil
	}
	c.logger().Warn("token is expired or not available, authenticating")
	return c.authenticateLocked(ctx)
}

// Token возвращает текущий токен (может быть пустым или истёкшим).
func (c *TokenCache) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Expiry возвращает момент истечения текущего токена.
func (c *TokenCache) Expiry() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expiry
}

// Valid сообщает, пригоден ли токен прямо сейчас.
func (c *TokenCache) Valid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.validLocked()
}

func (c *TokenCache) validLocked() bool {
	return c.token != "" && c.now().Before(c.expiry)
}

func (c *TokenCache) authenticateLocked(ctx context.Context) error {
	token, err := c.login(ctx)
	if c.OnLogin != nil {
		c.OnLogin(err == nil)
	}
	if err != nil {
		c.logger().Error("authentication failed", "endpoint", c.Endpoint, "err", err)
		return faults.Auth("login", err)
	}
	c.token = token
	c.expiry = c.now().Add(c.TTL)
	c.logger().Info("authentication successful, token obtained", "expires", c.expiry.Format(time.RFC3339))
	return nil
}

func (c *TokenCache) login(ctx context.Context) (string, error) {
	if c.Endpoint == "" {
		return "", fmt.Errorf("login endpoint is empty")
	}
	body, err := json.Marshal(loginRequest{Email: c.Credentials.Username, Password: c.Credentials.Password})
	if err != nil {
		return "", fmt.Errorf("encode login request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("status=%s body=%s", resp.Status, strings.TrimSpace(string(snippet)))
	}
	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}
	if out.Token == "" {
		return "", faults.ErrNoToken
	}
	return out.Token, nil
}

func (c *TokenCache) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func (c *TokenCache) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *TokenCache) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
