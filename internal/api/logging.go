package api

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
)

// accessLog пишет строку на каждый запрос через slog; уровень Debug, чтобы не шуметь без --debug.
func accessLog(logger *slog.Logger, next http.Handler) http.Handler {
	return handlers.CustomLoggingHandler(io.Discard, next, func(_ io.Writer, p handlers.LogFormatterParams) {
		logger.Debug("http request",
			"method", p.Request.Method,
			"path", p.URL.Path,
			"status", p.StatusCode,
			"size", p.Size,
			"remote", p.Request.RemoteAddr,
			"elapsed", time.Since(p.TimeStamp))
	})
}

// recoveryLogger отдаёт паники из хендлеров в slog.
type recoveryLogger struct{ logger *slog.Logger }

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error("http handler panic", "panic", v)
}
