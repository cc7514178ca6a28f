package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// newLogger собирает slog-логгер. Возвращаемая функция закрывает файл лога, если он открыт.
func newLogger(format string, debug bool, path string) (*slog.Logger, func(), error) {
	var out io.Writer = os.Stderr
	closeFn := func() {}
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		out = f
		closeFn = func() { _ = f.Close() }
	}
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}
	switch format {
	case "", "text":
		return slog.New(slog.NewTextHandler(out, hopts)), closeFn, nil
	case "json":
		return slog.New(slog.NewJSONHandler(out, hopts)), closeFn, nil
	default:
		closeFn()
		return nil, nil, fmt.Errorf("unknown log format %q", format)
	}
}
