// Package uplink отправляет откалиброванные показания на удалённый сервер.
package uplink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/AnatoliyZakhryapin/DeviceService/internal/sensor"
)

// Batch содержит показания одного тика.
type Batch struct {
	ID       string // uuid тика, уходит в заголовке X-Batch-ID
	Token    string // bearer-токен сервера
	Readings []sensor.Reading
}

// Client доставляет пачку получателю.
type Client interface {
	Send(ctx context.Context, batch Batch) error
}

// StdoutClient печатает JSON пачки в writer (режим --output=stdout).
type StdoutClient struct {
	Writer io.Writer
}

func (c *StdoutClient) Send(_ context.Context, batch Batch) error {
	if c.Writer == nil {
		return fmt.Errorf("stdout client: writer is not set")
	}
	payload, err := encodeReadings(batch.Readings)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.Writer, "BATCH %s (%d readings): %s\n", batch.ID, len(batch.Readings), payload)
	return err
}

// encodeReadings сериализует пачку в JSON-массив; пустая пачка даёт "[]", а не "null".
func encodeReadings(readings []sensor.Reading) ([]byte, error) {
	if readings == nil {
		readings = []sensor.Reading{}
	}
	payload, err := json.Marshal(readings)
	if err != nil {
		return nil, fmt.Errorf("uplink: encode payload: %w", err)
	}
	return payload, nil
}
