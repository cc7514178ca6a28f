package journal

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/AnatoliyZakhryapin/DeviceService/internal/sensor"
)

// Entry описывает запись об одной пачке тика: что прочитано, откалибровано и чем закончилась отправка.
type Entry struct {
	BatchID     string
	Fingerprint uint64
	TickAt      time.Time
	Readings    []sensor.Reading
	Uploaded    bool
	Error       string
}

// Journal — локальный журнал отправленных пачек (sqlite, postgres, clickhouse, influxdb...).
// Журнал только пишется; при старте ничего не читается обратно.
type Journal interface {
	// Record сохраняет запись. Ошибка журнала не влияет на исход тика.
	Record(ctx context.Context, entry Entry) error
	Close()
}

// Nop ничего не сохраняет.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }
func (Nop) Close()                              {}

// DefaultTable используется, если имя таблицы не задано.
const DefaultTable = "device_uploads"

var tableRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// TableName возвращает имя таблицы или ошибку, если оно не годится как SQL-идентификатор.
// Допускается форма db.table (для ClickHouse).
func TableName(name string) (string, error) {
	if name == "" {
		return DefaultTable, nil
	}
	if !tableRe.MatchString(name) {
		return "", fmt.Errorf("journal: invalid table name %q", name)
	}
	return name, nil
}
