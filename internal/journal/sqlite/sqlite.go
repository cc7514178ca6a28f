package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/AnatoliyZakhryapin/DeviceService/internal/journal"
)

type Pragmas struct {
	WAL         bool
	BusyTimeout time.Duration
}

type Config struct {
	Source  string
	Table   string
	Pragmas Pragmas
}

// Store пишет журнал в две таблицы: <table> (пачки) и <table>_readings (показания).
type Store struct {
	db    *sql.DB
	table string
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Source == "" {
		return nil, fmt.Errorf("sqlite: database path is empty")
	}
	table, err := journal.TableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	if strings.Contains(table, ".") {
		return nil, fmt.Errorf("sqlite: qualified table names are not supported: %s", table)
	}
	db, err := sql.Open("sqlite", cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// modernc/sqlite не любит параллельных писателей в один файл.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	store := &Store{db: db, table: table}
	if err := store.applyPragmas(ctx, cfg.Pragmas); err != nil {
		db.Close()
		return nil, err
	}
	if err := store.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

// Record сохраняет пачку и её показания в одной транзакции.
func (s *Store) Record(ctx context.Context, entry journal.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s(batch_id, fingerprint, tick_at, readings, uploaded, error) VALUES (?, ?, ?, ?, ?, ?)`, s.table),
		entry.BatchID,
		strconv.FormatUint(entry.Fingerprint, 16),
		entry.TickAt.UTC().Format(time.RFC3339Nano),
		len(entry.Readings),
		entry.Uploaded,
		entry.Error,
	)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite: insert batch %s: %w", entry.BatchID, err)
	}
	if len(entry.Readings) > 0 {
		stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
			`INSERT INTO %s_readings(batch_id, sensor_id, timestamp, time_usec, date, time, value) VALUES (?, ?, ?, ?, ?, ?, ?)`, s.table))
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite: prepare insert: %w", err)
		}
		for _, r := range entry.Readings {
			if _, err := stmt.ExecContext(ctx,
				entry.BatchID,
				r.SensorID,
				r.Timestamp.UTC().Format(time.RFC3339),
				r.Timestamp.Nanosecond()/1000,
				r.Date,
				r.Time,
				r.Value,
			); err != nil {
				stmt.Close()
				tx.Rollback()
				return fmt.Errorf("sqlite: insert reading of sensor %d: %w", r.SensorID, err)
			}
		}
		stmt.Close()
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

func (s *Store) applyPragmas(ctx context.Context, p Pragmas) error {
	var stmts []string
	if p.WAL {
		stmts = append(stmts, `PRAGMA journal_mode=WAL`)
	}
	if p.BusyTimeout > 0 {
		stmts = append(stmts, fmt.Sprintf(`PRAGMA busy_timeout=%d`, p.BusyTimeout.Milliseconds()))
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: %s: %w", stmt, err)
		}
	}
	return nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s(
			batch_id    TEXT PRIMARY KEY,
			fingerprint TEXT NOT NULL,
			tick_at     TEXT NOT NULL,
			readings    INTEGER NOT NULL,
			uploaded    INTEGER NOT NULL,
			error       TEXT NOT NULL DEFAULT ''
		)`, s.table),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_readings(
			batch_id  TEXT NOT NULL REFERENCES %s(batch_id),
			sensor_id INTEGER NOT NULL,
			timestamp TEXT NOT NULL,
			time_usec INTEGER NOT NULL DEFAULT 0,
			date      TEXT NOT NULL,
			time      TEXT NOT NULL,
			value     REAL NOT NULL
		)`, s.table, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_readings_sensor_ts ON %s_readings(sensor_id, timestamp)`, s.table, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: init schema: %w", err)
		}
	}
	return nil
}

func IsSource(src string) bool {
	if src == "" {
		return false
	}
	lower := strings.ToLower(src)
	switch {
	case strings.HasPrefix(lower, "sqlite://"),
		strings.HasPrefix(lower, "file:"),
		strings.HasSuffix(lower, ".db"),
		src == ":memory:":
		return true
	default:
		return false
	}
}

func NormalizeSource(src string) string {
	if strings.HasPrefix(src, "sqlite://") {
		return strings.TrimPrefix(src, "sqlite://")
	}
	return src
}
