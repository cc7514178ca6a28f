package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AnatoliyZakhryapin/DeviceService/internal/journal"
	"github.com/AnatoliyZakhryapin/DeviceService/internal/sensor"
)

type Config struct {
	ConnString string
	Table      string
	MaxConns   int32
	Logger     *slog.Logger
}

type Store struct {
	pool   *pgxpool.Pool
	table  string
	logger *slog.Logger
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.ConnString == "" {
		return nil, fmt.Errorf("postgres: connection string is empty")
	}
	table, err := journal.TableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}

	store := &Store{pool: pool, table: table, logger: logger}
	if err := store.checkTimezone(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// checkTimezone только предупреждает: все метки пишутся как timestamptz в UTC.
func (s *Store) checkTimezone(ctx context.Context) error {
	var tz string
	if err := s.pool.QueryRow(ctx, "SHOW timezone").Scan(&tz); err != nil {
		return fmt.Errorf("postgres: failed to check timezone: %w", err)
	}
	if tz == "UTC" || tz == "Etc/UTC" {
		s.logger.Debug("postgres timezone", "tz", tz)
		return nil
	}
	s.logger.Warn("postgres: database timezone is not UTC, timestamps are stored as timestamptz", "tz", tz)
	return nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s(
			batch_id    TEXT PRIMARY KEY,
			fingerprint TEXT NOT NULL,
			tick_at     TIMESTAMPTZ NOT NULL,
			readings    INTEGER NOT NULL,
			uploaded    BOOLEAN NOT NULL,
			error       TEXT NOT NULL DEFAULT ''
		)`, s.table),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s(
			batch_id  TEXT NOT NULL,
			sensor_id INTEGER NOT NULL,
			ts        TIMESTAMPTZ NOT NULL,
			date      TEXT NOT NULL,
			time      TEXT NOT NULL,
			value     DOUBLE PRECISION NOT NULL
		)`, readingsTable(s.table)),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Record пишет пачку и показания (через COPY) в одной транзакции.
func (s *Store) Record(ctx context.Context, entry journal.Entry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s(batch_id, fingerprint, tick_at, readings, uploaded, error) VALUES ($1, $2, $3, $4, $5, $6)`, s.table),
		entry.BatchID,
		strconv.FormatUint(entry.Fingerprint, 16),
		entry.TickAt.UTC(),
		len(entry.Readings),
		entry.Uploaded,
		entry.Error,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert batch %s: %w", entry.BatchID, err)
	}
	if len(entry.Readings) > 0 {
		n, err := tx.CopyFrom(ctx, tableIdentifier(readingsTable(s.table)),
			[]string{"batch_id", "sensor_id", "ts", "date", "time", "value"},
			pgx.CopyFromRows(readingRows(entry.BatchID, entry.Readings)))
		if err != nil {
			return fmt.Errorf("postgres: copy readings: %w", err)
		}
		if int(n) != len(entry.Readings) {
			return fmt.Errorf("postgres: copied %d of %d readings", n, len(entry.Readings))
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func readingRows(batchID string, readings []sensor.Reading) [][]any {
	rows := make([][]any, 0, len(readings))
	for _, r := range readings {
		rows = append(rows, []any{batchID, int32(r.SensorID), r.Timestamp.UTC(), r.Date, r.Time, r.Value})
	}
	return rows
}

func readingsTable(table string) string {
	return table + "_readings"
}

// tableIdentifier разбирает schema.table для COPY.
func tableIdentifier(table string) pgx.Identifier {
	return pgx.Identifier(strings.Split(table, "."))
}

func IsPostgresURL(db string) bool {
	return strings.HasPrefix(db, "postgres://") || strings.HasPrefix(db, "postgresql://")
}
