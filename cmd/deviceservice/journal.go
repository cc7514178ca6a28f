package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AnatoliyZakhryapin/DeviceService/internal/journal"
	"github.com/AnatoliyZakhryapin/DeviceService/internal/journal/clickhouse"
	"github.com/AnatoliyZakhryapin/DeviceService/internal/journal/influxdb"
	"github.com/AnatoliyZakhryapin/DeviceService/internal/journal/memjournal"
	"github.com/AnatoliyZakhryapin/DeviceService/internal/journal/postgres"
	sqliteJournal "github.com/AnatoliyZakhryapin/DeviceService/internal/journal/sqlite"
	"github.com/AnatoliyZakhryapin/DeviceService/pkg/config"
)

const memoryDSN = "memory:"

// isMemoryDSN принимает и "memory://": голое memory: в YAML без кавычек не разбирается.
func isMemoryDSN(dsn string) bool {
	return dsn == memoryDSN || dsn == memoryDSN+"//"
}

// openJournal выбирает бэкенд журнала по DSN. Пустой DSN выключает журнал.
func openJournal(ctx context.Context, cfg config.JournalConfig, logger *slog.Logger) (journal.Journal, error) {
	dsn := cfg.DSN
	switch {
	case dsn == "":
		return journal.Nop{}, nil
	case isMemoryDSN(dsn):
		return memjournal.New(0), nil
	case postgres.IsPostgresURL(dsn):
		store, err := postgres.New(ctx, postgres.Config{ConnString: dsn, Table: cfg.Table, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("postgres journal: %w", err)
		}
		return store, nil
	case clickhouse.IsSource(dsn):
		store, err := clickhouse.New(ctx, clickhouse.Config{DSN: dsn, Table: cfg.Table})
		if err != nil {
			return nil, fmt.Errorf("clickhouse journal: %w", err)
		}
		return store, nil
	case influxdb.IsSource(dsn):
		store, err := influxdb.New(ctx, influxdb.Config{DSN: dsn, Measurement: cfg.Table, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("influxdb journal: %w", err)
		}
		return store, nil
	case sqliteJournal.IsSource(dsn):
		store, err := sqliteJournal.New(ctx, sqliteJournal.Config{
			Source:  sqliteJournal.NormalizeSource(dsn),
			Table:   cfg.Table,
			Pragmas: sqliteJournal.Pragmas{WAL: true, BusyTimeout: cfg.BusyTimeoutDuration()},
		})
		if err != nil {
			return nil, fmt.Errorf("sqlite journal: %w", err)
		}
		return store, nil
	}
	return nil, fmt.Errorf("unsupported journal DSN: %s", dsn)
}

// journalKind возвращает тип журнала для лога, не раскрывая учётные данные из DSN.
func journalKind(dsn string) string {
	switch {
	case dsn == "":
		return "off"
	case isMemoryDSN(dsn):
		return "memory"
	case postgres.IsPostgresURL(dsn):
		return "postgres"
	case clickhouse.IsSource(dsn):
		return "clickhouse"
	case influxdb.IsSource(dsn):
		return "influxdb"
	case sqliteJournal.IsSource(dsn):
		return "sqlite"
	}
	return strings.SplitN(dsn, ":", 2)[0]
}
