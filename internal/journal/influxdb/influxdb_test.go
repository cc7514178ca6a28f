package influxdb

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnatoliyZakhryapin/DeviceService/internal/journal"
	"github.com/AnatoliyZakhryapin/DeviceService/internal/sensor"
)

func TestIsSource(t *testing.T) {
	tests := []struct {
		dsn  string
		want bool
	}{
		{"influxdb://localhost:8086/db", true},
		{"influx://localhost/db", true},
		{"INFLUXDB://HOST/DB", true},
		{"postgres://localhost/db", false},
		{"", false},
		{"http://localhost:8086", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsSource(tt.dsn), tt.dsn)
	}
}

func TestParseDSN(t *testing.T) {
	tests := []struct {
		name     string
		dsn      string
		addr     string
		database string
		user     string
		password string
		wantErr  bool
	}{
		{name: "full", dsn: "influxdb://u:p@host:9999/metrics", addr: "http://host:9999", database: "metrics", user: "u", password: "p"},
		{name: "default port", dsn: "influxdb://host/metrics", addr: "http://host:8086", database: "metrics"},
		{name: "short scheme", dsn: "influx://host/db", addr: "http://host:8086", database: "db"},
		{name: "no database", dsn: "influxdb://host:8086", wantErr: true},
		{name: "bad url", dsn: "influxdb://%zz", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, db, user, pass, err := parseDSN(tt.dsn)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.addr, addr)
			assert.Equal(t, tt.database, db)
			assert.Equal(t, tt.user, user)
			assert.Equal(t, tt.password, pass)
		})
	}
}

// fakeInflux принимает /ping и /write и запоминает line protocol.
type fakeInflux struct {
	mu     sync.Mutex
	writes []string
	query  string
}

func (f *fakeInflux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/ping":
		w.WriteHeader(http.StatusNoContent)
	case "/write":
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.writes = append(f.writes, string(body))
		f.query = r.URL.RawQuery
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func TestRecordWritesPoints(t *testing.T) {
	fake := &fakeInflux{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	dsn := strings.Replace(srv.URL, "http://", "influxdb://", 1) + "/devices"
	store, err := New(context.Background(), Config{DSN: dsn})
	require.NoError(t, err)
	defer store.Close()

	ts := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	err = store.Record(context.Background(), journal.Entry{
		BatchID:  "b1",
		TickAt:   ts,
		Uploaded: true,
		Readings: []sensor.Reading{{SensorID: 3, Timestamp: ts, Value: 0.5}},
	})
	require.NoError(t, err)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.writes, 1)
	assert.Contains(t, fake.query, "db=devices")
	lines := strings.Split(strings.TrimSpace(fake.writes[0]), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "device_uploads_batches,batch_id=b1 "), lines[0])
	assert.Contains(t, lines[0], "uploaded=true")
	assert.True(t, strings.HasPrefix(lines[1], "device_uploads,batch_id=b1,sensor_id=3 value=0.5 "), lines[1])
}

func TestRecordHonoursContext(t *testing.T) {
	store := &Store{database: "db", measurement: journal.DefaultTable}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, store.Record(ctx, journal.Entry{}), context.Canceled)
}

func TestNewErrors(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
	_, err = New(context.Background(), Config{DSN: "influxdb://host"})
	assert.Error(t, err)
}
