package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnatoliyZakhryapin/DeviceService/internal/auth"
	"github.com/AnatoliyZakhryapin/DeviceService/internal/faults"
	"github.com/AnatoliyZakhryapin/DeviceService/internal/journal/memjournal"
	"github.com/AnatoliyZakhryapin/DeviceService/internal/metrics"
	"github.com/AnatoliyZakhryapin/DeviceService/internal/sensor"
	"github.com/AnatoliyZakhryapin/DeviceService/internal/uplink"
)

const sampleCSV = "SensorId;Timestamp;Date;Time;Value\n" +
	"1;1717200000000;2024-06-01;00:00:00;20\n" +
	"2;1717200001000;2024-06-01;00:00:01;35.5\n" +
	"3;broken\n"

func writeCSV(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "SensorData.csv")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// backend обслуживает логин и приём данных в одном httptest-сервере.
type backend struct {
	logins  atomic.Int32
	uploads atomic.Int32
	mu      sync.Mutex
	last    []sensor.Reading
	auth    string
}

func (b *backend) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		b.logins.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "tok"})
	})
	mux.HandleFunc("/data", func(w http.ResponseWriter, r *http.Request) {
		b.uploads.Add(1)
		body, _ := io.ReadAll(r.Body)
		var readings []sensor.Reading
		if err := json.Unmarshal(body, &readings); err != nil {
			t.Errorf("decode upload: %v", err)
		}
		b.mu.Lock()
		b.last = readings
		b.auth = r.Header.Get("Authorization")
		b.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func TestTickEndToEnd(t *testing.T) {
	be := &backend{}
	srv := httptest.NewServer(be.handler(t))
	defer srv.Close()

	m := metrics.New()
	jr := memjournal.New(0)
	p := &Pipeline{
		Source:  writeCSV(t, sampleCSV),
		Tokens:  &auth.TokenCache{Endpoint: srv.URL + "/login", TTL: time.Minute},
		Uplink:  &uplink.HTTPClient{Endpoint: srv.URL + "/data"},
		Journal: jr,
		Metrics: m,
		NewID:   func() string { return "batch-1" },
	}

	rep := p.Tick(context.Background())
	require.NoError(t, rep.Err)
	assert.True(t, rep.OK())
	assert.Equal(t, "batch-1", rep.BatchID)
	assert.Equal(t, 2, rep.Readings)
	assert.Equal(t, 1, rep.Skipped)

	assert.EqualValues(t, 1, be.logins.Load())
	assert.EqualValues(t, 1, be.uploads.Load())
	be.mu.Lock()
	require.Len(t, be.last, 2)
	assert.Equal(t, "Bearer tok", be.auth)
	assert.InDelta(t, 1.0, be.last[0].Value, 1e-9)
	assert.InDelta(t, 2.55, be.last[1].Value, 1e-9)
	assert.Equal(t, 2, be.last[1].SensorID)
	be.mu.Unlock()

	entries := jr.Entries()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Uploaded)
	assert.Empty(t, entries[0].Error)
	assert.Equal(t, sensor.Fingerprint(entries[0].Readings), entries[0].Fingerprint)

	// Второй тик использует кэшированный токен.
	p.NewID = nil
	require.True(t, p.Tick(context.Background()).OK())
	assert.EqualValues(t, 1, be.logins.Load())
	assert.EqualValues(t, 2, be.uploads.Load())
	assert.Contains(t, scrape(t, m), `deviceservice_ticks_total{outcome="ok"} 2`)
	assert.Contains(t, scrape(t, m), "deviceservice_readings_uploaded_total 4")
	assert.Contains(t, scrape(t, m), "deviceservice_sensor_rows_skipped_total 2")
}

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rec.Body.String()
}

type fakeTokens struct {
	err   error
	calls int
}

func (f *fakeTokens) EnsureValid(context.Context) error { f.calls++; return f.err }
func (f *fakeTokens) Token() string                     { return "tok" }

type fakeUplink struct {
	mu      sync.Mutex
	batches []uplink.Batch
	err     error
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeUplink) Send(_ context.Context, b uplink.Batch) error {
	if f.entered != nil {
		close(f.entered)
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, b)
	return f.err
}

func (f *fakeUplink) sent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func TestTickIngestionFailureSkipsEverything(t *testing.T) {
	tokens := &fakeTokens{}
	up := &fakeUplink{}
	jr := memjournal.New(0)
	p := &Pipeline{Source: filepath.Join(t.TempDir(), "missing.csv"), Tokens: tokens, Uplink: up, Journal: jr}

	rep := p.Tick(context.Background())
	assert.Equal(t, metrics.OutcomeIngestion, rep.Outcome)
	assert.True(t, faults.Is(rep.Err, faults.KindIngestion))
	assert.Zero(t, tokens.calls)
	assert.Zero(t, up.sent())
	assert.Empty(t, jr.Entries(), "nothing was read, nothing to journal")
}

func TestTickMalformedAcceptedRowIsIngestionError(t *testing.T) {
	up := &fakeUplink{}
	p := &Pipeline{
		Source: writeCSV(t, "h\n1;1717200000000;d;t;20\n2;1717200000000;d;t;abc\n"),
		Tokens: &fakeTokens{},
		Uplink: up,
	}
	rep := p.Tick(context.Background())
	assert.Equal(t, metrics.OutcomeIngestion, rep.Outcome)
	assert.Zero(t, up.sent(), "a bad accepted row drops the whole batch")
}

func TestTickTransformationFailure(t *testing.T) {
	tokens := &fakeTokens{}
	up := &fakeUplink{}
	p := &Pipeline{
		Source:    writeCSV(t, sampleCSV),
		Calibrate: func(float64) (float64, error) { return 0, errors.New("sensor drift") },
		Tokens:    tokens,
		Uplink:    up,
	}
	rep := p.Tick(context.Background())
	assert.Equal(t, metrics.OutcomeTransformation, rep.Outcome)
	assert.True(t, faults.Is(rep.Err, faults.KindTransformation))
	assert.Zero(t, tokens.calls)
	assert.Zero(t, up.sent())
}

func TestTickAuthFailureSkipsUpload(t *testing.T) {
	up := &fakeUplink{}
	jr := memjournal.New(0)
	p := &Pipeline{
		Source:  writeCSV(t, sampleCSV),
		Tokens:  &fakeTokens{err: faults.Auth("login", errors.New("status=401"))},
		Uplink:  up,
		Journal: jr,
	}
	rep := p.Tick(context.Background())
	assert.Equal(t, metrics.OutcomeAuth, rep.Outcome)
	assert.Zero(t, up.sent())

	entries := jr.Entries()
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Uploaded)
	assert.Contains(t, entries[0].Error, "status=401")
	assert.Len(t, entries[0].Readings, 2)
}

func TestTickUploadFailureIsTerminalForTick(t *testing.T) {
	up := &fakeUplink{err: faults.Upload(3, errors.New("status=500"))}
	p := &Pipeline{Source: writeCSV(t, sampleCSV), Tokens: &fakeTokens{}, Uplink: up}

	rep := p.Tick(context.Background())
	assert.Equal(t, metrics.OutcomeUpload, rep.Outcome)
	assert.Equal(t, 3, faults.AttemptsOf(rep.Err))
	assert.Equal(t, 1, up.sent(), "no retries at the tick level")

	// Следующий тик не зависит от предыдущего.
	up.err = nil
	assert.True(t, p.Tick(context.Background()).OK())
}

func TestTickUnclassifiedErrorUsesStage(t *testing.T) {
	up := &fakeUplink{err: errors.New("boom")}
	p := &Pipeline{Source: writeCSV(t, sampleCSV), Tokens: &fakeTokens{}, Uplink: up}
	assert.Equal(t, metrics.OutcomeUpload, p.Tick(context.Background()).Outcome)
}

func TestTickHeaderOnlyUploadsEmptyBatch(t *testing.T) {
	up := &fakeUplink{}
	p := &Pipeline{Source: writeCSV(t, "SensorId;Timestamp;Date;Time;Value\n"), Tokens: &fakeTokens{}, Uplink: up}
	rep := p.Tick(context.Background())
	require.True(t, rep.OK())
	assert.Zero(t, rep.Readings)
	require.Equal(t, 1, up.sent())
}

func TestTickSingleInFlight(t *testing.T) {
	up := &fakeUplink{block: make(chan struct{}), entered: make(chan struct{})}
	m := metrics.New()
	p := &Pipeline{Source: writeCSV(t, sampleCSV), Tokens: &fakeTokens{}, Uplink: up, Metrics: m}

	done := make(chan Report)
	go func() { done <- p.Tick(context.Background()) }()
	<-up.entered

	busy := p.Tick(context.Background())
	assert.Equal(t, metrics.OutcomeBusy, busy.Outcome)
	assert.NoError(t, busy.Err)

	close(up.block)
	assert.True(t, (<-done).OK())
	assert.Equal(t, 1, up.sent())
	assert.Contains(t, scrape(t, m), `deviceservice_ticks_total{outcome="busy"} 1`)
}

func TestTransformDoesNotMutateInput(t *testing.T) {
	p := &Pipeline{}
	in := []sensor.Reading{{SensorID: 1, Value: 10}, {SensorID: 2, Value: 30}}
	out, err := p.transform(in)
	require.NoError(t, err)
	assert.Equal(t, 10.0, in[0].Value)
	assert.Equal(t, 0.0, out[0].Value)
	assert.InDelta(t, 2.0, out[1].Value, 1e-9)
}
