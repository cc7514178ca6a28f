package uplink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnatoliyZakhryapin/DeviceService/internal/faults"
	"github.com/AnatoliyZakhryapin/DeviceService/internal/sensor"
)

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func response(req *http.Request, code int, body string) *http.Response {
	return &http.Response{
		StatusCode: code,
		Status:     http.StatusText(code),
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
		Request:    req,
	}
}

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func sampleBatch() Batch {
	return Batch{
		ID:    "batch-1",
		Token: "tok",
		Readings: []sensor.Reading{
			{SensorID: 1, Timestamp: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), Date: "2024-06-01", Time: "00:00:00", Value: 0.25},
			{SensorID: 2, Timestamp: time.Date(2024, 6, 1, 0, 0, 1, 0, time.UTC), Date: "2024-06-01", Time: "00:00:01", Value: -1},
		},
	}
}

func TestHTTPClientSendBuildsRequest(t *testing.T) {
	var captured *http.Request
	var body []map[string]any
	client := &HTTPClient{
		Endpoint: "http://example.com/api/sensordata",
		HTTP: &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			captured = req
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			return response(req, http.StatusCreated, "ok"), nil
		})},
	}

	require.NoError(t, client.Send(context.Background(), sampleBatch()))
	require.NotNil(t, captured)
	assert.Equal(t, http.MethodPost, captured.Method)
	assert.Equal(t, "/api/sensordata", captured.URL.Path)
	assert.Equal(t, "Bearer tok", captured.Header.Get("Authorization"))
	assert.Equal(t, "application/json", captured.Header.Get("Content-Type"))
	assert.Equal(t, "batch-1", captured.Header.Get("X-Batch-ID"))

	require.Len(t, body, 2)
	assert.Equal(t, float64(1), body[0]["SensorId"])
	assert.Equal(t, "2024-06-01T00:00:00Z", body[0]["Timestamp"])
	assert.Equal(t, "2024-06-01", body[0]["Date"])
	assert.Equal(t, "00:00:00", body[0]["Time"])
	assert.Equal(t, 0.25, body[0]["Value"])
}

func TestHTTPClientRetryThenSuccess(t *testing.T) {
	var calls int
	sleeper := &sleepRecorder{}
	var outcomes []bool
	client := &HTTPClient{
		Endpoint: "http://example.com",
		Sleep:    sleeper.Sleep,
		HTTP: &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			calls++
			switch calls {
			case 1:
				return nil, errors.New("temporary")
			case 2:
				return response(req, http.StatusBadGateway, "upstream down"), nil
			}
			return response(req, http.StatusOK, "ok"), nil
		})},
		OnAttempt: func(ok bool) { outcomes = append(outcomes, ok) },
	}

	require.NoError(t, client.Send(context.Background(), sampleBatch()))
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, sleeper.delays)
	assert.Equal(t, []bool{false, false, true}, outcomes)
}

func TestHTTPClientExhaustsAttempts(t *testing.T) {
	var calls int
	var bodies []string
	sleeper := &sleepRecorder{}
	client := &HTTPClient{
		Endpoint: "http://example.com",
		Sleep:    sleeper.Sleep,
		HTTP: &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			calls++
			raw, _ := io.ReadAll(req.Body)
			bodies = append(bodies, string(raw))
			return response(req, http.StatusInternalServerError, "failed to store"), nil
		})},
	}

	err := client.Send(context.Background(), sampleBatch())
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.KindUpload))
	assert.Equal(t, 3, faults.AttemptsOf(err))
	assert.ErrorIs(t, err, faults.ErrAttemptsExhausted)
	assert.Contains(t, err.Error(), "failed to store")
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, sleeper.delays, "delay separates attempts only")

	for _, b := range bodies {
		assert.Equal(t, bodies[0], b, "every attempt resends the full payload")
	}
}

func TestHTTPClientCustomAttempts(t *testing.T) {
	var calls int
	sleeper := &sleepRecorder{}
	client := &HTTPClient{
		Endpoint: "http://example.com",
		Attempts: 5,
		Delay:    20 * time.Millisecond,
		Sleep:    sleeper.Sleep,
		HTTP: &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			calls++
			return nil, errors.New("refused")
		})},
	}
	err := client.Send(context.Background(), sampleBatch())
	require.Error(t, err)
	assert.Equal(t, 5, calls)
	assert.Equal(t, 5, faults.AttemptsOf(err))
	assert.Len(t, sleeper.delays, 4)
}

func TestHTTPClientRealDelayAgainstServer(t *testing.T) {
	var stamps []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stamps = append(stamps, time.Now())
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := &HTTPClient{Endpoint: srv.URL, Delay: 30 * time.Millisecond}
	err := client.Send(context.Background(), sampleBatch())
	require.Error(t, err)
	require.Len(t, stamps, 3)
	for i := 1; i < len(stamps); i++ {
		assert.GreaterOrEqual(t, stamps[i].Sub(stamps[i-1]), 30*time.Millisecond)
	}
}

func TestHTTPClientCancelledDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &HTTPClient{
		Endpoint: "http://example.com",
		Delay:    time.Hour,
		HTTP: &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			cancel()
			return response(req, http.StatusInternalServerError, ""), nil
		})},
	}
	err := client.Send(ctx, sampleBatch())
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.KindUpload))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTTPClientRequiresEndpoint(t *testing.T) {
	client := &HTTPClient{}
	assert.Error(t, client.Send(context.Background(), sampleBatch()))

	var nilClient *HTTPClient
	assert.Error(t, nilClient.Send(context.Background(), sampleBatch()))
}
