package tsdb

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemetry-bridge/internal/lineproto"
)

type fakeStore struct {
	mu      sync.Mutex
	queries []string
	writes  []*http.Request
	bodies  []string

	queryStatus int
	queryBody   string
}

func (s *fakeStore) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v2/query", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query string `json:"query"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		s.mu.Lock()
		s.queries = append(s.queries, req.Query)
		s.mu.Unlock()

		if s.queryStatus != 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(s.queryStatus)
			io.WriteString(w, `{"code":"unauthorized","message":"unauthorized access"}`)
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		io.WriteString(w, s.queryBody)
	})
	mux.HandleFunc("POST /api/v2/write", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.writes = append(s.writes, r)
		s.bodies = append(s.bodies, string(body))
		s.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func newTestClient(t *testing.T, store *fakeStore) *Client {
	t.Helper()
	srv := httptest.NewServer(store.handler(t))
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, "test-token", "ITS", 5*time.Second)
	t.Cleanup(c.Close)
	return c
}

func TestQueryLastValues(t *testing.T) {
	store := &fakeStore{queryBody: annotatedCSV}
	c := newTestClient(t, store)

	body, err := c.QueryLastValues(context.Background(), Query{
		Bucket:      "SENSOR_DATA",
		Measurement: "sht20_sensor",
		Fields:      []string{"temperature", "humidity"},
		Range:       "-1h",
		Window:      "1m",
	})
	require.NoError(t, err)
	assert.Equal(t, Values{"temperature": 23.45, "humidity": 61.2}, ExtractFields(body))

	require.Len(t, store.queries, 1)
	q := store.queries[0]
	assert.Contains(t, q, `from(bucket: "SENSOR_DATA")`)
	assert.Contains(t, q, `r._measurement == "sht20_sensor"`)
	assert.Contains(t, q, `r._field == "temperature" or r._field == "humidity"`)
	assert.Contains(t, q, "last()")
}

func TestQueryServiceError(t *testing.T) {
	store := &fakeStore{queryStatus: http.StatusUnauthorized}
	c := newTestClient(t, store)

	_, err := c.QueryLastValues(context.Background(), Query{Bucket: "b", Measurement: "m"})
	var qe *QueryError
	require.True(t, errors.As(err, &qe), "got %v", err)
	assert.Equal(t, http.StatusUnauthorized, qe.Status)
	assert.Contains(t, qe.Body, "unauthorized")
}

func TestQueryTransportError(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "t", "ITS", time.Second)
	defer c.Close()

	_, err := c.QueryLastValues(context.Background(), Query{Bucket: "b", Measurement: "m"})
	require.Error(t, err)
	var qe *QueryError
	assert.False(t, errors.As(err, &qe))
}

func TestRequestTimeoutRoundsUp(t *testing.T) {
	assert.Equal(t, uint(1), timeoutSeconds(300*time.Millisecond))
	assert.Equal(t, uint(2), timeoutSeconds(1500*time.Millisecond))
	assert.Equal(t, uint(10), timeoutSeconds(10*time.Second))

	c := NewClient("http://127.0.0.1:1", "t", "ITS", 250*time.Millisecond)
	defer c.Close()
	assert.Equal(t, uint(1), c.influx.Options().HTTPRequestTimeout())
}

func TestListMeasurements(t *testing.T) {
	store := &fakeStore{queryBody: ",result,table,_value\n,_result,0,DWSIM_DATA\n"}
	c := newTestClient(t, store)

	got, err := c.ListMeasurements(context.Background(), "DWSIM_DATA")
	require.NoError(t, err)
	assert.Equal(t, []string{"DWSIM_DATA"}, got)
	assert.Contains(t, store.queries[0], "schema.measurements")
}

func TestRecordWriterWritesPoint(t *testing.T) {
	store := &fakeStore{}
	c := newTestClient(t, store)
	rw := NewRecordWriter(c, "SENSOR_DATA", "sht20_sensor", []string{"pump"})

	err := rw.Write(context.Background(), lineproto.SensorReading{
		Timestamp:   1_700_000_000_000_000_000,
		Temperature: 26.126,
		Humidity:    55.5,
		Relays:      map[string]bool{"exhaust_fan": true, "pump": true},
	})
	require.NoError(t, err)

	require.Len(t, store.writes, 1)
	req := store.writes[0]
	assert.Equal(t, "ITS", req.URL.Query().Get("org"))
	assert.Equal(t, "SENSOR_DATA", req.URL.Query().Get("bucket"))

	line := strings.TrimSpace(store.bodies[0])
	assert.True(t, strings.HasPrefix(line, "sht20_sensor "), line)
	assert.Contains(t, line, "temperature=26.13")
	assert.Contains(t, line, "humidity=55.5")
	assert.Contains(t, line, "pump_status=1")
	assert.NotContains(t, line, "exhaust_fan_status")
	assert.True(t, strings.HasSuffix(line, " 1700000000000000000"), line)
}

func TestRecordFields(t *testing.T) {
	r := lineproto.SensorReading{Temperature: 21.004, Humidity: 49.996}
	assert.Equal(t, map[string]any{"temperature": 21.0, "humidity": 50.0}, RecordFields(r, []string{"pump"}))

	r.Relays = map[string]bool{"pump": false}
	assert.Equal(t, 0.0, RecordFields(r, []string{"pump"})["pump_status"])
}

func TestRecordWriterFallsBackToWallClock(t *testing.T) {
	rw := NewRecordWriter(nil, "b", "m", nil)
	fixed := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	rw.now = func() time.Time { return fixed }

	assert.Equal(t, fixed, rw.timestamp(123456))
	assert.Equal(t, time.Unix(0, 1_700_000_000_000_000_000), rw.timestamp(1_700_000_000_000_000_000))
}
