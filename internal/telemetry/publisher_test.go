package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemetry-bridge/internal/config"
	"telemetry-bridge/internal/control"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func f(v float64) *float64 { return &v }
func b(v bool) *bool       { return &v }

type doneToken struct {
	err  error
	done chan struct{}
}

func newToken(err error, complete bool) *doneToken {
	t := &doneToken{err: err, done: make(chan struct{})}
	if complete {
		close(t.done)
	}
	return t
}

func (t *doneToken) Wait() bool {
	<-t.done
	return true
}

func (t *doneToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}
func (t *doneToken) Done() <-chan struct{} { return t.done }
func (t *doneToken) Error() error          { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeMQTT struct {
	mu    sync.Mutex
	msgs  []published
	token *doneToken
}

func (c *fakeMQTT) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, published{topic, qos, retained, payload.([]byte)})
	if c.token != nil {
		return c.token
	}
	return newToken(nil, true)
}

type point struct {
	bucket, measurement string
	fields              map[string]any
	ts                  time.Time
}

type fakeStore struct {
	points []point
	err    error
}

func (s *fakeStore) WritePoint(_ context.Context, bucket, measurement string, fields map[string]any, ts time.Time) error {
	s.points = append(s.points, point{bucket, measurement, fields, ts})
	return s.err
}

type fakeSink struct {
	got []map[string]float64
	err error
}

func (s *fakeSink) Name() string { return "fake" }
func (s *fakeSink) Archive(_ context.Context, _ time.Time, payload map[string]float64) error {
	s.got = append(s.got, payload)
	return s.err
}

type recordingObserver struct {
	mu        sync.Mutex
	results   []string
	writeErrs map[string]error
}

func (o *recordingObserver) Published(result string) {
	o.mu.Lock()
	o.results = append(o.results, result)
	o.mu.Unlock()
}

func (o *recordingObserver) WroteBack(field string, err error) {
	o.mu.Lock()
	if o.writeErrs == nil {
		o.writeErrs = map[string]error{}
	}
	o.writeErrs[field] = err
	o.mu.Unlock()
}

func testOptions() Options {
	return Options{
		Topic:          "v1/devices/me/telemetry",
		PublishTimeout: time.Second,
		Bucket:         "SENSOR_DATA",
		Measurement:    "sht20_sensor",
		Fields:         config.Profiles[config.DefaultProfile],
	}
}

func TestBuildPayloadPresentOnly(t *testing.T) {
	p := config.Profiles[config.DefaultProfile]
	s := control.FusedSample{SensorTemperature: f(26), SensorHumidity: f(55)}
	got := BuildPayload(p, s, control.Derive(s, control.DefaultPumpThreshold))

	assert.Equal(t, map[string]float64{
		"sht20_temperature":      26,
		"sht20_humidity":         55,
		"pump_calculated_status": 1,
	}, got)
}

func TestBuildPayloadFull(t *testing.T) {
	p := config.Profiles[config.DefaultProfile]
	s := control.FusedSample{
		SensorTemperature:   f(26),
		SensorHumidity:      f(65),
		PumpEcho:            f(1),
		FanEcho:             f(0),
		SetpointTemperature: f(24),
	}
	got := BuildPayload(p, s, control.Derive(s, control.DefaultPumpThreshold))

	assert.Equal(t, map[string]float64{
		"sht20_temperature":          26,
		"sht20_humidity":             65,
		"pump_status":                1,
		"dwsim_temperature":          24,
		"dwsim_temperature_setpoint": 24,
		"exhaust_fan_status":         1,
		"pump_calculated_status":     0,
	}, got)
}

func TestBuildPayloadMotorProfile(t *testing.T) {
	p := config.Profiles["motor"]
	s := control.FusedSample{SensorTemperature: f(20), SetpointTemperature: f(24)}
	got := BuildPayload(p, s, control.Derive(s, control.DefaultPumpThreshold))
	assert.Equal(t, 0.0, got["motor_status"])
	assert.NotContains(t, got, "exhaust_fan_status")
}

func TestPublishSendsAndWritesBack(t *testing.T) {
	client := &fakeMQTT{}
	store := &fakeStore{}
	sink := &fakeSink{}
	obs := &recordingObserver{}
	pub := NewPublisher(testOptions(), client, store, discardLogger(), obs, sink)
	fixed := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	pub.now = func() time.Time { return fixed }

	s := control.FusedSample{SensorTemperature: f(26), SensorHumidity: f(55), SetpointTemperature: f(24)}
	require.NoError(t, pub.Publish(context.Background(), s, control.Derive(s, control.DefaultPumpThreshold)))
	pub.Wait()

	require.Len(t, client.msgs, 1)
	msg := client.msgs[0]
	assert.Equal(t, "v1/devices/me/telemetry", msg.topic)
	assert.Equal(t, byte(1), msg.qos)
	assert.False(t, msg.retained)

	var body map[string]float64
	require.NoError(t, json.Unmarshal(msg.payload, &body))
	assert.Equal(t, 1.0, body["exhaust_fan_status"])
	assert.Equal(t, 1.0, body["pump_calculated_status"])

	require.Len(t, store.points, 2)
	assert.Equal(t, map[string]any{"exhaust_fan_status": 1.0, "sensor_temp": 26.0, "setpoint_temp": 24.0}, store.points[0].fields)
	assert.Equal(t, map[string]any{"pump_calculated_status": 1.0, "humidity": 55.0}, store.points[1].fields)
	for _, pt := range store.points {
		assert.Equal(t, "SENSOR_DATA", pt.bucket)
		assert.Equal(t, "sht20_sensor", pt.measurement)
		assert.Equal(t, fixed, pt.ts)
	}

	require.Len(t, sink.got, 1)
	assert.Equal(t, body, sink.got[0])
	assert.Equal(t, []string{ResultOK}, obs.results)
	assert.Len(t, obs.writeErrs, 2)
}

func TestPublishSkipsEmptyPayload(t *testing.T) {
	client := &fakeMQTT{}
	store := &fakeStore{}
	obs := &recordingObserver{}
	pub := NewPublisher(testOptions(), client, store, discardLogger(), obs)

	err := pub.Publish(context.Background(), control.FusedSample{}, control.Derived{})
	assert.ErrorIs(t, err, ErrEmptyPayload)
	assert.Empty(t, client.msgs)
	assert.Empty(t, store.points)
	assert.Equal(t, []string{ResultSkipped}, obs.results)
}

func TestPublishDoesNotWaitForBroker(t *testing.T) {
	pending := newToken(nil, false)
	client := &fakeMQTT{token: pending}
	obs := &recordingObserver{}
	opts := testOptions()
	opts.PublishTimeout = 50 * time.Millisecond
	pub := NewPublisher(opts, client, &fakeStore{}, discardLogger(), obs)

	s := control.FusedSample{SensorHumidity: f(70)}
	start := time.Now()
	require.NoError(t, pub.Publish(context.Background(), s, control.Derive(s, control.DefaultPumpThreshold)))
	assert.Less(t, time.Since(start), 40*time.Millisecond)

	pub.Wait()
	assert.Equal(t, []string{ResultTimeout}, obs.results)
}

func TestPublishFailuresAreLogged(t *testing.T) {
	client := &fakeMQTT{token: newToken(errors.New("not connected"), true)}
	store := &fakeStore{err: errors.New("store down")}
	sink := &fakeSink{err: errors.New("db down")}
	obs := &recordingObserver{}
	pub := NewPublisher(testOptions(), client, store, discardLogger(), obs, sink)

	s := control.FusedSample{SensorHumidity: f(70)}
	require.NoError(t, pub.Publish(context.Background(), s, control.Derived{PumpOn: b(false)}))
	pub.Wait()

	assert.Equal(t, []string{ResultError}, obs.results)
	assert.EqualError(t, obs.writeErrs["pump_calculated_status"], "store down")
	assert.Len(t, sink.got, 1)
}
