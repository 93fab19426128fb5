// Package bridge runs the periodic cycle that reads the latest sensor and
// setpoint values from the store, derives actuator states and publishes
// the result.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"telemetry-bridge/internal/config"
	"telemetry-bridge/internal/control"
	"telemetry-bridge/internal/telemetry"
	"telemetry-bridge/internal/tsdb"
)

// Source names used in logs and metrics.
const (
	SourceSensor   = "sensor"
	SourceSetpoint = "setpoint"
)

// Querier reads from the time-series store.
type Querier interface {
	QueryLastValues(ctx context.Context, q tsdb.Query) (string, error)
	ListMeasurements(ctx context.Context, bucket string) ([]string, error)
}

// Publisher ships one cycle's result.
type Publisher interface {
	Publish(ctx context.Context, s control.FusedSample, d control.Derived) error
}

// Observer receives cycle events; nil is allowed.
type Observer interface {
	CycleCompleted(d time.Duration)
	QueryFailed(source string)
}

// Options configure a Bridge.
type Options struct {
	Period        time.Duration
	PumpThreshold float64
	Sensor        tsdb.Query
	Setpoint      tsdb.Query
	Fields        config.Profile
}

// OptionsFromConfig derives both queries from the configured buckets,
// measurements and field names.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Period:        cfg.Bridge.Period,
		PumpThreshold: cfg.Bridge.PumpThreshold,
		Sensor: tsdb.Query{
			Bucket:      cfg.Influx.SensorBucket,
			Measurement: cfg.Influx.SensorMeasurement,
			Fields:      cfg.Fields.SensorFields(),
			Range:       cfg.Influx.Range,
			Window:      cfg.Influx.Window,
		},
		Setpoint: tsdb.Query{
			Bucket:      cfg.Influx.SetpointBucket,
			Measurement: cfg.Influx.SetpointMeasurement,
			Fields:      []string{cfg.Fields.Setpoint},
			Tags:        cfg.Influx.SetpointTags,
			Range:       cfg.Influx.Range,
			Window:      cfg.Influx.Window,
		},
		Fields: cfg.Fields,
	}
}

// Bridge holds no state between cycles.
type Bridge struct {
	opts   Options
	store  Querier
	pub    Publisher
	logger *slog.Logger
	obs    Observer
}

func New(opts Options, store Querier, pub Publisher, logger *slog.Logger, obs Observer) *Bridge {
	if opts.Period <= 0 {
		opts.Period = 10 * time.Second
	}
	return &Bridge{opts: opts, store: store, pub: pub, logger: logger, obs: obs}
}

// Run executes a cycle every period until ctx is cancelled. A slow cycle
// shortens the following sleep; cycles never overlap.
func (b *Bridge) Run(ctx context.Context) error {
	b.logger.Info("Bridge loop started", "period", b.opts.Period)
	for {
		start := time.Now()
		b.RunCycle(ctx)
		elapsed := time.Since(start)
		if b.obs != nil {
			b.obs.CycleCompleted(elapsed)
		}

		wait := b.opts.Period - elapsed
		if wait < 0 {
			wait = 0
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			b.logger.Info("Bridge loop stopped")
			return ctx.Err()
		case <-t.C:
		}
	}
}

// RunCycle performs one query, derive, publish pass and returns what it
// computed. Query failures leave the affected fields absent.
func (b *Bridge) RunCycle(ctx context.Context) (control.FusedSample, control.Derived) {
	logger := b.logger.With("cycle", uuid.NewString())
	f := b.opts.Fields

	var s control.FusedSample
	if vals, ok := b.query(ctx, logger, SourceSensor, b.opts.Sensor); ok {
		s.SensorTemperature = vals.Ptr(f.Temperature)
		s.SensorHumidity = vals.Ptr(f.Humidity)
		s.FanEcho = vals.Ptr(f.FanEcho)
		s.PumpEcho = vals.Ptr(f.PumpEcho)
	}
	if vals, ok := b.query(ctx, logger, SourceSetpoint, b.opts.Setpoint); ok {
		s.SetpointTemperature = vals.Ptr(f.Setpoint)
		if s.SetpointTemperature == nil {
			b.diagnoseSetpoint(ctx, logger)
		}
	}

	d := control.Derive(s, b.opts.PumpThreshold)
	logger.Debug("Cycle derived",
		"temperature", s.SensorTemperature, "humidity", s.SensorHumidity,
		"setpoint", s.SetpointTemperature, "fan_on", d.FanOn, "pump_on", d.PumpOn)

	if err := b.pub.Publish(ctx, s, d); err != nil && !errors.Is(err, telemetry.ErrEmptyPayload) {
		logger.Error("Publish failed", "error", err)
	}
	return s, d
}

func (b *Bridge) query(ctx context.Context, logger *slog.Logger, source string, q tsdb.Query) (tsdb.Values, bool) {
	body, err := b.store.QueryLastValues(ctx, q)
	if err != nil {
		var qe *tsdb.QueryError
		if errors.As(err, &qe) {
			logger.Error("Query rejected", "source", source, "status", qe.Status, "body", qe.Body)
		} else {
			logger.Error("Query failed", "source", source, "error", err)
		}
		if b.obs != nil {
			b.obs.QueryFailed(source)
		}
		return nil, false
	}
	vals := tsdb.ExtractFields(body)
	logger.Debug("Query result", "source", source, "fields", len(vals))
	return vals, true
}

// diagnoseSetpoint logs which measurements do exist in the setpoint bucket.
func (b *Bridge) diagnoseSetpoint(ctx context.Context, logger *slog.Logger) {
	if !logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	names, err := b.store.ListMeasurements(ctx, b.opts.Setpoint.Bucket)
	if err != nil {
		return
	}
	logger.Debug("No setpoint data",
		"bucket", b.opts.Setpoint.Bucket,
		"measurement", b.opts.Setpoint.Measurement,
		"available", names)
}
