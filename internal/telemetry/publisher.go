package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"telemetry-bridge/internal/config"
	"telemetry-bridge/internal/control"
)

// ErrEmptyPayload is returned when a cycle produced nothing to publish.
var ErrEmptyPayload = errors.New("telemetry: empty payload")

// qosAtLeastOnce is MQTT QoS 1.
const qosAtLeastOnce = 1

// MQTTPublisher is the part of mqtt.Client the publisher needs.
type MQTTPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// PointWriter writes one store point.
type PointWriter interface {
	WritePoint(ctx context.Context, bucket, measurement string, fields map[string]any, ts time.Time) error
}

// Sink keeps a copy of every published payload.
type Sink interface {
	Name() string
	Archive(ctx context.Context, ts time.Time, payload map[string]float64) error
}

// Observer receives publish outcomes; nil is allowed.
type Observer interface {
	Published(result string)
	WroteBack(field string, err error)
}

// Publish results reported to the Observer.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultTimeout = "timeout"
	ResultSkipped = "skipped"
)

// Options configure a Publisher.
type Options struct {
	Topic          string
	PublishTimeout time.Duration
	// Bucket and Measurement receive the write-back points.
	Bucket      string
	Measurement string
	Fields      config.Profile
}

// Publisher is used from the bridge loop only; the broker acknowledgement
// is awaited on a separate goroutine.
type Publisher struct {
	opts   Options
	mqtt   MQTTPublisher
	store  PointWriter
	sinks  []Sink
	logger *slog.Logger
	obs    Observer
	now    func() time.Time

	inflight sync.WaitGroup
}

func NewPublisher(opts Options, client MQTTPublisher, store PointWriter, logger *slog.Logger, obs Observer, sinks ...Sink) *Publisher {
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 10 * time.Second
	}
	return &Publisher{
		opts:   opts,
		mqtt:   client,
		store:  store,
		sinks:  sinks,
		logger: logger,
		obs:    obs,
		now:    time.Now,
	}
}

// Publish sends the cycle's payload and writes the derived values back.
// It never waits for the broker. Write-back and archive failures are
// logged; only an empty payload or an encoding failure is returned.
func (p *Publisher) Publish(ctx context.Context, s control.FusedSample, d control.Derived) error {
	payload := BuildPayload(p.opts.Fields, s, d)
	if len(payload) == 0 {
		p.logger.Warn("Nothing to publish this cycle")
		p.observe(ResultSkipped)
		return ErrEmptyPayload
	}

	body, err := json.Marshal(payload)
	if err != nil {
		p.observe(ResultError)
		return fmt.Errorf("encode payload: %w", err)
	}

	token := p.mqtt.Publish(p.opts.Topic, qosAtLeastOnce, false, body)
	p.inflight.Add(1)
	go p.await(token)
	p.logger.Info("Telemetry published", "topic", p.opts.Topic, "payload", string(body))

	now := p.now()
	p.writeBack(ctx, s, d, now)
	p.archive(ctx, payload, now)
	return nil
}

// Wait blocks until every outstanding publish has been acknowledged or
// timed out.
func (p *Publisher) Wait() {
	p.inflight.Wait()
}

func (p *Publisher) await(token mqtt.Token) {
	defer p.inflight.Done()
	if !token.WaitTimeout(p.opts.PublishTimeout) {
		p.logger.Warn("MQTT publish not acknowledged", "timeout", p.opts.PublishTimeout)
		p.observe(ResultTimeout)
		return
	}
	if err := token.Error(); err != nil {
		p.logger.Error("MQTT publish failed", "error", err)
		p.observe(ResultError)
		return
	}
	p.observe(ResultOK)
}

func (p *Publisher) writeBack(ctx context.Context, s control.FusedSample, d control.Derived, now time.Time) {
	f := p.opts.Fields
	if d.FanOn != nil {
		fields := map[string]any{f.FanOutput: flag(*d.FanOn)}
		addInput(fields, "sensor_temp", s.SensorTemperature)
		addInput(fields, "setpoint_temp", s.SetpointTemperature)
		p.writePoint(ctx, f.FanOutput, fields, now)
	}
	if d.PumpOn != nil {
		fields := map[string]any{f.PumpOutput: flag(*d.PumpOn)}
		addInput(fields, "humidity", s.SensorHumidity)
		p.writePoint(ctx, f.PumpOutput, fields, now)
	}
}

func addInput(fields map[string]any, key string, v *float64) {
	if v != nil {
		fields[key] = *v
	}
}

func (p *Publisher) writePoint(ctx context.Context, field string, fields map[string]any, now time.Time) {
	err := p.store.WritePoint(ctx, p.opts.Bucket, p.opts.Measurement, fields, now)
	if err != nil {
		p.logger.Error("Write-back failed", "field", field, "error", err)
	} else {
		p.logger.Debug("Write-back stored", "field", field, "value", fields[field])
	}
	if p.obs != nil {
		p.obs.WroteBack(field, err)
	}
}

func (p *Publisher) archive(ctx context.Context, payload map[string]float64, now time.Time) {
	for _, s := range p.sinks {
		if err := s.Archive(ctx, now, payload); err != nil {
			p.logger.Error("Archive failed", "sink", s.Name(), "error", err)
		}
	}
}

func (p *Publisher) observe(result string) {
	if p.obs != nil {
		p.obs.Published(result)
	}
}
