package tsdb

import (
	"context"
	"math"
	"time"

	"telemetry-bridge/internal/lineproto"
)

// minEpochNanos separates real nanosecond epochs from device uptime counters.
const minEpochNanos = 1_000_000_000_000_000_000

// PointWriter writes a single point.
type PointWriter interface {
	WritePoint(ctx context.Context, bucket, measurement string, fields map[string]any, ts time.Time) error
}

// RecordWriter persists correlated serial readings.
type RecordWriter struct {
	w           PointWriter
	bucket      string
	measurement string
	// echo lists the relays whose state is stored as <name>_status.
	echo []string
	now  func() time.Time
}

func NewRecordWriter(w PointWriter, bucket, measurement string, echoRelays []string) *RecordWriter {
	return &RecordWriter{
		w:           w,
		bucket:      bucket,
		measurement: measurement,
		echo:        echoRelays,
		now:         time.Now,
	}
}

// Write stores r as one point.
func (rw *RecordWriter) Write(ctx context.Context, r lineproto.SensorReading) error {
	return rw.w.WritePoint(ctx, rw.bucket, rw.measurement, RecordFields(r, rw.echo), rw.timestamp(r.Timestamp))
}

// RecordFields returns the stored fields of r: rounded temperature and
// humidity plus 1/0 for each known echo relay.
func RecordFields(r lineproto.SensorReading, echoRelays []string) map[string]any {
	fields := map[string]any{
		"temperature": round2(float64(r.Temperature)),
		"humidity":    round2(float64(r.Humidity)),
	}
	for _, name := range echoRelays {
		on, ok := r.Relays[name]
		if !ok {
			continue
		}
		fields[name+"_status"] = boolValue(on)
	}
	return fields
}

func (rw *RecordWriter) timestamp(ts uint64) time.Time {
	if ts >= minEpochNanos && ts <= math.MaxInt64 {
		return time.Unix(0, int64(ts))
	}
	return rw.now()
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
