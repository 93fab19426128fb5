// Package telemetry ships one bridge cycle's result: a flat JSON object
// published to the broker, one store point per derived actuator, and an
// optional copy to archive sinks.
package telemetry

import (
	"telemetry-bridge/internal/config"
	"telemetry-bridge/internal/control"
)

// BuildPayload flattens a cycle into key -> value. Absent inputs and
// underivable outputs are left out. Booleans become 1/0.
func BuildPayload(p config.Profile, s control.FusedSample, d control.Derived) map[string]float64 {
	out := make(map[string]float64)
	put := func(key string, v *float64) {
		if key != "" && v != nil {
			out[key] = *v
		}
	}

	put(p.Payload.Temperature, s.SensorTemperature)
	put(p.Payload.Humidity, s.SensorHumidity)
	put(p.Payload.FanEcho, s.FanEcho)
	put(p.Payload.PumpEcho, s.PumpEcho)
	put(p.Payload.Setpoint, s.SetpointTemperature)

	if d.FanOn != nil {
		out[p.FanOutput] = flag(*d.FanOn)
		put(p.Payload.SetpointUsed, s.SetpointTemperature)
	}
	if d.PumpOn != nil {
		out[p.PumpOutput] = flag(*d.PumpOn)
	}
	return out
}

func flag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
