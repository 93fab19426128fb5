// Package control computes actuator signals from the fused values of one
// bridge cycle. Everything here is pure.
package control

// DefaultPumpThreshold is the humidity below which the pump runs.
const DefaultPumpThreshold = 60.0

// FusedSample is one cycle's combination of independently sourced values.
// A nil field was not available this cycle.
type FusedSample struct {
	SensorTemperature   *float64
	SensorHumidity      *float64
	FanEcho             *float64
	PumpEcho            *float64
	SetpointTemperature *float64
}

// Empty reports whether no field is present.
func (s FusedSample) Empty() bool {
	return s.SensorTemperature == nil &&
		s.SensorHumidity == nil &&
		s.FanEcho == nil &&
		s.PumpEcho == nil &&
		s.SetpointTemperature == nil
}

// Derived holds the computed actuator states. A nil field could not be
// derived from this cycle's inputs.
type Derived struct {
	FanOn  *bool
	PumpOn *bool
}

// FanOn is true when the measured temperature is above the setpoint.
func FanOn(temperature, setpoint float64) bool {
	return temperature > setpoint
}

// PumpOn is true when humidity is strictly below threshold.
func PumpOn(humidity, threshold float64) bool {
	return humidity < threshold
}

// Derive applies FanOn and PumpOn to whatever inputs s carries.
func Derive(s FusedSample, pumpThreshold float64) Derived {
	var d Derived
	if s.SensorTemperature != nil && s.SetpointTemperature != nil {
		on := FanOn(*s.SensorTemperature, *s.SetpointTemperature)
		d.FanOn = &on
	}
	if s.SensorHumidity != nil {
		on := PumpOn(*s.SensorHumidity, pumpThreshold)
		d.PumpOn = &on
	}
	return d
}
