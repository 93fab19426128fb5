package config

import (
	"errors"
	"fmt"
)

// Profile names every field the bridge reads from or writes to. Two
// deployments exist that key the same actuator differently, so names are
// data, never constants in the code that uses them.
type Profile struct {
	// Fields read back by the sensor "last value" query.
	Temperature string `yaml:"temperature"`
	Humidity    string `yaml:"humidity"`
	FanEcho     string `yaml:"fan_echo"`
	PumpEcho    string `yaml:"pump_echo"`

	// Field read by the setpoint query.
	Setpoint string `yaml:"setpoint"`

	// Relay names (as they appear on RELAY_STATUS lines) persisted by the
	// serial worker as <name>_status.
	EchoRelays []string `yaml:"echo_relays"`

	// Derived outputs, used both as write-back field names and payload keys.
	FanOutput  string `yaml:"fan_output"`
	PumpOutput string `yaml:"pump_output"`

	Payload PayloadKeys `yaml:"payload"`
}

// PayloadKeys are the JSON keys of the published telemetry object. An empty
// key leaves that value out of the payload.
type PayloadKeys struct {
	Temperature  string `yaml:"temperature"`
	Humidity     string `yaml:"humidity"`
	FanEcho      string `yaml:"fan_echo"`
	PumpEcho     string `yaml:"pump_echo"`
	Setpoint     string `yaml:"setpoint"`
	SetpointUsed string `yaml:"setpoint_used"`
}

// DefaultProfile is the backend deployment (exhaust fan + pump).
const DefaultProfile = "exhaust_fan"

// Profiles are the known deployments.
var Profiles = map[string]Profile{
	"exhaust_fan": {
		Temperature: "temperature",
		Humidity:    "humidity",
		FanEcho:     "exhaust_fan_status",
		PumpEcho:    "pump_status",
		Setpoint:    "temperature_celsius",
		EchoRelays:  []string{"pump"},
		FanOutput:   "exhaust_fan_status",
		PumpOutput:  "pump_calculated_status",
		Payload: PayloadKeys{
			Temperature:  "sht20_temperature",
			Humidity:     "sht20_humidity",
			PumpEcho:     "pump_status",
			Setpoint:     "dwsim_temperature",
			SetpointUsed: "dwsim_temperature_setpoint",
		},
	},
	// Firmware deployment: the device drives a "motor" relay instead of an
	// exhaust fan.
	"motor": {
		Temperature: "temperature",
		Humidity:    "humidity",
		FanEcho:     "motor_status",
		PumpEcho:    "pump_status",
		Setpoint:    "temperature_celsius",
		EchoRelays:  []string{"pump"},
		FanOutput:   "motor_status",
		PumpOutput:  "pump_calculated_status",
		Payload: PayloadKeys{
			Temperature:  "sht20_temperature",
			Humidity:     "sht20_humidity",
			PumpEcho:     "pump_status",
			Setpoint:     "dwsim_temperature",
			SetpointUsed: "dwsim_temperature_setpoint",
		},
	},
}

func (p Profile) validate() error {
	var errs []error
	required := map[string]string{
		"fields.temperature": p.Temperature,
		"fields.humidity":    p.Humidity,
		"fields.setpoint":    p.Setpoint,
		"fields.fan_output":  p.FanOutput,
		"fields.pump_output": p.PumpOutput,
	}
	for key, val := range required {
		if val == "" {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
	}
	if p.FanOutput != "" && p.FanOutput == p.PumpOutput {
		errs = append(errs, errors.New("fields.fan_output and fields.pump_output must differ"))
	}
	return errors.Join(errs...)
}

// SensorFields lists the store fields requested by the sensor query.
func (p Profile) SensorFields() []string {
	fields := []string{p.Temperature, p.Humidity}
	if p.FanEcho != "" {
		fields = append(fields, p.FanEcho)
	}
	if p.PumpEcho != "" {
		fields = append(fields, p.PumpEcho)
	}
	return fields
}
