// Package lineproto understands the newline-delimited text the device emits
// on its serial link:
//
//	SENSOR_DATA|<u64 timestamp_ns>|<f32 temperature_c>|<f32 humidity_pct>
//	RELAY_STATUS|<name>:<ON|OFF>|<name>:<ON|OFF>
//
// Anything else is noise as far as the bridge is concerned.
package lineproto

import (
	"strconv"
	"strings"
)

const (
	sensorPrefix = "SENSOR_DATA|"
	relayPrefix  = "RELAY_STATUS|"
	onState      = "ON"
)

// Kind classifies a line.
type Kind int

const (
	KindOther Kind = iota
	KindSensor
	KindRelay
)

func (k Kind) String() string {
	switch k {
	case KindSensor:
		return "sensor"
	case KindRelay:
		return "relay"
	default:
		return "other"
	}
}

// SensorReading is one SENSOR_DATA line. Relays is nil while no RELAY_STATUS
// line has been seen; otherwise it holds the last known state per relay name.
type SensorReading struct {
	Timestamp   uint64
	Temperature float32
	Humidity    float32
	Relays      map[string]bool
}

// Relay is one "<name>:<state>" token.
type Relay struct {
	Name string
	On   bool
}

// RelayStatus is one RELAY_STATUS line.
type RelayStatus struct {
	Relays [2]Relay
}

// ParseSensor parses a SENSOR_DATA line. Wrong arity or an unparsable
// number yields ok=false.
func ParseSensor(line string) (SensorReading, bool) {
	rest, found := strings.CutPrefix(line, sensorPrefix)
	if !found {
		return SensorReading{}, false
	}
	parts := strings.Split(rest, "|")
	if len(parts) != 3 {
		return SensorReading{}, false
	}
	ts, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return SensorReading{}, false
	}
	temp, err := strconv.ParseFloat(parts[1], 32)
	if err != nil {
		return SensorReading{}, false
	}
	hum, err := strconv.ParseFloat(parts[2], 32)
	if err != nil {
		return SensorReading{}, false
	}
	return SensorReading{
		Timestamp:   ts,
		Temperature: float32(temp),
		Humidity:    float32(hum),
	}, true
}

// ParseRelay parses a RELAY_STATUS line. Exactly two tokens are required.
// Any state other than the exact "ON" is OFF; a token without ':' is a name
// with state OFF.
func ParseRelay(line string) (RelayStatus, bool) {
	rest, found := strings.CutPrefix(line, relayPrefix)
	if !found {
		return RelayStatus{}, false
	}
	parts := strings.Split(rest, "|")
	if len(parts) != 2 {
		return RelayStatus{}, false
	}
	var st RelayStatus
	for i, p := range parts {
		name, state, _ := strings.Cut(p, ":")
		st.Relays[i] = Relay{Name: name, On: state == onState}
	}
	return st, true
}

// Classify reports which shape a line has, without validating it.
func Classify(line string) Kind {
	switch {
	case strings.HasPrefix(line, sensorPrefix):
		return KindSensor
	case strings.HasPrefix(line, relayPrefix):
		return KindRelay
	default:
		return KindOther
	}
}

// Map returns the status as name -> on. Later tokens win on duplicate names.
func (s RelayStatus) Map() map[string]bool {
	m := make(map[string]bool, len(s.Relays))
	for _, r := range s.Relays {
		m[r.Name] = r.On
	}
	return m
}
