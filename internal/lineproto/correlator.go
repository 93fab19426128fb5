package lineproto

import "maps"

// PendingState tags whether a reading is waiting for the status line that
// usually follows it.
type PendingState int

const (
	NoPending PendingState = iota
	PendingSince
)

// Correlator merges RELAY_STATUS lines into SENSOR_DATA readings from the
// same device. The device prints a reading and, shortly after, the relay
// state it decided on from that reading. A reading is emitted at once with
// whatever status is known, then emitted a second time when the next status
// line arrives. Only the most recent reading is kept pending.
//
// A Correlator is owned by a single read loop and is not safe for concurrent use.
type Correlator struct {
	emit func(SensorReading)

	status  map[string]bool // nil until the first status line
	state   PendingState
	pending SensorReading
}

// NewCorrelator returns a correlator that hands every emission to emit.
func NewCorrelator(emit func(SensorReading)) *Correlator {
	return &Correlator{emit: emit}
}

// Feed processes one trimmed line and reports its kind. Malformed lines of a
// known kind are reported as KindOther and change nothing.
func (c *Correlator) Feed(line string) Kind {
	if st, ok := ParseRelay(line); ok {
		c.OnStatus(st)
		return KindRelay
	}
	if r, ok := ParseSensor(line); ok {
		c.OnReading(r)
		return KindSensor
	}
	return KindOther
}

// OnStatus records the new status and completes the pending reading, if any.
func (c *Correlator) OnStatus(st RelayStatus) {
	c.status = st.Map()
	if c.state != PendingSince {
		return
	}
	r := c.pending
	r.Relays = c.snapshot()
	c.state = NoPending
	c.pending = SensorReading{}
	c.emit(r)
}

// OnReading emits r with the last known status and keeps it pending.
func (c *Correlator) OnReading(r SensorReading) {
	r.Relays = c.snapshot()
	c.pending = r
	c.pending.Relays = nil
	c.state = PendingSince
	c.emit(r)
}

// State reports whether a reading is pending.
func (c *Correlator) State() PendingState {
	return c.state
}

// snapshot copies the status so emitted readings never alias the
// correlator's own map; emissions cross into worker goroutines.
func (c *Correlator) snapshot() map[string]bool {
	if c.status == nil {
		return nil
	}
	return maps.Clone(c.status)
}
