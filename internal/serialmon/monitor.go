// Package serialmon owns the serial link to the sensor device. It keeps the
// port open, reopens it after I/O errors, splits the byte stream into lines
// and feeds them through a lineproto.Correlator.
package serialmon

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.bug.st/serial"

	"telemetry-bridge/internal/lineproto"
)

// maxLineLen bounds the partial-line buffer; the device never prints
// anything close to it, so overflow means line noise.
const maxLineLen = 4096

// Port is the part of a serial port the monitor uses.
type Port interface {
	io.Reader
	io.Closer
}

// Opener opens the named device.
type Opener func(name string, baudRate int, readTimeout time.Duration) (Port, error)

// OpenSerial opens a real serial device. A read that times out returns
// (0, nil), which the monitor treats as a liveness gap.
func OpenSerial(name string, baudRate int, readTimeout time.Duration) (Port, error) {
	p, err := serial.Open(name, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, err
	}
	if readTimeout > 0 {
		if err := p.SetReadTimeout(readTimeout); err != nil {
			p.Close()
			return nil, err
		}
	}
	return p, nil
}

// Observer receives monitor events. Metrics implement it; nil is allowed.
type Observer interface {
	Line(kind string)
	Reconnect()
}

// Options configure a Monitor.
type Options struct {
	Port        string
	BaudRate    int
	ReadTimeout time.Duration
	// RetryDelay is the fixed wait before reopening after an open or read failure.
	RetryDelay time.Duration
	// IdleSleep is the pause after a zero-length read.
	IdleSleep time.Duration
}

// Monitor runs the serial read loop.
type Monitor struct {
	opts   Options
	open   Opener
	logger *slog.Logger
	obs    Observer
}

// New returns a monitor. A nil opener uses OpenSerial.
func New(opts Options, open Opener, logger *slog.Logger, obs Observer) *Monitor {
	if open == nil {
		open = OpenSerial
	}
	if opts.IdleSleep <= 0 {
		opts.IdleSleep = 100 * time.Millisecond
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Second
	}
	return &Monitor{opts: opts, open: open, logger: logger, obs: obs}
}

// Start blocks running the read loop until ctx is cancelled. onRecord is
// called on the read goroutine for every correlated reading and must hand
// the record off without blocking; an error it returns is logged and
// ingestion continues.
func (m *Monitor) Start(ctx context.Context, onRecord func(lineproto.SensorReading) error) error {
	m.logger.Info("Starting serial monitor", "port", m.opts.Port, "baud", m.opts.BaudRate)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		port, err := m.open(m.opts.Port, m.opts.BaudRate, m.opts.ReadTimeout)
		if err != nil {
			m.logger.Error("Failed to open serial port", "port", m.opts.Port, "error", err)
		} else {
			m.logger.Info("Serial port opened", "port", m.opts.Port)
			err = m.readLoop(ctx, port, onRecord)
			port.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.logger.Error("Serial read loop error", "port", m.opts.Port, "error", err)
		}

		if m.obs != nil {
			m.obs.Reconnect()
		}
		m.logger.Warn("Serial connection lost, retrying", "delay", m.opts.RetryDelay)
		if !sleep(ctx, m.opts.RetryDelay) {
			return ctx.Err()
		}
	}
}

// readLoop returns only on a genuine I/O error or cancellation. Relay state
// and the pending reading live for one connection.
func (m *Monitor) readLoop(ctx context.Context, port Port, onRecord func(lineproto.SensorReading) error) error {
	corr := lineproto.NewCorrelator(func(r lineproto.SensorReading) {
		if err := onRecord(r); err != nil {
			m.logger.Warn("Sensor record dropped", "timestamp", r.Timestamp, "error", err)
		}
	})

	buf := make([]byte, 256)
	var partial []byte

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := port.Read(buf)
		if n > 0 {
			partial = append(partial, buf[:n]...)
			partial = m.drainLines(partial, corr)
		}
		if err != nil && !isIdle(err) {
			return err
		}
		if n == 0 {
			if !sleep(ctx, m.opts.IdleSleep) {
				return ctx.Err()
			}
		}
	}
}

// drainLines feeds every complete line in data and returns the remainder.
func (m *Monitor) drainLines(data []byte, corr *lineproto.Correlator) []byte {
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		m.handleLine(string(data[:i]), corr)
		data = data[i+1:]
	}
	if len(data) > maxLineLen {
		m.logger.Warn("Discarding oversized serial line", "bytes", len(data))
		return nil
	}
	// Compact so the backing array does not grow with every read.
	return append([]byte(nil), data...)
}

func (m *Monitor) handleLine(raw string, corr *lineproto.Correlator) {
	line := strings.TrimSpace(raw)
	if line == "" {
		return
	}
	m.logger.Info("Device line", "line", line)

	kind := corr.Feed(line)
	if m.obs != nil {
		m.obs.Line(kind.String())
	}
	if kind == lineproto.KindOther && lineproto.Classify(line) != lineproto.KindOther {
		m.logger.Warn("Malformed device line dropped", "line", line)
	}
}

// isIdle reports errors that only mean "nothing arrived yet".
func isIdle(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
