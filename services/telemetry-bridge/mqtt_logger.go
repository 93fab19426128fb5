package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MqttLogWriter is an io.Writer that publishes every log record to
// logs/<service>. Publishing is fire-and-forget so logging never waits on
// the broker.
type MqttLogWriter struct {
	client mqtt.Client
	topic  string
}

func NewMqttLogWriter(client mqtt.Client, serviceName string) *MqttLogWriter {
	return &MqttLogWriter{
		client: client,
		topic:  fmt.Sprintf("logs/%s", serviceName),
	}
}

func (w *MqttLogWriter) Write(p []byte) (int, error) {
	if !w.client.IsConnectionOpen() {
		return len(p), nil
	}
	// slog reuses p after Write returns.
	payload := make([]byte, len(p))
	copy(payload, p)
	w.client.Publish(w.topic, 0, false, payload)
	return len(p), nil
}

// newLogger builds the JSON logger on stdout, tee'd to the local log
// broker when one is configured. The returned func disconnects it.
func newLogger(level, logBroker, clientID string) (*slog.Logger, func()) {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if logBroker == "" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)), func() {}
	}

	client := mqtt.NewClient(mqtt.NewClientOptions().
		AddBroker(logBroker).
		SetClientID(clientID + "-logs").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second))
	// Connect in the background; records written before the link is up
	// only go to stdout.
	client.Connect()

	out := io.MultiWriter(os.Stdout, NewMqttLogWriter(client, serviceName))
	return slog.New(slog.NewJSONHandler(out, opts)), func() { client.Disconnect(250) }
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
