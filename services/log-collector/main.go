// Command log-collector subscribes to the log records the services tee to
// MQTT (logs/<service>) and writes them to one file per service.
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

func main() {
	cfg := LoadConfig()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	logger.Info("Starting log collector", "dir", cfg.LogDir, "topic", cfg.LogTopic)

	collector, err := NewCollector(cfg.LogDir)
	if err != nil {
		logger.Error("Cannot prepare log directory", "error", err)
		os.Exit(1)
	}

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		if err := collector.Handle(msg.Topic(), msg.Payload()); err != nil {
			logger.Warn("Log record dropped", "topic", msg.Topic(), "error", err)
		}
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		// Resubscribe after every (re)connect.
		SetOnConnectHandler(func(c mqtt.Client) {
			if token := c.Subscribe(cfg.LogTopic, 0, handler); token.Wait() && token.Error() != nil {
				logger.Error("Subscribe failed", "topic", cfg.LogTopic, "error", token.Error())
				return
			}
			logger.Info("Listening for logs", "topic", cfg.LogTopic)
		})

	client := mqtt.NewClient(opts)
	client.Connect()
	defer client.Disconnect(250)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Stopping log collector")
}

// parseLevel accepts slog level names (debug, info, warn, error); anything
// else logs at info.
func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
