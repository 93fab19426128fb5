// Command telemetry-bridge reads the sensor device on the serial link,
// stores its readings, and every cycle publishes the latest sensor and
// setpoint values together with the derived fan and pump states.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"telemetry-bridge/internal/archive"
	"telemetry-bridge/internal/bridge"
	"telemetry-bridge/internal/config"
	"telemetry-bridge/internal/dispatch"
	"telemetry-bridge/internal/lineproto"
	"telemetry-bridge/internal/metrics"
	"telemetry-bridge/internal/serialmon"
	"telemetry-bridge/internal/telemetry"
	"telemetry-bridge/internal/tsdb"
)

const serviceName = "telemetry-bridge"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Configuration: defaults < profile < YAML file < env < flags.
	var flags config.Flags
	flagSet := pflag.NewFlagSet(serviceName, pflag.ContinueOnError)
	flags.AddFlags(flagSet)
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return err
	}
	if err := flags.Apply(cfg); err != nil {
		return err
	}
	// --check: print what we would run with (tokens hidden) and stop.
	if flags.DryRun {
		return yaml.NewEncoder(os.Stdout).Encode(redacted(*cfg))
	}

	// 2. Logger. With LOG_MQTT_BROKER set, every record also goes to
	// logs/telemetry-bridge; the broker connects in the background so a dead
	// log broker never blocks startup.
	logger, closeLogs := newLogger(cfg.LogLevel, cfg.LogMQTTBroker, cfg.MQTT.ClientID)
	defer closeLogs()
	slog.SetDefault(logger)
	logger.Info("Starting telemetry bridge", "profile", cfg.ProfileName, "serial", cfg.Serial.Port, "influx", cfg.Influx.URL, "mqtt", cfg.MQTT.Broker)

	// Runs until SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Metrics and /health. The private registry keeps /metrics limited to
	// our collectors plus the Go/process ones.
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	go serveHealth(ctx, cfg.HTTPPort, newHealthMux(reg, time.Now(), logger), logger)

	// 4. Outbound connections. None of these block: Influx is lazy, MQTT
	// retries on its own, and an unreachable archive is simply left out.
	store := tsdb.NewClient(cfg.Influx.URL, cfg.Influx.Token, cfg.Influx.Org, cfg.Influx.Timeout)
	defer store.Close()

	client := connectMQTT(cfg.MQTT, logger)
	defer client.Disconnect(250)

	sinks, closeArchive := openArchive(ctx, cfg.Archive, logger)
	defer closeArchive()

	pub := telemetry.NewPublisher(telemetry.Options{
		Topic:          cfg.MQTT.Topic,
		PublishTimeout: cfg.MQTT.PublishTimeout,
		Bucket:         cfg.Influx.SensorBucket,
		Measurement:    cfg.Influx.SensorMeasurement,
		Fields:         cfg.Fields,
	}, client, store, logger, m, sinks...)

	// 5. Serial side: monitor -> bounded pool -> Influx writes.
	records := tsdb.NewRecordWriter(store, cfg.Influx.SensorBucket, cfg.Influx.SensorMeasurement, cfg.Fields.EchoRelays)
	pool := dispatch.NewPool[lineproto.SensorReading](cfg.Serial.Workers, cfg.Serial.QueueSize, records.Write, logger, m)
	// Workers outlive the signal so Stop can drain what is queued.
	if err := pool.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}

	monitor := serialmon.New(serialmon.Options{
		Port:        cfg.Serial.Port,
		BaudRate:    cfg.Serial.BaudRate,
		ReadTimeout: cfg.Serial.ReadTimeout,
		RetryDelay:  cfg.Serial.RetryDelay,
	}, nil, logger, m)
	loop := bridge.New(bridge.OptionsFromConfig(*cfg), store, pub, logger, m)

	// --- MAIN LOOPS ---
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		monitor.Start(ctx, pool.Submit)
	}()
	go func() {
		defer wg.Done()
		loop.Run(ctx)
	}()

	// Shutdown order matters: stop producing (monitor, bridge), drain the
	// pool, then let in-flight MQTT acks finish before the deferred
	// Disconnect runs.
	<-ctx.Done()
	logger.Info("Shutting down")
	wg.Wait()
	pool.Stop()
	pub.Wait()

	processed, failed, dropped := pool.Stats()
	logger.Info("Stopped", "records_stored", processed, "records_failed", failed, "records_dropped", dropped)
	return nil
}

// connectMQTT starts connecting in the background. The client keeps
// retrying and reconnecting on its own; publishes made while it is down
// fail and are logged by the publisher.
func connectMQTT(cfg config.MQTTConfig, logger *slog.Logger) mqtt.Client {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Token).
		SetKeepAlive(cfg.KeepAlive).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(mqtt.Client) {
			logger.Info("Connected to MQTT broker", "broker", cfg.Broker)
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("MQTT connection lost", "error", err)
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	go func() {
		if token.Wait() && token.Error() != nil {
			logger.Error("MQTT connect failed", "broker", cfg.Broker, "error", token.Error())
		}
	}()
	return client
}

// openArchive returns the configured archive sinks. An unreachable archive
// is logged and left out; the bridge runs without it.
func openArchive(ctx context.Context, cfg config.ArchiveConfig, logger *slog.Logger) ([]telemetry.Sink, func()) {
	var sinks []telemetry.Sink
	var closers []func()

	if cfg.PostgresURL != "" {
		pool, err := archive.OpenPostgres(ctx, cfg.PostgresURL)
		if err != nil {
			logger.Error("Snapshot archive disabled", "error", err)
		} else {
			snapshots := archive.NewSnapshots(pool)
			if hypertable, err := snapshots.EnsureSchema(ctx); err != nil {
				logger.Error("Failed to prepare snapshot table", "error", err)
			} else if !hypertable {
				logger.Warn("TimescaleDB extension missing; telemetry_snapshots is a plain table")
			}
			sinks = append(sinks, snapshots)
			closers = append(closers, pool.Close)
		}
	}
	if cfg.ValkeyAddr != "" {
		rdb, err := archive.OpenValkey(ctx, cfg.ValkeyAddr)
		if err != nil {
			logger.Error("Last-value archive disabled", "error", err)
		} else {
			sinks = append(sinks, archive.NewLatest(rdb, cfg.LastTTL))
			closers = append(closers, func() { rdb.Close() })
		}
	}

	return sinks, func() {
		for _, c := range closers {
			c()
		}
	}
}

// redacted hides credentials before the configuration is printed.
func redacted(c config.Config) config.Config {
	if c.Influx.Token != "" {
		c.Influx.Token = "***"
	}
	if c.MQTT.Token != "" {
		c.MQTT.Token = "***"
	}
	return c
}
