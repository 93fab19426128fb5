package main

import "os"

// Config is read from the environment.
type Config struct {
	MQTTBroker   string
	MQTTClientID string
	// LogTopic must end in a wildcard below logs/; the level after "logs" names
	// the service.
	LogTopic string
	// LogDir receives one <service>.log file per publishing service.
	LogDir   string
	LogLevel string
}

func LoadConfig() Config {
	return Config{
		MQTTBroker:   getEnv("MQTT_BROKER", "tcp://mosquitto:1883"),
		MQTTClientID: getEnv("MQTT_CLIENT_ID", "log-collector"),
		LogTopic:     getEnv("LOG_TOPIC", "logs/#"),
		LogDir:       getEnv("LOG_DIR", "/var/log/telemetry"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
