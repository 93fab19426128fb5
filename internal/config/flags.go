package config

import (
	"os"

	"github.com/spf13/pflag"
)

// Flags are the command-line overrides. They are applied last, on top of
// the file and the environment.
type Flags struct {
	ConfigPath string
	Profile    string
	SerialPort string
	LogLevel   string
	HTTPPort   string
	DryRun     bool
}

// AddFlags registers the overrides on flagSet. --config defaults to
// CONFIG_FILE.
func (f *Flags) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVarP(&f.ConfigPath, "config", "c", os.Getenv("CONFIG_FILE"), "YAML configuration file")
	flagSet.StringVar(&f.Profile, "profile", "", "field-name profile (exhaust_fan, motor); replaces field names from the file")
	flagSet.StringVar(&f.SerialPort, "serial-port", "", "serial device, e.g. /dev/ttyUSB0")
	flagSet.StringVar(&f.LogLevel, "log-level", "", "debug, info, warn or error")
	flagSet.StringVar(&f.HTTPPort, "http-port", "", "port of the health and metrics server")
	flagSet.BoolVar(&f.DryRun, "check", false, "load and validate the configuration, then exit")
}

// Apply overlays the non-empty overrides on c and revalidates it.
func (f *Flags) Apply(c *Config) error {
	if f.Profile != "" {
		if err := c.UseProfile(f.Profile); err != nil {
			return err
		}
	}
	if f.SerialPort != "" {
		c.Serial.Port = f.SerialPort
	}
	if f.LogLevel != "" {
		c.LogLevel = f.LogLevel
	}
	if f.HTTPPort != "" {
		c.HTTPPort = f.HTTPPort
	}
	return c.Validate()
}
