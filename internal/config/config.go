// Package config loads daemon settings from flags and an optional TOML or
// YAML file.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/pumpsync/internal/gpio"
	"github.com/sweeney/pumpsync/internal/pumpevent"
)

// Config is the full daemon configuration.
type Config struct {
	Poll      time.Duration `toml:"poll" yaml:"poll"`
	Heartbeat time.Duration `toml:"heartbeat" yaml:"heartbeat"`
	Broker    string        `toml:"broker" yaml:"broker"`
	ClientID  string        `toml:"client_id" yaml:"client_id"`
	HTTPAddr  string        `toml:"http" yaml:"http"`
	DBPath    string        `toml:"db" yaml:"db"`
	LogLevel  string        `toml:"log_level" yaml:"log_level"`

	Pump   PumpConfig   `toml:"pump" yaml:"pump"`
	Bridge BridgeConfig `toml:"bridge" yaml:"bridge"`
	Retry  RetryConfig  `toml:"retry" yaml:"retry"`

	// PrintHistory is flag-only.
	PrintHistory bool `toml:"-" yaml:"-"`
}

type PumpConfig struct {
	Model    string        `toml:"model" yaml:"model"`
	Timezone string        `toml:"timezone" yaml:"timezone"`
	Lookback time.Duration `toml:"lookback" yaml:"lookback"`
	MaxPages int           `toml:"max_pages" yaml:"max_pages"`
}

// BridgeConfig describes the BLE radio bridge and its reset line.
type BridgeConfig struct {
	Address        string        `toml:"address" yaml:"address"`
	CommandTimeout time.Duration `toml:"command_timeout" yaml:"command_timeout"`
	GPIOChip       string        `toml:"gpio_chip" yaml:"gpio_chip"`
	ResetPin       int           `toml:"reset_pin" yaml:"reset_pin"`
}

type RetryConfig struct {
	Attempts   int           `toml:"attempts" yaml:"attempts"`
	Backoff    time.Duration `toml:"backoff" yaml:"backoff"`
	ResetAfter int           `toml:"reset_after" yaml:"reset_after"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Poll:      5 * time.Minute,
		Heartbeat: 15 * time.Minute,
		Broker:    "tcp://192.168.1.200:1883",
		ClientID:  "pumpsync",
		HTTPAddr:  ":80",
		DBPath:    "/var/lib/pumpsync/doses.db",
		LogLevel:  "info",
		Pump: PumpConfig{
			Model:    "722",
			Timezone: "Local",
			Lookback: 6 * time.Hour,
			MaxPages: 36,
		},
		Bridge: BridgeConfig{
			CommandTimeout: 5 * time.Second,
			GPIOChip:       gpio.DefaultChip,
			ResetPin:       gpio.DefaultResetPin,
		},
		Retry: RetryConfig{
			Attempts:   3,
			Backoff:    2 * time.Second,
			ResetAfter: 4,
		},
	}
}

// Flags binds every setting to fs. The returned string pointer holds the
// -config path once fs is parsed.
func (c *Config) Flags(fs *flag.FlagSet) *string {
	path := fs.String("config", "", "Config file (.toml, .yaml or .yml)")
	fs.DurationVar(&c.Poll, "poll", c.Poll, "History polling interval")
	fs.DurationVar(&c.Heartbeat, "heartbeat", c.Heartbeat, "Heartbeat interval (0 to disable)")
	fs.StringVar(&c.Broker, "broker", c.Broker, "MQTT broker address")
	fs.StringVar(&c.ClientID, "client-id", c.ClientID, "MQTT client id")
	fs.StringVar(&c.HTTPAddr, "http", c.HTTPAddr, "HTTP status address (empty to disable)")
	fs.StringVar(&c.DBPath, "db", c.DBPath, "Dose database path")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (debug, info, warn, error)")
	fs.StringVar(&c.Pump.Model, "pump-model", c.Pump.Model, "Pump model number, e.g. 522 or 722")
	fs.StringVar(&c.Pump.Timezone, "timezone", c.Pump.Timezone, "Time zone of the pump clock")
	fs.DurationVar(&c.Pump.Lookback, "lookback", c.Pump.Lookback, "History re-read window before the last sync")
	fs.IntVar(&c.Pump.MaxPages, "max-pages", c.Pump.MaxPages, "Maximum history pages read per sync")
	fs.StringVar(&c.Bridge.Address, "peripheral", c.Bridge.Address, "BLE address of the radio bridge")
	fs.DurationVar(&c.Bridge.CommandTimeout, "command-timeout", c.Bridge.CommandTimeout, "Per-command response timeout")
	fs.StringVar(&c.Bridge.GPIOChip, "gpio-chip", c.Bridge.GPIOChip, "GPIO chip of the bridge reset line")
	fs.IntVar(&c.Bridge.ResetPin, "reset-pin", c.Bridge.ResetPin, "BCM pin of the bridge reset line (-1 to disable)")
	fs.IntVar(&c.Retry.Attempts, "retry-attempts", c.Retry.Attempts, "Attempts per command")
	fs.DurationVar(&c.Retry.Backoff, "retry-backoff", c.Retry.Backoff, "Backoff between attempts")
	fs.IntVar(&c.Retry.ResetAfter, "reset-after", c.Retry.ResetAfter, "Consecutive timeouts before pulsing the reset line (0 to disable)")
	fs.BoolVar(&c.PrintHistory, "print-history", false, "Print the reconciled history and exit")
	return path
}

// Load parses args into a configuration. Values are layered as defaults,
// then the -config file, then flags given explicitly on the command line.
func Load(name string, args []string) (*Config, error) {
	cfg := Default()
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	path := cfg.Flags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *path != "" {
		explicit := map[string]string{}
		fs.Visit(func(f *flag.Flag) { explicit[f.Name] = f.Value.String() })

		if err := LoadFile(*path, cfg); err != nil {
			return nil, err
		}
		for name, value := range explicit {
			if err := fs.Set(name, value); err != nil {
				return nil, fmt.Errorf("reapply -%s: %w", name, err)
			}
		}
	}
	return cfg, nil
}

// LoadFile decodes the file at path over cfg. Keys missing from the file
// keep their current values.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("decode TOML: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode YAML: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Poll <= 0 {
		errs = append(errs, fmt.Errorf("poll must be positive, got %v", c.Poll))
	}
	if c.Heartbeat < 0 {
		errs = append(errs, fmt.Errorf("heartbeat must not be negative, got %v", c.Heartbeat))
	}
	if strings.TrimSpace(c.Bridge.Address) == "" {
		errs = append(errs, errors.New("peripheral address is required"))
	}
	if c.Bridge.CommandTimeout <= 0 {
		errs = append(errs, fmt.Errorf("command timeout must be positive, got %v", c.Bridge.CommandTimeout))
	}
	if err := validateBroker(c.Broker); err != nil {
		errs = append(errs, err)
	}
	if _, err := pumpevent.ParseModel(c.Pump.Model); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log level: %w", err))
	}
	if c.Pump.Lookback < 0 {
		errs = append(errs, fmt.Errorf("lookback must not be negative, got %v", c.Pump.Lookback))
	}
	if c.Pump.MaxPages < 1 {
		errs = append(errs, fmt.Errorf("max pages must be at least 1, got %d", c.Pump.MaxPages))
	}
	if c.Retry.Attempts < 1 {
		errs = append(errs, fmt.Errorf("retry attempts must be at least 1, got %d", c.Retry.Attempts))
	}
	if c.Retry.Backoff < 0 || c.Retry.ResetAfter < 0 {
		errs = append(errs, errors.New("retry backoff and reset-after must not be negative"))
	}
	return errors.Join(errs...)
}

func validateBroker(broker string) error {
	u, err := url.Parse(broker)
	if err != nil {
		return fmt.Errorf("broker: %w", err)
	}
	switch u.Scheme {
	case "tcp", "ssl", "tls", "mqtt", "mqtts", "ws", "wss":
	default:
		return fmt.Errorf("broker %q: unsupported scheme %q", broker, u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("broker %q: missing host", broker)
	}
	return nil
}

// Model returns the configured pump model.
func (c *Config) Model() (pumpevent.Model, error) {
	return pumpevent.ParseModel(c.Pump.Model)
}

// Location returns the pump clock's time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Pump.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}
	return loc, nil
}

// ConfigureLogger applies the log level and the text formatter to l.
func (c *Config) ConfigureLogger(l *log.Logger) error {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return err
	}
	l.SetLevel(level)
	l.SetFormatter(&log.TextFormatter{
		DisableQuote:  true,
		FullTimestamp: true,
	})
	return nil
}
