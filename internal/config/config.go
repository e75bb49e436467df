// Package config loads the TOML configuration file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration written as "2s" in TOML
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type Config struct {
	Device  DeviceConfig  `toml:"device"`
	Printer PrinterConfig `toml:"printer"`
	Job     JobConfig     `toml:"job"`
	Log     LogConfig     `toml:"log"`
	History HistoryConfig `toml:"history"`
}

// DeviceConfig selects the link to the printer
type DeviceConfig struct {
	// Transport is "serial", "bluetooth" or "simulator"
	Transport string `toml:"transport"`
	Port      string `toml:"port"`
	MAC       string `toml:"mac"`
	Channel   int    `toml:"channel"`
	BaudRate  int    `toml:"baud_rate"`
}

type PrinterConfig struct {
	Model          string   `toml:"model"`
	CommandTimeout Duration `toml:"command_timeout"`
	ReadTimeout    Duration `toml:"read_timeout"`
	// Resync is on unless explicitly disabled
	Resync bool `toml:"resync"`
}

type JobConfig struct {
	Density           uint8    `toml:"density"`
	LabelType         uint8    `toml:"label_type"`
	LabelSize         string   `toml:"label_size"`
	StepTimeout       Duration `toml:"step_timeout"`
	CompletionTimeout Duration `toml:"completion_timeout"`
	RowDelay          Duration `toml:"row_delay"`
	PollInterval      Duration `toml:"poll_interval"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type HistoryConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
	Limit   int    `toml:"limit"`
}

// Default returns the configuration used when no file exists
func Default() Config {
	return Config{
		Device: DeviceConfig{
			Transport: "bluetooth",
			Channel:   1,
			BaudRate:  115200,
		},
		Printer: PrinterConfig{
			Model:          "D11",
			CommandTimeout: Duration{2 * time.Second},
			ReadTimeout:    Duration{200 * time.Millisecond},
			Resync:         true,
		},
		Job: JobConfig{
			Density:           3,
			LabelType:         1,
			LabelSize:         "12x40mm",
			StepTimeout:       Duration{2 * time.Second},
			CompletionTimeout: Duration{10 * time.Second},
			RowDelay:          Duration{10 * time.Millisecond},
			PollInterval:      Duration{100 * time.Millisecond},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    filepath.Join(Dir(), "history.db"),
			Limit:   50,
		},
	}
}

// Dir is the configuration directory
func Dir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "niimbot-print")
	}
	return ".niimbot-print"
}

// DefaultPath is where Load looks when given no path
func DefaultPath() string {
	return filepath.Join(Dir(), "config.toml")
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath()
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path, creating the directory
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return f.Close()
}

func (c *Config) normalize() {
	c.Device.Transport = strings.ToLower(strings.TrimSpace(c.Device.Transport))
	c.Device.Port = strings.TrimSpace(c.Device.Port)
	c.Device.MAC = strings.ToUpper(strings.TrimSpace(c.Device.MAC))
	c.Printer.Model = strings.ToUpper(strings.TrimSpace(c.Printer.Model))
}

// Validate reports the first invalid setting
func (c Config) Validate() error {
	switch c.Device.Transport {
	case "serial":
		if c.Device.Port == "" {
			return errors.New("device.port is required for the serial transport")
		}
	case "bluetooth", "simulator":
	default:
		return fmt.Errorf("device.transport %q is not one of serial, bluetooth, simulator", c.Device.Transport)
	}
	if c.Device.BaudRate <= 0 {
		return fmt.Errorf("device.baud_rate must be positive, got %d", c.Device.BaudRate)
	}
	if c.Job.Density < 1 || c.Job.Density > 5 {
		return fmt.Errorf("job.density must be between 1 and 5, got %d", c.Job.Density)
	}
	for name, d := range map[string]Duration{
		"printer.command_timeout": c.Printer.CommandTimeout,
		"printer.read_timeout":    c.Printer.ReadTimeout,
		"job.step_timeout":        c.Job.StepTimeout,
		"job.completion_timeout":  c.Job.CompletionTimeout,
		"job.poll_interval":       c.Job.PollInterval,
	} {
		if d.Duration <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.Job.RowDelay.Duration < 0 {
		return errors.New("job.row_delay must not be negative")
	}
	return nil
}
