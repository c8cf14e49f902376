package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. LINKWATCH_HOST
// or LINKWATCH_PROBE_TIMEOUT.
const EnvPrefix = "LINKWATCH"

// Load reads the configuration file at path, applies environment overrides and
// fills in defaults. A missing file is not an error, the defaults describe a
// complete working setup.
func Load(path string) (cfg *Config, err error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		if _, statErr := os.Stat(path); statErr == nil {
			v.SetConfigFile(path)
			if err = v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if !errors.Is(statErr, os.ErrNotExist) {
			return nil, fmt.Errorf("stat config %s: %w", path, statErr)
		}
	}

	cfg = &Config{}
	if err = v.Unmarshal(cfg, viper.DecodeHook(intervalHook)); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err = cfg.Validate(); err != nil {
		return nil, err
	}

	return
}

// Default returns the configuration Load produces when no file or environment
// override is present.
func Default() *Config {
	return &Config{
		Host:           "www.google.com",
		SampleInterval: Interval{Duration: 5 * time.Second},
		Probe: Probe{
			Method:  "udp",
			Timeout: Interval{Duration: 2 * time.Second},
			Size:    24,
			TTL:     64,
		},
		Store: Store{
			Path:       ".ping_data.txt",
			MarkerPath: ".ping_monitor.pid",
		},
		Origin: Origin{
			URL:     "http://ipinfo.io/json",
			Timeout: Interval{Duration: 5 * time.Second},
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("host", d.Host)
	v.SetDefault("sample_interval", d.SampleInterval.String())
	v.SetDefault("probe.method", d.Probe.Method)
	v.SetDefault("probe.timeout", d.Probe.Timeout.String())
	v.SetDefault("probe.interface", d.Probe.Interface)
	v.SetDefault("probe.size", d.Probe.Size)
	v.SetDefault("probe.ttl", d.Probe.TTL)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.marker_path", d.Store.MarkerPath)
	v.SetDefault("store.strict", d.Store.Strict)
	v.SetDefault("origin.url", d.Origin.URL)
	v.SetDefault("origin.timeout", d.Origin.Timeout.String())
	v.SetDefault("metrics.listen", d.Metrics.Listen)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

type Config struct {
	Host           string   `mapstructure:"host" json:"host"`
	SampleInterval Interval `mapstructure:"sample_interval" json:"sample_interval"`
	Probe          Probe    `mapstructure:"probe" json:"probe"`
	Store          Store    `mapstructure:"store" json:"store"`
	Origin         Origin   `mapstructure:"origin" json:"origin"`
	Metrics        Metrics  `mapstructure:"metrics" json:"metrics"`
	Log            Log      `mapstructure:"log" json:"log"`
}

type Probe struct {
	// Method is one of "udp" (unprivileged echo), "icmp" (raw socket) or
	// "exec" (the system ping utility).
	Method    string   `mapstructure:"method" json:"method"`
	Timeout   Interval `mapstructure:"timeout" json:"timeout"`
	Interface string   `mapstructure:"interface" json:"interface,omitempty"`
	Size      int      `mapstructure:"size" json:"size"`
	TTL       int      `mapstructure:"ttl" json:"ttl"`
}

type Store struct {
	Path       string `mapstructure:"path" json:"path"`
	MarkerPath string `mapstructure:"marker_path" json:"marker_path"`
	Strict     bool   `mapstructure:"strict" json:"strict"`
}

type Origin struct {
	URL     string   `mapstructure:"url" json:"url"`
	Timeout Interval `mapstructure:"timeout" json:"timeout"`
}

type Metrics struct {
	// Listen enables the /metrics endpoint when non-empty, e.g. "127.0.0.1:9810".
	Listen string `mapstructure:"listen" json:"listen,omitempty"`
}

type Log struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
}

// Validate rejects settings the sampler cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return errors.New("config: host must not be empty")
	}
	if c.SampleInterval.Duration <= 0 {
		return fmt.Errorf("config: sample_interval must be positive, got %v", c.SampleInterval)
	}
	if c.Probe.Timeout.Duration <= 0 {
		return fmt.Errorf("config: probe.timeout must be positive, got %v", c.Probe.Timeout)
	}
	switch c.Probe.Method {
	case "udp", "icmp", "exec":
	default:
		return fmt.Errorf("config: unsupported probe.method %q", c.Probe.Method)
	}
	if c.Store.Path == "" || c.Store.MarkerPath == "" {
		return errors.New("config: store.path and store.marker_path are required")
	}
	return nil
}

type Interval struct {
	time.Duration
}

func (d *Interval) UnmarshalJSON(data []byte) (err error) {
	var pstr string
	err = json.Unmarshal(data, &pstr)
	if err != nil {
		return err
	}
	d.Duration, err = time.ParseDuration(pstr)
	return
}

func (d Interval) MarshalJSON() (data []byte, err error) {
	s := d.Duration.String()
	data, err = json.Marshal(s)
	return
}

// intervalHook lets viper decode "5s" style strings, and bare numbers as
// seconds, into an Interval.
func intervalHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if to != reflect.TypeOf(Interval{}) {
		return data, nil
	}

	switch v := data.(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid interval %q: %w", v, err)
		}
		return Interval{Duration: d}, nil
	case int:
		return Interval{Duration: time.Duration(v) * time.Second}, nil
	case int64:
		return Interval{Duration: time.Duration(v) * time.Second}, nil
	case float64:
		return Interval{Duration: time.Duration(v * float64(time.Second))}, nil
	case time.Duration:
		return Interval{Duration: v}, nil
	}

	return data, nil
}
