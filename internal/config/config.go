package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Wake      WakeConfig      `yaml:"wake"`
	Record    RecordConfig    `yaml:"record"`
	Settings  SettingsConfig  `yaml:"settings"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Haptic    HapticConfig    `yaml:"haptic"`
	Web       WebConfig       `yaml:"web"`
	UDP       UDPConfig       `yaml:"udp"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type DeviceConfig struct {
	Backend     string        `yaml:"backend"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	HIDRaw      HIDRawConfig  `yaml:"hidraw"`
	Serial      SerialConfig  `yaml:"serial"`
	Replay      ReplayConfig  `yaml:"replay"`
}

type HIDRawConfig struct {
	Path      string `yaml:"path"`
	SysRoot   string `yaml:"sys_root"`
	UsagePage uint32 `yaml:"usage_page"`
	Usage     uint32 `yaml:"usage"`
}

type SerialConfig struct {
	Port      string `yaml:"port"`
	Baud      int    `yaml:"baud"`
	ReportLen int    `yaml:"report_len"`
}

type ReplayConfig struct {
	Path  string  `yaml:"path"`
	Speed float64 `yaml:"speed"`
	Loop  bool    `yaml:"loop"`
}

type WakeConfig struct {
	Enable     bool   `yaml:"enable"`
	SysRoot    string `yaml:"sys_root"`
	Driver     string `yaml:"driver"`
	IntervalUS int    `yaml:"interval_us"`
}

type RecordConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
}

type SettingsConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
	Watch   bool   `yaml:"watch"`
}

type SchedulerConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type HapticConfig struct {
	Backend string        `yaml:"backend"`
	Pulse   time.Duration `yaml:"pulse"`
	GPIO    GPIOConfig    `yaml:"gpio"`
}

type GPIOConfig struct {
	Chip string `yaml:"chip"`
	Line string `yaml:"line"`
}

type WebConfig struct {
	Enable *bool  `yaml:"enable"`
	Listen string `yaml:"listen"`
}

// Enabled defaults to true when the key is absent.
func (w WebConfig) Enabled() bool { return w.Enable == nil || *w.Enable }

type UDPConfig struct {
	Enable bool   `yaml:"enable"`
	Dest   string `yaml:"dest"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	BufferLines int    `yaml:"buffer_lines"`
}

// Load reads a YAML config file and applies defaults and validation.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default is the configuration used when no file is given.
func Default() Config {
	var cfg Config
	// The zero config always validates.
	_ = DefaultAndValidate(&cfg)
	return cfg
}

func DefaultAndValidate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	d := &cfg.Device
	d.Backend = strings.ToLower(strings.TrimSpace(d.Backend))
	if d.Backend == "" {
		d.Backend = "hidraw"
	}
	if d.ReadTimeout <= 0 {
		d.ReadTimeout = 100 * time.Millisecond
	}
	if d.HIDRaw.UsagePage == 0 {
		d.HIDRaw.UsagePage = 0xFF00
	}
	if d.HIDRaw.Usage == 0 {
		d.HIDRaw.Usage = 3
	}
	if d.Serial.Baud <= 0 {
		d.Serial.Baud = 115200
	}
	if d.Serial.ReportLen == 0 {
		d.Serial.ReportLen = 22
	}
	if d.Replay.Speed == 0 {
		d.Replay.Speed = 1
	}
	switch d.Backend {
	case "hidraw":
	case "serial":
		if d.Serial.Port == "" {
			return fmt.Errorf("device.serial.port is required when device.backend is 'serial'")
		}
		if d.Serial.ReportLen < 18 {
			return fmt.Errorf("device.serial.report_len must be >= 18")
		}
	case "replay":
		if d.Replay.Path == "" {
			return fmt.Errorf("device.replay.path is required when device.backend is 'replay'")
		}
		if d.Replay.Speed < 0 {
			return fmt.Errorf("device.replay.speed must be > 0")
		}
	default:
		return fmt.Errorf("device.backend must be one of hidraw, serial, replay")
	}

	if cfg.Wake.IntervalUS == 0 {
		cfg.Wake.IntervalUS = 1000
	}
	if cfg.Wake.IntervalUS < 0 {
		return fmt.Errorf("wake.interval_us must be > 0")
	}
	if cfg.Wake.Enable && strings.TrimSpace(cfg.Wake.Driver) == "" {
		return fmt.Errorf("wake.driver is required when wake.enable is true")
	}

	if cfg.Record.Enable {
		if cfg.Record.Path == "" {
			return fmt.Errorf("record.path is required when record.enable is true")
		}
		if d.Backend == "replay" {
			return fmt.Errorf("record cannot be used with device.backend=replay")
		}
	}

	s := &cfg.Settings
	s.Backend = strings.ToLower(strings.TrimSpace(s.Backend))
	switch s.Backend {
	case "", "yaml":
		s.Backend = "yaml"
		if s.Path == "" {
			s.Path = "./tiltlevel-settings.yaml"
		}
	case "sqlite":
		if s.Path == "" {
			s.Path = "./tiltlevel-settings.db"
		}
		if s.Watch {
			return fmt.Errorf("settings.watch is only supported when settings.backend is 'yaml'")
		}
	case "memory":
		if s.Watch {
			return fmt.Errorf("settings.watch is only supported when settings.backend is 'yaml'")
		}
	default:
		return fmt.Errorf("settings.backend must be one of yaml, sqlite, memory")
	}

	if cfg.Scheduler.Interval == 0 {
		cfg.Scheduler.Interval = time.Second / 30
	}
	if cfg.Scheduler.Interval < 0 {
		return fmt.Errorf("scheduler.interval must be > 0")
	}

	h := &cfg.Haptic
	h.Backend = strings.ToLower(strings.TrimSpace(h.Backend))
	if h.Backend == "" {
		h.Backend = "log"
	}
	if h.Pulse == 0 {
		h.Pulse = 30 * time.Millisecond
	}
	if h.Pulse < 0 || h.Pulse > time.Second {
		return fmt.Errorf("haptic.pulse must be in (0, 1s]")
	}
	switch h.Backend {
	case "log", "none":
	case "gpio":
		if strings.TrimSpace(h.GPIO.Line) == "" {
			return fmt.Errorf("haptic.gpio.line is required when haptic.backend is 'gpio'")
		}
	default:
		return fmt.Errorf("haptic.backend must be one of log, gpio, none")
	}

	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8087"
	}

	if cfg.UDP.Enable && strings.TrimSpace(cfg.UDP.Dest) == "" {
		return fmt.Errorf("udp.dest is required when udp.enable is true")
	}

	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	switch cfg.Logging.Level {
	case "":
		cfg.Logging.Level = "info"
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	if cfg.Logging.BufferLines <= 0 {
		cfg.Logging.BufferLines = 2000
	}

	return nil
}
