package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "cfg.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func requireErrEq(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %q, got nil", want)
	}
	if err.Error() != want {
		t.Fatalf("error=%q want %q", err.Error(), want)
	}
}

func TestLoad_EmptyFileGetsDefaults(t *testing.T) {
	path := writeTempConfig(t, "{}\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Device.Backend != "hidraw" {
		t.Fatalf("device.backend=%q want hidraw", cfg.Device.Backend)
	}
	if cfg.Device.HIDRaw.UsagePage != 0xFF00 || cfg.Device.HIDRaw.Usage != 3 {
		t.Fatalf("usage=0x%X/%d want 0xFF00/3", cfg.Device.HIDRaw.UsagePage, cfg.Device.HIDRaw.Usage)
	}
	if cfg.Scheduler.Interval != time.Second/30 {
		t.Fatalf("scheduler.interval=%s want %s", cfg.Scheduler.Interval, time.Second/30)
	}
	if cfg.Settings.Backend != "yaml" || cfg.Settings.Path != "./tiltlevel-settings.yaml" {
		t.Fatalf("settings=%+v", cfg.Settings)
	}
	if cfg.Haptic.Backend != "log" || cfg.Haptic.Pulse != 30*time.Millisecond {
		t.Fatalf("haptic=%+v", cfg.Haptic)
	}
	if !cfg.Web.Enabled() || cfg.Web.Listen != "127.0.0.1:8087" {
		t.Fatalf("web=%+v", cfg.Web)
	}
	if cfg.Wake.IntervalUS != 1000 {
		t.Fatalf("wake.interval_us=%d want 1000", cfg.Wake.IntervalUS)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("logging.level=%q want info", cfg.Logging.Level)
	}
}

func TestDefault_MatchesEmptyFile(t *testing.T) {
	path := writeTempConfig(t, "")
	fromFile, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got := Default(); got.Device != fromFile.Device || got.Scheduler != fromFile.Scheduler || got.Haptic != fromFile.Haptic {
		t.Fatalf("Default()=%+v want %+v", got, fromFile)
	}
}

func TestLoad_FullFile(t *testing.T) {
	path := writeTempConfig(t, `
device:
  backend: serial
  serial:
    port: /dev/ttyUSB0
    baud: 230400
wake:
  enable: true
  driver: accel_3d
  interval_us: 2000
settings:
  backend: sqlite
  path: /var/lib/tiltlevel/settings.db
scheduler:
  interval: 50ms
haptic:
  backend: gpio
  pulse: 40ms
  gpio:
    line: GPIO17
web:
  enable: false
udp:
  enable: true
  dest: 127.0.0.1:49002
logging:
  level: DEBUG
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Device.Serial.Baud != 230400 || cfg.Device.Serial.ReportLen != 22 {
		t.Fatalf("serial=%+v", cfg.Device.Serial)
	}
	if cfg.Scheduler.Interval != 50*time.Millisecond {
		t.Fatalf("scheduler.interval=%s", cfg.Scheduler.Interval)
	}
	if cfg.Web.Enabled() {
		t.Fatalf("web should be disabled")
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("logging.level=%q", cfg.Logging.Level)
	}
	if cfg.Haptic.GPIO.Line != "GPIO17" || cfg.Haptic.Pulse != 40*time.Millisecond {
		t.Fatalf("haptic=%+v", cfg.Haptic)
	}
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"UnknownBackend", "device:\n  backend: bluetooth\n", "device.backend must be one of hidraw, serial, replay"},
		{"SerialNeedsPort", "device:\n  backend: serial\n", "device.serial.port is required when device.backend is 'serial'"},
		{"SerialShortReport", "device:\n  backend: serial\n  serial:\n    port: /dev/ttyS0\n    report_len: 10\n", "device.serial.report_len must be >= 18"},
		{"ReplayNeedsPath", "device:\n  backend: replay\n", "device.replay.path is required when device.backend is 'replay'"},
		{"ReplayNegativeSpeed", "device:\n  backend: replay\n  replay:\n    path: a.log\n    speed: -1\n", "device.replay.speed must be > 0"},
		{"WakeNeedsDriver", "wake:\n  enable: true\n", "wake.driver is required when wake.enable is true"},
		{"RecordNeedsPath", "record:\n  enable: true\n", "record.path is required when record.enable is true"},
		{"RecordNotWithReplay", "device:\n  backend: replay\n  replay:\n    path: a.log\nrecord:\n  enable: true\n  path: b.log\n", "record cannot be used with device.backend=replay"},
		{"UnknownSettingsBackend", "settings:\n  backend: registry\n", "settings.backend must be one of yaml, sqlite, memory"},
		{"WatchOnlyYAML", "settings:\n  backend: sqlite\n  watch: true\n", "settings.watch is only supported when settings.backend is 'yaml'"},
		{"NegativeInterval", "scheduler:\n  interval: -1s\n", "scheduler.interval must be > 0"},
		{"PulseTooLong", "haptic:\n  pulse: 2s\n", "haptic.pulse must be in (0, 1s]"},
		{"GPIONeedsLine", "haptic:\n  backend: gpio\n", "haptic.gpio.line is required when haptic.backend is 'gpio'"},
		{"UnknownHaptic", "haptic:\n  backend: buzzer\n", "haptic.backend must be one of log, gpio, none"},
		{"UDPNeedsDest", "udp:\n  enable: true\n", "udp.dest is required when udp.enable is true"},
		{"BadLogLevel", "logging:\n  level: chatty\n", "logging.level must be one of debug, info, warn, error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeTempConfig(t, tc.yaml))
			requireErrEq(t, err, tc.want)
		})
	}
}

func TestLoad_MissingFileAndBadYAML(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	if _, err := Load(writeTempConfig(t, "device: [\n")); err == nil {
		t.Fatalf("expected error for invalid yaml")
	}
}

func TestDefaultAndValidate_Nil(t *testing.T) {
	requireErrEq(t, DefaultAndValidate(nil), "config is nil")
}
