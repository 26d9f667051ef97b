package device

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const DefaultWakeIntervalUS = 1000

type WakeConfig struct {
	SysRoot string
	// Driver is matched against each IIO device's name attribute.
	Driver     string
	IntervalUS int
}

// Wake asks every matching IIO sensor to start reporting: buffer enabled,
// runtime power held on, sampling rate set from IntervalUS. It is strictly
// best effort. Every failed write is logged at debug and skipped, and the
// return value is the number of devices at least one write succeeded for.
func Wake(ctx context.Context, cfg WakeConfig, logger *slog.Logger) int {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SysRoot == "" {
		cfg.SysRoot = "/sys"
	}
	if cfg.IntervalUS <= 0 {
		cfg.IntervalUS = DefaultWakeIntervalUS
	}
	if cfg.Driver == "" {
		logger.Debug("wake skipped: no driver configured")
		return 0
	}

	dirs, err := filepath.Glob(filepath.Join(cfg.SysRoot, "bus", "iio", "devices", "iio:device*"))
	if err != nil {
		logger.Debug("wake: glob failed", "error", err)
		return 0
	}
	hz := strconv.FormatFloat(1e6/float64(cfg.IntervalUS), 'f', -1, 64)

	woken := 0
	for _, dir := range dirs {
		if ctx.Err() != nil {
			break
		}
		name, err := os.ReadFile(filepath.Join(dir, "name"))
		if err != nil || strings.TrimSpace(string(name)) != cfg.Driver {
			continue
		}
		ok := false
		for _, w := range []struct{ rel, val string }{
			{"buffer/enable", "1"},
			{"power/control", "on"},
			{"sampling_frequency", hz},
		} {
			if err := writeAttr(filepath.Join(dir, w.rel), w.val); err != nil {
				logger.Debug("wake: write failed", "path", filepath.Join(dir, w.rel), "error", err)
				continue
			}
			ok = true
		}
		if ok {
			woken++
			logger.Debug("wake: sensor configured", "device", filepath.Base(dir), "sampling_hz", hz)
		}
	}
	return woken
}

func writeAttr(path, val string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(val); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %q: %w", val, err)
	}
	return f.Close()
}
