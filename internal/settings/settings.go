// Package settings persists calibration offsets and feature toggles through a
// small string key-value contract. Values are read once at startup and each
// mutation is written through immediately.
package settings

import (
	"fmt"
	"log/slog"
	"strconv"
)

const (
	KeyOffsetRoll       = "calibration_offset_roll"
	KeyOffsetPitch      = "calibration_offset_pitch"
	KeyHapticEnabled    = "is_haptic_enabled"
	KeyBackgroundUpdate = "is_background_update_enabled"
)

// Keys lists every persisted key in a stable order.
var Keys = []string{KeyOffsetRoll, KeyOffsetPitch, KeyHapticEnabled, KeyBackgroundUpdate}

// Store is the persistence contract. Get reports ok=false when the key has
// never been written.
type Store interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Close() error
}

type Settings struct {
	OffsetRoll              float64 `json:"offset_roll"`
	OffsetPitch             float64 `json:"offset_pitch"`
	HapticEnabled           bool    `json:"haptic_enabled"`
	BackgroundUpdateEnabled bool    `json:"background_update_enabled"`
}

func Defaults() Settings {
	return Settings{HapticEnabled: true, BackgroundUpdateEnabled: true}
}

// Load reads all keys from st. Missing, unreadable or malformed values fall
// back to Defaults; problems are logged, never returned.
func Load(st Store, logger *slog.Logger) Settings {
	if logger == nil {
		logger = slog.Default()
	}
	out := Defaults()
	if st == nil {
		return out
	}
	out.OffsetRoll = loadFloat(st, logger, KeyOffsetRoll, out.OffsetRoll)
	out.OffsetPitch = loadFloat(st, logger, KeyOffsetPitch, out.OffsetPitch)
	out.HapticEnabled = loadBool(st, logger, KeyHapticEnabled, out.HapticEnabled)
	out.BackgroundUpdateEnabled = loadBool(st, logger, KeyBackgroundUpdate, out.BackgroundUpdateEnabled)
	return out
}

func loadFloat(st Store, logger *slog.Logger, key string, def float64) float64 {
	raw, ok, err := st.Get(key)
	if err != nil {
		logger.Warn("settings read failed, using default", "key", key, "error", err)
		return def
	}
	if !ok {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		logger.Warn("settings value malformed, using default", "key", key, "value", raw)
		return def
	}
	return v
}

func loadBool(st Store, logger *slog.Logger, key string, def bool) bool {
	raw, ok, err := st.Get(key)
	if err != nil {
		logger.Warn("settings read failed, using default", "key", key, "error", err)
		return def
	}
	if !ok {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		logger.Warn("settings value malformed, using default", "key", key, "value", raw)
		return def
	}
	return v
}

func FormatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

func FormatBool(v bool) string { return strconv.FormatBool(v) }

// SaveOffsets writes both calibration offsets.
func SaveOffsets(st Store, roll, pitch float64) error {
	if st == nil {
		return nil
	}
	if err := st.Set(KeyOffsetRoll, FormatFloat(roll)); err != nil {
		return fmt.Errorf("settings: save %s: %w", KeyOffsetRoll, err)
	}
	if err := st.Set(KeyOffsetPitch, FormatFloat(pitch)); err != nil {
		return fmt.Errorf("settings: save %s: %w", KeyOffsetPitch, err)
	}
	return nil
}

func SaveBool(st Store, key string, v bool) error {
	if st == nil {
		return nil
	}
	if err := st.Set(key, FormatBool(v)); err != nil {
		return fmt.Errorf("settings: save %s: %w", key, err)
	}
	return nil
}

// Open selects a Store backend by name.
func Open(backend, path string) (Store, error) {
	switch backend {
	case "", "yaml":
		return OpenFile(path)
	case "sqlite":
		return OpenSQLite(path)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("settings: unknown backend %q", backend)
	}
}
