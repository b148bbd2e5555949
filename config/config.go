// Package config is the ornament's tunable-threshold table. It is loaded
// once at boot from a line-oriented KEY = VALUE source (the SD card) and is
// immutable afterwards. Every key has a compiled-in default; a missing
// source or a malformed value can degrade the table, never fail it.
package config

import (
	"bufio"
	"context"
	"io"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Table is the complete configuration. Loaded once, then read-only.
type Table struct {
	DeviceName string

	LightThreshold float64 // lux; LEDs turn on below this
	LightMovingAvg float64 // EMA factor, 0-1

	AccelThreshold float64 // g

	PixelBrightness int           // 0-255
	FlashTime       time.Duration // total flash duration
	FlashSpeed      time.Duration // interval between flash frames

	WatchdogTimeout time.Duration
	WatchdogPet     time.Duration // at most half of WatchdogTimeout
}

// Config file keys.
const (
	KeyDeviceName      = "DEVICE_NAME"
	KeyLightThreshold  = "LIGHT_THRESHOLD"
	KeyLightMovingAvg  = "LIGHT_MOVING_AVG"
	KeyAccelThreshold  = "ACCELERATION_THRESHOLD"
	KeyPixelBrightness = "NEOPIXEL_BRIGHTNESS"
	KeyFlashTime       = "NEOPIXEL_FLASH_TIME"
	KeyFlashSpeed      = "NEOPIXEL_FLASH_SPEED"
	KeyWatchdogTimeout = "WATCHDOG_TIMEOUT"
	KeyWatchdogPet     = "WATCHDOG_PET_INTERVAL"
)

// Defaults returns the compiled-in configuration.
func Defaults() Table {
	return Table{
		DeviceName:      "Ornament",
		LightThreshold:  30.0,
		LightMovingAvg:  0.8,
		AccelThreshold:  6.25,
		PixelBrightness: 5,
		FlashTime:       1 * time.Second,
		FlashSpeed:      100 * time.Millisecond,
		WatchdogTimeout: 10 * time.Second,
		WatchdogPet:     5 * time.Second,
	}
}

// option binds a key to its coercion. Unknown keys in the source are skipped
// for forward compatibility; a value that fails to coerce leaves the default
// in place.
type option struct {
	key   string
	apply func(t *Table, v string) error
}

func floatOpt(key string, field func(*Table) *float64) option {
	return option{key, func(t *Table, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*field(t) = f
		return nil
	}}
}

func secondsOpt(key string, field func(*Table) *time.Duration) option {
	return option{key, func(t *Table, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*field(t) = time.Duration(f * float64(time.Second))
		return nil
	}}
}

func intOpt(key string, field func(*Table) *int) option {
	return option{key, func(t *Table, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(t) = n
		return nil
	}}
}

func stringOpt(key string, field func(*Table) *string) option {
	return option{key, func(t *Table, v string) error {
		*field(t) = v
		return nil
	}}
}

var schema = []option{
	stringOpt(KeyDeviceName, func(t *Table) *string { return &t.DeviceName }),
	floatOpt(KeyLightThreshold, func(t *Table) *float64 { return &t.LightThreshold }),
	floatOpt(KeyLightMovingAvg, func(t *Table) *float64 { return &t.LightMovingAvg }),
	floatOpt(KeyAccelThreshold, func(t *Table) *float64 { return &t.AccelThreshold }),
	intOpt(KeyPixelBrightness, func(t *Table) *int { return &t.PixelBrightness }),
	secondsOpt(KeyFlashTime, func(t *Table) *time.Duration { return &t.FlashTime }),
	secondsOpt(KeyFlashSpeed, func(t *Table) *time.Duration { return &t.FlashSpeed }),
	secondsOpt(KeyWatchdogTimeout, func(t *Table) *time.Duration { return &t.WatchdogTimeout }),
	secondsOpt(KeyWatchdogPet, func(t *Table) *time.Duration { return &t.WatchdogPet }),
}

// Load parses the source into a table. A nil source yields the defaults.
// Parse problems are warnings on log, never errors: the result is always a
// complete table.
func Load(src io.Reader, log *slog.Logger) Table {
	t := Defaults()
	if src == nil {
		log.LogAttrs(context.Background(), slog.LevelWarn, "no config source, using defaults")
		return t
	}
	sc := bufio.NewScanner(src)
	for sc.Scan() {
		parseLine(&t, sc.Text(), log)
	}
	if err := sc.Err(); err != nil {
		log.LogAttrs(context.Background(), slog.LevelWarn, "config read aborted",
			slog.Any("err", err))
	}
	return t
}

// parseLine applies one KEY = VALUE line to t. Blank lines and #-comments
// are ignored, the rest is split on the first '=' and trimmed.
func parseLine(t *Table, line string, log *slog.Logger) {
	ctx := context.Background()
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return
	}
	key, val, ok := strings.Cut(line, "=")
	if !ok {
		log.LogAttrs(ctx, slog.LevelWarn, "invalid config line", slog.String("line", line))
		return
	}
	key = strings.TrimSpace(key)
	val = strings.TrimSpace(val)
	for _, opt := range schema {
		if opt.key != key {
			continue
		}
		if err := opt.apply(t, val); err != nil {
			log.LogAttrs(ctx, slog.LevelWarn, "invalid config value, keeping default",
				slog.String("key", key), slog.String("value", val))
		}
		return
	}
	// Unknown keys are skipped so old firmware tolerates new config files.
	log.LogAttrs(ctx, slog.LevelWarn, "unknown config key", slog.String("key", key))
}

// Dump logs the loaded table.
func (t Table) Dump(log *slog.Logger) {
	ctx := context.Background()
	log.LogAttrs(ctx, slog.LevelInfo, "configuration",
		slog.String("device_name", t.DeviceName),
		slog.Float64("light_threshold_lux", t.LightThreshold),
		slog.Float64("light_moving_avg", t.LightMovingAvg),
		slog.Float64("accel_threshold_g", t.AccelThreshold),
		slog.Int("pixel_brightness", t.PixelBrightness),
		slog.Duration("flash_time", t.FlashTime),
		slog.Duration("flash_speed", t.FlashSpeed),
		slog.Duration("watchdog_timeout", t.WatchdogTimeout),
		slog.Duration("watchdog_pet", t.WatchdogPet),
	)
}

// ResetSentinel is the file that, when present next to the config file,
// requests a one-time factory reset of the wireless module at boot.
const ResetSentinel = "reset-ble"

// ResetRequested reports whether the factory-reset sentinel is present as a
// regular file. Evaluated once at boot; the caller removes the sentinel
// after acting on it.
func ResetRequested(fsys fs.StatFS) bool {
	info, err := fsys.Stat(ResetSentinel)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}
