package config

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"testing/fstest"
	"time"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestLoadNilSourceIsDefaults(t *testing.T) {
	got := Load(nil, discard())
	if got != Defaults() {
		t.Fatalf("got %+v, want defaults", got)
	}
}

func TestLoadFullFile(t *testing.T) {
	src := strings.NewReader(`
# ornament configuration
DEVICE_NAME = Mantel Ornament
LIGHT_THRESHOLD = 35.5
LIGHT_MOVING_AVG = 0.9
ACCELERATION_THRESHOLD = 4.0
NEOPIXEL_BRIGHTNESS = 32
NEOPIXEL_FLASH_TIME = 2.5
NEOPIXEL_FLASH_SPEED = 0.05
WATCHDOG_TIMEOUT = 8
WATCHDOG_PET_INTERVAL = 3
`)
	got := Load(src, discard())
	want := Table{
		DeviceName:      "Mantel Ornament",
		LightThreshold:  35.5,
		LightMovingAvg:  0.9,
		AccelThreshold:  4.0,
		PixelBrightness: 32,
		FlashTime:       2500 * time.Millisecond,
		FlashSpeed:      50 * time.Millisecond,
		WatchdogTimeout: 8 * time.Second,
		WatchdogPet:     3 * time.Second,
	}
	if got != want {
		t.Fatalf("got %+v\nwant %+v", got, want)
	}
}

func TestLoadMalformedValueKeepsDefault(t *testing.T) {
	// A bad value for one key must not disturb the other keys in the file.
	src := strings.NewReader(`
LIGHT_MOVING_AVG = abc
LIGHT_THRESHOLD = 12.5
`)
	got := Load(src, discard())
	if got.LightMovingAvg != Defaults().LightMovingAvg {
		t.Errorf("LightMovingAvg = %v, want default %v", got.LightMovingAvg, Defaults().LightMovingAvg)
	}
	if got.LightThreshold != 12.5 {
		t.Errorf("LightThreshold = %v, want 12.5", got.LightThreshold)
	}
}

func TestLoadIgnoresCommentsAndUnknownKeys(t *testing.T) {
	src := strings.NewReader(`
    # indented comment
SOME_FUTURE_KEY = whatever
NOT_EVEN_AN_ASSIGNMENT
NEOPIXEL_BRIGHTNESS = 64
`)
	got := Load(src, discard())
	if got.PixelBrightness != 64 {
		t.Errorf("PixelBrightness = %d, want 64", got.PixelBrightness)
	}
	d := Defaults()
	d.PixelBrightness = 64
	if got != d {
		t.Errorf("unexpected drift: %+v", got)
	}
}

func TestLoadValueContainingEquals(t *testing.T) {
	// Split on the first '=' only.
	src := strings.NewReader("DEVICE_NAME = a=b\n")
	got := Load(src, discard())
	if got.DeviceName != "a=b" {
		t.Errorf("DeviceName = %q, want %q", got.DeviceName, "a=b")
	}
}

func TestResetRequested(t *testing.T) {
	if ResetRequested(fstest.MapFS{}) {
		t.Error("sentinel reported on empty fs")
	}
	fsys := fstest.MapFS{ResetSentinel: &fstest.MapFile{Data: []byte{}}}
	if !ResetRequested(fsys) {
		t.Error("sentinel file not detected")
	}
}
