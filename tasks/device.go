// Package tasks holds the sensor and actuator task bodies. Each constructor
// returns a sched.Task closed over the shared Device context; nothing in
// here keeps ambient process-wide state.
package tasks

import (
	"image/color"
	"log/slog"

	"ornament-go/config"
	"ornament-go/regmap"
	"ornament-go/sched"
)

// LightSensor reads ambient light in lux.
type LightSensor interface {
	Lux() (float64, error)
}

// Accelerometer reads acceleration in micro-g per axis, matching the
// convention of the tinygo sensor drivers.
type Accelerometer interface {
	Acceleration() (x, y, z int32, err error)
}

// PixelStrip is the NeoPixel chain.
type PixelStrip interface {
	Len() int
	Set(i int, c color.RGBA)
	Clear()
	Show() error
}

// StatusLED is the plain indicator LED driven by the light monitor.
type StatusLED interface {
	Set(on bool)
}

// BatteryADC samples the battery divider.
type BatteryADC interface {
	ReadRaw() (uint16, error)
}

// Device is the explicitly-owned context passed to every task body. The
// register map and config table are the only cross-task shared state; both
// are touched from the single scheduler goroutine only.
type Device struct {
	Registers *regmap.Map
	Config    config.Table
	Log       *slog.Logger

	Light    LightSensor
	Accel    Accelerometer
	Pixels   PixelStrip
	LED      StatusLED
	Battery  BatteryADC
	HeapFree func() uint64

	// Flash connects the acceleration monitor to the flasher. Single-slot:
	// activations during a flash coalesce.
	Flash sched.Signal
}

// SeedThresholds commits the config-sourced thresholds into their RW
// registers at boot, replacing the "no data" initial patterns. From then on
// the registers are authoritative and host writes land there.
func (d *Device) SeedThresholds() error {
	for _, s := range []struct {
		id  regmap.ID
		eng float64
	}{
		{regmap.LightThreshold, d.Config.LightThreshold},
		{regmap.AccelThreshold, d.Config.AccelThreshold},
	} {
		desc, err := d.Registers.Desc(s.id)
		if err != nil {
			return err
		}
		raw, err := desc.Scale.RawFromEng(s.eng, desc.Width)
		if err != nil {
			return err
		}
		if err := d.Registers.Set(s.id, qtyValue(desc, raw)); err != nil {
			return err
		}
	}
	return nil
}
