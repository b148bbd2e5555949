package tasks

import (
	"time"

	"ornament-go/errcode"
	"ornament-go/qty"
	"ornament-go/regmap"
	"ornament-go/sched"
)

const lightPeriod = 200 * time.Millisecond

// NewLightMonitor samples ambient light, smooths it with an exponential
// moving average, and drives the indicator LED when the smoothed level drops
// below the threshold register. There is no hysteresis beyond the smoothing:
// the EMA itself has to cross the threshold to flip the LED.
func NewLightMonitor(dev *Device) *sched.Task {
	var (
		ema    float64
		seeded bool
	)
	return &sched.Task{
		Name:    "light_monitor",
		Period:  lightPeriod,
		Enabled: true,
		Run: func(time.Time) error {
			lux, err := dev.Light.Lux()
			if err != nil {
				// Skip this cycle; the register keeps its last value.
				return &errcode.E{C: errcode.SensorRead, Op: "light_monitor", Err: err}
			}
			alpha := dev.Config.LightMovingAvg
			if !seeded {
				ema, seeded = lux, true
			} else {
				ema = alpha*ema + (1-alpha)*lux
			}

			threshold, err := dev.Registers.Eng(regmap.LightThreshold)
			if err != nil {
				return err
			}
			dark := ema < threshold
			dev.LED.Set(dark)

			var on uint64
			if dark {
				on = 1
			}
			if err := dev.Registers.Set(regmap.LEDEnable, qty.Value{Kind: qty.UInt, Raw: on}); err != nil {
				return err
			}
			return dev.Registers.Set(regmap.LightLevel, qty.Value{Kind: qty.Scaled, Raw: milliLux(ema)})
		},
	}
}

func milliLux(lux float64) uint64 {
	if lux <= 0 {
		return 0
	}
	raw := uint64(lux * 1000)
	if max := qty.MaxRaw(4); raw > max {
		return max
	}
	return raw
}
