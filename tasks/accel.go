package tasks

import (
	"math"
	"time"

	"ornament-go/errcode"
	"ornament-go/qty"
	"ornament-go/regmap"
	"ornament-go/sched"
)

const accelPeriod = 200 * time.Millisecond

// NewAccelMonitor watches acceleration magnitude. A due cycle above the
// threshold register bumps the 24-bit activation counter and signals the
// flasher; one signal per cycle no matter how hard the shake.
func NewAccelMonitor(dev *Device) *sched.Task {
	var count uint64
	return &sched.Task{
		Name:    "accel_monitor",
		Period:  accelPeriod,
		Enabled: true,
		Run: func(time.Time) error {
			x, y, z, err := dev.Accel.Acceleration()
			if err != nil {
				return &errcode.E{C: errcode.SensorRead, Op: "accel_monitor", Err: err}
			}
			threshold, err := dev.Registers.Eng(regmap.AccelThreshold)
			if err != nil {
				return err
			}
			if magnitudeG(x, y, z) <= threshold {
				return nil
			}
			count = (count + 1) & regmap.AccelCountMask
			if err := dev.Registers.Set(regmap.AccelCount, qty.Value{Kind: qty.UInt, Raw: count}); err != nil {
				return err
			}
			dev.Flash.Set()
			return nil
		},
	}
}

// magnitudeG converts micro-g axis readings to total magnitude in g.
func magnitudeG(x, y, z int32) float64 {
	fx, fy, fz := float64(x), float64(y), float64(z)
	return math.Sqrt(fx*fx+fy*fy+fz*fz) / 1e6
}
