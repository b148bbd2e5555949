package tasks

import (
	"time"

	"ornament-go/errcode"
	"ornament-go/qty"
	"ornament-go/regmap"
	"ornament-go/sched"
)

const (
	batteryPeriod = 30 * time.Second
	heapPeriod    = 10 * time.Second
)

// NewBatteryMonitor samples the battery ADC into its read-only register.
// Pure observability; no control logic hangs off it.
func NewBatteryMonitor(dev *Device) *sched.Task {
	return &sched.Task{
		Name:    "battery_monitor",
		Period:  batteryPeriod,
		Enabled: true,
		Run: func(time.Time) error {
			raw, err := dev.Battery.ReadRaw()
			if err != nil {
				return &errcode.E{C: errcode.SensorRead, Op: "battery_monitor", Err: err}
			}
			return dev.Registers.Set(regmap.BatteryADC, qty.Value{Kind: qty.Scaled, Raw: uint64(raw)})
		},
	}
}

// NewHeapMonitor reports free memory for host-visible health checks.
func NewHeapMonitor(dev *Device) *sched.Task {
	return &sched.Task{
		Name:    "heap_monitor",
		Period:  heapPeriod,
		Enabled: true,
		Run: func(time.Time) error {
			free := dev.HeapFree()
			if max := qty.MaxRaw(4); free > max {
				free = max
			}
			return dev.Registers.Set(regmap.HeapFree, qty.Value{Kind: qty.UInt, Raw: free})
		},
	}
}

func qtyValue(d regmap.Desc, raw uint64) qty.Value {
	return qty.Value{Kind: d.Kind, Raw: raw}
}
