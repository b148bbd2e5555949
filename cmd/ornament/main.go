package main

import (
	"context"
	"io"
	"log/slog"
	"time"

	"ornament-go/config"
	"ornament-go/drivers/bluefruit"
	"ornament-go/regmap"
	"ornament-go/sched"
	"ornament-go/tasks"
	"ornament-go/watchdog"
)

// board is the hardware surface a platform hands to run. The firmware body
// below never touches a pin or a bus directly; platform_*.go fills this in
// from real peripherals on the device and from stand-ins on a host.
type board struct {
	light   tasks.LightSensor
	accel   tasks.Accelerometer
	pixels  tasks.PixelStrip
	led     tasks.StatusLED
	battery tasks.BatteryADC

	at   bluefruit.ATClient
	wdt  watchdog.Timer
	heap func() uint64

	config        io.ReadCloser // nil means compiled-in defaults
	resetSentinel func() bool
	clearSentinel func() error
}

func main() {
	log := newLogger()
	b, err := openBoard(log)
	if err == nil {
		err = run(appContext(), log, b)
	}
	// Anything that lands here is unrecoverable. Leave a trace, then let
	// the platform reset us into a clean boot.
	log.Error("firmware stopped", slog.Any("err", err))
	time.Sleep(time.Second)
	hardReset()
}

func run(ctx context.Context, log *slog.Logger, b *board) error {
	cfg := config.Defaults()
	if b.config != nil {
		cfg = config.Load(b.config, log)
		b.config.Close()
	}
	cfg.Dump(log)

	regs, err := regmap.New(regmap.Ornament())
	if err != nil {
		return err
	}
	sync := bluefruit.NewSync(bluefruit.NewGATT(b.at, nil), regs, log)

	if b.resetSentinel != nil && b.resetSentinel() {
		log.Info("factory reset requested", slog.String("device_name", cfg.DeviceName))
		if err := sync.FactoryReset(cfg.DeviceName); err != nil {
			return err
		}
		// Remove the marker first so a crash loop cannot wipe the
		// module's NVM on every boot.
		if err := b.clearSentinel(); err != nil {
			return err
		}
	}

	dev := &tasks.Device{
		Registers: regs,
		Config:    cfg,
		Log:       log,
		Light:     b.light,
		Accel:     b.accel,
		Pixels:    b.pixels,
		LED:       b.led,
		Battery:   b.battery,
		HeapFree:  b.heap,
	}
	if err := dev.SeedThresholds(); err != nil {
		return err
	}
	// The counter lives in the module's NVM, so it must be bumped before
	// PushAll overwrites the characteristics with the fresh register map.
	boots, err := sync.IncrementBootCount()
	if err != nil {
		return err
	}
	log.Info("boot", slog.Uint64("count", boots))
	if err := sync.PushAll(); err != nil {
		return err
	}

	wd, err := watchdog.New(b.wdt, cfg.WatchdogTimeout, cfg.WatchdogPet)
	if err != nil {
		return err
	}

	// Task table. Declaration order is in-cycle priority: the watchdog pet
	// must never sit behind a slow sensor.
	sch := sched.New(log, func() { regs.Apply() })
	sch.Add(wd.Task())
	sch.Add(tasks.NewLightMonitor(dev))
	sch.Add(tasks.NewAccelMonitor(dev))
	sch.Add(tasks.NewFlasher(dev))
	sch.Add(tasks.NewBatteryMonitor(dev))
	sch.Add(tasks.NewHeapMonitor(dev))
	sch.Add(sync.Task())

	// Armed last: from here on, a stalled loop reboots the device.
	if err := wd.Start(); err != nil {
		return err
	}
	log.Info("scheduler running", slog.String("device_name", cfg.DeviceName))
	return sch.Run(ctx)
}
