//go:build tinygo

package main

import (
	"context"
	"image/color"
	"log/slog"
	"machine"
	"os"
	"runtime"
	"time"

	"tinygo.org/x/drivers/adxl345"
	"tinygo.org/x/drivers/bh1750"
	"tinygo.org/x/drivers/sdcard"
	"tinygo.org/x/drivers/ws2812"
	"tinygo.org/x/tinyfs/fatfs"

	"ornament-go/config"
	"ornament-go/drivers/bluefruit"
)

// Wiring. The wireless module's pins are the stock friend-board layout.
const (
	pinBluefruitCS  = machine.D8
	pinBluefruitIRQ = machine.D7
	pinBluefruitRST = machine.D4
	pinSDCS         = machine.D10
	pinPixels       = machine.D5
	pinBattery      = machine.A6
)

const (
	pixelCount = 10
	configFile = "/config.txt"
	resetFile  = "/" + config.ResetSentinel
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(machine.Serial, nil))
}

func appContext() context.Context { return context.Background() }

func hardReset() {
	machine.CPUReset()
}

func openBoard(log *slog.Logger) (*board, error) {
	if err := machine.SPI0.Configure(machine.SPIConfig{Frequency: 4e6}); err != nil {
		return nil, err
	}
	if err := machine.I2C0.Configure(machine.I2CConfig{Frequency: 400e3}); err != nil {
		return nil, err
	}

	pinBluefruitCS.Configure(machine.PinConfig{Mode: machine.PinOutput})
	pinBluefruitCS.High()
	pinBluefruitIRQ.Configure(machine.PinConfig{Mode: machine.PinInputPulldown})
	pinBluefruitRST.Configure(machine.PinConfig{Mode: machine.PinOutput})
	pinBluefruitRST.High()

	radio := bluefruit.New(
		&csBus{spi: machine.SPI0, cs: pinBluefruitCS},
		bluefruit.Pins{
			IRQ:   pinBluefruitIRQ.Get,
			Reset: pinBluefruitRST.Set,
		},
		nil,
	)
	if err := radio.Init(); err != nil {
		return nil, err
	}

	light := bh1750.New(machine.I2C0)
	light.Configure()

	accel := adxl345.New(machine.I2C0)
	accel.Configure()

	adc := machine.ADC{Pin: pinBattery}
	adc.Configure(machine.ADCConfig{})

	machine.LED.Configure(machine.PinConfig{Mode: machine.PinOutput})
	pinPixels.Configure(machine.PinConfig{Mode: machine.PinOutput})

	b := &board{
		light:   &lightSensor{dev: light},
		accel:   &accelSensor{dev: accel},
		pixels:  newPixelStrip(pinPixels, pixelCount),
		led:     gpioLED{pin: machine.LED},
		battery: batteryADC{adc: adc},
		at:      radio,
		wdt:     hwWatchdog{},
		heap:    heapFree,
	}
	mountCard(log, b)
	return b, nil
}

// mountCard attaches the SD card pieces to the board. The card is optional
// kit: a missing or unreadable card means compiled-in defaults, never a
// boot failure.
func mountCard(log *slog.Logger, b *board) {
	sd := sdcard.New(machine.SPI1,
		machine.SPI1_SCK_PIN, machine.SPI1_SDO_PIN, machine.SPI1_SDI_PIN, pinSDCS)
	if err := sd.Configure(); err != nil {
		log.Warn("no sd card, using defaults", slog.Any("err", err))
		return
	}
	fs := fatfs.New(&sd)
	if err := fs.Mount(); err != nil {
		log.Warn("sd card mount failed, using defaults", slog.Any("err", err))
		return
	}
	if f, err := fs.OpenFile(configFile, os.O_RDONLY); err == nil {
		b.config = f
	}
	b.resetSentinel = func() bool {
		f, err := fs.OpenFile(resetFile, os.O_RDONLY)
		if err != nil {
			return false
		}
		f.Close()
		return true
	}
	b.clearSentinel = func() error { return fs.Remove(resetFile) }
}

// csBus frames every transfer with the chip select, which the SPI
// peripheral itself does not drive.
type csBus struct {
	spi machine.SPI
	cs  machine.Pin
}

func (b *csBus) Tx(w, r []byte) error {
	b.cs.Low()
	err := b.spi.Tx(w, r)
	b.cs.High()
	return err
}

type lightSensor struct {
	dev bh1750.Device
}

func (s *lightSensor) Lux() (float64, error) {
	// The driver reports milli-lux.
	return float64(s.dev.Illuminance()) / 1000, nil
}

type accelSensor struct {
	dev adxl345.Device
}

func (s *accelSensor) Acceleration() (x, y, z int32, err error) {
	x, y, z = s.dev.ReadAcceleration()
	return x, y, z, nil
}

type pixelStrip struct {
	dev ws2812.Device
	buf []color.RGBA
}

func newPixelStrip(pin machine.Pin, n int) *pixelStrip {
	return &pixelStrip{dev: ws2812.New(pin), buf: make([]color.RGBA, n)}
}

func (p *pixelStrip) Len() int { return len(p.buf) }

func (p *pixelStrip) Set(i int, c color.RGBA) {
	if i >= 0 && i < len(p.buf) {
		p.buf[i] = c
	}
}

func (p *pixelStrip) Clear() {
	for i := range p.buf {
		p.buf[i] = color.RGBA{}
	}
}

func (p *pixelStrip) Show() error {
	return p.dev.WriteColors(p.buf)
}

type gpioLED struct {
	pin machine.Pin
}

func (l gpioLED) Set(on bool) { l.pin.Set(on) }

type batteryADC struct {
	adc machine.ADC
}

func (b batteryADC) ReadRaw() (uint16, error) { return b.adc.Get(), nil }

type hwWatchdog struct{}

func (hwWatchdog) Configure(timeout time.Duration) error {
	err := machine.Watchdog.Configure(machine.WatchdogConfig{
		TimeoutMillis: uint32(timeout / time.Millisecond),
	})
	if err != nil {
		return err
	}
	return machine.Watchdog.Start()
}

func (hwWatchdog) Feed() { machine.Watchdog.Update() }

func heapFree() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return uint64(ms.HeapSys - ms.HeapInuse)
}
