//go:build !tinygo

// Host build: the firmware loop running against simulated peripherals and
// an in-memory wireless module. Useful for poking at the scheduler and the
// register plumbing without flashing a board.

package main

import (
	"context"
	"fmt"
	"image/color"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"ornament-go/config"
	"ornament-go/drivers/bluefruit"
	"ornament-go/errcode"
	"ornament-go/regmap"
	"ornament-go/watchdog"
)

const hostConfigFile = "config.txt"

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func appContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), os.Interrupt)
	return ctx
}

func hardReset() {
	os.Exit(1)
}

func openBoard(log *slog.Logger) (*board, error) {
	b := &board{
		light:   &simLight{lux: 120},
		accel:   &simAccel{},
		pixels:  &simPixels{buf: make([]color.RGBA, 10), log: log},
		led:     &simLED{log: log},
		battery: simBattery{},
		at:      newSimModule(),
		wdt:     &watchdog.Sim{},
		heap:    hostHeapFree,
	}
	if f, err := os.Open(hostConfigFile); err == nil {
		b.config = f
	}
	b.resetSentinel = func() bool {
		return config.ResetRequested(os.DirFS(".").(fs.StatFS))
	}
	b.clearSentinel = func() error { return os.Remove(config.ResetSentinel) }
	return b, nil
}

// simLight fades slowly so the threshold crossing is observable: a full
// bright-dark cycle takes about two minutes.
type simLight struct {
	lux float64
	t   int
}

func (s *simLight) Lux() (float64, error) {
	s.t++
	return s.lux * (0.5 + 0.5*math.Cos(float64(s.t)/100)), nil
}

// simAccel sits at one g on z, with a shake injected every thirty seconds
// or so to exercise the flasher.
type simAccel struct {
	t int
}

func (s *simAccel) Acceleration() (x, y, z int32, err error) {
	s.t++
	if s.t%150 == 0 {
		return 8_000_000, 8_000_000, 1_000_000, nil
	}
	return 0, 0, 1_000_000, nil
}

type simPixels struct {
	buf []color.RGBA
	log *slog.Logger
}

func (p *simPixels) Len() int { return len(p.buf) }

func (p *simPixels) Set(i int, c color.RGBA) {
	if i >= 0 && i < len(p.buf) {
		p.buf[i] = c
	}
}

func (p *simPixels) Clear() {
	for i := range p.buf {
		p.buf[i] = color.RGBA{}
	}
}

func (p *simPixels) Show() error {
	var b strings.Builder
	for _, c := range p.buf {
		if c == (color.RGBA{}) {
			b.WriteByte('.')
		} else {
			b.WriteByte('*')
		}
	}
	p.log.Info("pixels", slog.String("strip", b.String()))
	return nil
}

type simLED struct {
	log *slog.Logger
	on  bool
}

func (l *simLED) Set(on bool) {
	if on != l.on {
		l.on = on
		l.log.Info("led", slog.Bool("on", on))
	}
}

type simBattery struct{}

// Roughly 3.7 V through the divider.
func (simBattery) ReadRaw() (uint16, error) { return 0x8f5c, nil }

func hostHeapFree() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapSys - ms.HeapInuse
}

// simModule is a minimal stand-in for the wireless module's AT surface:
// a characteristic store and the handful of commands the firmware issues.
type simModule struct {
	mu    sync.Mutex
	chars []simChar
}

type simChar struct {
	width int
	value uint64
}

// newSimModule starts with the full characteristic table already present,
// the way a previously factory-reset module comes up from NVM.
func newSimModule() *simModule {
	m := &simModule{}
	for _, c := range bluefruit.Chars(regmap.Ornament()) {
		m.chars = append(m.chars, simChar{width: c.Width, value: c.Initial})
	}
	return m
}

func (m *simModule) CommandCheckOK(cmd []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := string(cmd)
	switch {
	case s == "ATZ", s == "AT+FACTORYRESET",
		strings.HasPrefix(s, "AT+GAPDEVNAME="),
		strings.HasPrefix(s, "AT+GATTADDSERVICE="):
		if s == "AT+FACTORYRESET" {
			m.chars = nil
		}
		return nil, nil
	case s == "AT+GAPGETCONN":
		return []byte("0"), nil
	case strings.HasPrefix(s, "AT+GATTADDCHAR="):
		c := simChar{width: 1}
		for _, kv := range strings.Split(strings.TrimPrefix(s, "AT+GATTADDCHAR="), ",") {
			k, v, _ := strings.Cut(kv, "=")
			switch k {
			case "MIN_LEN":
				c.width, _ = strconv.Atoi(v)
			case "VALUE":
				c.value, _ = strconv.ParseUint(strings.TrimPrefix(v, "0x"), 16, 64)
			}
		}
		m.chars = append(m.chars, c)
		return []byte(strconv.Itoa(len(m.chars))), nil
	case strings.HasPrefix(s, "AT+GATTCHAR="):
		idxStr, val, hasVal := strings.Cut(strings.TrimPrefix(s, "AT+GATTCHAR="), ",")
		idx, err := strconv.Atoi(idxStr)
		if err != nil || idx < 1 || idx > len(m.chars) {
			return nil, errcode.PeerError
		}
		c := &m.chars[idx-1]
		if hasVal {
			raw, err := strconv.ParseUint(strings.TrimPrefix(val, "0x"), 16, 64)
			if err != nil {
				return nil, errcode.PeerError
			}
			c.value = raw
			return nil, nil
		}
		parts := make([]string, c.width)
		for i := 0; i < c.width; i++ {
			parts[i] = fmt.Sprintf("%02X", byte(c.value>>(8*(c.width-1-i))))
		}
		return []byte(strings.Join(parts, "-")), nil
	}
	return nil, errcode.PeerError
}
