package bluefruit

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"testing"
	"time"

	"ornament-go/errcode"
	"ornament-go/qty"
	"ornament-go/regmap"
)

// fakeModule emulates the Bluefruit AT command set well enough to exercise
// the GATT and sync layers: a characteristic store keyed by index, factory
// reset bookkeeping, and a command trace.
type fakeModule struct {
	trace    []string
	chars    map[int]fakeChar
	nextIdx  int
	resets   int
	devName  string
	connHigh bool
	failNext bool
}

type fakeChar struct {
	width int
	value uint64
}

func newFakeModule() *fakeModule {
	return &fakeModule{chars: map[int]fakeChar{}, nextIdx: 1}
}

func (m *fakeModule) CommandCheckOK(cmd []byte) ([]byte, error) {
	s := string(cmd)
	m.trace = append(m.trace, s)
	if m.failNext {
		m.failNext = false
		return nil, errcode.Timeout
	}
	switch {
	case s == "ATZ":
		return nil, nil
	case s == "AT+FACTORYRESET":
		m.chars = map[int]fakeChar{}
		m.nextIdx = 1
		m.resets++
		return nil, nil
	case s == "AT+GAPGETCONN":
		if m.connHigh {
			return []byte("1"), nil
		}
		return []byte("0"), nil
	case strings.HasPrefix(s, "AT+GAPDEVNAME="):
		m.devName = strings.TrimPrefix(s, "AT+GAPDEVNAME=")
		return nil, nil
	case strings.HasPrefix(s, "AT+GATTADDSERVICE="):
		return nil, nil
	case strings.HasPrefix(s, "AT+GATTADDCHAR="):
		width := 0
		initial := uint64(0)
		for _, kv := range strings.Split(strings.TrimPrefix(s, "AT+GATTADDCHAR="), ",") {
			k, v, _ := strings.Cut(kv, "=")
			switch k {
			case "MIN_LEN":
				width, _ = strconv.Atoi(v)
			case "VALUE":
				initial, _ = strconv.ParseUint(strings.TrimPrefix(v, "0x"), 16, 64)
			}
		}
		idx := m.nextIdx
		m.nextIdx++
		m.chars[idx] = fakeChar{width: width, value: initial}
		return []byte(strconv.Itoa(idx)), nil
	case strings.HasPrefix(s, "AT+GATTCHAR="):
		rest := strings.TrimPrefix(s, "AT+GATTCHAR=")
		idxStr, val, hasVal := strings.Cut(rest, ",")
		idx, _ := strconv.Atoi(idxStr)
		c, ok := m.chars[idx]
		if !ok {
			return nil, errcode.PeerError
		}
		if hasVal {
			raw, err := strconv.ParseUint(strings.TrimPrefix(val, "0x"), 16, 64)
			if err != nil {
				return nil, errcode.PeerError
			}
			c.value = raw
			m.chars[idx] = c
			return nil, nil
		}
		// Dash-separated hex bytes, full declared width.
		parts := make([]string, c.width)
		for i := c.width - 1; i >= 0; i-- {
			parts[i] = fmt.Sprintf("%02X", byte(c.value>>(8*(c.width-1-i))))
		}
		return []byte(strings.Join(parts, "-")), nil
	}
	return nil, errcode.PeerError
}

func (m *fakeModule) setByIndex(idx int, v uint64) {
	c := m.chars[idx]
	c.value = v
	m.chars[idx] = c
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newSyncUnderTest(t *testing.T) (*Sync, *fakeModule, *regmap.Map) {
	t.Helper()
	m, err := regmap.New(regmap.Ornament())
	if err != nil {
		t.Fatal(err)
	}
	mod := newFakeModule()
	s := NewSync(NewGATT(mod, noSleep), m, discard())
	if err := s.FactoryReset("Test Ornament"); err != nil {
		t.Fatal(err)
	}
	return s, mod, m
}

func TestCharsLayout(t *testing.T) {
	chars := Chars(regmap.Ornament())
	// Eight readable registers plus two writable shadows.
	if len(chars) != 10 {
		t.Fatalf("len(chars) = %d, want 10", len(chars))
	}
	for i, c := range chars {
		if c.Index != i+1 {
			t.Fatalf("char %d has index %d", i, c.Index)
		}
	}
	// Shadows come last, write-only, sentinel-initialised.
	for _, c := range chars[8:] {
		if c.Props != PropsWrite {
			t.Errorf("shadow props = %#x", c.Props)
		}
		if c.Initial != sentinel(c.Width) {
			t.Errorf("shadow initial = %#x", c.Initial)
		}
	}
}

func TestFactoryResetRegistersEverything(t *testing.T) {
	s, mod, _ := newSyncUnderTest(t)
	if mod.resets != 1 {
		t.Fatalf("resets = %d", mod.resets)
	}
	if mod.devName != "Test Ornament" {
		t.Fatalf("device name = %q", mod.devName)
	}
	if len(mod.chars) != len(s.Chars()) {
		t.Fatalf("module has %d chars, want %d", len(mod.chars), len(s.Chars()))
	}
	var sawService bool
	for _, c := range mod.trace {
		if strings.HasPrefix(c, "AT+GATTADDSERVICE=UUID128=3A-9C-2E-71") {
			sawService = true
		}
	}
	if !sawService {
		t.Error("service UUID not registered in AT format")
	}
}

func TestPushAllAndDirtyPush(t *testing.T) {
	s, mod, m := newSyncUnderTest(t)
	if err := s.PushAll(); err != nil {
		t.Fatal(err)
	}
	// heap_free initial pattern landed in char 1.
	if got := mod.chars[1].value; got != 0xffffffff {
		t.Fatalf("char 1 = %#x", got)
	}

	m.Set(regmap.HeapFree, qty.Value{Kind: qty.UInt, Raw: 2048})
	if err := s.Task().Run(time.Time{}); err != nil {
		t.Fatal(err)
	}
	if got := mod.chars[1].value; got != 2048 {
		t.Fatalf("char 1 after sync = %d", got)
	}
}

func TestPollStagesHostWrite(t *testing.T) {
	s, mod, m := newSyncUnderTest(t)
	if err := s.PushAll(); err != nil {
		t.Fatal(err)
	}
	// Host writes 35.0 lux (350 deci-lux) into the light threshold shadow,
	// characteristic index 9.
	mod.setByIndex(9, 350)
	if err := s.Task().Run(time.Time{}); err != nil {
		t.Fatal(err)
	}
	// Staged, not yet committed.
	if v, _ := m.Read(regmap.LightThreshold); v.Raw == 350 {
		t.Fatal("host write committed before Apply")
	}
	m.Apply()
	if eng, _ := m.Eng(regmap.LightThreshold); eng != 35.0 {
		t.Fatalf("threshold = %v, want 35", eng)
	}
}

func TestPollIgnoresSentinel(t *testing.T) {
	s, _, m := newSyncUnderTest(t)
	if err := s.PushAll(); err != nil {
		t.Fatal(err)
	}
	// Shadows hold the all-ones pattern after reset: nothing staged.
	if err := s.Task().Run(time.Time{}); err != nil {
		t.Fatal(err)
	}
	if ids := m.Apply(); ids != nil {
		t.Fatalf("sentinel staged a write: %v", ids)
	}
}

func TestPushFailureKeepsDirty(t *testing.T) {
	s, mod, m := newSyncUnderTest(t)
	if err := s.PushAll(); err != nil {
		t.Fatal(err)
	}
	m.Set(regmap.HeapFree, qty.Value{Kind: qty.UInt, Raw: 4096})
	mod.failNext = true
	if err := s.Task().Run(time.Time{}); err == nil {
		t.Fatal("module failure not reported")
	}
	// Next cycle retries the same register.
	if err := s.Task().Run(time.Time{}); err != nil {
		t.Fatal(err)
	}
	if got := mod.chars[1].value; got != 4096 {
		t.Fatalf("char 1 = %d after retry", got)
	}
}

func TestIncrementBootCount(t *testing.T) {
	s, mod, m := newSyncUnderTest(t)
	n, err := s.IncrementBootCount()
	if err != nil || n != 1 {
		t.Fatalf("first boot: n = %d, err = %v", n, err)
	}
	n, err = s.IncrementBootCount()
	if err != nil || n != 2 {
		t.Fatalf("second boot: n = %d, err = %v", n, err)
	}
	if v, _ := m.Read(regmap.BootCount); v.Raw != 2 {
		t.Fatalf("boot_count register = %d", v.Raw)
	}
	// Char 7 is boot_count, pushed directly.
	if mod.chars[7].value != 2 {
		t.Fatalf("boot_count char = %d", mod.chars[7].value)
	}
}

func TestBootSequencePreservesBootCount(t *testing.T) {
	// One module, two boots. The counter lives in the module and has to
	// come through the full boot order: increment first, then the bulk
	// push of the fresh register map.
	mod := newFakeModule()
	boot := func(reset bool) uint64 {
		t.Helper()
		m, err := regmap.New(regmap.Ornament())
		if err != nil {
			t.Fatal(err)
		}
		s := NewSync(NewGATT(mod, noSleep), m, discard())
		if reset {
			if err := s.FactoryReset("Test Ornament"); err != nil {
				t.Fatal(err)
			}
		}
		n, err := s.IncrementBootCount()
		if err != nil {
			t.Fatal(err)
		}
		if err := s.PushAll(); err != nil {
			t.Fatal(err)
		}
		return n
	}
	if n := boot(true); n != 1 {
		t.Fatalf("first boot count = %d, want 1", n)
	}
	if n := boot(false); n != 2 {
		t.Fatalf("second boot count = %d, want 2", n)
	}
	if mod.chars[7].value != 2 {
		t.Fatalf("boot_count char = %d after second boot", mod.chars[7].value)
	}
}

func TestPollSkipsKnownRejectedWrite(t *testing.T) {
	s, mod, m := newSyncUnderTest(t)
	if err := s.PushAll(); err != nil {
		t.Fatal(err)
	}
	// A raw the map already refused is left alone while the host keeps
	// it in the shadow.
	s.rejected[regmap.LightThreshold] = 350
	mod.setByIndex(9, 350)
	if err := s.Task().Run(time.Time{}); err != nil {
		t.Fatal(err)
	}
	if ids := m.Apply(); ids != nil {
		t.Fatalf("refused raw staged again: %v", ids)
	}
	// The host moving to a fresh value lifts the suppression.
	mod.setByIndex(9, 400)
	if err := s.Task().Run(time.Time{}); err != nil {
		t.Fatal(err)
	}
	m.Apply()
	if eng, _ := m.Eng(regmap.LightThreshold); eng != 40.0 {
		t.Fatalf("threshold = %v, want 40", eng)
	}
	if len(s.rejected) != 0 {
		t.Fatalf("suppression not cleared: %v", s.rejected)
	}
}

func TestCharReadWrongWidthMalformed(t *testing.T) {
	mod := newFakeModule()
	g := NewGATT(mod, noSleep)
	mod.chars[1] = fakeChar{width: 2, value: 0x1234}
	if _, err := g.CharRead(1, 4); errcode.Of(err) != errcode.MalformedValue {
		t.Fatalf("want malformed_value, got %v", err)
	}
}

func TestConnected(t *testing.T) {
	mod := newFakeModule()
	g := NewGATT(mod, noSleep)
	ok, err := g.Connected()
	if err != nil || ok {
		t.Fatalf("Connected = %v, %v", ok, err)
	}
	mod.connHigh = true
	ok, err = g.Connected()
	if err != nil || !ok {
		t.Fatalf("Connected = %v, %v", ok, err)
	}
}
