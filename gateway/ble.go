package gateway

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"ornament-go/errcode"
	"ornament-go/regmap"
)

// Central is the gateway's wireless side: it finds the ornament by its
// advertised name, connects, and resolves every characteristic of the
// register service up front. Characteristic access is serialised; the
// underlying stacks do not like concurrent GATT transactions.
type Central struct {
	mu    sync.Mutex
	chars map[uint16]bluetooth.DeviceCharacteristic
	dev   bluetooth.Device
	log   *slog.Logger
}

// Connect scans for at most scanTime, connects to the named device, and
// discovers the register service.
func Connect(name string, scanTime time.Duration, log *slog.Logger) (*Central, error) {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("enable adapter: %w", err)
	}

	found := make(chan bluetooth.ScanResult, 1)
	stop := time.AfterFunc(scanTime, func() { adapter.StopScan() })
	err := adapter.Scan(func(a *bluetooth.Adapter, result bluetooth.ScanResult) {
		if result.LocalName() != name {
			return
		}
		a.StopScan()
		select {
		case found <- result:
		default:
		}
	})
	stop.Stop()
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	var result bluetooth.ScanResult
	select {
	case result = <-found:
	default:
		return nil, &errcode.E{C: errcode.NotConnected, Op: "gateway.Connect",
			Msg: "device " + name + " not found"}
	}
	log.Info("device found", slog.String("name", name), slog.String("addr", result.Address.String()))

	dev, err := adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	serviceUUID, err := bluetooth.ParseUUID(regmap.ServiceUUID)
	if err != nil {
		return nil, err
	}
	svcs, err := dev.DiscoverServices([]bluetooth.UUID{serviceUUID})
	if err != nil || len(svcs) == 0 {
		return nil, &errcode.E{C: errcode.NotConnected, Op: "gateway.Connect",
			Msg: "register service not found", Err: err}
	}
	chars, err := svcs[0].DiscoverCharacteristics(nil)
	if err != nil {
		return nil, fmt.Errorf("discover characteristics: %w", err)
	}

	c := &Central{chars: make(map[uint16]bluetooth.DeviceCharacteristic), dev: dev, log: log}
	for _, ch := range chars {
		if u16, ok := uuid16Of(ch.UUID()); ok {
			c.chars[u16] = ch
		}
	}
	log.Info("connected", slog.Int("characteristics", len(c.chars)))
	return c, nil
}

func (c *Central) Read(uuid16 uint16) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.chars[uuid16]
	if !ok {
		return nil, errcode.UnknownRegister
	}
	buf := make([]byte, 8)
	n, err := ch.Read(buf)
	if err != nil {
		return nil, &errcode.E{C: errcode.PeerError, Op: "gateway.Read", Err: err}
	}
	return buf[:n], nil
}

func (c *Central) Write(uuid16 uint16, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.chars[uuid16]
	if !ok {
		return errcode.UnknownRegister
	}
	if _, err := ch.WriteWithoutResponse(data); err != nil {
		return &errcode.E{C: errcode.PeerError, Op: "gateway.Write", Err: err}
	}
	return nil
}

// Disconnect drops the link.
func (c *Central) Disconnect() error {
	return c.dev.Disconnect()
}

// uuid16Of extracts the 16-bit alias from a UUID on the standard base.
func uuid16Of(u bluetooth.UUID) (uint16, bool) {
	if !u.Is16Bit() {
		return 0, false
	}
	return uint16(u.Get16Bit()), true
}
