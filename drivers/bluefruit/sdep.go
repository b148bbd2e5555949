// Package bluefruit drives the Bluefruit LE SPI Friend module: SDEP packet
// framing over SPI, the AT command layer on top of it, and the GATT
// characteristic table that carries the ornament's register map. The stock
// library driver does not fit a cooperative scheduler, so the protocol is
// implemented here against a narrow bus interface.
package bluefruit

import (
	"encoding/binary"
	"time"

	"ornament-go/errcode"
)

// SDEP message types.
const (
	msgCommand  = 0x10
	msgResponse = 0x20
	msgAlert    = 0x40
	msgError    = 0x80
)

// SDEP command IDs.
const (
	sdepInitialize = 0xBEEF // resets the module
	sdepATWrapper  = 0x0A00 // AT command carrier
)

const (
	frameLen     = 20 // 4-byte header + payload
	chunkLen     = 16 // max payload per frame
	moreBit      = 0x80
	maxCommand   = 127
	responseWait = 200 * time.Millisecond
	pollStep     = 10 * time.Millisecond
)

// Bus is the full-duplex SPI word the module hangs off. tinygo drivers' SPI
// satisfies it; tests use an in-memory peer.
type Bus interface {
	Tx(w, r []byte) error
}

// Pins abstracts the module's sideband lines so the driver stays
// target-independent. IRQ is active high; Reset drives the reset line.
type Pins struct {
	IRQ   func() bool
	Reset func(level bool)
}

// Device is one Bluefruit module.
type Device struct {
	bus   Bus
	pins  Pins
	sleep func(time.Duration)

	txBuf [frameLen]byte
	rxBuf [frameLen]byte
}

// New wires the driver. sleep is injectable for tests; nil means time.Sleep.
func New(bus Bus, pins Pins, sleep func(time.Duration)) *Device {
	if sleep == nil {
		sleep = time.Sleep
	}
	return &Device{bus: bus, pins: pins, sleep: sleep}
}

// Init pulses reset and sends the SDEP initialize command, which reboots the
// module. Allow about a second before the first AT command.
func (d *Device) Init() error {
	if d.pins.Reset != nil {
		d.pins.Reset(false)
		d.sleep(10 * time.Millisecond)
		d.pins.Reset(true)
		d.sleep(500 * time.Millisecond)
	}
	hdr := d.txBuf[:4]
	hdr[0] = msgCommand
	binary.LittleEndian.PutUint16(hdr[1:3], sdepInitialize)
	hdr[3] = 0
	if err := d.bus.Tx(hdr, nil); err != nil {
		return &errcode.E{C: errcode.Error, Op: "bluefruit.Init", Err: err}
	}
	d.sleep(time.Second)
	return nil
}

// writeCommand chunks cmd into SDEP frames, more-bit set on all but the
// last.
func (d *Device) writeCommand(cmd []byte) error {
	if len(cmd) > maxCommand {
		return &errcode.E{C: errcode.OutOfRange, Op: "bluefruit.writeCommand", Msg: "command too long"}
	}
	for pos := 0; pos < len(cmd); {
		plen := len(cmd) - pos
		more := byte(0)
		if plen > chunkLen {
			plen = chunkLen
			more = moreBit
		}
		// Command headers are little-endian; the module answers with
		// big-endian headers. That asymmetry is the module's, not ours.
		d.txBuf[0] = msgCommand
		binary.LittleEndian.PutUint16(d.txBuf[1:3], sdepATWrapper)
		d.txBuf[3] = byte(plen) | more
		copy(d.txBuf[4:], cmd[pos:pos+plen])
		d.sleep(pollStep / 2)
		if err := d.bus.Tx(d.txBuf[:4+plen], nil); err != nil {
			return &errcode.E{C: errcode.Error, Op: "bluefruit.writeCommand", Err: err}
		}
		pos += plen
	}
	return nil
}

// readResponse drains response frames while the IRQ line stays high,
// reassembling the payload.
func (d *Device) readResponse() (msgType byte, payload []byte, err error) {
	waited := time.Duration(0)
	for !d.pins.IRQ() {
		if waited >= responseWait {
			return 0, nil, errcode.Timeout
		}
		d.sleep(pollStep)
		waited += pollStep
	}
	for d.pins.IRQ() {
		if err := d.bus.Tx(nil, d.rxBuf[:]); err != nil {
			return 0, nil, &errcode.E{C: errcode.Error, Op: "bluefruit.readResponse", Err: err}
		}
		msgType = d.rxBuf[0]
		plen := int(d.rxBuf[3])
		if plen >= chunkLen {
			payload = append(payload, d.rxBuf[4:4+chunkLen]...)
		} else {
			payload = append(payload, d.rxBuf[4:4+plen]...)
		}
		d.sleep(pollStep / 2)
	}
	return msgType, payload, nil
}

// Command executes one newline-terminated AT command and returns the raw
// response payload.
func (d *Device) Command(cmd []byte) ([]byte, error) {
	full := make([]byte, 0, len(cmd)+1)
	full = append(full, cmd...)
	full = append(full, '\n')
	if err := d.writeCommand(full); err != nil {
		return nil, err
	}
	msgType, payload, err := d.readResponse()
	if err != nil {
		return nil, err
	}
	switch msgType {
	case msgResponse:
		return payload, nil
	case msgError:
		return nil, &errcode.E{C: errcode.PeerError, Op: "bluefruit.Command", Msg: string(cmd)}
	default:
		return nil, &errcode.E{C: errcode.MalformedValue, Op: "bluefruit.Command", Msg: "unexpected message type"}
	}
}

// CommandCheckOK runs cmd and strips the trailing OK marker, failing if the
// module did not acknowledge. The returned payload may be empty.
func (d *Device) CommandCheckOK(cmd []byte) ([]byte, error) {
	rsp, err := d.Command(cmd)
	if err != nil {
		return nil, err
	}
	const ok = "OK\r\n"
	if len(rsp) < len(ok) || string(rsp[len(rsp)-len(ok):]) != ok {
		return nil, &errcode.E{C: errcode.PeerError, Op: "bluefruit.CommandCheckOK", Msg: string(cmd)}
	}
	return rsp[:len(rsp)-len(ok)], nil
}
