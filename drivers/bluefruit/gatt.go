package bluefruit

import (
	"strconv"
	"strings"
	"time"

	"ornament-go/errcode"
	"ornament-go/regmap"
)

// ATClient is the slice of the AT layer the GATT helpers need. *Device
// satisfies it; tests substitute an in-memory module.
type ATClient interface {
	CommandCheckOK(cmd []byte) ([]byte, error)
}

// Props are the module's characteristic property bits.
type Props byte

const (
	PropsRead  Props = 0x02 // host may read
	PropsWrite Props = 0x04 // host may write without response
)

// Char is one GATT characteristic slot on the module. Indices are assigned
// by the module in registration order, starting at 1.
type Char struct {
	Index   int
	UUID16  uint16
	Props   Props
	Width   int
	Initial uint64
}

// Chars builds the module's characteristic table from the register
// descriptors: one host-readable characteristic per register in declaration
// order, then one host-writable shadow per RW register.
func Chars(descs []regmap.Desc) []Char {
	chars := make([]Char, 0, len(descs)+len(regmap.WriteShadow))
	idx := 1
	for _, d := range descs {
		chars = append(chars, Char{
			Index:   idx,
			UUID16:  uint16(d.ID),
			Props:   PropsRead,
			Width:   d.Width,
			Initial: d.Initial,
		})
		idx++
	}
	for _, d := range descs {
		if d.Mode != regmap.RW {
			continue
		}
		chars = append(chars, Char{
			Index:   idx,
			UUID16:  regmap.WriteShadow[d.ID],
			Props:   PropsWrite,
			Width:   d.Width,
			Initial: sentinel(d.Width),
		})
		idx++
	}
	return chars
}

// sentinel is the all-ones "no host data" pattern for a width.
func sentinel(width int) uint64 {
	return 1<<(8*width) - 1
}

// GATT wraps the AT layer with the characteristic operations.
type GATT struct {
	at    ATClient
	sleep func(time.Duration)
}

func NewGATT(at ATClient, sleep func(time.Duration)) *GATT {
	if sleep == nil {
		sleep = time.Sleep
	}
	return &GATT{at: at, sleep: sleep}
}

// FactoryReset wipes the module and repopulates the service and every
// characteristic. One-time boot path, triggered by the SD card sentinel.
func (g *GATT) FactoryReset(name string, chars []Char) error {
	if _, err := g.at.CommandCheckOK([]byte("AT+FACTORYRESET")); err != nil {
		return err
	}
	g.sleep(time.Second)
	if _, err := g.at.CommandCheckOK([]byte("AT+GAPDEVNAME=" + name)); err != nil {
		return err
	}
	if err := g.reboot(); err != nil {
		return err
	}
	if _, err := g.at.CommandCheckOK([]byte("AT+GATTADDSERVICE=UUID128=" + atServiceUUID())); err != nil {
		return err
	}
	for _, c := range chars {
		if err := g.addChar(c); err != nil {
			return err
		}
	}
	return g.reboot()
}

func (g *GATT) reboot() error {
	if _, err := g.at.CommandCheckOK([]byte("ATZ")); err != nil {
		return err
	}
	g.sleep(time.Second)
	return nil
}

func (g *GATT) addChar(c Char) error {
	w := strconv.Itoa(c.Width)
	cmd := "AT+GATTADDCHAR=UUID=0x" + hex16(c.UUID16) +
		",PROPERTIES=0x0" + strconv.FormatUint(uint64(c.Props), 16) +
		",MIN_LEN=" + w + ",MAX_LEN=" + w +
		",VALUE=0x" + strconv.FormatUint(c.Initial, 16)
	rsp, err := g.at.CommandCheckOK([]byte(cmd))
	if err != nil {
		return err
	}
	// The module assigns indices itself; a mismatch means our table and
	// the module's NVM have diverged.
	got, err := strconv.Atoi(strings.TrimSpace(string(rsp)))
	if err != nil || got != c.Index {
		return &errcode.E{C: errcode.PeerError, Op: "bluefruit.addChar",
			Msg: "characteristic index mismatch: " + strings.TrimSpace(string(rsp))}
	}
	return nil
}

// CharWrite sets a characteristic's value on the module.
func (g *GATT) CharWrite(index int, raw uint64) error {
	cmd := "AT+GATTCHAR=" + strconv.Itoa(index) + ",0x" + strconv.FormatUint(raw, 16)
	_, err := g.at.CommandCheckOK([]byte(cmd))
	return err
}

// CharRead fetches a characteristic's value. The module reports bytes as
// dash-separated hex; anything that is not exactly width bytes is
// malformed.
func (g *GATT) CharRead(index, width int) (uint64, error) {
	rsp, err := g.at.CommandCheckOK([]byte("AT+GATTCHAR=" + strconv.Itoa(index)))
	if err != nil {
		return 0, err
	}
	h := strings.ReplaceAll(strings.TrimSpace(string(rsp)), "-", "")
	if len(h) != 2*width {
		return 0, errcode.MalformedValue
	}
	raw, err := strconv.ParseUint(h, 16, 64)
	if err != nil {
		return 0, errcode.MalformedValue
	}
	return raw, nil
}

// Connected reports whether a central is connected to the module.
func (g *GATT) Connected() (bool, error) {
	rsp, err := g.at.CommandCheckOK([]byte("AT+GAPGETCONN"))
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(string(rsp)) == "1", nil
}

// hex16 formats a 16-bit UUID zero-padded, the way the module expects.
func hex16(u uint16) string {
	const digits = "0123456789ABCDEF"
	return string([]byte{
		digits[u>>12&0xf], digits[u>>8&0xf], digits[u>>4&0xf], digits[u&0xf],
	})
}

// atServiceUUID renders the canonical service UUID in the dash-separated
// byte format the AT command set takes.
func atServiceUUID() string {
	h := strings.ToUpper(strings.ReplaceAll(regmap.ServiceUUID, "-", ""))
	var b strings.Builder
	for i := 0; i < len(h); i += 2 {
		if i > 0 {
			b.WriteByte('-')
		}
		b.WriteString(h[i : i+2])
	}
	return b.String()
}
