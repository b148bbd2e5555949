// Package qty converts between raw fixed-width wire integers and
// engineering-unit quantities. The scale and unit of a value are properties
// of the register it belongs to, fixed at registration time; they are never
// carried on the wire.
package qty

import (
	"math"

	"ornament-go/errcode"
)

// Kind tags a register value as a raw unsigned integer or a scaled quantity.
type Kind uint8

const (
	UInt   Kind = iota // raw unsigned integer, already integral in its unit
	Scaled             // integer mantissa with a register-fixed scale
)

func (k Kind) String() string {
	if k == UInt {
		return "uint"
	}
	return "scaled"
}

// Unit tags a quantity for logging and host presentation. Units are implied
// by register identity; they are not transmitted.
type Unit uint8

const (
	None Unit = iota
	Bytes
	Volts
	Lux
	G
	Seconds
	Count
)

var unitNames = [...]string{"", "bytes", "volts", "lux", "g", "seconds", "count"}

func (u Unit) String() string {
	if int(u) < len(unitNames) {
		return unitNames[u]
	}
	return ""
}

// Value is the tagged variant held by a register: a raw mantissa plus its
// kind. Scale and unit live on the register descriptor.
type Value struct {
	Kind Kind
	Raw  uint64
}

// Scale is a rational multiplier: engineering = raw * Num / Den. Rational
// form covers both the power-of-ten scales and the battery divider ratio
// exactly.
type Scale struct {
	Num int64
	Den int64
}

// Eng returns the engineering value of raw under s.
func (s Scale) Eng(raw uint64) float64 {
	if s.Den == 0 {
		return float64(raw)
	}
	return float64(raw) * float64(s.Num) / float64(s.Den)
}

// RawFromEng converts an engineering value back to the nearest raw mantissa.
// Fails with OutOfRange for negative values, non-finite values, and values
// whose mantissa does not fit in width bytes.
func (s Scale) RawFromEng(eng float64, width int) (uint64, error) {
	if s.Num == 0 || s.Den == 0 {
		return 0, errcode.OutOfRange
	}
	v := eng * float64(s.Den) / float64(s.Num)
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, errcode.OutOfRange
	}
	raw := uint64(math.Round(v))
	if !fits(raw, width) {
		return 0, errcode.OutOfRange
	}
	return raw, nil
}

// Encode writes raw as a width-byte big-endian unsigned integer into buf,
// returning the used slice. Fails with OutOfRange if raw does not fit.
func Encode(buf []byte, raw uint64, width int) ([]byte, error) {
	if width < 1 || width > 8 || len(buf) < width {
		return nil, errcode.OutOfRange
	}
	if !fits(raw, width) {
		return nil, errcode.OutOfRange
	}
	for i := width - 1; i >= 0; i-- {
		buf[i] = byte(raw)
		raw >>= 8
	}
	return buf[:width], nil
}

// Decode reads a width-byte big-endian unsigned integer. A payload of any
// other length fails with MalformedValue; it is never truncated or padded.
func Decode(b []byte, width int) (uint64, error) {
	if width < 1 || width > 8 {
		return 0, errcode.MalformedValue
	}
	if len(b) != width {
		return 0, errcode.MalformedValue
	}
	var raw uint64
	for _, c := range b {
		raw = raw<<8 | uint64(c)
	}
	return raw, nil
}

// MaxRaw returns the largest mantissa representable in width bytes.
func MaxRaw(width int) uint64 {
	if width >= 8 {
		return math.MaxUint64
	}
	return 1<<(8*width) - 1
}

func fits(raw uint64, width int) bool {
	return width >= 8 || raw>>(8*width) == 0
}
