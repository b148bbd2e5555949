package regmap

import "ornament-go/qty"

// ServiceUUID identifies the ornament's register service over the wireless
// link, in canonical 128-bit form.
const ServiceUUID = "3a9c2e71-640b-4485-9d0e-2f5a771c0842"

// Register identities. The numeric value is the 16-bit UUID of the primary
// GATT characteristic carrying the register. 0x0008/0x0009 are reserved for
// the write-side shadows of the two RW registers at the transport layer.
const (
	HeapFree       ID = 0x0002
	BatteryADC     ID = 0x0003
	LightLevel     ID = 0x0004
	AccelCount     ID = 0x0005
	LightThreshold ID = 0x0006
	AccelThreshold ID = 0x0007
	BootCount      ID = 0x000A
	LEDEnable      ID = 0x000B
)

// AccelCountMask keeps the activation counter within its 24-bit wire width.
const AccelCountMask = 0xffffff

// WriteShadow maps an RW register to the 16-bit UUID of its host-writable
// shadow characteristic. The wireless module cannot notify the device of
// incoming writes, so a host writes the shadow and the device polls it.
// Fixed allocation, shared with deployed hosts.
var WriteShadow = map[ID]uint16{
	LightThreshold: 0x0008,
	AccelThreshold: 0x0009,
}

// Ornament is the ornament's static register table. Initial values are the
// all-ones "no data yet" patterns the host knows to ignore.
//
// Scales: battery ADC full scale 0xffff maps to 2 * 3.3 V through the
// divider, light level is in millilux, thresholds in deci-lux and milli-g.
func Ornament() []Desc {
	return []Desc{
		{ID: HeapFree, Name: "heap_free", Mode: RO, Kind: qty.UInt, Width: 4, Unit: qty.Bytes, Initial: 0xffffffff},
		{ID: BatteryADC, Name: "battery_adc", Mode: RO, Kind: qty.Scaled, Width: 2, Scale: qty.Scale{Num: 66, Den: 655350}, Unit: qty.Volts, Initial: 0xffff},
		{ID: LightLevel, Name: "light_level", Mode: RO, Kind: qty.Scaled, Width: 4, Scale: qty.Scale{Num: 1, Den: 1000}, Unit: qty.Lux, Initial: 0xffffffff},
		{ID: AccelCount, Name: "accel_count", Mode: RO, Kind: qty.UInt, Width: 3, Unit: qty.Count, Initial: 0},
		{ID: LightThreshold, Name: "light_threshold", Mode: RW, Kind: qty.Scaled, Width: 2, Scale: qty.Scale{Num: 1, Den: 10}, Unit: qty.Lux, Initial: 0xffff},
		{ID: AccelThreshold, Name: "accel_threshold", Mode: RW, Kind: qty.Scaled, Width: 2, Scale: qty.Scale{Num: 1, Den: 1000}, Unit: qty.G, Initial: 0xffff},
		{ID: BootCount, Name: "boot_count", Mode: RO, Kind: qty.UInt, Width: 4, Unit: qty.Count, Initial: 0},
		{ID: LEDEnable, Name: "led_enable", Mode: RO, Kind: qty.UInt, Width: 1, Initial: 0},
	}
}
