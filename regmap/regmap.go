// Package regmap holds the fixed table of addressable values the ornament
// exposes over its wireless link. The table is built once at boot from a
// static descriptor list; no registration happens after that, so lookups are
// O(1) and the inbound-write path never allocates.
//
// Ownership is asymmetric. Task bodies commit values directly with Set: they
// run on the single scheduler goroutine, so those mutations are atomic with
// respect to each other by construction. The transport's inbound writes go
// through Write, which only stages the new value; the scheduler commits
// staged values at the top of its next cycle via Apply. A host write is
// therefore never observed by a task before that task's next scheduled run.
package regmap

import (
	"sync"

	"ornament-go/errcode"
	"ornament-go/qty"
)

// ID addresses a register. The value doubles as the 16-bit UUID of the
// register's primary GATT characteristic.
type ID uint16

// Mode is the peer-facing access mode. It never changes after registration.
type Mode uint8

const (
	RO Mode = iota // peer may only read
	RW             // peer may read and write
)

// Desc describes one register: identity, access mode, value kind, wire width
// in bytes, and the scale/unit fixed at registration time.
type Desc struct {
	ID      ID
	Name    string
	Mode    Mode
	Kind    qty.Kind
	Width   int
	Scale   qty.Scale
	Unit    qty.Unit
	Initial uint64
}

// Eng returns the engineering value of raw under the register's scale.
func (d Desc) Eng(raw uint64) float64 {
	if d.Kind == qty.UInt {
		return float64(raw)
	}
	return d.Scale.Eng(raw)
}

type slot struct {
	desc  Desc
	value uint64
	dirty bool

	mu        sync.Mutex // guards staged/hasStaged only
	staged    uint64
	hasStaged bool
}

// Map is the register table.
type Map struct {
	descs []Desc
	slots map[ID]*slot
}

// New builds the table from a static descriptor list. Descriptor order is
// preserved and is the order Descs and TakeDirty report in.
func New(descs []Desc) (*Map, error) {
	m := &Map{
		descs: descs,
		slots: make(map[ID]*slot, len(descs)),
	}
	for _, d := range descs {
		if _, dup := m.slots[d.ID]; dup {
			return nil, &errcode.E{C: errcode.Error, Op: "regmap.New", Msg: "duplicate register " + d.Name}
		}
		if d.Width < 1 || d.Width > 8 || !fitsWidth(d.Initial, d.Width) {
			return nil, &errcode.E{C: errcode.OutOfRange, Op: "regmap.New", Msg: "bad descriptor " + d.Name}
		}
		m.slots[d.ID] = &slot{desc: d, value: d.Initial, dirty: true}
	}
	return m, nil
}

// Descs returns the descriptor list in declaration order.
func (m *Map) Descs() []Desc { return m.descs }

// Desc returns the descriptor for id.
func (m *Map) Desc(id ID) (Desc, error) {
	s, ok := m.slots[id]
	if !ok {
		return Desc{}, errcode.UnknownRegister
	}
	return s.desc, nil
}

// Read returns the committed value of id.
func (m *Map) Read(id ID) (qty.Value, error) {
	s, ok := m.slots[id]
	if !ok {
		return qty.Value{}, errcode.UnknownRegister
	}
	return qty.Value{Kind: s.desc.Kind, Raw: s.value}, nil
}

// Eng returns the committed value of id in engineering units.
func (m *Map) Eng(id ID) (float64, error) {
	s, ok := m.slots[id]
	if !ok {
		return 0, errcode.UnknownRegister
	}
	return s.desc.Eng(s.value), nil
}

// Set commits a value from a task body. Only the scheduler goroutine may
// call it. Read-only registers are settable here: that is how sensor values
// get in.
func (m *Map) Set(id ID, v qty.Value) error {
	s, ok := m.slots[id]
	if !ok {
		return errcode.UnknownRegister
	}
	if v.Kind != s.desc.Kind {
		return errcode.TypeMismatch
	}
	if !fitsWidth(v.Raw, s.desc.Width) {
		return errcode.OutOfRange
	}
	if s.value != v.Raw {
		s.value = v.Raw
		s.dirty = true
	}
	return nil
}

// Write stages a peer write. It may be called from any goroutine; it never
// runs task logic and never touches the committed value. The stage is a
// single slot per register: a later write before Apply replaces an earlier
// one.
func (m *Map) Write(id ID, v qty.Value) error {
	s, ok := m.slots[id]
	if !ok {
		return errcode.UnknownRegister
	}
	if s.desc.Mode != RW {
		return errcode.ReadOnlyRegister
	}
	if v.Kind != s.desc.Kind {
		return errcode.TypeMismatch
	}
	if !fitsWidth(v.Raw, s.desc.Width) {
		return errcode.OutOfRange
	}
	s.mu.Lock()
	s.staged = v.Raw
	s.hasStaged = true
	s.mu.Unlock()
	return nil
}

// Apply commits all staged writes. The scheduler calls it at the top of each
// cycle, before any task runs. Returns the IDs committed, in declaration
// order.
func (m *Map) Apply() []ID {
	var applied []ID
	for _, d := range m.descs {
		s := m.slots[d.ID]
		s.mu.Lock()
		has, raw := s.hasStaged, s.staged
		s.hasStaged = false
		s.mu.Unlock()
		if !has {
			continue
		}
		if s.value != raw {
			s.value = raw
			s.dirty = true
		}
		applied = append(applied, d.ID)
	}
	return applied
}

// TakeDirty returns the registers whose committed value changed since the
// last call, clearing the marks. Single consumer: the transport sync task.
func (m *Map) TakeDirty() []ID {
	var ids []ID
	for _, d := range m.descs {
		s := m.slots[d.ID]
		if s.dirty {
			s.dirty = false
			ids = append(ids, d.ID)
		}
	}
	return ids
}

// MarkDirty re-flags a register for the next transport push, used when a
// push attempt fails partway.
func (m *Map) MarkDirty(id ID) {
	if s, ok := m.slots[id]; ok {
		s.dirty = true
	}
}

func fitsWidth(raw uint64, width int) bool {
	return width >= 8 || raw>>(8*width) == 0
}
