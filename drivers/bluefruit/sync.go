package bluefruit

import (
	"context"
	"log/slog"
	"time"

	"ornament-go/errcode"
	"ornament-go/qty"
	"ornament-go/regmap"
	"ornament-go/sched"
)

const syncPeriod = 5 * time.Second

// Sync keeps the register map and the module's characteristic table
// consistent: committed register changes are pushed to the host-readable
// characteristics, and host writes found in the writable shadows are staged
// back into the map. All of it runs as one scheduler task, so the module is
// touched from the scheduler goroutine only.
type Sync struct {
	gatt *GATT
	regs *regmap.Map
	log  *slog.Logger

	chars []Char
	rd    map[regmap.ID]Char
	wr    []wrChar

	// Last raw value rejected per shadow, so a bad host write is reported
	// once instead of every cycle until the host moves on.
	rejected map[regmap.ID]uint64
}

type wrChar struct {
	id regmap.ID
	c  Char
}

func NewSync(gatt *GATT, regs *regmap.Map, log *slog.Logger) *Sync {
	s := &Sync{
		gatt:     gatt,
		regs:     regs,
		log:      log,
		chars:    Chars(regs.Descs()),
		rd:       make(map[regmap.ID]Char),
		rejected: make(map[regmap.ID]uint64),
	}
	for _, c := range s.chars {
		if c.Props == PropsRead {
			s.rd[regmap.ID(c.UUID16)] = c
		}
	}
	for _, d := range regs.Descs() {
		if d.Mode == regmap.RW {
			for _, c := range s.chars {
				if c.UUID16 == regmap.WriteShadow[d.ID] {
					s.wr = append(s.wr, wrChar{id: d.ID, c: c})
				}
			}
		}
	}
	return s
}

// Chars exposes the characteristic table for the factory-reset path.
func (s *Sync) Chars() []Char { return s.chars }

// FactoryReset repopulates the module with the full characteristic table.
func (s *Sync) FactoryReset(deviceName string) error {
	return s.gatt.FactoryReset(deviceName, s.chars)
}

// PushAll writes every register's current value to its characteristic,
// draining the dirty marks. Boot path, mirrored by the periodic task
// afterwards.
func (s *Sync) PushAll() error {
	s.regs.TakeDirty()
	for _, d := range s.regs.Descs() {
		v, err := s.regs.Read(d.ID)
		if err != nil {
			return err
		}
		if err := s.gatt.CharWrite(s.rd[d.ID].Index, v.Raw); err != nil {
			return err
		}
	}
	return nil
}

// IncrementBootCount bumps the boot counter kept in the module's NVM, which
// survives device resets, and mirrors it into the register map.
func (s *Sync) IncrementBootCount() (uint64, error) {
	c := s.rd[regmap.BootCount]
	n, err := s.gatt.CharRead(c.Index, c.Width)
	if err != nil {
		return 0, err
	}
	n++
	if err := s.gatt.CharWrite(c.Index, n); err != nil {
		return 0, err
	}
	if err := s.regs.Set(regmap.BootCount, qty.Value{Kind: qty.UInt, Raw: n}); err != nil {
		return 0, err
	}
	return n, nil
}

// Task returns the periodic sync task. Module errors skip the cycle; the
// dirty marks survive so nothing is lost.
func (s *Sync) Task() *sched.Task {
	return &sched.Task{
		Name:    "ble_sync",
		Period:  syncPeriod,
		Enabled: true,
		Run: func(time.Time) error {
			if err := s.push(); err != nil {
				return err
			}
			return s.poll()
		},
	}
}

func (s *Sync) push() error {
	ids := s.regs.TakeDirty()
	for i, id := range ids {
		v, err := s.regs.Read(id)
		if err != nil {
			return err
		}
		if err := s.gatt.CharWrite(s.rd[id].Index, v.Raw); err != nil {
			// Put the marks back so the next cycle retries.
			for _, rest := range ids[i:] {
				s.regs.MarkDirty(rest)
			}
			return err
		}
	}
	return nil
}

func (s *Sync) poll() error {
	ctx := context.Background()
	for _, w := range s.wr {
		raw, err := s.gatt.CharRead(w.c.Index, w.c.Width)
		if err != nil {
			return err
		}
		if raw == sentinel(w.c.Width) {
			continue // host has written nothing yet
		}
		cur, err := s.regs.Read(w.id)
		if err != nil {
			return err
		}
		if raw == cur.Raw {
			continue
		}
		if last, ok := s.rejected[w.id]; ok && last == raw {
			continue
		}
		desc, _ := s.regs.Desc(w.id)
		if err := s.regs.Write(w.id, qty.Value{Kind: desc.Kind, Raw: raw}); err != nil {
			// Rejected host write: report and carry on. The peer sees
			// the old value echoed back.
			s.rejected[w.id] = raw
			s.log.LogAttrs(ctx, slog.LevelWarn, "host write rejected",
				slog.String("register", desc.Name),
				slog.Uint64("raw", raw),
				slog.String("code", string(errcode.Of(err))))
			continue
		}
		delete(s.rejected, w.id)
		s.log.LogAttrs(ctx, slog.LevelInfo, "host write staged",
			slog.String("register", desc.Name),
			slog.Uint64("raw", raw),
			slog.Float64("eng", desc.Eng(raw)))
	}
	return nil
}
