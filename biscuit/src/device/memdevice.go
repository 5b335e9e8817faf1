package device

import "sync"

// MemDevice is an in-memory Device, used by unit tests and by callers
// that want a scratch disk without touching the filesystem (e.g. the
// swap device in a short-lived process). It never fails except on
// out-of-range sectors.
type MemDevice struct {
	mu    sync.Mutex
	sects [][SectorSize]byte
}

// NewMemDevice allocates an all-zero in-memory device of n sectors.
func NewMemDevice(n Sector) *MemDevice {
	return &MemDevice{sects: make([][SectorSize]byte, n)}
}

func (d *MemDevice) ReadSector(s Sector, buf []byte) error {
	if err := checkBuf(buf); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if int(s) >= len(d.sects) {
		return ErrOutOfRange{Sector: s, Max: Sector(len(d.sects))}
	}
	copy(buf, d.sects[s][:])
	return nil
}

func (d *MemDevice) WriteSector(s Sector, buf []byte) error {
	if err := checkBuf(buf); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if int(s) >= len(d.sects) {
		return ErrOutOfRange{Sector: s, Max: Sector(len(d.sects))}
	}
	copy(d.sects[s][:], buf)
	return nil
}

func (d *MemDevice) Flush() error { return nil }

func (d *MemDevice) NumSectors() Sector {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Sector(len(d.sects))
}
