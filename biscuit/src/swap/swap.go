// Package swap implements the swap area of spec.md §4.6: a bitmap
// over page-sized slots on a dedicated block device, with one lock
// held for the duration of both the bit update and the device I/O so
// a concurrent swap_out/swap_in pair can never observe a half-written
// slot. Grounded on original_source/src/vm/swap.c, which keeps the
// same "one global lock around bitmap + disk_write/disk_read" shape,
// and on package fs's Freemap for the bitmap representation idiom
// (spec.md explicitly separates the two: the free-sector map tracks
// filesystem sectors, this tracks swap slots -- different resources,
// same bitmap technique).
package swap

import (
	"fmt"
	"sync"

	"corefs/biscuit/src/device"
	"corefs/biscuit/src/pagedir"
)

// sectorsPerSlot is the number of device sectors one page-sized swap
// slot occupies.
const sectorsPerSlot = pagedir.PageSize / device.SectorSize

// ErrSwapFull is returned by Out when every slot is occupied --
// spec.md §7's resource-exhaustion class.
var ErrSwapFull = fmt.Errorf("swap: no free slots")

// Area is the swap device: a bitmap of slot occupancy plus the
// backing device.
type Area struct {
	mu    sync.Mutex
	dev   device.Device
	used  []bool
	nslot int
}

// New creates a swap area over dev, which must hold at least
// nslots*sectorsPerSlot sectors.
func New(dev device.Device, nslots int) *Area {
	return &Area{dev: dev, used: make([]bool, nslots), nslot: nslots}
}

// NSlots returns the total slot capacity.
func (a *Area) NSlots() int { return a.nslot }

func (a *Area) slotSector(slot int) device.Sector {
	return device.Sector(slot * sectorsPerSlot)
}

// Out finds a free slot, writes page's bytes across its sectors, and
// returns the slot index. page must be exactly pagedir.PageSize bytes.
func (a *Area) Out(page []byte) (int, error) {
	if len(page) != pagedir.PageSize {
		return 0, fmt.Errorf("swap: page must be %d bytes, got %d", pagedir.PageSize, len(page))
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	slot := -1
	for i, u := range a.used {
		if !u {
			slot = i
			break
		}
	}
	if slot < 0 {
		return 0, ErrSwapFull
	}
	if err := a.writeSlot(slot, page); err != nil {
		return 0, err
	}
	a.used[slot] = true
	return slot, nil
}

// In reads slot's bytes into page (which must be pagedir.PageSize
// bytes) and clears the slot's occupied bit.
func (a *Area) In(slot int, page []byte) error {
	if len(page) != pagedir.PageSize {
		return fmt.Errorf("swap: page must be %d bytes, got %d", pagedir.PageSize, len(page))
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if slot < 0 || slot >= a.nslot || !a.used[slot] {
		return fmt.Errorf("swap: slot %d not in use", slot)
	}
	if err := a.readSlot(slot, page); err != nil {
		return err
	}
	a.used[slot] = false
	return nil
}

// Free clears slot's occupied bit without reading it back, used when
// a swapped-out page is discarded (e.g. process exit) rather than
// faulted back in.
func (a *Area) Free(slot int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if slot >= 0 && slot < a.nslot {
		a.used[slot] = false
	}
}

func (a *Area) writeSlot(slot int, page []byte) error {
	start := a.slotSector(slot)
	for i := 0; i < sectorsPerSlot; i++ {
		off := i * device.SectorSize
		if err := a.dev.WriteSector(start+device.Sector(i), page[off:off+device.SectorSize]); err != nil {
			return err
		}
	}
	return nil
}

func (a *Area) readSlot(slot int, page []byte) error {
	start := a.slotSector(slot)
	for i := 0; i < sectorsPerSlot; i++ {
		off := i * device.SectorSize
		if err := a.dev.ReadSector(start+device.Sector(i), page[off:off+device.SectorSize]); err != nil {
			return err
		}
	}
	return nil
}
