// Package limits tracks the fixed resource budgets of this kernel
// core: the per-process descriptor table size, and global frame-table,
// swap-slot, and mmap-entry capacities (Syslimit). Package mem's frame
// table keeps its own Sysatomic_t budget; no package reads Syslimit.
// Adapted from Biscuit's
// limits.Sysatomic_t (biscuit/src/limits/limits.go) -- its
// compare-and-swap-protected counter is exactly the "resource
// exhaustion is first-class" idiom spec.md §7 calls for ("the
// offending syscall returns its failure indicator"), narrowed from
// Biscuit's many unrelated subsystem quotas (TCP segments, ARP
// entries, routes -- all out of scope here) to the four this core
// actually owns.
package limits

import "sync/atomic"

// NOFILE is the number of descriptor-table slots per process,
// including the two reserved console slots.
const NOFILE = 64

// Sysatomic_t is a numeric budget that can be atomically taken from
// and given back to, used wherever an allocator must fail cleanly
// once a fixed capacity is exhausted (spec.md §7's resource-exhaustion
// class).
type Sysatomic_t struct{ v int64 }

// NewSysatomic returns a budget initialized to n.
func NewSysatomic(n int64) *Sysatomic_t {
	return &Sysatomic_t{v: n}
}

// Given increases the budget by n.
func (s *Sysatomic_t) Given(n int64) {
	if n < 0 {
		panic("limits: negative Given")
	}
	atomic.AddInt64(&s.v, n)
}

// Taken tries to decrement the budget by n, returning false (and
// leaving the budget unchanged) if that would drive it negative.
func (s *Sysatomic_t) Taken(n int64) bool {
	if n < 0 {
		panic("limits: negative Taken")
	}
	if atomic.AddInt64(&s.v, -n) >= 0 {
		return true
	}
	atomic.AddInt64(&s.v, n)
	return false
}

// Take decrements the budget by one and reports success.
func (s *Sysatomic_t) Take() bool { return s.Taken(1) }

// Give increments the budget by one.
func (s *Sysatomic_t) Give() { s.Given(1) }

// Remaining reports the current budget, for diagnostics and tests.
func (s *Sysatomic_t) Remaining() int64 {
	return atomic.LoadInt64(&s.v)
}

// Syslimit_t holds the configured capacities of the core's fixed
// resources.
type Syslimit_t struct {
	// Frames is the number of physical frames the frame table manages.
	Frames Sysatomic_t
	// SwapSlots is the number of page-sized slots on the swap device.
	SwapSlots Sysatomic_t
	// Mmaps is the number of simultaneously mapped mmap regions across
	// all processes.
	Mmaps Sysatomic_t
}

// Syslimit holds the process-wide resource budgets. They are all zero
// until Configure sets them.
var Syslimit = &Syslimit_t{}

// Configure (re)initializes the global budgets.
func Configure(frames, swapSlots, mmaps int64) {
	Syslimit.Frames = *NewSysatomic(frames)
	Syslimit.SwapSlots = *NewSysatomic(swapSlots)
	Syslimit.Mmaps = *NewSysatomic(mmaps)
}
