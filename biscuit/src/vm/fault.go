package vm

import (
	"fmt"

	"corefs/biscuit/src/mem"
	"corefs/biscuit/src/util"
)

// User address-space bounds, grounded on
// original_source/src/userprog/exception.c: PHYS_BASE is the kernel/
// user split, 0x08048000 is the lowest address user code is ever
// loaded at, and the stack is capped at 8 MiB below PHYS_BASE.
const (
	PhysBase     = 0xc0000000
	userLowBound = 0x08048000
	stackCap     = 1 << 23 // 8 MiB
)

// FaultCause classifies why the MMU raised a page fault.
type FaultCause int

const (
	// CauseNotPresent: the faulting page has no SPTE or frame mapping.
	CauseNotPresent FaultCause = iota
	// CauseRightsViolation: a present page was accessed in a way its
	// protection bits forbid (e.g. write to a read-only page).
	CauseRightsViolation
	// CauseKernelSpace: the fault address is in kernel virtual space.
	CauseKernelSpace
)

// ErrFatalFault is returned when the fault handler determines the
// process must be terminated with exit code -1 (spec.md §4.8 steps 1
// and 5).
var ErrFatalFault = fmt.Errorf("vm: unrecoverable page fault")

func pageBase(va uintptr) uintptr {
	return util.Rounddown(va, uintptr(mem.PageSize))
}

// HandleFault implements spec.md §4.8: given the faulting address,
// why the fault occurred, and the user stack pointer captured at
// syscall entry (or from the trap frame for a fault in user code),
// either loads the faulting page (existing SPTE), grows the stack
// (no SPTE but the access looks like a valid stack-growth pattern),
// or reports ErrFatalFault so the caller terminates the process with
// -1.
func (s *SPT) HandleFault(va uintptr, cause FaultCause, esp uintptr) error {
	if cause == CauseRightsViolation || cause == CauseKernelSpace || va == 0 {
		return ErrFatalFault
	}

	upage := pageBase(va)
	if _, ok := s.Lookup(upage); ok {
		return s.LoadPage(upage)
	}

	if !stackGrowthOK(upage, va, esp) {
		return ErrFatalFault
	}

	addr, data, err := s.frames.Allocate(s.owner, upage, s.pd, true)
	if err != nil {
		return ErrFatalFault
	}
	for i := range data {
		data[i] = 0
	}
	s.mu.Lock()
	s.pages[upage] = &Spte{Status: InFrame, Writable: true, Frame: addr, HasFrame: true}
	s.mu.Unlock()
	return nil
}

// stackGrowthOK implements spec.md §4.8 step 4's stack-growth
// acceptance test, matching original_source/src/userprog/exception.c:
// the page must be in the user range above the fixed lower bound,
// within the 8 MiB stack cap below PHYS_BASE, and va must be no more
// than 32 bytes below esp (covering the x86 PUSH/PUSHA instruction
// patterns that fault before the stack pointer itself is adjusted).
func stackGrowthOK(upage, va, esp uintptr) bool {
	if upage <= userLowBound || upage >= PhysBase {
		return false
	}
	if PhysBase-upage > stackCap {
		return false
	}
	if va < esp-32 {
		return false
	}
	return true
}
