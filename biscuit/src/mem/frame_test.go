package mem

import (
	"testing"

	"github.com/stretchr/testify/require"

	"corefs/biscuit/src/defs"
	"corefs/biscuit/src/pagedir"
)

type noopEvictor struct{ called int }

func (e *noopEvictor) WritebackAndInvalidate(upage uintptr, data []byte, pd *pagedir.PageDir) error {
	e.called++
	return nil
}

func TestAllocateInstallsMapping(t *testing.T) {
	tab := NewTable(4)
	pd := pagedir.New(defs.Tid_t(1))

	addr, data, err := tab.Allocate(1, 0x1000, pd, true)
	require.NoError(t, err)
	require.Len(t, data, PageSize)

	got, ok := pd.Get(0x1000)
	require.True(t, ok)
	require.Equal(t, addr, got)
}

func TestFreeUnmapsAndReturnsBudget(t *testing.T) {
	tab := NewTable(1)
	pd := pagedir.New(defs.Tid_t(1))
	addr, _, err := tab.Allocate(1, 0x1000, pd, true)
	require.NoError(t, err)

	require.NoError(t, tab.Free(addr))
	_, ok := pd.Get(0x1000)
	require.False(t, ok)

	// budget freed, a new allocation succeeds.
	_, _, err = tab.Allocate(1, 0x2000, pd, true)
	require.NoError(t, err)
}

func TestAllocateFailsWithNoUnpinnedVictim(t *testing.T) {
	tab := NewTable(1)
	pd := pagedir.New(defs.Tid_t(1))
	_, _, err := tab.Allocate(1, 0x1000, pd, true) // stays pinned by default
	require.NoError(t, err)

	_, _, err = tab.Allocate(1, 0x2000, pd, true)
	require.ErrorIs(t, err, ErrNoFrames)
}

func TestEvictionReclaimsUnpinnedFrame(t *testing.T) {
	tab := NewTable(1)
	pd := pagedir.New(defs.Tid_t(1))
	ev := &noopEvictor{}
	tab.RegisterEvictor(1, ev)

	addr1, _, err := tab.Allocate(1, 0x1000, pd, true)
	require.NoError(t, err)
	tab.Unpin(addr1)

	addr2, _, err := tab.Allocate(1, 0x2000, pd, true)
	require.NoError(t, err)
	require.NotEqual(t, addr1, addr2)
	require.Equal(t, 1, ev.called)

	_, ok := pd.Get(0x1000)
	require.False(t, ok, "evicted page must be unmapped")
}

func TestPinPreventsEviction(t *testing.T) {
	tab := NewTable(1)
	pd := pagedir.New(defs.Tid_t(1))
	ev := &noopEvictor{}
	tab.RegisterEvictor(1, ev)

	addr1, _, err := tab.Allocate(1, 0x1000, pd, true)
	require.NoError(t, err)
	tab.Unpin(addr1)
	tab.Pin(addr1)

	_, _, err = tab.Allocate(1, 0x2000, pd, true)
	require.ErrorIs(t, err, ErrNoFrames)
}
