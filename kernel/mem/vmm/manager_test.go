package vmm

import (
	"testing"
	"unsafe"

	"github.com/maxdevos49/osdev/kernel"
	"github.com/maxdevos49/osdev/kernel/mem"
	"github.com/maxdevos49/osdev/kernel/mem/pmm"
)

// backingStore gives the manager-under-test a real, addressable region of
// Go-owned memory to stand in for physical RAM: its HHDM offset is chosen so
// that frame.Address() + hhdmOffset lands inside the slice the test holds
// onto, letting the manager's table walks dereference real pointers.
type backingStore struct {
	mem        []byte
	hhdmOffset uintptr
}

func newBackingStore(t *testing.T, pages int) *backingStore {
	t.Helper()
	buf := make([]byte, (pages+1)*int(mem.PageSize))

	base := uintptr(unsafe.Pointer(&buf[0]))
	aligned := (base + uintptr(mem.PageSize) - 1) &^ uintptr(mem.PageSize-1)

	return &backingStore{mem: buf, hhdmOffset: aligned}
}

func newTestManager(t *testing.T, poolPages int) (*Manager, *pmm.BitmapAllocator) {
	t.Helper()

	totalPages := uint64(poolPages + 32)
	words := (totalPages + 63) / 64
	storage := make([]uint64, words)

	var alloc pmm.BitmapAllocator
	alloc.Init(storage, mem.Size(totalPages)*mem.PageSize)
	if err := alloc.ReleaseRegion(0, totalPages*uint64(mem.PageSize)); err != nil {
		t.Fatalf("ReleaseRegion: %v", err)
	}

	store := newBackingStore(t, int(totalPages))

	m, err := Bootstrap(&alloc, store.hhdmOffset, 48, 48)
	if err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	return m, &alloc
}

func TestMapAndTranslateRoundTrip(t *testing.T) {
	m, alloc := newTestManager(t, poolSize)

	f, err := alloc.AllocateFrame()
	if err != nil {
		t.Fatalf("AllocateFrame: %v", err)
	}

	virt := uintptr(0x1000)
	if err := m.MapRegion(f.Address(), virt, mem.PageSize, FlagWritable); err != nil {
		t.Fatalf("MapRegion: %v", err)
	}

	got, err := m.Translate(virt)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got != f.Address() {
		t.Fatalf("expected translate to return %#x, got %#x", f.Address(), got)
	}
}

func TestTranslateUnmappedAddressFails(t *testing.T) {
	m, _ := newTestManager(t, poolSize)

	if _, err := m.Translate(0x7777000); err != ErrInvalidMapping {
		t.Fatalf("expected ErrInvalidMapping, got %v", err)
	}
}

func TestMapPageRejectsDoubleMapping(t *testing.T) {
	m, alloc := newTestManager(t, poolSize)

	f, _ := alloc.AllocateFrame()
	virt := uintptr(0x2000)

	if err := m.MapRegion(f.Address(), virt, mem.PageSize, FlagWritable); err != nil {
		t.Fatalf("first MapRegion: %v", err)
	}

	f2, _ := alloc.AllocateFrame()
	err := m.MapRegion(f2.Address(), virt, mem.PageSize, FlagWritable)
	if err == nil || err.Code != kernel.ErrAlreadyUsed {
		t.Fatalf("expected ErrAlreadyUsed remapping a present page, got %v", err)
	}
}

func TestMarkReadyEnablesPoolRestocking(t *testing.T) {
	m, _ := newTestManager(t, poolSize)

	if err := m.MarkReady(); err != nil {
		t.Fatalf("MarkReady: %v", err)
	}
	if !m.ready {
		t.Fatalf("expected manager to be marked ready")
	}

	for i, f := range m.pool {
		if f == pmm.InvalidFrame {
			t.Fatalf("pool slot %d left unfilled after MarkReady", i)
		}
	}
}

func TestMappingManyPagesDrivesPoolRestock(t *testing.T) {
	m, _ := newTestManager(t, poolSize)
	if err := m.MarkReady(); err != nil {
		t.Fatalf("MarkReady: %v", err)
	}

	// Each distinct PD-region (2MiB) requires a new PT from the pool, so
	// mapping pages spread across many PD regions forces several
	// restock cycles and exercises the self-mapping path inside
	// maybeRestockPool.
	for i := 0; i < 4; i++ {
		virt := uintptr(i) * 0x200000
		if err := m.MapRegion(virt, virt, mem.PageSize, FlagWritable); err != nil {
			t.Fatalf("MapRegion %d: %v", i, err)
		}
	}

	for i, f := range m.pool {
		if f == pmm.InvalidFrame {
			t.Fatalf("pool slot %d was not restocked", i)
		}
	}
}
