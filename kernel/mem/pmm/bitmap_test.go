package pmm

import (
	"testing"

	"github.com/maxdevos49/osdev/kernel"
	"github.com/maxdevos49/osdev/kernel/mem"
)

func newTestAllocator(t *testing.T, totalPages uint64) *BitmapAllocator {
	t.Helper()
	total := mem.Size(totalPages) * mem.PageSize
	words := requiredBitmapWords(totalPages)
	storage := make([]uint64, words)

	var a BitmapAllocator
	a.Init(storage, total)
	return &a
}

func TestInitMarksEverythingReserved(t *testing.T) {
	a := newTestAllocator(t, 64)

	if a.FreePages() != 0 {
		t.Fatalf("expected 0 free pages immediately after Init, got %d", a.FreePages())
	}
	if a.UsedPages() != a.TotalPages() {
		t.Fatalf("used pages should equal total pages after Init")
	}
}

// TestPageConservation exercises the core allocator invariant: at every
// point, used pages + free pages must equal total pages.
func TestPageConservation(t *testing.T) {
	a := newTestAllocator(t, 64)
	if err := a.ReleaseRegion(0, uint64(64)*uint64(mem.PageSize)); err != nil {
		t.Fatalf("ReleaseRegion failed: %v", err)
	}

	check := func() {
		t.Helper()
		if a.UsedPages()+a.FreePages() != a.TotalPages() {
			t.Fatalf("conservation violated: used=%d free=%d total=%d", a.UsedPages(), a.FreePages(), a.TotalPages())
		}
	}
	check()

	frames := make([]Frame, 0, 10)
	for i := 0; i < 10; i++ {
		f, err := a.AllocateFrame()
		if err != nil {
			t.Fatalf("AllocateFrame %d failed: %v", i, err)
		}
		frames = append(frames, f)
		check()
	}

	if a.UsedPages() != 10 {
		t.Fatalf("expected 10 used pages, got %d", a.UsedPages())
	}

	for _, f := range frames {
		if err := a.Release(f, mem.PageSize); err != nil {
			t.Fatalf("Release failed: %v", err)
		}
		check()
	}

	if a.UsedPages() != 0 {
		t.Fatalf("expected 0 used pages after releasing everything, got %d", a.UsedPages())
	}
}

func TestAllocateNeverReturnsFrameZero(t *testing.T) {
	a := newTestAllocator(t, 8)
	a.ReleaseRegion(0, 8*uint64(mem.PageSize))

	for i := 0; i < 7; i++ {
		f, err := a.AllocateFrame()
		if err != nil {
			t.Fatalf("AllocateFrame %d: %v", i, err)
		}
		if f == 0 {
			t.Fatalf("allocator handed out the reserved sentinel frame 0")
		}
	}
}

func TestReserveRegionRejectsDoubleReservation(t *testing.T) {
	a := newTestAllocator(t, 8)
	a.ReleaseRegion(0, 8*uint64(mem.PageSize))

	addr := uintptr(2) * uintptr(mem.PageSize)
	if err := a.ReserveRegion(addr, uint64(mem.PageSize)); err != nil {
		t.Fatalf("first reservation should succeed: %v", err)
	}
	err := a.ReserveRegion(addr, uint64(mem.PageSize))
	if err == nil || err.Code != kernel.ErrAlreadyUsed {
		t.Fatalf("expected ErrAlreadyUsed, got %v", err)
	}
}

func TestUnalignedAddressRejected(t *testing.T) {
	a := newTestAllocator(t, 8)
	err := a.ReserveRegion(1, uint64(mem.PageSize))
	if err == nil || err.Code != kernel.ErrAddressAlignment {
		t.Fatalf("expected ErrAddressAlignment, got %v", err)
	}
}

func TestOutOfBoundsAddressRejected(t *testing.T) {
	a := newTestAllocator(t, 8)
	addr := uintptr(100) * uintptr(mem.PageSize)
	err := a.ReserveRegion(addr, uint64(mem.PageSize))
	if err == nil || err.Code != kernel.ErrOutOfBounds {
		t.Fatalf("expected ErrOutOfBounds, got %v", err)
	}
}

func TestAllocateFailsWhenExhausted(t *testing.T) {
	a := newTestAllocator(t, 4)
	a.ReleaseRegion(0, 4*uint64(mem.PageSize))

	for i := 0; i < 3; i++ {
		if _, err := a.AllocateFrame(); err != nil {
			t.Fatalf("unexpected allocation failure: %v", err)
		}
	}

	if _, err := a.AllocateFrame(); err == nil || err.Code != kernel.ErrNotFound {
		t.Fatalf("expected ErrNotFound once pages are exhausted, got %v", err)
	}
}

func TestAllocateMultiPageRunIsContiguous(t *testing.T) {
	a := newTestAllocator(t, 16)
	a.ReleaseRegion(0, 16*uint64(mem.PageSize))

	f, err := a.Allocate(4 * mem.PageSize)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	for i := uint64(0); i < 4; i++ {
		addr := f.Address() + uintptr(i)*uintptr(mem.PageSize)
		probe := a.ReserveRegion(addr, uint64(mem.PageSize))
		if probe == nil || probe.Code != kernel.ErrAlreadyUsed {
			t.Fatalf("page %d of multi-page allocation was not marked used", i)
		}
	}
}

func TestBitmapSizeBytesIsPageAligned(t *testing.T) {
	size := BitmapSizeBytes(1 * mem.Gb)
	if uint64(size)%uint64(mem.PageSize) != 0 {
		t.Fatalf("expected page-aligned bitmap size, got %d", size)
	}
}
