package goruntime

import (
	"testing"

	"github.com/maxdevos49/osdev/kernel/mem"
)

func TestPageRoundUpAlignsToPageSize(t *testing.T) {
	cases := []struct{ in, want uintptr }{
		{0, 0},
		{1, uintptr(mem.PageSize)},
		{uintptr(mem.PageSize), uintptr(mem.PageSize)},
		{uintptr(mem.PageSize) + 1, 2 * uintptr(mem.PageSize)},
	}
	for _, c := range cases {
		if got := uintptr(pageRoundUp(c.in)); got != c.want {
			t.Errorf("pageRoundUp(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestSysReserveBumpsWithinBounds(t *testing.T) {
	reserveNext = 0x1000
	reserveEnd = 0x1000 + uintptr(4*mem.PageSize)

	var reserved bool
	p := sysReserve(nil, uintptr(mem.PageSize), &reserved)
	if !reserved {
		t.Fatalf("expected reservation to succeed")
	}
	if uintptr(p) != 0x1000 {
		t.Fatalf("expected reservation to start at 0x1000, got %#x", p)
	}
	if reserveNext != 0x1000+uintptr(mem.PageSize) {
		t.Fatalf("reserveNext did not advance by one page")
	}
}

func TestSysReserveFailsWhenExhausted(t *testing.T) {
	reserveNext = 0x1000
	reserveEnd = 0x1000 + uintptr(mem.PageSize)

	var reserved bool
	sysReserve(nil, uintptr(2*mem.PageSize), &reserved)
	if reserved {
		t.Fatalf("expected reservation past reserveEnd to fail")
	}
}

func TestGetRandomDataFillsSlice(t *testing.T) {
	prngSeed = 0xdeadc0de
	buf := make([]byte, 32)
	getRandomData(buf)

	allZero := true
	for _, b := range buf {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		t.Fatalf("expected getRandomData to produce non-zero bytes")
	}
}
