// Package sync provides the kernel's synchronization primitives. The
// standard library sync package assumes a working goroutine scheduler,
// which does not exist this early in boot, so the kernel defines its own
// Spinlock here. pmm, vmm and heap do not take it; they run unlocked.
package sync

import "sync/atomic"

// Spinlock is a busy-wait mutual exclusion lock. A task that calls Acquire
// while already holding the lock will deadlock against itself; this kernel
// has no nested locking anywhere a Spinlock is used.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock is free, then takes it.
func (l *Spinlock) Acquire() {
	archAcquireSpinlock(&l.state, 1)
}

// TryAcquire attempts to take the lock without blocking, reporting whether
// it succeeded.
func (l *Spinlock) TryAcquire() bool {
	return atomic.SwapUint32(&l.state, 1) == 0
}

// Release relinquishes a held lock. Calling Release on an already-free lock
// has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}

// archAcquireSpinlock busy-waits on state, pausing the CPU between attempts
// via PAUSE to reduce memory-bus contention on the cache line being
// spun on.
func archAcquireSpinlock(state *uint32, attemptsBeforeYielding uint32)
