package extraction

import "sync/atomic"

// RunLock lets at most one extraction run proceed; others fail fast instead of queueing.
type RunLock struct {
	state atomic.Int32 // 0 = free, 1 = held
}

// TryAcquire takes the lock without blocking and reports whether it succeeded.
func (l *RunLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release frees the lock. Only the holder may call it.
func (l *RunLock) Release() {
	l.state.Store(0)
}

// Held reports whether a run is in progress.
func (l *RunLock) Held() bool {
	return l.state.Load() == 1
}
