package bridge

import "sync"

// LockManager arbitrates the shared radio between scanning and per-device
// sessions.
//
// The radio cannot reliably scan and hold a connection at the same time, so
// scanning is modeled as the writer side of a reader/writer lock: a scan
// excludes every device session, while device sessions exclude each other
// only pairwise by address. A device session holds a reader slot on the
// arbiter plus its own per-address mutex, so sessions against distinct
// addresses proceed in parallel.
//
// Because the arbiter covers all device traffic rather than a snapshot of
// known locks, a device first referenced while a scan is in progress simply
// blocks until the scan releases the writer side. There is no window in
// which a new address can slip past a running scan.
//
// Per-address locks are created on first reference and never removed. The
// set is bounded by the number of distinct addresses ever commanded, which
// is finite and known from configuration.
type LockManager struct {
	arbiter sync.RWMutex

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLockManager creates an empty lock manager. Per-address locks are
// created lazily by AcquireDevice.
func NewLockManager() *LockManager {
	return &LockManager{
		locks: make(map[string]*sync.Mutex),
	}
}

// AcquireDevice blocks until the caller holds exclusive access to the
// device at address and no scan is in progress. The address must already
// be case-normalized.
//
// There is no timeout: a stuck session blocks all future operations on
// that address until released.
func (m *LockManager) AcquireDevice(address string) {
	m.arbiter.RLock()
	m.deviceLock(address).Lock()
}

// ReleaseDevice releases the lock held by the matching AcquireDevice.
func (m *LockManager) ReleaseDevice(address string) {
	m.deviceLock(address).Unlock()
	m.arbiter.RUnlock()
}

// AcquireScan blocks until no device session is active, then holds the
// radio exclusively. Device sessions requested while the scan runs block
// until ReleaseScan.
func (m *LockManager) AcquireScan() {
	m.arbiter.Lock()
}

// ReleaseScan releases the exclusive hold taken by AcquireScan.
func (m *LockManager) ReleaseScan() {
	m.arbiter.Unlock()
}

// LockCount returns the number of per-address locks created so far.
func (m *LockManager) LockCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

// deviceLock returns the per-address mutex, creating it on first reference.
func (m *LockManager) deviceLock(address string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[address]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[address] = lock
	}
	return lock
}
