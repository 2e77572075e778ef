package configstore

import "time"

// Backend is the narrow CRUD-plus-distributed-lock contract every config
// store implementation satisfies (grounded on original_source's
// ConfigStoreBackend: Get/Put(ttl)/Delete/Exist/AcquireDistributedLock/
// TryAcquireDistributedLock/ReleaseDistributedLock). Unlike the original,
// Initialize/UnInitialize are folded into the constructor of each concrete
// backend rather than kept as separate interface methods — a Go backend is
// either constructed successfully or not constructed at all.
type Backend interface {
	Name() string

	Get(key string) ([]byte, error)
	Put(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Exist(key string) (bool, error)
	Clear()

	IsDistributed() bool
	SupportsTTL() bool

	AcquireDistributedLock(name string) error
	TryAcquireDistributedLock(name string, timeout time.Duration) error
	ReleaseDistributedLock(name string) error
}

// LockGuard is the Go-idiomatic replacement for the original's
// DistributedLockGuard RAII destructor: Lock/TryLock return a guard whose
// explicit Release call drops the lock, since no destructor runs when the
// guard goes out of scope.
// Release is idempotent and safe to call from a defer even after an
// explicit earlier call.
type LockGuard struct {
	backend Backend
	name    string
	held    bool
}

// Lock blocks acquiring name, returning a guard whose Release drops it.
// Mirrors DistributedLockGuard's blocking constructor.
func Lock(backend Backend, name string) (*LockGuard, error) {
	if err := backend.AcquireDistributedLock(name); err != nil {
		return &LockGuard{backend: backend, name: name}, err
	}
	return &LockGuard{backend: backend, name: name, held: true}, nil
}

// TryLock attempts to acquire name within timeout, mirroring the original's
// timed DistributedLockGuard constructor. A non-nil error means the guard
// does not hold the lock; Release is still safe to call (a no-op).
func TryLock(backend Backend, name string, timeout time.Duration) (*LockGuard, error) {
	if err := backend.TryAcquireDistributedLock(name, timeout); err != nil {
		return &LockGuard{backend: backend, name: name}, err
	}
	return &LockGuard{backend: backend, name: name, held: true}, nil
}

// Held reports whether the guard currently owns the lock.
func (g *LockGuard) Held() bool { return g.held }

// Release drops the lock if held; idempotent.
func (g *LockGuard) Release() error {
	if !g.held {
		return nil
	}
	g.held = false
	return g.backend.ReleaseDistributedLock(g.name)
}
