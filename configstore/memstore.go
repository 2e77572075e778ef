package configstore

import (
	"sync"
	"time"

	"github.com/tidwall/buntdb"

	"github.com/ascend/memfabric-hybrid/cmn"
)

// lockPrefix namespaces distributed-lock keys away from ordinary data keys
// within the same buntdb database.
const lockPrefix = "\x00lock\x00"

// MemStore is the in-process Backend implementation (§4.8/§9): an embedded
// buntdb database, either ":memory:" (the default, process-local and
// non-persistent) or backed by a file path for restart survival. Locks give
// mutual exclusion only among callers sharing this MemStore in one process;
// there is no cross-process guarantee, so IsDistributed reports false.
type MemStore struct {
	db *buntdb.DB
	mu sync.Mutex // serializes lock-acquire test-and-set against concurrent callers in this process
}

// NewMemStore opens (or creates) a buntdb database at path, or an
// in-memory-only database when path is "" or ":memory:".
func NewMemStore(path string) (*MemStore, error) {
	const op = "configstore.NewMemStore"
	if path == "" {
		path = ":memory:"
	}
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, newErr(op, CodeIOError, err)
	}
	return &MemStore{db: db}, nil
}

func (s *MemStore) Name() string { return "MemStore" }

func (s *MemStore) IsDistributed() bool { return false }
func (s *MemStore) SupportsTTL() bool   { return true }

func (s *MemStore) Get(key string) ([]byte, error) {
	const op = "configstore.MemStore.Get"
	var out []byte
	err := s.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(key)
		if err != nil {
			return err
		}
		out = []byte(v)
		return nil
	})
	switch {
	case err == nil:
		return out, nil
	case err == buntdb.ErrNotFound:
		return nil, newErr(op, CodeNotExist, err)
	default:
		return nil, newErr(op, CodeIOError, err)
	}
}

func (s *MemStore) Put(key string, value []byte, ttl time.Duration) error {
	const op = "configstore.MemStore.Put"
	if key == "" {
		return newErr(op, CodeInvalidKey, nil)
	}
	err := s.db.Update(func(tx *buntdb.Tx) error {
		var opts *buntdb.SetOptions
		if ttl > 0 {
			opts = &buntdb.SetOptions{Expires: true, TTL: ttl}
		}
		_, _, err := tx.Set(key, string(value), opts)
		return err
	})
	if err != nil {
		return newErr(op, CodeIOError, err)
	}
	return nil
}

func (s *MemStore) Delete(key string) error {
	const op = "configstore.MemStore.Delete"
	err := s.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(key)
		return err
	})
	switch {
	case err == nil:
		return nil
	case err == buntdb.ErrNotFound:
		return newErr(op, CodeNotExist, err)
	default:
		return newErr(op, CodeIOError, err)
	}
}

func (s *MemStore) Exist(key string) (bool, error) {
	_, err := s.Get(key)
	if err == nil {
		return true, nil
	}
	if cmn.IsKind(err, cmn.KindNotExist) {
		return false, nil
	}
	return false, err
}

func (s *MemStore) Clear() {
	_ = s.db.Update(func(tx *buntdb.Tx) error {
		return tx.DeleteAll()
	})
}

// AcquireDistributedLock performs a test-and-set under s.mu: within this
// process it behaves as a real mutual-exclusion lock keyed by name, even
// though IsDistributed reports false (no cross-process guarantee).
func (s *MemStore) AcquireDistributedLock(name string) error {
	const op = "configstore.MemStore.AcquireDistributedLock"
	s.mu.Lock()
	defer s.mu.Unlock()
	key := lockPrefix + name
	if _, err := s.Get(key); err == nil {
		return newErr(op, CodeError, nil)
	}
	if err := s.Put(key, []byte("1"), 0); err != nil {
		return newErr(op, CodeIOError, err)
	}
	return nil
}

func (s *MemStore) ReleaseDistributedLock(name string) error {
	const op = "configstore.MemStore.ReleaseDistributedLock"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.Delete(lockPrefix + name); err != nil {
		return newErr(op, CodeNotExist, err)
	}
	return nil
}

// TryAcquireDistributedLock polls AcquireDistributedLock until timeout
// elapses (0 = single non-blocking attempt), matching the original's
// "some may fall back to immediate attempt" fallback note.
func (s *MemStore) TryAcquireDistributedLock(name string, timeout time.Duration) error {
	const op = "configstore.MemStore.TryAcquireDistributedLock"
	deadline := time.Now().Add(timeout)
	for {
		err := s.AcquireDistributedLock(name)
		if err == nil {
			return nil
		}
		if timeout <= 0 || time.Now().After(deadline) {
			return newErr(op, CodeTimeout, err)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Close releases the underlying buntdb database.
func (s *MemStore) Close() error {
	return s.db.Close()
}
