// Package entrymgr is the process-wide entity registry and config-store
// bootstrap (§4.8 EntryManager): it owns the id→entity and handle→entity
// maps, the config-store client lifetime, and the optional auto-ranking
// barrier that assigns rank ids before any entity is created.
package entrymgr

import (
	"sync"
	"sync/atomic"

	"github.com/ascend/memfabric-hybrid/cmn"
	"github.com/ascend/memfabric-hybrid/configstore"
	"github.com/ascend/memfabric-hybrid/entity"
)

// Handle is the registry's opaque lookup key for RemoveEntryByPtr, standing
// in for the C ABI's raw pointer handle (§6: "ptr → entity map for the
// opaque handle in the C ABI"). Built from a monotonic counter rather than
// an actual Go pointer value: Go's garbage collector can move or shuffle
// memory, so handing out a real address as a long-lived handle would be
// unsound — see DESIGN.md.
type Handle uintptr

// Options configures Manager.Initialize, standing in for the original's
// smem_bm_init(storeURL, worldSize, deviceId, config) (§6).
type Options struct {
	// Backend, if set, is used directly as the config-store client
	// (tests share one in-process MemStore across simulated ranks this
	// way). If nil, a RemoteStore is dialed against StoreURL.
	Backend   configstore.Backend
	StoreURL  string
	WorldSize int
	DeviceID  uint32

	// AutoRanking runs the one-shot barrier described in §4.8; otherwise
	// RankID is taken as-is.
	AutoRanking bool
	RankID      int
	HostIP      string // identifies this process's arrival slot when AutoRanking
}

type registryEntry struct {
	id     string
	handle Handle
	ent    *entity.MemEntity
}

// Manager is EntryManager: process-wide coordination, not per-entity state.
type Manager struct {
	opts  Options
	store configstore.Backend

	mu       sync.Mutex
	byID     map[string]*registryEntry
	byHandle map[Handle]*registryEntry
	order    []string // insertion order, for deterministic Destroy

	nextHandle atomic.Uint64

	rankID int
}

// New constructs a Manager in its pre-Initialize state.
func New(opts Options) *Manager {
	return &Manager{
		opts:     opts,
		byID:     make(map[string]*registryEntry),
		byHandle: make(map[Handle]*registryEntry),
	}
}

// RankID returns the rank id resolved by Initialize (either opts.RankID or
// the auto-ranking barrier's assigned slot).
func (m *Manager) RankID() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rankID
}

// Initialize brings up the config-store client and, if AutoRanking is set,
// runs the arrival-order barrier before returning.
func (m *Manager) Initialize() error {
	const op = "entrymgr.Manager.Initialize"
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.opts.WorldSize <= 0 {
		return cmn.ErrInvalidParam(op, nil)
	}
	if m.opts.Backend != nil {
		m.store = m.opts.Backend
	} else {
		m.store = configstore.NewRemoteStore(m.opts.StoreURL)
	}

	m.rankID = m.opts.RankID
	if m.opts.AutoRanking {
		rank, err := m.runBarrier()
		if err != nil {
			return cmn.ErrTimeout(op, err)
		}
		m.rankID = rank
	}
	return nil
}

// CreateEntryById registers ent under id, failing with AlreadyExists if id
// is already taken (§4.8).
func (m *Manager) CreateEntryById(id string, ent *entity.MemEntity) (Handle, error) {
	const op = "entrymgr.Manager.CreateEntryById"
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.byID[id]; dup {
		return 0, cmn.ErrAlreadyExists(op, nil)
	}
	h := Handle(m.nextHandle.Add(1))
	re := &registryEntry{id: id, handle: h, ent: ent}
	m.byID[id] = re
	m.byHandle[h] = re
	m.order = append(m.order, id)
	return h, nil
}

// Lookup returns the entity registered under id, if any.
func (m *Manager) Lookup(id string) (*entity.MemEntity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	re, ok := m.byID[id]
	if !ok {
		return nil, false
	}
	return re.ent, true
}

// RemoveEntryByPtr tears down the entity behind h and erases it from both
// maps (§4.8).
func (m *Manager) RemoveEntryByPtr(h Handle) error {
	const op = "entrymgr.Manager.RemoveEntryByPtr"
	m.mu.Lock()
	re, ok := m.byHandle[h]
	if !ok {
		m.mu.Unlock()
		return cmn.ErrNotExist(op, nil)
	}
	delete(m.byHandle, h)
	delete(m.byID, re.id)
	m.order = removeString(m.order, re.id)
	m.mu.Unlock()

	re.ent.UnInitialize()
	return nil
}

func removeString(ss []string, s string) []string {
	for i, v := range ss {
		if v == s {
			return append(ss[:i], ss[i+1:]...)
		}
	}
	return ss
}

// Destroy tears down every remaining entity in deterministic insertion
// order, then shuts down the config-store client (§4.8).
func (m *Manager) Destroy() {
	m.mu.Lock()
	entries := make([]*registryEntry, 0, len(m.order))
	for _, id := range m.order {
		entries = append(entries, m.byID[id])
	}
	m.order = nil
	m.byID = make(map[string]*registryEntry)
	m.byHandle = make(map[Handle]*registryEntry)
	store := m.store
	m.store = nil
	m.mu.Unlock()

	for _, re := range entries {
		re.ent.UnInitialize()
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}
