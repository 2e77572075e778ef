package transport

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ascend/memfabric-hybrid/cmn"
	"github.com/ascend/memfabric-hybrid/cmn/atomic"
	"github.com/ascend/memfabric-hybrid/cmn/nlog"
)

var (
	opsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "memfabric_transport_ops_total",
		Help: "One-sided transport operations by kind and result.",
	}, []string{"op", "result"})
	bytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "memfabric_transport_bytes_total",
		Help: "Bytes moved by one-sided transport operations.",
	}, []string{"op"})
)

func init() {
	prometheus.MustRegister(opsTotal, bytesTotal)
}

// Manager is the software stand-in for the real RDMA/TCP transport
// manager: it implements the full §4.6 contract against the in-process
// fabricBus rather than real hardware, and exposes fault injection so
// tests can exercise ComposeDataOp's fallback-on-error path (§8.7, S6)
// without a flaky real network.
type Manager struct {
	clusterKey string
	opts       OpenOptions

	mu        sync.Mutex
	regions   map[uint64]*region
	connected atomic.Bool

	failMu   sync.Mutex
	failures map[string]int // op name -> remaining forced-failure count
}

func NewManager(clusterKey string) *Manager {
	return &Manager{
		clusterKey: clusterKey,
		regions:    make(map[uint64]*region),
		failures:   make(map[string]int),
	}
}

func (m *Manager) Name() string { return "rdma-tcp" }

func (m *Manager) OpenDevice(opts OpenOptions) error {
	m.opts = opts
	nlog.Infof("transport: opened device nic=%q rank=%d", opts.NIC, opts.RankID)
	return nil
}

func (m *Manager) RegisterMemoryRegion(addr uint64, backing []byte, flags AccessFlags) (Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := Key([]byte{byte(flags)})
	r := &region{backing: backing, key: key}
	m.regions[addr] = r
	busRegister(m.clusterKey, m.opts.RankID, addr, r)
	return key, nil
}

func (m *Manager) QueryMemoryKey(addr uint64) (Key, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.regions[addr]
	if !ok {
		return nil, false
	}
	return r.key, true
}

func (m *Manager) UnregisterMemoryRegion(addr uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.regions[addr]; !ok {
		return cmn.ErrNotExist("Manager.UnregisterMemoryRegion", nil)
	}
	delete(m.regions, addr)
	busUnregister(m.clusterKey, m.opts.RankID, addr)
	return nil
}

func (m *Manager) Prepare(peers map[int]PeerInfo) error {
	nlog.Infof("transport: prepared %d peer(s)", len(peers))
	return nil
}

func (m *Manager) Connect() error {
	m.connected.Store(true)
	return nil
}

func (m *Manager) AsyncConnect() error {
	go m.connected.Store(true)
	return nil
}

func (m *Manager) WaitForConnected(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for !m.connected.Load() {
		if time.Now().After(deadline) {
			return cmn.ErrTimeout("Manager.WaitForConnected", nil)
		}
		time.Sleep(time.Millisecond)
	}
	return nil
}

func (m *Manager) UpdateRankOptions(any) error { return nil }

// InjectFailure makes the next n calls to the named op ("ReadRemote",
// "WriteRemote") fail with TransportError, for tests of ComposeDataOp's
// fallback behavior (§8.7/§8.8, S6).
func (m *Manager) InjectFailure(op string, n int) {
	m.failMu.Lock()
	defer m.failMu.Unlock()
	m.failures[op] = n
}

func (m *Manager) shouldFail(op string) bool {
	m.failMu.Lock()
	defer m.failMu.Unlock()
	if n, ok := m.failures[op]; ok && n > 0 {
		m.failures[op] = n - 1
		return true
	}
	return false
}

func (m *Manager) ReadRemote(rank int, localBuf []byte, remoteAddr, size uint64) error {
	const op = "ReadRemote"
	if m.shouldFail(op) {
		opsTotal.WithLabelValues(op, "error").Inc()
		return cmn.ErrTransport("Manager.ReadRemote", nil)
	}
	if !m.connected.Load() {
		opsTotal.WithLabelValues(op, "error").Inc()
		return errNotConnected("Manager.ReadRemote")
	}
	r, off, ok := busFind(m.clusterKey, rank, remoteAddr, size)
	if !ok {
		opsTotal.WithLabelValues(op, "error").Inc()
		return cmn.ErrTransport("Manager.ReadRemote", nil)
	}
	copy(localBuf[:size], r.backing[off:off+size])
	opsTotal.WithLabelValues(op, "ok").Inc()
	bytesTotal.WithLabelValues(op).Add(float64(size))
	return nil
}

func (m *Manager) WriteRemote(rank int, localBuf []byte, remoteAddr, size uint64) error {
	const op = "WriteRemote"
	if m.shouldFail(op) {
		opsTotal.WithLabelValues(op, "error").Inc()
		return cmn.ErrTransport("Manager.WriteRemote", nil)
	}
	if !m.connected.Load() {
		opsTotal.WithLabelValues(op, "error").Inc()
		return errNotConnected("Manager.WriteRemote")
	}
	r, off, ok := busFind(m.clusterKey, rank, remoteAddr, size)
	if !ok {
		opsTotal.WithLabelValues(op, "error").Inc()
		return cmn.ErrTransport("Manager.WriteRemote", nil)
	}
	copy(r.backing[off:off+size], localBuf[:size])
	opsTotal.WithLabelValues(op, "ok").Inc()
	bytesTotal.WithLabelValues(op).Add(float64(size))
	return nil
}

func (m *Manager) BatchReadRemote(ops []RemoteOp) error {
	for _, o := range ops {
		if err := m.ReadRemote(o.Rank, o.LocalBuf, o.RemoteAddr, o.Size); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) BatchWriteRemote(ops []RemoteOp) error {
	for _, o := range ops {
		if err := m.WriteRemote(o.Rank, o.LocalBuf, o.RemoteAddr, o.Size); err != nil {
			return err
		}
	}
	return nil
}
