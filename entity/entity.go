// Package entity implements MemEntity: the per-VA-space object a caller
// creates, composing one or two MemSegments, a TransportManager, and a
// ComposeDataOp behind the explicit lifecycle state machine of §4.7,
// grounded on hybm_mem_entity.cpp / hybm_compose_mem_entity.cpp.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package entity

import (
	"sync"
	"time"

	cuckoo "github.com/seiflotfy/cuckoofilter"
	"github.com/teris-io/shortid"

	"github.com/ascend/memfabric-hybrid/cmn"
	"github.com/ascend/memfabric-hybrid/cmn/nlog"
	"github.com/ascend/memfabric-hybrid/memfab/dataop"
	"github.com/ascend/memfabric-hybrid/memfab/segment"
	"github.com/ascend/memfabric-hybrid/memfab/slice"
	"github.com/ascend/memfabric-hybrid/memfab/tag"
	"github.com/ascend/memfabric-hybrid/transport"
)

// seenEnvelopeCapacity bounds the cuckoo filter backing dedup of already
// imported peer envelopes; sized for a world far larger than any one
// exchange round is expected to carry.
const seenEnvelopeCapacity = 4096

// State is the MemEntity lifecycle state machine of §4.7:
// Uninitialized -> Initialized -> Reserved -> Allocated -> Exported <-> Importing
// -> Connected -> Operating -> Leaving -> Uninitialized.
type State int

const (
	StateUninitialized State = iota
	StateInitialized
	StateReserved
	StateAllocated
	StateExported
	StateImporting
	StateConnected
	StateOperating
	StateLeaving
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateReserved:
		return "reserved"
	case StateAllocated:
		return "allocated"
	case StateExported:
		return "exported"
	case StateImporting:
		return "importing"
	case StateConnected:
		return "connected"
	case StateOperating:
		return "operating"
	case StateLeaving:
		return "leaving"
	default:
		return "unknown"
	}
}

// TagPolicy is one tag×tag -> allowed-op-mask entry supplied in options,
// installed into the entity's tag.Info during Initialize.
type TagPolicy struct {
	SrcTag, DstTag string
	Mask           tag.OpType
}

// Options is EntityOptions: the input config a caller supplies to create
// a MemEntity (§4.2's value-type table).
type Options struct {
	ID           string
	RankID       int
	RankCount    int
	DeviceID     uint32
	HBMSize      uint64 // 0 means no device segment
	DRAMSize     uint64 // 0 means no host segment
	DRAMVariant  segment.Variant // VariantHostConn or VariantHostSdma
	AllowedOps   tag.OpType
	SelfTag      string
	TagPolicies  []TagPolicy
	TransportURL string
	TransScene   bool // restricts ComposeDataOp to SDMA/DeviceRDMA only
}

// MemEntity is the compose-flavor entity of §4.7.
type MemEntity struct {
	opts Options

	mu    sync.Mutex
	state State

	hostSeg   *segment.Segment
	deviceSeg *segment.Segment
	transport transport.Manager
	tags      *tag.Info
	compose   *dataop.ComposeDataOp

	connectedOnce bool
	importedKeys  map[int]transport.Key
	seenEnvelopes *cuckoo.Filter
}

// New constructs a MemEntity in the Uninitialized state; no resources are
// acquired until Initialize. An empty Options.ID is assigned a short,
// collision-resistant id so callers never have to mint their own.
func New(opts Options) *MemEntity {
	if opts.ID == "" {
		if id, err := shortid.Generate(); err == nil {
			opts.ID = id
		}
	}
	return &MemEntity{
		opts:          opts,
		importedKeys:  make(map[int]transport.Key),
		seenEnvelopes: cuckoo.NewFilter(seenEnvelopeCapacity),
	}
}

func (e *MemEntity) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *MemEntity) requireState(op string, want State) error {
	if e.state != want {
		return cmn.NewErrf(cmn.KindInvalidParam, op, "expected state %s, got %s", want, e.state)
	}
	return nil
}

// Initialize validates options, builds the segment(s), the transport, and
// the compose operator. On any failure it tears down everything it
// started and leaves the entity Uninitialized, so a retry has nothing to
// clean up (§4.7 failure semantics).
func (e *MemEntity) Initialize() (err error) {
	const op = "MemEntity.Initialize"
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateUninitialized {
		return cmn.NewErrf(cmn.KindInvalidParam, op, "already initialized (state=%s)", e.state)
	}
	if e.opts.RankID < 0 || e.opts.RankID >= e.opts.RankCount || e.opts.RankCount <= 0 {
		return cmn.ErrInvalidParam(op, nil)
	}
	if e.opts.HBMSize == 0 && e.opts.DRAMSize == 0 {
		return cmn.ErrInvalidParam(op, nil)
	}
	if e.opts.AllowedOps == 0 {
		return cmn.ErrInvalidParam(op, nil)
	}

	cfg := cmn.GCO.Get()
	defer func() {
		if err != nil {
			e.teardownLocked()
		}
	}()

	if e.opts.HBMSize > 0 {
		if !aligned(e.opts.HBMSize, cfg.Align.DevicePage) {
			return cmn.ErrInvalidParam(op, nil)
		}
		e.deviceSeg = segment.New(segment.Options{
			Variant: segment.VariantHbmVmm, RankID: e.opts.RankID, RankCount: e.opts.RankCount,
			PerRankSize: e.opts.HBMSize, Page: cfg.Align.DevicePage, BusKey: e.opts.ID, DeviceID: e.opts.DeviceID,
		})
	}
	if e.opts.DRAMSize > 0 {
		if !aligned(e.opts.DRAMSize, cfg.Align.HostPage) {
			return cmn.ErrInvalidParam(op, nil)
		}
		variant := e.opts.DRAMVariant
		if variant == 0 && e.opts.HBMSize == 0 {
			variant = segment.VariantHostSdma
		}
		e.hostSeg = segment.New(segment.Options{
			Variant: variant, RankID: e.opts.RankID, RankCount: e.opts.RankCount,
			PerRankSize: e.opts.DRAMSize, Page: cfg.Align.HostPage, BusKey: e.opts.ID, DeviceID: e.opts.DeviceID,
		})
	}

	if e.opts.AllowedOps&^tag.OpSDMA == 0 {
		e.transport = transport.NewNullManager()
	} else {
		e.transport = transport.NewManager(e.opts.ID)
	}
	if err := e.transport.OpenDevice(transport.OpenOptions{
		RankID: e.opts.RankID, RankCount: e.opts.RankCount, NIC: e.opts.TransportURL,
	}); err != nil {
		return cmn.ErrDriver(op, err)
	}

	e.tags = tag.New(e.opts.SelfTag)
	for _, p := range e.opts.TagPolicies {
		e.tags.SetPair(p.SrcTag, p.DstTag, p.Mask)
	}

	scratchSz := uint64(cfg.Scratch.HBMSize)
	var sdmaOp, deviceOp, hostOp dataop.Operator
	if e.opts.AllowedOps&tag.OpSDMA != 0 {
		sdmaOp = dataop.NewSDMA(e.transport, scratchSz, cfg.Align.DevicePage)
	}
	if e.opts.AllowedOps&tag.OpDeviceRDMA != 0 {
		deviceOp = dataop.NewDeviceRDMA(e.transport, e.opts.RankID, scratchSz, cfg.Align.DevicePage)
	}
	if e.opts.AllowedOps&tag.OpHostRDMA != 0 {
		hostOp = dataop.NewHostRDMA(e.transport, e.opts.RankID, uint64(cfg.Scratch.DRAMSize), cfg.Align.HostPage)
	}
	e.compose = dataop.NewComposeDataOp(e.tags, e.opts.TransScene, sdmaOp, deviceOp, hostOp)
	if err := e.compose.Initialize(); err != nil {
		return cmn.ErrDriver(op, err)
	}

	e.state = StateInitialized
	nlog.Infof("entity %s: initialized rank=%d/%d", e.opts.ID, e.opts.RankID, e.opts.RankCount)
	return nil
}

func aligned(size, page uint64) bool {
	if page == 0 {
		return true
	}
	return size%page == 0
}

// ReserveMemorySpace reserves both configured segments and returns the
// canonical reserved pointer: the host base if a host segment exists,
// otherwise the device base.
func (e *MemEntity) ReserveMemorySpace() (uint64, error) {
	const op = "MemEntity.ReserveMemorySpace"
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireState(op, StateInitialized); err != nil {
		return 0, err
	}

	if e.deviceSeg != nil {
		if err := e.deviceSeg.Reserve(); err != nil {
			return 0, cmn.ErrMallocFailed(op, err)
		}
	}
	if e.hostSeg != nil {
		if err := e.hostSeg.Reserve(); err != nil {
			if e.deviceSeg != nil {
				e.deviceSeg.UnReserve()
			}
			return 0, cmn.ErrMallocFailed(op, err)
		}
	}
	e.state = StateReserved

	if e.hostSeg != nil {
		return e.hostSeg.Base(e.opts.RankID), nil
	}
	return e.deviceSeg.Base(e.opts.RankID), nil
}

// AllocLocalMemory allocates size bytes in the tier useHBM selects (HBM
// when true, DRAM otherwise), registers the allocation's backing with the
// transport, and returns the new slice by value (ConvertToId packs it).
func (e *MemEntity) AllocLocalMemory(size uint64, useHBM bool) (slice.Slice, error) {
	const op = "MemEntity.AllocLocalMemory"
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateReserved && e.state != StateAllocated {
		return slice.Slice{}, cmn.NewErrf(cmn.KindInvalidParam, op, "expected state reserved/allocated, got %s", e.state)
	}

	seg := e.hostSeg
	flags := transport.AccessDRAM
	if useHBM {
		seg = e.deviceSeg
		flags = transport.AccessHBM
	}
	if seg == nil {
		return slice.Slice{}, cmn.ErrInvalidParam(op, nil)
	}
	sl, err := seg.Allocate(size)
	if err != nil {
		return slice.Slice{}, err
	}
	// Registers the whole per-rank sub-window (not just this slice) at its
	// base address so the transport's byte offsets line up with
	// Segment.LocalBacking(); re-registering on a later slice is an
	// idempotent overwrite of the same (addr, backing) pair.
	if _, err := e.transport.RegisterMemoryRegion(seg.Base(e.opts.RankID), seg.LocalBacking(), flags); err != nil {
		seg.ReleaseSlice(sl.ConvertToId())
		return slice.Slice{}, cmn.ErrDriver(op, err)
	}
	e.state = StateAllocated
	return *sl, nil
}

// teardownLocked best-effort releases everything Initialize may have
// started, called under e.mu when Initialize fails partway (§4.7 failure
// semantics: "cleans up anything it started").
func (e *MemEntity) teardownLocked() {
	if e.compose != nil {
		e.compose.UnInitialize()
		e.compose = nil
	}
	if e.deviceSeg != nil {
		e.deviceSeg.UnReserve()
		e.deviceSeg = nil
	}
	if e.hostSeg != nil {
		e.hostSeg.UnReserve()
		e.hostSeg = nil
	}
	e.transport = nil
	e.tags = nil
	e.state = StateUninitialized
}

// ExportSlice builds the entity envelope for one slice: its raw
// ExchangeDescriptor bytes placed in the device or host slot depending on
// which segment owns it, plus this entity's NIC string and transport key.
func (e *MemEntity) ExportSlice(sl slice.Slice, fromHBM bool) ([]byte, error) {
	const op = "MemEntity.ExportExchangeInfo"
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateAllocated && e.state != StateExported {
		return nil, cmn.NewErrf(cmn.KindInvalidParam, op, "expected state allocated/exported, got %s", e.state)
	}

	seg := e.hostSeg
	if fromHBM {
		seg = e.deviceSeg
	}
	if seg == nil {
		return nil, cmn.ErrInvalidParam(op, nil)
	}
	raw, err := seg.Export(&sl)
	if err != nil {
		return nil, err
	}
	env := &Envelope{OwnerRankID: uint32(e.opts.RankID), NIC: e.opts.TransportURL}
	if fromHBM {
		env.DeviceDesc = raw
	} else {
		env.HostDesc = raw
	}
	if key, ok := e.transport.QueryMemoryKey(seg.Base(e.opts.RankID)); ok {
		env.TransportKey = key
	}
	out, err := env.Encode()
	if err != nil {
		return nil, err
	}
	e.state = StateExported
	return out, nil
}

// ExportEntity builds the entity-wide envelope used for the initial peer
// announcement before any user slice has been allocated. It carries only
// this entity's owner rank id and NIC string: no slice descriptors and no
// transport key.
func (e *MemEntity) ExportEntity() ([]byte, error) {
	const op = "MemEntity.ExportExchangeInfo"
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state < StateReserved {
		return nil, cmn.NewErrf(cmn.KindInvalidParam, op, "expected state >= reserved, got %s", e.state)
	}
	env := &Envelope{OwnerRankID: uint32(e.opts.RankID), NIC: e.opts.TransportURL}
	return env.Encode()
}

// ImportExchangeInfo splits each peer envelope into its device part, host
// part, and transport extra, feeding the slice descriptors to the
// matching segment's Import and recording the peer's transport key.
func (e *MemEntity) ImportExchangeInfo(envelopes [][]byte) error {
	const op = "MemEntity.ImportExchangeInfo"
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateExported && e.state != StateImporting {
		return cmn.NewErrf(cmn.KindInvalidParam, op, "expected state exported/importing, got %s", e.state)
	}

	var deviceDescs, hostDescs, fresh [][]byte
	for _, raw := range envelopes {
		if e.seenEnvelopes.Lookup(raw) {
			continue
		}
		env, err := DecodeEnvelope(raw)
		if err != nil {
			return err
		}
		if len(env.DeviceDesc) > 0 {
			deviceDescs = append(deviceDescs, env.DeviceDesc)
		}
		if len(env.HostDesc) > 0 {
			hostDescs = append(hostDescs, env.HostDesc)
		}
		if len(env.TransportKey) > 0 {
			e.importedKeys[int(env.OwnerRankID)] = append([]byte(nil), env.TransportKey...)
		}
		fresh = append(fresh, raw)
	}
	if e.deviceSeg != nil && len(deviceDescs) > 0 {
		if err := e.deviceSeg.Import(deviceDescs); err != nil {
			return err
		}
	}
	if e.hostSeg != nil && len(hostDescs) > 0 {
		if err := e.hostSeg.Import(hostDescs); err != nil {
			return err
		}
	}
	for _, raw := range fresh {
		e.seenEnvelopes.InsertUnique(raw)
	}
	e.state = StateImporting
	return nil
}

// ImportEntityExchangeInfo reads each peer's NIC and rank id out of the
// envelope set, pushes the collected transport keys into
// TransportManager.Prepare, and Connects on the first call (thereafter
// UpdateRankOptions refreshes the peer set, per §4.7).
func (e *MemEntity) ImportEntityExchangeInfo(envelopes [][]byte) error {
	const op = "MemEntity.ImportEntityExchangeInfo"
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateImporting && e.state != StateConnected {
		return cmn.NewErrf(cmn.KindInvalidParam, op, "expected state importing/connected, got %s", e.state)
	}

	peers := make(map[int]transport.PeerInfo, len(envelopes))
	for _, raw := range envelopes {
		env, err := DecodeEnvelope(raw)
		if err != nil {
			return err
		}
		pi := transport.PeerInfo{NIC: env.NIC, MemKeys: make(map[uint64]transport.Key)}
		if len(env.TransportKey) > 0 {
			pi.MemKeys[0] = env.TransportKey
		}
		peers[int(env.OwnerRankID)] = pi
	}
	if err := e.transport.Prepare(peers); err != nil {
		return cmn.ErrTransport(op, err)
	}

	if !e.connectedOnce {
		if err := e.transport.Connect(); err != nil {
			return cmn.ErrTransport(op, err)
		}
		e.connectedOnce = true
	} else if err := e.transport.UpdateRankOptions(peers); err != nil {
		return cmn.ErrTransport(op, err)
	}
	e.state = StateConnected
	return nil
}

// Mmap installs queued imports on both segments.
func (e *MemEntity) Mmap() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deviceSeg != nil {
		if err := e.deviceSeg.Mmap(); err != nil {
			return err
		}
	}
	if e.hostSeg != nil {
		if err := e.hostSeg.Mmap(); err != nil {
			return err
		}
	}
	e.state = StateOperating
	return nil
}

// Unmap tears down installed imports on both segments.
func (e *MemEntity) Unmap() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deviceSeg != nil {
		e.deviceSeg.Unmap()
	}
	if e.hostSeg != nil {
		e.hostSeg.Unmap()
	}
}

// RemoveImported forwards to both segments, dropping ranks' mappings.
func (e *MemEntity) RemoveImported(ranks []int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deviceSeg != nil {
		e.deviceSeg.RemoveImported(ranks)
	}
	if e.hostSeg != nil {
		e.hostSeg.RemoveImported(ranks)
	}
}

// CopyData derives the src/dst rank ids from whichever segment owns each
// address and dispatches through ComposeDataOp (§4.7).
func (e *MemEntity) CopyData(srcVA, dstVA, size uint64, srcHBM, dstHBM bool, peerTag string) error {
	const op = "MemEntity.CopyData"
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateOperating && e.state != StateConnected {
		return cmn.NewErrf(cmn.KindInvalidParam, op, "expected state operating/connected, got %s", e.state)
	}

	srcSeg, dstSeg := e.hostSeg, e.hostSeg
	if srcHBM {
		srcSeg = e.deviceSeg
	}
	if dstHBM {
		dstSeg = e.deviceSeg
	}
	if srcSeg == nil || dstSeg == nil {
		return cmn.ErrInvalidParam(op, nil)
	}
	srcRank := srcSeg.GetRankIdByAddr(srcVA, size)
	dstRank := dstSeg.GetRankIdByAddr(dstVA, size)

	p := dataop.CopyParams{
		Src:  dataop.Endpoint{Seg: srcSeg, RankID: srcRank, Addr: srcVA},
		Dst:  dataop.Endpoint{Seg: dstSeg, RankID: dstRank, Addr: dstVA},
		Size: size,
	}
	return e.compose.DataCopy(e.opts.SelfTag, peerTag, p)
}

// Leave moves the entity to Leaving, unmaps both segments, and tears
// everything back down to Uninitialized so the MemEntity can be
// re-Initialized (the original's "leave/rejoin" lifecycle).
func (e *MemEntity) Leave(quiesce time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = StateLeaving
	if e.deviceSeg != nil {
		e.deviceSeg.Unmap()
	}
	if e.hostSeg != nil {
		e.hostSeg.Unmap()
	}
	if quiesce > 0 {
		time.Sleep(quiesce)
	}
	e.teardownLocked()
	e.connectedOnce = false
	e.importedKeys = make(map[int]transport.Key)
	e.seenEnvelopes = cuckoo.NewFilter(seenEnvelopeCapacity)
}

// UnInitialize is Leave with no quiesce delay.
func (e *MemEntity) UnInitialize() { e.Leave(0) }
