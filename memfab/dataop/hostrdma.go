package dataop

import (
	"sync"

	"github.com/ascend/memfabric-hybrid/cmn"
	"github.com/ascend/memfabric-hybrid/cmn/atomic"
	"github.com/ascend/memfabric-hybrid/cmn/cos"
	"github.com/ascend/memfabric-hybrid/memfab/rangepool"
	"github.com/ascend/memfabric-hybrid/memfab/tag"
	"github.com/ascend/memfabric-hybrid/transport"
)

// HostRDMA is the host-DRAM analog of DeviceRDMA (§4.4.3): it moves bytes
// through the one-sided transport using a pinned host-memory scratch
// region rather than an HBM one, and is the fallback ComposeDataOp reaches
// for when an entity's tag pair doesn't permit device RDMA (e.g. a
// connection-backed DRAM segment with no device side at all).
type HostRDMA struct {
	tm        transport.Manager
	rankID    int
	scratchSz uint64
	page      uint64

	mu      sync.Mutex
	scratch *rangepool.Pool
	backing []byte

	seq  atomic.Uint64
	init atomic.Bool
}

func NewHostRDMA(tm transport.Manager, rankID int, scratchSize, page uint64) *HostRDMA {
	return &HostRDMA{tm: tm, rankID: rankID, scratchSz: scratchSize, page: page}
}

func (h *HostRDMA) Kind() tag.OpType { return tag.OpHostRDMA }

func (h *HostRDMA) Initialize() error {
	const op = "HostRDMA.Initialize"
	h.mu.Lock()
	defer h.mu.Unlock()
	h.backing = make([]byte, h.scratchSz)
	h.scratch = rangepool.New(h.scratchSz, h.page)
	if h.tm != nil {
		if _, err := h.tm.RegisterMemoryRegion(0, h.backing, transport.AccessDRAM); err != nil {
			return cmn.ErrDriver(op, err)
		}
	}
	h.init.Store(true)
	return nil
}

func (h *HostRDMA) UnInitialize() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.scratch = nil
	h.backing = nil
	h.init.Store(false)
}

func (h *HostRDMA) DataCopy(p CopyParams) error {
	const op = "HostRDMA.DataCopy"
	if !h.init.Load() {
		return cmn.ErrNotInitialized(op)
	}
	if h.tm == nil {
		return cmn.ErrNotSupported(op, nil)
	}

	height := p.Height
	if height < 1 {
		height = 1
	}
	for row := 0; row < height; row++ {
		so := p.Src.Addr + uint64(row)*p.RowStride
		do := p.Dst.Addr + uint64(row)*p.RowStride
		if err := h.copyOne(p.Src, p.Dst, so, do, p.Size); err != nil {
			copiesTotal.WithLabelValues("host-rdma", "error").Inc()
			return err
		}
	}
	copiesTotal.WithLabelValues("host-rdma", "ok").Inc()
	bytesMovedTotal.WithLabelValues("host-rdma").Add(float64(p.Size) * float64(height))
	return nil
}

func (h *HostRDMA) copyOne(src, dst Endpoint, srcAddr, dstAddr, size uint64) error {
	const op = "HostRDMA.DataCopy"
	switch {
	case dst.RankID == h.rankID:
		off := dstAddr - dst.Seg.Base(dst.RankID)
		local := dst.Seg.LocalBacking()
		if off+size > uint64(len(local)) {
			return cmn.ErrInvalidParam(op, nil)
		}
		if err := h.tm.ReadRemote(src.RankID, local[off:off+size], srcAddr, size); err != nil {
			return cmn.ErrTransport(op, err)
		}
		return nil
	case src.RankID == h.rankID:
		off := srcAddr - src.Seg.Base(src.RankID)
		local := src.Seg.LocalBacking()
		if off+size > uint64(len(local)) {
			return cmn.ErrInvalidParam(op, nil)
		}
		if err := h.tm.WriteRemote(dst.RankID, local[off:off+size], dstAddr, size); err != nil {
			return cmn.ErrTransport(op, err)
		}
		return nil
	default:
		a, err := h.stage(size)
		if err != nil {
			return err
		}
		defer func() {
			scratchInUse.WithLabelValues("host-rdma").Sub(float64(a.Size()))
			a.Release()
		}()
		staged := h.backing[a.Offset() : a.Offset()+size]
		if err := h.tm.ReadRemote(src.RankID, staged, srcAddr, size); err != nil {
			return cmn.ErrTransport(op, err)
		}
		if err := h.tm.WriteRemote(dst.RankID, staged, dstAddr, size); err != nil {
			return cmn.ErrTransport(op, err)
		}
		return nil
	}
}

func (h *HostRDMA) stage(size uint64) (*rangepool.Allocation, error) {
	const op = "HostRDMA.stage"
	a, err := h.scratch.Allocate(cos.AlignUp(size, h.page))
	if err != nil {
		return nil, cmn.ErrMallocFailed(op, err)
	}
	scratchInUse.WithLabelValues("host-rdma").Add(float64(a.Size()))
	return a, nil
}

func (h *HostRDMA) BatchDataCopy(batch []CopyParams) error {
	for _, p := range batch {
		if err := h.DataCopy(p); err != nil {
			return err
		}
	}
	return nil
}

func (h *HostRDMA) DataCopyAsync(p CopyParams) (AsyncID, error) {
	id := AsyncID{Op: tag.OpHostRDMA, Seq: h.seq.Add(1)}
	return id, h.DataCopy(p)
}

func (h *HostRDMA) Wait(id AsyncID) error {
	if id.Op != tag.OpHostRDMA {
		return cmn.ErrNotSupported("HostRDMA.Wait", nil)
	}
	return nil
}
