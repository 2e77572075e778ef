package dataop

import (
	"sync"

	"github.com/ascend/memfabric-hybrid/accel"
	"github.com/ascend/memfabric-hybrid/cmn"
	"github.com/ascend/memfabric-hybrid/cmn/atomic"
	"github.com/ascend/memfabric-hybrid/cmn/cos"
	"github.com/ascend/memfabric-hybrid/cmn/nlog"
	"github.com/ascend/memfabric-hybrid/memfab/rangepool"
	"github.com/ascend/memfabric-hybrid/memfab/tag"
	"github.com/ascend/memfabric-hybrid/transport"
)

// SDMA is the local-device-driven operator (§4.4.1): it only moves bytes
// between endpoints this process can directly address (on-node IPC, VMM,
// or GVM-mapped peers resolved through segment.Segment.ResolvePeer); its
// copies never go through the transport, which it uses only to register
// its scratch region in Initialize. When an endpoint isn't locally addressable,
// DataCopy reports NotSupported so ComposeDataOp falls through to an RDMA
// operator.
type SDMA struct {
	rt        accel.Runtime
	transport transport.Manager
	scratchSz uint64
	page      uint64

	mu          sync.Mutex
	scratch     *rangepool.Pool
	scratchBack []byte
	scratchKey  transport.Key

	stream *accel.Stream
	seq    atomic.Uint64

	init atomic.Bool
}

func NewSDMA(tm transport.Manager, scratchSize, page uint64) *SDMA {
	return &SDMA{rt: accel.Get(), transport: tm, scratchSz: scratchSize, page: page}
}

func (s *SDMA) Kind() tag.OpType { return tag.OpSDMA }

// Initialize allocates the bounded HBM scratch region and registers it
// with the local driver and the transport (for its GVM key), and creates
// this operator's stream (§3 lifecycle: "Initialize (may allocate a
// bounded scratch region...)").
func (s *SDMA) Initialize() error {
	const op = "SDMA.Initialize"
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scratchBack = make([]byte, s.scratchSz)
	s.scratch = rangepool.New(s.scratchSz, s.page)
	if s.transport != nil {
		key, err := s.transport.RegisterMemoryRegion(0, s.scratchBack, transport.AccessHBM)
		if err != nil {
			return cmn.ErrDriver(op, err)
		}
		s.scratchKey = key
	}
	s.stream = accel.NewStream()
	s.init.Store(true)
	return nil
}

func (s *SDMA) UnInitialize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		s.stream.Close()
	}
	s.scratch = nil
	s.scratchBack = nil
	s.init.Store(false)
}

func (s *SDMA) resolve(e Endpoint) ([]byte, uint64, bool) {
	peer, ok := e.Seg.ResolvePeer(e.RankID)
	if !ok {
		return nil, 0, false
	}
	off := e.Addr - peer.Base(e.RankID)
	return peer.LocalBacking(), off, true
}

// DataCopy performs a direct device-to-device copy (§4.4.1): SDMA only
// moves bytes between endpoints this process can directly address, so
// both Src and Dst must resolve through Segment.ResolvePeer; an endpoint
// that doesn't is reported NotSupported so ComposeDataOp falls through to
// an RDMA operator instead. A scratch-pool allocation is carved for the
// duration of the copy purely for accounting (scratchInUse), mirroring
// the original's practice of staging every SDMA transfer through its
// pinned scratch region even when the copy never leaves the device.
func (s *SDMA) DataCopy(p CopyParams) error {
	const op = "SDMA.DataCopy"
	if !s.init.Load() {
		return cmn.ErrNotInitialized(op)
	}
	srcBack, srcOff, ok := s.resolve(p.Src)
	if !ok {
		copiesTotal.WithLabelValues("sdma", "unsupported").Inc()
		return cmn.ErrNotSupported(op, nil)
	}
	dstBack, dstOff, ok := s.resolve(p.Dst)
	if !ok {
		copiesTotal.WithLabelValues("sdma", "unsupported").Inc()
		return cmn.ErrNotSupported(op, nil)
	}

	if a, err := s.scratch.Allocate(cos.AlignUp(p.Size, s.page)); err == nil {
		scratchInUse.WithLabelValues("sdma").Add(float64(a.Size()))
		defer func() {
			scratchInUse.WithLabelValues("sdma").Sub(float64(a.Size()))
			a.Release()
		}()
	}

	height := p.Height
	if height < 1 {
		height = 1
	}
	for row := 0; row < height; row++ {
		so := srcOff + uint64(row)*p.RowStride
		do := dstOff + uint64(row)*p.RowStride
		if so+p.Size > uint64(len(srcBack)) || do+p.Size > uint64(len(dstBack)) {
			copiesTotal.WithLabelValues("sdma", "error").Inc()
			return cmn.ErrInvalidParam(op, nil)
		}
		if err := s.rt.MemcpyD2D(dstBack[do:do+p.Size], srcBack[so:so+p.Size], p.Size); err != nil {
			copiesTotal.WithLabelValues("sdma", "error").Inc()
			return cmn.ErrDriver(op, err)
		}
	}
	// A single stream-synchronize covers every row of a 2D copy (§4.4.1).
	if err := s.stream.Wait(); err != nil {
		copiesTotal.WithLabelValues("sdma", "error").Inc()
		return cmn.ErrDriver(op, err)
	}
	copiesTotal.WithLabelValues("sdma", "ok").Inc()
	bytesMovedTotal.WithLabelValues("sdma").Add(float64(p.Size) * float64(height))
	return nil
}

// BatchDataCopy concatenates contiguous runs into a single descriptor
// (§4.4.1 "Batch"): this implementation detects src+len==nextSrc &&
// dst+len==nextDst between endpoints on the same segment and rank and
// extends the run before issuing one DataCopy per merged run. Whether an
// endpoint is registered is not checked when merging.
func (s *SDMA) BatchDataCopy(batch []CopyParams) error {
	const op = "SDMA.BatchDataCopy"
	if len(batch) == 0 {
		return nil
	}
	merged := compactRuns(batch)
	nlog.Debugf("sdma batch: %d calls compacted into %d descriptor(s)", len(batch), len(merged))
	for _, p := range merged {
		if err := s.DataCopy(p); err != nil {
			return cmn.ErrDriver(op, err)
		}
	}
	return nil
}

// compactRuns implements the batcher's run-length extension: consecutive
// CopyParams whose src/dst addresses are contiguous and whose endpoints
// share the same segment+rank are merged into one larger CopyParams.
func compactRuns(batch []CopyParams) []CopyParams {
	out := make([]CopyParams, 0, len(batch))
	cur := batch[0]
	for i := 1; i < len(batch); i++ {
		next := batch[i]
		sameSrc := cur.Src.Seg == next.Src.Seg && cur.Src.RankID == next.Src.RankID
		sameDst := cur.Dst.Seg == next.Dst.Seg && cur.Dst.RankID == next.Dst.RankID
		contiguous := cur.Src.Addr+cur.Size == next.Src.Addr && cur.Dst.Addr+cur.Size == next.Dst.Addr
		if sameSrc && sameDst && contiguous && cur.Height <= 1 && next.Height <= 1 {
			cur.Size += next.Size
			continue
		}
		out = append(out, cur)
		cur = next
	}
	out = append(out, cur)
	return out
}

func (s *SDMA) DataCopyAsync(p CopyParams) (AsyncID, error) {
	id := AsyncID{Op: tag.OpSDMA, Seq: s.seq.Add(1)}
	s.stream.Submit(func() error { return s.DataCopy(p) })
	return id, nil
}

// Wait synchronizes this operator's stream. Per §4.5, Wait currently only
// targets SDMA since it is the only async operator; the id's Op tag exists
// so a future async RDMA operator can be added without breaking callers.
func (s *SDMA) Wait(id AsyncID) error {
	if id.Op != tag.OpSDMA {
		return cmn.ErrNotSupported("SDMA.Wait", nil)
	}
	return s.stream.Wait()
}
