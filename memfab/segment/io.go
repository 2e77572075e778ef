package segment

import "github.com/ascend/memfabric-hybrid/cmn"

// ReadAt copies length bytes starting at absolute VA va out of this
// segment's GVA window. It succeeds for the local rank's own sub-window,
// and for any peer sub-window this variant direct-maps (legacy IPC, VMM,
// GVM-backed SDMA). For connection-backed DRAM's remote sub-windows there
// is no local byte path — callers must use the transport's one-sided
// ReadRemote instead, and ReadAt reports NotSupported.
func (s *Segment) ReadAt(va, length uint64) ([]byte, error) {
	const op = "Segment.ReadAt"
	if !s.MemoryInRange(va, length) {
		return nil, cmn.ErrInvalidParam(op, nil)
	}
	rank := s.GetRankIdByAddr(va, length)
	peer, ok := s.ResolvePeer(rank)
	if !ok {
		return nil, cmn.ErrNotSupported(op, nil)
	}
	off := va - s.Base(rank)
	if off+length > uint64(len(peer.localBacking)) {
		return nil, cmn.ErrInvalidParam(op, nil)
	}
	out := make([]byte, length)
	copy(out, peer.localBacking[off:off+length])
	return out, nil
}

// WriteAt is the write-side counterpart of ReadAt.
func (s *Segment) WriteAt(va uint64, data []byte) error {
	const op = "Segment.WriteAt"
	length := uint64(len(data))
	if !s.MemoryInRange(va, length) {
		return cmn.ErrInvalidParam(op, nil)
	}
	rank := s.GetRankIdByAddr(va, length)
	peer, ok := s.ResolvePeer(rank)
	if !ok {
		return cmn.ErrNotSupported(op, nil)
	}
	off := va - s.Base(rank)
	if off+length > uint64(len(peer.localBacking)) {
		return cmn.ErrInvalidParam(op, nil)
	}
	copy(peer.localBacking[off:off+length], data)
	return nil
}
