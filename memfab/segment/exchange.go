package segment

import (
	"fmt"

	"github.com/ascend/memfabric-hybrid/cmn"
	"github.com/ascend/memfabric-hybrid/cmn/nlog"
	"github.com/ascend/memfabric-hybrid/memfab/slice"
)

// Export builds (or returns the cached) descriptor for sl, recording the
// tier-specific magic, version, owner rank id, offset-within-own-window,
// size, variant, and opaque material. Export idempotence (invariant 5):
// calling Export twice on the same slice returns the same bytes.
func (s *Segment) Export(sl *slice.Slice) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, ok := s.exportCache[sl.Index]; ok {
		return cached, nil
	}

	offsetWithinRank := sl.VA - s.Base(s.opts.RankID)
	d := &ExchangeDescriptor{
		Magic:       magicFor(s.opts.Variant),
		Version:     DescriptorVersion,
		OwnerRankID: uint32(s.opts.RankID),
		Tier:        uint8(s.opts.Variant.Tier()),
		Variant:     s.opts.Variant,
		Offset:      offsetWithinRank,
		Size:        sl.Size,
		SliceIndex:  sl.Index,
		DeviceID:    s.opts.DeviceID,
		Material:    s.material(sl),
	}
	bytes := d.Encode()
	s.exportCache[sl.Index] = bytes
	return bytes, nil
}

// material produces the variant-specific opaque payload (§4.3's backing
// table): an IPC name for legacy-IPC, a share-handle for VMM, a memory key
// for connection-backed DRAM, or a GVM key for SDMA-backed DRAM.
func (s *Segment) material(sl *slice.Slice) []byte {
	switch s.opts.Variant {
	case VariantHbmIpc:
		return []byte(fmt.Sprintf("ipc:%s:rank%d:slice%d", s.opts.BusKey, s.opts.RankID, sl.Index))
	case VariantHbmVmm:
		return []byte(fmt.Sprintf("vmm-share:%s:rank%d:slice%d", s.opts.BusKey, s.opts.RankID, sl.Index))
	case VariantHostSdma:
		return []byte(fmt.Sprintf("gvm-key:%s:rank%d:slice%d", s.opts.BusKey, s.opts.RankID, sl.Index))
	default: // VariantHostConn
		return []byte(fmt.Sprintf("rdma-key:%s:rank%d:slice%d", s.opts.BusKey, s.opts.RankID, sl.Index))
	}
}

func importKey(rankID int, idx uint16) string { return fmt.Sprintf("%d:%d", rankID, idx) }

// Import parses each descriptor, requires the descriptor for the local
// rank to be present (per §4.3), grants the owner peer-enable rights
// (simulated: none needed in-process), and queues non-local descriptors;
// the actual VA mapping happens in Mmap so imports are batched and
// idempotent (invariant 6).
func (s *Segment) Import(descs [][]byte) error {
	const op = "Segment.Import"
	if len(descs) == 0 {
		return cmn.ErrInvalidParam(op, nil)
	}

	haveLocal := false
	parsed := make([]*ExchangeDescriptor, 0, len(descs))
	for _, raw := range descs {
		d, err := DecodeDescriptor(raw)
		if err != nil {
			return cmn.ErrInvalidParam(op, err)
		}
		if int(d.OwnerRankID) == s.opts.RankID {
			haveLocal = true
			continue
		}
		parsed = append(parsed, d)
	}
	if !haveLocal {
		return cmn.ErrInvalidParam(op, fmt.Errorf("missing local rank %d in descriptor set", s.opts.RankID))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range parsed {
		key := importKey(int(d.OwnerRankID), d.SliceIndex)
		if _, already := s.mapped[key]; already {
			continue // re-import of an already-mapped slot is a no-op (invariant 6)
		}
		s.imports[key] = d
	}
	return nil
}

// Mmap installs every queued import whose target slot is not yet mapped.
// For direct-mapped variants it resolves the owner Segment through the
// bus (the in-process stand-in for IPC/VMM/GVM mapping); for
// connection-backed DRAM no local mapping is installed — callers must
// route reads/writes for that rank's sub-window through the transport's
// one-sided ops instead.
func (s *Segment) Mmap() error {
	const op = "Segment.Mmap"
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, d := range s.imports {
		if _, already := s.mapped[key]; already {
			continue
		}
		mp := &mappedPeer{rankID: int(d.OwnerRankID)}
		if s.opts.Variant.directMapped() {
			peer, ok := lookupBus(s.opts.BusKey, int(d.OwnerRankID))
			if !ok {
				return cmn.ErrDriver(op, fmt.Errorf("peer rank %d not reachable on bus %q", d.OwnerRankID, s.opts.BusKey))
			}
			mp.peer = peer
		}
		s.mapped[key] = mp
		delete(s.imports, key)
		nlog.Infof("segment %s: rank %d mapped slot owned by rank %d (slice %d)",
			s.opts.BusKey, s.opts.RankID, d.OwnerRankID, d.SliceIndex)
	}
	return nil
}

// Unmap closes every mapping in the mapped-set. Mmap consumes the queued
// imports it installs, so after Unmap a further Mmap installs nothing until
// the descriptors are passed to Import again.
func (s *Segment) Unmap() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.mapped {
		delete(s.mapped, key)
	}
}

// RemoveImported closes the mapping handles whose owner rank is in ranks
// and erases them from the mapped-set.
func (s *Segment) RemoveImported(ranks []int) {
	want := make(map[int]bool, len(ranks))
	for _, r := range ranks {
		want[r] = true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, mp := range s.mapped {
		if want[mp.rankID] {
			delete(s.mapped, key)
		}
	}
}

// IsMapped reports whether the slot for (ownerRank, sliceIndex) is
// currently installed — used by tests asserting invariant 6.
func (s *Segment) IsMapped(ownerRank int, sliceIndex uint16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.mapped[importKey(ownerRank, sliceIndex)]
	return ok
}

// ResolvePeer returns the direct-mapped backing Segment for ownerRank, if
// this segment's variant grants direct byte access to it (used by the
// SDMA operator's local-memcpy and direct-G2G paths).
func (s *Segment) ResolvePeer(ownerRank int) (*Segment, bool) {
	if ownerRank == s.opts.RankID {
		return s, true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, mp := range s.mapped {
		if mp.rankID == ownerRank && mp.peer != nil {
			return mp.peer, true
		}
	}
	return nil, false
}
