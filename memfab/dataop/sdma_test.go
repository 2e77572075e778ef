package dataop

import (
	"bytes"
	"testing"

	"github.com/ascend/memfabric-hybrid/memfab/segment"
)

func newSDMAFixture(t *testing.T) *SDMA {
	t.Helper()
	s := NewSDMA(nil, 1<<20, 4096)
	if err := s.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	t.Cleanup(s.UnInitialize)
	return s
}

func oneRankSegment(t *testing.T, perRank uint64) *segment.Segment {
	t.Helper()
	s := segment.New(segment.Options{
		Variant: segment.VariantHostSdma, RankID: 0, RankCount: 1,
		PerRankSize: perRank, Page: 4096, BusKey: t.Name(),
	})
	if err := s.Reserve(); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	t.Cleanup(s.UnReserve)
	return s
}

// Direct local-rank copy: both endpoints resolve through ResolvePeer
// (trivially, to themselves), exercising §8 property 6's "same-rank" case.
func TestSDMA_DirectCopyRoundTrip(t *testing.T) {
	s := oneRankSegment(t, 1<<20)
	sdma := newSDMAFixture(t)

	src, err := s.Allocate(4096)
	if err != nil {
		t.Fatal(err)
	}
	dst, err := s.Allocate(4096)
	if err != nil {
		t.Fatal(err)
	}
	pattern := bytes.Repeat([]byte{0x7E}, 4096)
	if err := s.WriteAt(src.VA, pattern); err != nil {
		t.Fatal(err)
	}

	p := CopyParams{
		Src:  Endpoint{Seg: s, RankID: 0, Addr: src.VA},
		Dst:  Endpoint{Seg: s, RankID: 0, Addr: dst.VA},
		Size: 4096,
	}
	if err := sdma.DataCopy(p); err != nil {
		t.Fatalf("data copy: %v", err)
	}
	got, err := s.ReadAt(dst.VA, 4096)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, pattern) {
		t.Fatal("read-back mismatch after SDMA copy")
	}
}

// A peer that isn't direct-mapped reports NotSupported so ComposeDataOp
// can fall through to an RDMA operator.
func TestSDMA_UnresolvedPeerIsNotSupported(t *testing.T) {
	sConn := segment.New(segment.Options{
		Variant: segment.VariantHostConn, RankID: 0, RankCount: 2,
		PerRankSize: 1 << 20, Page: 4096, BusKey: t.Name(),
	})
	if err := sConn.Reserve(); err != nil {
		t.Fatal(err)
	}
	defer sConn.UnReserve()

	sdma := newSDMAFixture(t)
	p := CopyParams{
		Src:  Endpoint{Seg: sConn, RankID: 0, Addr: 0},
		Dst:  Endpoint{Seg: sConn, RankID: 1, Addr: sConn.Base(1)}, // rank 1 never imported
		Size: 64,
	}
	if err := sdma.DataCopy(p); err == nil {
		t.Fatal("expected NotSupported for an unresolved peer")
	}
}

// S4 — BatchDataCopy compacts a run of contiguous (src,dst,size) triples
// into a single merged descriptor before issuing the copy.
func TestSDMA_BatchCompactsContiguousRun(t *testing.T) {
	e0 := Endpoint{RankID: 0, Addr: 0}
	e1 := Endpoint{RankID: 0, Addr: 1000}
	batch := []CopyParams{
		{Src: e0, Dst: e1, Size: 100},
		{Src: Endpoint{RankID: 0, Addr: 100}, Dst: Endpoint{RankID: 0, Addr: 1100}, Size: 100},
		{Src: Endpoint{RankID: 0, Addr: 200}, Dst: Endpoint{RankID: 0, Addr: 1200}, Size: 100},
	}
	merged := compactRuns(batch)
	if len(merged) != 1 {
		t.Fatalf("expected a single merged descriptor, got %d", len(merged))
	}
	if merged[0].Size != 300 {
		t.Fatalf("expected merged size 300, got %d", merged[0].Size)
	}
}

// A gap breaks the run: two separate descriptors survive.
func TestSDMA_BatchDoesNotMergeNonContiguous(t *testing.T) {
	batch := []CopyParams{
		{Src: Endpoint{RankID: 0, Addr: 0}, Dst: Endpoint{RankID: 0, Addr: 1000}, Size: 100},
		{Src: Endpoint{RankID: 0, Addr: 500}, Dst: Endpoint{RankID: 0, Addr: 2000}, Size: 100},
	}
	merged := compactRuns(batch)
	if len(merged) != 2 {
		t.Fatalf("expected two descriptors for a non-contiguous batch, got %d", len(merged))
	}
}
