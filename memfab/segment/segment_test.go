package segment

import (
	"bytes"
	"testing"

	"github.com/ascend/memfabric-hybrid/memfab/slice"
)

func twoRankHost(t *testing.T, perRank uint64, variant Variant) (*Segment, *Segment) {
	t.Helper()
	busKey := t.Name()
	r0 := New(Options{Variant: variant, RankID: 0, RankCount: 2, PerRankSize: perRank, Page: 4096, BusKey: busKey})
	r1 := New(Options{Variant: variant, RankID: 1, RankCount: 2, PerRankSize: perRank, Page: 4096, BusKey: busKey})
	if err := r0.Reserve(); err != nil {
		t.Fatalf("r0 reserve: %v", err)
	}
	if err := r1.Reserve(); err != nil {
		t.Fatalf("r1 reserve: %v", err)
	}
	return r0, r1
}

// S1 — two ranks, single host segment, SDMA-style direct-mapped variant.
func TestS1_TwoRanksWriteReadBack(t *testing.T) {
	const sz = 2 << 20 // 2 MiB
	r0, r1 := twoRankHost(t, sz, VariantHostSdma)
	defer r0.UnReserve()
	defer r1.UnReserve()

	sl, err := r0.Allocate(sz)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	pattern := bytes.Repeat([]byte{0xA5}, int(sz))
	if err := r0.WriteAt(sl.VA, pattern); err != nil {
		t.Fatalf("local write: %v", err)
	}

	desc, err := r0.Export(sl)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	localDesc, err := r1.Export(mustAllocLocal(t, r1, sz)) // rank 1's own descriptor must be present in the set
	if err != nil {
		t.Fatal(err)
	}
	if err := r1.Import([][]byte{desc, localDesc}); err != nil {
		t.Fatalf("import: %v", err)
	}
	if err := r1.Mmap(); err != nil {
		t.Fatalf("mmap: %v", err)
	}

	got, err := r1.ReadAt(sl.VA, sz)
	if err != nil {
		t.Fatalf("remote read: %v", err)
	}
	if !bytes.Equal(got, pattern) {
		t.Fatal("read-back pattern mismatch")
	}
}

func mustAllocLocal(t *testing.T, s *Segment, size uint64) *slice.Slice {
	t.Helper()
	sl, err := s.Allocate(size)
	if err != nil {
		t.Fatalf("allocate own: %v", err)
	}
	return sl
}

// S2 — one rank, alloc alignment and capacity overflow.
func TestS2_AllocAlignmentAndCapacity(t *testing.T) {
	const perRank = 4 << 20 // 4 MiB
	const page = 2 << 20    // 2 MiB
	s := New(Options{Variant: VariantHostConn, RankID: 0, RankCount: 1, PerRankSize: perRank, Page: page, BusKey: t.Name()})
	if err := s.Reserve(); err != nil {
		t.Fatal(err)
	}
	defer s.UnReserve()

	if _, err := s.Allocate(3 << 20); err == nil {
		t.Fatal("expected InvalidParam for misaligned 3 MiB allocation")
	}
	if _, err := s.Allocate(2 << 20); err != nil {
		t.Fatalf("first 2 MiB alloc: %v", err)
	}
	if _, err := s.Allocate(2 << 20); err != nil {
		t.Fatalf("second 2 MiB alloc: %v", err)
	}
	if _, err := s.Allocate(2 << 20); err == nil {
		t.Fatal("expected InvalidParam: third 2 MiB alloc exceeds perRankSize")
	}
}

// §8.4 — Export is idempotent.
func TestExportIdempotent(t *testing.T) {
	s := New(Options{Variant: VariantHbmIpc, RankID: 0, RankCount: 1, PerRankSize: 1 << 20, Page: 4096, BusKey: t.Name()})
	if err := s.Reserve(); err != nil {
		t.Fatal(err)
	}
	defer s.UnReserve()
	sl, _ := s.Allocate(4096)
	d1, _ := s.Export(sl)
	d2, _ := s.Export(sl)
	if !bytes.Equal(d1, d2) {
		t.Fatal("expected identical bytes across repeated Export")
	}
}

// Import; Mmap; Unmap; Import; Mmap leaves the slot mapped again.
func TestImportMmapUnmapMmap(t *testing.T) {
	r0, r1 := twoRankHost(t, 1<<20, VariantHbmVmm)
	defer r0.UnReserve()
	defer r1.UnReserve()

	sl, _ := r0.Allocate(4096)
	desc, _ := r0.Export(sl)
	localSl, _ := r1.Allocate(4096)
	localDesc, _ := r1.Export(localSl)

	if err := r1.Import([][]byte{desc, localDesc}); err != nil {
		t.Fatal(err)
	}
	if err := r1.Mmap(); err != nil {
		t.Fatal(err)
	}
	if !r1.IsMapped(0, sl.Index) {
		t.Fatal("expected mapped after first Mmap")
	}
	r1.Unmap()
	if r1.IsMapped(0, sl.Index) {
		t.Fatal("expected unmapped after Unmap")
	}
	// Re-import after Unmap must succeed (lifecycle: "a subsequent Mmap after Unmap is legal").
	if err := r1.Import([][]byte{desc, localDesc}); err != nil {
		t.Fatal(err)
	}
	if err := r1.Mmap(); err != nil {
		t.Fatal(err)
	}
	if !r1.IsMapped(0, sl.Index) {
		t.Fatal("expected mapped after second Mmap")
	}
}

// S3 — exchange round-trip + magic corruption must fail Import.
func TestS3_ExchangeRoundTripAndCorruption(t *testing.T) {
	r0, r1 := twoRankHost(t, 1<<20, VariantHostSdma)
	defer r0.UnReserve()
	defer r1.UnReserve()

	sl, _ := r0.Allocate(4096)
	encoded, _ := r0.Export(sl)

	decoded, err := DecodeDescriptor(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	reencoded := decoded.Encode()
	if !bytes.Equal(encoded, reencoded) {
		t.Fatal("expected byte-identical re-encode")
	}

	localSl, _ := r1.Allocate(4096)
	localDesc, _ := r1.Export(localSl)

	corrupt := append([]byte(nil), encoded...)
	corrupt[0] ^= 0xFF // flip a magic byte
	if err := r1.Import([][]byte{corrupt, localDesc}); err == nil {
		t.Fatal("expected Import to fail on corrupted magic")
	}
	if r1.IsMapped(0, sl.Index) {
		t.Fatal("expected no side effects from failed Import")
	}
}

// §8.2 — GetRankIdByAddr returns the owning rank for any address within
// its sub-window.
func TestGetRankIdByAddr(t *testing.T) {
	s := New(Options{Variant: VariantHostConn, RankID: 0, RankCount: 4, PerRankSize: 1 << 20, Page: 4096, BusKey: t.Name()})
	for i := 0; i < 4; i++ {
		base := uint64(i) << 20
		if got := s.GetRankIdByAddr(base, 4096); got != i {
			t.Fatalf("rank %d: got %d", i, got)
		}
		if got := s.GetRankIdByAddr(base+(1<<20)-4096, 4096); got != i {
			t.Fatalf("rank %d (tail): got %d", i, got)
		}
	}
}
