package slice

import "testing"

func TestConvertValidateRoundTrip(t *testing.T) {
	tbl := NewTable()
	s := tbl.New(TierDeviceHBM, PageTableHYM, 0x7f0000000000, 2<<20)
	id := s.ConvertToId()

	got, ok := tbl.ValidateId(id)
	if !ok {
		t.Fatal("expected ValidateId to succeed for live slice")
	}
	if got != s {
		t.Fatalf("expected same slice back, got %+v want %+v", got, s)
	}
}

func TestValidateId_RejectsFlippedMagicBit(t *testing.T) {
	tbl := NewTable()
	s := tbl.New(TierHostDRAM, PageTableSVM, 0x600000000000, 4096)
	id := s.ConvertToId()

	for n := uint(0); n < 40; n++ {
		flipped := FlipMagicBit(id, n)
		if _, ok := tbl.ValidateId(flipped); ok {
			t.Fatalf("expected ValidateId to fail with magic bit %d flipped", n)
		}
	}
}

func TestValidateId_RejectsReleasedSlice(t *testing.T) {
	tbl := NewTable()
	s := tbl.New(TierHostDRAM, PageTableSVM, 0x600000000000, 4096)
	id := s.ConvertToId()
	tbl.Release(s.Index)

	if _, ok := tbl.ValidateId(id); ok {
		t.Fatal("expected ValidateId to fail after release")
	}
}

func TestIndexUniquePerSegmentLifetime(t *testing.T) {
	tbl := NewTable()
	seen := make(map[uint16]bool)
	for i := 0; i < 1000; i++ {
		s := tbl.New(TierHostDRAM, PageTableSVM, uint64(i)*4096, 4096)
		if seen[s.Index] {
			t.Fatalf("duplicate index %d", s.Index)
		}
		seen[s.Index] = true
	}
}
