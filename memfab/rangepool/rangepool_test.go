package rangepool

import (
	"reflect"
	"testing"
)

func TestAllocateRelease_RestoresShape(t *testing.T) {
	p := New(1<<20, 4096)
	before := p.Snapshot()

	a, err := p.Allocate(8192)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if a.Size() != 8192 {
		t.Fatalf("expected aligned size 8192, got %d", a.Size())
	}
	a.Release()

	after := p.Snapshot()
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("free-list shape not restored: before=%v after=%v", before, after)
	}
}

func TestBestFit_SmallestOffsetOnTie(t *testing.T) {
	p := New(3*4096, 4096)
	a1, err := p.Allocate(4096)
	if err != nil {
		t.Fatal(err)
	}
	a2, err := p.Allocate(4096)
	if err != nil {
		t.Fatal(err)
	}
	a3, err := p.Allocate(4096)
	if err != nil {
		t.Fatal(err)
	}
	a1.Release()
	a3.Release()
	// Now free: [0,4096) and [8192,12288) -- two equal-size ranges.
	a4, err := p.Allocate(4096)
	if err != nil {
		t.Fatal(err)
	}
	if a4.Offset() != 0 {
		t.Fatalf("expected smallest offset 0, got %d", a4.Offset())
	}
	a2.Release()
	a4.Release()
}

func TestCanAllocate(t *testing.T) {
	p := New(4096, 4096)
	if !p.CanAllocate(4096) {
		t.Fatal("expected CanAllocate true")
	}
	a, _ := p.Allocate(4096)
	if p.CanAllocate(1) {
		t.Fatal("expected CanAllocate false once exhausted")
	}
	a.Release()
	if !p.CanAllocate(4096) {
		t.Fatal("expected CanAllocate true after release")
	}
}

func TestAllocate_MallocFailedWhenExhausted(t *testing.T) {
	p := New(4096, 4096)
	if _, err := p.Allocate(8192); err == nil {
		t.Fatal("expected MallocFailed error")
	}
}

func TestCoalesce_AdjacentBothSides(t *testing.T) {
	p := New(3*4096, 4096)
	a1, _ := p.Allocate(4096)
	a2, _ := p.Allocate(4096)
	a3, _ := p.Allocate(4096)

	// Release middle, then sides: should fully coalesce back to one range.
	a2.Release()
	a1.Release()
	a3.Release()

	snap := p.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected single coalesced range, got %v", snap)
	}
	if sz, ok := snap[0]; !ok || sz != 3*4096 {
		t.Fatalf("expected full coalesced range, got %v", snap)
	}
}
