// Package slice implements MemSlice: the handle describing one allocation
// inside a segment, grounded on hybm_mem_slice.h (40-bit magic, 16-bit
// index, tier and page-table-kind bitfields packed around a virtual
// address and size).
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package slice

import (
	"sync"

	"github.com/OneOfOne/xxhash"
)

type Tier uint8

const (
	TierHostDRAM Tier = iota
	TierDeviceHBM
)

type PageTableKind uint8

const (
	PageTableSVM PageTableKind = iota // accelerator-runtime SVM page table
	PageTableHYM                      // fabric's own (HyBM) page table
)

// ID is the opaque 64-bit handle callers carry: 40-bit magic | 16-bit index
// | 4-bit tier | 2-bit page-table-kind, matching the original bitfield
// layout of hybm_mem_slice_t.
type ID uint64

const (
	magicBits = 40
	indexBits = 16
	tierBits  = 4
	ptBits    = 2

	magicMask = (uint64(1) << magicBits) - 1
	indexMask = (uint64(1) << indexBits) - 1
	tierMask  = (uint64(1) << tierBits) - 1
	ptMask    = (uint64(1) << ptBits) - 1
)

// Slice is a value object: identity, VA, size, tier, page-table kind, plus
// the magic that lets ValidateId reject a handle from a different,
// possibly-reused, allocation.
type Slice struct {
	Index         uint16
	Magic         uint64 // low 40 bits significant
	Tier          Tier
	PageTableKind PageTableKind
	VA            uint64
	Size          uint64
}

// registry tracks currently-live slices by index so ValidateId can reject
// handles for slices that have since been released (invariant 3).
type registry struct {
	mu sync.RWMutex
	m  map[uint16]*Slice
}

func newRegistry() *registry { return &registry{m: make(map[uint16]*Slice)} }

func (r *registry) put(s *Slice)    { r.mu.Lock(); r.m[s.Index] = s; r.mu.Unlock() }
func (r *registry) remove(idx uint16) {
	r.mu.Lock()
	delete(r.m, idx)
	r.mu.Unlock()
}
func (r *registry) get(idx uint16) (*Slice, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.m[idx]
	return s, ok
}

// Table is a per-segment slice table: it owns the registry, the 16-bit
// index counter, and the magic derivation.
type Table struct {
	reg     *registry
	counter uint16
}

func NewTable() *Table { return &Table{reg: newRegistry()} }

// New allocates the next slice index, derives its magic from (index, VA,
// size) via xxhash (folded to 40 bits) rather than a raw heap pointer cast
// (Go has no stable pointer-to-int identity across a moving GC), and
// registers it as live.
func (t *Table) New(tier Tier, pt PageTableKind, va, size uint64) *Slice {
	idx := t.counter
	t.counter++
	s := &Slice{
		Index:         idx,
		Tier:          tier,
		PageTableKind: pt,
		VA:            va,
		Size:          size,
	}
	s.Magic = deriveMagic(idx, va, size)
	t.reg.put(s)
	return s
}

// Release removes a slice from the live set; subsequent ValidateId calls
// for its id fail.
func (t *Table) Release(idx uint16) { t.reg.remove(idx) }

// ValidateId recovers the slice for id's index and checks that its magic
// matches a currently-live slice with that index (invariant 3).
func (t *Table) ValidateId(id ID) (*Slice, bool) {
	idx := IndexOf(id)
	s, ok := t.reg.get(idx)
	if !ok {
		return nil, false
	}
	if (uint64(id) & magicMask) != (s.Magic & magicMask) {
		return nil, false
	}
	return s, true
}

func deriveMagic(index uint16, va, size uint64) uint64 {
	h := xxhash.New64()
	var buf [18]byte
	buf[0] = byte(index)
	buf[1] = byte(index >> 8)
	putUint64(buf[2:10], va)
	putUint64(buf[10:18], size)
	_, _ = h.Write(buf[:])
	return h.Sum64() & magicMask
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// ConvertToId packs a Slice into its opaque wire handle.
func (s *Slice) ConvertToId() ID {
	v := s.Magic & magicMask
	v |= (uint64(s.Index) & indexMask) << magicBits
	v |= (uint64(s.Tier) & tierMask) << (magicBits + indexBits)
	v |= (uint64(s.PageTableKind) & ptMask) << (magicBits + indexBits + tierBits)
	return ID(v)
}

// IndexOf extracts the 16-bit slice index from an opaque handle without
// needing the owning Table, mirroring the original's static GetIndexFrom.
func IndexOf(id ID) uint16 {
	return uint16((uint64(id) >> magicBits) & indexMask)
}

// FlipMagicBit returns a copy of id with bit `n` of the magic field flipped,
// used by property tests to assert ValidateId correctly rejects corruption.
func FlipMagicBit(id ID, n uint) ID {
	if n >= magicBits {
		n = n % magicBits
	}
	return ID(uint64(id) ^ (uint64(1) << n))
}
