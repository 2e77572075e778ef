// Package rangepool implements a bounded, address-ordered and size-ordered
// free-list allocator over a byte window [base, base+size), grounded on
// the original hybm_rbtree_range_pool.h / rbtree_range_pool.h: an
// address-keyed tree plus a size-then-offset-ordered tree, both guarded by
// one spinlock-equivalent mutex.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package rangepool

import (
	"sort"
	"sync"

	"github.com/ascend/memfabric-hybrid/cmn"
	"github.com/ascend/memfabric-hybrid/cmn/cos"
)

// Allocation is the Go analog of the original AllocatedElement: it owns the
// carved range. Release is explicit (Go has no destructors); callers that
// forget to call it leak the range until the pool itself is discarded.
type Allocation struct {
	offset uint64
	size   uint64
	pool   *Pool
}

func (a *Allocation) Offset() uint64 { return a.offset }
func (a *Allocation) Size() uint64   { return a.size }

// Release returns the range to its owning pool. Idempotent: releasing a
// zero-value or already-released Allocation is a no-op.
func (a *Allocation) Release() {
	if a == nil || a.pool == nil {
		return
	}
	a.pool.release(a.offset, a.size)
	a.pool = nil
}

type freeRange struct {
	offset uint64
	size   uint64
}

// Pool is a bounded range allocator over [0, size) of some caller-defined
// address window; callers add `base` themselves when they need an absolute
// address (segments do; scratch pools on raw device memory do too).
type Pool struct {
	mu   sync.Mutex // spinlock in the original; a mutex is the idiomatic Go analog
	size uint64
	page uint64 // alignment granularity, tier-specific

	// addrIdx mirrors the original's std::map<offset, length> (address-ordered).
	addrIdx map[uint64]uint64
	// order mirrors the original's std::set<SpaceRange, RangeSizeFirst>: a
	// slice kept sorted by size, then offset, on every insert, since Go has
	// no ordered-set in the stdlib.
	order []freeRange
}

// New creates a pool covering [0, size) with the given alignment granularity.
func New(size, page uint64) *Pool {
	p := &Pool{
		size:    size,
		page:    page,
		addrIdx: make(map[uint64]uint64),
	}
	if size > 0 {
		p.addrIdx[0] = size
		p.order = []freeRange{{offset: 0, size: size}}
	}
	return p
}

func (p *Pool) alignUp(size uint64) uint64 { return cos.AlignUp(size, p.page) }

// CanAllocate reports whether a free range of at least alignUp(size) exists.
func (p *Pool) CanAllocate(size uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bestFitLocked(p.alignUp(size)) >= 0
}

// bestFitLocked returns the index into p.order of the smallest free range
// that is >= need, or -1. On size ties, the smallest offset wins because
// p.order is kept sorted (size asc, then offset asc).
func (p *Pool) bestFitLocked(need uint64) int {
	idx := sort.Search(len(p.order), func(i int) bool {
		return p.order[i].size >= need
	})
	if idx == len(p.order) {
		return -1
	}
	return idx
}

// Allocate carves the smallest free range >= alignUp(size), preferring the
// lowest offset on ties, and returns an Allocation that owns it.
func (p *Pool) Allocate(size uint64) (*Allocation, error) {
	const op = "RangePool.Allocate"
	need := p.alignUp(size)
	if need == 0 {
		return nil, cmn.ErrInvalidParam(op, nil)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	idx := p.bestFitLocked(need)
	if idx < 0 {
		return nil, cmn.ErrMallocFailed(op, nil)
	}
	fr := p.order[idx]
	p.removeOrderLocked(idx)
	delete(p.addrIdx, fr.offset)

	// Carve from the low end; the residual (if any) stays free.
	if fr.size > need {
		residualOff := fr.offset + need
		residualSize := fr.size - need
		p.addrIdx[residualOff] = residualSize
		p.insertOrderLocked(freeRange{offset: residualOff, size: residualSize})
	}

	return &Allocation{offset: fr.offset, size: need, pool: p}, nil
}

// release coalesces [offset, offset+size) with adjacent free ranges on both
// sides and reinserts the merged range.
func (p *Pool) release(offset, size uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start, length := offset, size

	// Merge with the range immediately to the left, if free.
	for off, sz := range p.addrIdx {
		if off+sz == start {
			start = off
			length += sz
			p.removeFromOrderByRange(off, sz)
			delete(p.addrIdx, off)
			break
		}
	}
	// Merge with the range immediately to the right, if free.
	if rightSize, ok := p.addrIdx[start+length]; ok {
		p.removeFromOrderByRange(start+length, rightSize)
		delete(p.addrIdx, start+length)
		length += rightSize
	}

	p.addrIdx[start] = length
	p.insertOrderLocked(freeRange{offset: start, size: length})
}

func (p *Pool) insertOrderLocked(fr freeRange) {
	idx := sort.Search(len(p.order), func(i int) bool {
		if p.order[i].size != fr.size {
			return p.order[i].size > fr.size
		}
		return p.order[i].offset > fr.offset
	})
	p.order = append(p.order, freeRange{})
	copy(p.order[idx+1:], p.order[idx:])
	p.order[idx] = fr
}

func (p *Pool) removeOrderLocked(idx int) {
	p.order = append(p.order[:idx], p.order[idx+1:]...)
}

func (p *Pool) removeFromOrderByRange(offset, size uint64) {
	for i, fr := range p.order {
		if fr.offset == offset && fr.size == size {
			p.removeOrderLocked(i)
			return
		}
	}
}

// Snapshot returns the free-list shape (offset -> size) for property-test
// comparisons (§8.3: allocate-then-release restores the pre-allocation shape).
func (p *Pool) Snapshot() map[uint64]uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[uint64]uint64, len(p.addrIdx))
	for k, v := range p.addrIdx {
		out[k] = v
	}
	return out
}

func (p *Pool) TotalSize() uint64 { return p.size }
func (p *Pool) Page() uint64      { return p.page }
