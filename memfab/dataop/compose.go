package dataop

import (
	"github.com/ascend/memfabric-hybrid/cmn"
	"github.com/ascend/memfabric-hybrid/cmn/nlog"
	"github.com/ascend/memfabric-hybrid/memfab/tag"
)

// ComposeDataOp is the façade of §4.5: it holds whichever operators an
// entity was configured with and picks among them per call, consulting
// the entity's tag policy and falling through in fixed priority order
// (tag.Priority) when an earlier operator's DataCopy fails.
type ComposeDataOp struct {
	ops   map[tag.OpType]Operator
	tags  *tag.Info
	trans bool // "trans-scene": only SDMA/DeviceRDMA are eligible (§4.5 step 1)
}

// NewComposeDataOp builds the façade from whichever operators are
// non-nil; a nil operator is simply never a dispatch candidate.
func NewComposeDataOp(tags *tag.Info, transScene bool, sdma, deviceRDMA, hostRDMA Operator) *ComposeDataOp {
	ops := make(map[tag.OpType]Operator, 3)
	if sdma != nil {
		ops[tag.OpSDMA] = sdma
	}
	if deviceRDMA != nil {
		ops[tag.OpDeviceRDMA] = deviceRDMA
	}
	if hostRDMA != nil {
		ops[tag.OpHostRDMA] = hostRDMA
	}
	return &ComposeDataOp{ops: ops, tags: tags, trans: transScene}
}

// candidates computes the prioritized, present, tag-allowed operator list
// for one copy direction (§4.5 step 2): trans-scene restricts the
// candidate set to SDMA and DeviceRDMA regardless of tag policy, since
// host-RDMA has no meaning between two device-resident ("trans") buffers.
func (c *ComposeDataOp) candidates(srcTag, dstTag string) []Operator {
	var allowed tag.OpType
	if c.trans {
		allowed = tag.OpSDMA | tag.OpDeviceRDMA
	} else {
		allowed = tag.OpAll
	}
	if c.tags != nil {
		allowed &= c.tags.Allowed(srcTag, dstTag)
	}

	out := make([]Operator, 0, len(tag.Priority))
	for _, kind := range tag.Priority {
		if allowed&kind == 0 {
			continue
		}
		if op, ok := c.ops[kind]; ok {
			out = append(out, op)
		}
	}
	return out
}

// DataCopy tries each candidate operator in priority order, stopping at
// the first success. If the candidate set is empty (trans-scene with no
// SDMA/DeviceRDMA configured, or a tag policy that forbids every present
// operator), it returns InvalidParam per §4.5 step 1's "no compatible
// path" case. If every candidate fails, it returns the last operator's
// error (§8 property 8).
func (c *ComposeDataOp) DataCopy(srcTag, dstTag string, p CopyParams) error {
	const op = "ComposeDataOp.DataCopy"
	candidates := c.candidates(srcTag, dstTag)
	if len(candidates) == 0 {
		return cmn.ErrInvalidParam(op, nil)
	}

	var lastErr error
	for _, candidate := range candidates {
		if err := candidate.DataCopy(p); err != nil {
			nlog.Warningf("%s: operator %s failed, trying next: %v", op, candidate.Kind(), err)
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

// BatchDataCopy applies the same fallback policy across the whole batch as
// one unit: a candidate operator must succeed on every element or the next
// candidate is tried from the start (an operator is not assumed able to
// make partial progress across a batch it fails partway through).
func (c *ComposeDataOp) BatchDataCopy(srcTag, dstTag string, batch []CopyParams) error {
	const op = "ComposeDataOp.BatchDataCopy"
	candidates := c.candidates(srcTag, dstTag)
	if len(candidates) == 0 {
		return cmn.ErrInvalidParam(op, nil)
	}

	var lastErr error
	for _, candidate := range candidates {
		if err := candidate.BatchDataCopy(batch); err != nil {
			nlog.Warningf("%s: operator %s failed, trying next: %v", op, candidate.Kind(), err)
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

// DataCopyAsync dispatches to the first candidate only: async completion
// is inherently tied to one operator's stream, so there is no fallback
// once the call has been submitted (a caller who wants fallback semantics
// should use the synchronous DataCopy).
func (c *ComposeDataOp) DataCopyAsync(srcTag, dstTag string, p CopyParams) (AsyncID, error) {
	const op = "ComposeDataOp.DataCopyAsync"
	candidates := c.candidates(srcTag, dstTag)
	if len(candidates) == 0 {
		return AsyncID{}, cmn.ErrInvalidParam(op, nil)
	}
	return candidates[0].DataCopyAsync(p)
}

// Wait dispatches to whichever configured operator owns id.Op.
func (c *ComposeDataOp) Wait(id AsyncID) error {
	const op = "ComposeDataOp.Wait"
	if o, ok := c.ops[id.Op]; ok {
		return o.Wait(id)
	}
	return cmn.ErrNotSupported(op, nil)
}

// Initialize brings up every configured operator; it stops and returns the
// first failure, leaving already-initialized operators up (the caller's
// UnInitialize/entity teardown path tears them back down).
func (c *ComposeDataOp) Initialize() error {
	for _, kind := range tag.Priority {
		o, ok := c.ops[kind]
		if !ok {
			continue
		}
		if err := o.Initialize(); err != nil {
			return err
		}
	}
	return nil
}

// UnInitialize tears down every configured operator, best-effort.
func (c *ComposeDataOp) UnInitialize() {
	for _, o := range c.ops {
		o.UnInitialize()
	}
}
