package dataop

import (
	"sync"
	"testing"

	"github.com/ascend/memfabric-hybrid/memfab/tag"
)

// fakeOperator is a test double letting cases script exactly how many of
// the next DataCopy calls fail, and counting how many times each method
// was invoked (for asserting fallback call counts, §8 properties 7/8).
type fakeOperator struct {
	kind tag.OpType

	mu      sync.Mutex
	failN   int
	calls   int
	lastErr error
}

func newFakeOperator(kind tag.OpType) *fakeOperator { return &fakeOperator{kind: kind} }

func (f *fakeOperator) failNext(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failN = n
	f.lastErr = err
}

func (f *fakeOperator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeOperator) Kind() tag.OpType      { return f.kind }
func (f *fakeOperator) Initialize() error     { return nil }
func (f *fakeOperator) UnInitialize()         {}
func (f *fakeOperator) DataCopy(p CopyParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failN > 0 {
		f.failN--
		return f.lastErr
	}
	return nil
}
func (f *fakeOperator) BatchDataCopy(batch []CopyParams) error {
	for _, p := range batch {
		if err := f.DataCopy(p); err != nil {
			return err
		}
	}
	return nil
}
func (f *fakeOperator) DataCopyAsync(p CopyParams) (AsyncID, error) {
	return AsyncID{Op: f.kind}, f.DataCopy(p)
}
func (f *fakeOperator) Wait(id AsyncID) error { return nil }

// With all three operators healthy, ComposeDataOp serves the call with the
// first-priority (SDMA) candidate and never falls back to the others.
func TestComposeDataOp_UsesFirstPriorityWhenHealthy(t *testing.T) {
	sdma := newFakeOperator(tag.OpSDMA)
	drd := newFakeOperator(tag.OpDeviceRDMA)
	hrd := newFakeOperator(tag.OpHostRDMA)
	c := NewComposeDataOp(nil, false, sdma, drd, hrd)

	if err := c.DataCopy("a", "b", CopyParams{Size: 64}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sdma.callCount() != 1 {
		t.Fatalf("expected SDMA to be tried first, calls=%d", sdma.callCount())
	}
	if drd.callCount() != 0 || hrd.callCount() != 0 {
		t.Fatal("expected no fallback when SDMA succeeds")
	}
}

// §8 property 7: SDMA forced to fail falls through to DeviceRDMA, and the
// overall call still succeeds.
func TestComposeDataOp_FallsThroughOnFailure(t *testing.T) {
	sdma := newFakeOperator(tag.OpSDMA)
	drd := newFakeOperator(tag.OpDeviceRDMA)
	hrd := newFakeOperator(tag.OpHostRDMA)
	sdma.failNext(1, errBoom)
	c := NewComposeDataOp(nil, false, sdma, drd, hrd)

	if err := c.DataCopy("a", "b", CopyParams{Size: 64}); err != nil {
		t.Fatalf("expected overall success via fallback, got %v", err)
	}
	if sdma.callCount() != 1 || drd.callCount() != 1 {
		t.Fatalf("expected one try each of sdma/device-rdma, got sdma=%d device=%d", sdma.callCount(), drd.callCount())
	}
	if hrd.callCount() != 0 {
		t.Fatal("expected host-rdma never tried once device-rdma succeeded")
	}
}

// §8 property 8: every operator fails -> overall failure, returning the
// last operator's error, not an OK.
func TestComposeDataOp_AllFailReturnsLastError(t *testing.T) {
	sdma := newFakeOperator(tag.OpSDMA)
	drd := newFakeOperator(tag.OpDeviceRDMA)
	hrd := newFakeOperator(tag.OpHostRDMA)
	sdma.failNext(1, errBoom)
	drd.failNext(1, errBoom)
	hrd.failNext(1, errFinal)
	c := NewComposeDataOp(nil, false, sdma, drd, hrd)

	err := c.DataCopy("a", "b", CopyParams{Size: 64})
	if err == nil {
		t.Fatal("expected failure when every operator fails")
	}
	if err != errFinal {
		t.Fatalf("expected the last operator's error, got %v", err)
	}
	if sdma.callCount() != 1 || drd.callCount() != 1 || hrd.callCount() != 1 {
		t.Fatal("expected exactly one try per operator")
	}
}

// Trans-scene restricts candidates to SDMA/DeviceRDMA even when host-RDMA
// is configured and tag policy would otherwise allow it.
func TestComposeDataOp_TransSceneExcludesHostRDMA(t *testing.T) {
	sdma := newFakeOperator(tag.OpSDMA)
	drd := newFakeOperator(tag.OpDeviceRDMA)
	hrd := newFakeOperator(tag.OpHostRDMA)
	sdma.failNext(1, errBoom)
	drd.failNext(1, errBoom)
	c := NewComposeDataOp(nil, true, sdma, drd, hrd)

	err := c.DataCopy("a", "b", CopyParams{Size: 64})
	if err == nil {
		t.Fatal("expected failure: host-rdma must not be a trans-scene candidate")
	}
	if hrd.callCount() != 0 {
		t.Fatal("expected host-rdma never invoked in trans scene")
	}
}

// A tag-pair policy that forbids every configured operator yields
// InvalidParam rather than trying anything.
func TestComposeDataOp_TagPolicyForbidsEverything(t *testing.T) {
	sdma := newFakeOperator(tag.OpSDMA)
	tags := tag.New("gpu0")
	tags.SetPair("gpu0", "gpu1", 0)
	c := NewComposeDataOp(tags, false, sdma, nil, nil)

	if err := c.DataCopy("gpu0", "gpu1", CopyParams{Size: 64}); err == nil {
		t.Fatal("expected InvalidParam when tag policy forbids every operator")
	}
	if sdma.callCount() != 0 {
		t.Fatal("expected sdma never invoked")
	}
}

type boomError string

func (b boomError) Error() string { return string(b) }

const (
	errBoom  = boomError("simulated operator failure")
	errFinal = boomError("final simulated operator failure")
)
