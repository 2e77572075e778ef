package entity

import (
	"bytes"
	"os"
	"testing"

	"github.com/ascend/memfabric-hybrid/cmn"
	"github.com/ascend/memfabric-hybrid/memfab/segment"
	"github.com/ascend/memfabric-hybrid/memfab/tag"
)

func TestMain(m *testing.M) {
	cfg := cmn.DefaultConfig()
	cfg.Align.HostPage = 4096
	cfg.Align.DevicePage = 4096
	cfg.Scratch.HBMSize = 1 << 20
	cfg.Scratch.DRAMSize = 1 << 20
	cmn.GCO.Put(cfg)
	os.Exit(m.Run())
}

func TestInitialize_RejectsBadOptions(t *testing.T) {
	e := New(Options{ID: t.Name(), RankID: 0, RankCount: 0, DRAMSize: 4096, AllowedOps: tag.OpSDMA})
	if err := e.Initialize(); err == nil {
		t.Fatal("expected InvalidParam for rankCount=0")
	}
	if e.State() != StateUninitialized {
		t.Fatalf("expected state to remain uninitialized, got %s", e.State())
	}
}

func TestInitialize_RejectsNoTierSizes(t *testing.T) {
	e := New(Options{ID: t.Name(), RankID: 0, RankCount: 1, AllowedOps: tag.OpSDMA})
	if err := e.Initialize(); err == nil {
		t.Fatal("expected InvalidParam when no tier size is set")
	}
}

func TestInitialize_RejectsNoAllowedOps(t *testing.T) {
	e := New(Options{ID: t.Name(), RankID: 0, RankCount: 1, DRAMSize: 4096})
	if err := e.Initialize(); err == nil {
		t.Fatal("expected InvalidParam when AllowedOps is empty")
	}
}

func twoEntities(t *testing.T, size uint64) (*MemEntity, *MemEntity) {
	t.Helper()
	id := t.Name()
	mk := func(rank int) *MemEntity {
		e := New(Options{
			ID: id, RankID: rank, RankCount: 2,
			DRAMSize: size, DRAMVariant: segment.VariantHostSdma,
			AllowedOps: tag.OpSDMA, SelfTag: "default",
		})
		if err := e.Initialize(); err != nil {
			t.Fatalf("rank %d initialize: %v", rank, err)
		}
		return e
	}
	e0, e1 := mk(0), mk(1)
	if _, err := e0.ReserveMemorySpace(); err != nil {
		t.Fatalf("rank0 reserve: %v", err)
	}
	if _, err := e1.ReserveMemorySpace(); err != nil {
		t.Fatalf("rank1 reserve: %v", err)
	}
	t.Cleanup(func() { e0.UnInitialize(); e1.UnInitialize() })
	return e0, e1
}

// S5-style: two entities exchange descriptors, connect, and copy data
// from rank 0's slice into rank 1's slice through ComposeDataOp.
func TestTwoEntity_ExportImportConnectCopy(t *testing.T) {
	const size = 4096
	e0, e1 := twoEntities(t, size)

	sl0, err := e0.AllocLocalMemory(size, false)
	if err != nil {
		t.Fatalf("rank0 alloc: %v", err)
	}
	sl1, err := e1.AllocLocalMemory(size, false)
	if err != nil {
		t.Fatalf("rank1 alloc: %v", err)
	}

	env0, err := e0.ExportSlice(sl0, false)
	if err != nil {
		t.Fatalf("rank0 export: %v", err)
	}
	env1, err := e1.ExportSlice(sl1, false)
	if err != nil {
		t.Fatalf("rank1 export: %v", err)
	}
	all := [][]byte{env0, env1}

	if err := e0.ImportExchangeInfo(all); err != nil {
		t.Fatalf("rank0 import: %v", err)
	}
	if err := e1.ImportExchangeInfo(all); err != nil {
		t.Fatalf("rank1 import: %v", err)
	}
	if err := e0.ImportEntityExchangeInfo(all); err != nil {
		t.Fatalf("rank0 entity import: %v", err)
	}
	if err := e1.ImportEntityExchangeInfo(all); err != nil {
		t.Fatalf("rank1 entity import: %v", err)
	}
	if err := e0.Mmap(); err != nil {
		t.Fatalf("rank0 mmap: %v", err)
	}
	if err := e1.Mmap(); err != nil {
		t.Fatalf("rank1 mmap: %v", err)
	}

	pattern := bytes.Repeat([]byte{0x5A}, size)
	if err := e0.hostSeg.WriteAt(sl0.VA, pattern); err != nil {
		t.Fatalf("rank0 local write: %v", err)
	}

	if err := e1.CopyData(sl0.VA, sl1.VA, size, false, false, "default"); err != nil {
		t.Fatalf("copy data: %v", err)
	}

	got, err := e1.hostSeg.ReadAt(sl1.VA, size)
	if err != nil {
		t.Fatalf("rank1 read back: %v", err)
	}
	if !bytes.Equal(got, pattern) {
		t.Fatal("read-back pattern mismatch after entity CopyData")
	}
}

func TestEnvelope_RoundTrip(t *testing.T) {
	env := &Envelope{
		OwnerRankID:  3,
		NIC:          "eth0",
		DeviceDesc:   []byte("device-bytes"),
		HostDesc:     []byte("host-bytes"),
		TransportKey: []byte("key-material"),
	}
	buf, err := env.Encode()
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := DecodeEnvelope(buf)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.OwnerRankID != 3 || decoded.NIC != "eth0" {
		t.Fatalf("unexpected decode: %+v", decoded)
	}
	if !bytes.Equal(decoded.DeviceDesc, env.DeviceDesc) || !bytes.Equal(decoded.HostDesc, env.HostDesc) {
		t.Fatal("descriptor bytes mismatch after round trip")
	}
}

func TestEnvelope_RejectsBadMagic(t *testing.T) {
	if _, err := DecodeEnvelope(make([]byte, 32)); err == nil {
		t.Fatal("expected InvalidParam for zeroed (bad-magic) buffer")
	}
}
