package transport

import (
	"testing"
	"time"
)

func TestManager_RegisterReadWriteRoundTrip(t *testing.T) {
	m0 := NewManager("cluster-a")
	m0.OpenDevice(OpenOptions{RankID: 0})
	m1 := NewManager("cluster-a")
	m1.OpenDevice(OpenOptions{RankID: 1})

	backing := make([]byte, 4096)
	if _, err := m0.RegisterMemoryRegion(0, backing, AccessDRAM); err != nil {
		t.Fatal(err)
	}
	if err := m0.Connect(); err != nil {
		t.Fatal(err)
	}
	if err := m1.Connect(); err != nil {
		t.Fatal(err)
	}

	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = 0x42
	}
	if err := m1.WriteRemote(0, payload, 0, 4096); err != nil {
		t.Fatalf("write remote: %v", err)
	}
	for i, b := range backing {
		if b != 0x42 {
			t.Fatalf("byte %d not written: %x", i, b)
		}
	}

	out := make([]byte, 4096)
	if err := m1.ReadRemote(0, out, 0, 4096); err != nil {
		t.Fatalf("read remote: %v", err)
	}
	for i, b := range out {
		if b != 0x42 {
			t.Fatalf("byte %d mismatch on readback: %x", i, b)
		}
	}
}

func TestManager_WaitForConnectedTimeout(t *testing.T) {
	m := NewManager("cluster-b")
	if err := m.WaitForConnected(10 * time.Millisecond); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestManager_InjectFailure(t *testing.T) {
	m := NewManager("cluster-c")
	m.OpenDevice(OpenOptions{RankID: 0})
	m.Connect()
	backing := make([]byte, 64)
	m.RegisterMemoryRegion(0, backing, AccessDRAM)

	m.InjectFailure("ReadRemote", 1)
	buf := make([]byte, 64)
	if err := m.ReadRemote(0, buf, 0, 64); err == nil {
		t.Fatal("expected injected failure")
	}
	if err := m.ReadRemote(0, buf, 0, 64); err != nil {
		t.Fatalf("expected success on second call, got %v", err)
	}
}
