package security

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/ascend/memfabric-hybrid/cmn"
)

func TestLoadMaterial_RejectsSymlink(t *testing.T) {
	dir := t.TempDir()
	real := filepath.Join(dir, "real.pem")
	if err := os.WriteFile(real, []byte("cert-bytes"), 0o600); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "link.pem")
	if err := os.Symlink(real, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	if _, err := LoadMaterial(link); !cmn.IsKind(err, cmn.KindInvalidParam) {
		t.Fatalf("expected InvalidParam for symlinked material, got %v", err)
	}
}

func TestLoadMaterial_RejectsOversize(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "big.pem")
	if err := os.WriteFile(p, bytes.Repeat([]byte{0x41}, MaxMaterialSize+1), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadMaterial(p); !cmn.IsKind(err, cmn.KindInvalidParam) {
		t.Fatalf("expected InvalidParam for oversize material, got %v", err)
	}
}

func TestLoadMaterial_RejectsDirectory(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadMaterial(dir); !cmn.IsKind(err, cmn.KindInvalidParam) {
		t.Fatalf("expected InvalidParam for a directory, got %v", err)
	}
}

func TestLoadMaterial_ReadsRegularFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "ok.pem")
	want := []byte("-----BEGIN CERTIFICATE-----\n...\n-----END CERTIFICATE-----\n")
	if err := os.WriteFile(p, want, 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := LoadMaterial(p)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Fatal("content mismatch")
	}
}

func TestLoad_RejectsMissingKeyMaterial(t *testing.T) {
	if _, err := Load(Options{}); !cmn.IsKind(err, cmn.KindInvalidParam) {
		t.Fatalf("expected InvalidParam when no cert material is configured, got %v", err)
	}
}
