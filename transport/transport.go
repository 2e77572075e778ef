// Package transport is the façade the core consumes for one-sided memory
// operations (§4.6): opening NICs, registering memory regions, preparing
// peer keys, and issuing Read/Write against a remote rank's registered
// memory. The real RDMA/TCP backend is an external collaborator per
// spec.md §1 ("narrow contract"); this package defines only the interface
// and two concrete kinds: Null (SDMA-only deployments) and the software
// Manager that stands in for the real NIC-backed implementation, reaching
// peer memory through a process-wide registry (see bus.go) the way a real
// fabric would reach it through hardware.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"time"

	"github.com/ascend/memfabric-hybrid/cmn"
)

type AccessFlags uint8

const (
	AccessHBM AccessFlags = 1 << iota
	AccessDRAM
)

type OpenOptions struct {
	RankID    int
	RankCount int
	NIC       string
	Protocol  string
}

// Key is the opaque memory-registration key type (§3: TransportKey).
type Key []byte

type PeerInfo struct {
	NIC     string
	MemKeys map[uint64]Key // addr -> key
}

// Manager is the TransportManager contract of §4.6.
type Manager interface {
	OpenDevice(opts OpenOptions) error
	RegisterMemoryRegion(addr uint64, backing []byte, flags AccessFlags) (Key, error)
	QueryMemoryKey(addr uint64) (Key, bool)
	UnregisterMemoryRegion(addr uint64) error

	Prepare(peers map[int]PeerInfo) error
	Connect() error
	AsyncConnect() error
	WaitForConnected(timeout time.Duration) error
	UpdateRankOptions(param any) error

	ReadRemote(rank int, localBuf []byte, remoteAddr, size uint64) error
	WriteRemote(rank int, localBuf []byte, remoteAddr, size uint64) error
	BatchReadRemote(ops []RemoteOp) error
	BatchWriteRemote(ops []RemoteOp) error

	Name() string
}

// RemoteOp is one element of a batched Read/WriteRemote call.
type RemoteOp struct {
	Rank       int
	LocalBuf   []byte
	RemoteAddr uint64
	Size       uint64
}

// errNotConnected builds the error returned by one-sided ops issued before Connect.
func errNotConnected(op string) error { return cmn.ErrTransport(op, nil) }
