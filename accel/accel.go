// Package accel is the facade over the accelerator runtime, standing in
// for the original's dl_acl_api.cpp/dl_hcom_api.cpp dlopen wrappers.
// Design Notes §9: "Re-architect as a once-initialized function-pointer
// table behind a small facade; make every call go through the facade. No
// other component speaks directly to the underlying native library."
//
// There is no real accelerator hardware available to this module, so
// Runtime's only implementation is Simulated, a software memcpy-based
// stand-in; the facade boundary is what matters — every caller in
// memfab/dataop goes through the Runtime interface, never touching the
// simulated implementation's internals directly, exactly as a real ACL
// binding would be swapped in behind the same seam.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package accel

import (
	"sync"

	"github.com/ascend/memfabric-hybrid/cmn"
)

// Runtime is the function-pointer table a real ACL/driver dlopen would
// populate: device memcpy, VMM address reservation, and GVM key open.
type Runtime interface {
	// MemcpyD2D performs a local-device-to-local-device copy, used both for
	// direct G2G staging and for host<->device scratch bridging.
	MemcpyD2D(dst, src []byte, length uint64) error
	// VMMReserve reserves size bytes of device VA at a driver-preferred base.
	VMMReserve(size uint64) (base uint64, err error)
	// GVMOpen "opens" a peer's GVM key, granting local addressability;
	// returns true if the key is recognized.
	GVMOpen(key string) bool
}

type simulated struct {
	mu       sync.Mutex
	nextBase uint64
}

// NewSimulated returns the in-process software Runtime used when no real
// accelerator is attached (the default for this module, and for all
// tests).
func NewSimulated() Runtime { return &simulated{nextBase: 0x700000000000} }

func (s *simulated) MemcpyD2D(dst, src []byte, length uint64) error {
	const op = "accel.MemcpyD2D"
	if uint64(len(dst)) < length || uint64(len(src)) < length {
		return cmn.ErrInvalidParam(op, nil)
	}
	copy(dst[:length], src[:length])
	return nil
}

func (s *simulated) VMMReserve(size uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	base := s.nextBase
	s.nextBase += size
	return base, nil
}

func (s *simulated) GVMOpen(key string) bool { return key != "" }

// facade is the process-wide singleton every dataop implementation calls
// through, matching the "no other component speaks directly to the
// underlying native library" rule.
var facade Runtime = NewSimulated()

// Set overrides the process-wide Runtime; used by tests and by a future
// real-ACL build to swap in the hardware-backed implementation.
func Set(r Runtime) { facade = r }

// Get returns the process-wide Runtime facade.
func Get() Runtime { return facade }
