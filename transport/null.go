package transport

import "time"

// NullManager is the "default" manager of §4.6: it returns success for
// every call and is used when only on-node SDMA is permitted, so the
// entity's compose operator still has a TransportManager to hand its
// other operators even though none of them will ever call it.
type NullManager struct{}

func NewNullManager() *NullManager { return &NullManager{} }

func (n *NullManager) Name() string { return "null" }

func (n *NullManager) OpenDevice(OpenOptions) error                              { return nil }
func (n *NullManager) RegisterMemoryRegion(uint64, []byte, AccessFlags) (Key, error) { return nil, nil }
func (n *NullManager) QueryMemoryKey(uint64) (Key, bool)                         { return nil, false }
func (n *NullManager) UnregisterMemoryRegion(uint64) error                       { return nil }
func (n *NullManager) Prepare(map[int]PeerInfo) error                           { return nil }
func (n *NullManager) Connect() error                                           { return nil }
func (n *NullManager) AsyncConnect() error                                      { return nil }
func (n *NullManager) WaitForConnected(time.Duration) error                     { return nil }
func (n *NullManager) UpdateRankOptions(any) error                              { return nil }
func (n *NullManager) ReadRemote(int, []byte, uint64, uint64) error             { return nil }
func (n *NullManager) WriteRemote(int, []byte, uint64, uint64) error            { return nil }
func (n *NullManager) BatchReadRemote([]RemoteOp) error                        { return nil }
func (n *NullManager) BatchWriteRemote([]RemoteOp) error                       { return nil }
