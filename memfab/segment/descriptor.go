package segment

import (
	"encoding/binary"

	"github.com/ascend/memfabric-hybrid/cmn"
)

// Magics per spec.md §6. The DRAM slice reuses the legacy-IPC HBM magic
// value. DecodeDescriptor checks the magic against the one expected for the
// decoded variant byte; the tier byte is carried but not checked on decode.
const (
	MagicHbmLegacyIPC uint64 = 0xAABB1234FFFFEEEE
	MagicHbmVMM       uint64 = 0xAABB1234FFFFEEEF
	MagicDRAMSlice    uint64 = 0xAABB1234FFFFEEEE

	DescriptorVersion uint16 = 1

	materialLen = 256
	// wireSize is the fixed width of one encoded ExchangeDescriptor: magic(8)
	// + version(2) + ownerRankID(4) + tier(1) + variant(1) + offset(8) +
	// size(8) + sliceIndex(2) + deviceID(4) + materialLen-field(2) + material(256).
	wireSize = 8 + 2 + 4 + 1 + 1 + 8 + 8 + 2 + 4 + 2 + materialLen
)

// ExchangeDescriptor is the wire-safe description of one slice (§3).
type ExchangeDescriptor struct {
	Magic       uint64
	Version     uint16
	OwnerRankID uint32
	Tier        uint8
	Variant     Variant
	Offset      uint64 // offset within the owner's sub-window
	Size        uint64
	SliceIndex  uint16
	DeviceID    uint32 // sdid/serverId/podId/deviceId
	Material    []byte // IPC name, VMM share-handle, memory key, or GVM key
}

func magicFor(v Variant) uint64 {
	switch v {
	case VariantHbmVmm:
		return MagicHbmVMM
	case VariantHbmIpc:
		return MagicHbmLegacyIPC
	default:
		return MagicDRAMSlice
	}
}

// Encode serializes the descriptor as a fixed-width little-endian record
// (§6: "All fields little-endian"). The layout is hand-rolled with
// encoding/binary rather than a generic codec (msgp, gob) because the wire
// format must match the literal fixed-offset byte layout the spec defines,
// byte for byte, independent of Go struct tags or schema evolution rules.
func (d *ExchangeDescriptor) Encode() []byte {
	buf := make([]byte, wireSize)
	o := 0
	binary.LittleEndian.PutUint64(buf[o:], d.Magic)
	o += 8
	binary.LittleEndian.PutUint16(buf[o:], d.Version)
	o += 2
	binary.LittleEndian.PutUint32(buf[o:], d.OwnerRankID)
	o += 4
	buf[o] = d.Tier
	o++
	buf[o] = uint8(d.Variant)
	o++
	binary.LittleEndian.PutUint64(buf[o:], d.Offset)
	o += 8
	binary.LittleEndian.PutUint64(buf[o:], d.Size)
	o += 8
	binary.LittleEndian.PutUint16(buf[o:], d.SliceIndex)
	o += 2
	binary.LittleEndian.PutUint32(buf[o:], d.DeviceID)
	o += 4
	ml := len(d.Material)
	if ml > materialLen {
		ml = materialLen
	}
	binary.LittleEndian.PutUint16(buf[o:], uint16(ml))
	o += 2
	copy(buf[o:o+materialLen], d.Material[:ml])
	return buf
}

// DecodeDescriptor parses a fixed-width record produced by Encode, validating the
// magic against the expected one for the decoded variant.
func DecodeDescriptor(buf []byte) (*ExchangeDescriptor, error) {
	const op = "Segment.DecodeDescriptor"
	if len(buf) != wireSize {
		return nil, cmn.ErrInvalidParam(op, nil)
	}
	d := &ExchangeDescriptor{}
	o := 0
	d.Magic = binary.LittleEndian.Uint64(buf[o:])
	o += 8
	d.Version = binary.LittleEndian.Uint16(buf[o:])
	o += 2
	d.OwnerRankID = binary.LittleEndian.Uint32(buf[o:])
	o += 4
	d.Tier = buf[o]
	o++
	d.Variant = Variant(buf[o])
	o++
	d.Offset = binary.LittleEndian.Uint64(buf[o:])
	o += 8
	d.Size = binary.LittleEndian.Uint64(buf[o:])
	o += 8
	d.SliceIndex = binary.LittleEndian.Uint16(buf[o:])
	o += 2
	d.DeviceID = binary.LittleEndian.Uint32(buf[o:])
	o += 4
	ml := binary.LittleEndian.Uint16(buf[o:])
	o += 2
	if int(ml) > materialLen {
		return nil, cmn.ErrInvalidParam(op, nil)
	}
	d.Material = append([]byte(nil), buf[o:o+int(ml)]...)

	if d.Magic != magicFor(d.Variant) {
		return nil, cmn.ErrInvalidParam(op, nil)
	}
	return d, nil
}
