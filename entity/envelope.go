package entity

import (
	"encoding/binary"

	"github.com/ascend/memfabric-hybrid/cmn"
)

// EntityExportInfoMagic distinguishes an entity-level envelope from a raw
// per-slice ExchangeDescriptor on the wire (§6: "Entity envelope: distinct
// ENTITY_EXPORT_INFO_MAGIC").
const EntityExportInfoMagic uint64 = 0xAABB1234FFFFEEF0

const envelopeVersion uint16 = 1

// maxEnvelope bounds the entity envelope (§6: "envelope carries descLen <=
// sizeof(desc.desc)"). The per-slice record cap of 512 bytes (§6) applies
// to one slice's wire record; the entity envelope concatenates up to two
// of those plus a NIC string and a transport key, so this module sizes
// desc.desc at 1024 bytes to hold a worst-case host+device envelope
// without truncation.
const maxEnvelope = 1024

// Envelope is ExportExchangeInfo's entity-level output: the concatenation
// of the device-slice bytes, the host-slice bytes, and transport extra
// (owner rank id, NIC string, transport key) described in §4.7.
type Envelope struct {
	OwnerRankID  uint32
	NIC          string
	DeviceDesc   []byte // raw segment.ExchangeDescriptor bytes, or nil
	HostDesc     []byte // raw segment.ExchangeDescriptor bytes, or nil
	TransportKey []byte
}

func putBytes(buf []byte, o int, b []byte) int {
	binary.LittleEndian.PutUint16(buf[o:], uint16(len(b)))
	o += 2
	copy(buf[o:o+len(b)], b)
	return o + len(b)
}

func getBytes(buf []byte, o int) ([]byte, int, error) {
	const op = "entity.Envelope.Decode"
	if o+2 > len(buf) {
		return nil, 0, cmn.ErrInvalidParam(op, nil)
	}
	n := int(binary.LittleEndian.Uint16(buf[o:]))
	o += 2
	if o+n > len(buf) {
		return nil, 0, cmn.ErrInvalidParam(op, nil)
	}
	out := append([]byte(nil), buf[o:o+n]...)
	return out, o + n, nil
}

// Encode serializes the envelope: magic, version, owner rank, then
// length-prefixed NIC/device-desc/host-desc/transport-key fields, all
// little-endian per §6.
func (env *Envelope) Encode() ([]byte, error) {
	const op = "entity.Envelope.Encode"
	need := 8 + 2 + 4 + 4*2 + len(env.NIC) + len(env.DeviceDesc) + len(env.HostDesc) + len(env.TransportKey)
	if need > maxEnvelope {
		return nil, cmn.NewErrf(cmn.KindInvalidParam, op, "envelope %d bytes exceeds cap %d", need, maxEnvelope)
	}
	buf := make([]byte, need)
	o := 0
	binary.LittleEndian.PutUint64(buf[o:], EntityExportInfoMagic)
	o += 8
	binary.LittleEndian.PutUint16(buf[o:], envelopeVersion)
	o += 2
	binary.LittleEndian.PutUint32(buf[o:], env.OwnerRankID)
	o += 4
	o = putBytes(buf, o, []byte(env.NIC))
	o = putBytes(buf, o, env.DeviceDesc)
	o = putBytes(buf, o, env.HostDesc)
	o = putBytes(buf, o, env.TransportKey)
	return buf[:o], nil
}

// DecodeEnvelope parses bytes produced by Encode, validating the magic.
func DecodeEnvelope(buf []byte) (*Envelope, error) {
	const op = "entity.Envelope.Decode"
	if len(buf) < 14 {
		return nil, cmn.ErrInvalidParam(op, nil)
	}
	o := 0
	magic := binary.LittleEndian.Uint64(buf[o:])
	o += 8
	if magic != EntityExportInfoMagic {
		return nil, cmn.ErrInvalidParam(op, nil)
	}
	o += 2 // version, not currently branched on
	env := &Envelope{}
	env.OwnerRankID = binary.LittleEndian.Uint32(buf[o:])
	o += 4

	nic, o, err := getBytes(buf, o)
	if err != nil {
		return nil, err
	}
	env.NIC = string(nic)
	env.DeviceDesc, o, err = getBytes(buf, o)
	if err != nil {
		return nil, err
	}
	env.HostDesc, o, err = getBytes(buf, o)
	if err != nil {
		return nil, err
	}
	env.TransportKey, _, err = getBytes(buf, o)
	if err != nil {
		return nil, err
	}
	return env, nil
}
