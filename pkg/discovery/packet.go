package discovery

import (
	"encoding/binary"
	"fmt"
)

// Magic identifies a Coral discovery datagram so stray UDP traffic on
// the same port is ignored rather than misparsed.
var Magic = [4]byte{'C', 'R', 'A', 'L'}

const maxNameLen = 255

// packet is the wire layout of one discovery datagram (spec §6):
// magic(4) ∥ partition_id(u32) ∥ st_len(u8) ∥ service_type(≤255) ∥
// sid_len(u8) ∥ service_id(≤255) ∥ payload.
type packet struct {
	PartitionID uint32
	ServiceType string
	ServiceID   string
	Payload     []byte
}

func encodePacket(p packet) ([]byte, error) {
	if len(p.ServiceType) > maxNameLen {
		return nil, fmt.Errorf("discovery: service type too long: %d", len(p.ServiceType))
	}
	if len(p.ServiceID) > maxNameLen {
		return nil, fmt.Errorf("discovery: service id too long: %d", len(p.ServiceID))
	}
	b := make([]byte, 0, 4+4+1+len(p.ServiceType)+1+len(p.ServiceID)+len(p.Payload))
	b = append(b, Magic[:]...)
	var partBuf [4]byte
	binary.LittleEndian.PutUint32(partBuf[:], p.PartitionID)
	b = append(b, partBuf[:]...)
	b = append(b, byte(len(p.ServiceType)))
	b = append(b, p.ServiceType...)
	b = append(b, byte(len(p.ServiceID)))
	b = append(b, p.ServiceID...)
	b = append(b, p.Payload...)
	return b, nil
}

func decodePacket(b []byte) (packet, error) {
	var p packet
	if len(b) < 9 || string(b[0:4]) != string(Magic[:]) {
		return p, fmt.Errorf("discovery: bad magic")
	}
	p.PartitionID = binary.LittleEndian.Uint32(b[4:8])
	off := 8
	stLen := int(b[off])
	off++
	if off+stLen > len(b) {
		return p, fmt.Errorf("discovery: truncated service type")
	}
	p.ServiceType = string(b[off : off+stLen])
	off += stLen
	if off >= len(b) {
		return p, fmt.Errorf("discovery: truncated packet")
	}
	sidLen := int(b[off])
	off++
	if off+sidLen > len(b) {
		return p, fmt.Errorf("discovery: truncated service id")
	}
	p.ServiceID = string(b[off : off+sidLen])
	off += sidLen
	p.Payload = append([]byte(nil), b[off:]...)
	return p, nil
}

// EncodeProviderPort encodes the slave-provider beacon payload: the
// RPC port the provider's request/reply server is bound to.
func EncodeProviderPort(port uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, port)
	return b
}

// DecodeProviderPort decodes a payload produced by EncodeProviderPort.
func DecodeProviderPort(payload []byte) (uint16, error) {
	if len(payload) != 2 {
		return 0, fmt.Errorf("discovery: bad provider-port payload length %d", len(payload))
	}
	return binary.LittleEndian.Uint16(payload), nil
}
