package coralwire

import "encoding/binary"

// DataHeaderLen is the fixed size of the frame-1 header of a data-transport
// (PUB/SUB) message (spec §6).
const DataHeaderLen = 8

// DataHeader is the frame-1 header of a variable-transport message: the
// step a published value belongs to, and which slave/variable produced it.
type DataHeader struct {
	StepID     uint32
	SlaveID    uint16
	VariableID uint16
}

// EncodeDataHeader writes h as little-endian step_id(u32) ∥ slave_id(u16) ∥
// variable_id(u16). This is plain encoding/binary, not protobuf, so that
// matching a subscription prefix is a byte comparison rather than a parse.
func EncodeDataHeader(h DataHeader) []byte {
	b := make([]byte, DataHeaderLen)
	binary.LittleEndian.PutUint32(b[0:4], h.StepID)
	binary.LittleEndian.PutUint16(b[4:6], h.SlaveID)
	binary.LittleEndian.PutUint16(b[6:8], h.VariableID)
	return b
}

func DecodeDataHeader(b []byte) (DataHeader, error) {
	if len(b) != DataHeaderLen {
		return DataHeader{}, truncated()
	}
	return DataHeader{
		StepID:     binary.LittleEndian.Uint32(b[0:4]),
		SlaveID:    binary.LittleEndian.Uint16(b[4:6]),
		VariableID: binary.LittleEndian.Uint16(b[6:8]),
	}, nil
}

// SubscriptionPrefix returns the 4-byte (slave_id ∥ variable_id) key that
// subscribers filter on: everything but the step_id, since a subscriber
// wants a variable across every step, not one step across every variable.
func SubscriptionPrefix(slave uint16, variable uint16) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint16(b[0:2], slave)
	binary.LittleEndian.PutUint16(b[2:4], variable)
	return b
}

// HeaderSubscriptionKey extracts the same 4-byte key from an already
// encoded data header.
func HeaderSubscriptionKey(header []byte) []byte {
	if len(header) != DataHeaderLen {
		return nil
	}
	return header[4:8]
}
