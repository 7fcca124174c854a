package coralwire

import "google.golang.org/protobuf/encoding/protowire"

// ControlHeader prefixes every control-socket message body (spec §6),
// carrying the meta-protocol identifier and version the receiver uses
// to select a decoder for the body that follows.
type ControlHeader struct {
	ProtocolID  string
	Version     uint32
	MessageType uint32
}

func EncodeControlHeader(h ControlHeader) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(h.ProtocolID))
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(h.Version))
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(h.MessageType))
	return b
}

func DecodeControlHeader(body []byte) (ControlHeader, error) {
	var h ControlHeader
	err := consumeFields(body, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(b)
			h.ProtocolID = string(v)
			return n, errIfNeg(n)
		case 2:
			v, n := protowire.ConsumeVarint(b)
			h.Version = uint32(v)
			return n, errIfNeg(n)
		case 3:
			v, n := protowire.ConsumeVarint(b)
			h.MessageType = uint32(v)
			return n, errIfNeg(n)
		default:
			return skipField(num, typ, b)
		}
	})
	return h, err
}
