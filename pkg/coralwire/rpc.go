package coralwire

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/coral-sim/coral/pkg/model"
)

// RPCProtocolID is the protocol-id carried by every provider-cluster
// RPC (spec §4.H/§4.I): GET_SLAVE_TYPES and INSTANTIATE_SLAVE run over
// the same generic request/reply substrate as the control protocol,
// just under a different protocol-id/version namespace.
const RPCProtocolID = "coral.rpc"

// RPCVersion1 is the first (and, for now, only) version of the
// provider RPC protocol.
const RPCVersion1 uint32 = 1

// RPC message types (spec §4.H/§4.I). Numbered independently of the
// control protocol's MessageType block: protocol dispatch keys on
// (protocol-id, version, message-type) together, so the two protocols
// share no namespace.
const (
	MsgGetSlaveTypes MessageType = iota
	MsgSlaveTypes
	MsgInstantiateSlave
	MsgSlaveInstantiated
	MsgRPCError
)

// SlaveTypesReply is the body of a GET_SLAVE_TYPES reply: the slave
// types this one provider currently offers.
type SlaveTypesReply struct {
	Types []model.SlaveTypeDescription
}

func EncodeSlaveTypesReply(d SlaveTypesReply) []byte {
	var b []byte
	for _, t := range d.Types {
		b = appendSubmessage(b, 1, encodeSlaveTypeDescription(t))
	}
	return b
}

func DecodeSlaveTypesReply(body []byte) (SlaveTypesReply, error) {
	var d SlaveTypesReply
	err := consumeFields(body, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return skipField(num, typ, b)
		}
		raw, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n, errIfNeg(n)
		}
		t, err := decodeSlaveTypeDescription(raw)
		if err != nil {
			return 0, err
		}
		d.Types = append(d.Types, t)
		return n, nil
	})
	return d, err
}

// InstantiateSlaveRequest is the body of an INSTANTIATE_SLAVE request.
type InstantiateSlaveRequest struct {
	TypeUUID               string
	InstantiationTimeoutMs int32
}

func EncodeInstantiateSlaveRequest(d InstantiateSlaveRequest) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(d.TypeUUID))
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(d.InstantiationTimeoutMs)))
	return b
}

func DecodeInstantiateSlaveRequest(body []byte) (InstantiateSlaveRequest, error) {
	var d InstantiateSlaveRequest
	err := consumeFields(body, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(b)
			d.TypeUUID = string(v)
			return n, errIfNeg(n)
		case 2:
			v, n := protowire.ConsumeVarint(b)
			d.InstantiationTimeoutMs = int32(protowire.DecodeZigZag(v))
			return n, errIfNeg(n)
		default:
			return skipField(num, typ, b)
		}
	})
	return d, err
}

// SlaveInstantiatedReply is the body of an INSTANTIATE_SLAVE reply: the
// newborn slave's control locator (spec §4.H "returns the newborn
// slave's locator").
type SlaveInstantiatedReply struct {
	ControlLocator string
}

func EncodeSlaveInstantiatedReply(d SlaveInstantiatedReply) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(d.ControlLocator))
	return b
}

func DecodeSlaveInstantiatedReply(body []byte) (SlaveInstantiatedReply, error) {
	var d SlaveInstantiatedReply
	err := consumeFields(body, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return skipField(num, typ, b)
		}
		v, n := protowire.ConsumeBytes(b)
		d.ControlLocator = string(v)
		return n, errIfNeg(n)
	})
	return d, err
}
