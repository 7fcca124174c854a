package coralwire

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/coral-sim/coral/pkg/coralerr"
	"github.com/coral-sim/coral/pkg/model"
)

// SetupData is the body of a SETUP command (spec §6).
type SetupData struct {
	SlaveID               uint32
	StartTime             float64
	StopTime              *float64
	VariablePubEndpoint   string
	VariableSubEndpoint   string
	ExecutionName         string
	SlaveName             string
	VariableRecvTimeoutMs int32
}

func EncodeSetupData(d SetupData) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(d.SlaveID))
	b = protowire.AppendTag(b, 2, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, doubleBits(d.StartTime))
	if d.StopTime != nil {
		b = protowire.AppendTag(b, 3, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, doubleBits(*d.StopTime))
	}
	b = protowire.AppendTag(b, 4, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(d.VariablePubEndpoint))
	b = protowire.AppendTag(b, 5, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(d.VariableSubEndpoint))
	b = protowire.AppendTag(b, 6, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(d.ExecutionName))
	b = protowire.AppendTag(b, 7, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(d.SlaveName))
	b = protowire.AppendTag(b, 8, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(d.VariableRecvTimeoutMs)))
	return b
}

func DecodeSetupData(body []byte) (SetupData, error) {
	var d SetupData
	err := consumeFields(body, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(b)
			d.SlaveID = uint32(v)
			return n, errIfNeg(n)
		case 2:
			v, n := protowire.ConsumeFixed64(b)
			d.StartTime = bitsDouble(v)
			return n, errIfNeg(n)
		case 3:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return n, errIfNeg(n)
			}
			stop := bitsDouble(v)
			d.StopTime = &stop
			return n, nil
		case 4:
			v, n := protowire.ConsumeBytes(b)
			d.VariablePubEndpoint = string(v)
			return n, errIfNeg(n)
		case 5:
			v, n := protowire.ConsumeBytes(b)
			d.VariableSubEndpoint = string(v)
			return n, errIfNeg(n)
		case 6:
			v, n := protowire.ConsumeBytes(b)
			d.ExecutionName = string(v)
			return n, errIfNeg(n)
		case 7:
			v, n := protowire.ConsumeBytes(b)
			d.SlaveName = string(v)
			return n, errIfNeg(n)
		case 8:
			v, n := protowire.ConsumeVarint(b)
			d.VariableRecvTimeoutMs = int32(protowire.DecodeZigZag(v))
			return n, errIfNeg(n)
		default:
			return skipField(num, typ, b)
		}
	})
	return d, err
}

func errIfNeg(n int) error {
	if n < 0 {
		return truncated()
	}
	return nil
}

// StepData is the body of a STEP command.
type StepData struct {
	StepID    uint64
	Timepoint float64
	Stepsize  float64
}

func EncodeStepData(d StepData) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, d.StepID)
	b = protowire.AppendTag(b, 2, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, doubleBits(d.Timepoint))
	b = protowire.AppendTag(b, 3, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, doubleBits(d.Stepsize))
	return b
}

func DecodeStepData(body []byte) (StepData, error) {
	var d StepData
	err := consumeFields(body, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(b)
			d.StepID = v
			return n, errIfNeg(n)
		case 2:
			v, n := protowire.ConsumeFixed64(b)
			d.Timepoint = bitsDouble(v)
			return n, errIfNeg(n)
		case 3:
			v, n := protowire.ConsumeFixed64(b)
			d.Stepsize = bitsDouble(v)
			return n, errIfNeg(n)
		default:
			return skipField(num, typ, b)
		}
	})
	return d, err
}

// Connection names a remote output feeding a local input.
type Connection struct {
	SlaveID    uint32
	VariableID uint32
}

func encodeConnection(c Connection) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.SlaveID))
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.VariableID))
	return b
}

func decodeConnection(body []byte) (Connection, error) {
	var c Connection
	err := consumeFields(body, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(b)
			c.SlaveID = uint32(v)
			return n, errIfNeg(n)
		case 2:
			v, n := protowire.ConsumeVarint(b)
			c.VariableID = uint32(v)
			return n, errIfNeg(n)
		default:
			return skipField(num, typ, b)
		}
	})
	return c, err
}

// VariableSettingWire is one item of a SetVarsData request.
type VariableSettingWire struct {
	VariableID      uint32
	Value           *model.ScalarValue
	ConnectedOutput *Connection
}

func encodeVariableSetting(s VariableSettingWire) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.VariableID))
	if s.Value != nil {
		b = appendSubmessage(b, 2, EncodeScalarValue(nil, *s.Value))
	}
	if s.ConnectedOutput != nil {
		b = appendSubmessage(b, 3, encodeConnection(*s.ConnectedOutput))
	}
	return b
}

func decodeVariableSetting(body []byte) (VariableSettingWire, error) {
	var s VariableSettingWire
	err := consumeFields(body, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(b)
			s.VariableID = uint32(v)
			return n, errIfNeg(n)
		case 2:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, errIfNeg(n)
			}
			val, _, err := DecodeScalarValue(raw)
			if err != nil {
				return 0, err
			}
			s.Value = &val
			return n, nil
		case 3:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, errIfNeg(n)
			}
			conn, err := decodeConnection(raw)
			if err != nil {
				return 0, err
			}
			s.ConnectedOutput = &conn
			return n, nil
		default:
			return skipField(num, typ, b)
		}
	})
	return s, err
}

// SetVarsData is the body of a SET_VARS command.
type SetVarsData struct {
	Variable []VariableSettingWire
}

func EncodeSetVarsData(d SetVarsData) []byte {
	var b []byte
	for _, s := range d.Variable {
		b = appendSubmessage(b, 1, encodeVariableSetting(s))
	}
	return b
}

func DecodeSetVarsData(body []byte) (SetVarsData, error) {
	var d SetVarsData
	err := consumeFields(body, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return skipField(num, typ, b)
		}
		raw, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n, errIfNeg(n)
		}
		item, err := decodeVariableSetting(raw)
		if err != nil {
			return 0, err
		}
		d.Variable = append(d.Variable, item)
		return n, nil
	})
	return d, err
}

// PeerEndpoint names the data-transport endpoint of one peer slave.
// (spec §6 documents SetPeersData as a bare repeated string, but a
// receiving agent cannot correlate a bare endpoint back to the peer
// slave ID its `connections` table keys on; this module carries the
// slave ID alongside each endpoint. See DESIGN.md Open Question
// decisions.)
type PeerEndpoint struct {
	SlaveID  uint32
	Endpoint string
}

// SetPeersData is the body of a SET_PEERS command.
type SetPeersData struct {
	Peers []PeerEndpoint
}

func encodePeerEndpoint(p PeerEndpoint) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.SlaveID))
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(p.Endpoint))
	return b
}

func decodePeerEndpoint(body []byte) (PeerEndpoint, error) {
	var p PeerEndpoint
	err := consumeFields(body, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(b)
			p.SlaveID = uint32(v)
			return n, errIfNeg(n)
		case 2:
			v, n := protowire.ConsumeBytes(b)
			p.Endpoint = string(v)
			return n, errIfNeg(n)
		default:
			return skipField(num, typ, b)
		}
	})
	return p, err
}

func EncodeSetPeersData(d SetPeersData) []byte {
	var b []byte
	for _, p := range d.Peers {
		b = appendSubmessage(b, 1, encodePeerEndpoint(p))
	}
	return b
}

func DecodeSetPeersData(body []byte) (SetPeersData, error) {
	var d SetPeersData
	err := consumeFields(body, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return skipField(num, typ, b)
		}
		raw, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n, errIfNeg(n)
		}
		p, err := decodePeerEndpoint(raw)
		if err != nil {
			return 0, err
		}
		d.Peers = append(d.Peers, p)
		return n, nil
	})
	return d, err
}

// ErrorInfo is the body of an ERROR or FATAL_ERROR reply.
type ErrorInfo struct {
	Code   coralerr.Code
	Detail string
}

func EncodeErrorInfo(d ErrorInfo) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(d.Code))
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(d.Detail))
	return b
}

func DecodeErrorInfo(body []byte) (ErrorInfo, error) {
	var d ErrorInfo
	err := consumeFields(body, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(b)
			d.Code = coralerr.Code(v)
			return n, errIfNeg(n)
		case 2:
			v, n := protowire.ConsumeBytes(b)
			d.Detail = string(v)
			return n, errIfNeg(n)
		default:
			return skipField(num, typ, b)
		}
	})
	return d, err
}

// TimestampedValue is the data-transport frame-2 body (spec §6).
type TimestampedValue struct {
	StepID uint64
	Value  model.ScalarValue
}

func EncodeTimestampedValue(d TimestampedValue) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, d.StepID)
	b = appendSubmessage(b, 2, EncodeScalarValue(nil, d.Value))
	return b
}

func DecodeTimestampedValue(body []byte) (TimestampedValue, error) {
	var d TimestampedValue
	err := consumeFields(body, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(b)
			d.StepID = v
			return n, errIfNeg(n)
		case 2:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, errIfNeg(n)
			}
			val, _, err := DecodeScalarValue(raw)
			if err != nil {
				return 0, err
			}
			d.Value = val
			return n, nil
		default:
			return skipField(num, typ, b)
		}
	})
	return d, err
}

// VariableDescriptionWire mirrors model.VariableDescription on the wire.
func encodeVariableDescription(v model.VariableDescription) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(v.ID))
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(v.Name))
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(v.DataType))
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(v.Causality))
	b = protowire.AppendTag(b, 5, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(v.Variability))
	return b
}

func decodeVariableDescription(body []byte) (model.VariableDescription, error) {
	var v model.VariableDescription
	err := consumeFields(body, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			x, n := protowire.ConsumeVarint(b)
			v.ID = model.VariableID(x)
			return n, errIfNeg(n)
		case 2:
			x, n := protowire.ConsumeBytes(b)
			v.Name = string(x)
			return n, errIfNeg(n)
		case 3:
			x, n := protowire.ConsumeVarint(b)
			v.DataType = model.DataType(x)
			return n, errIfNeg(n)
		case 4:
			x, n := protowire.ConsumeVarint(b)
			v.Causality = model.Causality(x)
			return n, errIfNeg(n)
		case 5:
			x, n := protowire.ConsumeVarint(b)
			v.Variability = model.Variability(x)
			return n, errIfNeg(n)
		default:
			return skipField(num, typ, b)
		}
	})
	return v, err
}

func encodeSlaveTypeDescription(d model.SlaveTypeDescription) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(d.Name))
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(d.UUID))
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(d.Description))
	b = protowire.AppendTag(b, 4, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(d.Author))
	b = protowire.AppendTag(b, 5, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(d.Version))
	for _, v := range d.Variables {
		b = appendSubmessage(b, 6, encodeVariableDescription(v))
	}
	return b
}

func decodeSlaveTypeDescription(body []byte) (model.SlaveTypeDescription, error) {
	var d model.SlaveTypeDescription
	err := consumeFields(body, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			x, n := protowire.ConsumeBytes(b)
			d.Name = string(x)
			return n, errIfNeg(n)
		case 2:
			x, n := protowire.ConsumeBytes(b)
			d.UUID = string(x)
			return n, errIfNeg(n)
		case 3:
			x, n := protowire.ConsumeBytes(b)
			d.Description = string(x)
			return n, errIfNeg(n)
		case 4:
			x, n := protowire.ConsumeBytes(b)
			d.Author = string(x)
			return n, errIfNeg(n)
		case 5:
			x, n := protowire.ConsumeBytes(b)
			d.Version = string(x)
			return n, errIfNeg(n)
		case 6:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, errIfNeg(n)
			}
			vd, err := decodeVariableDescription(raw)
			if err != nil {
				return 0, err
			}
			d.Variables = append(d.Variables, vd)
			return n, nil
		default:
			return skipField(num, typ, b)
		}
	})
	return d, err
}

// SlaveDescription is the body of a DESCRIBE reply.
type SlaveDescription struct {
	TypeDescription model.SlaveTypeDescription
}

func EncodeSlaveDescription(d SlaveDescription) []byte {
	return appendSubmessage(nil, 1, encodeSlaveTypeDescription(d.TypeDescription))
}

func DecodeSlaveDescription(body []byte) (SlaveDescription, error) {
	var d SlaveDescription
	err := consumeFields(body, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return skipField(num, typ, b)
		}
		raw, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n, errIfNeg(n)
		}
		td, err := decodeSlaveTypeDescription(raw)
		if err != nil {
			return 0, err
		}
		d.TypeDescription = td
		return n, nil
	})
	return d, err
}

// ReadyData is the body of the READY reply to a SETUP command. It
// reports back the publisher endpoint the agent actually bound (which
// may differ from SetupData.VariablePubEndpoint when that was empty
// and the OS chose the port), so the execution manager can pass it on
// to peer slaves via SET_PEERS. READY replies to other commands carry
// an empty body.
type ReadyData struct {
	VariablePubEndpoint string
}

func EncodeReadyData(d ReadyData) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(d.VariablePubEndpoint))
	return b
}

func DecodeReadyData(body []byte) (ReadyData, error) {
	var d ReadyData
	err := consumeFields(body, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return skipField(num, typ, b)
		}
		v, n := protowire.ConsumeBytes(b)
		d.VariablePubEndpoint = string(v)
		return n, errIfNeg(n)
	})
	return d, err
}
