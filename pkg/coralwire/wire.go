package coralwire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/coral-sim/coral/pkg/model"
)

func truncated() error {
	return fmt.Errorf("coralwire: truncated or malformed message")
}

// --- ScalarValue -----------------------------------------------------

// EncodeScalarValue appends the wire encoding of v to b.
func EncodeScalarValue(b []byte, v model.ScalarValue) []byte {
	switch v.Type {
	case model.DataTypeReal:
		b = protowire.AppendTag(b, 1, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, doubleBits(v.Real))
	case model.DataTypeInteger:
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(v.Integer)))
	case model.DataTypeBoolean:
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		boolVal := uint64(0)
		if v.Boolean {
			boolVal = 1
		}
		b = protowire.AppendVarint(b, boolVal)
	case model.DataTypeString:
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte(v.Str))
	}
	return b
}

// DecodeScalarValue decodes a ScalarValue from the front of b, returning
// the number of bytes consumed.
func DecodeScalarValue(b []byte) (model.ScalarValue, int, error) {
	var v model.ScalarValue
	var consumed int
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return v, 0, truncated()
		}
		b = b[n:]
		consumed += n
		switch num {
		case 1:
			bits, m := protowire.ConsumeFixed64(b)
			if m < 0 {
				return v, 0, truncated()
			}
			v = model.RealValue(bitsDouble(bits))
			b = b[m:]
			consumed += m
		case 2:
			raw, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return v, 0, truncated()
			}
			v = model.IntegerValue(int32(protowire.DecodeZigZag(raw)))
			b = b[m:]
			consumed += m
		case 3:
			raw, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return v, 0, truncated()
			}
			v = model.BooleanValue(raw != 0)
			b = b[m:]
			consumed += m
		case 4:
			raw, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return v, 0, truncated()
			}
			v = model.StringValue(string(raw))
			b = b[m:]
			consumed += m
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return v, 0, truncated()
			}
			b = b[m:]
			consumed += m
		}
	}
	return v, consumed, nil
}

// --- length-delimited submessage helpers ------------------------------

func appendSubmessage(b []byte, num protowire.Number, body []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, body)
}

// consumeFields walks every top-level field of a length-delimited
// message body, invoking fn(fieldNumber, fieldType, remainder-after-tag)
// and expecting fn to return the number of bytes it consumed for that
// field's value (not including the tag).
func consumeFields(body []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return truncated()
		}
		body = body[n:]
		m, err := fn(num, typ, body)
		if err != nil {
			return err
		}
		if m < 0 || m > len(body) {
			return truncated()
		}
		body = body[m:]
	}
	return nil
}

func skipField(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	m := protowire.ConsumeFieldValue(num, typ, b)
	if m < 0 {
		return 0, truncated()
	}
	return m, nil
}
