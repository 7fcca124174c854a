package coralwire

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// HandshakeReport is the body a spawned slave process sends over its
// private per-spawn handshake connection to report its bound control
// locator back to the provider that spawned it (spec §4.I). A
// non-empty Err means the child failed to come up; ControlLocator is
// only meaningful when Err is empty.
//
// The provider binds the handshake listener before spawning, so the
// handshake protocol needs no discovery or negotiation of its own —
// it is a private, single-use, single-message connection, unlike the
// control and RPC protocols it reports into existence.
type HandshakeReport struct {
	ControlLocator string
	Err            string
}

func EncodeHandshakeReport(d HandshakeReport) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(d.ControlLocator))
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(d.Err))
	return b
}

func DecodeHandshakeReport(body []byte) (HandshakeReport, error) {
	var d HandshakeReport
	err := consumeFields(body, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(b)
			d.ControlLocator = string(v)
			return n, errIfNeg(n)
		case 2:
			v, n := protowire.ConsumeBytes(b)
			d.Err = string(v)
			return n, errIfNeg(n)
		default:
			return skipField(num, typ, b)
		}
	})
	return d, err
}
