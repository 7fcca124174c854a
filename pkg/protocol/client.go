package protocol

import (
	"container/list"
	"encoding/binary"
	"time"

	"github.com/coral-sim/coral/pkg/coralerr"
	"github.com/coral-sim/coral/pkg/coralsock"
	"github.com/coral-sim/coral/pkg/coralwire"
	"github.com/coral-sim/coral/pkg/reactor"
)

// MetaProtocolID is the well-known protocol-id used for the
// MAX-PROTOCOL-VERSION negotiation request (spec §4.C).
const MetaProtocolID = "coral.meta"

// MetaMessageTypeMaxVersion is the ControlHeader.MessageType of a
// MAX-PROTOCOL-VERSION request/reply.
const MetaMessageTypeMaxVersion = 0

// OnComplete is invoked exactly once per Request call, either with a
// successful reply or with a non-nil error (coralerr.Code TimedOut on
// expiry, ProtocolNotSupported on a meta-protocol rejection, etc).
type OnComplete func(replyVersion uint32, replyMessageType uint32, replyBody []byte, err error)

type pendingRequest struct {
	protocolID string
	onComplete OnComplete
	timer      reactor.TimerID
	abandoned  bool
}

// Client is the REQ side of the request/reply substrate: it sends a
// framed request and matches the next framed reply to it, in FIFO
// order. Exactly one request may be in flight from the caller's point
// of view; calling Request again before the previous one's OnComplete
// has fired is a programming error (spec §3 invariant).
type Client struct {
	conn *coralsock.Conn
	r    *reactor.Reactor

	queue *list.List // of *pendingRequest, oldest request at Front
}

// NewClient wraps an already-connected coralsock.Conn as a request
// client. The Client starts its own receive loop immediately.
func NewClient(conn *coralsock.Conn, r *reactor.Reactor) *Client {
	c := &Client{conn: conn, r: r, queue: list.New()}
	go c.receiveLoop()
	return c
}

func (c *Client) receiveLoop() {
	for {
		parts, err := c.conn.Receive()
		if err != nil {
			closeErr := coralerr.Wrap(coralerr.ConnectionRefused, err, "connection closed")
			c.r.Go(func() { c.failAll(closeErr) })
			return
		}
		if len(parts) != 2 {
			continue
		}
		header, body := parts[0], parts[1]
		c.r.Go(func() { c.dispatchReply(header, body) })
	}
}

// dispatchReply runs on the reactor goroutine.
func (c *Client) dispatchReply(headerBytes, body []byte) {
	front := c.queue.Front()
	if front == nil {
		return // stray reply with nothing outstanding; discard
	}
	c.queue.Remove(front)
	pr := front.Value.(*pendingRequest)
	c.r.CancelTimer(pr.timer)
	if pr.abandoned {
		return // already delivered TimedOut to the caller; discard (spec §4.C)
	}
	header, err := coralwire.DecodeControlHeader(headerBytes)
	if err != nil {
		pr.onComplete(0, 0, nil, coralerr.Wrap(coralerr.BadMessage, err, "malformed reply header"))
		return
	}
	pr.onComplete(header.Version, header.MessageType, body, nil)
}

// Abort fails every outstanding request with err, as if the
// connection had died, without actually closing it. Must run on the
// reactor goroutine. Used by callers that want to abandon an
// in-flight command deliberately (e.g. messenger.Close) rather than
// wait for a real I/O error.
func (c *Client) Abort(err error) {
	c.failAll(err)
}

// failAll runs on the reactor goroutine, when the underlying
// connection has died.
func (c *Client) failAll(err error) {
	for e := c.queue.Front(); e != nil; e = e.Next() {
		pr := e.Value.(*pendingRequest)
		c.r.CancelTimer(pr.timer)
		if !pr.abandoned {
			pr.onComplete(0, 0, nil, err)
		}
	}
	c.queue.Init()
}

// Request sends a framed request and arranges for onComplete to be
// invoked with the reply, or with a TimedOut error if none arrives
// within timeout. Must run on the reactor goroutine: call it from
// Reactor.Go/Call, or from another reactor callback.
func (c *Client) Request(protocolID string, version, messageType uint32, body []byte, timeout time.Duration, onComplete OnComplete) {
	header := coralwire.EncodeControlHeader(coralwire.ControlHeader{
		ProtocolID:  protocolID,
		Version:     version,
		MessageType: messageType,
	})
	pr := &pendingRequest{protocolID: protocolID, onComplete: onComplete}
	elem := c.queue.PushBack(pr)
	pr.timer = c.r.AddTimer(timeout, func() {
		pr.abandoned = true
		onComplete(0, 0, nil, coralerr.New(coralerr.TimedOut, "request to protocol %q timed out", protocolID))
	})
	if err := c.conn.Send([][]byte{header, body}); err != nil {
		c.queue.Remove(elem)
		c.r.CancelTimer(pr.timer)
		pr.abandoned = true
		onComplete(0, 0, nil, coralerr.Wrap(coralerr.ConnectionRefused, err, "failed to send request"))
	}
}

// EncodeMaxVersionReply and DecodeMaxVersionReply carry a single u32
// version number as a MAX-PROTOCOL-VERSION reply body; there is no
// need for a full protobuf message for one integer.
func EncodeMaxVersionReply(version uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, version)
	return b
}

func DecodeMaxVersionReply(body []byte) (uint32, error) {
	if len(body) != 4 {
		return 0, coralerr.New(coralerr.BadMessage, "malformed max-version reply: %d bytes", len(body))
	}
	return binary.BigEndian.Uint32(body), nil
}

// NegotiateVersion asks the server for the highest version of
// protocolID it supports, via the MAX-PROTOCOL-VERSION meta-protocol.
// A ProtocolNotSupported error means the peer has no handler at all
// for protocolID.
func (c *Client) NegotiateVersion(protocolID string, timeout time.Duration, onComplete func(maxVersion uint32, err error)) {
	c.Request(MetaProtocolID, 0, MetaMessageTypeMaxVersion, []byte(protocolID), timeout,
		func(replyVersion, replyMessageType uint32, replyBody []byte, err error) {
			if err != nil {
				onComplete(0, err)
				return
			}
			if replyMessageType != MetaMessageTypeMaxVersion {
				onComplete(0, coralerr.New(coralerr.ProtocolNotSupported, "protocol %q not supported by peer", protocolID))
				return
			}
			maxVersion, decErr := DecodeMaxVersionReply(replyBody)
			onComplete(maxVersion, decErr)
		})
}
