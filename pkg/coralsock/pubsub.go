package coralsock

import (
	"bytes"
	"net"
	"sync"
	"time"
)

// dataHeaderLen mirrors coralwire.DataHeaderLen: coralsock is a
// transport-agnostic package and can't import the wire-format package
// that depends on it, but the first frame of a PUB/SUB message is
// always an 8-byte step_id∥slave_id∥variable_id header (spec §6), and
// a subscription filters on everything but the leading 4-byte step_id.
const dataHeaderLen = 8

// PubSocket is the publisher side of PUB/SUB: it accepts any number of
// subscriber connections and fans every Publish call out to all of
// them. Slow or dead subscribers are dropped rather than allowed to
// block the publisher, since a step must never wait on a subscriber's
// socket buffer draining.
type PubSocket struct {
	nl net.Listener

	mu   sync.Mutex
	subs map[*Conn]struct{}

	sendTimeout time.Duration
}

// NewPubSocket binds a PubSocket to addr.
func NewPubSocket(network, addr string) (*PubSocket, error) {
	nl, err := net.Listen(network, addr)
	if err != nil {
		return nil, err
	}
	p := &PubSocket{
		nl:          nl,
		subs:        make(map[*Conn]struct{}),
		sendTimeout: time.Second,
	}
	go p.acceptLoop()
	return p, nil
}

// Addr returns the bound address.
func (p *PubSocket) Addr() net.Addr { return p.nl.Addr() }

func (p *PubSocket) acceptLoop() {
	for {
		nc, err := p.nl.Accept()
		if err != nil {
			return
		}
		c := NewConn(nc)
		p.mu.Lock()
		p.subs[c] = struct{}{}
		p.mu.Unlock()
	}
}

// Publish sends parts (first part is conventionally the prefix frame,
// e.g. a coralwire.DataHeader) to every currently connected subscriber.
func (p *PubSocket) Publish(parts [][]byte) {
	p.mu.Lock()
	conns := make([]*Conn, 0, len(p.subs))
	for c := range p.subs {
		conns = append(conns, c)
	}
	p.mu.Unlock()

	for _, c := range conns {
		_ = c.SetReadDeadline(time.Time{})
		c.wmu.Lock()
		_ = c.nc.SetWriteDeadline(time.Now().Add(p.sendTimeout))
		err := WriteMessage(c.nc, parts)
		_ = c.nc.SetWriteDeadline(time.Time{})
		c.wmu.Unlock()
		if err != nil {
			p.drop(c)
		}
	}
}

func (p *PubSocket) drop(c *Conn) {
	p.mu.Lock()
	delete(p.subs, c)
	p.mu.Unlock()
	_ = c.Close()
}

// SubscriberCount reports how many subscribers are currently connected.
func (p *PubSocket) SubscriberCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// Close stops accepting subscribers and disconnects all current ones.
func (p *PubSocket) Close() error {
	err := p.nl.Close()
	p.mu.Lock()
	for c := range p.subs {
		_ = c.Close()
	}
	p.subs = make(map[*Conn]struct{})
	p.mu.Unlock()
	return err
}

// SubSocket is the subscriber side of PUB/SUB: it dials one publisher
// and locally filters incoming messages against a set of prefixes, per
// spec §4.A ("subscribers set prefix filters").
type SubSocket struct {
	c *Conn

	mu       sync.Mutex
	prefixes [][]byte
}

// DialSub connects a new SubSocket to a publisher's endpoint.
func DialSub(network, addr string, timeout time.Duration) (*SubSocket, error) {
	c, err := Dial(network, addr, timeout)
	if err != nil {
		return nil, err
	}
	return &SubSocket{c: c}, nil
}

// Subscribe adds prefix to the set of accepted message prefixes. An
// empty prefix matches everything.
func (s *SubSocket) Subscribe(prefix []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefixes = append(s.prefixes, append([]byte(nil), prefix...))
}

// Unsubscribe removes a previously added prefix.
func (s *SubSocket) Unsubscribe(prefix []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.prefixes {
		if bytes.Equal(p, prefix) {
			s.prefixes = append(s.prefixes[:i], s.prefixes[i+1:]...)
			return
		}
	}
}

func (s *SubSocket) accepts(firstFrame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.prefixes) == 0 {
		return false
	}
	key := firstFrame
	if len(firstFrame) == dataHeaderLen {
		key = firstFrame[4:8]
	}
	for _, p := range s.prefixes {
		if len(p) == 0 || bytes.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// Receive blocks until a message matching a subscribed prefix arrives,
// discarding any that don't match.
func (s *SubSocket) Receive() ([][]byte, error) {
	for {
		parts, err := s.c.Receive()
		if err != nil {
			return nil, err
		}
		if len(parts) == 0 {
			continue
		}
		if s.accepts(parts[0]) {
			return parts, nil
		}
	}
}

// SetReadDeadline bounds the next Receive call.
func (s *SubSocket) SetReadDeadline(t time.Time) error { return s.c.SetReadDeadline(t) }

// Close disconnects from the publisher.
func (s *SubSocket) Close() error { return s.c.Close() }
