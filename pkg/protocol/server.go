package protocol

import (
	"sync"

	"github.com/coral-sim/coral/pkg/coralsock"
	"github.com/coral-sim/coral/pkg/coralwire"
)

// MetaMessageTypeNotSupported is the reply message-type sent to a
// MAX-PROTOCOL-VERSION request naming a protocol-id the server has no
// handler for at all (spec §4.C: "an error signalling
// PROTOCOL_NOT_SUPPORTED").
const MetaMessageTypeNotSupported = 1

// Handler processes one request body for a registered (protocol-id,
// version) pair. Returning ok=false drops the request silently (the
// REP-socket "ignore()" case of spec §4.A); the caller will time out.
type Handler func(version, messageType uint32, body []byte) (replyMessageType uint32, replyBody []byte, ok bool)

type handlerKey struct {
	protocolID string
	version    uint32
}

// Server is the REP side of the request/reply substrate. It accepts
// any number of connections (it is, per spec §4.C, "connection-
// agnostic") and dispatches each request by (protocol-id, version).
type Server struct {
	l *coralsock.Listener

	mu         sync.RWMutex
	handlers   map[handlerKey]Handler
	maxVersion map[string]uint32
}

// NewServer wraps an already-bound Listener as a request/reply server.
func NewServer(l *coralsock.Listener) *Server {
	return &Server{
		l:          l,
		handlers:   make(map[handlerKey]Handler),
		maxVersion: make(map[string]uint32),
	}
}

// Addr returns the bound address.
func (s *Server) Addr() string { return s.l.Addr().String() }

// RegisterHandler installs h for (protocolID, version). It also
// extends the protocol's advertised MAX-PROTOCOL-VERSION if version is
// higher than any previously registered for protocolID.
func (s *Server) RegisterHandler(protocolID string, version uint32, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[handlerKey{protocolID, version}] = h
	if version > s.maxVersion[protocolID] {
		s.maxVersion[protocolID] = version
	}
}

// Serve accepts connections until the Listener is closed, handling
// each on its own goroutine. Serve blocks; run it in a goroutine.
func (s *Server) Serve() {
	for {
		conn, err := s.l.Accept()
		if err != nil {
			return
		}
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn *coralsock.Conn) {
	defer conn.Close()
	for {
		parts, err := conn.Receive()
		if err != nil {
			return
		}
		if len(parts) != 2 {
			continue // malformed request; drop
		}
		header, err := coralwire.DecodeControlHeader(parts[0])
		if err != nil {
			continue // malformed header; drop
		}
		if header.ProtocolID == MetaProtocolID && header.MessageType == MetaMessageTypeMaxVersion {
			s.replyMaxVersion(conn, header, string(parts[1]))
			continue
		}
		s.dispatch(conn, header, parts[1])
	}
}

func (s *Server) replyMaxVersion(conn *coralsock.Conn, header coralwire.ControlHeader, protocolID string) {
	s.mu.RLock()
	maxV, ok := s.maxVersion[protocolID]
	s.mu.RUnlock()

	reply := coralwire.ControlHeader{ProtocolID: MetaProtocolID, Version: header.Version}
	var body []byte
	if ok {
		reply.MessageType = MetaMessageTypeMaxVersion
		body = EncodeMaxVersionReply(maxV)
	} else {
		reply.MessageType = MetaMessageTypeNotSupported
	}
	_ = conn.Send([][]byte{coralwire.EncodeControlHeader(reply), body})
}

func (s *Server) dispatch(conn *coralsock.Conn, header coralwire.ControlHeader, body []byte) {
	s.mu.RLock()
	h, ok := s.handlers[handlerKey{header.ProtocolID, header.Version}]
	s.mu.RUnlock()
	if !ok {
		return // no handler matches; drop, per spec §4.C
	}
	replyMessageType, replyBody, respond := h(header.Version, header.MessageType, body)
	if !respond {
		return
	}
	reply := coralwire.ControlHeader{
		ProtocolID:  header.ProtocolID,
		Version:     header.Version,
		MessageType: replyMessageType,
	}
	_ = conn.Send([][]byte{coralwire.EncodeControlHeader(reply), replyBody})
}

// Close stops accepting new connections.
func (s *Server) Close() error { return s.l.Close() }
