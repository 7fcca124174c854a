package transport

import (
	"sync"
	"time"

	"github.com/coral-sim/coral/pkg/coralerr"
	"github.com/coral-sim/coral/pkg/corallog"
	"github.com/coral-sim/coral/pkg/coralsock"
	"github.com/coral-sim/coral/pkg/coralwire"
	"github.com/coral-sim/coral/pkg/model"
)

type connectionKey struct {
	PeerSlave    model.SlaveID
	PeerVariable model.VariableID
}

type sample struct {
	header coralwire.DataHeader
	value  model.ScalarValue
}

// Subscriber is the input side of one slave agent's variable
// transport: it connects to each peer publisher it has been told
// about, tracks the (peer-slave, peer-variable) → local-variable
// coupling table, and runs the input barrier that blocks a step's
// completion until every coupling has delivered a sample (spec §4.D).
type Subscriber struct {
	dialTimeout time.Duration

	mu          sync.Mutex
	peers       map[model.SlaveID]*coralsock.SubSocket
	connections map[connectionKey]model.VariableID
	futureBuf   map[connectionKey]sample // step_id > current step, held across barrier calls

	incoming chan sample
}

// NewSubscriber creates an empty Subscriber. Peers are added with
// Connect and couplings with AddConnection.
func NewSubscriber(dialTimeout time.Duration) *Subscriber {
	return &Subscriber{
		dialTimeout: dialTimeout,
		peers:       make(map[model.SlaveID]*coralsock.SubSocket),
		connections: make(map[connectionKey]model.VariableID),
		futureBuf:   make(map[connectionKey]sample),
		incoming:    make(chan sample, 256),
	}
}

// Connect dials the publisher endpoint of peer and starts forwarding
// its messages into the barrier. Subscription filters for any
// couplings already registered against this peer are applied
// immediately.
func (s *Subscriber) Connect(peer model.SlaveID, endpoint string) error {
	sock, err := coralsock.DialSub("tcp", endpoint, s.dialTimeout)
	if err != nil {
		return coralerr.Wrap(coralerr.ConnectionRefused, err, "connecting to peer %d publisher at %s", peer, endpoint)
	}

	s.mu.Lock()
	for k := range s.connections {
		if k.PeerSlave == peer {
			sock.Subscribe(coralwire.SubscriptionPrefix(uint16(k.PeerSlave), uint16(k.PeerVariable)))
		}
	}
	s.peers[peer] = sock
	s.mu.Unlock()

	go s.readLoop(sock)
	return nil
}

// Disconnect drops the connection to peer, if any, discards any
// future-step samples buffered from it, and logs a warning.
func (s *Subscriber) Disconnect(peer model.SlaveID) {
	s.mu.Lock()
	sock, ok := s.peers[peer]
	delete(s.peers, peer)
	discarded := 0
	for k := range s.futureBuf {
		if k.PeerSlave == peer {
			delete(s.futureBuf, k)
			discarded++
		}
	}
	s.mu.Unlock()
	if ok {
		_ = sock.Close()
		corallog.Logger.Warn().Uint16("peer_slave_id", uint16(peer)).Int("discarded_samples", discarded).Msg("transport: dropped peer; buffered samples discarded")
	}
}

// SetPeers replaces the full peer set: every currently connected peer
// not present in endpoints is disconnected, and every endpoint not
// already connected is dialed (spec §4.E SET_PEERS).
func (s *Subscriber) SetPeers(endpoints map[model.SlaveID]string) error {
	s.mu.Lock()
	var toDrop []model.SlaveID
	for peer := range s.peers {
		if _, keep := endpoints[peer]; !keep {
			toDrop = append(toDrop, peer)
		}
	}
	s.mu.Unlock()
	for _, peer := range toDrop {
		s.Disconnect(peer)
	}

	for peer, endpoint := range endpoints {
		s.mu.Lock()
		_, connected := s.peers[peer]
		s.mu.Unlock()
		if connected {
			continue
		}
		if err := s.Connect(peer, endpoint); err != nil {
			return err
		}
	}
	return nil
}

// AddConnection records a new input coupling: the local variable
// localVar receives values published by (peer, peerVariable). If the
// peer is already connected, the subscription filter is applied
// immediately.
func (s *Subscriber) AddConnection(peer model.SlaveID, peerVariable model.VariableID, localVar model.VariableID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connections[connectionKey{PeerSlave: peer, PeerVariable: peerVariable}] = localVar
	if sock, ok := s.peers[peer]; ok {
		sock.Subscribe(coralwire.SubscriptionPrefix(uint16(peer), uint16(peerVariable)))
	}
}

func (s *Subscriber) readLoop(sock *coralsock.SubSocket) {
	for {
		parts, err := sock.Receive()
		if err != nil {
			return
		}
		if len(parts) != 2 {
			continue
		}
		header, err := coralwire.DecodeDataHeader(parts[0])
		if err != nil {
			continue
		}
		value, err := coralwire.DecodeTimestampedValue(parts[1])
		if err != nil {
			continue
		}
		select {
		case s.incoming <- sample{header: header, value: value.Value}:
		default:
			// incoming buffer is full; drop rather than block the reader
			// goroutine. A dropped sample is not re-sent, so an Update
			// waiting on it ends with DataTimeout.
		}
	}
}

// Update runs the input barrier for the given step (spec §4.D):
// blocks until every currently registered coupling has a sample for
// stepID, or timeout elapses, returning DataTimeout in the latter
// case. Samples from earlier steps are discarded; samples from later
// steps are buffered for a future Update call.
func (s *Subscriber) Update(stepID model.StepID, timeout time.Duration) (map[model.VariableID]model.ScalarValue, error) {
	s.mu.Lock()
	pending := make(map[connectionKey]model.VariableID, len(s.connections))
	for k, v := range s.connections {
		pending[k] = v
	}
	results := make(map[model.VariableID]model.ScalarValue, len(pending))
	for k := range pending {
		if buf, ok := s.futureBuf[k]; ok && uint64(buf.header.StepID) == uint64(stepID) {
			results[pending[k]] = buf.value
			delete(s.futureBuf, k)
			delete(pending, k)
		}
	}
	s.mu.Unlock()

	if len(pending) == 0 {
		return results, nil
	}

	deadline := time.Now().Add(timeout)
	for len(pending) > 0 {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, coralerr.New(coralerr.DataTimeout, "input barrier for step %d timed out with %d coupling(s) unresolved", stepID, len(pending))
		}
		timer := time.NewTimer(remaining)
		select {
		case smp := <-s.incoming:
			timer.Stop()
			s.handleSample(stepID, smp, pending, results)
		case <-timer.C:
			return nil, coralerr.New(coralerr.DataTimeout, "input barrier for step %d timed out with %d coupling(s) unresolved", stepID, len(pending))
		}
	}
	return results, nil
}

func (s *Subscriber) handleSample(stepID model.StepID, smp sample, pending map[connectionKey]model.VariableID, results map[model.VariableID]model.ScalarValue) {
	k := connectionKey{PeerSlave: model.SlaveID(smp.header.SlaveID), PeerVariable: model.VariableID(smp.header.VariableID)}
	switch {
	case uint64(smp.header.StepID) < uint64(stepID):
		return // leftover from the in-progress transition; discard
	case uint64(smp.header.StepID) > uint64(stepID):
		s.mu.Lock()
		s.futureBuf[k] = smp
		s.mu.Unlock()
		return
	}
	localVar, ok := pending[k]
	if !ok {
		return // not a coupling we're waiting on for this step
	}
	results[localVar] = smp.value
	delete(pending, k)
}

// Close disconnects from every peer.
func (s *Subscriber) Close() {
	s.mu.Lock()
	peers := make([]*coralsock.SubSocket, 0, len(s.peers))
	for _, sock := range s.peers {
		peers = append(peers, sock)
	}
	s.peers = make(map[model.SlaveID]*coralsock.SubSocket)
	s.mu.Unlock()
	for _, sock := range peers {
		_ = sock.Close()
	}
}
