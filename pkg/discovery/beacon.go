package discovery

import (
	"net"
	"time"

	"github.com/coral-sim/coral/pkg/corallog"
)

// Beacon periodically broadcasts a UDP datagram advertising one
// service instance (spec §4.B). Runs in its own goroutine, stoppable
// via Stop.
type Beacon struct {
	conn        *net.UDPConn
	broadcast   *net.UDPAddr
	partitionID uint32
	serviceType string
	serviceID   string
	period      time.Duration

	payload chan []byte
	closing chan chan error
}

// NewBeacon creates a Beacon that broadcasts to broadcastAddr (a
// "host:port" UDP broadcast address, e.g. "255.255.255.255:54321")
// every period, until Stop is called. The initial payload is sent
// with the first tick; use SetPayload to update it later (e.g. once
// the RPC server's bound port is known).
func NewBeacon(broadcastAddr string, partitionID uint32, serviceType, serviceID string, period time.Duration) (*Beacon, error) {
	addr, err := net.ResolveUDPAddr("udp", broadcastAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		return nil, err
	}
	b := &Beacon{
		conn:        conn,
		broadcast:   addr,
		partitionID: partitionID,
		serviceType: serviceType,
		serviceID:   serviceID,
		period:      period,
		payload:     make(chan []byte, 1),
		closing:     make(chan chan error),
	}
	return b, nil
}

// Start begins broadcasting.
func (b *Beacon) Start() {
	go b.run()
}

// SetPayload updates the payload sent on subsequent ticks.
func (b *Beacon) SetPayload(payload []byte) {
	select {
	case <-b.payload:
	default:
	}
	b.payload <- payload
}

func (b *Beacon) run() {
	defer b.conn.Close()
	ticker := time.NewTicker(b.period)
	defer ticker.Stop()

	var current []byte
	for {
		select {
		case p := <-b.payload:
			current = p
		case <-ticker.C:
			pkt, err := encodePacket(packet{
				PartitionID: b.partitionID,
				ServiceType: b.serviceType,
				ServiceID:   b.serviceID,
				Payload:     current,
			})
			if err != nil {
				corallog.Logger.Error().Err(err).Msg("discovery: failed to encode beacon packet")
				continue
			}
			if _, err := b.conn.WriteToUDP(pkt, b.broadcast); err != nil {
				corallog.Logger.Warn().Err(err).Msg("discovery: beacon send failed")
			}
		case errch := <-b.closing:
			errch <- nil
			return
		}
	}
}

// Stop halts broadcasting and releases the socket.
func (b *Beacon) Stop() error {
	errch := make(chan error)
	b.closing <- errch
	return <-errch
}
