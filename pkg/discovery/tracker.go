package discovery

import (
	"bytes"
	"net"
	"time"

	"github.com/coral-sim/coral/pkg/coralmetrics"
	"github.com/coral-sim/coral/pkg/corallog"
)

// ServiceKey identifies one tracked service instance.
type ServiceKey struct {
	ServiceType string
	ServiceID   string
}

// TrackerCallbacks are invoked as entries appear, change, or age out
// (spec §4.B). Appeared and Changed both receive the sender's address
// and the current payload; Disappeared receives only the key.
type TrackerCallbacks struct {
	Appeared    func(key ServiceKey, addr *net.UDPAddr, payload []byte)
	Changed     func(key ServiceKey, addr *net.UDPAddr, payload []byte)
	Disappeared func(key ServiceKey)
}

type trackerEntry struct {
	lastSeen time.Time
	payload  []byte
	addr     *net.UDPAddr
}

// Tracker listens for Beacon datagrams on one UDP port and fires
// TrackerCallbacks per tracked service type as entries come and go.
type Tracker struct {
	conn        *net.UDPConn
	partitionID uint32
	expiry      time.Duration

	callbacks map[string]TrackerCallbacks
	entries   map[ServiceKey]*trackerEntry

	registerCh chan registerReq
	closing    chan chan error
}

type registerReq struct {
	serviceType string
	cb          TrackerCallbacks
}

// NewTracker binds a Tracker to listenAddr (a "host:port" UDP
// address). Entries not refreshed for expiry are purged and fire
// Disappeared.
func NewTracker(listenAddr string, partitionID uint32, expiry time.Duration) (*Tracker, error) {
	addr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	return &Tracker{
		conn:        conn,
		partitionID: partitionID,
		expiry:      expiry,
		callbacks:   make(map[string]TrackerCallbacks),
		entries:     make(map[ServiceKey]*trackerEntry),
		registerCh:  make(chan registerReq, 16),
		closing:     make(chan chan error),
	}, nil
}

// Register installs the callbacks to fire for a given service type.
// Safe to call before or after Start; the registration is applied on
// the tracker's own goroutine once it is running.
func (t *Tracker) Register(serviceType string, cb TrackerCallbacks) {
	t.registerCh <- registerReq{serviceType: serviceType, cb: cb}
}

// Start begins listening and purging in a background goroutine.
func (t *Tracker) Start() {
	go t.run()
}

func (t *Tracker) run() {
	defer t.conn.Close()

	type datagram struct {
		buf  []byte
		addr *net.UDPAddr
	}
	incoming := make(chan datagram, 32)
	go func() {
		buf := make([]byte, 2048)
		for {
			n, addr, err := t.conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			cp := make([]byte, n)
			copy(cp, buf[:n])
			select {
			case incoming <- datagram{buf: cp, addr: addr}:
			default:
			}
		}
	}()

	// A non-positive expiry disables purging entirely: a nil ticker
	// channel blocks forever in the select below, rather than calling
	// time.NewTicker with a non-positive interval, which panics.
	var purgeCh <-chan time.Time
	if t.expiry > 0 {
		purgeTicker := time.NewTicker(t.expiry / 2)
		defer purgeTicker.Stop()
		purgeCh = purgeTicker.C
	}

	for {
		select {
		case req := <-t.registerCh:
			t.callbacks[req.serviceType] = req.cb

		case dg := <-incoming:
			t.handleDatagram(dg.buf, dg.addr)

		case <-purgeCh:
			t.purgeExpired()

		case errch := <-t.closing:
			errch <- nil
			return
		}
	}
}

func (t *Tracker) handleDatagram(buf []byte, addr *net.UDPAddr) {
	pkt, err := decodePacket(buf)
	if err != nil {
		return
	}
	if pkt.PartitionID != t.partitionID {
		coralmetrics.DiscoveryForeignPartitionTotal.Inc()
		return
	}
	cb, ok := t.callbacks[pkt.ServiceType]
	if !ok {
		return
	}
	key := ServiceKey{ServiceType: pkt.ServiceType, ServiceID: pkt.ServiceID}
	existing, known := t.entries[key]
	now := time.Now()
	if !known {
		t.entries[key] = &trackerEntry{lastSeen: now, payload: pkt.Payload, addr: addr}
		coralmetrics.DiscoveryAppearedTotal.WithLabelValues(pkt.ServiceType).Inc()
		if cb.Appeared != nil {
			cb.Appeared(key, addr, pkt.Payload)
		}
		return
	}
	if !bytes.Equal(existing.payload, pkt.Payload) {
		existing.payload = pkt.Payload
		existing.addr = addr
		if cb.Changed != nil {
			cb.Changed(key, addr, pkt.Payload)
		}
	}
	existing.lastSeen = now
}

func (t *Tracker) purgeExpired() {
	now := time.Now()
	for key, e := range t.entries {
		if now.Sub(e.lastSeen) <= t.expiry {
			continue
		}
		delete(t.entries, key)
		coralmetrics.DiscoveryDisappearedTotal.WithLabelValues(key.ServiceType).Inc()
		if cb, ok := t.callbacks[key.ServiceType]; ok && cb.Disappeared != nil {
			cb.Disappeared(key)
		} else {
			corallog.Logger.Debug().Str("service_type", key.ServiceType).Str("service_id", key.ServiceID).Msg("discovery: entry expired with no disappeared callback registered")
		}
	}
}

// Stop halts listening and releases the socket.
func (t *Tracker) Stop() error {
	errch := make(chan error)
	t.closing <- errch
	return <-errch
}
