package provider

import (
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/coral-sim/coral/pkg/coralerr"
	"github.com/coral-sim/coral/pkg/coralsock"
	"github.com/coral-sim/coral/pkg/coralwire"
	"github.com/coral-sim/coral/pkg/corallog"
	"github.com/coral-sim/coral/pkg/discovery"
	"github.com/coral-sim/coral/pkg/model"
	"github.com/coral-sim/coral/pkg/protocol"
	"github.com/coral-sim/coral/pkg/reactor"
)

// ServiceTypeSlaveProvider is the discovery service-type string a
// slave provider beacons under (spec §4.I payload: "port(u16) giving
// the RPC port").
const ServiceTypeSlaveProvider = "coral.slave-provider"

// SlaveTypeOffer describes one slave type available somewhere in the
// cluster, and which providers currently offer it.
type SlaveTypeOffer struct {
	Description model.SlaveTypeDescription
	Providers   []string
}

type providerPeer struct {
	id     string
	conn   *coralsock.Conn
	client *protocol.Client
}

// Cluster is the master-side provider-cluster client (spec §4.H). It
// owns one reactor, a discovery.Tracker, and a protocol.Client per
// currently-known provider.
type Cluster struct {
	r       *reactor.Reactor
	tracker *discovery.Tracker

	mu    sync.Mutex
	peers map[string]*providerPeer
}

// NewCluster starts tracking slave providers by listening for their
// beacons on listenAddr (spec §4.B). partitionID and expiry are passed
// through to the underlying Tracker.
func NewCluster(listenAddr string, partitionID uint32, expiry time.Duration) (*Cluster, error) {
	tracker, err := discovery.NewTracker(listenAddr, partitionID, expiry)
	if err != nil {
		return nil, err
	}
	c := &Cluster{
		r:       reactor.New(),
		tracker: tracker,
		peers:   make(map[string]*providerPeer),
	}
	tracker.Register(ServiceTypeSlaveProvider, discovery.TrackerCallbacks{
		Appeared:    c.onAppeared,
		Changed:     c.onAppeared,
		Disappeared: c.onDisappeared,
	})
	return c, nil
}

// Start begins the reactor and the underlying tracker.
func (c *Cluster) Start() {
	c.r.Start()
	c.tracker.Start()
}

// Stop halts the tracker and every tracked provider connection.
func (c *Cluster) Stop() error {
	_ = c.tracker.Stop()
	_, err := c.r.Call(func() (any, error) {
		for id, p := range c.peers {
			_ = p.conn.Close()
			delete(c.peers, id)
		}
		return nil, nil
	})
	if stopErr := c.r.Stop(); err == nil {
		err = stopErr
	}
	return err
}

// onAppeared and onDisappeared run on the Tracker's own goroutine and
// hop onto the cluster's reactor to touch peers (spec §4.H: "On
// Tracker appeared/changed, it inserts or re-binds the RRClient... On
// disappeared, it drops the client").
func (c *Cluster) onAppeared(key discovery.ServiceKey, addr *net.UDPAddr, payload []byte) {
	port, err := discovery.DecodeProviderPort(payload)
	if err != nil {
		corallog.Logger.Warn().Err(err).Str("provider_id", key.ServiceID).Msg("provider: malformed beacon payload")
		return
	}
	rpcAddr := net.JoinHostPort(addr.IP.String(), strconv.Itoa(int(port)))
	c.r.Go(func() { c.rebind(key.ServiceID, rpcAddr) })
}

func (c *Cluster) onDisappeared(key discovery.ServiceKey) {
	c.r.Go(func() { c.drop(key.ServiceID) })
}

// rebind runs on the reactor goroutine.
func (c *Cluster) rebind(providerID, rpcAddr string) {
	c.drop(providerID)
	conn, err := coralsock.Dial("tcp", rpcAddr, 2*time.Second)
	if err != nil {
		corallog.Logger.Warn().Err(err).Str("provider_id", providerID).Str("addr", rpcAddr).Msg("provider: failed to dial")
		return
	}
	c.mu.Lock()
	c.peers[providerID] = &providerPeer{id: providerID, conn: conn, client: protocol.NewClient(conn, c.r)}
	c.mu.Unlock()
}

// drop runs on the reactor goroutine.
func (c *Cluster) drop(providerID string) {
	c.mu.Lock()
	p, ok := c.peers[providerID]
	delete(c.peers, providerID)
	c.mu.Unlock()
	if ok {
		_ = p.conn.Close()
	}
}

// KnownProviders returns the IDs of providers currently bound, mostly
// useful for tests and diagnostics.
func (c *Cluster) KnownProviders() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.peers))
	for id := range c.peers {
		ids = append(ids, id)
	}
	return ids
}

func (c *Cluster) snapshot() []*providerPeer {
	c.mu.Lock()
	defer c.mu.Unlock()
	peers := make([]*providerPeer, 0, len(c.peers))
	for _, p := range c.peers {
		peers = append(peers, p)
	}
	return peers
}

// GetSlaveTypes broadcasts GET_SLAVE_TYPES to every currently-known
// provider and aggregates the replies into a deduplicated list keyed
// by slave-type UUID (spec §4.H).
func (c *Cluster) GetSlaveTypes(timeout time.Duration, onComplete func(map[string]SlaveTypeOffer, error)) {
	c.r.Go(func() {
		peers := c.snapshot()
		offers := make(map[string]SlaveTypeOffer)
		if len(peers) == 0 {
			onComplete(offers, nil)
			return
		}
		remaining := len(peers)
		for _, p := range peers {
			p := p
			// Each callback below runs on this same reactor goroutine,
			// never concurrently with another, so offers/remaining need
			// no locking despite being shared across all the requests
			// fired in this loop.
			p.client.Request(coralwire.RPCProtocolID, coralwire.RPCVersion1, coralwire.MsgGetSlaveTypes, nil, timeout,
				func(version, replyType uint32, body []byte, err error) {
					if err == nil && replyType == coralwire.MsgSlaveTypes {
						if reply, decErr := coralwire.DecodeSlaveTypesReply(body); decErr == nil {
							for _, t := range reply.Types {
								offer := offers[t.UUID]
								offer.Description = t
								offer.Providers = append(offer.Providers, p.id)
								offers[t.UUID] = offer
							}
						}
					}
					remaining--
					if remaining == 0 {
						onComplete(offers, nil)
					}
				})
		}
	})
}

// InstantiateSlave sends INSTANTIATE_SLAVE to exactly one provider,
// using a comm timeout double the instantiation timeout (spec §4.H:
// "the instantiation timeout is the slave's startup budget; the comm
// timeout additionally covers transport").
func (c *Cluster) InstantiateSlave(providerID, typeUUID string, timeout time.Duration, onComplete func(controlLocator string, err error)) {
	c.r.Go(func() {
		c.mu.Lock()
		p, ok := c.peers[providerID]
		c.mu.Unlock()
		if !ok {
			onComplete("", coralerr.New(coralerr.OperationFailed, "unknown provider %q", providerID))
			return
		}
		body := coralwire.EncodeInstantiateSlaveRequest(coralwire.InstantiateSlaveRequest{
			TypeUUID:               typeUUID,
			InstantiationTimeoutMs: int32(timeout.Milliseconds()),
		})
		p.client.Request(coralwire.RPCProtocolID, coralwire.RPCVersion1, coralwire.MsgInstantiateSlave, body, 2*timeout,
			func(version, replyType uint32, replyBody []byte, err error) {
				if err != nil {
					onComplete("", err)
					return
				}
				if replyType != coralwire.MsgSlaveInstantiated {
					onComplete("", rpcReplyError(replyType, replyBody))
					return
				}
				reply, decErr := coralwire.DecodeSlaveInstantiatedReply(replyBody)
				if decErr != nil {
					onComplete("", coralerr.Wrap(coralerr.BadMessage, decErr, "malformed INSTANTIATE_SLAVE reply"))
					return
				}
				onComplete(reply.ControlLocator, nil)
			})
	})
}

func rpcReplyError(replyType uint32, body []byte) error {
	if replyType != coralwire.MsgRPCError {
		return coralerr.New(coralerr.BadMessage, "unexpected RPC reply type %d", replyType)
	}
	info, err := coralwire.DecodeErrorInfo(body)
	if err != nil {
		return coralerr.Wrap(coralerr.BadMessage, err, "malformed RPC error reply")
	}
	return coralerr.New(info.Code, "%s", info.Detail)
}

