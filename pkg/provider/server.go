package provider

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/coral-sim/coral/pkg/coralerr"
	"github.com/coral-sim/coral/pkg/coralsock"
	"github.com/coral-sim/coral/pkg/coralwire"
	"github.com/coral-sim/coral/pkg/corallog"
	"github.com/coral-sim/coral/pkg/discovery"
	"github.com/coral-sim/coral/pkg/model"
	"github.com/coral-sim/coral/pkg/protocol"
)

// SlaveTypeOffering is one kind of slave this provider can spawn on
// request: its static description, and the command line to launch a
// fresh instance of it. Command is typically the coral-agent binary;
// two extra arguments are appended to every spawn: "--handshake-addr"
// and "--type-uuid", so the child can report itself back and select
// the right in-process model.
type SlaveTypeOffering struct {
	Description model.SlaveTypeDescription
	Command     string
	Args        []string
}

// Server is the provider-side counterpart of Cluster (spec §4.I): it
// beacons its presence, answers GET_SLAVE_TYPES and INSTANTIATE_SLAVE,
// and spawns a child slave process per instantiation.
type Server struct {
	providerID    string
	offerings     map[string]SlaveTypeOffering // keyed by type UUID
	rpc           *protocol.Server
	rpcListen     *coralsock.Listener
	beacon        *discovery.Beacon
	spawnDeadline time.Duration
	log           zerolog.Logger
	stopOnce      sync.Once
	stopErr       error
}

// Config configures a new Server.
type Config struct {
	ProviderID      string
	RPCAddr         string // "host:port" the RPC listener binds; ":0" lets the OS choose
	BroadcastAddr   string // UDP broadcast address beacons are sent to
	PartitionID     uint32
	BeaconPeriod    time.Duration
	Offerings       []SlaveTypeOffering
	SpawnDeadline   time.Duration // safety upper bound on a child's startup, beyond any per-request instantiation timeout
}

// NewServer binds the RPC listener and the beacon, but does not start
// serving or broadcasting until Start is called.
func NewServer(cfg Config) (*Server, error) {
	listener, err := coralsock.Listen("tcp", cfg.RPCAddr)
	if err != nil {
		return nil, fmt.Errorf("provider: binding RPC listener: %w", err)
	}
	_, portStr, err := net.SplitHostPort(listener.Addr().String())
	if err != nil {
		_ = listener.Close()
		return nil, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("provider: bound to non-numeric port %q", portStr)
	}

	beacon, err := discovery.NewBeacon(cfg.BroadcastAddr, cfg.PartitionID, ServiceTypeSlaveProvider, cfg.ProviderID, cfg.BeaconPeriod)
	if err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("provider: creating beacon: %w", err)
	}
	beacon.SetPayload(discovery.EncodeProviderPort(uint16(port)))

	offerings := make(map[string]SlaveTypeOffering, len(cfg.Offerings))
	for _, o := range cfg.Offerings {
		offerings[o.Description.UUID] = o
	}

	if cfg.SpawnDeadline <= 0 {
		cfg.SpawnDeadline = 30 * time.Second
	}
	s := &Server{
		providerID:    cfg.ProviderID,
		offerings:     offerings,
		rpcListen:     listener,
		beacon:        beacon,
		spawnDeadline: cfg.SpawnDeadline,
		log:           corallog.WithComponent("provider"),
	}
	s.rpc = protocol.NewServer(listener)
	s.rpc.RegisterHandler(coralwire.RPCProtocolID, coralwire.RPCVersion1, s.handle(cfg.SpawnDeadline))
	return s, nil
}

// Addr returns the bound RPC address.
func (s *Server) Addr() string { return s.rpcListen.Addr().String() }

// Start begins serving RPCs and broadcasting beacons.
func (s *Server) Start() {
	go s.rpc.Serve()
	s.beacon.Start()
}

// Stop halts the beacon and the RPC listener. Safe to call more than
// once; only the first call does any work.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		_ = s.beacon.Stop()
		s.stopErr = s.rpc.Close()
	})
	return s.stopErr
}

func (s *Server) handle(spawnDeadline time.Duration) protocol.Handler {
	return func(version, messageType uint32, body []byte) (uint32, []byte, bool) {
		switch messageType {
		case coralwire.MsgGetSlaveTypes:
			return s.handleGetSlaveTypes()
		case coralwire.MsgInstantiateSlave:
			return s.handleInstantiateSlave(body, spawnDeadline)
		default:
			s.log.Debug().Uint32("message_type", messageType).Msg("provider: dropping unrecognized RPC")
			return 0, nil, false
		}
	}
}

func (s *Server) handleGetSlaveTypes() (uint32, []byte, bool) {
	reply := coralwire.SlaveTypesReply{Types: make([]model.SlaveTypeDescription, 0, len(s.offerings))}
	for _, o := range s.offerings {
		reply.Types = append(reply.Types, o.Description)
	}
	return coralwire.MsgSlaveTypes, coralwire.EncodeSlaveTypesReply(reply), true
}

func (s *Server) rpcErrorReply(code coralerr.Code, format string, args ...any) (uint32, []byte, bool) {
	detail := fmt.Sprintf(format, args...)
	s.log.Warn().Str("code", code.String()).Str("detail", detail).Msg("provider: RPC failed")
	return coralwire.MsgRPCError, coralwire.EncodeErrorInfo(coralwire.ErrorInfo{Code: code, Detail: detail}), true
}

func (s *Server) handleInstantiateSlave(body []byte, spawnDeadline time.Duration) (uint32, []byte, bool) {
	req, err := coralwire.DecodeInstantiateSlaveRequest(body)
	if err != nil {
		return s.rpcErrorReply(coralerr.BadMessage, "malformed INSTANTIATE_SLAVE body: %v", err)
	}
	offering, ok := s.offerings[req.TypeUUID]
	if !ok {
		return s.rpcErrorReply(coralerr.OperationFailed, "unknown slave type %q", req.TypeUUID)
	}

	instantiationTimeout := time.Duration(req.InstantiationTimeoutMs) * time.Millisecond
	if instantiationTimeout <= 0 || instantiationTimeout > spawnDeadline {
		instantiationTimeout = spawnDeadline
	}

	report, err := s.spawnAndAwaitHandshake(offering, instantiationTimeout)
	if err != nil {
		return s.rpcErrorReply(coralerr.OperationFailed, "spawning slave type %q: %v", req.TypeUUID, err)
	}
	if report.Err != "" {
		return s.rpcErrorReply(coralerr.OperationFailed, "slave process reported: %s", report.Err)
	}
	reply := coralwire.EncodeSlaveInstantiatedReply(coralwire.SlaveInstantiatedReply{ControlLocator: report.ControlLocator})
	return coralwire.MsgSlaveInstantiated, reply, true
}

// spawnAndAwaitHandshake binds a private single-use handshake
// listener, launches the child with its address passed as
// "--handshake-addr", and waits for exactly one HandshakeReport (spec
// §4.I: "waits for it to report its bound control... endpoint[] over a
// private inproc socket"). Our transport has no literal inproc
// sockets, so the private channel is an ephemeral loopback TCP
// listener instead, torn down as soon as the one expected connection
// is handled.
func (s *Server) spawnAndAwaitHandshake(offering SlaveTypeOffering, timeout time.Duration) (coralwire.HandshakeReport, error) {
	handshakeListener, err := coralsock.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return coralwire.HandshakeReport{}, fmt.Errorf("binding handshake listener: %w", err)
	}
	defer handshakeListener.Close()

	args := append([]string{}, offering.Args...)
	args = append(args,
		"--handshake-addr", handshakeListener.Addr().String(),
		"--type-uuid", offering.Description.UUID,
	)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, offering.Command, args...)
	if err := cmd.Start(); err != nil {
		return coralwire.HandshakeReport{}, fmt.Errorf("starting %s: %w", offering.Command, err)
	}
	go func() { _ = cmd.Wait() }() // reap; we don't need its exit status once handshake succeeds

	type acceptResult struct {
		conn *coralsock.Conn
		err  error
	}
	acceptCh := make(chan acceptResult, 1)
	go func() {
		conn, err := handshakeListener.Accept()
		acceptCh <- acceptResult{conn, err}
	}()

	select {
	case <-ctx.Done():
		return coralwire.HandshakeReport{}, fmt.Errorf("timed out waiting for handshake after %s", timeout)
	case res := <-acceptCh:
		if res.err != nil {
			return coralwire.HandshakeReport{}, fmt.Errorf("accepting handshake connection: %w", res.err)
		}
		defer res.conn.Close()
		_ = res.conn.SetReadDeadline(time.Now().Add(timeout))
		parts, err := res.conn.Receive()
		if err != nil {
			return coralwire.HandshakeReport{}, fmt.Errorf("reading handshake report: %w", err)
		}
		if len(parts) != 1 {
			return coralwire.HandshakeReport{}, fmt.Errorf("malformed handshake report: %d frames", len(parts))
		}
		return coralwire.DecodeHandshakeReport(parts[0])
	}
}
