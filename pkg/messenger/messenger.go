package messenger

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/coral-sim/coral/pkg/coralerr"
	"github.com/coral-sim/coral/pkg/coralsock"
	"github.com/coral-sim/coral/pkg/coralwire"
	"github.com/coral-sim/coral/pkg/corallog"
	"github.com/coral-sim/coral/pkg/model"
	"github.com/coral-sim/coral/pkg/protocol"
	"github.com/coral-sim/coral/pkg/reactor"
)

// SetupParams carries everything a SETUP command needs beyond the
// slave ID, which the execution manager assigns separately.
type SetupParams struct {
	StartTime             float64
	StopTime              *float64
	ExecutionName         string
	SlaveName             string
	VariableRecvTimeoutMs int32
}

// VariableSetting mirrors model.VariableSetting, reproduced here so
// callers of set_variables don't need to depend on pkg/coralwire's
// wire types directly.
type VariableSetting = model.VariableSetting

// Messenger is the master-side handle for one slave's control
// connection (spec §4.F). It owns its own Reactor, so one Messenger's
// commands never serialize against another's.
type Messenger struct {
	conn   *coralsock.Conn
	client *protocol.Client
	r      *reactor.Reactor
	log    zerolog.Logger

	closed atomic.Bool

	mu              sync.Mutex
	state           model.MessengerState
	busy            bool
	protocolVersion uint32
	slaveID         model.SlaveID
	variablePubAddr string // reported back by SETUP's READY, see coralwire.ReadyData
}

// State returns the messenger's current public state.
func (m *Messenger) State() model.MessengerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Busy reports whether a command is currently outstanding.
func (m *Messenger) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.busy
}

// SlaveID returns the ID this messenger's slave was assigned by Setup.
func (m *Messenger) SlaveID() model.SlaveID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slaveID
}

// VariablePubAddr returns the endpoint the slave's publisher actually
// bound to, as learned from the SETUP reply. Empty until Setup
// succeeds.
func (m *Messenger) VariablePubAddr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.variablePubAddr
}

func (m *Messenger) setState(s model.MessengerState) {
	m.mu.Lock()
	prev := m.state
	m.state = s
	m.mu.Unlock()
	if prev != s {
		m.log.Debug().Stringer("from", prev).Stringer("to", s).Msg("messenger state change")
	}
}

// Connect dials a slave agent's control endpoint and negotiates HELLO,
// retrying up to maxAttempts times on a timed-out reply (a slave that
// is slow to come up, not one that has actively rejected us). On
// success onComplete receives a fresh Messenger in the CONNECTED
// state; the caller then calls Setup to complete the handshake.
func Connect(addr string, dialTimeout time.Duration, maxAttempts int, requestTimeout time.Duration, onComplete func(*Messenger, error)) {
	go func() {
		conn, err := coralsock.Dial("tcp", addr, dialTimeout)
		if err != nil {
			onComplete(nil, coralerr.Wrap(coralerr.ConnectionRefused, err, "dial %s", addr))
			return
		}
		r := reactor.New()
		r.Start()
		m := &Messenger{
			conn:   conn,
			client: protocol.NewClient(conn, r),
			r:      r,
			log:    corallog.WithComponent("messenger"),
			state:  model.AgentNotConnected,
		}
		r.Go(func() { m.hello(maxAttempts, requestTimeout, onComplete) })
	}()
}

func (m *Messenger) hello(attemptsLeft int, timeout time.Duration, onComplete func(*Messenger, error)) {
	m.client.Request(coralwire.ControlProtocolID, coralwire.ControlVersion1, coralwire.MsgHello,
		coralwire.EncodeVersion(coralwire.ControlVersion1), timeout,
		func(version, replyType uint32, body []byte, err error) {
			if err != nil {
				if coralerr.Is(err, coralerr.TimedOut) && attemptsLeft > 1 {
					m.hello(attemptsLeft-1, timeout, onComplete)
					return
				}
				_ = m.conn.Close()
				_ = m.r.Stop()
				onComplete(nil, err)
				return
			}
			switch replyType {
			case coralwire.MsgHello:
				negotiated, decErr := coralwire.DecodeVersion(body)
				if decErr != nil {
					_ = m.conn.Close()
					_ = m.r.Stop()
					onComplete(nil, coralerr.Wrap(coralerr.BadMessage, decErr, "malformed HELLO reply"))
					return
				}
				m.protocolVersion = negotiated
				m.setState(model.AgentConnected)
				onComplete(m, nil)
			case coralwire.MsgDenied:
				_ = m.conn.Close()
				_ = m.r.Stop()
				onComplete(nil, coralerr.New(coralerr.PermissionDenied, "slave denied HELLO"))
			default:
				_ = m.conn.Close()
				_ = m.r.Stop()
				onComplete(nil, coralerr.New(coralerr.BadMessage, "unexpected reply %d to HELLO", replyType))
			}
		})
}

// issue runs the single-outstanding-command invariant and dispatches
// onReply on this messenger's reactor goroutine. Must be called from
// that goroutine (i.e. from inside an r.Go closure).
func (m *Messenger) issue(messageType uint32, body []byte, timeout time.Duration, onReply func(replyType uint32, body []byte, err error)) {
	m.mu.Lock()
	if m.busy {
		m.mu.Unlock()
		onReply(0, nil, coralerr.New(coralerr.Unknown, "messenger: command already outstanding"))
		return
	}
	m.busy = true
	m.mu.Unlock()

	m.client.Request(coralwire.ControlProtocolID, m.protocolVersion, messageType, body, timeout,
		func(version, replyType uint32, replyBody []byte, err error) {
			m.mu.Lock()
			m.busy = false
			m.mu.Unlock()
			onReply(replyType, replyBody, err)
		})
}

// replyError turns an unexpected reply (anything other than the
// caller's expected success type) into a typed error: MsgError
// carries a coralerr code from the slave itself, MsgFatalError the
// same but Fatal, anything else is BadMessage.
func replyError(replyType uint32, body []byte) error {
	switch replyType {
	case coralwire.MsgError, coralwire.MsgFatalError:
		info, err := coralwire.DecodeErrorInfo(body)
		if err != nil {
			return coralerr.Wrap(coralerr.BadMessage, err, "malformed error reply")
		}
		if replyType == coralwire.MsgFatalError {
			return coralerr.New(coralerr.Fatal, "%s", info.Detail)
		}
		return coralerr.New(info.Code, "%s", info.Detail)
	default:
		return coralerr.New(coralerr.BadMessage, "unexpected reply type %d", replyType)
	}
}

// Setup sends SETUP and, on READY, transitions to READY — the
// "make_messenger" step of spec §4.F. slaveID is the ID the execution
// manager has already assigned this slave.
func (m *Messenger) Setup(slaveID model.SlaveID, p SetupParams, timeout time.Duration, onComplete func(error)) {
	m.r.Go(func() {
		m.mu.Lock()
		m.slaveID = slaveID
		m.mu.Unlock()
		body := coralwire.EncodeSetupData(coralwire.SetupData{
			SlaveID:               uint32(slaveID),
			StartTime:             p.StartTime,
			StopTime:              p.StopTime,
			ExecutionName:         p.ExecutionName,
			SlaveName:             p.SlaveName,
			VariableRecvTimeoutMs: p.VariableRecvTimeoutMs,
		})
		m.issue(coralwire.MsgSetup, body, timeout, func(replyType uint32, replyBody []byte, err error) {
			if err != nil {
				onComplete(err)
				return
			}
			if replyType != coralwire.MsgReady {
				onComplete(replyError(replyType, replyBody))
				return
			}
			if ready, decErr := coralwire.DecodeReadyData(replyBody); decErr == nil && ready.VariablePubEndpoint != "" {
				m.mu.Lock()
				m.variablePubAddr = ready.VariablePubEndpoint
				m.mu.Unlock()
			}
			m.setState(model.AgentReady)
			onComplete(nil)
		})
	})
}

// GetDescription sends DESCRIBE.
func (m *Messenger) GetDescription(timeout time.Duration, onComplete func(model.SlaveTypeDescription, error)) {
	m.r.Go(func() {
		m.issue(coralwire.MsgDescribe, nil, timeout, func(replyType uint32, body []byte, err error) {
			if err != nil {
				onComplete(model.SlaveTypeDescription{}, err)
				return
			}
			if replyType != coralwire.MsgDescribe {
				onComplete(model.SlaveTypeDescription{}, replyError(replyType, body))
				return
			}
			desc, decErr := coralwire.DecodeSlaveDescription(body)
			onComplete(desc.TypeDescription, decErr)
		})
	})
}

// SetVariables sends SET_VARS for the given settings.
func (m *Messenger) SetVariables(settings []VariableSetting, timeout time.Duration, onComplete func(error)) {
	m.r.Go(func() {
		wire := make([]coralwire.VariableSettingWire, len(settings))
		for i, s := range settings {
			w := coralwire.VariableSettingWire{VariableID: uint32(s.Variable)}
			if s.Value != nil {
				v := *s.Value
				w.Value = &v
			}
			if s.ConnectedOutput != nil {
				w.ConnectedOutput = &coralwire.Connection{
					SlaveID:    uint32(s.ConnectedOutput.Slave),
					VariableID: uint32(s.ConnectedOutput.Variable),
				}
			}
			wire[i] = w
		}
		body := coralwire.EncodeSetVarsData(coralwire.SetVarsData{Variable: wire})
		m.issue(coralwire.MsgSetVars, body, timeout, func(replyType uint32, replyBody []byte, err error) {
			if err != nil {
				onComplete(err)
				return
			}
			if replyType != coralwire.MsgReady {
				onComplete(replyError(replyType, replyBody))
				return
			}
			m.setState(model.AgentReady)
			onComplete(nil)
		})
	})
}

// SetPeers sends SET_PEERS with the given (slave ID, endpoint) pairs.
func (m *Messenger) SetPeers(peers map[model.SlaveID]string, timeout time.Duration, onComplete func(error)) {
	m.r.Go(func() {
		wire := make([]coralwire.PeerEndpoint, 0, len(peers))
		for id, endpoint := range peers {
			wire = append(wire, coralwire.PeerEndpoint{SlaveID: uint32(id), Endpoint: endpoint})
		}
		body := coralwire.EncodeSetPeersData(coralwire.SetPeersData{Peers: wire})
		m.issue(coralwire.MsgSetPeers, body, timeout, func(replyType uint32, replyBody []byte, err error) {
			if err != nil {
				onComplete(err)
				return
			}
			if replyType != coralwire.MsgReady {
				onComplete(replyError(replyType, replyBody))
				return
			}
			m.setState(model.AgentReady)
			onComplete(nil)
		})
	})
}

// ResendVars sends RESEND_VARS, used to prime freshly-connected peers.
func (m *Messenger) ResendVars(timeout time.Duration, onComplete func(error)) {
	m.r.Go(func() {
		m.issue(coralwire.MsgResendVars, nil, timeout, func(replyType uint32, replyBody []byte, err error) {
			if err != nil {
				onComplete(err)
				return
			}
			if replyType != coralwire.MsgReady {
				onComplete(replyError(replyType, replyBody))
				return
			}
			m.setState(model.AgentReady)
			onComplete(nil)
		})
	})
}

// Step sends STEP(stepID, t, dt). onComplete's bool result is true on
// STEP_OK, false on STEP_FAILED; a non-nil error means the command
// itself could not be completed (timeout, connection loss).
func (m *Messenger) Step(stepID model.StepID, t, dt float64, timeout time.Duration, onComplete func(ok bool, err error)) {
	m.r.Go(func() {
		body := coralwire.EncodeStepData(coralwire.StepData{StepID: uint64(stepID), Timepoint: t, Stepsize: dt})
		m.issue(coralwire.MsgStep, body, timeout, func(replyType uint32, replyBody []byte, err error) {
			if err != nil {
				onComplete(false, err)
				return
			}
			switch replyType {
			case coralwire.MsgStepOK:
				m.setState(model.AgentStepOK)
				onComplete(true, nil)
			case coralwire.MsgStepFailed:
				m.setState(model.AgentStepFailed)
				onComplete(false, nil)
			default:
				onComplete(false, replyError(replyType, replyBody))
			}
		})
	})
}

// AcceptStep sends ACCEPT_STEP.
func (m *Messenger) AcceptStep(timeout time.Duration, onComplete func(error)) {
	m.r.Go(func() {
		m.issue(coralwire.MsgAcceptStep, nil, timeout, func(replyType uint32, replyBody []byte, err error) {
			if err != nil {
				onComplete(err)
				return
			}
			if replyType != coralwire.MsgReady {
				onComplete(replyError(replyType, replyBody))
				return
			}
			m.setState(model.AgentReady)
			onComplete(nil)
		})
	})
}

// Close abandons any in-flight command (its callback fires with
// Aborted) and drops the socket without notifying the slave. The
// messenger ends up NOT_CONNECTED either way. Calling Close more than
// once, or after Terminate, is a no-op.
func (m *Messenger) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	_, _ = m.r.Call(func() (any, error) {
		m.client.Abort(coralerr.New(coralerr.Aborted, "messenger closed"))
		m.setState(model.AgentNotConnected)
		return nil, nil
	})
	err := m.conn.Close()
	_ = m.r.Stop()
	return err
}

// Terminate sends TERMINATE out-of-order (ahead of any queued
// command) and then closes, same as Close. It does not wait for a
// reply, since the slave's agent never sends one to TERMINATE.
// Calling Terminate more than once, or after Close, is a no-op.
func (m *Messenger) Terminate() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	_, _ = m.r.Call(func() (any, error) {
		_ = m.conn.Send([][]byte{
			coralwire.EncodeControlHeader(coralwire.ControlHeader{
				ProtocolID:  coralwire.ControlProtocolID,
				Version:     m.protocolVersion,
				MessageType: coralwire.MsgTerminate,
			}),
			nil,
		})
		m.setState(model.AgentNotConnected)
		return nil, nil
	})
	err := m.conn.Close()
	_ = m.r.Stop()
	return err
}
