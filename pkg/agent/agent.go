package agent

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/coral-sim/coral/pkg/coralerr"
	"github.com/coral-sim/coral/pkg/corallog"
	"github.com/coral-sim/coral/pkg/coralsock"
	"github.com/coral-sim/coral/pkg/coralwire"
	"github.com/coral-sim/coral/pkg/instance"
	"github.com/coral-sim/coral/pkg/model"
	"github.com/coral-sim/coral/pkg/network"
	"github.com/coral-sim/coral/pkg/protocol"
	"github.com/coral-sim/coral/pkg/reactor"
	"github.com/coral-sim/coral/pkg/transport"
)

// unboundedRecvTimeout stands in for "no timeout" when a SETUP's
// variable_recv_timeout_ms is negative; the wire format has no literal
// infinity, so a day is used as a practically-unbounded sentinel.
const unboundedRecvTimeout = 24 * time.Hour

// Config configures a new Agent.
type Config struct {
	// ControlAddr is the "host:port" the control REP listener binds.
	// An empty host or a ":0" port lets the OS choose.
	ControlAddr string
	// PeerDialTimeout bounds how long the subscriber waits when
	// dialing a peer's publisher in response to SET_PEERS/Connect.
	PeerDialTimeout time.Duration
	// MasterInactivityTimeout, if positive, terminates the agent if no
	// control command arrives within the interval (spec §4.E "Master
	// inactivity timeout"). Zero disables it.
	MasterInactivityTimeout time.Duration
	// Instance is the model this agent drives. Required.
	Instance instance.Instance
}

// Agent is the in-slave control server (spec §4.E).
type Agent struct {
	cfg      Config
	reactor  *reactor.Reactor
	server   *protocol.Server
	listener *coralsock.Listener
	log      zerolog.Logger
	stopped  atomic.Bool

	// The fields below are only ever read or written on the reactor
	// goroutine — inside a handler dispatched through r.Call, or inside
	// a timer callback, both of which the reactor serializes.
	state               model.AgentState
	slaveID             model.SlaveID
	executionName       string
	slaveName           string
	startTime           float64
	stopTime            *float64
	variableRecvTimeout time.Duration
	publisher           *transport.Publisher
	subscriber          *transport.Subscriber
	currentStep         model.StepID
	inactivityTimer     reactor.TimerID
}

// New binds the control listener and constructs an Agent. The agent
// does not begin serving until Start is called.
func New(cfg Config) (*Agent, error) {
	if cfg.Instance == nil {
		return nil, fmt.Errorf("agent: Config.Instance is required")
	}
	listener, err := coralsock.Listen("tcp", cfg.ControlAddr)
	if err != nil {
		return nil, fmt.Errorf("agent: binding control listener: %w", err)
	}

	a := &Agent{
		cfg:        cfg,
		reactor:    reactor.New(),
		listener:   listener,
		log:        corallog.WithComponent("agent"),
		state:      model.AgentNotConnected,
		subscriber: transport.NewSubscriber(cfg.PeerDialTimeout),
	}
	a.server = protocol.NewServer(listener)
	a.server.RegisterHandler(coralwire.ControlProtocolID, coralwire.ControlVersion1, a.handle)
	return a, nil
}

// ControlAddr returns the bound control address.
func (a *Agent) ControlAddr() string { return a.listener.Addr().String() }

// Start begins the reactor loop and the control server.
func (a *Agent) Start() {
	a.reactor.Start()
	go a.server.Serve()
	a.reactor.Go(a.armInactivityTimer)
}

// Stop tears the agent down from outside the reactor goroutine: used
// by an owning process (e.g. on SIGTERM), as opposed to the in-band
// TERMINATE command which schedules the same teardown asynchronously
// from within a handler.
func (a *Agent) Stop() error {
	if !a.stopped.CompareAndSwap(false, true) {
		return nil // already torn down, e.g. via TERMINATE or the inactivity timeout
	}
	_ = a.server.Close()
	_, _ = a.reactor.Call(func() (any, error) {
		a.closeResources()
		return nil, nil
	})
	return a.reactor.Stop()
}

// State reports the agent's current control state, safe to call from
// any goroutine.
func (a *Agent) State() model.AgentState {
	v, _ := a.reactor.Call(func() (any, error) { return a.state, nil })
	return v.(model.AgentState)
}

func (a *Agent) closeResources() {
	if a.publisher != nil {
		_ = a.publisher.Close()
	}
	a.subscriber.Close()
}

func (a *Agent) armInactivityTimer() {
	if a.cfg.MasterInactivityTimeout <= 0 {
		return
	}
	a.inactivityTimer = a.reactor.AddTimer(a.cfg.MasterInactivityTimeout, a.onInactivityTimeout)
}

func (a *Agent) resetInactivityTimer() {
	if a.cfg.MasterInactivityTimeout <= 0 {
		return
	}
	a.reactor.CancelTimer(a.inactivityTimer)
	a.inactivityTimer = a.reactor.AddTimer(a.cfg.MasterInactivityTimeout, a.onInactivityTimeout)
}

func (a *Agent) onInactivityTimeout() {
	a.log.Warn().Dur("timeout", a.cfg.MasterInactivityTimeout).Msg("no control command received; terminating")
	a.state = model.AgentTerminated
	a.shutdownAsync()
}

// shutdownAsync tears the agent down from inside a reactor-goroutine
// callback, where calling r.Stop() directly would deadlock the run
// loop against its own in-flight callback.
func (a *Agent) shutdownAsync() {
	if !a.stopped.CompareAndSwap(false, true) {
		return
	}
	go func() {
		_ = a.server.Close()
		_, _ = a.reactor.Call(func() (any, error) {
			a.closeResources()
			return nil, nil
		})
		_ = a.reactor.Stop()
	}()
}

// reply is the result of handling one control request.
type reply struct {
	messageType uint32
	body        []byte
	ok          bool
}

// handle is the protocol.Handler registered for the control protocol;
// it hops onto the reactor goroutine for the entire dispatch so every
// handler below runs with exclusive access to agent state.
func (a *Agent) handle(version, messageType uint32, body []byte) (uint32, []byte, bool) {
	v, _ := a.reactor.Call(func() (any, error) {
		a.resetInactivityTimer()
		return a.dispatch(messageType, body), nil
	})
	r := v.(reply)
	return r.messageType, r.body, r.ok
}

func (a *Agent) dispatch(messageType uint32, body []byte) reply {
	switch messageType {
	case coralwire.MsgHello:
		return a.handleHello(body)
	case coralwire.MsgSetup:
		return a.handleSetup(body)
	case coralwire.MsgSetVars:
		return a.handleSetVars(body)
	case coralwire.MsgSetPeers:
		return a.handleSetPeers(body)
	case coralwire.MsgStep:
		return a.handleStep(body)
	case coralwire.MsgAcceptStep:
		return a.handleAcceptStep()
	case coralwire.MsgDescribe:
		return a.handleDescribe()
	case coralwire.MsgResendVars:
		return a.handleResendVars()
	case coralwire.MsgTerminate:
		return a.handleTerminate()
	default:
		a.log.Debug().Uint32("message_type", messageType).Msg("dropping unrecognized control message")
		return reply{}
	}
}

func (a *Agent) errorReply(code coralerr.Code, format string, args ...any) reply {
	detail := fmt.Sprintf(format, args...)
	a.log.Warn().Str("code", code.String()).Str("detail", detail).Msg("control request failed")
	return reply{
		messageType: coralwire.MsgError,
		body:        coralwire.EncodeErrorInfo(coralwire.ErrorInfo{Code: code, Detail: detail}),
		ok:          true,
	}
}

func (a *Agent) handleHello(body []byte) reply {
	requested, err := coralwire.DecodeVersion(body)
	if err != nil {
		return a.errorReply(coralerr.BadMessage, "malformed HELLO body: %v", err)
	}
	if requested < coralwire.ControlVersion1 {
		return reply{messageType: coralwire.MsgDenied, body: coralwire.EncodeVersion(coralwire.ControlVersion1), ok: true}
	}
	a.state = model.AgentConnected
	return reply{messageType: coralwire.MsgHello, body: coralwire.EncodeVersion(coralwire.ControlVersion1), ok: true}
}

func (a *Agent) handleSetup(body []byte) reply {
	d, err := coralwire.DecodeSetupData(body)
	if err != nil {
		return a.errorReply(coralerr.BadMessage, "malformed SETUP body: %v", err)
	}

	pub, err := transport.NewPublisher(publisherBindAddr(d.VariablePubEndpoint))
	if err != nil {
		return a.errorReply(coralerr.OperationFailed, "binding publisher: %v", err)
	}
	if err := a.cfg.Instance.Setup(d.StartTime, d.StopTime); err != nil {
		_ = pub.Close()
		return a.errorReply(coralerr.OperationFailed, "instance setup failed: %v", err)
	}

	a.slaveID = model.SlaveID(d.SlaveID)
	a.executionName = d.ExecutionName
	a.slaveName = d.SlaveName
	a.startTime = d.StartTime
	a.stopTime = d.StopTime
	a.variableRecvTimeout = recvTimeout(d.VariableRecvTimeoutMs)
	a.publisher = pub
	a.state = model.AgentReady

	a.log = corallog.WithSlaveID(corallog.WithExecutionName(a.log, a.executionName), uint16(a.slaveID))
	readyBody := coralwire.EncodeReadyData(coralwire.ReadyData{VariablePubEndpoint: pub.Addr()})
	return reply{messageType: coralwire.MsgReady, body: readyBody, ok: true}
}

func (a *Agent) handleSetVars(body []byte) reply {
	d, err := coralwire.DecodeSetVarsData(body)
	if err != nil {
		return a.errorReply(coralerr.BadMessage, "malformed SET_VARS body: %v", err)
	}
	var failures []string
	for _, item := range d.Variable {
		if item.Value != nil {
			if err := a.cfg.Instance.SetValue(model.VariableID(item.VariableID), *item.Value); err != nil {
				failures = append(failures, fmt.Sprintf("variable %d: %v", item.VariableID, err))
			}
		}
		if item.ConnectedOutput != nil {
			a.subscriber.AddConnection(
				model.SlaveID(item.ConnectedOutput.SlaveID),
				model.VariableID(item.ConnectedOutput.VariableID),
				model.VariableID(item.VariableID),
			)
		}
	}
	if len(failures) > 0 {
		return a.errorReply(coralerr.OperationFailed, "cannot set variable(s): %s", strings.Join(failures, "; "))
	}
	return reply{messageType: coralwire.MsgReady, ok: true}
}

func (a *Agent) handleSetPeers(body []byte) reply {
	d, err := coralwire.DecodeSetPeersData(body)
	if err != nil {
		return a.errorReply(coralerr.BadMessage, "malformed SET_PEERS body: %v", err)
	}
	endpoints := make(map[model.SlaveID]string, len(d.Peers))
	for _, p := range d.Peers {
		endpoints[model.SlaveID(p.SlaveID)] = p.Endpoint
	}
	if err := a.subscriber.SetPeers(endpoints); err != nil {
		return a.errorReply(coralerr.OperationFailed, "set peers: %v", err)
	}
	return reply{messageType: coralwire.MsgReady, ok: true}
}

func (a *Agent) handleStep(body []byte) reply {
	if a.state != model.AgentReady {
		return a.errorReply(coralerr.OperationFailed, "STEP received in state %s", a.state)
	}
	d, err := coralwire.DecodeStepData(body)
	if err != nil {
		return a.errorReply(coralerr.BadMessage, "malformed STEP body: %v", err)
	}
	if !a.cfg.Instance.DoStep(d.Timepoint, d.Stepsize) {
		a.state = model.AgentStepFailed
		return reply{messageType: coralwire.MsgStepFailed, ok: true}
	}
	a.currentStep = model.StepID(d.StepID)
	a.publishOutputs()
	a.state = model.AgentStepOK
	return reply{messageType: coralwire.MsgStepOK, ok: true}
}

func (a *Agent) handleAcceptStep() reply {
	if a.state != model.AgentStepOK {
		return a.errorReply(coralerr.OperationFailed, "ACCEPT_STEP received in state %s", a.state)
	}
	if err := a.runBarrier(); err != nil {
		return a.errorReply(coralerr.CodeOf(err), "%v", err)
	}
	a.state = model.AgentReady
	return reply{messageType: coralwire.MsgReady, ok: true}
}

func (a *Agent) handleDescribe() reply {
	td := a.cfg.Instance.TypeDescription()
	body := coralwire.EncodeSlaveDescription(coralwire.SlaveDescription{TypeDescription: td})
	return reply{messageType: coralwire.MsgDescribe, body: body, ok: true}
}

func (a *Agent) handleResendVars() reply {
	if a.state != model.AgentReady {
		return a.errorReply(coralerr.OperationFailed, "RESEND_VARS received in state %s", a.state)
	}
	a.publishOutputs()
	if err := a.runBarrier(); err != nil {
		return a.errorReply(coralerr.CodeOf(err), "%v", err)
	}
	return reply{messageType: coralwire.MsgReady, ok: true}
}

func (a *Agent) handleTerminate() reply {
	a.state = model.AgentTerminated
	a.shutdownAsync()
	// Spec §4.E: "Acknowledged by closing the reactor" — no explicit
	// reply frame; the messenger's Terminate() doesn't wait for one.
	return reply{}
}

// publishOutputs publishes the current value of every output and
// calculated-parameter variable at the current step.
func (a *Agent) publishOutputs() {
	for _, v := range a.cfg.Instance.TypeDescription().Variables {
		if v.Causality != model.CausalityOutput && v.Causality != model.CausalityCalculatedParameter {
			continue
		}
		val, err := a.cfg.Instance.GetValue(v.ID)
		if err != nil {
			a.log.Warn().Err(err).Uint16("variable_id", uint16(v.ID)).Msg("failed to read output for publish")
			continue
		}
		a.publisher.PublishValue(a.currentStep, a.slaveID, v.ID, val)
	}
}

// runBarrier waits for every connected input to deliver a sample for
// the current step and applies the results to the instance.
func (a *Agent) runBarrier() error {
	results, err := a.subscriber.Update(a.currentStep, a.variableRecvTimeout)
	if err != nil {
		return err
	}
	for varID, val := range results {
		if err := a.cfg.Instance.SetValue(varID, val); err != nil {
			a.log.Warn().Err(err).Uint16("variable_id", uint16(varID)).Msg("failed to apply barrier input")
		}
	}
	return nil
}

func recvTimeout(ms int32) time.Duration {
	if ms < 0 {
		return unboundedRecvTimeout
	}
	return time.Duration(ms) * time.Millisecond
}

// publisherBindAddr resolves a SETUP-assigned publish endpoint to a
// bindable "host:port". An empty endpoint lets the OS choose a port.
func publisherBindAddr(endpoint string) string {
	if endpoint == "" {
		return ":0"
	}
	loc, err := network.Parse(endpoint)
	if err != nil {
		return ":0"
	}
	return loc.HostPort()
}
