package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coral-sim/coral/pkg/coralsock"
	"github.com/coral-sim/coral/pkg/coralwire"
	"github.com/coral-sim/coral/pkg/instance"
	"github.com/coral-sim/coral/pkg/instance/memmodel"
	"github.com/coral-sim/coral/pkg/model"
	"github.com/coral-sim/coral/pkg/protocol"
	"github.com/coral-sim/coral/pkg/reactor"
)

func dialControl(addr string) (*coralsock.Conn, error) {
	return coralsock.Dial("tcp", addr, 2*time.Second)
}

// harness drives one Agent through the control protocol using a
// protocol.Client on its own reactor, standing in for a messenger.
type harness struct {
	t      *testing.T
	agent  *Agent
	client *protocol.Client
	r      *reactor.Reactor
}

func newHarness(t *testing.T, inst instance.Instance) *harness {
	t.Helper()
	a, err := New(Config{
		ControlAddr:     "127.0.0.1:0",
		PeerDialTimeout: time.Second,
		Instance:        inst,
	})
	require.NoError(t, err)
	a.Start()
	t.Cleanup(func() { _ = a.Stop() })

	r := reactor.New()
	r.Start()
	t.Cleanup(func() { _ = r.Stop() })

	conn, err := dialControl(a.ControlAddr())
	require.NoError(t, err)
	c := protocol.NewClient(conn, r)

	return &harness{t: t, agent: a, client: c, r: r}
}

func (h *harness) request(messageType uint32, body []byte) (uint32, []byte, error) {
	h.t.Helper()
	type result struct {
		messageType uint32
		body        []byte
		err         error
	}
	done := make(chan result, 1)
	h.r.Go(func() {
		h.client.Request(coralwire.ControlProtocolID, coralwire.ControlVersion1, messageType, body, 2*time.Second,
			func(version, replyMessageType uint32, replyBody []byte, err error) {
				done <- result{replyMessageType, replyBody, err}
			})
	})
	res := <-done
	return res.messageType, res.body, res.err
}

func (h *harness) hello() {
	h.t.Helper()
	mt, body, err := h.request(coralwire.MsgHello, coralwire.EncodeVersion(coralwire.ControlVersion1))
	require.NoError(h.t, err)
	require.Equal(h.t, coralwire.MsgHello, mt)
	v, err := coralwire.DecodeVersion(body)
	require.NoError(h.t, err)
	require.Equal(h.t, coralwire.ControlVersion1, v)
}

func (h *harness) setup(slaveID uint32) {
	h.t.Helper()
	mt, _, err := h.request(coralwire.MsgSetup, coralwire.EncodeSetupData(coralwire.SetupData{
		SlaveID:               slaveID,
		StartTime:             0,
		ExecutionName:         "e2e",
		SlaveName:             "mass",
		VariableRecvTimeoutMs: 500,
	}))
	require.NoError(h.t, err)
	require.Equal(h.t, coralwire.MsgReady, mt)
}

func TestAgentHelloSetupStepLifecycle(t *testing.T) {
	h := newHarness(t, memmodel.NewMass(1, 0, 0, 0))
	h.hello()
	h.setup(1)
	require.Equal(t, model.AgentReady, h.agent.State())

	mt, _, err := h.request(coralwire.MsgStep, coralwire.EncodeStepData(coralwire.StepData{StepID: 1, Timepoint: 0, Stepsize: 0.1}))
	require.NoError(t, err)
	require.Equal(t, coralwire.MsgStepOK, mt)
	require.Equal(t, model.AgentStepOK, h.agent.State())

	mt, _, err = h.request(coralwire.MsgAcceptStep, nil)
	require.NoError(t, err)
	require.Equal(t, coralwire.MsgReady, mt)
	require.Equal(t, model.AgentReady, h.agent.State())
}

func TestAgentHelloDeniedOnUnsupportedVersion(t *testing.T) {
	h := newHarness(t, memmodel.NewMass(1, 0, 0, 0))
	mt, _, err := h.request(coralwire.MsgHello, coralwire.EncodeVersion(0))
	require.NoError(t, err)
	require.Equal(t, coralwire.MsgDenied, mt)
}

func TestAgentDescribeReturnsTypeDescription(t *testing.T) {
	h := newHarness(t, memmodel.NewMass(1, 0, 0, 0))
	h.hello()
	h.setup(1)

	mt, body, err := h.request(coralwire.MsgDescribe, nil)
	require.NoError(t, err)
	require.Equal(t, coralwire.MsgDescribe, mt)
	desc, err := coralwire.DecodeSlaveDescription(body)
	require.NoError(t, err)
	require.Equal(t, "Mass", desc.TypeDescription.Name)
}

func TestAgentStepFailedLatchesState(t *testing.T) {
	h := newHarness(t, &failingInstance{Mass: memmodel.NewMass(1, 0, 0, 0)})
	h.hello()
	h.setup(1)

	mt, _, err := h.request(coralwire.MsgStep, coralwire.EncodeStepData(coralwire.StepData{StepID: 1, Timepoint: 0, Stepsize: 0.1}))
	require.NoError(t, err)
	require.Equal(t, coralwire.MsgStepFailed, mt)
	require.Equal(t, model.AgentStepFailed, h.agent.State())
}

func TestAgentTwoMassesCoupleThroughBarrier(t *testing.T) {
	m1 := memmodel.NewMass(1, 0, 10, 1.0)
	m2 := memmodel.NewMass(1, 0, 10, 0.0)
	h1 := newHarness(t, m1)
	h2 := newHarness(t, m2)

	h1.hello()
	h1.setup(1)
	h2.hello()
	h2.setup(2)

	// Wire m2's force input to m1's position output via a SET_VARS
	// connection, then SET_PEERS m2 against m1's publisher endpoint.
	conn1to2 := coralwire.Connection{SlaveID: 1, VariableID: uint32(memmodel.VarPosition)}
	mt, _, err := h2.request(coralwire.MsgSetVars, coralwire.EncodeSetVarsData(coralwire.SetVarsData{
		Variable: []coralwire.VariableSettingWire{
			{VariableID: uint32(memmodel.VarForce), ConnectedOutput: &conn1to2},
		},
	}))
	require.NoError(t, err)
	require.Equal(t, coralwire.MsgReady, mt)

	mt, _, err = h2.request(coralwire.MsgSetPeers, coralwire.EncodeSetPeersData(coralwire.SetPeersData{
		Peers: []coralwire.PeerEndpoint{{SlaveID: 1, Endpoint: h1.agent.publisher.Addr()}},
	}))
	require.NoError(t, err)
	require.Equal(t, coralwire.MsgReady, mt)

	mt, _, err = h1.request(coralwire.MsgStep, coralwire.EncodeStepData(coralwire.StepData{StepID: 1, Timepoint: 0, Stepsize: 0.1}))
	require.NoError(t, err)
	require.Equal(t, coralwire.MsgStepOK, mt)

	mt, _, err = h2.request(coralwire.MsgStep, coralwire.EncodeStepData(coralwire.StepData{StepID: 1, Timepoint: 0, Stepsize: 0.1}))
	require.NoError(t, err)
	require.Equal(t, coralwire.MsgStepOK, mt)

	mt, _, err = h2.request(coralwire.MsgAcceptStep, nil)
	require.NoError(t, err)
	require.Equal(t, coralwire.MsgReady, mt)

	force, err := m2.GetValue(memmodel.VarForce)
	require.NoError(t, err)
	require.InDelta(t, 1.0, force.Real, 1e-9)
}

func TestAgentTerminateClosesReactor(t *testing.T) {
	h := newHarness(t, memmodel.NewMass(1, 0, 0, 0))
	h.hello()
	h.setup(1)

	h.r.Go(func() {
		h.client.Request(coralwire.ControlProtocolID, coralwire.ControlVersion1, coralwire.MsgTerminate, nil, 100*time.Millisecond,
			func(version, replyMessageType uint32, replyBody []byte, err error) {})
	})
	require.Eventually(t, func() bool {
		return h.agent.State() == model.AgentTerminated
	}, 2*time.Second, 10*time.Millisecond)
}

// failingInstance always fails DoStep, to exercise STEP_FAILED.
type failingInstance struct {
	*memmodel.Mass
}

func (f *failingInstance) DoStep(t, stepSize float64) bool { return false }
