package messenger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coral-sim/coral/pkg/agent"
	"github.com/coral-sim/coral/pkg/instance"
	"github.com/coral-sim/coral/pkg/instance/memmodel"
	"github.com/coral-sim/coral/pkg/model"
)

func startAgent(t *testing.T, inst instance.Instance) *agent.Agent {
	t.Helper()
	a, err := agent.New(agent.Config{
		ControlAddr:     "127.0.0.1:0",
		PeerDialTimeout: time.Second,
		Instance:        inst,
	})
	require.NoError(t, err)
	a.Start()
	t.Cleanup(func() { _ = a.Stop() })
	return a
}

func connect(t *testing.T, addr string) *Messenger {
	t.Helper()
	done := make(chan struct {
		m   *Messenger
		err error
	}, 1)
	Connect(addr, time.Second, 3, time.Second, func(m *Messenger, err error) {
		done <- struct {
			m   *Messenger
			err error
		}{m, err}
	})
	res := <-done
	require.NoError(t, res.err)
	t.Cleanup(func() { _ = res.m.Close() })
	return res.m
}

func setup(t *testing.T, m *Messenger, slaveID model.SlaveID) {
	t.Helper()
	errCh := make(chan error, 1)
	m.Setup(slaveID, SetupParams{ExecutionName: "e2e", SlaveName: "mass", VariableRecvTimeoutMs: 500}, time.Second, func(err error) {
		errCh <- err
	})
	require.NoError(t, <-errCh)
	require.Equal(t, model.AgentReady, m.State())
}

func TestMessengerConnectSetupLifecycle(t *testing.T) {
	a := startAgent(t, memmodel.NewMass(1, 0, 0, 0))
	m := connect(t, a.ControlAddr())
	require.Equal(t, model.AgentConnected, m.State())
	setup(t, m, 1)
	require.NotEmpty(t, m.VariablePubAddr())
}

func TestMessengerGetDescription(t *testing.T) {
	a := startAgent(t, memmodel.NewMass(1, 0, 0, 0))
	m := connect(t, a.ControlAddr())
	setup(t, m, 1)

	descCh := make(chan model.SlaveTypeDescription, 1)
	errCh := make(chan error, 1)
	m.GetDescription(time.Second, func(desc model.SlaveTypeDescription, err error) {
		descCh <- desc
		errCh <- err
	})
	require.NoError(t, <-errCh)
	require.Equal(t, "Mass", (<-descCh).Name)
}

func TestMessengerStepAndAcceptStep(t *testing.T) {
	a := startAgent(t, memmodel.NewMass(1, 0, 0, 0))
	m := connect(t, a.ControlAddr())
	setup(t, m, 1)

	type stepResult struct {
		ok  bool
		err error
	}
	done := make(chan stepResult, 1)
	m.Step(1, 0, 0.1, time.Second, func(ok bool, err error) { done <- stepResult{ok, err} })
	res := <-done
	require.NoError(t, res.err)
	require.True(t, res.ok)
	require.Equal(t, model.AgentStepOK, m.State())

	errCh := make(chan error, 1)
	m.AcceptStep(time.Second, func(err error) { errCh <- err })
	require.NoError(t, <-errCh)
	require.Equal(t, model.AgentReady, m.State())
}

func TestMessengerStepFailed(t *testing.T) {
	a := startAgent(t, &failingMass{Mass: memmodel.NewMass(1, 0, 0, 0)})
	m := connect(t, a.ControlAddr())
	setup(t, m, 1)

	type stepResult struct {
		ok  bool
		err error
	}
	done := make(chan stepResult, 1)
	m.Step(1, 0, 0.1, time.Second, func(ok bool, err error) { done <- stepResult{ok, err} })
	res := <-done
	require.NoError(t, res.err)
	require.False(t, res.ok)
	require.Equal(t, model.AgentStepFailed, m.State())
}

func TestMessengerSetVariablesAndSetPeers(t *testing.T) {
	a1 := startAgent(t, memmodel.NewMass(1, 0, 10, 1.0))
	a2 := startAgent(t, memmodel.NewMass(1, 0, 10, 0.0))
	m1 := connect(t, a1.ControlAddr())
	m2 := connect(t, a2.ControlAddr())
	setup(t, m1, 1)
	setup(t, m2, 2)

	settings := []VariableSetting{
		{
			Variable:        memmodel.VarForce,
			ConnectedOutput: &model.VariableReference{Slave: 1, Variable: memmodel.VarPosition},
		},
	}
	errCh := make(chan error, 1)
	m2.SetVariables(settings, time.Second, func(err error) { errCh <- err })
	require.NoError(t, <-errCh)

	m2.SetPeers(map[model.SlaveID]string{1: m1.VariablePubAddr()}, time.Second, func(err error) { errCh <- err })
	require.NoError(t, <-errCh)
}

func TestMessengerTerminate(t *testing.T) {
	a := startAgent(t, memmodel.NewMass(1, 0, 0, 0))
	m := connect(t, a.ControlAddr())
	setup(t, m, 1)

	require.NoError(t, m.Terminate())
	require.Eventually(t, func() bool {
		return a.State() == model.AgentTerminated
	}, 2*time.Second, 10*time.Millisecond)
}

// failingMass always fails DoStep, to exercise STEP_FAILED.
type failingMass struct {
	*memmodel.Mass
}

func (f *failingMass) DoStep(t, stepSize float64) bool { return false }
