package execution

import (
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/coral-sim/coral/pkg/coralerr"
	"github.com/coral-sim/coral/pkg/coralmetrics"
	"github.com/coral-sim/coral/pkg/corallog"
	"github.com/coral-sim/coral/pkg/messenger"
	"github.com/coral-sim/coral/pkg/model"
)

// ExecutionState is the current whole-execution state (spec §4.G).
// Stepped and Failed supplement the state set the distilled spec names
// explicitly, which is silent about the state AcceptStep requires
// ("only legal from Stepped") and about what a STEP_FAILED slave or a
// fatal communication error during Step leaves the execution in; see
// DESIGN.md.
type ExecutionState int

const (
	Ready ExecutionState = iota
	Reconstituting
	Reconfiguring
	Priming
	Stepping
	Stepped
	Failed
	Terminated
)

func (s ExecutionState) String() string {
	switch s {
	case Ready:
		return "Ready"
	case Reconstituting:
		return "Reconstituting"
	case Reconfiguring:
		return "Reconfiguring"
	case Priming:
		return "Priming"
	case Stepping:
		return "Stepping"
	case Stepped:
		return "Stepped"
	case Failed:
		return "Failed"
	case Terminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// Config configures a Manager.
type Config struct {
	ExecutionName         string
	StartTime             float64
	StopTime              *float64
	ConnectTimeout        time.Duration
	ConnectMaxAttempts    int
	RequestTimeout        time.Duration
	ResendVarsMaxAttempts int
	// VariableRecvTimeout bounds how long each slave's input barrier
	// waits for a connected coupling's publish before returning
	// DataTimeout (spec §4.D, §8 scenario S3). Zero means unbounded,
	// passed to each slave's SETUP as a negative variable_recv_timeout_ms.
	VariableRecvTimeout time.Duration
}

// slaveRecord is one tracked slave: its identity, its cached type
// description (needed to cross-validate Reconfigure calls without a
// round trip), its messenger, and the input connections currently set
// on it (needed to compute the peer set for SET_PEERS).
type slaveRecord struct {
	id          model.SlaveID
	name        string
	messenger   *messenger.Messenger
	description model.SlaveTypeDescription
	connections map[model.VariableID]model.VariableReference
}

// Manager holds one execution's full authority: its tracked slaves and
// their messengers, the shared step clock, and the current
// ExecutionState. One whole-execution operation runs at a time (spec
// §4.G's ordering contract); the per-slave fan-out within one
// operation is concurrent and unordered.
type Manager struct {
	cfg Config
	log zerolog.Logger

	mu            sync.Mutex
	state         ExecutionState
	slaves        map[model.SlaveID]*slaveRecord
	currentStepID model.StepID
	nextFreeID    model.SlaveID
}

// NewManager constructs a Manager in the Ready state, tracking no
// slaves.
func NewManager(cfg Config) *Manager {
	if cfg.ConnectMaxAttempts <= 0 {
		cfg.ConnectMaxAttempts = 1
	}
	if cfg.ResendVarsMaxAttempts <= 0 {
		cfg.ResendVarsMaxAttempts = 1
	}
	return &Manager{
		cfg:        cfg,
		log:        corallog.WithExecutionName(corallog.WithComponent("execution"), cfg.ExecutionName),
		state:      Ready,
		slaves:     make(map[model.SlaveID]*slaveRecord),
		nextFreeID: 1,
	}
}

// State returns the current whole-execution state.
func (m *Manager) State() ExecutionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CurrentStepID returns the step ID of the most recently accepted step.
func (m *Manager) CurrentStepID() model.StepID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentStepID
}

// transition moves the execution from `from` to `to`, failing if the
// execution isn't currently in `from` — the ordering contract's
// enforcement point.
func (m *Manager) transition(from, to ExecutionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != from {
		return coralerr.New(coralerr.OperationFailed, "execution %q is in state %s, expected %s", m.cfg.ExecutionName, m.state, from)
	}
	m.state = to
	return nil
}

func (m *Manager) setState(s ExecutionState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// recordsSnapshot returns the current slave records, safe to iterate
// without holding m.mu.
func (m *Manager) recordsSnapshot() []*slaveRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := make([]*slaveRecord, 0, len(m.slaves))
	for _, r := range m.slaves {
		recs = append(recs, r)
	}
	return recs
}

func (m *Manager) updateSlaveMetrics() {
	recs := m.recordsSnapshot()
	coralmetrics.SlavesTotal.WithLabelValues(m.cfg.ExecutionName).Set(float64(len(recs)))
	for _, r := range recs {
		state := model.AgentNotConnected
		if r.messenger != nil {
			state = r.messenger.State()
		}
		coralmetrics.SlaveState.WithLabelValues(m.cfg.ExecutionName, strconv.Itoa(int(r.id)), r.name).Set(float64(state))
	}
}

// Newcomer is one slave Reconstitute is asked to bring into the
// execution: a control-endpoint locator and the name it should be
// known by.
type Newcomer struct {
	Locator string
	Name    string
}

// ReconstituteResult reports one newcomer's outcome. SlaveID is only
// meaningful when Err is nil.
type ReconstituteResult struct {
	Name    string
	SlaveID model.SlaveID
	Err     error
}

// Reconstitute connects to each newcomer, drives it through HELLO and
// SETUP, and caches its type description. Per-slave failures are
// recorded on that newcomer's result; a newcomer that never connects
// or is rejected doesn't abort the others (spec §4.G: "partial success
// is permitted").
func (m *Manager) Reconstitute(newcomers []Newcomer, onComplete func([]ReconstituteResult, error)) {
	if err := m.transition(Ready, Reconstituting); err != nil {
		onComplete(nil, err)
		return
	}

	results := make([]ReconstituteResult, len(newcomers))
	ids := make([]model.SlaveID, len(newcomers))
	seenNames := make(map[string]bool, len(newcomers))

	m.mu.Lock()
	for name := range m.namesLocked() {
		seenNames[name] = true
	}
	for i, nc := range newcomers {
		results[i] = ReconstituteResult{Name: nc.Name}
		if seenNames[nc.Name] {
			results[i].Err = coralerr.New(coralerr.OperationFailed, "duplicate slave name %q", nc.Name)
			continue
		}
		seenNames[nc.Name] = true
		id := m.nextFreeID
		m.nextFreeID++
		m.slaves[id] = &slaveRecord{id: id, name: nc.Name, connections: map[model.VariableID]model.VariableReference{}}
		ids[i] = id
		results[i].SlaveID = id
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for i, nc := range newcomers {
		if results[i].Err != nil {
			continue
		}
		i, nc, id := i, nc, ids[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.connectNewcomer(id, nc, &results[i])
		}()
	}
	wg.Wait()

	m.setState(Ready)
	m.updateSlaveMetrics()
	onComplete(results, nil)
}

// namesLocked returns the names of all currently tracked slaves. Must
// be called with m.mu held.
func (m *Manager) namesLocked() map[string]struct{} {
	names := make(map[string]struct{}, len(m.slaves))
	for _, r := range m.slaves {
		names[r.name] = struct{}{}
	}
	return names
}

func (m *Manager) connectNewcomer(id model.SlaveID, nc Newcomer, result *ReconstituteResult) {
	type connOutcome struct {
		msgr *messenger.Messenger
		err  error
	}
	connDone := make(chan connOutcome, 1)
	messenger.Connect(nc.Locator, m.cfg.ConnectTimeout, m.cfg.ConnectMaxAttempts, m.cfg.RequestTimeout,
		func(msgr *messenger.Messenger, err error) { connDone <- connOutcome{msgr, err} })
	outcome := <-connDone
	if outcome.err != nil {
		result.Err = outcome.err
		m.dropSlave(id)
		return
	}

	recvTimeoutMs := int32(-1)
	if m.cfg.VariableRecvTimeout > 0 {
		recvTimeoutMs = int32(m.cfg.VariableRecvTimeout.Milliseconds())
	}
	setupDone := make(chan error, 1)
	outcome.msgr.Setup(id, messenger.SetupParams{
		StartTime:             m.cfg.StartTime,
		StopTime:              m.cfg.StopTime,
		ExecutionName:         m.cfg.ExecutionName,
		SlaveName:             nc.Name,
		VariableRecvTimeoutMs: recvTimeoutMs,
	}, m.cfg.RequestTimeout, func(err error) { setupDone <- err })
	if err := <-setupDone; err != nil {
		result.Err = err
		_ = outcome.msgr.Close()
		m.dropSlave(id)
		return
	}

	descDone := make(chan model.SlaveTypeDescription, 1)
	descErr := make(chan error, 1)
	outcome.msgr.GetDescription(m.cfg.RequestTimeout, func(desc model.SlaveTypeDescription, err error) {
		descDone <- desc
		descErr <- err
	})
	desc := <-descDone
	if err := <-descErr; err != nil {
		result.Err = err
		_ = outcome.msgr.Close()
		m.dropSlave(id)
		return
	}

	m.mu.Lock()
	rec := m.slaves[id]
	rec.messenger = outcome.msgr
	rec.description = desc
	m.mu.Unlock()
}

func (m *Manager) dropSlave(id model.SlaveID) {
	m.mu.Lock()
	delete(m.slaves, id)
	m.mu.Unlock()
}

// Reconfigure cross-validates the given settings against each target
// slave's cached type description before touching anything; an
// invalid setting aborts the whole call synchronously (spec §4.G).
// Valid settings are then fanned out as SET_VARS followed by
// SET_PEERS, the peer set for each slave derived from the union of its
// current inputs' connected-output slaves. onComplete receives a
// per-slave error map alongside a primary error (spec §7: "the
// execution manager's completion callback receives a primary error
// code plus a per-slave error map"); perSlaveErrs is nil for the
// synchronous pre-flight failures, since no slave was touched yet.
func (m *Manager) Reconfigure(settings map[model.SlaveID][]model.VariableSetting, onComplete func(perSlaveErrs map[model.SlaveID]error, err error)) {
	m.mu.Lock()
	if m.state != Ready {
		err := coralerr.New(coralerr.OperationFailed, "execution %q is in state %s, expected Ready", m.cfg.ExecutionName, m.state)
		m.mu.Unlock()
		onComplete(nil, err)
		return
	}
	if err := m.validateSettingsLocked(settings); err != nil {
		m.mu.Unlock()
		onComplete(nil, err)
		return
	}
	m.state = Reconfiguring
	m.mu.Unlock()

	var wg sync.WaitGroup
	var mu sync.Mutex
	perSlaveErrs := make(map[model.SlaveID]error)
	var firstErr error
	for id, items := range settings {
		id, items := id, items
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.reconfigureSlave(id, items); err != nil {
				mu.Lock()
				perSlaveErrs[id] = err
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	m.setState(Ready)
	m.updateSlaveMetrics()
	if len(perSlaveErrs) == 0 {
		perSlaveErrs = nil
	}
	onComplete(perSlaveErrs, firstErr)
}

// validateSettingsLocked must be called with m.mu held.
func (m *Manager) validateSettingsLocked(settings map[model.SlaveID][]model.VariableSetting) error {
	for id, items := range settings {
		rec, ok := m.slaves[id]
		if !ok {
			return coralerr.New(coralerr.OperationFailed, "unknown slave %d", id)
		}
		for _, s := range items {
			inDesc, ok := rec.description.VariableByID(s.Variable)
			if !ok {
				return coralerr.New(coralerr.OperationFailed, "slave %d has no variable %d", id, s.Variable)
			}
			if s.ConnectedOutput == nil {
				continue
			}
			outRec, ok := m.slaves[s.ConnectedOutput.Slave]
			if !ok {
				return coralerr.New(coralerr.OperationFailed, "slave %d connects to unknown slave %d", id, s.ConnectedOutput.Slave)
			}
			outDesc, ok := outRec.description.VariableByID(s.ConnectedOutput.Variable)
			if !ok {
				return coralerr.New(coralerr.OperationFailed, "slave %d connects to unknown variable %d on slave %d",
					id, s.ConnectedOutput.Variable, s.ConnectedOutput.Slave)
			}
			if err := model.ConnectionCompatible(inDesc, outDesc); err != nil {
				return coralerr.Wrap(coralerr.OperationFailed, err, "invalid connection from slave %d", id)
			}
		}
	}
	return nil
}

func (m *Manager) reconfigureSlave(id model.SlaveID, items []model.VariableSetting) error {
	m.mu.Lock()
	rec := m.slaves[id]
	m.mu.Unlock()

	setVarsDone := make(chan error, 1)
	rec.messenger.SetVariables(items, m.cfg.RequestTimeout, func(err error) { setVarsDone <- err })
	if err := <-setVarsDone; err != nil {
		return err
	}

	m.mu.Lock()
	for _, s := range items {
		if s.ConnectedOutput != nil {
			rec.connections[s.Variable] = *s.ConnectedOutput
		}
	}
	peers := make(map[model.SlaveID]string, len(rec.connections))
	for _, ref := range rec.connections {
		if peerRec, ok := m.slaves[ref.Slave]; ok && peerRec.messenger != nil {
			peers[ref.Slave] = peerRec.messenger.VariablePubAddr()
		}
	}
	m.mu.Unlock()

	setPeersDone := make(chan error, 1)
	rec.messenger.SetPeers(peers, m.cfg.RequestTimeout, func(err error) { setPeersDone <- err })
	return <-setPeersDone
}

// Prime fans out RESEND_VARS to every slave concurrently, retrying a
// given slave up to ResendVarsMaxAttempts times if it reports
// DataTimeout — a freshly-connected subscriber may drop the first
// publish while its TCP connection is still establishing (spec §4.G,
// scenario S6). Any other error is fatal for the execution. onComplete
// receives a per-slave error map alongside a primary error (spec §7),
// nil when every slave primed successfully.
func (m *Manager) Prime(onComplete func(perSlaveErrs map[model.SlaveID]error, err error)) {
	if err := m.transition(Ready, Priming); err != nil {
		onComplete(nil, err)
		return
	}
	recs := m.recordsSnapshot()

	var wg sync.WaitGroup
	var mu sync.Mutex
	perSlaveErrs := make(map[model.SlaveID]error)
	var firstErr error
	for _, rec := range recs {
		rec := rec
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.primeSlave(rec); err != nil {
				mu.Lock()
				perSlaveErrs[rec.id] = err
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(perSlaveErrs) == 0 {
		perSlaveErrs = nil
	}
	if firstErr != nil {
		m.setState(Failed)
		onComplete(perSlaveErrs, firstErr)
		return
	}
	m.setState(Ready)
	onComplete(nil, nil)
}

func (m *Manager) primeSlave(rec *slaveRecord) error {
	var lastErr error
	for attempt := 0; attempt < m.cfg.ResendVarsMaxAttempts; attempt++ {
		done := make(chan error, 1)
		rec.messenger.ResendVars(m.cfg.RequestTimeout, func(err error) { done <- err })
		err := <-done
		if err == nil {
			return nil
		}
		lastErr = err
		if !coralerr.Is(err, coralerr.DataTimeout) {
			return err
		}
	}
	return lastErr
}

// StepResult reports the outcome of one whole-execution Step: either
// every slave returned STEP_OK (Completed), or one or more returned
// STEP_FAILED (FailedSlaves is non-empty and the execution becomes
// Failed, only terminable from there).
type StepResult struct {
	Completed    bool
	FailedSlaves []model.SlaveID
}

// Step fans out STEP(currentStepID+1, t, dt) to every slave
// concurrently. A communication error with any slave is fatal for the
// execution (spec §4.G).
func (m *Manager) Step(t, dt float64, onComplete func(StepResult, error)) {
	if err := m.transition(Ready, Stepping); err != nil {
		onComplete(StepResult{}, err)
		return
	}
	timer := coralmetrics.NewTimer()

	m.mu.Lock()
	stepID := m.currentStepID + 1
	m.mu.Unlock()
	recs := m.recordsSnapshot()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var failed []model.SlaveID
	var fatalErr error
	for _, rec := range recs {
		rec := rec
		wg.Add(1)
		go func() {
			defer wg.Done()
			type stepOutcome struct {
				ok  bool
				err error
			}
			done := make(chan stepOutcome, 1)
			rec.messenger.Step(stepID, t, dt, m.cfg.RequestTimeout, func(ok bool, err error) { done <- stepOutcome{ok, err} })
			outcome := <-done
			if outcome.err != nil {
				mu.Lock()
				if fatalErr == nil {
					fatalErr = outcome.err
				}
				mu.Unlock()
				return
			}
			if !outcome.ok {
				coralmetrics.StepFailuresTotal.WithLabelValues(m.cfg.ExecutionName, strconv.Itoa(int(rec.id))).Inc()
				mu.Lock()
				failed = append(failed, rec.id)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	timer.ObserveDuration(coralmetrics.StepDuration)
	m.updateSlaveMetrics()

	if fatalErr != nil {
		m.setState(Failed)
		onComplete(StepResult{}, fatalErr)
		return
	}
	if len(failed) > 0 {
		m.setState(Failed)
		onComplete(StepResult{FailedSlaves: failed}, nil)
		return
	}
	m.setState(Stepped)
	onComplete(StepResult{Completed: true}, nil)
}

// AcceptStep is only legal from Stepped. It fans out ACCEPT_STEP,
// advances currentStepID on full success, and returns to Ready.
// onComplete receives a per-slave error map alongside a primary error
// (spec §7, scenario S3: a slave paused mid-simulation surfaces
// per-slave DataTimeout here without failing the whole call for slaves
// that reported no error).
func (m *Manager) AcceptStep(onComplete func(perSlaveErrs map[model.SlaveID]error, err error)) {
	if err := m.transition(Stepped, Stepping); err != nil {
		onComplete(nil, err)
		return
	}
	timer := coralmetrics.NewTimer()
	recs := m.recordsSnapshot()

	var wg sync.WaitGroup
	var mu sync.Mutex
	perSlaveErrs := make(map[model.SlaveID]error)
	var firstErr error
	for _, rec := range recs {
		rec := rec
		wg.Add(1)
		go func() {
			defer wg.Done()
			done := make(chan error, 1)
			rec.messenger.AcceptStep(m.cfg.RequestTimeout, func(err error) { done <- err })
			if err := <-done; err != nil {
				mu.Lock()
				perSlaveErrs[rec.id] = err
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	timer.ObserveDuration(coralmetrics.AcceptStepDuration)

	if len(perSlaveErrs) == 0 {
		perSlaveErrs = nil
	}
	if firstErr != nil {
		m.setState(Failed)
		onComplete(perSlaveErrs, firstErr)
		return
	}

	m.mu.Lock()
	m.currentStepID++
	m.state = Ready
	m.mu.Unlock()
	onComplete(nil, nil)
}

// Terminate sends TERMINATE to every tracked slave in parallel,
// ignoring individual errors, and marks the execution Terminated. It
// is legal from any state, including Failed, and is a no-op if the
// execution is already Terminated.
func (m *Manager) Terminate(onComplete func()) {
	m.mu.Lock()
	if m.state == Terminated {
		m.mu.Unlock()
		onComplete()
		return
	}
	m.state = Terminated
	m.mu.Unlock()

	recs := m.recordsSnapshot()
	var wg sync.WaitGroup
	for _, rec := range recs {
		rec := rec
		if rec.messenger == nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = rec.messenger.Terminate()
		}()
	}
	wg.Wait()
	m.updateSlaveMetrics()
	onComplete()
}
