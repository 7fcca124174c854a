package instance

import "github.com/coral-sim/coral/pkg/model"

// Instance is the external capability a slave agent drives through a
// simulated time step. A real implementation typically wraps a
// loaded FMI co-simulation model; Coral's core never interprets model
// internals, only calls these methods at the points the control
// protocol requires.
type Instance interface {
	// TypeDescription returns the static description of this
	// instance's variables, used to answer DESCRIBE.
	TypeDescription() model.SlaveTypeDescription

	// Setup prepares the instance for simulation over
	// [startTime, stopTime). A nil stopTime means unbounded.
	Setup(startTime float64, stopTime *float64) error

	// SetValue assigns a literal value to one variable, e.g. from a
	// SET_VARS request or a connected input delivered by the barrier.
	SetValue(variable model.VariableID, value model.ScalarValue) error

	// GetValue reads the current value of one variable, e.g. to
	// publish an output at the end of a step.
	GetValue(variable model.VariableID) (model.ScalarValue, error)

	// DoStep advances the instance from t by stepSize, returning false
	// if the model could not complete the step (spec §4.E STEP:
	// "On false: reply STEP_FAILED and latch that state").
	DoStep(t, stepSize float64) bool
}
