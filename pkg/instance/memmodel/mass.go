/*
Package memmodel provides small in-memory instance.Instance
implementations with no external dependencies, used only by this
module's own tests to exercise the full agent/messenger/execution
stack end to end without a real FMI model.
*/
package memmodel

import (
	"fmt"

	"github.com/coral-sim/coral/pkg/instance"
	"github.com/coral-sim/coral/pkg/model"
)

const (
	// VarPosition is the output variable carrying the mass's position.
	VarPosition model.VariableID = 0
	// VarVelocity is the output variable carrying the mass's velocity.
	VarVelocity model.VariableID = 1
	// VarForce is the input variable carrying an externally applied force.
	VarForce model.VariableID = 2
	// VarSpringConstant is a tunable parameter.
	VarSpringConstant model.VariableID = 3
)

// MassUUID identifies the Mass slave type, for callers (e.g.
// cmd/coral-agent's --type-uuid flag, cmd/coral-provider's offering
// table) that need to refer to it without constructing one.
const MassUUID = "8f1f6a2e-coral-memmodel-mass"

// Mass is a one-dimensional damped spring-mass point, integrated with
// semi-implicit (symplectic) Euler steps. It exists purely as a deterministic,
// dependency-free stand-in for a real FMI model in end-to-end tests
// (spec §8 scenario S1: two coupled masses).
type Mass struct {
	mass, damping, springConstant float64

	position, velocity, force float64
}

var _ instance.Instance = (*Mass)(nil)

// NewMass constructs a Mass with the given physical parameters.
func NewMass(massKg, dampingNsPerM, springConstantNPerM, initialPosition float64) *Mass {
	return &Mass{
		mass:           massKg,
		damping:        dampingNsPerM,
		springConstant: springConstantNPerM,
		position:       initialPosition,
	}
}

// TypeDescription implements instance.Instance.
func (m *Mass) TypeDescription() model.SlaveTypeDescription {
	return model.SlaveTypeDescription{
		Name:        "Mass",
		UUID:        MassUUID,
		Description: "one-dimensional damped spring-mass point",
		Author:      "coral",
		Version:     "1.0",
		Variables: []model.VariableDescription{
			{ID: VarPosition, Name: "position", DataType: model.DataTypeReal, Causality: model.CausalityOutput, Variability: model.VariabilityContinuous},
			{ID: VarVelocity, Name: "velocity", DataType: model.DataTypeReal, Causality: model.CausalityOutput, Variability: model.VariabilityContinuous},
			{ID: VarForce, Name: "force", DataType: model.DataTypeReal, Causality: model.CausalityInput, Variability: model.VariabilityContinuous},
			{ID: VarSpringConstant, Name: "spring_constant", DataType: model.DataTypeReal, Causality: model.CausalityParameter, Variability: model.VariabilityFixed},
		},
	}
}

// Setup implements instance.Instance; the mass has no setup work
// beyond accepting the call.
func (m *Mass) Setup(startTime float64, stopTime *float64) error {
	return nil
}

// SetValue implements instance.Instance.
func (m *Mass) SetValue(variable model.VariableID, value model.ScalarValue) error {
	if value.Type != model.DataTypeReal {
		return fmt.Errorf("memmodel: variable %d is real-valued, got %s", variable, value.Type)
	}
	switch variable {
	case VarForce:
		m.force = value.Real
	case VarSpringConstant:
		m.springConstant = value.Real
	default:
		return fmt.Errorf("memmodel: variable %d is not settable", variable)
	}
	return nil
}

// GetValue implements instance.Instance.
func (m *Mass) GetValue(variable model.VariableID) (model.ScalarValue, error) {
	switch variable {
	case VarPosition:
		return model.RealValue(m.position), nil
	case VarVelocity:
		return model.RealValue(m.velocity), nil
	case VarForce:
		return model.RealValue(m.force), nil
	case VarSpringConstant:
		return model.RealValue(m.springConstant), nil
	default:
		return model.ScalarValue{}, fmt.Errorf("memmodel: unknown variable %d", variable)
	}
}

// DoStep implements instance.Instance: one semi-implicit Euler
// integration step of m*a = -k*x - c*v + F (velocity is updated first,
// and the new velocity advances the position). Never fails.
func (m *Mass) DoStep(t, stepSize float64) bool {
	accel := (-m.springConstant*m.position - m.damping*m.velocity + m.force) / m.mass
	m.velocity += accel * stepSize
	m.position += m.velocity * stepSize
	return true
}
