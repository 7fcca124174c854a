package model

import "fmt"

// SlaveID identifies one slave within an execution.
type SlaveID uint16

// VariableID identifies one variable within a slave type.
type VariableID uint16

// StepID is a monotonically increasing step counter, starting at 0 at
// StartSimulation.
type StepID uint64

// DataType is the scalar type of one variable.
type DataType int

const (
	DataTypeReal DataType = iota
	DataTypeInteger
	DataTypeBoolean
	DataTypeString
)

func (t DataType) String() string {
	switch t {
	case DataTypeReal:
		return "real"
	case DataTypeInteger:
		return "integer"
	case DataTypeBoolean:
		return "boolean"
	case DataTypeString:
		return "string"
	default:
		return "unknown"
	}
}

// Causality classifies how a variable participates in coupling.
type Causality int

const (
	CausalityParameter Causality = iota
	CausalityCalculatedParameter
	CausalityInput
	CausalityOutput
	CausalityLocal
)

func (c Causality) String() string {
	switch c {
	case CausalityParameter:
		return "parameter"
	case CausalityCalculatedParameter:
		return "calculated-parameter"
	case CausalityInput:
		return "input"
	case CausalityOutput:
		return "output"
	case CausalityLocal:
		return "local"
	default:
		return "unknown"
	}
}

// Variability classifies how often a variable may change.
type Variability int

const (
	VariabilityConstant Variability = iota
	VariabilityFixed
	VariabilityTunable
	VariabilityDiscrete
	VariabilityContinuous
)

// VariableDescription describes one variable of a slave type.
type VariableDescription struct {
	ID          VariableID
	Name        string
	DataType    DataType
	Causality   Causality
	Variability Variability
}

// SlaveTypeDescription describes one instantiable kind of slave.
type SlaveTypeDescription struct {
	Name        string
	UUID        string
	Description string
	Author      string
	Version     string
	Variables   []VariableDescription
}

// VariableByID returns the description of the variable with the given
// ID, or false if the slave type has no such variable.
func (d *SlaveTypeDescription) VariableByID(id VariableID) (VariableDescription, bool) {
	for _, v := range d.Variables {
		if v.ID == id {
			return v, true
		}
	}
	return VariableDescription{}, false
}

// ScalarValue is a tagged union of real/integer/boolean/string.
type ScalarValue struct {
	Type DataType

	Real    float64
	Integer int32
	Boolean bool
	Str     string
}

// RealValue constructs a real-valued ScalarValue.
func RealValue(v float64) ScalarValue { return ScalarValue{Type: DataTypeReal, Real: v} }

// IntegerValue constructs an integer-valued ScalarValue.
func IntegerValue(v int32) ScalarValue { return ScalarValue{Type: DataTypeInteger, Integer: v} }

// BooleanValue constructs a boolean-valued ScalarValue.
func BooleanValue(v bool) ScalarValue { return ScalarValue{Type: DataTypeBoolean, Boolean: v} }

// StringValue constructs a string-valued ScalarValue.
func StringValue(v string) ScalarValue { return ScalarValue{Type: DataTypeString, Str: v} }

func (v ScalarValue) String() string {
	switch v.Type {
	case DataTypeReal:
		return fmt.Sprintf("%g", v.Real)
	case DataTypeInteger:
		return fmt.Sprintf("%d", v.Integer)
	case DataTypeBoolean:
		return fmt.Sprintf("%t", v.Boolean)
	case DataTypeString:
		return v.Str
	default:
		return "<invalid>"
	}
}

// VariableReference names one variable globally within an execution.
type VariableReference struct {
	Slave    SlaveID
	Variable VariableID
}

func (r VariableReference) String() string {
	return fmt.Sprintf("%d:%d", r.Slave, r.Variable)
}

// VariableSetting is either an assigned literal value, a connection from
// a remote output, or both.
type VariableSetting struct {
	Variable         VariableID
	Value            *ScalarValue
	ConnectedOutput  *VariableReference
}

// HasValue reports whether the setting carries a literal value.
func (s VariableSetting) HasValue() bool { return s.Value != nil }

// HasConnection reports whether the setting carries a connection.
func (s VariableSetting) HasConnection() bool { return s.ConnectedOutput != nil }

// TimedSample is one published variable value, tagged with the step it
// was produced in.
type TimedSample struct {
	StepID   StepID
	Slave    SlaveID
	Variable VariableID
	Value    ScalarValue
}

// ConnectionCompatible reports whether a connection from the output
// variable outDesc to the input variable inDesc is legal, per §3:
// types must match; the input causality must be {input, parameter} and
// the output causality must be {output, calculated-parameter}; a
// parameter may only be connected to a calculated-parameter.
func ConnectionCompatible(inDesc, outDesc VariableDescription) error {
	if inDesc.DataType != outDesc.DataType {
		return fmt.Errorf("type mismatch: input %s is %s, output %s is %s",
			inDesc.Name, inDesc.DataType, outDesc.Name, outDesc.DataType)
	}
	switch inDesc.Causality {
	case CausalityInput:
		if outDesc.Causality != CausalityOutput && outDesc.Causality != CausalityCalculatedParameter {
			return fmt.Errorf("input %s cannot connect to %s with causality %s",
				inDesc.Name, outDesc.Name, outDesc.Causality)
		}
	case CausalityParameter:
		if outDesc.Causality != CausalityCalculatedParameter {
			return fmt.Errorf("parameter %s may only connect to a calculated-parameter, got %s (%s)",
				inDesc.Name, outDesc.Name, outDesc.Causality)
		}
	default:
		return fmt.Errorf("variable %s has causality %s, which cannot receive a connection",
			inDesc.Name, inDesc.Causality)
	}
	return nil
}

// AgentState is the per-slave state as seen by the slave agent itself
// (§3 "Agent-side").
type AgentState int

const (
	AgentNotConnected AgentState = iota
	AgentConnected
	AgentReady
	AgentStepOK
	AgentStepFailed
	AgentTerminated
)

func (s AgentState) String() string {
	switch s {
	case AgentNotConnected:
		return "NOT_CONNECTED"
	case AgentConnected:
		return "CONNECTED"
	case AgentReady:
		return "READY"
	case AgentStepOK:
		return "STEP_OK"
	case AgentStepFailed:
		return "STEP_FAILED"
	case AgentTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// MessengerState is the master-side tracker state (§3 "Master-side
// tracker"): the same states as AgentState, plus a transient Busy flag
// tracked separately by the messenger (see pkg/messenger).
type MessengerState = AgentState
