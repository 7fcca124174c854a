package memmodel

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coral-sim/coral/pkg/model"
)

func TestMassStepMovesUnderForce(t *testing.T) {
	m := NewMass(1.0, 0.0, 0.0, 0.0)
	require.NoError(t, m.SetValue(VarForce, model.RealValue(1.0)))

	ok := m.DoStep(0, 0.1)
	require.True(t, ok)

	v, err := m.GetValue(VarVelocity)
	require.NoError(t, err)
	require.InDelta(t, 0.1, v.Real, 1e-9)

	p, err := m.GetValue(VarPosition)
	require.NoError(t, err)
	require.InDelta(t, 0.01, p.Real, 1e-9)
}

func TestMassRestsWithNoForceOrSpring(t *testing.T) {
	m := NewMass(2.0, 0.5, 0.0, 3.0)
	for i := 0; i < 10; i++ {
		require.True(t, m.DoStep(float64(i)*0.1, 0.1))
	}
	p, err := m.GetValue(VarPosition)
	require.NoError(t, err)
	require.InDelta(t, 3.0, p.Real, 1e-9)
}

func TestMassSetValueRejectsWrongType(t *testing.T) {
	m := NewMass(1, 0, 0, 0)
	err := m.SetValue(VarForce, model.BooleanValue(true))
	require.Error(t, err)
}
