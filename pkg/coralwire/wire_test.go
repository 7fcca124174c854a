package coralwire

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coral-sim/coral/pkg/coralerr"
	"github.com/coral-sim/coral/pkg/model"
)

func TestScalarValueRoundTrip(t *testing.T) {
	cases := []model.ScalarValue{
		model.RealValue(3.25),
		model.IntegerValue(-7),
		model.BooleanValue(true),
		model.BooleanValue(false),
		model.StringValue("hello coral"),
	}
	for _, v := range cases {
		enc := EncodeScalarValue(nil, v)
		got, n, err := DecodeScalarValue(enc)
		require.NoError(t, err)
		require.Equal(t, len(enc), n)
		require.Equal(t, v, got)
	}
}

func TestSetupDataRoundTrip(t *testing.T) {
	stop := 12.5
	d := SetupData{
		SlaveID:               3,
		StartTime:             0,
		StopTime:              &stop,
		VariablePubEndpoint:   "tcp://10.0.0.1:5555",
		VariableSubEndpoint:   "tcp://10.0.0.1:5556",
		ExecutionName:         "demo",
		SlaveName:             "mass1",
		VariableRecvTimeoutMs: -1,
	}
	enc := EncodeSetupData(d)
	got, err := DecodeSetupData(enc)
	require.NoError(t, err)
	require.Equal(t, d.SlaveID, got.SlaveID)
	require.Equal(t, d.ExecutionName, got.ExecutionName)
	require.NotNil(t, got.StopTime)
	require.Equal(t, *d.StopTime, *got.StopTime)
	require.Equal(t, d.VariableRecvTimeoutMs, got.VariableRecvTimeoutMs)
}

func TestSetupDataNoStopTime(t *testing.T) {
	d := SetupData{SlaveID: 1, StartTime: 0, ExecutionName: "e", SlaveName: "s"}
	enc := EncodeSetupData(d)
	got, err := DecodeSetupData(enc)
	require.NoError(t, err)
	require.Nil(t, got.StopTime)
}

func TestStepDataRoundTrip(t *testing.T) {
	d := StepData{StepID: 42, Timepoint: 1.5, Stepsize: 0.1}
	got, err := DecodeStepData(EncodeStepData(d))
	require.NoError(t, err)
	require.Equal(t, d, got)
}

func TestSetVarsDataRoundTrip(t *testing.T) {
	val := model.RealValue(2.0)
	conn := Connection{SlaveID: 2, VariableID: 7}
	d := SetVarsData{
		Variable: []VariableSettingWire{
			{VariableID: 1, Value: &val},
			{VariableID: 2, ConnectedOutput: &conn},
		},
	}
	got, err := DecodeSetVarsData(EncodeSetVarsData(d))
	require.NoError(t, err)
	require.Len(t, got.Variable, 2)
	require.NotNil(t, got.Variable[0].Value)
	require.Equal(t, val, *got.Variable[0].Value)
	require.NotNil(t, got.Variable[1].ConnectedOutput)
	require.Equal(t, conn, *got.Variable[1].ConnectedOutput)
}

func TestSetPeersDataRoundTrip(t *testing.T) {
	d := SetPeersData{Peers: []PeerEndpoint{
		{SlaveID: 1, Endpoint: "tcp://a:1"},
		{SlaveID: 2, Endpoint: "tcp://b:2"},
	}}
	got, err := DecodeSetPeersData(EncodeSetPeersData(d))
	require.NoError(t, err)
	require.Equal(t, d.Peers, got.Peers)
}

func TestErrorInfoRoundTrip(t *testing.T) {
	d := ErrorInfo{Code: coralerr.CannotPerformTimestep, Detail: "solver diverged"}
	got, err := DecodeErrorInfo(EncodeErrorInfo(d))
	require.NoError(t, err)
	require.Equal(t, d, got)
}

func TestTimestampedValueRoundTrip(t *testing.T) {
	d := TimestampedValue{StepID: 9, Value: model.RealValue(-1.25)}
	got, err := DecodeTimestampedValue(EncodeTimestampedValue(d))
	require.NoError(t, err)
	require.Equal(t, d, got)
}

func TestSlaveDescriptionRoundTrip(t *testing.T) {
	d := SlaveDescription{
		TypeDescription: model.SlaveTypeDescription{
			Name:        "Mass",
			UUID:        "uuid-1",
			Description: "point mass",
			Author:      "coral",
			Version:     "1.0",
			Variables: []model.VariableDescription{
				{ID: 0, Name: "position", DataType: model.DataTypeReal, Causality: model.CausalityOutput, Variability: model.VariabilityContinuous},
				{ID: 1, Name: "force", DataType: model.DataTypeReal, Causality: model.CausalityInput, Variability: model.VariabilityContinuous},
			},
		},
	}
	got, err := DecodeSlaveDescription(EncodeSlaveDescription(d))
	require.NoError(t, err)
	require.Equal(t, d, got)
}

func TestReadyDataRoundTrip(t *testing.T) {
	d := ReadyData{VariablePubEndpoint: "127.0.0.1:5555"}
	got, err := DecodeReadyData(EncodeReadyData(d))
	require.NoError(t, err)
	require.Equal(t, d, got)
}

func TestControlHeaderRoundTrip(t *testing.T) {
	h := ControlHeader{ProtocolID: "coral.execution", Version: 2, MessageType: 5}
	got, err := DecodeControlHeader(EncodeControlHeader(h))
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestDecodeScalarValueTruncated(t *testing.T) {
	_, _, err := DecodeScalarValue([]byte{0xFF})
	require.Error(t, err)
}
