package provider

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coral-sim/coral/pkg/coralwire"
)

func newTestServerForHandlers(t *testing.T, offerings ...SlaveTypeOffering) *Server {
	t.Helper()
	port := freeUDPPort(t)
	srv, err := NewServer(Config{
		ProviderID:    "prov-handlers",
		RPCAddr:       "127.0.0.1:0",
		BroadcastAddr: "127.0.0.1:" + strconv.Itoa(port),
		PartitionID:   1,
		BeaconPeriod:  time.Minute, // never actually fires in these tests
		Offerings:     offerings,
		SpawnDeadline: 300 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { srv.rpcListen.Close() })
	return srv
}

func TestServerHandleGetSlaveTypes(t *testing.T) {
	srv := newTestServerForHandlers(t, massOffering())

	msgType, body, ok := srv.handleGetSlaveTypes()
	require.True(t, ok)
	require.Equal(t, coralwire.MsgSlaveTypes, msgType)

	reply, err := coralwire.DecodeSlaveTypesReply(body)
	require.NoError(t, err)
	require.Len(t, reply.Types, 1)
	require.Equal(t, "mass-uuid-1", reply.Types[0].UUID)
}

func TestServerHandleInstantiateSlaveUnknownType(t *testing.T) {
	srv := newTestServerForHandlers(t, massOffering())

	req := coralwire.EncodeInstantiateSlaveRequest(coralwire.InstantiateSlaveRequest{
		TypeUUID:               "does-not-exist",
		InstantiationTimeoutMs: 100,
	})
	msgType, body, ok := srv.handleInstantiateSlave(req, srv.spawnDeadline)
	require.True(t, ok)
	require.Equal(t, coralwire.MsgRPCError, msgType)

	info, err := coralwire.DecodeErrorInfo(body)
	require.NoError(t, err)
	require.Contains(t, info.Detail, "unknown slave type")
}

func TestServerHandleInstantiateSlaveSpawnFailure(t *testing.T) {
	offering := massOffering()
	offering.Command = "/this/binary/does/not/exist-coral-test"
	srv := newTestServerForHandlers(t, offering)

	req := coralwire.EncodeInstantiateSlaveRequest(coralwire.InstantiateSlaveRequest{
		TypeUUID:               offering.Description.UUID,
		InstantiationTimeoutMs: 200,
	})
	msgType, body, ok := srv.handleInstantiateSlave(req, srv.spawnDeadline)
	require.True(t, ok)
	require.Equal(t, coralwire.MsgRPCError, msgType)

	info, err := coralwire.DecodeErrorInfo(body)
	require.NoError(t, err)
	require.Contains(t, info.Detail, "spawning slave type")
}

func TestServerHandleInstantiateSlaveTimesOutWaitingForHandshake(t *testing.T) {
	offering := massOffering()
	// A real process that starts successfully but never dials the
	// handshake listener, so spawnAndAwaitHandshake must time out.
	offering.Command = "sleep"
	offering.Args = []string{"5"}
	srv := newTestServerForHandlers(t, offering)

	req := coralwire.EncodeInstantiateSlaveRequest(coralwire.InstantiateSlaveRequest{
		TypeUUID:               offering.Description.UUID,
		InstantiationTimeoutMs: 150,
	})
	msgType, body, ok := srv.handleInstantiateSlave(req, srv.spawnDeadline)
	require.True(t, ok)
	require.Equal(t, coralwire.MsgRPCError, msgType)

	info, err := coralwire.DecodeErrorInfo(body)
	require.NoError(t, err)
	require.Contains(t, info.Detail, "timed out waiting for handshake")
}
