package discovery

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPacketRoundTrip(t *testing.T) {
	p := packet{PartitionID: 7, ServiceType: "slave-provider", ServiceID: "prov-1", Payload: []byte{0x34, 0x12}}
	enc, err := encodePacket(p)
	require.NoError(t, err)
	got, err := decodePacket(enc)
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestDecodePacketBadMagic(t *testing.T) {
	_, err := decodePacket([]byte("not-a-coral-packet-at-all"))
	require.Error(t, err)
}

func TestProviderPortRoundTrip(t *testing.T) {
	got, err := DecodeProviderPort(EncodeProviderPort(5555))
	require.NoError(t, err)
	require.Equal(t, uint16(5555), got)
}

func TestBeaconAndTrackerAppearedAndDisappeared(t *testing.T) {
	port := freeUDPPort(t)
	listenAddr := "127.0.0.1:" + strconv.Itoa(port)
	broadcastAddr := "127.0.0.1:" + strconv.Itoa(port)

	tracker, err := NewTracker(listenAddr, 1, 150*time.Millisecond)
	require.NoError(t, err)
	defer tracker.Stop()

	appeared := make(chan []byte, 1)
	disappeared := make(chan struct{}, 1)
	tracker.Register("slave-provider", TrackerCallbacks{
		Appeared:    func(key ServiceKey, addr *net.UDPAddr, payload []byte) { appeared <- payload },
		Disappeared: func(key ServiceKey) { disappeared <- struct{}{} },
	})
	tracker.Start()

	beacon, err := NewBeacon(broadcastAddr, 1, "slave-provider", "prov-1", 20*time.Millisecond)
	require.NoError(t, err)
	beacon.SetPayload(EncodeProviderPort(4242))
	beacon.Start()

	select {
	case payload := <-appeared:
		got, err := DecodeProviderPort(payload)
		require.NoError(t, err)
		require.Equal(t, uint16(4242), got)
	case <-time.After(2 * time.Second):
		t.Fatal("tracker never saw appeared event")
	}

	require.NoError(t, beacon.Stop())

	select {
	case <-disappeared:
	case <-time.After(2 * time.Second):
		t.Fatal("tracker never saw disappeared event")
	}
}

func TestTrackerIgnoresForeignPartition(t *testing.T) {
	port := freeUDPPort(t)
	addr := "127.0.0.1:" + strconv.Itoa(port)

	tracker, err := NewTracker(addr, 1, time.Second)
	require.NoError(t, err)
	defer tracker.Stop()

	appeared := make(chan struct{}, 1)
	tracker.Register("slave-provider", TrackerCallbacks{
		Appeared: func(key ServiceKey, a *net.UDPAddr, payload []byte) { appeared <- struct{}{} },
	})
	tracker.Start()

	beacon, err := NewBeacon(addr, 99, "slave-provider", "prov-1", 20*time.Millisecond)
	require.NoError(t, err)
	beacon.SetPayload(EncodeProviderPort(1))
	beacon.Start()
	defer beacon.Stop()

	select {
	case <-appeared:
		t.Fatal("tracker fired appeared for a beacon in a different partition")
	case <-time.After(150 * time.Millisecond):
	}
}

func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	require.NoError(t, err)
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).Port
}

