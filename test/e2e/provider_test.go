package e2e

import (
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coral-sim/coral/pkg/instance/memmodel"
	"github.com/coral-sim/coral/pkg/provider"
	"github.com/coral-sim/coral/test/framework"
)

// freeUDPPort picks an ephemeral UDP port for a provider's discovery
// beacon, the same trick pkg/provider's own tests use.
func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	require.NoError(t, err)
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).Port
}

// startProviderProcess spawns a real coral-provider process configured
// to spawn real coral-agent children, and returns it together with its
// discovery broadcast address.
func startProviderProcess(t *testing.T) (*framework.Process, string) {
	t.Helper()
	port := freeUDPPort(t)
	discoveryAddr := "127.0.0.1:" + strconv.Itoa(port)

	p := framework.NewProcess(providerBinary,
		"-provider-id", "e2e-provider",
		"-rpc-addr", "127.0.0.1:0",
		"-broadcast-addr", discoveryAddr,
		"-beacon-period", "20ms",
		"-agent-binary", agentBinary,
		"-spawn-deadline", "5s",
	)
	require.NoError(t, p.Start())
	t.Cleanup(func() { _ = p.Stop() })
	require.NoError(t, p.WaitForLog("RPC listening on", 5*time.Second))
	return p, discoveryAddr
}

func waitForKnownProvider(t *testing.T, c *provider.Cluster) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(c.KnownProviders()) > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("cluster never discovered the provider process")
}

// TestProviderInstantiatesAgentOverRealProcesses exercises spec §4.H/
// §4.I end to end: a real coral-provider process beacons itself, a
// pkg/provider.Cluster discovers it over UDP, asks it for its slave
// types, and instantiates one — spawning a real coral-agent child and
// completing the handshake over a private loopback connection.
func TestProviderInstantiatesAgentOverRealProcesses(t *testing.T) {
	_, discoveryAddr := startProviderProcess(t)

	c, err := provider.NewCluster(discoveryAddr, 1, 500*time.Millisecond)
	require.NoError(t, err)
	c.Start()
	defer c.Stop()

	waitForKnownProvider(t, c)

	typesCh := make(chan struct {
		offers map[string]provider.SlaveTypeOffer
		err    error
	}, 1)
	c.GetSlaveTypes(2*time.Second, func(offers map[string]provider.SlaveTypeOffer, err error) {
		typesCh <- struct {
			offers map[string]provider.SlaveTypeOffer
			err    error
		}{offers, err}
	})

	var providerID string
	select {
	case res := <-typesCh:
		require.NoError(t, res.err)
		offer, ok := res.offers[memmodel.MassUUID]
		require.True(t, ok, "provider process did not offer the Mass slave type")
		require.Equal(t, "Mass", offer.Description.Name)
		require.NotEmpty(t, offer.Providers)
		providerID = offer.Providers[0]
	case <-time.After(3 * time.Second):
		t.Fatal("GetSlaveTypes never completed")
	}

	instCh := make(chan struct {
		locator string
		err     error
	}, 1)
	c.InstantiateSlave(providerID, memmodel.MassUUID, 5*time.Second, func(locator string, err error) {
		instCh <- struct {
			locator string
			err     error
		}{locator, err}
	})

	select {
	case res := <-instCh:
		require.NoError(t, res.err)
		require.NotEmpty(t, res.locator)
		// Bare "host:port", directly usable as a future Newcomer.Locator.
		require.False(t, strings.Contains(res.locator, "://"))
		host, port, err := net.SplitHostPort(res.locator)
		require.NoError(t, err)
		require.NotEmpty(t, host)
		require.NotEmpty(t, port)
	case <-time.After(6 * time.Second):
		t.Fatal("InstantiateSlave never completed")
	}
}
