// Command coral-provider beacons its presence (spec §4.B) and answers
// GET_SLAVE_TYPES/INSTANTIATE_SLAVE (spec §4.H/§4.I) by spawning
// coral-agent child processes on demand.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/coral-sim/coral/pkg/corallog"
	"github.com/coral-sim/coral/pkg/instance/memmodel"
	"github.com/coral-sim/coral/pkg/provider"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "coral-provider: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	providerID := flag.String("provider-id", "", "this provider's unique ID (defaults to a generated UUID)")
	rpcAddr := flag.String("rpc-addr", "127.0.0.1:0", "host:port the RPC listener binds")
	broadcastAddr := flag.String("broadcast-addr", "", "UDP address beacons are sent to (required)")
	partitionID := flag.Uint("partition-id", 1, "discovery partition ID")
	beaconPeriod := flag.Duration("beacon-period", time.Second, "interval between beacons")
	agentBinary := flag.String("agent-binary", "coral-agent", "path to the coral-agent binary this provider spawns")
	spawnDeadline := flag.Duration("spawn-deadline", 30*time.Second, "upper bound on a spawned agent's startup")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logJSON := flag.Bool("log-json", false, "output logs as JSON")
	flag.Parse()

	corallog.Init(corallog.Config{Level: corallog.Level(*logLevel), JSONOutput: *logJSON})

	if *providerID == "" {
		*providerID = uuid.New().String()
	}
	if *broadcastAddr == "" {
		return fmt.Errorf("-broadcast-addr is required")
	}

	srv, err := provider.NewServer(provider.Config{
		ProviderID:    *providerID,
		RPCAddr:       *rpcAddr,
		BroadcastAddr: *broadcastAddr,
		PartitionID:   uint32(*partitionID),
		BeaconPeriod:  *beaconPeriod,
		SpawnDeadline: *spawnDeadline,
		Offerings: []provider.SlaveTypeOffering{
			{
				Description: memmodel.NewMass(0, 0, 0, 0).TypeDescription(),
				Command:     *agentBinary,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("creating provider server: %w", err)
	}
	srv.Start()
	fmt.Printf("RPC listening on %s, offering %s, provider id %s\n", srv.Addr(), memmodel.MassUUID, *providerID)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	fmt.Println("shutting down")
	return srv.Stop()
}
