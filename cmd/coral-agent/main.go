// Command coral-agent runs a single slave agent: it binds a control
// listener, drives the in-slave state machine (spec §4.E), and — when
// launched by a slave provider rather than a human operator — reports
// its bound control address back over a private handshake connection
// (spec §4.I).
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coral-sim/coral/pkg/agent"
	"github.com/coral-sim/coral/pkg/corallog"
	"github.com/coral-sim/coral/pkg/coralwire"
	"github.com/coral-sim/coral/pkg/instance/memmodel"
	"github.com/coral-sim/coral/pkg/provider"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "coral-agent: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	controlAddr := flag.String("control-addr", "127.0.0.1:0", "host:port the control listener binds")
	handshakeAddr := flag.String("handshake-addr", "", "address of a provider's private handshake listener, set only when spawned by coral-provider")
	typeUUID := flag.String("type-uuid", memmodel.MassUUID, "slave type to instantiate (only the built-in spring-mass model is available)")
	mass := flag.Float64("mass", 1.0, "mass in kg, for the spring-mass model")
	damping := flag.Float64("damping", 0.0, "damping coefficient in N*s/m, for the spring-mass model")
	springConstant := flag.Float64("spring-constant", 0.0, "spring constant in N/m, for the spring-mass model")
	initialPosition := flag.Float64("initial-position", 0.0, "initial position in m, for the spring-mass model")
	inactivityTimeout := flag.Duration("inactivity-timeout", 0, "terminate if no control command arrives within this long (0 disables)")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logJSON := flag.Bool("log-json", false, "output logs as JSON")
	flag.Parse()

	corallog.Init(corallog.Config{Level: corallog.Level(*logLevel), JSONOutput: *logJSON})

	if *typeUUID != memmodel.MassUUID {
		return fmt.Errorf("unknown slave type %q", *typeUUID)
	}
	inst := memmodel.NewMass(*mass, *damping, *springConstant, *initialPosition)

	a, err := agent.New(agent.Config{
		ControlAddr:             *controlAddr,
		PeerDialTimeout:         5 * time.Second,
		MasterInactivityTimeout: *inactivityTimeout,
		Instance:                inst,
	})
	if err != nil {
		return fmt.Errorf("creating agent: %w", err)
	}
	a.Start()
	fmt.Printf("control listening on %s\n", a.ControlAddr())

	if *handshakeAddr != "" {
		// Bare "host:port", matching what messenger.Connect expects —
		// the execution manager feeds this straight back in as a
		// Newcomer.Locator once the provider hands it to the master.
		report := coralwire.HandshakeReport{ControlLocator: a.ControlAddr()}
		if err := provider.ReportHandshake(*handshakeAddr, report); err != nil {
			_ = a.Stop()
			return fmt.Errorf("reporting handshake: %w", err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	fmt.Println("shutting down")
	return a.Stop()
}
