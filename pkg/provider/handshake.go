package provider

import (
	"time"

	"github.com/coral-sim/coral/pkg/coralsock"
	"github.com/coral-sim/coral/pkg/coralwire"
)

// ReportHandshake dials the private handshake listener a Server bound
// before spawning this process (passed on the command line as
// "--handshake-addr") and sends one HandshakeReport frame. Used by a
// coral-agent process that was launched by a Server, as opposed to one
// started directly for testing or by a human operator.
func ReportHandshake(handshakeAddr string, report coralwire.HandshakeReport) error {
	conn, err := coralsock.Dial("tcp", handshakeAddr, 5*time.Second)
	if err != nil {
		return err
	}
	defer conn.Close()
	return conn.Send([][]byte{coralwire.EncodeHandshakeReport(report)})
}
