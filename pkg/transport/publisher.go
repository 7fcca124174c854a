package transport

import (
	"github.com/coral-sim/coral/pkg/coralsock"
	"github.com/coral-sim/coral/pkg/coralwire"
	"github.com/coral-sim/coral/pkg/model"
)

// Publisher is the output side of one slave agent's variable
// transport: it binds one endpoint and fans published values out to
// every connected peer subscriber (spec §4.D).
type Publisher struct {
	sock *coralsock.PubSocket
}

// NewPublisher binds a Publisher to addr ("host:port"; an empty or
// zero port lets the OS choose one, per spec §4.D "typically TCP,
// OS-chosen port").
func NewPublisher(addr string) (*Publisher, error) {
	sock, err := coralsock.NewPubSocket("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Publisher{sock: sock}, nil
}

// Addr returns the bound address, to advertise to peers via SETUP.
func (p *Publisher) Addr() string { return p.sock.Addr().String() }

// PublishValue publishes one variable's value at the given step, per
// spec §4.D: frame 1 is the 8-byte DataHeader, frame 2 is the
// protobuf TimestampedValue body.
func (p *Publisher) PublishValue(stepID model.StepID, slave model.SlaveID, variable model.VariableID, value model.ScalarValue) {
	header := coralwire.EncodeDataHeader(coralwire.DataHeader{
		StepID:     uint32(stepID),
		SlaveID:    uint16(slave),
		VariableID: uint16(variable),
	})
	body := coralwire.EncodeTimestampedValue(coralwire.TimestampedValue{
		StepID: uint64(stepID),
		Value:  value,
	})
	p.sock.Publish([][]byte{header, body})
}

// SubscriberCount reports how many peers are currently connected.
func (p *Publisher) SubscriberCount() int { return p.sock.SubscriberCount() }

// Close releases the publisher's socket.
func (p *Publisher) Close() error { return p.sock.Close() }
