package network

import "testing"

func TestParseTCPLocator(t *testing.T) {
	l, err := Parse("tcp://10.0.0.1:5555")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if l.Scheme != "tcp" || l.Host != "10.0.0.1" || l.Port != "5555" {
		t.Fatalf("got %+v", l)
	}
	if l.HostPort() != "10.0.0.1:5555" {
		t.Fatalf("HostPort = %q", l.HostPort())
	}
}

func TestParseBareHostPort(t *testing.T) {
	l, err := Parse("127.0.0.1:9000")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if l.Scheme != "tcp" || l.HostPort() != "127.0.0.1:9000" {
		t.Fatalf("got %+v", l)
	}
}

func TestParseInprocLocator(t *testing.T) {
	l, err := Parse("inproc://slave-3")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if l.Scheme != "inproc" || l.Path != "slave-3" {
		t.Fatalf("got %+v", l)
	}
}

func TestParseMissingPort(t *testing.T) {
	if _, err := Parse("tcp://10.0.0.1"); err == nil {
		t.Fatal("expected error for missing port")
	}
}

func TestFormatRoundTrip(t *testing.T) {
	if got := Format("10.0.0.1:5555"); got != "tcp://10.0.0.1:5555" {
		t.Fatalf("Format = %q", got)
	}
}
