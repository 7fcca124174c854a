package network

import (
	"fmt"
	"strings"
)

// Locator is a parsed endpoint locator (spec §6).
type Locator struct {
	Scheme string // "tcp", "ipc", or "inproc"
	Host   string // empty for ipc/inproc
	Port   string // empty for ipc/inproc
	Path   string // the ipc/inproc path, or host:port for tcp
}

// Parse decodes a locator string such as "tcp://10.0.0.1:5555" or
// "inproc://slave-3". Locators with no "scheme://" prefix are treated
// as bare "host:port" and default to the tcp scheme, matching what a
// net.Listener's Addr().String() returns.
func Parse(s string) (Locator, error) {
	scheme, rest, ok := strings.Cut(s, "://")
	if !ok {
		scheme, rest = "tcp", s
	}
	switch scheme {
	case "tcp":
		host, port, ok := strings.Cut(rest, ":")
		if !ok || port == "" {
			return Locator{}, fmt.Errorf("network: tcp locator %q missing port", s)
		}
		return Locator{Scheme: scheme, Host: host, Port: port, Path: rest}, nil
	case "ipc", "inproc":
		if rest == "" {
			return Locator{}, fmt.Errorf("network: %s locator %q missing path", scheme, s)
		}
		return Locator{Scheme: scheme, Path: rest}, nil
	default:
		return Locator{}, fmt.Errorf("network: unsupported locator scheme %q in %q", scheme, s)
	}
}

// HostPort returns the "host:port" pair a tcp Locator resolves to, the
// form net.Dial/net.Listen expect.
func (l Locator) HostPort() string {
	return l.Path
}

// String formats the locator back into "scheme://path" form.
func (l Locator) String() string {
	return fmt.Sprintf("%s://%s", l.Scheme, l.Path)
}

// Format wraps a bare "host:port" address (e.g. from
// net.Listener.Addr()) as a "tcp://host:port" locator string.
func Format(hostPort string) string {
	return "tcp://" + hostPort
}
