/*
Package reactor implements the single-threaded event loop spec §4.A and
§9 call for: one goroutine owns all reactor state (sockets, timers,
pending requests), and every interaction with that state — a socket
became readable, a timer fired, an external caller wants something
done — is funneled onto that goroutine as a closure, the way
cuemby-warren's events.Broker and scheduler serialize all state access
through a single run loop fed by channels, and the way the pack's
gossip package tears a server down with a "closing chan chan error"
handshake instead of a raw context cancellation race.

Every blocking socket read in the rest of this module runs in its own
goroutine and delivers its result back onto the Reactor via Go, so the
reactor goroutine itself never blocks on I/O.
*/
package reactor
