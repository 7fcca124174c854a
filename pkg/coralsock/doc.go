/*
Package coralsock implements the three socket roles spec §4.A asks for —
REQ, REP, and PUB/SUB — directly on top of stdlib net.Conn/net.Listener.

There is no ZeroMQ binding in this module's dependency stack, so REQ/REP
is reimplemented as a small framed request/reply protocol over a plain
TCP connection, and PUB/SUB as a fan-out broadcaster over a set of TCP
connections accepted from subscribers. Every message on the wire is a
length-prefixed sequence of opaque byte frames (see Frame), matching
spec §6's "a message is an ordered sequence of opaque byte frames".

This mirrors the way the rest of this corpus builds custom wire
protocols: no generated stubs, just net.Conn/net.UDPConn and a small
explicit framing layer (see the retrieval pack's gossip and dns-server
examples, which do the same for their own RPC and record protocols).
*/
package coralsock
