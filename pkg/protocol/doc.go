/*
Package protocol implements the generic, versioned request/reply
substrate of spec §4.C on top of pkg/coralsock and pkg/reactor: a
Client with exactly one outstanding request at a time, a Server
dispatching by (protocol-id, version), and the MAX-PROTOCOL-VERSION
meta-protocol used to negotiate a version before the first real
request.

Every request and reply is two frames: a header frame (coralwire
ControlHeader: protocol-id, version, message-type) and a body frame.
Client and Server both run their socket I/O through a Reactor so that
everything touching their state — the pending-request queue, the
dispatch table — is serialized onto one goroutine, per spec §4.A.
*/
package protocol
