/*
Package messenger implements spec §4.F: the master-side handle for one
remote slave agent. A Messenger owns a protocol.Client over a single
coralsock.Conn and tracks the agent's state as seen from the master —
model.MessengerState plus a transient Busy flag, since at most one
command may be outstanding at a time.

It mirrors cuemby-warren's pkg/client.Client shape (a thin wrapper
around one connection exposing one async method per remote operation)
but replaces the gRPC stub with the control protocol's request/reply
substrate, and replaces synchronous call/response with the callback
style pkg/agent and pkg/reactor already use throughout the control
plane.
*/
package messenger
