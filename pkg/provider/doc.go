/*
Package provider implements spec §4.H and §4.I: the master-side
provider-cluster client that tracks slave providers via discovery and
issues GET_SLAVE_TYPES/INSTANTIATE_SLAVE over the RPC substrate, and
the provider-side server that answers those RPCs and spawns slave
processes on demand.

Cluster plays the CommThread role §4.H describes: one reactor owning a
pkg/discovery.Tracker and a pkg/protocol.Client per known provider.
This package adds nothing new to the discovery wire mechanics — it
drives this module's own pkg/discovery.Tracker exactly the way
pkg/agent and pkg/execution drive their own reactors/messengers, and
layers the RPC protocol (GET_SLAVE_TYPES/INSTANTIATE_SLAVE) on top of
the peer set the tracker reports.

Server plays the mirror role §4.I describes: a request/reply server
plus a beacon, grounded on pkg/agent's handler-dispatch shape
(protocol.Server + RegisterHandler + reactor-free synchronous handlers,
since instantiation spawns a process and waits rather than touching any
shared reactor state). Process spawn borrows cuemby-warren's
pkg/health.ExecChecker idiom (exec.CommandContext bound to a timeout
context, command given as a string slice) applied to spawning a
coral-agent child instead of running a health-check probe.
*/
package provider
