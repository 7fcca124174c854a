/*
Package agent implements spec §4.E: the in-slave control server that
drives one instance.Instance through its lifecycle on behalf of a
remote execution manager.

An Agent owns exactly one reactor.Reactor, which in turn owns the
control protocol.Server, the outbound transport.Publisher, and the
inbound transport.Subscriber — mirroring cuemby-warren's worker.Worker
shape (Config struct, NewWorker constructor, Start/Stop lifecycle) but
replacing its gRPC heartbeat/task-sync loops with the single-threaded
command dispatch spec §5 requires: every control request is executed
on the reactor goroutine via reactor.Call, so a STEP that blocks the
goroutine for the duration of a model's DoStep correctly makes the
agent unresponsive to new control traffic, exactly as spec §5 demands.
*/
package agent
