/*
Package execution implements spec §4.G: the whole-execution state
machine that drives every tracked slave in lockstep through
Reconstitute, Reconfigure, Prime (RESEND_VARS), Step, AcceptStep, and
Terminate.

Manager plays the role cuemby-warren's manager.Manager plays for a
cluster — one struct holding all tracked state, one method per
user-facing operation, Config/NewManager construction — but Coral has
no raft/storage/security layer underneath it: a single in-process
Manager is the whole of one execution's authority, and its state lives
only in memory for the run's lifetime. The "current state object
handles the operation" phrasing of the distilled spec is realized here
as a plain ExecutionState guard on each method rather than a
Strategy-pattern hierarchy of state objects — nothing in this module's
corpus implements the state pattern as a set of interchangeable
objects; cuemby-warren's own Manager is a flat methods-on-struct type,
and FSM-as-enum-plus-switch is exactly its (and pkg/worker's) idiom.
Each per-slave fan-out is a goroutine-per-item plus sync.WaitGroup,
grounded on test/e2e/load_test.go's createServiceBatch/
deleteServiceBatch helpers.
*/
package execution
