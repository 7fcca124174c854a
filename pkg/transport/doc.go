/*
Package transport implements spec §4.D: the variable pub/sub layer
each slave agent uses to publish its outputs at the end of a step, and
the input barrier that blocks a step's completion until every
connected input has a value for the current step.

Publish and Subscribe sit directly on pkg/coralsock's PubSocket and
SubSocket; the barrier is plain channel-and-timer code in the style of
cuemby-warren's worker/health_monitor.go bounded-poll loop, adapted
from "poll until healthy or timeout" to "collect samples until
complete or timeout".
*/
package transport
