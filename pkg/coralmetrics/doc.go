/*
Package coralmetrics exposes Coral's execution-level Prometheus
metrics: per-step fan-out duration, per-slave state, and discovery
churn/foreign-partition counts.

Grounded on cuemby-warren's pkg/metrics (package-level prometheus
collector vars registered from init, a promhttp.Handler() exporter,
and a Timer helper for histogram observations), trimmed to the
metrics Coral's own domain actually produces — there is no cluster,
raft, ingress, or container state here to report on.
*/
package coralmetrics
