package coralmetrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// StepDuration is the wall-clock time of one whole-execution
	// STEP fan-out, from issuing STEP to every slave to the last
	// reply.
	StepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coral_step_duration_seconds",
			Help:    "Time taken to complete one whole-execution step fan-out",
			Buckets: prometheus.DefBuckets,
		},
	)

	// AcceptStepDuration is the wall-clock time of one whole-execution
	// ACCEPT_STEP fan-out (dominated by the slowest slave's input
	// barrier).
	AcceptStepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coral_accept_step_duration_seconds",
			Help:    "Time taken to complete one whole-execution accept-step fan-out",
			Buckets: prometheus.DefBuckets,
		},
	)

	// SlaveState reports each tracked slave's current MessengerState
	// as seen by the execution manager, one gauge value (0-5, matching
	// model.AgentState's iota order) per slave.
	SlaveState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coral_slave_state",
			Help: "Current messenger state of a tracked slave (0=NOT_CONNECTED .. 5=TERMINATED)",
		},
		[]string{"execution_name", "slave_id", "slave_name"},
	)

	// SlavesTotal is the number of slaves currently tracked by an
	// execution, by execution name.
	SlavesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coral_slaves_total",
			Help: "Number of slaves tracked by an execution",
		},
		[]string{"execution_name"},
	)

	// StepFailuresTotal counts STEP_FAILED replies, by slave.
	StepFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coral_step_failures_total",
			Help: "Total number of STEP_FAILED replies received from a slave",
		},
		[]string{"execution_name", "slave_id"},
	)

	// DiscoveryAppearedTotal and DiscoveryDisappearedTotal count
	// tracker churn per service type (spec §4.B).
	DiscoveryAppearedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coral_discovery_appeared_total",
			Help: "Total number of discovery entries that appeared",
		},
		[]string{"service_type"},
	)

	DiscoveryDisappearedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coral_discovery_disappeared_total",
			Help: "Total number of discovery entries that expired",
		},
		[]string{"service_type"},
	)

	// DiscoveryForeignPartitionTotal counts beacons dropped because
	// their partition ID didn't match the tracker's own (spec §4.B: "the
	// partition ID cleanly partitions the network; pings from other
	// partitions are silently dropped").
	DiscoveryForeignPartitionTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coral_discovery_foreign_partition_total",
			Help: "Total number of discovery beacons dropped for a mismatched partition ID",
		},
	)
)

func init() {
	prometheus.MustRegister(StepDuration)
	prometheus.MustRegister(AcceptStepDuration)
	prometheus.MustRegister(SlaveState)
	prometheus.MustRegister(SlavesTotal)
	prometheus.MustRegister(StepFailuresTotal)
	prometheus.MustRegister(DiscoveryAppearedTotal)
	prometheus.MustRegister(DiscoveryDisappearedTotal)
	prometheus.MustRegister(DiscoveryForeignPartitionTotal)
}

// Handler exposes the registered collectors for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times an operation and reports its duration to a histogram on
// ObserveDuration.
type Timer struct {
	start time.Time
}

// NewTimer starts a Timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}
