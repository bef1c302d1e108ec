package perf

import "github.com/prometheus/client_golang/prometheus"

const metricsPrefix = "tauphi_perf"

type Metrics struct {
	SamplesRead    prometheus.Counter
	SamplesLost    prometheus.Counter
	RecordsSkipped prometheus.Counter
	Wakeups        prometheus.Counter
}

// NewMetrics creates the channel counters and registers them on reg when it
// is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SamplesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricsPrefix + "_samples_read_total",
			Help: "Total number of samples decoded from perf ring buffers",
		}),
		SamplesLost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricsPrefix + "_samples_lost_total",
			Help: "Total number of samples the kernel dropped because a ring buffer was full",
		}),
		RecordsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricsPrefix + "_records_skipped_total",
			Help: "Total number of non-sample or truncated records consumed without producing a sample",
		}),
		Wakeups: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricsPrefix + "_wakeups_total",
			Help: "Total number of readiness wakeups observed by async sample sources",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.SamplesRead,
			m.SamplesLost,
			m.RecordsSkipped,
			m.Wakeups,
		)
	}

	return m
}
