// Package promstats exports strata read-path observations as Prometheus
// metrics. Recording is fire-and-forget and never affects read control
// flow; the broker scrapes the registry it already runs.
package promstats

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/justapithecus/strata/strata"
)

// Recorder implements strata.StatsRecorder on Prometheus collectors,
// labelled by topic.
type Recorder struct {
	indexReadLatency *prometheus.HistogramVec
	dataReadBytes    *prometheus.CounterVec
}

var _ strata.StatsRecorder = (*Recorder)(nil)

// NewRecorder creates a recorder and registers its collectors with reg.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		indexReadLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "strata_offload_index_read_seconds",
				Help:    "Latency of offload index blob fetches",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"topic"},
		),
		dataReadBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strata_offload_data_read_bytes_total",
				Help: "Entry payload bytes served from offloaded ledgers",
			},
			[]string{"topic"},
		),
	}
	for _, c := range []prometheus.Collector{r.indexReadLatency, r.dataReadBytes} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// RecordIndexReadLatency implements strata.StatsRecorder.
func (r *Recorder) RecordIndexReadLatency(topic string, d time.Duration) {
	r.indexReadLatency.WithLabelValues(topic).Observe(d.Seconds())
}

// RecordDataReadBytes implements strata.StatsRecorder.
func (r *Recorder) RecordDataReadBytes(topic string, n int64) {
	r.dataReadBytes.WithLabelValues(topic).Add(float64(n))
}
