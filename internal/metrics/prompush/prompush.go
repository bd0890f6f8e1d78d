// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package. Collected metrics are pushed to a Pushgateway at Flush
// instead of being exposed on a scrape endpoint, which suits a batch process
// that exits when the load is done.
package prompush

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"bulkload/internal/metrics"
)

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string // e.g. http://pushgateway:9091
	jobName    string // Pushgateway "job" group
	reg        *prometheus.Registry

	stepCounter  *prometheus.CounterVec
	stepDuration *prometheus.SummaryVec
	rowCounter   *prometheus.CounterVec
	chunkCounter *prometheus.CounterVec
}

// NewBackend constructs a Pushgateway backend. jobName is the Pushgateway
// "job" grouping key.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "bulkload"
	}

	reg := prometheus.NewRegistry()

	// job is the Pushgateway grouping key, so it is not a label here.
	stepCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metrics.StepTotal,
			Help: "Load step executions, partitioned by table, step, and status.",
		},
		[]string{"table", "step", "status"},
	)
	stepDuration := prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       metrics.StepDurationSeconds,
			Help:       "Duration of load steps in seconds.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"table", "step", "status"},
	)
	rowCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metrics.RowsTotal,
			Help: "Rows read from the archive and copied into the destination.",
		},
		[]string{"table", "kind"},
	)
	chunkCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metrics.ChunksTotal,
			Help: "CSV payloads sent with COPY.",
		},
		[]string{"table"},
	)

	for name, c := range map[string]prometheus.Collector{
		"step counter":  stepCounter,
		"step summary":  stepDuration,
		"row counter":   rowCounter,
		"chunk counter": chunkCounter,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register %s: %w", name, err)
		}
	}

	return &Backend{
		gatewayURL:   gatewayURL,
		jobName:      jobName,
		reg:          reg,
		stepCounter:  stepCounter,
		stepDuration: stepDuration,
		rowCounter:   rowCounter,
		chunkCounter: chunkCounter,
	}, nil
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case metrics.StepTotal:
		b.stepCounter.WithLabelValues(labels["table"], labels["step"], labels["status"]).Add(delta)
	case metrics.RowsTotal:
		b.rowCounter.WithLabelValues(labels["table"], labels["kind"]).Add(delta)
	case metrics.ChunksTotal:
		b.chunkCounter.WithLabelValues(labels["table"]).Add(delta)
	default:
		// unknown metric name: ignore
	}
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != metrics.StepDurationSeconds {
		return
	}
	b.stepDuration.WithLabelValues(labels["table"], labels["step"], labels["status"]).Observe(value)
}

// Flush pushes the current registry to the Pushgateway.
func (b *Backend) Flush() error {
	return push.New(b.gatewayURL, b.jobName).
		Gatherer(b.reg).
		Push()
}
