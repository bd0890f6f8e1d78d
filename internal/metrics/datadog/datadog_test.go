package datadog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bulkload/internal/metrics"
)

func TestLabelsToTags(t *testing.T) {
	assert.Nil(t, labelsToTags(nil))
	assert.Equal(t,
		[]string{"status:success", "step:copy", "table:cities"},
		labelsToTags(metrics.Labels{"table": "cities", "step": "copy", "status": "success"}))
}

func TestNewBackend(t *testing.T) {
	_, err := NewBackend(Config{})
	require.Error(t, err)

	b, err := NewBackend(Config{Addr: "127.0.0.1:8125", Namespace: "bulkload.", GlobalTags: []string{"env:test"}})
	require.NoError(t, err)
	b.IncCounter(metrics.RowsTotal, 10, metrics.Labels{"table": "t", "kind": "read"})
	b.ObserveHistogram(metrics.StepDurationSeconds, 0.2, nil)
	assert.NoError(t, b.Flush())
}

func TestBackend_NilClientIsNoop(t *testing.T) {
	var b Backend
	b.IncCounter(metrics.ChunksTotal, 1, nil)
	b.ObserveHistogram(metrics.StepDurationSeconds, 1, nil)
	assert.NoError(t, b.Flush())
}
