package main

import (
	"os"

	"go.uber.org/zap"

	"bulkload/internal/config"
	"bulkload/internal/metrics"
	"bulkload/internal/metrics/datadog"
	"bulkload/internal/metrics/prompush"
)

// setupMetrics installs the configured backend and returns the function that
// flushes it at exit. Backend failures only disable metrics.
func setupMetrics(cfg config.Config, log *zap.Logger) func() {
	nop := func() {}

	name := cfg.Metrics.Backend
	if name == "" {
		name = os.Getenv("METRICS_BACKEND")
	}
	jobName := cfg.Job
	if jobName == "" {
		jobName = "bulkload"
	}

	var (
		b   metrics.Backend
		err error
	)
	switch name {
	case "pushgateway":
		url := cfg.Metrics.PushgatewayURL
		if url == "" {
			url = os.Getenv("PUSHGATEWAY_URL")
		}
		if url == "" {
			url = "http://localhost:9091"
		}
		b, err = prompush.NewBackend(jobName, url)
		log = log.With(zap.String("url", url))
	case "datadog":
		b, err = datadog.NewBackend(datadog.Config{
			Addr:       cfg.Metrics.StatsdAddr,
			Namespace:  "bulkload.",
			GlobalTags: []string{"job:" + jobName},
		})
	case "", "none":
		log.Debug("metrics disabled")
		return nop
	default:
		log.Warn("unknown metrics backend; metrics disabled", zap.String("backend", name))
		return nop
	}
	if err != nil {
		log.Warn("metrics backend init failed; using nop", zap.String("backend", name), zap.Error(err))
		return nop
	}

	log.Info("metrics enabled", zap.String("backend", name), zap.String("job_name", jobName))
	metrics.SetBackend(b)
	return func() {
		if err := metrics.Flush(); err != nil {
			log.Warn("metrics flush", zap.Error(err))
		}
	}
}
