package poller

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedloop_poll_cycles_total",
		Help: "The total number of completed poll cycles",
	})

	ingestFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedloop_ingest_failures_total",
		Help: "The total number of per-feed ingestion failures by kind",
	}, []string{"kind"})

	postsMerged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedloop_posts_merged_total",
		Help: "The total number of posts inserted by poll cycles",
	})
)
