package asr

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Package-level Prometheus collectors for the ASR core, following the same
// promauto registration style as internal/transport/http/middleware.

var (
	quotaConsumedSeconds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asr_quota_consumed_seconds_total",
			Help: "Total audio seconds consumed per provider/variant, split by free/paid.",
		},
		[]string{"provider", "variant", "bucket"},
	)

	schedulerDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asr_scheduler_decisions_total",
			Help: "Total scheduling decisions by the provider each was routed to.",
		},
		[]string{"provider", "variant"},
	)

	precheckRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asr_precheck_rejections_total",
			Help: "Total task-creation pre-check rejections by error kind.",
		},
		[]string{"kind"},
	)
)

func observeQuotaConsumption(provider, variant string, free, paid float64) {
	if free > 0 {
		quotaConsumedSeconds.WithLabelValues(provider, variant, "free").Add(free)
	}
	if paid > 0 {
		quotaConsumedSeconds.WithLabelValues(provider, variant, "paid").Add(paid)
	}
}

func observeSchedulerDecision(provider, variant string) {
	schedulerDecisionsTotal.WithLabelValues(provider, variant).Inc()
}

func observePrecheckRejection(kind string) {
	precheckRejectionsTotal.WithLabelValues(kind).Inc()
}
