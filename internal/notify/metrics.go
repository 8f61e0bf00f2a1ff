package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "terminarz_notify_sends_total",
		Help: "Notification attempts by template kind and outcome.",
	}, []string{"kind", "outcome"})

	sendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "terminarz_notify_send_duration_seconds",
		Help:    "Wall time of one notification attempt including transport.",
		Buckets: prometheus.DefBuckets,
	})

	lockContentionTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "terminarz_notify_lock_contention_total",
		Help: "Reminder sends abandoned because another worker claimed first.",
	})

	linkRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "terminarz_notify_link_retries_total",
		Help: "Retries with the link-free template after a link rejection.",
	})

	guardRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "terminarz_notify_guard_rejections_total",
		Help: "Sends rejected by a pre-send guard, by guard reason.",
	}, []string{"reason"})
)

const (
	outcomeSuccess = "success"
	outcomeFailed  = "failed"
)
