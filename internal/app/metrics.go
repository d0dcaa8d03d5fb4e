package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	paymentsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_created_total",
		Help: "Gateway orders created.",
	})

	paymentsVerified = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_verified_total",
		Help: "Payment verifications by result.",
	}, []string{"result"})

	paymentsRefunded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_refunded_total",
		Help: "Refunds issued through the gateway.",
	})

	otpsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "otps_sent_total",
		Help: "Verification codes mailed.",
	})

	receiptsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "receipts_sent_total",
		Help: "Receipt emails by result.",
	}, []string{"result"})
)

var outboxPublished = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "outbox_events_published_total",
	Help: "Outbox events relayed to the broker by result.",
}, []string{"result"})
