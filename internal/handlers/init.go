package handlers

import (
	"github.com/prometheus/client_golang/prometheus"

	"bursar/internal/payments"
	"bursar/pkg/logging"
	"bursar/pkg/monitoring"
)

var (
	svc     *payments.Service
	store   payments.Store
	poller  *payments.Poller
	logger  logging.Logger
	metrics *BursarMetrics
)

// BursarMetrics tracks the payment pipeline
type BursarMetrics struct {
	PaymentRequestsCreated *prometheus.CounterVec
	VerificationVerdicts   *prometheus.CounterVec
	VerificationDuration   *prometheus.HistogramVec
	FulfillmentTriggers    *prometheus.CounterVec
	PaymentsExpired        prometheus.Counter
}

// NewBursarMetrics registers the pipeline metrics on the shared collector
func NewBursarMetrics(mc *monitoring.MetricsCollector) *BursarMetrics {
	expired := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bursar_payments_expired_total",
		Help: "Payment requests expired by the sweep job or lazy checks",
	})
	mc.RegisterCustomMetric("bursar_payments_expired_total", expired)

	return &BursarMetrics{
		PaymentRequestsCreated: mc.NewCounter(
			"bursar_payment_requests_created_total",
			"Payment requests created at checkout",
			[]string{"token"},
		),
		VerificationVerdicts: mc.NewCounter(
			"bursar_verification_verdicts_total",
			"Verification verdicts by outcome",
			[]string{"outcome"},
		),
		VerificationDuration: mc.NewHistogram(
			"bursar_verification_duration_seconds",
			"Time spent verifying a submitted transaction",
			[]string{"outcome"},
			[]float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		),
		FulfillmentTriggers: mc.NewCounter(
			"bursar_fulfillment_triggers_total",
			"Fulfillment provider calls by result",
			[]string{"result"},
		),
		PaymentsExpired: expired,
	}
}

// Init initializes the handlers with their dependencies
func Init(service *payments.Service, s payments.Store, p *payments.Poller, log logging.Logger, m *BursarMetrics) {
	svc = service
	store = s
	poller = p
	logger = log
	metrics = m
}
