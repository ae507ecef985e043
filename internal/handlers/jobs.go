package handlers

import (
	"context"
	"time"

	"bursar/internal/payments"
	"bursar/pkg/config"
	"bursar/pkg/logging"
)

// JobManager runs the background jobs of the payment pipeline
type JobManager struct {
	service       *payments.Service
	logger        logging.Logger
	metrics       *BursarMetrics
	sweepInterval time.Duration
	stopCh        chan struct{}
}

// NewJobManager creates a new job manager
func NewJobManager(service *payments.Service, log logging.Logger, m *BursarMetrics) *JobManager {
	return &JobManager{
		service:       service,
		logger:        log,
		metrics:       m,
		sweepInterval: config.GetEnvDuration("EXPIRY_SWEEP_INTERVAL", time.Minute),
		stopCh:        make(chan struct{}),
	}
}

// Start begins all background jobs
func (jm *JobManager) Start(ctx context.Context) {
	jm.logger.Info("Starting payment job manager")
	go jm.runExpirySweep(ctx)
}

// Stop stops all background jobs
func (jm *JobManager) Stop() {
	jm.logger.Info("Stopping payment job manager")
	close(jm.stopCh)
}

// runExpirySweep expires pending payment requests past their deadline so
// abandoned checkouts do not linger as payable
func (jm *JobManager) runExpirySweep(ctx context.Context) {
	ticker := time.NewTicker(jm.sweepInterval)
	defer ticker.Stop()

	jm.logger.WithField("interval", jm.sweepInterval).Info("Starting expiry sweep job")

	for {
		select {
		case <-ctx.Done():
			return
		case <-jm.stopCh:
			return
		case <-ticker.C:
			expired, err := jm.service.ExpireSweep(ctx)
			if err != nil {
				jm.logger.WithError(err).Error("Expiry sweep failed")
				continue
			}
			if expired > 0 {
				jm.metrics.PaymentsExpired.Add(float64(expired))
				jm.logger.WithField("expired", expired).Info("Expiry sweep completed")
			}
		}
	}
}
