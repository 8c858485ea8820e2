package job

import (
	"context"
	"time"

	"custodian/internal/service"

	"go.uber.org/zap"
)

// DepositReconcileJob periodically sweeps pending deposit intents against
// recent inbound transfers. Sweep failures are logged and retried on the next
// tick, never escalated.
type DepositReconcileJob struct {
	deposits *service.DepositService
	logger   *zap.Logger
	stopCh   chan struct{}
	interval time.Duration
}

func NewDepositReconcileJob(deposits *service.DepositService, interval time.Duration, logger *zap.Logger) *DepositReconcileJob {
	return &DepositReconcileJob{
		deposits: deposits,
		logger:   logger.Named("reconcile-job"),
		stopCh:   make(chan struct{}),
		interval: interval,
	}
}

func (j *DepositReconcileJob) Start(ctx context.Context) {
	j.logger.Info("deposit reconciliation started", zap.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("deposit reconciliation stopped")
			return
		case <-j.stopCh:
			j.logger.Info("deposit reconciliation stopped")
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *DepositReconcileJob) Stop() {
	close(j.stopCh)
}

func (j *DepositReconcileJob) sweep(ctx context.Context) {
	matched, err := j.deposits.Reconcile(ctx)
	if err != nil {
		j.logger.Error("reconcile sweep failed", zap.Error(err))
		return
	}
	if matched > 0 {
		j.logger.Info("reconcile sweep matched deposits", zap.Int("matched", matched))
	}
}
