package job

import (
	"context"
	"time"

	"custodian/internal/infrastructure/mq"
	"custodian/internal/model"
	"custodian/internal/repository"

	"go.uber.org/zap"
)

const (
	outboxBatchSize  = 100
	outboxMaxRetries = 5
)

// OutboxSenderJob drains pending outbox rows to Kafka. A row that fails to
// publish is retried on later ticks until its retry budget is exhausted, then
// parked as FAILED for manual inspection.
type OutboxSenderJob struct {
	outboxRepo *repository.OutboxRepository
	producer   *mq.Producer
	logger     *zap.Logger
	stopCh     chan struct{}
	interval   time.Duration
}

func NewOutboxSenderJob(outboxRepo *repository.OutboxRepository, producer *mq.Producer, interval time.Duration, logger *zap.Logger) *OutboxSenderJob {
	return &OutboxSenderJob{
		outboxRepo: outboxRepo,
		producer:   producer,
		logger:     logger.Named("outbox-job"),
		stopCh:     make(chan struct{}),
		interval:   interval,
	}
}

func (j *OutboxSenderJob) Start(ctx context.Context) {
	j.logger.Info("outbox sender started", zap.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("outbox sender stopped")
			return
		case <-j.stopCh:
			j.logger.Info("outbox sender stopped")
			return
		case <-ticker.C:
			j.drain(ctx)
		}
	}
}

func (j *OutboxSenderJob) Stop() {
	close(j.stopCh)
}

func (j *OutboxSenderJob) drain(ctx context.Context) {
	messages, err := j.outboxRepo.GetPendingMessages(ctx, outboxBatchSize)
	if err != nil {
		j.logger.Error("load pending outbox messages failed", zap.Error(err))
		return
	}

	for _, msg := range messages {
		if err := j.producer.SendMessage(msg.Topic, msg.MessageKey, msg.Payload); err != nil {
			j.logger.Error("publish outbox message failed",
				zap.Int64("id", msg.ID),
				zap.String("topic", msg.Topic),
				zap.Int("retry_count", msg.RetryCount),
				zap.Error(err))

			if msg.RetryCount+1 >= outboxMaxRetries {
				if err := j.outboxRepo.UpdateStatus(ctx, msg.ID, model.OutboxStatusFailed); err != nil {
					j.logger.Error("mark outbox message failed", zap.Int64("id", msg.ID), zap.Error(err))
				}
				continue
			}
			if err := j.outboxRepo.IncrementRetry(ctx, msg.ID); err != nil {
				j.logger.Error("increment outbox retry failed", zap.Int64("id", msg.ID), zap.Error(err))
			}
			continue
		}

		if err := j.outboxRepo.UpdateStatus(ctx, msg.ID, model.OutboxStatusSent); err != nil {
			j.logger.Error("mark outbox message sent", zap.Int64("id", msg.ID), zap.Error(err))
		}
	}
}
