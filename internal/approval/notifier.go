package approval

import (
	"context"
	"encoding/json"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/erpai-decision-prototype/internal/domain"
	"github.com/xela07ax/erpai-decision-prototype/internal/infra"
	"go.uber.org/zap"
)

// RedisNotifier транслирует нотификации о терминальных переходах заявок
// в канал Pub/Sub, откуда их забирают внешние интеграции (мессенджеры, workflow).
type RedisNotifier struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewRedisNotifier(rdb *redis.Client, logger *zap.Logger) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, logger: logger.Named("approval-notifier")}
}

// Notify — best-effort с ретраями: исход заявки уже зафиксирован в БД,
// потерянная нотификация не должна валить резолюцию.
func (n *RedisNotifier) Notify(ctx context.Context, note domain.Notification) {
	payload, err := json.Marshal(note)
	if err != nil {
		n.logger.Error("failed to marshal notification", zap.Error(err))
		return
	}

	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(100*time.Millisecond),
	)
	err = r.Do(func() error {
		return n.rdb.Publish(ctx, infra.RedisChanApprovalNotify, payload).Err()
	})
	if err != nil {
		n.logger.Error("notification delivery failed",
			zap.String("approval_id", note.ApprovalID),
			zap.String("outcome", note.Outcome),
			zap.Error(err))
		return
	}

	n.logger.Debug("notification published",
		zap.String("approval_id", note.ApprovalID),
		zap.String("recipient", note.Recipient),
		zap.String("outcome", note.Outcome))
}
