package quota

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/erpai-decision-prototype/internal/domain"
	"github.com/xela07ax/erpai-decision-prototype/internal/infra"
	"go.uber.org/zap"
)

// Listen — "живучая" подписка на квотные сигналы соседних инстансов.
// Обрабатывает переподключения: при обрыве канала цикл начинается заново.
func (b *Breaker) Listen(ctx context.Context, rdb *redis.Client) {
	for {
		pubsub := rdb.Subscribe(ctx, infra.RedisChanQuotaSignal)

		// Проверка успешности подписки
		if _, err := pubsub.Receive(ctx); err != nil {
			b.logger.Error("failed to subscribe", zap.String("chan", infra.RedisChanQuotaSignal), zap.Error(err))
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}
				b.processSignal(msg.Payload)
			}
		}

		pubsub.Close()
		time.Sleep(time.Second)
	}
}

func (b *Breaker) processSignal(payload string) {
	if payload == resetPayload {
		b.applyRemote(nil)
		return
	}

	var rec domain.QuotaStatus
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		b.logger.Error("invalid quota signal", zap.String("payload", payload), zap.Error(err))
		return
	}
	b.applyRemote(&rec)
}
