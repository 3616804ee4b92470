package infra

const (
	// RedisNamespace — базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "erpai"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanQuotaSignal — трансляция записи/сброса квоты между инстансами.
	RedisChanQuotaSignal = RedisNamespace + ":llm:quota-signal"

	// RedisChanApprovalNotify — нотификации о терминальных переходах заявок HITL.
	RedisChanApprovalNotify = RedisNamespace + ":approvals:notify"
)
