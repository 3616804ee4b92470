package domain

import "time"

// QuotaStatus — общепроцессное состояние предохранителя квоты upstream-бэкенда.
// Запись обновляется целиком (single assignment), частичных апдейтов не бывает.
type QuotaStatus struct {
	IsQuotaExceeded bool       `json:"is_quota_exceeded"`
	LastCheck       time.Time  `json:"last_check"`
	ExpiryTime      *time.Time `json:"expiry_time,omitempty"`
	Reason          string     `json:"reason,omitempty"`
	StatusCode      int        `json:"status_code,omitempty"`
}

// Expired — истекло ли окно исчерпания на момент now.
func (q *QuotaStatus) Expired(now time.Time) bool {
	return q.ExpiryTime != nil && now.After(*q.ExpiryTime)
}
