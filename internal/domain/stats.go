package domain

import "time"

// PerformanceStats — агрегаты по удержанным трейсам. Для диагностики
// емкости, не для корректности.
type PerformanceStats struct {
	TraceCount         int                      `json:"trace_count"`
	MeanTotalDuration  time.Duration            `json:"mean_total_duration_ns"`
	MedianTotal        time.Duration            `json:"median_total_duration_ns"`
	MaxTotalDuration   time.Duration            `json:"max_total_duration_ns"`
	MeanDurationByRole map[string]time.Duration `json:"mean_duration_by_role"`
	TopBottleneckAgent string                   `json:"top_bottleneck_agent"`
}
