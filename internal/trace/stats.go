package trace

import (
	"sort"
	"time"

	"github.com/xela07ax/erpai-decision-prototype/internal/domain"
)

// PerformanceStats агрегирует удержанные трейсы: mean/median/max по общей
// длительности, средняя длительность по ролям и самый частый bottleneck.
func (t *Tracker) PerformanceStats() *domain.PerformanceStats {
	t.mu.Lock()
	traces := make([]*domain.Trace, 0, len(t.retained))
	for _, tr := range t.retained {
		traces = append(traces, tr)
	}
	t.mu.Unlock()

	stats := &domain.PerformanceStats{
		TraceCount:         len(traces),
		MeanDurationByRole: make(map[string]time.Duration),
	}
	if len(traces) == 0 {
		return stats
	}

	totals := make([]time.Duration, 0, len(traces))
	roleSum := make(map[string]time.Duration)
	roleCount := make(map[string]int)
	bottlenecks := make(map[string]int)

	var sum time.Duration
	for _, tr := range traces {
		totals = append(totals, tr.TotalDuration)
		sum += tr.TotalDuration
		if tr.TotalDuration > stats.MaxTotalDuration {
			stats.MaxTotalDuration = tr.TotalDuration
		}
		bottlenecks[tr.BottleneckAgent]++

		var walk func(s *domain.Span)
		walk = func(s *domain.Span) {
			roleSum[s.AgentRole] += s.Duration
			roleCount[s.AgentRole]++
			for _, c := range s.Children {
				walk(c)
			}
		}
		walk(tr.Root)
	}

	stats.MeanTotalDuration = sum / time.Duration(len(totals))

	sort.Slice(totals, func(i, j int) bool { return totals[i] < totals[j] })
	mid := len(totals) / 2
	if len(totals)%2 == 1 {
		stats.MedianTotal = totals[mid]
	} else {
		stats.MedianTotal = (totals[mid-1] + totals[mid]) / 2
	}

	for role, s := range roleSum {
		stats.MeanDurationByRole[role] = s / time.Duration(roleCount[role])
	}

	best := -1
	for role, n := range bottlenecks {
		if n > best {
			best = n
			stats.TopBottleneckAgent = role
		}
	}

	return stats
}
