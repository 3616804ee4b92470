package trace

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/xela07ax/erpai-decision-prototype/internal/domain"
	"go.uber.org/zap"
)

type fakeStore struct {
	mu     sync.Mutex
	traces map[string]*domain.Trace
}

func newFakeStore() *fakeStore {
	return &fakeStore{traces: make(map[string]*domain.Trace)}
}

func (s *fakeStore) SaveTrace(_ context.Context, t *domain.Trace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.traces[t.ConversationID] = t
	return nil
}

func (s *fakeStore) GetTrace(_ context.Context, id string) (*domain.Trace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.traces[id]; ok {
		return t, nil
	}
	return nil, domain.ErrNotFound
}

func (s *fakeStore) waitFor(t *testing.T, id string) *domain.Trace {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		tr, ok := s.traces[id]
		s.mu.Unlock()
		if ok {
			return tr
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("trace %s never flushed to store", id)
	return nil
}

func TestRootWithTwoConsultations(t *testing.T) {
	tr := NewTracker(16, nil, zap.NewNop())

	root := tr.StartSpan("conv-1", "production_planner", nil)

	c1 := tr.StartSpan("conv-1", "stock_controller", root)
	time.Sleep(15 * time.Millisecond)
	tr.EndSpan("conv-1", c1, domain.SpanResultSuccess)

	c2 := tr.StartSpan("conv-1", "order_manager", root)
	time.Sleep(5 * time.Millisecond)
	tr.EndSpan("conv-1", c2, domain.SpanResultSuccess)

	tr.EndSpan("conv-1", root, domain.SpanResultSuccess)

	got, err := tr.GetTrace(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("GetTrace: %v", err)
	}

	if len(got.Root.Children) != 2 {
		t.Fatalf("root has %d children, want 2", len(got.Root.Children))
	}
	wantPath := []string{"production_planner", "stock_controller", "order_manager"}
	if len(got.DecisionPath) != len(wantPath) {
		t.Fatalf("decision path = %v, want %v", got.DecisionPath, wantPath)
	}
	for i, role := range wantPath {
		if got.DecisionPath[i] != role {
			t.Fatalf("decision path = %v, want %v", got.DecisionPath, wantPath)
		}
	}

	// Корень открыт все время консультаций, поэтому он и есть bottleneck
	if got.BottleneckAgent != "production_planner" {
		t.Errorf("bottleneck = %s, want production_planner", got.BottleneckAgent)
	}
	if got.BottleneckDuration > got.TotalDuration {
		t.Errorf("bottleneck %v exceeds total %v", got.BottleneckDuration, got.TotalDuration)
	}
	for _, c := range got.Root.Children {
		if c.Duration > got.Root.Duration {
			t.Errorf("child %s duration %v exceeds root %v", c.AgentRole, c.Duration, got.Root.Duration)
		}
	}
}

// fabricate строит дерево с заданными длительностями и финализирует его напрямую.
func fabricate(t *Tracker, convID string, durations map[string]time.Duration, starts map[string]time.Time) {
	base := time.Now()
	mk := func(role string) *domain.Span {
		start, ok := starts[role]
		if !ok {
			start = base
		}
		return &domain.Span{
			ID:        role,
			AgentRole: role,
			StartedAt: start,
			Duration:  durations[role],
			Result:    domain.SpanResultSuccess,
		}
	}
	root := mk("root")
	for role := range durations {
		if role != "root" {
			root.Children = append(root.Children, mk(role))
		}
	}

	t.mu.Lock()
	t.finalizeLocked(convID, root)
	t.mu.Unlock()
}

func TestBottleneckPicksLongestIndividualSpan(t *testing.T) {
	tr := NewTracker(16, nil, zap.NewNop())

	fabricate(tr, "conv-slow-child", map[string]time.Duration{
		"root":  100 * time.Millisecond,
		"slow":  90 * time.Millisecond,
		"quick": 10 * time.Millisecond,
	}, nil)

	got, err := tr.GetTrace(context.Background(), "conv-slow-child")
	if err != nil {
		t.Fatalf("GetTrace: %v", err)
	}
	if got.BottleneckAgent != "root" {
		t.Errorf("bottleneck = %s, want root", got.BottleneckAgent)
	}
}

func TestBottleneckTieBreaksByEarlierStart(t *testing.T) {
	tr := NewTracker(16, nil, zap.NewNop())

	base := time.Now()
	fabricate(tr, "conv-tie", map[string]time.Duration{
		"root":  50 * time.Millisecond,
		"early": 50 * time.Millisecond,
	}, map[string]time.Time{
		"root":  base,
		"early": base.Add(-time.Second),
	})

	got, err := tr.GetTrace(context.Background(), "conv-tie")
	if err != nil {
		t.Fatalf("GetTrace: %v", err)
	}
	if got.BottleneckAgent != "early" {
		t.Errorf("bottleneck = %s, want early (same duration, earlier start)", got.BottleneckAgent)
	}
}

func TestEvictionFallsBackToDurableStore(t *testing.T) {
	store := newFakeStore()
	tr := NewTracker(1, store, zap.NewNop())

	for _, id := range []string{"conv-a", "conv-b"} {
		root := tr.StartSpan(id, "quality_auditor", nil)
		tr.EndSpan(id, root, domain.SpanResultSuccess)
		store.waitFor(t, id)
	}

	// conv-a вытеснен из L1 (retention=1), но восстанавливается из лога
	got, err := tr.GetTrace(context.Background(), "conv-a")
	if err != nil {
		t.Fatalf("GetTrace after eviction: %v", err)
	}
	if got.ConversationID != "conv-a" {
		t.Errorf("reconstructed trace id = %s", got.ConversationID)
	}

	tr.mu.Lock()
	_, inMemory := tr.retained["conv-a"]
	tr.mu.Unlock()
	if inMemory {
		t.Error("conv-a must have been evicted from L1")
	}
}

func TestGetTraceUnknownConversation(t *testing.T) {
	tr := NewTracker(4, nil, zap.NewNop())
	if _, err := tr.GetTrace(context.Background(), "nope"); err != domain.ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestPerformanceStats(t *testing.T) {
	tr := NewTracker(16, nil, zap.NewNop())

	fabricate(tr, "c1", map[string]time.Duration{"root": 100 * time.Millisecond}, nil)
	fabricate(tr, "c2", map[string]time.Duration{"root": 200 * time.Millisecond}, nil)
	fabricate(tr, "c3", map[string]time.Duration{"root": 600 * time.Millisecond}, nil)

	stats := tr.PerformanceStats()
	if stats.TraceCount != 3 {
		t.Fatalf("trace count = %d, want 3", stats.TraceCount)
	}
	if stats.MeanTotalDuration != 300*time.Millisecond {
		t.Errorf("mean = %v, want 300ms", stats.MeanTotalDuration)
	}
	if stats.MedianTotal != 200*time.Millisecond {
		t.Errorf("median = %v, want 200ms", stats.MedianTotal)
	}
	if stats.MaxTotalDuration != 600*time.Millisecond {
		t.Errorf("max = %v, want 600ms", stats.MaxTotalDuration)
	}
	if stats.TopBottleneckAgent != "root" {
		t.Errorf("top bottleneck = %s, want root", stats.TopBottleneckAgent)
	}
	if stats.MeanDurationByRole["root"] != 300*time.Millisecond {
		t.Errorf("per-role mean = %v, want 300ms", stats.MeanDurationByRole["root"])
	}
}

func TestStatsEmpty(t *testing.T) {
	tr := NewTracker(4, nil, zap.NewNop())
	stats := tr.PerformanceStats()
	if stats.TraceCount != 0 || stats.MeanTotalDuration != 0 {
		t.Fatalf("empty tracker stats = %+v", stats)
	}
}
