package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xela07ax/erpai-decision-prototype/internal/agent"
	"github.com/xela07ax/erpai-decision-prototype/internal/approval"
	"github.com/xela07ax/erpai-decision-prototype/internal/audit"
	"github.com/xela07ax/erpai-decision-prototype/internal/domain"
	"github.com/xela07ax/erpai-decision-prototype/internal/infra"
	"github.com/xela07ax/erpai-decision-prototype/internal/llm"
	"github.com/xela07ax/erpai-decision-prototype/internal/policy"
	"github.com/xela07ax/erpai-decision-prototype/internal/quota"
	"github.com/xela07ax/erpai-decision-prototype/internal/trace"
	"go.uber.org/zap"
)

type scriptedBackend struct {
	mu    sync.Mutex
	reply func(req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

func (s *scriptedBackend) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reply(req)
}

func decisionJSON(severity string) *llm.CompletionResponse {
	return &llm.CompletionResponse{
		Content: fmt.Sprintf(`{"summary": "assessment", "recommended_action": "halt line 3", "severity": %q, "confidence": 0.9}`, severity),
	}
}

type memApprovals struct {
	mu    sync.Mutex
	items map[string]*domain.Approval
}

func (s *memApprovals) Create(_ context.Context, a *domain.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.items[a.ID] = &cp
	return nil
}

func (s *memApprovals) Get(_ context.Context, id string) (*domain.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *memApprovals) Update(_ context.Context, a *domain.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.items[a.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Status != domain.ApprovalPending {
		return domain.ErrAlreadyResolved
	}
	cp := *a
	s.items[a.ID] = &cp
	return nil
}

func (s *memApprovals) List(_ context.Context, status domain.ApprovalStatus, agentRole string, limit, offset int) ([]*domain.Approval, error) {
	return nil, nil
}

func (s *memApprovals) ExpireOlderThan(_ context.Context, now time.Time) ([]*domain.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []*domain.Approval
	for _, a := range s.items {
		if a.Status == domain.ApprovalPending && now.After(a.ExpiryAt) {
			a.Status = domain.ApprovalExpired
			cp := *a
			expired = append(expired, &cp)
		}
	}
	return expired, nil
}

type memJournal struct {
	mu     sync.Mutex
	events []audit.DecisionEvent
}

func (m *memJournal) Record(ev audit.DecisionEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func (m *memJournal) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

type rig struct {
	backend *scriptedBackend
	orch    *Orchestrator
	gate    *approval.Gate
	journal *memJournal
}

func newRig(t *testing.T, approvalTTL time.Duration) *rig {
	t.Helper()
	nop := zap.NewNop()

	backend := &scriptedBackend{reply: func(llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return decisionJSON("low"), nil
	}}
	tracker := trace.NewTracker(16, nil, nop)
	breaker := quota.NewBreaker(time.Hour, nil, nop)
	registry := agent.BuildRegistry(backend, tracker, breaker, "test-model", nop)

	gate := approval.NewGate(&memApprovals{items: make(map[string]*domain.Approval)}, nil, approvalTTL, nop)
	esc := policy.NewEscalationPolicy(infra.EscalationConfig{}, nop)
	journal := &memJournal{}

	return &rig{
		backend: backend,
		gate:    gate,
		journal: journal,
		orch:    New(registry, gate, esc, journal, nil, nop),
	}
}

func startReq(urgency domain.Level) Request {
	return Request{
		Prompt:      "line 3 reports vibration above limit",
		Type:        domain.RequestTypeAnalysis,
		Urgency:     urgency,
		RequestedBy: "operator-5",
	}
}

func TestLowSeverityCompletesAutomatically(t *testing.T) {
	r := newRig(t, time.Hour)

	conv, err := r.orch.StartConversation(context.Background(), agent.RoleQualityAuditor, startReq(domain.LevelLow))
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}

	if conv.Status != domain.ConvCompleted {
		t.Fatalf("status = %s, want completed", conv.Status)
	}
	if conv.ApprovalID != "" {
		t.Error("automatic completion must not open an approval")
	}
	if conv.FinalDecision == nil || conv.FinalDecision.RecommendedAction != "halt line 3" {
		t.Errorf("final decision = %+v", conv.FinalDecision)
	}
	if conv.CompletedAt == nil {
		t.Error("terminal conversation must carry a completion timestamp")
	}
	if r.journal.count() != 1 {
		t.Errorf("journal events = %d, want 1", r.journal.count())
	}
}

func TestHighSeverityEscalatesAndApproveCompletes(t *testing.T) {
	r := newRig(t, time.Hour)
	r.backend.reply = func(llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return decisionJSON("critical"), nil
	}

	conv, err := r.orch.StartConversation(context.Background(), agent.RoleQualityAuditor, startReq(domain.LevelLow))
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	if conv.Status != domain.ConvEscalated {
		t.Fatalf("status = %s, want escalated", conv.Status)
	}
	if conv.ApprovalID == "" {
		t.Fatal("escalated conversation must reference its approval")
	}
	// Эскалация еще не терминальна: журнал пуст
	if r.journal.count() != 0 {
		t.Errorf("journal events = %d, want 0 before resolution", r.journal.count())
	}

	resumed, err := r.orch.ResolveApproval(context.Background(), conv.ApprovalID, domain.DecisionApprove, "supervisor-1", "")
	if err != nil {
		t.Fatalf("ResolveApproval: %v", err)
	}
	if resumed.Status != domain.ConvCompleted {
		t.Fatalf("status = %s, want completed after approve", resumed.Status)
	}
	if resumed.FinalDecision.Resolution != "approved by supervisor-1" {
		t.Errorf("resolution = %q", resumed.FinalDecision.Resolution)
	}
	if r.journal.count() != 1 {
		t.Errorf("journal events = %d, want 1 after resolution", r.journal.count())
	}
}

func TestRejectFailsConversationWithReason(t *testing.T) {
	r := newRig(t, time.Hour)
	r.backend.reply = func(llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return decisionJSON("high"), nil
	}

	conv, err := r.orch.StartConversation(context.Background(), agent.RoleQualityAuditor, startReq(domain.LevelMedium))
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	if conv.Status != domain.ConvEscalated {
		t.Fatalf("status = %s, want escalated", conv.Status)
	}

	resumed, err := r.orch.ResolveApproval(context.Background(), conv.ApprovalID, domain.DecisionReject, "supervisor-2", "too costly")
	if err != nil {
		t.Fatalf("ResolveApproval: %v", err)
	}
	if resumed.Status != domain.ConvFailed {
		t.Fatalf("status = %s, want failed after reject", resumed.Status)
	}
	if !strings.Contains(resumed.FinalDecision.Resolution, "too costly") {
		t.Errorf("resolution lost the reason: %q", resumed.FinalDecision.Resolution)
	}
}

func TestExpiredApprovalFailsConversation(t *testing.T) {
	r := newRig(t, 10*time.Millisecond)
	r.backend.reply = func(llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return decisionJSON("critical"), nil
	}

	conv, err := r.orch.StartConversation(context.Background(), agent.RoleQualityAuditor, startReq(domain.LevelLow))
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	resumed, err := r.orch.ResolveApproval(context.Background(), conv.ApprovalID, domain.DecisionApprove, "supervisor-1", "")
	if err != nil {
		t.Fatalf("ResolveApproval: %v", err)
	}
	if resumed.Status != domain.ConvFailed {
		t.Fatalf("status = %s, want failed after expiry", resumed.Status)
	}
	if resumed.FinalDecision.Resolution != "expired" {
		t.Errorf("resolution = %q, want expired", resumed.FinalDecision.Resolution)
	}
}

func TestUnknownRoleRejectedUpfront(t *testing.T) {
	r := newRig(t, time.Hour)

	_, err := r.orch.StartConversation(context.Background(), "chief_astrologer", startReq(domain.LevelLow))
	if !errors.Is(err, domain.ErrUnknownAgent) {
		t.Fatalf("err = %v, want ErrUnknownAgent", err)
	}
}

func TestAgentFailureTerminatesConversation(t *testing.T) {
	r := newRig(t, time.Hour)
	r.backend.reply = func(llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return nil, errors.New("model meltdown")
	}

	conv, err := r.orch.StartConversation(context.Background(), agent.RoleQualityAuditor, startReq(domain.LevelLow))
	if !errors.Is(err, domain.ErrUpstreamFailure) {
		t.Fatalf("err = %v, want ErrUpstreamFailure", err)
	}
	if conv.Status != domain.ConvFailed {
		t.Fatalf("status = %s, want failed", conv.Status)
	}
	if !strings.Contains(conv.Error, "model meltdown") {
		t.Errorf("conversation lost the failure text: %q", conv.Error)
	}
	if r.journal.count() != 1 {
		t.Errorf("journal events = %d, want 1", r.journal.count())
	}
}

func TestDoubleResolveRejected(t *testing.T) {
	r := newRig(t, time.Hour)
	r.backend.reply = func(llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return decisionJSON("critical"), nil
	}

	conv, err := r.orch.StartConversation(context.Background(), agent.RoleQualityAuditor, startReq(domain.LevelLow))
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	if _, err := r.orch.ResolveApproval(context.Background(), conv.ApprovalID, domain.DecisionApprove, "s1", ""); err != nil {
		t.Fatalf("first resolve: %v", err)
	}

	_, err = r.orch.ResolveApproval(context.Background(), conv.ApprovalID, domain.DecisionReject, "s2", "changed my mind")
	if !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Fatalf("err = %v, want ErrAlreadyResolved", err)
	}
}

func TestGetConversationSnapshot(t *testing.T) {
	r := newRig(t, time.Hour)

	conv, err := r.orch.StartConversation(context.Background(), agent.RoleQualityAuditor, startReq(domain.LevelLow))
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}

	got, err := r.orch.GetConversation(context.Background(), conv.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.ID != conv.ID || got.Status != domain.ConvCompleted {
		t.Errorf("snapshot = %+v", got)
	}

	if _, err := r.orch.GetConversation(context.Background(), "no-such"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestAllAgentsListsRegistryOrder(t *testing.T) {
	r := newRig(t, time.Hour)

	agents := r.orch.AllAgents()
	if len(agents) != 5 {
		t.Fatalf("agents = %d, want 5", len(agents))
	}
	// Контролер склада регистрируется первым: планировщик идет после своих
	// консультантов
	if agents[0].Role != agent.RoleStockController {
		t.Errorf("first role = %s, want %s", agents[0].Role, agent.RoleStockController)
	}
}

func TestSweptApprovalResolveFailsConversation(t *testing.T) {
	r := newRig(t, 10*time.Millisecond)
	r.backend.reply = func(llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return decisionJSON("critical"), nil
	}

	conv, err := r.orch.StartConversation(context.Background(), agent.RoleQualityAuditor, startReq(domain.LevelLow))
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	// Свип через чтение очереди переводит заявку в expired в обход оркестратора
	if _, err := r.gate.List(context.Background(), "", "", 10, 0); err != nil {
		t.Fatalf("List: %v", err)
	}

	_, err = r.orch.ResolveApproval(context.Background(), conv.ApprovalID, domain.DecisionApprove, "supervisor-1", "")
	if !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Fatalf("err = %v, want ErrAlreadyResolved", err)
	}

	got, err := r.orch.GetConversation(context.Background(), conv.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.Status != domain.ConvFailed {
		t.Fatalf("status = %s, want failed after swept approval", got.Status)
	}
	if got.FinalDecision.Resolution != "expired" {
		t.Errorf("resolution = %q, want expired", got.FinalDecision.Resolution)
	}
	if r.journal.count() != 1 {
		t.Errorf("journal events = %d, want 1", r.journal.count())
	}
}

func TestSweptApprovalReconciledOnRead(t *testing.T) {
	r := newRig(t, 10*time.Millisecond)
	r.backend.reply = func(llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return decisionJSON("critical"), nil
	}

	conv, err := r.orch.StartConversation(context.Background(), agent.RoleQualityAuditor, startReq(domain.LevelLow))
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if _, err := r.gate.List(context.Background(), "", "", 10, 0); err != nil {
		t.Fatalf("List: %v", err)
	}

	// Никто не пытался резолвить: диалог добивается на первом же чтении
	got, err := r.orch.GetConversation(context.Background(), conv.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.Status != domain.ConvFailed {
		t.Fatalf("status = %s, want failed on read after sweep", got.Status)
	}

	// Повторное чтение не плодит дублей в журнале
	if _, err := r.orch.GetConversation(context.Background(), conv.ID); err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if r.journal.count() != 1 {
		t.Errorf("journal events = %d, want 1", r.journal.count())
	}
}

func TestCallerSuppliedConversationID(t *testing.T) {
	r := newRig(t, time.Hour)

	req := startReq(domain.LevelLow)
	req.ID = "erp-req-000451"
	conv, err := r.orch.StartConversation(context.Background(), agent.RoleQualityAuditor, req)
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	if conv.ID != "erp-req-000451" {
		t.Fatalf("conversation id = %q, want caller-supplied", conv.ID)
	}

	if _, err := r.orch.GetConversation(context.Background(), "erp-req-000451"); err != nil {
		t.Fatalf("GetConversation by supplied id: %v", err)
	}

	// Без id оркестратор генерирует свой
	conv2, err := r.orch.StartConversation(context.Background(), agent.RoleQualityAuditor, startReq(domain.LevelLow))
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	if conv2.ID == "" {
		t.Error("empty request id must be replaced with a generated one")
	}
}

func TestUnknownRequestTypeDefaulted(t *testing.T) {
	r := newRig(t, time.Hour)

	req := startReq(domain.LevelLow)
	req.Type = "interpretive_dance"
	conv, err := r.orch.StartConversation(context.Background(), agent.RoleQualityAuditor, req)
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	if conv.Type != domain.RequestTypeRequest {
		t.Errorf("type = %s, want %s", conv.Type, domain.RequestTypeRequest)
	}
}
