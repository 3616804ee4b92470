package policy

import (
	"testing"

	"github.com/xela07ax/erpai-decision-prototype/internal/domain"
	"github.com/xela07ax/erpai-decision-prototype/internal/infra"
	"go.uber.org/zap"
)

func TestDefaultMatrix(t *testing.T) {
	p := NewEscalationPolicy(infra.EscalationConfig{}, zap.NewNop())

	tests := []struct {
		urgency  domain.Level
		severity domain.Level
		want     bool
	}{
		{domain.LevelLow, domain.LevelMedium, false},
		{domain.LevelLow, domain.LevelHigh, true},
		{domain.LevelMedium, domain.LevelHigh, true},
		{domain.LevelHigh, domain.LevelLow, false},
		{domain.LevelHigh, domain.LevelMedium, true},
		{domain.LevelCritical, domain.LevelMedium, true},
		{domain.LevelCritical, domain.LevelCritical, true},
	}
	for _, tt := range tests {
		if got := p.RequiresApproval(tt.urgency, tt.severity); got != tt.want {
			t.Errorf("RequiresApproval(%s, %s) = %v, want %v", tt.urgency, tt.severity, got, tt.want)
		}
	}
}

func TestConfiguredRulesOverrideDefaults(t *testing.T) {
	p := NewEscalationPolicy(infra.EscalationConfig{
		Rules: map[string]string{"low": "critical"},
	}, zap.NewNop())

	if p.RequiresApproval(domain.LevelLow, domain.LevelHigh) {
		t.Error("configured rule raised the low-urgency threshold to critical")
	}
	if !p.RequiresApproval(domain.LevelLow, domain.LevelCritical) {
		t.Error("critical severity must escalate")
	}
	// Непокрытые urgency остаются на дефолтах
	if !p.RequiresApproval(domain.LevelHigh, domain.LevelMedium) {
		t.Error("default threshold for high urgency lost")
	}
}

func TestMalformedRulesSkipped(t *testing.T) {
	p := NewEscalationPolicy(infra.EscalationConfig{
		Rules: map[string]string{
			"urgent":   "high",   // неизвестная urgency
			"medium":   "severe", // неизвестная severity
			"critical": "low",    // валидная
		},
	}, zap.NewNop())

	if !p.RequiresApproval(domain.LevelMedium, domain.LevelHigh) {
		t.Error("malformed rule must not displace the default")
	}
	if !p.RequiresApproval(domain.LevelCritical, domain.LevelLow) {
		t.Error("valid rule among malformed ones must apply")
	}
}

func TestUnknownLevelsEscalateConservatively(t *testing.T) {
	p := NewEscalationPolicy(infra.EscalationConfig{}, zap.NewNop())

	if !p.RequiresApproval(domain.Level("panic"), domain.LevelLow) {
		t.Error("unknown urgency must escalate")
	}
	if !p.RequiresApproval(domain.LevelLow, domain.Level("")) {
		t.Error("unknown severity must escalate")
	}
}

func TestRefreshSwapsMatrix(t *testing.T) {
	p := NewEscalationPolicy(infra.EscalationConfig{}, zap.NewNop())
	if p.RequiresApproval(domain.LevelLow, domain.LevelMedium) {
		t.Fatal("precondition: medium under low urgency stays automatic")
	}

	p.Refresh(infra.EscalationConfig{Rules: map[string]string{"low": "medium"}})

	if !p.RequiresApproval(domain.LevelLow, domain.LevelMedium) {
		t.Error("refreshed threshold not applied")
	}
	if th, ok := p.Threshold(domain.LevelLow); !ok || th != domain.LevelMedium {
		t.Errorf("Threshold(low) = %s, %v", th, ok)
	}
}
