package superagent

import (
	"testing"
	"time"
)

func healthyContext() *UnifiedContext {
	return &UnifiedContext{
		SessionID: "sess",
		ConversationHistory: []Message{
			UserMessage("please deploy the payment service"),
		},
		Metadata:  map[string]any{"token_count": 1000, "token_limit": 10000},
		CreatedAt: time.Now(),
	}
}

func TestHealthCheckHealthy(t *testing.T) {
	m := NewHealthMonitor()
	report := m.CheckHealth(healthyContext())

	if !report.IsHealthy() || report.Score != 100 {
		t.Errorf("report = %+v", report)
	}
	if len(report.Issues) != 0 {
		t.Errorf("issues = %+v", report.Issues)
	}
	for _, key := range []string{"token_count", "redundancy_ratio", "coherence_score", "age_hours"} {
		if _, ok := report.Metrics[key]; !ok {
			t.Errorf("missing metric %q", key)
		}
	}
}

func TestHealthTokenOverflowCritical(t *testing.T) {
	uc := healthyContext()
	uc.Metadata = map[string]any{"token_count": 9500, "token_limit": 10000}

	m := NewHealthMonitor()
	report := m.CheckHealth(uc)

	if report.Status != HealthCritical || report.Score != 70 {
		t.Errorf("report = %+v", report)
	}
	crit := report.CriticalIssues()
	if len(crit) != 1 || crit[0].Category != IssueTokenOverflow {
		t.Errorf("critical issues = %+v", crit)
	}
}

func TestHealthTokenWarningBand(t *testing.T) {
	uc := healthyContext()
	uc.Metadata = map[string]any{"token_count": 8000, "token_limit": 10000}

	m := NewHealthMonitor()
	report := m.CheckHealth(uc)

	// One warning keeps the score above the warning cutoff.
	if report.Status != HealthHealthy || report.Score != 85 {
		t.Errorf("report = %+v", report)
	}
	if len(report.Issues) != 1 || report.Issues[0].Category != IssueTokenOverflow || report.Issues[0].Severity != HealthWarning {
		t.Errorf("issues = %+v", report.Issues)
	}
}

func TestHealthDefaultTokenLimit(t *testing.T) {
	uc := healthyContext()
	uc.Metadata = map[string]any{"token_count": 7500}

	m := NewHealthMonitor()
	report := m.CheckHealth(uc)

	// 7500 of the default 8000 limit is past the critical threshold.
	if len(report.CriticalIssues()) != 1 {
		t.Errorf("issues = %+v", report.Issues)
	}
	if report.Metrics["token_limit"] != 8000 {
		t.Errorf("token_limit = %v", report.Metrics["token_limit"])
	}
}

func TestHealthRedundancy(t *testing.T) {
	uc := healthyContext()
	uc.ConversationHistory = []Message{
		UserMessage("deploy deploy deploy"),
		AssistantMessage("deploy deploy deploy"),
	}

	m := NewHealthMonitor()
	report := m.CheckHealth(uc)

	if len(report.Issues) != 1 || report.Issues[0].Category != IssueRedundancy {
		t.Errorf("issues = %+v", report.Issues)
	}
	if ratio := report.Metrics["redundancy_ratio"].(float64); ratio <= redundancyThreshold {
		t.Errorf("redundancy_ratio = %v", ratio)
	}
}

func TestHealthCoherence(t *testing.T) {
	uc := healthyContext()
	uc.ConversationHistory = []Message{
		UserMessage("alpha beta"),
		AssistantMessage("gamma delta"),
	}

	m := NewHealthMonitor()
	report := m.CheckHealth(uc)

	if len(report.Issues) != 1 || report.Issues[0].Category != IssueCoherence {
		t.Errorf("issues = %+v", report.Issues)
	}
	if report.Metrics["coherence_score"].(float64) != 0 {
		t.Errorf("coherence_score = %v", report.Metrics["coherence_score"])
	}
}

func TestHealthFreshness(t *testing.T) {
	uc := healthyContext()
	uc.CreatedAt = time.Now().Add(-25 * time.Hour)

	m := NewHealthMonitor()
	report := m.CheckHealth(uc)

	if len(report.Issues) != 1 || report.Issues[0].Category != IssueFreshness {
		t.Errorf("issues = %+v", report.Issues)
	}
}

func TestHealthScoreStacks(t *testing.T) {
	uc := &UnifiedContext{
		SessionID: "sess",
		ConversationHistory: []Message{
			UserMessage("deploy the service deploy"),
			AssistantMessage("deploy the service now"),
		},
		Metadata:  map[string]any{"token_count": 9500, "token_limit": 10000},
		CreatedAt: time.Now().Add(-25 * time.Hour),
	}

	m := NewHealthMonitor()
	report := m.CheckHealth(uc)

	// One critical (token overflow) plus two warnings (redundancy, freshness).
	if report.Score != 40 || report.Status != HealthCritical {
		t.Errorf("report = %+v", report)
	}
	if len(report.Issues) != 3 || len(report.CriticalIssues()) != 1 {
		t.Errorf("issues = %+v", report.Issues)
	}
}

func TestHealthTrend(t *testing.T) {
	m := NewHealthMonitor()
	if got := m.Trend(10); got["checks"] != 0 {
		t.Errorf("empty trend = %v", got)
	}

	overloaded := healthyContext()
	overloaded.Metadata = map[string]any{"token_count": 9500, "token_limit": 10000}
	m.CheckHealth(overloaded)
	m.CheckHealth(healthyContext())

	trend := m.Trend(10)
	if trend["checks"] != 2 || trend["trend"] != "improving" {
		t.Errorf("trend = %v", trend)
	}
	if trend["avg_score"].(float64) != 85 {
		t.Errorf("avg_score = %v", trend["avg_score"])
	}
	if trend["healthy_rate"].(float64) != 50 {
		t.Errorf("healthy_rate = %v", trend["healthy_rate"])
	}

	// The window keeps only the most recent reports.
	if got := m.Trend(1); got["checks"] != 1 {
		t.Errorf("windowed trend = %v", got)
	}
}

func TestHealthTrendDeclining(t *testing.T) {
	m := NewHealthMonitor()
	m.CheckHealth(healthyContext())
	stale := healthyContext()
	stale.CreatedAt = time.Now().Add(-25 * time.Hour)
	m.CheckHealth(stale)

	if trend := m.Trend(10); trend["trend"] != "declining" {
		t.Errorf("trend = %v", trend)
	}
}
