package superagent

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// HealthStatus grades context quality.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
	HealthUnknown  HealthStatus = "unknown"
)

// Health issue categories.
const (
	IssueTokenOverflow = "token_overflow"
	IssueRedundancy    = "redundancy"
	IssueCoherence     = "coherence"
	IssueFreshness     = "freshness"
)

// HealthIssue is one detected context problem with its remediation.
type HealthIssue struct {
	Severity       HealthStatus   `json:"severity"`
	Category       string         `json:"category"`
	Description    string         `json:"description"`
	Recommendation string         `json:"recommendation"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// HealthReport is the outcome of one context health check.
type HealthReport struct {
	Status    HealthStatus   `json:"status"`
	Score     float64        `json:"score"` // 0-100
	Issues    []HealthIssue  `json:"issues"`
	Metrics   map[string]any `json:"metrics"`
	Timestamp time.Time      `json:"timestamp"`
}

// IsHealthy reports whether no remediation is needed.
func (r HealthReport) IsHealthy() bool { return r.Status == HealthHealthy }

// CriticalIssues returns the critical subset of issues.
func (r HealthReport) CriticalIssues() []HealthIssue {
	var out []HealthIssue
	for _, i := range r.Issues {
		if i.Severity == HealthCritical {
			out = append(out, i)
		}
	}
	return out
}

// Health thresholds.
const (
	tokenCriticalUtilization = 0.9
	tokenWarningUtilization  = 0.75
	redundancyThreshold      = 0.3
	coherenceThreshold       = 0.7
	maxContextAgeHours       = 24.0
	defaultTokenLimit        = 8000
)

// HealthMonitor scores fused contexts on token pressure, redundancy,
// semantic coherence, and freshness. Safe for concurrent use.
type HealthMonitor struct {
	mu      sync.Mutex
	history []HealthReport
	logger  *slog.Logger
}

// HealthMonitorOption configures a HealthMonitor.
type HealthMonitorOption func(*HealthMonitor)

// HealthLogger sets the structured logger.
func HealthLogger(l *slog.Logger) HealthMonitorOption {
	return func(m *HealthMonitor) { m.logger = l }
}

// NewHealthMonitor creates a monitor.
func NewHealthMonitor(opts ...HealthMonitorOption) *HealthMonitor {
	m := &HealthMonitor{}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = nopLogger
	}
	return m
}

// CheckHealth runs every check against uc and records the report. Token
// counts come from uc.Metadata["token_count"] and ["token_limit"]; the
// limit defaults to 8000.
func (m *HealthMonitor) CheckHealth(uc *UnifiedContext) HealthReport {
	now := time.Now()
	var issues []HealthIssue
	metrics := make(map[string]any)

	tokenCount := intFromMeta(uc.Metadata, "token_count", 0)
	tokenLimit := intFromMeta(uc.Metadata, "token_limit", defaultTokenLimit)
	metrics["token_count"] = tokenCount
	metrics["token_limit"] = tokenLimit
	if tokenLimit > 0 {
		util := float64(tokenCount) / float64(tokenLimit)
		switch {
		case util > tokenCriticalUtilization:
			issues = append(issues, HealthIssue{
				Severity:       HealthCritical,
				Category:       IssueTokenOverflow,
				Description:    fmt.Sprintf("Token utilization at %.1f%%", util*100),
				Recommendation: "Summarize or prune old context entries",
				Metadata:       map[string]any{"token_count": tokenCount, "token_limit": tokenLimit},
				Timestamp:      now,
			})
		case util > tokenWarningUtilization:
			issues = append(issues, HealthIssue{
				Severity:       HealthWarning,
				Category:       IssueTokenOverflow,
				Description:    fmt.Sprintf("Token utilization at %.1f%%", util*100),
				Recommendation: "Consider context cleanup soon",
				Metadata:       map[string]any{"token_count": tokenCount, "token_limit": tokenLimit},
				Timestamp:      now,
			})
		}
	}

	redundancy := redundancyRatio(uc.ConversationHistory)
	metrics["redundancy_ratio"] = redundancy
	if redundancy > redundancyThreshold {
		issues = append(issues, HealthIssue{
			Severity:       HealthWarning,
			Category:       IssueRedundancy,
			Description:    fmt.Sprintf("High content redundancy: %.1f%%", redundancy*100),
			Recommendation: "Deduplicate context entries or merge similar content",
			Metadata:       map[string]any{"redundancy_ratio": redundancy},
			Timestamp:      now,
		})
	}

	coherence := coherenceScore(uc.ConversationHistory)
	metrics["coherence_score"] = coherence
	if coherence < coherenceThreshold {
		issues = append(issues, HealthIssue{
			Severity:       HealthWarning,
			Category:       IssueCoherence,
			Description:    fmt.Sprintf("Low semantic coherence: %.2f", coherence),
			Recommendation: "Review context relevance and remove off-topic entries",
			Metadata:       map[string]any{"coherence_score": coherence},
			Timestamp:      now,
		})
	}

	ageHours := now.Sub(uc.CreatedAt).Hours()
	metrics["age_hours"] = ageHours
	if ageHours > maxContextAgeHours {
		issues = append(issues, HealthIssue{
			Severity:       HealthWarning,
			Category:       IssueFreshness,
			Description:    fmt.Sprintf("Context is %.1f hours old", ageHours),
			Recommendation: "Consider starting a new context or archiving old data",
			Metadata:       map[string]any{"age_hours": ageHours},
			Timestamp:      now,
		})
	}

	score := healthScore(issues)
	report := HealthReport{
		Status:    healthStatus(score, issues),
		Score:     score,
		Issues:    issues,
		Metrics:   metrics,
		Timestamp: now,
	}

	m.mu.Lock()
	m.history = append(m.history, report)
	m.mu.Unlock()

	m.logger.Info("context health check",
		"status", report.Status,
		"score", report.Score,
		"issues", len(report.Issues))
	return report
}

// Trend summarizes the last window reports.
func (m *HealthMonitor) Trend(window int) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	recent := m.history
	if len(recent) > window {
		recent = recent[len(recent)-window:]
	}
	if len(recent) == 0 {
		return map[string]any{"checks": 0}
	}
	var sum float64
	var healthy int
	for _, r := range recent {
		sum += r.Score
		if r.IsHealthy() {
			healthy++
		}
	}
	trend := "declining"
	if recent[len(recent)-1].Score > recent[0].Score {
		trend = "improving"
	}
	return map[string]any{
		"checks":       len(recent),
		"avg_score":    sum / float64(len(recent)),
		"healthy_rate": float64(healthy) / float64(len(recent)) * 100,
		"trend":        trend,
	}
}

// redundancyRatio is one minus the unique/total word ratio over the
// conversation.
func redundancyRatio(history []Message) float64 {
	if len(history) == 0 {
		return 0
	}
	var all []string
	for _, msg := range history {
		all = append(all, strings.Fields(strings.ToLower(msg.Content))...)
	}
	if len(all) == 0 {
		return 0
	}
	unique := make(map[string]bool, len(all))
	for _, w := range all {
		unique[w] = true
	}
	return 1.0 - float64(len(unique))/float64(len(all))
}

// coherenceScore is the mean Jaccard word overlap between adjacent
// messages. Fewer than two messages counts as fully coherent.
func coherenceScore(history []Message) float64 {
	if len(history) < 2 {
		return 1.0
	}
	var overlaps []float64
	for i := 0; i < len(history)-1; i++ {
		a := wordSet(history[i].Content)
		b := wordSet(history[i+1].Content)
		if len(a) == 0 || len(b) == 0 {
			continue
		}
		var inter, union int
		for w := range a {
			if b[w] {
				inter++
			}
		}
		union = len(a) + len(b) - inter
		overlaps = append(overlaps, float64(inter)/float64(union))
	}
	if len(overlaps) == 0 {
		return 0.5
	}
	var sum float64
	for _, o := range overlaps {
		sum += o
	}
	return sum / float64(len(overlaps))
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[w] = true
	}
	return set
}

// healthScore starts at 100 and deducts 30 per critical and 15 per warning
// issue, clamped to [0, 100].
func healthScore(issues []HealthIssue) float64 {
	score := 100.0
	for _, i := range issues {
		switch i.Severity {
		case HealthCritical:
			score -= 30
		case HealthWarning:
			score -= 15
		}
	}
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// healthStatus is critical when any critical issue exists, warning below a
// score of 70, healthy otherwise.
func healthStatus(score float64, issues []HealthIssue) HealthStatus {
	for _, i := range issues {
		if i.Severity == HealthCritical {
			return HealthCritical
		}
	}
	if score < 70 {
		return HealthWarning
	}
	return HealthHealthy
}

func intFromMeta(m map[string]any, key string, fallback int) int {
	if m == nil {
		return fallback
	}
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}
