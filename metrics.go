package superagent

import "sync"

// ProviderMetrics is a point-in-time snapshot of one provider's counters.
// All counters are monotonic; AvgLatencyMS is a running mean over
// successful calls.
type ProviderMetrics struct {
	Total        int64   `json:"total"`
	Successful   int64   `json:"successful"`
	Failed       int64   `json:"failed"`
	TotalTokens  int64   `json:"total_tokens"`
	TotalCost    float64 `json:"total_cost"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
	LastError    string  `json:"last_error,omitempty"`
}

// MetricsRegistry tracks per-provider counters under a lock. Reads are
// consistent per counter, not across counters. Safe for concurrent use.
type MetricsRegistry struct {
	mu        sync.RWMutex
	providers map[string]*ProviderMetrics
}

// NewMetricsRegistry creates an empty registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{providers: make(map[string]*ProviderMetrics)}
}

func (m *MetricsRegistry) get(provider string) *ProviderMetrics {
	pm, ok := m.providers[provider]
	if !ok {
		pm = &ProviderMetrics{}
		m.providers[provider] = pm
	}
	return pm
}

// RecordSuccess counts one successful call with its token, cost, and
// latency contribution.
func (m *MetricsRegistry) RecordSuccess(provider string, tokens int, cost, latencyMS float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pm := m.get(provider)
	pm.Total++
	pm.Successful++
	pm.TotalTokens += int64(tokens)
	pm.TotalCost += cost
	pm.AvgLatencyMS += (latencyMS - pm.AvgLatencyMS) / float64(pm.Successful)
}

// RecordFailure counts one failed call and stores the error text.
func (m *MetricsRegistry) RecordFailure(provider string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pm := m.get(provider)
	pm.Total++
	pm.Failed++
	if err != nil {
		pm.LastError = err.Error()
	}
}

// Provider returns a snapshot for one provider and whether it has been seen.
func (m *MetricsRegistry) Provider(name string) (ProviderMetrics, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pm, ok := m.providers[name]
	if !ok {
		return ProviderMetrics{}, false
	}
	return *pm, true
}

// All returns a snapshot of every provider's metrics.
func (m *MetricsRegistry) All() map[string]ProviderMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]ProviderMetrics, len(m.providers))
	for name, pm := range m.providers {
		out[name] = *pm
	}
	return out
}

// CounterSet is a named counter map used by the monitor agent for event and
// per-source tallies. Safe for concurrent use.
type CounterSet struct {
	mu sync.RWMutex
	m  map[string]int64
}

// NewCounterSet creates an empty counter set.
func NewCounterSet() *CounterSet {
	return &CounterSet{m: make(map[string]int64)}
}

// Inc adds one to the named counter.
func (c *CounterSet) Inc(name string) {
	c.mu.Lock()
	c.m[name]++
	c.mu.Unlock()
}

// Get returns the named counter's value.
func (c *CounterSet) Get(name string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.m[name]
}

// Snapshot copies all counters.
func (c *CounterSet) Snapshot() map[string]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]int64, len(c.m))
	for k, v := range c.m {
		out[k] = v
	}
	return out
}
