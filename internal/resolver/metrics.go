package resolver

import (
	"sync"
	"time"
)

// Metrics tracks resolution statistics.
type Metrics struct {
	Resolutions       int            `json:"resolutions"`
	Failures          int            `json:"failures"`
	EnsembleSelected  int            `json:"ensemble_selected"`
	SourceSuccesses   map[string]int `json:"source_successes"`
	SourceFailures    map[string]int `json:"source_failures"`
	SourcePanics      map[string]int `json:"source_panics"`
	// SourceFallbacks counts provider answers replaced by the pattern
	// interpreter. It is fed from adapter_fallback events.
	SourceFallbacks   map[string]int `json:"source_fallbacks"`
	TotalDuration     time.Duration  `json:"total_duration"`
	LongestResolution time.Duration  `json:"longest_resolution"`

	mu sync.Mutex
}

func newMetrics() *Metrics {
	return &Metrics{
		SourceSuccesses: make(map[string]int),
		SourceFailures:  make(map[string]int),
		SourcePanics:    make(map[string]int),
		SourceFallbacks: make(map[string]int),
	}
}

func (m *Metrics) recordSource(name string, err error, panicked bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case panicked:
		m.SourcePanics[name]++
		m.SourceFailures[name]++
	case err != nil:
		m.SourceFailures[name]++
	default:
		m.SourceSuccesses[name]++
	}
}

func (m *Metrics) recordFallback(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SourceFallbacks[name]++
}

func (m *Metrics) recordResolution(d time.Duration, ensemble, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Resolutions++
	if failed {
		m.Failures++
	}
	if ensemble {
		m.EnsembleSelected++
	}
	m.TotalDuration += d
	if d > m.LongestResolution {
		m.LongestResolution = d
	}
}

// Copy returns a snapshot without the mutex.
func (m *Metrics) Copy() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Metrics{
		Resolutions:       m.Resolutions,
		Failures:          m.Failures,
		EnsembleSelected:  m.EnsembleSelected,
		SourceSuccesses:   copyCounts(m.SourceSuccesses),
		SourceFailures:    copyCounts(m.SourceFailures),
		SourcePanics:      copyCounts(m.SourcePanics),
		SourceFallbacks:   copyCounts(m.SourceFallbacks),
		TotalDuration:     m.TotalDuration,
		LongestResolution: m.LongestResolution,
	}
}

func copyCounts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
