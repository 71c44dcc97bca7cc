package circuitbreaker

import (
	"sort"
	"sync"

	"metal-detector/internal/common/logging"
)

// GoBreakerManager hands out named breakers and reports on all of them
type GoBreakerManager struct {
	breakers map[string]*GoBreakerAdapter
	logger   logging.Logger
	mu       sync.RWMutex
}

// NewGoBreakerManager creates an empty manager
func NewGoBreakerManager(logger logging.Logger) *GoBreakerManager {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &GoBreakerManager{
		breakers: make(map[string]*GoBreakerAdapter),
		logger:   logger,
	}
}

// GetOrCreate returns the breaker registered under name, creating it with
// config on first use
func (m *GoBreakerManager) GetOrCreate(name string, config Config) *GoBreakerAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()

	if breaker, exists := m.breakers[name]; exists {
		return breaker
	}

	breaker := NewGoBreaker(name, config, m.logger)
	m.breakers[name] = breaker
	return breaker
}

// AllStats returns the stats of every breaker ordered by name
func (m *GoBreakerManager) AllStats() []Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make([]Stats, 0, len(m.breakers))
	for _, breaker := range m.breakers {
		stats = append(stats, breaker.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// AnyOpen reports whether at least one breaker is open
func (m *GoBreakerManager) AnyOpen() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, breaker := range m.breakers {
		if breaker.IsOpen() {
			return true
		}
	}
	return false
}
