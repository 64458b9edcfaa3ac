package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ComponentHealth represents the health status of a guarded component.
type ComponentHealth struct {
	// Name is the component identifier.
	Name string

	// CircuitState is the current circuit breaker state.
	CircuitState gobreaker.State

	// Counts contains circuit breaker statistics.
	Counts gobreaker.Counts

	// LastSuccessAt is the timestamp of the last successful call.
	LastSuccessAt *time.Time

	// LastFailureAt is the timestamp of the last failed call.
	LastFailureAt *time.Time

	// LastError is the most recent error message, if any.
	LastError string
}

// IsHealthy returns true if the component is considered healthy.
func (h *ComponentHealth) IsHealthy() bool {
	return h.CircuitState == gobreaker.StateClosed
}

// IsDegraded returns true if the component is in a degraded state (half-open).
func (h *ComponentHealth) IsDegraded() bool {
	return h.CircuitState == gobreaker.StateHalfOpen
}

// IsUnhealthy returns true if the component is unhealthy (circuit open).
func (h *ComponentHealth) IsUnhealthy() bool {
	return h.CircuitState == gobreaker.StateOpen
}

// HealthReporter is implemented by components that report their health.
type HealthReporter interface {
	Health() ComponentHealth
}

// Registry tracks guarded components and their health status.
type Registry struct {
	mu         sync.RWMutex
	components map[string]HealthReporter
}

// NewRegistry creates a new component registry.
func NewRegistry() *Registry {
	return &Registry{
		components: make(map[string]HealthReporter),
	}
}

// Register adds a component to the registry.
func (r *Registry) Register(name string, component HealthReporter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.components[name] = component
}

// Unregister removes a component from the registry.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.components, name)
}

// GetHealth returns the health status of a specific component.
func (r *Registry) GetHealth(name string) *ComponentHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.components[name]
	if !ok {
		return nil
	}

	health := c.Health()
	health.Name = name
	return &health
}

// GetAllHealth returns the health status of all registered components,
// ordered by name.
func (r *Registry) GetAllHealth() []*ComponentHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	health := make([]*ComponentHealth, 0, len(r.components))
	for name, c := range r.components {
		h := c.Health()
		h.Name = name
		health = append(health, &h)
	}

	sort.Slice(health, func(i, j int) bool { return health[i].Name < health[j].Name })
	return health
}

// Healthy reports whether no registered component has an open circuit.
func (r *Registry) Healthy() bool {
	for _, h := range r.GetAllHealth() {
		if h.IsUnhealthy() {
			return false
		}
	}
	return true
}

// ComponentCount returns the number of registered components.
func (r *Registry) ComponentCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.components)
}
