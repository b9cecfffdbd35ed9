// lifecycle.go manages the start/stop ordering of the node's services.
// Services register with a priority; StartAll brings them up in ascending
// priority order and StopAll tears them down in reverse, so the relay is
// always running before the driver starts publishing and outlives it on
// shutdown.
package node

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Lifecycle errors.
var (
	ErrServiceExists  = errors.New("node: service already registered")
	ErrTooManyService = errors.New("node: service limit reached")
	ErrNilService     = errors.New("node: nil service")
)

// Service is the unit the lifecycle manager operates on. Start must not
// block beyond initialization; long-running work belongs in goroutines the
// service owns. Stop must be safe to call after a failed Start.
type Service interface {
	Start() error
	Stop() error
	Name() string
}

// ServiceState tracks where a service is in its lifecycle.
type ServiceState int

const (
	StateCreated ServiceState = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
	StateFailed
)

func (s ServiceState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ServiceEntry pairs a registered service with its priority and state.
type ServiceEntry struct {
	Service  Service
	Priority int
	State    ServiceState
	Err      error
}

// LifecycleConfig bounds the manager.
type LifecycleConfig struct {
	// ShutdownTimeout caps how long StopAll waits for each service.
	ShutdownTimeout time.Duration

	// MaxServices caps registrations; zero means the default.
	MaxServices int
}

// DefaultLifecycleConfig returns the standard bounds.
func DefaultLifecycleConfig() LifecycleConfig {
	return LifecycleConfig{
		ShutdownTimeout: 30 * time.Second,
		MaxServices:     16,
	}
}

// LifecycleManager starts and stops a set of registered services in
// priority order.
type LifecycleManager struct {
	mu       sync.Mutex
	config   LifecycleConfig
	services []*ServiceEntry
	byName   map[string]*ServiceEntry
}

// NewLifecycleManager builds a manager with the given bounds.
func NewLifecycleManager(cfg LifecycleConfig) *LifecycleManager {
	if cfg.MaxServices <= 0 {
		cfg.MaxServices = DefaultLifecycleConfig().MaxServices
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultLifecycleConfig().ShutdownTimeout
	}
	return &LifecycleManager{
		config: cfg,
		byName: make(map[string]*ServiceEntry),
	}
}

// Register adds a service at the given priority. Lower priorities start
// first and stop last.
func (lm *LifecycleManager) Register(svc Service, priority int) error {
	if svc == nil {
		return ErrNilService
	}
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if len(lm.services) >= lm.config.MaxServices {
		return errors.Wrapf(ErrTooManyService, "limit %d", lm.config.MaxServices)
	}
	name := svc.Name()
	if _, ok := lm.byName[name]; ok {
		return errors.Wrap(ErrServiceExists, name)
	}
	entry := &ServiceEntry{Service: svc, Priority: priority, State: StateCreated}
	lm.services = append(lm.services, entry)
	lm.byName[name] = entry
	return nil
}

// StartAll starts every registered service in ascending priority order.
// A failed start marks that service failed and aborts the sequence;
// already-running services are left running for the caller to StopAll.
func (lm *LifecycleManager) StartAll() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	for _, entry := range lm.sorted() {
		if entry.State == StateRunning {
			continue
		}
		entry.State = StateStarting
		if err := entry.Service.Start(); err != nil {
			entry.State = StateFailed
			entry.Err = err
			return fmt.Errorf("node: start %s: %w", entry.Service.Name(), err)
		}
		entry.State = StateRunning
	}
	return nil
}

// StopAll stops running services in reverse priority order, each within the
// shutdown timeout. It collects errors instead of aborting so every service
// gets a chance to shut down.
func (lm *LifecycleManager) StopAll() []error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var errs []error
	ordered := lm.sorted()
	for i := len(ordered) - 1; i >= 0; i-- {
		entry := ordered[i]
		if entry.State != StateRunning {
			continue
		}
		entry.State = StateStopping
		if err := lm.stopWithTimeout(entry.Service); err != nil {
			entry.State = StateFailed
			entry.Err = err
			errs = append(errs, fmt.Errorf("node: stop %s: %w", entry.Service.Name(), err))
			continue
		}
		entry.State = StateStopped
	}
	return errs
}

// GetState reports the lifecycle state of a named service.
func (lm *LifecycleManager) GetState(name string) (ServiceState, bool) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	entry, ok := lm.byName[name]
	if !ok {
		return StateCreated, false
	}
	return entry.State, true
}

// RunningCount reports how many services are currently running.
func (lm *LifecycleManager) RunningCount() int {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	n := 0
	for _, entry := range lm.services {
		if entry.State == StateRunning {
			n++
		}
	}
	return n
}

// HealthCheck returns the state of every registered service by name.
func (lm *LifecycleManager) HealthCheck() map[string]ServiceState {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	out := make(map[string]ServiceState, len(lm.services))
	for _, entry := range lm.services {
		out[entry.Service.Name()] = entry.State
	}
	return out
}

// --- Internal helpers ---

// sorted returns the entries in ascending priority order, registration
// order breaking ties.
func (lm *LifecycleManager) sorted() []*ServiceEntry {
	out := make([]*ServiceEntry, len(lm.services))
	copy(out, lm.services)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority < out[j].Priority
	})
	return out
}

// stopWithTimeout runs Stop in a goroutine and abandons it after the
// configured timeout. An abandoned Stop leaks its goroutine; the process is
// shutting down anyway.
func (lm *LifecycleManager) stopWithTimeout(svc Service) error {
	done := make(chan error, 1)
	go func() { done <- svc.Stop() }()
	select {
	case err := <-done:
		return err
	case <-time.After(lm.config.ShutdownTimeout):
		return fmt.Errorf("timed out after %s", lm.config.ShutdownTimeout)
	}
}
