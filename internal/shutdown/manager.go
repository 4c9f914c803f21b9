package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"changemap/internal/logger"
)

// Component is a resource released when the run ends. Extractors satisfy it.
type Component interface {
	Name() string
	Close() error
}

type Manager struct {
	components []Component
	logger     logger.Logger
	timeout    time.Duration
	mu         sync.Mutex
	done       chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc
	stopSignal func()
}

func NewManager(log logger.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		logger:  log,
		timeout: 10 * time.Second,
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (m *Manager) Register(component Component) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.components = append(m.components, component)
}

// Listen cancels Context on SIGINT or SIGTERM. Components are released by
// Shutdown, which the caller runs once the in-flight work has returned.
func (m *Manager) Listen() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	m.mu.Lock()
	m.stopSignal = func() { signal.Stop(sigChan) }
	m.mu.Unlock()

	go func() {
		select {
		case sig := <-sigChan:
			m.logger.Info("ShutdownManager", "shutdown signal received", map[string]interface{}{
				"signal": sig.String(),
			})
			m.cancel()
		case <-m.done:
		}
	}()
}

func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	select {
	case <-m.done:
		return
	default:
		close(m.done)
	}

	if m.stopSignal != nil {
		m.stopSignal()
	}

	m.logger.Debug("ShutdownManager", "shutdown sequence initiated", map[string]interface{}{
		"components": len(m.components),
	})

	m.cancel()

	// Release in reverse registration order
	for i := len(m.components) - 1; i >= 0; i-- {
		component := m.components[i]

		errc := make(chan error, 1)
		go func() {
			errc <- component.Close()
		}()

		select {
		case err := <-errc:
			if err != nil {
				m.logger.Error("ShutdownManager", err, map[string]interface{}{
					"component": component.Name(),
				})
			}
		case <-time.After(m.timeout):
			m.logger.Warning("ShutdownManager", "component shutdown timeout", map[string]interface{}{
				"component": component.Name(),
			})
		}
	}

	m.logger.Debug("ShutdownManager", "shutdown sequence completed", nil)
}

func (m *Manager) Context() context.Context {
	return m.ctx
}
