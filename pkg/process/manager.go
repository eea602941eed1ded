// Package process ties long-running commands to OS signals
package process

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/poltergeist/matrixgen/pkg/logger"
)

// Manager cancels a command's context on shutdown signals and runs the
// registered shutdown handlers once
type Manager struct {
	logger           logger.Logger
	signals          []os.Signal
	shutdownHandlers []func()
	stop             chan struct{}
	wg               sync.WaitGroup
	mu               sync.Mutex
	running          bool
}

// NewManager creates a manager listening for signals, by default
// interrupt, SIGTERM and SIGHUP
func NewManager(log logger.Logger, signals ...os.Signal) *Manager {
	if len(signals) == 0 {
		signals = []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGHUP}
	}
	return &Manager{
		logger:  log.WithComponent("process"),
		signals: signals,
	}
}

// RegisterShutdownHandler adds a handler run on shutdown. Handlers run in
// reverse registration order.
func (m *Manager) RegisterShutdownHandler(handler func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.shutdownHandlers = append(m.shutdownHandlers, handler)
}

// Start returns a context that is cancelled when parent is done or a
// signal arrives. Starting a running manager returns parent unchanged.
func (m *Manager) Start(parent context.Context) context.Context {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return parent
	}
	m.running = true
	m.stop = make(chan struct{})
	stop := m.stop
	m.mu.Unlock()

	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, m.signals...)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer signal.Stop(sigChan)
		defer cancel()

		select {
		case <-ctx.Done():
		case sig := <-sigChan:
			m.logger.Info("Received signal", logger.WithField("signal", sig))
		case <-stop:
			return
		}
		m.handleShutdown()
	}()

	return ctx
}

// Stop releases the signal listener without running shutdown handlers
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stop)
	m.mu.Unlock()

	m.wg.Wait()
}

// IsRunning reports whether the manager still listens for signals
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) handleShutdown() {
	m.logger.Debug("Initiating graceful shutdown")

	m.mu.Lock()
	handlers := make([]func(), len(m.shutdownHandlers))
	copy(handlers, m.shutdownHandlers)
	m.running = false
	m.mu.Unlock()

	for i := len(handlers) - 1; i >= 0; i-- {
		handlers[i]()
	}
}
