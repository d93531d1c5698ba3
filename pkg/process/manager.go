// Package process handles signals for a running invoker: the first
// interrupt lets submitted jobs finish, a second one exits immediately.
package process

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/poltergeist/invoker/pkg/logger"
)

// ExitCodeInterrupted is used when a second signal forces the exit
const ExitCodeInterrupted = 130

// Manager tracks running jobs and reacts to OS signals
type Manager struct {
	logger            logger.Logger
	shutdownHandlers  []func()
	heartbeatFunc     func()
	heartbeatInterval time.Duration
	stop              chan struct{}
	sigChan           chan os.Signal
	exit              func(code int)

	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	signals  int
	jobs     map[string]time.Time
}

// NewManager creates a new process manager
func NewManager(log logger.Logger) *Manager {
	return &Manager{
		logger:            log,
		shutdownHandlers:  make([]func(), 0),
		heartbeatInterval: 30 * time.Second,
		exit:              os.Exit,
		jobs:              make(map[string]time.Time),
	}
}

// RegisterShutdownHandler adds a handler called on the first signal.
// Handlers run in reverse registration order.
func (m *Manager) RegisterShutdownHandler(handler func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.shutdownHandlers = append(m.shutdownHandlers, handler)
}

// SetHeartbeat calls fn every interval while the manager runs
func (m *Manager) SetHeartbeat(interval time.Duration, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if interval > 0 {
		m.heartbeatInterval = interval
	}
	m.heartbeatFunc = fn
}

// JobStarted records a running job
func (m *Manager) JobStarted(project string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[project] = time.Now()
}

// JobFinished removes a job from the running set
func (m *Manager) JobFinished(project string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, project)
}

// Running returns the running jobs, sorted
func (m *Manager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	jobs := make([]string, 0, len(m.jobs))
	for project := range m.jobs {
		jobs = append(jobs, project)
	}
	sort.Strings(jobs)
	return jobs
}

// Start listens for signals until ctx is done or Stop is called
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stop = make(chan struct{})
	m.sigChan = make(chan os.Signal, 2)
	m.mu.Unlock()

	signal.Notify(m.sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case sig := <-m.sigChan:
				m.HandleSignal(sig)
			}
		}
	}()

	if m.heartbeatFunc != nil {
		m.startHeartbeat(ctx)
	}
}

// Stop stops listening and waits for the manager's goroutines
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	signal.Stop(m.sigChan)
	close(m.stop)
	m.wg.Wait()
}

// HandleSignal reacts to one received signal. The first one runs the
// shutdown handlers and lets running jobs finish; the next one exits.
func (m *Manager) HandleSignal(sig os.Signal) {
	m.mu.Lock()
	m.signals++
	count := m.signals
	handlers := make([]func(), len(m.shutdownHandlers))
	copy(handlers, m.shutdownHandlers)
	m.mu.Unlock()

	if count > 1 {
		m.logger.Error("Received second signal, exiting", logger.WithField("signal", sig))
		m.exit(ExitCodeInterrupted)
		return
	}

	running := m.Running()
	m.logger.Warn(fmt.Sprintf("Received signal, waiting for %d running jobs", len(running)),
		logger.WithField("signal", sig),
		logger.WithField("jobs", strings.Join(running, ", ")))

	for i := len(handlers) - 1; i >= 0; i-- {
		handlers[i]()
	}
}

func (m *Manager) startHeartbeat(ctx context.Context) {
	m.mu.Lock()
	interval := m.heartbeatInterval
	fn := m.heartbeatFunc
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-m.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}

// LogRunning returns a heartbeat that logs the jobs still running
func (m *Manager) LogRunning() func() {
	return func() {
		m.mu.Lock()
		now := time.Now()
		lines := make([]string, 0, len(m.jobs))
		for project, started := range m.jobs {
			lines = append(lines, fmt.Sprintf("%s (%s)", project, now.Sub(started).Round(time.Second)))
		}
		m.mu.Unlock()

		if len(lines) == 0 {
			return
		}
		sort.Strings(lines)
		m.logger.Info("Still running: " + strings.Join(lines, ", "))
	}
}
