// Package lifecycle serializes start/stop/shutdown operations against the
// single mutable server handle. One dedicated worker goroutine processes
// lifecycle tasks in submission order; that serial queue is the mutual
// exclusion that prevents two server instances from binding the same port
// concurrently or a stop racing a start. The handle is written only by
// tasks on the worker, never concurrently.
package lifecycle

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/localrivet/toolgate/internal/errortypes"
	"github.com/localrivet/toolgate/internal/telemetry"
)

// ErrManagerClosed is reported as a Failed transition when Start or Stop is
// called after Shutdown has retired the worker.
var ErrManagerClosed = errors.New("lifecycle manager is shut down")

// queueDepth bounds pending lifecycle tasks. Lifecycle calls are rare and
// human-initiated, so the buffer keeps Start/Stop from blocking behind a
// slow drain without growing an unbounded queue.
const queueDepth = 64

// HandlerBuilder constructs the request handler for a new server instance.
// The manager calls it inside the start task, once the bind policy is
// known, so the gate can be configured with the policy and port of this
// specific start.
type HandlerBuilder func(policy BindPolicy, cfg Config) http.Handler

// Manager owns the server handle and the serial execution queue.
type Manager struct {
	tasks   chan func()
	done    chan struct{}
	logger  *slog.Logger
	metrics *telemetry.MetricsCollector

	newHandler HandlerBuilder
	newHandle  HandleFactory

	// handle is touched only from the worker goroutine.
	handle Handle

	// mu guards retired and the tasks channel against send-after-close.
	mu      sync.Mutex
	retired bool
}

// Options configures a Manager. NewHandler is required; the other fields
// default sensibly.
type Options struct {
	NewHandler HandlerBuilder
	NewHandle  HandleFactory
	Logger     *slog.Logger
	Metrics    *telemetry.MetricsCollector
}

// NewManager creates a Manager and starts its worker goroutine.
func NewManager(opts Options) (*Manager, error) {
	if opts.NewHandler == nil {
		return nil, errortypes.ValidationError(errors.New("NewHandler is required"), "cannot create lifecycle manager")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	factory := opts.NewHandle
	if factory == nil {
		factory = NewHandleFactory(logger)
	}

	m := &Manager{
		tasks:      make(chan func(), queueDepth),
		done:       make(chan struct{}),
		logger:     logger,
		metrics:    opts.Metrics,
		newHandler: opts.NewHandler,
		newHandle:  factory,
	}
	go m.run()
	return m, nil
}

// run is the serial worker. It exits when Shutdown closes the queue.
func (m *Manager) run() {
	for task := range m.tasks {
		task()
	}
	close(m.done)
}

// Start asynchronously replaces any running server with one bound per cfg.
// onState receives StateStarting synchronously, then exactly one terminal
// transition (StateRunning or StateFailed) from the worker.
func (m *Manager) Start(cfg Config, onState Callback) {
	notify(onState, Transition{State: StateStarting})

	m.enqueue(onState, func() Transition {
		begin := time.Now()

		// Any prior instance is stopped and discarded before the new one
		// binds; a failure to drain it cleanly does not block the start.
		if m.handle != nil {
			if err := m.handle.Stop(); err != nil {
				m.logger.Warn("Failed to stop previous server before restart", "error", err)
			}
			m.handle = nil
		}

		if err := cfg.Validate(); err != nil {
			m.count(telemetry.MetricLifecycleStartFailure)
			return Transition{State: StateFailed, Err: err}
		}

		policy := PolicyFor(cfg.Host)
		handler := m.newHandler(policy, cfg)

		handle, err := m.newHandle(policy.BindAddress, cfg.Port, handler)
		if err != nil {
			m.count(telemetry.MetricLifecycleStartFailure)
			return Transition{
				State: StateFailed,
				Err:   errortypes.LifecycleError(err, "failed to start embedded server"),
			}
		}

		m.handle = handle
		m.count(telemetry.MetricLifecycleStarts)
		m.timestamp(telemetry.MetricLifecycleLastStart)
		m.timer(telemetry.MetricLifecycleStartTime, time.Since(begin))
		m.logger.Info("Server started",
			"address", handle.Addr(),
			"external_access", policy.AllowExternalAccess)
		return Transition{State: StateRunning}
	})
}

// Stop asynchronously stops and clears the server handle. onState receives
// StateStopping synchronously, then StateStopped or StateFailed from the
// worker. Stopping when nothing is running reports StateStopped.
func (m *Manager) Stop(onState Callback) {
	notify(onState, Transition{State: StateStopping})

	m.enqueue(onState, func() Transition {
		begin := time.Now()

		if m.handle == nil {
			return Transition{State: StateStopped}
		}

		err := m.handle.Stop()
		// The handle is cleared even when teardown was imperfect so a
		// stale reference never leaks into the next start.
		m.handle = nil

		if err != nil {
			m.count(telemetry.MetricLifecycleStopFailure)
			return Transition{
				State: StateFailed,
				Err:   errortypes.LifecycleError(err, "failed to stop embedded server"),
			}
		}

		m.count(telemetry.MetricLifecycleStops)
		m.timestamp(telemetry.MetricLifecycleLastStop)
		m.timer(telemetry.MetricLifecycleStopTime, time.Since(begin))
		m.logger.Info("Server stopped")
		return Transition{State: StateStopped}
	})
}

// Shutdown synchronously tears down the server for process exit: it stops
// any running handle, permanently retires the queue, and waits up to
// ShutdownWait for in-flight tasks to finish. It never returns an error
// and is safe to call more than once.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.retired {
		m.mu.Unlock()
		return
	}
	m.retired = true
	m.tasks <- func() {
		if m.handle != nil {
			if err := m.handle.Stop(); err != nil {
				m.logger.Warn("Teardown stop failed during shutdown", "error", err)
			}
			m.handle = nil
		}
	}
	close(m.tasks)
	m.mu.Unlock()

	select {
	case <-m.done:
		m.logger.Info("Lifecycle manager shut down")
	case <-time.After(ShutdownWait):
		m.logger.Warn("Shutdown wait elapsed before lifecycle worker drained")
	}
}

// enqueue submits a task whose result is delivered as the terminal
// transition. Tasks reaching a retired queue fail asynchronously, keeping
// the Starting-then-terminal callback order intact.
func (m *Manager) enqueue(onState Callback, task func() Transition) {
	wrapped := func() {
		tr := runTask(task)
		if tr.State == StateFailed && tr.Err != nil {
			errortypes.LogError(m.logger, tr.Err)
		}
		notify(onState, tr)
	}

	m.mu.Lock()
	if m.retired {
		m.mu.Unlock()
		go notify(onState, Transition{
			State: StateFailed,
			Err:   errortypes.LifecycleError(ErrManagerClosed, "lifecycle operation rejected"),
		})
		return
	}
	m.tasks <- wrapped
	m.mu.Unlock()
}

// runTask executes a task, converting a panic into a Failed transition so
// nothing escapes to crash the worker.
func runTask(task func() Transition) (tr Transition) {
	defer func() {
		if r := recover(); r != nil {
			tr = Transition{
				State: StateFailed,
				Err:   errortypes.InternalError(fmt.Errorf("panic: %v", r), "lifecycle task panicked"),
			}
		}
	}()
	return task()
}

func (m *Manager) count(name string) {
	if m.metrics != nil {
		m.metrics.IncrementCounter(name, 1)
	}
}

func (m *Manager) timestamp(name string) {
	if m.metrics != nil {
		m.metrics.RecordTimestamp(name)
	}
}

func (m *Manager) timer(name string, d time.Duration) {
	if m.metrics != nil {
		m.metrics.RecordTimer(name, d)
	}
}
