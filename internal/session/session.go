// Package session owns the lifecycle of the link to the flight simulator:
// connecting, polling telemetry on a fixed interval, fanning snapshots
// out to subscribers, and tearing everything down again.
//
// Public operations never return raw errors to HTTP handlers. They return
// Result values carrying success/failure plus a human-readable message, so
// a broken simulator link degrades the API to "unavailable" instead of
// crashing request handling.
package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/flycharts/flycharts/pkg/simconnect"
)

// Event names published to the broadcast sink.
const (
	EventPositionUpdate = "aircraft_position_update"
	EventStatus         = "simconnect_status"
)

// Source is the external telemetry capability: a keyed synchronous read
// interface over the simulator. *simconnect.Client implements it.
type Source interface {
	Connect() error
	// Get returns the current value of a simulator variable.
	// A nil value with a nil error means the variable is absent.
	Get(name string) (any, error)
	Disconnect() error
}

// Publisher delivers an event to all currently subscribed clients.
type Publisher interface {
	Publish(event string, payload any)
}

// DialFunc acquires a fresh Source handle. A nil DialFunc marks the
// telemetry capability as unavailable on this host.
type DialFunc func() (Source, error)

// Options configures a Manager.
type Options struct {
	// Dial acquires the telemetry source; nil means unavailable
	Dial DialFunc

	// Sink receives published snapshots; may be nil
	Sink Publisher

	// PollInterval between snapshots (default: 500ms)
	PollInterval time.Duration

	// ErrorBackoff after a failed poll cycle (default: 2s)
	ErrorBackoff time.Duration

	// StopWait bounds how long Disconnect waits for the poll
	// goroutine to exit (default: 3s)
	StopWait time.Duration
}

// Manager is the telemetry session. One instance is constructed at startup
// and handed to the HTTP layer; there is no package-level singleton.
type Manager struct {
	dial     DialFunc
	sink     Publisher
	interval time.Duration
	backoff  time.Duration
	stopWait time.Duration

	mu        sync.Mutex
	src       Source
	connected bool
	last      *Snapshot
	cancel    context.CancelFunc
	done      chan struct{}
}

// Result is the outcome of a control operation.
// Err carries the typed failure for errors.Is; it is omitted from JSON.
type Result struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Connected bool      `json:"connected"`
	Timestamp time.Time `json:"timestamp"`
	Err       error     `json:"-"`
}

// Status is a point-in-time view of the session. Pure read, no side effects.
type Status struct {
	Connected           bool      `json:"connected"`
	SimConnectAvailable bool      `json:"simconnect_available"`
	LastPosition        *Snapshot `json:"last_position"`
	Timestamp           time.Time `json:"timestamp"`
}

// NewManager creates a session manager. It does not touch the simulator;
// call Connect for that.
func NewManager(opts Options) *Manager {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = 2 * time.Second
	}
	if opts.StopWait <= 0 {
		opts.StopWait = 3 * time.Second
	}
	return &Manager{
		dial:     opts.Dial,
		sink:     opts.Sink,
		interval: opts.PollInterval,
		backoff:  opts.ErrorBackoff,
		stopWait: opts.StopWait,
	}
}

// Available reports whether a telemetry source is configured at all.
func (m *Manager) Available() bool {
	return m.dial != nil
}

// Connect acquires the telemetry source, probes it with a latitude read,
// and starts the poll loop. Calling it while already connected re-probes
// the existing link and reconnects if the link has gone stale.
func (m *Manager) Connect() Result {
	if m.dial == nil {
		return m.failure(ErrSourceUnavailable, "SimConnect bridge not configured")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Re-probe an existing link before dialing a new one.
	if m.connected && m.src != nil {
		if _, err := m.src.Get(simconnect.VarLatitude); err == nil {
			m.startPollLocked()
			return m.successLocked("Already connected to SimConnect")
		}
		log.Println("SimConnect link stale, reconnecting...")

		// Stop the old poll loop before dialing again so at most one
		// loop ever runs. The wait must happen unlocked; see Disconnect.
		cancel := m.cancel
		done := m.done
		m.cancel = nil
		m.done = nil
		m.mu.Unlock()
		m.waitPollStop(cancel, done)
		m.mu.Lock()
		m.teardownLocked()
	}

	src, err := m.dial()
	if err != nil {
		return m.failure(ErrConnectFailed, fmt.Sprintf("Failed to connect: %v", err))
	}
	if err := src.Connect(); err != nil {
		return m.failure(ErrConnectFailed, fmt.Sprintf("Failed to connect: %v", err))
	}

	// Probe the link with a single read. The value may legitimately be
	// absent (no flight loaded); only a read error fails the connect.
	if _, err := src.Get(simconnect.VarLatitude); err != nil {
		if derr := src.Disconnect(); derr != nil {
			log.Printf("Error releasing failed source: %v", derr)
		}
		return m.failure(ErrConnectFailed, fmt.Sprintf("Failed to connect: %v", err))
	}

	m.src = src
	m.connected = true
	m.last = nil
	m.startPollLocked()

	log.Println("Successfully connected to SimConnect")
	return m.successLocked("Connected to SimConnect successfully")
}

// Disconnect stops the poll loop, waits up to StopWait for it to exit,
// releases the source, and clears the cached snapshot. Calling it while
// already disconnected is a successful no-op.
func (m *Manager) Disconnect() Result {
	m.mu.Lock()
	if !m.connected && m.src == nil {
		m.mu.Unlock()
		return Result{
			Success:   true,
			Message:   "Already disconnected",
			Connected: false,
			Timestamp: time.Now().UTC(),
		}
	}
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()

	// Stop the poll loop without holding the lock; the loop takes the
	// lock to store snapshots and would otherwise never observe the stop.
	m.waitPollStop(cancel, done)

	m.mu.Lock()
	m.teardownLocked()
	m.mu.Unlock()

	log.Println("Disconnected from SimConnect")
	return Result{
		Success:   true,
		Message:   "Disconnected successfully",
		Connected: false,
		Timestamp: time.Now().UTC(),
	}
}

// Status returns the current session state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Connected:           m.connected,
		SimConnectAvailable: m.dial != nil,
		LastPosition:        m.last,
		Timestamp:           time.Now().UTC(),
	}
}

// Snapshot reads all telemetry fields from the source. It returns
// (nil, nil) when disconnected or when the simulator has no position, and
// a wrapped ErrReadFailed on transient read failures. Read failures never
// propagate to HTTP callers as errors; they degrade to "no data".
func (m *Manager) Snapshot() (*Snapshot, error) {
	m.mu.Lock()
	src := m.src
	connected := m.connected
	m.mu.Unlock()

	if !connected || src == nil {
		return nil, nil
	}

	snap, err := readSnapshot(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	if snap == nil {
		return nil, nil
	}

	m.mu.Lock()
	// Disconnect may have raced the read; don't resurrect a cleared cache.
	if m.connected {
		m.last = snap
	}
	m.mu.Unlock()

	return snap, nil
}

// startPollLocked starts the poll goroutine if it isn't already running.
// Caller must hold m.mu. At most one poll goroutine runs per Manager.
func (m *Manager) startPollLocked() {
	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	go m.poll(ctx, done)
}

// waitPollStop cancels the poll loop and waits, bounded by StopWait, for
// it to exit. Caller must not hold m.mu; the loop takes the lock to store
// snapshots and would otherwise never observe the stop.
func (m *Manager) waitPollStop(cancel context.CancelFunc, done chan struct{}) {
	if cancel == nil {
		return
	}
	cancel()
	select {
	case <-done:
	case <-time.After(m.stopWait):
		log.Printf("Poll loop did not stop within %v, proceeding", m.stopWait)
	}
}

// teardownLocked releases the source and clears session state.
// Caller must hold m.mu.
func (m *Manager) teardownLocked() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
		m.done = nil
	}
	if m.src != nil {
		if err := m.src.Disconnect(); err != nil {
			log.Printf("Error releasing telemetry source: %v", err)
		}
		m.src = nil
	}
	m.connected = false
	m.last = nil
}

// poll is the background loop: one snapshot per tick, published to the
// sink. Failed cycles log and back off; only context cancellation ends
// the loop.
func (m *Manager) poll(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, err := m.Snapshot()
			if err != nil {
				log.Printf("Error reading aircraft position: %v", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(m.backoff):
				}
				continue
			}
			if snap != nil && m.sink != nil {
				m.sink.Publish(EventPositionUpdate, snap)
			}
		}
	}
}

func (m *Manager) failure(kind error, msg string) Result {
	log.Print(msg)
	return Result{
		Success:   false,
		Message:   msg,
		Connected: false,
		Timestamp: time.Now().UTC(),
		Err:       kind,
	}
}

// successLocked builds a success result. Caller must hold m.mu.
func (m *Manager) successLocked(msg string) Result {
	return Result{
		Success:   true,
		Message:   msg,
		Connected: m.connected,
		Timestamp: time.Now().UTC(),
	}
}
