package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/flycharts/flycharts/pkg/simconnect"
)

// fakeSource is an in-memory telemetry source.
type fakeSource struct {
	mu          sync.Mutex
	values      map[string]any
	connectErr  error
	getErr      error
	connects    int
	disconnects int
}

func (f *fakeSource) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return f.connectErr
}

func (f *fakeSource) Get(name string) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.values[name], nil
}

func (f *fakeSource) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

func (f *fakeSource) setGetErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getErr = err
}

func (f *fakeSource) disconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

// fakeSink records published events.
type fakeSink struct {
	mu     sync.Mutex
	events []string
	ch     chan *Snapshot
}

func newFakeSink() *fakeSink {
	return &fakeSink{ch: make(chan *Snapshot, 64)}
}

func (s *fakeSink) Publish(event string, payload any) {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
	if snap, ok := payload.(*Snapshot); ok {
		select {
		case s.ch <- snap:
		default:
		}
	}
}

func validValues() map[string]any {
	return map[string]any{
		simconnect.VarLatitude:      47.4502,
		simconnect.VarLongitude:     -122.3088,
		simconnect.VarAltitude:      1500.0,
		simconnect.VarHeading:       270.0,
		simconnect.VarAirspeed:      120.0,
		simconnect.VarGroundSpeed:   115.0,
		simconnect.VarVerticalSpeed: -300.0,
		simconnect.VarTitle:         "Cessna 172",
		simconnect.VarATCID:         "N172SP",
	}
}

func newTestManager(src *fakeSource, sink Publisher) *Manager {
	var dial DialFunc
	if src != nil {
		dial = func() (Source, error) { return src, nil }
	}
	return NewManager(Options{
		Dial:         dial,
		Sink:         sink,
		PollInterval: 10 * time.Millisecond,
		ErrorBackoff: 20 * time.Millisecond,
		StopWait:     time.Second,
	})
}

// TestConnectSourceUnavailable verifies connect fails fast with no source.
func TestConnectSourceUnavailable(t *testing.T) {
	m := newTestManager(nil, nil)

	res := m.Connect()
	if res.Success {
		t.Error("Expected connect to fail without a source")
	}
	if !errors.Is(res.Err, ErrSourceUnavailable) {
		t.Errorf("Expected ErrSourceUnavailable, got: %v", res.Err)
	}

	st := m.Status()
	if st.Connected {
		t.Error("Expected connected=false")
	}
	if st.SimConnectAvailable {
		t.Error("Expected simconnect_available=false")
	}
}

// TestConnectProbeFailure verifies a failing probe read leaves the session
// disconnected and releases the source.
func TestConnectProbeFailure(t *testing.T) {
	src := &fakeSource{getErr: errors.New("no simulator running")}
	m := newTestManager(src, nil)

	res := m.Connect()
	if res.Success {
		t.Error("Expected connect to fail")
	}
	if !errors.Is(res.Err, ErrConnectFailed) {
		t.Errorf("Expected ErrConnectFailed, got: %v", res.Err)
	}
	if src.disconnectCount() != 1 {
		t.Errorf("Expected failed source to be released, disconnects=%d", src.disconnectCount())
	}
	if m.Status().Connected {
		t.Error("Expected connected=false after failed probe")
	}
}

// TestConnectStartsPolling verifies a snapshot is published shortly after
// a successful connect.
func TestConnectStartsPolling(t *testing.T) {
	src := &fakeSource{values: validValues()}
	sink := newFakeSink()
	m := newTestManager(src, sink)
	defer m.Disconnect()

	res := m.Connect()
	if !res.Success {
		t.Fatalf("Expected connect to succeed: %s", res.Message)
	}
	if !m.Status().Connected {
		t.Error("Expected connected=true")
	}

	select {
	case snap := <-sink.ch:
		if snap.Latitude != 47.4502 {
			t.Errorf("Expected latitude 47.4502, got %f", snap.Latitude)
		}
		if snap.AircraftTitle != "Cessna 172" {
			t.Errorf("Expected aircraft title Cessna 172, got %s", snap.AircraftTitle)
		}
	case <-time.After(time.Second):
		t.Fatal("No snapshot published within a second of connecting")
	}
}

// TestConnectIdempotent verifies reconnecting over a healthy link succeeds
// without dialing a second source.
func TestConnectIdempotent(t *testing.T) {
	src := &fakeSource{values: validValues()}
	m := newTestManager(src, nil)
	defer m.Disconnect()

	if res := m.Connect(); !res.Success {
		t.Fatalf("First connect failed: %s", res.Message)
	}
	if res := m.Connect(); !res.Success {
		t.Errorf("Second connect failed: %s", res.Message)
	}

	src.mu.Lock()
	connects := src.connects
	src.mu.Unlock()
	if connects != 1 {
		t.Errorf("Expected a single source Connect, got %d", connects)
	}
}

// TestConnectStaleReconnect verifies a stale link is torn down and its
// poll loop fully stopped before a fresh source starts polling.
func TestConnectStaleReconnect(t *testing.T) {
	old := &fakeSource{values: validValues()}
	fresh := &fakeSource{values: validValues()}
	sources := []*fakeSource{old, fresh}
	next := 0
	m := NewManager(Options{
		Dial: func() (Source, error) {
			s := sources[next]
			next++
			return s, nil
		},
		PollInterval: 10 * time.Millisecond,
		ErrorBackoff: 20 * time.Millisecond,
		StopWait:     time.Second,
	})
	defer m.Disconnect()

	if res := m.Connect(); !res.Success {
		t.Fatalf("Connect failed: %s", res.Message)
	}
	m.mu.Lock()
	oldDone := m.done
	m.mu.Unlock()

	// Break the existing link so the re-probe fails
	old.setGetErr(errors.New("sim exited"))

	if res := m.Connect(); !res.Success {
		t.Fatalf("Reconnect failed: %s", res.Message)
	}

	// The old loop must be gone before the new one runs
	select {
	case <-oldDone:
	default:
		t.Error("Previous poll loop still running after reconnect")
	}

	m.mu.Lock()
	newDone := m.done
	m.mu.Unlock()
	if newDone == oldDone {
		t.Error("Expected a fresh poll loop after reconnect")
	}
	if old.disconnectCount() != 1 {
		t.Errorf("Expected stale source released once, got %d", old.disconnectCount())
	}
	if !m.Status().Connected {
		t.Error("Expected connected=true after reconnect")
	}
}

// TestSnapshotRequiresPosition verifies no snapshot is produced when
// latitude or longitude is absent.
func TestSnapshotRequiresPosition(t *testing.T) {
	for _, missing := range []string{simconnect.VarLatitude, simconnect.VarLongitude} {
		values := validValues()
		delete(values, missing)
		src := &fakeSource{values: values}
		m := newTestManager(src, nil)

		if res := m.Connect(); !res.Success {
			t.Fatalf("Connect failed: %s", res.Message)
		}

		snap, err := m.Snapshot()
		if err != nil {
			t.Errorf("Expected no error with %s absent, got: %v", missing, err)
		}
		if snap != nil {
			t.Errorf("Expected no snapshot with %s absent, got %+v", missing, snap)
		}

		m.Disconnect()
	}
}

// TestSnapshotDefaults verifies absent non-position fields materialize as
// zeros and placeholders.
func TestSnapshotDefaults(t *testing.T) {
	src := &fakeSource{values: map[string]any{
		simconnect.VarLatitude:  10.0,
		simconnect.VarLongitude: 20.0,
	}}
	m := newTestManager(src, nil)
	defer m.Disconnect()

	if res := m.Connect(); !res.Success {
		t.Fatalf("Connect failed: %s", res.Message)
	}

	snap, err := m.Snapshot()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if snap == nil {
		t.Fatal("Expected a snapshot")
	}
	if snap.Altitude != 0 || snap.Heading != 0 || snap.Airspeed != 0 ||
		snap.GroundSpeed != 0 || snap.VerticalSpeed != 0 {
		t.Errorf("Expected zero defaults, got %+v", snap)
	}
	if snap.AircraftTitle != "Unknown" {
		t.Errorf("Expected aircraft title Unknown, got %q", snap.AircraftTitle)
	}
	if snap.ATCID != "" {
		t.Errorf("Expected empty ATC ID, got %q", snap.ATCID)
	}
	if snap.Timestamp.IsZero() {
		t.Error("Expected capture timestamp to be set")
	}
}

// TestSnapshotReadFailure verifies transient read errors surface as
// ErrReadFailed and leave the session connected.
func TestSnapshotReadFailure(t *testing.T) {
	src := &fakeSource{values: validValues()}
	m := newTestManager(src, nil)
	defer m.Disconnect()

	if res := m.Connect(); !res.Success {
		t.Fatalf("Connect failed: %s", res.Message)
	}

	src.setGetErr(errors.New("pipe broke"))
	snap, err := m.Snapshot()
	if snap != nil {
		t.Error("Expected no snapshot on read failure")
	}
	if !errors.Is(err, ErrReadFailed) {
		t.Errorf("Expected ErrReadFailed, got: %v", err)
	}
	if !m.Status().Connected {
		t.Error("Expected session to stay connected through a transient read failure")
	}

	// Recovery: clearing the fault yields data again
	src.setGetErr(nil)
	if snap, err := m.Snapshot(); err != nil || snap == nil {
		t.Errorf("Expected snapshot after recovery, got %v, %v", snap, err)
	}
}

// TestSnapshotWhileDisconnected verifies Snapshot degrades to no data.
func TestSnapshotWhileDisconnected(t *testing.T) {
	m := newTestManager(&fakeSource{values: validValues()}, nil)

	snap, err := m.Snapshot()
	if snap != nil || err != nil {
		t.Errorf("Expected (nil, nil) while disconnected, got %v, %v", snap, err)
	}
}

// TestDisconnectClearsState verifies disconnect stops polling, clears the
// cached snapshot, and is idempotent.
func TestDisconnectClearsState(t *testing.T) {
	src := &fakeSource{values: validValues()}
	sink := newFakeSink()
	m := newTestManager(src, sink)

	if res := m.Connect(); !res.Success {
		t.Fatalf("Connect failed: %s", res.Message)
	}

	// Wait for the cache to be populated
	select {
	case <-sink.ch:
	case <-time.After(time.Second):
		t.Fatal("No snapshot published")
	}

	res := m.Disconnect()
	if !res.Success {
		t.Errorf("Expected disconnect to succeed: %s", res.Message)
	}

	st := m.Status()
	if st.Connected {
		t.Error("Expected connected=false after disconnect")
	}
	if st.LastPosition != nil {
		t.Error("Expected cached snapshot cleared after disconnect")
	}
	if src.disconnectCount() != 1 {
		t.Errorf("Expected source released once, got %d", src.disconnectCount())
	}

	// Second disconnect is a no-op success
	res = m.Disconnect()
	if !res.Success {
		t.Errorf("Expected repeated disconnect to succeed: %s", res.Message)
	}
	if src.disconnectCount() != 1 {
		t.Errorf("Expected no extra source release, got %d", src.disconnectCount())
	}

	// Polling has stopped: no further snapshots arrive
	drained := len(sink.ch)
	for i := 0; i < drained; i++ {
		<-sink.ch
	}
	select {
	case <-sink.ch:
		t.Error("Snapshot published after disconnect")
	case <-time.After(50 * time.Millisecond):
	}
}

// TestStatusIsPure verifies Status does not mutate session state.
func TestStatusIsPure(t *testing.T) {
	m := newTestManager(&fakeSource{values: validValues()}, nil)

	before := m.Status()
	for i := 0; i < 5; i++ {
		m.Status()
	}
	after := m.Status()

	if before.Connected != after.Connected ||
		before.SimConnectAvailable != after.SimConnectAvailable {
		t.Error("Status changed session state")
	}
	if !after.SimConnectAvailable {
		t.Error("Expected simconnect_available=true with a configured dialer")
	}
}
