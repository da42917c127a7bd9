package domain

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Backend represents one upstream endpoint and its runtime health state.
// The address never changes after construction; every other field is
// updated atomically by concurrently running sessions.
type Backend struct {
	Address string `json:"address" yaml:"address"`

	// Runtime state - thread-safe using atomic operations
	activeConnections atomic.Int32
	lastFailure       atomic.Int64 // seconds, 0 means no known failure
	unavailable       atomic.Bool
}

// NewBackend creates a Backend with zeroed counters and health state
func NewBackend(address string) *Backend {
	return &Backend{Address: address}
}

// IncrementConnections atomically increments the active connection count
func (b *Backend) IncrementConnections() {
	b.activeConnections.Add(1)
}

// DecrementConnections atomically decrements the active connection count
func (b *Backend) DecrementConnections() {
	b.activeConnections.Add(-1)
}

// GetActiveConnections returns the number of sessions handed this backend
// whose outcome has not been recorded yet
func (b *Backend) GetActiveConnections() int32 {
	return b.activeConnections.Load()
}

// MarkFailure stamps the failure clock
func (b *Backend) MarkFailure(stamp int64) {
	b.lastFailure.Store(stamp)
}

// ResetFailure clears the failure clock
func (b *Backend) ResetFailure() {
	b.lastFailure.Store(0)
}

// GetLastFailure returns the failure clock, 0 meaning no known failure
func (b *Backend) GetLastFailure() int64 {
	return b.lastFailure.Load()
}

// SetUnavailable updates the operator controlled availability flag
func (b *Backend) SetUnavailable(unavailable bool) {
	b.unavailable.Store(unavailable)
}

// IsUnavailable reports whether the backend was taken out of rotation
func (b *Backend) IsUnavailable() bool {
	return b.unavailable.Load()
}

// IsAvailable returns true if the backend may be handed new sessions
func (b *Backend) IsAvailable() bool {
	return !b.IsUnavailable()
}

// Trace is captured when a client is accepted and threaded through every
// later call for that session.
type Trace struct {
	ID    uuid.UUID
	Start time.Time
}

// NewTrace captures "now" for a freshly accepted session
func NewTrace() Trace {
	return Trace{ID: uuid.New(), Start: time.Now()}
}

// Elapsed returns the monotonic time since the session was accepted
func (t Trace) Elapsed() time.Duration {
	return time.Since(t.Start)
}

// Outcome classifies how a forwarded session ended
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeConnectFailure
	OutcomeConnectTimeout
	OutcomeReadFailure
	OutcomeReadTimeout
	OutcomeWriteFailure
	OutcomeWriteTimeout
)

// Outcomes lists every outcome in reporting order
var Outcomes = []Outcome{
	OutcomeSuccess,
	OutcomeConnectFailure,
	OutcomeConnectTimeout,
	OutcomeReadFailure,
	OutcomeReadTimeout,
	OutcomeWriteFailure,
	OutcomeWriteTimeout,
}

// String returns the string representation of Outcome
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeConnectFailure:
		return "connect_failure"
	case OutcomeConnectTimeout:
		return "connect_timeout"
	case OutcomeReadFailure:
		return "read_failure"
	case OutcomeReadTimeout:
		return "read_timeout"
	case OutcomeWriteFailure:
		return "write_failure"
	case OutcomeWriteTimeout:
		return "write_timeout"
	default:
		return "unknown"
	}
}

// IsTimeout reports whether the outcome is one of the three timeout kinds
func (o Outcome) IsTimeout() bool {
	return o == OutcomeConnectTimeout || o == OutcomeReadTimeout || o == OutcomeWriteTimeout
}

// FailureClock selects what MarkFailure is stamped with
type FailureClock string

const (
	// WallClock stamps the Unix time at which the failure was recorded
	WallClock FailureClock = "wall"
	// ElapsedClock stamps the elapsed session seconds
	ElapsedClock FailureClock = "elapsed"
)

// Recorder receives exactly one terminal call per selected session. Each
// call releases the session's hold on the backend and updates its failure
// clock.
type Recorder interface {
	RecordSuccess(client net.Addr, backend *Backend, requestBytes, responseBytes int64, trace Trace)
	RecordConnectionFailure(client net.Addr, backend *Backend, err error, trace Trace)
	RecordConnectionTimeout(client net.Addr, backend *Backend, err error, trace Trace)
	RecordReadFailure(client net.Addr, backend *Backend, err error, trace Trace)
	RecordReadTimeout(client net.Addr, backend *Backend, err error, trace Trace)
	RecordWriteFailure(client net.Addr, backend *Backend, err error, trace Trace)
	RecordWriteTimeout(client net.Addr, backend *Backend, err error, trace Trace)
}

// LoadBalancer is the contract the forwarding engine is written against.
// Timeouts of zero mean the phase is unbounded.
type LoadBalancer interface {
	Recorder

	// Accept returns false iff the client is blacklisted
	Accept(client net.Addr) (Trace, bool)
	// Select returns nil when no backend can take the session; a non-nil
	// backend must be paired with exactly one Record* call
	Select(client net.Addr, trace Trace) *Backend

	ConnectionTimeout() time.Duration
	ReadTimeout() time.Duration
	WriteTimeout() time.Duration
}

// BackendManager is the mutation surface used by the admin API
type BackendManager interface {
	// AddBackend returns false when the address was already present
	AddBackend(address string) (bool, error)
	// RemoveBackend returns false when the address was not present
	RemoveBackend(address string) bool
	// GetBackend returns nil when the address is not in the live list
	GetBackend(address string) *Backend
	// GetBackends returns a snapshot of the live list in order
	GetBackends() []*Backend
}
