package service

import (
	"math"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/mir00r/headmaster/internal/domain"
	"github.com/mir00r/headmaster/internal/errors"
	"github.com/mir00r/headmaster/pkg/logger"
)

// PoolConfig holds the static per-pool policy. Zero timeouts are unbounded.
type PoolConfig struct {
	ConnectionTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	Blacklist         []string
	Policy            domain.PolicyType
	FailureClock      domain.FailureClock
}

// Pool owns the live backend list and implements domain.LoadBalancer and
// domain.BackendManager. The list is guarded by a single-writer/many-reader
// lock; per-backend counters are atomics and never take it.
type Pool struct {
	mu       sync.RWMutex
	backends []*domain.Backend

	blacklist map[string]struct{}
	policy    domain.SelectionPolicy

	connectionTimeout time.Duration
	readTimeout       time.Duration
	writeTimeout      time.Duration
	failureClock      domain.FailureClock

	metrics *Metrics
	logger  *logger.Logger
	now     func() time.Time
}

var (
	_ domain.LoadBalancer   = (*Pool)(nil)
	_ domain.BackendManager = (*Pool)(nil)
)

// NewPool creates an empty pool
func NewPool(config PoolConfig, metrics *Metrics, log *logger.Logger) (*Pool, error) {
	policy, err := domain.NewSelectionPolicy(config.Policy)
	if err != nil {
		return nil, err
	}

	clock := config.FailureClock
	switch clock {
	case "":
		clock = domain.WallClock
	case domain.WallClock, domain.ElapsedClock:
	default:
		return nil, errors.NewError(errors.ErrCodeConfigLoad, "pool", "unsupported failure clock: "+string(clock))
	}

	blacklist := make(map[string]struct{}, len(config.Blacklist))
	for _, entry := range config.Blacklist {
		blacklist[entry] = struct{}{}
	}

	return &Pool{
		blacklist:         blacklist,
		policy:            policy,
		connectionTimeout: config.ConnectionTimeout,
		readTimeout:       config.ReadTimeout,
		writeTimeout:      config.WriteTimeout,
		failureClock:      clock,
		metrics:           metrics,
		logger:            log.PoolLogger(),
		now:               time.Now,
	}, nil
}

// Accept returns a fresh trace unless the client is blacklisted. Entries
// match either the full remote address or its host part.
func (p *Pool) Accept(client net.Addr) (domain.Trace, bool) {
	trace := domain.NewTrace()
	if p.isBlacklisted(client) {
		p.metrics.clientRejected()
		p.logger.WithError(errors.NewClientRejectedError(addrString(client))).
			WithField("client", addrString(client)).
			Debug("Rejected blacklisted client")
		return domain.Trace{}, false
	}
	return trace, true
}

func (p *Pool) isBlacklisted(client net.Addr) bool {
	if len(p.blacklist) == 0 || client == nil {
		return false
	}
	address := client.String()
	if _, ok := p.blacklist[address]; ok {
		return true
	}
	if host, _, err := net.SplitHostPort(address); err == nil {
		_, ok := p.blacklist[host]
		return ok
	}
	return false
}

// Select hands the session a backend chosen by the policy and counts it as
// active before the caller dials
func (p *Pool) Select(client net.Addr, trace domain.Trace) *domain.Backend {
	p.mu.RLock()
	backend := p.policy.Select(p.backends, client)
	p.mu.RUnlock()

	if backend == nil {
		p.metrics.noBackend()
		p.logger.WithError(errors.NewNoBackendsError()).WithFields(map[string]interface{}{
			"client":  addrString(client),
			"session": trace.ID.String(),
		}).Error("No backend available")
		return nil
	}

	backend.IncrementConnections()
	p.metrics.sessionSelected(backend.Address)
	return backend
}

// ConnectionTimeout bounds dialing a backend
func (p *Pool) ConnectionTimeout() time.Duration {
	return p.connectionTimeout
}

// ReadTimeout bounds each read from a direction's source
func (p *Pool) ReadTimeout() time.Duration {
	return p.readTimeout
}

// WriteTimeout bounds each write to a direction's destination
func (p *Pool) WriteTimeout() time.Duration {
	return p.writeTimeout
}

// AddBackend appends a fresh backend unless the address is already present
func (p *Pool) AddBackend(address string) (bool, error) {
	if _, _, err := net.SplitHostPort(address); err != nil {
		return false, errors.NewInvalidAddressError(address, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.indexOf(address) >= 0 {
		return false, nil
	}
	p.backends = append(p.backends, domain.NewBackend(address))
	p.metrics.poolSize(len(p.backends))

	p.logger.WithField("backend", address).Info("Added backend")
	return true, nil
}

// RemoveBackend detaches the backend from the live list. Sessions already
// holding it keep their reference and record normally.
func (p *Pool) RemoveBackend(address string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	i := p.indexOf(address)
	if i < 0 {
		return false
	}
	p.backends = slices.Delete(p.backends, i, i+1)
	p.metrics.poolSize(len(p.backends))

	p.logger.WithField("backend", address).Info("Removed backend")
	return true
}

// GetBackend returns the live backend for address or nil
func (p *Pool) GetBackend(address string) *domain.Backend {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if i := p.indexOf(address); i >= 0 {
		return p.backends[i]
	}
	return nil
}

// GetBackends returns a snapshot of the live list
func (p *Pool) GetBackends() []*domain.Backend {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.backends)
}

// indexOf must be called with p.mu held
func (p *Pool) indexOf(address string) int {
	return slices.IndexFunc(p.backends, func(b *domain.Backend) bool {
		return b.Address == address
	})
}

// failureStamp returns the value the failure clock is stamped with
func (p *Pool) failureStamp(elapsed time.Duration) int64 {
	if p.failureClock == domain.ElapsedClock {
		// rounded up so a sub-second failure still reads as non-zero
		return int64(math.Max(1, math.Ceil(elapsed.Seconds())))
	}
	return p.now().Unix()
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	if s := addr.String(); s != "" {
		return s
	}
	return addr.Network()
}
