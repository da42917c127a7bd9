package handler

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mir00r/headmaster/internal/domain"
	"github.com/mir00r/headmaster/internal/errors"
	"github.com/mir00r/headmaster/internal/transport"
	"github.com/mir00r/headmaster/pkg/logger"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	directionRequest  = "client->backend"
	directionResponse = "backend->client"

	maxAcceptDelay = time.Second
)

// L4Handler is the connection forwarding engine: it accepts clients, asks
// the balancer for a backend, splices bytes both ways and reports exactly
// one outcome per selected session.
type L4Handler struct {
	balancer domain.LoadBalancer
	config   *L4Config
	logger   *logger.Logger

	limiter  *semaphore.Weighted
	buffers  sync.Pool
	sessions sync.WaitGroup
	active   atomic.Int64

	// sessions run on their own context so that stopping the acceptor does
	// not tear down established sessions
	ctx    context.Context
	cancel context.CancelFunc
}

// L4Config holds forwarding engine configuration
type L4Config struct {
	BufferSize     int `json:"buffer_size" yaml:"buffer_size"`
	MaxConnections int `json:"max_connections" yaml:"max_connections"`
}

// NewL4Handler creates a new forwarding engine
func NewL4Handler(balancer domain.LoadBalancer, config *L4Config, log *logger.Logger) *L4Handler {
	ctx, cancel := context.WithCancel(context.Background())

	if config == nil {
		config = &L4Config{}
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 32 * 1024
	}

	h := &L4Handler{
		balancer: balancer,
		config:   config,
		logger:   log.ProxyLogger(),
		ctx:      ctx,
		cancel:   cancel,
	}
	if config.MaxConnections > 0 {
		h.limiter = semaphore.NewWeighted(int64(config.MaxConnections))
	}
	size := config.BufferSize
	h.buffers.New = func() interface{} {
		buf := make([]byte, size)
		return &buf
	}
	return h
}

// Serve runs the acceptor loop until ctx is cancelled. It returns nil on
// cancellation and the accept error if the listener fails for another
// reason.
func (h *L4Handler) Serve(ctx context.Context, listener *transport.Listener) error {
	stop := context.AfterFunc(ctx, func() { listener.Close() })
	defer stop()

	h.logger.WithField("address", listener.Addr().String()).Info("Accepting connections")

	var delay time.Duration
	for {
		if h.limiter != nil {
			if err := h.limiter.Acquire(ctx, 1); err != nil {
				return nil
			}
		}

		stream, remote, err := listener.Accept()
		if err != nil {
			h.release()
			if ctx.Err() != nil || stderrors.Is(err, net.ErrClosed) {
				return nil
			}

			if delay == 0 {
				delay = 5 * time.Millisecond
			} else if delay *= 2; delay > maxAcceptDelay {
				delay = maxAcceptDelay
			}
			h.logger.WithError(err).WithField("retry_in", delay.String()).Error("Failed to accept connection")
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return nil
			}
		}
		delay = 0

		h.sessions.Add(1)
		go func() {
			defer h.sessions.Done()
			defer h.release()
			h.HandleConnection(stream, remote)
		}()
	}
}

func (h *L4Handler) release() {
	if h.limiter != nil {
		h.limiter.Release(1)
	}
}

// Shutdown waits for in-flight sessions. When ctx expires first the
// remaining sessions are forcibly closed and ctx's error is returned.
func (h *L4Handler) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.cancel()
		return nil
	case <-ctx.Done():
		h.logger.WithField("active_sessions", h.ActiveSessions()).Warn("Drain timeout exceeded, closing sessions")
		h.cancel()
		<-done
		return ctx.Err()
	}
}

// ActiveSessions returns the number of clients currently being handled
func (h *L4Handler) ActiveSessions() int64 {
	return h.active.Load()
}

// HandleConnection drives one client session from accept to report. It
// closes client before returning.
func (h *L4Handler) HandleConnection(client transport.Stream, remote net.Addr) {
	h.active.Add(1)
	defer h.active.Add(-1)
	defer client.Close()

	trace, ok := h.balancer.Accept(remote)
	if !ok {
		return
	}

	backend := h.balancer.Select(remote, trace)
	if backend == nil {
		return
	}

	upstream, err := transport.Dial(h.ctx, backend.Address, h.balancer.ConnectionTimeout())
	if err != nil {
		connErr := errors.NewConnectError(backend.Address, err)
		if connErr.IsTimeout() {
			h.balancer.RecordConnectionTimeout(remote, backend, connErr, trace)
		} else {
			h.balancer.RecordConnectionFailure(remote, backend, connErr, trace)
		}
		return
	}

	h.logger.SessionLogger(trace.ID.String(), remoteString(remote)).
		WithField("backend", backend.Address).
		Debug("Backend connection established")

	requestBytes, responseBytes, err := h.forward(client, upstream)
	if err == nil {
		h.balancer.RecordSuccess(remote, backend, requestBytes, responseBytes, trace)
		return
	}
	recordFailure(h.balancer, remote, backend, err, trace)
}

// forward copies both directions concurrently. Both copies always run to
// completion; the first error, if any, is the session's outcome. Both
// streams are closed when forward returns.
func (h *L4Handler) forward(client, upstream transport.Stream) (int64, int64, error) {
	readTimeout := h.balancer.ReadTimeout()
	writeTimeout := h.balancer.WriteTimeout()

	clientRead, clientWrite := transport.Split(client, readTimeout, writeTimeout)
	upstreamRead, upstreamWrite := transport.Split(upstream, readTimeout, writeTimeout)

	var closeOnce sync.Once
	closeAll := func() {
		closeOnce.Do(func() {
			client.Close()
			upstream.Close()
		})
	}

	// the first failing direction cancels gctx, which unblocks the other one
	g, gctx := errgroup.WithContext(h.ctx)
	stop := context.AfterFunc(gctx, closeAll)
	defer stop()

	activity := &activityClock{}
	activity.touch()

	var requestBytes, responseBytes int64
	g.Go(func() error {
		n, err := h.pipe(upstreamWrite, clientRead, directionRequest, activity, readTimeout)
		requestBytes = n
		return err
	})
	g.Go(func() error {
		n, err := h.pipe(clientWrite, upstreamRead, directionResponse, activity, readTimeout)
		responseBytes = n
		return err
	})

	err := g.Wait()
	closeAll()
	return requestBytes, responseBytes, err
}

// pipe copies src to dst until src reaches EOF, then half-closes dst. Read
// and write errors are classified separately. A read deadline only counts
// as a timeout when the whole session has been idle for readTimeout.
func (h *L4Handler) pipe(dst *transport.WriteHalf, src *transport.ReadHalf, direction string, activity *activityClock, readTimeout time.Duration) (int64, error) {
	bufp := h.buffers.Get().(*[]byte)
	defer h.buffers.Put(bufp)
	buf := *bufp

	var total int64
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			activity.touch()
			written, writeErr := dst.Write(buf[:n])
			total += int64(written)
			if writeErr == nil && written != n {
				writeErr = io.ErrShortWrite
			}
			if writeErr != nil {
				return total, errors.NewWriteError(direction, writeErr)
			}
			activity.touch()
		}

		if readErr == nil {
			continue
		}
		if readErr == io.EOF {
			dst.Close()
			return total, nil
		}
		if errors.IsTimeoutError(readErr) && activity.since() < readTimeout {
			continue
		}
		return total, errors.NewReadError(direction, readErr)
	}
}

// recordFailure maps a classified forwarding error onto its Record* call
func recordFailure(rec domain.Recorder, remote net.Addr, backend *domain.Backend, err error, trace domain.Trace) {
	outcome := domain.OutcomeReadFailure
	if pErr, ok := errors.AsProxyError(err); ok {
		if o, ok := pErr.Outcome(); ok {
			outcome = o
		}
	}

	switch outcome {
	case domain.OutcomeConnectFailure:
		rec.RecordConnectionFailure(remote, backend, err, trace)
	case domain.OutcomeConnectTimeout:
		rec.RecordConnectionTimeout(remote, backend, err, trace)
	case domain.OutcomeReadTimeout:
		rec.RecordReadTimeout(remote, backend, err, trace)
	case domain.OutcomeWriteFailure:
		rec.RecordWriteFailure(remote, backend, err, trace)
	case domain.OutcomeWriteTimeout:
		rec.RecordWriteTimeout(remote, backend, err, trace)
	default:
		rec.RecordReadFailure(remote, backend, err, trace)
	}
}

// activityClock remembers when either direction last moved bytes
type activityClock struct {
	last atomic.Int64
}

func (c *activityClock) touch() {
	c.last.Store(time.Now().UnixNano())
}

func (c *activityClock) since() time.Duration {
	return time.Duration(time.Now().UnixNano() - c.last.Load())
}

func remoteString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
