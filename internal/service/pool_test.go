package service

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/mir00r/headmaster/internal/domain"
	"github.com/mir00r/headmaster/internal/errors"
	"github.com/mir00r/headmaster/pkg/logger"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() (*logger.Logger, *test.Hook) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)
	return logger.Wrap(base), hook
}

func newTestPool(t *testing.T, config PoolConfig) (*Pool, *Metrics, *test.Hook) {
	t.Helper()
	log, hook := newTestLogger()
	metrics := NewMetrics("test")
	pool, err := NewPool(config, metrics, log)
	require.NoError(t, err)
	return pool, metrics, hook
}

func tcpAddr(s string) net.Addr {
	addr, err := net.ResolveTCPAddr("tcp", s)
	if err != nil {
		panic(err)
	}
	return addr
}

func TestNewPoolRejectsBadConfig(t *testing.T) {
	t.Parallel()

	log, _ := newTestLogger()

	_, err := NewPool(PoolConfig{Policy: "random"}, nil, log)
	assert.Error(t, err)

	_, err = NewPool(PoolConfig{FailureClock: "lunar"}, nil, log)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConfigLoad, errors.GetErrorCode(err))
}

func TestAcceptBlacklist(t *testing.T) {
	t.Parallel()

	pool, metrics, _ := newTestPool(t, PoolConfig{
		Blacklist: []string{"10.0.0.5", "10.0.0.6:4000"},
	})

	tests := []struct {
		client   string
		accepted bool
	}{
		{"10.0.0.5:1234", false},
		{"10.0.0.5:9999", false},
		{"10.0.0.6:4000", false},
		{"10.0.0.6:4001", true},
		{"10.0.0.7:1234", true},
	}

	for _, tt := range tests {
		trace, ok := pool.Accept(tcpAddr(tt.client))
		assert.Equal(t, tt.accepted, ok, "client %s", tt.client)
		if ok {
			assert.False(t, trace.Start.IsZero())
		}
	}

	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.RejectedTotal))
}

func TestSelectEmptyPool(t *testing.T) {
	t.Parallel()

	pool, metrics, hook := newTestPool(t, PoolConfig{})
	client := tcpAddr("10.0.0.1:5000")

	trace, ok := pool.Accept(client)
	require.True(t, ok)

	assert.Nil(t, pool.Select(client, trace))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.NoBackendTotal))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level, "dropped clients are visible to operators")
	assert.Equal(t, "No backend available", entry.Message)
}

func TestSelectSkipsUnavailable(t *testing.T) {
	t.Parallel()

	pool, _, _ := newTestPool(t, PoolConfig{})
	_, err := pool.AddBackend("127.0.0.1:9001")
	require.NoError(t, err)
	_, err = pool.AddBackend("127.0.0.1:9002")
	require.NoError(t, err)

	pool.GetBackend("127.0.0.1:9001").SetUnavailable(true)

	client := tcpAddr("10.0.0.1:5000")
	trace, _ := pool.Accept(client)
	backend := pool.Select(client, trace)
	require.NotNil(t, backend)
	assert.Equal(t, "127.0.0.1:9002", backend.Address)
	pool.RecordSuccess(client, backend, 0, 0, trace)

	pool.GetBackend("127.0.0.1:9002").SetUnavailable(true)
	assert.Nil(t, pool.Select(client, trace))
}

func TestAddBackendIdempotent(t *testing.T) {
	t.Parallel()

	pool, metrics, _ := newTestPool(t, PoolConfig{})

	added, err := pool.AddBackend("127.0.0.1:9001")
	require.NoError(t, err)
	assert.True(t, added)

	first := pool.GetBackend("127.0.0.1:9001")
	first.MarkFailure(99)

	added, err = pool.AddBackend("127.0.0.1:9001")
	require.NoError(t, err)
	assert.False(t, added)

	backends := pool.GetBackends()
	require.Len(t, backends, 1)
	assert.Same(t, first, backends[0], "re-adding keeps the existing backend and its state")
	assert.Equal(t, int64(99), backends[0].GetLastFailure())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.BackendsInPool))

	_, err = pool.AddBackend("no-port")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidAddress, errors.GetErrorCode(err))
}

func TestRemoveBackend(t *testing.T) {
	t.Parallel()

	pool, _, _ := newTestPool(t, PoolConfig{})
	for _, address := range []string{"127.0.0.1:9001", "127.0.0.1:9002", "127.0.0.1:9003"} {
		_, err := pool.AddBackend(address)
		require.NoError(t, err)
	}

	assert.True(t, pool.RemoveBackend("127.0.0.1:9002"))
	assert.False(t, pool.RemoveBackend("127.0.0.1:9002"), "second removal is a no-op")
	assert.Nil(t, pool.GetBackend("127.0.0.1:9002"))

	var addresses []string
	for _, backend := range pool.GetBackends() {
		addresses = append(addresses, backend.Address)
	}
	assert.Equal(t, []string{"127.0.0.1:9001", "127.0.0.1:9003"}, addresses)
}

func TestRemovalDuringSession(t *testing.T) {
	t.Parallel()

	pool, _, _ := newTestPool(t, PoolConfig{})
	_, err := pool.AddBackend("127.0.0.1:9001")
	require.NoError(t, err)

	client := tcpAddr("10.0.0.1:5000")
	trace, _ := pool.Accept(client)
	backend := pool.Select(client, trace)
	require.NotNil(t, backend)
	assert.Equal(t, int32(1), backend.GetActiveConnections())

	require.True(t, pool.RemoveBackend("127.0.0.1:9001"))
	assert.Empty(t, pool.GetBackends())

	pool.RecordReadFailure(client, backend, errors.NewReadError("client->backend", net.ErrClosed), trace)
	assert.Equal(t, int32(0), backend.GetActiveConnections())
	assert.NotZero(t, backend.GetLastFailure())
}

func TestSelectRecordBalanceUnderConcurrency(t *testing.T) {
	t.Parallel()

	pool, _, _ := newTestPool(t, PoolConfig{})
	addresses := []string{"127.0.0.1:9001", "127.0.0.1:9002"}
	for _, address := range addresses {
		_, err := pool.AddBackend(address)
		require.NoError(t, err)
	}
	held := pool.GetBackends()

	client := tcpAddr("10.0.0.1:5000")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				trace, _ := pool.Accept(client)
				backend := pool.Select(client, trace)
				if backend == nil {
					continue
				}
				if j%2 == 0 {
					pool.RecordSuccess(client, backend, 1, 1, trace)
				} else {
					pool.RecordConnectionFailure(client, backend, net.ErrClosed, trace)
				}
			}
		}(i)
	}

	// mutate the list while sessions are running
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 100; j++ {
			pool.RemoveBackend(addresses[0])
			_, _ = pool.AddBackend(addresses[0])
		}
	}()
	wg.Wait()

	for _, backend := range append(held, pool.GetBackends()...) {
		assert.Equal(t, int32(0), backend.GetActiveConnections(), backend.Address)
	}
}

func TestFailureClockWall(t *testing.T) {
	t.Parallel()

	pool, _, _ := newTestPool(t, PoolConfig{FailureClock: domain.WallClock})
	fixed := time.Unix(1700000000, 0)
	pool.now = func() time.Time { return fixed }

	_, err := pool.AddBackend("127.0.0.1:9001")
	require.NoError(t, err)

	client := tcpAddr("10.0.0.1:5000")
	trace, _ := pool.Accept(client)
	backend := pool.Select(client, trace)
	pool.RecordConnectionTimeout(client, backend, nil, trace)
	assert.Equal(t, int64(1700000000), backend.GetLastFailure())

	trace, _ = pool.Accept(client)
	backend = pool.Select(client, trace)
	pool.RecordSuccess(client, backend, 10, 20, trace)
	assert.Zero(t, backend.GetLastFailure(), "success clears the failure clock")
}

func TestFailureClockElapsed(t *testing.T) {
	t.Parallel()

	pool, _, _ := newTestPool(t, PoolConfig{FailureClock: domain.ElapsedClock})
	_, err := pool.AddBackend("127.0.0.1:9001")
	require.NoError(t, err)
	client := tcpAddr("10.0.0.1:5000")

	trace, _ := pool.Accept(client)
	backend := pool.Select(client, trace)
	pool.RecordWriteFailure(client, backend, nil, trace)
	assert.Equal(t, int64(1), backend.GetLastFailure(), "sub-second failures still read as non-zero")

	trace, _ = pool.Accept(client)
	trace.Start = trace.Start.Add(-2500 * time.Millisecond)
	backend = pool.Select(client, trace)
	pool.RecordReadTimeout(client, backend, nil, trace)
	assert.Equal(t, int64(3), backend.GetLastFailure())
}

func TestPoolTimeouts(t *testing.T) {
	t.Parallel()

	pool, _, _ := newTestPool(t, PoolConfig{
		ConnectionTimeout: time.Second,
		ReadTimeout:       2 * time.Second,
	})

	assert.Equal(t, time.Second, pool.ConnectionTimeout())
	assert.Equal(t, 2*time.Second, pool.ReadTimeout())
	assert.Zero(t, pool.WriteTimeout(), "zero means unbounded")
}
