package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mir00r/headmaster/internal/config"
	"github.com/mir00r/headmaster/internal/errors"
	"github.com/mir00r/headmaster/internal/handler"
	"github.com/mir00r/headmaster/internal/middleware"
	"github.com/mir00r/headmaster/internal/service"
	"github.com/mir00r/headmaster/pkg/logger"
	"golang.org/x/sync/errgroup"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	adminCommand := flag.String("admin", "", "run a one-off admin command and exit")
	flag.Parse()

	dotenvErr := godotenv.Load()

	if *adminCommand != "" {
		os.Exit(runAdminProcess(*adminCommand, *configPath, flag.Args()))
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.ToLoggerConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if dotenvErr != nil && !stderrors.Is(dotenvErr, os.ErrNotExist) {
		log.WithError(dotenvErr).Warn("Failed to load .env file")
	}

	workers := configureWorkers(cfg.Workers)

	log.WithFields(map[string]interface{}{
		"version":  version,
		"listen":   cfg.Listen.String(),
		"admin":    cfg.AdminAddress().String(),
		"policy":   cfg.Policy,
		"backends": len(cfg.Backends),
		"workers":  workers,
		"process":  getProcessInfo(),
	}).Info("Starting headmaster")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).WithField("code", errors.GetErrorCode(err)).Error("headmaster exited with error")
		os.Exit(1)
	}

	log.Info("headmaster stopped gracefully")
}

// configureWorkers sizes GOMAXPROCS; zero means one fewer than the CPU
// count, never less than one
func configureWorkers(workers int) int {
	if workers <= 0 {
		workers = max(1, runtime.NumCPU()-1)
	}
	runtime.GOMAXPROCS(workers)
	return workers
}

// run wires the pool, forwarding engine and admin surface and blocks until
// ctx is cancelled or a server fails
func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	var metrics *service.Metrics
	if cfg.Metrics.Enabled {
		metrics = service.NewMetrics(cfg.Metrics.Namespace)
	}

	pool, err := service.NewPool(cfg.ToPoolConfig(), metrics, log)
	if err != nil {
		return err
	}
	for _, address := range cfg.Backends {
		if _, err := pool.AddBackend(address); err != nil {
			return err
		}
	}

	listener, err := cfg.Listen.Bind()
	if err != nil {
		return errors.NewBindError(cfg.Listen.String(), err)
	}

	l4 := handler.NewL4Handler(pool, &handler.L4Config{
		BufferSize:     cfg.BufferSize,
		MaxConnections: cfg.MaxConnections,
	}, log)

	var (
		adminServer   *http.Server
		adminListener net.Listener
	)
	if cfg.AdminAPI.Enabled {
		adminServer, err = newAdminServer(cfg, pool, l4, metrics, log)
		if err != nil {
			listener.Close()
			return err
		}

		adminAddress := cfg.AdminAddress()
		bound, err := adminAddress.Bind()
		if err != nil {
			listener.Close()
			return errors.NewBindError(adminAddress.String(), err)
		}
		adminListener = bound.NetListener()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return l4.Serve(gctx, listener)
	})

	if adminServer != nil {
		g.Go(func() error {
			log.AdminLogger().WithField("address", adminListener.Addr().String()).Info("Starting admin API")
			if err := adminServer.Serve(adminListener); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutdown signal received")

		drainCtx := context.Background()
		if d := cfg.DrainTimeout.Duration(); d > 0 {
			var cancel context.CancelFunc
			drainCtx, cancel = context.WithTimeout(drainCtx, d)
			defer cancel()
		}

		if adminServer != nil {
			if err := adminServer.Shutdown(drainCtx); err != nil {
				log.WithError(err).Error("Error shutting down admin API")
			}
		}

		if err := l4.Shutdown(drainCtx); err != nil {
			log.WithError(err).WithField("active_sessions", l4.ActiveSessions()).Warn("Drain timeout exceeded, closing remaining sessions")
		}
		return nil
	})

	return g.Wait()
}

func newAdminServer(cfg *config.Config, pool *service.Pool, l4 *handler.L4Handler, metrics *service.Metrics, log *logger.Logger) (*http.Server, error) {
	adminConfig := handler.AdminConfig{
		MetricsPath: cfg.Metrics.Path,
	}
	if metrics != nil {
		adminConfig.MetricsHandler = metrics.Handler()
	}
	if cfg.AdminAPI.RateLimit.Enabled {
		adminConfig.RateLimiter = middleware.NewRateLimiter(cfg.AdminAPI.RateLimit, log)
	}
	if cfg.AdminAPI.Auth.Enabled {
		auth, err := middleware.NewJWTAuthMiddleware(cfg.AdminAPI.Auth, log)
		if err != nil {
			return nil, err
		}
		adminConfig.Auth = auth
	}

	admin := handler.NewAdminHandler(pool, l4, adminConfig, log)

	return &http.Server{
		Handler:           admin.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}, nil
}
