// Package server wires the arena together: storage, the live game
// coordinator, matchmaking, the WebSocket transport, the REST request layer
// and periodic housekeeping.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/vovakirdan/xo-arena/internal/auth"
	"github.com/vovakirdan/xo-arena/internal/bot"
	"github.com/vovakirdan/xo-arena/internal/config"
	"github.com/vovakirdan/xo-arena/internal/matchmaking"
	"github.com/vovakirdan/xo-arena/internal/metrics"
	"github.com/vovakirdan/xo-arena/internal/multiplayer"
	"github.com/vovakirdan/xo-arena/internal/ratelimit"
	"github.com/vovakirdan/xo-arena/internal/scheduler"
	"github.com/vovakirdan/xo-arena/internal/storage"
	"github.com/vovakirdan/xo-arena/internal/transport/ws"
)

// The SQL store backs every collaborator interface.
var (
	_ multiplayer.GameStore = (*storage.Store)(nil)
	_ matchmaking.Games     = (*storage.Store)(nil)
	_ auth.GameLoader       = (*storage.Store)(nil)
	_ auth.Directory        = (*storage.Store)(nil)
)

// Server is a running arena instance.
type Server struct {
	cfg      config.Config
	logger   *log.Logger
	store    *storage.Store
	redis    *redis.Client // nil when running on in-memory state
	pool     *scheduler.Pool
	coord    *multiplayer.Coordinator
	queue    *matchmaking.Queue
	tokens   *auth.Validator
	gate     *auth.Gatekeeper
	limiter  ratelimit.Limiter
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	http     *http.Server
	jobs     []scheduler.Task
}

// New builds a server from cfg. Nothing runs until Start.
func New(cfg config.Config, logger *log.Logger) (*Server, error) {
	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("server: auth.jwt_secret is required (set " + config.EnvJWTSecret + ")")
	}
	if logger == nil {
		logger = log.Default()
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = metrics.New(s.registry)

	store, err := storage.OpenDriver(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return nil, err
	}
	s.store = store

	var (
		queueStore matchmaking.QueueStore
		locker     matchmaking.Locker
	)
	if cfg.Redis.Enabled() {
		opts, err := cfg.Redis.Options()
		if err != nil {
			s.close()
			return nil, err
		}
		s.redis = redis.NewClient(opts)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = s.redis.Ping(ctx).Err()
		cancel()
		if err != nil {
			s.close()
			return nil, fmt.Errorf("server: cannot reach redis: %w", err)
		}
		queueStore = matchmaking.NewRedisStore(s.redis, cfg.Matchmaking.EntryTTL)
		locker = matchmaking.NewRedisLocker(s.redis)
		s.limiter = ratelimit.NewRedisLimiter(s.redis)
	} else {
		queueStore = matchmaking.NewMemoryStore()
		locker = matchmaking.NewMemoryLocker()
		s.limiter = ratelimit.NewMemoryLimiter()
	}

	pool, err := scheduler.NewPool(cfg.Game.Workers)
	if err != nil {
		s.close()
		return nil, err
	}
	s.pool = pool

	s.coord = multiplayer.NewCoordinator(multiplayer.CoordinatorConfig{
		TurnTimeout:      cfg.Game.TurnTimeout,
		TickInterval:     cfg.Game.TickInterval,
		ReconnectWindow:  cfg.Game.ReconnectWindow,
		StaleTimerSweep:  cfg.Game.StaleTimerSweep,
		UnstartedTimeout: cfg.Game.UnstartedTimeout,
	}, store, multiplayer.NewSessionRegistry(), pool)
	s.coord.SetLogger(logger.WithPrefix("game"))
	s.coord.SetPolicy(bot.NewPolicy(cfg.Bot.PolicySeed()))
	s.coord.SetMetrics(s.metrics)

	s.queue = matchmaking.NewQueue(matchmaking.Config{
		LockTTL:      cfg.Matchmaking.LockTTL,
		BoardLockTTL: cfg.Matchmaking.BoardLockTTL,
		EntryTTL:     cfg.Matchmaking.EntryTTL,
	}, queueStore, locker, store)
	s.queue.SetLogger(logger.WithPrefix("matchmaking"))
	s.queue.SetMetrics(s.metrics)

	s.tokens = auth.NewValidator(cfg.Auth.JWTSecret)
	s.gate = auth.NewGatekeeper(s.tokens, store, store)
	s.gate.SetQueryParam(cfg.Auth.QueryParam)
	s.gate.SetLogger(logger.WithPrefix("auth"))

	s.http = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}
	return s, nil
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	wsHandler := ws.NewHandler(s.gate, s.coord, s.limiter)
	wsHandler.SetLogger(s.logger.WithPrefix("ws"))
	wsHandler.SetMetrics(s.metrics)
	wsHandler.SetLimits(ws.Limits{
		MaxPayload:        s.cfg.Limits.MaxPayload,
		MessagesPerMinute: s.cfg.Limits.MessagesPerMinute,
		MovesPerMinute:    s.cfg.Limits.MovesPerMinute,
	})

	api := &api{
		coord:  s.coord,
		queue:  s.queue,
		store:  s.store,
		bot:    s.cfg.Bot,
		logger: s.logger.WithPrefix("api"),
	}
	return newRouter(api, s.gate, wsHandler, s.registry)
}

// Tokens returns the validator, which can also mint tokens.
func (s *Server) Tokens() *auth.Validator {
	return s.tokens
}

// Start launches the coordinator sweeps and the periodic housekeeping jobs.
func (s *Server) Start() error {
	if err := s.coord.Start(); err != nil {
		return err
	}

	every := func(name string, d time.Duration, fn func(context.Context) (int, error)) error {
		task, err := s.pool.Every(d, func() {
			ctx, cancel := context.WithTimeout(context.Background(), d)
			defer cancel()
			n, err := fn(ctx)
			if err != nil {
				s.logger.Error("periodic job failed", "job", name, "err", err)
				return
			}
			if n > 0 {
				s.logger.Debug("periodic job", "job", name, "count", n)
			}
		})
		if err != nil {
			return fmt.Errorf("server: cannot schedule %s: %w", name, err)
		}
		s.jobs = append(s.jobs, task)
		return nil
	}

	if err := every("match-pending", s.cfg.Matchmaking.MatchInterval, s.queue.MatchPending); err != nil {
		return err
	}
	if err := every("expire-queue", s.cfg.Matchmaking.ExpireInterval, s.queue.ExpireStale); err != nil {
		return err
	}
	if mem, ok := s.limiter.(*ratelimit.MemoryLimiter); ok {
		err := every("prune-rate-limits", s.cfg.Limits.PruneInterval, func(context.Context) (int, error) {
			return mem.Prune(), nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// ListenAndServe starts the server and blocks until SIGINT or SIGTERM.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("server: cannot listen on %s: %w", s.cfg.Server.Addr, err)
	}
	return s.Serve(ln)
}

// Serve runs on ln until SIGINT or SIGTERM.
func (s *Server) Serve(ln net.Listener) error {
	if err := s.Start(); err != nil {
		ln.Close()
		return err
	}
	s.logger.Info("starting arena server", "address", ln.Addr().String(), "redis", s.redis != nil, "db", s.store.Driver())

	// Setup signal handling for graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(done)

	errc := make(chan error, 1)
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case <-done:
		s.logger.Info("shutting down...")
	case err := <-errc:
		if err != nil {
			s.logger.Error("server error", "error", err)
			s.Shutdown()
			return err
		}
	}
	return s.Shutdown()
}

// Shutdown gracefully stops the server. Live connections are closed, turn
// timers and housekeeping jobs are cancelled.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	err := s.http.Shutdown(ctx)
	for _, t := range s.jobs {
		t.Cancel()
	}
	s.jobs = nil
	s.coord.Stop()
	s.close()
	return err
}

func (s *Server) close() {
	if s.pool != nil {
		if err := s.pool.Stop(); err != nil {
			s.logger.Warn("cannot stop scheduler", "err", err)
		}
	}
	if s.redis != nil {
		s.redis.Close()
	}
	if s.store != nil {
		s.store.Close()
	}
}
