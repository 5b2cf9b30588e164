package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/aretw0/lattice/internal/config"
	"github.com/aretw0/lattice/internal/logging"
	"github.com/aretw0/lattice/pkg/adapters/file"
	"github.com/aretw0/lattice/pkg/adapters/memory"
	redisAdapter "github.com/aretw0/lattice/pkg/adapters/redis"
	"github.com/aretw0/lattice/pkg/observability"
	"github.com/aretw0/lattice/pkg/persistence/middleware"
	"github.com/aretw0/lattice/pkg/ports"
	"github.com/aretw0/lattice/pkg/session"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
)

// app holds everything one node needs, built from the loaded configuration.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics

	store      ports.Store
	membership ports.Membership
	// heartbeat is set when membership must be kept alive by this process.
	heartbeat *redisAdapter.Membership
	manager   *session.Manager

	closers []func() error
}

func newApp(c config.Config) (*app, error) {
	level, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	if c.NodeID == "" {
		c.NodeID = uuid.NewString()
	}

	a := &app{
		cfg:      c,
		logger:   logging.New(level, c.Log.Format).With("node", c.NodeID),
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = observability.NewMetrics(a.registry)

	base, err := a.openBackend()
	if err != nil {
		return nil, err
	}

	mws, err := a.middlewares()
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.store = middleware.Chain(base, mws...)

	a.manager, err = session.NewManager(a.store, a.membership, c.Session(),
		session.WithLogger(a.logger),
		session.WithMetrics(a.metrics),
	)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) openBackend() (ports.Store, error) {
	switch a.cfg.Backend {
	case config.BackendRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		a.closers = append(a.closers, client.Close)

		prefix := a.cfg.Redis.Prefix
		if prefix == "" {
			prefix = redisAdapter.DefaultPrefix
		}
		hb := redisAdapter.NewMembership(client, a.cfg.NodeID, a.cfg.HeartbeatTTL(),
			redisAdapter.WithMembershipKey(prefix+"nodes"),
			redisAdapter.WithMembershipLogger(a.logger),
		)
		a.heartbeat = hb
		a.membership = hb
		return redisAdapter.NewFromClient(client, redisAdapter.WithPrefix(prefix)), nil

	case config.BackendFile:
		// A directory is shared by one host; only this node is known live.
		a.membership = memory.NewMembership(a.cfg.NodeID)
		return file.New(a.cfg.File.Dir, file.WithLogger(a.logger)), nil

	case config.BackendMemory:
		a.membership = memory.NewMembership(a.cfg.NodeID)
		return memory.NewStore(), nil
	}
	return nil, fmt.Errorf("unknown backend %q", a.cfg.Backend)
}

// middlewares returns the store decorators, outermost first.
func (a *app) middlewares() ([]middleware.Middleware, error) {
	mws := []middleware.Middleware{middleware.NewTracingMiddleware()}
	if len(a.cfg.PII.Patterns) > 0 {
		mws = append(mws, middleware.NewPIIMiddleware(a.cfg.PII.Patterns))
	}
	active, fallbacks, err := a.cfg.EncryptionKeys()
	if err != nil {
		return nil, err
	}
	if active != nil {
		mws = append(mws, middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
			ActiveKey:    active,
			FallbackKeys: fallbacks,
		}))
	}
	return append(mws, middleware.NewInstrumentationMiddleware(a.metrics)), nil
}

// Close releases backend connections.
func (a *app) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}
