package session

import (
	"crypto/rand"
	"io"
	"log/slog"

	"github.com/aretw0/lattice/internal/logging"
	"github.com/aretw0/lattice/pkg/observability"
	"github.com/jonboulle/clockwork"
)

// options holds the collaborators shared by every component of the package.
type options struct {
	logger  *slog.Logger
	clock   clockwork.Clock
	metrics *observability.Metrics
	random  io.Reader
}

// Option configures a Cache, IDManager, Scavenger or Manager.
type Option func(*options)

// WithLogger configures a logger for internal events.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock injects the time source.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithRandom replaces the entropy source used for session ids.
func WithRandom(r io.Reader) Option {
	return func(o *options) {
		o.random = r
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger: logging.NewNop(), // Default to no-op
		clock:  clockwork.NewRealClock(),
		random: rand.Reader,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
