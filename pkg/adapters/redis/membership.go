package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aretw0/lattice/internal/logging"
	"github.com/aretw0/lattice/pkg/domain"
	"github.com/jonboulle/clockwork"
	backend "github.com/redis/go-redis/v9"
)

// Membership implements ports.Membership with heartbeats in a Redis ZSET.
// Each node scores itself with the time of its last heartbeat; a node is live
// while that score is younger than the TTL.
type Membership struct {
	client backend.UniversalClient
	key    string
	self   string
	ttl    time.Duration
	clock  clockwork.Clock
	logger *slog.Logger
}

// MembershipOption configures the Membership.
type MembershipOption func(*Membership)

// WithMembershipKey overrides the heartbeat ZSET key.
func WithMembershipKey(key string) MembershipOption {
	return func(m *Membership) {
		m.key = key
	}
}

// WithMembershipClock injects the clock used for heartbeat scores.
func WithMembershipClock(clock clockwork.Clock) MembershipOption {
	return func(m *Membership) {
		m.clock = clock
	}
}

// WithMembershipLogger configures a logger for heartbeat failures.
func WithMembershipLogger(logger *slog.Logger) MembershipOption {
	return func(m *Membership) {
		m.logger = logger
	}
}

// NewMembership creates a heartbeat membership for node self.
func NewMembership(client backend.UniversalClient, self string, ttl time.Duration, opts ...MembershipOption) *Membership {
	m := &Membership{
		client: client,
		key:    DefaultPrefix + "nodes",
		self:   self,
		ttl:    ttl,
		clock:  clockwork.NewRealClock(),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Heartbeat announces that self is alive now.
func (m *Membership) Heartbeat(ctx context.Context) error {
	score := float64(m.clock.Now().UnixMilli())
	if err := m.client.ZAdd(ctx, m.key, backend.Z{Score: score, Member: m.self}).Err(); err != nil {
		return fmt.Errorf("heartbeat: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// ListLive returns the nodes whose last heartbeat is within the TTL.
func (m *Membership) ListLive(ctx context.Context) (domain.NodeSet, error) {
	cutoff := m.clock.Now().Add(-m.ttl).UnixMilli()

	// Lazy Cleanup: drop nodes that stopped heartbeating.
	if err := m.client.ZRemRangeByScore(ctx, m.key, "-inf", "("+strconv.FormatInt(cutoff, 10)).Err(); err != nil {
		return nil, fmt.Errorf("prune members: %w: %w", domain.ErrStoreUnavailable, err)
	}

	nodes, err := m.client.ZRangeByScore(ctx, m.key, &backend.ZRangeBy{
		Min: strconv.FormatInt(cutoff, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list members: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return domain.NewNodeSet(nodes...), nil
}

// Leave removes self from the view immediately.
func (m *Membership) Leave(ctx context.Context) error {
	return m.client.ZRem(ctx, m.key, m.self).Err()
}

// Run heartbeats every TTL/3 until ctx is done, then leaves the cluster.
func (m *Membership) Run(ctx context.Context) error {
	if err := m.Heartbeat(ctx); err != nil {
		m.logger.Warn("Initial heartbeat failed", "node", m.self, "err", err)
	}

	ticker := m.clock.NewTicker(max(m.ttl/3, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := m.Leave(context.WithoutCancel(ctx)); err != nil {
				m.logger.Warn("Failed to leave cluster (entry will expire via TTL)", "node", m.self, "err", err)
			}
			return nil
		case <-ticker.Chan():
			if err := m.Heartbeat(ctx); err != nil {
				m.logger.Warn("Heartbeat failed", "node", m.self, "err", err)
			}
		}
	}
}
