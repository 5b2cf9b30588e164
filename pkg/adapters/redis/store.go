package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strconv"
	"time"

	"github.com/aretw0/lattice/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// DefaultPrefix carries a hash tag so every key of one store lands in the
// same Redis Cluster slot, which the Lua scripts require.
const DefaultPrefix = "{lattice}:session:"

const defaultBatch = 100

// Store implements ports.Store using Redis as a distributed map.
type Store struct {
	client backend.UniversalClient
	prefix string
	batch  int
}

// Option configures the Store.
type Option func(*Store)

// WithPrefix sets the key prefix for sessions.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithBatchSize sets how many index entries a query fetches per round trip.
func WithBatchSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.batch = n
		}
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client backend.UniversalClient, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: DefaultPrefix,
		batch:  defaultBatch,
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

func (s *Store) key(id string) string {
	return s.prefix + "rec:" + id
}

func (s *Store) expiryKey() string {
	return s.prefix + "expiry"
}

func (s *Store) ownersKey() string {
	return s.prefix + "owners"
}

func (s *Store) ownerPrefix() string {
	return s.prefix + "owner:"
}

func unavailable(op string, err error) error {
	return fmt.Errorf("redis %s: %w: %w", op, domain.ErrStoreUnavailable, err)
}

// encode returns the argument shape shared by the create and save scripts.
func encode(rec domain.Record) (data []byte, accessed, ttl, score string, err error) {
	data, err = json.Marshal(rec)
	if err != nil {
		return nil, "", "", "", fmt.Errorf("failed to marshal record: %w", err)
	}
	accessed = strconv.FormatInt(rec.LastAccessedAt.UnixMilli(), 10)
	ttl = "-1"
	if rec.MaxInactiveInterval >= 0 {
		ttl = strconv.FormatInt(rec.MaxInactiveInterval.Milliseconds(), 10)
	}
	if exp, ok := rec.ExpiryScore(); ok {
		score = strconv.FormatInt(exp, 10)
	}
	return data, accessed, ttl, score, nil
}

// Load retrieves the record from Redis.
func (s *Store) Load(ctx context.Context, id string) (domain.Record, error) {
	vals, err := s.client.HMGet(ctx, s.key(id), "data", "version").Result()
	if err != nil {
		return domain.Record{}, unavailable("load", err)
	}
	data, ok := vals[0].(string)
	if !ok {
		return domain.Record{}, domain.ErrNotFound
	}

	var rec domain.Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return domain.Record{}, fmt.Errorf("failed to unmarshal record %s: %w", id, err)
	}
	if v, ok := vals[1].(string); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			rec.Version = n
		}
	}
	return rec, nil
}

// Create stores the record only if the id is free.
func (s *Store) Create(ctx context.Context, rec domain.Record) error {
	data, accessed, ttl, score, err := encode(rec)
	if err != nil {
		return err
	}
	keys := []string{s.key(rec.ID), s.expiryKey(), s.ownersKey()}
	res, err := createScript.Run(ctx, s.client, keys,
		rec.ID, data, rec.Version, rec.LastNode, accessed, ttl, score, s.ownerPrefix(),
	).Int64()
	if err != nil {
		return unavailable("create", err)
	}
	if res == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

// Save replaces the record if the stored version equals rec.Version.
func (s *Store) Save(ctx context.Context, rec domain.Record) (int64, error) {
	next := rec
	next.Version = rec.Version + 1
	data, accessed, ttl, score, err := encode(next)
	if err != nil {
		return 0, err
	}
	keys := []string{s.key(rec.ID), s.expiryKey(), s.ownersKey()}
	res, err := saveScript.Run(ctx, s.client, keys,
		rec.ID, rec.Version, data, rec.LastNode, accessed, ttl, score, s.ownerPrefix(),
	).Int64()
	if err != nil {
		return 0, unavailable("save", err)
	}
	switch res {
	case resultNotFound:
		return 0, domain.ErrNotFound
	case resultStale:
		return 0, domain.ErrStaleVersion
	}
	return res, nil
}

// Delete removes the record if the stored version equals expectedVersion.
func (s *Store) Delete(ctx context.Context, id string, expectedVersion int64) error {
	keys := []string{s.key(id), s.expiryKey(), s.ownersKey()}
	res, err := deleteScript.Run(ctx, s.client, keys, id, expectedVersion, s.ownerPrefix()).Int64()
	if err != nil {
		return unavailable("delete", err)
	}
	switch res {
	case resultNotFound:
		return domain.ErrNotFound
	case resultStale:
		return domain.ErrStaleVersion
	}
	return nil
}

// QueryExpiredBefore pages through the expiry index in score order.
// The cursor is the last (score, member) pair yielded, so removals made by the
// consumer between pages never cause entries to be skipped.
func (s *Store) QueryExpiredBefore(ctx context.Context, ts time.Time) iter.Seq2[domain.RecordRef, error] {
	return func(yield func(domain.RecordRef, error) bool) {
		maxScore := "(" + strconv.FormatInt(ts.UnixMilli(), 10)
		batch := s.batch
		started := false
		var curScore float64
		var curMember string

		for {
			minScore := "-inf"
			if started {
				minScore = strconv.FormatFloat(curScore, 'f', -1, 64)
			}
			zs, err := s.client.ZRangeByScoreWithScores(ctx, s.expiryKey(), &backend.ZRangeBy{
				Min:   minScore,
				Max:   maxScore,
				Count: int64(batch),
			}).Result()
			if err != nil {
				yield(domain.RecordRef{}, unavailable("query expired", err))
				return
			}

			fresh := make([]backend.Z, 0, len(zs))
			for _, z := range zs {
				member, _ := z.Member.(string)
				if started && z.Score == curScore && member <= curMember {
					continue
				}
				fresh = append(fresh, z)
			}
			if len(fresh) == 0 {
				if len(zs) < batch {
					return
				}
				// A full page of already-seen ties; widen the window.
				batch *= 2
				continue
			}

			ids := make([]string, 0, len(fresh))
			for _, z := range fresh {
				member, _ := z.Member.(string)
				ids = append(ids, member)
			}
			refs, err := s.refs(ctx, ids)
			if err != nil {
				yield(domain.RecordRef{}, err)
				return
			}
			for _, ref := range refs {
				if !yield(ref, nil) {
					return
				}
			}

			last := fresh[len(fresh)-1]
			curScore = last.Score
			curMember, _ = last.Member.(string)
			started = true
			if len(zs) < batch {
				return
			}
		}
	}
}

// QueryOwnedBy scans the owner sets of the given nodes.
func (s *Store) QueryOwnedBy(ctx context.Context, nodeIDs []string) iter.Seq2[domain.RecordRef, error] {
	return func(yield func(domain.RecordRef, error) bool) {
		for _, node := range nodeIDs {
			var cursor uint64
			for {
				ids, next, err := s.client.SScan(ctx, s.ownerPrefix()+node, cursor, "", int64(s.batch)).Result()
				if err != nil {
					yield(domain.RecordRef{}, unavailable("query owned", err))
					return
				}
				refs, err := s.refs(ctx, ids)
				if err != nil {
					yield(domain.RecordRef{}, err)
					return
				}
				for _, ref := range refs {
					if ref.LastNode != node {
						continue
					}
					if !yield(ref, nil) {
						return
					}
				}
				cursor = next
				if cursor == 0 {
					break
				}
			}
		}
	}
}

// ListOwners returns the nodes that currently own at least one record.
func (s *Store) ListOwners(ctx context.Context) ([]string, error) {
	owners, err := s.client.SMembers(ctx, s.ownersKey()).Result()
	if err != nil {
		return nil, unavailable("list owners", err)
	}
	slices.Sort(owners)
	return owners, nil
}

// refs resolves index entries to projections in one pipeline.
// Entries whose hash vanished in the meantime are skipped.
func (s *Store) refs(ctx context.Context, ids []string) ([]domain.RecordRef, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*backend.SliceCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HMGet(ctx, s.key(id), "version", "node", "accessed", "ttl")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, backend.Nil) {
		return nil, unavailable("resolve refs", err)
	}

	out := make([]domain.RecordRef, 0, len(ids))
	for i, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			return nil, unavailable("resolve refs", err)
		}
		ref, ok := parseRef(ids[i], vals)
		if !ok {
			continue
		}
		out = append(out, ref)
	}
	return out, nil
}

func parseRef(id string, vals []any) (domain.RecordRef, bool) {
	if len(vals) != 4 {
		return domain.RecordRef{}, false
	}
	version, ok := parseInt(vals[0])
	if !ok {
		return domain.RecordRef{}, false
	}
	node, _ := vals[1].(string)
	accessed, _ := parseInt(vals[2])
	ttl, _ := parseInt(vals[3])

	maxInactive := domain.NeverExpires
	if ttl >= 0 {
		maxInactive = time.Duration(ttl) * time.Millisecond
	}
	return domain.RecordRef{
		ID:                  id,
		Version:             version,
		LastAccessedAt:      time.UnixMilli(accessed).UTC(),
		MaxInactiveInterval: maxInactive,
		LastNode:            node,
	}, true
}

func parseInt(v any) (int64, bool) {
	str, ok := v.(string)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(str, 10, 64)
	return n, err == nil
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
