package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/lattice/internal/logging"
	"github.com/aretw0/lattice/pkg/domain"
)

const (
	docExt    = ".json"
	readBatch = 64
)

// Store implements ports.Store as a document store: one JSON document per
// record in a directory.
//
// Create is atomic across processes (hard link of a fully written temp file).
// Save and Delete compare versions under a process-wide mutex, so several
// managers in one process may share a directory safely; processes on
// different hosts should use a network backend instead.
type Store struct {
	BasePath string

	logger *slog.Logger
	mu     sync.Mutex
}

// ErrCorruptDocument marks a document that exists but cannot be decoded.
var ErrCorruptDocument = errors.New("corrupt session document")

// Option configures the Store.
type Option func(*Store)

// WithLogger reports documents skipped by queries.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a new Store with the given base path.
// If basePath is empty, it defaults to ".lattice/sessions".
func New(basePath string, opts ...Option) *Store {
	if basePath == "" {
		basePath = filepath.Join(".lattice", "sessions")
	}
	s := &Store{BasePath: basePath, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("%w: %q is not a valid document name", domain.ErrInvalidSessionID, id)
	}
	return filepath.Join(s.BasePath, id+docExt), nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("file %s: %w: %w", op, domain.ErrStoreUnavailable, err)
}

// Load retrieves the record document.
func (s *Store) Load(ctx context.Context, id string) (domain.Record, error) {
	p, err := s.path(id)
	if err != nil {
		return domain.Record{}, err
	}
	return readDoc(p)
}

// Create writes the document only if no document with that id exists.
func (s *Store) Create(ctx context.Context, rec domain.Record) error {
	dest, err := s.path(rec.ID)
	if err != nil {
		return err
	}
	tmpPath, err := s.writeTemp(rec)
	if err != nil {
		return err
	}
	defer os.Remove(tmpPath)

	// Link fails if dest exists, which gives create-if-absent semantics
	// without exposing a partially written document.
	if err := os.Link(tmpPath, dest); err != nil {
		if errors.Is(err, os.ErrExist) {
			return domain.ErrAlreadyExists
		}
		return unavailable("create", err)
	}
	return nil
}

// Save replaces the document when the stored version matches.
func (s *Store) Save(ctx context.Context, rec domain.Record) (int64, error) {
	dest, err := s.path(rec.ID)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := readDoc(dest)
	if err != nil {
		return 0, err
	}
	if cur.Version != rec.Version {
		return 0, domain.ErrStaleVersion
	}

	next := rec
	next.Version = cur.Version + 1
	tmpPath, err := s.writeTemp(next)
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmpPath)

	// Atomic Rename
	if err := os.Rename(tmpPath, dest); err != nil {
		return 0, unavailable("save", err)
	}
	return next.Version, nil
}

// Delete removes the document when the stored version matches.
func (s *Store) Delete(ctx context.Context, id string, expectedVersion int64) error {
	p, err := s.path(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := readDoc(p)
	if err != nil {
		return err
	}
	if cur.Version != expectedVersion {
		return domain.ErrStaleVersion
	}
	if err := os.Remove(p); err != nil {
		if os.IsNotExist(err) {
			return domain.ErrNotFound
		}
		return unavailable("delete", err)
	}
	return nil
}

// QueryExpiredBefore streams the directory and yields expired documents.
func (s *Store) QueryExpiredBefore(ctx context.Context, ts time.Time) iter.Seq2[domain.RecordRef, error] {
	return s.scan(ctx, func(r domain.Record) bool {
		exp, ok := r.Expiry()
		return ok && exp.Before(ts)
	})
}

// QueryOwnedBy streams the directory and yields documents owned by nodeIDs.
func (s *Store) QueryOwnedBy(ctx context.Context, nodeIDs []string) iter.Seq2[domain.RecordRef, error] {
	owners := domain.NewNodeSet(nodeIDs...)
	return s.scan(ctx, func(r domain.Record) bool {
		return owners.Contains(r.LastNode)
	})
}

// ListOwners scans every document for its owner hint.
func (s *Store) ListOwners(ctx context.Context) ([]string, error) {
	owners := make(domain.NodeSet)
	for ref, err := range s.scan(ctx, func(domain.Record) bool { return true }) {
		if err != nil {
			return nil, err
		}
		owners[ref.LastNode] = struct{}{}
	}
	return owners.Sorted(), nil
}

// scan reads directory entries in batches so large directories are never
// loaded whole. Documents removed mid-scan are skipped, and so are documents
// that cannot be decoded: one bad file must not stall every sweep.
func (s *Store) scan(ctx context.Context, match func(domain.Record) bool) iter.Seq2[domain.RecordRef, error] {
	return func(yield func(domain.RecordRef, error) bool) {
		dir, err := os.Open(s.BasePath)
		if err != nil {
			if os.IsNotExist(err) {
				return
			}
			yield(domain.RecordRef{}, unavailable("scan", err))
			return
		}
		defer dir.Close()

		for {
			entries, err := dir.ReadDir(readBatch)
			for _, entry := range entries {
				if ctxErr := ctx.Err(); ctxErr != nil {
					yield(domain.RecordRef{}, ctxErr)
					return
				}
				name := entry.Name()
				if entry.IsDir() || filepath.Ext(name) != docExt || strings.HasPrefix(name, "tmp-") {
					continue
				}
				rec, rerr := readDoc(filepath.Join(s.BasePath, name))
				if rerr != nil {
					if errors.Is(rerr, domain.ErrNotFound) {
						continue
					}
					if errors.Is(rerr, ErrCorruptDocument) {
						s.logger.Warn("Skipping undecodable session document", "file", name, "err", rerr)
						continue
					}
					yield(domain.RecordRef{}, rerr)
					return
				}
				if match(rec) && !yield(rec.Ref(), nil) {
					return
				}
			}
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(domain.RecordRef{}, unavailable("scan", err))
				return
			}
		}
	}
}

// writeTemp writes rec to a synced temp file in the store directory.
// We use the same directory to ensure we are on the same filesystem (required for atomic rename).
func (s *Store) writeTemp(rec domain.Record) (string, error) {
	if err := os.MkdirAll(s.BasePath, 0o755); err != nil {
		return "", unavailable("mkdir", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal record: %w", err)
	}

	tmpFile, err := os.CreateTemp(s.BasePath, "tmp-"+rec.ID+"-*")
	if err != nil {
		return "", unavailable("create temp", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return "", unavailable("write temp", err)
	}
	// Fsync to ensure durability
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return "", unavailable("fsync temp", err)
	}
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", unavailable("close temp", err)
	}
	return tmpPath, nil
}

func readDoc(p string) (domain.Record, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.Record{}, domain.ErrNotFound
		}
		return domain.Record{}, unavailable("read", err)
	}
	var rec domain.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.Record{}, fmt.Errorf("%w %s: %w", ErrCorruptDocument, filepath.Base(p), err)
	}
	return rec, nil
}
