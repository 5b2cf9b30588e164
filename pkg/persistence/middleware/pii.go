package middleware

import (
	"context"
	"regexp"

	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/ports"
)

// Mask replaces redacted attribute values in the store.
const Mask = "***"

type piiMiddleware struct {
	ports.Store
	patterns []*regexp.Regexp
}

// NewPIIMiddleware creates a middleware that masks values of attributes whose
// name matches one of the patterns before they reach the store. Such
// attributes live only in the node's memory; a reload sees the mask.
func NewPIIMiddleware(patternStrings []string) Middleware {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		patterns[i] = regexp.MustCompile(p)
	}
	return func(next ports.Store) ports.Store {
		return &piiMiddleware{Store: next, patterns: patterns}
	}
}

func (m *piiMiddleware) Create(ctx context.Context, rec domain.Record) error {
	return m.Store.Create(ctx, m.mask(rec))
}

func (m *piiMiddleware) Save(ctx context.Context, rec domain.Record) (int64, error) {
	return m.Store.Save(ctx, m.mask(rec))
}

// mask returns a copy so the in-memory record used by the cache is never modified.
func (m *piiMiddleware) mask(rec domain.Record) domain.Record {
	masked := make(map[string][]byte, len(rec.Attributes))
	for name, value := range rec.Attributes {
		masked[name] = value
		for _, p := range m.patterns {
			if p.MatchString(name) {
				masked[name] = []byte(Mask)
				break
			}
		}
	}
	rec.Attributes = masked
	return rec
}
