package config

import (
	"context"
	"fmt"
	"io"

	"peaccore/internal/spool"
	"peaccore/internal/spool/dedupepg"
	"peaccore/internal/spool/dedupesqlite"
)

// nopCloser adapts a value with no Close method to io.Closer, so callers
// can defer-close whatever OpenDedupeIndex returns uniformly.
type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// OpenDedupeIndex constructs the spool.DedupeIndex named by c.Backend. The
// returned io.Closer releases any resources the backend holds (a SQLite
// handle or a Postgres pool); memory backends return a no-op closer.
func (c DedupeConfig) OpenDedupeIndex(ctx context.Context) (spool.DedupeIndex, io.Closer, error) {
	switch c.Backend {
	case "", "memory":
		return spool.NewMemoryDedupeIndex(), nopCloser{}, nil
	case "sqlite":
		idx, err := dedupesqlite.Open(c.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("config: open sqlite dedupe index: %w", err)
		}
		return idx, idx, nil
	case "postgres":
		idx, err := dedupepg.Open(ctx, c.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("config: open postgres dedupe index: %w", err)
		}
		return idx, closerFunc(idx.Close), nil
	default:
		return nil, nil, fmt.Errorf("config: unknown dedupe backend %q", c.Backend)
	}
}

// closerFunc adapts a func() to io.Closer for backends (like dedupepg.Index)
// whose Close method has no error return.
type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}
