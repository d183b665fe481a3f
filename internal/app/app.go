// Package app builds the configured store, transport and library.
package app

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"classboard/internal/broadcast"
	"classboard/internal/config"
	"classboard/internal/library"
	"classboard/internal/logging"
	"classboard/internal/snapshot"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// OpenStore returns the configured snapshot store. SQL stores are migrated.
// The closer must be called when done.
func OpenStore(ctx context.Context, cfg *config.Config) (snapshot.Store, io.Closer, error) {
	switch cfg.StoreDriver {
	case "memory":
		return snapshot.NewMemoryStore(), nopCloser{}, nil

	case "sqlite3", "postgres":
		store, err := snapshot.OpenSQL(ctx, cfg.StoreDriver, cfg.StoreDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
		return store, store, nil

	case "http":
		return snapshot.NewHTTPStore(cfg.StoreDSN, nil), nopCloser{}, nil

	default:
		return nil, nil, errors.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// Transport returns the configured broadcast transport.
func Transport(ctx context.Context, cfg *config.Config, token string) (broadcast.Transport, io.Closer, error) {
	switch cfg.Transport {
	case "hub":
		return broadcast.NewHub(), nopCloser{}, nil

	case "redis":
		client, err := broadcast.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return broadcast.NewRedisTransport(client, logging.For("redis")), client, nil

	case "websocket":
		return broadcast.NewWebsocketTransport(cfg.RelayURL, token, logging.For("relay-client")), nopCloser{}, nil

	default:
		return nil, nil, errors.Errorf("unknown transport %q", cfg.Transport)
	}
}

// Library returns the export target for saved whiteboards.
func Library(cfg *config.Config) library.Library {
	if cfg.LibraryFormat == "pdf" {
		return library.PDF{Path: cfg.LibraryDir}
	}
	return library.Dir{Path: cfg.LibraryDir}
}
