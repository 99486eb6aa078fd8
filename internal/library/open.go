package library

import (
	"context"
	"fmt"
	"log/slog"
)

// OpenConfig selects and configures a backend.
type OpenConfig struct {
	Backend    string // file, mongo, memory
	Dir        string // file backend directory
	MongoURI   string
	Database   string
	Collection string
}

// Open builds a Library on the configured backend.
func Open(ctx context.Context, cfg OpenConfig, logger *slog.Logger) (*Library, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var backend Backend
	switch cfg.Backend {
	case "", "file":
		fb, err := NewFileBackend(cfg.Dir)
		if err != nil {
			return nil, err
		}
		backend = fb
	case "memory":
		backend = NewMemoryBackend()
	case "mongo":
		mb, err := NewMongoBackend(ctx, MongoConfig{
			URI:        cfg.MongoURI,
			Database:   cfg.Database,
			Collection: cfg.Collection,
		})
		if err != nil {
			return nil, err
		}
		backend = mb
	default:
		return nil, fmt.Errorf("unknown library backend %q", cfg.Backend)
	}

	logger.Info("library opened", "backend", cfg.Backend, "dir", cfg.Dir, "database", cfg.Database)
	return New(backend, logger), nil
}
