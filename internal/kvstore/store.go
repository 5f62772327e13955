// Package kvstore provides the durable string key/value storage the caches persist into.
// Every backend gives atomic per-key reads and writes and is safe for concurrent use.
package kvstore

import (
	"context"
	"fmt"
	"path/filepath"

	apperrors "github.com/lcrostarosa/entitlements/internal/errors"
)

// Store is a durable string key/value store.
type Store interface {
	// Get returns the value for key, or apperrors.ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Put replaces the value for key.
	Put(ctx context.Context, key, value string) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys lists every key starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Backend names accepted in Config.Backend.
const (
	BackendMemory  = "memory"
	BackendFile    = "file"
	BackendLevelDB = "leveldb"
	BackendRedis   = "redis"
)

// Config selects and configures a backend.
type Config struct {
	Backend       string `json:"backend" yaml:"backend"`
	Path          string `json:"path,omitempty" yaml:"path,omitempty"`
	RedisAddr     string `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty"`
	RedisPassword string `json:"redis_password,omitempty" yaml:"redis_password,omitempty"`
	RedisDB       int    `json:"redis_db,omitempty" yaml:"redis_db,omitempty"`
	RedisPrefix   string `json:"redis_prefix,omitempty" yaml:"redis_prefix,omitempty"`
	// Passphrase enables at-rest encryption of values when set.
	Passphrase string `json:"passphrase,omitempty" yaml:"passphrase,omitempty"`
}

// Open builds the configured backend. dataDir is used for file based backends
// when Config.Path is empty.
func Open(ctx context.Context, cfg Config, dataDir string) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Backend {
	case "", BackendMemory:
		s = NewMemory()
	case BackendFile:
		path := cfg.Path
		if path == "" {
			path = filepath.Join(dataDir, "store.json")
		}
		s, err = NewFile(path)
	case BackendLevelDB:
		path := cfg.Path
		if path == "" {
			path = filepath.Join(dataDir, "leveldb")
		}
		s, err = NewLevelDB(path)
	case BackendRedis:
		var r *Redis
		r, err = NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
		if err == nil {
			if pingErr := r.Ping(ctx); pingErr != nil {
				_ = r.Close()
				return nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, pingErr)
			}
			s = r
		}
	default:
		return nil, fmt.Errorf("%w: unknown store backend %q", apperrors.ErrInvalidConfig, cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Passphrase != "" {
		enc, err := NewEncrypted(ctx, s, cfg.Passphrase)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		return enc, nil
	}
	return s, nil
}
