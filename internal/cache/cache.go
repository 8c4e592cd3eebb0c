// Package cache stores generated captions keyed by image digest so repeat
// uploads of the same image skip the model.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Store is a caption cache. Get reports found=false on a miss or an expired
// entry; errors are reserved for failures of the store itself.
type Store interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Close() error
}

type Config struct {
	Type      string // "memory", "redis" or "none"
	RedisAddr string
	RedisPass string
	RedisDB   int
	Prefix    string
}

// pingTimeout bounds the startup reachability check for remote stores.
const pingTimeout = 5 * time.Second

// New builds the store named by cfg.Type. "none" returns a nil Store, which
// callers treat as caching disabled. A redis store must answer a ping before
// New returns.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStore(), nil
	case "redis":
		s := NewRedisStore(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB, cfg.Prefix)
		ctx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if err := s.Ping(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("redis cache at %s: %w", s.client.Options().Addr, err)
		}
		return s, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// Key builds the cache key for an image captioned by one model in one mode.
func Key(captioner, model, mode string, image []byte) string {
	sum := sha256.Sum256(image)
	return fmt.Sprintf("%s:%s:%s:%s", captioner, model, mode, hex.EncodeToString(sum[:]))
}
