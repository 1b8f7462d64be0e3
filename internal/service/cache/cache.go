package cache

import (
	"context"
	"time"
)

// BytesCache stores raw bytes with a TTL. A miss is (nil, false, nil).
type BytesCache interface {
	GetBytes(ctx context.Context, key string) (b []byte, ok bool, err error)
	SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Layered reads through a short-lived local cache in front of a shared one.
type Layered struct {
	local  BytesCache
	remote BytesCache
	ttl    time.Duration
}

// NewLayered builds a read-through cache. Remote hits are kept locally for localTTL.
func NewLayered(local, remote BytesCache, localTTL time.Duration) *Layered {
	return &Layered{local: local, remote: remote, ttl: localTTL}
}

func (l *Layered) GetBytes(ctx context.Context, key string) ([]byte, bool, error) {
	if b, ok, _ := l.local.GetBytes(ctx, key); ok {
		return b, true, nil
	}
	b, ok, err := l.remote.GetBytes(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	_ = l.local.SetBytes(ctx, key, b, l.ttl)
	return b, true, nil
}

// SetBytes writes through to remote first.
func (l *Layered) SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := l.remote.SetBytes(ctx, key, value, ttl); err != nil {
		return err
	}
	localTTL := l.ttl
	if ttl > 0 && ttl < localTTL {
		localTTL = ttl
	}
	return l.local.SetBytes(ctx, key, value, localTTL)
}
