package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cherry_chat/internal/model"
)

type (
	KV interface {
		Set(ctx context.Context, key string, value any, ttl time.Duration) error
		Get(ctx context.Context, key string) (string, bool, error)
		Del(ctx context.Context, key string) error
	}

	// KeyCache keeps derived key material between runs so the wallet is not asked to sign the
	// seed message on every start.
	KeyCache struct {
		kv  KV
		ttl time.Duration
	}

	cachedKeys struct {
		X25519Private []byte `json:"x25519_private"`
		X25519Public  []byte `json:"x25519_public"`
	}
)

func NewKeyCache(kv KV, ttl time.Duration) *KeyCache {
	return &KeyCache{kv: kv, ttl: ttl}
}

func keysKey(identity model.PublicKey) string {
	return fmt.Sprintf("keys:%s", identity)
}

func (c *KeyCache) Save(ctx context.Context, identity model.PublicKey, km *model.KeyMaterial) error {
	data, err := json.Marshal(cachedKeys{
		X25519Private: km.X25519Private[:],
		X25519Public:  km.X25519Public[:],
	})
	if err != nil {
		return err
	}
	return c.kv.Set(ctx, keysKey(identity), data, c.ttl)
}

// Load returns nil when nothing is cached for identity.
func (c *KeyCache) Load(ctx context.Context, identity model.PublicKey) (*model.KeyMaterial, error) {
	v, ok, err := c.kv.Get(ctx, keysKey(identity))
	if err != nil || !ok {
		return nil, err
	}

	var cached cachedKeys
	if err := json.Unmarshal([]byte(v), &cached); err != nil {
		return nil, fmt.Errorf("decode cached keys: %w", err)
	}
	if len(cached.X25519Private) != 32 || len(cached.X25519Public) != 32 {
		return nil, fmt.Errorf("cached keys of %s are malformed", identity)
	}

	var km model.KeyMaterial
	copy(km.X25519Private[:], cached.X25519Private)
	copy(km.X25519Public[:], cached.X25519Public)
	return &km, nil
}

func (c *KeyCache) Forget(ctx context.Context, identity model.PublicKey) error {
	return c.kv.Del(ctx, keysKey(identity))
}
