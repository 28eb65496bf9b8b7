package session

import (
	"context"
	"testing"
	"time"

	"cherry_chat/internal/model"

	"github.com/stretchr/testify/require"
)

type memKV struct {
	values map[string]string
	ttls   map[string]time.Duration
}

func newMemKV() *memKV {
	return &memKV{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memKV) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	switch v := value.(type) {
	case []byte:
		m.values[key] = string(v)
	case string:
		m.values[key] = v
	}
	m.ttls[key] = ttl
	return nil
}

func (m *memKV) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memKV) Del(_ context.Context, key string) error {
	delete(m.values, key)
	return nil
}

func TestKeyCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := newMemKV()
	cache := NewKeyCache(kv, time.Hour)

	var identity model.PublicKey
	identity[0] = 7
	km := &model.KeyMaterial{}
	km.X25519Private[1] = 1
	km.X25519Public[2] = 2

	got, err := cache.Load(ctx, identity)
	require.NoError(t, err)
	require.Nil(t, got)

	require.NoError(t, cache.Save(ctx, identity, km))
	require.Equal(t, time.Hour, kv.ttls[keysKey(identity)])

	got, err = cache.Load(ctx, identity)
	require.NoError(t, err)
	require.Equal(t, km, got)

	require.NoError(t, cache.Forget(ctx, identity))
	got, err = cache.Load(ctx, identity)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestKeyCacheRejectsMalformed(t *testing.T) {
	ctx := context.Background()
	kv := newMemKV()
	cache := NewKeyCache(kv, 0)

	var identity model.PublicKey
	kv.values[keysKey(identity)] = `{"x25519_private":"AQI=","x25519_public":"AQI="}`

	_, err := cache.Load(ctx, identity)
	require.Error(t, err)

	kv.values[keysKey(identity)] = `not json`
	_, err = cache.Load(ctx, identity)
	require.Error(t, err)
}
