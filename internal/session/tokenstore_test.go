package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/heritage-console/internal/domain"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func storesUnderTest(t *testing.T) map[string]func() (*TokenStore, Storage, Storage) {
	return map[string]func() (*TokenStore, Storage, Storage){
		"memory": func() (*TokenStore, Storage, Storage) {
			d, e := NewMemoryStorage(), NewMemoryStorage()
			return NewTokenStore(d, e), d, e
		},
		"redis": func() (*TokenStore, Storage, Storage) {
			_, client := newTestRedis(t)
			d, e := NewRedisStorage(client, "console", time.Hour), NewMemoryStorage()
			return NewTokenStore(d, e), d, e
		},
	}
}

func assertTierEmpty(t *testing.T, s Storage) {
	t.Helper()
	ctx := context.Background()
	for _, k := range []string{TokenKey, UserKey, UserIDKey} {
		_, ok, err := s.Get(ctx, k)
		require.NoError(t, err)
		assert.False(t, ok, "key %s should be absent", k)
	}
}

func TestTokenStore_TierExclusivity(t *testing.T) {
	for name, build := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store, durable, ephemeral := build()
			user := adminProfile()

			require.NoError(t, store.Save(ctx, "tok-1", user, domain.TierDurable))
			assertTierEmpty(t, ephemeral)

			tok, tier, ok, err := store.Token(ctx)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "tok-1", tok)
			assert.Equal(t, domain.TierDurable, tier)

			require.NoError(t, store.Save(ctx, "tok-2", user, domain.TierEphemeral))
			assertTierEmpty(t, durable)

			active, ok, err := store.Tier(ctx)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, domain.TierEphemeral, active)

			tok, tier, _, err = store.Token(ctx)
			require.NoError(t, err)
			assert.Equal(t, "tok-2", tok)
			assert.Equal(t, domain.TierEphemeral, tier)

			cached, err := store.User(ctx)
			require.NoError(t, err)
			assert.Equal(t, user, cached)

			id, ok, err := store.UserID(ctx)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, int64(42), id)
		})
	}
}

func TestTokenStore_SetCarriesUserAcrossTiers(t *testing.T) {
	ctx := context.Background()
	store, durable, _ := storesUnderTest(t)["memory"]()

	require.NoError(t, store.Save(ctx, "tok-1", adminProfile(), domain.TierEphemeral))
	require.NoError(t, store.Set(ctx, "tok-2", domain.TierDurable))

	raw, ok, err := durable.Get(ctx, UserKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, raw, "leila@example.com")

	got, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", got)
}

func TestTokenStore_DurableReadFirst(t *testing.T) {
	ctx := context.Background()
	d, e := NewMemoryStorage(), NewMemoryStorage()
	store := NewTokenStore(d, e)

	// simulate a stale duplicate written by something other than Save
	require.NoError(t, e.Set(ctx, TokenKey, "ephemeral"))
	require.NoError(t, d.Set(ctx, TokenKey, "durable"))

	got, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "durable", got)
}

func TestTokenStore_Clear(t *testing.T) {
	for name, build := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store, durable, ephemeral := build()
			require.NoError(t, store.Save(ctx, "tok", adminProfile(), domain.TierDurable))
			require.NoError(t, store.Clear(ctx))

			assertTierEmpty(t, durable)
			assertTierEmpty(t, ephemeral)
			got, err := store.Get(ctx)
			require.NoError(t, err)
			assert.Empty(t, got)

			_, ok, err := store.Tier(ctx)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestTokenStore_UnknownUserShapeIsDropped(t *testing.T) {
	ctx := context.Background()
	d, e := NewMemoryStorage(), NewMemoryStorage()
	store := NewTokenStore(d, e)

	require.NoError(t, d.Set(ctx, TokenKey, "tok"))
	require.NoError(t, d.Set(ctx, UserKey, `{"email":"x@example.com","role":"ADMIN","menu":{"any":"thing"}}`))

	user, err := store.User(ctx)
	assert.ErrorIs(t, err, ErrUnknownShape)
	assert.Nil(t, user)

	_, ok, _ := d.Get(ctx, UserKey)
	assert.False(t, ok, "bad payload is removed")
}

func TestTokenStore_SaveUserNeedsToken(t *testing.T) {
	store, _, _ := storesUnderTest(t)["memory"]()
	err := store.SaveUser(context.Background(), adminProfile())
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestTokenStore_RedirectAttempt(t *testing.T) {
	ctx := context.Background()
	store, durable, _ := storesUnderTest(t)["memory"]()

	require.NoError(t, store.RememberAttempt(ctx, "/dashboard/reviews?page=2"))
	_, ok, _ := durable.Get(ctx, RedirectKey)
	assert.False(t, ok, "redirect url lives in the ephemeral tier only")

	url, ok, err := store.PopAttempt(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "/dashboard/reviews?page=2", url)

	_, ok, err = store.PopAttempt(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStorage_NamespaceAndTTL(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	s := NewRedisStorage(client, "console", time.Hour)

	require.NoError(t, s.Set(ctx, TokenKey, "tok"))
	assert.True(t, mr.Exists("console:auth_token"))
	assert.Equal(t, time.Hour, mr.TTL("console:auth_token"))

	mr.FastForward(2 * time.Hour)
	_, ok, err := s.Get(ctx, TokenKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDecodeProfile(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{name: "valid", raw: `{"id":1,"firstName":"A","lastName":"B","email":"a@example.com","role":"USER"}`},
		{name: "unknown field", raw: `{"email":"a@example.com","role":"USER","preferences":{}}`, wantErr: true},
		{name: "missing email", raw: `{"role":"USER"}`, wantErr: true},
		{name: "unknown role", raw: `{"email":"a@example.com","role":"GUIDE"}`, wantErr: true},
		{name: "not json", raw: `[]`, wantErr: true},
		{name: "trailing", raw: `{"email":"a@example.com","role":"USER"}{}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := DecodeProfile([]byte(tt.raw))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownShape)
				assert.Nil(t, p)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "a@example.com", p.Email)
		})
	}
}
