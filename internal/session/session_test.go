package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type mapReader map[string]string

func (m mapReader) Get(ctx context.Context, key string) *redis.StringCmd {
	if v, ok := m[key]; ok {
		return redis.NewStringResult(v, nil)
	}
	return redis.NewStringResult("", redis.Nil)
}

type failingReader struct{}

func (failingReader) Get(ctx context.Context, key string) *redis.StringCmd {
	return redis.NewStringResult("", errors.New("connection refused"))
}

func newTestStore(r reader) *Store {
	return &Store{
		client:     r,
		cookieName: DefaultCookieName,
		now:        func() time.Time { return time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC) },
	}
}

func TestKeyHashesToken(t *testing.T) {
	key := Key("tok_123")
	require.Equal(t, key, Key("tok_123"))
	require.NotEqual(t, key, Key("tok_124"))
	require.Len(t, key, len(keyPrefix)+64)
	require.NotContains(t, key, "tok_123")
}

func TestResolve(t *testing.T) {
	store := newTestStore(mapReader{
		Key("live"):    `{"account_id":"42","role":"admin","expires_at":"2026-06-01T00:00:00Z"}`,
		Key("expired"): `{"account_id":"42","role":"member","expires_at":"2026-04-01T00:00:00Z"}`,
		Key("garbage"): `not json`,
	})
	ctx := context.Background()

	sess, err := store.Resolve(ctx, "live")
	require.NoError(t, err)
	require.EqualValues(t, 42, sess.AccountID)
	require.Equal(t, "admin", sess.Role)

	for _, token := range []string{"expired", "garbage", "missing", " "} {
		_, err := store.Resolve(ctx, token)
		require.ErrorIs(t, err, ErrSessionNotFound, token)
	}

	_, err = newTestStore(failingReader{}).Resolve(ctx, "live")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrSessionNotFound)

	_, err = NewStore(nil).Resolve(ctx, "live")
	require.ErrorIs(t, err, ErrStoreDisabled)
}

func TestReadToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := NewStore(nil)

	read := func(setup func(r *http.Request)) (string, bool) {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		setup(c.Request)
		return store.ReadToken(c)
	}

	token, ok := read(func(r *http.Request) { r.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "from-cookie"}) })
	require.True(t, ok)
	require.Equal(t, "from-cookie", token)

	token, ok = read(func(r *http.Request) { r.Header.Set("Authorization", "Bearer from-header") })
	require.True(t, ok)
	require.Equal(t, "from-header", token)

	_, ok = read(func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") })
	require.False(t, ok)
}
