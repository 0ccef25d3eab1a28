package session

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"
)

const (
	DefaultCookieName = "_sid"
	keyPrefix         = "session:"
)

var (
	ErrSessionNotFound = errors.New("session_not_found")
	ErrStoreDisabled   = errors.New("session_store_disabled")
)

// Session is the record written by the login service. This package only
// reads it.
type Session struct {
	AccountID snowflake.ID `json:"account_id"`
	Role      string       `json:"role"`
	ExpiresAt time.Time    `json:"expires_at"`
}

type reader interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// Store resolves bearer tokens and session cookies against redis.
type Store struct {
	client     reader
	cookieName string
	now        func() time.Time
}

func NewStore(client *redis.Client) *Store {
	s := &Store{cookieName: DefaultCookieName, now: time.Now}
	if client != nil {
		s.client = client
	}
	return s
}

// Key is the redis key for a raw token. Tokens are never stored in clear.
func Key(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// ReadToken takes the session cookie first, then an Authorization bearer.
func (s *Store) ReadToken(c *gin.Context) (string, bool) {
	if token, err := c.Cookie(s.cookieName); err == nil && strings.TrimSpace(token) != "" {
		return strings.TrimSpace(token), true
	}
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		if token := strings.TrimSpace(header[7:]); token != "" {
			return token, true
		}
	}
	return "", false
}

func (s *Store) Resolve(ctx context.Context, token string) (*Session, error) {
	if s == nil || s.client == nil {
		return nil, ErrStoreDisabled
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrSessionNotFound
	}

	raw, err := s.client.Get(ctx, Key(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, ErrSessionNotFound
	}
	if sess.AccountID == 0 {
		return nil, ErrSessionNotFound
	}
	if !sess.ExpiresAt.IsZero() && !s.now().Before(sess.ExpiresAt) {
		return nil, ErrSessionNotFound
	}
	return &sess, nil
}
