package idempotency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/charterdesk/charterdesk/internal/platform/httpx"
)

// Header is the request header clients use to make a POST safe to retry.
const Header = "Idempotency-Key"

const maxKeyLength = 128

// ErrConflict indicates the key was already claimed.
var ErrConflict = errors.New("idempotent request already processed")

// Store persists claimed keys in Redis.
type Store struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewStore constructs the store. Keys expire after ttl.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{client: client, ttl: ttl, prefix: "charterdesk:idem:"}
}

// Claim records key under scope and fails with ErrConflict when it already exists.
func (s *Store) Claim(ctx context.Context, scope, key string) error {
	if s == nil || s.client == nil {
		return errors.New("idempotency store not initialised")
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	ok, err := s.client.SetNX(ctx, s.redisKey(scope, key), time.Now().UTC().Format(time.RFC3339), s.ttl).Result()
	if err != nil {
		return fmt.Errorf("idempotency: claim: %w", err)
	}
	if !ok {
		return ErrConflict
	}
	return nil
}

// Release removes a key, used to roll back failed processing.
func (s *Store) Release(ctx context.Context, scope, key string) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Del(ctx, s.redisKey(scope, key)).Err()
}

func (s *Store) redisKey(scope, key string) string {
	return s.prefix + scope + ":" + key
}

// Middleware guards POST requests carrying the Idempotency-Key header. A repeated
// key answers 409. The claim is released when the handler fails with a 5xx so
// the client can retry.
func Middleware(store *Store, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(Header))
			if store == nil || r.Method != http.MethodPost || key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxKeyLength {
				httpx.Problem(w, http.StatusBadRequest, "Bad Request", Header+" is too long")
				return
			}
			scope := r.URL.Path
			if err := store.Claim(r.Context(), scope, key); err != nil {
				if errors.Is(err, ErrConflict) {
					httpx.Problem(w, http.StatusConflict, "Conflict", "request with this "+Header+" was already processed")
					return
				}
				// Redis trouble must not block writes.
				logger.Warn("idempotency claim failed", slog.Any("error", err))
				next.ServeHTTP(w, r)
				return
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			if ww.Status() >= http.StatusInternalServerError {
				if err := store.Release(context.WithoutCancel(r.Context()), scope, key); err != nil {
					logger.Warn("idempotency release failed", slog.Any("error", err))
				}
			}
		})
	}
}
