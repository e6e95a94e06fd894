// Package middleware provides HTTP middleware for the resolution server
package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type contextKey string

// operatorKey holds the name of the authenticated operator
const operatorKey contextKey = "operator"

// Redis key patterns
const (
	// #nosec G101 -- Redis key name, not a credential
	RedisAPIKeysHash = "vastplayer:api_keys" // hash: api_key -> operator
)

const (
	authCacheTimeout         = 5 * time.Minute
	authNegativeCacheTimeout = 30 * time.Second
)

// KeySource looks up API keys shared between instances
type KeySource interface {
	HGet(ctx context.Context, key, field string) (string, error)
}

// RedisKeySource reads API keys from a Redis hash
type RedisKeySource struct {
	client *redis.Client
}

// NewRedisKeySource wraps a go-redis client
func NewRedisKeySource(client *redis.Client) *RedisKeySource {
	return &RedisKeySource{client: client}
}

// HGet returns the operator of an API key
func (s *RedisKeySource) HGet(ctx context.Context, key, field string) (string, error) {
	return s.client.HGet(ctx, key, field).Result()
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	Enabled     bool
	APIKeys     map[string]string // key -> operator mapping (local fallback)
	HeaderName  string            // default: X-API-Key
	BypassPaths []string          // paths served without a key
}

// DefaultAuthConfig returns default auth configuration. Players call the
// resolve endpoints anonymously; diagnostics, admin and metrics need a key.
func DefaultAuthConfig() *AuthConfig {
	return &AuthConfig{
		Enabled:     true,
		APIKeys:     map[string]string{},
		HeaderName:  "X-API-Key",
		BypassPaths: []string{"/health", "/api/v1/resolve", "/api/v1/schedule"},
	}
}

// ParseAPIKeys parses API keys from the "key1:operator1,key2:operator2" format
func ParseAPIKeys(value string) map[string]string {
	keys := make(map[string]string)
	if value == "" {
		return keys
	}

	for _, pair := range strings.Split(value, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) == 2 {
			keys[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		} else if len(parts) == 1 && parts[0] != "" {
			keys[strings.TrimSpace(parts[0])] = "default"
		}
	}
	return keys
}

// AuthMetrics defines the metrics interface for auth middleware
type AuthMetrics interface {
	IncAuthFailures()
}

// Auth provides API key authentication middleware
type Auth struct {
	config  *AuthConfig
	source  KeySource
	metrics AuthMetrics
	mu      sync.RWMutex

	// Resolved keys; "" marks a known-invalid key
	keyCache *gocache.Cache
}

// NewAuth creates a new Auth middleware. source and m may be nil.
func NewAuth(config *AuthConfig, source KeySource, m AuthMetrics) *Auth {
	if config == nil {
		config = DefaultAuthConfig()
	}
	if config.HeaderName == "" {
		config.HeaderName = "X-API-Key"
	}
	return &Auth{
		config:   config,
		source:   source,
		metrics:  m,
		keyCache: gocache.New(authCacheTimeout, 10*time.Minute),
	}
}

// Middleware returns the authentication middleware handler
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.mu.RLock()
		enabled := a.config.Enabled
		bypassPaths := a.config.BypassPaths
		headerName := a.config.HeaderName
		a.mu.RUnlock()

		if !enabled || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		// Exact match or a path segment below, so /healthz does not match /health
		for _, path := range bypassPaths {
			if r.URL.Path == path || strings.HasPrefix(r.URL.Path, path+"/") {
				next.ServeHTTP(w, r)
				return
			}
		}

		apiKey := r.Header.Get(headerName)
		if apiKey == "" {
			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				apiKey = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		if apiKey == "" {
			a.recordAuthFailure()
			http.Error(w, `{"error":"missing API key"}`, http.StatusUnauthorized)
			return
		}

		operator, valid := a.validateKey(r.Context(), apiKey)
		if !valid {
			a.recordAuthFailure()
			http.Error(w, `{"error":"invalid API key"}`, http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), operatorKey, operator)))
	})
}

// validateKey checks an API key and returns the operator it belongs to
func (a *Auth) validateKey(ctx context.Context, key string) (string, bool) {
	if cached, found := a.keyCache.Get(key); found {
		operator := cached.(string)
		return operator, operator != ""
	}

	a.mu.RLock()
	source := a.source
	a.mu.RUnlock()

	if source != nil {
		operator, err := source.HGet(ctx, RedisAPIKeysHash, key)
		if err == nil && operator != "" {
			a.keyCache.Set(key, operator, gocache.DefaultExpiration)
			return operator, true
		}
		if err != nil && err != redis.Nil {
			log.Debug().Err(err).Msg("Shared API key lookup failed, falling back to local")
		}
	}

	var operator string
	var found bool
	a.mu.RLock()
	for validKey, op := range a.config.APIKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(validKey)) == 1 {
			operator, found = op, true
			break
		}
	}
	a.mu.RUnlock()

	if found {
		a.keyCache.Set(key, operator, gocache.DefaultExpiration)
		return operator, true
	}

	a.keyCache.Set(key, "", authNegativeCacheTimeout)
	return "", false
}

// AddAPIKey adds a new API key at runtime
func (a *Auth) AddAPIKey(key, operator string) {
	a.mu.Lock()
	if a.config.APIKeys == nil {
		a.config.APIKeys = make(map[string]string)
	}
	a.config.APIKeys[key] = operator
	a.mu.Unlock()

	a.keyCache.Set(key, operator, gocache.DefaultExpiration)
}

// RemoveAPIKey removes an API key at runtime
func (a *Auth) RemoveAPIKey(key string) {
	a.mu.Lock()
	delete(a.config.APIKeys, key)
	a.mu.Unlock()

	a.keyCache.Delete(key)
}

// ClearCache forgets every resolved key
func (a *Auth) ClearCache() {
	a.keyCache.Flush()
}

// SetEnabled enables or disables authentication
func (a *Auth) SetEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.config.Enabled = enabled
}

// IsEnabled returns whether authentication is enabled
func (a *Auth) IsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.config.Enabled
}

// OperatorFromContext returns the operator authenticated for a request
func OperatorFromContext(ctx context.Context) (string, bool) {
	op, ok := ctx.Value(operatorKey).(string)
	return op, ok
}

func (a *Auth) recordAuthFailure() {
	a.mu.RLock()
	m := a.metrics
	a.mu.RUnlock()
	if m != nil {
		m.IncAuthFailures()
	}
}
