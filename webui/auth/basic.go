package auth

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Config configures BasicAuth.
type Config struct {
	// Realm is sent in the WWW-Authenticate challenge.
	Realm string

	// ExemptPaths are served without credentials.
	ExemptPaths []string

	// MaxAttempts failures within Window block a client for Block.
	MaxAttempts int
	Window      time.Duration
	Block       time.Duration
}

func DefaultConfig() Config {
	return Config{
		Realm:       "FastSD CPU",
		ExemptPaths: []string{"/health", "/metrics"},
		MaxAttempts: 5,
		Window:      15 * time.Minute,
		Block:       15 * time.Minute,
	}
}

// BasicAuth checks the password of HTTP basic credentials against a bcrypt
// hash. The user name is ignored.
type BasicAuth struct {
	hash    string
	realm   string
	exempt  map[string]bool
	limiter *Limiter
	logger  *zap.Logger
}

// NewBasicAuth fails with ErrInvalidHash when hash is not a bcrypt hash.
func NewBasicAuth(hash string, cfg Config, logger *zap.Logger) (*BasicAuth, error) {
	if err := ValidateHash(hash); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	exempt := make(map[string]bool, len(cfg.ExemptPaths))
	for _, p := range cfg.ExemptPaths {
		exempt[p] = true
	}
	return &BasicAuth{
		hash:    hash,
		realm:   cfg.Realm,
		exempt:  exempt,
		limiter: NewLimiter(cfg.MaxAttempts, cfg.Window, cfg.Block),
		logger:  logger,
	}, nil
}

// Limiter exposes the failed-attempt limiter so its cleanup can be scheduled.
func (a *BasicAuth) Limiter() *Limiter {
	return a.limiter
}

// Middleware rejects unauthenticated requests with 401, and clients that
// failed too often with 429.
func (a *BasicAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.exempt[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		ip := ClientIP(r)
		if ok, wait := a.limiter.Allow(ip); !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
			http.Error(w, "Too many failed attempts", http.StatusTooManyRequests)
			return
		}

		_, password, ok := r.BasicAuth()
		if !ok {
			a.challenge(w)
			return
		}
		if err := VerifyPassword(password, a.hash); err != nil {
			a.limiter.Fail(ip)
			a.logger.Warn("Web UI authentication failed", zap.String("remote_addr", ip))
			a.challenge(w)
			return
		}
		a.limiter.Reset(ip)
		next.ServeHTTP(w, r)
	})
}

func (a *BasicAuth) challenge(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="`+a.realm+`", charset="UTF-8"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

// ClientIP returns the first X-Forwarded-For address, X-Real-IP, or the
// host part of RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return host
}
