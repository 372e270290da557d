package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func testHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	return string(hash)
}

func TestHashAndVerify(t *testing.T) {
	if _, err := HashPassword(""); !errors.Is(err, ErrEmptyPassword) {
		t.Errorf("HashPassword(\"\") error = %v", err)
	}
	if _, err := HashPasswordWithCost("pw", 4); err == nil {
		t.Error("HashPasswordWithCost(cost 4) error = nil")
	}

	hash, err := HashPasswordWithCost("secret", MinCost)
	if err != nil {
		t.Fatalf("HashPasswordWithCost() error = %v", err)
	}
	if err := VerifyPassword("secret", hash); err != nil {
		t.Errorf("VerifyPassword(correct) = %v", err)
	}
	if err := VerifyPassword("wrong", hash); !errors.Is(err, ErrPasswordMismatch) {
		t.Errorf("VerifyPassword(wrong) = %v", err)
	}
	if err := VerifyPassword("secret", ""); !errors.Is(err, ErrInvalidHash) {
		t.Errorf("VerifyPassword(empty hash) = %v", err)
	}
	if err := ValidateHash("plain"); !errors.Is(err, ErrInvalidHash) {
		t.Errorf("ValidateHash(plain) = %v", err)
	}
}

func TestLimiter(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewLimiter(3, time.Minute, 10*time.Minute)
	l.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		l.Fail("1.2.3.4")
	}
	if ok, _ := l.Allow("1.2.3.4"); !ok {
		t.Fatal("blocked before reaching the limit")
	}
	l.Fail("1.2.3.4")
	ok, wait := l.Allow("1.2.3.4")
	if ok || wait != 10*time.Minute {
		t.Errorf("Allow() = %v, %v; want blocked for 10m", ok, wait)
	}
	if ok, _ := l.Allow("5.6.7.8"); !ok {
		t.Error("other client blocked")
	}

	now = now.Add(11 * time.Minute)
	if ok, _ := l.Allow("1.2.3.4"); !ok {
		t.Error("still blocked after the block expired")
	}
	if n := l.Cleanup(); n != 1 {
		t.Errorf("Cleanup() = %d, want 1", n)
	}

	l.Fail("9.9.9.9")
	l.Reset("9.9.9.9")
	if n := l.Cleanup(); n != 0 {
		t.Errorf("Cleanup() after Reset = %d", n)
	}
}

func TestBasicAuth_Middleware(t *testing.T) {
	hash := testHash(t, "letmein")
	cfg := DefaultConfig()
	cfg.MaxAttempts = 2
	ba, err := NewBasicAuth(hash, cfg, nil)
	if err != nil {
		t.Fatalf("NewBasicAuth() error = %v", err)
	}
	h := ba.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(path, password string, withAuth bool) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "10.0.0.1:5555"
		if withAuth {
			req.SetBasicAuth("user", password)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	tests := []struct {
		name     string
		path     string
		password string
		withAuth bool
		want     int
	}{
		{"exempt health", "/health", "", false, http.StatusNoContent},
		{"exempt metrics", "/metrics", "", false, http.StatusNoContent},
		{"no credentials", "/api/status", "", false, http.StatusUnauthorized},
		{"correct password", "/api/status", "letmein", true, http.StatusNoContent},
		{"wrong password", "/api/status", "nope", true, http.StatusUnauthorized},
		{"second wrong password", "/api/status", "nope", true, http.StatusUnauthorized},
		{"blocked", "/api/status", "letmein", true, http.StatusTooManyRequests},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(tt.path, tt.password, tt.withAuth)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if rec.Code == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate challenge")
			}
		})
	}
}

func TestNewBasicAuth_InvalidHash(t *testing.T) {
	if _, err := NewBasicAuth("not-a-hash", DefaultConfig(), nil); !errors.Is(err, ErrInvalidHash) {
		t.Errorf("NewBasicAuth() error = %v", err)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		header map[string]string
		remote string
		want   string
	}{
		{"forwarded", map[string]string{"X-Forwarded-For": "1.1.1.1, 2.2.2.2"}, "3.3.3.3:1", "1.1.1.1"},
		{"real ip", map[string]string{"X-Real-IP": "4.4.4.4"}, "3.3.3.3:1", "4.4.4.4"},
		{"remote addr", nil, "3.3.3.3:1234", "3.3.3.3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			if got := ClientIP(req); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
