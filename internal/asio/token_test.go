package asio

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shaiso/asioctl/internal/config"
)

func testConfig(baseURL string) config.Config {
	return config.Config{
		BaseURL:      baseURL,
		ClientID:     "client-1",
		ClientSecret: "supersecretvalue",
		Scope:        "a.read b.read",
	}
}

func tokenServer(t *testing.T, exchanges *atomic.Int64, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/token", func(w http.ResponseWriter, r *http.Request) {
		exchanges.Add(1)
		handler(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestTokenManager_SingleExchangePerWindow(t *testing.T) {
	var exchanges atomic.Int64
	srv := tokenServer(t, &exchanges, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-aaaaaaaaaaaa",
			"expires_in":   3600,
		})
	})

	client := NewClient(testConfig(srv.URL), Options{HTTPClient: srv.Client()})
	tm := client.Tokens()

	first, err := tm.Token(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := tm.Token(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Two calls inside the same expiry window must not trigger two exchanges
	if got := exchanges.Load(); got != 1 {
		t.Errorf("exchanges = %d, want 1", got)
	}
	if first != second {
		t.Error("cached token should be returned as-is")
	}
	if first.AccessToken != "tok-aaaaaaaaaaaa" {
		t.Errorf("AccessToken = %q", first.AccessToken)
	}
}

func TestTokenManager_RenewsExpiredToken(t *testing.T) {
	var exchanges atomic.Int64
	srv := tokenServer(t, &exchanges, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-bbbbbbbbbbbb",
			"expires_in":   3600,
		})
	})

	client := NewClient(testConfig(srv.URL), Options{HTTPClient: srv.Client()})
	tm := client.Tokens()

	now := time.Now()
	tm.now = func() time.Time { return now }

	if _, err := tm.Token(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Jump past the advertised lifetime minus the safety margin
	now = now.Add(3600 * time.Second)
	if _, err := tm.Token(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := exchanges.Load(); got != 2 {
		t.Errorf("exchanges = %d, want 2", got)
	}
}

func TestTokenManager_ExpiryMargin(t *testing.T) {
	var exchanges atomic.Int64
	srv := tokenServer(t, &exchanges, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-cccccccccccc",
			"expires_in":   100,
		})
	})

	client := NewClient(testConfig(srv.URL), Options{HTTPClient: srv.Client()})
	tm := client.Tokens()

	now := time.Now()
	tm.now = func() time.Time { return now }

	tok, err := tm.Token(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := now.Add(70 * time.Second)
	if !tok.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v (lifetime minus 30s margin)", tok.ExpiresAt, want)
	}
}

func TestTokenManager_TinyLifetimeFloorsAtZero(t *testing.T) {
	var exchanges atomic.Int64
	srv := tokenServer(t, &exchanges, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-dddddddddddd",
			"expires_in":   10,
		})
	})

	client := NewClient(testConfig(srv.URL), Options{HTTPClient: srv.Client()})
	tm := client.Tokens()

	now := time.Now()
	tm.now = func() time.Time { return now }

	tok, err := tm.Token(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// TTL floors at zero, so the token is already expired
	if !tok.expiredAt(now) {
		t.Error("token with lifetime under the margin should be born expired")
	}
}

func TestTokenManager_MalformedBody(t *testing.T) {
	var exchanges atomic.Int64
	srv := tokenServer(t, &exchanges, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"expires_in": 3600})
	})

	client := NewClient(testConfig(srv.URL), Options{HTTPClient: srv.Client()})

	_, err := client.Tokens().Token(context.Background())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *AuthError, got %v", err)
	}
	if !errors.Is(err, ErrMalformedToken) {
		t.Errorf("expected ErrMalformedToken, got %v", err)
	}
}

func TestTokenManager_ErrorStatus(t *testing.T) {
	var exchanges atomic.Int64
	srv := tokenServer(t, &exchanges, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid_client"}`))
	})

	client := NewClient(testConfig(srv.URL), Options{HTTPClient: srv.Client()})

	_, err := client.Tokens().Token(context.Background())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *AuthError, got %v", err)
	}
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("AuthError should wrap the HTTP failure, got %v", err)
	}
}

func TestTokenManager_RateLimitedKeepsCache(t *testing.T) {
	var exchanges atomic.Int64
	var limited atomic.Bool
	srv := tokenServer(t, &exchanges, func(w http.ResponseWriter, r *http.Request) {
		if limited.Load() {
			w.Header().Set("Retry-After", "5")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-eeeeeeeeeeee",
			"expires_in":   3600,
		})
	})

	client := NewClient(testConfig(srv.URL), Options{HTTPClient: srv.Client()})
	tm := client.Tokens()

	now := time.Now()
	tm.now = func() time.Time { return now }

	if _, err := tm.Token(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Force renewal, but have the endpoint answer 429
	limited.Store(true)
	now = now.Add(time.Hour)

	_, err := tm.Token(context.Background())
	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("expected *RateLimitError, got %v", err)
	}
	if rl.RetryAfter != 5*time.Second {
		t.Errorf("RetryAfter = %v, want 5s", rl.RetryAfter)
	}

	// The previously cached token must not be cleared
	if tm.token == nil || tm.token.AccessToken != "tok-eeeeeeeeeeee" {
		t.Error("rate-limited exchange must not corrupt the cached token")
	}
}

func TestTokenManager_LoginRecorderMasksSecret(t *testing.T) {
	var exchanges atomic.Int64
	srv := tokenServer(t, &exchanges, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-ffffffffffff",
			"expires_in":   3600,
		})
	})

	var events []map[string]any
	rec := RecorderFunc(func(event string, payload any) {
		if m, ok := payload.(map[string]any); ok {
			events = append(events, m)
		}
	})

	client := NewClient(testConfig(srv.URL), Options{
		HTTPClient:    srv.Client(),
		LoginRecorder: rec,
	})
	if _, err := client.Tokens().Token(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(events) == 0 {
		t.Fatal("login recorder should receive events")
	}
	reqPayload := events[0]
	if reqPayload["client_secret"] != MaskSecret("supersecretvalue") {
		t.Errorf("client_secret not masked: %v", reqPayload["client_secret"])
	}
}

func TestCoerceExpiresIn(t *testing.T) {
	tests := []struct {
		in   any
		want int
	}{
		{nil, 3600},
		{float64(120), 120},
		{"90", 90},
		{" 45 ", 45},
		{"garbage", 3600},
		{true, 3600},
	}
	for _, tt := range tests {
		if got := coerceExpiresIn(tt.in); got != tt.want {
			t.Errorf("coerceExpiresIn(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestJoinScopes(t *testing.T) {
	got := joinScopes([]string{" a.read ", "", "b.write"})
	if got != "a.read b.write" {
		t.Errorf("joinScopes = %q", got)
	}
	if joinScopes(nil) != "" {
		t.Error("joinScopes(nil) should be empty")
	}
}
