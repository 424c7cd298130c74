package asio

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

// apiServer serves a token endpoint plus one API handler.
func apiServer(t *testing.T, path string, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-123456789abc",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc(path, handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := NewClient(testConfig(srv.URL), Options{HTTPClient: srv.Client()})
	return srv, client
}

func TestClient_AttachesBearerToken(t *testing.T) {
	var gotAuth string
	_, client := apiServer(t, "/api/platform/v1/company/companies", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.Header.Get("X-Request-ID") == "" {
			t.Error("X-Request-ID should be set")
		}
		w.Write([]byte(`{"companies":[]}`))
	})

	if _, err := client.Get(context.Background(), "/api/platform/v1/company/companies", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != "Bearer tok-123456789abc" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}

func TestClient_RateLimited(t *testing.T) {
	tests := []struct {
		name       string
		retryAfter string
		want       time.Duration
	}{
		{"numeric header", "3", 3 * time.Second},
		{"float header", "2.5", 2500 * time.Millisecond},
		{"missing header", "", time.Second},
		{"non-numeric header", "soon", time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, client := apiServer(t, "/api/thing", func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(http.StatusTooManyRequests)
			})

			_, err := client.Get(context.Background(), "/api/thing", nil)
			var rl *RateLimitError
			if !errors.As(err, &rl) {
				t.Fatalf("expected *RateLimitError, got %v", err)
			}
			if rl.RetryAfter != tt.want {
				t.Errorf("RetryAfter = %v, want %v", rl.RetryAfter, tt.want)
			}
		})
	}
}

func TestClient_HTTPError(t *testing.T) {
	_, client := apiServer(t, "/api/thing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"no such thing"}`))
	})

	_, err := client.Get(context.Background(), "/api/thing", nil)
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected *HTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d", httpErr.StatusCode)
	}
	if httpErr.Body != `{"message":"no such thing"}` {
		t.Errorf("Body = %q", httpErr.Body)
	}
}

func TestClient_EmptyBodyIsEmptyObject(t *testing.T) {
	_, client := apiServer(t, "/api/thing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	data, err := client.Get(context.Background(), "/api/thing", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	obj, ok := data.(map[string]any)
	if !ok || len(obj) != 0 {
		t.Errorf("empty body should decode to an empty object, got %#v", data)
	}
}

func TestClient_QueryParams(t *testing.T) {
	var gotQuery url.Values
	_, client := apiServer(t, "/api/thing", func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte(`[]`))
	})

	params := url.Values{}
	params.Set("limit", "5")
	if _, err := client.Get(context.Background(), "/api/thing", params); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotQuery.Get("limit") != "5" {
		t.Errorf("query = %v", gotQuery)
	}
}

func TestClient_RecorderSeesMaskedAuthorization(t *testing.T) {
	_, client := apiServer(t, "/api/thing", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok-123456789abc"}`))
	})

	var requests, responses []map[string]any
	client.SetHTTPRecorder(RecorderFunc(func(event string, payload any) {
		m, ok := payload.(map[string]any)
		if !ok {
			return
		}
		switch event {
		case "REQUEST":
			requests = append(requests, m)
		case "RESPONSE":
			responses = append(responses, m)
		}
	}))

	if _, err := client.Get(context.Background(), "/api/thing", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(requests) == 0 || len(responses) == 0 {
		t.Fatal("recorder should see request and response snapshots")
	}

	// The API request snapshot (last) carries a masked bearer header
	reqHeaders := requests[len(requests)-1]["headers"].(map[string]string)
	if reqHeaders["Authorization"] != "Bearer "+MaskToken("tok-123456789abc") {
		t.Errorf("Authorization = %q", reqHeaders["Authorization"])
	}

	// JSON response bodies run through MaskJSON
	respBody := responses[len(responses)-1]["body"].(map[string]any)
	if respBody["access_token"] != MaskToken("tok-123456789abc") {
		t.Errorf("response access_token not masked: %v", respBody["access_token"])
	}
}

func TestClient_RecorderMasksBodyWithoutContentType(t *testing.T) {
	// The handler never sets Content-Type; net/http sniffs JSON text
	// as text/plain. Token bodies must still reach the recorder
	// masked.
	_, client := apiServer(t, "/api/thing", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"tok-123456789abc"}`))
	})

	var bodies []any
	client.SetHTTPRecorder(RecorderFunc(func(event string, payload any) {
		if event != "RESPONSE" {
			return
		}
		if m, ok := payload.(map[string]any); ok {
			bodies = append(bodies, m["body"])
		}
	}))

	if _, err := client.Get(context.Background(), "/api/thing", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bodies) == 0 {
		t.Fatal("recorder should see the response body")
	}
	body, ok := bodies[len(bodies)-1].(map[string]any)
	if !ok {
		t.Fatalf("body should decode despite the content type, got %#v", bodies[len(bodies)-1])
	}
	if body["access_token"] != MaskToken("tok-123456789abc") {
		t.Errorf("access_token not masked: %v", body["access_token"])
	}
}

func TestClient_TokenRenewalIsTransparent(t *testing.T) {
	calls := 0
	_, client := apiServer(t, "/api/thing", func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{}`))
	})

	// Two calls, one token exchange behind the scenes
	for i := 0; i < 2; i++ {
		if _, err := client.Get(context.Background(), "/api/thing", nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if calls != 2 {
		t.Errorf("API calls = %d, want 2", calls)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter("3"); got != 3*time.Second {
		t.Errorf("parseRetryAfter(3) = %v", got)
	}
	if got := parseRetryAfter(""); got != time.Second {
		t.Errorf("parseRetryAfter(empty) = %v", got)
	}
	if got := parseRetryAfter("abc"); got != time.Second {
		t.Errorf("parseRetryAfter(abc) = %v", got)
	}
	if got := parseRetryAfter("0.5"); got != 500*time.Millisecond {
		t.Errorf("parseRetryAfter(0.5) = %v", got)
	}
}

func TestClampWait(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want time.Duration
	}{
		{0, time.Second},
		{-2 * time.Second, time.Second},
		{300 * time.Millisecond, time.Second},
		{time.Second, time.Second},
		{2500 * time.Millisecond, 3 * time.Second},
	}
	for _, tt := range tests {
		if got := ClampWait(tt.in); got != tt.want {
			t.Errorf("ClampWait(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestListUnder(t *testing.T) {
	wrapped := map[string]any{"companies": []any{
		map[string]any{"id": "1"},
		"not-an-object",
		map[string]any{"id": "2"},
	}}
	got := listUnder(wrapped, "companies")
	if len(got) != 2 || got[0]["id"] != "1" || got[1]["id"] != "2" {
		t.Errorf("listUnder wrapped = %v", got)
	}

	raw := []any{map[string]any{"id": "3"}}
	got = listUnder(raw, "companies")
	if len(got) != 1 || got[0]["id"] != "3" {
		t.Errorf("listUnder raw array = %v", got)
	}

	if got := listUnder(map[string]any{"other": 1}, "companies"); got != nil {
		t.Errorf("listUnder missing key = %v", got)
	}
	if got := listUnder("scalar", "companies"); got != nil {
		t.Errorf("listUnder scalar = %v", got)
	}
}
