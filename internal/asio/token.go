package asio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shaiso/asioctl/internal/telemetry"
)

const (
	// tokenExpiryMargin вычитается из объявленного сервером времени
	// жизни токена, чтобы не ловить гонку с запросами в полёте.
	tokenExpiryMargin = 30 * time.Second

	// defaultExpiresIn применяется, когда ответ не содержит expires_in.
	defaultExpiresIn = 3600
)

// AuthToken — bearer token с моментом истечения.
//
// Живёт ровно один на клиент; при обновлении заменяется целиком,
// на месте не мутируется.
type AuthToken struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Expired возвращает true, когда токен уже нельзя предъявлять.
func (t *AuthToken) Expired() bool {
	return t.expiredAt(time.Now())
}

func (t *AuthToken) expiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// TokenManager владеет обменом client credentials и кэшем токена.
//
// Инвариант: истёкший токен никогда не уходит в запрос — обновление
// происходит синхронно до зависимого запроса.
type TokenManager struct {
	endpoint     string
	clientID     string
	clientSecret string
	scopes       []string

	httpClient *http.Client
	login      Recorder
	httpRec    Recorder
	now        func() time.Time

	token *AuthToken
}

// Token возвращает закэшированный токен либо выполняет обмен.
//
// Ошибки обмена (не-429 статус, тело без access_token) приходят как
// *AuthError; HTTP 429 пробрасывается как *RateLimitError и кэш
// при этом не трогает.
func (m *TokenManager) Token(ctx context.Context) (*AuthToken, error) {
	if m.token != nil && !m.token.expiredAt(m.now()) {
		return m.token, nil
	}

	data, err := m.Exchange(ctx, m.scopes)
	if err != nil {
		var rl *RateLimitError
		if errors.As(err, &rl) {
			return nil, err
		}
		return nil, &AuthError{Message: "token exchange failed", Err: err}
	}

	access, _ := data["access_token"].(string)
	if access == "" {
		return nil, &AuthError{Message: "token exchange failed", Err: ErrMalformedToken}
	}

	ttl := time.Duration(coerceExpiresIn(data["expires_in"]))*time.Second - tokenExpiryMargin
	if ttl < 0 {
		ttl = 0
	}

	m.token = &AuthToken{
		AccessToken: access,
		ExpiresAt:   m.now().Add(ttl),
	}
	return m.token, nil
}

// Exchange выполняет один обмен client credentials на токен,
// минуя кэш. Используется и для обычной аутентификации, и для
// scope-проб (каждая проба — свежий запрос).
//
// Возвращает сырое тело ответа. 429 → *RateLimitError, прочие
// не-2xx → *HTTPError с телом ответа.
func (m *TokenManager) Exchange(ctx context.Context, scopes []string) (map[string]any, error) {
	payload := map[string]any{
		"grant_type":    "client_credentials",
		"client_id":     m.clientID,
		"client_secret": m.clientSecret,
	}
	if scopeStr := joinScopes(scopes); scopeStr != "" {
		payload["scope"] = scopeStr
	}

	masked := make(map[string]any, len(payload))
	for k, v := range payload {
		masked[k] = v
	}
	if secret, ok := masked["client_secret"].(string); ok && secret != "" {
		masked["client_secret"] = MaskSecret(secret)
	}

	m.recordLogin("POST "+m.endpoint, masked)
	headers := map[string]string{"Content-Type": "application/json"}
	recordRequest(m.httpRec, http.MethodPost, m.endpoint, headers, nil, masked)

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	telemetry.TokenExchanges.Inc()
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}

	m.recordLogin("token endpoint response status", resp.StatusCode)
	recordResponse(m.httpRec, resp, respBody)

	if resp.StatusCode == http.StatusTooManyRequests {
		telemetry.RateLimited.Inc()
		return nil, &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var data map[string]any
	if err := json.Unmarshal(respBody, &data); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}

	m.recordLogin("token endpoint response body", MaskJSON(data))
	return data, nil
}

func (m *TokenManager) recordLogin(event string, payload any) {
	if m.login == nil {
		return
	}
	m.login.Record(event, payload)
}

// joinScopes собирает scope string: пробельные артефакты срезаются,
// пустые элементы выбрасываются.
func joinScopes(scopes []string) string {
	cleaned := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if s = strings.TrimSpace(s); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	return strings.Join(cleaned, " ")
}

// coerceExpiresIn приводит expires_in к секундам. Ответы платформы
// не стабильны в типах: встречаются числа и числовые строки.
func coerceExpiresIn(value any) int {
	switch v := value.(type) {
	case nil:
		return defaultExpiresIn
	case float64:
		return int(v)
	case int:
		return v
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return defaultExpiresIn
		}
		return n
	default:
		return defaultExpiresIn
	}
}
