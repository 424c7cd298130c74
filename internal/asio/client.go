package asio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/asioctl/internal/config"
	"github.com/shaiso/asioctl/internal/telemetry"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	maxResponseBody    = 10 * 1024 * 1024 // 10 MB
)

// Client — клиент Asio REST API.
//
// Отвечает за выполнение одиночного запроса: токен (с прозрачным
// обновлением), bearer-заголовок, распознавание 429 и разбор тела.
// Ожидание после 429 клиенту не принадлежит — сигнал RateLimitError
// всегда уходит вызывающей стороне.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     *TokenManager
	httpRec    Recorder
}

// Options — необязательные зависимости клиента.
type Options struct {
	// LoginRecorder получает маскированные события обмена токена.
	LoginRecorder Recorder

	// HTTPRecorder получает маскированные снапшоты запросов/ответов.
	HTTPRecorder Recorder

	// HTTPClient подменяет транспорт (тесты). По умолчанию клиент
	// с таймаутом 30s.
	HTTPClient *http.Client
}

// NewClient создаёт клиент для платформы из cfg.
func NewClient(cfg config.Config, opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		httpRec:    opts.HTTPRecorder,
	}
	c.tokens = &TokenManager{
		endpoint:     cfg.TokenEndpoint(),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		scopes:       cfg.Scopes(),
		httpClient:   httpClient,
		login:        opts.LoginRecorder,
		httpRec:      opts.HTTPRecorder,
		now:          time.Now,
	}
	return c
}

// Tokens возвращает менеджер токенов клиента (scope discovery
// ходит через его Exchange напрямую, мимо кэша).
func (c *Client) Tokens() *TokenManager {
	return c.tokens
}

// SetHTTPRecorder включает или выключает (nil) HTTP-снапшоты
// на лету. Затрагивает и обмены токена.
func (c *Client) SetHTTPRecorder(rec Recorder) {
	c.httpRec = rec
	c.tokens.httpRec = rec
}

// Do выполняет один запрос к платформе и возвращает декодированный
// JSON (объект либо массив). Пустое тело — пустой объект, не ошибка.
//
// 429 → *RateLimitError, прочие не-2xx → *HTTPError.
func (c *Client) Do(ctx context.Context, method, path string, params url.Values, body any) (any, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	reqURL := c.buildURL(path)
	if len(params) > 0 {
		reqURL = reqURL + "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	headers := map[string]string{
		"Authorization": "Bearer " + token.AccessToken,
		"Accept":        "application/json",
	}
	recordRequest(c.httpRec, method, reqURL, headers, params, body)

	telemetry.APIRequests.WithLabelValues(method).Inc()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	recordResponse(c.httpRec, resp, respBody)

	if resp.StatusCode == http.StatusTooManyRequests {
		telemetry.RateLimited.Inc()
		return nil, &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if len(bytes.TrimSpace(respBody)) == 0 {
		return map[string]any{}, nil
	}

	var data any
	if err := json.Unmarshal(respBody, &data); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return data, nil
}

// Get выполняет GET-запрос.
func (c *Client) Get(ctx context.Context, path string, params url.Values) (any, error) {
	return c.Do(ctx, http.MethodGet, path, params, nil)
}

// Post выполняет POST-запрос с JSON-телом.
func (c *Client) Post(ctx context.Context, path string, body any) (any, error) {
	return c.Do(ctx, http.MethodPost, path, nil, body)
}

func (c *Client) buildURL(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

// parseRetryAfter читает заголовок Retry-After как число секунд
// (целое или дробное). Отсутствующее или нечисловое значение — 1.0.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return time.Second
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(header), 64)
	if err != nil {
		return time.Second
	}
	return time.Duration(secs * float64(time.Second))
}

// recordRequest отправляет маскированный снапшот запроса в Recorder.
func recordRequest(rec Recorder, method, reqURL string, headers map[string]string, params url.Values, body any) {
	if rec == nil {
		return
	}
	var paramMap map[string]string
	if len(params) > 0 {
		paramMap = make(map[string]string, len(params))
		for key := range params {
			paramMap[key] = params.Get(key)
		}
	}
	rec.Record("REQUEST", map[string]any{
		"method":  method,
		"url":     reqURL,
		"headers": maskHeaders(headers),
		"params":  paramMap,
		"json":    body,
	})
}

// recordResponse отправляет маскированный снапшот ответа в Recorder.
// Тело разбирается как JSON независимо от Content-Type: платформа
// не всегда выставляет заголовок, а токены в Recorder попадать
// не должны. Неразборчивое тело идёт текстом.
func recordResponse(rec Recorder, resp *http.Response, body []byte) {
	if rec == nil {
		return
	}

	var decoded any = string(body)
	var parsed any
	if len(bytes.TrimSpace(body)) > 0 && json.Unmarshal(body, &parsed) == nil {
		decoded = MaskJSON(parsed)
	}

	headers := make(map[string]string, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	reqURL := ""
	if resp.Request != nil && resp.Request.URL != nil {
		reqURL = resp.Request.URL.String()
	}

	rec.Record("RESPONSE", map[string]any{
		"status":  resp.StatusCode,
		"url":     reqURL,
		"headers": maskHeaders(headers),
		"body":    decoded,
	})
}
