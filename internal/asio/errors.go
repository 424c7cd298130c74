package asio

import (
	"errors"
	"fmt"
	"time"
)

// Ошибки клиента.
var (
	// ErrMalformedToken — ответ token endpoint'а без access_token.
	ErrMalformedToken = errors.New("token response missing access_token")
)

// RateLimitError — платформа ответила HTTP 429.
//
// Это не фатальная ошибка, а управляющий сигнал: клиент сам никогда
// не ждёт и не повторяет запрос, решение принимает вызывающая сторона
// (обычно через Waiter). RetryAfter — сколько платформа просит подождать.
type RateLimitError struct {
	RetryAfter time.Duration
}

// Error реализует интерфейс error.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

// HTTPError — ответ платформы с кодом вне 2xx (кроме 429).
type HTTPError struct {
	StatusCode int
	Body       string
}

// Error реализует интерфейс error.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// AuthError — обмен client credentials не удался по причине,
// не связанной с rate limiting. Фатальна для текущей операции,
// но не для сессии оболочки.
type AuthError struct {
	Message string
	Err     error
}

// Error реализует интерфейс error.
func (e *AuthError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *AuthError) Unwrap() error {
	return e.Err
}
