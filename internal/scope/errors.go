package scope

import "errors"

// Ошибки discovery.
var (
	// ErrNoScopesConfigured — scope string пуст, пробовать нечего.
	ErrNoScopesConfigured = errors.New("no scopes configured")

	// ErrNoScopesAllowed — фаза 1 не пропустила ни одного scope.
	// Отличается от пустой конфигурации: credentials есть, но ни один
	// scope не принимается сервером авторизации.
	ErrNoScopesAllowed = errors.New("no scopes allowed for this credential set")
)
