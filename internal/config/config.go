// Package config загружает конфигурацию клиента Asio из окружения.
//
// Четыре настройки: базовый URL платформы, client id, client secret
// и строка OAuth2 scopes (разделённых пробелами). Опционально
// подхватывается файл .env. Отсутствие любой из обязательных
// переменных — фатальная ошибка до какой-либо сетевой активности.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Переменные окружения.
const (
	EnvBaseURL      = "ASIO_BASE_URL"
	EnvClientID     = "ASIO_CLIENT_ID"
	EnvClientSecret = "ASIO_CLIENT_SECRET"
	EnvScope        = "ASIO_SCOPE"
)

// defaultScopes — scope string по умолчанию, когда ASIO_SCOPE не задан.
// Это номинальный набор при провижининге интеграции; фактически
// рабочую комбинацию определяет команда scopecheck.
var defaultScopes = []string{
	"platform.companies.read",
	"platform.devices.read",
	"platform.custom_fields_values.read",
	"platform.sites.write",
	"platform.tickets.update",
	"platform.sites.read",
	"platform.policies.read",
	"platform.dataMapping.read",
	"platform.tickets.create",
	"platform.asset.read",
	"platform.deviceGroups.read",
	"platform.automation.read",
	"platform.automation.create",
	"platform.policies.create",
	"platform.custom_fields_definitions.write",
	"platform.tickets.read",
	"platform.agent.delete",
	"platform.policies.delete",
	"platform.policies.update",
	"platform.custom_fields_values.write",
	"platform.custom_fields_definitions.read",
	"platform.patching.read",
	"platform.agent-token.read",
	"platform.agent.read",
}

// Config — настройки аутентификации против Asio API.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Scope        string
}

// ConfigError — отсутствуют обязательные переменные окружения.
type ConfigError struct {
	Missing []string
}

// Error реализует интерфейс error.
func (e *ConfigError) Error() string {
	return "missing required Asio configuration environment variables: " +
		strings.Join(e.Missing, ", ")
}

// TokenEndpoint возвращает URL token endpoint'а платформы.
func (c Config) TokenEndpoint() string {
	return strings.TrimRight(c.BaseURL, "/") + "/v1/token"
}

// Scopes возвращает scope string как список отдельных scopes.
// Обрамляющие кавычки (частый артефакт .env файлов) срезаются.
func (c Config) Scopes() []string {
	raw := strings.Trim(strings.TrimSpace(c.Scope), `"`)
	return strings.Fields(raw)
}

// DefaultScopeString возвращает scope string по умолчанию.
func DefaultScopeString() string {
	return strings.Join(defaultScopes, " ")
}

// Load загружает конфигурацию из окружения и опционального .env файла.
//
// dotenvPath — путь к .env; пустая строка означает "./.env".
// Несуществующий файл не ошибка: окружение может быть задано напрямую.
func Load(dotenvPath string) (Config, error) {
	if dotenvPath == "" {
		dotenvPath = ".env"
	}
	if _, err := os.Stat(dotenvPath); err == nil {
		if err := godotenv.Load(dotenvPath); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", dotenvPath, err)
		}
	}

	cfg := Config{
		BaseURL:      os.Getenv(EnvBaseURL),
		ClientID:     os.Getenv(EnvClientID),
		ClientSecret: os.Getenv(EnvClientSecret),
		Scope:        os.Getenv(EnvScope),
	}
	if cfg.Scope == "" {
		cfg.Scope = DefaultScopeString()
	}

	var missing []string
	for _, v := range []struct {
		name  string
		value string
	}{
		{EnvBaseURL, cfg.BaseURL},
		{EnvClientID, cfg.ClientID},
		{EnvClientSecret, cfg.ClientSecret},
	} {
		if v.value == "" {
			missing = append(missing, v.name)
		}
	}
	if len(missing) > 0 {
		return Config{}, &ConfigError{Missing: missing}
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return cfg, nil
}
