package asio

import "strings"

// Ключи, значения которых маскируются при обходе JSON.
var sensitiveJSONKeys = map[string]struct{}{
	"access_token":  {},
	"refresh_token": {},
	"token":         {},
}

// MaskSecret маскирует client secret: до 4 символов — полностью
// звёздочки, длиннее — видны первые и последние 2 символа.
// Длина результата равна длине входа.
func MaskSecret(secret string) string {
	if secret == "" {
		return secret
	}
	if len(secret) <= 4 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:2] + strings.Repeat("*", len(secret)-4) + secret[len(secret)-2:]
}

// MaskToken маскирует bearer token: до 8 символов — полностью
// звёздочки, длиннее — видны первые и последние 4 символа.
func MaskToken(token string) string {
	if token == "" {
		return token
	}
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + strings.Repeat("*", len(token)-8) + token[len(token)-4:]
}

// MaskAuthorization маскирует значение заголовка Authorization,
// применяя MaskToken только к сегменту токена. Значения без префикса
// Bearer возвращаются как есть.
func MaskAuthorization(value string) string {
	if value == "" {
		return value
	}
	if len(value) >= 7 && strings.EqualFold(value[:7], "Bearer ") {
		return "Bearer " + MaskToken(value[7:])
	}
	return value
}

// MaskJSON рекурсивно обходит декодированный JSON (объект, массив,
// скаляр) и маскирует строковые значения чувствительных ключей.
// Исходное значение не изменяется; возвращается копия затронутых
// контейнеров.
func MaskJSON(data any) any {
	switch v := data.(type) {
	case map[string]any:
		masked := make(map[string]any, len(v))
		for key, value := range v {
			if _, sensitive := sensitiveJSONKeys[key]; sensitive {
				if s, ok := value.(string); ok {
					masked[key] = MaskToken(s)
					continue
				}
			}
			masked[key] = MaskJSON(value)
		}
		return masked
	case []any:
		masked := make([]any, len(v))
		for i, item := range v {
			masked[i] = MaskJSON(item)
		}
		return masked
	default:
		return data
	}
}

// maskHeaders копирует заголовки и маскирует Authorization.
func maskHeaders(headers map[string]string) map[string]string {
	masked := make(map[string]string, len(headers))
	for key, value := range headers {
		if strings.EqualFold(key, "Authorization") {
			masked[key] = MaskAuthorization(value)
			continue
		}
		masked[key] = value
	}
	return masked
}
