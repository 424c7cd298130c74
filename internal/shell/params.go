package shell

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// paramField — один параметр скрипта из схемы task definition.
type paramField struct {
	Name        string
	Type        string
	Description string
	Required    bool
	Default     any
	Enum        []string
}

// parameterFields разбирает схему параметров в плоский список полей.
// Понимает две формы: JSON-schema-объект с properties/required и
// список объектов-полей с name/type. Непонятная схема — пустой
// список, мастер тогда падает на ручной ввод.
func parameterFields(schema any) []paramField {
	switch v := schema.(type) {
	case map[string]any:
		return fieldsFromProperties(v)
	case []any:
		out := make([]paramField, 0, len(v))
		for _, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if field, ok := fieldFromObject(obj); ok {
				out = append(out, field)
			}
		}
		return out
	default:
		return nil
	}
}

func fieldsFromProperties(schema map[string]any) []paramField {
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		// Одиночный объект-поле без properties.
		if field, ok := fieldFromObject(schema); ok {
			return []paramField{field}
		}
		return nil
	}

	required := make(map[string]bool)
	if reqList, ok := schema["required"].([]any); ok {
		for _, item := range reqList {
			if name, ok := item.(string); ok {
				required[name] = true
			}
		}
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]paramField, 0, len(names))
	for _, name := range names {
		obj, ok := props[name].(map[string]any)
		if !ok {
			continue
		}
		field, _ := fieldFromObject(obj)
		field.Name = name
		field.Required = field.Required || required[name]
		out = append(out, field)
	}
	return out
}

func fieldFromObject(obj map[string]any) (paramField, bool) {
	field := paramField{
		Name:        fieldString(obj, "name", "key", "parameterName"),
		Type:        strings.ToLower(fieldString(obj, "type", "dataType")),
		Description: fieldString(obj, "description", "label", "title"),
	}
	if req, ok := obj["required"].(bool); ok {
		field.Required = req
	}
	for _, key := range []string{"default", "defaultValue", "sample", "example"} {
		if value, ok := obj[key]; ok && value != nil {
			field.Default = value
			break
		}
	}
	if enumList, ok := obj["enum"].([]any); ok {
		for _, item := range enumList {
			if s := strings.TrimSpace(stringifyParam(item)); s != "" {
				field.Enum = append(field.Enum, s)
			}
		}
	}
	return field, field.Name != "" || field.Type != ""
}

// parseJSONValue разбирает значение как JSON. Платформа хранит схемы
// параметров строками; готовые контейнеры проходят как есть, пустые
// и неразборчивые значения дают nil.
func parseJSONValue(value any) any {
	switch v := value.(type) {
	case map[string]any, []any:
		return v
	case string:
		text := strings.TrimSpace(v)
		if text == "" {
			return nil
		}
		var out any
		if err := json.Unmarshal([]byte(text), &out); err != nil {
			return nil
		}
		return out
	default:
		return nil
	}
}

// parseLooseValue разбирает ручной ввод: валидный JSON декодируется,
// всё остальное остаётся строкой.
func parseLooseValue(raw string) any {
	if parsed := parseJSONValue(raw); parsed != nil {
		return parsed
	}
	return raw
}

// convertParamValue приводит введённую оператором строку к типу
// поля. Enum сравнивается без учёта регистра и возвращает
// каноническое значение из схемы.
func convertParamValue(field paramField, raw string) (any, error) {
	value := strings.TrimSpace(raw)

	if len(field.Enum) > 0 {
		for _, candidate := range field.Enum {
			if strings.EqualFold(candidate, value) {
				return candidate, nil
			}
		}
		return nil, fmt.Errorf("value %q is not one of: %s", value, strings.Join(field.Enum, ", "))
	}

	switch field.Type {
	case "boolean", "bool":
		switch strings.ToLower(value) {
		case "true", "yes", "y", "1", "on":
			return true, nil
		case "false", "no", "n", "0", "off":
			return false, nil
		}
		return nil, fmt.Errorf("expected a boolean, got %q", value)
	case "integer", "int":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("expected an integer, got %q", value)
		}
		return n, nil
	case "number", "float", "double":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("expected a number, got %q", value)
		}
		return f, nil
	case "array", "list":
		if strings.HasPrefix(value, "[") {
			var out []any
			if err := json.Unmarshal([]byte(value), &out); err != nil {
				return nil, fmt.Errorf("invalid JSON array: %v", err)
			}
			return out, nil
		}
		parts := strings.Split(value, ",")
		out := make([]any, 0, len(parts))
		for _, part := range parts {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		return out, nil
	case "object", "dict", "map":
		var out map[string]any
		if err := json.Unmarshal([]byte(value), &out); err != nil {
			return nil, fmt.Errorf("invalid JSON object: %v", err)
		}
		return out, nil
	default:
		return value, nil
	}
}

func stringifyParam(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

// mergeExtraJSON накладывает дополнительный JSON-объект поверх уже
// собранных параметров, ключ в ключ.
func mergeExtraJSON(params map[string]any, raw string) error {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil
	}
	var extra map[string]any
	if err := json.Unmarshal([]byte(text), &extra); err != nil {
		return fmt.Errorf("invalid JSON object: %v", err)
	}
	for key, value := range extra {
		params[key] = value
	}
	return nil
}
