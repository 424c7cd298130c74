package shell

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shaiso/asioctl/internal/asio"
)

var errCompanyNotFound = errors.New("company not found")

// caches — сессионные кэши справочных данных платформы. Живут до
// конца сессии оболочки; платформа для этого инструмента читается
// много, меняется редко.
type caches struct {
	companies      []map[string]any
	companyAliases map[string]int // lower(имя|id) -> индекс в companies
	endpoints      map[string][]map[string]any
	endpointDetail map[string]map[string]any
	scripts        []map[string]any
	taskDefs       []map[string]any
	taskDefsLoaded bool
}

func newCaches() *caches {
	return &caches{
		companyAliases: make(map[string]int),
		endpoints:      make(map[string][]map[string]any),
		endpointDetail: make(map[string]map[string]any),
	}
}

// Ключи-кандидаты для неоднородных payload'ов справочников.
var (
	companyIDKeys    = []string{"id", "companyId", "clientId"}
	companyNameKeys  = []string{"name", "companyName", "friendlyName"}
	endpointIDKeys   = []string{"endpointId", "id"}
	endpointNameKeys = []string{"friendlyName", "name", "hostname", "systemName"}
	scriptIDKeys     = []string{"id", "scriptId", "templateId"}
	scriptNameKeys   = []string{"name", "scriptName", "title"}
)

// fieldString — первое присутствующее непустое значение из keys,
// приведённое к строке.
func fieldString(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		value, ok := obj[key]
		if !ok || value == nil {
			continue
		}
		var s string
		switch v := value.(type) {
		case string:
			s = v
		case float64:
			s = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			s = strconv.FormatBool(v)
		default:
			data, err := json.Marshal(v)
			if err != nil {
				continue
			}
			s = string(data)
		}
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// fieldBool трактует значение поля как флаг: bool как есть, строки
// true/yes/1, ненулевые числа.
func fieldBool(obj map[string]any, key string) bool {
	switch v := obj[key].(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "1":
			return true
		}
		return false
	case float64:
		return v != 0
	default:
		return false
	}
}

// loadCompanies заполняет кэш компаний и алиасы для резолва по
// имени.
func (s *Shell) loadCompanies(ctx context.Context) ([]map[string]any, error) {
	if s.caches.companies != nil {
		return s.caches.companies, nil
	}
	companies, err := s.api.ListCompanies(ctx)
	if err != nil {
		return nil, err
	}
	s.caches.companies = companies
	s.caches.companyAliases = make(map[string]int, len(companies)*2)
	for i, company := range companies {
		if id := fieldString(company, companyIDKeys...); id != "" {
			s.caches.companyAliases[strings.ToLower(id)] = i
		}
		for _, key := range companyNameKeys {
			if name := fieldString(company, key); name != "" {
				alias := strings.ToLower(name)
				if _, taken := s.caches.companyAliases[alias]; !taken {
					s.caches.companyAliases[alias] = i
				}
			}
		}
	}
	return companies, nil
}

// resolveCompany находит компанию по 1-based номеру из листинга,
// id или имени (включая friendly name), без учёта регистра.
func (s *Shell) resolveCompany(ctx context.Context, arg string) (map[string]any, error) {
	companies, err := s.loadCompanies(ctx)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(arg)
	if trimmed == "" {
		return nil, errCompanyNotFound
	}
	if n, convErr := strconv.Atoi(trimmed); convErr == nil && n >= 1 && n <= len(companies) {
		return companies[n-1], nil
	}
	if i, ok := s.caches.companyAliases[strings.ToLower(trimmed)]; ok {
		return companies[i], nil
	}
	return nil, fmt.Errorf("%w: %q", errCompanyNotFound, arg)
}

// loadEndpoints заполняет кэш endpoint'ов компании и дотягивает
// отсутствующие friendly-имена из карточек. Карточки — лучший
// источник имени, но каждая стоит отдельного запроса, поэтому 429
// здесь пережидается с отсчётом, а не считается сбоем.
func (s *Shell) loadEndpoints(ctx context.Context, companyID string) ([]map[string]any, error) {
	if cached, ok := s.caches.endpoints[companyID]; ok {
		return cached, nil
	}
	endpoints, err := s.api.ListCompanyEndpoints(ctx, companyID)
	if err != nil {
		return nil, err
	}
	for _, endpoint := range endpoints {
		if fieldString(endpoint, endpointNameKeys...) != "" {
			continue
		}
		id := fieldString(endpoint, endpointIDKeys...)
		if id == "" {
			continue
		}
		detail, err := s.endpointDetail(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Debug("endpoint detail lookup failed", "endpoint_id", id, "error", err)
			continue
		}
		if name := fieldString(detail, endpointNameKeys...); name != "" {
			endpoint["friendlyName"] = name
		}
	}
	s.caches.endpoints[companyID] = endpoints
	return endpoints, nil
}

// endpointDetail возвращает карточку endpoint'а из кэша либо с
// платформы, пережидая 429.
func (s *Shell) endpointDetail(ctx context.Context, endpointID string) (map[string]any, error) {
	if detail, ok := s.caches.endpointDetail[endpointID]; ok {
		return detail, nil
	}
	for {
		detail, err := s.api.GetEndpointDetail(ctx, endpointID)
		if err == nil {
			s.caches.endpointDetail[endpointID] = detail
			return detail, nil
		}
		var rl *asio.RateLimitError
		if errors.As(err, &rl) {
			if werr := s.waiter.Wait(ctx, rl.RetryAfter); werr != nil {
				return nil, werr
			}
			continue
		}
		return nil, err
	}
}

func (s *Shell) loadScripts(ctx context.Context) ([]map[string]any, error) {
	if s.caches.scripts != nil {
		return s.caches.scripts, nil
	}
	scripts, err := s.api.ListScripts(ctx)
	if err != nil {
		return nil, err
	}
	s.caches.scripts = scripts
	return scripts, nil
}

// loadTaskDefinitions — схемы параметров скриптов. Недоступность
// справочника не фатальна: мастер запуска обходится ручным вводом.
func (s *Shell) loadTaskDefinitions(ctx context.Context) []map[string]any {
	if s.caches.taskDefsLoaded {
		return s.caches.taskDefs
	}
	defs, err := s.api.ListTaskDefinitions(ctx)
	if err != nil {
		s.logger.Debug("task definitions unavailable", "error", err)
		defs = nil
	}
	s.caches.taskDefs = defs
	s.caches.taskDefsLoaded = true
	return defs
}
