package scope

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/shaiso/asioctl/internal/asio"
)

// ProbeResult — итог одной пробы token exchange, ограниченной
// набором scopes. Неизменяемая запись; живёт только в пределах
// одного запуска discovery.
type ProbeResult struct {
	Scope   string
	Allowed bool
	Detail  any
}

// ComboStep — шаг жадной комбинации: что произошло при добавлении
// очередного scope к принятому набору.
type ComboStep struct {
	Scope  string
	Kept   bool
	Detail any
}

// Report — полный результат discovery: индивидуальные пробы,
// шаги комбинации и итоговый рабочий набор в исходном порядке.
type Report struct {
	Probes   []ProbeResult
	Combo    []ComboStep
	Accepted []string
}

// Exchanger выполняет некэшированный token exchange для набора
// scopes. Реализуется asio.TokenManager.
type Exchanger interface {
	Exchange(ctx context.Context, scopes []string) (map[string]any, error)
}

// Engine эмпирически определяет максимальный рабочий набор scopes.
//
// Сервер авторизации не отдаёт интроспекцию грантов, а провижининг
// бывает частичным: scope может работать поодиночке и отклоняться
// в комбинации. Поэтому два детерминированных прохода без
// конкурентности: индивидуальные пробы, затем жадная комбинация
// прошедших в исходном порядке.
type Engine struct {
	exchanger Exchanger
	waiter    asio.Waiter
	logger    *slog.Logger
}

// Config — зависимости Engine.
type Config struct {
	Exchanger Exchanger

	// Waiter пережидает 429 между пробами (default: asio.SleepWaiter).
	Waiter asio.Waiter

	// Logger (default: slog.Default).
	Logger *slog.Logger
}

// NewEngine создаёт Engine.
func NewEngine(cfg Config) *Engine {
	waiter := cfg.Waiter
	if waiter == nil {
		waiter = asio.SleepWaiter()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		exchanger: cfg.Exchanger,
		waiter:    waiter,
		logger:    logger,
	}
}

// Discover прогоняет обе фазы для scopes (порядок сохраняется).
//
// Отказ пробы — данные, не ошибка. Ошибкой завершаются только
// пустая конфигурация (ErrNoScopesConfigured), полный отказ фазы 1
// (ErrNoScopesAllowed, Report при этом возвращается с деталями проб)
// и отмена контекста.
func (e *Engine) Discover(ctx context.Context, scopes []string) (*Report, error) {
	if len(scopes) == 0 {
		return nil, ErrNoScopesConfigured
	}

	report := &Report{}

	// Фаза 1: индивидуальные пробы.
	var allowed []string
	for _, s := range scopes {
		ok, detail, err := e.probe(ctx, []string{s})
		if err != nil {
			return nil, err
		}
		report.Probes = append(report.Probes, ProbeResult{Scope: s, Allowed: ok, Detail: detail})
		if ok {
			allowed = append(allowed, s)
		}
		e.logger.Debug("scope probe", "scope", s, "allowed", ok)
	}

	if len(allowed) == 0 {
		return report, ErrNoScopesAllowed
	}

	// Фаза 2: жадная комбинация. Кандидат коммитится только если
	// exchange проходит для accepted ∪ {candidate}; порядок фиксирован,
	// перестановки не пробуются.
	for _, s := range allowed {
		candidate := append(append([]string{}, report.Accepted...), s)
		ok, detail, err := e.probe(ctx, candidate)
		if err != nil {
			return nil, err
		}
		report.Combo = append(report.Combo, ComboStep{Scope: s, Kept: ok, Detail: detail})
		if ok {
			report.Accepted = append(report.Accepted, s)
		}
		e.logger.Debug("scope combination", "scope", s, "kept", ok)
	}

	return report, nil
}

// probe выполняет один exchange и классифицирует исход.
// 429 не считается отказом: проба пережидает паузу и повторяется.
func (e *Engine) probe(ctx context.Context, scopes []string) (bool, any, error) {
	for {
		data, err := e.exchanger.Exchange(ctx, scopes)
		if err == nil {
			return true, asio.MaskJSON(data), nil
		}

		var rl *asio.RateLimitError
		if errors.As(err, &rl) {
			e.logger.Debug("scope probe rate limited", "retry_after", rl.RetryAfter)
			if werr := e.waiter.Wait(ctx, rl.RetryAfter); werr != nil {
				return false, nil, werr
			}
			continue
		}

		if ctx.Err() != nil {
			return false, nil, ctx.Err()
		}

		return false, probeDetail(err), nil
	}
}

// probeDetail извлекает маскированную деталь отказа: тело HTTP-ответа
// как JSON, иначе текст, иначе сообщение ошибки.
func probeDetail(err error) any {
	var httpErr *asio.HTTPError
	if errors.As(err, &httpErr) {
		var parsed any
		if jerr := json.Unmarshal([]byte(httpErr.Body), &parsed); jerr == nil {
			return asio.MaskJSON(parsed)
		}
		return httpErr.Body
	}
	return err.Error()
}
