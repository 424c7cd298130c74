package taskmon

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shaiso/asioctl/internal/asio"
	"github.com/shaiso/asioctl/internal/telemetry"
)

// Значения по умолчанию.
const (
	defaultPollInterval = time.Second
	defaultTimeout      = 600 * time.Second
)

// Outcome — итог наблюдения за задачей.
type Outcome string

const (
	// OutcomeDone — все известные инстансы финальны (или запасная
	// проверка счётчиков дала ноль).
	OutcomeDone Outcome = "DONE"

	// OutcomeTimedOut — терминального сигнала не было до истечения
	// таймаута. Сообщается, не повторяется.
	OutcomeTimedOut Outcome = "TIMED_OUT"

	// OutcomeCancelled — оператор прервал ожидание. Задача остаётся
	// в восстановимом состоянии: её можно переспросить по тому же id.
	OutcomeCancelled Outcome = "CANCELLED"
)

// API — срез клиента платформы, нужный монитору.
type API interface {
	GetTaskInstancesSummary(ctx context.Context, taskID string) (map[string]any, error)
	GetTaskInstanceResults(ctx context.Context, taskID, instanceID string) (any, error)
}

// Reporter получает изменения статусов по ходу наблюдения,
// с ключом по id инстанса. Первое наблюдение тоже событие.
type Reporter interface {
	StatusChanged(instanceID, status string)
}

type nopReporter struct{}

func (nopReporter) StatusChanged(string, string) {}

// InstanceResult — итог по одному инстансу задачи.
type InstanceResult struct {
	ID     string
	Status string

	// StartedAt/CompletedAt — нулевые, если определить не удалось.
	StartedAt   time.Time
	CompletedAt time.Time

	// Elapsed — прошедшее время; FromSubmission показывает, от чего
	// оно отсчитано (момент постановки либо старт инстанса).
	Elapsed        time.Duration
	FromSubmission bool

	// Output — извлечённый вывод скрипта, если нашёлся.
	Output string

	// Raw — сырой payload результатов.
	Raw any

	// Err — ошибка выборки результатов (best-effort шаг).
	Err error
}

// Result — итог наблюдения.
type Result struct {
	Outcome   Outcome
	Instances []InstanceResult

	// Total — максимальное время инстанса от момента постановки.
	// HasTotal=false, когда момент постановки неизвестен или
	// инстансов нет.
	Total    time.Duration
	HasTotal bool
}

// Config — настройки монитора.
type Config struct {
	API API

	// Reporter для событий смены статуса (default: no-op).
	Reporter Reporter

	// Waiter пережидает 429 (default: asio.SleepWaiter).
	Waiter asio.Waiter

	// PollInterval — период опроса сводки (default: 1s).
	// Число инстансов на него не влияет.
	PollInterval time.Duration

	// Timeout — предел ожидания от старта цикла (default: 600s).
	Timeout time.Duration

	// SubmittedAt — известный момент постановки задачи; нулевое
	// значение означает "неизвестен".
	SubmittedAt time.Time

	// Logger (default: slog.Default).
	Logger *slog.Logger
}

// Monitor наблюдает за выполнением одной задачи: опрашивает сводку
// инстансов, классифицирует статусы, решает вопрос завершения и
// собирает результаты с таймингами.
//
// Машина состояний: ACTIVE → DONE | TIMED_OUT | CANCELLED;
// per-instance: RUNNING | TERMINAL по словарю статусов.
type Monitor struct {
	api          API
	reporter     Reporter
	waiter       asio.Waiter
	pollInterval time.Duration
	timeout      time.Duration
	submittedAt  time.Time
	logger       *slog.Logger
	clock        func() time.Time
}

// New создаёт Monitor.
func New(cfg Config) *Monitor {
	reporter := cfg.Reporter
	if reporter == nil {
		reporter = nopReporter{}
	}
	waiter := cfg.Waiter
	if waiter == nil {
		waiter = asio.SleepWaiter()
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		api:          cfg.API,
		reporter:     reporter,
		waiter:       waiter,
		pollInterval: pollInterval,
		timeout:      timeout,
		submittedAt:  cfg.SubmittedAt,
		logger:       logger,
		clock:        time.Now,
	}
}

// Wait блокирует вызывающий поток до завершения задачи, таймаута
// или отмены контекста. Отмена — чистый выход с OutcomeCancelled,
// не ошибка. Ошибкой завершается только невосстановимый сбой
// выборки сводки.
func (m *Monitor) Wait(ctx context.Context, taskID string) (*Result, error) {
	start := m.clock()
	lastStatuses := make(map[string]string)
	logger := telemetry.WithTaskID(m.logger, taskID)

	for {
		if m.clock().Sub(start) >= m.timeout {
			logger.Warn("task wait timed out", "timeout", m.timeout)
			return &Result{Outcome: OutcomeTimedOut}, nil
		}

		summary, err := m.api.GetTaskInstancesSummary(ctx, taskID)
		if err != nil {
			var rl *asio.RateLimitError
			if errors.As(err, &rl) {
				if werr := m.waiter.Wait(ctx, rl.RetryAfter); werr != nil {
					return &Result{Outcome: OutcomeCancelled}, nil
				}
				continue
			}
			if ctx.Err() != nil {
				return &Result{Outcome: OutcomeCancelled}, nil
			}
			return nil, err
		}

		instances := extractInstances(summary)
		if len(instances) > 0 {
			statuses := make(map[string]string, len(instances))
			for _, inst := range instances {
				id := firstString(inst, instanceIDKeys)
				if id == "" {
					continue
				}
				statuses[id] = firstString(inst, instanceStatusKeys)
			}

			for id, status := range statuses {
				if prev, seen := lastStatuses[id]; !seen || prev != status {
					m.reporter.StatusChanged(id, status)
				}
			}
			lastStatuses = statuses

			if len(statuses) > 0 && allTerminal(statuses) {
				logger.Info("task reached a terminal status")
				return m.collectResults(ctx, taskID, instances, statuses)
			}

			if anyPending(statuses) {
				if err := m.sleep(ctx, m.pollInterval); err != nil {
					return &Result{Outcome: OutcomeCancelled}, nil
				}
				continue
			}
		}

		// Сводка без инстансов (или без однозначных статусов):
		// запасная проверка по счётчикам.
		if summaryComplete(summary) {
			logger.Info("task complete by summary counters")
			return m.collectResults(ctx, taskID, instances, lastStatuses)
		}

		if err := m.sleep(ctx, m.pollInterval); err != nil {
			return &Result{Outcome: OutcomeCancelled}, nil
		}
	}
}

// allTerminal — завершение объявляется, только когда статус каждого
// известного инстанса пуст либо терминален.
func allTerminal(statuses map[string]string) bool {
	for _, status := range statuses {
		if status == "" {
			continue
		}
		if !IsTerminalStatus(status) {
			return false
		}
	}
	return true
}

func anyPending(statuses map[string]string) bool {
	for _, status := range statuses {
		if status != "" && IsPendingStatus(status) {
			return true
		}
	}
	return false
}

// collectResults — best-effort шаг после DONE: для каждого инстанса
// выбираются детальные результаты (429 пережидается и повторяется
// без ограничений — общий таймаут сюда не распространяется),
// извлекается вывод и вычисляются тайминги.
func (m *Monitor) collectResults(ctx context.Context, taskID string, instances []map[string]any, statuses map[string]string) (*Result, error) {
	res := &Result{Outcome: OutcomeDone}
	var overall []time.Duration

	for _, inst := range instances {
		id := firstString(inst, instanceIDKeys)
		if id == "" {
			continue
		}

		raw, err := m.fetchResults(ctx, taskID, id)
		if err != nil {
			if ctx.Err() != nil {
				// Отмена во время сбора — возвращаем, что успели.
				return res, nil
			}
			telemetry.WithInstanceID(telemetry.WithTaskID(m.logger, taskID), id).
				Warn("failed to fetch instance results", "error", err)
			res.Instances = append(res.Instances, InstanceResult{ID: id, Status: statuses[id], Err: err})
			continue
		}

		ir := InstanceResult{
			ID:     id,
			Status: statuses[id],
			Output: extractOutput(raw),
			Raw:    raw,
		}

		if start, ok := m.determineStart(inst, raw, id); ok {
			ir.StartedAt = start
		} else if !m.submittedAt.IsZero() {
			ir.StartedAt = m.submittedAt
		}

		if completion, ok := m.determineCompletion(inst, raw, id); ok {
			ir.CompletedAt = completion
		} else {
			// Захваченный timestamp никогда не перетирается этим
			// fallback'ом: "сейчас" подставляется только когда
			// ничего не нашлось.
			ir.CompletedAt = m.clock().UTC()
		}

		if !m.submittedAt.IsZero() {
			ir.Elapsed = clampDuration(ir.CompletedAt.Sub(m.submittedAt))
			ir.FromSubmission = true
			overall = append(overall, ir.Elapsed)
		} else if !ir.StartedAt.IsZero() {
			ir.Elapsed = clampDuration(ir.CompletedAt.Sub(ir.StartedAt))
		}

		res.Instances = append(res.Instances, ir)
	}

	if !m.submittedAt.IsZero() && len(overall) > 0 {
		res.Total = overall[0]
		for _, d := range overall[1:] {
			if d > res.Total {
				res.Total = d
			}
		}
		res.HasTotal = true
	}

	return res, nil
}

// fetchResults выбирает результаты инстанса, пережидая 429 сколько
// потребуется.
func (m *Monitor) fetchResults(ctx context.Context, taskID, instanceID string) (any, error) {
	for {
		raw, err := m.api.GetTaskInstanceResults(ctx, taskID, instanceID)
		if err == nil {
			return raw, nil
		}
		var rl *asio.RateLimitError
		if errors.As(err, &rl) {
			if werr := m.waiter.Wait(ctx, rl.RetryAfter); werr != nil {
				return nil, werr
			}
			continue
		}
		return nil, err
	}
}

// determineStart ищет время старта: сначала поля сводки, затем
// записи результатов, сопоставленные по id инстанса.
func (m *Monitor) determineStart(inst map[string]any, results any, instanceID string) (time.Time, bool) {
	if ts, ok := firstTime(inst, summaryStartKeys); ok {
		return ts, true
	}
	for _, entry := range matchingEntries(results, instanceID) {
		if ts, ok := firstTime(entry, entryStartKeys); ok {
			return ts, true
		}
	}
	return time.Time{}, false
}

// determineCompletion — аналогично для времени завершения.
func (m *Monitor) determineCompletion(inst map[string]any, results any, instanceID string) (time.Time, bool) {
	if ts, ok := firstTime(inst, summaryCompletionKeys); ok {
		return ts, true
	}
	for _, entry := range matchingEntries(results, instanceID) {
		if ts, ok := firstTime(entry, entryCompletionKeys); ok {
			return ts, true
		}
	}
	return time.Time{}, false
}

// matchingEntries — записи результатов, относящиеся к инстансу.
// Запись без собственного id считается относящейся.
func matchingEntries(results any, instanceID string) []map[string]any {
	entries := extractEntries(results)
	if instanceID == "" {
		return entries
	}
	matched := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		entryID := firstString(entry, entryInstanceIDKeys)
		if entryID != "" && entryID != instanceID {
			continue
		}
		matched = append(matched, entry)
	}
	return matched
}

func clampDuration(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

// sleep — прерываемая пауза: отмена проверяется не реже раза в
// секунду, а не только на границе интервала опроса.
func (m *Monitor) sleep(ctx context.Context, d time.Duration) error {
	for d > 0 {
		step := time.Second
		if d < step {
			step = d
		}
		timer := time.NewTimer(step)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		d -= step
	}
	return nil
}
