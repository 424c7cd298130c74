package taskmon

import (
	"strings"
	"time"
)

// Словарь статусов платформы. Сравнение всегда case-insensitive.
//
// Терминальный статус — инстанс больше не изменится; pending —
// работа ещё идёт. Пустой или нераспознанный статус не блокирует
// объявление завершения, но и как pending не считается.
var terminalStatuses = map[string]struct{}{
	"success":         {},
	"succeeded":       {},
	"failed":          {},
	"completed":       {},
	"cancelled":       {},
	"canceled":        {},
	"error":           {},
	"partial_success": {},
	"timeout":         {},
}

var pendingStatuses = map[string]struct{}{
	"running":     {},
	"waiting":     {},
	"queued":      {},
	"pending":     {},
	"in_progress": {},
	"scheduled":   {},
}

// IsTerminalStatus возвращает true для финального статуса инстанса.
func IsTerminalStatus(status string) bool {
	_, ok := terminalStatuses[strings.ToLower(strings.TrimSpace(status))]
	return ok
}

// IsPendingStatus возвращает true для статуса "работа ещё идёт".
func IsPendingStatus(status string) bool {
	_, ok := pendingStatuses[strings.ToLower(strings.TrimSpace(status))]
	return ok
}

// Таблицы имён полей. Платформа не стабильна в касинге и форме
// payload'ов, поэтому каждое значение ищется по упорядоченному
// списку кандидатов — первый присутствующий и непустой выигрывает.
var (
	// summaryInstanceListKeys — где в сводке лежит список инстансов.
	summaryInstanceListKeys = []string{"Results", "results", "TaskInstances", "taskInstances"}

	// instanceIDKeys — id инстанса в записи сводки.
	instanceIDKeys = []string{"taskInstanceId", "Id"}

	// instanceStatusKeys — статус инстанса в записи сводки.
	instanceStatusKeys = []string{"OverallStatus", "Status"}

	// summaryStartKeys — время старта в записи сводки.
	summaryStartKeys = []string{"ExecutedOn", "executedOn", "executionTime", "StartTime", "startTime"}

	// entryStartKeys — время старта в записи результатов.
	entryStartKeys = []string{"executionTime", "executedOn", "startTime", "startedAt"}

	// summaryCompletionKeys — время завершения в записи сводки.
	summaryCompletionKeys = []string{"CompletedOn", "completedOn", "completionTime", "CompletionTime", "ModifiedOn", "modifiedOn"}

	// entryCompletionKeys — время завершения в записи результатов.
	entryCompletionKeys = []string{"completedOn", "completionTime", "createdOn", "completedAt", "finishedAt"}

	// resultEntryListKeys — где в результатах лежит список записей.
	resultEntryListKeys = []string{"Result", "Results", "items", "data"}

	// entryInstanceIDKeys — id инстанса в записи результатов.
	entryInstanceIDKeys = []string{"taskInstanceId", "instanceId"}

	// entryOutputKeys — вывод скрипта в записи результатов.
	entryOutputKeys = []string{"output", "resultDetails", "result", "stdout", "details", "logs"}

	// topOutputKeys — вывод скрипта на верхнем уровне результатов.
	topOutputKeys = []string{"output", "resultDetails", "result", "stdout"}
)

// firstString возвращает первое присутствующее непустое значение
// из keys, приведённое к строке.
func firstString(obj map[string]any, keys []string) string {
	for _, key := range keys {
		if value, ok := obj[key]; ok {
			if s := stringify(value); strings.TrimSpace(s) != "" {
				return s
			}
		}
	}
	return ""
}

// firstTime возвращает первый распарсенный timestamp из keys.
func firstTime(obj map[string]any, keys []string) (time.Time, bool) {
	for _, key := range keys {
		if ts, ok := ParseTimestamp(obj[key]); ok {
			return ts, true
		}
	}
	return time.Time{}, false
}

// extractInstances достаёт список инстансов из сводки.
func extractInstances(summary map[string]any) []map[string]any {
	for _, key := range summaryInstanceListKeys {
		if list, ok := summary[key].([]any); ok {
			return objectsOf(list)
		}
	}
	return nil
}

// extractEntries достаёт записи результатов: из известного ключа
// внутри объекта либо из ответа-массива.
func extractEntries(results any) []map[string]any {
	switch v := results.(type) {
	case map[string]any:
		for _, key := range resultEntryListKeys {
			if list, ok := v[key].([]any); ok {
				return objectsOf(list)
			}
		}
		return nil
	case []any:
		return objectsOf(v)
	default:
		return nil
	}
}

func objectsOf(items []any) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}

// summaryComplete — запасная проверка завершения, когда сводка
// не содержит списка инстансов: собрать поля, чьё имя заканчивается
// на "count", и объявить завершение при нулевых running/waiting/
// scheduled.
func summaryComplete(summary map[string]any) bool {
	if summary == nil {
		return false
	}
	counts := make(map[string]any)
	for key, value := range summary {
		lower := strings.ToLower(key)
		if strings.HasSuffix(lower, "count") {
			counts[lower] = value
		}
	}
	running := countOf(counts, "runningcount", "running_count")
	waiting := countOf(counts, "waitingcount", "waiting_count")
	scheduled := countOf(counts, "scheduledcount", "scheduled_count")
	return running == 0 && waiting == 0 && scheduled == 0
}

func countOf(counts map[string]any, keys ...string) int {
	for _, key := range keys {
		if n := coerceCount(counts[key]); n != 0 {
			return n
		}
	}
	return 0
}

// coerceCount приводит счётчик к int; нечисловое значение — 0.
func coerceCount(value any) int {
	switch v := value.(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return 0
		}
		n := 0
		for _, r := range trimmed {
			if r < '0' || r > '9' {
				return 0
			}
			n = n*10 + int(r-'0')
		}
		return n
	default:
		return 0
	}
}

// InstanceView — строка сводки для показа оператору. Времена
// остаются строками платформы как есть.
type InstanceView struct {
	ID        string
	Status    string
	Started   string
	Completed string
}

// Instances разбирает сводку задачи в плоские строки для показа.
func Instances(summary map[string]any) []InstanceView {
	instances := extractInstances(summary)
	out := make([]InstanceView, 0, len(instances))
	for _, inst := range instances {
		out = append(out, InstanceView{
			ID:        firstString(inst, instanceIDKeys),
			Status:    firstString(inst, instanceStatusKeys),
			Started:   firstString(inst, summaryStartKeys),
			Completed: firstString(inst, summaryCompletionKeys),
		})
	}
	return out
}

// Output достаёт вывод скрипта из payload'а результатов инстанса.
func Output(results any) string {
	return extractOutput(results)
}

// extractOutput достаёт человеко-значимый вывод инстанса из
// результатов: сперва записи, затем верхний уровень.
func extractOutput(results any) string {
	for _, entry := range extractEntries(results) {
		if out := firstString(entry, entryOutputKeys); out != "" {
			return out
		}
	}
	if obj, ok := results.(map[string]any); ok {
		return firstString(obj, topOutputKeys)
	}
	return ""
}
