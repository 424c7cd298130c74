// Package telemetry обеспечивает наблюдаемость клиента.
//
// Включает:
//   - logging.go — structured logging через slog
//   - metrics.go — Prometheus метрики и опциональный /metrics listener
//
// Логи пишутся в stderr, данные команд — в stdout.
package telemetry
