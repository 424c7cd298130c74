// Package history ведёт локальный журнал постановок задач.
//
// Журнал живёт в SQLite-файле рядом с конфигурацией оператора и
// переживает перезапуски оболочки: по нему можно вспомнить id
// недавних задач и переспросить их результаты на платформе.
package history
