// Package taskmon наблюдает за выполнением задач автоматизации.
//
// Монитор опрашивает сводку инстансов задачи, классифицирует статусы
// по словарю (терминальные и ожидающие), сообщает о сменах статуса и,
// дождавшись завершения, собирает детальные результаты с таймингами.
// Таймаут ожидания сообщается как отдельный итог, а не как ошибка;
// сама задача на платформе при этом продолжает жить.
//
// Схемы ответов платформы неоднородны, поэтому извлечение полей
// (id, статус, времена, вывод) идёт по упорядоченным спискам
// имён-кандидатов: берётся первое подходящее.
package taskmon
