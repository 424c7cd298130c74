// Package asio реализует клиент REST API платформы ConnectWise Asio.
//
// # Обзор
//
// Клиент закрывает три сквозные задачи любого исходящего вызова:
//
//   - Жизненный цикл токена: обмен client credentials на bearer token
//     с кэшем и прозрачным синхронным обновлением (TokenManager).
//     Истечение считается с запасом в 30 секунд от объявленного
//     сервером времени жизни.
//   - Дисциплина rate limiting: HTTP 429 превращается в управляющий
//     сигнал *RateLimitError с распарсенным Retry-After; клиент сам
//     никогда не спит и не повторяет — политика ожидания принадлежит
//     вызывающей стороне (интерфейс Waiter).
//   - Маскирование: отладочные хуки (Recorder) получают снапшоты
//     запросов и ответов только с необратимо замаскированными
//     секретами и токенами (mask.go).
//
// Поверх этого — тонкие вызовы фиксированных путей платформы
// (endpoints.go): компании, сайты, endpoints, скрипты, постановка
// задач, сводки и результаты инстансов. Ответы платформы — свободный
// JSON без стабильной схемы, поэтому всё возвращается как
// map[string]any / []map[string]any.
//
// # Ошибки
//
//   - *RateLimitError — 429, восстановимо, несёт длительность ожидания
//   - *HTTPError — не-2xx, не-429 ответ (статус + тело)
//   - *AuthError — обмен токена не удался (оборачивает *HTTPError
//     либо ErrMalformedToken)
package asio
