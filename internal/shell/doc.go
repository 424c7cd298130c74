// Package shell — интерактивная оболочка оператора платформы Asio.
//
// Оболочка однопоточная: команда занимает сессию целиком, все паузы
// (429, опрос задач) видимы и прерываемы. Ctrl+C отменяет текущую
// команду, не сессию. Справочники платформы кэшируются на время
// сессии.
package shell
