// Package scope эмпирически определяет рабочий набор OAuth2 scopes.
//
// # Алгоритм
//
// Две детерминированные фазы, без конкурентности:
//
//  1. Индивидуальные пробы: для каждого scope из конфигурации
//     (порядок сохраняется) — свежий token exchange, ограниченный
//     этим scope. Успех/отказ и маскированная деталь записываются
//     как данные; отказ не ошибка.
//  2. Жадная комбинация: прошедшие фазу 1 scopes добавляются по
//     одному к принятому набору; exchange для accepted ∪ {candidate}
//     решает, коммитится кандидат или выбрасывается. Перестановки
//     не пробуются — алгоритм осознанно чувствителен к порядку.
//
// Итог Report.Accepted — максимальная рабочая комбинация в исходном
// порядке. Rate limit (429) во время пробы не интерпретируется как
// отказ: проба пережидает паузу и повторяется.
package scope
