package asio

import (
	"context"
	"time"
)

// Recorder — приёмник отладочных событий (login flow, HTTP снапшоты).
//
// Все payload'ы проходят маскирование до вызова Record: секреты
// и токены в Recorder не попадают. nil Recorder означает "выключено".
type Recorder interface {
	Record(event string, payload any)
}

// RecorderFunc — адаптер функции к интерфейсу Recorder.
type RecorderFunc func(event string, payload any)

// Record реализует интерфейс Recorder.
func (f RecorderFunc) Record(event string, payload any) {
	f(event, payload)
}

// Waiter пережидает паузу, запрошенную сигналом RateLimitError.
//
// Исполнитель запросов сам не спит; ожидание всегда принадлежит
// вызывающей стороне. Реализация обязана уважать отмену контекста.
type Waiter interface {
	Wait(ctx context.Context, d time.Duration) error
}

// WaiterFunc — адаптер функции к интерфейсу Waiter.
type WaiterFunc func(ctx context.Context, d time.Duration) error

// Wait реализует интерфейс Waiter.
func (f WaiterFunc) Wait(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

// SleepWaiter возвращает Waiter, который просто спит с проверкой
// отмены раз в секунду. Пауза округляется вверх до целых секунд,
// минимум одна.
func SleepWaiter() Waiter {
	return WaiterFunc(func(ctx context.Context, d time.Duration) error {
		remaining := ClampWait(d)
		for remaining > 0 {
			step := time.Second
			if remaining < step {
				step = remaining
			}
			timer := time.NewTimer(step)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			remaining -= step
		}
		return nil
	})
}

// ClampWait нормализует паузу из Retry-After: округление вверх
// до целых секунд, минимум одна секунда.
func ClampWait(d time.Duration) time.Duration {
	secs := int64((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}
