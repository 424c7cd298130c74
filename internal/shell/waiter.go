package shell

import (
	"context"
	"fmt"
	"time"

	"github.com/shaiso/asioctl/internal/asio"
)

// CountdownWaiter пережидает 429 на глазах у оператора: округляет
// паузу вверх до целых секунд (минимум одна), раз в секунду печатает
// остаток и сообщает о возобновлении. Отмена контекста прерывает
// отсчёт немедленно.
type CountdownWaiter struct {
	out *Output
}

// NewCountdownWaiter создаёт CountdownWaiter поверх Output.
func NewCountdownWaiter(out *Output) *CountdownWaiter {
	return &CountdownWaiter{out: out}
}

var _ asio.Waiter = (*CountdownWaiter)(nil)

func (w *CountdownWaiter) Wait(ctx context.Context, d time.Duration) error {
	total := asio.ClampWait(d)
	seconds := int(total / time.Second)
	w.out.Notice(fmt.Sprintf("Rate limited. Waiting %ds...", seconds))

	for remaining := seconds; remaining > 0; remaining-- {
		timer := time.NewTimer(time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if remaining > 1 {
			w.out.Notice(fmt.Sprintf("  %ds remaining", remaining-1))
		}
	}
	w.out.Notice("Resuming.")
	return nil
}
