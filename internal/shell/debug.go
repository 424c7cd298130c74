package shell

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/shaiso/asioctl/internal/asio"
)

// DebugPrinter печатает замаскированные снапшоты login-потока и
// HTTP-обменов, когда отладка включена. Секреты маскируются до
// записи, на стороне клиента, printer видит только безопасный
// payload.
type DebugPrinter struct {
	out     *Output
	enabled atomic.Bool
}

// NewDebugPrinter создаёт DebugPrinter поверх Output.
func NewDebugPrinter(out *Output) *DebugPrinter {
	return &DebugPrinter{out: out}
}

func (p *DebugPrinter) SetEnabled(v bool) { p.enabled.Store(v) }

func (p *DebugPrinter) Enabled() bool { return p.enabled.Load() }

// Recorder возвращает asio.Recorder, пишущий события в stderr.
func (p *DebugPrinter) Recorder() asio.Recorder {
	return asio.RecorderFunc(func(event string, payload any) {
		if !p.enabled.Load() {
			return
		}
		if payload == nil {
			p.out.Notice("[debug] " + event)
			return
		}
		data, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			p.out.Notice(fmt.Sprintf("[debug] %s: %v", event, payload))
			return
		}
		p.out.Notice(fmt.Sprintf("[debug] %s: %s", event, data))
	})
}
