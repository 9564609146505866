package runnable

import (
	"fmt"

	"github.com/oriys/nimbus-cargo/internal/domain"
	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// NextRun 解析 cron 表达式，并把下一次运行时间写入之后每个信封的 payload.nextRun。
func (r *Runnable) NextRun(expr string) error {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", domain.ErrInvalidCron, expr, err)
	}
	next := schedule.Next(r.now())
	r.container.SetNextRun(map[string]any{
		"cron": expr,
		"at":   next.UTC().Format(domain.TimestampLayout),
	})
	return nil
}

// SetNextRun 原样设置调度提示。
func (r *Runnable) SetNextRun(v any) {
	r.container.SetNextRun(v)
}
