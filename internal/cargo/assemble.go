package cargo

import (
	"maps"

	"github.com/oriys/nimbus-cargo/internal/domain"
)

// Assemble 由当前缓冲内容组装信封并推进序号，不清空缓冲区。
func (c *Container) Assemble() *domain.ProcessEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.assembleLocked()
}

// assembleLocked 组装信封。log / commands 为空时省略对应键，
// 载荷没有任何键时省略 payload；序号取当前值后自增。
func (c *Container) assembleLocked() *domain.ProcessEvent {
	ev := &domain.ProcessEvent{
		Meta: c.metaLocked(c.sequence),
		Type: domain.EventType(c.opts.Namespace, c.phase),
	}
	c.sequence++

	p := &domain.Payload{NextRun: c.nextRun}
	if len(c.logEntries) > 0 {
		p.Log = c.logEntries
	}
	if len(c.commands) > 0 {
		p.Commands = c.commands
	}
	if !p.IsEmpty() {
		ev.Payload = p
	}
	return ev
}

// metaLocked 以调用元数据为基础生成信封 meta
func (c *Container) metaLocked(sequence int64) map[string]any {
	meta := make(map[string]any, len(c.opts.Meta)+4)
	maps.Copy(meta, c.opts.Meta)
	meta[domain.MetaSeries] = c.series
	meta[domain.MetaMessageSequence] = sequence
	if c.largeMode {
		meta[domain.MetaMode] = domain.ModeLargeCommandV2
		meta[domain.MetaLargeCommandV2] = true
	}
	return meta
}

// metaOverheadLocked 返回下一次组装的 meta 序列化后的字节数
func (c *Container) metaOverheadLocked() int {
	n, err := Size(c.metaLocked(c.sequence))
	if err != nil {
		// 调用元数据无法序列化时发送也会失败，这里按零处理
		return 0
	}
	return n
}
