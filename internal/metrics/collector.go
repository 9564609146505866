// Package metrics 提供 Prometheus 指标采集与上报的统一封装。
// 该包集中定义消息批处理管线的关键指标（准入、刷新、大载荷模式、发送等），
// 便于在缓冲区、发送器与开发用接收端之间复用并保持标签一致。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 刷新原因标签取值
const (
	FlushReasonOverflow = "overflow" // 准入前为避免超出软上限而刷新
	FlushReasonTick     = "tick"     // 流式调度器定时刷新
	FlushReasonExplicit = "explicit" // 调用方显式刷新
	FlushReasonFinal    = "final"    // 终结刷新
)

// Metrics 封装 SDK 运行时指标集合。
// 所有方法对 nil 接收者安全，未启用指标时可直接传 nil。
//
// 指标分类:
//   - 准入指标: 跟踪日志/命令的数量与字节数
//   - 刷新指标: 按原因统计刷新次数与信封大小
//   - 状态指标: 大载荷模式切换、日志截断
//   - 发送指标: 各发送器的错误次数
type Metrics struct {
	// ========== 准入相关指标 ==========

	// EntriesAdmitted 准入条目计数器
	// 标签: kind (log/command)
	EntriesAdmitted *prometheus.CounterVec

	// BytesAdmitted 准入字节数计数器
	// 标签: kind (log/command)
	BytesAdmitted *prometheus.CounterVec

	// EntriesRejected 被拒绝的条目计数器
	// 标签: kind, reason (too_large/inline_overflow/veto)
	EntriesRejected *prometheus.CounterVec

	// BufferBytes 当前缓冲区字节数
	BufferBytes prometheus.Gauge

	// ========== 刷新相关指标 ==========

	// Flushes 刷新次数计数器
	// 标签: reason (overflow/tick/explicit/final)
	Flushes *prometheus.CounterVec

	// EnvelopeBytes 信封序列化大小直方图（单位：字节）
	EnvelopeBytes prometheus.Histogram

	// ========== 状态相关指标 ==========

	// LargeModeTotal 进入大载荷模式的次数
	LargeModeTotal prometheus.Counter

	// Truncations 超大日志条目被截断的次数
	Truncations prometheus.Counter

	// ========== 发送相关指标 ==========

	// SendErrors 发送失败计数器
	// 标签: sender
	SendErrors *prometheus.CounterVec

	// EnvelopesReceived 接收端收到的信封计数器
	// 标签: phase (update/terminate)
	EnvelopesReceived *prometheus.CounterVec

	// SequenceGaps 接收端发现的序号缺口计数器
	SequenceGaps prometheus.Counter
}

// New 创建并注册一组 Prometheus 指标。
// namespace 用于作为所有指标名前缀；reg 为 nil 时使用默认注册表。
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		EntriesAdmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cargo_entries_admitted_total",
				Help:      "Total number of log entries and commands admitted to the buffer",
			},
			[]string{"kind"},
		),
		BytesAdmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cargo_bytes_admitted_total",
				Help:      "Total serialized bytes admitted to the buffer",
			},
			[]string{"kind"},
		),
		EntriesRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cargo_entries_rejected_total",
				Help:      "Total number of rejected admissions",
			},
			[]string{"kind", "reason"},
		),
		BufferBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cargo_buffer_bytes",
				Help:      "Serialized bytes currently buffered",
			},
		),
		Flushes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cargo_flushes_total",
				Help:      "Total number of buffer flushes",
			},
			[]string{"reason"},
		),
		EnvelopeBytes: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cargo_envelope_bytes",
				Help:      "Serialized size of assembled process events in bytes",
				Buckets:   []float64{256, 1024, 4096, 16384, 65536, 131072, 262144, 1048576},
			},
		),
		LargeModeTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cargo_large_mode_total",
				Help:      "Total number of transitions into large payload mode",
			},
		),
		Truncations: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cargo_truncations_total",
				Help:      "Total number of oversized log entries truncated",
			},
		),
		SendErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cargo_send_errors_total",
				Help:      "Total number of failed sends",
			},
			[]string{"sender"},
		),
		EnvelopesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cargo_envelopes_received_total",
				Help:      "Total number of process events received by the sink",
			},
			[]string{"phase"},
		),
		SequenceGaps: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cargo_sequence_gaps_total",
				Help:      "Total number of message sequence gaps observed by the sink",
			},
		),
	}
}

// RecordAdmit 记录一次成功准入
func (m *Metrics) RecordAdmit(kind string, bytes, bufferBytes int) {
	if m == nil {
		return
	}
	m.EntriesAdmitted.WithLabelValues(kind).Inc()
	m.BytesAdmitted.WithLabelValues(kind).Add(float64(bytes))
	m.BufferBytes.Set(float64(bufferBytes))
}

// RecordReject 记录一次被拒绝的准入
func (m *Metrics) RecordReject(kind, reason string) {
	if m == nil {
		return
	}
	m.EntriesRejected.WithLabelValues(kind, reason).Inc()
}

// RecordFlush 记录一次刷新及其信封大小
func (m *Metrics) RecordFlush(reason string, envelopeBytes int) {
	if m == nil {
		return
	}
	m.Flushes.WithLabelValues(reason).Inc()
	m.EnvelopeBytes.Observe(float64(envelopeBytes))
	m.BufferBytes.Set(0)
}

// RecordLargeMode 记录进入大载荷模式
func (m *Metrics) RecordLargeMode() {
	if m == nil {
		return
	}
	m.LargeModeTotal.Inc()
}

// RecordTruncation 记录日志截断
func (m *Metrics) RecordTruncation() {
	if m == nil {
		return
	}
	m.Truncations.Inc()
}

// RecordSendError 记录发送失败
func (m *Metrics) RecordSendError(sender string) {
	if m == nil {
		return
	}
	m.SendErrors.WithLabelValues(sender).Inc()
}

// RecordReceived 记录接收端收到的信封
func (m *Metrics) RecordReceived(phase string, gap bool) {
	if m == nil {
		return
	}
	m.EnvelopesReceived.WithLabelValues(phase).Inc()
	if gap {
		m.SequenceGaps.Inc()
	}
}
