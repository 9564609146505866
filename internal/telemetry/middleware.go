package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/oriys/nimbus-cargo/internal/domain"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// 发送端随每个信封附带的请求头。接收端不解析请求体
// 也能给 Span 和日志标注信封身份。
const (
	HeaderSeries   = "X-Cargo-Series"
	HeaderSequence = "X-Cargo-Sequence"
	HeaderPhase    = "X-Cargo-Phase"
)

// SetEventHeaders 把信封身份写入出站请求头。
func SetEventHeaders(h http.Header, ev *domain.ProcessEvent) {
	id := IdentityOf(ev)
	if id.Series == "" {
		return
	}
	h.Set(HeaderSeries, id.Series)
	if id.Sequence >= 0 {
		h.Set(HeaderSequence, strconv.FormatInt(id.Sequence, 10))
	}
	if id.Phase != "" {
		h.Set(HeaderPhase, string(id.Phase))
	}
}

func identityFromHeaders(h http.Header) (EventIdentity, bool) {
	id := EventIdentity{Series: h.Get(HeaderSeries), Sequence: -1, Phase: domain.Phase(h.Get(HeaderPhase))}
	if id.Series == "" {
		return EventIdentity{}, false
	}
	if seq, err := strconv.ParseInt(h.Get(HeaderSequence), 10, 64); err == nil {
		id.Sequence = seq
	}
	return id, true
}

// HTTPMiddleware 为接收端的请求创建服务端 Span，并从请求头提取上游追踪上下文，
// 使发送端的 cargo.send 与接收端处理串成同一条链路。
// 带 X-Cargo-* 头的请求以 "cargo.receive <path>" 命名，Span 附加
// cargo.series / cargo.sequence / cargo.phase，信封身份同时放入请求上下文。
//
//	r := chi.NewRouter()
//	r.Use(telemetry.HTTPMiddleware("cargo-sink"))
func HTTPMiddleware(serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		tagged := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id, ok := identityFromHeaders(r.Header); ok {
				trace.SpanFromContext(r.Context()).SetAttributes(id.attributes()...)
				r = r.WithContext(ContextWithEvent(r.Context(), id))
			}
			next.ServeHTTP(w, r)
		})
		return otelhttp.NewHandler(tagged, serviceName,
			otelhttp.WithTracerProvider(otel.GetTracerProvider()),
			otelhttp.WithPropagators(otel.GetTextMapPropagator()),
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if r.Header.Get(HeaderSeries) != "" {
					return "cargo.receive " + r.URL.Path
				}
				return r.Method + " " + r.URL.Path
			}),
		)
	}
}

// eventTagger 位于 otelhttp.Transport 之内，此时请求上下文已经持有客户端 Span
type eventTagger struct {
	base http.RoundTripper
}

func (t eventTagger) RoundTrip(r *http.Request) (*http.Response, error) {
	if id, ok := identityFromHeaders(r.Header); ok {
		trace.SpanFromContext(r.Context()).SetAttributes(id.attributes()...)
	}
	return t.base.RoundTrip(r)
}

// HTTPClientTransport 返回带追踪的 http.RoundTripper：出站请求携带 traceparent 头，
// 带 X-Cargo-* 头的请求生成 "cargo.deliver" 客户端 Span 并附加信封身份。
// base 为 nil 时使用 http.DefaultTransport。
func HTTPClientTransport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return otelhttp.NewTransport(eventTagger{base: base},
		otelhttp.WithTracerProvider(otel.GetTracerProvider()),
		otelhttp.WithPropagators(otel.GetTextMapPropagator()),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			if r.Header.Get(HeaderSeries) != "" {
				return "cargo.deliver"
			}
			return "HTTP " + r.Method
		}),
	)
}

// InstrumentedHTTPClient 返回预配置了追踪传输层和超时的 HTTP 客户端。
func InstrumentedHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: HTTPClientTransport(nil),
		Timeout:   timeout,
	}
}
