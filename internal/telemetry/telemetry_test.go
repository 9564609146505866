package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/oriys/nimbus-cargo/internal/config"
	"github.com/oriys/nimbus-cargo/internal/domain"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewDisabled(t *testing.T) {
	tel, err := New(context.Background(), config.TelemetryConfig{Enabled: false})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if tel.IsEnabled() {
		t.Fatalf("expected disabled telemetry")
	}
	if tel.Tracer() == nil {
		t.Fatalf("expected noop tracer")
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestSampler(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{rate: 1, want: "AlwaysOnSampler"},
		{rate: 2, want: "AlwaysOnSampler"},
		{rate: 0, want: "AlwaysOffSampler"},
		{rate: 0.5, want: "TraceIDRatioBased"},
	}
	for _, tt := range tests {
		got := Sampler(tt.rate).Description()
		if !strings.HasPrefix(got, tt.want) {
			t.Fatalf("rate=%v description=%q, want prefix %q", tt.rate, got, tt.want)
		}
	}
}

func TestEventSpanAttributesAndHook(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	ctx, span := tp.Tracer("test").Start(context.Background(), "parent")
	defer span.End()

	ev := &domain.ProcessEvent{
		Type: domain.EventType(domain.DefaultNamespace, domain.PhaseUpdate),
		Meta: map[string]any{domain.MetaSeries: "s-1", domain.MetaMessageSequence: int64(3)},
	}
	if ev.Sequence() != 3 {
		t.Fatalf("sequence=%d, want 3", ev.Sequence())
	}

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	sendCtx, sendSpan := StartEventSpan(ctx, "cargo.send", "nats", ev)
	RecordError(sendCtx, errors.New("boom"))
	sendSpan.End()

	ended := rec.Ended()
	if len(ended) != 1 || ended[0].Name() != "cargo.send" {
		t.Fatalf("ended spans=%v, want one cargo.send", ended)
	}
	attrs := map[string]string{}
	for _, kv := range ended[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs["cargo.series"] != "s-1" || attrs["cargo.sequence"] != "3" || attrs["cargo.phase"] != "update" || attrs["cargo.sender"] != "nats" {
		t.Fatalf("unexpected attributes: %v", attrs)
	}
	if ended[0].Status().Code != codes.Error {
		t.Fatalf("status=%v, want error", ended[0].Status().Code)
	}

	RecordError(ctx, errors.New("boom"))
	RecordError(ctx, nil)

	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.AddHook(NewLogrusHook())
	logger.WithContext(ctx).Info("sent")

	if !strings.Contains(buf.String(), `"trace_id"`) {
		t.Fatalf("log line missing trace_id: %s", buf.String())
	}
	if TraceIDFromContext(ctx) == "" {
		t.Fatalf("expected trace id")
	}
	if TraceIDFromContext(context.Background()) != "" {
		t.Fatalf("expected empty trace id for bare context")
	}

	entry := EntryWithTraceContext(context.Background(), logrus.NewEntry(logger))
	if _, ok := entry.Data["trace_id"]; ok {
		t.Fatalf("bare context must not add trace fields")
	}
}

func spanAttrs(s sdktrace.ReadOnlySpan) map[string]string {
	attrs := map[string]string{}
	for _, kv := range s.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	return attrs
}

func useRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func TestLogrusHookAddsEventIdentity(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.AddHook(NewLogrusHook())

	ctx := ContextWithEvent(context.Background(), EventIdentity{Series: "s-2", Sequence: 7, Phase: domain.PhaseTerminate})
	logger.WithContext(ctx).WithField("phase", "explicit").Warn("Send failed")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line: %v", err)
	}
	if line["series"] != "s-2" || line["sequence"] != float64(7) {
		t.Fatalf("identity fields missing: %v", line)
	}
	if line["phase"] != "explicit" {
		t.Fatalf("hook overwrote an explicit field: %v", line)
	}
	if _, ok := line["trace_id"]; ok {
		t.Fatalf("trace_id without a span: %v", line)
	}

	if got := ContextWithEvent(context.Background(), EventIdentity{}); got != context.Background() {
		t.Fatalf("identity without series must not be stored")
	}
}

func TestStartEventSpanCarriesIdentity(t *testing.T) {
	ev := &domain.ProcessEvent{
		Type: domain.EventType(domain.DefaultNamespace, domain.PhaseUpdate),
		Meta: map[string]any{domain.MetaSeries: "s-5", domain.MetaMessageSequence: int64(1)},
	}
	ctx, span := StartEventSpan(context.Background(), "cargo.send", "http", ev)
	defer span.End()

	id, ok := EventFromContext(ctx)
	if !ok || id.Series != "s-5" || id.Sequence != 1 || id.Phase != domain.PhaseUpdate {
		t.Fatalf("identity=%+v ok=%v", id, ok)
	}
	entry := EntryWithTraceContext(ctx, logrus.NewEntry(logrus.New()))
	if entry.Data["series"] != "s-5" {
		t.Fatalf("entry fields=%v", entry.Data)
	}
}

func TestHTTPMiddlewareTagsCargoRequests(t *testing.T) {
	rec := useRecorder(t)

	var seen EventIdentity
	handler := HTTPMiddleware("cargo-sink")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = EventFromContext(r.Context())
		w.WriteHeader(http.StatusAccepted)
	}))

	ev := &domain.ProcessEvent{
		Type: domain.EventType(domain.DefaultNamespace, domain.PhaseTerminate),
		Meta: map[string]any{domain.MetaSeries: "s-3", domain.MetaMessageSequence: int64(4)},
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/process-events", strings.NewReader("{}"))
	SetEventHeaders(req.Header, ev)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if seen.Series != "s-3" || seen.Sequence != 4 || seen.Phase != domain.PhaseTerminate {
		t.Fatalf("handler identity=%+v", seen)
	}
	ended := rec.Ended()
	if len(ended) != 1 || ended[0].Name() != "cargo.receive /v1/process-events" {
		t.Fatalf("ended spans=%v", ended)
	}
	attrs := spanAttrs(ended[0])
	if attrs["cargo.series"] != "s-3" || attrs["cargo.sequence"] != "4" || attrs["cargo.phase"] != "terminate" {
		t.Fatalf("unexpected attributes: %v", attrs)
	}

	// 非信封请求保持普通命名
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	ended = rec.Ended()
	if got := ended[len(ended)-1].Name(); got != "GET /healthz" {
		t.Fatalf("span name=%q", got)
	}
}

func TestHTTPClientTransportTagsDelivery(t *testing.T) {
	rec := useRecorder(t)

	headers := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Clone()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	ev := &domain.ProcessEvent{
		Type: domain.EventType(domain.DefaultNamespace, domain.PhaseUpdate),
		Meta: map[string]any{domain.MetaSeries: "s-8", domain.MetaMessageSequence: int64(0)},
	}
	req, err := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	SetEventHeaders(req.Header, ev)

	resp, err := InstrumentedHTTPClient(time.Second).Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()

	got := <-headers
	if got.Get(HeaderSeries) != "s-8" || got.Get(HeaderSequence) != "0" || got.Get(HeaderPhase) != "update" {
		t.Fatalf("headers=%v", got)
	}

	var deliver sdktrace.ReadOnlySpan
	for _, s := range rec.Ended() {
		if s.Name() == "cargo.deliver" {
			deliver = s
		}
	}
	if deliver == nil {
		t.Fatalf("no cargo.deliver span in %v", rec.Ended())
	}
	if attrs := spanAttrs(deliver); attrs["cargo.series"] != "s-8" || attrs["cargo.sequence"] != "0" {
		t.Fatalf("unexpected attributes: %v", attrs)
	}
}
