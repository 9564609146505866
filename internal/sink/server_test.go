package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oriys/nimbus-cargo/internal/cargo"
	"github.com/oriys/nimbus-cargo/internal/domain"
	"github.com/oriys/nimbus-cargo/internal/largecmd"
	"github.com/oriys/nimbus-cargo/internal/logging"
	"github.com/oriys/nimbus-cargo/internal/metrics"
	"github.com/oriys/nimbus-cargo/internal/sender"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestSink(t *testing.T) (*Server, *metrics.Metrics, *httptest.Server) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New("test", reg)
	s := New(Options{Logger: logging.Discard(), Metrics: m, Gatherer: reg})
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return s, m, srv
}

func envelope(series string, seq int64) []byte {
	data, _ := json.Marshal(&domain.ProcessEvent{
		Meta: map[string]any{domain.MetaSeries: series, domain.MetaMessageSequence: seq},
		Type: domain.EventType("", domain.PhaseUpdate),
	})
	return data
}

func post(t *testing.T, url string, body []byte) (int, Receipt) {
	t.Helper()
	resp, err := http.Post(url+"/v1/process-events", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	var r Receipt
	if resp.StatusCode == http.StatusAccepted {
		if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
			t.Fatalf("decode receipt: %v", err)
		}
	}
	return resp.StatusCode, r
}

func TestReceiveDetectsGapsAndDuplicates(t *testing.T) {
	_, m, srv := newTestSink(t)

	tests := []struct {
		seq       int64
		gap       bool
		duplicate bool
	}{
		{seq: 0},
		{seq: 1},
		{seq: 1, duplicate: true},
		{seq: 3, gap: true},
		{seq: 4},
	}
	for _, tt := range tests {
		status, r := post(t, srv.URL, envelope("s-1", tt.seq))
		if status != http.StatusAccepted {
			t.Fatalf("seq %d status=%d", tt.seq, status)
		}
		if r.Gap != tt.gap || r.Duplicate != tt.duplicate {
			t.Fatalf("seq %d receipt=%+v, want gap=%v duplicate=%v", tt.seq, r, tt.gap, tt.duplicate)
		}
	}

	if got := testutil.ToFloat64(m.SequenceGaps); got != 1 {
		t.Fatalf("gaps=%v, want 1", got)
	}
	if got := testutil.ToFloat64(m.EnvelopesReceived.WithLabelValues("update")); got != 5 {
		t.Fatalf("received=%v, want 5", got)
	}
}

func TestReceiveRejectsInvalid(t *testing.T) {
	_, _, srv := newTestSink(t)

	tests := []struct {
		name string
		body string
	}{
		{"not json", "{"},
		{"no series", `{"meta":{"messageSequence":0},"type":"process.turbot.com:update"}`},
		{"no sequence", `{"meta":{"series":"s"},"type":"process.turbot.com:update"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := post(t, srv.URL, []byte(tt.body))
			if status != http.StatusBadRequest {
				t.Fatalf("status=%d, want 400", status)
			}
		})
	}
}

func TestListSeries(t *testing.T) {
	s, _, srv := newTestSink(t)
	post(t, srv.URL, envelope("s-2", 0))
	post(t, srv.URL, envelope("s-2", 1))

	resp, err := http.Get(srv.URL + "/v1/process-events/s-2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Events []*domain.ProcessEvent `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Events) != 2 || body.Events[1].Sequence() != 1 {
		t.Fatalf("events=%+v", body.Events)
	}
	if len(s.Events("s-2")) != 2 {
		t.Fatalf("Events returned %d", len(s.Events("s-2")))
	}

	resp, err = http.Get(srv.URL + "/v1/process-events/missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", resp.StatusCode)
	}
}

func TestStreamFansOut(t *testing.T) {
	s, _, srv := newTestSink(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/stream?series=s-3"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.hub.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber not registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	post(t, srv.URL, envelope("other", 0))
	post(t, srv.URL, envelope("s-3", 0))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev domain.ProcessEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Series() != "s-3" {
		t.Fatalf("series=%q, want filtered s-3", ev.Series())
	}
}

func TestHealthAndMetrics(t *testing.T) {
	_, _, srv := newTestSink(t)
	post(t, srv.URL, envelope("s-4", 0))

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status=%d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "test_cargo_envelopes_received_total") {
		t.Fatalf("metrics output missing received counter:\n%s", body)
	}
}

// 端到端：缓冲区 → 大载荷上传 → HTTP 发送器 → 接收端
func TestContainerDeliversLargePayloadToSink(t *testing.T) {
	s, _, srv := newTestSink(t)

	next := sender.NewHTTPSender(srv.URL+"/v1/process-events", 5*time.Second)
	wrapped := largecmd.NewSender(next, largecmd.NewPresignedUploader("", 5*time.Second), logging.Discard())

	c, err := cargo.New(cargo.Options{
		Meta:           map[string]any{largecmd.DefaultURLMetaKey: srv.URL + "/v1/uploads/run-1"},
		SoftLimitBytes: 2000,
	}, wrapped)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	big := strings.Repeat("x", 3000)
	if err := c.AdmitCommand(ctx, domain.NewCommand(domain.CommandResourcePut, nil, map[string]any{"blob": big})); err != nil {
		t.Fatalf("AdmitCommand: %v", err)
	}
	if !c.LargeMode() {
		t.Fatalf("expected large mode")
	}
	if _, err := c.FlushFinal(ctx); err != nil {
		t.Fatalf("FlushFinal: %v", err)
	}

	events := s.Events(c.Series())
	if len(events) != 1 {
		t.Fatalf("events=%d, want 1", len(events))
	}
	if !events[0].IsLargeCommand() || events[0].Payload != nil {
		t.Fatalf("envelope should be large-command without inline payload: %+v", events[0])
	}

	resp, err := http.Get(srv.URL + "/v1/uploads/run-1")
	if err != nil {
		t.Fatalf("get upload: %v", err)
	}
	defer resp.Body.Close()
	var payload domain.Payload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode upload: %v", err)
	}
	if len(payload.Commands) != 1 || payload.Commands[0].Type != domain.CommandResourcePut {
		t.Fatalf("uploaded payload=%+v", payload)
	}
}
