package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{in: "emergency", want: LevelEmergency},
		{in: "emerg", want: LevelEmergency},
		{in: "Alert", want: LevelAlert},
		{in: "crit", want: LevelCritical},
		{in: "err", want: LevelError},
		{in: "warning", want: LevelWarning},
		{in: " notice ", want: LevelNotice},
		{in: "info", want: LevelInfo},
		{in: "debug", want: LevelDebug},
		{in: "trace", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidLevel) {
					t.Fatalf("err=%v, want ErrInvalidLevel", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got=%v, want %v", got, tt.want)
			}
		})
	}
}

func TestLevelEnabled(t *testing.T) {
	if !LevelError.Enabled(LevelInfo) {
		t.Fatalf("error should be enabled at info threshold")
	}
	if LevelDebug.Enabled(LevelInfo) {
		t.Fatalf("debug should be filtered at info threshold")
	}
	if LevelEmergency.Rank() != 0 || LevelDebug.Rank() != 7 {
		t.Fatalf("unexpected ranks: %d %d", LevelEmergency.Rank(), LevelDebug.Rank())
	}
}

func TestLogEntryJSON(t *testing.T) {
	entry := NewLogEntry(LevelWarning, "disk almost full", map[string]any{"free": 12})
	data, err := json.Marshal(entry)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded LogEntry
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Level != LevelWarning {
		t.Fatalf("level=%v, want warning", decoded.Level)
	}
	if decoded.Message != "disk almost full" {
		t.Fatalf("message=%q", decoded.Message)
	}
	if _, err := time.Parse(TimestampLayout, decoded.Timestamp); err != nil {
		t.Fatalf("timestamp %q not in layout: %v", decoded.Timestamp, err)
	}
}

func TestWrapData(t *testing.T) {
	if got := WrapData(nil); got != nil {
		t.Fatalf("nil data should stay nil, got %v", got)
	}
	obj := map[string]any{"a": 1}
	if got := WrapData(obj); got["a"] != 1 {
		t.Fatalf("object data should pass through, got %v", got)
	}
	if got := WrapData("plain"); got["data"] != "plain" {
		t.Fatalf("scalar data should be wrapped, got %v", got)
	}
	if got := WrapData([]int{1, 2}); got["data"] == nil {
		t.Fatalf("array data should be wrapped, got %v", got)
	}
}

func TestWrapDataObjectShapedValues(t *testing.T) {
	type disk struct {
		Mount string `json:"mount"`
		Free  int    `json:"free"`
	}

	tests := []struct {
		name string
		data any
		want map[string]any
	}{
		{"struct", disk{Mount: "/", Free: 12}, map[string]any{"mount": "/", "free": float64(12)}},
		{"struct pointer", &disk{Mount: "/var"}, map[string]any{"mount": "/var", "free": float64(0)}},
		{"string map", map[string]string{"region": "us-east-1"}, map[string]any{"region": "us-east-1"}},
		{"time stays wrapped", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), map[string]any{"data": time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WrapData(tt.data)
			if _, wrapped := got["data"]; wrapped != (tt.name == "time stays wrapped") {
				t.Fatalf("wrapped=%v, got %v", wrapped, got)
			}
			for k, v := range tt.want {
				if k == "data" {
					continue
				}
				if got[k] != v {
					t.Fatalf("%s=%v, want %v (got %v)", k, got[k], v, got)
				}
			}
		})
	}

	var nilDisk *disk
	if got := WrapData(nilDisk); got != nil {
		t.Fatalf("nil pointer should stay nil, got %v", got)
	}
}

func TestCommandStamp(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	cmd := NewCommand(CommandResourcePut, nil, map[string]any{"title": "x"})
	cmd.Stamp(now)
	if cmd.ID() == "" {
		t.Fatalf("id not assigned")
	}
	if cmd.Meta["timestamp"] != "2024-05-01T10:00:00.000Z" {
		t.Fatalf("timestamp=%v", cmd.Meta["timestamp"])
	}

	// 已存在的 ID 与时间戳保持不变
	id := cmd.ID()
	cmd.Stamp(now.Add(time.Hour))
	if cmd.ID() != id {
		t.Fatalf("id changed: %s -> %s", id, cmd.ID())
	}
	if cmd.Meta["timestamp"] != "2024-05-01T10:00:00.000Z" {
		t.Fatalf("timestamp overwritten: %v", cmd.Meta["timestamp"])
	}
}

func TestProcessEventAccessors(t *testing.T) {
	ev := &ProcessEvent{
		Meta: map[string]any{MetaSeries: "s-1", MetaMessageSequence: 3},
		Type: EventType("", PhaseTerminate),
	}
	if ev.Type != "process.turbot.com:terminate" {
		t.Fatalf("type=%q", ev.Type)
	}
	if ev.Phase() != PhaseTerminate {
		t.Fatalf("phase=%q", ev.Phase())
	}
	if ev.Series() != "s-1" || ev.Sequence() != 3 {
		t.Fatalf("series=%q sequence=%d", ev.Series(), ev.Sequence())
	}

	// JSON 往返后序号为 float64
	data, _ := json.Marshal(ev)
	var decoded ProcessEvent
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Sequence() != 3 {
		t.Fatalf("decoded sequence=%d", decoded.Sequence())
	}
	if decoded.Payload != nil {
		t.Fatalf("empty payload should be omitted")
	}
}

func TestRunnableType(t *testing.T) {
	if err := RunnableControl.Validate(); err != nil {
		t.Fatalf("control should be valid: %v", err)
	}
	if err := RunnableType("lambda").Validate(); !errors.Is(err, ErrInvalidRunnableType) {
		t.Fatalf("err=%v, want ErrInvalidRunnableType", err)
	}
	if RunnablePolicy.UpdateCommand() != "policy_update" || RunnableControl.NotifyCommand() != "control_notify" {
		t.Fatalf("unexpected command names")
	}
	if RunnableAction.IDKey() != "actionId" {
		t.Fatalf("id key=%q", RunnableAction.IDKey())
	}
}
