package cmd

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/oriys/nimbus-cargo/internal/config"
	"github.com/oriys/nimbus-cargo/internal/domain"
	"github.com/oriys/nimbus-cargo/internal/runnable"
	"github.com/oriys/nimbus-cargo/internal/sender"
)

const script = `
# comment lines and blanks are skipped

{"kind":"log","level":"notice","message":"starting","data":{"n":1}}
{"kind":"command","command":{"type":"resource_put","meta":{"resourceId":"r-1"},"payload":{"a":1}}}
{"kind":"state","state":"ok","reason":"fine"}
{"kind":"flush"}
{"kind":"sleep","duration":"1ms"}
{"kind":"terminate"}
`

func TestReadRecords(t *testing.T) {
	records, err := readRecords(strings.NewReader(script))
	if err != nil {
		t.Fatalf("readRecords: %v", err)
	}
	if len(records) != 6 {
		t.Fatalf("records=%d, want 6", len(records))
	}
	if records[1].Command == nil || records[1].Command.Type != domain.CommandResourcePut {
		t.Fatalf("command record=%+v", records[1])
	}

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bad json", "{", "line 1"},
		{"missing kind", "\n{\"message\":\"x\"}", "line 2: missing kind"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readRecords(strings.NewReader(tt.input))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err=%v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestApplyRecords(t *testing.T) {
	records, err := readRecords(strings.NewReader(script))
	if err != nil {
		t.Fatalf("readRecords: %v", err)
	}

	var out bytes.Buffer
	r, err := runnable.New(nil, config.CargoConfig{Type: "control"}, runnable.Deps{Sender: sender.NewWriterSender(&out)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	ctx := context.Background()
	for i, rec := range records {
		final, err := rec.apply(ctx, r)
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		if final != (rec.Kind == recordTerminate) {
			t.Fatalf("record %d final=%v", i, final)
		}
	}
	r.Close()

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("envelopes=%d, want flush + terminate:\n%s", len(lines), out.String())
	}

	// 中途的 flush 记录发送 update 信封，终结只出现一次
	var text bytes.Buffer
	if err := printEnvelope(&text, []byte(lines[0]), "text"); err != nil {
		t.Fatalf("printEnvelope: %v", err)
	}
	if strings.Contains(text.String(), ":terminate") || !strings.Contains(text.String(), "process.turbot.com:update") ||
		!strings.Contains(text.String(), "command\tresource_put") {
		t.Fatalf("unexpected flush envelope:\n%s", text.String())
	}

	text.Reset()
	if err := printEnvelope(&text, []byte(lines[1]), "text"); err != nil {
		t.Fatalf("printEnvelope: %v", err)
	}
	if !strings.Contains(text.String(), "process.turbot.com:terminate") {
		t.Fatalf("unexpected terminate envelope:\n%s", text.String())
	}
}

func TestApplyUnknownKind(t *testing.T) {
	r, err := runnable.New(nil, config.CargoConfig{}, runnable.Deps{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	if _, err := (record{Kind: "explode"}).apply(context.Background(), r); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
	if _, err := (record{Kind: recordLog, Level: "loud"}).apply(context.Background(), r); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestPrintEnvelopeFormats(t *testing.T) {
	raw := []byte(`{"meta":{"series":"s","messageSequence":3},"type":"process.turbot.com:update","payload":{"log":[{"timestamp":"t","level":"info","message":"hi"}]}}`)

	tests := []struct {
		format string
		want   string
	}{
		{"json", `"messageSequence":3`},
		{"yaml", "messageSequence: 3"},
		{"text", "s\t#3\tprocess.turbot.com:update"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			if err := printEnvelope(&buf, raw, tt.format); err != nil {
				t.Fatalf("printEnvelope: %v", err)
			}
			if !strings.Contains(buf.String(), tt.want) {
				t.Fatalf("output=%q, want %q", buf.String(), tt.want)
			}
		})
	}
}
