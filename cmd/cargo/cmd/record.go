package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/oriys/nimbus-cargo/internal/domain"
	"github.com/oriys/nimbus-cargo/internal/runnable"
)

// 回放脚本的记录类型
const (
	recordLog       = "log"
	recordCommand   = "command"
	recordState     = "state"
	recordNextRun   = "next_run"
	recordFlush     = "flush"
	recordTerminate = "terminate"
	recordSleep     = "sleep"
)

// record 是回放脚本中的一行。
//
//	{"kind":"log","level":"info","message":"hello","data":{"a":1}}
//	{"kind":"command","command":{"type":"resource_put","meta":{"resourceId":"r-1"},"payload":{}}}
//	{"kind":"state","state":"ok","reason":"all good"}
//	{"kind":"next_run","cron":"0 * * * *"}
//	{"kind":"flush"}
//	{"kind":"sleep","duration":"2s"}
//	{"kind":"terminate"}
type record struct {
	Kind     string          `json:"kind"`
	Level    string          `json:"level,omitempty"`
	Message  string          `json:"message,omitempty"`
	Data     any             `json:"data,omitempty"`
	Command  *domain.Command `json:"command,omitempty"`
	State    string          `json:"state,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	Cron     string          `json:"cron,omitempty"`
	Duration string          `json:"duration,omitempty"`
}

// readRecords 逐行解析 NDJSON 回放脚本，跳过空行与 # 注释
func readRecords(r io.Reader) ([]record, error) {
	var records []record
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16<<20)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var rec record
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if rec.Kind == "" {
			return nil, fmt.Errorf("line %d: missing kind", line)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// apply 在调用上下文上执行一条记录，返回是否已经完成终结发送
func (rec record) apply(ctx context.Context, r *runnable.Runnable) (bool, error) {
	switch rec.Kind {
	case recordLog:
		level := domain.LevelInfo
		if rec.Level != "" {
			l, err := domain.ParseLevel(rec.Level)
			if err != nil {
				return false, err
			}
			level = l
		}
		return false, r.Container().Log(ctx, level, rec.Message, rec.Data)

	case recordCommand:
		if rec.Command == nil || rec.Command.Type == "" {
			return false, fmt.Errorf("command record without command type")
		}
		return false, r.Command(ctx, rec.Command)

	case recordState:
		return false, r.SetState(ctx, rec.State, runnable.StateOptions{Reason: rec.Reason, Data: rec.Data})

	case recordNextRun:
		return false, r.NextRun(rec.Cron)

	case recordFlush:
		// 脚本中途的刷新只发送 update 信封，终结留给 terminate 记录或脚本结束；
		// 大载荷模式下该刷新被推迟
		r.Container().Flush(ctx)
		return false, nil

	case recordSleep:
		d, err := time.ParseDuration(rec.Duration)
		if err != nil {
			return false, fmt.Errorf("sleep duration: %w", err)
		}
		select {
		case <-time.After(d):
			return false, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}

	case recordTerminate:
		if err := r.Terminate(ctx); err != nil {
			return false, err
		}
		_, err := r.SendFinal(ctx)
		return true, err
	}
	return false, fmt.Errorf("unknown record kind %q", rec.Kind)
}
