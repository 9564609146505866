package cmd

import (
	"bytes"
	"encoding/json"
	"runtime/debug"
	"strings"
	"testing"

	"github.com/oriys/nimbus-cargo/internal/config"
	"github.com/oriys/nimbus-cargo/internal/domain"
)

func TestCurrentVersionFromBuildInfo(t *testing.T) {
	build := &debug.BuildInfo{
		Main: debug.Module{Path: "github.com/oriys/nimbus-cargo", Version: "v0.3.1"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "abc123"},
			{Key: "vcs.time", Value: "2024-05-01T10:00:00Z"},
		},
	}
	info := currentVersion(build)
	if info.Version != "v0.3.1" || info.GitCommit != "abc123" || info.BuildDate != "2024-05-01T10:00:00Z" {
		t.Fatalf("info=%+v", info)
	}
	if info.Namespace != domain.DefaultNamespace || info.SoftLimitBytes != config.DefaultSoftLimitBytes {
		t.Fatalf("batching defaults=%+v", info)
	}

	// 本地构建的 (devel) 不覆盖默认版本
	build.Main.Version = "(devel)"
	if got := currentVersion(build).Version; got != Version {
		t.Fatalf("version=%q, want %q", got, Version)
	}
	if got := currentVersion(nil); got.GitCommit != GitCommit {
		t.Fatalf("nil build info changed commit: %+v", got)
	}
}

func TestWriteVersionFormats(t *testing.T) {
	info := currentVersion(nil)

	var text bytes.Buffer
	if err := writeVersion(&text, info, "text"); err != nil {
		t.Fatalf("writeVersion: %v", err)
	}
	if !strings.Contains(text.String(), "Namespace:    "+domain.DefaultNamespace) || !strings.Contains(text.String(), "soft 250000 B") {
		t.Fatalf("text output:\n%s", text.String())
	}

	var out bytes.Buffer
	if err := writeVersion(&out, info, "json"); err != nil {
		t.Fatalf("writeVersion: %v", err)
	}
	var decoded versionInfo
	if err := json.Unmarshal(out.Bytes(), &decoded); err != nil {
		t.Fatalf("json output: %v", err)
	}
	if decoded != info {
		t.Fatalf("decoded=%+v, want %+v", decoded, info)
	}

	out.Reset()
	if err := writeVersion(&out, info, "yaml"); err != nil {
		t.Fatalf("writeVersion: %v", err)
	}
	if !strings.Contains(out.String(), "hardCommandBytes: 1048576") {
		t.Fatalf("yaml output:\n%s", out.String())
	}
}
