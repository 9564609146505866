package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime"
	"runtime/debug"

	"github.com/oriys/nimbus-cargo/internal/config"
	"github.com/oriys/nimbus-cargo/internal/domain"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// 版本信息，发布构建通过 ldflags 注入：
// go build -ldflags "-X github.com/oriys/nimbus-cargo/cmd/cargo/cmd.Version=1.0.0"
// 未注入时从模块构建信息（go install 的版本号与 vcs 标记）回填。
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// versionInfo 除了构建信息，还包含该构建的信封命名空间与默认大小上限，
// 便于排查 SDK 与平台之间的批处理配置差异。
type versionInfo struct {
	Version          string `json:"version" yaml:"version"`
	GitCommit        string `json:"gitCommit" yaml:"gitCommit"`
	BuildDate        string `json:"buildDate" yaml:"buildDate"`
	GoVersion        string `json:"goVersion" yaml:"goVersion"`
	Platform         string `json:"platform" yaml:"platform"`
	Namespace        string `json:"namespace" yaml:"namespace"`
	MaxItemBytes     int    `json:"maxItemBytes" yaml:"maxItemBytes"`
	SoftLimitBytes   int    `json:"softLimitBytes" yaml:"softLimitBytes"`
	HardCommandBytes int    `json:"hardCommandBytes" yaml:"hardCommandBytes"`
}

func currentVersion(build *debug.BuildInfo) versionInfo {
	info := versionInfo{
		Version:          Version,
		GitCommit:        GitCommit,
		BuildDate:        BuildDate,
		GoVersion:        runtime.Version(),
		Platform:         runtime.GOOS + "/" + runtime.GOARCH,
		Namespace:        domain.DefaultNamespace,
		MaxItemBytes:     config.DefaultMaxItemBytes,
		SoftLimitBytes:   config.DefaultSoftLimitBytes,
		HardCommandBytes: config.DefaultHardCommandBytes,
	}
	if build == nil {
		return info
	}
	if info.Version == "dev" && build.Main.Version != "" && build.Main.Version != "(devel)" {
		info.Version = build.Main.Version
	}
	for _, s := range build.Settings {
		switch {
		case s.Key == "vcs.revision" && info.GitCommit == "unknown":
			info.GitCommit = s.Value
		case s.Key == "vcs.time" && info.BuildDate == "unknown":
			info.BuildDate = s.Value
		}
	}
	return info
}

func writeVersion(w io.Writer, info versionInfo, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	case "yaml":
		return yaml.NewEncoder(w).Encode(info)
	}

	fmt.Fprintf(w, "cargo version %s\n", info.Version)
	fmt.Fprintf(w, "  Git commit:   %s\n", info.GitCommit)
	fmt.Fprintf(w, "  Build date:   %s\n", info.BuildDate)
	fmt.Fprintf(w, "  Go version:   %s\n", info.GoVersion)
	fmt.Fprintf(w, "  OS/Arch:      %s\n", info.Platform)
	fmt.Fprintf(w, "  Namespace:    %s\n", info.Namespace)
	_, err := fmt.Fprintf(w, "  Limits:       item %d B, soft %d B, command %d B\n",
		info.MaxItemBytes, info.SoftLimitBytes, info.HardCommandBytes)
	return err
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and batching defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		build, _ := debug.ReadBuildInfo()
		return writeVersion(cmd.OutOrStdout(), currentVersion(build), outputFormat())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
