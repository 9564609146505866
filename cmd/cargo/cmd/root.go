// Package cmd 包含 cargo CLI 工具的所有命令实现
// 使用 cobra 框架构建命令行接口，viper 负责标志、环境变量与配置文件的合并
package cmd

import (
	"fmt"
	"strings"

	"github.com/oriys/nimbus-cargo/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// 全局命令行标志变量
var (
	cfgFile   string // 配置文件路径
	outputFmt string // 输出格式（text/json/yaml）
)

// rootCmd 是 CLI 的根命令
var rootCmd = &cobra.Command{
	Use:   "cargo",
	Short: "nimbus-cargo - process event batching toolkit",
	Long: `cargo 在本地驱动调用期间的出站批处理缓冲区。

使用示例:
  # 以演练模式回放调用脚本，把信封打印到标准输出
  cargo replay testdata/invocation.ndjson --dry-run

  # 启动开发接收端
  cargo sink --addr :8090

  # 跟踪接收端收到的信封
  cargo tail --url ws://localhost:8090/v1/stream`,
	SilenceUsage: true,
}

// Execute 执行根命令
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件路径（默认为 ./cargo.yaml）")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "text", "输出格式（text、json、yaml）")
	rootCmd.PersistentFlags().String("log-level", "", "SDK 诊断日志级别（覆盖配置文件）")

	viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// initConfig 按优先级合并配置：命令行标志 > 环境变量 > 配置文件
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("cargo")
	}

	// 环境变量格式：NIMBUS_CARGO_<KEY>，如 NIMBUS_CARGO_OUTPUT
	viper.SetEnvPrefix("NIMBUS_CARGO")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// 配置文件可选，内容由 config.Load 解析
	_ = viper.ReadInConfig()
}

// loadConfig 加载 SDK 配置并叠加命令行覆盖项
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := viper.ConfigFileUsed(); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg = config.Default()
	}
	if err != nil {
		return nil, err
	}

	if level := viper.GetString("logging.level"); level != "" {
		cfg.Logging.Level = level
	}
	if addr := viper.GetString("sink.addr"); addr != "" {
		cfg.Sink.Addr = addr
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func outputFormat() string {
	return viper.GetString("output")
}
