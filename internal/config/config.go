// Package config 提供了函数运行期 SDK 的配置管理功能。
// 该包负责从 YAML 配置文件加载配置，并支持通过环境变量覆盖敏感配置项（如密码和地址）。
// 配置在调用上下文创建时构建一次，之后视为不可变值。
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// 默认阈值（字节），与平台侧的传输限制保持一致
const (
	DefaultMaxItemBytes     = 200000
	DefaultSoftLimitBytes   = 250000
	DefaultHardCommandBytes = 1048576
	DefaultDelay            = 2000 * time.Millisecond
)

// 溢出策略取值
const (
	OverflowAuto         = "auto"
	OverflowFlush        = "flush"
	OverflowLargePayload = "large_payload"
)

// Config 是 SDK 的主配置结构体，包含所有子系统的配置。
// 该结构体通过 YAML 标签与配置文件进行映射。
type Config struct {
	// Cargo 批处理缓冲区配置
	Cargo CargoConfig `yaml:"cargo"`
	// Sender 传输层配置
	Sender SenderConfig `yaml:"sender"`
	// LargeCommand 大载荷带外投递配置
	LargeCommand LargeCommandConfig `yaml:"large_command"`
	// Logging 日志配置，包括日志级别和格式
	Logging LoggingConfig `yaml:"logging"`
	// Metrics 指标配置，用于 Prometheus 监控
	Metrics MetricsConfig `yaml:"metrics"`
	// Telemetry 遥测配置，用于分布式追踪
	Telemetry TelemetryConfig `yaml:"telemetry"`
	// Sink 开发用接收端配置
	Sink SinkConfig `yaml:"sink"`
}

// CargoConfig 批处理缓冲区配置结构体。
type CargoConfig struct {
	// Type 可运行单元类型：control、action、policy、report、scheduledAction
	// 默认值：control
	Type string `yaml:"type"`
	// Namespace 进程事件类型的命名空间
	// 默认值：turbot.com
	Namespace string `yaml:"namespace"`
	// Live 是否为长时运行会话（启用定时流式刷新）
	Live bool `yaml:"live"`
	// Inline 是否为严格内联模式（没有异步传输通道）
	Inline bool `yaml:"inline"`
	// Delay 流式刷新间隔
	// 默认值：2 秒
	Delay time.Duration `yaml:"delay"`
	// MaxItemBytes 单条日志的大小上限，超出时截断
	// 默认值：200000
	MaxItemBytes int `yaml:"max_item_bytes"`
	// SoftLimitBytes 缓冲区软上限
	// 默认值：250000
	SoftLimitBytes int `yaml:"soft_limit_bytes"`
	// HardCommandBytes 单条命令的硬上限，超出直接报错
	// 默认值：1048576（1 MiB）
	HardCommandBytes int `yaml:"hard_command_bytes"`
	// OverflowPolicy 累计溢出时的处理策略：auto、flush、large_payload
	// auto 表示长时会话刷新、非长时会话切换到大载荷模式
	// 默认值：auto
	OverflowPolicy string `yaml:"overflow_policy"`
	// LogLevel 记录日志条目的最低级别，为空时长时会话为 debug，其余为 info
	LogLevel string `yaml:"log_level"`
	// SensitiveKeys 额外视为敏感的键名
	SensitiveKeys []string `yaml:"sensitive_keys"`
	// SensitiveExceptions 不做脱敏的键名
	SensitiveExceptions []string `yaml:"sensitive_exceptions"`
}

// SenderConfig 传输层配置结构体。
type SenderConfig struct {
	// Kinds 启用的发送器列表：stdout、nats、http、outbox、websocket
	// 为空表示不发送（仅组装信封）
	Kinds []string `yaml:"kinds"`
	// NATS NATS JetStream 配置
	NATS NATSConfig `yaml:"nats"`
	// HTTP 平台回调地址配置
	HTTP HTTPConfig `yaml:"http"`
	// Postgres 发件箱（outbox）数据库配置
	Postgres PostgresConfig `yaml:"postgres"`
	// WebSocket 实时推送配置
	WebSocket WebSocketConfig `yaml:"websocket"`
}

// NATSConfig NATS 配置结构体。
type NATSConfig struct {
	// URL NATS 消息服务器 URL，如 "nats://localhost:4222"
	URL string `yaml:"url"`
	// Stream JetStream Stream 名称
	// 默认值：PROCESS_EVENTS
	Stream string `yaml:"stream"`
	// SubjectPrefix 发布 subject 前缀，实际 subject 为 <prefix>.<series>
	// 默认值：process
	SubjectPrefix string `yaml:"subject_prefix"`
}

// HTTPConfig HTTP 发送配置结构体。
type HTTPConfig struct {
	// URL 进程事件接收地址
	URL string `yaml:"url"`
	// Timeout 单次请求超时
	// 默认值：30 秒
	Timeout time.Duration `yaml:"timeout"`
}

// PostgresConfig PostgreSQL 数据库配置结构体。
type PostgresConfig struct {
	// Host 数据库主机地址
	Host string `yaml:"host"`
	// Port 数据库端口号
	// 默认值：5432
	Port int `yaml:"port"`
	// Database 数据库名称
	Database string `yaml:"database"`
	// User 数据库用户名
	User string `yaml:"user"`
	// Password 数据库密码，可通过环境变量 NIMBUS_CARGO_POSTGRES_PASSWORD 或
	// NIMBUS_CARGO_POSTGRES_PASSWORD_FILE（文件路径）覆盖
	Password string `yaml:"password"`
	// SSLMode 连接的 sslmode
	// 默认值：disable
	SSLMode string `yaml:"ssl_mode"`
	// Table 发件箱表名
	// 默认值：process_events
	Table string `yaml:"table"`
}

// WebSocketConfig WebSocket 推送配置结构体。
type WebSocketConfig struct {
	// URL WebSocket 地址，如 "ws://localhost:8090/v1/stream"
	URL string `yaml:"url"`
}

// LargeCommandConfig 大载荷带外投递配置结构体。
type LargeCommandConfig struct {
	// Backend 带外存储：presigned（HTTP PUT 到平台下发的地址）、redis、none
	// 默认值：presigned
	Backend string `yaml:"backend"`
	// URLMetaKey 调用元数据中携带上传地址的键
	// 默认值：largeCommandUrl
	URLMetaKey string `yaml:"url_meta_key"`
	// UploadTimeout 单次上传超时
	// 默认值：60 秒
	UploadTimeout time.Duration `yaml:"upload_timeout"`
	// Redis Redis 存储配置
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig Redis 配置结构体。
type RedisConfig struct {
	// Address Redis 服务器地址，格式为 "host:port"
	Address string `yaml:"address"`
	// Password Redis 密码，可通过环境变量 NIMBUS_CARGO_REDIS_PASSWORD 或
	// NIMBUS_CARGO_REDIS_PASSWORD_FILE（文件路径）覆盖
	Password string `yaml:"password"`
	// DB Redis 数据库编号（0-15）
	DB int `yaml:"db"`
	// TTL 大载荷保留时间
	// 默认值：1 小时
	TTL time.Duration `yaml:"ttl"`
	// KeyPrefix 键前缀
	// 默认值：cargo:large:
	KeyPrefix string `yaml:"key_prefix"`
}

// LoggingConfig 日志配置结构体。
type LoggingConfig struct {
	// Level 日志级别，可选值：debug、info、warn、error
	Level string `yaml:"level"`
	// Format 日志格式，可选值：json、text
	Format string `yaml:"format"`
}

// MetricsConfig 指标配置结构体。
type MetricsConfig struct {
	// Enabled 是否启用指标收集
	Enabled bool `yaml:"enabled"`
	// Namespace 指标命名空间前缀
	Namespace string `yaml:"namespace"`
}

// TelemetryConfig 遥测配置结构体。
type TelemetryConfig struct {
	// Enabled 是否启用遥测
	Enabled bool `yaml:"enabled"`
	// Endpoint OTLP 端点地址（如 "tempo:4317"）
	Endpoint string `yaml:"endpoint"`
	// ServiceName 服务名称，用于追踪标识
	// 默认值：nimbus-cargo
	ServiceName string `yaml:"service_name"`
	// SampleRate 采样率，范围 0.0 到 1.0
	SampleRate float64 `yaml:"sample_rate"`
	// Environment 环境标识（如 production、staging、development）
	Environment string `yaml:"environment"`
}

// SinkConfig 开发用接收端配置结构体。
type SinkConfig struct {
	// Addr 监听地址
	// 默认值：:8090
	Addr string `yaml:"addr"`
}

// Load 从指定路径加载配置文件。
// 该函数会读取 YAML 配置文件，应用默认值，并处理环境变量覆盖。
//
// 参数：
//   - path: 配置文件的路径
//
// 返回值：
//   - *Config: 加载并处理后的配置对象
//   - error: 如果读取、解析或校验失败则返回错误
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse 从 YAML 内容构建配置。
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default 返回仅包含默认值（及环境变量覆盖）的配置。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	return cfg
}

// Validate 校验配置的取值范围。
func (c *Config) Validate() error {
	switch c.Cargo.Type {
	case "control", "action", "policy", "report", "scheduledAction":
	default:
		return fmt.Errorf("config: invalid cargo.type %q", c.Cargo.Type)
	}
	switch c.Cargo.OverflowPolicy {
	case OverflowAuto, OverflowFlush, OverflowLargePayload:
	default:
		return fmt.Errorf("config: invalid cargo.overflow_policy %q", c.Cargo.OverflowPolicy)
	}
	if c.Cargo.SoftLimitBytes <= 0 || c.Cargo.MaxItemBytes <= 0 || c.Cargo.HardCommandBytes <= 0 {
		return fmt.Errorf("config: cargo limits must be positive")
	}
	if c.Cargo.HardCommandBytes < c.Cargo.SoftLimitBytes {
		return fmt.Errorf("config: cargo.hard_command_bytes (%d) below soft_limit_bytes (%d)",
			c.Cargo.HardCommandBytes, c.Cargo.SoftLimitBytes)
	}
	for _, kind := range c.Sender.Kinds {
		switch kind {
		case "stdout", "nats", "http", "outbox", "websocket":
		default:
			return fmt.Errorf("config: unknown sender kind %q", kind)
		}
	}
	switch c.LargeCommand.Backend {
	case "presigned", "redis", "none":
	default:
		return fmt.Errorf("config: invalid large_command.backend %q", c.LargeCommand.Backend)
	}
	return nil
}

// DSN 返回 lib/pq 使用的连接串。
func (p PostgresConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(p.User, p.Password),
		Host:   p.Host + ":" + strconv.Itoa(p.Port),
		Path:   "/" + p.Database,
	}
	q := url.Values{}
	q.Set("sslmode", p.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// applyEnvOverrides 应用环境变量覆盖。
// 该方法允许通过环境变量覆盖敏感配置项与运行期开关，支持两种方式：
// 1. 直接设置环境变量（如 NIMBUS_CARGO_REDIS_PASSWORD）
// 2. 通过 _FILE 后缀指定包含密钥的文件路径（如 NIMBUS_CARGO_REDIS_PASSWORD_FILE）
// _FILE 方式优先级更高，适用于 Docker Secrets 等场景。
func (c *Config) applyEnvOverrides() {
	if v := readEnvOrFileAny(
		[]string{"NIMBUS_CARGO_POSTGRES_PASSWORD"},
		[]string{"NIMBUS_CARGO_POSTGRES_PASSWORD_FILE"},
	); v != "" {
		c.Sender.Postgres.Password = v
	}
	if v := readEnvOrFileAny(
		[]string{"NIMBUS_CARGO_REDIS_PASSWORD"},
		[]string{"NIMBUS_CARGO_REDIS_PASSWORD_FILE"},
	); v != "" {
		c.LargeCommand.Redis.Password = v
	}

	if v := strings.TrimSpace(os.Getenv("NIMBUS_CARGO_NATS_URL")); v != "" {
		c.Sender.NATS.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("NIMBUS_CARGO_HTTP_URL")); v != "" {
		c.Sender.HTTP.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("NIMBUS_CARGO_LIVE")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Cargo.Live = b
		}
	}
	if v := strings.TrimSpace(os.Getenv("NIMBUS_CARGO_INLINE")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Cargo.Inline = b
		}
	}
}

// readEnvOrFileAny 从环境变量或文件读取配置值。
// 优先从 fileKeys 指定的文件路径读取，如果文件不存在或读取失败，
// 则从 envKeys 指定的环境变量读取。
func readEnvOrFileAny(envKeys []string, fileKeys []string) string {
	for _, fileKey := range fileKeys {
		if filePath := strings.TrimSpace(os.Getenv(fileKey)); filePath != "" {
			if b, err := os.ReadFile(filePath); err == nil {
				return strings.TrimSpace(string(b))
			}
		}
	}

	for _, envKey := range envKeys {
		if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
			return v
		}
	}

	return ""
}

// applyDefaults 应用默认配置值。
// 该方法为未设置的配置项填充合理的默认值。
func (c *Config) applyDefaults() {
	// 可运行单元类型默认为 control
	if c.Cargo.Type == "" {
		c.Cargo.Type = "control"
	}
	if c.Cargo.Namespace == "" {
		c.Cargo.Namespace = "turbot.com"
	}
	// 流式刷新间隔默认为 2 秒
	if c.Cargo.Delay == 0 {
		c.Cargo.Delay = DefaultDelay
	}
	if c.Cargo.MaxItemBytes == 0 {
		c.Cargo.MaxItemBytes = DefaultMaxItemBytes
	}
	if c.Cargo.SoftLimitBytes == 0 {
		c.Cargo.SoftLimitBytes = DefaultSoftLimitBytes
	}
	if c.Cargo.HardCommandBytes == 0 {
		c.Cargo.HardCommandBytes = DefaultHardCommandBytes
	}
	if c.Cargo.OverflowPolicy == "" {
		c.Cargo.OverflowPolicy = OverflowAuto
	}
	// NATS Stream 默认为 PROCESS_EVENTS
	if c.Sender.NATS.Stream == "" {
		c.Sender.NATS.Stream = "PROCESS_EVENTS"
	}
	if c.Sender.NATS.SubjectPrefix == "" {
		c.Sender.NATS.SubjectPrefix = "process"
	}
	// HTTP 超时默认为 30 秒
	if c.Sender.HTTP.Timeout == 0 {
		c.Sender.HTTP.Timeout = 30 * time.Second
	}
	if c.Sender.Postgres.Port == 0 {
		c.Sender.Postgres.Port = 5432
	}
	if c.Sender.Postgres.SSLMode == "" {
		c.Sender.Postgres.SSLMode = "disable"
	}
	if c.Sender.Postgres.Table == "" {
		c.Sender.Postgres.Table = "process_events"
	}
	if c.LargeCommand.Backend == "" {
		c.LargeCommand.Backend = "presigned"
	}
	if c.LargeCommand.URLMetaKey == "" {
		c.LargeCommand.URLMetaKey = "largeCommandUrl"
	}
	// 上传超时默认为 60 秒
	if c.LargeCommand.UploadTimeout == 0 {
		c.LargeCommand.UploadTimeout = 60 * time.Second
	}
	if c.LargeCommand.Redis.TTL == 0 {
		c.LargeCommand.Redis.TTL = time.Hour
	}
	if c.LargeCommand.Redis.KeyPrefix == "" {
		c.LargeCommand.Redis.KeyPrefix = "cargo:large:"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "nimbus"
	}
	// 遥测服务名称默认为 nimbus-cargo
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "nimbus-cargo"
	}
	if c.Telemetry.Endpoint == "" {
		c.Telemetry.Endpoint = "tempo:4317"
	}
	if c.Telemetry.SampleRate == 0 {
		c.Telemetry.SampleRate = 0.1
	}
	if c.Telemetry.Environment == "" {
		c.Telemetry.Environment = "development"
	}
	if c.Sink.Addr == "" {
		c.Sink.Addr = ":8090"
	}
}
