package models

import "time"

// Config 保存 appgate 的全局配置，可由 YAML 文件加载并被 APPGATE_ 环境变量覆盖。
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	Host      HostConfig      `yaml:"host"`
	Source    SourceConfig    `yaml:"source"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Server    ServerConfig    `yaml:"server"`
}

// HostConfig 描述宿主查询相关配置，留空时从运行环境推断。
type HostConfig struct {
	Platform         string        `yaml:"platform"`          // 平台标识覆盖，例如 android
	InstalledVersion string        `yaml:"installed_version"` // 安装版本覆盖
	QueryTimeout     time.Duration `yaml:"query_timeout"`     // 单次宿主查询超时
}

// 支持的远程配置订阅来源。
const (
	SourceHTTP  = "http"
	SourceRedis = "redis"
	SourceMQTT  = "mqtt"
	SourceDapr  = "dapr"
	SourceFile  = "file"
)

// SourceConfig 选择并配置远程配置文档的订阅通道。
type SourceConfig struct {
	Kind  string            `yaml:"kind"`
	HTTP  HTTPSourceConfig  `yaml:"http"`
	Redis RedisSourceConfig `yaml:"redis"`
	MQTT  MQTTSourceConfig  `yaml:"mqtt"`
	Dapr  DaprSourceConfig  `yaml:"dapr"`
	File  FileSourceConfig  `yaml:"file"`
}

// HTTPSourceConfig 配置轮询式 HTTP 文档源。
type HTTPSourceConfig struct {
	URL          string            `yaml:"url"`
	PollInterval time.Duration     `yaml:"poll_interval"`
	Timeout      time.Duration     `yaml:"timeout"`
	HTTP2        bool              `yaml:"http2"`
	Mirrors      map[string]string `yaml:"mirrors"` // 国家代码 -> 备用文档地址
}

// RedisSourceConfig 配置 Redis 键 + 变更通知频道。
type RedisSourceConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
	Channel  string `yaml:"channel"`
}

// MQTTSourceConfig 配置保留消息主题。
type MQTTSourceConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
}

// DaprSourceConfig 配置 Dapr 配置存储。
type DaprSourceConfig struct {
	Address string `yaml:"address"`
	Store   string `yaml:"store"`
	Key     string `yaml:"key"`
}

// FileSourceConfig 配置本地文档文件。
type FileSourceConfig struct {
	Path         string        `yaml:"path"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// TelemetryConfig 配置埋点事件的输出。
type TelemetryConfig struct {
	Log        bool     `yaml:"log"`
	Prometheus bool     `yaml:"prometheus"`
	KafkaTopic string   `yaml:"kafka_topic"`
	Kafka      []string `yaml:"kafka_brokers"`
}

// ServerConfig 配置对外 HTTP 接口。
type ServerConfig struct {
	Addr string `yaml:"addr"`
}
