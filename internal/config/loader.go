// Package config 负责加载 appgate 配置：YAML 文件、默认值与 APPGATE_ 环境变量覆盖。
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/liangyou/appgate/pkg/models"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// EnvPrefix 是环境变量覆盖的前缀。
const EnvPrefix = "APPGATE_"

// Default 返回带默认值的配置。
func Default() models.Config {
	return models.Config{
		LogLevel: "info",
		Host: models.HostConfig{
			QueryTimeout: 2 * time.Second,
		},
		Source: models.SourceConfig{
			Kind: models.SourceHTTP,
			HTTP: models.HTTPSourceConfig{
				PollInterval: 30 * time.Second,
				Timeout:      10 * time.Second,
			},
			Redis: models.RedisSourceConfig{Addr: "localhost:6379"},
			MQTT:  models.MQTTSourceConfig{QoS: 1},
			File:  models.FileSourceConfig{PollInterval: 5 * time.Second},
		},
		Telemetry: models.TelemetryConfig{
			Log:        true,
			Prometheus: true,
			KafkaTopic: "appgate.telemetry",
		},
		Server: models.ServerConfig{Addr: ":8080"},
	}
}

// Load 读取配置文件、应用环境变量覆盖并校验。
func Load(path string) (models.Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return models.Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return models.Config{}, err
	}
	return cfg, nil
}

// Read 读取配置文件并应用环境变量覆盖，不做校验。path 为空或文件不存在时只使用默认值与环境变量。
func Read(path string) (models.Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return models.Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return models.Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return models.Config{}, err
	}
	return cfg, nil
}

// ApplyEnv 使用 lookup 查询到的 APPGATE_* 变量覆盖配置。
func ApplyEnv(cfg *models.Config, lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(EnvPrefix + key); ok {
			b, err := cast.ToBoolE(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok {
			n, err := cast.ToIntE(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + key); ok {
			d, err := cast.ToDurationE(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = d
		}
	}

	str("LOG_LEVEL", &cfg.LogLevel)

	str("PLATFORM", &cfg.Host.Platform)
	str("INSTALLED_VERSION", &cfg.Host.InstalledVersion)
	duration("HOST_QUERY_TIMEOUT", &cfg.Host.QueryTimeout)

	str("SOURCE_KIND", &cfg.Source.Kind)
	str("HTTP_URL", &cfg.Source.HTTP.URL)
	duration("HTTP_POLL_INTERVAL", &cfg.Source.HTTP.PollInterval)
	duration("HTTP_TIMEOUT", &cfg.Source.HTTP.Timeout)
	boolean("HTTP2", &cfg.Source.HTTP.HTTP2)

	str("REDIS_ADDR", &cfg.Source.Redis.Addr)
	str("REDIS_PASSWORD", &cfg.Source.Redis.Password)
	integer("REDIS_DB", &cfg.Source.Redis.DB)
	str("REDIS_KEY", &cfg.Source.Redis.Key)
	str("REDIS_CHANNEL", &cfg.Source.Redis.Channel)

	str("MQTT_BROKER", &cfg.Source.MQTT.Broker)
	str("MQTT_CLIENT_ID", &cfg.Source.MQTT.ClientID)
	str("MQTT_USERNAME", &cfg.Source.MQTT.Username)
	str("MQTT_PASSWORD", &cfg.Source.MQTT.Password)
	str("MQTT_TOPIC", &cfg.Source.MQTT.Topic)
	if v, ok := lookup(EnvPrefix + "MQTT_QOS"); ok {
		q, err := cast.ToUint8E(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: %sMQTT_QOS: %w", EnvPrefix, err))
		} else {
			cfg.Source.MQTT.QoS = q
		}
	}

	str("DAPR_ADDRESS", &cfg.Source.Dapr.Address)
	str("DAPR_STORE", &cfg.Source.Dapr.Store)
	str("DAPR_KEY", &cfg.Source.Dapr.Key)

	str("FILE_PATH", &cfg.Source.File.Path)
	duration("FILE_POLL_INTERVAL", &cfg.Source.File.PollInterval)

	boolean("TELEMETRY_LOG", &cfg.Telemetry.Log)
	boolean("TELEMETRY_PROMETHEUS", &cfg.Telemetry.Prometheus)
	str("KAFKA_TOPIC", &cfg.Telemetry.KafkaTopic)
	if v, ok := lookup(EnvPrefix + "KAFKA_BROKERS"); ok {
		cfg.Telemetry.Kafka = splitList(v)
	}

	str("SERVER_ADDR", &cfg.Server.Addr)

	return errors.Join(errs...)
}

// Validate 检查配置是否可用。
func Validate(cfg models.Config) error {
	if cfg.Host.Platform != "" && !models.PlatformID(strings.ToLower(cfg.Host.Platform)).Valid() {
		return fmt.Errorf("config: unsupported platform %q", cfg.Host.Platform)
	}
	if cfg.Host.QueryTimeout < 0 {
		return errors.New("config: host query timeout must not be negative")
	}

	src := cfg.Source
	switch strings.ToLower(strings.TrimSpace(src.Kind)) {
	case models.SourceHTTP, "":
		if src.HTTP.URL == "" {
			return errors.New("config: source.http.url is required")
		}
		if src.HTTP.PollInterval < time.Second {
			return errors.New("config: source.http.poll_interval must be at least 1s")
		}
	case models.SourceRedis:
		if src.Redis.Key == "" {
			return errors.New("config: source.redis.key is required")
		}
	case models.SourceMQTT:
		if src.MQTT.Broker == "" || src.MQTT.Topic == "" {
			return errors.New("config: source.mqtt.broker and topic are required")
		}
		if src.MQTT.QoS > 2 {
			return fmt.Errorf("config: source.mqtt.qos %d out of range", src.MQTT.QoS)
		}
	case models.SourceDapr:
		if src.Dapr.Store == "" || src.Dapr.Key == "" {
			return errors.New("config: source.dapr.store and key are required")
		}
	case models.SourceFile:
		if strings.TrimSpace(src.File.Path) == "" {
			return errors.New("config: source.file.path is required")
		}
	default:
		return fmt.Errorf("config: unknown source kind %q", src.Kind)
	}

	if len(cfg.Telemetry.Kafka) > 0 && cfg.Telemetry.KafkaTopic == "" {
		return errors.New("config: telemetry.kafka_topic is required when brokers are set")
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
