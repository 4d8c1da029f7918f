package remote

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/liangyou/appgate/pkg/models"
)

// New 根据配置创建文档源。返回值若实现 io.Closer，调用方负责在退出时关闭。
func New(cfg models.SourceConfig, logger *slog.Logger, httpOpts ...HTTPOption) (Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case models.SourceHTTP, "":
		if cfg.HTTP.URL == "" {
			return nil, fmt.Errorf("remote: http source url is required")
		}
		client, err := NewHTTPClient(cfg.HTTP.Timeout, cfg.HTTP.HTTP2)
		if err != nil {
			return nil, err
		}
		opts := append([]HTTPOption{
			WithHTTPClient(client),
			WithPollInterval(cfg.HTTP.PollInterval),
			WithLogger(logger),
		}, httpOpts...)
		return NewHTTPSource(cfg.HTTP.URL, opts...), nil
	case models.SourceRedis:
		return NewRedisSource(cfg.Redis, logger)
	case models.SourceMQTT:
		return NewMQTTSource(cfg.MQTT, logger)
	case models.SourceDapr:
		return NewDaprSource(cfg.Dapr, logger)
	case models.SourceFile:
		return NewFileSource(cfg.File, logger)
	default:
		return nil, fmt.Errorf("remote: unknown source kind %q", cfg.Kind)
	}
}
