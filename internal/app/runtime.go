// Package app 组装各组件，为 CLI 提供一次性检查与常驻订阅两种运行方式。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/liangyou/appgate/internal/api"
	"github.com/liangyou/appgate/internal/config"
	"github.com/liangyou/appgate/internal/gate"
	"github.com/liangyou/appgate/internal/logger"
	"github.com/liangyou/appgate/internal/platform"
	"github.com/liangyou/appgate/internal/presentation"
	"github.com/liangyou/appgate/internal/region"
	"github.com/liangyou/appgate/internal/remote"
	"github.com/liangyou/appgate/internal/telemetry"
	"github.com/liangyou/appgate/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const defaultCheckTimeout = 15 * time.Second

// Runtime 实现 cli.CheckService 与 cli.WatchService。
type Runtime struct {
	version   string
	logOutput io.Writer
}

// NewRuntime 创建运行时，日志写入 logOutput（为 nil 时使用 stderr）。
func NewRuntime(version string, logOutput io.Writer) *Runtime {
	if logOutput == nil {
		logOutput = os.Stderr
	}
	return &Runtime{version: version, logOutput: logOutput}
}

// Check 读取一次配置文档并评估门禁状态，不发送埋点。
func (r *Runtime) Check(ctx context.Context, configPath, docPath string) (models.Published, error) {
	cfg, err := config.Read(configPath)
	if err != nil {
		return models.Published{}, err
	}
	if docPath != "" {
		cfg.Source.Kind = models.SourceFile
		cfg.Source.File.Path = docPath
	}
	if err := config.Validate(cfg); err != nil {
		return models.Published{}, err
	}
	log := logger.InitWithWriter(r.logOutput, cfg.LogLevel)

	resolver := platform.NewResolver(cfg.Host)
	if err := resolver.Validate(); err != nil {
		return models.Published{}, err
	}

	source, err := remote.New(cfg.Source, log, regionOptions(cfg.Source.HTTP, log)...)
	if err != nil {
		return models.Published{}, err
	}
	defer closeIfCloser(source, log)

	ctx, cancel := context.WithTimeout(ctx, defaultCheckTimeout)
	defer cancel()
	snap, err := FirstSnapshot(ctx, source)
	if err != nil {
		return models.Published{}, err
	}

	pub, err := gate.EvaluateDocument(ctx, resolver, snap.Document)
	if err != nil {
		return models.Published{}, err
	}
	pub.Origin = snap.Origin
	return pub, nil
}

// FirstSnapshot 订阅来源并等待第一次送达的快照或通道错误。
func FirstSnapshot(ctx context.Context, source remote.Source) (remote.Snapshot, error) {
	snaps := make(chan remote.Snapshot, 1)
	errs := make(chan error, 1)
	sub, err := source.Subscribe(ctx,
		func(s remote.Snapshot) {
			select {
			case snaps <- s:
			default:
			}
		},
		func(err error) {
			select {
			case errs <- err:
			default:
			}
		})
	if err != nil {
		return remote.Snapshot{}, err
	}
	defer sub.Unsubscribe()

	select {
	case s := <-snaps:
		return s, nil
	case err := <-errs:
		return remote.Snapshot{}, err
	case <-ctx.Done():
		return remote.Snapshot{}, fmt.Errorf("app: waiting for config document: %w", ctx.Err())
	}
}

// Watch 启动订阅、埋点与 HTTP 接口，ctx 取消后依次停止。
func (r *Runtime) Watch(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.InitWithWriter(r.logOutput, cfg.LogLevel)

	resolver := platform.NewResolver(cfg.Host)
	if err := resolver.Validate(); err != nil {
		return err
	}

	source, err := remote.New(cfg.Source, log, regionOptions(cfg.Source.HTTP, log)...)
	if err != nil {
		return err
	}
	defer closeIfCloser(source, log)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	sinks, promSink, closers, err := buildSinks(cfg.Telemetry, registry, log)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				log.Warn("close telemetry sink", "error", err)
			}
		}
	}()

	var server *api.Server
	watcher := gate.NewWatcher(source, resolver, sinks,
		gate.WithLogger(log),
		gate.WithConnectivity(func(err error) { server.ReportTransportError(err) }))
	presenter := presentation.NewGate(platform.NewSystemHost(log), sinks, log)
	server = api.NewServer(watcher, presenter, registry, log, r.version)

	presenter.Attach(watcher)
	watcher.Subscribe(server.MarkHealthy)
	if promSink != nil {
		watcher.Subscribe(func(p models.Published) { promSink.SetState(p.State) })
	}

	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := watcher.Stop(); err != nil {
			log.Warn("stop watcher", "error", err)
		}
	}()

	return server.ListenAndServe(ctx, cfg.Server.Addr)
}

func buildSinks(cfg models.TelemetryConfig, reg prometheus.Registerer, log *slog.Logger) (telemetry.Multi, *telemetry.PrometheusSink, []io.Closer, error) {
	var (
		sinks    telemetry.Multi
		promSink *telemetry.PrometheusSink
		closers  []io.Closer
	)
	if cfg.Log {
		sinks = append(sinks, telemetry.NewLogSink(log))
	}
	if cfg.Prometheus {
		s, err := telemetry.NewPrometheusSink(reg)
		if err != nil {
			return nil, nil, nil, err
		}
		promSink = s
		sinks = append(sinks, s)
	}
	if len(cfg.Kafka) > 0 {
		s, err := telemetry.NewKafkaSink(cfg.Kafka, cfg.KafkaTopic, log)
		if err != nil {
			return nil, nil, nil, err
		}
		sinks = append(sinks, s)
		closers = append(closers, s)
	}
	return sinks, promSink, closers, nil
}

func regionOptions(cfg models.HTTPSourceConfig, log *slog.Logger) []remote.HTTPOption {
	if len(cfg.Mirrors) == 0 {
		return nil
	}
	detector := region.NewDetector(region.WithLogger(log))
	return []remote.HTTPOption{remote.WithRegionMirrors(detector, cfg.Mirrors)}
}

func closeIfCloser(source remote.Source, log *slog.Logger) {
	c, ok := source.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("close config source", "error", err)
	}
}
