package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	dapr "github.com/dapr/go-sdk/client"
	"github.com/liangyou/appgate/pkg/models"
)

// DaprConfigClient 是 Dapr 配置 API 中本包使用的部分，dapr.Client 满足该接口。
type DaprConfigClient interface {
	GetConfigurationItems(ctx context.Context, storeName string, keys []string, opts ...dapr.ConfigurationOpt) (map[string]*dapr.ConfigurationItem, error)
	SubscribeConfigurationItems(ctx context.Context, storeName string, keys []string, handler dapr.ConfigurationHandleFunction, opts ...dapr.ConfigurationOpt) (string, error)
	UnsubscribeConfigurationItems(ctx context.Context, storeName string, id string, opts ...dapr.ConfigurationOpt) error
}

// DaprSource 通过 Dapr 配置存储中的单个键订阅文档。
type DaprSource struct {
	client DaprConfigClient
	store  string
	key    string
	logger *slog.Logger
	closer func()
}

// NewDaprSource 连接 Dapr sidecar。
func NewDaprSource(cfg models.DaprSourceConfig, logger *slog.Logger) (*DaprSource, error) {
	if cfg.Store == "" || cfg.Key == "" {
		return nil, errors.New("remote: dapr store and key are required")
	}
	var (
		client dapr.Client
		err    error
	)
	if cfg.Address != "" {
		client, err = dapr.NewClientWithAddress(cfg.Address)
	} else {
		client, err = dapr.NewClient()
	}
	if err != nil {
		return nil, fmt.Errorf("remote: dapr client: %w", err)
	}
	s := NewDaprSourceWithClient(client, cfg.Store, cfg.Key, logger)
	s.closer = client.Close
	return s, nil
}

// NewDaprSourceWithClient 使用已有客户端创建 DaprSource。
func NewDaprSourceWithClient(client DaprConfigClient, store, key string, logger *slog.Logger) *DaprSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &DaprSource{client: client, store: store, key: key, logger: logger}
}

// Close 关闭 Dapr 客户端连接。
func (s *DaprSource) Close() error {
	if s.closer != nil {
		s.closer()
	}
	return nil
}

// Subscribe 先订阅配置键再读取当前值。
func (s *DaprSource) Subscribe(ctx context.Context, onSnapshot SnapshotFunc, onError ErrorFunc) (Subscription, error) {
	if onSnapshot == nil {
		return nil, errors.New("remote: snapshot handler is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	sub := &daprSubscription{source: s, ctx: ctx, cancel: cancel, onSnapshot: onSnapshot, onError: onError}

	id, err := s.client.SubscribeConfigurationItems(ctx, s.store, []string{s.key}, sub.handle)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("remote: dapr subscribe: %w", err)
	}
	sub.id = id

	sub.wg.Add(1)
	go func() {
		defer sub.wg.Done()
		items, err := s.client.GetConfigurationItems(ctx, s.store, []string{s.key})
		if err != nil {
			if ctx.Err() == nil {
				sub.reportError(fmt.Errorf("remote: dapr get: %w", err))
			}
			return
		}
		sub.apply(items[s.key])
	}()
	return sub, nil
}

type daprSubscription struct {
	source     *DaprSource
	ctx        context.Context
	cancel     context.CancelFunc
	id         string
	onSnapshot SnapshotFunc
	onError    ErrorFunc
	guard      deliveryGuard
	wg         sync.WaitGroup
}

func (d *daprSubscription) handle(_ string, items map[string]*dapr.ConfigurationItem) {
	item, ok := items[d.source.key]
	if !ok {
		return
	}
	d.apply(item)
}

func (d *daprSubscription) apply(item *dapr.ConfigurationItem) {
	doc := models.Document{}
	if item != nil && item.Value != "" {
		parsed, err := ParseDocument([]byte(item.Value), d.source.logger)
		if err != nil {
			d.reportError(err)
			return
		}
		doc = parsed
	}
	snap := newSnapshot(doc, "dapr:"+d.source.store+"/"+d.source.key)
	d.guard.deliver(func() { d.onSnapshot(snap) })
}

func (d *daprSubscription) reportError(err error) {
	if d.onError == nil {
		return
	}
	d.guard.deliver(func() { d.onError(err) })
}

// Unsubscribe 取消 Dapr 配置订阅。
func (d *daprSubscription) Unsubscribe() error {
	if !d.guard.close() {
		return nil
	}
	err := d.source.client.UnsubscribeConfigurationItems(context.Background(), d.source.store, d.id)
	d.cancel()
	d.wg.Wait()
	if err != nil {
		return fmt.Errorf("remote: dapr unsubscribe: %w", err)
	}
	return nil
}
