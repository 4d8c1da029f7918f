package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/liangyou/appgate/pkg/models"
)

// RedisBackend 抽象 Redis 的读取与变更通知，便于测试替换。
type RedisBackend interface {
	// Read 读取文档内容，键不存在时 exists 为 false。
	Read(ctx context.Context) (data []byte, exists bool, err error)
	// Watch 订阅变更通知频道，每条消息代表一次远程变更。
	Watch(ctx context.Context) (<-chan struct{}, io.Closer, error)
	Close() error
}

// RedisSource 通过 Redis 键保存文档，通过 Pub/Sub 频道通知变更。
type RedisSource struct {
	backend RedisBackend
	origin  string
	logger  *slog.Logger
}

// NewRedisSource 根据配置连接 Redis。
func NewRedisSource(cfg models.RedisSourceConfig, logger *slog.Logger) (*RedisSource, error) {
	if cfg.Key == "" {
		return nil, errors.New("remote: redis key is required")
	}
	addr := cfg.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	channel := cfg.Channel
	if channel == "" {
		channel = cfg.Key + ":changed"
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	backend := &redisBackend{client: client, key: cfg.Key, channel: channel}
	return NewRedisSourceWithBackend(backend, "redis:"+cfg.Key, logger), nil
}

// NewRedisSourceWithBackend 使用自定义后端创建 RedisSource。
func NewRedisSourceWithBackend(backend RedisBackend, origin string, logger *slog.Logger) *RedisSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisSource{backend: backend, origin: origin, logger: logger}
}

// Close 释放 Redis 连接池。
func (s *RedisSource) Close() error {
	return s.backend.Close()
}

// Subscribe 先订阅通知频道再读取文档，保证首次读取之后的变更不会丢失。
func (s *RedisSource) Subscribe(ctx context.Context, onSnapshot SnapshotFunc, onError ErrorFunc) (Subscription, error) {
	if onSnapshot == nil {
		return nil, errors.New("remote: snapshot handler is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)

	notify, closer, err := s.backend.Watch(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("remote: redis subscribe: %w", err)
	}

	sub := &redisSubscription{
		source:     s,
		ctx:        ctx,
		cancel:     cancel,
		closer:     closer,
		onSnapshot: onSnapshot,
		onError:    onError,
	}
	sub.wg.Add(1)
	go sub.loop(notify)
	return sub, nil
}

type redisSubscription struct {
	source     *RedisSource
	ctx        context.Context
	cancel     context.CancelFunc
	closer     io.Closer
	onSnapshot SnapshotFunc
	onError    ErrorFunc
	guard      deliveryGuard
	wg         sync.WaitGroup
}

func (r *redisSubscription) loop(notify <-chan struct{}) {
	defer r.wg.Done()

	r.read()
	for {
		select {
		case <-r.ctx.Done():
			return
		case _, ok := <-notify:
			if !ok {
				return
			}
			r.read()
		}
	}
}

func (r *redisSubscription) read() {
	data, exists, err := r.source.backend.Read(r.ctx)
	if err != nil {
		if r.ctx.Err() == nil && r.onError != nil {
			r.guard.deliver(func() { r.onError(fmt.Errorf("remote: redis read: %w", err)) })
		}
		return
	}
	doc := models.Document{}
	if exists {
		doc, err = ParseDocument(data, r.source.logger)
		if err != nil {
			if r.onError != nil {
				r.guard.deliver(func() { r.onError(err) })
			}
			return
		}
	}
	snap := newSnapshot(doc, r.source.origin)
	r.guard.deliver(func() { r.onSnapshot(snap) })
}

// Unsubscribe 关闭 Pub/Sub 连接并等待读取循环退出。
func (r *redisSubscription) Unsubscribe() error {
	if !r.guard.close() {
		return nil
	}
	r.cancel()
	var err error
	if r.closer != nil {
		err = r.closer.Close()
	}
	r.wg.Wait()
	return err
}

type redisBackend struct {
	client  *redis.Client
	key     string
	channel string
}

func (b *redisBackend) Read(ctx context.Context) ([]byte, bool, error) {
	data, err := b.client.Get(ctx, b.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (b *redisBackend) Watch(ctx context.Context) (<-chan struct{}, io.Closer, error) {
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, err
	}

	notify := make(chan struct{}, 1)
	go func() {
		defer close(notify)
		for range pubsub.Channel() {
			select {
			case notify <- struct{}{}:
			default:
			}
		}
	}()
	return notify, pubsub, nil
}

func (b *redisBackend) Close() error {
	return b.client.Close()
}
