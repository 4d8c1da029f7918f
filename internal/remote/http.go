package remote

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/liangyou/appgate/pkg/models"
	"github.com/robfig/cron/v3"
	"golang.org/x/net/http2"
)

const (
	defaultPollInterval = 30 * time.Second
	// 轮询由 cron 的 @every 调度，粒度为一秒，更短的间隔会被调度器静默放大。
	minPollInterval = time.Second
	defaultHTTPTimeout  = 10 * time.Second
	maxDocumentBytes    = 1 << 20
)

// HTTPClient 描述最小化的 HTTP 客户端接口，方便测试时替换。
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// MirrorResolver 按所在地区从镜像表中选出文档地址，无法判断时返回 fallback。
type MirrorResolver interface {
	Mirror(ctx context.Context, mirrors map[string]string, fallback string) string
}

// HTTPOption 用于配置 HTTPSource。
type HTTPOption func(*HTTPSource)

// WithHTTPClient 设置 HTTP 客户端。
func WithHTTPClient(h HTTPClient) HTTPOption {
	return func(s *HTTPSource) {
		if h != nil {
			s.httpClient = h
		}
	}
}

// WithPollInterval 设置轮询间隔。非正值保留默认值，不足一秒的按一秒处理。
func WithPollInterval(interval time.Duration) HTTPOption {
	return func(s *HTTPSource) {
		if interval > 0 {
			s.interval = clampPollInterval(interval)
		}
	}
}

func clampPollInterval(interval time.Duration) time.Duration {
	if interval < minPollInterval {
		return minPollInterval
	}
	return interval
}

// WithLogger 设置日志记录器。
func WithLogger(logger *slog.Logger) HTTPOption {
	return func(s *HTTPSource) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRegionMirrors 订阅时通过 resolver 选择区域镜像地址。
func WithRegionMirrors(resolver MirrorResolver, mirrors map[string]string) HTTPOption {
	return func(s *HTTPSource) {
		if resolver != nil && len(mirrors) > 0 {
			s.resolver = resolver
			s.mirrors = mirrors
		}
	}
}

// HTTPSource 轮询一个 HTTP 文档地址，只在首次读取和内容变化时送达快照。
type HTTPSource struct {
	url        string
	httpClient HTTPClient
	interval   time.Duration
	logger     *slog.Logger

	resolver MirrorResolver
	mirrors  map[string]string
}

// NewHTTPSource 创建 HTTP 文档源。
func NewHTTPSource(url string, opts ...HTTPOption) *HTTPSource {
	s := &HTTPSource{
		url:        url,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		interval:   defaultPollInterval,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewHTTPClient 构建文档源使用的 HTTP 客户端，可选启用 HTTP/2。
func NewHTTPClient(timeout time.Duration, enableHTTP2 bool) (*http.Client, error) {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if enableHTTP2 {
		if err := http2.ConfigureTransport(transport); err != nil {
			return nil, fmt.Errorf("remote: configure http2: %w", err)
		}
	}
	return &http.Client{Transport: transport, Timeout: timeout}, nil
}

// fetchResult 是一次拉取的结果，notModified 表示服务端返回 304。
type fetchResult struct {
	doc         models.Document
	digest      string
	etag        string
	notModified bool
}

// Fetch 读取一次远程文档，404 视为文档不存在。
func (s *HTTPSource) Fetch(ctx context.Context) (models.Document, error) {
	res, err := s.fetch(ctx, s.url, "")
	if err != nil {
		return models.Document{}, err
	}
	return res.doc, nil
}

func (s *HTTPSource) fetch(ctx context.Context, url, etag string) (fetchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fetchResult{}, fmt.Errorf("remote: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fetchResult{}, fmt.Errorf("remote: request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotModified:
		return fetchResult{notModified: true, etag: etag}, nil
	case http.StatusNotFound:
		return fetchResult{digest: "absent"}, nil
	default:
		return fetchResult{}, fmt.Errorf("remote: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return fetchResult{}, fmt.Errorf("remote: read body: %w", err)
	}

	doc, err := ParseDocument(body, s.logger)
	if err != nil {
		return fetchResult{}, err
	}
	sum := sha256.Sum256(body)
	return fetchResult{
		doc:    doc,
		digest: hex.EncodeToString(sum[:]),
		etag:   resp.Header.Get("ETag"),
	}, nil
}

// Subscribe 立即读取一次文档，然后按轮询间隔检测变化。
func (s *HTTPSource) Subscribe(ctx context.Context, onSnapshot SnapshotFunc, onError ErrorFunc) (Subscription, error) {
	if s.url == "" {
		return nil, errors.New("remote: http source url is required")
	}
	if onSnapshot == nil {
		return nil, errors.New("remote: snapshot handler is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &httpSubscription{
		source:     s,
		ctx:        ctx,
		cancel:     cancel,
		url:        s.resolveURL(ctx),
		onSnapshot: onSnapshot,
		onError:    onError,
		cron:       cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
	if _, err := sub.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), sub.poll); err != nil {
		cancel()
		return nil, fmt.Errorf("remote: schedule poll: %w", err)
	}

	sub.wg.Add(1)
	go func() {
		defer sub.wg.Done()
		sub.poll()
	}()
	sub.cron.Start()
	return sub, nil
}

func (s *HTTPSource) resolveURL(ctx context.Context) string {
	if s.resolver == nil {
		return s.url
	}
	url := s.resolver.Mirror(ctx, s.mirrors, s.url)
	if url != s.url {
		s.logger.Info("config url switched to region mirror", "url", url)
	}
	return url
}

type httpSubscription struct {
	source     *HTTPSource
	ctx        context.Context
	cancel     context.CancelFunc
	url        string
	onSnapshot SnapshotFunc
	onError    ErrorFunc
	cron       *cron.Cron
	guard      deliveryGuard
	wg         sync.WaitGroup

	mu         sync.Mutex
	lastDigest string
	lastETag   string
}

func (h *httpSubscription) poll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.ctx.Err() != nil {
		return
	}
	res, err := h.source.fetch(h.ctx, h.url, h.lastETag)
	if err != nil {
		if h.ctx.Err() != nil {
			return
		}
		if h.onError != nil {
			h.guard.deliver(func() { h.onError(err) })
		}
		return
	}
	if res.notModified || (h.lastDigest != "" && res.digest == h.lastDigest) {
		return
	}
	h.lastDigest = res.digest
	h.lastETag = res.etag
	snap := newSnapshot(res.doc, "http:"+h.url)
	h.guard.deliver(func() { h.onSnapshot(snap) })
}

// Unsubscribe 停止轮询并等待进行中的请求结束。
func (h *httpSubscription) Unsubscribe() error {
	if !h.guard.close() {
		return nil
	}
	h.cancel()
	<-h.cron.Stop().Done()
	h.wg.Wait()
	return nil
}
