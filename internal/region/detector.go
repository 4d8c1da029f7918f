// Package region 根据公网 IP 所在国家为配置文档选择就近镜像。
package region

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	defaultTimeout  = 3 * time.Second
	defaultCooldown = 5 * time.Minute
	maxBodyBytes    = 4 << 10
)

var (
	// ErrInvalidCountry 表示查询服务返回的不是两位字母国家代码。
	ErrInvalidCountry = errors.New("region: invalid country code")
	// ErrNoService 表示所有查询服务都处于失败冷却期。
	ErrNoService = errors.New("region: no lookup service available")
)

// Format 是查询服务的响应格式。
type Format int

const (
	// FormatPlain 响应体就是国家代码，例如 "CN\n"。
	FormatPlain Format = iota
	// FormatJSON 响应体为 JSON，国家代码在 country_code 或 country 字段。
	FormatJSON
)

// Service 是一个公网 IP 归属地查询服务。
type Service struct {
	URL    string
	Format Format
}

// DefaultServices 按顺序尝试的默认查询服务。
var DefaultServices = []Service{
	{URL: "https://ipinfo.io/country", Format: FormatPlain},
	{URL: "https://ipapi.co/json", Format: FormatJSON},
}

// HTTPClient 最小化 HTTP 客户端接口，便于测试替换。
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Detector 依次查询各服务得到国家代码。
// 成功结果在进程内缓存；失败的服务在冷却期内被跳过；并发调用共享同一次查询。
type Detector struct {
	services []Service
	client   HTTPClient
	timeout  time.Duration
	cooldown time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	code     string
	failed   map[string]time.Time
	inflight *lookupCall
}

type lookupCall struct {
	done chan struct{}
	code string
	err  error
}

// Option 用于配置 Detector。
type Option func(*Detector)

// WithServices 替换查询服务列表，空 URL 的条目会被忽略。
func WithServices(services ...Service) Option {
	return func(d *Detector) {
		list := make([]Service, 0, len(services))
		for _, svc := range services {
			if strings.TrimSpace(svc.URL) != "" {
				list = append(list, svc)
			}
		}
		d.services = list
	}
}

// WithHTTPClient 设置自定义 HTTP 客户端。
func WithHTTPClient(client HTTPClient) Option {
	return func(d *Detector) {
		if client != nil {
			d.client = client
		}
	}
}

// WithTimeout 设置单次查询的超时时间。
func WithTimeout(timeout time.Duration) Option {
	return func(d *Detector) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithCooldown 设置服务失败后被跳过的时长，0 表示每次都重试。
func WithCooldown(cooldown time.Duration) Option {
	return func(d *Detector) {
		if cooldown >= 0 {
			d.cooldown = cooldown
		}
	}
}

// WithLogger 设置日志记录器。
func WithLogger(logger *slog.Logger) Option {
	return func(d *Detector) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDetector 创建 Detector 实例。
func NewDetector(opts ...Option) *Detector {
	d := &Detector{
		services: append([]Service(nil), DefaultServices...),
		client:   http.DefaultClient,
		timeout:  defaultTimeout,
		cooldown: defaultCooldown,
		logger:   slog.Default(),
		now:      time.Now,
		failed:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Mirror 返回当前地区对应的镜像地址。没有镜像表、查询失败或未命中时返回 fallback。
func (d *Detector) Mirror(ctx context.Context, mirrors map[string]string, fallback string) string {
	if len(mirrors) == 0 {
		return fallback
	}
	code, err := d.CountryCode(ctx)
	if err != nil {
		d.logger.Debug("region detection failed, using default url", "error", err)
		return fallback
	}
	url := SelectMirror(code, mirrors, fallback)
	d.logger.Debug("region mirror selected", "country", code, "url", url)
	return url
}

// CountryCode 返回 ISO 国家代码（如 CN、US）。
func (d *Detector) CountryCode(ctx context.Context) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	d.mu.Lock()
	if d.code != "" {
		code := d.code
		d.mu.Unlock()
		return code, nil
	}
	if call := d.inflight; call != nil {
		d.mu.Unlock()
		select {
		case <-call.done:
			return call.code, call.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	call := &lookupCall{done: make(chan struct{})}
	d.inflight = call
	d.mu.Unlock()

	call.code, call.err = d.lookup(ctx)

	d.mu.Lock()
	if call.err == nil {
		d.code = call.code
	}
	d.inflight = nil
	d.mu.Unlock()
	close(call.done)
	return call.code, call.err
}

func (d *Detector) lookup(ctx context.Context) (string, error) {
	if d.client == nil {
		return "", errors.New("region: http client is nil")
	}

	var errs []error
	for _, svc := range d.services {
		if d.coolingDown(svc.URL) {
			continue
		}
		code, err := d.query(ctx, svc)
		if err == nil {
			d.setFailed(svc.URL, false)
			return code, nil
		}
		if ctx.Err() != nil {
			return "", err
		}
		d.setFailed(svc.URL, true)
		d.logger.Debug("region lookup failed", "service", svc.URL, "error", err)
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return "", ErrNoService
	}
	return "", errors.Join(errs...)
}

func (d *Detector) coolingDown(url string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	until, ok := d.failed[url]
	return ok && d.now().Before(until)
}

func (d *Detector) setFailed(url string, failed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !failed || d.cooldown <= 0 {
		delete(d.failed, url)
		return
	}
	d.failed[url] = d.now().Add(d.cooldown)
}

func (d *Detector) query(ctx context.Context, svc Service) (string, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, svc.URL, nil)
	if err != nil {
		return "", fmt.Errorf("region: build request: %w", err)
	}
	if svc.Format == FormatJSON {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("region: query %s: %w", svc.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("region: query %s: unexpected status %d", svc.URL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("region: read body: %w", err)
	}
	return svc.Format.parse(body)
}

func (f Format) parse(body []byte) (string, error) {
	if f != FormatJSON {
		return normalizeCountry(string(body))
	}
	var payload struct {
		CountryCode string `json:"country_code"`
		Country     string `json:"country"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("region: decode response: %w", err)
	}
	if payload.CountryCode != "" {
		return normalizeCountry(payload.CountryCode)
	}
	return normalizeCountry(payload.Country)
}

func normalizeCountry(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	valid := len(code) == 2 && strings.IndexFunc(code, func(r rune) bool { return r < 'A' || r > 'Z' }) < 0
	if !valid {
		return "", fmt.Errorf("%w: %q", ErrInvalidCountry, code)
	}
	return code, nil
}
