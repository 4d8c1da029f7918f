package platform

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"github.com/liangyou/appgate/pkg/models"
)

const defaultQueryTimeout = 2 * time.Second

// BuildVersion 通过 -ldflags "-X github.com/liangyou/appgate/internal/platform.BuildVersion=1.2.3" 注入。
var BuildVersion = ""

// ErrHostQuery 表示宿主平台或版本查询失败（HostQueryFailure）。
// 该错误只会让本次评估挂起，不会被当作准入判定。
var ErrHostQuery = errors.New("platform: host query failed")

var goosPlatforms = map[string]models.PlatformID{
	"android": models.PlatformAndroid,
	"ios":     models.PlatformIOS,
	"js":      models.PlatformWeb,
	"wasip1":  models.PlatformWeb,
}

// Resolver 从宿主环境解析平台标识与安装版本。
type Resolver struct {
	cfg     models.HostConfig
	timeout time.Duration

	goos         func() string
	buildVersion func() (string, bool)
}

// NewResolver 创建平台解析器。
func NewResolver(cfg models.HostConfig) *Resolver {
	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	return &Resolver{
		cfg:          cfg,
		timeout:      timeout,
		goos:         func() string { return runtime.GOOS },
		buildVersion: readBuildVersion,
	}
}

// Validate 校验配置中的平台覆盖是否属于支持集合。
func (r *Resolver) Validate() error {
	id := strings.TrimSpace(r.cfg.Platform)
	if id == "" {
		return nil
	}
	if !models.PlatformID(strings.ToLower(id)).Valid() {
		return fmt.Errorf("platform: unsupported platform %s", id)
	}
	return nil
}

// PlatformID 返回当前平台标识。
func (r *Resolver) PlatformID(ctx context.Context) (models.PlatformID, error) {
	value, err := r.query(ctx, "platform", func() (string, error) {
		if id := strings.TrimSpace(r.cfg.Platform); id != "" {
			return strings.ToLower(id), nil
		}
		goos := r.goos()
		if id, ok := goosPlatforms[goos]; ok {
			return string(id), nil
		}
		return "", fmt.Errorf("no platform mapping for GOOS %s", goos)
	})
	if err != nil {
		return "", err
	}
	id := models.PlatformID(value)
	if !id.Valid() {
		return "", fmt.Errorf("%w: unsupported platform %s", ErrHostQuery, value)
	}
	return id, nil
}

// InstalledVersion 返回当前安装的构建版本。
func (r *Resolver) InstalledVersion(ctx context.Context) (string, error) {
	return r.query(ctx, "installed version", func() (string, error) {
		if v := strings.TrimSpace(r.cfg.InstalledVersion); v != "" {
			return v, nil
		}
		if v, ok := r.buildVersion(); ok {
			return v, nil
		}
		return "", errors.New("build version is unknown")
	})
}

// Resolve 查询平台与安装版本，每次评估都重新查询。
func (r *Resolver) Resolve(ctx context.Context) (models.InstalledVersionInfo, error) {
	id, err := r.PlatformID(ctx)
	if err != nil {
		return models.InstalledVersionInfo{}, err
	}
	installed, err := r.InstalledVersion(ctx)
	if err != nil {
		return models.InstalledVersionInfo{}, err
	}
	return models.InstalledVersionInfo{PlatformID: id, InstalledVersion: installed}, nil
}

// query 在独立 goroutine 中执行宿主查询，超时或 ctx 取消时立即返回。
func (r *Resolver) query(ctx context.Context, what string, fn func() (string, error)) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type result struct {
		value string
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{value: v, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrHostQuery, what, res.err)
		}
		return res.value, nil
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %s: %v", ErrHostQuery, what, ctx.Err())
	}
}

func readBuildVersion() (string, bool) {
	if v := strings.TrimSpace(BuildVersion); v != "" {
		return v, true
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "", false
	}
	v := strings.TrimSpace(info.Main.Version)
	if v == "" || v == "(devel)" {
		return "", false
	}
	return strings.TrimPrefix(v, "v"), true
}
