// Package presentation 把 watcher 的发布结果转换为可渲染的视图，并处理用户操作。
package presentation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/liangyou/appgate/internal/platform"
	"github.com/liangyou/appgate/internal/telemetry"
	"github.com/liangyou/appgate/pkg/models"
)

// ErrActionNotAllowed 表示当前渲染状态下不允许该操作。
var ErrActionNotAllowed = errors.New("presentation: action not allowed in current state")

// Publisher 是 watcher 对展示层暴露的订阅能力。
type Publisher interface {
	Subscribe(fn func(models.Published)) func()
}

// View 是展示层当前应渲染的内容。
type View struct {
	// State 是渲染状态，optional 被关闭后为 idle。
	State     models.GateState `json:"state"`
	Evaluated models.GateState `json:"evaluated_state"`
	Dismissed bool             `json:"dismissed"`
	Display   models.Display   `json:"display"`
	Sequence  uint64           `json:"sequence"`
}

// Gate 保存最近一次发布结果与本地关闭标记。
// 关闭只影响本地渲染且不持久化：下一次发布（即使内容相同）会重新显示提示。
type Gate struct {
	host   platform.Host
	sink   telemetry.Sink
	logger *slog.Logger

	mu        sync.Mutex
	published models.Published
	dismissed bool
	watchers  map[int]func(View)
	nextID    int
}

// NewGate 创建展示层门面。
func NewGate(host platform.Host, sink telemetry.Sink, logger *slog.Logger) *Gate {
	if sink == nil {
		sink = telemetry.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{host: host, sink: sink, logger: logger, watchers: map[int]func(View){}}
}

// Attach 订阅 watcher 的发布结果，返回取消函数。
func (g *Gate) Attach(p Publisher) func() {
	return p.Subscribe(g.Apply)
}

// Apply 接收一次发布结果并清除关闭标记。
func (g *Gate) Apply(pub models.Published) {
	g.mu.Lock()
	g.published = pub
	g.dismissed = false
	view, watchers := g.viewLocked(), g.watchersLocked()
	g.mu.Unlock()

	for _, fn := range watchers {
		fn(view)
	}
}

// View 返回当前视图。
func (g *Gate) View() View {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.viewLocked()
}

// Watch 注册视图变化回调，返回取消函数。
func (g *Gate) Watch(fn func(View)) func() {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.nextID
	g.nextID++
	g.watchers[id] = fn
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.watchers, id)
	}
}

// OnUpdateNow 处理"立即更新"：记录埋点并打开商店地址，仅在 optional 与 critical 下有效。
func (g *Gate) OnUpdateNow(ctx context.Context) error {
	g.mu.Lock()
	view := g.viewLocked()
	latest := g.published.Config.LatestVersion
	g.mu.Unlock()

	if !view.State.CanUpdate() {
		return fmt.Errorf("%w: update in %s", ErrActionNotAllowed, view.State)
	}
	g.sink.Emit(ctx, telemetry.Click(telemetry.ActionClickUpdateNow, view.State, latest))

	if view.Display.StoreURL == "" {
		g.logger.Warn("update requested but store url is missing", "state", view.State)
		return nil
	}
	if g.host != nil {
		g.host.OpenExternalURL(view.Display.StoreURL)
	}
	return nil
}

// OnDismiss 关闭 optional 提示，critical 与 maintenance 不可关闭。
func (g *Gate) OnDismiss(ctx context.Context) error {
	g.mu.Lock()
	current := g.viewLocked()
	if !current.State.Dismissible() {
		g.mu.Unlock()
		return fmt.Errorf("%w: dismiss in %s", ErrActionNotAllowed, current.State)
	}
	g.dismissed = true
	latest := g.published.Config.LatestVersion
	view, watchers := g.viewLocked(), g.watchersLocked()
	g.mu.Unlock()

	g.sink.Emit(ctx, telemetry.Click(telemetry.ActionClickDismiss, models.StateOptional, latest))
	for _, fn := range watchers {
		fn(view)
	}
	return nil
}

func (g *Gate) viewLocked() View {
	pub := g.published.Clone()
	state := pub.State
	if state == "" {
		state = models.StateIdle
	}
	view := View{
		State:     state,
		Evaluated: state,
		Dismissed: g.dismissed,
		Display:   pub.Display,
		Sequence:  pub.Sequence,
	}
	if g.dismissed {
		view.State = models.StateIdle
		view.Display = models.Display{}
	}
	return view
}

func (g *Gate) watchersLocked() []func(View) {
	out := make([]func(View), 0, len(g.watchers))
	for _, fn := range g.watchers {
		out = append(out, fn)
	}
	return out
}
