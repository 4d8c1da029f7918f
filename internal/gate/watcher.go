package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/liangyou/appgate/internal/remote"
	"github.com/liangyou/appgate/internal/telemetry"
	"github.com/liangyou/appgate/pkg/models"
)

var (
	// ErrAlreadyStarted 表示 watcher 已经启动过，每个 watcher 只持有一个订阅。
	ErrAlreadyStarted = errors.New("gate: watcher already started")
	// ErrNotStarted 表示 watcher 尚未启动。
	ErrNotStarted = errors.New("gate: watcher not started")
	// ErrStopped 表示启动过程中 watcher 已被停止，新建的订阅已释放。
	ErrStopped = errors.New("gate: watcher stopped during start")
)

// Option 用于配置 Watcher。
type Option func(*Watcher)

// WithLogger 设置日志记录器。
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithConnectivity 设置订阅通道错误的接收方（连接状态指示器）。
func WithConnectivity(fn func(error)) Option {
	return func(w *Watcher) {
		w.connectivity = fn
	}
}

type listener struct {
	id string
	fn func(models.Published)
}

// Watcher 在进程生命周期内持有唯一的远程配置订阅，每次收到快照都重新执行完整流程。
//
// 评估在单个 goroutine 中串行执行。新快照到达时会取消进行中的宿主查询，
// 其结果被丢弃，只有最新快照的结果会被发布。Stop 返回后不会再有监听回调。
// 监听函数在评估 goroutine 上执行，不得同步调用 Stop。
type Watcher struct {
	source       remote.Source
	resolver     HostResolver
	sink         telemetry.Sink
	logger       *slog.Logger
	connectivity func(error)

	deliverMu sync.Mutex

	mu         sync.Mutex
	started    bool
	running    bool
	sub        remote.Subscription
	cancel     context.CancelFunc
	evalCancel context.CancelFunc
	mailbox    chan remote.Snapshot
	done       chan struct{}
	seq        uint64
	current    models.Published
	hasCurrent bool
	listeners  []listener
}

// NewWatcher 创建 watcher，sink 为 nil 时丢弃埋点事件。
func NewWatcher(source remote.Source, resolver HostResolver, sink telemetry.Sink, opts ...Option) *Watcher {
	if sink == nil {
		sink = telemetry.Nop{}
	}
	w := &Watcher{
		source:   source,
		resolver: resolver,
		sink:     sink,
		logger:   slog.Default(),
		mailbox:  make(chan remote.Snapshot, 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start 打开订阅并开始评估循环。
func (w *Watcher) Start(ctx context.Context) error {
	if w.source == nil || w.resolver == nil {
		return errors.New("gate: source and resolver are required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	w.started = true
	w.running = true
	w.cancel = cancel
	w.done = make(chan struct{})
	w.mu.Unlock()

	go w.run(ctx)

	sub, err := w.source.Subscribe(ctx, w.offer, w.transportError)
	if err != nil {
		w.mu.Lock()
		// Stop 已介入时保持 started，watcher 不可再次启动。
		if w.running {
			w.running = false
			w.started = false
		}
		w.mu.Unlock()
		cancel()
		<-w.done
		return fmt.Errorf("gate: subscribe: %w", err)
	}

	w.mu.Lock()
	if !w.running {
		// Subscribe 阻塞期间 Stop 已返回，订阅由这里释放。
		w.mu.Unlock()
		if uerr := sub.Unsubscribe(); uerr != nil {
			w.logger.Warn("release subscription after stop failed", "error", uerr)
		}
		return ErrStopped
	}
	w.sub = sub
	w.mu.Unlock()
	w.logger.Info("gate watcher started")
	return nil
}

// Stop 取消订阅并丢弃进行中的评估，返回后不会再发布任何结果。
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return ErrNotStarted
	}
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	sub := w.sub
	cancel := w.cancel
	if w.evalCancel != nil {
		w.evalCancel()
	}
	w.mu.Unlock()

	var err error
	if sub != nil {
		if uerr := sub.Unsubscribe(); uerr != nil {
			err = fmt.Errorf("gate: unsubscribe: %w", uerr)
		}
	}
	cancel()
	<-w.done
	w.logger.Info("gate watcher stopped")
	return err
}

// Current 返回最近一次发布的结果。
func (w *Watcher) Current() (models.Published, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.hasCurrent {
		return models.Published{}, false
	}
	return w.current.Clone(), true
}

// Subscribe 注册监听函数。已有发布结果时立即以当前值回调一次，之后按发布顺序回调。
// 返回的函数用于取消监听。
func (w *Watcher) Subscribe(fn func(models.Published)) func() {
	if fn == nil {
		return func() {}
	}
	w.deliverMu.Lock()
	defer w.deliverMu.Unlock()

	w.mu.Lock()
	if w.started && !w.running {
		w.mu.Unlock()
		return func() {}
	}
	id := uuid.NewString()
	w.listeners = append(w.listeners, listener{id: id, fn: fn})
	current, has := w.current.Clone(), w.hasCurrent
	w.mu.Unlock()

	if has {
		fn(current)
	}
	return func() { w.unsubscribe(id) }
}

func (w *Watcher) unsubscribe(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, l := range w.listeners {
		if l.id == id {
			w.listeners = append(w.listeners[:i:i], w.listeners[i+1:]...)
			return
		}
	}
}

// offer 投递新快照：替换尚未处理的旧快照，并取消进行中的评估。
func (w *Watcher) offer(snap remote.Snapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	select {
	case <-w.mailbox:
	default:
	}
	w.mailbox <- snap
	if w.evalCancel != nil {
		w.evalCancel()
	}
}

func (w *Watcher) transportError(err error) {
	w.logger.Warn("config subscription transport error", "error", err)
	if w.connectivity != nil {
		w.connectivity(err)
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-w.mailbox:
			w.evaluate(ctx, snap)
		}
	}
}

func (w *Watcher) evaluate(ctx context.Context, snap remote.Snapshot) {
	evalCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.evalCancel = cancel
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.evalCancel = nil
		w.mu.Unlock()
		cancel()
	}()

	pub, err := EvaluateDocument(evalCtx, w.resolver, snap.Document)
	if err != nil {
		if evalCtx.Err() != nil {
			w.logger.Debug("gate evaluation superseded", "origin", snap.Origin)
			return
		}
		w.logger.Warn("gate evaluation suspended, keeping last state", "origin", snap.Origin, "error", err)
		return
	}
	pub.Origin = snap.Origin
	if !snap.Document.Exists {
		w.logger.Info("remote config unavailable, gate open", "origin", snap.Origin)
	}

	if !w.publish(pub) {
		w.logger.Debug("gate result discarded", "origin", snap.Origin, "state", pub.State)
		return
	}

	if event, ok := telemetry.ForState(pub.State, pub.Config.LatestVersion); ok {
		w.sink.Emit(ctx, event)
	}
}

// publish 在没有更新快照排队且 watcher 仍在运行时发布结果并通知监听者。
func (w *Watcher) publish(pub models.Published) bool {
	w.deliverMu.Lock()
	defer w.deliverMu.Unlock()

	w.mu.Lock()
	if !w.running || len(w.mailbox) > 0 {
		w.mu.Unlock()
		return false
	}
	w.seq++
	pub.Sequence = w.seq
	w.current = pub
	w.hasCurrent = true
	listeners := append([]listener(nil), w.listeners...)
	w.mu.Unlock()

	w.logger.Info("gate state published",
		"state", pub.State,
		"platform", pub.Installed.PlatformID,
		"installed", pub.Installed.InstalledVersion,
		"origin", pub.Origin,
		"sequence", pub.Sequence)
	for _, l := range listeners {
		l.fn(pub.Clone())
	}
	return true
}
