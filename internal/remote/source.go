package remote

import (
	"context"
	"sync"
	"time"

	"github.com/liangyou/appgate/pkg/models"
)

// Snapshot 是某一时刻送达的远程配置文档。
type Snapshot struct {
	Document   models.Document
	ReceivedAt time.Time
	Origin     string
}

// SnapshotFunc 接收每一次送达的快照：首次读取以及之后的每次远程变更。
type SnapshotFunc func(Snapshot)

// ErrorFunc 接收订阅通道错误（SubscriptionTransportError），交给连接状态指示器处理。
type ErrorFunc func(error)

// Source 定义远程配置文档的订阅通道。重连与退避由各通道自身的客户端负责。
type Source interface {
	Subscribe(ctx context.Context, onSnapshot SnapshotFunc, onError ErrorFunc) (Subscription, error)
}

// Subscription 是一个活动订阅，Unsubscribe 返回后不会再有回调。
type Subscription interface {
	Unsubscribe() error
}

func newSnapshot(doc models.Document, origin string) Snapshot {
	return Snapshot{Document: doc, ReceivedAt: time.Now(), Origin: origin}
}

// deliveryGuard 保证 Unsubscribe 返回后不再触发任何回调。
type deliveryGuard struct {
	mu     sync.Mutex
	closed bool
}

func (g *deliveryGuard) deliver(fn func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	fn()
	return true
}

func (g *deliveryGuard) close() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.closed = true
	return true
}
