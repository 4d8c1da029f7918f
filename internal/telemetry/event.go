// Package telemetry 定义准入判定产生的埋点事件以及事件输出。
package telemetry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/liangyou/appgate/pkg/models"
)

// 事件分类与动作。
const (
	CategoryAppStatus    = "App_Status"
	CategoryUpdatePrompt = "Update_Prompt"

	ActionMaintenanceActive = "Maintenance_Mode_Active"
	ActionShowCritical      = "Show_Critical"
	ActionShowOptional      = "Show_Optional"
	ActionClickUpdateNow    = "Click_Update_Now"
	ActionClickDismiss      = "Click_Dismiss"
)

// Event 是一条埋点事件，Label 为 nil 表示无标签。
type Event struct {
	ID       string           `json:"id"`
	Category string           `json:"category"`
	Action   string           `json:"action"`
	Label    *string          `json:"label"`
	State    models.GateState `json:"state"`
	At       time.Time        `json:"at"`
}

// LabelValue 返回标签文本，无标签时为空字符串。
func (e Event) LabelValue() string {
	if e.Label == nil {
		return ""
	}
	return *e.Label
}

// NewEvent 创建带唯一 ID 的事件。
func NewEvent(category, action string, label *string, state models.GateState) Event {
	return Event{
		ID:       uuid.NewString(),
		Category: category,
		Action:   action,
		Label:    label,
		State:    state,
		At:       time.Now(),
	}
}

// ForState 返回某次评估结果对应的展示事件，idle 不产生事件。
func ForState(state models.GateState, latestVersion string) (Event, bool) {
	switch state {
	case models.StateMaintenance:
		return NewEvent(CategoryAppStatus, ActionMaintenanceActive, nil, state), true
	case models.StateCritical:
		return NewEvent(CategoryUpdatePrompt, ActionShowCritical, versionLabel(latestVersion), state), true
	case models.StateOptional:
		return NewEvent(CategoryUpdatePrompt, ActionShowOptional, versionLabel(latestVersion), state), true
	default:
		return Event{}, false
	}
}

// Click 返回用户点击操作对应的事件。
func Click(action string, state models.GateState, latestVersion string) Event {
	return NewEvent(CategoryUpdatePrompt, action, versionLabel(latestVersion), state)
}

func versionLabel(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// Sink 接收埋点事件。实现不得阻塞准入判定，失败只记录日志。
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// SinkFunc 把函数适配为 Sink。
type SinkFunc func(ctx context.Context, event Event)

// Emit 调用函数本身。
func (f SinkFunc) Emit(ctx context.Context, event Event) { f(ctx, event) }

// Multi 把事件依次分发给多个 Sink。
type Multi []Sink

// Emit 分发事件，nil 成员会被跳过。
func (m Multi) Emit(ctx context.Context, event Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, event)
		}
	}
}

// Nop 丢弃所有事件。
type Nop struct{}

// Emit 不做任何事。
func (Nop) Emit(context.Context, Event) {}
