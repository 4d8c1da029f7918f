package telemetry

import (
	"context"

	"github.com/liangyou/appgate/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink 统计事件次数并导出当前准入状态。
type PrometheusSink struct {
	events *prometheus.CounterVec
	state  *prometheus.GaugeVec
}

// NewPrometheusSink 创建指标并注册到 reg，reg 为 nil 时使用默认注册表。
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "appgate",
			Name:      "telemetry_events_total",
			Help:      "Telemetry events emitted by the update gate.",
		}, []string{"category", "action", "label"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "appgate",
			Name:      "gate_state",
			Help:      "Current gate state, 1 for the active state and 0 otherwise.",
		}, []string{"state"}),
	}
	for _, c := range []prometheus.Collector{s.events, s.state} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Emit 递增事件计数。
func (s *PrometheusSink) Emit(_ context.Context, event Event) {
	s.events.WithLabelValues(event.Category, event.Action, event.LabelValue()).Inc()
}

// SetState 更新当前状态指标。
func (s *PrometheusSink) SetState(state models.GateState) {
	for _, st := range []models.GateState{models.StateIdle, models.StateOptional, models.StateCritical, models.StateMaintenance} {
		v := 0.0
		if st == state {
			v = 1
		}
		s.state.WithLabelValues(string(st)).Set(v)
	}
}
