package gate

import (
	"github.com/liangyou/appgate/internal/version"
	"github.com/liangyou/appgate/pkg/models"
)

// Evaluate 根据合并配置与安装版本计算准入状态。
//
// 优先级固定：维护模式覆盖一切，critical 覆盖 optional。
// 缺失的 min_supported_version 或 latest_version 经比较器的宽松规则退化为"不触发"。
// 结果只取决于输入，与之前的状态无关。
func Evaluate(merged models.MergedConfig, installed string) models.GateState {
	switch {
	case merged.MaintenanceMode:
		return models.StateMaintenance
	case version.Compare(installed, merged.MinSupportedVersion) < 0:
		return models.StateCritical
	case version.Compare(installed, merged.LatestVersion) < 0:
		return models.StateOptional
	default:
		return models.StateIdle
	}
}
