package gate

import (
	"context"
	"time"

	"github.com/liangyou/appgate/pkg/models"
)

// HostResolver 查询宿主平台与安装版本，platform.Resolver 实现该接口。
type HostResolver interface {
	Resolve(ctx context.Context) (models.InstalledVersionInfo, error)
}

// EvaluateDocument 对一份文档执行完整流程：解析宿主信息、合并配置、计算状态。
// 文档不存在时直接判定为 idle，不查询宿主；宿主查询失败时返回错误，由调用方保留上一次结果。
func EvaluateDocument(ctx context.Context, resolver HostResolver, doc models.Document) (models.Published, error) {
	if !doc.Exists {
		return models.Published{
			State:       models.StateIdle,
			Display:     ResolveDisplay(models.StateIdle, models.MergedConfig{}),
			EvaluatedAt: time.Now(),
		}, nil
	}

	info, err := resolver.Resolve(ctx)
	if err != nil {
		return models.Published{}, err
	}

	merged := MergeDocument(doc, info.PlatformID)
	state := Evaluate(merged, info.InstalledVersion)
	return models.Published{
		State:       state,
		Config:      merged,
		Installed:   info,
		Display:     ResolveDisplay(state, merged),
		EvaluatedAt: time.Now(),
	}, nil
}
