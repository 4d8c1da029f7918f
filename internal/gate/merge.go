// Package gate 实现远程配置驱动的更新准入判定：配置合并、状态评估与实时同步。
package gate

import (
	"strings"

	"github.com/liangyou/appgate/pkg/models"
)

// Merge 把平台覆盖浅层叠加到根字段上，等价于 {...root, ...override}。
// 两侧都存在的字段取覆盖值，只存在于一侧的字段原样保留；changelog 整体替换，不做拼接。
// 结果不与输入共享切片。
func Merge(root models.ConfigFields, override models.PlatformOverride) models.MergedConfig {
	merged := models.MergedConfig{
		MaintenanceMode:     pickBool(root.MaintenanceMode, override.MaintenanceMode),
		MinSupportedVersion: pickString(root.MinSupportedVersion, override.MinSupportedVersion),
		LatestVersion:       pickString(root.LatestVersion, override.LatestVersion),
		StoreURL:            pickString(root.StoreURL, override.StoreURL),
		Maintenance:         pickText(root.Texts.Maintenance, override.Texts.Maintenance),
		Critical:            pickText(root.Texts.Critical, override.Texts.Critical),
		Optional:            pickText(root.Texts.Optional, override.Texts.Optional),
	}

	changelog := root.Changelog
	if override.Changelog != nil {
		changelog = override.Changelog
	}
	if changelog != nil {
		merged.Changelog = append([]string{}, changelog...)
	}
	return merged
}

// MergeDocument 合并文档根字段与指定平台的覆盖。
func MergeDocument(doc models.Document, platform models.PlatformID) models.MergedConfig {
	merged := Merge(doc.Root, doc.Override(platform))
	merged.Platform = platform
	return merged
}

func pickBool(root, override *bool) bool {
	if override != nil {
		return *override
	}
	if root != nil {
		return *root
	}
	return false
}

func pickString(root, override *string) string {
	if override != nil {
		return strings.TrimSpace(*override)
	}
	if root != nil {
		return strings.TrimSpace(*root)
	}
	return ""
}

func pickText(root, override models.TextFields) models.Text {
	return models.Text{
		Title:   pickString(root.Title, override.Title),
		Message: pickString(root.Message, override.Message),
	}
}
