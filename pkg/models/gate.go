package models

import "time"

// PlatformID 标识一个部署目标，远程文档按该值提供平台覆盖配置。
type PlatformID string

const (
	PlatformAndroid PlatformID = "android"
	PlatformIOS     PlatformID = "ios"
	PlatformWeb     PlatformID = "web"
)

// SupportedPlatforms 是封闭的平台集合，远程文档中的其他顶层键不会被当作平台覆盖。
var SupportedPlatforms = []PlatformID{PlatformAndroid, PlatformIOS, PlatformWeb}

// Valid 判断平台标识是否属于支持集合。
func (p PlatformID) Valid() bool {
	for _, id := range SupportedPlatforms {
		if p == id {
			return true
		}
	}
	return false
}

// GateState 表示当前构建的准入判定。
type GateState string

const (
	StateIdle        GateState = "idle"
	StateOptional    GateState = "optional"
	StateCritical    GateState = "critical"
	StateMaintenance GateState = "maintenance"
)

// Severity 返回状态的严重程度：maintenance > critical > optional > idle。
func (s GateState) Severity() int {
	switch s {
	case StateOptional:
		return 1
	case StateCritical:
		return 2
	case StateMaintenance:
		return 3
	default:
		return 0
	}
}

// Blocking 报告该状态是否阻断正常使用。
func (s GateState) Blocking() bool {
	return s == StateCritical || s == StateMaintenance
}

// Dismissible 报告该状态的提示能否被用户关闭。只有 optional 可以。
func (s GateState) Dismissible() bool {
	return s == StateOptional
}

// CanUpdate 报告该状态下"立即更新"操作是否有效。
func (s GateState) CanUpdate() bool {
	return s == StateOptional || s == StateCritical
}

func (s GateState) String() string {
	if s == "" {
		return string(StateIdle)
	}
	return string(s)
}

// TextFields 是单个状态的可选标题与文案，nil 表示远程文档中缺失该字段。
type TextFields struct {
	Title   *string
	Message *string
}

// StatusTexts 汇总三种非 idle 状态的文案字段。
type StatusTexts struct {
	Maintenance TextFields
	Critical    TextFields
	Optional    TextFields
}

// ConfigFields 是远程文档根节点与平台覆盖共享的字段集合。
// 指针或 nil 切片表示字段缺失，合并时只有存在的字段才会覆盖。
type ConfigFields struct {
	MaintenanceMode     *bool
	MinSupportedVersion *string
	LatestVersion       *string
	StoreURL            *string
	Texts               StatusTexts
	Changelog           []string
}

// PlatformOverride 是某个平台作用域下的配置字段，合并时覆盖根字段。
type PlatformOverride = ConfigFields

// Document 是经过校验的远程配置文档。
type Document struct {
	// Exists 为 false 表示远程文档不存在（ConfigUnavailable）。
	Exists    bool
	Root      ConfigFields
	Platforms map[PlatformID]PlatformOverride
}

// Override 返回指定平台的覆盖字段，不存在时返回空覆盖。
func (d Document) Override(id PlatformID) PlatformOverride {
	if d.Platforms == nil {
		return PlatformOverride{}
	}
	return d.Platforms[id]
}

// Text 是合并后某个状态的标题与文案，空字符串表示远程未提供。
type Text struct {
	Title   string `json:"title,omitempty"`
	Message string `json:"message,omitempty"`
}

// MergedConfig 是根字段叠加当前平台覆盖后的结果，每次评估重新生成。
type MergedConfig struct {
	Platform            PlatformID `json:"platform"`
	MaintenanceMode     bool       `json:"maintenance_mode"`
	MinSupportedVersion string     `json:"min_supported_version,omitempty"`
	LatestVersion       string     `json:"latest_version,omitempty"`
	StoreURL            string     `json:"store_url,omitempty"`
	Maintenance         Text       `json:"maintenance"`
	Critical            Text       `json:"critical"`
	Optional            Text       `json:"optional"`
	Changelog           []string   `json:"changelog"`
}

// TextFor 返回指定状态对应的合并文案。
func (m MergedConfig) TextFor(state GateState) Text {
	switch state {
	case StateMaintenance:
		return m.Maintenance
	case StateCritical:
		return m.Critical
	case StateOptional:
		return m.Optional
	default:
		return Text{}
	}
}

// Clone 返回不与原值共享底层切片的副本。
func (m MergedConfig) Clone() MergedConfig {
	out := m
	if m.Changelog != nil {
		out.Changelog = append([]string(nil), m.Changelog...)
	}
	return out
}

// InstalledVersionInfo 是一次评估时从宿主查询到的平台与安装版本。
type InstalledVersionInfo struct {
	PlatformID       PlatformID `json:"platform"`
	InstalledVersion string     `json:"installed_version"`
}

// Display 是提供给展示层的派生字段。
type Display struct {
	Title         string   `json:"title"`
	Message       string   `json:"message"`
	Changelog     []string `json:"changelog,omitempty"`
	ShowChangelog bool     `json:"show_changelog"`
	StoreURL      string   `json:"store_url,omitempty"`
	TargetVersion string   `json:"target_version,omitempty"`
	CanDismiss    bool     `json:"can_dismiss"`
	CanUpdate     bool     `json:"can_update"`
}

// Published 是 watcher 对外发布的不可变快照。
type Published struct {
	Sequence    uint64               `json:"sequence"`
	State       GateState            `json:"state"`
	Config      MergedConfig         `json:"config"`
	Installed   InstalledVersionInfo `json:"installed"`
	Display     Display              `json:"display"`
	Origin      string               `json:"origin,omitempty"`
	EvaluatedAt time.Time            `json:"evaluated_at"`
}

// Clone 返回深拷贝，发布给订阅者的值彼此之间不共享切片。
func (p Published) Clone() Published {
	out := p
	out.Config = p.Config.Clone()
	if p.Display.Changelog != nil {
		out.Display.Changelog = append([]string(nil), p.Display.Changelog...)
	}
	return out
}
