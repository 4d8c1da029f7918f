package gate

import "github.com/liangyou/appgate/pkg/models"

// 远程文档缺少标题或文案时使用的默认文本。
const (
	DefaultMaintenanceTitle   = "Under maintenance"
	DefaultMaintenanceMessage = "We are performing scheduled maintenance. Please try again shortly."
	DefaultCriticalTitle      = "Update required"
	DefaultCriticalMessage    = "This version is no longer supported. Please update to continue."
	DefaultOptionalTitle      = "Update available"
	DefaultOptionalMessage    = "A new version is available with improvements and fixes."
)

// ResolveDisplay 计算展示层需要的派生字段。
// changelog 仅在非维护状态且列表非空时展示。
func ResolveDisplay(state models.GateState, merged models.MergedConfig) models.Display {
	display := models.Display{
		CanDismiss: state.Dismissible(),
		CanUpdate:  state.CanUpdate(),
	}
	if state == models.StateIdle {
		return display
	}

	text := merged.TextFor(state)
	title, message := defaultText(state)
	if text.Title != "" {
		title = text.Title
	}
	if text.Message != "" {
		message = text.Message
	}
	display.Title = title
	display.Message = message

	if state != models.StateMaintenance {
		display.StoreURL = merged.StoreURL
		display.TargetVersion = merged.LatestVersion
		if len(merged.Changelog) > 0 {
			display.ShowChangelog = true
			display.Changelog = append([]string(nil), merged.Changelog...)
		}
	}
	return display
}

func defaultText(state models.GateState) (string, string) {
	switch state {
	case models.StateMaintenance:
		return DefaultMaintenanceTitle, DefaultMaintenanceMessage
	case models.StateCritical:
		return DefaultCriticalTitle, DefaultCriticalMessage
	case models.StateOptional:
		return DefaultOptionalTitle, DefaultOptionalMessage
	default:
		return "", ""
	}
}
