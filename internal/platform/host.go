package platform

import (
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
)

// Host 描述展示层依赖的宿主能力。
type Host interface {
	// OpenExternalURL 打开外部地址，调用方不等待结果。
	OpenExternalURL(url string)
}

// SystemHost 通过系统默认程序打开地址。
type SystemHost struct {
	logger *slog.Logger
	goos   func() string
	start  func(name string, args ...string) error
}

// NewSystemHost 创建 SystemHost。
func NewSystemHost(logger *slog.Logger) *SystemHost {
	if logger == nil {
		logger = slog.Default()
	}
	return &SystemHost{
		logger: logger,
		goos:   func() string { return runtime.GOOS },
		start:  runCommand,
	}
}

// runCommand 启动外部程序并等待其退出，回收子进程。
func runCommand(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Wait()
}

// OpenExternalURL 异步调用系统打开程序，失败只记录日志。
func (h *SystemHost) OpenExternalURL(url string) {
	url = strings.TrimSpace(url)
	if url == "" {
		h.logger.Warn("open external url skipped: empty url")
		return
	}
	name, args := openerCommand(h.goos(), url)
	go func() {
		if err := h.start(name, args...); err != nil {
			h.logger.Warn("open external url failed", "url", url, "error", err)
		}
	}()
}

func openerCommand(goos, url string) (string, []string) {
	switch goos {
	case "darwin", "ios":
		return "open", []string{url}
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", url}
	default:
		return "xdg-open", []string{url}
	}
}
