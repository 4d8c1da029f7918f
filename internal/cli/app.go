package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/liangyou/appgate/internal/version"
	"github.com/liangyou/appgate/pkg/models"
)

// CheckService 对远程配置执行一次性评估。docPath 非空时读取本地文档代替远程来源。
type CheckService interface {
	Check(ctx context.Context, configPath, docPath string) (models.Published, error)
}

// WatchService 启动常驻订阅与 HTTP 接口，直到 ctx 取消。
type WatchService interface {
	Watch(ctx context.Context, configPath string) error
}

// App 负责 CLI 命令解析与分发。
type App struct {
	out     io.Writer
	version string
	checker CheckService
	watcher WatchService
}

// NewApp 创建 CLI 应用实例。
func NewApp(out io.Writer, checker CheckService, watcher WatchService, version string) *App {
	if out == nil {
		out = os.Stdout
	}
	return &App{
		out:     out,
		version: version,
		checker: checker,
		watcher: watcher,
	}
}

// Run 解析参数并执行命令。
func (a *App) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("appgate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	helpFlg := fs.Bool("help", false, "show help")
	versionFlg := fs.Bool("version", false, "show version")
	configFlg := fs.String("config", "", "config file path")

	if err := fs.Parse(args); err != nil {
		return err
	}

	switch {
	case *helpFlg:
		a.printHelp()
		return nil
	case *versionFlg:
		fmt.Fprintf(a.out, "appgate version %s\n", a.version)
		return nil
	}

	rest := fs.Args()
	if len(rest) == 0 {
		a.printHelp()
		return nil
	}

	switch rest[0] {
	case "compare":
		if len(rest) < 3 {
			return errors.New("compare command requires two versions")
		}
		return a.handleCompare(rest[1], rest[2])
	case "check":
		return a.handleCheck(ctx, *configFlg, rest[1:])
	case "watch":
		return a.handleWatch(ctx, *configFlg)
	default:
		return fmt.Errorf("unknown command: %s", rest[0])
	}
}

func (a *App) handleCompare(left, right string) error {
	op := "="
	switch version.Compare(left, right) {
	case -1:
		op = "<"
	case 1:
		op = ">"
	}
	fmt.Fprintf(a.out, "%s %s %s\n", strings.TrimSpace(left), op, strings.TrimSpace(right))
	return nil
}

func (a *App) handleCheck(ctx context.Context, configPath string, args []string) error {
	if a.checker == nil {
		return errors.New("check command is unavailable")
	}
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	docFlg := fs.String("doc", "", "local config document (JSON or YAML)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	pub, err := a.checker.Check(ctx, configPath, *docFlg)
	if err != nil {
		return err
	}
	a.printPublished(pub)
	return nil
}

func (a *App) handleWatch(ctx context.Context, configPath string) error {
	if a.watcher == nil {
		return errors.New("watch command is unavailable")
	}
	return a.watcher.Watch(ctx, configPath)
}

func (a *App) printPublished(pub models.Published) {
	fmt.Fprintf(a.out, "State: %s\n", pub.State)
	if pub.Installed.PlatformID != "" {
		fmt.Fprintf(a.out, "Platform: %s\n", pub.Installed.PlatformID)
		fmt.Fprintf(a.out, "Installed: %s\n", pub.Installed.InstalledVersion)
	}
	if pub.State == models.StateIdle {
		return
	}
	d := pub.Display
	fmt.Fprintf(a.out, "Title: %s\n", d.Title)
	fmt.Fprintf(a.out, "Message: %s\n", d.Message)
	if d.TargetVersion != "" {
		fmt.Fprintf(a.out, "Latest: %s\n", d.TargetVersion)
	}
	if d.StoreURL != "" {
		fmt.Fprintf(a.out, "Store: %s\n", d.StoreURL)
	}
	if d.ShowChangelog {
		fmt.Fprintln(a.out, "Changelog:")
		for _, item := range d.Changelog {
			fmt.Fprintf(a.out, "  - %s\n", item)
		}
	}
	fmt.Fprintf(a.out, "Dismissible: %t\n", d.CanDismiss)
}

func (a *App) printHelp() {
	fmt.Fprintln(a.out, `appgate - remote-config app gate

Commands:
  appgate compare <a> <b>              Compare two dotted versions
  appgate check [-doc file]            Evaluate the gate once and print the result
  appgate watch                        Subscribe to remote config and serve the HTTP API
  appgate -config <file> <command>     Use a config file
  appgate -help                        Show this message
  appgate -version                     Show appgate version`)
}
