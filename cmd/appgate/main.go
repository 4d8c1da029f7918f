package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/liangyou/appgate/internal/app"
	"github.com/liangyou/appgate/internal/cli"
)

const appVersion = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runtime := app.NewRuntime(appVersion, os.Stderr)
	application := cli.NewApp(os.Stdout, runtime, runtime, appVersion)
	if err := application.Run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
