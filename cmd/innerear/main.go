package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"innerear/internal/app"
	"innerear/internal/window"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := app.Run(ctx, os.Args[1:], os.Stderr, window.Run)
	stop()
	os.Exit(code)
}
