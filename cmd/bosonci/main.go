// Package main is the entry point for the bosonci command line tool.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"bosonci/cmd/bosonci/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cmd.Execute(ctx)
	stop()
	os.Exit(code)
}
