package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, a := newRootCmd()
	err := root.ExecuteContext(ctx)
	if cerr := a.close(); cerr != nil && a.log != nil {
		a.log.Warn("save session", "error", cerr)
	}
	if err != nil {
		os.Exit(1)
	}
}
