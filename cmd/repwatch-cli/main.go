package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/platinummonkey/repwatch/pkg/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.NewRootCommand().Execute(ctx)
	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "repwatch-cli: %v\n", err)
		os.Exit(1)
	}
}
