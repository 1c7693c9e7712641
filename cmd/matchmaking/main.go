package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "go.uber.org/automaxprocs"

	"github.com/lk2023060901/danmu-garden-matchmaking/application"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.New().Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "matchmaking: %v\n", err)
		os.Exit(1)
	}
}
