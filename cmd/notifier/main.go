package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"arena_realtime/server/notifier/app"
)

func main() {
	cfg := app.LoadConfig()
	server, err := app.NewServer(cfg)
	if err != nil {
		log.Fatalf("initialize notifier: %v", err)
	}
	defer server.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		log.Fatalf("start consumers: %v", err)
	}
	log.Printf("notifier consumers running")

	<-ctx.Done()
}
