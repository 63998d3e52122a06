package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/yungbote/kidslab-backend/internal/app"
	"github.com/yungbote/kidslab-backend/internal/platform/shutdown"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Printf("failed to read .env: %v\n", err)
	}

	ctx, stop := shutdown.NotifyContext(context.Background())
	defer stop()

	a, err := app.New(ctx)
	if err != nil {
		fmt.Printf("failed to initialize app: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.Start(); err != nil {
		a.Log.Error("failed to start background loops", "error", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- a.Run() }()

	select {
	case err := <-errCh:
		if err != nil {
			a.Log.Error("server exited", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		a.Log.Info("Shutting down...")
		if err := a.Shutdown(context.Background()); err != nil {
			a.Log.Warn("graceful shutdown failed", "error", err)
		}
	}
}
