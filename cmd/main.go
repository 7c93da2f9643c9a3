package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/yungbote/inkpress-backend/internal/app"
	"github.com/yungbote/inkpress-backend/internal/platform/shutdown"
)

func main() {
	// Best effort; deployed environments configure the process directly.
	_ = godotenv.Load()

	a, err := app.New()
	if err != nil {
		fmt.Printf("Failed to start: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	a.Start()

	if a.Cfg.RunsIngress() {
		a.Log.Info("Server listening", "port", a.Cfg.Port, "role", a.Cfg.Role)
		if err := a.Run(":" + a.Cfg.Port); err != nil {
			a.Log.Error("Server failed", "error", err)
		}
		return
	}

	// Worker-only process: block until signalled, then drain.
	ctx, stop := shutdown.NotifyContext(context.Background())
	defer stop()
	a.Log.Info("Worker running", "slots", a.Cfg.WorkerSlots)
	<-ctx.Done()
	a.Log.Info("Shutting down...")
}
