package main

import (
	"log/slog"
	"os"

	"licmgr/internal/app"
)

func main() {
	application, err := app.NewApplication()
	if err != nil {
		slog.Error("failed to initialize license engine", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := application.Run(); err != nil {
		slog.Error("license engine error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
