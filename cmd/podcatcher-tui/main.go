package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/handiism/podcatcher/internal/config"
	"github.com/handiism/podcatcher/internal/tui"
)

func main() {
	var (
		configFlag = flag.String("config", "", "Path to config file (.json, .yaml)")
		logFlag    = flag.String("log", "", "Write logs to this file instead of discarding them")
	)
	flag.Parse()

	settings := config.DefaultSettings()
	if *configFlag != "" {
		var err error
		settings, err = config.Load(*configFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
	}
	if err := settings.LoadFromEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading environment: %v\n", err)
		os.Exit(1)
	}
	if err := settings.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid settings: %v\n", err)
		os.Exit(1)
	}

	// The alternate screen owns the terminal, so logs go to a file or nowhere.
	logger := slog.New(slog.DiscardHandler)
	if *logFlag != "" {
		f, err := os.OpenFile(*logFlag, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		logger = slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	slog.SetDefault(logger)

	if err := tui.Run(settings, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
