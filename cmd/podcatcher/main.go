package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/handiism/podcatcher/internal/archive"
	"github.com/handiism/podcatcher/internal/config"
	"github.com/handiism/podcatcher/internal/download"
	ioutils "github.com/handiism/podcatcher/internal/io"
)

func main() {
	// Command line flags
	var (
		urlsFlag     = flag.String("url", "", "Episode URL(s) to download (comma-separated)")
		configFlag   = flag.String("config", "", "Path to config file (.json, .yaml)")
		outputFlag   = flag.String("output", "", "Output directory (overrides config)")
		tempFlag     = flag.String("temp", "", "Temp directory for partial downloads (overrides config)")
		workersFlag  = flag.Int("workers", 0, "Maximum concurrent downloads (overrides config)")
		playlistFlag = flag.String("playlist", "", "Create a playlist in the given format (m3u, pls, wpl, zpl)")
		archiveFlag  = flag.String("archive", "", "Bucket URL completed episodes are copied to (file:///path, mem://)")
		verboseFlag  = flag.Bool("verbose", false, "Show verbose output")
	)

	flag.Parse()

	urls := collectURLs(*urlsFlag, flag.Args())
	if len(urls) == 0 {
		fmt.Println("Podcatcher - Resumable episode downloads")
		fmt.Println()
		fmt.Println("Usage:")
		fmt.Println("  podcatcher -url <URL>[,<URL>...] [options]")
		fmt.Println("  podcatcher [options] <URL>...")
		fmt.Println()
		fmt.Println("For interactive mode, use: podcatcher-tui")
		fmt.Println()
		flag.PrintDefaults()
		os.Exit(1)
	}

	level := slog.LevelInfo
	if *verboseFlag {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Load config
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

	// Apply flags
	if *outputFlag != "" {
		settings.DownloadsPath = *outputFlag
	}
	if *tempFlag != "" {
		settings.TempPath = *tempFlag
	}
	if *workersFlag > 0 {
		settings.MaxConcurrentDownloads = *workersFlag
	}
	if *playlistFlag != "" {
		settings.CreatePlaylist = true
		settings.PlaylistFormat = strings.ToLower(*playlistFlag)
	}
	if *archiveFlag != "" {
		settings.ArchiveBucket = *archiveFlag
	}

	if err := settings.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid settings: %v\n", err)
		os.Exit(1)
	}

	// Handle interrupts
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nInterrupted, stopping (partial downloads are kept)...")
		cancel()
	}()

	status := download.NewStatusManager(download.StatusOptions{
		Interval: settings.Interval(),
		Logger:   logger,
	})
	defer status.Close()

	status.Subscribe(&download.StatusObserver{
		OnStatusUpdated: func(s download.Status) {
			if s.CurrentDownloads == 0 {
				return
			}
			progress := "?"
			if s.Progress >= 0 {
				progress = fmt.Sprintf("%d%%", s.Progress)
			}
			fmt.Printf("   [%d running, %d/%d done] %s of %s, %s, %s\n",
				s.CurrentDownloads,
				s.CompletedDownloads,
				s.TotalDownloads,
				ioutils.FormatBytes(s.BytesDownloaded),
				ioutils.FormatBytes(s.TotalLength),
				progress,
				ioutils.FormatRate(s.Speed),
			)
		},
	})

	manager := download.NewManager(settings, status, func(n download.Notice) {
		if n.Level == download.LevelVerbose && !*verboseFlag {
			return
		}

		prefix := ""
		switch n.Level {
		case download.LevelError:
			prefix = "✗ "
		case download.LevelWarning:
			prefix = "! "
		case download.LevelSuccess:
			prefix = "✓ "
		case download.LevelInfo:
			prefix = "› "
		default:
			prefix = "  "
		}

		fmt.Println(prefix + n.Message)
	})
	manager.SetLogger(logger)

	if settings.ArchiveBucket != "" {
		archiver, err := archive.Open(ctx, settings.ArchiveBucket)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening archive: %v\n", err)
			os.Exit(1)
		}
		defer archiver.Close()
		manager.SetArchiver(archiver)
	}

	fmt.Println("Podcatcher")
	fmt.Println(strings.Repeat("━", 40))
	fmt.Println()

	n := manager.EnqueueURLs(strings.Join(urls, "\n"))
	fmt.Printf("Downloading %d episode(s)...\n\n", n)

	if err := manager.Run(ctx); err != nil {
		if ctx.Err() != nil {
			fmt.Println("\nDownload cancelled.")
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "Error during download: %v\n", err)
		os.Exit(1)
	}

	s := status.Status()
	fmt.Println()
	fmt.Println(strings.Repeat("━", 40))
	fmt.Printf("Complete! Downloaded %d/%d episodes (%s)\n", s.SuccessfulDownloads, n, ioutils.FormatBytes(s.BytesDownloaded))
	if s.FailedDownloads > 0 {
		fmt.Printf("   %d episode(s) failed\n", s.FailedDownloads)
		os.Exit(1)
	}
}

// collectURLs merges the comma-separated -url value with positional args.
func collectURLs(flagValue string, args []string) []string {
	var urls []string
	for _, u := range strings.Split(flagValue, ",") {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	for _, a := range args {
		if a = strings.TrimSpace(a); a != "" {
			urls = append(urls, a)
		}
	}
	return urls
}
