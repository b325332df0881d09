package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BilalWattu521/doorbot-fyp/internal/agent"
)

func main() {
	var (
		relayURL    = flag.String("relay", envOr("DOORBOT_RELAY_URL", "http://127.0.0.1:8080"), "relay server base URL")
		apiKey      = flag.String("key", os.Getenv("DOORBOT_API_KEY"), "relay shared API key")
		uid         = flag.String("uid", os.Getenv("DOORBOT_USER_UID"), "user id the camera belongs to")
		spoolDir    = flag.String("spool", envOr("DOORBOT_SPOOL_DIR", "./frames"), "directory the capture pipeline writes JPEG frames into")
		settle      = flag.Duration("settle", 250*time.Millisecond, "quiet period before a frame is uploaded")
		removeAfter = flag.Bool("remove", false, "delete spool files after a successful upload")
	)
	flag.Parse()

	if *apiKey == "" {
		log.Fatalf("an API key is required (set -key or DOORBOT_API_KEY)")
	}
	if *uid == "" {
		log.Fatalf("a user id is required (set -uid or DOORBOT_USER_UID)")
	}
	if info, err := os.Stat(*spoolDir); err != nil || !info.IsDir() {
		log.Fatalf("spool directory %s is not accessible", *spoolDir)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	uploader := agent.NewUploader(*relayURL, *apiKey, *uid, nil)
	watcher := agent.NewWatcher(agent.WatcherOptions{
		Dir:               *spoolDir,
		Uploader:          uploader,
		SettleDelay:       *settle,
		RemoveAfterUpload: *removeAfter,
		Logger:            log.Default(),
	})

	log.Printf("doorbot agent watching %s for user %s", *spoolDir, *uid)
	if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("watcher failed: %v", err)
	}
}

func envOr(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}
