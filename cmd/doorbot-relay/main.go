package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BilalWattu521/doorbot-fyp/internal/doorbell"
	"github.com/BilalWattu521/doorbot-fyp/internal/firebase"
	"github.com/BilalWattu521/doorbot-fyp/internal/frames"
	"github.com/BilalWattu521/doorbot-fyp/internal/httpapi"
)

func main() {
	addr := os.Getenv("DOORBOT_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	apiKey := strings.TrimSpace(os.Getenv("DOORBOT_API_KEY"))
	if apiKey == "" {
		log.Printf("warning: DOORBOT_API_KEY is not set, all relay routes will reject requests")
	}

	backend, err := frames.BuildBackendFromDSN(os.Getenv("DOORBOT_FRAMES_DSN"))
	if err != nil {
		log.Fatalf("failed to initialize frame backend: %v", err)
	}
	frameStore := frames.NewStoreWithOptions(frames.StoreOptions{
		Backend: backend,
		Logger:  log.Default(),
	})
	defer frameStore.Close()

	tracker := doorbell.NewTracker()
	firebaseReady := startEventCore(context.Background(), tracker)

	server := httpapi.NewServerWithConfig(frameStore, httpapi.ServerConfig{
		APIKey:       apiKey,
		MaxBodyBytes: int64Env("DOORBOT_MAX_BODY_BYTES", 0),
	}, func() httpapi.CoreStatus {
		return httpapi.CoreStatus{
			FirebaseReady: firebaseReady,
			TrackedUsers:  tracker.TrackedCount(),
		}
	})

	log.Printf("doorbot relay listening on %s", addr)
	if err := http.ListenAndServe(addr, server); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

// startEventCore wires the doorbell event core against Firebase. Missing
// or invalid credentials disable the core: the relay keeps serving
// frames and the status endpoint reports firebase=false.
func startEventCore(ctx context.Context, tracker *doorbell.Tracker) bool {
	account, err := firebase.LoadServiceAccountFromEnv()
	if err != nil {
		if errors.Is(err, firebase.ErrNoCredentials) {
			log.Printf("warning: no firebase credentials found, push notifications disabled")
		} else {
			log.Printf("warning: firebase bootstrap failed, push notifications disabled: %v", err)
		}
		return false
	}
	tokens, err := firebase.NewTokenSource(account, nil)
	if err != nil {
		log.Printf("warning: firebase key rejected, push notifications disabled: %v", err)
		return false
	}

	databaseURL := strings.TrimSpace(os.Getenv("FIREBASE_DATABASE_URL"))
	if databaseURL == "" {
		databaseURL = account.DatabaseURL()
	}
	store := firebase.NewClient(databaseURL, tokens, nil)
	messenger := firebase.NewMessagingClient(account.ProjectID, tokens, nil)

	dispatcher := doorbell.NewDispatcher(doorbell.DispatcherOptions{
		Store:     store,
		Messenger: messenger,
		QueueSize: intEnv("DOORBOT_DISPATCH_QUEUE_SIZE", 0),
		Logger:    log.Default(),
	})
	dispatcher.Start(ctx)

	discovery := doorbell.NewDiscovery(doorbell.DiscoveryOptions{
		Store:    store,
		Interval: durationEnv("DOORBOT_DISCOVERY_INTERVAL", 5*time.Minute),
		Logger:   log.Default(),
	})

	mode := strings.ToLower(strings.TrimSpace(os.Getenv("DOORBOT_EVENT_MODE")))
	switch mode {
	case "", "poll":
		poller := doorbell.NewPoller(doorbell.PollerOptions{
			Store:       store,
			Tracker:     tracker,
			Discovery:   discovery,
			Dispatcher:  dispatcher,
			Interval:    durationEnv("DOORBOT_POLL_INTERVAL", 3*time.Second),
			ReadTimeout: durationEnv("DOORBOT_READ_TIMEOUT", 10*time.Second),
			Logger:      log.Default(),
		})
		go poller.Run(ctx)
	case "subscribe":
		manager := doorbell.NewSubscriptionManager(doorbell.SubscriptionManagerOptions{
			Store:      store,
			Tracker:    tracker,
			Dispatcher: dispatcher,
			Logger:     log.Default(),
		})
		manager.Start(ctx)
		go runSubscriptionDiscovery(ctx, discovery, manager,
			durationEnv("DOORBOT_DISCOVERY_INTERVAL", 5*time.Minute),
			durationEnv("DOORBOT_READ_TIMEOUT", 10*time.Second))
	default:
		log.Printf("warning: unsupported DOORBOT_EVENT_MODE %q, push notifications disabled", mode)
		return false
	}
	return true
}

// runSubscriptionDiscovery keeps the subscription manager's user set in
// step with the users root. Track is idempotent, so re-listing is safe.
func runSubscriptionDiscovery(ctx context.Context, discovery *doorbell.Discovery, manager *doorbell.SubscriptionManager, interval, readTimeout time.Duration) {
	refresh := func() {
		refreshCtx, cancel := context.WithTimeout(ctx, readTimeout)
		defer cancel()
		if err := discovery.Refresh(refreshCtx); err != nil {
			log.Printf("user discovery failed: %v", err)
			return
		}
		for _, uid := range discovery.Snapshot() {
			manager.Track(uid)
		}
	}
	refresh()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			refresh()
		case <-ctx.Done():
			return
		}
	}
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func int64Env(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}
