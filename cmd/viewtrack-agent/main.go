package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/viewtrack/agent/internal/adapter"
	"github.com/viewtrack/agent/internal/config"
	"github.com/viewtrack/agent/internal/mock"
	"github.com/viewtrack/agent/internal/report"
	"github.com/viewtrack/agent/internal/session"
	"github.com/viewtrack/agent/internal/tracker"
	"github.com/viewtrack/agent/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	mockMode := flag.Bool("mock", false, "Drive the agent with simulated browser pages")
	genToken := flag.Bool("gen-token", false, "Print a fresh auth token and exit")
	flag.Parse()

	if *genToken {
		tok, err := config.GenerateToken()
		if err != nil {
			log.Fatalf("Failed to generate token: %v", err)
		}
		fmt.Println(tok)
		return
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *port > 0 {
		cfg.Server.Port = *port
	}

	registry := registryFor(cfg.Sources)
	if len(registry.All()) == 0 {
		log.Fatalf("No sources enabled in %s", *configPath)
	}

	health := report.NewHealth(cfg.Reporting.DegradedAfter, cfg.Reporting.FailedAfter)
	sink := report.NewHTTPSink(report.HTTPSinkConfig{
		Endpoint:   cfg.Reporting.Endpoint,
		Credential: cfg.Reporting.Credential,
		Timeout:    cfg.Reporting.Timeout,
	}, health)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := ws.NewHub(ctx, trackerConfig(cfg), registry, sink)
	feed := ws.NewBroadcaster(hub, health, cfg.Server.BroadcastThrottle, cfg.Server.SnapshotInterval, cfg.Server.MaxFeedClients)
	hub.SetFeed(feed)
	sink.OnResult(feed.PublishResult)

	server := ws.NewServer(hub, feed, health, cfg.Server.AllowedOrigins, cfg.Server.AuthToken)
	mux := http.NewServeMux()
	server.SetupRoutes(mux)
	srv := ws.NewHTTPServer(cfg.Server.Host, cfg.Server.Port, mux)

	mockCtx, stopMock := context.WithCancel(ctx)
	defer stopMock()
	var gen *mock.MockGenerator
	if *mockMode {
		log.Println("Starting in mock mode")
		bridge := fmt.Sprintf("ws://%s/bridge", srv.Addr)
		gen = mock.NewGenerator(bridge, cfg.Server.AuthToken, mock.DefaultTick)
		gen.Start(mockCtx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		stopMock()
		if gen != nil {
			gen.Wait()
		}

		// Close every page while the hub context is still live so final
		// reports are queued before the sink is drained.
		hub.Shutdown()
		cancel()
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		if err := sink.Wait(sctx); err != nil {
			log.Printf("[sink] reports still in flight at shutdown: %v", err)
		}
		feed.Stop()
		srv.Shutdown(sctx)
	}()

	log.Printf("Listening on %s (reporting to %s as %s)", srv.Addr, cfg.Reporting.Endpoint, cfg.Reporting.UserID)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server error: %v", err)
	}
}

// registryFor returns the adapters enabled in sources.
func registryFor(sources config.SourcesConfig) *adapter.Registry {
	var enabled []adapter.Adapter
	if sources.YouTube {
		enabled = append(enabled, adapter.Video{})
	}
	if sources.Twitter {
		enabled = append(enabled, adapter.Feed{})
	}
	return adapter.NewRegistry(enabled...)
}

func trackerConfig(cfg *config.Config) tracker.Config {
	return tracker.Config{
		Timing: adapter.Timing{
			PollInterval: cfg.Visibility.PollInterval,
			URLWatch:     cfg.Visibility.URLWatchInterval,
			Settle:       cfg.Visibility.SettleDelay,
			Threshold:    cfg.Visibility.IntersectionThreshold,
			Confirm:      cfg.Visibility.ConfirmDelay,
		},
		Session: session.Config{
			Heartbeat:       cfg.Session.HeartbeatInterval,
			PauseWhenHidden: cfg.Session.PauseWhenHidden,
		},
		UserID:  cfg.Reporting.UserID,
		Privacy: privacyFilter(cfg.Privacy),
	}
}

// privacyFilter returns nil when no privacy option is set.
func privacyFilter(p config.PrivacyConfig) *report.PrivacyFilter {
	f := &report.PrivacyFilter{
		OmitTitles:   p.OmitTitles,
		OmitURLs:     p.OmitURLs,
		OmitTags:     p.OmitTags,
		HashUserID:   p.HashUserID,
		AllowedPages: p.AllowedPages,
		BlockedPages: p.BlockedPages,
	}
	if f.IsNoop() {
		return nil
	}
	return f
}
