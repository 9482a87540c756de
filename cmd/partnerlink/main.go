package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/savorly/partnerlink/internal/api"
	"github.com/savorly/partnerlink/internal/bus"
	"github.com/savorly/partnerlink/internal/config"
	"github.com/savorly/partnerlink/internal/keychain"
	"github.com/savorly/partnerlink/internal/netwatch"
	"github.com/savorly/partnerlink/internal/session"
	"github.com/savorly/partnerlink/internal/socket"
	"github.com/savorly/partnerlink/internal/token"
	"github.com/savorly/partnerlink/internal/version"
	"github.com/savorly/partnerlink/pkg/logger"
	"github.com/savorly/partnerlink/pkg/types"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	accessToken := flag.String("access-token", "", "seed the stored access token")
	refreshToken := flag.String("refresh-token", "", "seed the stored refresh token")
	partnerID := flag.String("partner", "", "partner ID to watch")
	flag.Parse()
	args := flag.Args()

	if level, err := logger.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	if len(args) > 0 {
		switch args[0] {
		case "version", "--version", "-v":
			fmt.Printf("partnerlink %s\n", version.RichVersion())
			return nil
		case "help", "--help", "-h":
			printUsage()
			return nil
		case "logout":
			return logoutCommand(cfg)
		case "watch":
			args = args[1:]
		default:
			printUsage()
			return fmt.Errorf("unknown command: %s", args[0])
		}
	}

	if cfg.Debug {
		log.Printf("Config: ServerURL=%s, Home=%s, Instance=%s", cfg.ServerURL, cfg.Home, cfg.InstanceID)
	}

	store := openStore(cfg)

	apiClient := api.New(cfg.ServerURL)
	defer apiClient.Close()

	tokens := token.New(store, apiClient)
	tokens.Initialize()

	if *accessToken != "" && *refreshToken != "" {
		err := tokens.StoreTokens(types.AuthTokens{
			AccessToken:  *accessToken,
			RefreshToken: *refreshToken,
		})
		if err != nil {
			return fmt.Errorf("failed to store tokens: %w", err)
		}
		log.Println("Credentials stored.")
	}
	if _, ok := tokens.AccessToken(); !ok {
		return fmt.Errorf("no credentials; run with -access-token and -refresh-token first")
	}

	b := bus.New()
	transport := socket.NewSocketIOTransport(cfg.SocketURL())
	client := socket.NewClient(transport, tokens, b)
	defer client.Destroy()

	watcher := netwatch.New(netwatch.TCPProbe(cfg.ServerURL), 0)
	client.AttachReachability(watcher)

	orchestrator := session.New(client, tokens, b)
	orchestrator.Start()
	defer orchestrator.Stop()

	ctx := context.Background()
	if *partnerID != "" {
		if err := orchestrator.SetIdentity(ctx, &types.Identity{PartnerID: *partnerID}); err != nil {
			return fmt.Errorf("failed to start session: %w", err)
		}
	} else if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	if client.WaitForConnect(10 * time.Second) {
		log.Printf("Connected to %s", cfg.SocketURL())
	} else {
		log.Println("Not connected yet; will keep retrying in the background.")
	}

	events, cancel := b.Subscribe(
		bus.TopicConnected,
		bus.TopicDisconnected,
		bus.TopicReconnecting,
		bus.TopicConnectionFailed,
		bus.TopicOrderStatus,
		bus.TopicNotification,
		bus.TopicToast,
	)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case event := <-events:
			printEvent(event)
		case <-sigCh:
			log.Println("Shutting down...")
			return nil
		}
	}
}

// openStore prefers the encrypted on-disk store and falls back to an
// in-memory one so a broken home directory never blocks startup.
func openStore(cfg *config.Config) keychain.Store {
	store, err := keychain.NewFileStore(cfg.Home, cfg.InstanceID)
	if err != nil {
		logger.Warnf("keychain unavailable (%v), using in-memory store", err)
		return keychain.NewMemoryStore()
	}
	return store
}

func logoutCommand(cfg *config.Config) error {
	store := openStore(cfg)
	apiClient := api.New(cfg.ServerURL)
	defer apiClient.Close()

	tokens := token.New(store, apiClient)
	tokens.Initialize()
	if err := tokens.ClearAll(); err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	log.Println("Logged out.")
	return nil
}

func printEvent(event bus.Event) {
	switch e := event.(type) {
	case bus.ConnectedEvent:
		log.Println("[socket] connected")
	case bus.DisconnectedEvent:
		log.Printf("[socket] disconnected: %s", e.Reason)
	case bus.ReconnectingEvent:
		log.Printf("[socket] reconnecting (attempt %d)", e.Attempt)
	case bus.ConnectionFailedEvent:
		log.Printf("[socket] connection failed: %s", e.LastError)
	case bus.OrderStatusEvent:
		log.Printf("[order %s] %s %s", e.Update.OrderID, e.Update.Status, e.Update.Message)
	case bus.NotificationEvent:
		log.Printf("[notification] %s: %s", e.Notification.Title, e.Notification.Message)
	case bus.ToastEvent:
		log.Printf("[toast/%s] %s", e.Kind, e.Message)
	}
}

func printUsage() {
	fmt.Println(`partnerlink - realtime order updates for partner kitchens

Usage:
  partnerlink [flags] [command]

Commands:
  watch      Stream realtime events (default)
  logout     Clear stored credentials
  version    Print the version
  help       Show this help

Flags:
  -access-token string   Seed the stored access token
  -refresh-token string  Seed the stored refresh token
  -partner string        Partner ID to watch

Environment:
  PARTNERLINK_SERVER_URL  API base URL (default https://api.savorly.app)
  PARTNERLINK_HOME        State directory (default ~/.partnerlink)
  PARTNERLINK_LOG_LEVEL   trace|debug|info|warn|error`)
}
