package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/piyusht2411/chatting-app/internal/chat"
	"github.com/piyusht2411/chatting-app/internal/config"
	"github.com/piyusht2411/chatting-app/internal/logger"
)

func main() {
	_ = godotenv.Load()

	configPath := strings.TrimSpace(os.Getenv("CHATAPP_CONFIG"))
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.UserID == "" {
		log.Fatalf("CHATAPP_USER_ID (or user_id in the config file) is required")
	}
	logger.InitWithLevel(cfg.LogLevel)

	store, err := chat.BuildPendingStoreFromDSN(cfg.PendingStoreDSN)
	if err != nil {
		log.Fatalf("failed to initialize pending store: %v", err)
	}
	defer store.Close()

	remote, err := buildRemote(cfg)
	if err != nil {
		log.Fatalf("failed to initialize remote: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	self := chat.PlaceholderProfile(cfg.UserID)
	if rows, err := remote.Query(ctx, "profiles", chat.Filter{"id": cfg.UserID}); err != nil {
		log.Fatalf("failed to load own profile: %v", err)
	} else if len(rows) > 0 {
		self = chat.Profile{
			ID:    cfg.UserID,
			Name:  rowString(rows[0], "name"),
			Phone: rowString(rows[0], "phone"),
		}
	}

	bus := chat.NewBus()
	controller, err := chat.NewController(chat.ControllerOptions{
		Remote: remote,
		Store:  store,
		Bus:    bus,
		UserID: cfg.UserID,
	})
	if err != nil {
		log.Fatalf("failed to initialize controller: %v", err)
	}

	list, err := chat.NewListView(chat.ListViewOptions{
		Remote:         remote,
		Bus:            bus,
		Cache:          chat.NewSummaryCache(),
		Self:           self,
		SearchDebounce: cfg.SearchDebounce,
	})
	if err != nil {
		log.Fatalf("failed to initialize conversation list: %v", err)
	}
	defer list.Close()

	session := chat.NewThreadSession(chat.ThreadViewOptions{
		Remote:     remote,
		Store:      store,
		Bus:        bus,
		Controller: controller,
		Self:       self,
	})
	defer session.Close()

	if err := list.Refresh(ctx); err != nil {
		log.Fatalf("failed to load conversations: %v", err)
	}
	logger.Info("chatapp ready", "user_id", cfg.UserID, "conversations", len(list.Summaries()))

	if configPath != "" {
		go func() {
			err := config.Watch(ctx, configPath, func(next config.Config) {
				logger.InitWithLevel(next.LogLevel)
				logger.Info("config reloaded", "path", configPath)
			})
			if err != nil && ctx.Err() == nil {
				logger.Warn("config watch stopped", "err", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")
}

func buildRemote(cfg config.Config) (chat.Remote, error) {
	if cfg.RemoteDSN != "" {
		return chat.NewPostgresRemote(cfg.RemoteDSN)
	}
	return chat.NewHTTPRemote(chat.HTTPRemoteOptions{BaseURL: cfg.RemoteURL}), nil
}

func rowString(row chat.Row, field string) string {
	if value, ok := row[field].(string); ok {
		return value
	}
	return ""
}
