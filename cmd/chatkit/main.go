package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/meszmate/chatkit/internal/config"
	"github.com/meszmate/chatkit/internal/logging"
	"github.com/meszmate/chatkit/pkg/chat"
)

func main() {
	userID := pflag.Int("user", 0, "user id to connect as")
	login := pflag.String("login", "", "login for the REST session (optional)")
	password := pflag.String("password", "", "user password")
	verbose := pflag.BoolP("verbose", "v", false, "enable debug logging on the console")
	pflag.Parse()

	// Local overrides for development; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *verbose {
		cfg.Logging.Level = "debug"
		cfg.Logging.Console = true
	}

	logger, closer, err := logging.New(logging.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	if closer != nil {
		defer closer.Close()
	}

	if *userID == 0 || *password == "" {
		logger.Fatal().Msg("--user and --password are required")
	}

	session, err := chat.New(chat.Config{
		AppID:          cfg.App.ID,
		AuthKey:        cfg.App.AuthKey,
		AuthSecret:     cfg.App.AuthSecret,
		APIEndpoint:    cfg.Endpoints.API,
		ChatEndpoint:   cfg.Endpoints.Chat,
		MUCEndpoint:    cfg.Endpoints.MUC,
		ConnectTimeout: time.Duration(cfg.Session.ConnectTimeoutSec) * time.Second,
		RequestTimeout: time.Duration(cfg.Session.RequestTimeoutSec) * time.Second,
		DataDir:        cfg.Storage.DataDir,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create session")
	}
	defer session.Close()

	session.OnMessage(func(senderID int, m chat.Message) {
		logger.Info().
			Int("sender_id", senderID).
			Str("message_id", m.ID).
			Interface("extension", m.Extension).
			Msg("message")
	})
	session.OnSystemMessage(func(m chat.Message) {
		logger.Info().
			Int("sender_id", m.SenderID).
			Str("message_id", m.ID).
			Interface("extension", m.Extension).
			Msg("system message")
	})
	session.OnDeliveredStatus(func(messageID, dialogID string, userID int) {
		logger.Info().
			Str("message_id", messageID).
			Str("dialog_id", dialogID).
			Int("user_id", userID).
			Msg("delivered")
	})
	session.OnReadStatus(func(messageID, dialogID string, userID int) {
		logger.Info().
			Str("message_id", messageID).
			Str("dialog_id", dialogID).
			Int("user_id", userID).
			Msg("read")
	})
	session.OnPresence(func(p chat.PresenceUpdate) {
		logger.Info().
			Int("user_id", p.UserID).
			Str("presence", p.Presence).
			Msg("presence")
	})
	session.OnConnectionState(func(s chat.State, err error) {
		logger.Warn().Err(err).Stringer("state", s).Msg("connection state changed")
	})

	ctx := context.Background()

	if *login != "" {
		if err := session.SignIn(ctx, *login, *password); err != nil {
			logger.Fatal().Err(err).Msg("sign-in failed")
		}
	}

	roster, err := session.Connect(ctx, *userID, *password)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect failed")
	}
	logger.Info().Int("contacts", len(roster.Contacts)).Msg("connected")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info().Msg("shutting down")
}
