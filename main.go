package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Trojaner/ImpostorBot/internal/collector_client"
	"github.com/Trojaner/ImpostorBot/internal/config"
	"github.com/Trojaner/ImpostorBot/internal/crypto"
	"github.com/Trojaner/ImpostorBot/internal/generator"
	"github.com/Trojaner/ImpostorBot/internal/lease"
	"github.com/Trojaner/ImpostorBot/internal/message_processor"
	"github.com/Trojaner/ImpostorBot/internal/model_store"
	"github.com/Trojaner/ImpostorBot/internal/repository"
	"github.com/Trojaner/ImpostorBot/internal/sampler"
	"github.com/Trojaner/ImpostorBot/internal/server"
	"github.com/Trojaner/ImpostorBot/internal/service"
	"github.com/Trojaner/ImpostorBot/internal/telegram_bot"
	"github.com/Trojaner/ImpostorBot/internal/tensor"
)

var cfgPath string

func main() {
	rootCmd := &cobra.Command{
		Use:          "impostor",
		Short:        "Learns how chat members write and imitates them",
		SilenceUsage: true,
		RunE:         func(cmd *cobra.Command, _ []string) error { return serve(cmd.Context()) },
	}
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "configs/config.yml", "path to the YAML config file")
	rootCmd.AddCommand(serveCmd(), migrateCmd(), tokenCmd(), keygenCmd())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the Telegram bot and the collector poller",
		RunE:  func(cmd *cobra.Command, _ []string) error { return serve(cmd.Context()) },
	}
}

func newLogger() *zap.Logger {
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	return logger
}

// openDB loads the config and returns a migrated database.
func openDB(logger *zap.Logger) (*config.Config, *sqlx.DB, error) {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	db, err := repository.NewDB(cfg.Database.Driver, cfg.Database.URL, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := repository.MigrateDB(db, logger); err != nil {
		db.Close()
		return nil, nil, err
	}
	return cfg, db, nil
}

func serve(ctx context.Context) error {
	logger := newLogger()
	defer func() {
		_ = logger.Sync()
	}()

	cfg, db, err := openDB(logger)
	if err != nil {
		logger.Error("Startup failed", zap.Error(err))
		return err
	}
	defer db.Close()

	cipher, err := crypto.NewCipher(cfg.Encryption.Key, cfg.Encryption.Passphrase, cfg.Encryption.Salt)
	if err != nil {
		logger.Error("Failed to initialize message encryption", zap.Error(err))
		return err
	}
	if _, ok := cipher.(crypto.Plaintext); ok {
		logger.Warn("No encryption key configured, message content is stored in plaintext")
	}

	messageRepo := repository.NewMessageRepository(db, logger)
	chatRepo := repository.NewChatRepository(db, logger)
	store := model_store.NewStore(
		messageRepo,
		repository.NewArtifactRepository(db, logger),
		cipher,
		model_store.NewPolicy(cfg.Store.StaleThreshold),
		cfg.Store.Corpus,
		logger,
	)

	var locker lease.Locker = lease.Nop{}
	if cfg.Redis.Enabled {
		redisLock, err := lease.NewRedis(ctx, cfg.Redis.Lease, logger)
		if err != nil {
			logger.Error("Failed to connect to Redis", zap.Error(err))
			return err
		}
		defer redisLock.Close()
		locker = redisLock
	}

	backend := tensor.NewBackend()
	gen, err := generator.New(store, backend, locker, sampler.NewSeeded(time.Now().UnixNano()), cfg.Generator, logger)
	if err != nil {
		logger.Error("Invalid generator options", zap.Error(err))
		return err
	}

	var tokens service.TokenService
	if cfg.Auth.JWTSecret != "" {
		if tokens, err = service.NewTokenService(cfg.Auth.JWTSecret, logger); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	srv := server.NewServer(db, server.Deps{Generator: gen, Recorder: store, Chats: chatRepo, Tokens: tokens}, logger)
	g.Go(func() error { return srv.Run(ctx, cfg.Server.Port) })

	if cfg.Telegram.Enabled {
		bot, err := telegram_bot.NewBot(cfg.Telegram.BotToken, store, gen, logger)
		if err != nil {
			logger.Warn("Failed to initialize Telegram bot, continuing without it", zap.Error(err))
		} else {
			g.Go(func() error { return bot.Start(ctx) })
		}
	}

	if cfg.Collector.Enabled {
		collector := collector_client.NewClient(cfg.Collector.URL, logger)
		processor := message_processor.NewProcessor(collector, store, chatRepo, logger, cfg.PollInterval(), cfg.ChatProcessDelay())
		g.Go(func() error {
			processor.Run(ctx)
			return nil
		})
	}

	err = g.Wait()
	logger.Info("Application stopped.", zap.Int("live_tensors", backend.Live()))
	return err
}
