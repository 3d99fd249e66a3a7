package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"reviewbot/backend/internal/api/handler"
	"reviewbot/backend/internal/config"
	"reviewbot/backend/internal/decision"
	"reviewbot/backend/internal/discord"
	"reviewbot/backend/internal/flow"
	"reviewbot/backend/internal/localization"
	"reviewbot/backend/internal/logger"
	"reviewbot/backend/internal/metrics"
	"reviewbot/backend/internal/review"
	"reviewbot/backend/internal/reviewhub"
	"reviewbot/backend/internal/storage"
	"reviewbot/backend/internal/sweeper"
	"reviewbot/backend/internal/telegram"
)

func fatal(msg string, args ...any) {
	logger.Error(msg, args...)
	os.Exit(1)
}

func setupDependencies(ctx context.Context, cfg *config.Config) (*gorm.DB, *redis.Client) {
	db, err := gorm.Open(postgres.Open(cfg.GetDatabaseDSN()), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		fatal("Failed to connect PostgreSQL", "error", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		fatal("Failed to connect Redis", "addr", cfg.Redis.Addr, "error", err)
	}

	logger.Info("Database and Redis connections established")
	return db, rdb
}

func openDiscord(token string) (*discordgo.Session, string) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		fatal("Failed to create Discord session", "error", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers
	if err := session.Open(); err != nil {
		fatal("Failed to open Discord gateway", "error", err)
	}
	logger.Info("Connected to Discord", "bot_user", session.State.User.Username)
	return session, session.State.User.ID
}

func main() {
	if err := godotenv.Load(); err != nil {
		logger.Warn("No .env file loaded", "error", err)
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fatal("Failed to load configuration", "path", configPath, "error", err)
	}
	logger.Initialize(cfg.Log.Level, cfg.Log.Format)
	logger.Info("Starting review bot backend")

	if cfg.Discord.Token == "" {
		fatal("DISCORD_TOKEN is not set")
	}
	if cfg.JWT.Secret == "" {
		fatal("JWT_SECRET is not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Storage
	db, rdb := setupDependencies(ctx, cfg)
	store := storage.NewStorageService(db, rdb)
	if err := store.Migrate(); err != nil {
		fatal("Failed to run migrations", "error", err)
	}

	// 2. Platform and flows
	session, botID := openDiscord(cfg.Discord.Token)
	defer session.Close()

	localizer, err := localization.NewLocalizer("locales")
	if err != nil {
		fatal("Failed to load message catalogues", "error", err)
	}

	collector := metrics.NewCollector("reviewbot")
	runner := flow.NewRunner(discord.NewPlatform(session, botID), localizer, cfg.PlatformTimeout()).WithRecorder(collector)

	// 3. Review engine and command service
	engine := review.NewEngine(store)
	svc := decision.NewService(engine, runner, cfg).WithPublisher(store).WithMetrics(collector)

	// 4. Live events
	hub := reviewhub.NewManagerService(store).WithGauge(collector)
	go hub.Run(ctx)

	// 5. Staff console
	if cfg.Telegram.Token != "" {
		bot, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			fatal("Failed to start Telegram bot", "error", err)
		}
		logger.Info("Authorized on Telegram", "account", bot.Self.UserName)

		console := telegram.NewConsole(bot, svc, engine, cfg.Telegram)
		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		go console.Run(ctx, bot.GetUpdatesChan(u))
		defer bot.StopReceivingUpdates()

		if cfg.Telegram.StaffChatID != 0 {
			notifier := telegram.NewNotifier(bot, cfg.Telegram.StaffChatID, "")
			hub.RegisterCh <- notifier
			notifier.Run()
		}
	}

	// 6. Claim expiry
	sweep := sweeper.New(engine, cfg.ClaimTTL(), collector)
	if err := sweep.Schedule(cfg.Review.ClaimSweepSchedule); err != nil {
		fatal("Invalid claim sweep schedule", "error", err)
	}
	sweep.Start()
	defer sweep.Stop()

	// 7. HTTP API
	r := gin.New()
	r.Use(gin.Recovery())
	handler.NewHandler(svc, engine, hub, []byte(cfg.JWT.Secret), cfg.StatsWindow()).
		WithIntake(engine).
		Register(r, collector.Handler())

	server := &http.Server{
		Addr:           cfg.Server.Addr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   2 * time.Minute,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logger.Info("HTTP API listening", "addr", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("HTTP server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown did not complete", "error", err)
	}
}
