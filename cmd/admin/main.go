package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"reviewbot/backend/internal/api/handler"
	"reviewbot/backend/internal/config"
	"reviewbot/backend/internal/decision"
	"reviewbot/backend/internal/discord"
	"reviewbot/backend/internal/flow"
	"reviewbot/backend/internal/localization"
	"reviewbot/backend/internal/logger"
	"reviewbot/backend/internal/models"
	"reviewbot/backend/internal/review"
	"reviewbot/backend/internal/storage"
)

const usage = `Usage: admin <command> [args]

Commands:
  unblock <guild_id> <user_id> [reason]   clear a permanent rejection
  release <app_id> [reason]               drop the claim on an application
  history <app_id>                        print the audit trail
  token <staff_id> [hours]                issue a staff API token`

// operatorID is recorded as the actor of operator unblocks.
const operatorID = "operator"

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		exitf(usage)
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		exitf("failed to load configuration: %v", err)
	}
	logger.Initialize(cfg.Log.Level, cfg.Log.Format)

	command, args := os.Args[1], os.Args[2:]
	if command == "token" {
		if err := issueToken(cfg, args); err != nil {
			exitf("%v", err)
		}
		return
	}

	db, err := gorm.Open(postgres.Open(cfg.GetDatabaseDSN()), &gorm.Config{TranslateError: true})
	if err != nil {
		exitf("failed to connect database: %v", err)
	}
	ctx := context.Background()
	store := storage.NewStorageService(db, connectRedis(ctx, cfg))
	engine := review.NewEngine(store)

	switch command {
	case "unblock":
		if len(args) < 2 {
			exitf("Usage: admin unblock <guild_id> <user_id> [reason]")
		}
		err = unblock(ctx, cfg, store, engine, args[0], args[1], strings.Join(args[2:], " "))
	case "release":
		if len(args) < 1 {
			exitf("Usage: admin release <app_id> [reason]")
		}
		err = release(ctx, engine, args[0], strings.Join(args[1:], " "))
	case "history":
		if len(args) != 1 {
			exitf("Usage: admin history <app_id>")
		}
		err = history(ctx, engine, args[0])
	default:
		exitf("Unknown command %q\n\n%s", command, usage)
	}
	if err != nil {
		exitf("%s failed: %v", command, err)
	}
}

// unblock runs the full unblock command, including the applicant DM when a
// Discord token is configured. The REST client is enough; no gateway
// connection is opened.
func unblock(ctx context.Context, cfg *config.Config, store *storage.Service, engine *review.Engine, guildID, userID, reason string) error {
	var flows decision.Flows = noFlows{}
	if cfg.Discord.Token != "" {
		session, err := discordgo.New("Bot " + cfg.Discord.Token)
		if err != nil {
			return err
		}
		localizer, err := localization.NewLocalizer("locales")
		if err != nil {
			return err
		}
		flows = flow.NewRunner(discord.NewPlatform(session, ""), localizer, cfg.PlatformTimeout())
	}

	reply, err := decision.NewService(engine, flows, cfg).WithPublisher(store).Unblock(ctx, guildID, userID, operatorID, reason)
	if err != nil {
		return err
	}
	fmt.Println(reply.Message)
	return nil
}

// connectRedis returns nil when Redis is not configured or unreachable. The
// CLI then skips claim cache invalidation and event publishing, and running
// servers pick up the change once their cached claim expires.
func connectRedis(ctx context.Context, cfg *config.Config) *redis.Client {
	if cfg.Redis.Addr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis unreachable, continuing without it", "addr", cfg.Redis.Addr, "error", err)
		rdb.Close()
		return nil
	}
	return rdb
}

func release(ctx context.Context, engine *review.Engine, appID, reason string) error {
	res, err := engine.ReleaseClaim(ctx, appID, reason)
	if err != nil {
		return err
	}
	switch res.Outcome {
	case review.UnclaimReleased:
		fmt.Printf("Released claim held by %s.\n", res.Claim.ReviewerID)
	default:
		fmt.Println("Application is not claimed.")
	}
	return nil
}

func history(ctx context.Context, engine *review.Engine, appID string) error {
	actions, err := engine.History(ctx, appID)
	if err != nil {
		return err
	}
	for _, a := range actions {
		line := fmt.Sprintf("%s  %-13s %-12s", a.CreatedAt.UTC().Format(time.RFC3339), a.Action, a.ActorID)
		if a.Reason != "" {
			line += "  " + strconv.Quote(a.Reason)
		}
		if len(a.Meta) > 0 {
			line += "  " + formatMeta(a.Meta)
		}
		fmt.Println(line)
	}
	return nil
}

func formatMeta(meta models.Metadata) string {
	raw, err := meta.Value()
	if err != nil {
		return ""
	}
	s, _ := raw.(string)
	return s
}

func issueToken(cfg *config.Config, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: admin token <staff_id> [hours]")
	}
	if cfg.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is not configured")
	}
	ttl := config.APITokenTTL
	if len(args) > 1 {
		hours, err := strconv.Atoi(args[1])
		if err != nil || hours <= 0 {
			return fmt.Errorf("invalid duration %q, expected a positive number of hours", args[1])
		}
		ttl = time.Duration(hours) * time.Hour
	}
	token, err := handler.GenerateToken([]byte(cfg.JWT.Secret), args[0], ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// noFlows is used when no platform is configured. Unblock still commits and
// the applicant simply is not notified.
type noFlows struct{}

func (noFlows) Approve(ctx context.Context, s flow.Subject, roleID, note string) *flow.Result {
	return &flow.Result{Flow: models.ActionApprove}
}
func (noFlows) Reject(ctx context.Context, s flow.Subject, reason string, opts flow.RejectOptions) *flow.Result {
	return &flow.Result{Flow: models.ActionReject}
}
func (noFlows) Kick(ctx context.Context, s flow.Subject, reason string) *flow.Result {
	return &flow.Result{Flow: models.ActionKick}
}
func (noFlows) RequestInfo(ctx context.Context, s flow.Subject, question string) *flow.Result {
	return &flow.Result{Flow: models.ActionNeedInfo}
}
func (noFlows) Unblock(ctx context.Context, s flow.Subject) *flow.Result {
	return &flow.Result{Flow: models.ActionUnblock}
}
