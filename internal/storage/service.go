package storage

import (
	"context"
	"errors"
	"time"

	"reviewbot/backend/internal/models"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Service is the PostgreSQL-backed Store. Redis is optional: without it
// claim reads go straight to the database and events are not published.
type Service struct {
	DB    *gorm.DB
	Redis *redis.Client
}

var _ Store = (*Service)(nil)
var _ EventPublisher = (*Service)(nil)

// NewStorageService constructor
func NewStorageService(db *gorm.DB, rdb *redis.Client) *Service {
	return &Service{DB: db, Redis: rdb}
}

// Migrate creates or updates the review tables.
func (s *Service) Migrate() error {
	err := s.DB.AutoMigrate(
		&models.Application{},
		&models.Claim{},
		&models.ReviewAction{},
	)
	if err != nil {
		return err
	}
	return s.DB.Exec(oneOpenApplicationIndex).Error
}

// At most one draft, submitted or needs_info application per user and guild.
const oneOpenApplicationIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_applications_one_open
	ON applications (guild_id, user_id)
	WHERE status IN ('draft', 'submitted', 'needs_info')`

// RunAtomic runs fn inside one database transaction. Cached claims touched by
// fn are invalidated only after the commit succeeds.
func (s *Service) RunAtomic(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	repo := &txRepository{touched: make(map[string]struct{})}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo.db = tx
		return fn(ctx, repo)
	})
	if err != nil {
		return err
	}
	for appID := range repo.touched {
		s.invalidateClaim(ctx, appID)
	}
	return nil
}

// GetClaim reads through the Redis cache when one is configured.
func (s *Service) GetClaim(ctx context.Context, applicationID string) (*models.Claim, error) {
	if claim, hit := s.cachedClaim(ctx, applicationID); hit {
		return claim, nil
	}
	gen, fill := s.claimGeneration(ctx, applicationID)
	claim, err := loadClaim(s.DB.WithContext(ctx), applicationID)
	if err != nil {
		return nil, err
	}
	if fill {
		s.cacheClaim(ctx, applicationID, claim, gen)
	}
	return claim, nil
}

// FindApplication loads an application without locking it.
func (s *Service) FindApplication(ctx context.Context, id string) (*models.Application, error) {
	var app models.Application
	err := s.DB.WithContext(ctx).Where("id = ?", id).First(&app).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &app, nil
}

// ListPending returns the review queue of a guild, oldest submission first.
func (s *Service) ListPending(ctx context.Context, guildID string) ([]models.Application, error) {
	var apps []models.Application
	err := s.DB.WithContext(ctx).
		Where("guild_id = ? AND status IN ?", guildID, []models.Status{models.StatusSubmitted, models.StatusNeedsInfo}).
		Order("submitted_at asc").
		Find(&apps).Error
	if err != nil {
		return nil, err
	}
	return apps, nil
}

// ListActions returns the audit trail of an application in insertion order.
func (s *Service) ListActions(ctx context.Context, applicationID string) ([]models.ReviewAction, error) {
	var actions []models.ReviewAction
	err := s.DB.WithContext(ctx).
		Where("application_id = ?", applicationID).
		Order("id asc").
		Find(&actions).Error
	if err != nil {
		return nil, err
	}
	return actions, nil
}

// ListGuildActions returns every audit row of a guild written at or after since.
func (s *Service) ListGuildActions(ctx context.Context, guildID string, since time.Time) ([]models.ReviewAction, error) {
	var actions []models.ReviewAction
	err := s.DB.WithContext(ctx).
		Where("guild_id = ? AND created_at >= ?", guildID, since).
		Order("id asc").
		Find(&actions).Error
	if err != nil {
		return nil, err
	}
	return actions, nil
}

// ListStaleClaims returns claims older than cutoff whose application is still open.
func (s *Service) ListStaleClaims(ctx context.Context, cutoff time.Time) ([]models.Claim, error) {
	var claims []models.Claim
	err := s.DB.WithContext(ctx).
		Joins("JOIN applications ON applications.id = claims.application_id").
		Where("claims.claimed_at < ? AND applications.status IN ?", cutoff, openStatuses).
		Find(&claims).Error
	if err != nil {
		return nil, err
	}
	return claims, nil
}

var openStatuses = []models.Status{models.StatusDraft, models.StatusSubmitted, models.StatusNeedsInfo}

func loadClaim(db *gorm.DB, applicationID string) (*models.Claim, error) {
	var claim models.Claim
	err := db.Where("application_id = ?", applicationID).First(&claim).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &claim, nil
}
