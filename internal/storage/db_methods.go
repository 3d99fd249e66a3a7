package storage

import (
	"context"
	"errors"

	"reviewbot/backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// txRepository is the Repository bound to one open transaction.
type txRepository struct {
	db *gorm.DB
	// touched collects application ids whose claim changed, for cache invalidation.
	touched map[string]struct{}
}

func (r *txRepository) GetApplication(ctx context.Context, id string) (*models.Application, error) {
	var app models.Application
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&app).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &app, nil
}

// CreateApplication relies on idx_applications_one_open: a second open
// application for the same user fails with ErrOpenApplicationExists.
func (r *txRepository) CreateApplication(ctx context.Context, app *models.Application) error {
	err := r.db.WithContext(ctx).Create(app).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrOpenApplicationExists
	}
	return err
}

func (r *txRepository) LockApplicant(ctx context.Context, guildID, userID string) error {
	return r.db.WithContext(ctx).Exec("SELECT pg_advisory_xact_lock(hashtext(?))", guildID+"/"+userID).Error
}

func (r *txRepository) UpdateApplication(ctx context.Context, id string, u models.ApplicationUpdate) error {
	cols := u.Columns()
	if len(cols) == 0 {
		return nil
	}
	res := r.db.WithContext(ctx).Model(&models.Application{}).Where("id = ?", id).Updates(cols)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) FindOpenApplication(ctx context.Context, guildID, userID string) (*models.Application, error) {
	var app models.Application
	err := r.db.WithContext(ctx).
		Where("guild_id = ? AND user_id = ? AND status IN ?", guildID, userID, openStatuses).
		Order("created_at desc").
		First(&app).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &app, nil
}

func (r *txRepository) FindPermRejected(ctx context.Context, guildID, userID string) (*models.Application, error) {
	var app models.Application
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("guild_id = ? AND user_id = ? AND permanently_rejected = ?", guildID, userID, true).
		Order("created_at desc").
		First(&app).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &app, nil
}

func (r *txRepository) InsertAction(ctx context.Context, action *models.ReviewAction) (int64, error) {
	if err := r.db.WithContext(ctx).Create(action).Error; err != nil {
		return 0, err
	}
	return action.ID, nil
}

func (r *txRepository) AnnotateAction(ctx context.Context, id int64, meta models.Metadata) error {
	var action models.ReviewAction
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id", "meta").
		Where("id = ?", id).
		First(&action).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).
		Model(&models.ReviewAction{}).
		Where("id = ?", id).
		Update("meta", action.Meta.Merge(meta)).Error
}

func (r *txRepository) GetClaim(ctx context.Context, applicationID string) (*models.Claim, error) {
	return loadClaim(r.db.WithContext(ctx), applicationID)
}

// SetClaim inserts the claim row. The primary key makes the first writer win;
// every later writer gets ErrClaimExists.
func (r *txRepository) SetClaim(ctx context.Context, claim *models.Claim) error {
	err := r.db.WithContext(ctx).Create(claim).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrClaimExists
	}
	if err != nil {
		return err
	}
	r.touched[claim.ApplicationID] = struct{}{}
	return nil
}

func (r *txRepository) ClearClaim(ctx context.Context, applicationID string) error {
	err := r.db.WithContext(ctx).Where("application_id = ?", applicationID).Delete(&models.Claim{}).Error
	if err != nil {
		return err
	}
	r.touched[applicationID] = struct{}{}
	return nil
}
