package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"reviewbot/backend/internal/config"
	"reviewbot/backend/internal/logger"
	"reviewbot/backend/internal/models"

	"github.com/redis/go-redis/v9"
)

// Cached claims are never the source of truth: any miss or Redis error falls
// back to the database, and every committed claim write deletes the key.
// Each write also bumps a generation counter; a read-through fill is stored
// only if the generation it saw before loading is still current, so a fill
// racing a commit cannot resurrect the old value.
const noClaimMarker = "none"

// claimGenerationTTL outlives any cached value by a wide margin.
const claimGenerationTTL = 24 * time.Hour

func claimKey(applicationID string) string {
	return "claim:" + applicationID
}

func claimGenerationKey(applicationID string) string {
	return "claim_gen:" + applicationID
}

func (s *Service) cachedClaim(ctx context.Context, applicationID string) (*models.Claim, bool) {
	if s.Redis == nil {
		return nil, false
	}
	raw, err := s.Redis.Get(ctx, claimKey(applicationID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		logger.Warn("claim cache read failed", "app_id", applicationID, "error", err)
		return nil, false
	}
	if raw == noClaimMarker {
		return nil, true
	}
	var claim models.Claim
	if err := json.Unmarshal([]byte(raw), &claim); err != nil {
		return nil, false
	}
	return &claim, true
}

// claimGeneration returns the current generation, or false when the cache
// must not be filled.
func (s *Service) claimGeneration(ctx context.Context, applicationID string) (int64, bool) {
	if s.Redis == nil {
		return 0, false
	}
	gen, err := s.Redis.Get(ctx, claimGenerationKey(applicationID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, true
	}
	if err != nil {
		return 0, false
	}
	return gen, true
}

func (s *Service) cacheClaim(ctx context.Context, applicationID string, claim *models.Claim, gen int64) {
	value := noClaimMarker
	if claim != nil {
		b, err := json.Marshal(claim)
		if err != nil {
			return
		}
		value = string(b)
	}
	genKey := claimGenerationKey(applicationID)
	err := s.Redis.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != gen {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, claimKey(applicationID), value, config.ClaimCacheTTL)
			return nil
		})
		return err
	}, genKey)
	switch {
	case err == nil, errors.Is(err, errStaleFill), errors.Is(err, redis.TxFailedErr):
	default:
		logger.Warn("claim cache write failed", "app_id", applicationID, "error", err)
	}
}

var errStaleFill = errors.New("claim changed while loading")

func (s *Service) invalidateClaim(ctx context.Context, applicationID string) {
	if s.Redis == nil {
		return
	}
	genKey := claimGenerationKey(applicationID)
	_, err := s.Redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, genKey)
		p.Expire(ctx, genKey, claimGenerationTTL)
		p.Del(ctx, claimKey(applicationID))
		return nil
	})
	if err != nil {
		logger.Error("claim cache invalidation failed", "app_id", applicationID, "error", err)
	}
}
