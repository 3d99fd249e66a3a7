// Package storage persists applications, claims and the review audit trail.
// The Postgres implementation serializes work on one application through a
// row lock taken inside RunAtomic; the memory implementation serializes all
// atomic units behind a single mutex.
package storage

import (
	"context"
	"errors"
	"time"

	"reviewbot/backend/internal/models"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrClaimExists is returned by SetClaim when the application is already claimed.
	ErrClaimExists = errors.New("storage: claim already exists")
	// ErrOpenApplicationExists is returned by CreateApplication when the user
	// already has a non-terminal application in the guild.
	ErrOpenApplicationExists = errors.New("storage: open application exists")
)

// Repository is the set of reads and writes available inside one atomic unit.
type Repository interface {
	// GetApplication loads an application and locks it until the unit ends.
	GetApplication(ctx context.Context, id string) (*models.Application, error)
	CreateApplication(ctx context.Context, app *models.Application) error
	// LockApplicant serializes units working on the same (guild, user) pair
	// until the unit ends, including when no row exists yet.
	LockApplicant(ctx context.Context, guildID, userID string) error
	UpdateApplication(ctx context.Context, id string, u models.ApplicationUpdate) error
	// FindOpenApplication returns the newest non-terminal application of a user, or ErrNotFound.
	FindOpenApplication(ctx context.Context, guildID, userID string) (*models.Application, error)
	// FindPermRejected returns the newest application with the permanent flag set, or ErrNotFound.
	FindPermRejected(ctx context.Context, guildID, userID string) (*models.Application, error)

	InsertAction(ctx context.Context, action *models.ReviewAction) (int64, error)
	// AnnotateAction merges meta into the action's metadata. Action kind and
	// timestamp are never touched.
	AnnotateAction(ctx context.Context, id int64, meta models.Metadata) error

	// GetClaim returns (nil, nil) when the application is unclaimed.
	GetClaim(ctx context.Context, applicationID string) (*models.Claim, error)
	SetClaim(ctx context.Context, claim *models.Claim) error
	ClearClaim(ctx context.Context, applicationID string) error
}

// Store runs atomic units of work and serves read-only queries.
type Store interface {
	// RunAtomic commits every write made through repo when fn returns nil
	// and discards all of them otherwise.
	RunAtomic(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error

	Reader
}

// Reader holds the queries that never need the atomic unit.
type Reader interface {
	GetClaim(ctx context.Context, applicationID string) (*models.Claim, error)
	FindApplication(ctx context.Context, id string) (*models.Application, error)
	ListPending(ctx context.Context, guildID string) ([]models.Application, error)
	ListActions(ctx context.Context, applicationID string) ([]models.ReviewAction, error)
	ListGuildActions(ctx context.Context, guildID string, since time.Time) ([]models.ReviewAction, error)
	// ListStaleClaims returns claims taken before cutoff on non-terminal applications.
	ListStaleClaims(ctx context.Context, cutoff time.Time) ([]models.Claim, error)
}

// EventPublisher distributes review events to other processes.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event models.ReviewEvent) error
}
