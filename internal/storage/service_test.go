package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"reviewbot/backend/internal/models"
)

func newMockService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	t.Cleanup(func() { db.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 gormlogger.Discard,
	})
	require.NoError(t, err)
	return NewStorageService(gdb, nil), mock
}

var applicationColumns = []string{"id", "guild_id", "user_id", "status", "permanently_rejected", "created_at", "updated_at"}

func TestService_FindApplication(t *testing.T) {
	s, mock := newMockService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("Found", func(t *testing.T) {
		mock.ExpectQuery(`SELECT \* FROM "applications" WHERE id = \$1`).
			WillReturnRows(sqlmock.NewRows(applicationColumns).AddRow("a1", "g1", "u1", "submitted", false, now, now))

		app, err := s.FindApplication(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, models.StatusSubmitted, app.Status)
	})

	t.Run("NotFound", func(t *testing.T) {
		mock.ExpectQuery(`SELECT \* FROM "applications" WHERE id = \$1`).
			WillReturnRows(sqlmock.NewRows(applicationColumns))

		_, err := s.FindApplication(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_ListPending(t *testing.T) {
	s, mock := newMockService(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT \* FROM "applications" WHERE guild_id = \$1 AND status IN \(\$2,\$3\) ORDER BY submitted_at asc`).
		WithArgs("g1", "submitted", "needs_info").
		WillReturnRows(sqlmock.NewRows(applicationColumns).
			AddRow("a1", "g1", "u1", "submitted", false, now, now).
			AddRow("a2", "g1", "u2", "needs_info", false, now, now))

	apps, err := s.ListPending(context.Background(), "g1")
	require.NoError(t, err)
	require.Len(t, apps, 2)
	assert.Equal(t, models.StatusNeedsInfo, apps[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_RunAtomicLocksAndRollsBack(t *testing.T) {
	s, mock := newMockService(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "applications" WHERE id = \$1 .*FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(applicationColumns).AddRow("a1", "g1", "u1", "submitted", false, now, now))
	mock.ExpectExec(`UPDATE "applications" SET`).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := s.RunAtomic(context.Background(), func(ctx context.Context, repo Repository) error {
		app, err := repo.GetApplication(ctx, "a1")
		if err != nil {
			return err
		}
		next := models.StatusApproved
		return repo.UpdateApplication(ctx, app.ID, models.ApplicationUpdate{Status: &next})
	})
	assert.EqualError(t, err, "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_UpdateApplicationMissingRow(t *testing.T) {
	s, mock := newMockService(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "applications" SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.RunAtomic(context.Background(), func(ctx context.Context, repo Repository) error {
		next := models.StatusApproved
		return repo.UpdateApplication(ctx, "missing", models.ApplicationUpdate{Status: &next})
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_SetClaimFirstWriterWins(t *testing.T) {
	s, mock := newMockService(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "claims"`).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"})
	mock.ExpectRollback()

	err := s.RunAtomic(context.Background(), func(ctx context.Context, repo Repository) error {
		return repo.SetClaim(ctx, &models.Claim{ApplicationID: "a1", ReviewerID: "bob", ClaimedAt: time.Now()})
	})
	assert.ErrorIs(t, err, ErrClaimExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_StartLocksApplicantAndMapsOpenDuplicate(t *testing.T) {
	s, mock := newMockService(t)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(hashtext\(\$1\)\)`).
		WithArgs("g1/u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "applications"`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "idx_applications_one_open"})
	mock.ExpectRollback()

	err := s.RunAtomic(context.Background(), func(ctx context.Context, repo Repository) error {
		if err := repo.LockApplicant(ctx, "g1", "u1"); err != nil {
			return err
		}
		return repo.CreateApplication(ctx, &models.Application{GuildID: "g1", UserID: "u1", Status: models.StatusDraft})
	})
	assert.ErrorIs(t, err, ErrOpenApplicationExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_AnnotateActionMerges(t *testing.T) {
	s, mock := newMockService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT "id","meta" FROM "review_actions" WHERE id = \$1 .*FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "meta"}).AddRow(7, `{"from":"submitted"}`))
	mock.ExpectExec(`UPDATE "review_actions" SET "meta"=\$1 WHERE id = \$2`).
		WithArgs(`{"dm_delivered":false,"dm_error":"cannot_dm","from":"submitted"}`, 7).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.RunAtomic(context.Background(), func(ctx context.Context, repo Repository) error {
		return repo.AnnotateAction(ctx, 7, models.Metadata{"dm_delivered": false, "dm_error": "cannot_dm"})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_GetClaimWithoutCache(t *testing.T) {
	s, mock := newMockService(t)
	claimedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT \* FROM "claims" WHERE application_id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"application_id", "reviewer_id", "claimed_at"}).AddRow("a1", "alice", claimedAt))
	mock.ExpectQuery(`SELECT \* FROM "claims" WHERE application_id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"application_id", "reviewer_id", "claimed_at"}))

	claim, err := s.GetClaim(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, "alice", claim.ReviewerID)

	claim, err = s.GetClaim(context.Background(), "a2")
	require.NoError(t, err)
	assert.Nil(t, claim)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_PublishWithoutRedis(t *testing.T) {
	s, _ := newMockService(t)
	assert.NoError(t, s.PublishEvent(context.Background(), models.ReviewEvent{ID: "e1"}))
}
