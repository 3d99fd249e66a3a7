package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Application is one applicant's attempt to join a guild.
// Rows are never deleted; they are kept for the audit trail.
type Application struct {
	ID      string `gorm:"primaryKey" json:"id"`
	GuildID string `gorm:"type:text;not null;index:idx_app_guild_user" json:"guild_id"`
	UserID  string `gorm:"type:text;not null;index:idx_app_guild_user" json:"user_id"`
	Status  Status `gorm:"type:varchar(16);not null;index" json:"status"`
	// Answers are stored in question order.
	Answers pq.StringArray `gorm:"type:text[]" json:"answers"`
	// SupportThreadID is the applicant-support thread opened for this application, if any.
	SupportThreadID string `gorm:"type:text" json:"support_thread_id,omitempty"`

	SubmittedAt      *time.Time `json:"submitted_at,omitempty"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
	ResolverID       *string    `gorm:"type:text" json:"resolver_id,omitempty"`
	ResolutionReason *string    `gorm:"type:text" json:"resolution_reason,omitempty"`

	// PermanentlyRejected blocks future applications from the same user.
	// It is cleared by unblock without touching Status.
	PermanentlyRejected bool `gorm:"not null;default:false;index" json:"permanently_rejected"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns a UUID when the id has not been set.
func (a *Application) BeforeCreate(tx *gorm.DB) (err error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return
}

// ApplicationUpdate lists the columns a transaction may change.
// Nil fields are left untouched.
type ApplicationUpdate struct {
	Status              *Status
	Answers             pq.StringArray
	SubmittedAt         *time.Time
	ResolvedAt          *time.Time
	ResolverID          *string
	ResolutionReason    *string
	PermanentlyRejected *bool
	SupportThreadID     *string
}

// Apply copies the non-nil fields of u onto a.
func (u ApplicationUpdate) Apply(a *Application) {
	if u.Status != nil {
		a.Status = *u.Status
	}
	if u.Answers != nil {
		a.Answers = u.Answers
	}
	if u.SubmittedAt != nil {
		a.SubmittedAt = u.SubmittedAt
	}
	if u.ResolvedAt != nil {
		a.ResolvedAt = u.ResolvedAt
	}
	if u.ResolverID != nil {
		a.ResolverID = u.ResolverID
	}
	if u.ResolutionReason != nil {
		a.ResolutionReason = u.ResolutionReason
	}
	if u.PermanentlyRejected != nil {
		a.PermanentlyRejected = *u.PermanentlyRejected
	}
	if u.SupportThreadID != nil {
		a.SupportThreadID = *u.SupportThreadID
	}
}

// Columns renders u as a column map for a partial UPDATE.
func (u ApplicationUpdate) Columns() map[string]interface{} {
	cols := make(map[string]interface{})
	if u.Status != nil {
		cols["status"] = *u.Status
	}
	if u.Answers != nil {
		cols["answers"] = u.Answers
	}
	if u.SubmittedAt != nil {
		cols["submitted_at"] = *u.SubmittedAt
	}
	if u.ResolvedAt != nil {
		cols["resolved_at"] = *u.ResolvedAt
	}
	if u.ResolverID != nil {
		cols["resolver_id"] = *u.ResolverID
	}
	if u.ResolutionReason != nil {
		cols["resolution_reason"] = *u.ResolutionReason
	}
	if u.PermanentlyRejected != nil {
		cols["permanently_rejected"] = *u.PermanentlyRejected
	}
	if u.SupportThreadID != nil {
		cols["support_thread_id"] = *u.SupportThreadID
	}
	return cols
}

// Claim is the exclusive working lock one reviewer holds on an application.
// The primary key on ApplicationID enforces at most one claim per application.
type Claim struct {
	ApplicationID string    `gorm:"primaryKey" json:"application_id"`
	ReviewerID    string    `gorm:"type:text;not null;index" json:"reviewer_id"`
	ClaimedAt     time.Time `gorm:"not null" json:"claimed_at"`
}
