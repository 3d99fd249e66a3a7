package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// ReviewAction is one row of the append-only audit trail.
// Action and CreatedAt never change after insert; only Meta may be enriched.
type ReviewAction struct {
	ID            int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	ApplicationID string     `gorm:"type:text;not null;index" json:"application_id"`
	GuildID       string     `gorm:"type:text;not null;index" json:"guild_id"`
	ActorID       string     `gorm:"type:text;not null;index" json:"actor_id"`
	Action        ActionKind `gorm:"type:varchar(32);not null" json:"action"`
	Reason        string     `gorm:"type:text" json:"reason,omitempty"`
	Meta          Metadata   `gorm:"type:jsonb" json:"meta,omitempty"`
	CreatedAt     time.Time  `gorm:"not null;index" json:"created_at"`
}

// Metadata is free-form context attached to an audit row, stored as JSONB.
type Metadata map[string]interface{}

// Merge returns a copy of m with every key of other written over it.
func (m Metadata) Merge(other Metadata) Metadata {
	out := make(Metadata, len(m)+len(other))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Value implements driver.Valuer.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *Metadata) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("metadata: unsupported scan source")
	}
	if len(raw) == 0 {
		*m = nil
		return nil
	}
	out := Metadata{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	*m = out
	return nil
}

// ReviewEvent is published after every review command so live views can refresh.
type ReviewEvent struct {
	ID            string     `json:"id"`
	GuildID       string     `json:"guild_id"`
	ApplicationID string     `json:"application_id"`
	ActorID       string     `json:"actor_id"`
	Action        ActionKind `json:"action"`
	Outcome       string     `json:"outcome"`
	Status        Status     `json:"status,omitempty"`
	Meta          Metadata   `json:"meta,omitempty"`
	At            time.Time  `json:"at"`
}
