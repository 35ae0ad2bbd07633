package models

import "time"

type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusAway    Status = "away"
	StatusBusy    Status = "busy"
)

// Manual reports whether a user may set the status explicitly.
func (s Status) Manual() bool {
	return s == StatusOnline || s == StatusAway || s == StatusBusy
}

type Visibility string

const (
	VisibilityEveryone Visibility = "everyone"
	VisibilityContacts Visibility = "contacts"
	VisibilityNobody   Visibility = "nobody"
)

// PresenceSettings is the durable per-user presence state.
type PresenceSettings struct {
	UserID     int        `db:"user_id" json:"user_id"`
	Status     Status     `db:"status" json:"status"`
	Visibility Visibility `db:"visibility" json:"visibility"`
	LastSeen   *time.Time `db:"last_seen" json:"last_seen,omitempty"`
}

// Presence is what other users are allowed to see.
type Presence struct {
	UserID   int        `json:"user_id"`
	Online   bool       `json:"online"`
	Status   Status     `json:"status"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}
