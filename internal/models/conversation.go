package models

import "time"

type ConversationType string

const (
	ConversationPrivate ConversationType = "private"
	ConversationGroup   ConversationType = "group"
)

// Conversation is a private pair or a group. Participants and Admins are
// loaded separately from the conversation row.
type Conversation struct {
	ID            int              `db:"id" json:"id"`
	Type          ConversationType `db:"type" json:"type"`
	Name          string           `db:"name" json:"name,omitempty"`
	Description   string           `db:"description" json:"description,omitempty"`
	Avatar        string           `db:"avatar" json:"avatar,omitempty"`
	CreatedBy     int              `db:"created_by" json:"created_by"`
	LastMessageID *int             `db:"last_message_id" json:"last_message_id,omitempty"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time        `db:"updated_at" json:"updated_at"`
	Participants  []int            `db:"-" json:"participants"`
	Admins        []int            `db:"-" json:"admins,omitempty"`
}

func (c Conversation) IsGroup() bool {
	return c.Type == ConversationGroup
}

func (c Conversation) HasParticipant(userID int) bool {
	return containsInt(c.Participants, userID)
}

func (c Conversation) HasAdmin(userID int) bool {
	return containsInt(c.Admins, userID)
}

// ConversationSummary is a conversation as listed for one participant.
type ConversationSummary struct {
	Conversation
	Pinned      bool `db:"pinned" json:"pinned"`
	Muted       bool `db:"muted" json:"muted"`
	Archived    bool `db:"archived" json:"archived"`
	UnreadCount int  `db:"unread_count" json:"unread_count"`
}

// ParticipantFlag names a per-user soft-state column.
type ParticipantFlag string

const (
	FlagPinned   ParticipantFlag = "pinned"
	FlagMuted    ParticipantFlag = "muted"
	FlagArchived ParticipantFlag = "archived"
	FlagDeleted  ParticipantFlag = "deleted"
)

func (f ParticipantFlag) Valid() bool {
	switch f {
	case FlagPinned, FlagMuted, FlagArchived, FlagDeleted:
		return true
	}
	return false
}

// GroupInfoUpdate carries optional group metadata changes.
type GroupInfoUpdate struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Avatar      *string `json:"avatar,omitempty"`
}

func (u GroupInfoUpdate) Empty() bool {
	return u.Name == nil && u.Description == nil && u.Avatar == nil
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
