package models

import (
	"time"
	"unicode/utf8"
)

type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageFile     MessageType = "file"
	MessageVoice    MessageType = "voice"
	MessageVideo    MessageType = "video"
	MessageLocation MessageType = "location"
	MessageContact  MessageType = "contact"
)

// MaxContentLength is measured in runes.
const MaxContentLength = 4096

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageFile, MessageVoice, MessageVideo, MessageLocation, MessageContact:
		return true
	}
	return false
}

// Message is a persisted message. Deleted messages are tombstones: they keep
// their id and conversation but lose their content.
type Message struct {
	ID             int         `db:"id" json:"id"`
	ConversationID int         `db:"conversation_id" json:"conversation_id"`
	SenderID       int         `db:"sender_id" json:"sender_id"`
	Type           MessageType `db:"type" json:"type"`
	Content        string      `db:"content" json:"content"`
	ReplyTo        *int        `db:"reply_to" json:"reply_to,omitempty"`
	ForwardedFrom  *int        `db:"forwarded_from" json:"forwarded_from,omitempty"`
	Edited         bool        `db:"edited" json:"edited"`
	EditedAt       *time.Time  `db:"edited_at" json:"edited_at,omitempty"`
	Deleted        bool        `db:"deleted" json:"deleted"`
	DeletedAt      *time.Time  `db:"deleted_at" json:"deleted_at,omitempty"`
	Pinned         bool        `db:"pinned" json:"pinned"`
	PinnedBy       *int        `db:"pinned_by" json:"pinned_by,omitempty"`
	PinnedAt       *time.Time  `db:"pinned_at" json:"pinned_at,omitempty"`
	CreatedAt      time.Time   `db:"created_at" json:"created_at"`
	Reactions      []Reaction  `db:"-" json:"reactions"`
	DeliveredTo    []Witness   `db:"-" json:"delivered_to"`
	ReadBy         []Witness   `db:"-" json:"read_by"`
}

// NewMessage is the input to message creation.
type NewMessage struct {
	ConversationID int
	SenderID       int
	Type           MessageType
	Content        string
	ReplyTo        *int
	ForwardedFrom  *int
}

func ContentLength(s string) int {
	return utf8.RuneCountInString(s)
}

type Reaction struct {
	MessageID int       `db:"message_id" json:"-"`
	UserID    int       `db:"user_id" json:"user_id"`
	Emoji     string    `db:"emoji" json:"emoji"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Witness records that a user received or read a message.
type Witness struct {
	MessageID int       `db:"message_id" json:"-"`
	UserID    int       `db:"user_id" json:"user_id"`
	At        time.Time `db:"at" json:"at"`
}

// ReadReceipt is the aggregate result of one mark-read request.
type ReadReceipt struct {
	ConversationID int       `json:"conversation_id"`
	ReaderID       int       `json:"reader_id"`
	ReadAt         time.Time `json:"read_at"`
	MessageIDs     []int     `json:"message_ids"`
}

// HistoryCursor points just past the oldest message of a page. Messages
// sharing CreatedAt are ordered by ID; a zero ID compares on time alone.
type HistoryCursor struct {
	CreatedAt time.Time
	ID        int
}

// After reports whether m sorts at or after the cursor.
func (c HistoryCursor) After(m Message) bool {
	if m.CreatedAt.Before(c.CreatedAt) {
		return false
	}
	if m.CreatedAt.After(c.CreatedAt) || c.ID == 0 {
		return true
	}
	return m.ID >= c.ID
}

// HistoryPage is one page of conversation history, oldest first. When more
// messages exist, NextBefore and NextBeforeID form the cursor for the next page.
type HistoryPage struct {
	Messages     []Message  `json:"messages"`
	HasMore      bool       `json:"has_more"`
	NextBefore   *time.Time `json:"next_before,omitempty"`
	NextBeforeID int        `json:"next_before_id,omitempty"`
}
