package bridge

import (
	"context"
	"strconv"
	"strings"
	"unicode/utf8"

	"chat-hub/internal/apperr"
	"chat-hub/internal/models"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
	defaultSearchLimit  = 20
	maxSearchLimit      = 100
	minSearchLength     = 2
)

// History returns one page of messages visible to userID, oldest first,
// ending just before the cursor.
func (b *Bridge) History(ctx context.Context, userID, conversationID int, before *models.HistoryCursor, limit int) (models.HistoryPage, error) {
	limit = clampLimit(limit, defaultHistoryLimit, maxHistoryLimit)
	if err := b.requireParticipant(ctx, conversationID, userID); err != nil {
		return models.HistoryPage{}, err
	}

	msgs, err := persist(ctx, b, func(ctx context.Context) ([]models.Message, error) {
		return b.msgs.ListMessages(ctx, conversationID, userID, before, limit+1)
	})
	if err != nil {
		return models.HistoryPage{}, err
	}
	page := models.HistoryPage{Messages: msgs}
	if len(msgs) > limit {
		page.Messages = msgs[len(msgs)-limit:]
		page.HasMore = true
		oldest := page.Messages[0]
		page.NextBefore = &oldest.CreatedAt
		page.NextBeforeID = oldest.ID
	}
	if page.Messages == nil {
		page.Messages = []models.Message{}
	}
	return page, nil
}

// Search finds messages in one conversation whose content contains query,
// ignoring case. Results are newest first.
func (b *Bridge) Search(ctx context.Context, userID, conversationID int, query string, limit int) ([]models.Message, error) {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < minSearchLength {
		return nil, apperr.Validation("search query must be at least 2 characters")
	}
	limit = clampLimit(limit, defaultSearchLimit, maxSearchLimit)
	if err := b.requireParticipant(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	msgs, err := persist(ctx, b, func(ctx context.Context) ([]models.Message, error) {
		return b.msgs.SearchMessages(ctx, conversationID, userID, query, limit)
	})
	if msgs == nil && err == nil {
		msgs = []models.Message{}
	}
	return msgs, err
}

func clampLimit(limit, def, ceiling int) int {
	if limit <= 0 {
		return def
	}
	if limit > ceiling {
		return ceiling
	}
	return limit
}

func (b *Bridge) Conversations(ctx context.Context, userID int, archived bool) ([]models.ConversationSummary, error) {
	list, err := persist(ctx, b, func(ctx context.Context) ([]models.ConversationSummary, error) {
		return b.convs.ListForUser(ctx, userID, archived)
	})
	if list == nil && err == nil {
		list = []models.ConversationSummary{}
	}
	return list, err
}

func (b *Bridge) Conversation(ctx context.Context, userID, conversationID int) (models.Conversation, error) {
	conv, err := b.loadConversation(ctx, conversationID)
	if err != nil {
		return models.Conversation{}, err
	}
	if !conv.HasParticipant(userID) {
		return models.Conversation{}, apperr.Forbidden("not a participant of this conversation")
	}
	return conv, nil
}

// ConversationIDs lists every conversation userID participates in.
func (b *Bridge) ConversationIDs(ctx context.Context, userID int) ([]int, error) {
	return persist(ctx, b, func(ctx context.Context) ([]int, error) {
		return b.convs.ConversationIDsForUser(ctx, userID)
	})
}

// Participants is an unserialized read used by relays that persist nothing.
// Concurrent lookups for the same conversation share one store call, which
// does not inherit the cancellation of whichever caller started it.
func (b *Bridge) Participants(ctx context.Context, conversationID int) ([]int, error) {
	shared := context.WithoutCancel(ctx)
	v, err, _ := b.lookups.Do("participants:"+strconv.Itoa(conversationID), func() (interface{}, error) {
		return persist(shared, b, func(ctx context.Context) ([]int, error) {
			return b.convs.ParticipantsOf(ctx, conversationID)
		})
	})
	if err != nil {
		return nil, err
	}
	return v.([]int), nil
}

// IsParticipant answers from Participants.
func (b *Bridge) IsParticipant(ctx context.Context, conversationID, userID int) (bool, error) {
	ids, err := b.Participants(ctx, conversationID)
	if apperr.Is(err, apperr.KindNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

// PresenceOf reports userID's presence as seen by viewerID, honouring the
// user's visibility setting. Hidden presence reads as offline without a
// last-seen time.
func (b *Bridge) PresenceOf(ctx context.Context, viewerID, userID int) (models.Presence, error) {
	settings, err := persist(ctx, b, func(ctx context.Context) (models.PresenceSettings, error) {
		return b.users.PresenceSettings(ctx, userID)
	})
	if err != nil {
		return models.Presence{}, err
	}

	hidden := models.Presence{UserID: userID, Online: false, Status: models.StatusOffline}
	if viewerID != userID {
		switch settings.Visibility {
		case models.VisibilityNobody:
			return hidden, nil
		case models.VisibilityContacts:
			contacts, err := persist(ctx, b, func(ctx context.Context) ([]int, error) {
				return b.users.ContactIDs(ctx, userID)
			})
			if err != nil {
				return models.Presence{}, err
			}
			visible := false
			for _, id := range contacts {
				if id == viewerID {
					visible = true
					break
				}
			}
			if !visible {
				return hidden, nil
			}
		}
	}

	if !b.hub.Presence.Online(userID) {
		return models.Presence{UserID: userID, Online: false, Status: models.StatusOffline, LastSeen: settings.LastSeen}, nil
	}
	status := models.StatusOnline
	if settings.Status == models.StatusAway || settings.Status == models.StatusBusy {
		status = settings.Status
	}
	return models.Presence{UserID: userID, Online: true, Status: status}, nil
}
