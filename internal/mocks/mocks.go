package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"chat-hub/internal/models"
	"chat-hub/internal/repositories"
)

type ConversationRepositoryMock struct {
	mock.Mock
}

func (m *ConversationRepositoryMock) GetConversation(ctx context.Context, conversationID int) (models.Conversation, error) {
	args := m.Called(ctx, conversationID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) ParticipantsOf(ctx context.Context, conversationID int) ([]int, error) {
	args := m.Called(ctx, conversationID)
	var ids []int
	if val := args.Get(0); val != nil {
		ids = val.([]int)
	}
	return ids, args.Error(1)
}

func (m *ConversationRepositoryMock) IsParticipant(ctx context.Context, conversationID int, userID int) (bool, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *ConversationRepositoryMock) ConversationIDsForUser(ctx context.Context, userID int) ([]int, error) {
	args := m.Called(ctx, userID)
	var ids []int
	if val := args.Get(0); val != nil {
		ids = val.([]int)
	}
	return ids, args.Error(1)
}

func (m *ConversationRepositoryMock) ListForUser(ctx context.Context, userID int, archived bool) ([]models.ConversationSummary, error) {
	args := m.Called(ctx, userID, archived)
	var list []models.ConversationSummary
	if val := args.Get(0); val != nil {
		list = val.([]models.ConversationSummary)
	}
	return list, args.Error(1)
}

func (m *ConversationRepositoryMock) FindOrCreatePrivate(ctx context.Context, userID int, otherID int) (models.Conversation, bool, error) {
	args := m.Called(ctx, userID, otherID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Bool(1), args.Error(2)
}

func (m *ConversationRepositoryMock) CreateGroup(ctx context.Context, creatorID int, name, description, avatar string, memberIDs []int) (models.Conversation, error) {
	args := m.Called(ctx, creatorID, name, description, avatar, memberIDs)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) UpdateGroupInfo(ctx context.Context, conversationID int, update models.GroupInfoUpdate) (models.Conversation, error) {
	args := m.Called(ctx, conversationID, update)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) AddParticipants(ctx context.Context, conversationID int, userIDs []int) ([]int, error) {
	args := m.Called(ctx, conversationID, userIDs)
	var ids []int
	if val := args.Get(0); val != nil {
		ids = val.([]int)
	}
	return ids, args.Error(1)
}

func (m *ConversationRepositoryMock) RemoveParticipant(ctx context.Context, conversationID int, userID int) error {
	args := m.Called(ctx, conversationID, userID)
	return args.Error(0)
}

func (m *ConversationRepositoryMock) SetAdmin(ctx context.Context, conversationID int, userID int, admin bool) error {
	args := m.Called(ctx, conversationID, userID, admin)
	return args.Error(0)
}

func (m *ConversationRepositoryMock) DeleteConversation(ctx context.Context, conversationID int) error {
	args := m.Called(ctx, conversationID)
	return args.Error(0)
}

func (m *ConversationRepositoryMock) SetParticipantFlag(ctx context.Context, conversationID int, userID int, flag models.ParticipantFlag, value bool) error {
	args := m.Called(ctx, conversationID, userID, flag, value)
	return args.Error(0)
}

func (m *ConversationRepositoryMock) ClearHistory(ctx context.Context, conversationID int, userID int, at time.Time) error {
	args := m.Called(ctx, conversationID, userID, at)
	return args.Error(0)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, in models.NewMessage) (models.Message, error) {
	args := m.Called(ctx, in)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListMessages(ctx context.Context, conversationID int, userID int, before *models.HistoryCursor, limit int) ([]models.Message, error) {
	args := m.Called(ctx, conversationID, userID, before, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) SearchMessages(ctx context.Context, conversationID int, userID int, query string, limit int) ([]models.Message, error) {
	args := m.Called(ctx, conversationID, userID, query, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) VisibleTo(ctx context.Context, messageID int, userID int) (bool, error) {
	args := m.Called(ctx, messageID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MessageRepositoryMock) EditMessage(ctx context.Context, messageID int, content string, at time.Time) (models.Message, error) {
	args := m.Called(ctx, messageID, content, at)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) DeleteForEveryone(ctx context.Context, messageID int, at time.Time) (models.Message, error) {
	args := m.Called(ctx, messageID, at)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) HideForUser(ctx context.Context, messageID int, userID int) error {
	args := m.Called(ctx, messageID, userID)
	return args.Error(0)
}

func (m *MessageRepositoryMock) SetReaction(ctx context.Context, messageID int, userID int, emoji string, at time.Time) (models.Reaction, error) {
	args := m.Called(ctx, messageID, userID, emoji, at)
	var reaction models.Reaction
	if val := args.Get(0); val != nil {
		reaction = val.(models.Reaction)
	}
	return reaction, args.Error(1)
}

func (m *MessageRepositoryMock) RemoveReaction(ctx context.Context, messageID int, userID int) (string, bool, error) {
	args := m.Called(ctx, messageID, userID)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MessageRepositoryMock) MarkRead(ctx context.Context, conversationID int, readerID int, messageIDs []int, at time.Time) ([]int, error) {
	args := m.Called(ctx, conversationID, readerID, messageIDs, at)
	var ids []int
	if val := args.Get(0); val != nil {
		ids = val.([]int)
	}
	return ids, args.Error(1)
}

func (m *MessageRepositoryMock) MarkDelivered(ctx context.Context, messageID int, userIDs []int, at time.Time) error {
	args := m.Called(ctx, messageID, userIDs, at)
	return args.Error(0)
}

func (m *MessageRepositoryMock) SetPinned(ctx context.Context, messageID int, pinned bool, actorID int, at time.Time) (models.Message, error) {
	args := m.Called(ctx, messageID, pinned, actorID, at)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

type UserRepositoryMock struct {
	mock.Mock
}

func (m *UserRepositoryMock) PresenceSettings(ctx context.Context, userID int) (models.PresenceSettings, error) {
	args := m.Called(ctx, userID)
	var settings models.PresenceSettings
	if val := args.Get(0); val != nil {
		settings = val.(models.PresenceSettings)
	}
	return settings, args.Error(1)
}

func (m *UserRepositoryMock) ContactIDs(ctx context.Context, userID int) ([]int, error) {
	args := m.Called(ctx, userID)
	var ids []int
	if val := args.Get(0); val != nil {
		ids = val.([]int)
	}
	return ids, args.Error(1)
}

func (m *UserRepositoryMock) SetStatus(ctx context.Context, userID int, status models.Status) error {
	args := m.Called(ctx, userID, status)
	return args.Error(0)
}

func (m *UserRepositoryMock) SetLastSeen(ctx context.Context, userID int, at time.Time) error {
	args := m.Called(ctx, userID, at)
	return args.Error(0)
}

var _ repositories.ConversationRepository = (*ConversationRepositoryMock)(nil)
var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ repositories.UserRepository = (*UserRepositoryMock)(nil)
