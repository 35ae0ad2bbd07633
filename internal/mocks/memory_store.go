package mocks

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"chat-hub/internal/models"
	"chat-hub/internal/repositories"
)

// MemoryStore is an in-process implementation of every repository contract.
// Writes can be made to fail or stall to exercise persistence error paths.
type MemoryStore struct {
	mu sync.Mutex

	nextConvID int
	nextMsgID  int
	convs      map[int]*memConversation
	messages   map[int]*memMessage
	presence   map[int]models.PresenceSettings
	contacts   map[int][]int

	failure error
	delay   time.Duration
	clock   time.Time
	frozen  bool
}

type memConversation struct {
	conv         models.Conversation
	participants map[int]*memParticipant
	privateKey   [2]int
}

type memParticipant struct {
	admin     bool
	pinned    bool
	muted     bool
	archived  bool
	deleted   bool
	clearedAt *time.Time
	joinedAt  time.Time
	order     int
}

type memMessage struct {
	msg       models.Message
	hidden    map[int]bool
	reactions map[int]models.Reaction
	delivered map[int]time.Time
	read      map[int]time.Time
}

var (
	_ repositories.ConversationRepository = (*MemoryStore)(nil)
	_ repositories.MessageRepository      = (*MemoryStore)(nil)
	_ repositories.UserRepository         = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		convs:    make(map[int]*memConversation),
		messages: make(map[int]*memMessage),
		presence: make(map[int]models.PresenceSettings),
		contacts: make(map[int][]int),
		clock:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// SetFailure makes every write return err until cleared with nil.
func (s *MemoryStore) SetFailure(err error) {
	s.mu.Lock()
	s.failure = err
	s.mu.Unlock()
}

// SetDelay makes every write wait d or until its context ends.
func (s *MemoryStore) SetDelay(d time.Duration) {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

// FreezeClock stops the store clock so later rows share one timestamp.
func (s *MemoryStore) FreezeClock(frozen bool) {
	s.mu.Lock()
	s.frozen = frozen
	s.mu.Unlock()
}

func (s *MemoryStore) SetVisibility(userID int, visibility models.Visibility) {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings := s.settingsLocked(userID)
	settings.Visibility = visibility
	s.presence[userID] = settings
}

func (s *MemoryStore) SetContacts(userID int, contactIDs ...int) {
	s.mu.Lock()
	s.contacts[userID] = append([]int(nil), contactIDs...)
	s.mu.Unlock()
}

// LastSeen returns the persisted last-seen time, if any.
func (s *MemoryStore) LastSeen(userID int) *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presence[userID].LastSeen
}

func (s *MemoryStore) write(ctx context.Context) error {
	s.mu.Lock()
	failure, delay := s.failure, s.delay
	s.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return failure
}

// tick returns a strictly increasing timestamp so ordering is deterministic.
func (s *MemoryStore) tick() time.Time {
	if s.frozen {
		return s.clock
	}
	s.clock = s.clock.Add(time.Millisecond)
	return s.clock
}

func (s *MemoryStore) snapshot(c *memConversation) models.Conversation {
	conv := c.conv
	type entry struct {
		id    int
		order int
	}
	entries := make([]entry, 0, len(c.participants))
	for id, p := range c.participants {
		entries = append(entries, entry{id, p.order})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].order < entries[j].order })
	conv.Participants = make([]int, 0, len(entries))
	conv.Admins = nil
	for _, e := range entries {
		conv.Participants = append(conv.Participants, e.id)
		if c.participants[e.id].admin {
			conv.Admins = append(conv.Admins, e.id)
		}
	}
	return conv
}

func (s *MemoryStore) addParticipant(c *memConversation, userID int, admin bool) bool {
	if _, ok := c.participants[userID]; ok {
		return false
	}
	c.participants[userID] = &memParticipant{admin: admin, joinedAt: s.tick(), order: len(c.participants)}
	return true
}

func (s *MemoryStore) GetConversation(_ context.Context, conversationID int) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[conversationID]
	if !ok {
		return models.Conversation{}, repositories.ErrConversationNotFound
	}
	return s.snapshot(c), nil
}

func (s *MemoryStore) ParticipantsOf(_ context.Context, conversationID int) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[conversationID]
	if !ok {
		return nil, repositories.ErrConversationNotFound
	}
	ids := make([]int, 0, len(c.participants))
	for id := range c.participants {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

func (s *MemoryStore) IsParticipant(_ context.Context, conversationID int, userID int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[conversationID]
	if !ok {
		return false, nil
	}
	_, member := c.participants[userID]
	return member, nil
}

func (s *MemoryStore) ConversationIDsForUser(_ context.Context, userID int) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int
	for id, c := range s.convs {
		if _, ok := c.participants[userID]; ok {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids, nil
}

func (s *MemoryStore) ListForUser(_ context.Context, userID int, archived bool) ([]models.ConversationSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []models.ConversationSummary
	for _, c := range s.convs {
		p, ok := c.participants[userID]
		if !ok || p.deleted || p.archived != archived {
			continue
		}
		unread := 0
		for _, m := range s.messages {
			if m.msg.ConversationID != c.conv.ID || m.msg.SenderID == userID || m.msg.Deleted || m.hidden[userID] {
				continue
			}
			if p.clearedAt != nil && !m.msg.CreatedAt.After(*p.clearedAt) {
				continue
			}
			if _, read := m.read[userID]; !read {
				unread++
			}
		}
		list = append(list, models.ConversationSummary{
			Conversation: s.snapshot(c),
			Pinned:       p.pinned,
			Muted:        p.muted,
			Archived:     p.archived,
			UnreadCount:  unread,
		})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Pinned != list[j].Pinned {
			return list[i].Pinned
		}
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})
	return list, nil
}

func (s *MemoryStore) FindOrCreatePrivate(ctx context.Context, userID int, otherID int) (models.Conversation, bool, error) {
	if err := s.write(ctx); err != nil {
		return models.Conversation{}, false, err
	}
	pair := [2]int{userID, otherID}
	if pair[0] > pair[1] {
		pair[0], pair[1] = pair[1], pair[0]
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.convs {
		if c.conv.Type == models.ConversationPrivate && c.privateKey == pair {
			if p, ok := c.participants[userID]; ok {
				p.deleted = false
			}
			return s.snapshot(c), false, nil
		}
	}

	s.nextConvID++
	now := s.tick()
	c := &memConversation{
		conv: models.Conversation{
			ID:        s.nextConvID,
			Type:      models.ConversationPrivate,
			CreatedBy: userID,
			CreatedAt: now,
			UpdatedAt: now,
		},
		participants: make(map[int]*memParticipant),
		privateKey:   pair,
	}
	s.addParticipant(c, pair[0], false)
	s.addParticipant(c, pair[1], false)
	s.convs[c.conv.ID] = c
	return s.snapshot(c), true, nil
}

func (s *MemoryStore) CreateGroup(ctx context.Context, creatorID int, name, description, avatar string, memberIDs []int) (models.Conversation, error) {
	if err := s.write(ctx); err != nil {
		return models.Conversation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextConvID++
	now := s.tick()
	c := &memConversation{
		conv: models.Conversation{
			ID:          s.nextConvID,
			Type:        models.ConversationGroup,
			Name:        name,
			Description: description,
			Avatar:      avatar,
			CreatedBy:   creatorID,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		participants: make(map[int]*memParticipant),
	}
	s.addParticipant(c, creatorID, true)
	for _, id := range memberIDs {
		s.addParticipant(c, id, false)
	}
	s.convs[c.conv.ID] = c
	return s.snapshot(c), nil
}

func (s *MemoryStore) UpdateGroupInfo(ctx context.Context, conversationID int, update models.GroupInfoUpdate) (models.Conversation, error) {
	if err := s.write(ctx); err != nil {
		return models.Conversation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[conversationID]
	if !ok || c.conv.Type != models.ConversationGroup {
		return models.Conversation{}, repositories.ErrConversationNotFound
	}
	if update.Name != nil {
		c.conv.Name = *update.Name
	}
	if update.Description != nil {
		c.conv.Description = *update.Description
	}
	if update.Avatar != nil {
		c.conv.Avatar = *update.Avatar
	}
	c.conv.UpdatedAt = s.tick()
	return s.snapshot(c), nil
}

func (s *MemoryStore) AddParticipants(ctx context.Context, conversationID int, userIDs []int) ([]int, error) {
	if err := s.write(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[conversationID]
	if !ok {
		return nil, repositories.ErrConversationNotFound
	}
	added := []int{}
	for _, id := range userIDs {
		if s.addParticipant(c, id, false) {
			added = append(added, id)
		}
	}
	c.conv.UpdatedAt = s.tick()
	return added, nil
}

func (s *MemoryStore) RemoveParticipant(ctx context.Context, conversationID int, userID int) error {
	if err := s.write(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[conversationID]
	if !ok {
		return repositories.ErrConversationNotFound
	}
	if _, member := c.participants[userID]; !member {
		return repositories.ErrNotParticipant
	}
	delete(c.participants, userID)
	return nil
}

func (s *MemoryStore) SetAdmin(ctx context.Context, conversationID int, userID int, admin bool) error {
	if err := s.write(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[conversationID]
	if !ok {
		return repositories.ErrConversationNotFound
	}
	p, member := c.participants[userID]
	if !member {
		return repositories.ErrNotParticipant
	}
	p.admin = admin
	return nil
}

func (s *MemoryStore) DeleteConversation(ctx context.Context, conversationID int) error {
	if err := s.write(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[conversationID]; !ok {
		return repositories.ErrConversationNotFound
	}
	delete(s.convs, conversationID)
	for id, m := range s.messages {
		if m.msg.ConversationID == conversationID {
			delete(s.messages, id)
		}
	}
	return nil
}

func (s *MemoryStore) SetParticipantFlag(ctx context.Context, conversationID int, userID int, flag models.ParticipantFlag, value bool) error {
	if err := s.write(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[conversationID]
	if !ok {
		return repositories.ErrConversationNotFound
	}
	p, member := c.participants[userID]
	if !member {
		return repositories.ErrNotParticipant
	}
	switch flag {
	case models.FlagPinned:
		p.pinned = value
	case models.FlagMuted:
		p.muted = value
	case models.FlagArchived:
		p.archived = value
	case models.FlagDeleted:
		p.deleted = value
	}
	return nil
}

func (s *MemoryStore) ClearHistory(ctx context.Context, conversationID int, userID int, at time.Time) error {
	if err := s.write(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[conversationID]
	if !ok {
		return repositories.ErrConversationNotFound
	}
	p, member := c.participants[userID]
	if !member {
		return repositories.ErrNotParticipant
	}
	cleared := s.clock
	if at.After(cleared) {
		cleared = at
	}
	p.clearedAt = &cleared
	return nil
}

func (s *MemoryStore) CreateMessage(ctx context.Context, in models.NewMessage) (models.Message, error) {
	if err := s.write(ctx); err != nil {
		return models.Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[in.ConversationID]
	if !ok {
		return models.Message{}, repositories.ErrConversationNotFound
	}
	msgType := in.Type
	if msgType == "" {
		msgType = models.MessageText
	}
	s.nextMsgID++
	m := &memMessage{
		msg: models.Message{
			ID:             s.nextMsgID,
			ConversationID: in.ConversationID,
			SenderID:       in.SenderID,
			Type:           msgType,
			Content:        in.Content,
			ReplyTo:        in.ReplyTo,
			ForwardedFrom:  in.ForwardedFrom,
			CreatedAt:      s.tick(),
		},
		hidden:    make(map[int]bool),
		reactions: make(map[int]models.Reaction),
		delivered: make(map[int]time.Time),
		read:      make(map[int]time.Time),
	}
	s.messages[m.msg.ID] = m
	id := m.msg.ID
	c.conv.LastMessageID = &id
	c.conv.UpdatedAt = m.msg.CreatedAt
	for _, p := range c.participants {
		p.deleted = false
	}
	return s.render(m), nil
}

func (s *MemoryStore) render(m *memMessage) models.Message {
	msg := m.msg
	msg.Reactions = []models.Reaction{}
	msg.DeliveredTo = []models.Witness{}
	msg.ReadBy = []models.Witness{}
	for _, r := range m.reactions {
		msg.Reactions = append(msg.Reactions, r)
	}
	sort.Slice(msg.Reactions, func(i, j int) bool { return msg.Reactions[i].CreatedAt.Before(msg.Reactions[j].CreatedAt) })
	for userID, at := range m.delivered {
		msg.DeliveredTo = append(msg.DeliveredTo, models.Witness{MessageID: msg.ID, UserID: userID, At: at})
	}
	sort.Slice(msg.DeliveredTo, func(i, j int) bool { return msg.DeliveredTo[i].UserID < msg.DeliveredTo[j].UserID })
	for userID, at := range m.read {
		msg.ReadBy = append(msg.ReadBy, models.Witness{MessageID: msg.ID, UserID: userID, At: at})
	}
	sort.Slice(msg.ReadBy, func(i, j int) bool { return msg.ReadBy[i].UserID < msg.ReadBy[j].UserID })
	return msg
}

func (s *MemoryStore) GetMessage(_ context.Context, messageID int) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	return s.render(m), nil
}

// visibleLocked mirrors the sqlx visibility filter: the user participates,
// has not hidden the message and has not cleared past it.
func (s *MemoryStore) visibleLocked(m *memMessage, userID int) bool {
	c, ok := s.convs[m.msg.ConversationID]
	if !ok {
		return false
	}
	p, member := c.participants[userID]
	if !member || m.hidden[userID] {
		return false
	}
	return p.clearedAt == nil || m.msg.CreatedAt.After(*p.clearedAt)
}

// newestFirst orders by (created_at, id) descending.
func newestFirst(list []*memMessage) {
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i].msg, list[j].msg
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}

func (s *MemoryStore) ListMessages(_ context.Context, conversationID int, userID int, before *models.HistoryCursor, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []*memMessage
	for _, m := range s.messages {
		if m.msg.ConversationID != conversationID || !s.visibleLocked(m, userID) {
			continue
		}
		if before != nil && before.After(m.msg) {
			continue
		}
		list = append(list, m)
	}
	newestFirst(list)
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	out := make([]models.Message, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		out = append(out, s.render(list[i]))
	}
	return out, nil
}

func (s *MemoryStore) SearchMessages(_ context.Context, conversationID int, userID int, query string, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	needle := strings.ToLower(query)
	var list []*memMessage
	for _, m := range s.messages {
		if m.msg.ConversationID != conversationID || m.msg.Deleted || !s.visibleLocked(m, userID) {
			continue
		}
		if !strings.Contains(strings.ToLower(m.msg.Content), needle) {
			continue
		}
		list = append(list, m)
	}
	newestFirst(list)
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	out := make([]models.Message, 0, len(list))
	for _, m := range list {
		out = append(out, s.render(m))
	}
	return out, nil
}

func (s *MemoryStore) VisibleTo(_ context.Context, messageID int, userID int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return false, nil
	}
	return s.visibleLocked(m, userID), nil
}

func (s *MemoryStore) EditMessage(ctx context.Context, messageID int, content string, at time.Time) (models.Message, error) {
	if err := s.write(ctx); err != nil {
		return models.Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok || m.msg.Deleted {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	m.msg.Content = content
	m.msg.Edited = true
	m.msg.EditedAt = &at
	return s.render(m), nil
}

func (s *MemoryStore) DeleteForEveryone(ctx context.Context, messageID int, at time.Time) (models.Message, error) {
	if err := s.write(ctx); err != nil {
		return models.Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok || m.msg.Deleted {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	m.msg.Deleted = true
	m.msg.DeletedAt = &at
	m.msg.Content = ""
	return s.render(m), nil
}

func (s *MemoryStore) HideForUser(ctx context.Context, messageID int, userID int) error {
	if err := s.write(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return repositories.ErrMessageNotFound
	}
	m.hidden[userID] = true
	return nil
}

func (s *MemoryStore) SetReaction(ctx context.Context, messageID int, userID int, emoji string, at time.Time) (models.Reaction, error) {
	if err := s.write(ctx); err != nil {
		return models.Reaction{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return models.Reaction{}, repositories.ErrMessageNotFound
	}
	r := models.Reaction{MessageID: messageID, UserID: userID, Emoji: emoji, CreatedAt: at}
	m.reactions[userID] = r
	return r, nil
}

func (s *MemoryStore) RemoveReaction(ctx context.Context, messageID int, userID int) (string, bool, error) {
	if err := s.write(ctx); err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return "", false, nil
	}
	r, had := m.reactions[userID]
	if !had {
		return "", false, nil
	}
	delete(m.reactions, userID)
	return r.Emoji, true, nil
}

func (s *MemoryStore) MarkRead(ctx context.Context, conversationID int, readerID int, messageIDs []int, at time.Time) ([]int, error) {
	if err := s.write(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := make(map[int]bool, len(messageIDs))
	for _, id := range messageIDs {
		wanted[id] = true
	}
	marked := []int{}
	for id, m := range s.messages {
		if m.msg.ConversationID != conversationID || m.msg.SenderID == readerID {
			continue
		}
		if len(wanted) > 0 && !wanted[id] {
			continue
		}
		if _, read := m.read[readerID]; read {
			continue
		}
		m.read[readerID] = at
		if _, delivered := m.delivered[readerID]; !delivered {
			m.delivered[readerID] = at
		}
		marked = append(marked, id)
	}
	sort.Ints(marked)
	return marked, nil
}

func (s *MemoryStore) MarkDelivered(ctx context.Context, messageID int, userIDs []int, at time.Time) error {
	if err := s.write(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return nil
	}
	for _, id := range userIDs {
		if _, delivered := m.delivered[id]; !delivered {
			m.delivered[id] = at
		}
	}
	return nil
}

func (s *MemoryStore) SetPinned(ctx context.Context, messageID int, pinned bool, actorID int, at time.Time) (models.Message, error) {
	if err := s.write(ctx); err != nil {
		return models.Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	m.msg.Pinned = pinned
	if pinned {
		m.msg.PinnedBy = &actorID
		m.msg.PinnedAt = &at
	} else {
		m.msg.PinnedBy = nil
		m.msg.PinnedAt = nil
	}
	return s.render(m), nil
}

func (s *MemoryStore) settingsLocked(userID int) models.PresenceSettings {
	settings, ok := s.presence[userID]
	if !ok {
		settings = models.PresenceSettings{UserID: userID, Status: models.StatusOnline, Visibility: models.VisibilityEveryone}
	}
	return settings
}

func (s *MemoryStore) PresenceSettings(_ context.Context, userID int) (models.PresenceSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settingsLocked(userID), nil
}

func (s *MemoryStore) ContactIDs(_ context.Context, userID int) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.contacts[userID]...), nil
}

func (s *MemoryStore) SetStatus(ctx context.Context, userID int, status models.Status) error {
	if err := s.write(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	settings := s.settingsLocked(userID)
	settings.Status = status
	s.presence[userID] = settings
	return nil
}

func (s *MemoryStore) SetLastSeen(_ context.Context, userID int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings := s.settingsLocked(userID)
	settings.LastSeen = &at
	s.presence[userID] = settings
	return nil
}
