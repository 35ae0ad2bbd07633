package repositories

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"chat-hub/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository abstracts message persistence. Every method is a single
// atomic update.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.NewMessage) (models.Message, error)
	GetMessage(ctx context.Context, messageID int) (models.Message, error)
	ListMessages(ctx context.Context, conversationID int, userID int, before *models.HistoryCursor, limit int) ([]models.Message, error)
	SearchMessages(ctx context.Context, conversationID int, userID int, query string, limit int) ([]models.Message, error)
	VisibleTo(ctx context.Context, messageID int, userID int) (bool, error)
	EditMessage(ctx context.Context, messageID int, content string, at time.Time) (models.Message, error)
	DeleteForEveryone(ctx context.Context, messageID int, at time.Time) (models.Message, error)
	HideForUser(ctx context.Context, messageID int, userID int) error
	SetReaction(ctx context.Context, messageID int, userID int, emoji string, at time.Time) (models.Reaction, error)
	RemoveReaction(ctx context.Context, messageID int, userID int) (string, bool, error)
	MarkRead(ctx context.Context, conversationID int, readerID int, messageIDs []int, at time.Time) ([]int, error)
	MarkDelivered(ctx context.Context, messageID int, userIDs []int, at time.Time) error
	SetPinned(ctx context.Context, messageID int, pinned bool, actorID int, at time.Time) (models.Message, error)
}

// MessageRepo is a sqlx implementation of MessageRepository.
type MessageRepo struct {
	db *sqlx.DB
}

func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `m.id, m.conversation_id, m.sender_id, m.type, m.content, m.reply_to, m.forwarded_from,
    m.edited, m.edited_at, m.deleted, m.deleted_at, m.pinned, m.pinned_by, m.pinned_at, m.created_at`

// CreateMessage inserts the message, advances the conversation's last-message
// pointer and restores the conversation for participants who had deleted it.
func (r *MessageRepo) CreateMessage(ctx context.Context, in models.NewMessage) (models.Message, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer func() { _ = tx.Rollback() }()

	msgType := in.Type
	if msgType == "" {
		msgType = models.MessageText
	}

	var id int
	err = tx.GetContext(ctx, &id, `INSERT INTO messages (conversation_id, sender_id, type, content, reply_to, forwarded_from)
        VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		in.ConversationID, in.SenderID, msgType, in.Content, in.ReplyTo, in.ForwardedFrom)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return models.Message{}, ErrConversationNotFound
		}
		return models.Message{}, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET last_message_id=$2, updated_at=NOW() WHERE id=$1`, in.ConversationID, id); err != nil {
		return models.Message{}, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE conversation_participants SET deleted=FALSE
        WHERE conversation_id=$1 AND deleted`, in.ConversationID); err != nil {
		return models.Message{}, err
	}

	msg, err := getMessage(ctx, tx, id)
	if err != nil {
		return models.Message{}, err
	}
	return msg, tx.Commit()
}

func (r *MessageRepo) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	return getMessage(ctx, r.db, messageID)
}

func getMessage(ctx context.Context, q sqlx.QueryerContext, messageID int) (models.Message, error) {
	var msg models.Message
	err := sqlx.GetContext(ctx, q, &msg, `SELECT `+messageColumns+` FROM messages m WHERE m.id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	list := []models.Message{msg}
	if err := attachDetails(ctx, q, list); err != nil {
		return models.Message{}, err
	}
	return list[0], nil
}

// visibleTo restricts m to messages userID ($2) can still see: not hidden by
// them and not older than their clear-history mark.
const visibleTo = `JOIN conversation_participants p ON p.conversation_id = m.conversation_id AND p.user_id = $2
        WHERE (p.cleared_at IS NULL OR m.created_at > p.cleared_at)
          AND NOT EXISTS (SELECT 1 FROM message_hidden h WHERE h.message_id = m.id AND h.user_id = $2)`

// ListMessages returns up to limit messages visible to userID that sort
// before the cursor on (created_at, id), oldest first.
func (r *MessageRepo) ListMessages(ctx context.Context, conversationID int, userID int, before *models.HistoryCursor, limit int) ([]models.Message, error) {
	var (
		beforeAt *time.Time
		beforeID *int
	)
	if before != nil {
		beforeAt = &before.CreatedAt
		if before.ID > 0 {
			beforeID = &before.ID
		}
	}
	query := `SELECT ` + messageColumns + ` FROM messages m ` + visibleTo + `
          AND m.conversation_id = $1
          AND ($3::timestamptz IS NULL
               OR m.created_at < $3
               OR ($5::bigint IS NOT NULL AND m.created_at = $3 AND m.id < $5))
        ORDER BY m.created_at DESC, m.id DESC
        LIMIT $4`
	var msgs []models.Message
	if err := r.db.SelectContext(ctx, &msgs, query, conversationID, userID, beforeAt, limit, beforeID); err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	if err := attachDetails(ctx, r.db, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// SearchMessages matches content case-insensitively, newest first. Deleted
// messages and messages hidden from userID are skipped.
func (r *MessageRepo) SearchMessages(ctx context.Context, conversationID int, userID int, query string, limit int) ([]models.Message, error) {
	q := `SELECT ` + messageColumns + ` FROM messages m ` + visibleTo + `
          AND m.conversation_id = $1
          AND NOT m.deleted
          AND m.content ILIKE '%' || $3 || '%' ESCAPE '\'
        ORDER BY m.created_at DESC, m.id DESC
        LIMIT $4`
	var msgs []models.Message
	if err := r.db.SelectContext(ctx, &msgs, q, conversationID, userID, escapeLike(query), limit); err != nil {
		return nil, err
	}
	if err := attachDetails(ctx, r.db, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// VisibleTo reports whether userID participates in the message's
// conversation and can still see the message.
func (r *MessageRepo) VisibleTo(ctx context.Context, messageID int, userID int) (bool, error) {
	var visible bool
	err := r.db.GetContext(ctx, &visible, `SELECT EXISTS(SELECT 1 FROM messages m `+visibleTo+`
          AND m.id = $1)`, messageID, userID)
	return visible, err
}

func (r *MessageRepo) EditMessage(ctx context.Context, messageID int, content string, at time.Time) (models.Message, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET content=$2, edited=TRUE, edited_at=$3
        WHERE id=$1 AND NOT deleted`, messageID, content, at)
	if err != nil {
		return models.Message{}, err
	}
	if err := requireRow(res, ErrMessageNotFound); err != nil {
		return models.Message{}, err
	}
	return r.GetMessage(ctx, messageID)
}

// DeleteForEveryone turns the message into a tombstone.
func (r *MessageRepo) DeleteForEveryone(ctx context.Context, messageID int, at time.Time) (models.Message, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET deleted=TRUE, deleted_at=$2, content=''
        WHERE id=$1 AND NOT deleted`, messageID, at)
	if err != nil {
		return models.Message{}, err
	}
	if err := requireRow(res, ErrMessageNotFound); err != nil {
		return models.Message{}, err
	}
	return r.GetMessage(ctx, messageID)
}

func (r *MessageRepo) HideForUser(ctx context.Context, messageID int, userID int) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO message_hidden (message_id, user_id) VALUES ($1, $2)
        ON CONFLICT DO NOTHING`, messageID, userID)
	return err
}

// SetReaction replaces any reaction the user already has on the message.
func (r *MessageRepo) SetReaction(ctx context.Context, messageID int, userID int, emoji string, at time.Time) (models.Reaction, error) {
	var reaction models.Reaction
	err := r.db.GetContext(ctx, &reaction, `INSERT INTO message_reactions (message_id, user_id, emoji, created_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (message_id, user_id) DO UPDATE SET emoji=EXCLUDED.emoji, created_at=EXCLUDED.created_at
        RETURNING message_id, user_id, emoji, created_at`, messageID, userID, emoji, at)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return models.Reaction{}, ErrMessageNotFound
		}
		return models.Reaction{}, err
	}
	return reaction, nil
}

// RemoveReaction returns the removed emoji and whether anything was removed.
func (r *MessageRepo) RemoveReaction(ctx context.Context, messageID int, userID int) (string, bool, error) {
	var emoji string
	err := r.db.GetContext(ctx, &emoji, `DELETE FROM message_reactions WHERE message_id=$1 AND user_id=$2 RETURNING emoji`, messageID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return emoji, true, nil
}

// MarkRead writes read and delivery witnesses for every targeted message sent
// by someone else and not yet read by the reader. An empty messageIDs targets
// the whole conversation. It returns the ids newly marked read.
func (r *MessageRepo) MarkRead(ctx context.Context, conversationID int, readerID int, messageIDs []int, at time.Time) ([]int, error) {
	var filter pq.Int64Array
	if len(messageIDs) > 0 {
		filter = make(pq.Int64Array, 0, len(messageIDs))
		for _, id := range messageIDs {
			filter = append(filter, int64(id))
		}
	}

	query := `WITH targets AS (
            SELECT m.id FROM messages m
            WHERE m.conversation_id = $1 AND m.sender_id <> $2
              AND ($3::bigint[] IS NULL OR m.id = ANY($3))
              AND NOT EXISTS (SELECT 1 FROM message_reads rd WHERE rd.message_id = m.id AND rd.user_id = $2)
        ), delivered AS (
            INSERT INTO message_deliveries (message_id, user_id, at)
            SELECT id, $2, $4 FROM targets
            ON CONFLICT DO NOTHING
        )
        INSERT INTO message_reads (message_id, user_id, at)
        SELECT id, $2, $4 FROM targets
        ON CONFLICT DO NOTHING
        RETURNING message_id`
	var ids []int
	if err := r.db.SelectContext(ctx, &ids, query, conversationID, readerID, filter, at); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *MessageRepo) MarkDelivered(ctx context.Context, messageID int, userIDs []int, at time.Time) error {
	if len(userIDs) == 0 {
		return nil
	}
	users := make(pq.Int64Array, 0, len(userIDs))
	for _, id := range userIDs {
		users = append(users, int64(id))
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO message_deliveries (message_id, user_id, at)
        SELECT $1, u, $3 FROM unnest($2::bigint[]) AS u
        ON CONFLICT DO NOTHING`, messageID, users, at)
	return err
}

func (r *MessageRepo) SetPinned(ctx context.Context, messageID int, pinned bool, actorID int, at time.Time) (models.Message, error) {
	var (
		pinnedBy *int
		pinnedAt *time.Time
	)
	if pinned {
		pinnedBy, pinnedAt = &actorID, &at
	}
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET pinned=$2, pinned_by=$3, pinned_at=$4 WHERE id=$1`,
		messageID, pinned, pinnedBy, pinnedAt)
	if err != nil {
		return models.Message{}, err
	}
	if err := requireRow(res, ErrMessageNotFound); err != nil {
		return models.Message{}, err
	}
	return r.GetMessage(ctx, messageID)
}

// attachDetails loads reactions and witnesses for msgs in place.
func attachDetails(ctx context.Context, q sqlx.QueryerContext, msgs []models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]int, 0, len(msgs))
	index := make(map[int]int, len(msgs))
	for i := range msgs {
		ids = append(ids, msgs[i].ID)
		index[msgs[i].ID] = i
		msgs[i].Reactions = []models.Reaction{}
		msgs[i].DeliveredTo = []models.Witness{}
		msgs[i].ReadBy = []models.Witness{}
	}

	var reactions []models.Reaction
	if err := selectIn(ctx, q, &reactions, `SELECT message_id, user_id, emoji, created_at FROM message_reactions
        WHERE message_id IN (?) ORDER BY created_at`, ids); err != nil {
		return err
	}
	for _, reaction := range reactions {
		i := index[reaction.MessageID]
		msgs[i].Reactions = append(msgs[i].Reactions, reaction)
	}

	var delivered []models.Witness
	if err := selectIn(ctx, q, &delivered, `SELECT message_id, user_id, at FROM message_deliveries
        WHERE message_id IN (?) ORDER BY at`, ids); err != nil {
		return err
	}
	for _, w := range delivered {
		i := index[w.MessageID]
		msgs[i].DeliveredTo = append(msgs[i].DeliveredTo, w)
	}

	var reads []models.Witness
	if err := selectIn(ctx, q, &reads, `SELECT message_id, user_id, at FROM message_reads
        WHERE message_id IN (?) ORDER BY at`, ids); err != nil {
		return err
	}
	for _, w := range reads {
		i := index[w.MessageID]
		msgs[i].ReadBy = append(msgs[i].ReadBy, w)
	}
	return nil
}

func selectIn(ctx context.Context, q sqlx.QueryerContext, dest any, query string, ids []int) error {
	expanded, args, err := sqlx.In(query, ids)
	if err != nil {
		return err
	}
	return sqlx.SelectContext(ctx, q, dest, sqlx.Rebind(sqlx.DOLLAR, expanded), args...)
}
