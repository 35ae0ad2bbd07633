package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"chat-hub/internal/models"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNotParticipant       = errors.New("user is not a participant")
)

// ConversationRepository abstracts conversation and membership persistence.
type ConversationRepository interface {
	GetConversation(ctx context.Context, conversationID int) (models.Conversation, error)
	ParticipantsOf(ctx context.Context, conversationID int) ([]int, error)
	IsParticipant(ctx context.Context, conversationID int, userID int) (bool, error)
	ConversationIDsForUser(ctx context.Context, userID int) ([]int, error)
	ListForUser(ctx context.Context, userID int, archived bool) ([]models.ConversationSummary, error)
	FindOrCreatePrivate(ctx context.Context, userID int, otherID int) (models.Conversation, bool, error)
	CreateGroup(ctx context.Context, creatorID int, name, description, avatar string, memberIDs []int) (models.Conversation, error)
	UpdateGroupInfo(ctx context.Context, conversationID int, update models.GroupInfoUpdate) (models.Conversation, error)
	AddParticipants(ctx context.Context, conversationID int, userIDs []int) ([]int, error)
	RemoveParticipant(ctx context.Context, conversationID int, userID int) error
	SetAdmin(ctx context.Context, conversationID int, userID int, admin bool) error
	DeleteConversation(ctx context.Context, conversationID int) error
	SetParticipantFlag(ctx context.Context, conversationID int, userID int, flag models.ParticipantFlag, value bool) error
	ClearHistory(ctx context.Context, conversationID int, userID int, at time.Time) error
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

const conversationColumns = `c.id, c.type, c.name, c.description, c.avatar, c.created_by, c.last_message_id, c.created_at, c.updated_at`

type participantRow struct {
	UserID  int  `db:"user_id"`
	IsAdmin bool `db:"is_admin"`
}

// GetConversation loads a conversation with its participant and admin sets.
func (r *ConversationRepo) GetConversation(ctx context.Context, conversationID int) (models.Conversation, error) {
	return getConversation(ctx, r.db, conversationID)
}

func getConversation(ctx context.Context, q sqlx.QueryerContext, conversationID int) (models.Conversation, error) {
	var conv models.Conversation
	err := sqlx.GetContext(ctx, q, &conv, `SELECT `+conversationColumns+` FROM conversations c WHERE c.id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return models.Conversation{}, err
	}

	var rows []participantRow
	if err := sqlx.SelectContext(ctx, q, &rows, `SELECT user_id, is_admin FROM conversation_participants
        WHERE conversation_id=$1 ORDER BY joined_at, user_id`, conversationID); err != nil {
		return models.Conversation{}, err
	}
	conv.Participants = make([]int, 0, len(rows))
	for _, row := range rows {
		conv.Participants = append(conv.Participants, row.UserID)
		if row.IsAdmin {
			conv.Admins = append(conv.Admins, row.UserID)
		}
	}
	return conv, nil
}

// ParticipantsOf returns ErrConversationNotFound when the conversation is gone.
func (r *ConversationRepo) ParticipantsOf(ctx context.Context, conversationID int) ([]int, error) {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM conversations WHERE id=$1)`, conversationID); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrConversationNotFound
	}
	var ids []int
	err := r.db.SelectContext(ctx, &ids, `SELECT user_id FROM conversation_participants WHERE conversation_id=$1 ORDER BY user_id`, conversationID)
	return ids, err
}

func (r *ConversationRepo) IsParticipant(ctx context.Context, conversationID int, userID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM conversation_participants WHERE conversation_id=$1 AND user_id=$2)`, conversationID, userID)
	return exists, err
}

func (r *ConversationRepo) ConversationIDsForUser(ctx context.Context, userID int) ([]int, error) {
	var ids []int
	err := r.db.SelectContext(ctx, &ids, `SELECT conversation_id FROM conversation_participants WHERE user_id=$1`, userID)
	return ids, err
}

// ListForUser returns the user's visible conversations, most recently active first.
func (r *ConversationRepo) ListForUser(ctx context.Context, userID int, archived bool) ([]models.ConversationSummary, error) {
	query := `SELECT ` + conversationColumns + `, p.pinned, p.muted, p.archived,
            (SELECT COUNT(*) FROM messages m
                WHERE m.conversation_id = c.id AND m.sender_id <> $1 AND NOT m.deleted
                AND (p.cleared_at IS NULL OR m.created_at > p.cleared_at)
                AND NOT EXISTS (SELECT 1 FROM message_reads rd WHERE rd.message_id = m.id AND rd.user_id = $1)
                AND NOT EXISTS (SELECT 1 FROM message_hidden h WHERE h.message_id = m.id AND h.user_id = $1)
            ) AS unread_count
        FROM conversations c
        JOIN conversation_participants p ON p.conversation_id = c.id AND p.user_id = $1
        WHERE NOT p.deleted AND p.archived = $2
        ORDER BY p.pinned DESC, c.updated_at DESC`
	var list []models.ConversationSummary
	if err := r.db.SelectContext(ctx, &list, query, userID, archived); err != nil {
		return nil, err
	}
	for i := range list {
		full, err := r.GetConversation(ctx, list[i].ID)
		if err != nil {
			return nil, err
		}
		list[i].Participants = full.Participants
		list[i].Admins = full.Admins
	}
	return list, nil
}

// FindOrCreatePrivate returns the private conversation for the unordered pair,
// creating it when missing. The bool reports creation.
func (r *ConversationRepo) FindOrCreatePrivate(ctx context.Context, userID int, otherID int) (models.Conversation, bool, error) {
	if userID == otherID {
		return models.Conversation{}, false, errors.New("cannot create conversation with self")
	}
	pair := []int{userID, otherID}
	sort.Ints(pair)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Conversation{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	var id int
	created := false
	err = tx.GetContext(ctx, &id, `INSERT INTO conversations (type, created_by, private_low, private_high)
        VALUES ('private', $1, $2, $3)
        ON CONFLICT (private_low, private_high) DO NOTHING
        RETURNING id`, userID, pair[0], pair[1])
	switch {
	case err == nil:
		created = true
		if _, err := tx.ExecContext(ctx, `INSERT INTO conversation_participants (conversation_id, user_id)
            VALUES ($1, $2), ($1, $3)`, id, pair[0], pair[1]); err != nil {
			return models.Conversation{}, false, err
		}
	case errors.Is(err, sql.ErrNoRows):
		if err := tx.GetContext(ctx, &id, `SELECT id FROM conversations WHERE private_low=$1 AND private_high=$2`, pair[0], pair[1]); err != nil {
			return models.Conversation{}, false, err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE conversation_participants SET deleted=FALSE
            WHERE conversation_id=$1 AND user_id=$2`, id, userID); err != nil {
			return models.Conversation{}, false, err
		}
	default:
		return models.Conversation{}, false, err
	}

	conv, err := getConversation(ctx, tx, id)
	if err != nil {
		return models.Conversation{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return models.Conversation{}, false, err
	}
	return conv, created, nil
}

// CreateGroup creates a group whose creator is both a participant and an admin.
func (r *ConversationRepo) CreateGroup(ctx context.Context, creatorID int, name, description, avatar string, memberIDs []int) (models.Conversation, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Conversation{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var id int
	if err := tx.GetContext(ctx, &id, `INSERT INTO conversations (type, name, description, avatar, created_by)
        VALUES ('group', $1, $2, $3, $4) RETURNING id`, name, description, avatar, creatorID); err != nil {
		return models.Conversation{}, err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO conversation_participants (conversation_id, user_id, is_admin)
        VALUES ($1, $2, TRUE)`, id, creatorID); err != nil {
		return models.Conversation{}, err
	}
	for _, memberID := range memberIDs {
		if memberID == creatorID {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO conversation_participants (conversation_id, user_id)
            VALUES ($1, $2) ON CONFLICT DO NOTHING`, id, memberID); err != nil {
			return models.Conversation{}, err
		}
	}

	conv, err := getConversation(ctx, tx, id)
	if err != nil {
		return models.Conversation{}, err
	}
	return conv, tx.Commit()
}

func (r *ConversationRepo) UpdateGroupInfo(ctx context.Context, conversationID int, update models.GroupInfoUpdate) (models.Conversation, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE conversations SET
            name = COALESCE($2, name),
            description = COALESCE($3, description),
            avatar = COALESCE($4, avatar),
            updated_at = NOW()
        WHERE id=$1 AND type='group'`, conversationID, update.Name, update.Description, update.Avatar)
	if err != nil {
		return models.Conversation{}, err
	}
	if err := requireRow(res, ErrConversationNotFound); err != nil {
		return models.Conversation{}, err
	}
	return r.GetConversation(ctx, conversationID)
}

// AddParticipants returns the ids that were not already participants.
func (r *ConversationRepo) AddParticipants(ctx context.Context, conversationID int, userIDs []int) ([]int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var locked int
	err = tx.GetContext(ctx, &locked, `SELECT id FROM conversations WHERE id=$1 FOR UPDATE`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}

	added := make([]int, 0, len(userIDs))
	for _, userID := range userIDs {
		res, err := tx.ExecContext(ctx, `INSERT INTO conversation_participants (conversation_id, user_id)
            VALUES ($1, $2) ON CONFLICT DO NOTHING`, conversationID, userID)
		if err != nil {
			return nil, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added = append(added, userID)
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = NOW() WHERE id=$1`, conversationID); err != nil {
		return nil, err
	}
	return added, tx.Commit()
}

func (r *ConversationRepo) RemoveParticipant(ctx context.Context, conversationID int, userID int) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM conversation_participants WHERE conversation_id=$1 AND user_id=$2`, conversationID, userID)
	if err != nil {
		return err
	}
	return requireRow(res, ErrNotParticipant)
}

func (r *ConversationRepo) SetAdmin(ctx context.Context, conversationID int, userID int, admin bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE conversation_participants SET is_admin=$3
        WHERE conversation_id=$1 AND user_id=$2`, conversationID, userID, admin)
	if err != nil {
		return err
	}
	return requireRow(res, ErrNotParticipant)
}

func (r *ConversationRepo) DeleteConversation(ctx context.Context, conversationID int) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM conversations WHERE id=$1`, conversationID)
	if err != nil {
		return err
	}
	return requireRow(res, ErrConversationNotFound)
}

// SetParticipantFlag updates one soft-state column for one participant.
func (r *ConversationRepo) SetParticipantFlag(ctx context.Context, conversationID int, userID int, flag models.ParticipantFlag, value bool) error {
	if !flag.Valid() {
		return fmt.Errorf("unknown participant flag %q", flag)
	}
	// flag is one of a closed set of column names
	query := fmt.Sprintf(`UPDATE conversation_participants SET %s=$3 WHERE conversation_id=$1 AND user_id=$2`, flag)
	res, err := r.db.ExecContext(ctx, query, conversationID, userID, value)
	if err != nil {
		return err
	}
	return requireRow(res, ErrNotParticipant)
}

// ClearHistory hides every message up to at for the user.
func (r *ConversationRepo) ClearHistory(ctx context.Context, conversationID int, userID int, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE conversation_participants SET cleared_at=$3
        WHERE conversation_id=$1 AND user_id=$2`, conversationID, userID, at)
	if err != nil {
		return err
	}
	return requireRow(res, ErrNotParticipant)
}

func requireRow(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return notFound
	}
	return nil
}
