package repositories

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"hospital-chat/internal/identity"
	"hospital-chat/internal/models"
)

var (
	ErrChatNotFound = errors.New("chat not found")
	ErrNotAGroup    = errors.New("chat is not a group")
	ErrNotAMember   = errors.New("user is not a chat participant")
	ErrEmptyGroup   = errors.New("group needs a name and at least one member")
	ErrSelfChat     = errors.New("cannot create chat with self")
)

// ChatRepository abstracts chat persistence.
type ChatRepository interface {
	CreateOrGetDirect(ctx context.Context, userID, otherID string) (models.Chat, error)
	CreateGroup(ctx context.Context, adminID, name string, memberIDs []string) (models.Chat, error)
	GetChat(ctx context.Context, chatID string) (models.Chat, error)
	ListChats(ctx context.Context, userID string) ([]models.Chat, error)
	IsParticipant(ctx context.Context, chatID, userID string) (bool, error)
	RenameGroup(ctx context.Context, chatID, name string) (models.Chat, error)
	AddParticipant(ctx context.Context, chatID, userID string) (models.Chat, error)
	RemoveParticipant(ctx context.Context, chatID, userID string) (models.Chat, error)
	IncrementUnread(ctx context.Context, chatID, senderID string) error
	ResetUnread(ctx context.Context, chatID, userID string) error
}

// ChatRepo is a sqlx implementation of ChatRepository.
type ChatRepo struct {
	db *sqlx.DB
}

// NewChatRepo constructs a ChatRepo.
func NewChatRepo(db *sqlx.DB) *ChatRepo {
	return &ChatRepo{db: db}
}

type chatRow struct {
	ID           string         `db:"id"`
	IsGroup      bool           `db:"is_group"`
	GroupName    string         `db:"group_name"`
	GroupAdminID string         `db:"group_admin_id"`
	DirectKey    sql.NullString `db:"direct_key"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

type participantRow struct {
	UserID     string         `db:"user_id"`
	Name       sql.NullString `db:"name"`
	Email      sql.NullString `db:"email"`
	Role       sql.NullString `db:"role"`
	AvatarURL  sql.NullString `db:"avatar_url"`
	HospitalID sql.NullString `db:"hospital_id"`
}

func directKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, ":")
}

// CreateOrGetDirect returns the one-to-one chat between two users, creating
// it on first contact.
func (r *ChatRepo) CreateOrGetDirect(ctx context.Context, userID, otherID string) (models.Chat, error) {
	if userID == otherID {
		return models.Chat{}, ErrSelfChat
	}
	key := directKey(userID, otherID)

	var chatID string
	err := r.db.GetContext(ctx, &chatID, `SELECT id FROM chats WHERE direct_key=$1`, key)
	if err == nil {
		return r.GetChat(ctx, chatID)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Chat{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	chatID = uuid.NewString()
	if _, err = tx.ExecContext(ctx, `INSERT INTO chats (id, direct_key) VALUES ($1, $2)`, chatID, key); err != nil {
		if isUniqueViolation(err) {
			// Lost a first-contact race: the peer created the chat
			// between our select and insert.
			tx.Rollback()
			if err = r.db.GetContext(ctx, &chatID, `SELECT id FROM chats WHERE direct_key=$1`, key); err != nil {
				return models.Chat{}, err
			}
			return r.GetChat(ctx, chatID)
		}
		return models.Chat{}, err
	}
	for _, id := range []string{userID, otherID} {
		if _, err = tx.ExecContext(ctx, `INSERT INTO chat_participants (chat_id, user_id) VALUES ($1, $2)`, chatID, id); err != nil {
			return models.Chat{}, err
		}
		if _, err = tx.ExecContext(ctx, `INSERT INTO chat_unread (chat_id, user_id, count) VALUES ($1, $2, 0)`, chatID, id); err != nil {
			return models.Chat{}, err
		}
	}
	if err = tx.Commit(); err != nil {
		return models.Chat{}, err
	}
	return r.GetChat(ctx, chatID)
}

// CreateGroup creates a named group and its membership atomically. The
// admin is always a member, members are deduplicated.
func (r *ChatRepo) CreateGroup(ctx context.Context, adminID, name string, memberIDs []string) (models.Chat, error) {
	if name == "" || len(memberIDs) == 0 {
		return models.Chat{}, ErrEmptyGroup
	}

	memberSet := map[string]struct{}{adminID: {}}
	for _, id := range memberIDs {
		memberSet[id] = struct{}{}
	}
	ids := make([]string, 0, len(memberSet))
	for id := range memberSet {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Chat{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	chatID := uuid.NewString()
	if _, err = tx.ExecContext(ctx, `INSERT INTO chats (id, is_group, group_name, group_admin_id) VALUES ($1, TRUE, $2, $3)`, chatID, name, adminID); err != nil {
		return models.Chat{}, err
	}
	for _, id := range ids {
		if _, err = tx.ExecContext(ctx, `INSERT INTO chat_participants (chat_id, user_id) VALUES ($1, $2)`, chatID, id); err != nil {
			return models.Chat{}, err
		}
		if _, err = tx.ExecContext(ctx, `INSERT INTO chat_unread (chat_id, user_id, count) VALUES ($1, $2, 0)`, chatID, id); err != nil {
			return models.Chat{}, err
		}
	}
	if err = tx.Commit(); err != nil {
		return models.Chat{}, err
	}
	return r.GetChat(ctx, chatID)
}

// GetChat loads a chat with participants, unread counts and last-message
// preview assembled.
func (r *ChatRepo) GetChat(ctx context.Context, chatID string) (models.Chat, error) {
	var row chatRow
	err := r.db.GetContext(ctx, &row, `SELECT id, is_group, group_name, group_admin_id, direct_key, created_at, updated_at FROM chats WHERE id=$1`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, ErrChatNotFound
	}
	if err != nil {
		return models.Chat{}, err
	}
	return r.assemble(ctx, row)
}

// ListChats returns the user's chats, most recently touched first.
func (r *ChatRepo) ListChats(ctx context.Context, userID string) ([]models.Chat, error) {
	var rows []chatRow
	query := `SELECT c.id, c.is_group, c.group_name, c.group_admin_id, c.direct_key, c.created_at, c.updated_at
        FROM chats c INNER JOIN chat_participants cp ON cp.chat_id = c.id
        WHERE cp.user_id=$1
        ORDER BY c.updated_at DESC`
	if err := r.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, err
	}

	chats := make([]models.Chat, 0, len(rows))
	for _, row := range rows {
		chat, err := r.assemble(ctx, row)
		if err != nil {
			return nil, err
		}
		chats = append(chats, chat)
	}
	return chats, nil
}

// IsParticipant checks whether the user belongs to the chat.
func (r *ChatRepo) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM chat_participants WHERE chat_id=$1 AND user_id=$2)`, chatID, userID)
	return exists, err
}

// RenameGroup updates the group name and returns the full chat.
func (r *ChatRepo) RenameGroup(ctx context.Context, chatID, name string) (models.Chat, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE chats SET group_name=$1, updated_at=NOW() WHERE id=$2 AND is_group = TRUE`, name, chatID)
	if err != nil {
		return models.Chat{}, err
	}
	if err := requireRowTouched(res); err != nil {
		return models.Chat{}, err
	}
	return r.GetChat(ctx, chatID)
}

// AddParticipant adds a member to a group and returns the full chat.
// Adding an existing member is a no-op.
func (r *ChatRepo) AddParticipant(ctx context.Context, chatID, userID string) (models.Chat, error) {
	chat, err := r.GetChat(ctx, chatID)
	if err != nil {
		return models.Chat{}, err
	}
	if !chat.IsGroup {
		return models.Chat{}, ErrNotAGroup
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Chat{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `INSERT INTO chat_participants (chat_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, chatID, userID); err != nil {
		return models.Chat{}, err
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO chat_unread (chat_id, user_id, count) VALUES ($1, $2, 0) ON CONFLICT DO NOTHING`, chatID, userID); err != nil {
		return models.Chat{}, err
	}
	if _, err = tx.ExecContext(ctx, `UPDATE chats SET updated_at=NOW() WHERE id=$1`, chatID); err != nil {
		return models.Chat{}, err
	}
	if err = tx.Commit(); err != nil {
		return models.Chat{}, err
	}
	return r.GetChat(ctx, chatID)
}

// RemoveParticipant drops a member from a group. When the admin leaves, the
// longest-standing remaining member becomes admin so the group never ends
// up admin-less.
func (r *ChatRepo) RemoveParticipant(ctx context.Context, chatID, userID string) (models.Chat, error) {
	chat, err := r.GetChat(ctx, chatID)
	if err != nil {
		return models.Chat{}, err
	}
	if !chat.IsGroup {
		return models.Chat{}, ErrNotAGroup
	}
	if !chat.HasParticipant(userID) {
		return models.Chat{}, ErrNotAMember
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Chat{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM chat_participants WHERE chat_id=$1 AND user_id=$2`, chatID, userID); err != nil {
		return models.Chat{}, err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM chat_unread WHERE chat_id=$1 AND user_id=$2`, chatID, userID); err != nil {
		return models.Chat{}, err
	}
	if chat.IsAdmin(userID) {
		if _, err = tx.ExecContext(ctx, `UPDATE chats SET group_admin_id = COALESCE(
            (SELECT user_id FROM chat_participants WHERE chat_id=$1 ORDER BY joined_at ASC LIMIT 1), '')
            WHERE id=$1`, chatID); err != nil {
			return models.Chat{}, err
		}
	}
	if _, err = tx.ExecContext(ctx, `UPDATE chats SET updated_at=NOW() WHERE id=$1`, chatID); err != nil {
		return models.Chat{}, err
	}
	if err = tx.Commit(); err != nil {
		return models.Chat{}, err
	}
	return r.GetChat(ctx, chatID)
}

// IncrementUnread bumps the unread count for every participant except the
// sender and touches the chat's recency stamp.
func (r *ChatRepo) IncrementUnread(ctx context.Context, chatID, senderID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `UPDATE chat_unread SET count = count + 1 WHERE chat_id=$1 AND user_id <> $2`, chatID, senderID); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `UPDATE chats SET updated_at=NOW() WHERE id=$1`, chatID); err != nil {
		return err
	}
	return tx.Commit()
}

// ResetUnread zeroes the user's unread count. Idempotent.
func (r *ChatRepo) ResetUnread(ctx context.Context, chatID, userID string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO chat_unread (chat_id, user_id, count) VALUES ($1, $2, 0)
        ON CONFLICT (chat_id, user_id) DO UPDATE SET count = 0`, chatID, userID)
	return err
}

func (r *ChatRepo) assemble(ctx context.Context, row chatRow) (models.Chat, error) {
	chat := models.Chat{
		ID:           row.ID,
		IsGroup:      row.IsGroup,
		GroupName:    row.GroupName,
		UnreadCounts: map[string]int{},
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}

	var parts []participantRow
	query := `SELECT cp.user_id, u.name, u.email, u.role, u.avatar_url, u.hospital_id
        FROM chat_participants cp LEFT JOIN users u ON u.id = cp.user_id
        WHERE cp.chat_id=$1 ORDER BY cp.joined_at ASC`
	if err := r.db.SelectContext(ctx, &parts, query, row.ID); err != nil {
		return models.Chat{}, err
	}
	for _, p := range parts {
		ref := refFromParticipant(p)
		chat.Participants = append(chat.Participants, ref)
		if row.IsGroup && p.UserID == row.GroupAdminID {
			admin := ref
			chat.GroupAdmin = &admin
		}
	}
	if row.IsGroup && chat.GroupAdmin == nil && row.GroupAdminID != "" {
		admin := identity.FromID(row.GroupAdminID)
		chat.GroupAdmin = &admin
	}

	type unreadRow struct {
		UserID string `db:"user_id"`
		Count  int    `db:"count"`
	}
	var unreads []unreadRow
	if err := r.db.SelectContext(ctx, &unreads, `SELECT user_id, count FROM chat_unread WHERE chat_id=$1`, row.ID); err != nil {
		return models.Chat{}, err
	}
	for _, u := range unreads {
		chat.UnreadCounts[u.UserID] = u.Count
	}

	type previewRow struct {
		SenderID      string    `db:"sender_id"`
		Content       string    `db:"content"`
		CreatedAt     time.Time `db:"created_at"`
		HasAttachment bool      `db:"has_attachment"`
	}
	var preview previewRow
	err := r.db.GetContext(ctx, &preview, `SELECT m.sender_id, m.content, m.created_at,
        EXISTS(SELECT 1 FROM attachments a WHERE a.message_id = m.id) AS has_attachment
        FROM messages m WHERE m.chat_id=$1 ORDER BY m.created_at DESC LIMIT 1`, row.ID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, err
	}
	if err == nil {
		chat.LastMessage = &models.LastMessage{
			Content:       preview.Content,
			HasAttachment: preview.HasAttachment,
			Sender:        identity.FromID(preview.SenderID),
			Timestamp:     preview.CreatedAt,
		}
	}
	return chat, nil
}

func refFromParticipant(p participantRow) identity.UserRef {
	if !p.Name.Valid {
		return identity.FromID(p.UserID)
	}
	return identity.FromProfile(identity.Profile{
		ID:         p.UserID,
		Name:       p.Name.String,
		Email:      p.Email.String,
		Role:       p.Role.String,
		AvatarURL:  p.AvatarURL.String,
		HospitalID: p.HospitalID.String,
	})
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func requireRowTouched(res sql.Result) error {
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrChatNotFound
	}
	return nil
}
