package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"hospital-chat/internal/identity"
	"hospital-chat/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository defines interactions for chat messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, chatID, senderID, content string, attachments []models.Attachment) (models.Message, error)
	ListChatMessages(ctx context.Context, chatID string) ([]models.Message, error)
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

type messageRow struct {
	ID        string    `db:"id"`
	ChatID    string    `db:"chat_id"`
	SenderID  string    `db:"sender_id"`
	Content   string    `db:"content"`
	CreatedAt time.Time `db:"created_at"`
}

type attachmentRow struct {
	MessageID string `db:"message_id"`
	Name      string `db:"name"`
	MimeType  string `db:"mime_type"`
	Size      int64  `db:"size"`
	URL       string `db:"url"`
}

// CreateMessage stores a message and its attachments atomically. The
// content-or-attachment invariant is enforced here as well as at the API
// edge, so no path can persist an empty message.
func (r *MessageRepo) CreateMessage(ctx context.Context, chatID, senderID, content string, attachments []models.Attachment) (models.Message, error) {
	if err := models.ValidateMessagePayload(content, attachments); err != nil {
		return models.Message{}, err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var row messageRow
	if err = tx.QueryRowxContext(ctx, `INSERT INTO messages (id, chat_id, sender_id, content) VALUES ($1, $2, $3, $4)
        RETURNING id, chat_id, sender_id, content, created_at`, uuid.NewString(), chatID, senderID, content).
		StructScan(&row); err != nil {
		return models.Message{}, err
	}

	for i, a := range attachments {
		if _, err = tx.ExecContext(ctx, `INSERT INTO attachments (id, message_id, name, mime_type, size, url, pos)
            VALUES ($1, $2, $3, $4, $5, $6, $7)`, uuid.NewString(), row.ID, a.Name, a.MimeType, a.Size, a.URL, i); err != nil {
			return models.Message{}, err
		}
	}
	if err = tx.Commit(); err != nil {
		return models.Message{}, err
	}

	return models.Message{
		ID:          row.ID,
		ChatID:      row.ChatID,
		Sender:      identity.FromID(row.SenderID),
		Content:     row.Content,
		Attachments: attachments,
		CreatedAt:   row.CreatedAt,
	}, nil
}

// ListChatMessages returns the chat's messages in ascending timestamp
// order, attachments included.
func (r *MessageRepo) ListChatMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	var rows []messageRow
	err := r.db.SelectContext(ctx, &rows, `SELECT id, chat_id, sender_id, content, created_at
        FROM messages WHERE chat_id=$1 ORDER BY created_at ASC`, chatID)
	if err != nil {
		return nil, err
	}

	attachmentsByMessage, err := r.loadAttachments(ctx, chatID)
	if err != nil {
		return nil, err
	}

	msgs := make([]models.Message, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, models.Message{
			ID:          row.ID,
			ChatID:      row.ChatID,
			Sender:      identity.FromID(row.SenderID),
			Content:     row.Content,
			Attachments: attachmentsByMessage[row.ID],
			CreatedAt:   row.CreatedAt,
		})
	}
	return msgs, nil
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	var row messageRow
	err := r.db.GetContext(ctx, &row, `SELECT id, chat_id, sender_id, content, created_at FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}

	var atts []attachmentRow
	if err := r.db.SelectContext(ctx, &atts, `SELECT message_id, name, mime_type, size, url FROM attachments WHERE message_id=$1 ORDER BY pos ASC`, messageID); err != nil {
		return models.Message{}, err
	}

	msg := models.Message{
		ID:        row.ID,
		ChatID:    row.ChatID,
		Sender:    identity.FromID(row.SenderID),
		Content:   row.Content,
		CreatedAt: row.CreatedAt,
	}
	for _, a := range atts {
		msg.Attachments = append(msg.Attachments, models.Attachment{Name: a.Name, MimeType: a.MimeType, Size: a.Size, URL: a.URL})
	}
	return msg, nil
}

func (r *MessageRepo) loadAttachments(ctx context.Context, chatID string) (map[string][]models.Attachment, error) {
	var atts []attachmentRow
	query := `SELECT a.message_id, a.name, a.mime_type, a.size, a.url
        FROM attachments a INNER JOIN messages m ON m.id = a.message_id
        WHERE m.chat_id=$1 ORDER BY a.pos ASC`
	if err := r.db.SelectContext(ctx, &atts, query, chatID); err != nil {
		return nil, err
	}

	byMessage := map[string][]models.Attachment{}
	for _, a := range atts {
		byMessage[a.MessageID] = append(byMessage[a.MessageID], models.Attachment{
			Name: a.Name, MimeType: a.MimeType, Size: a.Size, URL: a.URL,
		})
	}
	return byMessage, nil
}
