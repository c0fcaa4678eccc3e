package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store defines the interface for archive persistence. Ingestion writes
// are idempotent upserts keyed by platform identifiers so that a batch
// replay never creates duplicate records. Methods accept
// context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// LoadCursor returns the id of the last fully ingested update, or 0
	// if ingestion has never run (start of stream).
	LoadCursor(ctx context.Context) (int64, error)

	// CommitCursor durably advances the bookmark. The cursor is
	// monotonic: committing a value below the current one is a no-op.
	CommitCursor(ctx context.Context, updateID int64) error

	// UpsertUser inserts the user on first sighting or refreshes the
	// profile fields, keyed by Telegram user id. Sets user.ID.
	UpsertUser(ctx context.Context, user *User) error

	// SaveMessage inserts the message keyed by (chat_id,
	// telegram_message_id). When the message already exists the stored
	// row is loaded into message instead, so replays are no-ops.
	SaveMessage(ctx context.Context, message *Message) error

	// SaveAttachment inserts the attachment keyed by its platform file
	// id (or by message and kind for locations). When the attachment
	// already exists the stored row is loaded into att instead,
	// preserving any storage key and enrichment text from prior runs.
	SaveAttachment(ctx context.Context, att *Attachment) error

	// GetAttachment retrieves an attachment by id.
	GetAttachment(ctx context.Context, id int64) (*Attachment, error)

	// AttachmentsMissingBlob lists downloadable attachments whose blob
	// fetch has not succeeded yet, oldest first, with the platform
	// identifiers needed to derive their storage keys.
	AttachmentsMissingBlob(ctx context.Context, limit int) ([]*PendingBlob, error)

	// AttachmentsPendingEnrichment lists stored attachments whose
	// target enrichment field is still empty, oldest first.
	AttachmentsPendingEnrichment(ctx context.Context, limit int) ([]*Attachment, error)

	// SetAttachmentBlob records a completed blob download.
	SetAttachmentBlob(ctx context.Context, id int64, storageKey string, size int64) error

	// SetAttachmentDescription overwrites the description field.
	SetAttachmentDescription(ctx context.Context, id int64, text string) error

	// SetAttachmentTranscription overwrites the transcription field.
	SetAttachmentTranscription(ctx context.Context, id int64, text string) error

	// ListUsers returns all known users ordered by first name.
	ListUsers(ctx context.Context) ([]User, error)

	// ListMessages returns one page of messages matching the filter,
	// newest first, with sender and media attached.
	ListMessages(ctx context.Context, filter MessageFilter) (*MessagePage, error)

	// ExportMessages returns all messages matching the filter in
	// chronological order, with sender and media attached.
	ExportMessages(ctx context.Context, filter MessageFilter) ([]MessageWithRelations, error)

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlxStore) LoadCursor(ctx context.Context) (int64, error) {
	var cursor int64
	err := s.db.GetContext(ctx, &cursor, `SELECT last_update_id FROM archive_cursor WHERE id = 1`)
	if err != nil {
		// A missing or unreadable cursor row is fatal to ingestion;
		// callers must not guess an offset.
		s.logger.ErrorContext(ctx, "Error loading cursor", "error", err)
		return 0, fmt.Errorf("failed to load cursor: %w", err)
	}
	return cursor, nil
}

func (s *sqlxStore) CommitCursor(ctx context.Context, updateID int64) error {
	if updateID < 0 {
		return fmt.Errorf("cursor must be non-negative, got %d", updateID)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE archive_cursor SET last_update_id = MAX(last_update_id, ?) WHERE id = 1`, updateID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error committing cursor", "update_id", updateID, "error", err)
		return fmt.Errorf("failed to commit cursor %d: %w", updateID, err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected != 1 {
		s.logger.ErrorContext(ctx, "Cursor row missing during commit", "update_id", updateID)
		return fmt.Errorf("cursor row missing, cannot commit %d", updateID)
	}

	s.logger.DebugContext(ctx, "Cursor committed", "update_id", updateID)
	return nil
}

// UpsertUser inserts or refreshes a user record keyed by Telegram user id.
func (s *sqlxStore) UpsertUser(ctx context.Context, user *User) error {
	if user == nil {
		return fmt.Errorf("cannot save nil user")
	}
	if user.TelegramUserID == 0 {
		return fmt.Errorf("user must have a non-zero telegram_user_id")
	}

	now := time.Now().UTC()
	user.UpdatedAt = now

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollbackUnlessCommitted(ctx, s.logger, &tx)

	var existingID int64
	err = tx.GetContext(ctx, &existingID,
		`SELECT id FROM users WHERE telegram_user_id = ?`, user.TelegramUserID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		user.CreatedAt = now
		result, insertErr := tx.NamedExecContext(ctx, `
            INSERT INTO users (telegram_user_id, username, first_name, last_name, language_code, created_at, updated_at)
            VALUES (:telegram_user_id, :username, :first_name, :last_name, :language_code, :created_at, :updated_at)`, user)
		if insertErr != nil {
			s.logger.ErrorContext(ctx, "Error inserting user", "telegram_user_id", user.TelegramUserID, "error", insertErr)
			return fmt.Errorf("failed to insert user %d: %w", user.TelegramUserID, insertErr)
		}
		if id, idErr := result.LastInsertId(); idErr == nil {
			user.ID = id
		}

	case err != nil:
		s.logger.ErrorContext(ctx, "Error looking up user", "telegram_user_id", user.TelegramUserID, "error", err)
		return fmt.Errorf("failed to look up user %d: %w", user.TelegramUserID, err)

	default:
		user.ID = existingID
		if _, updateErr := tx.NamedExecContext(ctx, `
            UPDATE users SET username = :username, first_name = :first_name,
                   last_name = :last_name, language_code = :language_code, updated_at = :updated_at
            WHERE id = :id`, user); updateErr != nil {
			s.logger.ErrorContext(ctx, "Error updating user", "telegram_user_id", user.TelegramUserID, "error", updateErr)
			return fmt.Errorf("failed to update user %d: %w", user.TelegramUserID, updateErr)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	s.logger.DebugContext(ctx, "User saved", "telegram_user_id", user.TelegramUserID, "user_id", user.ID)
	return nil
}

// SaveMessage inserts a message, or loads the existing row when the
// same (chat_id, telegram_message_id) was ingested before.
func (s *sqlxStore) SaveMessage(ctx context.Context, message *Message) error {
	if message == nil {
		return fmt.Errorf("cannot save nil message")
	}
	if message.TelegramMessageID == 0 {
		return fmt.Errorf("message must have a non-zero telegram_message_id")
	}
	if message.UserID == 0 {
		return fmt.Errorf("message must have a non-zero user_id")
	}
	if message.Timestamp.IsZero() {
		return fmt.Errorf("message must have a non-zero timestamp")
	}

	now := time.Now().UTC()
	message.CreatedAt = now
	message.UpdatedAt = now

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollbackUnlessCommitted(ctx, s.logger, &tx)

	var existing Message
	err = tx.GetContext(ctx, &existing, `
        SELECT id, created_at, updated_at, telegram_message_id, chat_id, update_id, user_id, text, timestamp, raw_json
        FROM messages WHERE chat_id = ? AND telegram_message_id = ?`,
		message.ChatID, message.TelegramMessageID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		result, insertErr := tx.NamedExecContext(ctx, `
            INSERT INTO messages (telegram_message_id, chat_id, update_id, user_id, text, timestamp, raw_json, created_at, updated_at)
            VALUES (:telegram_message_id, :chat_id, :update_id, :user_id, :text, :timestamp, :raw_json, :created_at, :updated_at)`, message)
		if insertErr != nil {
			s.logger.ErrorContext(ctx, "Error saving message",
				"chat_id", message.ChatID, "telegram_message_id", message.TelegramMessageID, "error", insertErr)
			return fmt.Errorf("failed to save message %d: %w", message.TelegramMessageID, insertErr)
		}
		if id, idErr := result.LastInsertId(); idErr == nil {
			message.ID = id
		}

	case err != nil:
		s.logger.ErrorContext(ctx, "Error looking up message",
			"chat_id", message.ChatID, "telegram_message_id", message.TelegramMessageID, "error", err)
		return fmt.Errorf("failed to look up message %d: %w", message.TelegramMessageID, err)

	default:
		// Replay of an already ingested update: keep the stored record.
		*message = existing
		s.logger.DebugContext(ctx, "Message already archived, skipping insert",
			"chat_id", message.ChatID, "telegram_message_id", message.TelegramMessageID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	return nil
}

// SaveAttachment inserts an attachment, or loads the existing row when
// the same platform file (or location slot) was ingested before.
func (s *sqlxStore) SaveAttachment(ctx context.Context, att *Attachment) error {
	if att == nil {
		return fmt.Errorf("cannot save nil attachment")
	}
	if att.MessageID == 0 {
		return fmt.Errorf("attachment must have a non-zero message_id")
	}
	if att.Kind == "" {
		return fmt.Errorf("attachment must have a kind")
	}

	now := time.Now().UTC()
	att.CreatedAt = now
	att.UpdatedAt = now

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollbackUnlessCommitted(ctx, s.logger, &tx)

	var existing Attachment
	if att.FileID != "" {
		err = tx.GetContext(ctx, &existing, attachmentColumns+` FROM attachments WHERE file_id = ?`, att.FileID)
	} else {
		err = tx.GetContext(ctx, &existing, attachmentColumns+` FROM attachments WHERE message_id = ? AND kind = ? AND file_id = ''`,
			att.MessageID, att.Kind)
	}

	switch {
	case errors.Is(err, sql.ErrNoRows):
		result, insertErr := tx.NamedExecContext(ctx, `
            INSERT INTO attachments (message_id, kind, file_id, storage_key, file_name, mime_type, file_size,
                                     transcription, description, latitude, longitude, created_at, updated_at)
            VALUES (:message_id, :kind, :file_id, :storage_key, :file_name, :mime_type, :file_size,
                    :transcription, :description, :latitude, :longitude, :created_at, :updated_at)`, att)
		if insertErr != nil {
			s.logger.ErrorContext(ctx, "Error saving attachment",
				"message_id", att.MessageID, "kind", att.Kind, "error", insertErr)
			return fmt.Errorf("failed to save attachment (message %d, kind %s): %w", att.MessageID, att.Kind, insertErr)
		}
		if id, idErr := result.LastInsertId(); idErr == nil {
			att.ID = id
		}

	case err != nil:
		s.logger.ErrorContext(ctx, "Error looking up attachment",
			"message_id", att.MessageID, "kind", att.Kind, "error", err)
		return fmt.Errorf("failed to look up attachment (message %d, kind %s): %w", att.MessageID, att.Kind, err)

	default:
		// Replay: keep the stored record, including any storage key and
		// enrichment text written by earlier runs.
		*att = existing
		s.logger.DebugContext(ctx, "Attachment already archived, skipping insert",
			"attachment_id", att.ID, "kind", att.Kind)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	return nil
}

const attachmentColumns = `
    SELECT id, created_at, updated_at, message_id, kind, file_id, storage_key, file_name,
           mime_type, file_size, transcription, description, latitude, longitude`

func (s *sqlxStore) GetAttachment(ctx context.Context, id int64) (*Attachment, error) {
	if id == 0 {
		return nil, fmt.Errorf("attachment id cannot be zero")
	}

	var att Attachment
	err := s.db.GetContext(ctx, &att, attachmentColumns+` FROM attachments WHERE id = ?`, id)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrNotFound
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting attachment", "attachment_id", id, "error", err)
		return nil, fmt.Errorf("failed to get attachment %d: %w", id, err)
	}

	return &att, nil
}

func (s *sqlxStore) AttachmentsMissingBlob(ctx context.Context, limit int) ([]*PendingBlob, error) {
	if limit <= 0 {
		limit = 50
	}

	var atts []*PendingBlob
	err := s.db.SelectContext(ctx, &atts, `
        SELECT a.id, a.created_at, a.updated_at, a.message_id, a.kind, a.file_id, a.storage_key,
               a.file_name, a.mime_type, a.file_size, a.transcription, a.description, a.latitude, a.longitude,
               u.telegram_user_id AS telegram_user_id,
               m.telegram_message_id AS telegram_message_id,
               m.timestamp AS message_timestamp
        FROM attachments a
        JOIN messages m ON a.message_id = m.id
        JOIN users u ON m.user_id = u.id
        WHERE a.file_id != '' AND a.storage_key = ''
        ORDER BY a.id ASC
        LIMIT ?`, limit)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error listing attachments missing blobs", "error", err)
		return nil, fmt.Errorf("failed to list attachments missing blobs: %w", err)
	}

	return atts, nil
}

func (s *sqlxStore) AttachmentsPendingEnrichment(ctx context.Context, limit int) ([]*Attachment, error) {
	if limit <= 0 {
		limit = 50
	}

	var atts []*Attachment
	err := s.db.SelectContext(ctx, &atts, attachmentColumns+`
        FROM attachments
        WHERE storage_key != ''
          AND ((kind IN (?, ?) AND description = '') OR (kind IN (?, ?) AND transcription = ''))
        ORDER BY id ASC
        LIMIT ?`,
		KindPhoto, KindSticker, KindAudio, KindVoice, limit)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error listing attachments pending enrichment", "error", err)
		return nil, fmt.Errorf("failed to list attachments pending enrichment: %w", err)
	}

	return atts, nil
}

func (s *sqlxStore) SetAttachmentBlob(ctx context.Context, id int64, storageKey string, size int64) error {
	if storageKey == "" {
		return fmt.Errorf("storage key cannot be empty")
	}
	return s.updateAttachmentField(ctx, id, `storage_key = ?, file_size = ?`, storageKey, size)
}

func (s *sqlxStore) SetAttachmentDescription(ctx context.Context, id int64, text string) error {
	return s.updateAttachmentField(ctx, id, `description = ?`, text)
}

func (s *sqlxStore) SetAttachmentTranscription(ctx context.Context, id int64, text string) error {
	return s.updateAttachmentField(ctx, id, `transcription = ?`, text)
}

// updateAttachmentField performs a single-row atomic update; concurrent
// writers (automatic enrichment vs manual edits) race here and the last
// write wins.
func (s *sqlxStore) updateAttachmentField(ctx context.Context, id int64, setClause string, args ...any) error {
	if id == 0 {
		return fmt.Errorf("attachment id cannot be zero")
	}

	query := `UPDATE attachments SET ` + setClause + `, updated_at = ? WHERE id = ?`
	args = append(args, time.Now().UTC(), id)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error updating attachment", "attachment_id", id, "error", err)
		return fmt.Errorf("failed to update attachment %d: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *sqlxStore) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	err := s.db.SelectContext(ctx, &users, `
        SELECT id, created_at, updated_at, telegram_user_id, username, first_name, last_name, language_code
        FROM users ORDER BY first_name`)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error listing users", "error", err)
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

func (s *sqlxStore) ListMessages(ctx context.Context, filter MessageFilter) (*MessagePage, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = 25
	} else if filter.Limit > 100 {
		filter.Limit = 100
	}

	whereSQL, args := buildMessageFilter(filter)

	var total int
	countQuery := `SELECT COUNT(m.id) FROM messages m LEFT JOIN users u ON m.user_id = u.id` + whereSQL
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		s.logger.ErrorContext(ctx, "Error counting messages", "error", err)
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}

	page := &MessagePage{
		Messages:    []MessageWithRelations{},
		TotalCount:  total,
		CurrentPage: filter.Page,
	}
	if total == 0 {
		return page, nil
	}
	page.TotalPages = (total + filter.Limit - 1) / filter.Limit

	offset := (filter.Page - 1) * filter.Limit
	query := messageSelect + whereSQL + ` ORDER BY m.timestamp DESC, m.id DESC LIMIT ? OFFSET ?`
	queryArgs := append(append([]any{}, args...), filter.Limit, offset)

	messages, err := s.queryMessagesWithRelations(ctx, query, queryArgs...)
	if err != nil {
		return nil, err
	}
	page.Messages = messages

	return page, nil
}

func (s *sqlxStore) ExportMessages(ctx context.Context, filter MessageFilter) ([]MessageWithRelations, error) {
	whereSQL, args := buildMessageFilter(filter)
	query := messageSelect + whereSQL + ` ORDER BY m.timestamp ASC, m.id ASC`
	return s.queryMessagesWithRelations(ctx, query, args...)
}

const messageSelect = `
    SELECT m.id, m.created_at, m.updated_at, m.telegram_message_id, m.chat_id, m.update_id,
           m.user_id, m.text, m.timestamp, m.raw_json
    FROM messages m LEFT JOIN users u ON m.user_id = u.id`

func buildMessageFilter(filter MessageFilter) (string, []any) {
	var clauses []string
	var args []any

	if filter.TelegramUserID != 0 {
		clauses = append(clauses, `u.telegram_user_id = ?`)
		args = append(args, filter.TelegramUserID)
	}
	if !filter.Since.IsZero() {
		clauses = append(clauses, `m.timestamp >= ?`)
		args = append(args, filter.Since)
	}
	if !filter.Until.IsZero() {
		clauses = append(clauses, `m.timestamp <= ?`)
		args = append(args, filter.Until)
	}

	if len(clauses) == 0 {
		return "", nil
	}

	whereSQL := " WHERE " + clauses[0]
	for _, c := range clauses[1:] {
		whereSQL += " AND " + c
	}
	return whereSQL, args
}

func (s *sqlxStore) queryMessagesWithRelations(ctx context.Context, query string, args ...any) ([]MessageWithRelations, error) {
	var messages []Message
	if err := s.db.SelectContext(ctx, &messages, query, args...); err != nil {
		s.logger.ErrorContext(ctx, "Error listing messages", "error", err)
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	result := make([]MessageWithRelations, 0, len(messages))
	if len(messages) == 0 {
		return result, nil
	}

	messageIDs := make([]int64, 0, len(messages))
	userIDs := make([]int64, 0, len(messages))
	for _, m := range messages {
		messageIDs = append(messageIDs, m.ID)
		userIDs = append(userIDs, m.UserID)
	}

	users, err := s.usersByID(ctx, userIDs)
	if err != nil {
		return nil, err
	}

	media, err := s.attachmentsByMessageID(ctx, messageIDs)
	if err != nil {
		return nil, err
	}

	for _, m := range messages {
		entry := MessageWithRelations{Message: m, Media: media[m.ID]}
		if entry.Media == nil {
			entry.Media = []Attachment{}
		}
		if u, ok := users[m.UserID]; ok {
			user := u
			entry.User = &user
		}
		result = append(result, entry)
	}

	return result, nil
}

func (s *sqlxStore) usersByID(ctx context.Context, ids []int64) (map[int64]User, error) {
	query, args, err := sqlx.In(`
        SELECT id, created_at, updated_at, telegram_user_id, username, first_name, last_name, language_code
        FROM users WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build user lookup query: %w", err)
	}

	var users []User
	if err := s.db.SelectContext(ctx, &users, s.db.Rebind(query), args...); err != nil {
		s.logger.ErrorContext(ctx, "Error loading message senders", "error", err)
		return nil, fmt.Errorf("failed to load message senders: %w", err)
	}

	byID := make(map[int64]User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	return byID, nil
}

func (s *sqlxStore) attachmentsByMessageID(ctx context.Context, messageIDs []int64) (map[int64][]Attachment, error) {
	query, args, err := sqlx.In(attachmentColumns+` FROM attachments WHERE message_id IN (?) ORDER BY id`, messageIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to build attachment lookup query: %w", err)
	}

	var atts []Attachment
	if err := s.db.SelectContext(ctx, &atts, s.db.Rebind(query), args...); err != nil {
		s.logger.ErrorContext(ctx, "Error loading message attachments", "error", err)
		return nil, fmt.Errorf("failed to load message attachments: %w", err)
	}

	byMessage := make(map[int64][]Attachment)
	for _, a := range atts {
		byMessage[a.MessageID] = append(byMessage[a.MessageID], a)
	}
	return byMessage, nil
}

// RunSQLMaintenance executes a VACUUM command on the SQLite database.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")

	// VACUUM must run outside a transaction in SQLite.
	_, err := s.db.ExecContext(ctx, "VACUUM;")

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM operation timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance (VACUUM) timed out: %w", err)

	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)
	}

	s.logger.InfoContext(ctx, "Database maintenance (VACUUM) completed successfully")
	return nil
}

// rollbackUnlessCommitted rolls back tx when the caller did not commit.
// Callers set *tx to nil after a successful commit.
func rollbackUnlessCommitted(ctx context.Context, logger *slog.Logger, tx **sqlx.Tx) {
	if *tx == nil {
		return
	}
	if err := (*tx).Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		logger.WarnContext(ctx, "Error rolling back transaction", "error", err)
	}
}
