package database

import (
	"database/sql"
	"time"
)

// Attachment kinds recognized by the normalizer and enrichment policy.
const (
	KindPhoto     = "photo"
	KindVideo     = "video"
	KindVoice     = "voice"
	KindAudio     = "audio"
	KindVideoNote = "video_note"
	KindDocument  = "document"
	KindLocation  = "location"
	KindSticker   = "sticker"
)

// User represents a message sender, created on first sighting and
// looked up by Telegram user id on subsequent updates.
type User struct {
	ID        int64     `db:"id"         json:"id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`

	TelegramUserID int64  `db:"telegram_user_id" json:"telegram_user_id"`
	Username       string `db:"username"         json:"username"`
	FirstName      string `db:"first_name"       json:"first_name"`
	LastName       string `db:"last_name"        json:"last_name"`
	LanguageCode   string `db:"language_code"    json:"language_code"`
}

// Message represents one normalized chat item. The raw update payload
// is retained verbatim for forward compatibility.
type Message struct {
	ID        int64     `db:"id"         json:"id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`

	TelegramMessageID int64     `db:"telegram_message_id" json:"telegram_message_id"`
	ChatID            int64     `db:"chat_id"             json:"chat_id"`
	UpdateID          int64     `db:"update_id"           json:"update_id"`
	UserID            int64     `db:"user_id"             json:"user_id"`
	Text              string    `db:"text"                json:"text"`
	Timestamp         time.Time `db:"timestamp"           json:"timestamp"`
	RawJSON           string    `db:"raw_json"            json:"-"`
}

// Attachment represents binary or structured content tied to a Message.
// StorageKey stays empty until the blob download completes; location
// attachments carry coordinates instead and are never downloaded.
// Transcription and Description are set by enrichment or manual edits.
type Attachment struct {
	ID        int64     `db:"id"         json:"id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`

	MessageID     int64           `db:"message_id"    json:"message_id"`
	Kind          string          `db:"kind"          json:"kind"`
	FileID        string          `db:"file_id"       json:"file_id"`
	StorageKey    string          `db:"storage_key"   json:"storage_key"`
	FileName      string          `db:"file_name"     json:"file_name"`
	MimeType      string          `db:"mime_type"     json:"mime_type"`
	FileSize      int64           `db:"file_size"     json:"file_size"`
	Transcription string          `db:"transcription" json:"transcription"`
	Description   string          `db:"description"   json:"description"`
	Latitude      sql.NullFloat64 `db:"latitude"      json:"latitude"`
	Longitude     sql.NullFloat64 `db:"longitude"     json:"longitude"`
}

// NeedsDownload reports whether the attachment references a platform
// file that has not yet been materialized in the content store.
func (a *Attachment) NeedsDownload() bool {
	return a.FileID != "" && a.StorageKey == ""
}

// EnrichmentField returns the enrichment field targeted by the
// attachment's kind, or "" when the kind is not enrichable.
func (a *Attachment) EnrichmentField() string {
	switch a.Kind {
	case KindPhoto, KindSticker:
		return "description"
	case KindAudio, KindVoice:
		return "transcription"
	default:
		return ""
	}
}

// EnrichmentValue returns the current value of the attachment's target
// enrichment field.
func (a *Attachment) EnrichmentValue() string {
	switch a.EnrichmentField() {
	case "description":
		return a.Description
	case "transcription":
		return a.Transcription
	default:
		return ""
	}
}

// PendingBlob is an attachment joined with the platform identifiers of
// its message and sender, which together determine the blob storage key.
type PendingBlob struct {
	Attachment
	TelegramUserID    int64     `db:"telegram_user_id"    json:"telegram_user_id"`
	TelegramMessageID int64     `db:"telegram_message_id" json:"telegram_message_id"`
	MessageTimestamp  time.Time `db:"message_timestamp"   json:"message_timestamp"`
}

// MessageWithRelations is a Message joined with its sender and media,
// as served by the query API.
type MessageWithRelations struct {
	Message
	User  *User        `json:"user"`
	Media []Attachment `json:"media"`
}

// MessageFilter narrows message listings.
type MessageFilter struct {
	TelegramUserID int64
	Since          time.Time
	Until          time.Time
	Page           int
	Limit          int
}

// MessagePage is one page of a filtered message listing.
type MessagePage struct {
	Messages    []MessageWithRelations `json:"messages"`
	TotalCount  int                    `json:"total_count"`
	TotalPages  int                    `json:"total_pages"`
	CurrentPage int                    `json:"current_page"`
}
