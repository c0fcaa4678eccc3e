// Package ingest implements the ingestion pipeline: normalizing raw
// updates into archive records, materializing attachment blobs, and
// driving the fetch-persist-commit cycle against the update cursor.
package ingest

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-telegram/bot/models"

	"tgarchive/internal/database"
)

// ErrSkippedUpdate marks updates whose payload shape the normalizer
// does not recognize. Such updates are logged and skipped; they never
// abort the batch and are not retried.
var ErrSkippedUpdate = errors.New("ingest: unsupported update shape")

// Record is the normalized form of one update: the sender, the message,
// and any attachments carried by it.
type Record struct {
	Sender      database.User
	Message     database.Message
	Attachments []database.Attachment
}

// Normalize maps a raw update into a Record. It is pure: no I/O, no
// mutation of the input. Attachment kinds are dispatched
// highest-specificity first, so video notes and voice messages keep
// their own kinds instead of collapsing into video/audio.
func Normalize(upd *models.Update) (*Record, error) {
	if upd == nil {
		return nil, fmt.Errorf("%w: nil update", ErrSkippedUpdate)
	}

	msg := upd.Message
	if msg == nil {
		msg = upd.EditedMessage
	}
	if msg == nil {
		return nil, fmt.Errorf("%w: update %d carries no message", ErrSkippedUpdate, upd.ID)
	}
	if msg.From == nil {
		return nil, fmt.Errorf("%w: update %d has no sender", ErrSkippedUpdate, upd.ID)
	}

	rec := &Record{
		Sender: database.User{
			TelegramUserID: msg.From.ID,
			Username:       msg.From.Username,
			FirstName:      msg.From.FirstName,
			LastName:       msg.From.LastName,
			LanguageCode:   msg.From.LanguageCode,
		},
		Message: database.Message{
			TelegramMessageID: int64(msg.ID),
			ChatID:            msg.Chat.ID,
			UpdateID:          upd.ID,
			Text:              messageText(msg),
			Timestamp:         messageTimestamp(msg),
		},
	}

	if raw, err := json.Marshal(upd); err == nil {
		rec.Message.RawJSON = string(raw)
	}

	rec.Attachments = extractAttachments(msg)

	if rec.Message.Text == "" && len(rec.Attachments) == 0 {
		return nil, fmt.Errorf("%w: update %d has no archivable content", ErrSkippedUpdate, upd.ID)
	}

	return rec, nil
}

// messageText returns the free-text body: the message text, or the
// caption when the update is a captioned media message.
func messageText(msg *models.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	return msg.Caption
}

// messageTimestamp returns the platform timestamp, falling back to
// ingestion time when the platform supplied none.
func messageTimestamp(msg *models.Message) time.Time {
	if msg.Date > 0 {
		return time.Unix(int64(msg.Date), 0).UTC()
	}
	return time.Now().UTC()
}

func extractAttachments(msg *models.Message) []database.Attachment {
	var atts []database.Attachment

	// Video notes and voice messages come first: they have dedicated
	// payload fields and must not be folded into video/audio.
	if msg.VideoNote != nil {
		atts = append(atts, database.Attachment{
			Kind:     database.KindVideoNote,
			FileID:   msg.VideoNote.FileID,
			MimeType: "video/mp4",
			FileSize: int64(msg.VideoNote.FileSize),
		})
	}

	if msg.Voice != nil {
		atts = append(atts, database.Attachment{
			Kind:     database.KindVoice,
			FileID:   msg.Voice.FileID,
			MimeType: msg.Voice.MimeType,
			FileSize: int64(msg.Voice.FileSize),
		})
	}

	if len(msg.Photo) > 0 {
		best := bestPhoto(msg.Photo)
		atts = append(atts, database.Attachment{
			Kind:     database.KindPhoto,
			FileID:   best.FileID,
			MimeType: "image/jpeg",
			FileSize: int64(best.FileSize),
		})
	}

	if msg.Audio != nil {
		atts = append(atts, database.Attachment{
			Kind:     database.KindAudio,
			FileID:   msg.Audio.FileID,
			FileName: sanitizeFilename(msg.Audio.FileName),
			MimeType: msg.Audio.MimeType,
			FileSize: int64(msg.Audio.FileSize),
		})
	}

	if msg.Video != nil {
		atts = append(atts, database.Attachment{
			Kind:     database.KindVideo,
			FileID:   msg.Video.FileID,
			FileName: sanitizeFilename(msg.Video.FileName),
			MimeType: msg.Video.MimeType,
			FileSize: int64(msg.Video.FileSize),
		})
	}

	if msg.Document != nil {
		atts = append(atts, database.Attachment{
			Kind:     database.KindDocument,
			FileID:   msg.Document.FileID,
			FileName: sanitizeFilename(msg.Document.FileName),
			MimeType: msg.Document.MimeType,
			FileSize: int64(msg.Document.FileSize),
		})
	}

	if msg.Sticker != nil {
		atts = append(atts, database.Attachment{
			Kind:     database.KindSticker,
			FileID:   msg.Sticker.FileID,
			MimeType: "image/webp",
			FileSize: int64(msg.Sticker.FileSize),
		})
	}

	if msg.Location != nil {
		atts = append(atts, database.Attachment{
			Kind:      database.KindLocation,
			Latitude:  sql.NullFloat64{Float64: msg.Location.Latitude, Valid: true},
			Longitude: sql.NullFloat64{Float64: msg.Location.Longitude, Valid: true},
		})
	}

	return atts
}

// bestPhoto picks the largest size variant of a photo.
func bestPhoto(sizes []models.PhotoSize) models.PhotoSize {
	best := sizes[0]
	for _, s := range sizes[1:] {
		if s.Width*s.Height > best.Width*best.Height {
			best = s
		}
	}
	return best
}
