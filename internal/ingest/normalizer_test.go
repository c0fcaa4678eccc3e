package ingest_test

import (
	"errors"
	"testing"
	"time"

	"github.com/go-telegram/bot/models"

	"tgarchive/internal/database"
	"tgarchive/internal/ingest"
)

func textUpdate(id int64, msgID int, text string) *models.Update {
	return &models.Update{
		ID: id,
		Message: &models.Message{
			ID:   msgID,
			Date: 1735689600, // 2025-01-01T00:00:00Z
			From: &models.User{ID: 42, Username: "alice", FirstName: "Alice"},
			Chat: models.Chat{ID: 42},
			Text: text,
		},
	}
}

func TestNormalize_TextMessage(t *testing.T) {
	t.Parallel()

	rec, err := ingest.Normalize(textUpdate(101, 7, "hello"))
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}

	if rec.Sender.TelegramUserID != 42 || rec.Sender.Username != "alice" {
		t.Errorf("unexpected sender: %+v", rec.Sender)
	}
	if rec.Message.TelegramMessageID != 7 || rec.Message.ChatID != 42 || rec.Message.UpdateID != 101 {
		t.Errorf("unexpected message identifiers: %+v", rec.Message)
	}
	if rec.Message.Text != "hello" {
		t.Errorf("text = %q, want %q", rec.Message.Text, "hello")
	}
	want := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if !rec.Message.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", rec.Message.Timestamp, want)
	}
	if len(rec.Attachments) != 0 {
		t.Errorf("expected no attachments, got %d", len(rec.Attachments))
	}
	if rec.Message.RawJSON == "" {
		t.Error("expected raw payload to be retained")
	}
}

func TestNormalize_AttachmentKinds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		mutate   func(*models.Message)
		wantKind string
		wantFile string
		wantMime string
	}{
		{
			name: "photo picks largest size",
			mutate: func(m *models.Message) {
				m.Photo = []models.PhotoSize{
					{FileID: "small", Width: 90, Height: 90},
					{FileID: "large", Width: 1280, Height: 960},
					{FileID: "medium", Width: 320, Height: 240},
				}
			},
			wantKind: database.KindPhoto,
			wantFile: "large",
			wantMime: "image/jpeg",
		},
		{
			name: "voice keeps its own kind",
			mutate: func(m *models.Message) {
				m.Voice = &models.Voice{FileID: "v1", MimeType: "audio/ogg", Duration: 3}
			},
			wantKind: database.KindVoice,
			wantFile: "v1",
			wantMime: "audio/ogg",
		},
		{
			name: "video note keeps its own kind",
			mutate: func(m *models.Message) {
				m.VideoNote = &models.VideoNote{FileID: "vn1", Duration: 5}
			},
			wantKind: database.KindVideoNote,
			wantFile: "vn1",
			wantMime: "video/mp4",
		},
		{
			name: "audio file",
			mutate: func(m *models.Message) {
				m.Audio = &models.Audio{FileID: "a1", FileName: "song.mp3", MimeType: "audio/mpeg"}
			},
			wantKind: database.KindAudio,
			wantFile: "a1",
			wantMime: "audio/mpeg",
		},
		{
			name: "document",
			mutate: func(m *models.Message) {
				m.Document = &models.Document{FileID: "d1", FileName: "notes.pdf", MimeType: "application/pdf"}
			},
			wantKind: database.KindDocument,
			wantFile: "d1",
			wantMime: "application/pdf",
		},
		{
			name: "sticker",
			mutate: func(m *models.Message) {
				m.Sticker = &models.Sticker{FileID: "s1"}
			},
			wantKind: database.KindSticker,
			wantFile: "s1",
			wantMime: "image/webp",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			upd := textUpdate(1, 1, "")
			tt.mutate(upd.Message)

			rec, err := ingest.Normalize(upd)
			if err != nil {
				t.Fatalf("Normalize returned error: %v", err)
			}
			if len(rec.Attachments) != 1 {
				t.Fatalf("expected 1 attachment, got %d", len(rec.Attachments))
			}

			att := rec.Attachments[0]
			if att.Kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", att.Kind, tt.wantKind)
			}
			if att.FileID != tt.wantFile {
				t.Errorf("file id = %q, want %q", att.FileID, tt.wantFile)
			}
			if att.MimeType != tt.wantMime {
				t.Errorf("mime type = %q, want %q", att.MimeType, tt.wantMime)
			}
		})
	}
}

func TestNormalize_CaptionBecomesText(t *testing.T) {
	t.Parallel()

	upd := textUpdate(1, 1, "")
	upd.Message.Caption = "vacation photo"
	upd.Message.Photo = []models.PhotoSize{{FileID: "p1", Width: 100, Height: 100}}

	rec, err := ingest.Normalize(upd)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if rec.Message.Text != "vacation photo" {
		t.Errorf("text = %q, want caption", rec.Message.Text)
	}
}

func TestNormalize_Location(t *testing.T) {
	t.Parallel()

	upd := textUpdate(1, 1, "")
	upd.Message.Location = &models.Location{Latitude: 52.52, Longitude: 13.405}

	rec, err := ingest.Normalize(upd)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if len(rec.Attachments) != 1 {
		t.Fatalf("expected 1 attachment, got %d", len(rec.Attachments))
	}

	att := rec.Attachments[0]
	if att.Kind != database.KindLocation {
		t.Errorf("kind = %q, want %q", att.Kind, database.KindLocation)
	}
	if att.FileID != "" {
		t.Errorf("location must not carry a file id, got %q", att.FileID)
	}
	if att.NeedsDownload() {
		t.Error("location attachment must never need a download")
	}
	if !att.Latitude.Valid || att.Latitude.Float64 != 52.52 {
		t.Errorf("latitude = %+v, want 52.52", att.Latitude)
	}
	if !att.Longitude.Valid || att.Longitude.Float64 != 13.405 {
		t.Errorf("longitude = %+v, want 13.405", att.Longitude)
	}
}

func TestNormalize_SkippedShapes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		upd  *models.Update
	}{
		{name: "nil update", upd: nil},
		{name: "no message", upd: &models.Update{ID: 1}},
		{
			name: "no sender",
			upd: &models.Update{ID: 1, Message: &models.Message{
				ID: 1, Date: 1735689600, Chat: models.Chat{ID: 1}, Text: "x",
			}},
		},
		{name: "no archivable content", upd: textUpdate(1, 1, "")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := ingest.Normalize(tt.upd)
			if !errors.Is(err, ingest.ErrSkippedUpdate) {
				t.Errorf("error = %v, want ErrSkippedUpdate", err)
			}
		})
	}
}

func TestNormalize_EditedMessageFallback(t *testing.T) {
	t.Parallel()

	upd := &models.Update{
		ID: 5,
		EditedMessage: &models.Message{
			ID:   9,
			Date: 1735689600,
			From: &models.User{ID: 42},
			Chat: models.Chat{ID: 42},
			Text: "edited",
		},
	}

	rec, err := ingest.Normalize(upd)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if rec.Message.Text != "edited" || rec.Message.TelegramMessageID != 9 {
		t.Errorf("unexpected record from edited message: %+v", rec.Message)
	}
}
