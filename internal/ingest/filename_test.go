package ingest

import (
	"testing"
	"time"

	"tgarchive/internal/database"
)

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "plain name", input: "song.mp3", want: "song.mp3"},
		{name: "spaces replaced", input: "my holiday photo.jpg", want: "my_holiday_photo.jpg"},
		{name: "path stripped", input: "/etc/passwd", want: "passwd"},
		{name: "windows path stripped", input: `C:\temp\doc.pdf`, want: "doc.pdf"},
		{name: "traversal neutralized", input: "../../secret.txt", want: "secret.txt"},
		{name: "unicode replaced", input: "фото.jpg", want: "jpg"},
		{name: "empty", input: "", want: ""},
		{name: "only unsafe chars", input: "???", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := sanitizeFilename(tt.input); got != tt.want {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestDerivedFilename(t *testing.T) {
	t.Parallel()

	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	got := derivedFilename(database.KindVoice, 42, ts, "voice/file_123.oga")
	want := "voice_42_1735689600.oga"
	if got != want {
		t.Errorf("derivedFilename = %q, want %q", got, want)
	}

	// No extension on the platform path still yields a usable name.
	got = derivedFilename(database.KindPhoto, 42, ts, "photos/file_9")
	want = "photo_42_1735689600"
	if got != want {
		t.Errorf("derivedFilename = %q, want %q", got, want)
	}
}

func TestBlobKey(t *testing.T) {
	t.Parallel()

	if got, want := blobKey(42, 7, "song.mp3"), "42/7/song.mp3"; got != want {
		t.Errorf("blobKey = %q, want %q", got, want)
	}
}
