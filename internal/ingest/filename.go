package ingest

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// sanitizeFilename reduces a platform-supplied filename to its base name
// with unsafe characters replaced, so it is usable as a storage key
// segment. Returns "" when nothing usable remains.
func sanitizeFilename(name string) string {
	base := path.Base(strings.ReplaceAll(name, `\`, "/"))
	cleaned := unsafeFilenameChars.ReplaceAllString(base, "_")
	cleaned = strings.Trim(cleaned, "._")
	if cleaned == "" || cleaned == "_" {
		return ""
	}
	return cleaned
}

// derivedFilename builds a deterministic name for attachments the
// platform ships without one, from the kind, sender and timestamp plus
// the extension of the platform file path.
func derivedFilename(kind string, telegramUserID int64, ts time.Time, platformPath string) string {
	ext := strings.ToLower(path.Ext(platformPath))
	return fmt.Sprintf("%s_%d_%d%s", kind, telegramUserID, ts.Unix(), ext)
}

// blobKey builds the storage key for one attachment blob. Keys are
// namespaced by sender and message so distinct attachments never
// collide and replays of the same attachment overwrite in place.
func blobKey(telegramUserID, telegramMessageID int64, name string) string {
	return fmt.Sprintf("%d/%d/%s", telegramUserID, telegramMessageID, name)
}
