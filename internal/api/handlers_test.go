package api_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tgarchive/internal/api"
	"tgarchive/internal/blobstore"
	"tgarchive/internal/database"
)

type stubStore struct {
	database.Store

	users    []database.User
	page     *database.MessagePage
	att      *database.Attachment
	setField map[string]string
}

func (s *stubStore) Ping(context.Context) error { return nil }

func (s *stubStore) ListUsers(context.Context) ([]database.User, error) {
	return s.users, nil
}

func (s *stubStore) ListMessages(_ context.Context, filter database.MessageFilter) (*database.MessagePage, error) {
	if s.page != nil {
		return s.page, nil
	}
	return &database.MessagePage{Messages: []database.MessageWithRelations{}, CurrentPage: filter.Page}, nil
}

func (s *stubStore) GetAttachment(_ context.Context, id int64) (*database.Attachment, error) {
	if s.att == nil || s.att.ID != id {
		return nil, database.ErrNotFound
	}
	clone := *s.att
	return &clone, nil
}

func (s *stubStore) SetAttachmentDescription(_ context.Context, id int64, text string) error {
	if s.att == nil || s.att.ID != id {
		return database.ErrNotFound
	}
	s.setField["description"] = text
	return nil
}

func (s *stubStore) SetAttachmentTranscription(_ context.Context, id int64, text string) error {
	if s.att == nil || s.att.ID != id {
		return database.ErrNotFound
	}
	s.setField["transcription"] = text
	return nil
}

func newTestServer(t *testing.T, store *stubStore) http.Handler {
	t.Helper()

	if store.setField == nil {
		store.setField = make(map[string]string)
	}

	blobs, err := blobstore.NewFileStore(afero.NewMemMapFs(), "blobs", "http://localhost:8080", nil)
	require.NoError(t, err)

	_, err = blobs.Put(context.Background(), "42/7/photo.jpg", strings.NewReader("jpegbytes"))
	require.NoError(t, err)

	srv := api.NewServer(":0", store, blobs, nil, nil, nil, nil)
	return srv.Handler()
}

// fakeAI echoes canned text for every generation operation.
type fakeAI struct {
	summary string
}

func (f *fakeAI) Describe(context.Context, []byte, string, string) (string, error) {
	return "", nil
}

func (f *fakeAI) Transcribe(context.Context, []byte, string, string) (string, error) {
	return "", nil
}

func (f *fakeAI) Summarize(_ context.Context, fullText, _ string) (string, error) {
	if fullText == "" {
		return "", nil
	}
	return f.summary, nil
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	handler := newTestServer(t, &stubStore{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestListUsers(t *testing.T) {
	t.Parallel()

	handler := newTestServer(t, &stubStore{users: []database.User{
		{ID: 1, TelegramUserID: 42, Username: "alice"},
	}})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"alice"`)
}

func TestListMessages_BadFilters(t *testing.T) {
	t.Parallel()

	handler := newTestServer(t, &stubStore{})

	tests := []struct {
		name string
		url  string
	}{
		{name: "bad user id", url: "/messages?telegram_user_id=abc"},
		{name: "bad start date", url: "/messages?start_date=yesterday"},
		{name: "bad page", url: "/messages?page=0"},
		{name: "bad limit", url: "/messages?limit=-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.url, nil))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestServeBlob(t *testing.T) {
	t.Parallel()

	handler := newTestServer(t, &stubStore{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/blobs/42/7/photo.jpg", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, "jpegbytes", string(body))
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/blobs/42/7/missing.jpg", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMediaURL(t *testing.T) {
	t.Parallel()

	handler := newTestServer(t, &stubStore{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/media-url?key=42/7/photo.jpg", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http://localhost:8080/blobs/42/7/photo.jpg")

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/media-url", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetDescription(t *testing.T) {
	t.Parallel()

	store := &stubStore{att: &database.Attachment{ID: 5, Kind: database.KindPhoto}}
	handler := newTestServer(t, store)

	req := httptest.NewRequest(http.MethodPut, "/media/5/description", strings.NewReader(`{"text":"a sunset"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a sunset", store.setField["description"])
}

func TestSetDescription_Errors(t *testing.T) {
	t.Parallel()

	store := &stubStore{att: &database.Attachment{ID: 5, Kind: database.KindPhoto}}
	handler := newTestServer(t, store)

	tests := []struct {
		name     string
		target   string
		body     string
		wantCode int
	}{
		{name: "missing text", target: "/media/5/description", body: `{}`, wantCode: http.StatusBadRequest},
		{name: "bad id", target: "/media/abc/description", body: `{"text":"x"}`, wantCode: http.StatusBadRequest},
		{name: "unknown attachment", target: "/media/9/description", body: `{"text":"x"}`, wantCode: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodPut, tt.target, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestGenerate_WithoutEnricher(t *testing.T) {
	t.Parallel()

	handler := newTestServer(t, &stubStore{att: &database.Attachment{ID: 5, Kind: database.KindPhoto}})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/media/5/generate-description", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	blobs, err := blobstore.NewFileStore(afero.NewMemMapFs(), "blobs", "http://localhost:8080", nil)
	require.NoError(t, err)
	srv := api.NewServer(":0", &stubStore{}, blobs, nil, nil, &fakeAI{summary: "three voice notes about the harbor"}, nil)
	handler := srv.Handler()

	req := httptest.NewRequest(http.MethodPost, "/summarize", strings.NewReader(`{"full_text":"[2025-01-01] voice: harbor"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "three voice notes about the harbor")

	req = httptest.NewRequest(http.MethodPost, "/summarize", strings.NewReader(`{"prompt":"shorter"}`))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSummarize_WithoutAIClient(t *testing.T) {
	t.Parallel()

	handler := newTestServer(t, &stubStore{})

	req := httptest.NewRequest(http.MethodPost, "/summarize", strings.NewReader(`{"full_text":"notes"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestTriggerRun_WithoutCoordinator(t *testing.T) {
	t.Parallel()

	handler := newTestServer(t, &stubStore{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/runs", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
