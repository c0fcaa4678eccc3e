package telegram_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"tgarchive/internal/telegram"
)

const testToken = "123:abc"

// updateStub is the wire shape of one getUpdates result entry.
type updateStub struct {
	UpdateID int64 `json:"update_id"`
}

// stubBotAPI serves getUpdates pages from a fixed update id list,
// recording the offsets it was asked for.
type stubBotAPI struct {
	mu           sync.Mutex
	updateIDs    []int64
	offsets      []int64
	failCall     int // 1-based call number that returns HTTP 500, 0 = never
	notOK        bool
	ignoreOffset bool // serve entries below the requested offset too
	calls        int
}

func (s *stubBotAPI) handler(t *testing.T) http.HandlerFunc {
	t.Helper()

	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bot"+testToken+"/getUpdates" {
			t.Errorf("unexpected request path %q", r.URL.Path)
			http.NotFound(w, r)
			return
		}

		offset, err := strconv.ParseInt(r.URL.Query().Get("offset"), 10, 64)
		if err != nil {
			t.Errorf("missing or invalid offset: %v", err)
		}
		limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
		if err != nil || limit <= 0 {
			t.Errorf("missing or invalid limit: %v", err)
		}

		s.mu.Lock()
		s.calls++
		call := s.calls
		s.offsets = append(s.offsets, offset)
		var page []updateStub
		for _, id := range s.updateIDs {
			if (s.ignoreOffset || id >= offset) && len(page) < limit {
				page = append(page, updateStub{UpdateID: id})
			}
		}
		failNow := s.failCall != 0 && call == s.failCall
		notOK := s.notOK
		s.mu.Unlock()

		if failNow {
			http.Error(w, `{"ok":false,"error_code":500,"description":"boom"}`, http.StatusInternalServerError)
			return
		}
		if notOK {
			w.WriteHeader(http.StatusConflict)
			fmt.Fprint(w, `{"ok":false,"error_code":409,"description":"terminated by other getUpdates request"}`)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": page}); err != nil {
			t.Errorf("failed to encode response: %v", err)
		}
	}
}

func newStubClient(t *testing.T, stub *stubBotAPI, pageLimit int) *telegram.Client {
	t.Helper()

	srv := httptest.NewServer(stub.handler(t))
	t.Cleanup(srv.Close)

	client, err := telegram.NewClient(testToken, pageLimit, 0, nil,
		telegram.WithEndpoint(srv.URL), telegram.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	return client
}

func TestFetchSince_PagesUntilShortPage(t *testing.T) {
	t.Parallel()

	stub := &stubBotAPI{updateIDs: []int64{101, 102, 103, 104, 105}}
	client := newStubClient(t, stub, 2)

	updates, err := client.FetchSince(context.Background(), 100)
	if err != nil {
		t.Fatalf("FetchSince returned error: %v", err)
	}

	if len(updates) != 5 {
		t.Fatalf("got %d updates, want 5", len(updates))
	}
	for i, upd := range updates {
		if want := int64(101 + i); upd.ID != want {
			t.Errorf("updates[%d].ID = %d, want %d (ascending order)", i, upd.ID, want)
		}
	}

	stub.mu.Lock()
	defer stub.mu.Unlock()
	wantOffsets := []int64{101, 103, 105}
	if len(stub.offsets) != len(wantOffsets) {
		t.Fatalf("offsets requested = %v, want %v", stub.offsets, wantOffsets)
	}
	for i, want := range wantOffsets {
		if stub.offsets[i] != want {
			t.Errorf("offset[%d] = %d, want %d", i, stub.offsets[i], want)
		}
	}
}

func TestFetchSince_FiltersUpdatesAtOrBelowCursor(t *testing.T) {
	t.Parallel()

	// Stale entries at and below the cursor sneak into the first page,
	// and the page arrives out of order.
	stub := &stubBotAPI{updateIDs: []int64{102, 99, 101, 100}, ignoreOffset: true}
	client := newStubClient(t, stub, 100)

	updates, err := client.FetchSince(context.Background(), 100)
	if err != nil {
		t.Fatalf("FetchSince returned error: %v", err)
	}

	if len(updates) != 2 {
		t.Fatalf("got %d updates, want 2", len(updates))
	}
	for i, upd := range updates {
		if upd.ID <= 100 {
			t.Errorf("update %d at or below the cursor must be filtered", upd.ID)
		}
		if want := int64(101 + i); upd.ID != want {
			t.Errorf("updates[%d].ID = %d, want %d (ascending order)", i, upd.ID, want)
		}
	}
}

func TestFetchSince_EmptyStream(t *testing.T) {
	t.Parallel()

	stub := &stubBotAPI{}
	client := newStubClient(t, stub, 100)

	updates, err := client.FetchSince(context.Background(), 100)
	if err != nil {
		t.Fatalf("FetchSince returned error: %v", err)
	}
	if len(updates) != 0 {
		t.Errorf("got %d updates, want 0", len(updates))
	}
}

func TestFetchSince_PageFailureDiscardsWholeBatch(t *testing.T) {
	t.Parallel()

	// First page fills the limit, second call blows up.
	stub := &stubBotAPI{updateIDs: []int64{101, 102, 103}, failCall: 2}
	client := newStubClient(t, stub, 2)

	updates, err := client.FetchSince(context.Background(), 100)
	if !errors.Is(err, telegram.ErrFetchFailed) {
		t.Fatalf("error = %v, want ErrFetchFailed", err)
	}
	if updates != nil {
		t.Errorf("got %d updates, the partial batch must be discarded", len(updates))
	}
}

func TestFetchSince_APIErrorResponse(t *testing.T) {
	t.Parallel()

	stub := &stubBotAPI{updateIDs: []int64{101}, notOK: true}
	client := newStubClient(t, stub, 100)

	_, err := client.FetchSince(context.Background(), 100)
	if !errors.Is(err, telegram.ErrFetchFailed) {
		t.Fatalf("error = %v, want ErrFetchFailed", err)
	}
}

func TestFetchSince_CancelledContext(t *testing.T) {
	t.Parallel()

	stub := &stubBotAPI{updateIDs: []int64{101}}
	client := newStubClient(t, stub, 100)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.FetchSince(ctx, 100)
	if !errors.Is(err, telegram.ErrFetchFailed) {
		t.Fatalf("error = %v, want ErrFetchFailed", err)
	}
}
