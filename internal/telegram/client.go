// Package telegram wraps the Telegram Bot API for the archiver: paging
// through the update stream and resolving file download URLs.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

const defaultAPIEndpoint = "https://api.telegram.org"

// ErrFetchFailed marks upstream API failures during an update fetch.
// A batch fetched before the failure is discarded; the cursor has not
// advanced, so the next run retries safely.
var ErrFetchFailed = errors.New("telegram: update fetch failed")

// UpdateSource supplies updates strictly newer than a cursor, in
// ascending update id order.
type UpdateSource interface {
	FetchSince(ctx context.Context, cursor int64) ([]*models.Update, error)
}

// FileResolver resolves a platform file reference to a direct download
// URL plus the platform-side file path (whose extension is the only
// hint at the blob's format for kinds without a filename).
type FileResolver interface {
	ResolveFile(ctx context.Context, fileID string) (url, filePath string, err error)
}

// Client wraps the Bot API for pull-based archiving. The library client
// handles getFile; getUpdates is called over HTTP directly because the
// library only drives it internally through its own handler loop.
type Client struct {
	bot         *bot.Bot
	httpClient  *http.Client
	token       string
	apiURL      string
	log         *slog.Logger
	pageLimit   int
	pollTimeout int // seconds, passed to getUpdates long-poll
}

// Option customizes a Client.
type Option func(*Client)

// WithEndpoint overrides the Bot API base URL, mainly for tests.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		c.apiURL = strings.TrimRight(endpoint, "/")
	}
}

// WithHTTPClient overrides the HTTP client used for getUpdates calls.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Telegram client for the given bot token.
func NewClient(token string, pageLimit, pollTimeoutSeconds int, logger *slog.Logger, opts ...Option) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if pageLimit <= 0 || pageLimit > 100 {
		pageLimit = 100
	}
	if pollTimeoutSeconds < 0 {
		pollTimeoutSeconds = 0
	}

	// The default handler is never invoked: updates are pulled
	// explicitly via FetchSince rather than through bot.Start.
	b, err := bot.New(token, bot.WithSkipGetMe(), bot.WithDefaultHandler(func(context.Context, *bot.Bot, *models.Update) {}))
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	c := &Client{
		bot:   b,
		token: token,
		// The HTTP timeout must outlast the long-poll window.
		httpClient:  &http.Client{Timeout: time.Duration(pollTimeoutSeconds+30) * time.Second},
		apiURL:      defaultAPIEndpoint,
		log:         logger.With("component", "telegram_client"),
		pageLimit:   pageLimit,
		pollTimeout: pollTimeoutSeconds,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchSince pages through getUpdates until the stream is drained,
// returning all updates with id strictly greater than cursor in
// ascending order. On any page failure the whole batch is discarded.
func (c *Client) FetchSince(ctx context.Context, cursor int64) ([]*models.Update, error) {
	var all []*models.Update
	offset := cursor + 1

	for {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrFetchFailed, ctx.Err())
		}

		page, err := c.getUpdatesPage(ctx, offset)
		if err != nil {
			c.log.ErrorContext(ctx, "getUpdates call failed", "offset", offset, "error", err)
			return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
		}

		for _, upd := range page {
			if upd == nil || upd.ID <= cursor {
				continue
			}
			all = append(all, upd)
			if upd.ID >= offset {
				offset = upd.ID + 1
			}
		}

		c.log.DebugContext(ctx, "Fetched update page", "page_size", len(page), "next_offset", offset)

		if len(page) < c.pageLimit {
			break
		}
	}

	// The API delivers pages in order already; sorting keeps the
	// strictly-ascending contract even if it ever does not.
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	c.log.InfoContext(ctx, "Fetched updates", "cursor", cursor, "count", len(all))
	return all, nil
}

// getUpdatesResponse is the Bot API envelope around a getUpdates result.
type getUpdatesResponse struct {
	OK          bool             `json:"ok"`
	Result      []*models.Update `json:"result"`
	ErrorCode   int              `json:"error_code"`
	Description string           `json:"description"`
}

// getUpdatesPage calls the getUpdates method directly over HTTP. The
// library client keeps this method internal to its own polling loop, so
// cursor-controlled paging has to hit the endpoint itself.
func (c *Client) getUpdatesPage(ctx context.Context, offset int64) ([]*models.Update, error) {
	q := url.Values{}
	q.Set("offset", strconv.FormatInt(offset, 10))
	q.Set("limit", strconv.Itoa(c.pageLimit))
	q.Set("timeout", strconv.Itoa(c.pollTimeout))

	endpoint := fmt.Sprintf("%s/bot%s/getUpdates?%s", c.apiURL, c.token, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build getUpdates request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("getUpdates request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.log.WarnContext(ctx, "Failed to close getUpdates response body", "error", closeErr)
		}
	}()

	var envelope getUpdatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to decode getUpdates response (status %d): %w", resp.StatusCode, err)
	}
	if !envelope.OK {
		return nil, fmt.Errorf("getUpdates returned error %d: %s", envelope.ErrorCode, envelope.Description)
	}

	return envelope.Result, nil
}

// ResolveFile resolves a direct download URL and the platform file
// path for a platform file id.
func (c *Client) ResolveFile(ctx context.Context, fileID string) (string, string, error) {
	if fileID == "" {
		return "", "", fmt.Errorf("empty file id")
	}

	fileObj, err := c.bot.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		return "", "", fmt.Errorf("failed to get file %s: %w", fileID, err)
	}
	if fileObj.FilePath == "" {
		return "", "", fmt.Errorf("empty file path returned for file %s", fileID)
	}

	downloadURL := fmt.Sprintf("%s/file/bot%s/%s", c.apiURL, c.token, fileObj.FilePath)
	return downloadURL, fileObj.FilePath, nil
}
