// Package gemini implements the AI content service used for attachment
// enrichment (audio transcription and image description) and for
// on-demand summaries of archive text.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"tgarchive/internal/config"
)

// Default prompts sent when the caller supplies none.
const (
	DefaultDescribePrompt   = "Describe this image. Be concise and objective."
	DefaultTranscribePrompt = "Transcribe this audio. Only return the transcribed text."
	DefaultSummarizePrompt  = "Summarize the following field notes, messages, descriptions, and transcriptions into a concise report. Group observations by theme or location if possible:"
)

// Client defines the generation operations used by the orchestrator and
// the API endpoints. All return the full derived text or an error; no
// partial results.
type Client interface {
	Describe(ctx context.Context, data []byte, mimeType, prompt string) (string, error)
	Transcribe(ctx context.Context, data []byte, mimeType, prompt string) (string, error)
	Summarize(ctx context.Context, fullText, prompt string) (string, error)
}

type sdkClient struct {
	genaiClient *genai.Client
	log         *slog.Logger
	modelName   string
	temperature float32
	maxRetries  int
	retryDelay  time.Duration
	timeout     time.Duration
}

// NewClient creates a new Gemini client with the provided configuration.
func NewClient(ctx context.Context, cfg config.GeminiConfig, log *slog.Logger) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if log == nil {
		log = slog.Default()
	}

	gi, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	logger := log.With("component", "gemini_client")
	logger.Info("Gemini client initialized successfully", "model", cfg.Model)
	return &sdkClient{
		genaiClient: gi,
		log:         logger,
		modelName:   cfg.Model,
		temperature: cfg.Temperature,
		maxRetries:  cfg.MaxRetries,
		retryDelay:  time.Duration(cfg.RetryDelaySeconds) * time.Second,
		timeout:     cfg.Timeout,
	}, nil
}

// Describe generates a textual description for image bytes.
func (c *sdkClient) Describe(ctx context.Context, data []byte, mimeType, prompt string) (string, error) {
	if prompt == "" {
		prompt = DefaultDescribePrompt
	}
	return c.generateFromMedia(ctx, "describe", data, mimeType, prompt)
}

// Transcribe generates a transcription for audio bytes.
func (c *sdkClient) Transcribe(ctx context.Context, data []byte, mimeType, prompt string) (string, error) {
	if prompt == "" {
		prompt = DefaultTranscribePrompt
	}
	return c.generateFromMedia(ctx, "transcribe", data, mimeType, prompt)
}

// Summarize condenses archive text into a report. The text is framed
// with explicit data markers so the prompt and the content stay
// distinguishable to the model.
func (c *sdkClient) Summarize(ctx context.Context, fullText, prompt string) (string, error) {
	if strings.TrimSpace(fullText) == "" {
		return "", fmt.Errorf("summarize: text is required")
	}
	if prompt == "" {
		prompt = DefaultSummarizePrompt
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	c.log.DebugContext(ctx, "Generating summary", "text_length", len(fullText))

	content := prompt + "\n\n--- DATA START ---\n" + fullText + "\n--- DATA END ---"
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(content),
		}, genai.RoleUser),
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: &c.temperature,
	}

	resp, err := c.generateContentWithRetries(ctx, contents, cfg)
	if err != nil {
		c.log.ErrorContext(ctx, "Gemini summarize call failed", "error", err)
		return "", err
	}

	return c.extractText(ctx, "summarize", resp)
}

func (c *sdkClient) generateFromMedia(ctx context.Context, op string, data []byte, mimeType, prompt string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%s: media bytes are required", op)
	}
	if mimeType == "" {
		return "", fmt.Errorf("%s: media MIME type is required", op)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	c.log.DebugContext(ctx, "Generating enrichment", "operation", op, "size", len(data), "mime_type", mimeType)

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(prompt),
			genai.NewPartFromBytes(data, mimeType),
		}, genai.RoleUser),
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: &c.temperature,
	}

	resp, err := c.generateContentWithRetries(ctx, contents, cfg)
	if err != nil {
		c.log.ErrorContext(ctx, "Gemini enrichment call failed", "operation", op, "error", err)
		return "", err
	}

	return c.extractText(ctx, op, resp)
}

func (c *sdkClient) generateContentWithRetries(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	var resp *genai.GenerateContentResponse
	var err error

	for i := 0; i <= c.maxRetries; i++ {
		resp, err = c.genaiClient.Models.GenerateContent(ctx, c.modelName, contents, cfg)
		if err == nil {
			return resp, nil
		}

		c.log.WarnContext(ctx, "Gemini API call failed, checking for retry",
			"attempt", i+1, "max_retries", c.maxRetries, "error", err)

		var apiErr *genai.APIError
		if errors.As(err, &apiErr) && (apiErr.Code == 500 || apiErr.Code == 503) {
			if i < c.maxRetries {
				c.log.InfoContext(ctx, "Retrying Gemini API call", "delay", c.retryDelay, "code", apiErr.Code)
				select {
				case <-time.After(c.retryDelay):
					continue
				case <-ctx.Done():
					return nil, fmt.Errorf("gemini API call cancelled during retry wait: %w", ctx.Err())
				}
			}
			return nil, fmt.Errorf("gemini API call failed after %d retries (APIError code %d): %w", c.maxRetries, apiErr.Code, err)
		}

		return nil, fmt.Errorf("gemini API call failed: %w", err)
	}

	return nil, err
}

func (c *sdkClient) extractText(ctx context.Context, op string, resp *genai.GenerateContentResponse) (string, error) {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockedReasonUnspecified {
		reasonMsg := fmt.Sprintf("%v", resp.PromptFeedback.BlockReason)
		if resp.PromptFeedback.BlockReasonMessage != "" {
			reasonMsg = resp.PromptFeedback.BlockReasonMessage
		}
		c.log.ErrorContext(ctx, "Gemini request blocked", "operation", op, "reason", reasonMsg)
		return "", fmt.Errorf("%s blocked by safety filter: %s", op, reasonMsg)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		finishReason := "unknown"
		if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != genai.FinishReasonUnspecified {
			finishReason = fmt.Sprintf("%v", resp.Candidates[0].FinishReason)
		}
		c.log.WarnContext(ctx, "Gemini response missing candidates or content", "operation", op, "finish_reason", finishReason)
		return "", fmt.Errorf("%s returned no content, finish reason: %s", op, finishReason)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("%s returned empty text", op)
	}

	return text, nil
}
