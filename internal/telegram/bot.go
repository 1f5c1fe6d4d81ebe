package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"securo/internal/pipeline"
)

// DefaultAPIBase is the public Telegram Bot API endpoint
const DefaultAPIBase = "https://api.telegram.org"

var (
	// ErrDisabled is returned when sending through a disabled bot
	ErrDisabled = errors.New("telegram bot is disabled")
	// ErrNotConfigured is returned when the token or chat ID is missing
	ErrNotConfigured = errors.New("telegram bot token or chat ID not configured")
)

// Bot sends alerts and replies through the Telegram Bot API
type Bot struct {
	mu         sync.RWMutex
	botToken   string
	chatID     string
	enabled    bool
	apiBase    string
	httpClient *http.Client
}

// Config holds Telegram bot configuration
type Config struct {
	BotToken string
	ChatID   string
	Enabled  bool
	APIBase  string // Defaults to DefaultAPIBase
}

// apiResponse is the envelope of every Bot API reply
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
}

// NewBot creates a new Telegram bot instance
func NewBot(config Config) *Bot {
	base := strings.TrimRight(config.APIBase, "/")
	if base == "" {
		base = DefaultAPIBase
	}
	return &Bot{
		botToken:   config.BotToken,
		chatID:     config.ChatID,
		enabled:    config.Enabled,
		apiBase:    base,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// IsEnabled returns whether the bot is enabled
func (b *Bot) IsEnabled() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.enabled
}

// SetEnabled enables or disables the bot
func (b *Bot) SetEnabled(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = enabled
}

// UpdateConfig replaces the credentials and the enabled flag at runtime
func (b *Bot) UpdateConfig(config Config) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.botToken = config.BotToken
	b.chatID = config.ChatID
	b.enabled = config.Enabled
}

// Settings returns the current configuration
func (b *Bot) Settings() Config {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Config{BotToken: b.botToken, ChatID: b.chatID, Enabled: b.enabled, APIBase: b.apiBase}
}

func (b *Bot) credentials() (token, chatID string, err error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.enabled {
		return "", "", ErrDisabled
	}
	if b.botToken == "" || b.chatID == "" {
		return "", "", ErrNotConfigured
	}
	return b.botToken, b.chatID, nil
}

func (b *Bot) methodURL(token, method string) string {
	return fmt.Sprintf("%s/bot%s/%s", b.apiBase, token, method)
}

// SendAnomaly delivers an anomaly alert with the annotated frame attached.
// A disabled bot drops the alert without error.
func (b *Bot) SendAnomaly(ctx context.Context, event *pipeline.AnomalyEvent, frame []byte) error {
	if !b.IsEnabled() {
		return nil
	}
	caption := FormatAnomalyCaption(event)
	if len(frame) == 0 {
		return b.SendMessage(ctx, caption)
	}
	return b.SendPhoto(ctx, frame, caption)
}

// FormatAnomalyCaption renders the alert text for an event
func FormatAnomalyCaption(event *pipeline.AnomalyEvent) string {
	return fmt.Sprintf(
		"🚨 Anomaly Detected!\n"+
			"📹 Camera: %s (%s)\n"+
			"🧠 Model: %s\n"+
			"🏷️ Label: %s\n"+
			"📊 Confidence: %.2f\n"+
			"🕐 Time: %s",
		event.Camera.Name, event.Camera.Location,
		event.Model,
		event.Label,
		event.Confidence,
		event.Timestamp.Format("2006-01-02 15:04:05"),
	)
}

// SendMessage sends a text message to the configured chat
func (b *Bot) SendMessage(ctx context.Context, text string) error {
	token, chatID, err := b.credentials()
	if err != nil {
		return err
	}

	payload := map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	_, err = b.call(ctx, token, "sendMessage", payload)
	return err
}

// SendPhoto sends a JPEG with an optional caption using multipart form data
func (b *Bot) SendPhoto(ctx context.Context, photo []byte, caption string) error {
	token, chatID, err := b.credentials()
	if err != nil {
		return err
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("chat_id", chatID); err != nil {
		return fmt.Errorf("failed to write chat_id field: %w", err)
	}
	if caption != "" {
		if err := writer.WriteField("caption", caption); err != nil {
			return fmt.Errorf("failed to write caption field: %w", err)
		}
	}

	part, err := writer.CreateFormFile("photo", "anomaly.jpg")
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(photo); err != nil {
		return fmt.Errorf("failed to write photo data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.methodURL(token, "sendPhoto"), &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send photo: %w", err)
	}
	defer resp.Body.Close()

	_, err = decodeResponse(resp)
	return err
}

// SendTestMessage sends a test message to verify the bot configuration
func (b *Bot) SendTestMessage(ctx context.Context) error {
	return b.SendMessage(ctx, fmt.Sprintf(
		"🤖 <b>Securo Test Message</b>\n\n"+
			"✅ Telegram bot is working correctly!\n"+
			"🕐 Test sent at: %s",
		time.Now().Format("2006-01-02 15:04:05"),
	))
}

// GetBotInfo retrieves information about the bot
func (b *Bot) GetBotInfo(ctx context.Context) (map[string]any, error) {
	b.mu.RLock()
	token := b.botToken
	b.mu.RUnlock()
	if token == "" {
		return nil, ErrNotConfigured
	}

	raw, err := b.call(ctx, token, "getMe", nil)
	if err != nil {
		return nil, err
	}
	var info map[string]any
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("unexpected response format: %w", err)
	}
	return info, nil
}

// call posts a JSON payload to a Bot API method and returns the result field
func (b *Bot) call(ctx context.Context, token, method string, payload map[string]any) (json.RawMessage, error) {
	var reader io.Reader = http.NoBody
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.methodURL(token, method), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	return decodeResponse(resp)
}

func decodeResponse(resp *http.Response) (json.RawMessage, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var out apiResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response (status %d): %w", resp.StatusCode, err)
	}
	if !out.OK {
		return nil, fmt.Errorf("telegram API error %d: %s", out.ErrorCode, out.Description)
	}
	return out.Result, nil
}

// ValidateConfig validates the Telegram bot configuration
func ValidateConfig(config Config) error {
	if !config.Enabled {
		return nil
	}
	if config.BotToken == "" {
		return errors.New("telegram bot token is required when enabled")
	}
	if config.ChatID == "" {
		return errors.New("telegram chat ID is required when enabled")
	}
	return nil
}

// Ensure Bot implements pipeline.NotificationSink
var _ pipeline.NotificationSink = (*Bot)(nil)
