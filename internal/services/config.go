package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/samber/lo"
	goahttp "goa.design/goa/v3/http"

	"securo/internal/database"
	"securo/internal/pipeline"
	"securo/internal/telegram"
)

const (
	thresholdsKey   = "thresholds"
	notificationKey = "notification"
)

// Notifier is the runtime-configurable alert bot
type Notifier interface {
	Settings() telegram.Config
	UpdateConfig(config telegram.Config)
	SendTestMessage(ctx context.Context) error
}

// ConfigService exposes the runtime-tunable settings and persists them
type ConfigService struct {
	mu       sync.Mutex
	pipeline Pipeline
	notifier Notifier
	settings SettingsStore
	guard    Guard
}

// NewConfigService creates the config service. notifier and settings may be nil.
func NewConfigService(p Pipeline, notifier Notifier, settings SettingsStore, guard Guard) *ConfigService {
	return &ConfigService{pipeline: p, notifier: notifier, settings: settings, guard: guard}
}

// NotificationConfig is the API view of the Telegram settings
type NotificationConfig struct {
	TelegramEnabled  bool    `json:"telegram_enabled"`
	TelegramBotToken *string `json:"telegram_bot_token,omitempty"`
	TelegramChatID   *string `json:"telegram_chat_id,omitempty"`
}

type testNotificationResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Mount registers the config routes
func (c *ConfigService) Mount(mux goahttp.Muxer) {
	mux.Handle("GET", "/config/thresholds", c.GetThresholds)
	mux.Handle("PUT", "/config/thresholds/{model}", c.guard(func(w http.ResponseWriter, r *http.Request) {
		c.UpdateThreshold(w, r, mux.Vars(r)["model"])
	}))
	mux.Handle("GET", "/config/notification", c.GetNotification)
	mux.Handle("PUT", "/config/notification", c.guard(c.UpdateNotification))
	mux.Handle("POST", "/config/notification/test", c.guard(c.TestNotification))
}

// GetThresholds returns every model's display and alert cut-offs
func (c *ConfigService) GetThresholds(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, c.pipeline.Thresholds().Table())
}

// UpdateThreshold replaces one model's pair; "default" sets the fallback
func (c *ConfigService) UpdateThreshold(w http.ResponseWriter, r *http.Request, model string) {
	ctx := r.Context()
	if model != pipeline.DefaultThresholdKey && !c.knownModel(model) {
		writeError(ctx, w, http.StatusBadRequest, "Invalid model name")
		return
	}

	var pair pipeline.ThresholdPair
	if err := decodeJSON(r, &pair); err != nil {
		writeError(ctx, w, http.StatusBadRequest, "invalid threshold payload")
		return
	}
	if pair.Display < 0 || pair.Display > 1 || pair.Alert < 0 || pair.Alert > 1 {
		writeError(ctx, w, http.StatusBadRequest, "Thresholds must be between 0 and 1")
		return
	}

	c.mu.Lock()
	c.pipeline.Thresholds().Set(model, pair)
	c.saveJSON(ctx, thresholdsKey, c.pipeline.Thresholds().Table())
	c.mu.Unlock()

	log.Printf("[Config] Thresholds for %s set to display=%.2f alert=%.2f", model, pair.Display, pair.Alert)
	writeJSON(ctx, w, http.StatusOK, pair)
}

// GetNotification returns the Telegram settings with the token masked
func (c *ConfigService) GetNotification(w http.ResponseWriter, r *http.Request) {
	if c.notifier == nil {
		writeJSON(r.Context(), w, http.StatusOK, NotificationConfig{})
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, notificationView(c.notifier.Settings()))
}

// UpdateNotification reconfigures the bot. A masked token keeps the stored one.
func (c *ConfigService) UpdateNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if c.notifier == nil {
		writeError(ctx, w, http.StatusServiceUnavailable, "Telegram bot is not configured")
		return
	}

	var p NotificationConfig
	if err := decodeJSON(r, &p); err != nil {
		writeError(ctx, w, http.StatusBadRequest, "invalid notification payload")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.notifier.Settings()
	next.Enabled = p.TelegramEnabled
	if p.TelegramBotToken != nil && *p.TelegramBotToken != "" && !isMaskedToken(*p.TelegramBotToken) {
		next.BotToken = *p.TelegramBotToken
	}
	if p.TelegramChatID != nil {
		next.ChatID = *p.TelegramChatID
	}
	if next.Enabled {
		if err := telegram.ValidateConfig(next); err != nil {
			writeError(ctx, w, http.StatusBadRequest, err.Error())
			return
		}
	}

	c.notifier.UpdateConfig(next)
	c.saveJSON(ctx, notificationKey, storedNotification{Enabled: next.Enabled, BotToken: next.BotToken, ChatID: next.ChatID})
	log.Printf("[Config] Telegram notifications enabled=%v", next.Enabled)
	writeJSON(ctx, w, http.StatusOK, notificationView(next))
}

// TestNotification sends a test message through the bot
func (c *ConfigService) TestNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if c.notifier == nil {
		writeJSON(ctx, w, http.StatusOK, testNotificationResult{Message: "Telegram bot is not configured"})
		return
	}
	if !c.notifier.Settings().Enabled {
		writeJSON(ctx, w, http.StatusOK, testNotificationResult{Message: "Telegram notifications are disabled"})
		return
	}
	if err := c.notifier.SendTestMessage(ctx); err != nil {
		writeJSON(ctx, w, http.StatusOK, testNotificationResult{Message: "Failed to send test notification: " + err.Error()})
		return
	}
	writeJSON(ctx, w, http.StatusOK, testNotificationResult{Success: true, Message: "Test notification sent successfully"})
}

type storedNotification struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

// Restore re-applies thresholds and notification settings saved by a previous run
func (c *ConfigService) Restore(ctx context.Context) error {
	if c.settings == nil {
		return nil
	}

	var table map[string]pipeline.ThresholdPair
	found, err := c.loadJSON(ctx, thresholdsKey, &table)
	if err != nil {
		return err
	}
	if found {
		for model, pair := range table {
			c.pipeline.Thresholds().Set(model, pair)
		}
		log.Printf("[Config] Restored thresholds for %d models", len(table))
	}

	if c.notifier != nil {
		var stored storedNotification
		found, err := c.loadJSON(ctx, notificationKey, &stored)
		if err != nil {
			return err
		}
		if found {
			next := c.notifier.Settings()
			next.Enabled = stored.Enabled
			next.BotToken = stored.BotToken
			next.ChatID = stored.ChatID
			c.notifier.UpdateConfig(next)
			log.Printf("[Config] Restored Telegram settings (enabled=%v)", stored.Enabled)
		}
	}
	return nil
}

func (c *ConfigService) knownModel(id string) bool {
	return lo.Contains(c.pipeline.KnownModels(), id)
}

func (c *ConfigService) saveJSON(ctx context.Context, key string, v any) {
	if c.settings == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[Config] Failed to encode %s: %v", key, err)
		return
	}
	if err := c.settings.SaveConfig(context.WithoutCancel(ctx), key, string(data)); err != nil {
		log.Printf("[Config] Failed to save %s: %v", key, err)
	}
}

func (c *ConfigService) loadJSON(ctx context.Context, key string, v any) (bool, error) {
	raw, err := c.settings.GetConfig(ctx, key)
	if errors.Is(err, database.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("decode stored %s: %w", key, err)
	}
	return true, nil
}

func notificationView(cfg telegram.Config) NotificationConfig {
	view := NotificationConfig{TelegramEnabled: cfg.Enabled, TelegramBotToken: maskToken(cfg.BotToken)}
	if cfg.ChatID != "" {
		chatID := cfg.ChatID
		view.TelegramChatID = &chatID
	}
	return view
}

func maskToken(token string) *string {
	if token == "" {
		return nil
	}
	masked := "****"
	if len(token) > 8 {
		masked = token[:4] + "..." + token[len(token)-4:]
	}
	return &masked
}

func isMaskedToken(token string) bool {
	return token == "****" || (len(token) >= 11 && token[4:7] == "...")
}

var _ Notifier = (*telegram.Bot)(nil)
