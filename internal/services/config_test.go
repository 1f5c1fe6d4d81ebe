package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"securo/internal/pipeline"
	"securo/internal/telegram"
)

func TestThresholdRoutes(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	var table map[string]pipeline.ThresholdPair
	decodeBody(t, h.do("GET", "/config/thresholds", nil, nil), &table)
	if table["default"].Alert != 0.85 || table["default"].Display != 0.80 {
		t.Fatalf("default pair = %+v", table["default"])
	}

	rec := h.do("PUT", "/config/thresholds/fire", pipeline.ThresholdPair{Display: 0.5, Alert: 0.7}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("update = %d %s", rec.Code, rec.Body.String())
	}
	if got := h.controller.Thresholds().Lookup("fire"); got.Alert != 0.7 || got.Display != 0.5 {
		t.Errorf("fire pair = %+v", got)
	}

	tests := []struct {
		name string
		path string
		body any
	}{
		{"out of range", "/config/thresholds/fire", pipeline.ThresholdPair{Display: 0.5, Alert: 1.5}},
		{"unknown model", "/config/thresholds/dragons", pipeline.ThresholdPair{Display: 0.5, Alert: 0.7}},
		{"not json", "/config/thresholds/fire", "loud"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := h.do("PUT", tt.path, tt.body, nil); rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}

	// A fresh service over the same store picks the change up
	other, err := pipeline.NewDetectionThresholds(map[string]float64{"default": 0.85}, map[string]float64{"default": 0.80})
	if err != nil {
		t.Fatal(err)
	}
	fresh := &thresholdPipeline{Pipeline: h.controller, thresholds: other}
	if err := NewConfigService(fresh, nil, h.db, NewGuard(nil)).Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := other.Lookup("fire"); got.Alert != 0.7 {
		t.Errorf("restored fire pair = %+v", got)
	}
}

// thresholdPipeline swaps the threshold table of an existing controller
type thresholdPipeline struct {
	Pipeline
	thresholds *pipeline.DetectionThresholds
}

func (p *thresholdPipeline) Thresholds() *pipeline.DetectionThresholds { return p.thresholds }

type fakeTelegram struct {
	mu       sync.Mutex
	messages int
}

func (f *fakeTelegram) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.messages++
	f.mu.Unlock()
	w.Write([]byte(`{"ok":true,"result":{}}`))
}

func (f *fakeTelegram) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages
}

func TestNotificationRoutes(t *testing.T) {
	api := &fakeTelegram{}
	srv := httptest.NewServer(api)
	defer srv.Close()

	bot := telegram.NewBot(telegram.Config{BotToken: "123456789:ABCDEFGH", ChatID: "42", APIBase: srv.URL})
	h := newHarness(t, harnessOptions{notifier: bot})

	var view NotificationConfig
	decodeBody(t, h.do("GET", "/config/notification", nil, nil), &view)
	if view.TelegramEnabled || view.TelegramBotToken == nil || *view.TelegramBotToken != "1234...EFGH" {
		t.Fatalf("view = %+v", view)
	}

	var result testNotificationResult
	decodeBody(t, h.do("POST", "/config/notification/test", nil, nil), &result)
	if result.Success || result.Message != "Telegram notifications are disabled" {
		t.Errorf("test while disabled = %+v", result)
	}

	// Sending the masked token back keeps the real one
	masked := *view.TelegramBotToken
	rec := h.do("PUT", "/config/notification", NotificationConfig{TelegramEnabled: true, TelegramBotToken: &masked}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("update = %d %s", rec.Code, rec.Body.String())
	}
	if got := bot.Settings(); !got.Enabled || got.BotToken != "123456789:ABCDEFGH" {
		t.Errorf("bot settings = %+v", got)
	}

	decodeBody(t, h.do("POST", "/config/notification/test", nil, nil), &result)
	if !result.Success {
		t.Errorf("test = %+v", result)
	}
	if n := api.count(); n != 1 {
		t.Errorf("api saw %d messages", n)
	}

	empty := ""
	rec = h.do("PUT", "/config/notification", NotificationConfig{TelegramEnabled: true, TelegramChatID: &empty}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("enable without chat id = %d", rec.Code)
	}

	// Stored settings come back on a new bot
	restored := telegram.NewBot(telegram.Config{APIBase: srv.URL})
	if err := NewConfigService(h.controller, restored, h.db, NewGuard(nil)).Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := restored.Settings(); !got.Enabled || got.ChatID != "42" || got.BotToken != "123456789:ABCDEFGH" {
		t.Errorf("restored = %+v", got)
	}
}

func TestMaskToken(t *testing.T) {
	tests := []struct {
		token string
		want  string
	}{
		{"short", "****"},
		{"123456789:ABCDEFGH", "1234...EFGH"},
	}
	for _, tt := range tests {
		got := maskToken(tt.token)
		if got == nil || *got != tt.want {
			t.Errorf("maskToken(%q) = %v", tt.token, got)
		}
		if !isMaskedToken(*got) {
			t.Errorf("%q not recognised as masked", *got)
		}
	}
	if maskToken("") != nil {
		t.Error("empty token masked")
	}
}
