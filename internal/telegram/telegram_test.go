package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"securo/internal/camera"
	"securo/internal/database"
	"securo/internal/pipeline"
)

// fakeAPI records Bot API calls and answers with canned results
type fakeAPI struct {
	mu       sync.Mutex
	messages []string
	photos   []string // captions
	updates  []Update
	fail     bool
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		if f.fail {
			json.NewEncoder(w).Encode(map[string]any{"ok": false, "error_code": 401, "description": "Unauthorized"})
			return
		}

		switch {
		case strings.HasSuffix(r.URL.Path, "/sendPhoto"):
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Errorf("parse multipart: %v", err)
			}
			file, _, err := r.FormFile("photo")
			if err != nil {
				t.Errorf("photo part missing: %v", err)
			} else {
				data, _ := io.ReadAll(file)
				if len(data) == 0 {
					t.Error("empty photo")
				}
			}
			f.photos = append(f.photos, r.FormValue("caption"))
			w.Write([]byte(`{"ok":true,"result":{}}`))
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			var payload map[string]any
			json.NewDecoder(r.Body).Decode(&payload)
			f.messages = append(f.messages, payload["text"].(string))
			w.Write([]byte(`{"ok":true,"result":{}}`))
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": f.updates})
			f.updates = nil
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			w.Write([]byte(`{"ok":true,"result":{"id":42,"username":"securo_bot"}}`))
		default:
			http.NotFound(w, r)
		}
	})
}

func newTestBot(t *testing.T, api *fakeAPI) *Bot {
	t.Helper()
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)
	return NewBot(Config{BotToken: "TOKEN", ChatID: "1001", Enabled: true, APIBase: srv.URL})
}

var testEvent = &pipeline.AnomalyEvent{
	ID:         "ev-1",
	Camera:     pipeline.CameraDescriptor{ID: "cam-1", Name: "Lobby", Location: "Ground floor"},
	Model:      "weapon",
	Label:      "gun",
	Confidence: 0.912,
	Timestamp:  time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC),
}

func TestFormatAnomalyCaption(t *testing.T) {
	caption := FormatAnomalyCaption(testEvent)
	for _, want := range []string{
		"🚨 Anomaly Detected!",
		"Camera: Lobby (Ground floor)",
		"Model: weapon",
		"Label: gun",
		"Confidence: 0.91",
		"Time: 2024-06-01 12:30:00",
	} {
		if !strings.Contains(caption, want) {
			t.Errorf("caption missing %q:\n%s", want, caption)
		}
	}
}

func TestSendAnomalyWithPhoto(t *testing.T) {
	api := &fakeAPI{}
	bot := newTestBot(t, api)

	if err := bot.SendAnomaly(context.Background(), testEvent, []byte{0xFF, 0xD8, 0xFF, 0xD9}); err != nil {
		t.Fatalf("SendAnomaly: %v", err)
	}
	if len(api.photos) != 1 || !strings.Contains(api.photos[0], "Label: gun") {
		t.Fatalf("photos = %v", api.photos)
	}
}

func TestSendAnomalyWithoutFrameSendsText(t *testing.T) {
	api := &fakeAPI{}
	bot := newTestBot(t, api)

	if err := bot.SendAnomaly(context.Background(), testEvent, nil); err != nil {
		t.Fatalf("SendAnomaly: %v", err)
	}
	if len(api.messages) != 1 || len(api.photos) != 0 {
		t.Fatalf("messages=%d photos=%d, want 1 and 0", len(api.messages), len(api.photos))
	}
}

func TestSendErrors(t *testing.T) {
	disabled := NewBot(Config{BotToken: "T", ChatID: "1"})
	if err := disabled.SendMessage(context.Background(), "hi"); !errors.Is(err, ErrDisabled) {
		t.Errorf("disabled: err = %v", err)
	}

	unconfigured := NewBot(Config{Enabled: true})
	if err := unconfigured.SendMessage(context.Background(), "hi"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("unconfigured: err = %v", err)
	}

	api := &fakeAPI{fail: true}
	bot := newTestBot(t, api)
	err := bot.SendPhoto(context.Background(), []byte{1}, "x")
	if err == nil || !strings.Contains(err.Error(), "Unauthorized") {
		t.Errorf("api failure: err = %v", err)
	}
}

func TestGetBotInfo(t *testing.T) {
	bot := newTestBot(t, &fakeAPI{})
	info, err := bot.GetBotInfo(context.Background())
	if err != nil {
		t.Fatalf("GetBotInfo: %v", err)
	}
	if info["username"] != "securo_bot" {
		t.Errorf("info = %v", info)
	}
}

func TestValidateConfig(t *testing.T) {
	if err := ValidateConfig(Config{}); err != nil {
		t.Errorf("disabled config: %v", err)
	}
	if err := ValidateConfig(Config{Enabled: true, ChatID: "1"}); err == nil {
		t.Error("missing token accepted")
	}
	if err := ValidateConfig(Config{Enabled: true, BotToken: "t"}); err == nil {
		t.Error("missing chat accepted")
	}
}

type fakeControl struct {
	mu      sync.Mutex
	state   pipeline.PipelineState
	camera  *pipeline.CameraDescriptor
	models  map[string]bool
	frame   []byte
	started []pipeline.CameraDescriptor
}

func newFakeControl() *fakeControl {
	return &fakeControl{state: pipeline.StateStopped, models: map[string]bool{"fire": false, "people": true}}
}

func (f *fakeControl) Start(ctx context.Context, cam pipeline.CameraDescriptor, models []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, cam)
	f.state = pipeline.StateRunning
	f.camera = &cam
	return nil
}

func (f *fakeControl) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = pipeline.StateStopped
	f.camera = nil
}

func (f *fakeControl) Status() pipeline.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	var active []string
	for id, on := range f.models {
		if on {
			active = append(active, id)
		}
	}
	return pipeline.Status{State: f.state, Camera: f.camera, ActiveModels: active}
}

func (f *fakeControl) Stats() pipeline.LoopStats { return pipeline.LoopStats{FramesProcessed: 12} }

func (f *fakeControl) toggle(id string, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.models[id]; !ok {
		return pipeline.ErrUnknownModel
	}
	f.models[id] = on
	return nil
}

func (f *fakeControl) ActivateModel(id string) error   { return f.toggle(id, true) }
func (f *fakeControl) DeactivateModel(id string) error { return f.toggle(id, false) }

func (f *fakeControl) ModelStatus() map[string]bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]bool, len(f.models))
	for k, v := range f.models {
		out[k] = v
	}
	return out
}

func (f *fakeControl) LatestFrame() []byte { return f.frame }

type fakeCameras struct {
	active *camera.Camera
}

func (f *fakeCameras) List(ctx context.Context) ([]*camera.Camera, error) {
	if f.active == nil {
		return nil, nil
	}
	return []*camera.Camera{f.active}, nil
}

func (f *fakeCameras) Active(ctx context.Context) (*camera.Camera, error) {
	if f.active == nil {
		return nil, pipeline.ErrNoActiveCamera
	}
	return f.active, nil
}

type fakeEvents struct {
	records []*database.AnomalyRecord
}

func (f *fakeEvents) ListAnomalies(ctx context.Context, cameraID string, limit, skip int) ([]*database.AnomalyRecord, error) {
	if limit < len(f.records) {
		return f.records[:limit], nil
	}
	return f.records, nil
}

func TestExecuteCommands(t *testing.T) {
	control := newFakeControl()
	cams := &fakeCameras{}
	events := &fakeEvents{records: []*database.AnomalyRecord{
		{Label: "fire", Model: "fire", Confidence: 0.93, CameraName: "Lobby", Timestamp: time.Now()},
	}}
	ch := NewCommandHandler(NewBot(Config{}), control, cams, events, time.Second)
	ctx := context.Background()

	if got := ch.Execute(ctx, "/start_pipeline", nil); !strings.Contains(got, "No active camera") {
		t.Errorf("start without camera: %q", got)
	}

	cams.active = &camera.Camera{ID: "cam-1", Name: "Lobby", Location: "Ground floor", Source: pipeline.SourceLaptopCam, IsActive: true}
	if got := ch.Execute(ctx, "/start_pipeline", nil); !strings.Contains(got, "started on Lobby") {
		t.Errorf("start: %q", got)
	}
	if len(control.started) != 1 || control.started[0].ID != "cam-1" {
		t.Fatalf("started = %+v", control.started)
	}

	if got := ch.Execute(ctx, "/status", nil); !strings.Contains(got, "State: running") || !strings.Contains(got, "Lobby (Ground floor)") {
		t.Errorf("status: %q", got)
	}

	if got := ch.Execute(ctx, "/activate", []string{"fire"}); !strings.Contains(got, "fire activated") {
		t.Errorf("activate: %q", got)
	}
	if !control.models["fire"] {
		t.Error("fire not activated")
	}
	if got := ch.Execute(ctx, "/deactivate", []string{"dragons"}); !strings.Contains(got, "Unknown model") {
		t.Errorf("unknown model: %q", got)
	}
	if got := ch.Execute(ctx, "/activate", nil); !strings.Contains(got, "Usage") {
		t.Errorf("missing arg: %q", got)
	}

	models := ch.Execute(ctx, "/models", nil)
	if strings.Index(models, "fire") > strings.Index(models, "people") {
		t.Errorf("models not sorted: %q", models)
	}

	if got := ch.Execute(ctx, "/events", []string{"3"}); !strings.Contains(got, "fire (0.93)") {
		t.Errorf("events: %q", got)
	}
	if got := ch.Execute(ctx, "/cameras", nil); !strings.Contains(got, "Lobby") {
		t.Errorf("cameras: %q", got)
	}

	if got := ch.Execute(ctx, "/stop_pipeline", nil); !strings.Contains(got, "stopped") {
		t.Errorf("stop: %q", got)
	}
	if got := ch.Execute(ctx, "/stop_pipeline", nil); !strings.Contains(got, "not running") {
		t.Errorf("second stop: %q", got)
	}
	if got := ch.Execute(ctx, "/bogus", nil); !strings.Contains(got, "Unknown command") {
		t.Errorf("unknown command: %q", got)
	}
}

func TestPollUpdatesAnswersAuthorizedChatOnly(t *testing.T) {
	api := &fakeAPI{updates: []Update{
		{UpdateID: 7, Message: &TelegramMessage{Chat: &TelegramChat{ID: 999}, Text: "/status"}},
		{UpdateID: 8, Message: &TelegramMessage{Chat: &TelegramChat{ID: 1001}, Text: "/help@securo_bot"}},
		{UpdateID: 9, Message: &TelegramMessage{Chat: &TelegramChat{ID: 1001}, Text: "hello"}},
	}}
	bot := newTestBot(t, api)
	ch := NewCommandHandler(bot, newFakeControl(), &fakeCameras{}, &fakeEvents{}, time.Second)

	if err := ch.pollUpdates(context.Background()); err != nil {
		t.Fatalf("pollUpdates: %v", err)
	}

	if len(api.messages) != 1 || !strings.Contains(api.messages[0], "Available Commands") {
		t.Fatalf("replies = %q", api.messages)
	}
	if ch.lastUpdateID != 9 {
		t.Errorf("lastUpdateID = %d, want 9", ch.lastUpdateID)
	}
}

func TestSnapshotCommand(t *testing.T) {
	api := &fakeAPI{}
	bot := newTestBot(t, api)
	control := newFakeControl()
	ch := NewCommandHandler(bot, control, &fakeCameras{}, &fakeEvents{}, time.Second)
	msg := &TelegramMessage{Chat: &TelegramChat{ID: 1001}, Text: "/snapshot"}

	ch.handleMessage(context.Background(), msg, "1001")
	if len(api.messages) != 1 || !strings.Contains(api.messages[0], "No frame available") {
		t.Fatalf("messages = %q", api.messages)
	}

	control.frame = []byte{0xFF, 0xD8, 0xFF, 0xD9}
	ch.handleMessage(context.Background(), msg, "1001")
	if len(api.photos) != 1 || !strings.Contains(api.photos[0], "Snapshot") {
		t.Fatalf("photos = %q", api.photos)
	}
}
