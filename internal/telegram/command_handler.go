package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"securo/internal/camera"
	"securo/internal/database"
	"securo/internal/pipeline"
)

// PipelineControl is the part of the pipeline controller the bot drives
type PipelineControl interface {
	Start(ctx context.Context, camera pipeline.CameraDescriptor, models []string) error
	Stop()
	Status() pipeline.Status
	Stats() pipeline.LoopStats
	ActivateModel(id string) error
	DeactivateModel(id string) error
	ModelStatus() map[string]bool
	LatestFrame() []byte
}

// CameraDirectory lists cameras and resolves the active one
type CameraDirectory interface {
	List(ctx context.Context) ([]*camera.Camera, error)
	Active(ctx context.Context) (*camera.Camera, error)
}

// EventLister reads recent anomaly records
type EventLister interface {
	ListAnomalies(ctx context.Context, cameraID string, limit, skip int) ([]*database.AnomalyRecord, error)
}

// Update represents a Telegram update
type Update struct {
	UpdateID int64            `json:"update_id"`
	Message  *TelegramMessage `json:"message,omitempty"`
}

// TelegramMessage is an incoming chat message
type TelegramMessage struct {
	MessageID int64         `json:"message_id"`
	Chat      *TelegramChat `json:"chat,omitempty"`
	Date      int64         `json:"date"`
	Text      string        `json:"text,omitempty"`
}

// TelegramChat represents a Telegram chat
type TelegramChat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// CommandHandler answers bot commands from the configured chat
type CommandHandler struct {
	bot          *Bot
	pipeline     PipelineControl
	cameras      CameraDirectory
	events       EventLister
	interval     time.Duration
	startTime    time.Time
	mu           sync.Mutex
	lastUpdateID int64
}

// NewCommandHandler creates a new command handler
func NewCommandHandler(bot *Bot, control PipelineControl, cameras CameraDirectory, events EventLister, interval time.Duration) *CommandHandler {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &CommandHandler{
		bot:       bot,
		pipeline:  control,
		cameras:   cameras,
		events:    events,
		interval:  interval,
		startTime: time.Now(),
	}
}

// StartPolling polls getUpdates until ctx is cancelled
func (ch *CommandHandler) StartPolling(ctx context.Context) error {
	if _, _, err := ch.bot.credentials(); err != nil {
		return err
	}

	log.Printf("[Telegram] Command handler polling every %v", ch.interval)
	ticker := time.NewTicker(ch.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Telegram] Command handler stopped")
			return nil
		case <-ticker.C:
			if err := ch.pollUpdates(ctx); err != nil && ctx.Err() == nil {
				log.Printf("[Telegram] Failed to poll updates: %v", err)
			}
		}
	}
}

// pollUpdates fetches and processes one batch of updates
func (ch *CommandHandler) pollUpdates(ctx context.Context) error {
	token, chatID, err := ch.bot.credentials()
	if err != nil {
		return err
	}

	ch.mu.Lock()
	offset := ch.lastUpdateID + 1
	ch.mu.Unlock()

	raw, err := ch.bot.call(ctx, token, "getUpdates", map[string]any{"offset": offset, "timeout": 1})
	if err != nil {
		return err
	}
	var updates []Update
	if err := json.Unmarshal(raw, &updates); err != nil {
		return fmt.Errorf("failed to parse updates: %w", err)
	}

	for _, update := range updates {
		ch.mu.Lock()
		if update.UpdateID > ch.lastUpdateID {
			ch.lastUpdateID = update.UpdateID
		}
		ch.mu.Unlock()

		if update.Message != nil {
			ch.handleMessage(ctx, update.Message, chatID)
		}
	}
	return nil
}

// handleMessage runs a command from the authorized chat and sends the reply
func (ch *CommandHandler) handleMessage(ctx context.Context, msg *TelegramMessage, authorizedChatID string) {
	if msg.Chat == nil {
		return
	}
	if strconv.FormatInt(msg.Chat.ID, 10) != authorizedChatID {
		log.Printf("[Telegram] Ignoring message from unauthorized chat %d", msg.Chat.ID)
		return
	}
	if !strings.HasPrefix(msg.Text, "/") {
		return
	}

	parts := strings.Fields(msg.Text)
	command := strings.ToLower(parts[0])
	if at := strings.Index(command, "@"); at != -1 {
		command = command[:at]
	}
	log.Printf("[Telegram] Processing command: %s", command)

	if command == "/snapshot" {
		ch.handleSnapshot(ctx)
		return
	}

	response := ch.Execute(ctx, command, parts[1:])
	if err := ch.bot.SendMessage(ctx, response); err != nil {
		log.Printf("[Telegram] Failed to send reply: %v", err)
	}
}

// Execute runs a text command and returns the reply
func (ch *CommandHandler) Execute(ctx context.Context, command string, args []string) string {
	switch command {
	case "/start", "/help":
		return helpText
	case "/status":
		return ch.handleStatus()
	case "/models":
		return ch.handleModels()
	case "/activate":
		return ch.handleModelToggle(args, true)
	case "/deactivate":
		return ch.handleModelToggle(args, false)
	case "/start_pipeline":
		return ch.handleStartPipeline(ctx)
	case "/stop_pipeline":
		return ch.handleStopPipeline()
	case "/cameras":
		return ch.handleCameras(ctx)
	case "/events":
		return ch.handleEvents(ctx, args)
	default:
		return fmt.Sprintf("Unknown command: %s\nUse /help to see available commands.", command)
	}
}

const helpText = "📋 <b>Available Commands</b>\n\n" +
	"<b>Pipeline</b>\n" +
	"/status - Pipeline status\n" +
	"/start_pipeline - Start on the active camera\n" +
	"/stop_pipeline - Stop the pipeline\n" +
	"/snapshot - Latest annotated frame\n\n" +
	"<b>Models</b>\n" +
	"/models - List models\n" +
	"/activate &lt;model&gt; - Enable a model\n" +
	"/deactivate &lt;model&gt; - Disable a model\n\n" +
	"<b>Records</b>\n" +
	"/cameras - List cameras\n" +
	"/events [limit] - Recent anomalies\n\n" +
	"/help - Show this help"

func (ch *CommandHandler) handleStatus() string {
	status := ch.pipeline.Status()
	stats := ch.pipeline.Stats()

	cameraLine := "none"
	if status.Camera != nil {
		cameraLine = fmt.Sprintf("%s (%s)", status.Camera.Name, status.Camera.Location)
	}
	models := "none"
	if len(status.ActiveModels) > 0 {
		models = strings.Join(status.ActiveModels, ", ")
	}

	return fmt.Sprintf(
		"📊 <b>Pipeline Status</b>\n\n"+
			"⚙️ State: %s\n"+
			"📹 Camera: %s\n"+
			"🧠 Models: %s\n"+
			"🎞️ Frames: %d\n"+
			"🚨 Anomalies: %d (%d throttled)\n"+
			"⏱️ Uptime: %s",
		status.State, cameraLine, models,
		stats.FramesProcessed,
		stats.EventsAccepted, stats.EventsThrottled,
		formatDuration(time.Since(ch.startTime)),
	)
}

func (ch *CommandHandler) handleModels() string {
	status := ch.pipeline.ModelStatus()
	if len(status) == 0 {
		return "🧠 <b>Models</b>\n\nNo models configured."
	}

	ids := lo.Keys(status)
	sort.Strings(ids)

	var sb strings.Builder
	sb.WriteString("🧠 <b>Models</b>\n\n")
	for _, id := range ids {
		icon := "⚪"
		if status[id] {
			icon = "🟢"
		}
		fmt.Fprintf(&sb, "%s %s\n", icon, id)
	}
	return sb.String()
}

func (ch *CommandHandler) handleModelToggle(args []string, activate bool) string {
	verb := "activate"
	if !activate {
		verb = "deactivate"
	}
	if len(args) == 0 {
		return fmt.Sprintf("⚠️ Usage: /%s &lt;model&gt;\n\nUse /models to see available models.", verb)
	}

	id := args[0]
	var err error
	if activate {
		err = ch.pipeline.ActivateModel(id)
	} else {
		err = ch.pipeline.DeactivateModel(id)
	}
	if errors.Is(err, pipeline.ErrUnknownModel) {
		return fmt.Sprintf("❌ Unknown model: %s", id)
	}
	if err != nil {
		return fmt.Sprintf("❌ Failed to %s %s: %v", verb, id, err)
	}
	return fmt.Sprintf("✅ Model %s %sd.", id, verb)
}

func (ch *CommandHandler) handleStartPipeline(ctx context.Context) string {
	cam, err := ch.cameras.Active(ctx)
	if errors.Is(err, pipeline.ErrNoActiveCamera) {
		return "⚠️ No active camera found."
	}
	if err != nil {
		return fmt.Sprintf("❌ Failed to resolve camera: %v", err)
	}

	if err := ch.pipeline.Start(ctx, cam.Descriptor(), nil); err != nil {
		return fmt.Sprintf("❌ Failed to start pipeline: %v", err)
	}
	return fmt.Sprintf("▶️ Pipeline started on %s.", cam.Name)
}

func (ch *CommandHandler) handleStopPipeline() string {
	if ch.pipeline.Status().State == pipeline.StateStopped {
		return "ℹ️ Pipeline is not running."
	}
	ch.pipeline.Stop()
	return "🛑 Pipeline stopped."
}

func (ch *CommandHandler) handleCameras(ctx context.Context) string {
	cameras, err := ch.cameras.List(ctx)
	if err != nil {
		return fmt.Sprintf("❌ Failed to list cameras: %v", err)
	}
	if len(cameras) == 0 {
		return "📹 <b>Cameras</b>\n\nNo cameras configured."
	}

	var sb strings.Builder
	sb.WriteString("📹 <b>Cameras</b>\n\n")
	for _, cam := range cameras {
		icon := "⚪"
		if cam.IsActive {
			icon = "🟢"
		}
		fmt.Fprintf(&sb, "%s <b>%s</b> (%s)\n   Source: %s\n", icon, cam.Name, cam.Location, cam.Source)
	}
	return sb.String()
}

func (ch *CommandHandler) handleEvents(ctx context.Context, args []string) string {
	limit := 5
	if len(args) > 0 {
		if n, err := strconv.Atoi(args[0]); err == nil && n > 0 && n <= 20 {
			limit = n
		}
	}

	records, err := ch.events.ListAnomalies(ctx, "", limit, 0)
	if err != nil {
		return fmt.Sprintf("❌ Failed to load events: %v", err)
	}
	if len(records) == 0 {
		return "📋 <b>Recent Anomalies</b>\n\nNo anomalies recorded."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📋 <b>Recent Anomalies</b> (last %d)\n\n", len(records))
	for i, rec := range records {
		fmt.Fprintf(&sb, "%d. %s %s (%.2f)\n   📹 %s · %s\n",
			i+1, rec.Timestamp.Format("Jan 2, 15:04:05"), rec.Label, rec.Confidence,
			rec.CameraName, rec.Model)
	}
	return sb.String()
}

func (ch *CommandHandler) handleSnapshot(ctx context.Context) {
	frame := ch.pipeline.LatestFrame()
	if len(frame) == 0 {
		if err := ch.bot.SendMessage(ctx, "⚠️ No frame available. Is the pipeline running?"); err != nil {
			log.Printf("[Telegram] Failed to send reply: %v", err)
		}
		return
	}

	caption := fmt.Sprintf("📸 Snapshot\n🕐 Time: %s", time.Now().Format("2006-01-02 15:04:05"))
	if status := ch.pipeline.Status(); status.Camera != nil {
		caption = fmt.Sprintf("📸 Snapshot\n📹 Camera: %s\n🕐 Time: %s", status.Camera.Name, time.Now().Format("2006-01-02 15:04:05"))
	}
	if err := ch.bot.SendPhoto(ctx, frame, caption); err != nil {
		log.Printf("[Telegram] Failed to send snapshot: %v", err)
	}
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
