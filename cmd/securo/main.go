package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"securo/internal/analytics"
	"securo/internal/anomalies"
	"securo/internal/auth"
	"securo/internal/camera"
	"securo/internal/config"
	"securo/internal/database"
	"securo/internal/messaging"
	"securo/internal/models"
	"securo/internal/pipeline"
	"securo/internal/services"
	"securo/internal/storage"
	"securo/internal/stream"
	"securo/internal/telegram"
	"securo/internal/ws"
)

func main() {
	var (
		configF   = flag.String("config", "", "Path to a YAML configuration file")
		hostF     = flag.String("host", "", "Server host (overrides server.host)")
		httpPortF = flag.String("http-port", "", "HTTP port (overrides server.port)")
		dbgF      = flag.Bool("debug", false, "Log request and response bodies")
	)
	flag.Parse()

	var (
		logger *log.Logger
	)
	{
		logger = log.New(os.Stderr, "[securo] ", log.Ltime)
	}

	cfg, err := config.Load(*configF)
	if err != nil {
		logger.Fatalf("failed to load configuration: %v", err)
	}
	if *hostF != "" {
		cfg.Server.Host = *hostF
	}
	if *httpPortF != "" {
		port, err := strconv.Atoi(*httpPortF)
		if err != nil {
			logger.Fatalf("invalid HTTP port %q: %v", *httpPortF, err)
		}
		cfg.Server.Port = port
	}
	debug := *dbgF || cfg.Server.Debug

	db, err := database.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Fatalf("failed to open database: %v", err)
	}
	if err := db.Migrate(); err != nil {
		logger.Fatalf("failed to migrate database: %v", err)
	}
	cameraManager := camera.NewManager(db)

	// Inference engine and lazy model registry
	var engine models.Engine
	switch cfg.Models.Engine {
	case "grpc":
		grpcEngine, err := models.NewGRPCEngine(cfg.Models.Endpoint)
		if err != nil {
			logger.Fatalf("failed to create gRPC engine: %v", err)
		}
		engine = grpcEngine
	default:
		engine = models.NewHTTPEngine(cfg.Models.Endpoint, cfg.Models.Timeout)
	}
	registry := models.NewRegistry(engine, models.RegistryConfig{
		Known:         cfg.Models.Known,
		Dir:           cfg.Models.Dir,
		URLs:          cfg.Models.URLs,
		RetryInterval: cfg.Models.RetryInterval,
	}, nil)

	thresholds, err := pipeline.NewDetectionThresholds(cfg.Pipeline.AlertThresholds, cfg.Pipeline.DisplayThresholds)
	if err != nil {
		logger.Fatalf("invalid thresholds: %v", err)
	}

	var frames storage.FrameStore
	switch cfg.Storage.Kind {
	case "minio":
		m := cfg.Storage.Minio
		frames, err = storage.NewMinioStore(storage.MinioConfig{
			Endpoint:  m.Endpoint,
			AccessKey: m.AccessKey,
			SecretKey: m.SecretKey,
			Bucket:    m.Bucket,
			UseSSL:    m.UseSSL,
		})
	default:
		frames, err = storage.NewLocalStore(cfg.Storage.Dir)
	}
	if err != nil {
		logger.Fatalf("failed to open frame storage: %v", err)
	}

	publicURL := cfg.Server.PublicURL
	if publicURL == "" {
		publicURL = "http://" + cfg.Server.Addr()
	}
	anomalySvc := anomalies.NewService(db, frames, publicURL)

	// The bot always exists so notification settings can be changed at runtime
	bot := telegram.NewBot(telegram.Config{
		BotToken: cfg.Telegram.BotToken,
		ChatID:   cfg.Telegram.ChatID,
		Enabled:  cfg.Telegram.Enabled,
	})

	bus := pipeline.NewEventBus()
	dispatcher := pipeline.NewAlertDispatcher(bot, anomalySvc, bus, pipeline.DispatcherConfig{
		QueueSize: cfg.Pipeline.DispatchQueue,
		Workers:   cfg.Pipeline.DispatchWorkers,
		OpTimeout: cfg.Pipeline.DispatchTimeout,
	})
	dispatcher.OnError(func(err *pipeline.DispatchError) {
		logger.Printf("dispatch failed: %v", err)
	})

	overlay := stream.NewOverlay(cfg.Pipeline.JPEGQuality)
	controller := pipeline.NewController(pipeline.ControllerDeps{
		Source: camera.NewFFmpegSource(camera.FFmpegConfig{
			Binary:      cfg.Camera.FFmpegPath,
			Width:       cfg.Camera.Width,
			Height:      cfg.Camera.Height,
			FPS:         cfg.Camera.FPS,
			ReadTimeout: cfg.Camera.ReadTimeout,
		}),
		Models:     registry,
		Thresholds: thresholds,
		Annotator:  overlay,
		Dispatcher: dispatcher,
	}, pipeline.ControllerConfig{
		Persistence:   cfg.Pipeline.Persistence,
		Cooldown:      cfg.Pipeline.Cooldown,
		FrameInterval: cfg.Pipeline.FrameInterval,
		StopTimeout:   cfg.Pipeline.StopTimeout,
		ModelTimeout:  cfg.Pipeline.ModelTimeout,
	}, cfg.Pipeline.ActiveModels)

	// subscribers tracks the bus consumers, which exit once the bus closes
	var wg, subscribers sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	if err := services.RestoreActiveModels(ctx, controller, db); err != nil {
		logger.Printf("failed to restore active models: %v", err)
	}

	var guard services.Guard
	var authenticator *auth.Authenticator
	{
		authenticator, err = auth.NewAuthenticator(auth.Config{
			Enabled:   cfg.Auth.Enabled,
			Username:  cfg.Auth.Username,
			Password:  cfg.Auth.Password,
			JWTSecret: cfg.Auth.JWTSecret,
			TokenTTL:  cfg.Auth.TokenTTL,
		})
		if err != nil {
			logger.Fatalf("failed to configure authentication: %v", err)
		}
		if authenticator.IsEnabled() {
			guard = services.NewGuard(authenticator)
		} else {
			guard = services.NewGuard(nil)
		}
	}

	configSvc := services.NewConfigService(controller, bot, db, guard)
	if err := configSvc.Restore(ctx); err != nil {
		logger.Printf("failed to restore runtime settings: %v", err)
	}

	// Live subscribers of confirmed anomalies
	hub := ws.NewAnomalyHub()
	bus.Subscribe(hub)

	if cfg.Kafka.Enabled {
		publisher, err := messaging.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			logger.Fatalf("failed to start Kafka publisher: %v", err)
		}
		runPublisher(ctx, &subscribers, bus, publisher)
	}
	if cfg.MQTT.Enabled {
		publisher, err := messaging.NewMQTTPublisher(messaging.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Topic:    cfg.MQTT.Topic,
		})
		if err != nil {
			logger.Fatalf("failed to start MQTT publisher: %v", err)
		}
		runPublisher(ctx, &subscribers, bus, publisher)
	}
	if cfg.ClickHouse.Enabled {
		writer, err := analytics.NewWriter(analytics.Config{
			Addr:     cfg.ClickHouse.Addr,
			Database: cfg.ClickHouse.Database,
			Username: cfg.ClickHouse.Username,
			Password: cfg.ClickHouse.Password,
			Table:    cfg.ClickHouse.Table,
		})
		if err != nil {
			logger.Fatalf("failed to start ClickHouse writer: %v", err)
		}
		events, unsubscribe := bus.SubscribeChannel(64)
		subscribers.Add(1)
		go func() {
			defer subscribers.Done()
			defer writer.Close()
			defer unsubscribe()
			writer.Run(ctx, events)
		}()
	}

	if cfg.Telegram.Commands {
		commands := telegram.NewCommandHandler(bot, controller, cameraManager, db, cfg.Telegram.PollInterval)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := commands.StartPolling(ctx); err != nil {
				logger.Printf("telegram commands disabled: %v", err)
			}
		}()
	}

	// Wire the HTTP surface
	var (
		mounts  []services.Mounter
		streams *services.StreamService
	)
	{
		streams = services.NewStreamService(controller, 0)
		extract := func(ctx context.Context, path string) ([]byte, error) {
			return camera.FirstFrame(ctx, cfg.Camera.FFmpegPath, path)
		}
		mounts = []services.Mounter{
			services.NewHealthService(db, controller),
			services.NewAuthService(authenticator),
			services.NewPipelineService(controller, cameraManager, db, guard),
			streams,
			services.NewCameraService(cameraManager, controller, guard),
			services.NewAnomalyService(anomalySvc, guard),
			services.NewUploadService(controller, overlay, extract, guard),
			configSvc,
			services.NewSystemService(services.SystemDeps{
				Pipeline:   controller,
				Cameras:    cameraManager,
				Dispatcher: dispatcher,
				Models:     registry,
				Sockets:    hub,
				Viewers:    streams,
				Notifier:   bot,
			}),
		}
	}

	errc := make(chan error)

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	u, err := url.Parse("http://" + cfg.Server.Addr())
	if err != nil {
		logger.Fatalf("invalid URL %#v: %s\n", cfg.Server.Addr(), err)
	}
	if u.Port() == "" {
		u.Host = net.JoinHostPort(u.Host, "80")
	}
	handleHTTPServer(ctx, u, mounts, ws.NewHandler(hub), &wg, errc, logger, debug)

	logger.Printf("exiting (%v)", <-errc)

	drain(controller, dispatcher, bus, &subscribers)
	cancel()
	wg.Wait()

	shutdown(logger, hub, registry, db)
	logger.Println("exited")
}

func runPublisher(ctx context.Context, wg *sync.WaitGroup, bus *pipeline.EventBus, p messaging.Publisher) {
	events, unsubscribe := bus.SubscribeChannel(64)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer p.Close()
		defer unsubscribe()
		messaging.Run(ctx, events, p, 5*time.Second)
	}()
}

// drain stops capture and flushes queued alerts through the bus to its
// subscribers. Subscriber contexts must still be live when it is called.
func drain(capture interface{ Stop() }, dispatcher *pipeline.AlertDispatcher, bus *pipeline.EventBus, subscribers *sync.WaitGroup) {
	capture.Stop()
	dispatcher.Close()
	bus.Close()
	subscribers.Wait()
}

// shutdown releases the long lived resources in order
func shutdown(logger *log.Logger, hub *ws.AnomalyHub, registry *models.Registry, db *database.Database) {
	hub.Close()
	if err := registry.Close(); err != nil {
		logger.Printf("failed to close model registry: %v", err)
	}
	if err := db.Close(); err != nil {
		logger.Printf("failed to close database: %v", err)
	}
}
