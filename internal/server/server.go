// Package server wires the HTTP API, the worker pool and the optional
// integrations (Drive, MQTT, ClickHouse) from one Config.
package server

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	log "github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/podcast-animator/internal/analytics"
	"github.com/codebuildervaibhav/podcast-animator/internal/avatar"
	"github.com/codebuildervaibhav/podcast-animator/internal/cleanup"
	"github.com/codebuildervaibhav/podcast-animator/internal/config"
	"github.com/codebuildervaibhav/podcast-animator/internal/diarize"
	"github.com/codebuildervaibhav/podcast-animator/internal/events"
	"github.com/codebuildervaibhav/podcast-animator/internal/export"
	"github.com/codebuildervaibhav/podcast-animator/internal/handlers"
	"github.com/codebuildervaibhav/podcast-animator/internal/logging"
	"github.com/codebuildervaibhav/podcast-animator/internal/media"
	"github.com/codebuildervaibhav/podcast-animator/internal/queue"
	"github.com/codebuildervaibhav/podcast-animator/internal/storage"
	"github.com/codebuildervaibhav/podcast-animator/internal/version"
)

// Server owns every long-lived component of the service
type Server struct {
	cfg     *config.Config
	app     *fiber.App
	logs    *logging.Buffer
	db      *storage.MetadataDB
	pool    *queue.WorkerPool
	cleaner *cleanup.Scheduler
	events  events.Publisher
	sink    *analytics.ClickHouseSink
}

// New builds the server. ctx bounds the workers and background exports.
func New(ctx context.Context, cfg *config.Config, logs *logging.Buffer) (*Server, error) {
	if logs == nil {
		logs = logging.NewBuffer(logging.DefaultCapacity)
	}

	if err := cleanup.EnsureDirs(cfg.Storage.TempDir, cfg.Storage.OutputDir, cfg.Storage.ExportDir); err != nil {
		return nil, err
	}
	if dir := filepath.Dir(cfg.Storage.Database); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	log.Info("Initializing components...")

	db, err := storage.NewMetadataDB(cfg.Storage.Database)
	if err != nil {
		return nil, err
	}

	s := &Server{cfg: cfg, logs: logs, db: db, events: events.Nop{}}

	var recorder analytics.Recorder = analytics.Nop{}
	diarizerOpts := []diarize.Option{}
	if cfg.ClickHouse.Addr != "" {
		sink, err := analytics.NewClickHouseSink(ctx, analytics.Config{
			Addr:     cfg.ClickHouse.Addr,
			Database: cfg.ClickHouse.Database,
			Username: cfg.ClickHouse.Username,
			Password: cfg.ClickHouse.Password,
		})
		if err != nil {
			log.WithError(err).Warn("ClickHouse not available, segment analytics disabled")
		} else {
			s.sink = sink
			recorder = sink
			diarizerOpts = append(diarizerOpts, diarize.WithScores())
			log.Info("ClickHouse segment analytics enabled")
		}
	}

	if cfg.MQTT.Broker != "" {
		pub, err := events.NewMQTTPublisher(events.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Topic:    cfg.MQTT.Topic,
		})
		if err != nil {
			log.WithError(err).Warn("MQTT not available, job events disabled")
		} else {
			s.events = pub
		}
	}

	var drive handlers.Uploader
	if _, err := os.Stat(cfg.GoogleDrive.CredentialsFile); err == nil {
		dc, err := storage.NewDriveClient(ctx, cfg.GoogleDrive.CredentialsFile, cfg.GoogleDrive.TokenFile, cfg.GoogleDrive.FolderName)
		if err != nil {
			log.WithError(err).Warn("Google Drive not available, exports stay local")
		} else {
			drive = dc
			log.Info("Google Drive integration enabled")
		}
	} else {
		log.Info("Google Drive credentials not found - exports stay local")
	}

	localStorage := storage.NewLocalStorage(cfg.Storage.OutputDir)
	resolver := avatar.NewXResolver(cfg.X.BaseURL, cfg.X.BearerToken)
	loader := avatar.NewLoader(nil)

	s.pool = queue.NewWorkerPool(cfg.Workers.Count, cfg.Workers.QueueSize, queue.Deps{
		Decoder:      media.NewDecoder(cfg.Storage.TempDir),
		Diarizer:     diarize.New(cfg.Diarization, diarizerOpts...),
		LocalStorage: localStorage,
		DB:           db,
		Resolver:     resolver,
		Events:       s.events,
		Analytics:    recorder,
		MaxDuration:  time.Duration(cfg.Limits.MaxDurationMinutes) * time.Minute,
	})

	s.cleaner = cleanup.NewScheduler(
		[]string{cfg.Storage.TempDir, cfg.Storage.ExportDir},
		cfg.Cleanup.IntervalMinutes,
		cfg.Cleanup.MaxAgeHours,
	)

	renderOpts := handlers.RenderOptions{Width: cfg.Render.Width, Height: cfg.Render.Height, FPS: cfg.Render.FPS}
	jobs := handlers.NewJobsHandler(ctx, handlers.JobsDeps{
		DB:       db,
		Store:    localStorage,
		Exporter: export.New(cfg.Storage.ExportDir, cfg.Storage.TempDir),
		Drive:    drive,
		Events:   s.events,
		Loader:   loader,
		Render:   renderOpts,
	})
	playback := handlers.NewPlaybackHandler(db, localStorage, loader, renderOpts,
		time.Duration(cfg.Render.TickMillis)*time.Millisecond)

	s.app = fiber.New(fiber.Config{
		BodyLimit:             cfg.Limits.MaxFileSizeMB * 1024 * 1024,
		DisableStartupMessage: true,
	})
	s.app.Use(recover.New())
	s.app.Use(logger.New())
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	s.routes(routeHandlers{
		upload:   handlers.NewUploadHandler(s.pool, cfg.Storage.TempDir, cfg.Limits.MaxFileSizeMB),
		gdrive:   handlers.NewGDriveHandler(s.pool, cfg.Storage.TempDir, cfg.Limits.MaxFileSizeMB),
		youtube:  handlers.NewYouTubeHandler(s.pool, cfg.Storage.TempDir, nil, nil),
		stream:   handlers.NewStreamHandler(s.pool, cfg.Storage.TempDir, cfg.Limits.MaxFileSizeMB),
		xuser:    handlers.NewXUserHandler(resolver),
		jobs:     jobs,
		playback: playback,
	})

	return s, nil
}

type routeHandlers struct {
	upload   *handlers.UploadHandler
	gdrive   *handlers.GDriveHandler
	youtube  *handlers.YouTubeHandler
	stream   *handlers.StreamHandler
	xuser    *handlers.XUserHandler
	jobs     *handlers.JobsHandler
	playback *handlers.PlaybackHandler
}

func (s *Server) routes(h routeHandlers) {
	app := s.app

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"version": version.Version,
			"ffmpeg":  media.FFmpegAvailable(),
		})
	})

	app.Post("/upload", h.upload.Handle)
	app.Post("/gdrive", h.gdrive.Handle)
	app.Post("/youtube", h.youtube.Handle)
	app.Get("/youtube/info", h.youtube.Info)
	app.Get("/x-user", h.xuser.Handle)

	app.Get("/jobs", h.jobs.List)
	app.Get("/jobs/:id", h.jobs.Get)
	app.Get("/jobs/:id/timeline", h.jobs.Timeline)
	app.Get("/jobs/:id/audio", h.jobs.Audio)
	app.Get("/jobs/:id/frame", h.jobs.Frame)
	app.Post("/jobs/:id/export", h.jobs.Export)
	app.Get("/jobs/:id/export", h.jobs.Download)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/stream", websocket.New(h.stream.Handle))
	app.Get("/ws/playback/:id", websocket.New(h.playback.Handle))

	app.Get("/logs", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"logs": s.logs.Lines(),
		})
	})
}

// App exposes the fiber app, mainly for tests
func (s *Server) App() *fiber.App {
	return s.app
}

// Run starts the workers and the cleanup scheduler, then serves until ctx is
// cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	s.pool.Start(ctx)
	s.cleaner.Start()

	addr := s.cfg.Addr()
	log.WithField("addr", addr).Infof("Server starting (%s)", version.Full())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		s.Close()
		return err
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		if err := s.app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.WithError(err).Warn("HTTP shutdown incomplete")
		}
		s.Close()
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
}

// Close releases everything New opened. Queued jobs finish first.
func (s *Server) Close() {
	s.pool.Stop()
	s.cleaner.Stop()
	s.events.Close()
	if s.sink != nil {
		if err := s.sink.Close(); err != nil {
			log.WithError(err).Warn("failed to close ClickHouse")
		}
	}
	if err := s.db.Close(); err != nil {
		log.WithError(err).Warn("failed to close database")
	}
}
