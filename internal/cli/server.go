package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lesson-flow-service/internal/app"
	"lesson-flow-service/internal/config"
	"lesson-flow-service/internal/domain"
	"lesson-flow-service/internal/infra/memory"
	openaigen "lesson-flow-service/internal/infra/openai"
	pginfra "lesson-flow-service/internal/infra/postgres"
	redisinfra "lesson-flow-service/internal/infra/redis"
	transport "lesson-flow-service/internal/transport/http"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the lesson flow server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, time.Hour)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
	}

	var loader memory.LessonLoader = memory.NewStaticLessonLoader(sampleLessons())
	if pool != nil {
		loader = pginfra.NewLessonLoader(pool)
	}
	lessonTTL := config.TTLDuration(cfg.Lesson.TTL, 10*time.Minute)
	lessons := memory.NewLessonRepository(loader, lessonTTL)

	var generator app.Generator = memory.StaticGenerator{}
	if cfg.Generator.APIKey != "" {
		generator, err = openaigen.NewGenerator(openaigen.Config{
			APIKey:  cfg.Generator.APIKey,
			Model:   cfg.Generator.Model,
			BaseURL: cfg.Generator.BaseURL,
		})
		if err != nil {
			return err
		}
	}
	renderer := memory.GeneratorRenderer{Generator: generator}

	contentTTL := config.TTLDuration(cfg.Lesson.ContentTTL, 30*time.Minute)
	var cache app.ContentCache
	if redisClient != nil {
		cache = redisinfra.NewContentCache(redisClient, renderer, contentTTL)
	} else {
		cache = memory.NewContentCache(renderer, contentTTL)
	}

	var flows app.FlowRepository
	if redisClient != nil {
		flows = redisinfra.NewFlowStore(redisClient, redisTTL)
	} else {
		flows = memory.NewFlowStore()
	}

	var sessions app.SessionStore
	if pool != nil {
		sessions = pginfra.NewSessionStore(pool)
	} else {
		sessions = memory.NewSessionStore()
	}

	var roomPub transport.RoomPublisher
	var roomSub transport.RoomSubscriber
	if redisClient != nil {
		bus := redisinfra.NewRoomBus(redisClient, logger)
		roomPub, roomSub = bus, bus
	}
	hub := transport.NewHub(logger, roomPub, roomSub)

	opts := app.Options{
		Defaults: domain.PacingSettings{
			PlaybackSpeed:    1.0,
			RevealDelay:      config.TTLDuration(cfg.Flow.RevealDelay, 0),
			AutoAdvanceGrace: config.TTLDuration(cfg.Flow.AutoAdvanceGrace, 0),
		},
		ComprehensionEvery: cfg.Flow.ComprehensionEvery,
	}
	if cfg.Generator.APIKey != "" {
		opts.Relevance = app.GeneratorRelevance{Generator: generator}
	}
	orchestrator := app.NewOrchestrator(flows, lessons, cache, sessions, generator, hub, logger, opts)

	wsHandler := transport.NewWSHandler(orchestrator, hub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("starting lesson flow service", zap.String("port", finalPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("failed to start server", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutting down server")
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleLessons provides a minimal lesson; swap the loader with the
// Postgres-backed one in production.
func sampleLessons() map[string]domain.Lesson {
	return map[string]domain.Lesson{
		"lesson-1": {
			ID:    "lesson-1",
			Title: "Introduction to Fractions",
			Sections: []domain.Section{
				{
					ID:       "sec-1",
					Title:    "What fractions are",
					Keywords: []string{"fraction", "numerator", "denominator"},
					Slides: []domain.Slide{
						{
							Content: "A fraction names part of a whole.",
							Points: []domain.RevealPoint{
								{Text: "The whole is divided into equal parts."},
								{Text: "A fraction counts some of those parts."},
							},
						},
						{Content: "The numerator counts parts, the denominator sizes them."},
					},
				},
			},
		},
	}
}
