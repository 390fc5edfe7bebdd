package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"lesson-flow-service/internal/app"
	"lesson-flow-service/internal/domain"
	"lesson-flow-service/internal/infra/memory"
	pginfra "lesson-flow-service/internal/infra/postgres"
	pgmigrations "lesson-flow-service/internal/infra/postgres/migrations"
	infraredis "lesson-flow-service/internal/infra/redis"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
	"go.uber.org/zap"
)

// collectingPush records emitted events for assertions.
type collectingPush struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *collectingPush) SendToUser(_ string, event domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *collectingPush) SendToRoom(_ string, event domain.Event) {}

func (p *collectingPush) count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev.Name == name {
			n++
		}
	}
	return n
}

func TestLessonFlowEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	seedLesson(t, ctx, pgURL, sampleLesson())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}

	push := &collectingPush{}
	generator := memory.StaticGenerator{}
	orchestrator := app.NewOrchestrator(
		infraredis.NewFlowStore(redisClient, 5*time.Minute),
		memory.NewLessonRepository(pginfra.NewLessonLoader(pool), 5*time.Minute),
		infraredis.NewContentCache(redisClient, memory.GeneratorRenderer{Generator: generator}, 5*time.Minute),
		pginfra.NewSessionStore(pool),
		generator,
		push,
		zap.NewNop(),
		app.Options{},
	)

	// Start presenting, walk to the end, and verify the durable session.
	result, err := orchestrator.Start(ctx, "u1", "lesson-1", domain.FlowOptions{Mode: domain.ModeSlidesOnly})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if result.TotalSlides != 2 {
		t.Fatalf("expected 2 slides, got %d", result.TotalSlides)
	}

	if _, err := orchestrator.HandleMessage(ctx, "u1", "lesson-1", "what is a fraction?"); err != nil {
		t.Fatalf("message: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := orchestrator.Navigate(ctx, "u1", "lesson-1", app.NavigateRequest{Direction: "next"}); err != nil {
			t.Fatalf("navigate %d: %v", i, err)
		}
	}

	if push.count(domain.EventLessonCompleted) != 1 {
		t.Fatalf("expected lesson completion")
	}
	if _, ok := orchestrator.Get("u1", "lesson-1"); ok {
		t.Fatalf("flow should be removed after completion")
	}

	// The session row is closed with the chat history persisted.
	var slideNumber int
	var messages []byte
	var closedAt *time.Time
	err = pool.QueryRow(ctx,
		`SELECT slide_number, messages, closed_at FROM lesson_sessions WHERE id=$1`,
		result.SessionID).Scan(&slideNumber, &messages, &closedAt)
	if err != nil {
		t.Fatalf("read session: %v", err)
	}
	if closedAt == nil {
		t.Fatalf("session should be closed")
	}
	var history []domain.ChatMessage
	if err := json.Unmarshal(messages, &history); err != nil {
		t.Fatalf("unmarshal history: %v", err)
	}
	if len(history) < 2 {
		t.Fatalf("expected persisted conversation, got %d messages", len(history))
	}

	// Slide content was cached in Redis on first render.
	markup, err := redisClient.HGet(ctx, "lesson:lesson-1:slides", "0").Result()
	if err != nil || markup == "" {
		t.Fatalf("expected cached slide markup, got %q err %v", markup, err)
	}

	// A fresh start opens a new session.
	again, err := orchestrator.Start(ctx, "u1", "lesson-1", domain.FlowOptions{Mode: domain.ModeSlidesOnly})
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if again.SessionID == result.SessionID {
		t.Fatalf("expected a new session after the old one closed")
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "lesson", "POSTGRES_PASSWORD": "lessonpass", "POSTGRES_DB": "lessondb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://lesson:lessonpass@%s:%s/lessondb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func seedLesson(t *testing.T, ctx context.Context, dsn string, lesson domain.Lesson) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	data, err := json.Marshal(lesson)
	if err != nil {
		t.Fatalf("marshal lesson: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO lessons (id, data) VALUES (?, ?::jsonb) ON CONFLICT (id) DO UPDATE SET data=EXCLUDED.data`, lesson.ID, string(data)); err != nil {
		t.Fatalf("insert lesson: %v", err)
	}
}

func sampleLesson() domain.Lesson {
	return domain.Lesson{
		ID:    "lesson-1",
		Title: "Introduction to Fractions",
		Sections: []domain.Section{
			{
				ID:       "sec-1",
				Title:    "What fractions are",
				Keywords: []string{"fraction", "numerator", "denominator"},
				Slides: []domain.Slide{
					{Content: "A fraction names part of a whole."},
					{Content: "The numerator counts parts, the denominator sizes them."},
				},
			},
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
