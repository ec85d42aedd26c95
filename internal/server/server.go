// Package server exposes the HTTP endpoints browsers use to register for
// push reminders, plus health and job controls.
package server

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/nhle/task-reminders/internal/model"
	"github.com/nhle/task-reminders/internal/schedule"
)

//go:embed static/service-worker.js
var static embed.FS

// UserHeader carries the authenticated user id set by the upstream proxy.
const UserHeader = "X-User-ID"

// Store persists push subscriptions and user-created tasks.
type Store interface {
	UpsertSubscription(ctx context.Context, sub model.Subscription) (model.Subscription, error)
	DeleteSubscription(ctx context.Context, userID, endpoint string) error
	CreateTask(ctx context.Context, task model.Task) (model.Task, error)
}

// Jobs reports on and triggers scheduled jobs.
type Jobs interface {
	Statuses() []schedule.JobStatus
	Trigger(name string) bool
}

// Config holds the listener settings.
type Config struct {
	Addr           string
	VAPIDPublicKey string
}

// Server is the Fiber-based HTTP surface.
type Server struct {
	app    *fiber.App
	cfg    Config
	store  Store
	jobs   Jobs
	logger *slog.Logger
	now    func() time.Time
}

// New builds the app and registers all routes. jobs may be nil when the
// scheduler is disabled.
func New(cfg Config, st Store, jobs Jobs, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		store:  st,
		jobs:   jobs,
		logger: logger,
		now:    time.Now,
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "Task Reminders",
		DisableStartupMessage: true,
		ErrorHandler:          s.errorHandler,
	})
	s.app.Use(recover.New())
	s.app.Use(s.requestLogger)
	s.registerRoutes()
	return s
}

// App returns the underlying Fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) registerRoutes() {
	s.app.Get("/service-worker.js", s.serviceWorker)

	api := s.app.Group("/api")
	api.Get("/health", s.health)
	api.Get("/push/vapid-public-key", s.vapidPublicKey)
	api.Post("/save-subscription", requireUser, s.saveSubscription)
	api.Delete("/save-subscription", requireUser, s.deleteSubscription)
	api.Post("/tasks", requireUser, s.createTask)
	api.Post("/jobs/:name/trigger", requireUser, s.triggerJob)
}

// requireUser rejects requests without the upstream user header and
// stores the user id in c.Locals.
func requireUser(c *fiber.Ctx) error {
	userID := strings.TrimSpace(c.Get(UserHeader))
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "User not authenticated",
		})
	}
	c.Locals(UserHeader, userID)
	return c.Next()
}

func currentUser(c *fiber.Ctx) string {
	id, _ := c.Locals(UserHeader).(string)
	return id
}

// Start listens on the configured address in the background and reports
// immediate startup failures such as a port already in use.
func (s *Server) Start() error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.app.Listen(s.cfg.Addr); err != nil {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed to start: %w", err)
	case <-time.After(100 * time.Millisecond):
	}

	s.logger.Info("HTTP server started", "addr", s.cfg.Addr)
	return nil
}

// Shutdown stops accepting connections and waits for active requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.app.ShutdownWithContext(ctx); err != nil {
		return fmt.Errorf("shutting down HTTP server: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

func (s *Server) requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	s.logger.Debug("http request",
		"method", c.Method(),
		"path", c.Path(),
		"status", c.Response().StatusCode(),
		"latency", time.Since(start),
	)
	return err
}

func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Path(), "error", err)
		return c.Status(code).JSON(fiber.Map{"error": "Internal server error"})
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
