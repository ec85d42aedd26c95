package server

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/nhle/task-reminders/internal/model"
	"github.com/nhle/task-reminders/internal/store"
)

// subscriptionRequest is the body browsers post after PushManager.subscribe.
type subscriptionRequest struct {
	Subscription *struct {
		Endpoint string `json:"endpoint"`
		Keys     struct {
			P256dh string `json:"p256dh"`
			Auth   string `json:"auth"`
		} `json:"keys"`
	} `json:"subscription"`
}

// createTaskRequest is the body of POST /api/tasks.
type createTaskRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Priority    string     `json:"priority"`
	DueDate     *time.Time `json:"dueDate"`
}

type jobStatusResponse struct {
	Name       string    `json:"name"`
	State      string    `json:"state"`
	Runs       int       `json:"runs"`
	Skipped    int       `json:"skipped"`
	LastRun    time.Time `json:"lastRun,omitzero"`
	DurationMs int64     `json:"lastDurationMs"`
	LastError  string    `json:"lastError,omitempty"`
}

// health handles GET /api/health.
func (s *Server) health(c *fiber.Ctx) error {
	resp := fiber.Map{
		"status": "ok",
		"time":   time.Now().UTC(),
	}
	if s.jobs != nil {
		statuses := s.jobs.Statuses()
		jobs := make([]jobStatusResponse, 0, len(statuses))
		for _, st := range statuses {
			j := jobStatusResponse{
				Name:       st.Name,
				State:      st.State.String(),
				Runs:       st.Runs,
				Skipped:    st.Skipped,
				LastRun:    st.LastRun,
				DurationMs: st.LastDuration.Milliseconds(),
			}
			if st.LastError != nil {
				j.LastError = st.LastError.Error()
			}
			jobs = append(jobs, j)
		}
		resp["jobs"] = jobs
	}
	return c.JSON(resp)
}

// vapidPublicKey handles GET /api/push/vapid-public-key.
func (s *Server) vapidPublicKey(c *fiber.Ctx) error {
	if s.cfg.VAPIDPublicKey == "" {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Push notifications are not configured",
		})
	}
	return c.JSON(fiber.Map{"publicKey": s.cfg.VAPIDPublicKey})
}

// saveSubscription handles POST /api/save-subscription.
func (s *Server) saveSubscription(c *fiber.Ctx) error {
	userID := currentUser(c)

	var req subscriptionRequest
	if err := c.BodyParser(&req); err != nil || req.Subscription == nil || req.Subscription.Endpoint == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid subscription data",
		})
	}

	sub, err := s.store.UpsertSubscription(c.Context(), model.Subscription{
		UserID:   userID,
		Endpoint: req.Subscription.Endpoint,
		Keys: model.SubscriptionKeys{
			P256dh: req.Subscription.Keys.P256dh,
			Auth:   req.Subscription.Keys.Auth,
		},
	})
	if err != nil {
		if errors.Is(err, model.ErrInvalidSubscription) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   "Invalid subscription data",
				"details": err.Error(),
			})
		}
		s.logger.Error("saving subscription failed", "user_id", userID, "endpoint", req.Subscription.Endpoint, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save subscription",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Subscription saved successfully",
		"id":      sub.ID,
	})
}

// createTask handles POST /api/tasks. A due date, when given, must lie in
// the future.
func (s *Server) createTask(c *fiber.Ctx) error {
	var req createTaskRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid task data",
		})
	}

	task := model.Task{
		OwnerID:     currentUser(c),
		Title:       req.Title,
		Description: req.Description,
		Priority:    model.Priority(req.Priority),
		DueDate:     req.DueDate,
	}
	if err := task.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if err := task.ValidateDueDate(s.now()); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	created, err := s.store.CreateTask(c.Context(), task)
	if err != nil {
		s.logger.Error("creating task failed", "user_id", task.OwnerID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create task",
		})
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

// deleteSubscription handles DELETE /api/save-subscription.
func (s *Server) deleteSubscription(c *fiber.Ctx) error {
	userID := currentUser(c)

	var req subscriptionRequest
	if err := c.BodyParser(&req); err != nil || req.Subscription == nil || req.Subscription.Endpoint == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid subscription data",
		})
	}

	err := s.store.DeleteSubscription(c.Context(), userID, req.Subscription.Endpoint)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Subscription not found"})
	case err != nil:
		s.logger.Error("deleting subscription failed", "user_id", userID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete subscription",
		})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// triggerJob handles POST /api/jobs/:name/trigger.
func (s *Server) triggerJob(c *fiber.Ctx) error {
	if s.jobs == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Scheduler is disabled",
		})
	}
	name := c.Params("name")
	for _, st := range s.jobs.Statuses() {
		if st.Name != name {
			continue
		}
		if !s.jobs.Trigger(name) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "A run is already pending",
			})
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"message": "Job triggered", "job": name})
	}
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Unknown job"})
}

// serviceWorker handles GET /service-worker.js.
func (s *Server) serviceWorker(c *fiber.Ctx) error {
	body, err := static.ReadFile("static/service-worker.js")
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, "application/javascript; charset=utf-8")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set("Service-Worker-Allowed", "/")
	return c.Send(body)
}
