// Package pipeline scans stored tasks for due and upcoming deadlines,
// applies the matching state transitions and dispatches notifications.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nhle/task-reminders/internal/model"
	"github.com/nhle/task-reminders/internal/notify/email"
	"github.com/nhle/task-reminders/internal/notify/push"
	"github.com/nhle/task-reminders/internal/store"
)

// PushSender delivers one push message to one subscription.
type PushSender interface {
	Send(ctx context.Context, sub model.Subscription, payload push.Payload) error
}

// MailSender delivers one HTML email.
type MailSender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// Store is the subset of persistence the engine reads and writes.
type Store interface {
	store.TaskStore
	store.SubscriptionStore
	store.UserStore
}

// Options tunes an Engine. Zero values fall back to the defaults below.
type Options struct {
	// Horizon is how far ahead ScanUpcoming looks. Default 30m.
	Horizon time.Duration

	// SendTimeout bounds each email or push send. Default 10s.
	SendTimeout time.Duration

	// Concurrency caps in-flight sends per scan. Default 4.
	Concurrency int

	// BatchLimit caps tasks handled per scan; zero means no cap.
	BatchLimit int

	// PruneGone deletes subscriptions whose endpoint no longer exists.
	PruneGone bool

	// Location is the zone due times are rendered in. Default UTC.
	Location *time.Location

	PushIcon string
	PushURL  string

	// Now overrides the clock, for tests.
	Now func() time.Time
}

const (
	defaultHorizon     = 30 * time.Minute
	defaultSendTimeout = 10 * time.Second
	defaultConcurrency = 4
)

// Engine runs the due-now and upcoming scans. It holds no state between
// scans; every transition is a conditional store write.
type Engine struct {
	store  Store
	pusher PushSender
	mailer MailSender
	opts   Options
	logger *slog.Logger
}

// NewEngine builds an engine. A nil pusher or mailer disables that channel:
// due tasks are still auto-completed without a pusher, and ScanUpcoming
// does nothing without a mailer.
func NewEngine(st Store, pusher PushSender, mailer MailSender, opts Options, logger *slog.Logger) *Engine {
	if opts.Horizon <= 0 {
		opts.Horizon = defaultHorizon
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  st,
		pusher: pusher,
		mailer: mailer,
		opts:   opts,
		logger: logger,
	}
}

// Now returns the engine's current time in UTC.
func (e *Engine) Now() time.Time {
	return e.opts.Now().UTC()
}

// DueNowResult summarizes one ScanDueNow run.
type DueNowResult struct {
	Now       time.Time
	Matched   int
	Completed int

	// Raced counts matched tasks that changed before the completion write.
	Raced int

	PushSent   int
	PushFailed int
	Pruned     int

	// LookupFailed counts owners whose subscriptions could not be loaded.
	LookupFailed int
}

// LogValue implements slog.LogValuer.
func (r DueNowResult) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("matched", r.Matched),
		slog.Int("completed", r.Completed),
		slog.Int("raced", r.Raced),
		slog.Int("push_sent", r.PushSent),
		slog.Int("push_failed", r.PushFailed),
		slog.Int("pruned", r.Pruned),
	)
}

// ScanDueNow auto-completes every open task due at or before now and pushes
// a due notification for each task this scan completed. Tasks that a user
// completed or rescheduled between the query and the write are neither
// completed again nor notified.
func (e *Engine) ScanDueNow(ctx context.Context) (DueNowResult, error) {
	now := e.Now()
	res := DueNowResult{Now: now}

	found, err := e.store.FindByDueWindow(ctx, store.DueWindow{
		Through: now,
		Limit:   e.opts.BatchLimit,
	})
	if err != nil {
		return res, fmt.Errorf("finding due tasks: %w", err)
	}

	tasks := make([]model.Task, 0, len(found))
	for _, t := range found {
		if t.IsCompleted || Classify(now, e.opts.Horizon, t.DueDate) != DueNow {
			continue
		}
		tasks = append(tasks, t)
	}
	res.Matched = len(tasks)
	if len(tasks) == 0 {
		return res, nil
	}

	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}

	claimed, err := e.store.BulkSetCompletedWhere(ctx, ids, store.CompletedPrecondition{
		DueThrough:  now,
		CompletedAt: now,
	})
	if err != nil {
		return res, fmt.Errorf("completing due tasks: %w", err)
	}
	res.Completed = len(claimed)
	res.Raced = len(ids) - len(claimed)
	if res.Raced > 0 {
		e.logger.Debug("due tasks changed before completion", "count", res.Raced)
	}

	if e.pusher == nil || len(claimed) == 0 {
		e.logger.Info("due-now scan finished", "result", res)
		return res, nil
	}

	done := make(map[string]struct{}, len(claimed))
	for _, id := range claimed {
		done[id] = struct{}{}
	}
	byOwner := make(map[string][]model.Task)
	var owners []string
	for _, t := range tasks {
		if _, ok := done[t.ID]; !ok {
			continue
		}
		if _, seen := byOwner[t.OwnerID]; !seen {
			owners = append(owners, t.OwnerID)
		}
		byOwner[t.OwnerID] = append(byOwner[t.OwnerID], t)
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(e.opts.Concurrency)

	for _, owner := range owners {
		subs, err := e.store.FindByUserID(ctx, owner)
		if err != nil {
			e.logger.Warn("loading push subscriptions failed", "user_id", owner, "error", err)
			res.LookupFailed++
			continue
		}
		if len(subs) == 0 {
			continue
		}

		for _, task := range byOwner[owner] {
			payload := push.DueNowPayload(task, e.opts.PushIcon, e.opts.PushURL)
			for _, sub := range subs {
				g.Go(func() error {
					err := e.sendPush(ctx, task, sub, payload)
					pruned := err != nil && push.IsGone(err) && e.opts.PruneGone && e.prune(ctx, sub)

					mu.Lock()
					defer mu.Unlock()
					if err == nil {
						res.PushSent++
						return nil
					}
					res.PushFailed++
					if pruned {
						res.Pruned++
					}
					return nil
				})
			}
		}
	}
	_ = g.Wait()

	e.logger.Info("due-now scan finished", "result", res)
	return res, nil
}

func (e *Engine) sendPush(ctx context.Context, task model.Task, sub model.Subscription, payload push.Payload) error {
	sendCtx, cancel := context.WithTimeout(ctx, e.opts.SendTimeout)
	defer cancel()

	err := e.pusher.Send(sendCtx, sub, payload)
	if err != nil {
		e.logger.Warn("push send failed",
			"task_id", task.ID,
			"user_id", task.OwnerID,
			"endpoint", sub.Endpoint,
			"permanent", push.IsPermanent(err),
			"gone", push.IsGone(err),
			"error", err,
		)
	}
	return err
}

func (e *Engine) prune(ctx context.Context, sub model.Subscription) bool {
	err := e.store.DeleteSubscription(ctx, sub.UserID, sub.Endpoint)
	if errors.Is(err, store.ErrNotFound) {
		return false
	}
	if err != nil {
		e.logger.Warn("pruning expired subscription failed",
			"user_id", sub.UserID, "endpoint", sub.Endpoint, "error", err)
		return false
	}
	e.logger.Info("pruned expired subscription", "user_id", sub.UserID, "endpoint", sub.Endpoint)
	return true
}

// UpcomingResult summarizes one ScanUpcoming run.
type UpcomingResult struct {
	Now        time.Time
	Matched    int
	Recipients int

	// Skipped counts owners with no user row or no email address.
	Skipped int

	EmailsSent   int
	EmailsFailed int

	// Marked counts tasks whose reminder flag this scan set.
	Marked     int
	MarkFailed int
}

// LogValue implements slog.LogValuer.
func (r UpcomingResult) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("matched", r.Matched),
		slog.Int("recipients", r.Recipients),
		slog.Int("skipped", r.Skipped),
		slog.Int("emails_sent", r.EmailsSent),
		slog.Int("emails_failed", r.EmailsFailed),
		slog.Int("marked", r.Marked),
		slog.Int("mark_failed", r.MarkFailed),
	)
}

// ScanUpcoming emails each owner one reminder listing their open,
// unreminded tasks due within the horizon, then marks exactly those tasks
// as reminded. A failed send leaves the tasks unmarked for the next scan.
func (e *Engine) ScanUpcoming(ctx context.Context) (UpcomingResult, error) {
	now := e.Now()
	res := UpcomingResult{Now: now}

	if e.mailer == nil {
		e.logger.Debug("upcoming scan skipped, mail is not configured")
		return res, nil
	}

	after, through := UpcomingWindow(now, e.opts.Horizon)
	notReminded := false
	found, err := e.store.FindByDueWindow(ctx, store.DueWindow{
		After:        &after,
		Through:      through,
		ReminderSent: &notReminded,
		Limit:        e.opts.BatchLimit,
	})
	if err != nil {
		return res, fmt.Errorf("finding upcoming tasks: %w", err)
	}

	byOwner := make(map[string][]model.Task)
	var owners []string
	for _, t := range found {
		if t.IsCompleted || t.ReminderSent || Classify(now, e.opts.Horizon, t.DueDate) != Upcoming {
			continue
		}
		if _, seen := byOwner[t.OwnerID]; !seen {
			owners = append(owners, t.OwnerID)
		}
		byOwner[t.OwnerID] = append(byOwner[t.OwnerID], t)
		res.Matched++
	}
	if len(owners) == 0 {
		return res, nil
	}

	users, err := e.store.GetUsersByIDs(ctx, owners)
	if err != nil {
		return res, fmt.Errorf("loading task owners: %w", err)
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(e.opts.Concurrency)

	pre := store.ReminderPrecondition{DueAfter: after, DueThrough: through}
	for _, owner := range owners {
		user, ok := users[owner]
		if !ok || user.Email == "" {
			e.logger.Warn("skipping reminder for owner without email", "user_id", owner)
			res.Skipped++
			continue
		}
		res.Recipients++

		tasks := byOwner[owner]
		g.Go(func() error {
			marked, sendErr, markErr := e.remind(ctx, user, tasks, pre)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case sendErr != nil:
				res.EmailsFailed++
			case markErr != nil:
				res.EmailsSent++
				res.MarkFailed += len(tasks)
			default:
				res.EmailsSent++
				res.Marked += marked
			}
			return nil
		})
	}
	_ = g.Wait()

	e.logger.Info("upcoming scan finished", "result", res)
	return res, nil
}

// remind renders and sends one reminder to user, then marks its tasks.
func (e *Engine) remind(
	ctx context.Context,
	user model.User,
	tasks []model.Task,
	pre store.ReminderPrecondition,
) (marked int, sendErr, markErr error) {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}

	body, err := email.RenderReminder(email.ReminderData{
		UserName: user.Name,
		Tasks:    tasks,
		Horizon:  e.opts.Horizon,
		Location: e.opts.Location,
	})
	if err != nil {
		e.logger.Error("rendering reminder failed", "user_id", user.ID, "task_ids", ids, "error", err)
		return 0, err, nil
	}

	sendCtx, cancel := context.WithTimeout(ctx, e.opts.SendTimeout)
	err = e.mailer.Send(sendCtx, user.Email, email.ReminderSubject, body)
	cancel()
	if err != nil {
		e.logger.Warn("reminder email failed",
			"user_id", user.ID,
			"task_ids", ids,
			"permanent", email.IsPermanent(err),
			"error", err,
		)
		return 0, err, nil
	}

	updated, err := e.store.BulkSetReminderSentWhere(ctx, ids, pre)
	if err != nil {
		// The email went out; the next scan will send it again.
		e.logger.Error("marking reminded tasks failed after send",
			"user_id", user.ID, "task_ids", ids, "error", err)
		return 0, nil, err
	}
	return len(updated), nil, nil
}
