// Package app wires configuration, storage, dispatchers, the scan engine,
// the scheduler and the HTTP server into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/nhle/task-reminders/internal/model"
	"github.com/nhle/task-reminders/internal/notify/email"
	"github.com/nhle/task-reminders/internal/notify/push"
	"github.com/nhle/task-reminders/internal/pipeline"
	"github.com/nhle/task-reminders/internal/schedule"
	"github.com/nhle/task-reminders/internal/server"
	"github.com/nhle/task-reminders/internal/store"
)

// Job names registered with the scheduler.
const (
	JobDueNow   = "due-now"
	JobUpcoming = "upcoming"
)

// App is a fully wired reminder service.
type App struct {
	cfg       *model.AppConfig
	logger    *slog.Logger
	store     *store.SQLiteStore
	engine    *pipeline.Engine
	scheduler *schedule.Scheduler
	server    *server.Server
}

// New opens the store, builds the enabled dispatchers and registers the
// scan jobs. Nothing runs until Start.
func New(cfg *model.AppConfig, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	loc, err := time.LoadLocation(cfg.Mail.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", cfg.Mail.Timezone, err)
	}

	st, err := openStore(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	pusher, err := newPusher(cfg, logger)
	if err != nil {
		st.Close()
		return nil, err
	}
	mailer, err := newMailer(cfg, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	engine := pipeline.NewEngine(st, pusher, mailer, pipeline.Options{
		Horizon:     cfg.Scheduler.UpcomingHorizon(),
		SendTimeout: cfg.Scheduler.SendTimeout(),
		Concurrency: cfg.Scheduler.Concurrency,
		PruneGone:   cfg.Push.PruneExpired,
		Location:    loc,
		PushIcon:    cfg.Push.Icon,
		PushURL:     cfg.Push.URL,
	}, logger.With("component", "pipeline"))

	a := &App{
		cfg:    cfg,
		logger: logger,
		store:  st,
		engine: engine,
	}

	if cfg.Scheduler.Enabled {
		a.scheduler, err = schedule.New(logger.With("component", "scheduler"),
			schedule.Job{
				Name:       JobDueNow,
				Interval:   cfg.Scheduler.DueNowInterval(),
				Timeout:    cfg.Scheduler.RunTimeout(cfg.Scheduler.DueNowInterval()),
				RunAtStart: cfg.Scheduler.RunAtStart,
				Run:        a.RunDueNow,
			},
			schedule.Job{
				Name:       JobUpcoming,
				Interval:   cfg.Scheduler.UpcomingInterval(),
				Timeout:    cfg.Scheduler.RunTimeout(cfg.Scheduler.UpcomingInterval()),
				RunAtStart: cfg.Scheduler.RunAtStart,
				Run:        a.RunUpcoming,
			},
		)
		if err != nil {
			st.Close()
			return nil, err
		}
	}

	if cfg.Server.Enabled {
		var jobs server.Jobs
		if a.scheduler != nil {
			jobs = a.scheduler
		}
		a.server = server.New(server.Config{
			Addr:           cfg.Server.Addr,
			VAPIDPublicKey: cfg.Push.VAPIDPublicKey,
		}, st, jobs, logger.With("component", "http"))
	}

	return a, nil
}

func openStore(path string) (*store.SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	st, err := store.NewSQLiteStore(path)
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", path, err)
	}
	return st, nil
}

func newPusher(cfg *model.AppConfig, logger *slog.Logger) (pipeline.PushSender, error) {
	if !cfg.PushEnabled() {
		logger.Warn("push notifications disabled, no VAPID keypair configured")
		return nil, nil
	}
	sender, err := push.NewSender(push.Config{
		VAPIDPublicKey:  cfg.Push.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.Push.VAPIDPrivateKey,
		Subject:         cfg.Push.Subject,
		TTL:             time.Duration(cfg.Push.TTLSec) * time.Second,
	}, &http.Client{})
	if err != nil {
		return nil, err
	}
	return sender, nil
}

func newMailer(cfg *model.AppConfig, logger *slog.Logger) (pipeline.MailSender, error) {
	if !cfg.MailEnabled() {
		logger.Warn("reminder emails disabled, no SMTP host or sender configured")
		return nil, nil
	}

	smtpCfg := cfg.Mail.SMTP
	opts := []email.Option{email.WithLogger(logger.With("component", "email"))}
	if imapCfg := cfg.Mail.IMAP; imapCfg.Host != "" && imapCfg.SentMailbox != "" {
		opts = append(opts, email.WithArchiver(email.NewIMAPArchiver(
			imapCfg.Host, imapCfg.Port, smtpCfg.Username, smtpCfg.Password, imapCfg.TLS, imapCfg.SentMailbox,
		)))
	}

	sender, err := email.NewSMTPSender(email.SMTPConfig{
		Host:     smtpCfg.Host,
		Port:     smtpCfg.Port,
		Username: smtpCfg.Username,
		Password: smtpCfg.Password,
		From:     smtpCfg.From,
		TLS:      smtpCfg.TLS,
	}, opts...)
	if err != nil {
		return nil, err
	}
	return sender, nil
}

// Store returns the underlying store.
func (a *App) Store() *store.SQLiteStore {
	return a.store
}

// Engine returns the scan engine.
func (a *App) Engine() *pipeline.Engine {
	return a.engine
}

// Scheduler returns the job scheduler, or nil when it is disabled.
func (a *App) Scheduler() *schedule.Scheduler {
	return a.scheduler
}

// RunDueNow runs one due-now scan.
func (a *App) RunDueNow(ctx context.Context) error {
	_, err := a.engine.ScanDueNow(ctx)
	return err
}

// RunUpcoming runs one upcoming-reminder scan.
func (a *App) RunUpcoming(ctx context.Context) error {
	_, err := a.engine.ScanUpcoming(ctx)
	return err
}

// Start launches the HTTP server and the scheduler.
func (a *App) Start(ctx context.Context) error {
	if a.server != nil {
		if err := a.server.Start(); err != nil {
			return err
		}
	}
	if a.scheduler != nil {
		if err := a.scheduler.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Stop shuts down in dependency order: HTTP, then the scheduler (letting
// in-flight scans finish), then the store.
func (a *App) Stop(ctx context.Context) error {
	var errs []error
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.scheduler != nil {
		if err := a.scheduler.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing store: %w", err))
	}
	return errors.Join(errs...)
}
