package app

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/task-reminders/internal/model"
	"github.com/nhle/task-reminders/internal/testutil"
)

func testConfig(t *testing.T) *model.AppConfig {
	t.Helper()
	cfg, err := model.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	cfg.Database.Path = filepath.Join(t.TempDir(), "data", "tasks.db")
	cfg.Server.Enabled = false
	cfg.Scheduler.RunAtStart = false
	return cfg
}

func TestNewWiresJobs(t *testing.T) {
	cfg := testConfig(t)
	var buf bytes.Buffer
	logger, err := NewLogger(model.LogConfig{Level: "debug", Format: "json"}, &buf)
	require.NoError(t, err)

	a, err := New(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Stop(context.Background()) })

	require.NotNil(t, a.Scheduler())
	statuses := a.Scheduler().Statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, JobDueNow, statuses[0].Name)
	assert.Equal(t, JobUpcoming, statuses[1].Name)
	assert.Equal(t, time.Minute, statuses[0].Timeout)
	assert.Equal(t, 5*time.Minute, statuses[1].Timeout)

	assert.Contains(t, buf.String(), "push notifications disabled")
	assert.Contains(t, buf.String(), "reminder emails disabled")
}

func TestNewAppliesRunTimeout(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scheduler.RunTimeoutSec = 45

	a, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Stop(context.Background()) })

	for _, st := range a.Scheduler().Statuses() {
		assert.Equal(t, 45*time.Second, st.Timeout, st.Name)
	}
}

func TestRunDueNowWithoutDispatchers(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scheduler.Enabled = false

	a, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Stop(context.Background()) })
	assert.Nil(t, a.Scheduler())

	u := testutil.SeedUser(t, a.Store(), "Ada", "ada@example.com")
	task := testutil.SeedTask(t, a.Store(), u.ID, "Pay rent", time.Now().Add(-time.Minute))

	require.NoError(t, a.RunDueNow(context.Background()))
	require.NoError(t, a.RunUpcoming(context.Background()))
	assert.True(t, testutil.MustGetTask(t, a.Store(), task.ID).IsCompleted)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scheduler.DueNowIntervalSec = 0

	_, err := New(cfg, nil)
	assert.ErrorContains(t, err, "due_now_interval_sec")
}

func TestNewLogger(t *testing.T) {
	_, err := NewLogger(model.LogConfig{Level: "warn", Format: "text"}, &bytes.Buffer{})
	assert.NoError(t, err)

	_, err = NewLogger(model.LogConfig{Level: "loud"}, &bytes.Buffer{})
	assert.Error(t, err)

	_, err = NewLogger(model.LogConfig{Level: "info", Format: "xml"}, &bytes.Buffer{})
	assert.Error(t, err)
}
