package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/task-reminders/internal/schedule"
	"github.com/nhle/task-reminders/internal/store"
	"github.com/nhle/task-reminders/internal/testutil"
)

type fakeJobs struct {
	statuses  []schedule.JobStatus
	triggered []string
	busy      bool
}

func (f *fakeJobs) Statuses() []schedule.JobStatus { return f.statuses }

func (f *fakeJobs) Trigger(name string) bool {
	if f.busy {
		return false
	}
	f.triggered = append(f.triggered, name)
	return true
}

type fixture struct {
	srv    *Server
	store  *store.SQLiteStore
	userID string
}

func newFixture(t *testing.T, jobs Jobs) fixture {
	t.Helper()
	s := testutil.NewTestStore(t)
	u := testutil.SeedUser(t, s, "Ada", "ada@example.com")

	srv := New(Config{VAPIDPublicKey: "BPubKey"}, s, jobs, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return fixture{srv: srv, store: s, userID: u.ID}
}

func do(t *testing.T, srv *Server, req *http.Request) (int, map[string]any) {
	t.Helper()

	resp, err := srv.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var body map[string]any
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &body))
	}
	return resp.StatusCode, body
}

func subscriptionRequestFor(method, userID, body string) *http.Request {
	req := httptest.NewRequest(method, "/api/save-subscription", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(UserHeader, userID)
	}
	return req
}

func subscriptionBody(endpoint string) string {
	return `{"subscription":{"endpoint":"` + endpoint + `","keys":{"p256dh":"BKey","auth":"authSecret"}}}`
}

func TestSaveSubscription(t *testing.T) {
	f := newFixture(t, nil)

	status, body := do(t, f.srv, subscriptionRequestFor(http.MethodPost, f.userID, subscriptionBody("https://push.example.com/a")))
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "Subscription saved successfully", body["message"])
	firstID := body["id"]

	// Saving the same endpoint again keeps one row.
	status, body = do(t, f.srv, subscriptionRequestFor(http.MethodPost, f.userID, subscriptionBody("https://push.example.com/a")))
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, firstID, body["id"])

	subs, err := f.store.FindByUserID(context.Background(), f.userID)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "BKey", subs[0].Keys.P256dh)
	assert.Equal(t, "authSecret", subs[0].Keys.Auth)
}

func TestSaveSubscriptionRejectsBadRequests(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name   string
		userID string
		body   string
		want   int
	}{
		{"no user", "", subscriptionBody("https://push.example.com/a"), http.StatusUnauthorized},
		{"malformed json", f.userID, `{"subscription":`, http.StatusBadRequest},
		{"missing subscription", f.userID, `{}`, http.StatusBadRequest},
		{"missing endpoint", f.userID, `{"subscription":{"keys":{"p256dh":"k","auth":"a"}}}`, http.StatusBadRequest},
		{"missing keys", f.userID, `{"subscription":{"endpoint":"https://push.example.com/a"}}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := do(t, f.srv, subscriptionRequestFor(http.MethodPost, tt.userID, tt.body))
			assert.Equal(t, tt.want, status)
			assert.NotEmpty(t, body["error"])
		})
	}

	subs, err := f.store.FindByUserID(context.Background(), f.userID)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestDeleteSubscription(t *testing.T) {
	f := newFixture(t, nil)
	testutil.SeedSubscription(t, f.store, f.userID, "https://push.example.com/a")

	status, _ := do(t, f.srv, subscriptionRequestFor(http.MethodDelete, f.userID, subscriptionBody("https://push.example.com/a")))
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = do(t, f.srv, subscriptionRequestFor(http.MethodDelete, f.userID, subscriptionBody("https://push.example.com/a")))
	assert.Equal(t, http.StatusNotFound, status)
}

func TestVAPIDPublicKey(t *testing.T) {
	f := newFixture(t, nil)

	status, body := do(t, f.srv, httptest.NewRequest(http.MethodGet, "/api/push/vapid-public-key", nil))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "BPubKey", body["publicKey"])

	bare := New(Config{}, f.store, nil, nil)
	status, _ = do(t, bare, httptest.NewRequest(http.MethodGet, "/api/push/vapid-public-key", nil))
	assert.Equal(t, http.StatusNotFound, status)
}

func TestHealthReportsJobs(t *testing.T) {
	jobs := &fakeJobs{statuses: []schedule.JobStatus{
		{Name: "due-now", State: schedule.StateIdle, Runs: 3, LastRun: time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)},
		{Name: "upcoming", State: schedule.StateError, Runs: 1, Skipped: 2, LastError: errors.New("smtp down")},
	}}
	f := newFixture(t, jobs)

	status, body := do(t, f.srv, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	list, ok := body["jobs"].([]any)
	require.True(t, ok)
	require.Len(t, list, 2)
	upcoming := list[1].(map[string]any)
	assert.Equal(t, "upcoming", upcoming["name"])
	assert.Equal(t, "error", upcoming["state"])
	assert.EqualValues(t, 2, upcoming["skipped"])
	assert.Equal(t, "smtp down", upcoming["lastError"])
}

func triggerRequest(job, userID string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/jobs/"+job+"/trigger", nil)
	if userID != "" {
		req.Header.Set(UserHeader, userID)
	}
	return req
}

func TestTriggerJob(t *testing.T) {
	jobs := &fakeJobs{statuses: []schedule.JobStatus{{Name: "due-now"}}}
	f := newFixture(t, jobs)

	status, _ := do(t, f.srv, triggerRequest("due-now", ""))
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Empty(t, jobs.triggered)

	status, _ = do(t, f.srv, triggerRequest("due-now", f.userID))
	assert.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, []string{"due-now"}, jobs.triggered)

	status, _ = do(t, f.srv, triggerRequest("nope", f.userID))
	assert.Equal(t, http.StatusNotFound, status)

	jobs.busy = true
	status, _ = do(t, f.srv, triggerRequest("due-now", f.userID))
	assert.Equal(t, http.StatusConflict, status)

	disabled := New(Config{}, f.store, nil, nil)
	status, _ = do(t, disabled, triggerRequest("due-now", f.userID))
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func taskRequest(userID, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(UserHeader, userID)
	}
	return req
}

func TestCreateTask(t *testing.T) {
	f := newFixture(t, nil)
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	f.srv.now = func() time.Time { return now }

	due := now.Add(time.Hour).Format(time.RFC3339)
	status, body := do(t, f.srv, taskRequest(f.userID,
		`{"title":"Pay rent","priority":"High","dueDate":"`+due+`"}`))
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "Pay rent", body["title"])
	assert.Equal(t, "High", body["priority"])
	assert.Equal(t, false, body["reminderSent"])

	stored := testutil.MustGetTask(t, f.store, body["id"].(string))
	require.NotNil(t, stored.DueDate)
	assert.True(t, stored.DueDate.Equal(now.Add(time.Hour)))
	assert.Equal(t, f.userID, stored.OwnerID)

	status, _ = do(t, f.srv, taskRequest(f.userID, `{"title":"Someday"}`))
	assert.Equal(t, http.StatusCreated, status)
}

func TestCreateTaskRejectsBadRequests(t *testing.T) {
	f := newFixture(t, nil)
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	f.srv.now = func() time.Time { return now }

	past := now.Add(-time.Minute).Format(time.RFC3339)
	tests := []struct {
		name   string
		userID string
		body   string
		want   int
	}{
		{"no user", "", `{"title":"x"}`, http.StatusUnauthorized},
		{"malformed json", f.userID, `{"title":`, http.StatusBadRequest},
		{"empty title", f.userID, `{"title":"  "}`, http.StatusBadRequest},
		{"bad priority", f.userID, `{"title":"x","priority":"Urgent"}`, http.StatusBadRequest},
		{"due in the past", f.userID, `{"title":"x","dueDate":"` + past + `"}`, http.StatusBadRequest},
		{"due exactly now", f.userID, `{"title":"x","dueDate":"` + now.Format(time.RFC3339) + `"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := do(t, f.srv, taskRequest(tt.userID, tt.body))
			assert.Equal(t, tt.want, status)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestServiceWorker(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := f.srv.App().Test(httptest.NewRequest(http.MethodGet, "/service-worker.js", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/javascript")

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	js := string(raw)
	assert.Contains(t, js, `title: "Notification"`)
	assert.Contains(t, js, "requireInteraction: true")
	assert.Contains(t, js, "vibrate: [200, 100, 200]")
}
