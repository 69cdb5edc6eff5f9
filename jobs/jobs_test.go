package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lgu-emis/emis-web/internal/emisapi"
	"github.com/lgu-emis/emis-web/internal/jobmetrics"
	"github.com/lgu-emis/emis-web/internal/shared"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type endedSession struct {
	id     string
	reason string
}

type fakeRegistry struct {
	ended   []endedSession
	touched []string
	cutoff  time.Time
	swept   int64
	err     error
}

func (f *fakeRegistry) End(_ context.Context, sessionID, reason string) error {
	f.ended = append(f.ended, endedSession{id: sessionID, reason: reason})
	return nil
}

func (f *fakeRegistry) Touch(_ context.Context, sessionID string) error {
	f.touched = append(f.touched, sessionID)
	return nil
}

func (f *fakeRegistry) SweepIdle(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.swept, f.err
}

func newSessions(t *testing.T) *shared.SessionManager {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return shared.NewSessionManager(client, "emis_session", "secret", time.Hour, false)
}

func storeSession(t *testing.T, sm *shared.SessionManager, token string) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sm.Load(context.Background(), req)
	require.NoError(t, err)
	sess.Set(shared.SessionTokenKey, token)
	sess.SetUser("u-1")
	require.NoError(t, sm.Commit(context.Background(), httptest.NewRecorder(), req, sess))
	return sess.ID
}

func upstream(t *testing.T, status int) *emisapi.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/auth/verify-token", r.URL.Path)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"message":"token check"}`))
	}))
	t.Cleanup(srv.Close)
	return emisapi.NewClient(srv.URL, time.Second)
}

func verifyTask(t *testing.T, sessionID string) *asynq.Task {
	t.Helper()
	task, err := NewSessionVerifyTask(sessionID)
	require.NoError(t, err)
	return task
}

func TestSessionVerifyRevokesOn401(t *testing.T) {
	sm := newSessions(t)
	id := storeSession(t, sm, "a.b.c")
	registry := &fakeRegistry{}
	job := NewSessionVerifyJob(sm, upstream(t, http.StatusUnauthorized), registry, quietLogger, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	require.NoError(t, job.Handle(context.Background(), verifyTask(t, id)))

	_, err := sm.LoadByID(context.Background(), id)
	assert.ErrorIs(t, err, shared.ErrSessionNotFound)
	assert.Equal(t, []endedSession{{id: id, reason: "revoked"}}, registry.ended)
}

func TestSessionVerifyRevokeOutlivesInFlightCommit(t *testing.T) {
	sm := newSessions(t)
	id := storeSession(t, sm, "a.b.c")
	inFlight, err := sm.LoadByID(context.Background(), id)
	require.NoError(t, err)

	job := NewSessionVerifyJob(sm, upstream(t, http.StatusUnauthorized), nil, quietLogger, nil)
	require.NoError(t, job.Handle(context.Background(), verifyTask(t, id)))

	inFlight.AddFlash(shared.FlashMessage{Kind: "info", Message: "late write"})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	require.NoError(t, sm.Commit(context.Background(), httptest.NewRecorder(), req, inFlight))

	_, err = sm.LoadByID(context.Background(), id)
	assert.ErrorIs(t, err, shared.ErrSessionNotFound)
}

func TestSessionVerifyKeepsSessionOnOtherFailures(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusInternalServerError, http.StatusForbidden, http.StatusBadGateway} {
		sm := newSessions(t)
		id := storeSession(t, sm, "a.b.c")
		registry := &fakeRegistry{}
		job := NewSessionVerifyJob(sm, upstream(t, status), registry, quietLogger, nil)

		require.NoError(t, job.Handle(context.Background(), verifyTask(t, id)), "status %d", status)

		sess, err := sm.LoadByID(context.Background(), id)
		require.NoError(t, err, "status %d", status)
		assert.Equal(t, "a.b.c", sess.Get(shared.SessionTokenKey))
		assert.Empty(t, registry.ended)
		if status == http.StatusOK {
			assert.Equal(t, []string{id}, registry.touched)
		} else {
			assert.Empty(t, registry.touched)
		}
	}
}

func TestSessionVerifyKeepsSessionWhenUpstreamUnreachable(t *testing.T) {
	sm := newSessions(t)
	id := storeSession(t, sm, "a.b.c")
	job := NewSessionVerifyJob(sm, emisapi.NewClient("http://127.0.0.1:1", 200*time.Millisecond), nil, quietLogger, nil)

	require.NoError(t, job.Handle(context.Background(), verifyTask(t, id)))
	_, err := sm.LoadByID(context.Background(), id)
	assert.NoError(t, err)
}

func TestSessionVerifySkipsMissingSession(t *testing.T) {
	sm := newSessions(t)
	job := NewSessionVerifyJob(sm, upstream(t, http.StatusUnauthorized), nil, quietLogger, nil)
	assert.NoError(t, job.Handle(context.Background(), verifyTask(t, "gone")))
}

func TestSessionVerifyRejectsBadPayload(t *testing.T) {
	job := NewSessionVerifyJob(newSessions(t), upstream(t, http.StatusOK), nil, quietLogger, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskSessionVerify, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	_, err = NewSessionVerifyTask("")
	assert.ErrorIs(t, err, ErrEmptySessionID)
}

type recordingEnqueuer struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	err   error
}

func (r *recordingEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	r.tasks = append(r.tasks, task)
	r.opts = append(r.opts, opts)
	if r.err != nil {
		return nil, r.err
	}
	return &asynq.TaskInfo{ID: "x"}, nil
}

func (r *recordingEnqueuer) Close() error { return nil }

func TestScheduleVerifyDedupsPerSession(t *testing.T) {
	rec := &recordingEnqueuer{}
	now := time.Date(2025, 6, 1, 8, 3, 0, 0, time.UTC)
	client := &Client{client: rec, interval: 5 * time.Minute, now: func() time.Time { return now }}

	require.NoError(t, client.ScheduleVerify(context.Background(), "s-1"))
	require.Len(t, rec.tasks, 1)
	assert.Equal(t, TaskSessionVerify, rec.tasks[0].Type())
	assert.JSONEq(t, `{"session_id":"s-1"}`, string(rec.tasks[0].Payload()))

	window := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC).Unix()
	assert.Equal(t, fmt.Sprintf("session:verify:s-1:%d", window), taskIDOf(rec.opts[0]))

	rec.err = asynq.ErrTaskIDConflict
	assert.NoError(t, client.ScheduleVerify(context.Background(), "s-1"))

	rec.err = errors.New("redis down")
	assert.Error(t, client.ScheduleVerify(context.Background(), "s-1"))

	var nilClient *Client
	assert.NoError(t, nilClient.ScheduleVerify(context.Background(), "s-1"))
}

func TestScheduleVerifyNextWindowNotBlockedByArchivedTask(t *testing.T) {
	rec := &recordingEnqueuer{err: asynq.ErrTaskIDConflict}
	now := time.Date(2025, 6, 1, 8, 3, 0, 0, time.UTC)
	client := &Client{client: rec, interval: 5 * time.Minute, now: func() time.Time { return now }}

	require.NoError(t, client.ScheduleVerify(context.Background(), "s-1"))
	now = now.Add(5 * time.Minute)
	rec.err = nil
	require.NoError(t, client.ScheduleVerify(context.Background(), "s-1"))

	require.Len(t, rec.opts, 2)
	assert.NotEqual(t, taskIDOf(rec.opts[0]), taskIDOf(rec.opts[1]))

	unbounded := &Client{client: rec}
	require.NoError(t, unbounded.ScheduleVerify(context.Background(), "s-2"))
	assert.Equal(t, "session:verify:s-2", taskIDOf(rec.opts[2]))
}

func taskIDOf(opts []asynq.Option) string {
	for _, opt := range opts {
		if opt.Type() == asynq.TaskIDOpt {
			return opt.Value().(string)
		}
	}
	return ""
}

func TestRegistrySweepUsesIdleWindow(t *testing.T) {
	registry := &fakeRegistry{swept: 3}
	job := NewRegistrySweepJob(registry, quietLogger, nil)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	job.clock = func() time.Time { return now }

	task, err := NewRegistrySweepTask(24 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, now.Add(-24*time.Hour), registry.cutoff)

	registry.err = errors.New("db down")
	assert.Error(t, job.Handle(context.Background(), task))

	bad := asynq.NewTask(TaskRegistrySweep, []byte(`{"idle_after":0}`))
	assert.ErrorIs(t, job.Handle(context.Background(), bad), asynq.SkipRetry)
}

type fakeInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (f fakeInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return f.info, f.err }

func TestHealthEndpoint(t *testing.T) {
	h := &Handler{inspector: fakeInspector{info: &asynq.QueueInfo{Queue: "default", Pending: 4}}, logger: quietLogger}
	rr := httptest.NewRecorder()
	h.health(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	assert.JSONEq(t, `{"queue":"default","pending":4}`, rr.Body.String())

	h = &Handler{inspector: fakeInspector{err: errors.New("down")}, logger: quietLogger}
	rr = httptest.NewRecorder()
	h.health(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
