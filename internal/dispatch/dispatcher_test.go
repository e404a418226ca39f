package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"postpilot/internal/database"
	"postpilot/internal/events"
	"postpilot/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubForwarder struct {
	err   error
	calls int
}

func (f *stubForwarder) Forward(ctx context.Context, post *models.ScheduledPost, svc *models.DeliveryService) error {
	f.calls++
	return f.err
}

func setupDispatchDB(t *testing.T) *database.DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "dispatch.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedScheduledPost(t *testing.T, db *database.DB, scheduledAt time.Time) *models.ScheduledPost {
	t.Helper()
	ctx := context.Background()

	post := &models.ScheduledPost{
		PublicID:    uuid.NewString(),
		ContentID:   "campaign-1",
		Title:       "Launch day",
		ServiceType: "social",
		OwnerID:     "tenant-1",
	}
	require.NoError(t, db.CreatePost(ctx, post))

	promoted, err := db.PromotePost(ctx, post.ID, scheduledAt, "UTC", "social", models.RepeatNone, []string{"instagram", "facebook"})
	require.NoError(t, err)
	return promoted
}

func seedService(t *testing.T, db *database.DB, serviceType string, active bool) {
	t.Helper()
	require.NoError(t, db.CreateService(context.Background(), &models.DeliveryService{
		ServiceType: serviceType,
		Name:        serviceType + " delivery",
		URL:         "http://delivery.local/dispatch",
		Active:      active,
	}))
}

func TestRunCycleSuccess(t *testing.T) {
	db := setupDispatchDB(t)
	seedService(t, db, "social", true)
	post := seedScheduledPost(t, db, time.Now().Add(-time.Minute))

	bus := events.NewEventBus()
	var published []string
	bus.Subscribe(events.EventPostPublished, func(event *events.Event) error {
		published = append(published, string(event.Payload))
		return nil
	})

	fwd := &stubForwarder{}
	d := NewDispatcher(db, db, db, fwd, bus, 0, 0, 0, nil)

	stats, err := d.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Selected)
	assert.Equal(t, 1, stats.Published)
	assert.Equal(t, 1, fwd.calls)

	got, err := db.GetPost(context.Background(), post.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPublished, got.Status)
	assert.Nil(t, got.LastError)
	assert.NotNil(t, got.LastAttemptAt)

	assignments, err := db.GetAssignments(context.Background(), post.ID)
	require.NoError(t, err)
	require.Len(t, assignments, 2)
	for _, a := range assignments {
		assert.Equal(t, models.AssignmentSent, a.Status)
		assert.NotNil(t, a.SentAt)
	}

	require.Len(t, published, 1)
	assert.Contains(t, published[0], post.PublicID)
}

func TestRunCycleFailureRequeues(t *testing.T) {
	db := setupDispatchDB(t)
	seedService(t, db, "social", true)
	post := seedScheduledPost(t, db, time.Now().Add(-time.Minute))

	fwd := &stubForwarder{err: errors.New("delivery service returned 503: overloaded")}
	d := NewDispatcher(db, db, db, fwd, nil, 0, 0, 3, nil)

	stats, err := d.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Retried)
	assert.Zero(t, stats.Failed)

	got, err := db.GetPost(context.Background(), post.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusScheduled, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.LastError)
	assert.Contains(t, *got.LastError, "503")
}

func TestRunCycleRetryCeilingExhausts(t *testing.T) {
	db := setupDispatchDB(t)
	seedService(t, db, "social", true)
	post := seedScheduledPost(t, db, time.Now().Add(-time.Minute))

	bus := events.NewEventBus()
	var failedEvents int
	bus.Subscribe(events.EventPostFailed, func(*events.Event) error {
		failedEvents++
		return nil
	})

	fwd := &stubForwarder{err: errors.New("delivery timeout after 30s")}
	d := NewDispatcher(db, db, db, fwd, bus, 0, 0, 3, nil)

	for i := 0; i < 3; i++ {
		_, err := d.RunCycle(context.Background())
		require.NoError(t, err)
	}

	got, err := db.GetPost(context.Background(), post.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, 3, got.RetryCount)
	assert.Equal(t, 1, failedEvents)

	// A fourth cycle must not resurrect the post.
	stats, err := d.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Selected)
	assert.Equal(t, 3, fwd.calls)
}

func TestRunCycleNoActiveServiceConsumesAttempt(t *testing.T) {
	db := setupDispatchDB(t)
	seedService(t, db, "social", false)
	post := seedScheduledPost(t, db, time.Now().Add(-time.Minute))

	fwd := &stubForwarder{}
	d := NewDispatcher(db, db, db, fwd, nil, 0, 0, 3, nil)

	stats, err := d.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Retried)
	assert.Zero(t, fwd.calls, "no attempt must leave the process when the registry has no match")

	got, err := db.GetPost(context.Background(), post.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.LastError)
	assert.Contains(t, *got.LastError, `no active delivery service for type "social"`)
}

func TestRunCycleSkipsFuturePosts(t *testing.T) {
	db := setupDispatchDB(t)
	seedService(t, db, "social", true)
	seedScheduledPost(t, db, time.Now().Add(time.Hour))

	fwd := &stubForwarder{}
	d := NewDispatcher(db, db, db, fwd, nil, 0, 0, 0, nil)

	stats, err := d.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Selected)
	assert.Zero(t, fwd.calls)
}

func TestRunCycleBatchMixedOutcomes(t *testing.T) {
	db := setupDispatchDB(t)
	seedService(t, db, "social", true)

	okPost := seedScheduledPost(t, db, time.Now().Add(-2*time.Minute))
	badPost := seedScheduledPost(t, db, time.Now().Add(-time.Minute))

	fwd := &flakyForwarder{failID: badPost.ID}
	d := NewDispatcher(db, db, db, fwd, nil, 0, 0, 3, nil)

	stats, err := d.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Selected)
	assert.Equal(t, 1, stats.Published)
	assert.Equal(t, 1, stats.Retried)

	gotOK, err := db.GetPost(context.Background(), okPost.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPublished, gotOK.Status)

	gotBad, err := db.GetPost(context.Background(), badPost.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusScheduled, gotBad.Status)
}

type flakyForwarder struct {
	failID int64
}

func (f *flakyForwarder) Forward(ctx context.Context, post *models.ScheduledPost, svc *models.DeliveryService) error {
	if post.ID == f.failID {
		return errors.New("delivery service returned 500: boom")
	}
	return nil
}

func TestRunCycleRespectsBatchLimit(t *testing.T) {
	db := setupDispatchDB(t)
	seedService(t, db, "social", true)
	for i := 0; i < 5; i++ {
		seedScheduledPost(t, db, time.Now().Add(-time.Duration(i+1)*time.Minute))
	}

	fwd := &stubForwarder{}
	d := NewDispatcher(db, db, db, fwd, nil, 2, 1, 0, nil)

	stats, err := d.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Selected)
	assert.Equal(t, 2, stats.Published)
}

type blockingForwarder struct {
	started chan struct{}
}

func (f *blockingForwarder) Forward(ctx context.Context, post *models.ScheduledPost, svc *models.DeliveryService) error {
	close(f.started)
	<-ctx.Done()
	return ctx.Err()
}

func TestRunCycleShutdownResolvesClaimedPost(t *testing.T) {
	db := setupDispatchDB(t)
	seedService(t, db, "social", true)
	post := seedScheduledPost(t, db, time.Now().Add(-time.Minute))

	fwd := &blockingForwarder{started: make(chan struct{})}
	d := NewDispatcher(db, db, db, fwd, nil, 0, 0, 3, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-fwd.started
		cancel()
	}()

	stats, err := d.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Retried)

	// The claimed post must never be stranded in publishing by shutdown.
	got, err := db.GetPost(context.Background(), post.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusScheduled, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.LastError)
}

func TestRunCycleRequeuesStalePublishing(t *testing.T) {
	db := setupDispatchDB(t)
	seedService(t, db, "social", true)
	post := seedScheduledPost(t, db, time.Now().Add(-time.Hour))

	ctx := context.Background()
	claimed, err := db.MarkPublishing(ctx, post.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	// Simulate a crashed process: the claim is old and nothing will
	// resolve it.
	_, err = db.ExecContext(ctx,
		`UPDATE scheduled_posts SET updated_at = ? WHERE id = ?`,
		time.Now().Add(-time.Hour).UTC(), post.ID)
	require.NoError(t, err)

	fwd := &stubForwarder{}
	d := NewDispatcher(db, db, db, fwd, nil, 0, 0, 0, nil)

	stats, err := d.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Selected)
	assert.Equal(t, 1, stats.Published)

	got, err := db.GetPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPublished, got.Status)
}

func TestDispatchPostSkipsWhenClaimLost(t *testing.T) {
	db := setupDispatchDB(t)
	seedService(t, db, "social", true)
	post := seedScheduledPost(t, db, time.Now().Add(-time.Minute))

	// Cancelled between selection and claim.
	require.NoError(t, db.CancelPost(context.Background(), post.ID))

	fwd := &stubForwarder{}
	d := NewDispatcher(db, db, db, fwd, nil, 0, 0, 0, nil)

	got := d.dispatchPost(context.Background(), post)
	assert.Equal(t, outcomeSkipped, got)
	assert.Zero(t, fwd.calls)
}
