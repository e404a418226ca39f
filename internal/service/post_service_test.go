package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"postpilot/internal/database"
	"postpilot/internal/events"
	"postpilot/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupServiceTest(t *testing.T) (*PostService, *database.DB, *events.EventBus) {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "service.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	bus := events.NewEventBus()
	svc := NewPostService(db, db, bus, &logger)
	return svc, db, bus
}

func registerService(t *testing.T, db *database.DB, serviceType string) {
	t.Helper()
	require.NoError(t, db.CreateService(context.Background(), &models.DeliveryService{
		ServiceType: serviceType,
		Name:        serviceType + " delivery",
		URL:         "http://delivery.local/dispatch",
		Active:      true,
	}))
}

func validSchedule() ScheduleInput {
	return ScheduleInput{
		ScheduledAt: time.Now().Add(time.Hour),
		Timezone:    "UTC",
		ServiceType: "social",
		Repeat:      models.RepeatNone,
		Platforms:   []string{"instagram"},
	}
}

func TestCreateDraft(t *testing.T) {
	svc, _, _ := setupServiceTest(t)
	ctx := context.Background()

	post, err := svc.CreateDraft(ctx, DraftInput{
		ContentID: "campaign-1",
		Title:     "Launch",
		OwnerID:   "tenant-1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, post.PublicID)
	assert.Equal(t, models.StatusPendingSchedule, post.Status)
	assert.True(t, post.ScheduledAt.IsZero())
}

func TestCreateDraftValidation(t *testing.T) {
	svc, _, _ := setupServiceTest(t)
	ctx := context.Background()

	_, err := svc.CreateDraft(ctx, DraftInput{OwnerID: "tenant-1"})
	assert.ErrorIs(t, err, database.ErrMissingTitle)

	_, err = svc.CreateDraft(ctx, DraftInput{Title: "Launch"})
	assert.ErrorIs(t, err, database.ErrMissingOwner)
}

func TestValidateSchedule(t *testing.T) {
	svc, _, _ := setupServiceTest(t)

	tests := []struct {
		name    string
		mutate  func(*ScheduleInput)
		wantErr error
	}{
		{"valid", func(*ScheduleInput) {}, nil},
		{"past time", func(in *ScheduleInput) { in.ScheduledAt = time.Now().Add(-time.Hour) }, database.ErrPastSchedule},
		{"zero time", func(in *ScheduleInput) { in.ScheduledAt = time.Time{} }, database.ErrPastSchedule},
		{"bad timezone", func(in *ScheduleInput) { in.Timezone = "Mars/Olympus" }, database.ErrInvalidTimezone},
		{"missing timezone", func(in *ScheduleInput) { in.Timezone = "" }, database.ErrMissingTimezone},
		{"blank timezone", func(in *ScheduleInput) { in.Timezone = "  " }, database.ErrMissingTimezone},
		{"bad repeat", func(in *ScheduleInput) { in.Repeat = "hourly" }, database.ErrInvalidRepeat},
		{"no platforms", func(in *ScheduleInput) { in.Platforms = nil }, database.ErrNoPlatforms},
		{"no service type", func(in *ScheduleInput) { in.ServiceType = " " }, database.ErrMissingServiceType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validSchedule()
			tt.mutate(&in)
			err := svc.ValidateSchedule(in)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestSchedulePost(t *testing.T) {
	svc, db, bus := setupServiceTest(t)
	ctx := context.Background()
	registerService(t, db, "social")

	var scheduledEvents int
	bus.Subscribe(events.EventPostScheduled, func(*events.Event) error {
		scheduledEvents++
		return nil
	})

	draft, err := svc.CreateDraft(ctx, DraftInput{Title: "Launch", OwnerID: "tenant-1"})
	require.NoError(t, err)

	in := validSchedule()
	in.Platforms = []string{"instagram", "facebook"}
	post, err := svc.SchedulePost(ctx, draft.ID, in)
	require.NoError(t, err)

	assert.Equal(t, models.StatusScheduled, post.Status)
	assert.Equal(t, []string{"instagram", "facebook"}, post.Platforms)
	assert.Zero(t, post.RetryCount)
	assert.Equal(t, 1, scheduledEvents)

	assignments, err := db.GetAssignments(ctx, post.ID)
	require.NoError(t, err)
	assert.Len(t, assignments, 2)
}

func TestSchedulePostRejectsMissingTimezone(t *testing.T) {
	svc, db, _ := setupServiceTest(t)
	ctx := context.Background()
	registerService(t, db, "social")

	draft, err := svc.CreateDraft(ctx, DraftInput{Title: "Launch", OwnerID: "tenant-1"})
	require.NoError(t, err)

	in := validSchedule()
	in.Timezone = ""
	_, err = svc.SchedulePost(ctx, draft.ID, in)
	assert.ErrorIs(t, err, database.ErrMissingTimezone)

	// Rejected promotions must not mutate the store.
	got, err := svc.GetPost(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingSchedule, got.Status)
	assignments, err := db.GetAssignments(ctx, draft.ID)
	require.NoError(t, err)
	assert.Empty(t, assignments)
}

func TestSchedulePostWithoutActiveServiceStillSchedules(t *testing.T) {
	svc, _, _ := setupServiceTest(t)
	ctx := context.Background()

	draft, err := svc.CreateDraft(ctx, DraftInput{Title: "Launch", OwnerID: "tenant-1"})
	require.NoError(t, err)

	// No registration for the type; promotion succeeds and the dispatch
	// attempt fails later with a recorded reason.
	post, err := svc.SchedulePost(ctx, draft.ID, validSchedule())
	require.NoError(t, err)
	assert.Equal(t, models.StatusScheduled, post.Status)
}

func TestSchedulePostRejectsNonDraft(t *testing.T) {
	svc, db, _ := setupServiceTest(t)
	ctx := context.Background()
	registerService(t, db, "social")

	draft, err := svc.CreateDraft(ctx, DraftInput{Title: "Launch", OwnerID: "tenant-1"})
	require.NoError(t, err)

	_, err = svc.SchedulePost(ctx, draft.ID, validSchedule())
	require.NoError(t, err)

	_, err = svc.SchedulePost(ctx, draft.ID, validSchedule())
	assert.ErrorIs(t, err, database.ErrNotPromotable)

	_, err = svc.SchedulePost(ctx, 9999, validSchedule())
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestCancelPost(t *testing.T) {
	svc, db, bus := setupServiceTest(t)
	ctx := context.Background()
	registerService(t, db, "social")

	var cancelledEvents int
	bus.Subscribe(events.EventPostCancelled, func(*events.Event) error {
		cancelledEvents++
		return nil
	})

	draft, err := svc.CreateDraft(ctx, DraftInput{Title: "Launch", OwnerID: "tenant-1"})
	require.NoError(t, err)
	_, err = svc.SchedulePost(ctx, draft.ID, validSchedule())
	require.NoError(t, err)

	require.NoError(t, svc.CancelPost(ctx, draft.ID))

	got, err := svc.GetPost(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.Equal(t, 1, cancelledEvents)

	// Terminal; a second cancel is refused.
	assert.ErrorIs(t, svc.CancelPost(ctx, draft.ID), database.ErrTerminalStatus)
}

func TestReschedulePostResetsRetryBudget(t *testing.T) {
	svc, db, _ := setupServiceTest(t)
	ctx := context.Background()
	registerService(t, db, "social")

	draft, err := svc.CreateDraft(ctx, DraftInput{Title: "Launch", OwnerID: "tenant-1"})
	require.NoError(t, err)
	_, err = svc.SchedulePost(ctx, draft.ID, validSchedule())
	require.NoError(t, err)

	// Exhaust the retry budget.
	for i := 0; i < 3; i++ {
		_, err := db.RecordFailedAttempt(ctx, draft.ID, "delivery timeout after 30s", 3)
		require.NoError(t, err)
	}
	got, err := svc.GetPost(ctx, draft.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, got.Status)

	newTime := time.Now().Add(2 * time.Hour)
	post, err := svc.ReschedulePost(ctx, draft.ID, newTime)
	require.NoError(t, err)

	assert.Equal(t, models.StatusScheduled, post.Status)
	assert.Zero(t, post.RetryCount)
	assert.Nil(t, post.LastError)
}

func TestReschedulePostRejectsPastTime(t *testing.T) {
	svc, _, _ := setupServiceTest(t)

	_, err := svc.ReschedulePost(context.Background(), 1, time.Now().Add(-time.Minute))
	assert.ErrorIs(t, err, database.ErrPastSchedule)
}

func TestListPostsByStatus(t *testing.T) {
	svc, db, _ := setupServiceTest(t)
	ctx := context.Background()
	registerService(t, db, "social")

	for i := 0; i < 3; i++ {
		draft, err := svc.CreateDraft(ctx, DraftInput{Title: "Launch", OwnerID: "tenant-1"})
		require.NoError(t, err)
		if i > 0 {
			_, err = svc.SchedulePost(ctx, draft.ID, validSchedule())
			require.NoError(t, err)
		}
	}

	pending, err := svc.ListPostsByStatus(ctx, models.StatusPendingSchedule, 10, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	scheduled, err := svc.ListPostsByStatus(ctx, models.StatusScheduled, 10, 0)
	require.NoError(t, err)
	assert.Len(t, scheduled, 2)
}
