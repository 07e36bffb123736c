package warranty

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garantia/server/internal/apperr"
	"github.com/garantia/server/internal/model"
	"github.com/garantia/server/internal/repo/repotest"
)

type stubLocker struct {
	ok       bool
	err      error
	released int
}

func (l *stubLocker) TryLock(context.Context, string) (func(), bool, error) {
	if l.err != nil || !l.ok {
		return nil, false, l.err
	}
	return func() { l.released++ }, true, nil
}

type sweepFixture struct {
	sweeper  *Sweeper
	claims   *repotest.Claims
	users    *repotest.Users
	notifier *recordingNotifier
	clock    *time.Time
	seller   model.User
}

func newSweepFixture(t *testing.T, locker Locker) *sweepFixture {
	t.Helper()
	f := &sweepFixture{
		claims:   repotest.NewClaims(),
		users:    repotest.NewUsers(),
		notifier: &recordingNotifier{failWith: map[uuid.UUID]error{}},
	}
	now := testNow
	f.clock = &now
	f.seller = f.users.Add("seller@example.com", model.RoleSeller)
	f.sweeper = NewSweeper(f.claims, f.users, f.notifier, locker, discardLogger())
	f.sweeper.now = func() time.Time { return *f.clock }
	return f
}

// assigned puts a pending claim assigned age ago
func (f *sweepFixture) assigned(age time.Duration, status model.Status) model.Claim {
	at := testNow.Add(-age)
	sellerID := f.seller.ID
	c := model.Claim{
		ID:           uuid.New(),
		CustomerName: "Ana",
		Status:       status,
		CreatedAt:    at,
		UpdatedAt:    at,
		AssignedToID: &sellerID,
		AssignedAt:   &at,
	}
	f.claims.Put(c)
	return c
}

func TestSweep_RemindsStaleAssignments(t *testing.T) {
	f := newSweepFixture(t, nil)
	ctx := context.Background()

	stale := f.assigned(25*time.Hour, model.StatusPending)
	f.assigned(2*time.Hour, model.StatusPending)   // too recent
	f.assigned(72*time.Hour, model.StatusApproved) // resolved
	f.claims.Put(model.Claim{ID: uuid.New(), Status: model.StatusPending, CreatedAt: testNow.Add(-96 * time.Hour)})

	report, err := f.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Candidates: 1, Sent: 1}, report)

	got, err := f.claims.GetByID(ctx, stale.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastReminderSent)
	assert.Equal(t, testNow, *got.LastReminderSent)
}

func TestSweep_AtMostOneReminderPerWindow(t *testing.T) {
	f := newSweepFixture(t, nil)
	ctx := context.Background()
	f.assigned(30*time.Hour, model.StatusPending)

	_, err := f.sweeper.Run(ctx)
	require.NoError(t, err)

	*f.clock = f.clock.Add(time.Hour)
	report, err := f.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Candidates)
	assert.Equal(t, 1, f.notifier.reminderCount())

	*f.clock = f.clock.Add(ReminderWindow)
	report, err = f.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, 2, f.notifier.reminderCount())
}

func TestSweep_FailureIsIsolatedPerClaim(t *testing.T) {
	f := newSweepFixture(t, nil)
	ctx := context.Background()

	failing := f.assigned(48*time.Hour, model.StatusPending)
	ok := f.assigned(40*time.Hour, model.StatusPending)
	f.notifier.failWith[failing.ID] = errors.New("mailbox full")

	orphanID := uuid.New()
	orphanAt := testNow.Add(-50 * time.Hour)
	f.claims.Put(model.Claim{
		ID:           orphanID,
		Status:       model.StatusPending,
		AssignedToID: &orphanID,
		AssignedAt:   &orphanAt,
	})

	report, err := f.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Candidates: 3, Sent: 1, Failed: 2}, report)

	got, err := f.claims.GetByID(ctx, ok.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.LastReminderSent)

	// failed sends are not stamped, so they retry next run
	got, err = f.claims.GetByID(ctx, failing.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LastReminderSent)

	delete(f.notifier.failWith, failing.ID)
	report, err = f.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)
}

func TestSweep_LockBusy(t *testing.T) {
	locker := &stubLocker{ok: false}
	f := newSweepFixture(t, locker)
	f.assigned(30*time.Hour, model.StatusPending)

	_, err := f.sweeper.Run(context.Background())
	assert.ErrorIs(t, err, ErrSweepInProgress)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Zero(t, f.notifier.reminderCount())
}

func TestSweep_ReleasesLock(t *testing.T) {
	locker := &stubLocker{ok: true}
	f := newSweepFixture(t, locker)

	_, err := f.sweeper.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, locker.released)
}

func TestSweep_OverlappingRunInProcess(t *testing.T) {
	f := newSweepFixture(t, nil)

	f.sweeper.running.Lock()
	_, err := f.sweeper.Run(context.Background())
	f.sweeper.running.Unlock()
	assert.ErrorIs(t, err, ErrSweepInProgress)
}

func TestSweep_StoreDown(t *testing.T) {
	f := newSweepFixture(t, nil)
	f.claims.Err = errors.New("relation does not exist")

	_, err := f.sweeper.Run(context.Background())
	assert.ErrorIs(t, err, apperr.ErrInternal)
}

func TestSweep_LockError(t *testing.T) {
	f := newSweepFixture(t, &stubLocker{err: errors.New("too many connections")})

	_, err := f.sweeper.Run(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSweepInProgress)
}

func TestSweep_CancelledContextSkipsRemaining(t *testing.T) {
	f := newSweepFixture(t, nil)
	f.assigned(30*time.Hour, model.StatusPending)
	f.assigned(31*time.Hour, model.StatusPending)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := f.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Candidates: 2, Skipped: 2}, report)
}

func TestSweep_EditDuringSweepKeepsReminderStamp(t *testing.T) {
	f := newSweepFixture(t, nil)
	ctx := context.Background()
	svc := NewService(f.claims, f.users, f.notifier, discardLogger(), time.Second)
	svc.now = func() time.Time { return *f.clock }
	t.Cleanup(svc.Wait)

	c := f.assigned(30*time.Hour, model.StatusPending)

	// the seller's edit read the claim before the sweep stamped it
	snapshot, err := svc.Get(ctx, c.ID)
	require.NoError(t, err)

	report, err := f.sweeper.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Sent)

	edited, err := svc.update(ctx, snapshot, Patch{TechnicianNotes: strPtr("waiting for parts")})
	require.NoError(t, err)
	require.NotNil(t, edited.LastReminderSent)
	assert.Equal(t, testNow, *edited.LastReminderSent)

	*f.clock = f.clock.Add(time.Hour)
	report, err = f.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Candidates)
	assert.Equal(t, 1, f.notifier.reminderCount())
}

// changingClaims applies change to every candidate right after it is listed
type changingClaims struct {
	*repotest.Claims
	change func(c model.Claim)
}

func (r changingClaims) ListDueReminders(ctx context.Context, assignedBefore, remindedBefore time.Time) ([]model.Claim, error) {
	due, err := r.Claims.ListDueReminders(ctx, assignedBefore, remindedBefore)
	for _, c := range due {
		r.change(c)
	}
	return due, err
}

func TestSweep_SkipsClaimsChangedAfterListing(t *testing.T) {
	f := newSweepFixture(t, nil)
	ctx := context.Background()
	other := f.users.Add("other@example.com", model.RoleSeller)

	approved := f.assigned(30*time.Hour, model.StatusPending)
	reassigned := f.assigned(31*time.Hour, model.StatusPending)
	removed := f.assigned(32*time.Hour, model.StatusPending)

	claims := changingClaims{Claims: f.claims, change: func(c model.Claim) {
		switch c.ID {
		case approved.ID:
			c.Status = model.StatusApproved
			f.claims.Put(c)
		case reassigned.ID:
			at := *f.clock
			c.AssignedToID = &other.ID
			c.AssignedAt = &at
			f.claims.Put(c)
		case removed.ID:
			require.NoError(t, f.claims.Delete(context.Background(), c.ID))
		}
	}}
	sweeper := NewSweeper(claims, f.users, f.notifier, nil, discardLogger())
	sweeper.now = func() time.Time { return *f.clock }

	report, err := sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Candidates: 3, Skipped: 3}, report)
	assert.Zero(t, f.notifier.reminderCount())
	assert.Zero(t, f.claims.Stamps)
}

func TestSweep_StampRequiresSameSeller(t *testing.T) {
	f := newSweepFixture(t, nil)
	ctx := context.Background()
	c := f.assigned(30*time.Hour, model.StatusPending)

	stamped, err := f.claims.MarkReminderSent(ctx, c.ID, uuid.New(), testNow, testNow.Add(-ReminderWindow))
	require.NoError(t, err)
	assert.False(t, stamped)

	stamped, err = f.claims.MarkReminderSent(ctx, c.ID, f.seller.ID, testNow, testNow.Add(-ReminderWindow))
	require.NoError(t, err)
	assert.True(t, stamped)
}

func TestSweep_RunEveryReturnsOnCancel(t *testing.T) {
	f := newSweepFixture(t, nil)
	f.assigned(30*time.Hour, model.StatusPending)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.sweeper.RunEvery(ctx, time.Millisecond)
	}()

	require.Eventually(t, func() bool { return f.notifier.reminderCount() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunEvery did not return after cancel")
	}
	assert.Equal(t, 1, f.notifier.reminderCount())
}
