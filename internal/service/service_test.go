package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/model"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/notify"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/override"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/repository"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/validation"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/workflow"
)

var t0 = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	svc   *RegistrationService
	store *repository.MemoryStore
	rec   *notify.Recorder
	clock *fakeClock
}

// testCatalog is the wait-list workflow with one type whose capacity may be
// overridden and whose held registrations expire after an hour.
func testCatalog(t *testing.T) *workflow.Catalog {
	t.Helper()
	w, err := workflow.New(workflow.DefaultWithWaitlist())
	require.NoError(t, err)
	c, err := workflow.NewCatalog([]*workflow.Workflow{w}, []workflow.RegistrationType{{
		ID:              workflow.DefaultTypeID,
		WorkflowID:      workflow.DefaultID,
		HeldExpire:      time.Hour,
		HeldExpireState: "canceled",
		Overridable:     map[string]bool{override.SettingCapacity: true},
	}})
	require.NoError(t, err)
	return c
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		store: repository.NewMemoryStore(),
		rec:   &notify.Recorder{},
		clock: &fakeClock{t: t0},
	}
	opts.Clock = f.clock.Now
	f.svc = NewRegistrationService(f.store, testCatalog(t), f.rec, zaptest.NewLogger(t), opts)
	return f
}

func (f *fixture) host(t *testing.T, id string, edit func(*model.HostSettings)) {
	t.Helper()
	hs := model.HostSettings{
		HostID:                id,
		RegistrationType:      workflow.DefaultTypeID,
		Enabled:               true,
		MultipleRegistrations: true,
	}
	if edit != nil {
		edit(&hs)
	}
	_, err := f.svc.UpdateHostSettings(context.Background(), hs)
	require.NoError(t, err)
}

func (f *fixture) register(t *testing.T, host string, count int, state string, p model.Principal) *Outcome {
	t.Helper()
	out, err := f.svc.Register(context.Background(), RegisterRequest{HostID: host, UserID: p.ID(), Count: count, State: state}, p)
	require.NoError(t, err)
	return out
}

func use(transitions ...string) []string {
	out := make([]string, len(transitions))
	for i, tr := range transitions {
		out[i] = workflow.TransitionPermission(workflow.DefaultID, tr)
	}
	return out
}

func registrant(id string) *model.User {
	return model.NewUser(id, use("complete", "hold", "cancel", "waitlist")...)
}

func capacityAdmin() *model.User {
	u := registrant("admin")
	u.Grant(override.AdministerPermission, override.Permission(override.SettingCapacity))
	return u
}

func rejection(t *testing.T, err error) *RejectedError {
	t.Helper()
	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	return rejected
}

func TestRegister_FullHostWithoutWaitlist(t *testing.T) {
	f := newFixture(t, Options{})
	f.host(t, "h1", func(s *model.HostSettings) { s.Capacity = 1 })

	r1 := f.register(t, "h1", 1, "", registrant("u1"))
	assert.Equal(t, "pending", r1.Registration.State)
	assert.NotZero(t, r1.Registration.Sequence)

	out, err := f.svc.Register(context.Background(), RegisterRequest{HostID: "h1", UserID: "u2"}, registrant("u2"))
	assert.True(t, rejection(t, err).Has(validation.CodeCapacity))
	require.NotNil(t, out)
	assert.False(t, out.Result.Valid)

	usage, err := f.svc.Usage(context.Background(), "h1")
	require.NoError(t, err)
	assert.Equal(t, 1, usage.ActiveReserved)
	assert.Equal(t, 0, usage.Remaining())
}

func TestRegister_RedirectAndAutoPromote(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.host(t, "h1", func(s *model.HostSettings) {
		s.Capacity = 1
		s.WaitlistEnabled = true
		s.WaitlistCapacity = 1
	})

	// An administrator may put two spaces into a one-space host.
	r1 := f.register(t, "h1", 2, "complete", capacityAdmin())
	assert.Equal(t, "complete", r1.Registration.State)
	require.NotNil(t, r1.Registration.CompletedAt)

	r2 := f.register(t, "h1", 1, "complete", registrant("u2"))
	assert.True(t, r2.Result.Redirected())
	assert.Equal(t, "waitlist", r2.Registration.State)
	assert.Len(t, f.rec.OfType(notify.TypeWaitlisted), 1)

	out, err := f.svc.Transition(ctx, r1.Registration.ID, "canceled", capacityAdmin())
	require.NoError(t, err)
	assert.Equal(t, "canceled", out.Registration.State)
	require.Len(t, out.Promoted, 1)
	assert.Equal(t, r2.Registration.ID, out.Promoted[0].ID)
	assert.Equal(t, "complete", out.Promoted[0].State)

	stored, err := f.store.Registration(ctx, r2.Registration.ID)
	require.NoError(t, err)
	assert.Equal(t, "complete", stored.State)

	promoted := f.rec.OfType(notify.TypePromoted)
	require.Len(t, promoted, 1)
	assert.Equal(t, "waitlist", promoted[0].PreviousState)
	assert.Len(t, f.rec.OfType(notify.TypeCanceled), 1)
}

func TestRegister_WaitlistFull(t *testing.T) {
	f := newFixture(t, Options{})
	f.host(t, "h1", func(s *model.HostSettings) {
		s.Capacity = 1
		s.WaitlistEnabled = true
		s.WaitlistCapacity = 1
	})
	f.register(t, "h1", 1, "", registrant("u0"))
	w1 := f.register(t, "h1", 1, "", registrant("w1"))
	require.Equal(t, "waitlist", w1.Registration.State)

	_, err := f.svc.Register(context.Background(), RegisterRequest{HostID: "h1", UserID: "u2", State: "waitlist"}, registrant("u2"))
	assert.Equal(t, []validation.Code{validation.CodeWaitlistCapacity}, rejection(t, err).Result.Codes())
}

func TestRegister_TypeMismatch(t *testing.T) {
	f := newFixture(t, Options{})
	f.host(t, "h1", nil)

	_, err := f.svc.Register(context.Background(), RegisterRequest{HostID: "h1", Type: "webinar"}, registrant("u1"))
	assert.ErrorIs(t, err, ErrTypeMismatch)

	_, err = f.svc.Register(context.Background(), RegisterRequest{HostID: "missing"}, registrant("u1"))
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestTransition_NoOpAndForbidden(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.host(t, "h1", nil)
	r := f.register(t, "h1", 1, "", registrant("u1"))
	before := len(f.rec.Events())

	out, err := f.svc.Transition(ctx, r.Registration.ID, "pending", model.NewUser("nobody"))
	require.NoError(t, err)
	assert.True(t, out.Result.NoOp)
	assert.Len(t, f.rec.Events(), before, "a no-op publishes nothing")

	_, err = f.svc.Transition(ctx, r.Registration.ID, "complete", model.NewUser("nobody"))
	assert.True(t, rejection(t, err).Has(validation.CodeForbidden))

	_, err = f.svc.Transition(ctx, "missing", "complete", registrant("u1"))
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestTransition_CancelAfterDeadline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	cancelBy := t0.Add(time.Hour)
	f.host(t, "h1", func(s *model.HostSettings) { s.CancelBy = &cancelBy })
	r := f.register(t, "h1", 1, "complete", registrant("u1"))

	f.clock.Advance(2 * time.Hour)
	_, err := f.svc.Transition(ctx, r.Registration.ID, "canceled", registrant("u1"))
	assert.True(t, rejection(t, err).Has(validation.CodeExpired))

	_, err = f.svc.Transition(ctx, r.Registration.ID, "canceled", model.System)
	require.NoError(t, err)
}

func TestChangeSpaces(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.host(t, "h1", func(s *model.HostSettings) { s.Capacity = 3 })
	r := f.register(t, "h1", 1, "complete", registrant("u1"))

	out, err := f.svc.ChangeSpaces(ctx, r.Registration.ID, 3, registrant("u1"))
	require.NoError(t, err)
	assert.Equal(t, 3, out.Registration.Count)

	_, err = f.svc.ChangeSpaces(ctx, r.Registration.ID, 4, registrant("u1"))
	assert.True(t, rejection(t, err).Has(validation.CodeCapacity))

	_, err = f.svc.ChangeSpaces(ctx, r.Registration.ID, 0, registrant("u1"))
	assert.True(t, rejection(t, err).Has(validation.CodeInvalidCount))
}

func TestValidate_DoesNotWrite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.host(t, "h1", nil)
	r := f.register(t, "h1", 1, "", registrant("u1"))

	res, err := f.svc.Validate(ctx, r.Registration.ID, "complete", registrant("u1"))
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, "complete", res.Transition)

	stored, err := f.store.Registration(ctx, r.Registration.ID)
	require.NoError(t, err)
	assert.Equal(t, "pending", stored.State)
}

func TestRegister_UnlimitedCapacity(t *testing.T) {
	f := newFixture(t, Options{})
	f.host(t, "h1", nil)
	for i := 0; i < 100; i++ {
		out := f.register(t, "h1", 3, "", registrant("u1"))
		require.Equal(t, "pending", out.Registration.State)
	}

	usage, err := f.svc.Usage(context.Background(), "h1")
	require.NoError(t, err)
	assert.Equal(t, 300, usage.ActiveReserved)
	assert.Equal(t, -1, usage.Remaining())
}

func TestRegister_ConcurrentNeverOverbooks(t *testing.T) {
	f := newFixture(t, Options{})
	f.host(t, "h1", func(s *model.HostSettings) { s.Capacity = 5 })

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Register(context.Background(), RegisterRequest{HostID: "h1"}, registrant("u"))
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, accepted)
	usage, err := f.svc.Usage(context.Background(), "h1")
	require.NoError(t, err)
	assert.Equal(t, 5, usage.ActiveReserved)
}

func TestUpdateHostSettings_Invariants(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.host(t, "h1", func(s *model.HostSettings) {
		s.Capacity = 1
		s.WaitlistEnabled = true
	})
	f.register(t, "h1", 1, "", registrant("u0"))
	f.register(t, "h1", 1, "", registrant("w1"))
	f.register(t, "h1", 1, "", registrant("w2"))

	hs := model.HostSettings{HostID: "h1", RegistrationType: workflow.DefaultTypeID, Enabled: true, Capacity: 1, WaitlistEnabled: true, WaitlistCapacity: 1}
	_, err := f.svc.UpdateHostSettings(ctx, hs)
	assert.ErrorIs(t, err, ErrWaitlistBelowUsage)

	_, err = f.svc.UpdateHostSettings(ctx, model.HostSettings{HostID: "h1", RegistrationType: workflow.DefaultTypeID, Capacity: -1})
	assert.ErrorIs(t, err, ErrInvalidSettings)
	_, err = f.svc.UpdateHostSettings(ctx, model.HostSettings{HostID: "h1", RegistrationType: "nope"})
	assert.ErrorIs(t, err, ErrInvalidSettings)
	_, err = f.svc.UpdateHostSettings(ctx, model.HostSettings{HostID: "h1", RegistrationType: workflow.DefaultTypeID, WaitlistAutofillState: "waitlist"})
	assert.ErrorIs(t, err, ErrInvalidSettings)

	// Growing the host fills the new space from the wait-list.
	hs.WaitlistCapacity = 0
	hs.Capacity = 2
	promoted, err := f.svc.UpdateHostSettings(ctx, hs)
	require.NoError(t, err)
	require.Len(t, promoted, 1)
}

// MockNotifier is a mock implementation of the notify.Notifier interface
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, ev notify.Event) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

func TestRegister_PublishesAfterCommitAndToleratesFailures(t *testing.T) {
	store := repository.NewMemoryStore()
	n := new(MockNotifier)
	n.On("Notify", mock.Anything, mock.MatchedBy(func(ev notify.Event) bool { return ev.Type == notify.TypeCreated })).
		Return(errors.New("broker down")).Once()
	n.On("Notify", mock.Anything, mock.MatchedBy(func(ev notify.Event) bool { return ev.Type == notify.TypeCompleted })).
		Return(nil).Once()

	svc := NewRegistrationService(store, testCatalog(t), n, zaptest.NewLogger(t), Options{Clock: func() time.Time { return t0 }})
	_, err := svc.UpdateHostSettings(context.Background(), model.HostSettings{HostID: "h1", RegistrationType: workflow.DefaultTypeID, Enabled: true})
	require.NoError(t, err)

	out, err := svc.Register(context.Background(), RegisterRequest{HostID: "h1", Email: " Ada@Example.com ", State: "complete"}, registrant("u1"))
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", out.Registration.Email)
	n.AssertExpectations(t)
}

func TestRejectedRegistrationPublishesNothing(t *testing.T) {
	f := newFixture(t, Options{})
	f.host(t, "h1", func(s *model.HostSettings) { s.Enabled = false })

	_, err := f.svc.Register(context.Background(), RegisterRequest{HostID: "h1"}, registrant("u1"))
	assert.True(t, rejection(t, err).Has(validation.CodeHostDisabled))
	assert.Empty(t, f.rec.Events())
}

func TestParsePromotionPolicy(t *testing.T) {
	p, err := ParsePromotionPolicy("")
	require.NoError(t, err)
	assert.Equal(t, PromoteSkipLarger, p)

	p, err = ParsePromotionPolicy("strict_fifo")
	require.NoError(t, err)
	assert.Equal(t, PromoteStrictFIFO, p)

	_, err = ParsePromotionPolicy("best_fit")
	assert.Error(t, err)
}
