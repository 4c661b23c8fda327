package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/model"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/notify"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/workflow"
)

func waitlistHost(capacity int) func(*model.HostSettings) {
	return func(s *model.HostSettings) {
		s.Capacity = capacity
		s.WaitlistEnabled = true
	}
}

func ids(regs []model.Registration) []string {
	out := make([]string, len(regs))
	for i, r := range regs {
		out[i] = r.ID
	}
	return out
}

func TestPromotion_FIFO(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.host(t, "h1", waitlistHost(1))

	r0 := f.register(t, "h1", 1, "complete", registrant("u0"))
	w1 := f.register(t, "h1", 1, "", registrant("w1"))
	w2 := f.register(t, "h1", 1, "", registrant("w2"))
	require.Equal(t, "waitlist", w1.Registration.State)
	require.Equal(t, "waitlist", w2.Registration.State)

	out, err := f.svc.Transition(ctx, r0.Registration.ID, "canceled", registrant("u0"))
	require.NoError(t, err)
	assert.Equal(t, []string{w1.Registration.ID}, ids(out.Promoted))

	still, err := f.store.Registration(ctx, w2.Registration.ID)
	require.NoError(t, err)
	assert.Equal(t, "waitlist", still.State)
}

func TestPromotion_RoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.host(t, "h1", waitlistHost(1))

	r0 := f.register(t, "h1", 1, "complete", registrant("u0"))
	w1 := f.register(t, "h1", 1, "", registrant("w1"))
	w2 := f.register(t, "h1", 1, "", registrant("w2"))

	out, err := f.svc.Transition(ctx, r0.Registration.ID, "canceled", registrant("u0"))
	require.NoError(t, err)
	require.Equal(t, []string{w1.Registration.ID}, ids(out.Promoted))

	out, err = f.svc.Transition(ctx, w1.Registration.ID, "canceled", registrant("w1"))
	require.NoError(t, err)
	require.Equal(t, []string{w2.Registration.ID}, ids(out.Promoted))

	usage, err := f.svc.Usage(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, 1, usage.ActiveReserved)
	assert.Equal(t, 0, usage.WaitlistReserved)
	assert.Len(t, f.rec.OfType(notify.TypePromoted), 2)
}

// largeThenSmall leaves one free space ahead of a two-space and a
// one-space wait-listed registration, in that order.
func largeThenSmall(t *testing.T, f *fixture) (large, small *Outcome) {
	t.Helper()
	f.host(t, "h1", waitlistHost(2))
	r0 := f.register(t, "h1", 2, "complete", registrant("u0"))
	large = f.register(t, "h1", 2, "", registrant("big"))
	small = f.register(t, "h1", 1, "", registrant("small"))
	require.Equal(t, "waitlist", large.Registration.State)
	require.Equal(t, "waitlist", small.Registration.State)

	_, err := f.svc.ChangeSpaces(context.Background(), r0.Registration.ID, 1, registrant("u0"))
	require.NoError(t, err)
	return large, small
}

func TestPromotion_SkipLarger(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{Promotion: PromoteSkipLarger})
	large, small := largeThenSmall(t, f)

	got, err := f.store.Registration(ctx, small.Registration.ID)
	require.NoError(t, err)
	assert.Equal(t, "complete", got.State)

	got, err = f.store.Registration(ctx, large.Registration.ID)
	require.NoError(t, err)
	assert.Equal(t, "waitlist", got.State)
}

func TestPromotion_StrictFIFO(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{Promotion: PromoteStrictFIFO})
	_, small := largeThenSmall(t, f)

	got, err := f.store.Registration(ctx, small.Registration.ID)
	require.NoError(t, err)
	assert.Equal(t, "waitlist", got.State, "strict FIFO never overtakes the head of the wait-list")
	assert.Empty(t, f.rec.OfType(notify.TypePromoted))
}

func TestPromotion_OnDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.host(t, "h1", waitlistHost(1))
	r0 := f.register(t, "h1", 1, "", registrant("u0"))
	w1 := f.register(t, "h1", 1, "", registrant("w1"))

	promoted, err := f.svc.Delete(ctx, r0.Registration.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{w1.Registration.ID}, ids(promoted))

	_, err = f.store.Registration(ctx, r0.Registration.ID)
	assert.Error(t, err)
}

func TestUpdateHostSettings_RejectsUnreachableAutofillState(t *testing.T) {
	for _, state := range []string{"pending", "held"} {
		t.Run(state, func(t *testing.T) {
			f := newFixture(t, Options{})
			_, err := f.svc.UpdateHostSettings(context.Background(), model.HostSettings{
				HostID:                "h1",
				RegistrationType:      workflow.DefaultTypeID,
				Enabled:               true,
				Capacity:              1,
				WaitlistEnabled:       true,
				WaitlistAutofillState: state,
			})
			assert.ErrorIs(t, err, ErrInvalidSettings, "the wait-list has no edge to %s", state)
		})
	}
}

func TestPromotion_AutofillState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.host(t, "h1", func(s *model.HostSettings) {
		waitlistHost(1)(s)
		s.WaitlistAutofillState = "complete"
	})
	r0 := f.register(t, "h1", 1, "", registrant("u0"))
	w1 := f.register(t, "h1", 1, "", registrant("w1"))
	require.Equal(t, "waitlist", w1.Registration.State)

	out, err := f.svc.Transition(ctx, r0.Registration.ID, "canceled", registrant("u0"))
	require.NoError(t, err)
	require.Equal(t, []string{w1.Registration.ID}, ids(out.Promoted))
	assert.Equal(t, "complete", out.Promoted[0].State)

	usage, err := f.svc.Usage(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, 1, usage.ActiveReserved)
	assert.Zero(t, usage.WaitlistReserved)
}

func TestOnCapacityFreed_IsSafeWithoutFreeSpace(t *testing.T) {
	f := newFixture(t, Options{})
	f.host(t, "h1", waitlistHost(1))
	f.register(t, "h1", 1, "", registrant("u0"))
	f.register(t, "h1", 1, "", registrant("w1"))

	promoted, err := f.svc.OnCapacityFreed(context.Background(), "h1")
	require.NoError(t, err)
	assert.Empty(t, promoted)
}
