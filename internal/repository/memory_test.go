package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/model"
)

var t0 = time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

func seededStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	require.NoError(t, s.EnsureHost(context.Background(), model.HostSettings{HostID: "h1", RegistrationType: "default", Capacity: 5, Enabled: true}))
	require.NoError(t, s.EnsureHost(context.Background(), model.HostSettings{HostID: "h2", RegistrationType: "default"}))
	return s
}

func registration(id, host, state string, created time.Time) *model.Registration {
	return &model.Registration{ID: id, HostID: host, Type: "default", Workflow: "registration", State: state, Count: 1, CreatedAt: created, ChangedAt: created}
}

func TestMemoryStore_CommitsOnSuccess(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)

	err := s.WithHostLock(ctx, "h1", func(ctx context.Context, tx Tx) error {
		r := registration("r1", "h1", "pending", t0)
		require.NoError(t, tx.InsertRegistration(ctx, r))
		assert.NotZero(t, r.Sequence)

		h, err := tx.Host(ctx)
		require.NoError(t, err)
		assert.Len(t, h.Registrations, 1, "staged writes are visible inside the transaction")
		return nil
	})
	require.NoError(t, err)

	got, err := s.Registration(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "pending", got.State)
}

func TestMemoryStore_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)
	boom := errors.New("boom")

	err := s.WithHostLock(ctx, "h1", func(ctx context.Context, tx Tx) error {
		require.NoError(t, tx.InsertRegistration(ctx, registration("r1", "h1", "pending", t0)))
		hs := model.HostSettings{HostID: "h1", Capacity: 99}
		require.NoError(t, tx.SaveHostSettings(ctx, hs))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.Registration(ctx, "r1")
	assert.ErrorIs(t, err, ErrNotFound)
	h, err := s.Host(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, 5, h.Settings.Capacity)
}

func TestMemoryStore_UnknownHost(t *testing.T) {
	err := seededStore(t).WithHostLock(context.Background(), "nope", func(context.Context, Tx) error { return nil })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_HostIsolation(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)
	require.NoError(t, s.WithHostLock(ctx, "h2", func(ctx context.Context, tx Tx) error {
		return tx.InsertRegistration(ctx, registration("other", "h2", "pending", t0))
	}))

	err := s.WithHostLock(ctx, "h1", func(ctx context.Context, tx Tx) error {
		_, err := tx.Registration(ctx, "other")
		assert.ErrorIs(t, err, ErrWrongHost)
		assert.ErrorIs(t, tx.InsertRegistration(ctx, registration("x", "h2", "pending", t0)), ErrWrongHost)
		assert.ErrorIs(t, tx.DeleteRegistration(ctx, "other"), ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStore_OrdersByCreationThenSequence(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)
	require.NoError(t, s.WithHostLock(ctx, "h1", func(ctx context.Context, tx Tx) error {
		for _, r := range []*model.Registration{
			registration("late", "h1", "waitlist", t0.Add(time.Minute)),
			registration("first", "h1", "waitlist", t0),
			registration("second", "h1", "waitlist", t0),
		} {
			if err := tx.InsertRegistration(ctx, r); err != nil {
				return err
			}
		}
		return nil
	}))

	h, err := s.Host(ctx, "h1")
	require.NoError(t, err)
	ids := make([]string, len(h.Registrations))
	for i, r := range h.Registrations {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"first", "second", "late"}, ids)
}

func TestMemoryStore_HeldRegistrations(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)
	require.NoError(t, s.WithHostLock(ctx, "h1", func(ctx context.Context, tx Tx) error {
		for _, r := range []*model.Registration{
			registration("old", "h1", "held", t0.Add(-2*time.Hour)),
			registration("fresh", "h1", "held", t0),
			registration("done", "h1", "complete", t0.Add(-2*time.Hour)),
		} {
			if err := tx.InsertRegistration(ctx, r); err != nil {
				return err
			}
		}
		return nil
	}))

	held, err := s.HeldRegistrations(ctx, "default", []string{"held"}, t0.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.Equal(t, "old", held[0].ID)
}

func TestMemoryStore_EnsureHostKeepsExisting(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)
	require.NoError(t, s.EnsureHost(ctx, model.HostSettings{HostID: "h1", Capacity: 1}))

	all, err := s.ListHostSettings(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "h1", all[0].HostID)
	assert.Equal(t, 5, all[0].Capacity)
}

func TestMemoryStore_SerialisesWritersPerHost(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.WithHostLock(ctx, "h1", func(ctx context.Context, tx Tx) error {
				hs, err := tx.Host(ctx)
				if err != nil {
					return err
				}
				hs.Settings.WaitlistCapacity++
				return tx.SaveHostSettings(ctx, hs.Settings)
			})
		}()
	}
	wg.Wait()

	h, err := s.Host(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, 50, h.Settings.WaitlistCapacity)
}
