package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/model"
)

// MemoryStore is an in-process Store. Each host has its own mutex; writes
// made inside WithHostLock are staged and applied only if the callback
// succeeds.
type MemoryStore struct {
	mu    sync.Mutex
	hosts map[string]model.HostSettings
	regs  map[string]model.Registration
	locks map[string]*sync.Mutex
	seq   int64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		hosts: make(map[string]model.HostSettings),
		regs:  make(map[string]model.Registration),
		locks: make(map[string]*sync.Mutex),
	}
}

func (s *MemoryStore) hostLock(hostID string) (*sync.Mutex, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.hosts[hostID]; !ok {
		return nil, false
	}
	l, ok := s.locks[hostID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[hostID] = l
	}
	return l, true
}

// WithHostLock implements Store.
func (s *MemoryStore) WithHostLock(ctx context.Context, hostID string, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l, ok := s.hostLock(hostID)
	if !ok {
		return ErrNotFound
	}
	l.Lock()
	defer l.Unlock()

	host, err := s.Host(ctx, hostID)
	if err != nil {
		return err
	}
	tx := &memoryTx{
		store:    s,
		hostID:   hostID,
		settings: host.Settings,
		regs:     make(map[string]model.Registration, len(host.Registrations)),
		deleted:  make(map[string]bool),
	}
	for _, r := range host.Registrations {
		tx.regs[r.ID] = r
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// Registration implements Store.
func (s *MemoryStore) Registration(_ context.Context, id string) (model.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.regs[id]
	if !ok {
		return model.Registration{}, ErrNotFound
	}
	return r.Clone(), nil
}

// Host implements Store.
func (s *MemoryStore) Host(_ context.Context, hostID string) (model.Host, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hs, ok := s.hosts[hostID]
	if !ok {
		return model.Host{}, ErrNotFound
	}
	var regs []model.Registration
	for _, r := range s.regs {
		if r.HostID == hostID {
			regs = append(regs, r.Clone())
		}
	}
	sortByCreation(regs)
	return model.Host{Settings: hs.Clone(), Registrations: regs}, nil
}

// ListHostSettings implements Store.
func (s *MemoryStore) ListHostSettings(_ context.Context) ([]model.HostSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.HostSettings, 0, len(s.hosts))
	for _, hs := range s.hosts {
		out = append(out, hs.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HostID < out[j].HostID })
	return out, nil
}

// HeldRegistrations implements Store.
func (s *MemoryStore) HeldRegistrations(_ context.Context, typeID string, states []string, changedBefore time.Time) ([]model.Registration, error) {
	want := make(map[string]bool, len(states))
	for _, st := range states {
		want[st] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Registration
	for _, r := range s.regs {
		if r.Type == typeID && want[r.State] && r.ChangedAt.Before(changedBefore) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ChangedAt.Equal(out[j].ChangedAt) {
			return out[i].ChangedAt.Before(out[j].ChangedAt)
		}
		return out[i].Sequence < out[j].Sequence
	})
	return out, nil
}

// EnsureHost implements Store.
func (s *MemoryStore) EnsureHost(_ context.Context, hs model.HostSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.hosts[hs.HostID]; ok {
		return nil
	}
	if hs.ChangedAt.IsZero() {
		hs.ChangedAt = time.Now().UTC()
	}
	s.hosts[hs.HostID] = hs.Clone()
	return nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) nextSequence() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

func sortByCreation(regs []model.Registration) {
	sort.Slice(regs, func(i, j int) bool {
		if !regs[i].CreatedAt.Equal(regs[j].CreatedAt) {
			return regs[i].CreatedAt.Before(regs[j].CreatedAt)
		}
		return regs[i].Sequence < regs[j].Sequence
	})
}

// memoryTx stages changes to one host until commit.
type memoryTx struct {
	store    *MemoryStore
	hostID   string
	settings model.HostSettings
	regs     map[string]model.Registration
	deleted  map[string]bool
}

func (t *memoryTx) Host(context.Context) (model.Host, error) {
	regs := make([]model.Registration, 0, len(t.regs))
	for _, r := range t.regs {
		regs = append(regs, r.Clone())
	}
	sortByCreation(regs)
	return model.Host{Settings: t.settings.Clone(), Registrations: regs}, nil
}

func (t *memoryTx) Registration(ctx context.Context, id string) (model.Registration, error) {
	if r, ok := t.regs[id]; ok {
		return r.Clone(), nil
	}
	if t.deleted[id] {
		return model.Registration{}, ErrNotFound
	}
	if _, err := t.store.Registration(ctx, id); err != nil {
		return model.Registration{}, err
	}
	return model.Registration{}, ErrWrongHost
}

func (t *memoryTx) SaveHostSettings(_ context.Context, hs model.HostSettings) error {
	if hs.HostID != t.hostID {
		return ErrWrongHost
	}
	t.settings = hs.Clone()
	return nil
}

func (t *memoryTx) InsertRegistration(_ context.Context, r *model.Registration) error {
	if r.HostID != t.hostID {
		return ErrWrongHost
	}
	r.Sequence = t.store.nextSequence()
	t.regs[r.ID] = r.Clone()
	delete(t.deleted, r.ID)
	return nil
}

func (t *memoryTx) UpdateRegistration(_ context.Context, r model.Registration) error {
	if r.HostID != t.hostID {
		return ErrWrongHost
	}
	if _, ok := t.regs[r.ID]; !ok {
		return ErrNotFound
	}
	t.regs[r.ID] = r.Clone()
	return nil
}

func (t *memoryTx) DeleteRegistration(_ context.Context, id string) error {
	if _, ok := t.regs[id]; !ok {
		return ErrNotFound
	}
	delete(t.regs, id)
	t.deleted[id] = true
	return nil
}

func (t *memoryTx) commit() {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hosts[t.hostID] = t.settings
	for id := range t.deleted {
		delete(s.regs, id)
	}
	for id, r := range t.regs {
		s.regs[id] = r
	}
}
