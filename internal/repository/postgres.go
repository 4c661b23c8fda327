package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/model"
)

const settingsColumns = `host_id, host_type, registration_type, enabled, capacity, maximum_spaces,
	multiple_registrations, waitlist_enabled, waitlist_capacity, waitlist_autofill_state,
	open_at, close_at, cancel_by, reminder_at, reminder_sent, changed_at`

const registrationColumns = `id, host_id, type, workflow, state, user_id, email, count, seq,
	created_at, changed_at, completed_at`

// PostgresStore keeps hosts and registrations in PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// WithHostLock serialises writers on one host.
//
// The host_settings row is locked with SELECT … FOR UPDATE before fn reads
// anything. A concurrent WithHostLock on the same host blocks on that row
// until this transaction commits or rolls back, so two writers can never
// both see free capacity and both take it.
func (s *PostgresStore) WithHostLock(ctx context.Context, hostID string, fn func(ctx context.Context, tx Tx) error) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	// Ensure the transaction is always resolved, even if fn panics.
	// Rollback after a successful Commit is a no-op.
	defer func() { _ = tx.Rollback(ctx) }()

	// ── Step 1: Acquire an exclusive row-level lock on the host. ───────────
	var locked string
	err = tx.QueryRow(ctx,
		`SELECT host_id FROM host_settings WHERE host_id = $1 FOR UPDATE`,
		hostID,
	).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lock host row: %w", err)
	}

	// ── Step 2: Read, decide and write under the lock. ─────────────────────
	if err = fn(ctx, &pgTx{tx: tx, hostID: hostID}); err != nil {
		return err
	}

	// ── Step 3: Commit; only now do other writers see the change. ──────────
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Registration returns a single registration or ErrNotFound.
func (s *PostgresStore) Registration(ctx context.Context, id string) (model.Registration, error) {
	return getRegistration(ctx, s.db, id)
}

// Host reads settings and registrations without taking the host lock.
func (s *PostgresStore) Host(ctx context.Context, hostID string) (model.Host, error) {
	return readHost(ctx, s.db, hostID)
}

// ListHostSettings returns every host's settings ordered by host ID.
func (s *PostgresStore) ListHostSettings(ctx context.Context) ([]model.HostSettings, error) {
	rows, err := s.db.Query(ctx, `SELECT `+settingsColumns+` FROM host_settings ORDER BY host_id`)
	if err != nil {
		return nil, fmt.Errorf("list host settings: %w", err)
	}
	defer rows.Close()

	var out []model.HostSettings
	for rows.Next() {
		hs, err := scanSettings(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, hs)
	}
	return out, rows.Err()
}

// HeldRegistrations implements Store.
func (s *PostgresStore) HeldRegistrations(ctx context.Context, typeID string, states []string, changedBefore time.Time) ([]model.Registration, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+registrationColumns+`
		 FROM registrations
		 WHERE type = $1 AND state = ANY($2) AND changed_at < $3
		 ORDER BY changed_at ASC, seq ASC`,
		typeID, states, changedBefore.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list held registrations: %w", err)
	}
	return collectRegistrations(rows)
}

// EnsureHost inserts settings unless the host already has some.
func (s *PostgresStore) EnsureHost(ctx context.Context, hs model.HostSettings) error {
	if hs.ChangedAt.IsZero() {
		hs.ChangedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO host_settings (`+settingsColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 ON CONFLICT (host_id) DO NOTHING`,
		settingsArgs(hs)...,
	)
	if err != nil {
		return fmt.Errorf("insert host settings: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// pgTx is the Tx handed to WithHostLock callbacks.
type pgTx struct {
	tx     pgx.Tx
	hostID string
}

func (t *pgTx) Host(ctx context.Context) (model.Host, error) {
	return readHost(ctx, t.tx, t.hostID)
}

func (t *pgTx) Registration(ctx context.Context, id string) (model.Registration, error) {
	r, err := getRegistration(ctx, t.tx, id)
	if err != nil {
		return model.Registration{}, err
	}
	if r.HostID != t.hostID {
		return model.Registration{}, ErrWrongHost
	}
	return r, nil
}

func (t *pgTx) SaveHostSettings(ctx context.Context, hs model.HostSettings) error {
	if hs.HostID != t.hostID {
		return ErrWrongHost
	}
	_, err := t.tx.Exec(ctx,
		`UPDATE host_settings SET
			host_type = $2, registration_type = $3, enabled = $4, capacity = $5,
			maximum_spaces = $6, multiple_registrations = $7, waitlist_enabled = $8,
			waitlist_capacity = $9, waitlist_autofill_state = $10, open_at = $11,
			close_at = $12, cancel_by = $13, reminder_at = $14, reminder_sent = $15,
			changed_at = $16
		 WHERE host_id = $1`,
		settingsArgs(hs)...,
	)
	if err != nil {
		return fmt.Errorf("update host settings: %w", err)
	}
	return nil
}

func (t *pgTx) InsertRegistration(ctx context.Context, r *model.Registration) error {
	if r.HostID != t.hostID {
		return ErrWrongHost
	}
	err := t.tx.QueryRow(ctx,
		`INSERT INTO registrations (id, host_id, type, workflow, state, user_id, email, count,
			created_at, changed_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING seq`,
		r.ID, r.HostID, r.Type, r.Workflow, r.State, r.UserID, r.Email, r.Count,
		r.CreatedAt.UTC(), r.ChangedAt.UTC(), utcPtr(r.CompletedAt),
	).Scan(&r.Sequence)
	if err != nil {
		return fmt.Errorf("insert registration: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateRegistration(ctx context.Context, r model.Registration) error {
	if r.HostID != t.hostID {
		return ErrWrongHost
	}
	tag, err := t.tx.Exec(ctx,
		`UPDATE registrations
		 SET state = $2, count = $3, email = $4, changed_at = $5, completed_at = $6
		 WHERE id = $1 AND host_id = $7`,
		r.ID, r.State, r.Count, r.Email, r.ChangedAt.UTC(), utcPtr(r.CompletedAt), t.hostID,
	)
	if err != nil {
		return fmt.Errorf("update registration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) DeleteRegistration(ctx context.Context, id string) error {
	tag, err := t.tx.Exec(ctx,
		`DELETE FROM registrations WHERE id = $1 AND host_id = $2`,
		id, t.hostID,
	)
	if err != nil {
		return fmt.Errorf("delete registration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func readHost(ctx context.Context, q querier, hostID string) (model.Host, error) {
	hs, err := scanSettings(q.QueryRow(ctx,
		`SELECT `+settingsColumns+` FROM host_settings WHERE host_id = $1`,
		hostID,
	))
	if err != nil {
		return model.Host{}, err
	}

	rows, err := q.Query(ctx,
		`SELECT `+registrationColumns+`
		 FROM registrations
		 WHERE host_id = $1
		 ORDER BY created_at ASC, seq ASC`,
		hostID,
	)
	if err != nil {
		return model.Host{}, fmt.Errorf("list registrations: %w", err)
	}
	regs, err := collectRegistrations(rows)
	if err != nil {
		return model.Host{}, err
	}
	return model.Host{Settings: hs, Registrations: regs}, nil
}

func getRegistration(ctx context.Context, q querier, id string) (model.Registration, error) {
	r, err := scanRegistration(q.QueryRow(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Registration{}, ErrNotFound
		}
		return model.Registration{}, fmt.Errorf("get registration: %w", err)
	}
	return r, nil
}

func collectRegistrations(rows pgx.Rows) ([]model.Registration, error) {
	defer rows.Close()
	var regs []model.Registration
	for rows.Next() {
		r, err := scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		regs = append(regs, r)
	}
	return regs, rows.Err()
}

func scanRegistration(row pgx.Row) (model.Registration, error) {
	var r model.Registration
	err := row.Scan(&r.ID, &r.HostID, &r.Type, &r.Workflow, &r.State, &r.UserID, &r.Email,
		&r.Count, &r.Sequence, &r.CreatedAt, &r.ChangedAt, &r.CompletedAt)
	return r, err
}

func scanSettings(row pgx.Row) (model.HostSettings, error) {
	var hs model.HostSettings
	err := row.Scan(&hs.HostID, &hs.HostType, &hs.RegistrationType, &hs.Enabled, &hs.Capacity,
		&hs.MaximumSpaces, &hs.MultipleRegistrations, &hs.WaitlistEnabled, &hs.WaitlistCapacity,
		&hs.WaitlistAutofillState, &hs.OpenAt, &hs.CloseAt, &hs.CancelBy, &hs.ReminderAt,
		&hs.ReminderSent, &hs.ChangedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.HostSettings{}, ErrNotFound
		}
		return model.HostSettings{}, fmt.Errorf("scan host settings: %w", err)
	}
	return hs, nil
}

func settingsArgs(hs model.HostSettings) []any {
	return []any{
		hs.HostID, hs.HostType, hs.RegistrationType, hs.Enabled, hs.Capacity, hs.MaximumSpaces,
		hs.MultipleRegistrations, hs.WaitlistEnabled, hs.WaitlistCapacity, hs.WaitlistAutofillState,
		utcPtr(hs.OpenAt), utcPtr(hs.CloseAt), utcPtr(hs.CancelBy), utcPtr(hs.ReminderAt),
		hs.ReminderSent, hs.ChangedAt.UTC(),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
