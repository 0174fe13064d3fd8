/*
SPDX-FileCopyrightText: Red Hat

SPDX-License-Identifier: Apache-2.0
*/

package kvcoord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stephenafamo/bob/dialect/psql"
	"github.com/stephenafamo/bob/dialect/psql/dm"
	"github.com/stephenafamo/bob/dialect/psql/im"
	"github.com/stephenafamo/bob/dialect/psql/sm"

	"github.com/openshift-kni/vdisk-registry/internal/typederrors"
)

// kvTable is the single table backing the Postgres Coordinator. Every component's keys share it,
// distinguished only by their string prefixes (e.g. "{cluster_id}/registrations/").
const kvTable = "kv_store"

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, so sequence code can run the same queries
// against a transaction as the single-statement methods run against the pool.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Pool is the subset of *pgxpool.Pool that the Postgres Coordinator needs, kept narrow so a
// pgxmock pool can stand in for it in tests.
type Pool interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Postgres is a Coordinator backed by a PostgreSQL table, using SELECT ... FOR UPDATE inside a
// single transaction to make RunSequence's asserts and mutations atomic.
type Postgres struct {
	pool   Pool
	logger *slog.Logger
}

// NewPostgres wraps an already-connected pool. Run Migrate beforehand to create the schema.
func NewPostgres(pool Pool, logger *slog.Logger) *Postgres {
	return &Postgres{pool: pool, logger: logger}
}

func (p *Postgres) Exists(ctx context.Context, key string) (bool, error) {
	return queryExists(ctx, p.pool, key)
}

func queryExists(ctx context.Context, db DBTX, key string) (bool, error) {
	query := psql.Select(
		sm.Columns(psql.Quote("key")),
		sm.From(kvTable),
		sm.Where(psql.Quote("key").EQ(psql.Arg(key))),
	)
	sql, args, err := query.Build()
	if err != nil {
		return false, fmt.Errorf("building exists query: %w", err)
	}
	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return false, fmt.Errorf("executing exists query: %w", err)
	}
	defer rows.Close()
	return rows.Next(), rows.Err()
}

func (p *Postgres) Get(ctx context.Context, key string) ([]byte, error) {
	return queryGet(ctx, p.pool, key)
}

func queryGet(ctx context.Context, db DBTX, key string) ([]byte, error) {
	query := psql.Select(
		sm.Columns(psql.Quote("value")),
		sm.From(kvTable),
		sm.Where(psql.Quote("key").EQ(psql.Arg(key))),
	)
	sql, args, err := query.Build()
	if err != nil {
		return nil, fmt.Errorf("building get query: %w", err)
	}
	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("executing get query: %w", err)
	}
	value, err := pgx.CollectExactlyOneRow(rows, pgx.RowTo[[]byte])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, typederrors.NewNotFoundError(err, "key %q not found", key)
		}
		return nil, fmt.Errorf("collecting get query result: %w", err)
	}
	return value, nil
}

func (p *Postgres) Prefix(ctx context.Context, prefix string, max int) ([]Entry, error) {
	query := psql.Select(
		sm.Columns(psql.Quote("key"), psql.Quote("value")),
		sm.From(kvTable),
		sm.Where(psql.Raw("key LIKE ?", prefix+"%")),
		sm.OrderBy(psql.Quote("key")),
	)
	sql, args, err := query.Build()
	if err != nil {
		return nil, fmt.Errorf("building prefix query: %w", err)
	}
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("executing prefix query: %w", err)
	}
	entries, err := pgx.CollectRows(rows, pgx.RowToStructByNameLax[Entry])
	if err != nil {
		return nil, fmt.Errorf("collecting prefix query result: %w", err)
	}
	if max > 0 && len(entries) > max {
		entries = entries[:max]
	}
	return entries, nil
}

func (p *Postgres) DeletePrefix(ctx context.Context, prefix string) error {
	query := psql.Delete(
		dm.From(kvTable),
		dm.Where(psql.Raw("key LIKE ?", prefix+"%")),
	)
	sql, args, err := query.Build()
	if err != nil {
		return fmt.Errorf("building delete-prefix query: %w", err)
	}
	if _, err := p.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("executing delete-prefix query: %w", err)
	}
	return nil
}

// maxReconnectAttempts is the number of extra attempts applyOnceWithReconnect makes after a
// serialization or deadlock failure, independent of the assertion retry budget. Other errors,
// including a lost connection, are not retried.
const maxReconnectAttempts = 2

func (p *Postgres) RunSequence(ctx context.Context, description string, retryOnAssert bool, prepare func(seq *Sequence) error) error {
	attempts := 1
	if retryOnAssert {
		attempts = maxSequenceAttempts
	}

	var lastConflict error
	for attempt := 0; attempt < attempts; attempt++ {
		seq := &Sequence{}
		if err := prepare(seq); err != nil {
			return err
		}

		conflict, err := p.applyOnceWithReconnect(ctx, seq)
		if err != nil {
			return fmt.Errorf("sequence %q: %w", description, err)
		}
		if !conflict {
			return nil
		}
		lastConflict = typederrors.NewConflictingUpdateError(nil, "sequence %q: assertion failed", description)
		if !retryOnAssert {
			return lastConflict
		}
	}
	return lastConflict
}

// applyOnceWithReconnect retries applyOnce a bounded number of times when it fails with a
// transient serialization or deadlock error, as opposed to an application-level assertion
// conflict, which applyOnce reports separately via its conflict return value.
func (p *Postgres) applyOnceWithReconnect(ctx context.Context, seq *Sequence) (conflict bool, err error) {
	for attempt := 0; ; attempt++ {
		conflict, err = p.applyOnce(ctx, seq)
		if err == nil || attempt >= maxReconnectAttempts || !isSerializationFailure(err) {
			return conflict, err
		}
		if p.logger != nil {
			p.logger.WarnContext(ctx, "retrying sequence after transient database error",
				slog.String("error", err.Error()))
		}
	}
}

// applyOnce runs one attempt of a sequence inside a transaction. It locks every key touched by an
// assert or mutation, in sorted order, to avoid deadlocking against a concurrent sequence that
// touches an overlapping key set. It returns conflict=true (no error) when an assert failed, so
// RunSequence can decide whether to retry.
func (p *Postgres) applyOnce(ctx context.Context, seq *Sequence) (conflict bool, err error) {
	keys := map[string]struct{}{}
	for _, a := range seq.asserts {
		keys[a.key] = struct{}{}
	}
	for _, m := range seq.mutations {
		keys[m.key] = struct{}{}
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	err = pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		current := make(map[string][]byte, len(sorted))
		for _, key := range sorted {
			value, lockErr := lockKey(ctx, tx, key)
			if lockErr != nil {
				return lockErr
			}
			current[key] = value
		}

		for _, a := range seq.asserts {
			value, present := current[a.key]
			if a.absent {
				if present {
					conflict = true
					return nil
				}
				continue
			}
			if !present || string(value) != string(a.value) {
				conflict = true
				return nil
			}
		}

		for _, m := range seq.mutations {
			if m.delete {
				if err := execDelete(ctx, tx, m.key); err != nil {
					return err
				}
				continue
			}
			if err := execUpsert(ctx, tx, m.key, m.value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return conflict, nil
}

// lockKey locks a key's row (if any) for the duration of the enclosing transaction and returns its
// current value, or nil if absent.
func lockKey(ctx context.Context, tx pgx.Tx, key string) ([]byte, error) {
	query := psql.Select(
		sm.Columns(psql.Quote("value")),
		sm.From(kvTable),
		sm.Where(psql.Quote("key").EQ(psql.Arg(key))),
		sm.ForUpdate(kvTable),
	)
	sql, args, err := query.Build()
	if err != nil {
		return nil, fmt.Errorf("building lock query: %w", err)
	}
	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("executing lock query: %w", err)
	}
	value, err := pgx.CollectExactlyOneRow(rows, pgx.RowTo[[]byte])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("collecting lock query result: %w", err)
	}
	return value, nil
}

func execUpsert(ctx context.Context, tx pgx.Tx, key string, value []byte) error {
	query := psql.Insert(
		im.Into(kvTable, "key", "value"),
		im.Values(psql.Arg(key, value)),
		im.OnConflict("key").DoUpdate(im.SetExcluded("value")),
	)
	sql, args, err := query.Build()
	if err != nil {
		return fmt.Errorf("building upsert query: %w", err)
	}
	if _, err := tx.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("executing upsert query: %w", err)
	}
	return nil
}

func execDelete(ctx context.Context, tx pgx.Tx, key string) error {
	query := psql.Delete(
		dm.From(kvTable),
		dm.Where(psql.Quote("key").EQ(psql.Arg(key))),
	)
	sql, args, err := query.Build()
	if err != nil {
		return fmt.Errorf("building delete query: %w", err)
	}
	if _, err := tx.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("executing delete query: %w", err)
	}
	return nil
}

// isSerializationFailure reports whether err is a Postgres serialization or deadlock error, the
// two retriable classes that can surface from concurrent FOR UPDATE transactions.
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
}
