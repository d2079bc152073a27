package inpsql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/danilovkiri/dk-go-nowserving/internal/config"
	"github.com/danilovkiri/dk-go-nowserving/internal/models/modelqueue"
	"github.com/danilovkiri/dk-go-nowserving/internal/models/modelstorage"
	storage "github.com/danilovkiri/dk-go-nowserving/internal/storage/v1"
	storageErrors "github.com/danilovkiri/dk-go-nowserving/internal/storage/v1/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/rs/zerolog"
)

var _ storage.Storage = (*Storage)(nil)

// errSlotRace signals that another transaction filled the serving slot first.
var errSlotRace = errors.New("serving slot was taken concurrently")

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// Storage defines attributes of a struct available to its methods.
type Storage struct {
	Cfg        *config.StorageConfig
	DB         *sql.DB
	log        *zerolog.Logger
	newBackOff func() backoff.BackOff
}

// InitStorage opens a PSQL connection and creates the schema.
func InitStorage(ctx context.Context, cfg *config.StorageConfig, log *zerolog.Logger) (*Storage, error) {
	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	st := NewStorage(db, cfg, log)
	err = st.createTables(ctx)
	if err != nil {
		return nil, err
	}
	log.Info().Msg("PSQL DB connection was established")
	return st, nil
}

// NewStorage wraps an existing connection pool.
func NewStorage(db *sql.DB, cfg *config.StorageConfig, log *zerolog.Logger) *Storage {
	return &Storage{
		Cfg:        cfg,
		DB:         db,
		log:        log,
		newBackOff: newTxBackOff,
	}
}

// newTxBackOff paces transaction retries: jittered, doubling from 10ms, capped at 200ms.
// The attempt limit is enforced by inTx.
func newTxBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// isFailure tells store failures apart from expected outcomes such as a missing row or a
// declined admission.
func isFailure(err error) bool {
	var execErr *storageErrors.ExecutionPSQLError
	var scanErr *storageErrors.ScanningPSQLError
	var transientErr *storageErrors.TransientError
	var timeoutErr *storageErrors.ContextTimeoutExceededError
	return errors.As(err, &execErr) || errors.As(err, &scanErr) ||
		errors.As(err, &transientErr) || errors.As(err, &timeoutErr)
}

// run executes fn in its own goroutine and gives up as soon as ctx is done.
func (s *Storage) run(ctx context.Context, op string, fn func() error) error {
	chanEr := make(chan error, 1)
	go func() {
		chanEr <- fn()
	}()
	select {
	case <-ctx.Done():
		s.log.Error().Err(ctx.Err()).Msg(fmt.Sprintf("%s failed", op))
		return &storageErrors.ContextTimeoutExceededError{Err: ctx.Err()}
	case methodErr := <-chanEr:
		if methodErr != nil {
			if isFailure(methodErr) {
				s.log.Error().Err(methodErr).Msg(fmt.Sprintf("%s failed", op))
			} else {
				s.log.Debug().Err(methodErr).Msg(fmt.Sprintf("%s declined", op))
			}
			return methodErr
		}
		s.log.Info().Msg(fmt.Sprintf("%s done", op))
		return nil
	}
}

// inTx runs fn in a serializable transaction, retrying it from scratch on serialization conflicts.
func (s *Storage) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	attempts := s.Cfg.TxMaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	b := s.newBackOff()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err
		s.log.Warn().Err(err).Msg(fmt.Sprintf("transaction conflict, attempt %d of %d", attempt, attempts))
		wait := b.NextBackOff()
		if attempt == attempts || wait == backoff.Stop {
			break
		}
		select {
		case <-ctx.Done():
			return &storageErrors.ContextTimeoutExceededError{Err: ctx.Err()}
		case <-time.After(wait):
		}
	}
	return &storageErrors.TransientError{Err: lastErr, Attempts: attempts}
}

func (s *Storage) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return &storageErrors.ExecutionPSQLError{Err: err}
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return &storageErrors.ExecutionPSQLError{Err: err}
	}
	return nil
}

func isRetryable(err error) bool {
	if errors.Is(err, errSlotRace) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return false
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// AddQueue registers a queue.
func (s *Storage) AddQueue(ctx context.Context, queue modelqueue.Queue) error {
	return s.run(ctx, fmt.Sprintf("adding queue %s", queue.ID), func() error {
		_, err := s.DB.ExecContext(ctx,
			"INSERT INTO queues (id, name, operator_email, timeout_seconds, created_at) VALUES ($1, $2, $3, $4, $5)",
			queue.ID, queue.Name, queue.OperatorEmail, queue.TimeoutSeconds, queue.CreatedAt)
		if err != nil {
			if pgCode(err) == pgerrcode.UniqueViolation {
				return &storageErrors.AlreadyExistsError{Err: err, ID: queue.ID}
			}
			return &storageErrors.ExecutionPSQLError{Err: err}
		}
		return nil
	})
}

// GetQueue returns a queue by id.
func (s *Storage) GetQueue(ctx context.Context, queueID string) (*modelqueue.Queue, error) {
	var queue *modelqueue.Queue
	err := s.run(ctx, fmt.Sprintf("getting queue %s", queueID), func() error {
		row := s.DB.QueryRowContext(ctx,
			"SELECT id, name, operator_email, timeout_seconds, created_at FROM queues WHERE id = $1", queueID)
		q, err := scanQueue(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return &storageErrors.NotFoundError{Entity: storageErrors.EntityQueue, ID: queueID}
			}
			return &storageErrors.ScanningPSQLError{Err: err}
		}
		queue = q
		return nil
	})
	return queue, err
}

// ListQueues returns up to limit queues with id greater than afterID, ordered by id.
func (s *Storage) ListQueues(ctx context.Context, afterID string, limit int) ([]modelqueue.Queue, error) {
	var queues []modelqueue.Queue
	err := s.run(ctx, "listing queues", func() error {
		rows, err := s.DB.QueryContext(ctx,
			"SELECT id, name, operator_email, timeout_seconds, created_at FROM queues WHERE id > $1 ORDER BY id LIMIT $2",
			afterID, limit)
		if err != nil {
			return &storageErrors.ExecutionPSQLError{Err: err}
		}
		defer rows.Close()
		for rows.Next() {
			q, err := scanQueue(rows)
			if err != nil {
				return &storageErrors.ScanningPSQLError{Err: err}
			}
			queues = append(queues, *q)
		}
		if err := rows.Err(); err != nil {
			return &storageErrors.ScanningPSQLError{Err: err}
		}
		return nil
	})
	return queues, err
}

// FindWaiting returns the waiting entry of uid in a queue, or nil.
func (s *Storage) FindWaiting(ctx context.Context, queueID, uid string) (*modelqueue.WaitingEntry, error) {
	var entry *modelqueue.WaitingEntry
	err := s.run(ctx, fmt.Sprintf("finding waiting entry of %s", uid), func() error {
		row := s.DB.QueryRowContext(ctx,
			"SELECT id, queue_id, uid, email, priority, admitted_at FROM waiting_entries WHERE queue_id = $1 AND uid = $2",
			queueID, uid)
		e, err := scanWaiting(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return &storageErrors.ScanningPSQLError{Err: err}
		}
		entry = e
		return nil
	})
	return entry, err
}

// GetCurrent returns the serving slot of a queue, or nil.
func (s *Storage) GetCurrent(ctx context.Context, queueID string) (*modelqueue.ServingSlot, error) {
	var slot *modelqueue.ServingSlot
	err := s.run(ctx, fmt.Sprintf("getting serving slot of %s", queueID), func() error {
		row := s.DB.QueryRowContext(ctx,
			"SELECT queue_id, entry_id, uid, email, priority, admitted_at, promoted_at FROM serving_slots WHERE queue_id = $1",
			queueID)
		sl, err := scanServing(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return &storageErrors.ScanningPSQLError{Err: err}
		}
		slot = sl
		return nil
	})
	return slot, err
}

// ListWaiting returns the waiting entries of a queue in selection order.
func (s *Storage) ListWaiting(ctx context.Context, queueID string) ([]modelqueue.WaitingEntry, error) {
	var entries []modelqueue.WaitingEntry
	err := s.run(ctx, fmt.Sprintf("listing waiting entries of %s", queueID), func() error {
		rows, err := s.DB.QueryContext(ctx,
			"SELECT id, queue_id, uid, email, priority, admitted_at FROM waiting_entries WHERE queue_id = $1 ORDER BY priority, admitted_at, id",
			queueID)
		if err != nil {
			return &storageErrors.ExecutionPSQLError{Err: err}
		}
		defer rows.Close()
		for rows.Next() {
			e, err := scanWaiting(rows)
			if err != nil {
				return &storageErrors.ScanningPSQLError{Err: err}
			}
			entries = append(entries, *e)
		}
		if err := rows.Err(); err != nil {
			return &storageErrors.ScanningPSQLError{Err: err}
		}
		return nil
	})
	return entries, err
}

// ListRetired returns the retired records of a queue in retirement order.
func (s *Storage) ListRetired(ctx context.Context, queueID string) ([]modelqueue.RetiredRecord, error) {
	var records []modelqueue.RetiredRecord
	err := s.run(ctx, fmt.Sprintf("listing retired records of %s", queueID), func() error {
		rows, err := s.DB.QueryContext(ctx,
			"SELECT id, queue_id, uid, email, source, origin_at, retired_at, reason FROM retired_records WHERE queue_id = $1 ORDER BY retired_at, id",
			queueID)
		if err != nil {
			return &storageErrors.ExecutionPSQLError{Err: err}
		}
		defer rows.Close()
		for rows.Next() {
			var r modelstorage.RetiredStorageEntry
			err := rows.Scan(&r.ID, &r.QueueID, &r.UID, &r.Email, &r.Source, &r.OriginAt, &r.RetiredAt, &r.Reason)
			if err != nil {
				return &storageErrors.ScanningPSQLError{Err: err}
			}
			records = append(records, toRetired(r))
		}
		if err := rows.Err(); err != nil {
			return &storageErrors.ScanningPSQLError{Err: err}
		}
		return nil
	})
	return records, err
}

// Admit re-validates uniqueness, reads the cooldown mark and inserts the entry built by fn, all in
// one transaction.
func (s *Storage) Admit(ctx context.Context, queueID, uid string, fn storage.AdmitFunc) (*modelqueue.WaitingEntry, error) {
	var admitted *modelqueue.WaitingEntry
	err := s.run(ctx, fmt.Sprintf("admitting %s to %s", uid, queueID), func() error {
		return s.inTx(ctx, func(tx *sql.Tx) error {
			var exists bool
			err := tx.QueryRowContext(ctx,
				"SELECT EXISTS (SELECT 1 FROM waiting_entries WHERE queue_id = $1 AND uid = $2)", queueID, uid).Scan(&exists)
			if err != nil {
				return &storageErrors.ExecutionPSQLError{Err: err}
			}
			if exists {
				return &storageErrors.AlreadyExistsError{ID: uid}
			}
			var servingUID string
			err = tx.QueryRowContext(ctx, "SELECT uid FROM serving_slots WHERE queue_id = $1", queueID).Scan(&servingUID)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return &storageErrors.ExecutionPSQLError{Err: err}
			}
			if err == nil && servingUID == uid {
				return &storageErrors.AlreadyServingError{ID: uid}
			}
			var mark *modelqueue.RateLimitMark
			var lastAdmittedAt time.Time
			err = tx.QueryRowContext(ctx,
				"SELECT last_admitted_at FROM rate_limit_marks WHERE uid = $1 AND queue_id = $2", uid, queueID).Scan(&lastAdmittedAt)
			switch {
			case err == nil:
				mark = &modelqueue.RateLimitMark{UID: uid, QueueID: queueID, LastAdmittedAt: lastAdmittedAt}
			case !errors.Is(err, sql.ErrNoRows):
				return &storageErrors.ExecutionPSQLError{Err: err}
			}
			entry, err := fn(mark)
			if err != nil {
				return err
			}
			entry.QueueID = queueID
			entry.UID = uid
			_, err = tx.ExecContext(ctx,
				`INSERT INTO rate_limit_marks (uid, queue_id, last_admitted_at) VALUES ($1, $2, $3)
				ON CONFLICT (uid, queue_id) DO UPDATE SET last_admitted_at = EXCLUDED.last_admitted_at`,
				uid, queueID, entry.AdmittedAt)
			if err != nil {
				if pgCode(err) == pgerrcode.ForeignKeyViolation {
					return &storageErrors.NotFoundError{Entity: storageErrors.EntityQueue, ID: queueID}
				}
				return &storageErrors.ExecutionPSQLError{Err: err}
			}
			_, err = tx.ExecContext(ctx,
				"INSERT INTO waiting_entries (id, queue_id, uid, email, priority, admitted_at) VALUES ($1, $2, $3, $4, $5, $6)",
				entry.ID, queueID, uid, entry.Email, entry.Priority, entry.AdmittedAt)
			if err != nil {
				switch pgCode(err) {
				case pgerrcode.UniqueViolation:
					return &storageErrors.AlreadyExistsError{Err: err, ID: uid}
				case pgerrcode.ForeignKeyViolation:
					return &storageErrors.NotFoundError{Entity: storageErrors.EntityQueue, ID: queueID}
				}
				return &storageErrors.ExecutionPSQLError{Err: err}
			}
			admitted = entry
			return nil
		})
	})
	return admitted, err
}

// PromoteNext moves the best waiting entry into the serving slot if the slot is empty.
func (s *Storage) PromoteNext(ctx context.Context, queueID string, now time.Time) (*modelqueue.ServingSlot, bool, error) {
	var slot *modelqueue.ServingSlot
	var promoted bool
	err := s.run(ctx, fmt.Sprintf("promoting next entry of %s", queueID), func() error {
		return s.inTx(ctx, func(tx *sql.Tx) error {
			slot, promoted = nil, false
			row := tx.QueryRowContext(ctx,
				"SELECT queue_id, entry_id, uid, email, priority, admitted_at, promoted_at FROM serving_slots WHERE queue_id = $1",
				queueID)
			busy, err := scanServing(row)
			switch {
			case err == nil:
				slot = busy
				return nil
			case !errors.Is(err, sql.ErrNoRows):
				return &storageErrors.ExecutionPSQLError{Err: err}
			}
			row = tx.QueryRowContext(ctx,
				`SELECT id, queue_id, uid, email, priority, admitted_at FROM waiting_entries WHERE queue_id = $1
				ORDER BY priority, admitted_at, id LIMIT 1 FOR UPDATE`,
				queueID)
			next, err := scanWaiting(row)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return nil
				}
				return &storageErrors.ExecutionPSQLError{Err: err}
			}
			_, err = tx.ExecContext(ctx, "DELETE FROM waiting_entries WHERE id = $1", next.ID)
			if err != nil {
				return &storageErrors.ExecutionPSQLError{Err: err}
			}
			candidate := next.Promote(now)
			res, err := tx.ExecContext(ctx,
				`INSERT INTO serving_slots (queue_id, entry_id, uid, email, priority, admitted_at, promoted_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (queue_id) DO NOTHING`,
				queueID, candidate.EntryID, candidate.UID, candidate.Email, candidate.Priority, candidate.AdmittedAt, candidate.PromotedAt)
			if err != nil {
				return &storageErrors.ExecutionPSQLError{Err: err}
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return &storageErrors.ExecutionPSQLError{Err: err}
			}
			if affected == 0 {
				return errSlotRace
			}
			slot, promoted = &candidate, true
			return nil
		})
	})
	if err != nil {
		return nil, false, err
	}
	return slot, promoted, nil
}

// ClearCurrent deletes the serving slot and returns what it held, or nil if it was empty.
func (s *Storage) ClearCurrent(ctx context.Context, queueID string) (*modelqueue.ServingSlot, error) {
	var cleared *modelqueue.ServingSlot
	err := s.run(ctx, fmt.Sprintf("clearing serving slot of %s", queueID), func() error {
		row := s.DB.QueryRowContext(ctx,
			"DELETE FROM serving_slots WHERE queue_id = $1 RETURNING queue_id, entry_id, uid, email, priority, admitted_at, promoted_at",
			queueID)
		slot, err := scanServing(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return &storageErrors.ExecutionPSQLError{Err: err}
		}
		cleared = slot
		return nil
	})
	return cleared, err
}

// RetireCurrent records and deletes the serving slot when fn agrees.
func (s *Storage) RetireCurrent(ctx context.Context, queueID string, now time.Time, fn storage.RetireFunc) (*modelqueue.RetiredRecord, error) {
	var record *modelqueue.RetiredRecord
	err := s.run(ctx, fmt.Sprintf("retiring serving slot of %s", queueID), func() error {
		return s.inTx(ctx, func(tx *sql.Tx) error {
			record = nil
			row := tx.QueryRowContext(ctx,
				"SELECT queue_id, entry_id, uid, email, priority, admitted_at, promoted_at FROM serving_slots WHERE queue_id = $1 FOR UPDATE",
				queueID)
			slot, err := scanServing(row)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return &storageErrors.NotFoundError{Entity: storageErrors.EntityServingSlot, ID: queueID}
				}
				return &storageErrors.ExecutionPSQLError{Err: err}
			}
			reason, ok := fn(*slot)
			if !ok {
				return nil
			}
			r := modelqueue.RetiredRecord{
				ID:        uuid.New().String(),
				QueueID:   queueID,
				UID:       slot.UID,
				Email:     slot.Email,
				Source:    modelqueue.SourceServing,
				OriginAt:  slot.PromotedAt,
				RetiredAt: now,
				Reason:    reason,
			}
			if err := insertRetired(ctx, tx, r); err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, "DELETE FROM serving_slots WHERE queue_id = $1", queueID)
			if err != nil {
				return &storageErrors.ExecutionPSQLError{Err: err}
			}
			record = &r
			return nil
		})
	})
	return record, err
}

// RetireWaiting records and deletes one waiting entry.
func (s *Storage) RetireWaiting(ctx context.Context, queueID, entryID, reason string, now time.Time) (*modelqueue.RetiredRecord, error) {
	var record *modelqueue.RetiredRecord
	err := s.run(ctx, fmt.Sprintf("retiring waiting entry %s", entryID), func() error {
		return s.inTx(ctx, func(tx *sql.Tx) error {
			row := tx.QueryRowContext(ctx,
				"SELECT id, queue_id, uid, email, priority, admitted_at FROM waiting_entries WHERE id = $1 AND queue_id = $2 FOR UPDATE",
				entryID, queueID)
			entry, err := scanWaiting(row)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return &storageErrors.NotFoundError{Entity: storageErrors.EntityWaitingEntry, ID: entryID}
				}
				return &storageErrors.ExecutionPSQLError{Err: err}
			}
			r := modelqueue.RetiredRecord{
				ID:        uuid.New().String(),
				QueueID:   queueID,
				UID:       entry.UID,
				Email:     entry.Email,
				Source:    modelqueue.SourceWaiting,
				OriginAt:  entry.AdmittedAt,
				RetiredAt: now,
				Reason:    reason,
			}
			if err := insertRetired(ctx, tx, r); err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, "DELETE FROM waiting_entries WHERE id = $1", entryID)
			if err != nil {
				return &storageErrors.ExecutionPSQLError{Err: err}
			}
			record = &r
			return nil
		})
	})
	return record, err
}

// IsBlocked reports whether an email is on the block list.
func (s *Storage) IsBlocked(ctx context.Context, email string) (bool, error) {
	if email == "" {
		return false, nil
	}
	var blocked bool
	err := s.run(ctx, "checking block list", func() error {
		err := s.DB.QueryRowContext(ctx,
			"SELECT EXISTS (SELECT 1 FROM blocked_users WHERE email = $1)", strings.ToLower(email)).Scan(&blocked)
		if err != nil {
			return &storageErrors.ExecutionPSQLError{Err: err}
		}
		return nil
	})
	return blocked, err
}

// BlockEmail puts an email on the block list.
func (s *Storage) BlockEmail(ctx context.Context, email string, at time.Time) error {
	return s.run(ctx, "blocking email", func() error {
		_, err := s.DB.ExecContext(ctx,
			"INSERT INTO blocked_users (email, blocked_at) VALUES ($1, $2) ON CONFLICT (email) DO NOTHING",
			strings.ToLower(email), at)
		if err != nil {
			return &storageErrors.ExecutionPSQLError{Err: err}
		}
		return nil
	})
}

// Close closes the connection pool.
func (s *Storage) Close() error {
	return s.DB.Close()
}

func insertRetired(ctx context.Context, tx *sql.Tx, r modelqueue.RetiredRecord) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO retired_records (id, queue_id, uid, email, source, origin_at, retired_at, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.QueueID, r.UID, r.Email, r.Source, r.OriginAt, r.RetiredAt, r.Reason)
	if err != nil {
		return &storageErrors.ExecutionPSQLError{Err: err}
	}
	return nil
}

func scanQueue(row rowScanner) (*modelqueue.Queue, error) {
	var q modelstorage.QueueStorageEntry
	if err := row.Scan(&q.ID, &q.Name, &q.OperatorEmail, &q.TimeoutSeconds, &q.CreatedAt); err != nil {
		return nil, err
	}
	return &modelqueue.Queue{
		ID:             q.ID,
		Name:           q.Name,
		OperatorEmail:  q.OperatorEmail,
		TimeoutSeconds: q.TimeoutSeconds,
		CreatedAt:      q.CreatedAt,
	}, nil
}

func scanWaiting(row rowScanner) (*modelqueue.WaitingEntry, error) {
	var e modelstorage.WaitingStorageEntry
	if err := row.Scan(&e.ID, &e.QueueID, &e.UID, &e.Email, &e.Priority, &e.AdmittedAt); err != nil {
		return nil, err
	}
	return &modelqueue.WaitingEntry{
		ID:         e.ID,
		QueueID:    e.QueueID,
		UID:        e.UID,
		Email:      e.Email,
		Priority:   e.Priority,
		AdmittedAt: e.AdmittedAt,
	}, nil
}

func scanServing(row rowScanner) (*modelqueue.ServingSlot, error) {
	var sl modelstorage.ServingStorageEntry
	if err := row.Scan(&sl.QueueID, &sl.EntryID, &sl.UID, &sl.Email, &sl.Priority, &sl.AdmittedAt, &sl.PromotedAt); err != nil {
		return nil, err
	}
	return &modelqueue.ServingSlot{
		QueueID:    sl.QueueID,
		EntryID:    sl.EntryID,
		UID:        sl.UID,
		Email:      sl.Email,
		Priority:   sl.Priority,
		AdmittedAt: sl.AdmittedAt,
		PromotedAt: sl.PromotedAt,
	}, nil
}

func toRetired(r modelstorage.RetiredStorageEntry) modelqueue.RetiredRecord {
	return modelqueue.RetiredRecord{
		ID:        r.ID,
		QueueID:   r.QueueID,
		UID:       r.UID,
		Email:     r.Email,
		Source:    r.Source,
		OriginAt:  r.OriginAt,
		RetiredAt: r.RetiredAt,
		Reason:    r.Reason,
	}
}

func (s *Storage) createTables(ctx context.Context) error {
	var queries []string
	query := `CREATE TABLE IF NOT EXISTS queues (
		id              TEXT        PRIMARY KEY,
		name            TEXT        NOT NULL,
		operator_email  TEXT        NOT NULL,
		timeout_seconds INTEGER     NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL
	);`
	queries = append(queries, query)
	query = `CREATE TABLE IF NOT EXISTS waiting_entries (
		id          TEXT        PRIMARY KEY,
		queue_id    TEXT        NOT NULL REFERENCES queues (id),
		uid         TEXT        NOT NULL,
		email       TEXT        NOT NULL,
		priority    SMALLINT    NOT NULL,
		admitted_at TIMESTAMPTZ NOT NULL,
		UNIQUE (queue_id, uid)
	);`
	queries = append(queries, query)
	query = `CREATE INDEX IF NOT EXISTS waiting_entries_selection_idx
		ON waiting_entries (queue_id, priority, admitted_at, id);`
	queries = append(queries, query)
	query = `CREATE TABLE IF NOT EXISTS serving_slots (
		queue_id    TEXT        PRIMARY KEY REFERENCES queues (id),
		entry_id    TEXT        NOT NULL,
		uid         TEXT        NOT NULL,
		email       TEXT        NOT NULL,
		priority    SMALLINT    NOT NULL,
		admitted_at TIMESTAMPTZ NOT NULL,
		promoted_at TIMESTAMPTZ NOT NULL
	);`
	queries = append(queries, query)
	query = `CREATE TABLE IF NOT EXISTS retired_records (
		id         TEXT        PRIMARY KEY,
		queue_id   TEXT        NOT NULL REFERENCES queues (id),
		uid        TEXT        NOT NULL,
		email      TEXT        NOT NULL,
		source     TEXT        NOT NULL,
		origin_at  TIMESTAMPTZ NOT NULL,
		retired_at TIMESTAMPTZ NOT NULL,
		reason     TEXT        NOT NULL
	);`
	queries = append(queries, query)
	query = `CREATE TABLE IF NOT EXISTS rate_limit_marks (
		uid              TEXT        NOT NULL,
		queue_id         TEXT        NOT NULL REFERENCES queues (id),
		last_admitted_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (uid, queue_id)
	);`
	queries = append(queries, query)
	query = `CREATE TABLE IF NOT EXISTS blocked_users (
		email      TEXT        PRIMARY KEY,
		blocked_at TIMESTAMPTZ NOT NULL
	);`
	queries = append(queries, query)
	for _, subquery := range queries {
		_, err := s.DB.ExecContext(ctx, subquery)
		if err != nil {
			return err
		}
	}
	return nil
}
