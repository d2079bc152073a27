package inpsql

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cenkalti/backoff/v4"
	"github.com/danilovkiri/dk-go-nowserving/internal/config"
	"github.com/danilovkiri/dk-go-nowserving/internal/models/modelqueue"
	storageErrors "github.com/danilovkiri/dk-go-nowserving/internal/storage/v1/errors"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	servingColumns = []string{"queue_id", "entry_id", "uid", "email", "priority", "admitted_at", "promoted_at"}
	waitingColumns = []string{"id", "queue_id", "uid", "email", "priority", "admitted_at"}
)

func newMockStorage(t *testing.T, attempts int) (*Storage, sqlmock.Sqlmock) {
	t.Helper()
	log := zerolog.Nop()
	return newLoggedMockStorage(t, attempts, &log)
}

func newLoggedMockStorage(t *testing.T, attempts int, log *zerolog.Logger) (*Storage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	st := NewStorage(db, &config.StorageConfig{TxMaxAttempts: attempts}, log)
	st.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return st, mock
}

func serializationFailure() error {
	return &pgconn.PgError{Code: pgerrcode.SerializationFailure}
}

func TestAddQueueDuplicate(t *testing.T) {
	st, mock := newMockStorage(t, 1)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO queues")).
		WithArgs("q1", "Main", "op@mite.ac.in", 300, sqlmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})

	err := st.AddQueue(context.Background(), modelqueue.Queue{ID: "q1", Name: "Main", OperatorEmail: "op@mite.ac.in", TimeoutSeconds: 300, CreatedAt: time.Now()})
	var alreadyExists *storageErrors.AlreadyExistsError
	assert.True(t, errors.As(err, &alreadyExists))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetQueueNotFound(t *testing.T) {
	st, mock := newMockStorage(t, 1)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, operator_email, timeout_seconds, created_at FROM queues WHERE id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "operator_email", "timeout_seconds", "created_at"}))

	_, err := st.GetQueue(context.Background(), "missing")
	var notFound *storageErrors.NotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, storageErrors.EntityQueue, notFound.Entity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPromoteNext(t *testing.T) {
	st, mock := newMockStorage(t, 3)
	t0 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	now := t0.Add(time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM serving_slots WHERE queue_id = $1")).
		WithArgs("q").
		WillReturnRows(sqlmock.NewRows(servingColumns))
	mock.ExpectQuery(regexp.QuoteMeta("FROM waiting_entries WHERE queue_id = $1")).
		WithArgs("q").
		WillReturnRows(sqlmock.NewRows(waitingColumns).AddRow("e1", "q", "u1", "a@mite.ac.in", 1, t0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM waiting_entries WHERE id = $1")).
		WithArgs("e1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO serving_slots")).
		WithArgs("q", "e1", "u1", "a@mite.ac.in", 1, t0, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	slot, promoted, err := st.PromoteNext(context.Background(), "q", now)
	require.NoError(t, err)
	require.True(t, promoted)
	assert.Equal(t, "u1", slot.UID)
	assert.True(t, slot.PromotedAt.Equal(now))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPromoteNextBusySlot(t *testing.T) {
	st, mock := newMockStorage(t, 3)
	t0 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM serving_slots WHERE queue_id = $1")).
		WithArgs("q").
		WillReturnRows(sqlmock.NewRows(servingColumns).AddRow("q", "e0", "u0", "b@mite.ac.in", 2, t0, t0))
	mock.ExpectCommit()

	slot, promoted, err := st.PromoteNext(context.Background(), "q", t0.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, promoted)
	require.NotNil(t, slot)
	assert.Equal(t, "u0", slot.UID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPromoteNextRetriesSerializationFailure(t *testing.T) {
	st, mock := newMockStorage(t, 3)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM serving_slots WHERE queue_id = $1")).
		WithArgs("q").
		WillReturnError(serializationFailure())
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM serving_slots WHERE queue_id = $1")).
		WithArgs("q").
		WillReturnRows(sqlmock.NewRows(servingColumns))
	mock.ExpectQuery(regexp.QuoteMeta("FROM waiting_entries WHERE queue_id = $1")).
		WithArgs("q").
		WillReturnRows(sqlmock.NewRows(waitingColumns))
	mock.ExpectCommit()

	slot, promoted, err := st.PromoteNext(context.Background(), "q", time.Now())
	require.NoError(t, err)
	assert.False(t, promoted)
	assert.Nil(t, slot)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPromoteNextExhaustsAttempts(t *testing.T) {
	st, mock := newMockStorage(t, 2)
	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("FROM serving_slots WHERE queue_id = $1")).
			WithArgs("q").
			WillReturnError(serializationFailure())
		mock.ExpectRollback()
	}

	_, _, err := st.PromoteNext(context.Background(), "q", time.Now())
	var transient *storageErrors.TransientError
	require.True(t, errors.As(err, &transient))
	assert.Equal(t, 2, transient.Attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdmitAbortsWithoutMutation(t *testing.T) {
	st, mock := newMockStorage(t, 1)
	last := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM waiting_entries")).
		WithArgs("q", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT uid FROM serving_slots WHERE queue_id = $1")).
		WithArgs("q").
		WillReturnRows(sqlmock.NewRows([]string{"uid"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT last_admitted_at FROM rate_limit_marks")).
		WithArgs("u1", "q").
		WillReturnRows(sqlmock.NewRows([]string{"last_admitted_at"}).AddRow(last))
	mock.ExpectRollback()

	abort := errors.New("too soon")
	var seen *modelqueue.RateLimitMark
	_, err := st.Admit(context.Background(), "q", "u1", func(mark *modelqueue.RateLimitMark) (*modelqueue.WaitingEntry, error) {
		seen = mark
		return nil, abort
	})
	assert.Equal(t, abort, err)
	require.NotNil(t, seen)
	assert.True(t, seen.LastAdmittedAt.Equal(last))
	assert.Equal(t, "q", seen.QueueID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdmitDuplicate(t *testing.T) {
	st, mock := newMockStorage(t, 1)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM waiting_entries")).
		WithArgs("q", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err := st.Admit(context.Background(), "q", "u1", func(*modelqueue.RateLimitMark) (*modelqueue.WaitingEntry, error) {
		t.Error("admission callback must not run for a duplicate")
		return nil, nil
	})
	var alreadyExists *storageErrors.AlreadyExistsError
	assert.True(t, errors.As(err, &alreadyExists))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdmitInsertsEntryAndMark(t *testing.T) {
	st, mock := newMockStorage(t, 1)
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM waiting_entries")).
		WithArgs("q", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT uid FROM serving_slots WHERE queue_id = $1")).
		WithArgs("q").
		WillReturnRows(sqlmock.NewRows([]string{"uid"}).AddRow("someone-else"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT last_admitted_at FROM rate_limit_marks")).
		WithArgs("u1", "q").
		WillReturnRows(sqlmock.NewRows([]string{"last_admitted_at"}))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO rate_limit_marks")).
		WithArgs("u1", "q", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO waiting_entries")).
		WithArgs("e1", "q", "u1", "a@mite.ac.in", 1, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	entry, err := st.Admit(context.Background(), "q", "u1", func(mark *modelqueue.RateLimitMark) (*modelqueue.WaitingEntry, error) {
		assert.Nil(t, mark)
		return &modelqueue.WaitingEntry{ID: "e1", Email: "a@mite.ac.in", Priority: 1, AdmittedAt: now}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "q", entry.QueueID)
	assert.Equal(t, "u1", entry.UID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClearCurrentEmpty(t *testing.T) {
	st, mock := newMockStorage(t, 1)
	mock.ExpectQuery(regexp.QuoteMeta("DELETE FROM serving_slots WHERE queue_id = $1 RETURNING")).
		WithArgs("q").
		WillReturnRows(sqlmock.NewRows(servingColumns))

	cleared, err := st.ClearCurrent(context.Background(), "q")
	require.NoError(t, err)
	assert.Nil(t, cleared)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRetireCurrentDeclined(t *testing.T) {
	st, mock := newMockStorage(t, 1)
	t0 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM serving_slots WHERE queue_id = $1 FOR UPDATE")).
		WithArgs("q").
		WillReturnRows(sqlmock.NewRows(servingColumns).AddRow("q", "e0", "u0", "b@mite.ac.in", 1, t0, t0))
	mock.ExpectCommit()

	record, err := st.RetireCurrent(context.Background(), "q", t0.Add(time.Second), func(modelqueue.ServingSlot) (string, bool) {
		return "", false
	})
	require.NoError(t, err)
	assert.Nil(t, record)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsBlockedLowercases(t *testing.T) {
	st, mock := newMockStorage(t, 1)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM blocked_users WHERE email = $1)")).
		WithArgs("bad@mite.ac.in").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	blocked, err := st.IsBlocked(context.Background(), "Bad@Mite.ac.in")
	require.NoError(t, err)
	assert.True(t, blocked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRetireCurrentIdleQueueLogsNoError(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)
	st, mock := newLoggedMockStorage(t, 1, &log)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM serving_slots WHERE queue_id = $1 FOR UPDATE")).
		WithArgs("q").
		WillReturnRows(sqlmock.NewRows(servingColumns))
	mock.ExpectRollback()

	record, err := st.RetireCurrent(context.Background(), "q", time.Now(), func(modelqueue.ServingSlot) (string, bool) {
		t.Error("retire callback must not run for an empty slot")
		return "", false
	})
	var notFound *storageErrors.NotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, storageErrors.EntityServingSlot, notFound.Entity)
	assert.Nil(t, record)
	assert.NotContains(t, buf.String(), `"level":"error"`)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutionFailureLogsError(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)
	st, mock := newLoggedMockStorage(t, 1, &log)
	mock.ExpectQuery(regexp.QuoteMeta("DELETE FROM serving_slots WHERE queue_id = $1 RETURNING")).
		WithArgs("q").
		WillReturnError(errors.New("connection reset"))

	_, err := st.ClearCurrent(context.Background(), "q")
	var execErr *storageErrors.ExecutionPSQLError
	assert.True(t, errors.As(err, &execErr))
	assert.Contains(t, buf.String(), `"level":"error"`)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClearCurrentReturnsOccupant(t *testing.T) {
	st, mock := newMockStorage(t, 1)
	t0 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("DELETE FROM serving_slots WHERE queue_id = $1 RETURNING")).
		WithArgs("q").
		WillReturnRows(sqlmock.NewRows(servingColumns).AddRow("q", "e0", "u0", "b@mite.ac.in", 2, t0, t0.Add(time.Minute)))

	cleared, err := st.ClearCurrent(context.Background(), "q")
	require.NoError(t, err)
	require.NotNil(t, cleared)
	assert.Equal(t, "e0", cleared.EntryID)
	assert.Equal(t, "u0", cleared.UID)
	assert.True(t, cleared.PromotedAt.Equal(t0.Add(time.Minute)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRetireCurrentRecordsAndDeletes(t *testing.T) {
	st, mock := newMockStorage(t, 1)
	t0 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	now := t0.Add(10 * time.Minute)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM serving_slots WHERE queue_id = $1 FOR UPDATE")).
		WithArgs("q").
		WillReturnRows(sqlmock.NewRows(servingColumns).AddRow("q", "e0", "u0", "b@mite.ac.in", 1, t0, t0.Add(time.Minute)))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO retired_records")).
		WithArgs(sqlmock.AnyArg(), "q", "u0", "b@mite.ac.in", modelqueue.SourceServing, t0.Add(time.Minute), now, "auto-processed").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM serving_slots WHERE queue_id = $1")).
		WithArgs("q").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	record, err := st.RetireCurrent(context.Background(), "q", now, func(slot modelqueue.ServingSlot) (string, bool) {
		assert.Equal(t, "e0", slot.EntryID)
		return "auto-processed", true
	})
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "u0", record.UID)
	assert.Equal(t, modelqueue.SourceServing, record.Source)
	assert.Equal(t, "auto-processed", record.Reason)
	assert.NotEmpty(t, record.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRetireCurrentRollsBackOnDeleteFailure(t *testing.T) {
	st, mock := newMockStorage(t, 1)
	t0 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM serving_slots WHERE queue_id = $1 FOR UPDATE")).
		WithArgs("q").
		WillReturnRows(sqlmock.NewRows(servingColumns).AddRow("q", "e0", "u0", "b@mite.ac.in", 1, t0, t0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO retired_records")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM serving_slots WHERE queue_id = $1")).
		WithArgs("q").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	record, err := st.RetireCurrent(context.Background(), "q", t0, func(modelqueue.ServingSlot) (string, bool) {
		return "no-show (marked by operator)", true
	})
	var execErr *storageErrors.ExecutionPSQLError
	assert.True(t, errors.As(err, &execErr))
	assert.Nil(t, record)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRetireWaitingRecordsAndDeletes(t *testing.T) {
	st, mock := newMockStorage(t, 1)
	t0 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	now := t0.Add(time.Minute)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM waiting_entries WHERE id = $1 AND queue_id = $2 FOR UPDATE")).
		WithArgs("e1", "q").
		WillReturnRows(sqlmock.NewRows(waitingColumns).AddRow("e1", "q", "u1", "a@mite.ac.in", 1, t0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO retired_records")).
		WithArgs(sqlmock.AnyArg(), "q", "u1", "a@mite.ac.in", modelqueue.SourceWaiting, t0, now, "marked by operator").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM waiting_entries WHERE id = $1")).
		WithArgs("e1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	record, err := st.RetireWaiting(context.Background(), "q", "e1", "marked by operator", now)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, modelqueue.SourceWaiting, record.Source)
	assert.True(t, record.OriginAt.Equal(t0))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRetireWaitingNotFound(t *testing.T) {
	st, mock := newMockStorage(t, 1)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM waiting_entries WHERE id = $1 AND queue_id = $2 FOR UPDATE")).
		WithArgs("nope", "q").
		WillReturnRows(sqlmock.NewRows(waitingColumns))
	mock.ExpectRollback()

	_, err := st.RetireWaiting(context.Background(), "q", "nope", "marked by operator", time.Now())
	var notFound *storageErrors.NotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, storageErrors.EntityWaitingEntry, notFound.Entity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTxBackOffBounds(t *testing.T) {
	b := newTxBackOff()
	first := b.NextBackOff()
	assert.GreaterOrEqual(t, int64(first), int64(5*time.Millisecond))
	assert.LessOrEqual(t, int64(first), int64(15*time.Millisecond))
	for i := 0; i < 20; i++ {
		wait := b.NextBackOff()
		assert.NotEqual(t, backoff.Stop, wait)
		assert.LessOrEqual(t, int64(wait), int64(300*time.Millisecond))
	}
}
