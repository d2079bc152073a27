// Package dispatcher implements admission, selection and expiry for waiting lines with a single
// serving slot each.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danilovkiri/dk-go-nowserving/internal/config"
	"github.com/danilovkiri/dk-go-nowserving/internal/metrics"
	"github.com/danilovkiri/dk-go-nowserving/internal/models/modeldto"
	"github.com/danilovkiri/dk-go-nowserving/internal/models/modelqueue"
	dispatcherService "github.com/danilovkiri/dk-go-nowserving/internal/service/dispatcher/v1"
	serviceErrors "github.com/danilovkiri/dk-go-nowserving/internal/service/dispatcher/v1/errors"
	"github.com/danilovkiri/dk-go-nowserving/internal/service/policy/v1"
	"github.com/danilovkiri/dk-go-nowserving/internal/service/secretary/v1"
	"github.com/danilovkiri/dk-go-nowserving/internal/storage/v1"
	storageErrors "github.com/danilovkiri/dk-go-nowserving/internal/storage/v1/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var _ dispatcherService.Dispatcher = (*Dispatcher)(nil)

// Dispatcher defines attributes of a struct available to its methods.
type Dispatcher struct {
	storage   storage.Storage
	secretary secretary.Secretary
	policy    *policy.Policy
	blockList dispatcherService.BlockChecker
	metrics   *metrics.Metrics
	sweepCfg  *config.SweepConfig
	log       *zerolog.Logger
	now       func() time.Time
	newID     func() string
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// WithBlockList replaces the storage-backed block list, e.g. with a remote service client.
func WithBlockList(b dispatcherService.BlockChecker) Option {
	return func(d *Dispatcher) {
		if b != nil {
			d.blockList = b
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// InitService initializes the dispatch engine.
func InitService(st storage.Storage, sec secretary.Secretary, pol *policy.Policy, sweepCfg *config.SweepConfig, log *zerolog.Logger, opts ...Option) (*Dispatcher, error) {
	if st == nil {
		return nil, &serviceErrors.ServiceFoundNilArgument{Msg: "nil storage was passed to service initializer"}
	}
	if sec == nil {
		return nil, &serviceErrors.ServiceFoundNilArgument{Msg: "nil secretary was passed to service initializer"}
	}
	if pol == nil {
		return nil, &serviceErrors.ServiceFoundNilArgument{Msg: "nil policy was passed to service initializer"}
	}
	if sweepCfg == nil {
		return nil, &serviceErrors.ServiceFoundNilArgument{Msg: "nil sweep config was passed to service initializer"}
	}
	if log == nil {
		return nil, &serviceErrors.ServiceFoundNilArgument{Msg: "nil logger was passed to service initializer"}
	}
	d := &Dispatcher{
		storage:   st,
		secretary: sec,
		policy:    pol,
		blockList: st,
		sweepCfg:  sweepCfg,
		log:       log,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// translate converts storage errors into service errors. Anything else passes through.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var notFoundError *storageErrors.NotFoundError
	var alreadyExistsError *storageErrors.AlreadyExistsError
	var alreadyServingError *storageErrors.AlreadyServingError
	var transientError *storageErrors.TransientError
	switch {
	case errors.As(err, &notFoundError):
		switch notFoundError.Entity {
		case storageErrors.EntityWaitingEntry:
			return &serviceErrors.NotFoundError{Code: serviceErrors.CodeTargetNotFound, ID: notFoundError.ID}
		case storageErrors.EntityServingSlot:
			return &serviceErrors.NotFoundError{Code: serviceErrors.CodeNoCurrentEntry, ID: notFoundError.ID}
		default:
			return &serviceErrors.NotFoundError{Code: serviceErrors.CodeQueueNotFound, ID: notFoundError.ID}
		}
	case errors.As(err, &alreadyExistsError):
		return &serviceErrors.ConflictError{Code: serviceErrors.CodeAlreadyWaiting, Msg: "already in queue"}
	case errors.As(err, &alreadyServingError):
		return &serviceErrors.ConflictError{Code: serviceErrors.CodeAlreadyServing, Msg: "already being served"}
	case errors.As(err, &transientError):
		return &serviceErrors.TransientStoreError{Err: err}
	}
	return err
}

// getQueue returns the queue or QUEUE_NOT_FOUND.
func (d *Dispatcher) getQueue(ctx context.Context, queueID string) (*modelqueue.Queue, error) {
	if strings.TrimSpace(queueID) == "" {
		return nil, &serviceErrors.ValidationError{Code: serviceErrors.CodeInvalidArgument, Msg: "missing queue id"}
	}
	queue, err := d.storage.GetQueue(ctx, queueID)
	if err != nil {
		return nil, translate(err)
	}
	return queue, nil
}

// authorizeOperator returns the queue if operatorEmail is the operator assigned to it.
func (d *Dispatcher) authorizeOperator(ctx context.Context, queueID, operatorEmail string) (*modelqueue.Queue, error) {
	queue, err := d.getQueue(ctx, queueID)
	if err != nil {
		return nil, err
	}
	if operatorEmail == "" || !strings.EqualFold(strings.TrimSpace(queue.OperatorEmail), strings.TrimSpace(operatorEmail)) {
		return nil, &serviceErrors.PermissionError{Code: serviceErrors.CodeNotAssignedOperator, Msg: "you are not assigned to this queue"}
	}
	return queue, nil
}

// refreshWaiting resyncs the waiting gauge of a queue after its waiting list changed.
func (d *Dispatcher) refreshWaiting(ctx context.Context, queueID string) {
	if d.metrics == nil {
		return
	}
	waiting, err := d.storage.ListWaiting(ctx, queueID)
	if err != nil {
		d.log.Warn().Err(err).Msg(fmt.Sprintf("refreshing waiting gauge of queue %s failed", queueID))
		return
	}
	d.metrics.Waiting(queueID, len(waiting))
}

// QueueStatus returns the serving slot, ordered waiting entries and retired records of a queue.
func (d *Dispatcher) QueueStatus(ctx context.Context, queueID string) (*modeldto.QueueStatus, error) {
	queue, err := d.getQueue(ctx, queueID)
	if err != nil {
		return nil, err
	}
	current, err := d.storage.GetCurrent(ctx, queueID)
	if err != nil {
		return nil, translate(err)
	}
	waiting, err := d.storage.ListWaiting(ctx, queueID)
	if err != nil {
		return nil, translate(err)
	}
	retired, err := d.storage.ListRetired(ctx, queueID)
	if err != nil {
		return nil, translate(err)
	}
	d.metrics.Waiting(queueID, len(waiting))
	return &modeldto.QueueStatus{
		Queue:   *queue,
		Current: current,
		Waiting: waiting,
		Retired: retired,
	}, nil
}

// CreateQueue provisions a queue. Only admins may call it.
func (d *Dispatcher) CreateQueue(ctx context.Context, caller modelqueue.Identity, newQueue modeldto.NewQueue) (*modelqueue.Queue, error) {
	if caller.Role != modelqueue.RoleAdmin {
		return nil, &serviceErrors.PermissionError{Code: serviceErrors.CodeNotAdmin, Msg: "admin role required"}
	}
	name := strings.TrimSpace(newQueue.Name)
	operator := strings.TrimSpace(newQueue.OperatorEmail)
	if name == "" || operator == "" {
		return nil, &serviceErrors.ValidationError{Code: serviceErrors.CodeInvalidArgument, Msg: "name and operator email are required"}
	}
	if newQueue.TimeoutSeconds < 0 {
		return nil, &serviceErrors.ValidationError{Code: serviceErrors.CodeInvalidArgument, Msg: "timeout must not be negative"}
	}
	timeout := newQueue.TimeoutSeconds
	if timeout == 0 {
		timeout = int(d.policy.DefaultTimeout() / time.Second)
	}
	queue := modelqueue.Queue{
		ID:             d.newID(),
		Name:           name,
		OperatorEmail:  operator,
		TimeoutSeconds: timeout,
		CreatedAt:      d.now(),
	}
	if err := d.storage.AddQueue(ctx, queue); err != nil {
		return nil, translate(err)
	}
	d.log.Info().Msg(fmt.Sprintf("queue %s created for operator %s", queue.ID, operator))
	return &queue, nil
}

// GetRole returns the role of the caller, student by default.
func (d *Dispatcher) GetRole(caller modelqueue.Identity) string {
	if caller.Role == "" {
		return modelqueue.RoleStudent
	}
	return caller.Role
}
