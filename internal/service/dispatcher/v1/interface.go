package dispatcher

import (
	"context"

	"github.com/danilovkiri/dk-go-nowserving/internal/models/modeldto"
	"github.com/danilovkiri/dk-go-nowserving/internal/models/modelqueue"
)

// Dispatcher is the queue dispatch engine.
type Dispatcher interface {
	Admit(ctx context.Context, queueID, credential string) (*modelqueue.WaitingEntry, error)
	CallNext(ctx context.Context, queueID, operatorEmail string) (*modeldto.CallNextResult, error)
	ClearCurrent(ctx context.Context, queueID, operatorEmail string) (*modelqueue.ServingSlot, error)
	MarkNoShow(ctx context.Context, queueID, operatorEmail, targetID, reason string) (*modeldto.NoShowResult, error)
	SweepExpired(ctx context.Context, queueID string) (*modeldto.SweepResult, error)
	ProcessNoShows(ctx context.Context, queueID, operatorEmail string) (*modeldto.SweepResult, error)
	SweepAll(ctx context.Context) ([]modeldto.SweepOutcome, error)
	QueueStatus(ctx context.Context, queueID string) (*modeldto.QueueStatus, error)
	CreateQueue(ctx context.Context, caller modelqueue.Identity, newQueue modeldto.NewQueue) (*modelqueue.Queue, error)
	GetRole(caller modelqueue.Identity) string
}

// BlockChecker reports whether an email is blocked.
type BlockChecker interface {
	IsBlocked(ctx context.Context, email string) (bool, error)
}
