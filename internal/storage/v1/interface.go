package storage

import (
	"context"
	"time"

	"github.com/danilovkiri/dk-go-nowserving/internal/models/modelqueue"
)

// AdmitFunc is evaluated inside the admission transaction with the rate limit mark of the same
// uid for the same queue (nil if none). Returning an error aborts the transaction without mutation.
type AdmitFunc func(mark *modelqueue.RateLimitMark) (*modelqueue.WaitingEntry, error)

// RetireFunc decides inside the retirement transaction whether the current slot is retired and why.
type RetireFunc func(slot modelqueue.ServingSlot) (reason string, retire bool)

type Provisioner interface {
	AddQueue(ctx context.Context, queue modelqueue.Queue) error
	GetQueue(ctx context.Context, queueID string) (*modelqueue.Queue, error)
	ListQueues(ctx context.Context, afterID string, limit int) ([]modelqueue.Queue, error)
}

type Reader interface {
	FindWaiting(ctx context.Context, queueID, uid string) (*modelqueue.WaitingEntry, error)
	GetCurrent(ctx context.Context, queueID string) (*modelqueue.ServingSlot, error)
	ListWaiting(ctx context.Context, queueID string) ([]modelqueue.WaitingEntry, error)
	ListRetired(ctx context.Context, queueID string) ([]modelqueue.RetiredRecord, error)
}

type Dispatch interface {
	Admit(ctx context.Context, queueID, uid string, fn AdmitFunc) (*modelqueue.WaitingEntry, error)
	// PromoteNext moves the best waiting entry into an empty serving slot. It returns the occupant and
	// false when the slot is taken, and nil and false when nothing is waiting.
	PromoteNext(ctx context.Context, queueID string, now time.Time) (*modelqueue.ServingSlot, bool, error)
	ClearCurrent(ctx context.Context, queueID string) (*modelqueue.ServingSlot, error)
	RetireCurrent(ctx context.Context, queueID string, now time.Time, fn RetireFunc) (*modelqueue.RetiredRecord, error)
	RetireWaiting(ctx context.Context, queueID, entryID, reason string, now time.Time) (*modelqueue.RetiredRecord, error)
}

type BlockList interface {
	IsBlocked(ctx context.Context, email string) (bool, error)
	BlockEmail(ctx context.Context, email string, at time.Time) error
}

type Storage interface {
	Provisioner
	Reader
	Dispatch
	BlockList
	Close() error
}
