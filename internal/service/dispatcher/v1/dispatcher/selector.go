package dispatcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/danilovkiri/dk-go-nowserving/internal/models/modeldto"
	"github.com/danilovkiri/dk-go-nowserving/internal/models/modelqueue"
)

// CallNext promotes the best waiting entry if the serving slot is free.
func (d *Dispatcher) CallNext(ctx context.Context, queueID, operatorEmail string) (*modeldto.CallNextResult, error) {
	if _, err := d.authorizeOperator(ctx, queueID, operatorEmail); err != nil {
		return nil, err
	}
	return d.callNext(ctx, queueID)
}

func (d *Dispatcher) callNext(ctx context.Context, queueID string) (*modeldto.CallNextResult, error) {
	slot, promoted, err := d.storage.PromoteNext(ctx, queueID, d.now())
	if err != nil {
		return nil, translate(err)
	}
	switch {
	case promoted:
		d.metrics.Promotion()
		d.refreshWaiting(ctx, queueID)
		d.log.Info().Msg(fmt.Sprintf("entry %s promoted in queue %s", slot.EntryID, queueID))
		return &modeldto.CallNextResult{Success: true, Served: slot}, nil
	case slot != nil:
		return &modeldto.CallNextResult{Success: true, Busy: slot}, nil
	default:
		return &modeldto.CallNextResult{Success: true, NoneWaiting: true}, nil
	}
}

// ClearCurrent empties the serving slot without writing a retired record.
func (d *Dispatcher) ClearCurrent(ctx context.Context, queueID, operatorEmail string) (*modelqueue.ServingSlot, error) {
	if _, err := d.authorizeOperator(ctx, queueID, operatorEmail); err != nil {
		return nil, err
	}
	cleared, err := d.storage.ClearCurrent(ctx, queueID)
	if err != nil {
		return nil, translate(err)
	}
	if cleared != nil {
		d.log.Info().Msg(fmt.Sprintf("serving slot of queue %s cleared", queueID))
	}
	return cleared, nil
}

// MarkNoShow strikes the waiting entry targetID, or retires the serving slot and calls the next entry
// when targetID is empty.
func (d *Dispatcher) MarkNoShow(ctx context.Context, queueID, operatorEmail, targetID, reason string) (*modeldto.NoShowResult, error) {
	if _, err := d.authorizeOperator(ctx, queueID, operatorEmail); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	targetID = strings.TrimSpace(targetID)
	if targetID != "" {
		if reason == "" {
			reason = modelqueue.ReasonMarkedByOperator
		}
		record, err := d.storage.RetireWaiting(ctx, queueID, targetID, reason, d.now())
		if err != nil {
			return nil, translate(err)
		}
		d.metrics.Retirement(reason)
		d.refreshWaiting(ctx, queueID)
		d.log.Info().Msg(fmt.Sprintf("waiting entry %s of queue %s marked as no-show", targetID, queueID))
		return &modeldto.NoShowResult{Success: true, Retired: record}, nil
	}
	if reason == "" {
		reason = modelqueue.ReasonNoShowByOperator
	}
	record, err := d.storage.RetireCurrent(ctx, queueID, d.now(), func(modelqueue.ServingSlot) (string, bool) {
		return reason, true
	})
	if err != nil {
		return nil, translate(err)
	}
	d.metrics.Retirement(reason)
	d.log.Info().Msg(fmt.Sprintf("serving slot of queue %s marked as no-show", queueID))
	next, err := d.callNext(ctx, queueID)
	if err != nil {
		// the retirement stands; promotion is retried by the next call or sweep
		d.log.Error().Err(err).Msg(fmt.Sprintf("promotion after no-show failed for queue %s", queueID))
		return &modeldto.NoShowResult{Success: true, Retired: record}, nil
	}
	return &modeldto.NoShowResult{Success: true, Retired: record, Next: next}, nil
}
