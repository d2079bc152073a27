package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/danilovkiri/dk-go-nowserving/internal/models/modeldto"
	"github.com/danilovkiri/dk-go-nowserving/internal/models/modelqueue"
	serviceErrors "github.com/danilovkiri/dk-go-nowserving/internal/service/dispatcher/v1/errors"
	"golang.org/x/sync/errgroup"
)

const defaultSweepPageSize = 100

// SweepExpired retires the serving slot of a queue once it has been held for the queue timeout and
// promotes the next waiting entry. It is a no-op for an idle or not yet expired queue.
func (d *Dispatcher) SweepExpired(ctx context.Context, queueID string) (*modeldto.SweepResult, error) {
	queue, err := d.getQueue(ctx, queueID)
	if err != nil {
		return nil, err
	}
	return d.sweepQueue(ctx, *queue)
}

// ProcessNoShows runs SweepExpired on behalf of the operator assigned to the queue.
func (d *Dispatcher) ProcessNoShows(ctx context.Context, queueID, operatorEmail string) (*modeldto.SweepResult, error) {
	queue, err := d.authorizeOperator(ctx, queueID, operatorEmail)
	if err != nil {
		return nil, err
	}
	return d.sweepQueue(ctx, *queue)
}

func (d *Dispatcher) sweepQueue(ctx context.Context, queue modelqueue.Queue) (*modeldto.SweepResult, error) {
	timeout := queue.Timeout(d.policy.DefaultTimeout())
	now := d.now()
	record, err := d.storage.RetireCurrent(ctx, queue.ID, now, func(slot modelqueue.ServingSlot) (string, bool) {
		return modelqueue.ReasonAutoProcessed, now.Sub(slot.PromotedAt) >= timeout
	})
	if err != nil {
		err = translate(err)
		if serviceErrors.CodeOf(err) == serviceErrors.CodeNoCurrentEntry {
			return &modeldto.SweepResult{Success: true}, nil
		}
		return nil, err
	}
	if record == nil {
		return &modeldto.SweepResult{Success: true}, nil
	}
	d.metrics.Retirement(record.Reason)
	d.log.Info().Msg(fmt.Sprintf("expired serving slot of queue %s retired", queue.ID))
	next, err := d.callNext(ctx, queue.ID)
	if err != nil {
		d.log.Error().Err(err).Msg(fmt.Sprintf("promotion after expiry failed for queue %s", queue.ID))
		return &modeldto.SweepResult{Success: true, Processed: true, Retired: record}, nil
	}
	return &modeldto.SweepResult{Success: true, Processed: true, Retired: record, Next: next}, nil
}

// SweepAll evaluates every known queue page by page with bounded concurrency. A failing queue is
// logged and reported in its outcome and never stops the sweep. The returned error is set only when
// listing queues fails or ctx is done.
func (d *Dispatcher) SweepAll(ctx context.Context) ([]modeldto.SweepOutcome, error) {
	started := time.Now()
	pageSize := d.sweepCfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultSweepPageSize
	}
	workers := d.sweepCfg.WorkerNumber
	if workers <= 0 {
		workers = 1
	}
	var outcomes []modeldto.SweepOutcome
	failures := 0
	defer func() {
		d.metrics.Sweep(time.Since(started), failures)
	}()
	afterID := ""
	for {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		queues, err := d.storage.ListQueues(ctx, afterID, pageSize)
		if err != nil {
			d.log.Error().Err(err).Msg("listing queues for sweep failed")
			return outcomes, translate(err)
		}
		if len(queues) == 0 {
			break
		}
		page := make([]modeldto.SweepOutcome, len(queues))
		var g errgroup.Group
		g.SetLimit(workers)
		for i := range queues {
			i, queue := i, queues[i]
			g.Go(func() error {
				result, err := d.sweepQueue(ctx, queue)
				page[i] = modeldto.SweepOutcome{QueueID: queue.ID, Result: result, Err: err}
				if err != nil {
					page[i].Error = err.Error()
				}
				return nil
			})
		}
		_ = g.Wait()
		for _, outcome := range page {
			if outcome.Err != nil {
				failures++
				d.log.Error().Err(outcome.Err).Msg(fmt.Sprintf("sweep of queue %s failed", outcome.QueueID))
			} else if outcome.Result.Processed {
				d.log.Info().Msg(fmt.Sprintf("sweep processed queue %s", outcome.QueueID))
			}
		}
		outcomes = append(outcomes, page...)
		if len(queues) < pageSize {
			break
		}
		afterID = queues[len(queues)-1].ID
	}
	return outcomes, nil
}
