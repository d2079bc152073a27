// Package monitor runs the periodic expiry sweep.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/danilovkiri/dk-go-nowserving/internal/config"
	monitorService "github.com/danilovkiri/dk-go-nowserving/internal/service/monitor/v1"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Monitor defines attributes of a struct available to its methods.
type Monitor struct {
	ctx     context.Context
	log     *zerolog.Logger
	wg      *sync.WaitGroup
	sweeper monitorService.Sweeper
	cron    *cron.Cron
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log *zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(fields(keysAndValues)).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(fields(keysAndValues)).Msg(msg)
}

func fields(keysAndValues []interface{}) map[string]interface{} {
	m := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		m[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return m
}

// InitMonitor schedules sweeps according to cfg.Schedule. Overlapping runs are skipped.
func InitMonitor(ctx context.Context, sweeper monitorService.Sweeper, cfg *config.SweepConfig, log *zerolog.Logger, wg *sync.WaitGroup) (*Monitor, error) {
	if sweeper == nil {
		return nil, errors.New("nil sweeper was passed to monitor initializer")
	}
	l := cronLogger{log: log}
	c := cron.New(cron.WithLogger(l), cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)))
	m := &Monitor{
		ctx:     ctx,
		log:     log,
		wg:      wg,
		sweeper: sweeper,
		cron:    c,
	}
	if _, err := c.AddFunc(cfg.Schedule, m.RunOnce); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", cfg.Schedule, err)
	}
	return m, nil
}

// RunOnce performs one sweep over all queues.
func (m *Monitor) RunOnce() {
	outcomes, err := m.sweeper.SweepAll(m.ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("sweep failed")
	}
	processed, failed := 0, 0
	for _, outcome := range outcomes {
		switch {
		case outcome.Err != nil:
			failed++
		case outcome.Result != nil && outcome.Result.Processed:
			processed++
		}
	}
	m.log.Info().Msg(fmt.Sprintf("sweep done: %d queues, %d processed, %d failed", len(outcomes), processed, failed))
}

// ListenAndProcess starts the schedule and stops it once ctx is done.
func (m *Monitor) ListenAndProcess() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.log.Info().Msg("expiry monitor started")
		m.cron.Start()
		<-m.ctx.Done()
		<-m.cron.Stop().Done()
		m.log.Info().Msg("expiry monitor stopped")
	}()
}
