package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/waveline-labs/chatflow/sim"
)

const (
	defaultSchedulePollInterval = 5 * time.Second
	defaultScheduleBatchLimit   = 100
)

// SchedulerConfig configures the background broadcast runner.
type SchedulerConfig struct {
	Flows        FlowStore
	Schedules    ScheduleStore
	PollInterval time.Duration
	BatchLimit   int
	Now          func() time.Time
	Logger       *slog.Logger
}

// Scheduler periodically executes due broadcast schedules. A broadcast
// is a simulated send: the flow is started in manual mode once and the
// outcome is logged and recorded on the schedule row.
type Scheduler struct {
	flows        FlowStore
	schedules    ScheduleStore
	pollInterval time.Duration
	batchLimit   int
	now          func() time.Time
	logger       *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a broadcast scheduler.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Flows == nil {
		return nil, errors.New("scheduler flow store is nil")
	}
	if cfg.Schedules == nil {
		return nil, errors.New("scheduler schedule store is nil")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultSchedulePollInterval
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = defaultScheduleBatchLimit
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Scheduler{
		flows:        cfg.Flows,
		schedules:    cfg.Schedules,
		pollInterval: cfg.PollInterval,
		batchLimit:   cfg.BatchLimit,
		now:          cfg.Now,
		logger:       cfg.Logger,
	}, nil
}

// Start starts background polling. Calling Start on a running scheduler
// is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		_ = s.RunOnce(loopCtx)
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				_ = s.RunOnce(loopCtx)
			}
		}
	}()
}

// Stop stops background polling, waiting for the loop to exit or the
// context to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce executes a single scheduler pass.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	now := s.now().UTC()
	due, err := s.schedules.ListDueSchedules(ctx, now, s.batchLimit)
	if err != nil {
		return err
	}

	for _, sched := range due {
		s.processDueSchedule(ctx, sched, now)
	}
	return nil
}

func (s *Scheduler) processDueSchedule(ctx context.Context, sched BroadcastSchedule, now time.Time) {
	if !sched.Enabled {
		return
	}

	nextRunAt, err := nextCronRunUTC(sched.Cron, now)
	if err != nil {
		s.markScheduleFailure(ctx, sched, now, fmt.Errorf("computing next run: %w", err))
		return
	}

	sendErr := s.sendBroadcast(ctx, sched)

	finish := s.now().UTC()
	sched.NextRunAt = nextRunAt
	sched.LastRunAt = &finish
	sched.UpdatedAt = finish
	if sendErr != nil {
		sched.LastStatus = ScheduleStatusFailed
		sched.LastError = sendErr.Error()
		s.logger.Error("broadcast failed",
			"schedule_id", sched.ID, "flow_id", sched.FlowID, "error", sendErr)
	} else {
		sched.LastStatus = ScheduleStatusSent
		sched.LastError = ""
	}

	if err := s.schedules.UpdateSchedule(ctx, sched); err != nil {
		s.logger.Error("persist broadcast result",
			"schedule_id", sched.ID, "flow_id", sched.FlowID, "error", err)
	}
}

// sendBroadcast runs the flow once in manual mode as the simulated send.
// A flow that pauses for input counts as sent; the opening messages are
// what a broadcast delivers.
func (s *Scheduler) sendBroadcast(ctx context.Context, sched BroadcastSchedule) error {
	f, found, err := s.flows.Get(ctx, sched.FlowID)
	if err != nil {
		return fmt.Errorf("load flow: %w", err)
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrFlowNotFound, sched.FlowID)
	}

	simulator := sim.New(sim.Config{
		Nodes: f.Nodes,
		Edges: f.Edges,
		Mode:  sim.TriggerManual,
	})
	res, err := simulator.Start("")
	if err != nil {
		return fmt.Errorf("start flow: %w", err)
	}

	s.logger.Info("broadcast sent",
		"schedule_id", sched.ID,
		"flow_id", sched.FlowID,
		"audience_tag", sched.AudienceTag,
		"messages", len(res.Messages))
	return nil
}

func (s *Scheduler) markScheduleFailure(ctx context.Context, sched BroadcastSchedule, now time.Time, runErr error) {
	if nextRunAt, err := nextCronRunUTC(sched.Cron, now); err == nil {
		sched.NextRunAt = nextRunAt
	}
	sched.LastStatus = ScheduleStatusFailed
	sched.LastError = runErr.Error()
	sched.UpdatedAt = now
	if err := s.schedules.UpdateSchedule(ctx, sched); err != nil {
		s.logger.Error("persist schedule failure",
			"schedule_id", sched.ID, "flow_id", sched.FlowID, "error", err)
	}
}
