package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ErrCycleRunning is returned by TriggerNow when a previous cycle has not finished.
var ErrCycleRunning = errors.New("scheduler: cycle already running")

// TickFunc executes one refresh cycle started at the given time.
type TickFunc func(ctx context.Context, at time.Time) error

// State is the scheduler's position in its Idle/Running cycle.
type State int32

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	RunOnStart   bool
	StartupDelay time.Duration
	// OnOverlap is called whenever a trigger is dropped.
	OnOverlap func()
}

// Scheduler fires a TickFunc on a fixed period and never lets two cycles overlap.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
	state  atomic.Int32
	now    func() time.Time
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// State reports whether a cycle is in flight.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Run blocks, invoking tick every interval until ctx is cancelled, then waits
// for an in-flight cycle to return.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	fire := func(trigger string) {
		if err := s.trigger(ctx, tick, trigger); errors.Is(err, ErrCycleRunning) {
			s.logger.Warn().Str("trigger", trigger).Msg("previous cycle still running; trigger dropped")
		}
	}

	c := cron.New(cron.WithLocation(time.UTC))
	c.Schedule(cron.Every(s.opts.Interval), cron.FuncJob(func() { fire("timer") }))
	c.Start()
	s.logger.Info().Dur("interval", s.opts.Interval).Msg("scheduler started")

	// cron 的 Stop 会等待定时任务结束，启动时的那次需要单独等待
	var wg sync.WaitGroup
	if s.opts.RunOnStart {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fire("startup")
		}()
	}

	<-ctx.Done()
	<-c.Stop().Done()
	wg.Wait()
	s.logger.Info().Msg("scheduler stopped")
	return ctx.Err()
}

// TriggerNow runs one cycle synchronously under the same Idle/Running guard the
// timer uses. It returns ErrCycleRunning without calling tick when a cycle is in flight.
func (s *Scheduler) TriggerNow(ctx context.Context, tick TickFunc) error {
	return s.trigger(ctx, tick, "manual")
}

func (s *Scheduler) trigger(ctx context.Context, tick TickFunc, trigger string) (err error) {
	if !s.state.CompareAndSwap(int32(Idle), int32(Running)) {
		if s.opts.OnOverlap != nil {
			s.opts.OnOverlap()
		}
		return ErrCycleRunning
	}
	defer s.state.Store(int32(Idle))

	if ctx.Err() != nil {
		return ctx.Err()
	}

	at := s.now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panicked: %v", r)
			s.logger.Error().Err(err).Time("at", at).Str("trigger", trigger).Msg("tick execution failed")
		}
	}()

	s.logger.Info().Time("at", at).Str("trigger", trigger).Msg("executing scheduled tick")
	if err = tick(ctx, at); err != nil {
		s.logger.Error().Err(err).Time("at", at).Str("trigger", trigger).Msg("tick execution failed")
	}
	return err
}
