package countdown

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Runner executes background jobs for the scheduler. The returned cancel
// function must be safe to call more than once.
type Runner interface {
	Every(name string, interval time.Duration, task func()) (cancel func(), err error)
	At(name string, at time.Time, task func()) (cancel func(), err error)
	Shutdown() error
}

// CronRunner runs jobs on a gocron scheduler.
type CronRunner struct {
	sched gocron.Scheduler
}

func NewCronRunner(clock clockwork.Clock) (*CronRunner, error) {
	opts := []gocron.SchedulerOption{}
	if clock != nil {
		opts = append(opts, gocron.WithClock(clock))
	}
	sched, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, fmt.Errorf("new scheduler: %w", err)
	}
	sched.Start()
	return &CronRunner{sched: sched}, nil
}

func (r *CronRunner) Every(name string, interval time.Duration, task func()) (func(), error) {
	job, err := r.sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(task),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, fmt.Errorf("schedule %s: %w", name, err)
	}
	return r.remover(job), nil
}

func (r *CronRunner) At(name string, at time.Time, task func()) (func(), error) {
	job, err := r.sched.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartDateTime(at)),
		gocron.NewTask(task),
		gocron.WithName(name),
	)
	if err != nil {
		return nil, fmt.Errorf("schedule %s: %w", name, err)
	}
	return r.remover(job), nil
}

// remover detaches job removal from the caller. Callers may hold locks that a
// running task is waiting on; stale runs are filtered by the scheduler tokens.
func (r *CronRunner) remover(job gocron.Job) func() {
	id := job.ID()
	return func() {
		go func() {
			if err := r.sched.RemoveJob(id); err != nil && !errors.Is(err, gocron.ErrJobNotFound) {
				log.Warn().Err(err).Str("job", job.Name()).Msg("remove job")
			}
		}()
	}
}

func (r *CronRunner) Shutdown() error {
	return r.sched.Shutdown()
}
