// Package scheduler runs periodic maintenance jobs (stale session sweeps,
// audit retention) on a robfig/cron scheduler.
//
// # Log Prefixes
//
//   - [scheduler] - job registration, recovered panics and job errors
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// printfLogger routes cron's own logging through the standard logger.
type printfLogger struct{}

func (printfLogger) Printf(format string, args ...interface{}) {
	log.Printf("[scheduler] "+format, args...)
}

type Scheduler struct {
	cron *cron.Cron
}

// New returns a stopped scheduler. A panicking job is logged and recovered.
func New() *Scheduler {
	logger := cron.PrintfLogger(printfLogger{})
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
	}
}

// Add registers job under a standard cron spec or descriptor ("@daily").
func (s *Scheduler) Add(spec, name string, job func()) error {
	if _, err := s.cron.AddFunc(spec, job); err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	log.Printf("[scheduler] scheduled %s: %s", name, spec)
	return nil
}

// Every registers job to run every interval. Intervals below one second are
// rounded up.
func (s *Scheduler) Every(interval time.Duration, name string, job func()) error {
	return s.Add("@every "+interval.String(), name, job)
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
