package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/robfig/cron/v3"
)

// Job is a scheduled task. Spec uses the standard five-field cron syntax.
type Job struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

type Scheduler struct {
	c *cron.Cron
}

// NewScheduler registers jobs on a UTC cron. A job still running when its next tick
// fires skips that tick.
func NewScheduler(jobs ...Job) (*Scheduler, error) {
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{})),
	)

	for _, job := range jobs {
		job := job
		if _, err := c.AddFunc(job.Spec, func() { runJob(job) }); err != nil {
			return nil, fmt.Errorf("schedule %s: %w", job.Name, err)
		}
		log.Infof("[Cron] %s scheduled (%s)", job.Name, job.Spec)
	}

	return &Scheduler{c: c}, nil
}

func (s *Scheduler) Start() {
	s.c.Start()
}

// Stop prevents new runs and waits for running jobs until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case <-s.c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func runJob(job Job) {
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		log.Errorf("[Cron] %s failed after %s: %v", job.Name, time.Since(start).Round(time.Millisecond), err)
		return
	}
	log.Infof("[Cron] %s finished in %s", job.Name, time.Since(start).Round(time.Millisecond))
}

// cronLogger adapts robfig/cron's logger to fiber's log.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Infow("[Cron] "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Errorw(fmt.Sprintf("[Cron] %s: %v", msg, err), keysAndValues...)
}
