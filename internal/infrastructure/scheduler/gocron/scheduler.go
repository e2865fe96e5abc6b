// Package gocronscheduler implements ports.Scheduler on top of go-co-op/gocron,
// the way the teacher's block-height scheduler implements the same port
// against on-chain tips instead of wall-clock ticks.
package gocronscheduler

import (
	"fmt"
	"time"

	"github.com/ark-relay/gateway/internal/core/ports"
	"github.com/go-co-op/gocron"
	log "github.com/sirupsen/logrus"
)

type scheduler struct {
	cron *gocron.Scheduler
}

// NewScheduler returns a Scheduler backed by a gocron.Scheduler running in
// UTC; every registered job recovers from panics and logs them rather than
// taking down the process, mirroring the watcher/sweeper pattern elsewhere.
func NewScheduler() ports.Scheduler {
	return &scheduler{cron: gocron.NewScheduler(time.UTC)}
}

func (s *scheduler) ScheduleEvery(name string, intervalSeconds int, fn func()) error {
	if intervalSeconds <= 0 {
		return fmt.Errorf("invalid interval for task %s: %d", name, intervalSeconds)
	}
	_, err := s.cron.Every(intervalSeconds).Seconds().SingletonMode().Tag(name).Do(guarded(name, fn))
	if err != nil {
		return fmt.Errorf("failed to schedule task %s: %w", name, err)
	}
	return nil
}

func (s *scheduler) ScheduleOnce(name string, delaySeconds int, fn func()) error {
	if delaySeconds < 0 {
		return fmt.Errorf("invalid delay for task %s: %d", name, delaySeconds)
	}
	_, err := s.cron.Every(1).
		StartAt(time.Now().Add(time.Duration(delaySeconds) * time.Second)).
		Seconds().
		LimitRunsTo(1).
		Tag(name).
		Do(guarded(name, fn))
	if err != nil {
		return fmt.Errorf("failed to schedule one-off task %s: %w", name, err)
	}
	return nil
}

func (s *scheduler) Start() {
	s.cron.StartAsync()
}

func (s *scheduler) Stop() {
	s.cron.Stop()
}

// guarded wraps fn so a panic inside a scheduled task is logged instead of
// crashing the scheduler's goroutine.
func guarded(name string, fn func()) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				log.WithField("task", name).Errorf("recovered from panic in scheduled task: %v", r)
			}
		}()
		fn()
	}
}
