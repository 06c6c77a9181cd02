// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package maintenance runs periodic housekeeping: stale memory pruning and
// purging of expired durable conversations.
package maintenance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"

	ariaerr "github.com/sigil-dev/aria/pkg/errors"
)

const (
	DefaultPruneSchedule = "@daily"
	DefaultPurgeSchedule = "@every 15m"

	// Job names.
	JobPrune = "memory.prune"
	JobPurge = "conversation.purge"

	stopTimeout = 5 * time.Second
)

// Pruner removes stale memories. Satisfied by memory.Service.
type Pruner interface {
	PruneStale(ctx context.Context) (int64, error)
}

// Purger removes conversations past their TTL. Satisfied by conversation.Cache.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Config holds cron expressions (standard five-field or @descriptors). An
// empty schedule uses the default; "off" disables the job.
type Config struct {
	PruneSchedule string
	PurgeSchedule string
}

// Result is the outcome of the most recent run of a job.
type Result struct {
	At      time.Time `json:"at"`
	Removed int64     `json:"removed"`
	Error   string    `json:"error,omitempty"`
}

type job struct {
	name     string
	schedule string
	run      func(ctx context.Context) (int64, error)
}

// Scheduler owns the cron runner and the last result of each job.
type Scheduler struct {
	cron *rcron.Cron
	jobs []job

	mu      sync.Mutex
	results map[string]Result
	ctx     context.Context
	cancel  context.CancelFunc
}

// New validates the schedules and registers the jobs. A nil pruner or
// purger skips its job.
func New(cfg Config, pruner Pruner, purger Purger) (*Scheduler, error) {
	s := &Scheduler{
		cron:    rcron.New(),
		results: make(map[string]Result),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if pruner != nil {
		s.jobs = append(s.jobs, job{name: JobPrune, schedule: orDefault(cfg.PruneSchedule, DefaultPruneSchedule), run: pruner.PruneStale})
	}
	if purger != nil {
		s.jobs = append(s.jobs, job{name: JobPurge, schedule: orDefault(cfg.PurgeSchedule, DefaultPurgeSchedule), run: purger.PurgeExpired})
	}

	for _, j := range s.jobs {
		if j.schedule == "off" {
			continue
		}
		if _, err := s.cron.AddFunc(j.schedule, func() { s.RunNow(s.ctx, j.name) }); err != nil {
			return nil, ariaerr.Wrapf(err, ariaerr.CodeConfigValidateInvalidValue,
				"invalid schedule %q for %s", j.schedule, j.name)
		}
	}
	return s, nil
}

// Start begins running jobs on their schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("maintenance: scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop halts scheduling and waits briefly for running jobs.
func (s *Scheduler) Stop() {
	s.cancel()
	select {
	case <-s.cron.Stop().Done():
	case <-time.After(stopTimeout):
		slog.Warn("maintenance: timed out waiting for running jobs")
	}
}

// RunNow runs the named job immediately and records its result. Unknown
// names are an error.
func (s *Scheduler) RunNow(ctx context.Context, name string) (Result, error) {
	for _, j := range s.jobs {
		if j.name != name {
			continue
		}
		removed, err := j.run(ctx)
		res := Result{At: time.Now(), Removed: removed}
		if err != nil {
			res.Error = err.Error()
			slog.Error("maintenance: job failed", "job", name, "error", err)
		} else {
			slog.Info("maintenance: job finished", "job", name, "removed", removed)
		}
		s.mu.Lock()
		s.results[name] = res
		s.mu.Unlock()
		return res, err
	}
	return Result{}, ariaerr.Errorf(ariaerr.CodeConfigValidateInvalidValue, "unknown maintenance job %q", name)
}

// Results returns a copy of the last result per job.
func (s *Scheduler) Results() map[string]Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Result, len(s.results))
	for k, v := range s.results {
		out[k] = v
	}
	return out
}

// Jobs lists the registered job names.
func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.jobs))
	for _, j := range s.jobs {
		names = append(names, j.name)
	}
	return names
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
