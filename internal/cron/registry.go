package cron

import (
	"context"
	"errors"
	"fmt"

	robfig "github.com/robfig/cron/v3"
)

// Job is one scheduled task.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Entry pairs a job with its six-field cron spec.
type Entry struct {
	Schedule string
	Job      Job
}

// Registry tracks registered jobs in insertion order.
type Registry struct {
	entries []Entry
	parser  robfig.Parser
}

func NewRegistry() *Registry {
	return &Registry{parser: robfig.NewParser(specFields)}
}

const specFields = robfig.Second | robfig.Minute | robfig.Hour | robfig.Dom | robfig.Month | robfig.Dow | robfig.Descriptor

// Register validates schedule and adds job. Names must be unique.
func (r *Registry) Register(schedule string, job Job) error {
	if job == nil {
		return errors.New("job is required")
	}
	if _, err := r.parser.Parse(schedule); err != nil {
		return fmt.Errorf("job %s: invalid schedule %q: %w", job.Name(), schedule, err)
	}
	for _, e := range r.entries {
		if e.Job.Name() == job.Name() {
			return fmt.Errorf("job %s registered twice", job.Name())
		}
	}
	r.entries = append(r.entries, Entry{Schedule: schedule, Job: job})
	return nil
}

func (r *Registry) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Lookup finds a job by name.
func (r *Registry) Lookup(name string) (Job, bool) {
	for _, e := range r.entries {
		if e.Job.Name() == name {
			return e.Job, true
		}
	}
	return nil, false
}
