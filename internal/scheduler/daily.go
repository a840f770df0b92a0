// Package scheduler runs jobs at a fixed wall-clock time.
package scheduler

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

// Job is a unit of scheduled work.
type Job func(ctx context.Context) error

// Clock is a time of day.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM" in 24-hour form.
func ParseClock(s string) (Clock, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Clock{}, errors.Errorf("clock %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return Clock{}, errors.Errorf("clock %q: invalid hour", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return Clock{}, errors.Errorf("clock %q: invalid minute", s)
	}
	return Clock{Hour: h, Minute: m}, nil
}

func (c Clock) String() string {
	return time.Date(0, 1, 1, c.Hour, c.Minute, 0, 0, time.UTC).Format("15:04")
}

// Daily fires a job once a day at a wall-clock time in a location.
type Daily struct {
	Name     string
	At       Clock
	Location *time.Location
	Job      Job

	// Timeout bounds one run. Zero means no limit.
	Timeout time.Duration

	now func() time.Time
}

// Next returns the first occurrence strictly after now. Days on which the
// wall-clock time is skipped by a DST change resolve the way time.Date
// normalizes it.
func (d *Daily) Next(now time.Time) time.Time {
	loc := d.Location
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	y, m, day := local.Date()
	next := time.Date(y, m, day, d.At.Hour, d.At.Minute, 0, 0, loc)
	if !next.After(now) {
		next = time.Date(y, m, day+1, d.At.Hour, d.At.Minute, 0, 0, loc)
	}
	return next
}

// Run waits for each occurrence and runs the job until ctx is cancelled. Job
// errors are logged; they never stop the schedule.
func (d *Daily) Run(ctx context.Context, lg *zap.Logger) error {
	now := d.now
	if now == nil {
		now = time.Now
	}
	lg = lg.With(zap.String("job", d.Name))

	for {
		next := d.Next(now())
		lg.Info("Next run scheduled", zap.Time("at", next))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		d.fire(ctx, lg)
	}
}

func (d *Daily) fire(ctx context.Context, lg *zap.Logger) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			lg.Error("Job panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	if err := d.Job(ctx); err != nil {
		lg.Error("Job failed", zap.Error(err), zap.Duration("took", time.Since(start)))
		return
	}
	lg.Info("Job finished", zap.Duration("took", time.Since(start)))
}
