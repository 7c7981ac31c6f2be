package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Evaluator computes recurrence times from cron expressions. The engine
// depends only on this interface so the cron grammar stays swappable.
type Evaluator interface {
	// Validate reports whether expr is a well-formed expression.
	Validate(expr string) error

	// NextRunAfter returns the first time strictly after from at which
	// expr fires, evaluated in the tz timezone. An empty tz means UTC.
	NextRunAfter(expr, tz string, from time.Time) (time.Time, error)
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// CronEvaluator is the production Evaluator, backed by robfig/cron's
// standard 5-field parser.
type CronEvaluator struct{}

// Validate checks that expr is a 5-field cron expression.
func (CronEvaluator) Validate(expr string) error {
	_, err := parseCron(expr)
	return err
}

// NextRunAfter computes the next firing time after from in tz.
func (CronEvaluator) NextRunAfter(expr, tz string, from time.Time) (time.Time, error) {
	schedule, err := parseCron(expr)
	if err != nil {
		return time.Time{}, err
	}
	loc, err := loadLocation(tz)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(from.In(loc)), nil
}

// NextOccurrences returns the next n firing times of expr after base,
// evaluated in tz. Used by the cron preview surfaces.
func NextOccurrences(eval Evaluator, expr, tz string, base time.Time, n int) ([]time.Time, error) {
	times := make([]time.Time, 0, n)
	next := base
	for i := 0; i < n; i++ {
		t, err := eval.NextRunAfter(expr, tz, next)
		if err != nil {
			return nil, err
		}
		times = append(times, t)
		next = t
	}
	return times, nil
}

func parseCron(expr string) (cron.Schedule, error) {
	if strings.HasPrefix(strings.TrimSpace(expr), "@") {
		return nil, fmt.Errorf("only 5-field cron expressions are supported")
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}

func loadLocation(tz string) (*time.Location, error) {
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return loc, nil
}
