// Package schedule resolves collection occasions for a somiti cadence.
//
// All dates are handled at day granularity and normalised to UTC midnight.
// Weekly and monthly resolution is inclusive of the reference date: a
// reference that already falls on the collection day is itself the next
// occasion. Monthly collection days beyond the length of a month are clamped
// to that month's last day.
package schedule

import (
	"fmt"
	"time"

	"github.com/IstiakDeveloper/gosto-khor/internal/platform/httpx"
)

// Cadence enumerates supported collection frequencies.
type Cadence string

const (
	// Daily collects every day.
	Daily Cadence = "daily"
	// Weekly collects on one weekday, 0=Sunday..6=Saturday.
	Weekly Cadence = "weekly"
	// Monthly collects on one day of month, 1..31.
	Monthly Cadence = "monthly"
)

// ErrInvalidScheduleConfig indicates a cadence/collection day mismatch.
var ErrInvalidScheduleConfig = fmt.Errorf("schedule: invalid schedule config: %w", httpx.ErrValidation)

// ParseCadence validates a cadence string.
func ParseCadence(s string) (Cadence, error) {
	switch c := Cadence(s); c {
	case Daily, Weekly, Monthly:
		return c, nil
	default:
		return "", fmt.Errorf("%w: unknown cadence %q", ErrInvalidScheduleConfig, s)
	}
}

// Config is the schedule portion of a somiti.
type Config struct {
	Cadence       Cadence
	CollectionDay *int
	StartDate     time.Time
}

// Validate checks the collection day against the cadence.
func (c Config) Validate() error {
	switch c.Cadence {
	case Daily:
		if c.CollectionDay != nil {
			return fmt.Errorf("%w: daily cadence takes no collection day", ErrInvalidScheduleConfig)
		}
	case Weekly:
		if c.CollectionDay == nil {
			return fmt.Errorf("%w: weekly cadence requires a weekday", ErrInvalidScheduleConfig)
		}
		if *c.CollectionDay < 0 || *c.CollectionDay > 6 {
			return fmt.Errorf("%w: weekday %d not in 0-6", ErrInvalidScheduleConfig, *c.CollectionDay)
		}
	case Monthly:
		if c.CollectionDay == nil {
			return fmt.Errorf("%w: monthly cadence requires a day of month", ErrInvalidScheduleConfig)
		}
		if *c.CollectionDay < 1 || *c.CollectionDay > 31 {
			return fmt.Errorf("%w: day of month %d not in 1-31", ErrInvalidScheduleConfig, *c.CollectionDay)
		}
	default:
		return fmt.Errorf("%w: unknown cadence %q", ErrInvalidScheduleConfig, c.Cadence)
	}
	return nil
}

// Date truncates t to midnight UTC of its calendar day.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NextCollectionDate returns the soonest occasion on or after ref together
// with a human readable day label.
func NextCollectionDate(cfg Config, ref time.Time) (time.Time, string, error) {
	if err := cfg.Validate(); err != nil {
		return time.Time{}, "", err
	}
	return next(cfg, from(cfg, ref)), Label(cfg), nil
}

// PreviousCollectionDate returns the latest occasion on or before ref. The
// boolean is false when ref precedes the first occasion.
func PreviousCollectionDate(cfg Config, ref time.Time) (time.Time, bool, error) {
	if err := cfg.Validate(); err != nil {
		return time.Time{}, false, err
	}
	ref = Date(ref)
	start := Date(cfg.StartDate)
	if !cfg.StartDate.IsZero() && ref.Before(start) {
		return time.Time{}, false, nil
	}
	var d time.Time
	switch cfg.Cadence {
	case Daily:
		d = ref
	case Weekly:
		back := (int(ref.Weekday()) - *cfg.CollectionDay + 7) % 7
		d = ref.AddDate(0, 0, -back)
	case Monthly:
		d = monthly(ref.Year(), ref.Month(), *cfg.CollectionDay)
		if d.After(ref) {
			prev := time.Date(ref.Year(), ref.Month()-1, 1, 0, 0, 0, 0, time.UTC)
			d = monthly(prev.Year(), prev.Month(), *cfg.CollectionDay)
		}
	}
	if !cfg.StartDate.IsZero() && d.Before(start) {
		return time.Time{}, false, nil
	}
	return d, true, nil
}

// Occurrences lists every occasion in the inclusive range [fromDate, toDate].
func Occurrences(cfg Config, fromDate, toDate time.Time) ([]time.Time, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	end := Date(toDate)
	var out []time.Time
	for d := next(cfg, from(cfg, fromDate)); !d.After(end); d = next(cfg, d.AddDate(0, 0, 1)) {
		out = append(out, d)
	}
	return out, nil
}

// CountOccurrences counts occasions in [fromDate, toDate] without allocating.
func CountOccurrences(cfg Config, fromDate, toDate time.Time) (int, error) {
	if err := cfg.Validate(); err != nil {
		return 0, err
	}
	end := Date(toDate)
	n := 0
	for d := next(cfg, from(cfg, fromDate)); !d.After(end); d = next(cfg, d.AddDate(0, 0, 1)) {
		n++
	}
	return n, nil
}

// IsOccasion reports whether d is a scheduled occasion.
func IsOccasion(cfg Config, d time.Time) (bool, error) {
	if err := cfg.Validate(); err != nil {
		return false, err
	}
	d = Date(d)
	if !cfg.StartDate.IsZero() && d.Before(Date(cfg.StartDate)) {
		return false, nil
	}
	return next(cfg, d).Equal(d), nil
}

// Label renders the cadence for display, e.g. "daily", "Wednesday" or
// "5th of every month".
func Label(cfg Config) string {
	switch cfg.Cadence {
	case Weekly:
		if cfg.CollectionDay != nil {
			return time.Weekday(*cfg.CollectionDay).String()
		}
	case Monthly:
		if cfg.CollectionDay != nil {
			return ordinal(*cfg.CollectionDay) + " of every month"
		}
	}
	return string(Daily)
}

func from(cfg Config, ref time.Time) time.Time {
	ref = Date(ref)
	if start := Date(cfg.StartDate); !cfg.StartDate.IsZero() && ref.Before(start) {
		return start
	}
	return ref
}

// next assumes cfg is valid and ref is already a normalised date.
func next(cfg Config, ref time.Time) time.Time {
	switch cfg.Cadence {
	case Weekly:
		ahead := (*cfg.CollectionDay - int(ref.Weekday()) + 7) % 7
		return ref.AddDate(0, 0, ahead)
	case Monthly:
		d := monthly(ref.Year(), ref.Month(), *cfg.CollectionDay)
		if d.Before(ref) {
			following := time.Date(ref.Year(), ref.Month()+1, 1, 0, 0, 0, 0, time.UTC)
			d = monthly(following.Year(), following.Month(), *cfg.CollectionDay)
		}
		return d
	default:
		return ref
	}
}

func monthly(year int, month time.Month, day int) time.Time {
	if last := DaysIn(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func ordinal(n int) string {
	suffix := "th"
	if n%100 < 11 || n%100 > 13 {
		switch n % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return fmt.Sprintf("%d%s", n, suffix)
}
