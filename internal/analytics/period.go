package analytics

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/your-org/storelens/internal/storage"
)

var ErrInvalidPeriod = errors.New("invalid period")

const dateLayout = "2006-01-02"

type PeriodKind string

const (
	PeriodAll   PeriodKind = ""
	PeriodDay   PeriodKind = "day"
	PeriodWeek  PeriodKind = "week"
	PeriodMonth PeriodKind = "month"
)

// ParsePeriod turns a period selector into a capture-time window.
//
// day covers [date, date+1), week covers [date, date+7) and month covers
// [date, first of next month). Without a date, day defaults to today,
// week to this week's Monday and month to the first of this month (all
// UTC). An empty kind selects all recorded history.
func ParsePeriod(kind, date string, now time.Time) (storage.Range, error) {
	k := PeriodKind(strings.ToLower(strings.TrimSpace(kind)))
	if k == PeriodAll {
		if date != "" {
			return storage.Range{}, fmt.Errorf("%w: date given without period", ErrInvalidPeriod)
		}
		return storage.Range{}, nil
	}

	today := truncateDay(now.UTC())
	var start time.Time
	if date != "" {
		d, err := time.Parse(dateLayout, date)
		if err != nil {
			return storage.Range{}, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidPeriod)
		}
		start = d
	}

	switch k {
	case PeriodDay:
		if start.IsZero() {
			start = today
		}
		return storage.Range{From: start, To: start.AddDate(0, 0, 1)}, nil
	case PeriodWeek:
		if start.IsZero() {
			start = Monday(today)
		}
		return storage.Range{From: start, To: start.AddDate(0, 0, 7)}, nil
	case PeriodMonth:
		if start.IsZero() {
			start = time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
		}
		next := time.Date(start.Year(), start.Month()+1, 1, 0, 0, 0, 0, time.UTC)
		return storage.Range{From: start, To: next}, nil
	default:
		return storage.Range{}, fmt.Errorf("%w: unknown period %q", ErrInvalidPeriod, kind)
	}
}

// Monday returns the Monday on or before t.
func Monday(t time.Time) time.Time {
	d := truncateDay(t)
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
