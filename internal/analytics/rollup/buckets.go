// Package rollup holds the streaming accumulators behind the analytics
// reports. Each accumulator is fed one record at a time and never keeps the
// records themselves.
package rollup

import (
	"fmt"
	"time"

	"github.com/smallbiznis/aerocert/internal/analytics/domain"
)

const (
	dailyLayout   = "2006-01-02"
	monthlyLayout = "2006-01"
)

// Buckets is a contiguous run of periods covering [Start, End).
type Buckets struct {
	Window      domain.Window
	Granularity domain.Granularity
	Start       time.Time
	End         time.Time
	size        int
}

// NewBuckets resolves a window preset relative to now. The current day (or
// month) is always the last bucket.
func NewBuckets(window domain.Window, now time.Time) (Buckets, error) {
	now = now.UTC()
	switch window {
	case domain.Window3Months:
		end := truncateToDay(now).AddDate(0, 0, 1)
		start := truncateToDay(now).AddDate(0, -3, 0)
		return Buckets{
			Window:      window,
			Granularity: domain.GranularityDaily,
			Start:       start,
			End:         end,
			size:        daySpan(start, end),
		}, nil
	case domain.Window6Months, domain.Window1Year, domain.Window2Years:
		months := map[domain.Window]int{
			domain.Window6Months: 6,
			domain.Window1Year:   12,
			domain.Window2Years:  24,
		}[window]
		end := truncateToMonth(now).AddDate(0, 1, 0)
		return Buckets{
			Window:      window,
			Granularity: domain.GranularityMonthly,
			Start:       end.AddDate(0, -months, 0),
			End:         end,
			size:        months,
		}, nil
	default:
		return Buckets{}, fmt.Errorf("%w: %q", domain.ErrInvalidWindow, window)
	}
}

func (b Buckets) Len() int {
	return b.size
}

// Index maps t to its bucket. Times outside the window report false.
func (b Buckets) Index(t time.Time) (int, bool) {
	t = t.UTC()
	if t.Before(b.Start) || !t.Before(b.End) {
		return 0, false
	}
	var i int
	switch b.Granularity {
	case domain.GranularityDaily:
		i = daySpan(b.Start, truncateToDay(t))
	default:
		i = monthSpan(b.Start, t)
	}
	if i < 0 || i >= b.size {
		return 0, false
	}
	return i, true
}

// Period returns the first instant of bucket i.
func (b Buckets) Period(i int) time.Time {
	if b.Granularity == domain.GranularityDaily {
		return b.Start.AddDate(0, 0, i)
	}
	return b.Start.AddDate(0, i, 0)
}

func (b Buckets) Label(i int) string {
	if b.Granularity == domain.GranularityDaily {
		return b.Period(i).Format(dailyLayout)
	}
	return b.Period(i).Format(monthlyLayout)
}

func truncateToDay(value time.Time) time.Time {
	return time.Date(value.Year(), value.Month(), value.Day(), 0, 0, 0, 0, time.UTC)
}

func truncateToMonth(value time.Time) time.Time {
	return time.Date(value.Year(), value.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func daySpan(start, end time.Time) int {
	return int(end.Sub(start).Hours() / 24)
}

func monthSpan(start, end time.Time) int {
	return (end.Year()-start.Year())*12 + int(end.Month()) - int(start.Month())
}
