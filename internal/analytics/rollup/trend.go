package rollup

import (
	"fmt"
	"time"

	"github.com/smallbiznis/aerocert/internal/analytics/domain"
	certdomain "github.com/smallbiznis/aerocert/internal/certification/domain"
	"github.com/smallbiznis/aerocert/internal/lifecycle"
)

// Trend counts record creations per bucket.
type Trend struct {
	buckets Buckets
	counts  []int
	total   int
}

func NewTrend(buckets Buckets) *Trend {
	return &Trend{buckets: buckets, counts: make([]int, buckets.Len())}
}

func (t *Trend) Add(record certdomain.TrainingRecord) {
	i, ok := t.buckets.Index(record.CreatedAt)
	if !ok {
		return
	}
	t.counts[i]++
	t.total++
}

func (t *Trend) Report() domain.TrendReport {
	series := make([]domain.SeriesPoint, t.buckets.Len())
	for i := range series {
		series[i] = domain.SeriesPoint{Period: t.buckets.Label(i), Count: t.counts[i]}
	}
	return domain.TrendReport{
		Window:      t.buckets.Window,
		Granularity: t.buckets.Granularity,
		Start:       t.buckets.Start,
		End:         t.buckets.End,
		Series:      series,
		Total:       t.total,
	}
}

// StatusTrend cross-tabulates creations per bucket by the state each record
// is in at now.
type StatusTrend struct {
	buckets   Buckets
	evaluator lifecycle.Evaluator
	now       time.Time
	counts    []map[certdomain.CertificateStatus]int
	totals    []int
}

func NewStatusTrend(buckets Buckets, evaluator lifecycle.Evaluator, now time.Time) *StatusTrend {
	counts := make([]map[certdomain.CertificateStatus]int, buckets.Len())
	for i := range counts {
		counts[i] = emptyStatusCounts()
	}
	return &StatusTrend{
		buckets:   buckets,
		evaluator: evaluator,
		now:       now,
		counts:    counts,
		totals:    make([]int, buckets.Len()),
	}
}

func (t *StatusTrend) Add(record certdomain.TrainingRecord) error {
	i, ok := t.buckets.Index(record.CreatedAt)
	if !ok {
		return nil
	}
	status, err := t.evaluator.Record(record, t.now)
	if err != nil {
		return fmt.Errorf("record %s: %w", record.CertificateNumber, err)
	}
	t.counts[i][status]++
	t.totals[i]++
	return nil
}

func (t *StatusTrend) Report() domain.StatusTrendReport {
	series := make([]domain.StatusPoint, t.buckets.Len())
	for i := range series {
		series[i] = domain.StatusPoint{
			Period: t.buckets.Label(i),
			Counts: t.counts[i],
			Total:  t.totals[i],
		}
	}
	return domain.StatusTrendReport{
		Window:      t.buckets.Window,
		Granularity: t.buckets.Granularity,
		Start:       t.buckets.Start,
		End:         t.buckets.End,
		Series:      series,
	}
}

func emptyStatusCounts() map[certdomain.CertificateStatus]int {
	counts := make(map[certdomain.CertificateStatus]int, len(certdomain.AllCertificateStatuses))
	for _, status := range certdomain.AllCertificateStatuses {
		counts[status] = 0
	}
	return counts
}
