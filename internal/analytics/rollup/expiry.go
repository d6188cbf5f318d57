package rollup

import (
	"fmt"
	"time"

	"github.com/smallbiznis/aerocert/internal/analytics/domain"
	certdomain "github.com/smallbiznis/aerocert/internal/certification/domain"
)

const (
	expiryMonths      = 12
	expiryLabelLayout = "Jan 2006"
)

// Expiry counts current certificates by the calendar month their validity
// ends in, for the twelve months starting with the month of now.
type Expiry struct {
	start  time.Time
	counts [expiryMonths]int
}

func NewExpiry(now time.Time) *Expiry {
	return &Expiry{start: truncateToMonth(now.UTC())}
}

// ExpiryRange is the [from, to) validity-end range the distribution covers.
func ExpiryRange(now time.Time) (time.Time, time.Time) {
	from := truncateToMonth(now.UTC())
	return from, from.AddDate(0, expiryMonths, 0)
}

func (e *Expiry) Add(record certdomain.TrainingRecord) error {
	if record.IsSuperseded() {
		return nil
	}
	if record.ValidUntil == nil || record.ValidUntil.IsZero() {
		return fmt.Errorf("record %s: %w", record.CertificateNumber, certdomain.ErrInvalidCertificateWindow)
	}
	i := monthSpan(e.start, record.ValidUntil.UTC())
	if i < 0 || i >= expiryMonths {
		return nil
	}
	e.counts[i]++
	return nil
}

func (e *Expiry) Buckets() []domain.ExpiryBucket {
	out := make([]domain.ExpiryBucket, expiryMonths)
	for i := range out {
		month := e.start.AddDate(0, i, 0)
		out[i] = domain.ExpiryBucket{
			Label: month.Format(expiryLabelLayout),
			Month: month,
			Count: e.counts[i],
		}
	}
	return out
}
