package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/aerocert/internal/audit/domain"
	"github.com/smallbiznis/aerocert/internal/certification/domain"
	"github.com/smallbiznis/aerocert/internal/lifecycle"
	"github.com/smallbiznis/aerocert/internal/lock"
	obslogger "github.com/smallbiznis/aerocert/internal/observability/logger"
	"github.com/smallbiznis/aerocert/internal/observability/metrics"
	"github.com/smallbiznis/aerocert/internal/observability/tracing"
	"github.com/smallbiznis/aerocert/pkg/db"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	renewalOutcomeRenewed   = "renewed"
	renewalOutcomeRejected  = "rejected"
	renewalOutcomeConflict  = "conflict"
	renewalOutcomeFailed    = "failed"
	renewalRetryBaseBackoff = 10 * time.Millisecond
)

// Renew replaces a certificate with its successor. The predecessor is
// superseded and linked to the new record in one transaction; concurrent
// renewals of the same predecessor are serialized so exactly one wins.
func (s *Service) Renew(ctx context.Context, req domain.RenewRequest) (domain.RenewResult, error) {
	ctx, span := tracing.Start(ctx, "certification.renew",
		attribute.String("predecessor_id", strings.TrimSpace(req.PredecessorID)),
	)
	defer span.End()

	predecessorID, err := parseID(req.PredecessorID, domain.ErrRecordNotFound)
	if err != nil {
		return domain.RenewResult{}, err
	}
	log := obslogger.WithRecord(obslogger.WithContext(ctx, s.log), predecessorID.String())
	number := strings.TrimSpace(req.CertificateNumber)
	if number == "" {
		return domain.RenewResult{}, domain.ErrInvalidCertificateNumber
	}
	if err := lifecycle.ValidateWindow(req.ValidFrom, req.ValidUntil); err != nil {
		s.metrics.RecordRenewal(ctx, renewalOutcomeRejected)
		return domain.RenewResult{}, err
	}

	waitStart := s.clock.Now()
	release, err := lock.Acquire(ctx, s.locker, s.clock, renewalLockKey(predecessorID), s.lockOptions)
	s.schedulerMetrics.ObserveDBLockWait(metrics.LockResourceRenewalKey, s.clock.Now().Sub(waitStart))
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			s.metrics.RecordRenewalConflict(ctx, "lock_held")
			return domain.RenewResult{}, domain.ErrRenewalInProgress
		}
		return domain.RenewResult{}, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("failed to release renewal lock", zap.Error(err))
		}
	}()

	attempts := s.policy.Get().RenewalRetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var result domain.RenewResult
	for attempt := 1; ; attempt++ {
		result, err = s.renewOnce(ctx, predecessorID, number, req)
		if err == nil {
			break
		}
		if !isRetryable(err) || attempt >= attempts {
			s.metrics.RecordRenewal(ctx, renewalOutcome(err))
			span.RecordError(err)
			log.Info("renewal rejected",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return domain.RenewResult{}, err
		}

		s.metrics.RecordRenewalConflict(ctx, conflictReason(err))
		log.Debug("renewal conflict, retrying",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if err := sleepContext(ctx, time.Duration(attempt)*renewalRetryBaseBackoff); err != nil {
			return domain.RenewResult{}, err
		}
	}

	s.metrics.RecordRenewal(ctx, renewalOutcomeRenewed)
	log.Info("certificate renewed",
		zap.String("successor_id", result.Successor.ID),
		zap.String("successor_status", string(result.Successor.Status)),
	)
	return result, nil
}

func (s *Service) renewOnce(ctx context.Context, predecessorID snowflake.ID, number string, req domain.RenewRequest) (domain.RenewResult, error) {
	now := s.clock.Now()
	evaluator := s.evaluator()
	var predecessor, successor domain.TrainingRecord

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindRecordByIDForUpdate(ctx, tx, predecessorID)
		if err != nil {
			return err
		}
		if current == nil {
			return domain.ErrRecordNotFound
		}
		if current.IsSuperseded() {
			return domain.ErrAlreadySuperseded
		}

		exists, err := s.repo.CertificateNumberExists(ctx, tx, number)
		if err != nil {
			return err
		}
		if exists {
			return domain.ErrDuplicateCertificateNumber
		}

		successor = domain.TrainingRecord{
			ID:                s.genID.Generate(),
			EmployeeID:        current.EmployeeID,
			TrainingTypeID:    current.TrainingTypeID,
			CertificateNumber: number,
			IssuedAt:          issuedAt(req.IssuedAt, now),
			ValidFrom:         req.ValidFrom.UTC(),
			ValidUntil:        utcPtr(req.ValidUntil),
			RenewedFromID:     &current.ID,
			Version:           1,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := checkSuccessorLink(ctx, s.repo, tx, *current, successor.ID); err != nil {
			return err
		}
		status, err := evaluator.Record(successor, now)
		if err != nil {
			return err
		}
		successor.Status = status

		if err := s.repo.InsertRecord(ctx, tx, &successor); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrDuplicateCertificateNumber
			}
			return err
		}

		swapped, err := s.repo.MarkSuperseded(ctx, tx, current.ID, current.Version, successor.ID, now)
		if err != nil {
			return err
		}
		if !swapped {
			return domain.ErrRenewalConflict
		}

		predecessor = *current
		predecessor.Status = domain.CertificateStatusSuperseded
		predecessor.SupersededByID = &successor.ID
		predecessor.SupersededAt = &now
		predecessor.Version++
		predecessor.UpdatedAt = now

		if err := s.audit.Record(ctx, tx, auditdomain.Entry{
			Action:     auditdomain.ActionCertificateRenewed,
			TargetType: auditdomain.TargetTypeTrainingRecord,
			TargetID:   successor.ID.String(),
			Metadata: map[string]any{
				"predecessor_id":     predecessor.ID.String(),
				"certificate_number": successor.CertificateNumber,
				"status":             string(successor.Status),
			},
		}); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, auditdomain.Entry{
			Action:     auditdomain.ActionCertificateSuperseded,
			TargetType: auditdomain.TargetTypeTrainingRecord,
			TargetID:   predecessor.ID.String(),
			Metadata: map[string]any{
				"successor_id": successor.ID.String(),
				"from_status":  string(current.Status),
			},
		})
	})
	if err != nil {
		return domain.RenewResult{}, err
	}

	return domain.RenewResult{
		Predecessor: toView(predecessor, now, evaluator),
		Successor:   toView(successor, now, evaluator),
	}, nil
}

func renewalLockKey(id snowflake.ID) string {
	return "training_record:" + id.String() + ":renewal"
}

func renewalOutcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrRenewalConflict), db.IsRetryableConflict(err):
		return renewalOutcomeConflict
	case errors.Is(err, domain.ErrAlreadySuperseded),
		errors.Is(err, domain.ErrDuplicateCertificateNumber),
		errors.Is(err, domain.ErrInvalidCertificateWindow),
		errors.Is(err, domain.ErrRecordNotFound),
		errors.Is(err, domain.ErrChainIntegrity):
		return renewalOutcomeRejected
	default:
		return renewalOutcomeFailed
	}
}

func conflictReason(err error) string {
	if errors.Is(err, domain.ErrRenewalConflict) {
		return "version_mismatch"
	}
	return "serialization"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
