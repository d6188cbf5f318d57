package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/aerocert/internal/audit/domain"
	"github.com/smallbiznis/aerocert/internal/certification/domain"
	"github.com/smallbiznis/aerocert/internal/clock"
	"github.com/smallbiznis/aerocert/internal/config"
	"github.com/smallbiznis/aerocert/internal/lifecycle"
	"github.com/smallbiznis/aerocert/internal/lock"
	obslogger "github.com/smallbiznis/aerocert/internal/observability/logger"
	"github.com/smallbiznis/aerocert/internal/observability/metrics"
	"github.com/smallbiznis/aerocert/internal/observability/tracing"
	"github.com/smallbiznis/aerocert/pkg/db"
	"github.com/smallbiznis/aerocert/pkg/db/pagination"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const recomputeJobResource = "training_records"

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID  *snowflake.Node
	clock  clock.Clock
	repo   domain.Repository
	audit  auditdomain.Service
	locker lock.Locker
	policy *config.CompliancePolicyHolder

	metrics          *metrics.Metrics
	schedulerMetrics *metrics.SchedulerMetrics
	lockOptions      lock.AcquireOptions
}

type ServiceParam struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Repo   domain.Repository
	Audit  auditdomain.Service
	Locker lock.Locker
	Policy *config.CompliancePolicyHolder

	Metrics          *metrics.Metrics          `optional:"true"`
	SchedulerMetrics *metrics.SchedulerMetrics `optional:"true"`
}

func NewService(p ServiceParam) domain.Service {
	return newService(p)
}

func newService(p ServiceParam) *Service {
	locker := p.Locker
	if locker == nil {
		locker = lock.NewLocalLocker(p.Clock)
	}
	return &Service{
		db:  p.DB,
		log: p.Log.Named("certification.service"),

		genID:  p.GenID,
		clock:  p.Clock,
		repo:   p.Repo,
		audit:  p.Audit,
		locker: locker,
		policy: p.Policy,

		metrics:          p.Metrics,
		schedulerMetrics: p.SchedulerMetrics,
		lockOptions:      lock.DefaultAcquireOptions(),
	}
}

func (s *Service) evaluator() lifecycle.Evaluator {
	return lifecycle.NewEvaluator(s.policy.Get().ExpiringSoonDays)
}

func (s *Service) CreateRecord(ctx context.Context, req domain.CreateRecordRequest) (domain.RecordView, error) {
	employeeID, err := parseID(req.EmployeeID, domain.ErrEmployeeNotFound)
	if err != nil {
		return domain.RecordView{}, err
	}
	trainingTypeID, err := parseID(req.TrainingTypeID, domain.ErrTrainingTypeNotFound)
	if err != nil {
		return domain.RecordView{}, err
	}
	number := strings.TrimSpace(req.CertificateNumber)
	if number == "" {
		return domain.RecordView{}, domain.ErrInvalidCertificateNumber
	}

	now := s.clock.Now()
	evaluator := s.evaluator()
	var created domain.TrainingRecord

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		employee, err := s.repo.FindEmployeeByID(ctx, tx, employeeID)
		if err != nil {
			return err
		}
		if employee == nil {
			return domain.ErrEmployeeNotFound
		}
		trainingType, err := s.repo.FindTrainingTypeByID(ctx, tx, trainingTypeID)
		if err != nil {
			return err
		}
		if trainingType == nil {
			return domain.ErrTrainingTypeNotFound
		}

		validUntil := req.ValidUntil
		if validUntil == nil && trainingType.ValidityMonths > 0 && !req.ValidFrom.IsZero() {
			end := req.ValidFrom.UTC().AddDate(0, trainingType.ValidityMonths, 0)
			validUntil = &end
		}
		if err := lifecycle.ValidateWindow(req.ValidFrom, validUntil); err != nil {
			return err
		}

		exists, err := s.repo.CertificateNumberExists(ctx, tx, number)
		if err != nil {
			return err
		}
		if exists {
			return domain.ErrDuplicateCertificateNumber
		}

		created = domain.TrainingRecord{
			ID:                s.genID.Generate(),
			EmployeeID:        employee.ID,
			TrainingTypeID:    trainingType.ID,
			CertificateNumber: number,
			IssuedAt:          issuedAt(req.IssuedAt, req.ValidFrom),
			ValidFrom:         req.ValidFrom.UTC(),
			ValidUntil:        utcPtr(validUntil),
			Version:           1,
			Metadata:          copyMetadata(req.Metadata),
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		status, err := evaluator.Record(created, now)
		if err != nil {
			return err
		}
		created.Status = status

		if err := s.repo.InsertRecord(ctx, tx, &created); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrDuplicateCertificateNumber
			}
			return err
		}

		return s.audit.Record(ctx, tx, auditdomain.Entry{
			Action:     auditdomain.ActionCertificateCreated,
			TargetType: auditdomain.TargetTypeTrainingRecord,
			TargetID:   created.ID.String(),
			Metadata: map[string]any{
				"employee_id":        created.EmployeeID.String(),
				"training_type_id":   created.TrainingTypeID.String(),
				"certificate_number": created.CertificateNumber,
				"status":             string(created.Status),
			},
		})
	})
	if err != nil {
		return domain.RecordView{}, err
	}

	s.log.Info("training record created",
		zap.String("record_id", created.ID.String()),
		zap.String("employee_id", created.EmployeeID.String()),
		zap.String("status", string(created.Status)),
	)
	return toView(created, now, evaluator), nil
}

func (s *Service) GetRecord(ctx context.Context, id string) (domain.RecordView, error) {
	recordID, err := parseID(id, domain.ErrRecordNotFound)
	if err != nil {
		return domain.RecordView{}, err
	}
	record, err := s.repo.FindRecordByID(ctx, s.db, recordID)
	if err != nil {
		return domain.RecordView{}, err
	}
	if record == nil {
		return domain.RecordView{}, domain.ErrRecordNotFound
	}
	return toView(*record, s.clock.Now(), s.evaluator()), nil
}

func (s *Service) ListRecords(ctx context.Context, req domain.ListRecordsRequest) (domain.ListRecordsResponse, error) {
	now := s.clock.Now()
	evaluator := s.evaluator()

	filter := domain.RecordFilter{
		Department:        strings.TrimSpace(req.Department),
		IncludeSuperseded: true,
	}
	if strings.TrimSpace(req.EmployeeID) != "" {
		id, err := parseID(req.EmployeeID, domain.ErrEmployeeNotFound)
		if err != nil {
			return domain.ListRecordsResponse{}, err
		}
		filter.EmployeeIDs = []snowflake.ID{id}
	}
	if strings.TrimSpace(req.TrainingTypeID) != "" {
		id, err := parseID(req.TrainingTypeID, domain.ErrTrainingTypeNotFound)
		if err != nil {
			return domain.ListRecordsResponse{}, err
		}
		filter.TrainingTypeIDs = []snowflake.ID{id}
	}
	if status := strings.TrimSpace(req.Status); status != "" {
		if err := applyStatusWindow(&filter, domain.CertificateStatus(status), now, evaluator.ThresholdDays()); err != nil {
			return domain.ListRecordsResponse{}, err
		}
	}
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return domain.ListRecordsResponse{}, err
		}
		after, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return domain.ListRecordsResponse{}, pagination.ErrInvalidPageToken
		}
		filter.AfterID = after
	}

	limit := req.Limit()
	filter.Limit = limit + 1
	records, err := s.repo.ListRecords(ctx, s.db, filter)
	if err != nil {
		return domain.ListRecordsResponse{}, err
	}

	records, pageInfo, err := pagination.BuildCursorPageInfo(records, limit, func(r domain.TrainingRecord) pagination.Cursor {
		return pagination.Cursor{ID: r.ID.String()}
	})
	if err != nil {
		return domain.ListRecordsResponse{}, err
	}

	views := make([]domain.RecordView, 0, len(records))
	for _, record := range records {
		views = append(views, toView(record, now, evaluator))
	}
	return domain.ListRecordsResponse{PageInfo: pageInfo, Records: views}, nil
}

// applyStatusWindow turns a derived status into a validity-end range so the
// filter runs in the database. Day boundaries match lifecycle.DaysUntil.
func applyStatusWindow(filter *domain.RecordFilter, status domain.CertificateStatus, now time.Time, thresholdDays int) error {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	expiredBefore := today.AddDate(0, 0, 1)
	soonBefore := today.AddDate(0, 0, thresholdDays+1)

	switch status {
	case domain.CertificateStatusSuperseded:
		filter.IncludeSuperseded = false
		filter.OnlySuperseded = true
	case domain.CertificateStatusExpired:
		filter.IncludeSuperseded = false
		filter.ValidUntilTo = &expiredBefore
	case domain.CertificateStatusExpiringSoon:
		filter.IncludeSuperseded = false
		filter.ValidUntilFrom = &expiredBefore
		filter.ValidUntilTo = &soonBefore
	case domain.CertificateStatusActive:
		filter.IncludeSuperseded = false
		filter.ValidUntilFrom = &soonBefore
	default:
		return fmt.Errorf("%w: unknown status %q", domain.ErrInvalidRecord, status)
	}
	return nil
}

func (s *Service) GetChain(ctx context.Context, id string) ([]domain.RecordView, error) {
	recordID, err := parseID(id, domain.ErrRecordNotFound)
	if err != nil {
		return nil, err
	}
	chain, err := loadChain(ctx, s.repo, s.db, recordID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	evaluator := s.evaluator()
	views := make([]domain.RecordView, 0, len(chain))
	for _, record := range chain {
		views = append(views, toView(record, now, evaluator))
	}
	return views, nil
}

func (s *Service) GetHistory(ctx context.Context, id string) ([]auditdomain.AuditLog, error) {
	recordID, err := parseID(id, domain.ErrRecordNotFound)
	if err != nil {
		return nil, err
	}
	chain, err := loadChain(ctx, s.repo, s.db, recordID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(chain))
	for _, record := range chain {
		ids = append(ids, record.ID.String())
	}
	return s.audit.History(ctx, auditdomain.TargetTypeTrainingRecord, ids)
}

// DeleteRecord removes a standalone record. Records that are part of a
// renewal chain stay, otherwise the neighbouring link would dangle.
func (s *Service) DeleteRecord(ctx context.Context, id string) error {
	recordID, err := parseID(id, domain.ErrRecordNotFound)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := s.repo.FindRecordByIDForUpdate(ctx, tx, recordID)
		if err != nil {
			return err
		}
		if record == nil {
			return domain.ErrRecordNotFound
		}
		if record.SupersededByID != nil || record.RenewedFromID != nil {
			return domain.ErrRecordReferenced
		}
		successors, err := s.repo.CountSuccessors(ctx, tx, record.ID)
		if err != nil {
			return err
		}
		if successors > 0 {
			return domain.ErrRecordReferenced
		}

		if err := s.repo.DeleteRecord(ctx, tx, record.ID); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, auditdomain.Entry{
			Action:     auditdomain.ActionCertificateDeleted,
			TargetType: auditdomain.TargetTypeTrainingRecord,
			TargetID:   record.ID.String(),
			Metadata: map[string]any{
				"certificate_number": record.CertificateNumber,
				"employee_id":        record.EmployeeID.String(),
			},
		})
	})
}

// RecomputeStatuses refreshes the stored status cache of every current
// record. Rows changed concurrently are skipped and picked up next run.
func (s *Service) RecomputeStatuses(ctx context.Context, batchSize int) (domain.RecomputeResult, error) {
	ctx, span := tracing.Start(ctx, "certification.recompute_statuses")
	defer span.End()

	now := s.clock.Now()
	evaluator := s.evaluator()
	result := domain.RecomputeResult{
		Transitions: map[string]int{},
		ByStatus:    map[domain.CertificateStatus]int{},
	}
	for _, status := range domain.AllCertificateStatuses {
		result.ByStatus[status] = 0
	}

	err := s.repo.StreamRecords(ctx, s.db, domain.RecordFilter{}, batchSize, func(batch []domain.TrainingRecord) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			for _, record := range batch {
				result.Scanned++
				status, err := evaluator.Record(record, now)
				if err != nil {
					result.Invalid++
					obslogger.WithRecord(s.log, record.ID.String()).Warn("cannot derive status", zap.Error(err))
					continue
				}
				result.ByStatus[status]++
				if status == record.Status {
					continue
				}

				ok, err := s.repo.UpdateStatus(ctx, tx, record.ID, record.Version, status, now)
				if err != nil {
					return err
				}
				if !ok {
					result.Conflicts++
					continue
				}
				if err := s.audit.Record(ctx, tx, auditdomain.Entry{
					Action:     auditdomain.ActionCertificateStatusCorrected,
					TargetType: auditdomain.TargetTypeTrainingRecord,
					TargetID:   record.ID.String(),
					Metadata: map[string]any{
						"from_status": string(record.Status),
						"to_status":   string(status),
					},
				}); err != nil {
					return err
				}
				result.Corrected++
				result.Transitions[transitionKey(record.Status, status)]++
			}
			return nil
		})
	})
	result.Skipped = result.Invalid + result.Conflicts
	if err != nil {
		span.RecordError(err)
		return result, err
	}

	for key, count := range result.Transitions {
		from, to, _ := strings.Cut(key, "->")
		s.schedulerMetrics.AddStatusTransitions(from, to, count)
		s.metrics.RecordStatusCorrection(ctx, from, to, count)
	}
	s.schedulerMetrics.AddBatchProcessed("recompute_statuses", recomputeJobResource, result.Scanned)
	s.schedulerMetrics.AddBatchDeferred("recompute_statuses", metrics.SchedulerBatchDeferredReasonInvalidWindow, result.Invalid)
	s.schedulerMetrics.AddBatchDeferred("recompute_statuses", metrics.SchedulerBatchDeferredReasonVersionConflict, result.Conflicts)

	span.SetAttributes(
		attribute.Int("scanned", result.Scanned),
		attribute.Int("corrected", result.Corrected),
	)
	s.log.Info("statuses recomputed",
		zap.Int("scanned", result.Scanned),
		zap.Int("corrected", result.Corrected),
		zap.Int("invalid", result.Invalid),
		zap.Int("conflicts", result.Conflicts),
	)
	return result, nil
}

func transitionKey(from, to domain.CertificateStatus) string {
	if from == "" {
		from = "unknown"
	}
	return string(from) + "->" + string(to)
}

func toView(record domain.TrainingRecord, now time.Time, evaluator lifecycle.Evaluator) domain.RecordView {
	view := domain.RecordView{
		ID:                record.ID.String(),
		EmployeeID:        record.EmployeeID.String(),
		TrainingTypeID:    record.TrainingTypeID.String(),
		CertificateNumber: record.CertificateNumber,
		IssuedAt:          record.IssuedAt,
		ValidFrom:         record.ValidFrom,
		ValidUntil:        record.ValidUntil,
		Status:            record.Status,
		StoredStatus:      record.Status,
		CreatedAt:         record.CreatedAt,
	}
	if status, err := evaluator.Record(record, now); err == nil {
		view.Status = status
	}
	if record.ValidUntil != nil && !record.IsSuperseded() {
		days := lifecycle.DaysUntil(*record.ValidUntil, now)
		view.DaysUntilExpiry = &days
	}
	if record.RenewedFromID != nil {
		v := record.RenewedFromID.String()
		view.RenewedFromID = &v
	}
	if record.SupersededByID != nil {
		v := record.SupersededByID.String()
		view.SupersededByID = &v
	}
	return view
}

func parseID(value string, invalidErr error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, invalidErr
	}
	return id, nil
}

func issuedAt(value *time.Time, fallback time.Time) time.Time {
	if value != nil && !value.IsZero() {
		return value.UTC()
	}
	return fallback.UTC()
}

func utcPtr(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	v := value.UTC()
	return &v
}

func copyMetadata(in map[string]any) datatypes.JSONMap {
	if len(in) == 0 {
		return nil
	}
	return datatypes.JSONMap(maps.Clone(in))
}

func isRetryable(err error) bool {
	return errors.Is(err, domain.ErrRenewalConflict) || db.IsRetryableConflict(err)
}
