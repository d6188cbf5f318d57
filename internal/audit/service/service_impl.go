package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/aerocert/internal/audit/domain"
	"github.com/smallbiznis/aerocert/internal/audit/masking"
	"github.com/smallbiznis/aerocert/internal/clock"
	"github.com/smallbiznis/aerocert/pkg/db/pagination"
	"github.com/smallbiznis/aerocert/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  auditdomain.Repository
	Clock clock.Clock `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  auditdomain.Repository
	clock clock.Clock
}

func NewService(p Params) auditdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: clk,
	}
}

// Record writes one history row. Metadata is masked and stamped with the
// correlation and trace IDs of ctx before it is stored.
func (s *Service) Record(ctx context.Context, db *gorm.DB, entry auditdomain.Entry) error {
	row, err := s.newRow(ctx, entry)
	if err != nil {
		return err
	}
	if db == nil {
		db = s.db
	}
	if err := s.repo.Insert(ctx, db, &row); err != nil {
		s.log.Warn("failed to write audit log",
			zap.String("action", row.Action),
			zap.String("target_type", row.TargetType),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *Service) newRow(ctx context.Context, entry auditdomain.Entry) (auditdomain.AuditLog, error) {
	action := strings.TrimSpace(entry.Action)
	if action == "" {
		return auditdomain.AuditLog{}, auditdomain.ErrInvalidAction
	}
	targetType := strings.TrimSpace(entry.TargetType)
	if targetType == "" {
		targetType = "unknown"
	}
	actor := correlation.ActorFromContext(ctx)
	metadata := correlation.InjectTraceIntoMetadata(ctx, masking.MaskSensitive(entry.Metadata))

	return auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		ActorType:  actor.Type,
		ActorID:    optional(actor.ID),
		Action:     action,
		TargetType: targetType,
		TargetID:   optional(entry.TargetID),
		Metadata:   datatypes.JSONMap(metadata),
		CreatedAt:  s.clock.Now(),
	}, nil
}

// List pages newest first using an opaque created_at/id cursor.
func (s *Service) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	if req.StartAt != nil && req.EndAt != nil && req.StartAt.After(*req.EndAt) {
		return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidTimeRange
	}
	cursor, err := decodeCursor(req.PageToken)
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}

	pageSize := req.Limit()
	rows, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		Action:     req.Action,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		ActorType:  req.ActorType,
		StartAt:    req.StartAt,
		EndAt:      req.EndAt,
		Cursor:     cursor,
		Limit:      pageSize,
	})
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}

	rows, pageInfo, err := pagination.BuildCursorPageInfo(rows, pageSize, encodeCursor)
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}
	logs := make([]auditdomain.AuditLog, 0, len(rows))
	for _, row := range rows {
		if row != nil {
			logs = append(logs, *row)
		}
	}
	return auditdomain.ListAuditLogResponse{PageInfo: pageInfo, AuditLogs: logs}, nil
}

func (s *Service) History(ctx context.Context, targetType string, targetIDs []string) ([]auditdomain.AuditLog, error) {
	targetType = strings.TrimSpace(targetType)
	if targetType == "" {
		return nil, auditdomain.ErrInvalidTarget
	}
	ids := make([]string, 0, len(targetIDs))
	for _, id := range targetIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return s.repo.ListForTargets(ctx, s.db, targetType, ids)
}

func encodeCursor(row *auditdomain.AuditLog) pagination.Cursor {
	return pagination.Cursor{
		ID:        row.ID.String(),
		CreatedAt: row.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// decodeCursor returns nil for an empty token.
func decodeCursor(token string) (*auditdomain.AuditCursor, error) {
	if strings.TrimSpace(token) == "" {
		return nil, nil
	}
	decoded, err := pagination.DecodeCursor(token)
	if err != nil {
		return nil, auditdomain.ErrInvalidPageToken
	}
	createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
	if err != nil {
		return nil, auditdomain.ErrInvalidPageToken
	}
	id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
	if err != nil || id == 0 {
		return nil, auditdomain.ErrInvalidPageToken
	}
	return &auditdomain.AuditCursor{ID: id, CreatedAt: createdAt}, nil
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
