package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/aerocert/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListAuditLogRequest struct {
	pagination.Pagination
	Action     string
	TargetType string
	TargetID   string
	ActorType  string
	StartAt    *time.Time
	EndAt      *time.Time
}

type ListAuditLogResponse struct {
	pagination.PageInfo
	AuditLogs []AuditLog `json:"audit_logs"`
}

// Entry describes one audited change.
type Entry struct {
	Action     string
	TargetType string
	TargetID   string
	Metadata   map[string]any
}

type Service interface {
	// Record writes the entry on db, which may be an open transaction so
	// the history commits or rolls back with the change it describes.
	Record(ctx context.Context, db *gorm.DB, entry Entry) error
	List(ctx context.Context, req ListAuditLogRequest) (ListAuditLogResponse, error)
	// History is the chronological trail of the given targets.
	History(ctx context.Context, targetType string, targetIDs []string) ([]AuditLog, error)
}

var (
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrInvalidTimeRange = errors.New("invalid_time_range")
	ErrInvalidAction    = errors.New("invalid_action")
	ErrInvalidTarget    = errors.New("invalid_target")
)
