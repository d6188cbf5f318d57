package domain

import (
	"context"
	"time"

	auditdomain "github.com/smallbiznis/aerocert/internal/audit/domain"
	"github.com/smallbiznis/aerocert/pkg/db/pagination"
)

type CreateRecordRequest struct {
	EmployeeID        string         `json:"employee_id"`
	TrainingTypeID    string         `json:"training_type_id"`
	CertificateNumber string         `json:"certificate_number"`
	IssuedAt          *time.Time     `json:"issued_at,omitempty"`
	ValidFrom         time.Time      `json:"valid_from"`
	ValidUntil        *time.Time     `json:"valid_until,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

type RenewRequest struct {
	PredecessorID     string     `json:"predecessor_id"`
	CertificateNumber string     `json:"certificate_number"`
	IssuedAt          *time.Time `json:"issued_at,omitempty"`
	ValidFrom         time.Time  `json:"valid_from"`
	ValidUntil        *time.Time `json:"valid_until"`
}

type ListRecordsRequest struct {
	pagination.Pagination
	EmployeeID     string
	TrainingTypeID string
	Department     string
	Status         string
}

// RecordView is the serializable form of a training record with its state
// derived at read time.
type RecordView struct {
	ID                string            `json:"id"`
	EmployeeID        string            `json:"employee_id"`
	TrainingTypeID    string            `json:"training_type_id"`
	CertificateNumber string            `json:"certificate_number"`
	IssuedAt          time.Time         `json:"issued_at"`
	ValidFrom         time.Time         `json:"valid_from"`
	ValidUntil        *time.Time        `json:"valid_until,omitempty"`
	Status            CertificateStatus `json:"status"`
	StoredStatus      CertificateStatus `json:"stored_status"`
	DaysUntilExpiry   *int              `json:"days_until_expiry,omitempty"`
	RenewedFromID     *string           `json:"renewed_from_id,omitempty"`
	SupersededByID    *string           `json:"superseded_by_id,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}

type ListRecordsResponse struct {
	pagination.PageInfo
	Records []RecordView `json:"records"`
}

type RenewResult struct {
	Predecessor RecordView `json:"predecessor"`
	Successor   RecordView `json:"successor"`
}

// RecomputeResult summarizes a bulk status correction pass.
type RecomputeResult struct {
	Scanned     int                       `json:"scanned"`
	Corrected   int                       `json:"corrected"`
	Skipped     int                       `json:"skipped"`
	// Invalid counts records with no derivable state. Conflicts counts rows
	// changed by someone else mid-pass. Skipped is their sum.
	Invalid     int                       `json:"invalid"`
	Conflicts   int                       `json:"conflicts"`
	Transitions map[string]int            `json:"transitions"`
	ByStatus    map[CertificateStatus]int `json:"by_status"`
}

type Service interface {
	CreateRecord(ctx context.Context, req CreateRecordRequest) (RecordView, error)
	GetRecord(ctx context.Context, id string) (RecordView, error)
	ListRecords(ctx context.Context, req ListRecordsRequest) (ListRecordsResponse, error)
	Renew(ctx context.Context, req RenewRequest) (RenewResult, error)
	GetChain(ctx context.Context, id string) ([]RecordView, error)
	// GetHistory returns the audit trail of every record in id's chain.
	GetHistory(ctx context.Context, id string) ([]auditdomain.AuditLog, error)
	DeleteRecord(ctx context.Context, id string) error
	RecomputeStatuses(ctx context.Context, batchSize int) (RecomputeResult, error)
}
