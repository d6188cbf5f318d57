// Package domain contains persistence models for employees, training types and certificates.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// CertificateStatus is the lifecycle state of a training record.
type CertificateStatus string

const (
	CertificateStatusActive       CertificateStatus = "active"
	CertificateStatusExpiringSoon CertificateStatus = "expiring_soon"
	CertificateStatusExpired      CertificateStatus = "expired"
	CertificateStatusSuperseded   CertificateStatus = "superseded"
)

// AllCertificateStatuses lists every lifecycle state in reporting order.
var AllCertificateStatuses = []CertificateStatus{
	CertificateStatusActive,
	CertificateStatusExpiringSoon,
	CertificateStatusExpired,
	CertificateStatusSuperseded,
}

type EmploymentStatus string

const (
	EmploymentStatusActive     EmploymentStatus = "active"
	EmploymentStatusInactive   EmploymentStatus = "inactive"
	EmploymentStatusSuspended  EmploymentStatus = "suspended"
	EmploymentStatusTerminated EmploymentStatus = "terminated"
)

type Criticality string

const (
	CriticalityLow      Criticality = "low"
	CriticalityMedium   Criticality = "medium"
	CriticalityHigh     Criticality = "high"
	CriticalityCritical Criticality = "critical"
)

type BackgroundCheckResult string

const (
	BackgroundCheckPassed  BackgroundCheckResult = "passed"
	BackgroundCheckFailed  BackgroundCheckResult = "failed"
	BackgroundCheckPending BackgroundCheckResult = "pending"
)

// Employee is the aggregation unit for compliance.
type Employee struct {
	ID               snowflake.ID     `gorm:"primaryKey"`
	EmployeeNumber   string           `gorm:"type:text;not null;uniqueIndex"`
	FullName         string           `gorm:"type:text;not null"`
	Department       string           `gorm:"type:text;not null;index"`
	EmploymentStatus EmploymentStatus `gorm:"type:text;not null"`
	CreatedAt        time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Employee) TableName() string { return "employees" }

func (e Employee) IsActive() bool {
	return e.EmploymentStatus == EmploymentStatusActive
}

// TrainingType is a certification category.
type TrainingType struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	Name           string       `gorm:"type:text;not null"`
	Code           string       `gorm:"type:text;not null;uniqueIndex"`
	Category       string       `gorm:"type:text"`
	ValidityMonths int          `gorm:"not null"`
	Mandatory      bool         `gorm:"not null;default:false"`
	Active         bool         `gorm:"not null;default:true"`
	Criticality    Criticality  `gorm:"type:text;not null"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (TrainingType) TableName() string { return "training_types" }

// TrainingRecord is one certificate held by an employee. Status is a cache of
// the derived lifecycle state and is refreshed by the recompute pass.
type TrainingRecord struct {
	ID                snowflake.ID      `gorm:"primaryKey"`
	EmployeeID        snowflake.ID      `gorm:"not null;index"`
	TrainingTypeID    snowflake.ID      `gorm:"not null;index"`
	CertificateNumber string            `gorm:"type:text;not null;uniqueIndex"`
	IssuedAt          time.Time         `gorm:"not null"`
	ValidFrom         time.Time         `gorm:"not null"`
	ValidUntil        *time.Time        `gorm:"index"`
	Status            CertificateStatus `gorm:"type:text;not null"`
	RenewedFromID     *snowflake.ID     `gorm:"index"`
	SupersededByID    *snowflake.ID     `gorm:"index"`
	SupersededAt      *time.Time        `gorm:""`
	Version           int64             `gorm:"not null;default:1"`
	Metadata          datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt         time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (TrainingRecord) TableName() string { return "training_records" }

// IsSuperseded reports the terminal state. Either the stored status or a
// successor link is sufficient.
func (r TrainingRecord) IsSuperseded() bool {
	return r.Status == CertificateStatusSuperseded || r.SupersededByID != nil
}

// BackgroundCheck is a screening result with its own validity window.
type BackgroundCheck struct {
	ID         snowflake.ID          `gorm:"primaryKey"`
	EmployeeID snowflake.ID          `gorm:"not null;index"`
	CheckType  string                `gorm:"type:text;not null"`
	Result     BackgroundCheckResult `gorm:"type:text;not null"`
	ValidFrom  time.Time             `gorm:"not null"`
	ValidUntil *time.Time            `gorm:""`
	CreatedAt  time.Time             `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time             `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (BackgroundCheck) TableName() string { return "background_checks" }
