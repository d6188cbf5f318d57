package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/aerocert/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Insert appends one entry. Audit rows are never updated in place.
func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.AuditLog) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Create(entry).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.AuditLog, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.AuditLog{}).
		Scopes(matching(filter), after(filter.Cursor)).
		Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	var logs []*domain.AuditLog
	if err := stmt.Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

func (r *repo) ListForTargets(ctx context.Context, db *gorm.DB, targetType string, targetIDs []string) ([]domain.AuditLog, error) {
	logs := []domain.AuditLog{}
	if len(targetIDs) == 0 {
		return logs, nil
	}
	err := db.WithContext(ctx).
		Where("target_type = ? AND target_id IN ?", targetType, targetIDs).
		Order("created_at asc, id asc").
		Find(&logs).Error
	return logs, err
}

func matching(filter domain.ListFilter) func(*gorm.DB) *gorm.DB {
	return func(stmt *gorm.DB) *gorm.DB {
		for column, value := range map[string]string{
			"action":      filter.Action,
			"target_type": filter.TargetType,
			"target_id":   filter.TargetID,
			"actor_type":  filter.ActorType,
		} {
			if value = strings.TrimSpace(value); value != "" {
				stmt = stmt.Where(column+" = ?", value)
			}
		}
		if filter.StartAt != nil {
			stmt = stmt.Where("created_at >= ?", filter.StartAt.UTC())
		}
		if filter.EndAt != nil {
			stmt = stmt.Where("created_at <= ?", filter.EndAt.UTC())
		}
		return stmt
	}
}

// after continues a newest-first listing strictly below the cursor.
func after(cursor *domain.AuditCursor) func(*gorm.DB) *gorm.DB {
	return func(stmt *gorm.DB) *gorm.DB {
		if cursor == nil {
			return stmt
		}
		return stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
}
