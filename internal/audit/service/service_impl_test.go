package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/aerocert/internal/audit/domain"
	"github.com/smallbiznis/aerocert/internal/audit/repository"
	"github.com/smallbiznis/aerocert/internal/clock"
	"github.com/smallbiznis/aerocert/pkg/db"
	"github.com/smallbiznis/aerocert/pkg/db/pagination"
	"github.com/smallbiznis/aerocert/pkg/telemetry/correlation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupAudit(t *testing.T) (auditdomain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()
	conn, err := db.NewTest(&auditdomain.AuditLog{})
	require.NoError(t, err)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC))

	svc := NewService(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
		Clock: clk,
	})
	return svc, conn, clk
}

func TestRecordStampsActorAndCorrelation(t *testing.T) {
	svc, conn, _ := setupAudit(t)
	ctx := correlation.ContextWithCorrelationID(context.Background(), "cid-1")
	ctx = correlation.ContextWithActor(ctx, correlation.ActorTypeUser, "inspector-9")

	err := svc.Record(ctx, nil, auditdomain.Entry{
		Action:     auditdomain.ActionCertificateRenewed,
		TargetType: auditdomain.TargetTypeTrainingRecord,
		TargetID:   "42",
		Metadata:   map[string]any{"license_number": "ATPL-99887766", "successor_id": "43"},
	})
	require.NoError(t, err)

	var logs []auditdomain.AuditLog
	require.NoError(t, conn.Find(&logs).Error)
	require.Len(t, logs, 1)
	entry := logs[0]
	assert.Equal(t, "user", entry.ActorType)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, "inspector-9", *entry.ActorID)
	require.NotNil(t, entry.TargetID)
	assert.Equal(t, "42", *entry.TargetID)
	assert.Equal(t, "cid-1", entry.Metadata["correlation_id"])
	assert.Equal(t, "43", entry.Metadata["successor_id"])
	assert.Equal(t, "ATPL-****7766", entry.Metadata["license_number"])
}

func TestRecordRejectsEmptyAction(t *testing.T) {
	svc, _, _ := setupAudit(t)
	err := svc.Record(context.Background(), nil, auditdomain.Entry{})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)
}

func TestRecordRollsBackWithTransaction(t *testing.T) {
	svc, conn, _ := setupAudit(t)

	boom := assert.AnError
	err := conn.Transaction(func(tx *gorm.DB) error {
		if err := svc.Record(context.Background(), tx, auditdomain.Entry{Action: auditdomain.ActionCertificateCreated}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, conn.Model(&auditdomain.AuditLog{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestListPaginates(t *testing.T) {
	svc, _, clk := setupAudit(t)
	ctx := context.Background()

	for range 5 {
		require.NoError(t, svc.Record(ctx, nil, auditdomain.Entry{Action: auditdomain.ActionCertificateStatusCorrected, TargetType: auditdomain.TargetTypeTrainingRecord}))
		clk.Advance(time.Minute)
	}
	require.NoError(t, svc.Record(ctx, nil, auditdomain.Entry{Action: auditdomain.ActionCertificateDeleted}))

	req := auditdomain.ListAuditLogRequest{Action: auditdomain.ActionCertificateStatusCorrected}
	req.PageSize = 2

	seen := 0
	pages := 0
	for {
		resp, err := svc.List(ctx, req)
		require.NoError(t, err)
		seen += len(resp.AuditLogs)
		pages++
		if !resp.HasMore {
			break
		}
		req.PageToken = resp.NextPageToken
	}
	assert.Equal(t, 5, seen)
	assert.Equal(t, 3, pages)

	_, err := svc.List(ctx, auditdomain.ListAuditLogRequest{Pagination: paginationWithToken("garbage")})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidPageToken)
}

func paginationWithToken(token string) pagination.Pagination {
	return pagination.Pagination{PageToken: token}
}

func TestHistoryReturnsTargetsOldestFirst(t *testing.T) {
	svc, _, clk := setupAudit(t)
	ctx := context.Background()

	record := func(action, target string) {
		require.NoError(t, svc.Record(ctx, nil, auditdomain.Entry{
			Action:     action,
			TargetType: auditdomain.TargetTypeTrainingRecord,
			TargetID:   target,
		}))
		clk.Advance(time.Hour)
	}
	record(auditdomain.ActionCertificateCreated, "100")
	record(auditdomain.ActionCertificateCreated, "999")
	record(auditdomain.ActionCertificateSuperseded, "100")
	record(auditdomain.ActionCertificateRenewed, "101")

	logs, err := svc.History(ctx, auditdomain.TargetTypeTrainingRecord, []string{"100", " 101 ", ""})
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, auditdomain.ActionCertificateCreated, logs[0].Action)
	assert.Equal(t, auditdomain.ActionCertificateSuperseded, logs[1].Action)
	assert.Equal(t, auditdomain.ActionCertificateRenewed, logs[2].Action)

	empty, err := svc.History(ctx, auditdomain.TargetTypeTrainingRecord, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = svc.History(ctx, " ", []string{"100"})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidTarget)
}
