package risk_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/meridianfs/compliance/internal/alerts"
	"github.com/meridianfs/compliance/internal/audit"
	"github.com/meridianfs/compliance/internal/clock"
	"github.com/meridianfs/compliance/internal/database"
	"github.com/meridianfs/compliance/internal/risk"
	"github.com/meridianfs/compliance/pkg/errors"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New())
	db, err := database.NewSQLiteDB(dsn)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))
	return db
}

func newRiskService(t *testing.T, db *gorm.DB) *risk.Service {
	t.Helper()
	clk := clock.NewFixed(baseTime)
	logger := zap.NewNop()

	auditor, err := audit.NewService(db, clk, logger)
	require.NoError(t, err)
	alertSvc, err := alerts.NewService(db, auditor, nil, nil, clk, logger, time.Second)
	require.NoError(t, err)
	svc, err := risk.NewService(db, risk.DefaultConfig(), auditor, alertSvc, nil, clk, logger)
	require.NoError(t, err)
	return svc
}

func TestAssessTransactionPersistsAssessmentAndAlert(t *testing.T) {
	db := newTestDB(t)
	svc := newRiskService(t, db)

	assessment, err := svc.AssessTransaction(context.Background(), txn(uuid.New(), 12000, baseTime))
	require.NoError(t, err)
	assert.True(t, assessment.RequiresReview)
	assert.NotEqual(t, uuid.Nil, assessment.ID)
	assert.Equal(t, baseTime, assessment.AssessedAt)

	var stored risk.Assessment
	require.NoError(t, db.First(&stored, "id = ?", assessment.ID).Error)
	assert.Equal(t, assessment.Score, stored.Score)

	var alertRows []alerts.Alert
	require.NoError(t, db.Find(&alertRows).Error)
	require.Len(t, alertRows, 1)
	assert.Equal(t, alerts.StatePending, alertRows[0].State)
	assert.Equal(t, assessment.ID, alertRows[0].AssessmentID)

	// assessment entry plus alert creation entry, in one chain
	var auditCount int64
	require.NoError(t, db.Model(&audit.Entry{}).Count(&auditCount).Error)
	assert.Equal(t, int64(2), auditCount)
}

func TestAssessTransactionLowRiskCreatesNoAlert(t *testing.T) {
	db := newTestDB(t)
	svc := newRiskService(t, db)

	assessment, err := svc.AssessTransaction(context.Background(), txn(uuid.New(), 40, baseTime))
	require.NoError(t, err)
	assert.False(t, assessment.RequiresReview)

	var alertCount int64
	require.NoError(t, db.Model(&alerts.Alert{}).Count(&alertCount).Error)
	assert.Zero(t, alertCount)
}

func TestAssessTransactionRejectsMalformedInput(t *testing.T) {
	db := newTestDB(t)
	svc := newRiskService(t, db)

	cases := map[string]func(*risk.Transaction){
		"negative amount":    func(tr *risk.Transaction) { tr.Amount = decimal.NewFromInt(-5) },
		"zero amount":        func(tr *risk.Transaction) { tr.Amount = decimal.Zero },
		"missing account":    func(tr *risk.Transaction) { tr.AccountID = uuid.Nil },
		"bad currency":       func(tr *risk.Transaction) { tr.Currency = "AU" },
		"missing occurrence": func(tr *risk.Transaction) { tr.OccurredAt = time.Time{} },
	}
	for name, mutate := range cases {
		bad := txn(uuid.New(), 100, baseTime)
		mutate(&bad)
		_, err := svc.AssessTransaction(context.Background(), bad)
		require.Error(t, err, name)
		assert.True(t, errors.IsValidation(err), name)
	}

	// rejected before any state change
	var txnCount int64
	require.NoError(t, db.Model(&risk.Transaction{}).Count(&txnCount).Error)
	assert.Zero(t, txnCount)
}

func TestReassessmentPreservesHistory(t *testing.T) {
	db := newTestDB(t)
	svc := newRiskService(t, db)

	tr := txn(uuid.New(), 12000, baseTime)
	first, err := svc.AssessTransaction(context.Background(), tr)
	require.NoError(t, err)
	second, err := svc.AssessTransaction(context.Background(), tr)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	var count int64
	require.NoError(t, db.Model(&risk.Assessment{}).Where("transaction_id = ?", tr.ID).Count(&count).Error)
	assert.Equal(t, int64(2), count)

	var txnCount int64
	require.NoError(t, db.Model(&risk.Transaction{}).Count(&txnCount).Error)
	assert.Equal(t, int64(1), txnCount, "observed transaction is immutable and stored once")
}

func TestStructuringDetectedAcrossStoredHistory(t *testing.T) {
	db := newTestDB(t)
	svc := newRiskService(t, db)
	account := uuid.New()

	for i := 1; i <= 4; i++ {
		_, err := svc.AssessTransaction(context.Background(),
			txn(account, 9500, baseTime.Add(-time.Duration(i*10)*time.Minute)))
		require.NoError(t, err)
	}
	final, err := svc.AssessTransaction(context.Background(), txn(account, 9500, baseTime))
	require.NoError(t, err)
	assert.True(t, final.Triggered(risk.RuleStructuring))
}
