package audit_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/meridianfs/compliance/internal/audit"
	"github.com/meridianfs/compliance/internal/clock"
	"github.com/meridianfs/compliance/internal/database"
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

func newService(t *testing.T, db *gorm.DB) *audit.Service {
	t.Helper()
	svc, err := audit.NewService(db, clock.NewFixed(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)), zap.NewNop())
	require.NoError(t, err)
	return svc
}

func appendN(t *testing.T, db *gorm.DB, svc *audit.Service, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := db.Transaction(func(tx *gorm.DB) error {
			_, err := svc.Append(tx, audit.Record{
				Operation:    "alert.claim",
				Actor:        "reviewer-1",
				ResourceType: "alert",
				ResourceID:   fmt.Sprintf("res-%d", i),
				Details:      fmt.Sprintf(`{"step":%d}`, i),
			})
			return err
		})
		require.NoError(t, err)
	}
}

func TestAppendBuildsLinkedChain(t *testing.T) {
	db := newTestDB(t)
	svc := newService(t, db)
	appendN(t, db, svc, 3)

	var entries []audit.Entry
	require.NoError(t, db.Order("sequence ASC").Find(&entries).Error)
	require.Len(t, entries, 3)

	assert.Equal(t, int64(1), entries[0].Sequence)
	assert.Equal(t, audit.GenesisHash, entries[0].PrevHash)
	assert.Equal(t, entries[0].Hash, entries[1].PrevHash)
	assert.Equal(t, entries[1].Hash, entries[2].PrevHash)
}

func TestVerifyCleanChain(t *testing.T) {
	db := newTestDB(t)
	svc := newService(t, db)
	appendN(t, db, svc, 5)

	result, err := svc.Verify(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, 5, result.Checked)
	assert.Empty(t, result.Errors)
}

func TestVerifyEmptyChain(t *testing.T) {
	db := newTestDB(t)
	svc := newService(t, db)

	result, err := svc.Verify(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Zero(t, result.Checked)
}

func TestVerifyDetectsFieldTamper(t *testing.T) {
	db := newTestDB(t)
	svc := newService(t, db)
	appendN(t, db, svc, 5)

	// Simulate an out-of-band edit to a stored field.
	require.NoError(t, db.Model(&audit.Entry{}).
		Where("sequence = ?", 3).
		Update("details", `{"step":"doctored"}`).Error)

	result, err := svc.Verify(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.False(t, result.Valid)

	flagged := map[int64]bool{}
	for _, e := range result.Errors {
		flagged[e.Sequence] = true
	}
	assert.True(t, flagged[3], "tampered entry must be reported")
	assert.True(t, flagged[4], "entries after the break must be unverifiable")
	assert.True(t, flagged[5], "entries after the break must be unverifiable")
	assert.False(t, flagged[1])
	assert.False(t, flagged[2])
	assert.Equal(t, int64(3), result.Errors[0].Sequence)
}

func TestVerifyDetectsRewrittenDigest(t *testing.T) {
	db := newTestDB(t)
	svc := newService(t, db)
	appendN(t, db, svc, 3)

	// An attacker who rewrites the stored digest still breaks the successor's
	// prev_hash linkage.
	require.NoError(t, db.Model(&audit.Entry{}).
		Where("sequence = ?", 2).
		Update("hash", "deadbeef").Error)

	result, err := svc.Verify(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, int64(2), result.Errors[0].Sequence)
}

func TestVerifyRangeAnchorsOnPredecessor(t *testing.T) {
	db := newTestDB(t)
	svc := newService(t, db)
	appendN(t, db, svc, 6)

	result, err := svc.Verify(context.Background(), 3, 5)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, 3, result.Checked)

	require.NoError(t, db.Model(&audit.Entry{}).
		Where("sequence = ?", 4).
		Update("actor", "intruder").Error)

	result, err = svc.Verify(context.Background(), 3, 5)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, int64(4), result.Errors[0].Sequence)
}

func TestVerifyDetectsDeletedFirstEntry(t *testing.T) {
	db := newTestDB(t)
	svc := newService(t, db)
	appendN(t, db, svc, 5)

	require.NoError(t, db.Where("sequence = ?", 1).Delete(&audit.Entry{}).Error)

	result, err := svc.Verify(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.False(t, result.Valid, "a full verify must notice a deleted chain prefix")
	require.NotEmpty(t, result.Errors)
	assert.Equal(t, int64(2), result.Errors[0].Sequence)
	assert.Contains(t, result.Errors[0].Reason, "chain prefix missing")
}

func TestVerifyRangeDetectsMissingPredecessor(t *testing.T) {
	db := newTestDB(t)
	svc := newService(t, db)
	appendN(t, db, svc, 5)

	require.NoError(t, db.Where("sequence = ?", 2).Delete(&audit.Entry{}).Error)

	result, err := svc.Verify(context.Background(), 3, 5)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	require.NotEmpty(t, result.Errors)
	assert.Equal(t, int64(3), result.Errors[0].Sequence)
	assert.Contains(t, result.Errors[0].Reason, "predecessor entry 2 missing")
}

func TestAppendRollsBackWithCallerTransaction(t *testing.T) {
	db := newTestDB(t)
	svc := newService(t, db)

	err := db.Transaction(func(tx *gorm.DB) error {
		if _, err := svc.Append(tx, audit.Record{
			Operation:    "incident.open",
			Actor:        "system",
			ResourceType: "incident",
			ResourceID:   "abc",
		}); err != nil {
			return err
		}
		return fmt.Errorf("business mutation failed")
	})
	require.Error(t, err)

	var count int64
	require.NoError(t, db.Model(&audit.Entry{}).Count(&count).Error)
	assert.Zero(t, count, "audit entry must not outlive its transaction")
}

func TestAppendRejectsEmptyOperation(t *testing.T) {
	db := newTestDB(t)
	svc := newService(t, db)

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := svc.Append(tx, audit.Record{Actor: "system"})
		return err
	})
	require.Error(t, err)
}

func TestEntriesForResource(t *testing.T) {
	db := newTestDB(t)
	svc := newService(t, db)
	appendN(t, db, svc, 4)

	entries, err := svc.EntriesForResource(context.Background(), "alert", "res-2", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "res-2", entries[0].ResourceID)
}
