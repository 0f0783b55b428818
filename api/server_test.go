package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/meridianfs/compliance/api"
	"github.com/meridianfs/compliance/internal/alerts"
	"github.com/meridianfs/compliance/internal/audit"
	"github.com/meridianfs/compliance/internal/clock"
	"github.com/meridianfs/compliance/internal/database"
	"github.com/meridianfs/compliance/internal/incidents"
	"github.com/meridianfs/compliance/internal/regulatory"
	"github.com/meridianfs/compliance/internal/risk"
	"github.com/meridianfs/compliance/internal/scheduler"
)

var apiNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type testServer struct {
	router *gin.Engine
	db     *gorm.DB
	alerts *alerts.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New())
	db, err := database.NewSQLiteDB(dsn)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))

	clk := clock.NewFixed(apiNow)
	logger := zap.NewNop()
	auditor, err := audit.NewService(db, clk, logger)
	require.NoError(t, err)

	deliveries := regulatory.NewDeliveryStore(db)
	reporter := &regulatory.LogReporter{Target: regulatory.TargetFinCrime, Logger: logger}

	alertSvc, err := alerts.NewService(db, auditor, deliveries, reporter, clk, logger, time.Second)
	require.NoError(t, err)
	riskSvc, err := risk.NewService(db, risk.DefaultConfig(), auditor, alertSvc, nil, clk, logger)
	require.NoError(t, err)
	incidentSvc, err := incidents.NewService(db, incidents.DefaultConfig(), auditor, deliveries, clk, logger)
	require.NoError(t, err)
	sched, err := scheduler.New(db, scheduler.DefaultConfig(), alertSvc, incidentSvc, deliveries, reporter, nil, nil, clk, logger)
	require.NoError(t, err)

	server := api.NewServer(riskSvc, alertSvc, incidentSvc, auditor, sched, clk, logger)
	return &testServer{router: server.Router(), db: db, alerts: alertSvc}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) pendingAlert(t *testing.T) *alerts.Alert {
	t.Helper()
	var alert *alerts.Alert
	err := ts.db.Transaction(func(tx *gorm.DB) error {
		var err error
		alert, err = ts.alerts.Create(tx, alerts.CreateParams{
			AssessmentID:  uuid.New(),
			TransactionID: uuid.New(),
			AccountID:     uuid.New(),
			Score:         70,
		})
		return err
	})
	require.NoError(t, err)
	return alert
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAssessTransactionEndpoint(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/v1/compliance/transactions/assess", gin.H{
		"account_id":  uuid.New().String(),
		"amount":      "12500.00",
		"currency":    "AUD",
		"category":    "retail",
		"occurred_at": apiNow.Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var assessment risk.Assessment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &assessment))
	assert.True(t, assessment.RequiresReview)
	assert.Contains(t, assessment.TriggeredRules, risk.RuleThreshold)
}

func TestAssessTransactionRejectsBadBody(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/compliance/transactions/assess", gin.H{
		"account_id": "not-a-uuid",
		"amount":     "100",
		"currency":   "AUD",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/compliance/transactions/assess", gin.H{
		"account_id":  uuid.New().String(),
		"amount":      "twelve",
		"currency":    "AUD",
		"occurred_at": apiNow.Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClaimEndpointMapsConflictTo409(t *testing.T) {
	ts := newTestServer(t)
	alert := ts.pendingAlert(t)
	path := fmt.Sprintf("/api/v1/compliance/alerts/%s/claim", alert.ID)

	rec := ts.do(t, http.MethodPost, path, gin.H{"reviewer_id": uuid.New().String()})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, path, gin.H{"reviewer_id": uuid.New().String()})
	assert.Equal(t, http.StatusConflict, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "conflict", body["kind"])
}

func TestClaimEndpointMapsMissingAlertTo404(t *testing.T) {
	ts := newTestServer(t)
	path := fmt.Sprintf("/api/v1/compliance/alerts/%s/claim", uuid.New())
	rec := ts.do(t, http.MethodPost, path, gin.H{"reviewer_id": uuid.New().String()})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDecideEndpointMapsIllegalTransitionTo422(t *testing.T) {
	ts := newTestServer(t)
	alert := ts.pendingAlert(t)

	rec := ts.do(t, http.MethodPost,
		fmt.Sprintf("/api/v1/compliance/alerts/%s/decide", alert.ID),
		gin.H{"reviewer_id": uuid.New().String(), "decision": "CLEARED"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestDecideEndpointReportsDecision(t *testing.T) {
	ts := newTestServer(t)
	alert := ts.pendingAlert(t)
	reviewer := uuid.New()

	_, err := ts.alerts.Claim(context.Background(), alert.ID, reviewer)
	require.NoError(t, err)

	rec := ts.do(t, http.MethodPost,
		fmt.Sprintf("/api/v1/compliance/alerts/%s/decide", alert.ID),
		gin.H{"reviewer_id": reviewer.String(), "decision": "REPORTED", "notes": "confirmed structuring"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		DeliveryPending bool         `json:"delivery_pending"`
		Alert           alerts.Alert `json:"alert"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.DeliveryPending)
	assert.Equal(t, alerts.StateReported, body.Alert.State)
	assert.NotEmpty(t, body.Alert.SubmissionRef)
}

func TestIncidentEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/compliance/incidents", gin.H{
		"severity":    "CRITICAL",
		"detected_at": apiNow.Add(-80 * time.Hour).Format(time.RFC3339),
		"metadata": gin.H{
			"kind":        "fraud",
			"description": "synthetic identity ring",
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var inc incidents.Incident
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &inc))

	rec = ts.do(t, http.MethodGet, fmt.Sprintf("/api/v1/compliance/incidents/%s/status", inc.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status struct {
		Status incidents.StatusReport `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, incidents.StatusOverdue, status.Status.DeadlineStatus)

	rec = ts.do(t, http.MethodPost,
		fmt.Sprintf("/api/v1/compliance/incidents/%s/transition", inc.ID),
		gin.H{"state": "CLOSED", "actor": "ops"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "OPEN cannot close directly")

	rec = ts.do(t, http.MethodPost,
		fmt.Sprintf("/api/v1/compliance/incidents/%s/transition", inc.ID),
		gin.H{"state": "INVESTIGATING", "actor": "ops"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIncidentOpenRejectsBadSeverity(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/v1/compliance/incidents", gin.H{
		"severity": "WHATEVER",
		"metadata": gin.H{"kind": "fraud", "description": "x"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuditEndpoints(t *testing.T) {
	ts := newTestServer(t)
	alert := ts.pendingAlert(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/compliance/audit/verify", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var result audit.VerificationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Valid)
	assert.Equal(t, 1, result.Checked)

	rec = ts.do(t, http.MethodGet,
		fmt.Sprintf("/api/v1/compliance/audit/resources/alert/%s", alert.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var trail struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trail))
	assert.Equal(t, 1, trail.Count)
}

func TestCycleEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost,
		"/api/v1/compliance/cycle?now="+apiNow.Add(time.Hour).Format(time.RFC3339), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var summary scheduler.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.True(t, summary.Healthy)

	rec = ts.do(t, http.MethodPost, "/api/v1/compliance/cycle?now=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
