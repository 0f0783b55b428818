package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/meridianfs/compliance/internal/alerts"
	"github.com/meridianfs/compliance/internal/incidents"
	"github.com/meridianfs/compliance/internal/risk"
	"github.com/meridianfs/compliance/pkg/errors"
)

// respondError maps the domain error taxonomy onto HTTP statuses. The
// distinctions matter to operators: 400/422 mean "your action was rejected",
// 409 means "someone else acted first", and delivery failures are not errors
// at all at this level.
func (s *Server) respondError(c *gin.Context, err error) {
	switch {
	case errors.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": "validation"})
	case errors.IsInvalidTransition(err):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "kind": "invalid_state_transition"})
	case errors.IsConflict(err):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "kind": "conflict"})
	case errors.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "kind": "not_found"})
	default:
		s.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "kind": "internal"})
	}
}

type assessRequest struct {
	TransactionID string    `json:"transaction_id"`
	AccountID     string    `json:"account_id" binding:"required,uuid"`
	Amount        string    `json:"amount" binding:"required"`
	Currency      string    `json:"currency" binding:"required,len=3"`
	Merchant      string    `json:"merchant"`
	Category      string    `json:"category"`
	OccurredAt    time.Time `json:"occurred_at" binding:"required"`
}

func (s *Server) assessTransaction(c *gin.Context) {
	var req assessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, errors.NewValidation("body", err.Error()))
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		s.respondError(c, errors.NewValidation("amount", "must be a decimal number"))
		return
	}
	accountID, _ := uuid.Parse(req.AccountID)

	txn := risk.Transaction{
		AccountID:  accountID,
		Amount:     amount,
		Currency:   req.Currency,
		Merchant:   req.Merchant,
		Category:   req.Category,
		OccurredAt: req.OccurredAt,
	}
	if req.TransactionID != "" {
		id, err := uuid.Parse(req.TransactionID)
		if err != nil {
			s.respondError(c, errors.NewValidation("transaction_id", "must be a uuid"))
			return
		}
		txn.ID = id
	}

	assessment, err := s.risk.AssessTransaction(c.Request.Context(), txn)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, assessment)
}

func (s *Server) listPendingAlerts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	out, err := s.alerts.ListPending(c.Request.Context(), limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": out, "count": len(out)})
}

type claimRequest struct {
	ReviewerID string `json:"reviewer_id" binding:"required,uuid"`
}

func (s *Server) claimAlert(c *gin.Context) {
	alertID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		s.respondError(c, errors.NewValidation("id", "must be a uuid"))
		return
	}
	var req claimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, errors.NewValidation("body", err.Error()))
		return
	}
	reviewerID, _ := uuid.Parse(req.ReviewerID)

	alert, err := s.alerts.Claim(c.Request.Context(), alertID, reviewerID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

type decideRequest struct {
	ReviewerID string `json:"reviewer_id" binding:"required,uuid"`
	Decision   string `json:"decision" binding:"required"`
	Notes      string `json:"notes"`
}

func (s *Server) decideAlert(c *gin.Context) {
	alertID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		s.respondError(c, errors.NewValidation("id", "must be a uuid"))
		return
	}
	var req decideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, errors.NewValidation("body", err.Error()))
		return
	}
	reviewerID, _ := uuid.Parse(req.ReviewerID)

	alert, err := s.alerts.Decide(c.Request.Context(), alertID, reviewerID, alerts.Decision(req.Decision), req.Notes)
	if err != nil {
		// The decision itself committed; only the regulator filing needs
		// attention. Surface that distinctly from a rejection.
		if errors.IsDeliveryFailure(err) {
			c.JSON(http.StatusOK, gin.H{"alert": alert, "delivery_pending": true})
			return
		}
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alert": alert, "delivery_pending": false})
}

type openIncidentRequest struct {
	Severity        string             `json:"severity" binding:"required"`
	DetectedAt      *time.Time         `json:"detected_at"`
	DataCompromised bool               `json:"data_compromised"`
	Metadata        incidents.Metadata `json:"metadata" binding:"required"`
}

func (s *Server) openIncident(c *gin.Context) {
	var req openIncidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, errors.NewValidation("body", err.Error()))
		return
	}
	params := incidents.OpenParams{
		Severity:        incidents.Severity(req.Severity),
		DataCompromised: req.DataCompromised,
		Metadata:        req.Metadata,
	}
	if req.DetectedAt != nil {
		params.DetectedAt = *req.DetectedAt
	}
	inc, err := s.incidents.Open(c.Request.Context(), params)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, inc)
}

func (s *Server) incidentStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		s.respondError(c, errors.NewValidation("id", "must be a uuid"))
		return
	}
	inc, err := s.incidents.Get(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"incident": inc,
		"status":   s.incidents.StatusAt(inc, s.clock.Now()),
	})
}

type transitionRequest struct {
	State string `json:"state" binding:"required"`
	Actor string `json:"actor" binding:"required"`
}

func (s *Server) transitionIncident(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		s.respondError(c, errors.NewValidation("id", "must be a uuid"))
		return
	}
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, errors.NewValidation("body", err.Error()))
		return
	}
	inc, err := s.incidents.Transition(c.Request.Context(), id, incidents.State(req.State), req.Actor)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, inc)
}

func (s *Server) verifyAuditLog(c *gin.Context) {
	from, _ := strconv.ParseInt(c.DefaultQuery("from", "0"), 10, 64)
	to, _ := strconv.ParseInt(c.DefaultQuery("to", "0"), 10, 64)
	result, err := s.auditor.Verify(c.Request.Context(), from, to)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) resourceAuditTrail(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	entries, err := s.auditor.EntriesForResource(c.Request.Context(), c.Param("type"), c.Param("id"), limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

func (s *Server) runCycle(c *gin.Context) {
	now := s.clock.Now()
	if raw := c.Query("now"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.respondError(c, errors.NewValidation("now", "must be RFC3339"))
			return
		}
		now = parsed
	}
	summary, err := s.scheduler.RunCycle(c.Request.Context(), now)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
