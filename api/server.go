// Package api exposes the compliance operations over HTTP. The wider web
// application and its authentication live elsewhere; this surface is the
// operational API for compliance tooling.
package api

import (
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/meridianfs/compliance/internal/alerts"
	"github.com/meridianfs/compliance/internal/audit"
	"github.com/meridianfs/compliance/internal/clock"
	"github.com/meridianfs/compliance/internal/incidents"
	"github.com/meridianfs/compliance/internal/risk"
	"github.com/meridianfs/compliance/internal/scheduler"
)

// Server wires the compliance services into a gin router.
type Server struct {
	risk      *risk.Service
	alerts    *alerts.Service
	incidents *incidents.Service
	auditor   *audit.Service
	scheduler *scheduler.Scheduler
	clock     clock.Clock
	logger    *zap.Logger
}

// NewServer creates the HTTP server facade.
func NewServer(
	riskSvc *risk.Service,
	alertSvc *alerts.Service,
	incidentSvc *incidents.Service,
	auditor *audit.Service,
	sched *scheduler.Scheduler,
	clk clock.Clock,
	logger *zap.Logger,
) *Server {
	if clk == nil {
		clk = clock.System()
	}
	return &Server{
		risk:      riskSvc,
		alerts:    alertSvc,
		incidents: incidentSvc,
		auditor:   auditor,
		scheduler: sched,
		clock:     clk,
		logger:    logger,
	}
}

// Router builds the gin engine with logging, recovery, and all routes.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(ginzap.Ginzap(s.logger, time.RFC3339, true))
	r.Use(ginzap.RecoveryWithZap(s.logger, true))

	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1/compliance")
	{
		v1.POST("/transactions/assess", s.assessTransaction)

		v1.GET("/alerts", s.listPendingAlerts)
		v1.POST("/alerts/:id/claim", s.claimAlert)
		v1.POST("/alerts/:id/decide", s.decideAlert)

		v1.POST("/incidents", s.openIncident)
		v1.GET("/incidents/:id/status", s.incidentStatus)
		v1.POST("/incidents/:id/transition", s.transitionIncident)

		v1.GET("/audit/verify", s.verifyAuditLog)
		v1.GET("/audit/resources/:type/:id", s.resourceAuditTrail)

		v1.POST("/cycle", s.runCycle)
	}
	return r
}

func (s *Server) health(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok", "time": s.clock.Now().UTC()})
}
