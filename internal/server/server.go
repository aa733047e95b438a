package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/makerhaus/storman/internal/assignment"
	assignmentdomain "github.com/makerhaus/storman/internal/assignment/domain"
	"github.com/makerhaus/storman/internal/config"
	"github.com/makerhaus/storman/internal/member"
	memberdomain "github.com/makerhaus/storman/internal/member/domain"
	"github.com/makerhaus/storman/internal/notification"
	"github.com/makerhaus/storman/internal/observability"
	obsmiddleware "github.com/makerhaus/storman/internal/observability/logger"
	obsmetrics "github.com/makerhaus/storman/internal/observability/metrics"
	obstracing "github.com/makerhaus/storman/internal/observability/tracing"
	"github.com/makerhaus/storman/internal/providers/email"
	stripeprovider "github.com/makerhaus/storman/internal/providers/stripe"
	"github.com/makerhaus/storman/internal/stripesync"
	stripesyncdomain "github.com/makerhaus/storman/internal/stripesync/domain"
	"github.com/makerhaus/storman/internal/unit"
	unitdomain "github.com/makerhaus/storman/internal/unit/domain"
	"github.com/makerhaus/storman/internal/violation"
	violationdomain "github.com/makerhaus/storman/internal/violation/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	email.Module,
	stripeprovider.Module,
	notification.Module,
	stripesync.Module,
	unit.Module,
	member.Module,
	assignment.Module,
	violation.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine *gin.Engine
	cfg    config.Config
	log    *zap.Logger

	unitSvc       unitdomain.Service
	memberSvc     memberdomain.Service
	assignmentSvc assignmentdomain.Service
	violationSvc  violationdomain.Service
	syncEngine    stripesyncdomain.Engine
}

type ServerParams struct {
	fx.In

	Gin *gin.Engine
	Cfg config.Config
	Log *zap.Logger

	UnitSvc       unitdomain.Service
	MemberSvc     memberdomain.Service
	AssignmentSvc assignmentdomain.Service
	ViolationSvc  violationdomain.Service
	SyncEngine    stripesyncdomain.Engine
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine: p.Gin,
		cfg:    p.Cfg,
		log:    p.Log.Named("http.server"),

		unitSvc:       p.UnitSvc,
		memberSvc:     p.MemberSvc,
		assignmentSvc: p.AssignmentSvc,
		violationSvc:  p.ViolationSvc,
		syncEngine:    p.SyncEngine,
	}

	svc.registerAPIRoutes()
	svc.registerWebhookRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Unit types --------
	api.GET("/unit-types", s.ListUnitTypes)
	api.POST("/unit-types", s.CreateUnitType)
	api.GET("/unit-types/:id", s.GetUnitTypeByID)

	// -------- Units --------
	api.GET("/units", s.ListUnits)
	api.POST("/units", s.CreateUnit)
	api.GET("/units/:id", s.GetUnitByID)
	api.PATCH("/units/:id/status", s.SetUnitStatus)

	// -------- Members --------
	api.GET("/members", s.ListMembers)
	api.POST("/members", s.CreateMember)
	api.GET("/members/:id", s.GetMemberByID)

	// -------- Assignments --------
	api.GET("/assignments", s.ListAssignments)
	api.POST("/assignments", s.ClaimUnit)
	api.GET("/assignments/:id", s.GetAssignmentByID)
	api.POST("/assignments/:id/release", s.ReleaseAssignment)
	api.POST("/assignments/:id/resync", s.ResyncAssignment)
	api.POST("/assignments/:id/resolve-review", s.ResolveManualReview)
	api.POST("/assignments/:id/link-item", s.LinkSubscriptionItem)
	api.GET("/assignments/:id/price", s.GetAssignmentPrice)

	// -------- Violations --------
	api.POST("/assignments/:id/violations", s.StartViolation)
	api.GET("/assignments/:id/violations", s.ListViolations)
	api.GET("/violations/:id", s.GetViolationByID)
	api.GET("/violations/:id/accrued", s.GetAccruedCharge)
	api.POST("/violations/:id/finalize", s.FinalizeViolation)
	api.PATCH("/violations/:id/rate", s.UpdateViolationRate)
	api.PATCH("/violations/:id/note", s.UpdateViolationNote)
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/stripe", s.HandleStripeWebhook)
}
