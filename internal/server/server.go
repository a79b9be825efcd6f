package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/fieldops/internal/audit/domain"
	"github.com/smallbiznis/fieldops/internal/authorization"
	"github.com/smallbiznis/fieldops/internal/config"
	inventorydomain "github.com/smallbiznis/fieldops/internal/inventory/domain"
	invoicedomain "github.com/smallbiznis/fieldops/internal/invoice/domain"
	jobpricedomain "github.com/smallbiznis/fieldops/internal/jobprice/domain"
	loandomain "github.com/smallbiznis/fieldops/internal/loan/domain"
	"github.com/smallbiznis/fieldops/internal/observability"
	obslogger "github.com/smallbiznis/fieldops/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/fieldops/internal/observability/metrics"
	obstracing "github.com/smallbiznis/fieldops/internal/observability/tracing"
	payrolldomain "github.com/smallbiznis/fieldops/internal/payroll/domain"
	taskdomain "github.com/smallbiznis/fieldops/internal/task/domain"
	userdomain "github.com/smallbiznis/fieldops/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

// NewEngine builds the gin engine with the shared middleware chain and the
// health and metrics endpoints.
func NewEngine(debug bool, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		ErrorClassifier: classifyErrorForLog,
		QuietRoutes:     []string{"/health", "/metrics"},
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

type engineParams struct {
	fx.In

	ObsCfg      observability.Config
	HTTPMetrics *obsmetrics.HTTPMetrics `optional:"true"`
}

func registerGin(p engineParams) *gin.Engine {
	return NewEngine(p.ObsCfg.Debug(), p.HTTPMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
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
	log    *zap.Logger

	authzSvc     authorization.Service
	auditSvc     auditdomain.Service
	userSvc      userdomain.Service
	taskSvc      taskdomain.Service
	jobPriceSvc  jobpricedomain.Service
	inventorySvc inventorydomain.Service
	loanSvc      loandomain.Service
	payrollSvc   payrolldomain.Service
	invoiceSvc   invoicedomain.Service
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Log          *zap.Logger
	AuthzSvc     authorization.Service
	AuditSvc     auditdomain.Service
	UserSvc      userdomain.Service
	TaskSvc      taskdomain.Service
	JobPriceSvc  jobpricedomain.Service
	InventorySvc inventorydomain.Service
	LoanSvc      loandomain.Service
	PayrollSvc   payrolldomain.Service
	InvoiceSvc   invoicedomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		log:          p.Log.Named("http.server"),
		authzSvc:     p.AuthzSvc,
		auditSvc:     p.AuditSvc,
		userSvc:      p.UserSvc,
		taskSvc:      p.TaskSvc,
		jobPriceSvc:  p.JobPriceSvc,
		inventorySvc: p.InventorySvc,
		loanSvc:      p.LoanSvc,
		payrollSvc:   p.PayrollSvc,
		invoiceSvc:   p.InvoiceSvc,
	}

	svc.registerRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerRoutes() {
	v1 := s.engine.Group("/v1", ActorRequired())

	v1.GET("/audit_logs", s.ListAuditLogs)

	// -------- Users --------
	v1.POST("/users", s.CreateUser)
	v1.GET("/users/:id", s.GetUser)
	v1.POST("/users/:id/deactivate", s.DeactivateUser)
	v1.GET("/technicians", s.ListTechnicians)

	// -------- Tasks --------
	v1.GET("/tasks", s.ListTasks)
	v1.POST("/tasks", s.CreateTask)
	v1.GET("/tasks/:id", s.GetTask)
	v1.PATCH("/tasks/:id", s.UpdateTask)
	v1.DELETE("/tasks/:id", s.DeleteTask)
	v1.POST("/tasks/:id/restore", s.RestoreTask)
	v1.POST("/tasks/:id/assign", s.AssignTask)
	v1.POST("/tasks/:id/start", s.StartTask)
	v1.POST("/tasks/:id/pause", s.PauseTask)
	v1.POST("/tasks/:id/complete", s.CompleteTask)
	v1.POST("/tasks/:id/approve", s.ApproveTask)
	v1.POST("/tasks/:id/return", s.ReturnTask)
	v1.POST("/tasks/:id/cancel", s.CancelTask)

	// -------- Job prices --------
	v1.GET("/job_prices", s.ListJobPrices)
	v1.PUT("/job_prices", s.UpsertJobPrice)

	// -------- Invoices --------
	v1.POST("/invoices/generate", s.GenerateInvoice)
	v1.GET("/invoices/:id", s.GetInvoice)
	v1.GET("/invoices/:id/tasks", s.ListInvoiceTasks)
	v1.GET("/invoices/:id/html", s.RenderInvoice)
	v1.POST("/invoices/:id/sent", s.MarkInvoiceSent)
	v1.POST("/invoices/:id/paid", s.MarkInvoicePaid)

	// -------- Payroll --------
	v1.POST("/payrolls/generate", s.GeneratePayroll)
	v1.GET("/payrolls", s.ListPayrolls)
	v1.GET("/payrolls/export", s.ExportPayroll)
	v1.GET("/payrolls/:id", s.GetPayroll)
	v1.POST("/payrolls/:id/recalculate", s.RecalculatePayroll)
	v1.POST("/payrolls/:id/approve", s.ApprovePayroll)
	v1.PATCH("/payrolls/:id/adjustments", s.UpdatePayrollAdjustments)

	// -------- Loans --------
	v1.POST("/loans", s.CreateLoan)
	v1.GET("/loans/:id", s.GetLoan)
	v1.GET("/technicians/:id/loans", s.ListTechnicianLoans)

	// -------- Inventory --------
	inv := v1.Group("/inventory")
	inv.GET("/items", s.ListItems)
	inv.POST("/items", s.CreateItem)
	inv.POST("/restock", s.Restock)
	inv.POST("/returns", s.ReturnStock)
	inv.GET("/wallets/:user", s.GetWallet)
	inv.GET("/wallets/:user/items/:item/transactions", s.ListWalletTransactions)
	inv.GET("/wallets/:user/items/:item/reconciliation", s.VerifyWallet)
	inv.POST("/requests", s.SubmitRequest)
	inv.GET("/requests/:id", s.GetRequest)
	inv.POST("/requests/:id/approve", s.ApproveRequest)
	inv.POST("/requests/:id/reject", s.RejectRequest)
	inv.POST("/requests/:id/receive", s.ReceiveRequest)
	inv.POST("/transfers", s.CreateTransfer)
	inv.GET("/pending_transfers", s.ListPendingTransfers)
	inv.GET("/transfers/:id", s.GetTransfer)
	inv.POST("/transfers/:id/accept", s.AcceptTransfer)
	inv.POST("/transfers/:id/reject", s.RejectTransfer)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
