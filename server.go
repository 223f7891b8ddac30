package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/mto_backend/config"
	"github.com/mmdatafocus/mto_backend/middlewares"
	"github.com/mmdatafocus/mto_backend/models"
	"github.com/mmdatafocus/mto_backend/models/reports"
	"github.com/mmdatafocus/mto_backend/utils"
	"github.com/mmdatafocus/mto_backend/workflow"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

const defaultPort = "8080"

var tracer = otel.Tracer("mto_backend")

// engine is nil until the database is connected; the readiness gate keeps
// requests away until then.
var engine atomic.Pointer[workflow.Engine]

type transitionBody struct {
	Qty          decimal.Decimal `json:"qty"`
	FromPhase    models.Phase    `json:"from_phase"`
	IsRollback   bool            `json:"is_rollback"`
	RollbackMode string          `json:"rollback_mode"`
	Reason       string          `json:"reason"`
}

func transitionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		itemId, ok := pathId(c)
		if !ok {
			return
		}
		var body transitionBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		req := workflow.TransitionRequest{
			OrderItemId: itemId,
			Qty:         body.Qty,
			ActorId:     actorId(c),
			FromPhase:   body.FromPhase,
			IsRollback:  body.IsRollback,
			Reason:      body.Reason,
		}
		if body.IsRollback {
			mode, err := models.ParseRollbackMode(body.RollbackMode)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			req.RollbackMode = mode
		}
		res, err := engine.Load().AdvanceOrRollback(c.Request.Context(), req)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func coverageHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req workflow.CoverageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		res, err := engine.Load().CheckCoverage(c.Request.Context(), req)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func procureOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderId, ok := pathId(c)
		if !ok {
			return
		}
		res, err := engine.Load().ProcureForOrder(c.Request.Context(), orderId, actorId(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

type supplyRunBody struct {
	Start  string `json:"start"`
	Days   int    `json:"days"`
	DryRun *bool  `json:"dry_run"`
}

// supplyRunHandler triggers a reconciliation run synchronously. Triggering
// needs the same capability as manual procurement.
func supplyRunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		e := engine.Load()
		if !e.Authorizer.Can(c.Request.Context(), actorId(c), workflow.CapabilityManualProcure) {
			c.JSON(http.StatusForbidden, gin.H{"error": "missing capability " + string(workflow.CapabilityManualProcure)})
			return
		}
		var body supplyRunBody
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&body); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
				return
			}
		}
		opts := e.DefaultRunOptions()
		if body.Start != "" {
			start, err := time.ParseInLocation(time.DateOnly, body.Start, e.Config.Location())
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "start must be YYYY-MM-DD"})
				return
			}
			opts.WindowStart, opts.WindowEnd = e.Config.Window(start)
		}
		if body.Days > 0 {
			opts.WindowEnd = opts.WindowStart.AddDate(0, 0, body.Days)
		}
		if body.DryRun != nil {
			opts.DryRun = *body.DryRun
		}

		ctx, span := tracer.Start(c.Request.Context(), "http.supplyRun")
		defer span.End()
		run := e.RunReconciliation(ctx, opts)
		status := http.StatusOK
		if run.Outcome == models.SupplyRunOutcomeSkipped {
			status = http.StatusConflict
		}
		c.JSON(status, run)
	}
}

func getSupplyRunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		runId, ok := pathId(c)
		if !ok {
			return
		}
		run, err := models.GetSupplyRun(engine.Load().DB.WithContext(c.Request.Context()), runId)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, run)
	}
}

func exportSupplyRunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		runId, ok := pathId(c)
		if !ok {
			return
		}
		run, err := models.GetSupplyRun(engine.Load().DB.WithContext(c.Request.Context()), runId)
		if err != nil {
			writeError(c, err)
			return
		}
		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=supply-run-%d.xlsx", run.ID))
		if err := reports.WriteShortfalls(c.Writer, run); err != nil {
			_ = c.Error(err)
		}
	}
}

func pathId(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func actorId(c *gin.Context) int {
	id, _ := utils.GetUserIdFromContext(c.Request.Context())
	return id
}

// writeError maps business rule violations to 422 (403 for capabilities),
// missing rows to 404 and everything else to 500.
func writeError(c *gin.Context, err error) {
	if bre, ok := workflow.AsBusinessRule(err); ok {
		status := http.StatusUnprocessableEntity
		if bre.Code == workflow.ErrCodeMissingCapability {
			status = http.StatusForbidden
		}
		c.JSON(status, gin.H{
			"code":               bre.Code,
			"error":              bre.Message,
			"missing_components": bre.MissingComponents,
		})
		return
	}
	if workflow.IsNotFound(err) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func newRouter(logger *logrus.Logger) *gin.Engine {
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if engine.Load() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if origins := splitAndTrim(allowedOrigins); len(origins) > 0 {
			corsConfig.AllowOrigins = origins
		} else {
			// deny all cross-origin requests when nothing is configured
			corsConfig.AllowOriginFunc = func(string) bool { return false }
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", middlewares.HeaderUserId, middlewares.HeaderCapabilities, "x-correlation-id")
	r.Use(cors.New(corsConfig))

	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") && config.GetRedisDB() != nil {
		limit := int64(600)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		r.Use(middlewares.NewRateLimiter(config.GetRedisDB(), limit, time.Minute).Middleware())
	}

	r.Use(middlewares.GatewayIdentityMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	api := r.Group("/api")
	api.POST("/order-items/:id/transitions", transitionHandler())
	api.POST("/coverage", coverageHandler())
	api.POST("/orders/:id/procure", procureOrderHandler())
	api.POST("/supply-runs", supplyRunHandler())
	api.GET("/supply-runs/:id", getSupplyRunHandler())
	api.GET("/supply-runs/:id/shortfalls", exportSupplyRunHandler())
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
	return r
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}
	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start listening immediately; until the database is ready app endpoints return 503.
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: newRouter(logger),
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectDatabaseWithRetry()
	if config.RedisConfigured() {
		if err := config.ConnectRedisWithRetry(sigCtx, 10); err != nil {
			logger.WithFields(logrus.Fields{"field": "redis"}).Warn("redis unavailable; run lock falls back to a file lock: " + err.Error())
		}
	}

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		if err := models.MigrateTable(db); err != nil {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Fatal(err.Error())
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	engine.Store(workflow.NewEngine(db, config.LoadSupplyConfig()))
	log.Printf("server ready on :%s", port)

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger logs only requests that recorded errors.
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
