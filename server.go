package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/owlinhq/reconcile_backend/adapters"
	"bitbucket.org/owlinhq/reconcile_backend/config"
	"bitbucket.org/owlinhq/reconcile_backend/matching"
	"bitbucket.org/owlinhq/reconcile_backend/middlewares"
	"bitbucket.org/owlinhq/reconcile_backend/models"
	"bitbucket.org/owlinhq/reconcile_backend/reports"
	"bitbucket.org/owlinhq/reconcile_backend/utils"
	"bitbucket.org/owlinhq/reconcile_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

func splitAndTrim(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// statusForError maps the engine's sentinel errors onto HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.Is(err, utils.ErrorRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, utils.ErrorCommitConflict),
		errors.Is(err, utils.ErrorPairingConflict),
		errors.Is(err, utils.ErrorSessionState):
		return http.StatusConflict
	case errors.Is(err, utils.ErrorOverrideRequired):
		return http.StatusPreconditionFailed
	case errors.Is(err, utils.ErrorCommitTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

type reconcileRowsRequest struct {
	Invoice      adapters.DocumentPayload `json:"invoice"`
	DeliveryNote adapters.DocumentPayload `json:"deliveryNote"`
	Threshold    float64                  `json:"threshold"`
}

// reconcileRowsHandler matches two ad hoc documents without persisting
// anything. Useful for previewing what a pairing would look like.
func reconcileRowsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req reconcileRowsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		invoiceItems := req.Invoice.ResolveItems()
		if len(invoiceItems) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invoice has no line items"})
			return
		}

		matches := matching.MatchLineItems(invoiceItems, req.DeliveryNote.ResolveItems(), req.Threshold)
		rows := matching.BuildComparisonRows(matches)
		c.JSON(http.StatusOK, gin.H{
			"matches": matches,
			"rows":    rows,
		})
	}
}

type discrepanciesRequest struct {
	Documents []workflow.DocumentRef `json:"documents"`
}

func discrepanciesHandler(aggregator *workflow.Aggregator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req discrepanciesRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if len(req.Documents) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "documents are required"})
			return
		}

		result, err := aggregator.Aggregate(c.Request.Context(), req.Documents)
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// resolveRefs expands invoice ids into refs carrying their linked delivery
// notes, when a link exists.
func resolveRefs(ctx context.Context, invoiceIds []string) ([]workflow.DocumentRef, error) {
	refs := make([]workflow.DocumentRef, 0, len(invoiceIds))
	for _, id := range invoiceIds {
		ref := workflow.DocumentRef{InvoiceID: id}
		noteId, linked, err := models.GetLinkedDeliveryNoteID(ctx, id)
		if err != nil {
			return nil, err
		}
		if linked {
			ref.DeliveryNoteID = &noteId
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func discrepancyExportHandler(aggregator *workflow.Aggregator) gin.HandlerFunc {
	return func(c *gin.Context) {
		ids := splitAndTrim(c.Query("invoiceIds"))
		if len(ids) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invoiceIds query parameter is required"})
			return
		}

		refs, err := resolveRefs(c.Request.Context(), ids)
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		result, err := aggregator.Aggregate(c.Request.Context(), refs)
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}

		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", "attachment; filename=discrepancies.xlsx")
		if err := reports.WriteDiscrepancyWorkbook(c.Writer, result); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to write workbook"})
		}
	}
}

type pairRequest struct {
	InvoiceID      string  `json:"invoiceId"`
	DeliveryNoteID string  `json:"deliveryNoteId"`
	Confidence     float64 `json:"confidence"`
	Override       bool    `json:"override"`
}

func evaluateHandler(engine *workflow.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req pairRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.InvoiceID == "" || req.DeliveryNoteID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invoiceId and deliveryNoteId are required"})
			return
		}

		validation, err := engine.Evaluate(c.Request.Context(), req.InvoiceID, req.DeliveryNoteID)
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"validation":      validation,
			"requiresPreview": validation.RequiresPreview(),
		})
	}
}

// suggestHandler opens a session. Without an explicit delivery note it takes
// the best ranked candidate; the full candidate list rides along either way.
func suggestHandler(engine *workflow.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req pairRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.InvoiceID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invoiceId is required"})
			return
		}

		suggestions, err := middlewares.GetPairingSuggestions(c.Request.Context(), req.InvoiceID)
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}

		deliveryNoteId := req.DeliveryNoteID
		confidence := req.Confidence
		if deliveryNoteId == "" {
			if len(suggestions) == 0 {
				c.JSON(http.StatusNotFound, gin.H{"error": "no pairing candidates found"})
				return
			}
			deliveryNoteId = suggestions[0].DeliveryNoteID
			confidence = suggestions[0].Confidence
		}

		session, err := engine.Suggest(c.Request.Context(), req.InvoiceID, deliveryNoteId, confidence)
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"session":     session,
			"suggestions": suggestions,
		})
	}
}

// counterpartSuggestionsHandler ranks unpaired invoices for a delivery note,
// the reverse direction of suggestHandler. Read-only; no session is opened.
func counterpartSuggestionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req pairRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.DeliveryNoteID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "deliveryNoteId is required"})
			return
		}

		suggestions, err := middlewares.GetCounterpartSuggestions(c.Request.Context(), req.DeliveryNoteID)
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"suggestions": suggestions})
	}
}

func openConfirmationHandler(engine *workflow.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req pairRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.InvoiceID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invoiceId is required"})
			return
		}

		session, err := engine.OpenConfirmation(c.Request.Context(), req.InvoiceID)
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"session": session})
	}
}

func confirmHandler(engine *workflow.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := utils.GetUsernameFromContext(c.Request.Context()); !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var req pairRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.InvoiceID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invoiceId is required"})
			return
		}

		outcome, err := engine.Confirm(c.Request.Context(), req.InvoiceID, req.Override)
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, outcome)
	}
}

func rejectHandler(engine *workflow.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := utils.GetUsernameFromContext(c.Request.Context()); !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var req pairRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.InvoiceID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invoiceId is required"})
			return
		}

		if err := engine.Reject(c.Request.Context(), req.InvoiceID); err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "rejected"})
	}
}

func unlinkHandler(engine *workflow.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := utils.GetUsernameFromContext(c.Request.Context()); !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var req pairRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.InvoiceID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invoiceId is required"})
			return
		}

		if err := engine.Unlink(c.Request.Context(), req.InvoiceID); err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "unlinked"})
	}
}

type autoPairRequest struct {
	InvoiceIDs []string `json:"invoiceIds"`
}

func autoPairHandler(engine *workflow.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := utils.GetUsernameFromContext(c.Request.Context()); !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var req autoPairRequest
		if err := c.ShouldBindJSON(&req); err != nil || len(req.InvoiceIDs) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invoiceIds are required"})
			return
		}

		var candidates []models.PairingSuggestion
		for _, id := range req.InvoiceIDs {
			suggestions, err := middlewares.GetPairingSuggestions(c.Request.Context(), id)
			if err != nil || len(suggestions) == 0 {
				continue
			}
			candidates = append(candidates, suggestions[0])
		}

		confirmed, errs := engine.AutoPairHighConfidence(c.Request.Context(), candidates)
		messages := make([]string, 0, len(errs))
		for _, err := range errs {
			messages = append(messages, err.Error())
		}
		c.JSON(http.StatusOK, gin.H{
			"confirmed": confirmed,
			"errors":    messages,
		})
	}
}

type deleteDocumentsRequest struct {
	DocumentIDs []string `json:"documentIds"`
}

func deleteDocumentsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := utils.GetUsernameFromContext(c.Request.Context()); !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var req deleteDocumentsRequest
		if err := c.ShouldBindJSON(&req); err != nil || len(req.DocumentIDs) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "documentIds are required"})
			return
		}

		result, err := models.DeleteDocuments(c.Request.Context(), req.DocumentIDs)
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, we return 503 for app endpoints.
	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(func(c *gin.Context) {
		// Always allow Cloud Run startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate critical endpoints on dependency readiness.
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS:
	// - In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	// - In non-production, allow all (developer convenience).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	r.Use(middlewares.SessionMiddleware())
	r.Use(middlewares.LoaderMiddleware())
	r.Use(gin.Recovery())

	engine := workflow.NewEngine(middlewares.DocFetcher{}, workflow.StoreCommitter{})
	aggregator := workflow.NewAggregator(middlewares.DocFetcher{})
	if raw := strings.TrimSpace(os.Getenv("MATCH_THRESHOLD")); raw != "" {
		threshold, err := strconv.ParseFloat(raw, 64)
		if err != nil || threshold <= 0 || threshold > 1 {
			logger.WithFields(logrus.Fields{"field": "config"}).Warn("ignoring invalid MATCH_THRESHOLD: " + raw)
		} else {
			engine.Validator.SimilarityThreshold = threshold
			aggregator.SimilarityThreshold = threshold
		}
	}

	r.POST("/api/reconcile/rows", reconcileRowsHandler())
	r.POST("/api/reconcile/discrepancies", discrepanciesHandler(aggregator))
	r.GET("/api/reconcile/discrepancies/export", discrepancyExportHandler(aggregator))

	r.POST("/api/pairing/evaluate", evaluateHandler(engine))
	r.POST("/api/pairing/suggest", suggestHandler(engine))
	r.POST("/api/pairing/counterparts", counterpartSuggestionsHandler())
	r.POST("/api/pairing/open", openConfirmationHandler(engine))
	r.POST("/api/pairing/confirm", confirmHandler(engine))
	r.POST("/api/pairing/reject", rejectHandler(engine))
	r.POST("/api/pairing/unlink", unlinkHandler(engine))
	r.POST("/api/pairing/auto", autoPairHandler(engine))

	r.POST("/api/documents/delete", deleteDocumentsHandler())

	r.NoRoute(customNotFoundHandler)

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run DDL that blocks tables; allow running migrations as
	// a separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Start outbox dispatcher (publishes AFTER commit).
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	go workflow.StartOutboxDispatcher(dispatcherCtx)

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	log.Println("Server started successfully on port " + port)

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while draining.
	cancelDispatcher()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}
}
