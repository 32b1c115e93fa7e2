package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/gel2mdt-server/internal/alerts"
	"github.com/gel2mdt-server/internal/archive"
	"github.com/gel2mdt-server/internal/domain"
	"github.com/gel2mdt-server/internal/middleware"
	"github.com/gel2mdt-server/internal/service"
	"github.com/gel2mdt-server/pkg/external"
)

// Ingester starts ingestion runs on request
type Ingester interface {
	Run(ctx context.Context, sampleType domain.SampleType, opts service.RunOptions) (*domain.ListUpdate, error)
	UpdateForT3(ctx context.Context, reportID int64) (*domain.ListUpdate, error)
}

// HealthCheck reports whether a dependency is reachable
type HealthCheck func(ctx context.Context) error

// Deps collects what the handlers need. Archive, Hub and Checks may be empty.
type Deps struct {
	Cases    *service.CaseService
	MDTs     *service.MDTService
	Ingester Ingester
	Alerts   alerts.Store
	Archive  archive.Sink
	Hub      *Hub
	Checks   map[string]HealthCheck
}

// Server represents the HTTP server
type Server struct {
	config domain.ServerConfig
	deps   Deps
	router *gin.Engine
	server *http.Server
	logger *logrus.Logger

	// background ingestion runs outlive their request
	runCtx context.Context
	runs   sync.WaitGroup
}

// NewServer creates a new HTTP server instance
func NewServer(config domain.ServerConfig, deps Deps, logger *logrus.Logger) *Server {
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}
	if deps.Archive == nil {
		deps.Archive = archive.NopSink{}
	}
	if deps.Hub == nil {
		deps.Hub = NewHub(logger)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RemoteUser())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.AuditLogger(logger))
	router.Use(middleware.RequestTimeout(config.RequestTimeout))

	s := &Server{
		config: config,
		deps:   deps,
		router: router,
		logger: logger,
		runCtx: context.Background(),
	}
	s.setupRoutes()
	return s
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully and waits
// for background ingestion runs.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.runCtx = ctx

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := s.server.Shutdown(shutdownCtx)
	s.runs.Wait()
	return err
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ws/ingest", s.deps.Hub.ServeWS)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/cases/:sample_type", s.handleListCases)
		v1.GET("/reports/:id", s.handleGetReport)
		v1.PUT("/reports/:id", s.handleUpdateReport)
		v1.PUT("/probands/:id", s.handleUpdateProband)
		v1.PUT("/relatives/:id", s.handleUpdateRelative)
		v1.POST("/reports/:id/comments", s.handleAddComment)
		v1.PUT("/comments/:id", s.handleEditComment)
		v1.DELETE("/comments/:id", s.handleDeleteComment)
		v1.PUT("/proband-variants/:id/validation", s.handleUpdateValidation)
		v1.PUT("/proband-variants/:id/transcript/:tv_id", s.handleSelectTranscript)
		v1.PUT("/preferred-transcripts", s.handleSetPreferredTranscript)
		v1.POST("/hgvs/check", s.handleCheckHGVS)
		v1.GET("/genes/search", s.handleSearchGene)
		v1.GET("/panels/:id", s.handleGetPanel)
		v1.GET("/audit/:sample_type", s.handleAudit)
		v1.GET("/list-updates", s.handleListUpdates)

		v1.POST("/reports/:id/pull-t3", s.handlePullT3)
		v1.POST("/ingest/:sample_type", s.handleIngest)

		v1.POST("/mdts", s.handleCreateMDT)
		v1.GET("/mdts", s.handleListMDTs)
		v1.GET("/mdts/:id", s.handleGetMDT)
		v1.PUT("/mdts/:id", s.handleUpdateMDT)
		v1.DELETE("/mdts/:id", s.handleDeleteMDT)
		v1.POST("/mdts/:id/reports/:report_id", s.handleAddMDTReport)
		v1.DELETE("/mdts/:id/reports/:report_id", s.handleRemoveMDTReport)
		v1.POST("/mdts/:id/attendees/:attendee_id", s.handleAddMDTAttendee)
		v1.DELETE("/mdts/:id/attendees/:attendee_id", s.handleRemoveMDTAttendee)
		v1.POST("/attendees", s.handleCreateAttendee)
		v1.GET("/attendees", s.handleListAttendees)

		v1.GET("/mdts/:id/export.xlsx", s.handleExportMDT)
		v1.GET("/reports/:id/outcome.docx", s.handleExportOutcome)
		v1.GET("/exports/monthly.xlsx", s.handleExportMonthly)
		v1.GET("/exports/not-completed.xlsx", s.handleExportNotCompleted)
		v1.GET("/exports/cases.csv", s.handleExportCases)

		v1.GET("/case-alerts", s.handleListAlerts)
		v1.POST("/case-alerts", s.handleCreateAlert)
		v1.GET("/case-alerts/export", s.handleExportAlerts)
		v1.POST("/case-alerts/import", s.handleImportAlerts)
		v1.PUT("/case-alerts/:id", s.handleUpdateAlert)
		v1.DELETE("/case-alerts/:id", s.handleDeleteAlert)
	}
}

// handleHealth runs every registered check with a short deadline
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.deps.Checks))
	for name, check := range s.deps.Checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "unhealthy"
	}
	c.JSON(status, gin.H{
		"status":    state,
		"checks":    checks,
		"timestamp": time.Now().UTC(),
	})
}

// fail writes err as an AppError with the status its code maps to
func (s *Server) fail(c *gin.Context, err error) {
	requestID := c.GetString(middleware.CorrelationIDKey)
	appErr := domain.ToAppError(err, requestID)
	if appErr.Code != domain.ErrCodeTimeout && isUpstream(err) {
		appErr = domain.NewAppError(domain.ErrCodeExternalAPI, "upstream service failed", err.Error(), requestID)
	}
	status := appErr.HTTPStatus()
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"correlation_id": appErr.RequestID,
			"path":           c.FullPath(),
		}).Error("Request failed")
	}
	c.AbortWithStatusJSON(status, appErr)
}

// isUpstream reports failures of an external service rather than of this server
func isUpstream(err error) bool {
	var (
		decodeErr *external.DecodeError
		statusErr *external.StatusError
		urlErr    *url.Error
	)
	return errors.As(err, &decodeErr) ||
		errors.As(err, &statusErr) ||
		errors.As(err, &urlErr) ||
		errors.Is(err, gobreaker.ErrOpenState) ||
		errors.Is(err, gobreaker.ErrTooManyRequests) ||
		errors.Is(err, external.ErrAuthentication) ||
		errors.Is(err, external.ErrMissingCredentials)
}

func idParam(c *gin.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.NewValidationError(name, "must be a positive integer", c.Param(name))
	}
	return id, nil
}

func sampleTypeParam(c *gin.Context) (domain.SampleType, error) {
	return domain.ParseSampleType(c.Param("sample_type"))
}

func intQuery(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, domain.NewValidationError(name, "must be a non-negative integer", raw)
	}
	return n, nil
}

func bindJSON(c *gin.Context, dst interface{}) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		return fmt.Errorf("%w: malformed request body: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

func user(c *gin.Context) string {
	return c.GetString(middleware.UserKey)
}

// background starts an ingestion run that survives the request but not the server
func (s *Server) background(name string, fields logrus.Fields, run func(ctx context.Context) (*domain.ListUpdate, error)) {
	ctx := s.runCtx
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		log := s.logger.WithFields(fields).WithField("run", name)
		lu, err := run(ctx)
		if err != nil {
			log.WithError(err).Error("Requested ingestion failed")
			return
		}
		log.WithFields(logrus.Fields{
			"added":   lu.CasesAdded,
			"updated": lu.CasesUpdated,
			"failed":  lu.CasesFailed,
		}).Info("Requested ingestion finished")
	}()
}
