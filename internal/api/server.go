// Package api serves the dashboard JSON API.
package api

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"PageHarvester/internal/actions"
	"PageHarvester/internal/domain"
	"PageHarvester/internal/infrastructure/parser"
	"PageHarvester/internal/ports"
	"PageHarvester/internal/usecase"
)

// Reloader re-registers a job with the scheduler after it changed.
type Reloader interface {
	ReloadJob(ctx context.Context, jobID int64) error
}

// ActionRunner executes pre-extraction actions on demand.
type ActionRunner interface {
	Execute(ctx context.Context, list []domain.Action) (actions.Result, error)
}

// SelectorProber evaluates selectors against the page open in the browser.
type SelectorProber interface {
	ProbeSelectorLive(ctx context.Context, selector string) (parser.SelectorReport, error)
	ProbeFieldSelectorLive(ctx context.Context, containerSelector, fieldName, fieldSelector string) (parser.FieldReport, error)
	PageHTML(ctx context.Context) (string, error)
}

// SuggesterFactory builds a selector suggester. An empty apiKey means the
// configured default.
type SuggesterFactory func(apiKey string) (ports.SelectorSuggester, error)

// Deps holds everything the handlers call into. Optional collaborators may be
// nil; their endpoints then answer 503.
type Deps struct {
	Store     ports.Store
	Pipeline  *usecase.Pipeline
	Scheduler Reloader
	Actions   ActionRunner
	Prober    SelectorProber
	Notifier  ports.Notifier
	Suggester SuggesterFactory
	Metrics   http.Handler
	APIKey    string
	Logger    *slog.Logger
	// RunContext bounds runs started from the API; it outlives requests.
	RunContext context.Context
}

// NewRouter creates the gin engine with every route configured.
func NewRouter(deps Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	h := newHandler(deps)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(loggerMiddleware(h.logger))

	r.GET("/health", h.health)
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	api := r.Group("/api")
	if deps.APIKey != "" {
		api.Use(authMiddleware(deps.APIKey))
	}
	{
		api.GET("/stats", h.stats)

		api.GET("/jobs", h.listJobs)
		api.POST("/jobs", h.createJob)
		api.GET("/jobs/:id", h.getJob)
		api.PUT("/jobs/:id", h.updateJob)
		api.DELETE("/jobs/:id", h.deleteJob)
		api.POST("/jobs/:id/toggle", h.toggleJob)
		api.POST("/jobs/:id/run", h.runJob)
		api.GET("/jobs/:id/records", h.listRecords)
		api.GET("/jobs/:id/export", h.exportRecords)
		api.GET("/jobs/:id/logs", h.listLogs)
		api.GET("/logs", h.listLogs)
		api.GET("/runs/:runID", h.getRun)

		api.POST("/test/telegram", h.testTelegram)
		api.POST("/test/actions", h.testActions)
		api.POST("/test/selector", h.testSelector)
		api.POST("/test/extraction", h.testExtraction)
		api.POST("/selectors/suggest", h.suggestSelectors)
	}
	return r
}

// NewServer wraps the router in an http.Server with conservative timeouts.
func NewServer(addr string, handler http.Handler, errorLog *log.Logger) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Dry runs and suggestions drive the browser and can take a while.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     errorLog,
	}
}

func loggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()

		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			logger.Error("http request", append(attrs, "errors", c.Errors.String())...)
			return
		}
		if strings.HasPrefix(path, "/health") || path == "/metrics" {
			logger.Debug("http request", attrs...)
			return
		}
		logger.Info("http request", attrs...)
	}
}

// authMiddleware accepts the key in X-API-Key or as a Bearer token.
func authMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		provided := c.GetHeader("X-API-Key")
		if provided == "" {
			if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				provided = strings.TrimPrefix(auth, "Bearer ")
			}
		}
		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "API key required",
			})
			return
		}
		if provided != apiKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid API key",
			})
			return
		}
		c.Next()
	}
}
