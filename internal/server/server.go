package server

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zgpcy/cloud-cost-monitor/internal/collector"
	"github.com/zgpcy/cloud-cost-monitor/internal/config"
	"github.com/zgpcy/cloud-cost-monitor/internal/engine"
	"github.com/zgpcy/cloud-cost-monitor/internal/logger"
	"github.com/zgpcy/cloud-cost-monitor/internal/monitor"
	"github.com/zgpcy/cloud-cost-monitor/internal/provider"
	"github.com/zgpcy/cloud-cost-monitor/internal/render"
)

//go:embed templates/index.html
var indexTemplate string

var indexPage = template.Must(template.New("index").Parse(indexTemplate))

// HTTP server timeout constants
const (
	DefaultReadTimeout  = 15 * time.Second // Maximum duration for reading the entire request
	DefaultWriteTimeout = 15 * time.Second // Maximum duration before timing out writes of the response
	DefaultIdleTimeout  = 60 * time.Second // Maximum amount of time to wait for the next request
)

// indexPageData holds template data for the index page
type indexPageData struct {
	StatusClass     string
	StatusText      string
	LastRefresh     string
	RefreshInterval int
	TotalCost       string
	Period          string
	DataPoints      int
	AlertSummary    string
	Providers       []engine.ProviderStatus
}

// summaryResponse is the /api/summary payload
type summaryResponse struct {
	*engine.Report
	Budgets   []monitor.BudgetStatus `json:"budgets,omitempty"`
	Anomalies []monitor.Anomaly      `json:"anomalies,omitempty"`
}

// dailyCost is one entry of /api/summary/daily
type dailyCost struct {
	Date              string             `json:"date"`
	Cost              float64            `json:"cost"`
	Currency          string             `json:"currency"`
	ProviderBreakdown map[string]float64 `json:"provider_breakdown,omitempty"`
}

// alertSummaryResponse is the /api/alerts/summary payload
type alertSummaryResponse struct {
	monitor.Summary
	Text string `json:"text"`
}

// Server represents the HTTP server
type Server struct {
	server *http.Server
	echo   *echo.Echo
	engine *engine.Service
	cfg    *config.Config
	logger *logger.Logger
}

// NewServer creates a new HTTP server. Metrics are served from gatherer.
func NewServer(cfg *config.Config, svc *engine.Service, gatherer prometheus.Gatherer, log *logger.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
			Handler:      e,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
			IdleTimeout:  DefaultIdleTimeout,
		},
		echo:   e,
		engine: svc,
		cfg:    cfg,
		logger: log,
	}

	// Register handlers
	e.GET("/", s.handleIndex)
	e.GET("/health", s.handleHealth)
	e.GET("/ready", s.handleReady)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := e.Group("/api")
	api.GET("/summary", s.handleSummary)
	api.GET("/summary/daily", s.handleDaily)
	api.GET("/alerts", s.handleAlerts)
	api.GET("/alerts/summary", s.handleAlertSummary)
	api.POST("/alerts/:id/acknowledge", s.handleAcknowledge)
	api.POST("/alerts/:id/resolve", s.handleResolve)
	api.GET("/providers", s.handleProviders)

	return s
}

// Handler returns the HTTP handler serving every route
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", "address", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func apiError(c echo.Context, code int, message string, err error) error {
	body := map[string]any{"message": message}
	if err != nil {
		body["error"] = err.Error()
	}
	return c.JSON(code, body)
}

// handleIndex serves a simple landing page
func (s *Server) handleIndex(c echo.Context) error {
	statusClass := "not-ready"
	statusText := "Not Ready"
	if s.engine.IsReady() {
		statusClass = "ready"
		statusText = "Ready"
	}

	lastRefresh := s.engine.LastRefreshTime()
	lastRefreshText := "Never"
	if !lastRefresh.IsZero() {
		lastRefreshText = lastRefresh.Format("2006-01-02 15:04:05 MST")
	}

	data := indexPageData{
		StatusClass:     statusClass,
		StatusText:      statusText,
		LastRefresh:     lastRefreshText,
		RefreshInterval: s.cfg.RefreshInterval,
		TotalCost:       "n/a",
		Period:          "n/a",
		DataPoints:      s.engine.DataPointCount(),
		AlertSummary:    render.AlertSummary(s.engine.ActiveAlerts()),
		Providers:       s.engine.ProviderStatuses(),
	}
	if report := s.engine.LastReport(); report != nil && report.Summary != nil {
		data.TotalCost = fmt.Sprintf("%.2f %s", report.Summary.TotalCost, report.Summary.Currency)
		data.Period = report.Summary.PeriodStart.Format(provider.DateLayout) + " to " + report.Summary.PeriodEnd.Format(provider.DateLayout)
	}

	var b strings.Builder
	if err := indexPage.Execute(&b, data); err != nil {
		s.logger.Error("Failed to execute index template", "error", err)
		return c.String(http.StatusInternalServerError, "Internal Server Error")
	}
	return c.HTML(http.StatusOK, b.String())
}

// handleHealth handles health check requests (always returns 200 for liveness)
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

// handleReady handles readiness check requests (returns 200 only when data is loaded)
func (s *Server) handleReady(c echo.Context) error {
	if !s.engine.IsReady() {
		if err := s.engine.LastError(); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
		}
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "not ready", "message": "waiting for initial data fetch"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
}

// handleSummary returns the cached report, or runs a fresh cycle when any
// of providers, start, end or currency is given
func (s *Server) handleSummary(c echo.Context) error {
	ctx := c.Request().Context()

	var (
		report *engine.Report
		err    error
	)
	if hasSummaryQuery(c) {
		report, err = s.summaryFromQuery(c)
		if err != nil && report == nil {
			var bad badRequest
			if errors.As(err, &bad) || errors.Is(err, engine.ErrUnknownProvider) {
				return apiError(c, http.StatusBadRequest, "invalid summary query", err)
			}
			return apiError(c, http.StatusInternalServerError, "failed to build summary", err)
		}
		if errors.Is(err, collector.ErrNoDataAvailable) {
			return c.JSON(http.StatusServiceUnavailable, summaryResponse{Report: report})
		}
	} else {
		report = s.engine.LastReport()
		if report == nil {
			return apiError(c, http.StatusServiceUnavailable, "no cost data available yet", s.engine.LastError())
		}
	}

	resp := summaryResponse{Report: report}
	resp.Budgets, err = s.engine.BudgetStatuses(ctx, report)
	switch {
	case errors.Is(err, engine.ErrCurrencyMismatch):
		s.logger.Debug("Skipping budget status", "error", err)
	case err != nil:
		s.logger.Warn("Failed to compute budget status", "error", err)
	}
	if resp.Anomalies, err = s.engine.Anomalies(ctx, report); err != nil {
		s.logger.Warn("Failed to detect anomalies", "error", err)
	}
	return c.JSON(http.StatusOK, resp)
}

// badRequest marks a query parameter error
type badRequest struct{ error }

func hasSummaryQuery(c echo.Context) bool {
	for _, name := range []string{"providers", "start", "end", "currency"} {
		if c.QueryParam(name) != "" {
			return true
		}
	}
	return false
}

// summaryFromQuery runs GetCombinedSummary with the request's query
// parameters, defaulting to the configured window and currency
func (s *Server) summaryFromQuery(c echo.Context) (*engine.Report, error) {
	start, end := s.cfg.DateRange.Range(time.Now())

	if v := c.QueryParam("start"); v != "" {
		t, err := time.Parse(provider.DateLayout, v)
		if err != nil {
			return nil, badRequest{fmt.Errorf("invalid start date %q", v)}
		}
		start = t
	}
	if v := c.QueryParam("end"); v != "" {
		t, err := time.Parse(provider.DateLayout, v)
		if err != nil {
			return nil, badRequest{fmt.Errorf("invalid end date %q", v)}
		}
		end = t
	}
	if end.Before(start) {
		return nil, badRequest{fmt.Errorf("end date %s is before start date %s", end.Format(provider.DateLayout), start.Format(provider.DateLayout))}
	}

	var providers []provider.ProviderType
	if v := c.QueryParam("providers"); v != "" {
		for _, name := range strings.Split(v, ",") {
			p, err := provider.ParseProviderType(name)
			if err != nil {
				return nil, badRequest{err}
			}
			providers = append(providers, p)
		}
	}

	return s.engine.GetCombinedSummary(c.Request().Context(), providers, start, end, c.QueryParam("currency"))
}

// handleDaily returns the daily totals of the cached report, optionally for one provider
func (s *Server) handleDaily(c echo.Context) error {
	report := s.engine.LastReport()
	if report == nil || report.Summary == nil {
		return apiError(c, http.StatusServiceUnavailable, "no cost data available yet", s.engine.LastError())
	}

	p := c.QueryParam("provider")
	if p != "" {
		if _, ok := report.Summary.ProviderBreakdown[p]; !ok {
			return apiError(c, http.StatusNotFound, fmt.Sprintf("no data for provider %q", p), nil)
		}
	}

	days := make([]dailyCost, 0, len(report.Summary.CombinedDailyCosts))
	for _, d := range report.Summary.CombinedDailyCosts {
		entry := dailyCost{Date: d.Date, Currency: d.Currency}
		if p != "" {
			entry.Cost = d.ProviderBreakdown[p]
		} else {
			entry.Cost = d.TotalCost
			entry.ProviderBreakdown = d.ProviderBreakdown
		}
		days = append(days, entry)
	}
	return c.JSON(http.StatusOK, days)
}

// handleAlerts lists alerts. state=all includes acknowledged and resolved alerts.
func (s *Server) handleAlerts(c echo.Context) error {
	by, err := render.ParseSortBy(c.QueryParam("sort"))
	if err != nil {
		return apiError(c, http.StatusBadRequest, "invalid sort", err)
	}

	var levels []monitor.Level
	if v := c.QueryParam("level"); v != "" {
		level, err := monitor.ParseLevel(v)
		if err != nil {
			return apiError(c, http.StatusBadRequest, "invalid level", err)
		}
		levels = append(levels, level)
	}

	var alerts []monitor.Alert
	switch state := c.QueryParam("state"); state {
	case "", "active":
		alerts = s.engine.ActiveAlerts(levels...)
	case "all":
		for _, a := range s.engine.Monitor().AllAlerts() {
			if len(levels) == 0 || a.Level == levels[0] {
				alerts = append(alerts, a)
			}
		}
	default:
		return apiError(c, http.StatusBadRequest, fmt.Sprintf("unknown state %q", state), nil)
	}

	sorted := render.SortAlerts(alerts, by)
	if sorted == nil {
		sorted = []monitor.Alert{}
	}
	return c.JSON(http.StatusOK, sorted)
}

// handleAlertSummary returns alert counts by level and provider
func (s *Server) handleAlertSummary(c echo.Context) error {
	return c.JSON(http.StatusOK, alertSummaryResponse{
		Summary: s.engine.Monitor().Summary(),
		Text:    render.AlertSummary(s.engine.ActiveAlerts()),
	})
}

func (s *Server) handleAcknowledge(c echo.Context) error {
	return s.updateAlert(c, "acknowledge", s.engine.Monitor().Acknowledge)
}

func (s *Server) handleResolve(c echo.Context) error {
	return s.updateAlert(c, "resolve", s.engine.Monitor().Resolve)
}

// updateAlert applies fn to the alert named in the path and returns it
func (s *Server) updateAlert(c echo.Context, action string, fn func(id string) error) error {
	id := c.Param("id")
	if err := fn(id); err != nil {
		if errors.Is(err, monitor.ErrAlertNotFound) {
			return apiError(c, http.StatusNotFound, "alert not found", err)
		}
		return apiError(c, http.StatusInternalServerError, "failed to "+action+" alert", err)
	}

	alert, err := s.engine.Monitor().Get(id)
	if err != nil {
		return apiError(c, http.StatusInternalServerError, "failed to load alert", err)
	}
	s.logger.Info("Alert updated", "id", id, "action", action, "provider", alert.Provider, "level", alert.Level)
	return c.JSON(http.StatusOK, alert)
}

// handleProviders returns per-provider status including the last error
func (s *Server) handleProviders(c echo.Context) error {
	return c.JSON(http.StatusOK, s.engine.ProviderStatuses())
}
