package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"PageHarvester/internal/domain"
	"PageHarvester/internal/infrastructure/parser"
	"PageHarvester/internal/infrastructure/report"
	"PageHarvester/internal/jobspec"
	"PageHarvester/internal/ports"
)

const (
	defaultRecordLimit = 100
	defaultLogLimit    = 50
	maxBodyBytes       = 4 << 20
)

type handler struct {
	Deps
	logger *slog.Logger
	now    func() time.Time
}

func newHandler(deps Deps) *handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.RunContext == nil {
		deps.RunContext = context.Background()
	}
	return &handler{Deps: deps, logger: logger.With("component", "api"), now: time.Now}
}

type pinger interface {
	Ping(ctx context.Context) error
}

func (h *handler) health(c *gin.Context) {
	if p, ok := h.Store.(pinger); ok {
		if err := p.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "time": h.now().UTC()})
}

func (h *handler) stats(c *gin.Context) {
	stats, err := h.Store.Stats(c.Request.Context(), h.now())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *handler) listJobs(c *gin.Context) {
	jobs, err := h.Store.ListJobs(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	if jobs == nil {
		jobs = []domain.Job{}
	}
	c.JSON(http.StatusOK, jobs)
}

func (h *handler) getJob(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	job, err := h.Store.GetJob(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *handler) createJob(c *gin.Context) {
	job, ok := h.decodeJob(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	id, err := h.Store.CreateJob(ctx, job)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.reload(ctx, id)
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *handler) updateJob(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	job, ok := h.decodeJob(c)
	if !ok {
		return
	}
	job.ID = id
	ctx := c.Request.Context()
	if err := h.Store.UpdateJob(ctx, job); err != nil {
		h.fail(c, err)
		return
	}
	h.reload(ctx, id)
	c.JSON(http.StatusOK, gin.H{"id": id})
}

func (h *handler) deleteJob(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := h.Store.DeleteJob(ctx, id); err != nil {
		h.fail(c, err)
		return
	}
	h.reload(ctx, id)
	c.Status(http.StatusNoContent)
}

func (h *handler) toggleJob(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	job, err := h.Store.GetJob(ctx, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	job.Active = !job.Active
	if err := h.Store.UpdateJob(ctx, job); err != nil {
		h.fail(c, err)
		return
	}
	h.reload(ctx, id)
	c.JSON(http.StatusOK, gin.H{"id": id, "active": job.Active})
}

func (h *handler) runJob(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	if h.Pipeline == nil {
		unavailable(c, "pipeline")
		return
	}
	if _, err := h.Store.GetJob(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	progress := h.Pipeline.StartJob(h.RunContext, id)
	c.JSON(http.StatusAccepted, gin.H{"run_id": progress.RunID(), "job_id": id})
}

func (h *handler) getRun(c *gin.Context) {
	if h.Pipeline == nil {
		unavailable(c, "pipeline")
		return
	}
	snap, ok := h.Pipeline.Progress(c.Param("runID"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown run"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *handler) listRecords(c *gin.Context) {
	records, ok := h.records(c, defaultRecordLimit)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, records)
}

func (h *handler) exportRecords(c *gin.Context) {
	records, ok := h.records(c, 0)
	if !ok {
		return
	}
	data, err := report.RecordsXLSX(records)
	if err != nil {
		h.fail(c, err)
		return
	}
	name := fmt.Sprintf("job_%s_records.xlsx", c.Param("id"))
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

func (h *handler) records(c *gin.Context, defLimit int) ([]domain.StoredRecord, bool) {
	id, ok := jobID(c)
	if !ok {
		return nil, false
	}
	limit, ok := queryLimit(c, defLimit)
	if !ok {
		return nil, false
	}
	ctx := c.Request.Context()
	if _, err := h.Store.GetJob(ctx, id); err != nil {
		h.fail(c, err)
		return nil, false
	}
	records, err := h.Store.ListRecords(ctx, id, limit)
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	if records == nil {
		records = []domain.StoredRecord{}
	}
	return records, true
}

func (h *handler) listLogs(c *gin.Context) {
	var id int64
	if c.Param("id") != "" {
		var ok bool
		if id, ok = jobID(c); !ok {
			return
		}
	}
	limit, ok := queryLimit(c, defaultLogLimit)
	if !ok {
		return
	}
	logs, err := h.Store.ListExecutionLogs(c.Request.Context(), id, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	if logs == nil {
		logs = []domain.ExecutionLog{}
	}
	c.JSON(http.StatusOK, logs)
}

type telegramTestRequest struct {
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
	Message  string `json:"message"`
}

func (h *handler) testTelegram(c *gin.Context) {
	if h.Notifier == nil {
		unavailable(c, "telegram")
		return
	}
	var req telegramTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	bot, err := h.Notifier.TestConnection(ctx, req.BotToken)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}
	resp := gin.H{"success": true, "bot": bot}
	if req.ChatID != "" {
		text := req.Message
		if text == "" {
			text = "PageHarvester test message"
		}
		target := domain.TelegramTarget{BotToken: req.BotToken, ChatID: req.ChatID}
		messageID, err := h.Notifier.Send(ctx, target, text)
		if err != nil {
			resp["success"] = false
			resp["error"] = err.Error()
		} else {
			resp["message_id"] = messageID
		}
	}
	c.JSON(http.StatusOK, resp)
}

type actionsTestRequest struct {
	Actions []domain.Action `json:"actions"`
}

func (h *handler) testActions(c *gin.Context) {
	if h.Actions == nil {
		unavailable(c, "action executor")
		return
	}
	var req actionsTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if len(req.Actions) == 0 {
		badRequest(c, errors.New("no actions given"))
		return
	}
	res, err := h.Actions.Execute(c.Request.Context(), req.Actions)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// selectorTestRequest probes Selector, or FieldSelector inside
// ContainerSelector when FieldSelector is set. HTML overrides the live page.
type selectorTestRequest struct {
	HTML              string `json:"html"`
	Selector          string `json:"selector"`
	ContainerSelector string `json:"container_selector"`
	FieldName         string `json:"field_name"`
	FieldSelector     string `json:"field_selector"`
}

func (h *handler) testSelector(c *gin.Context) {
	var req selectorTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	live := req.HTML == ""
	if live && h.Prober == nil {
		unavailable(c, "browser")
		return
	}

	if req.FieldSelector != "" {
		if req.ContainerSelector == "" {
			badRequest(c, errors.New("container_selector is required with field_selector"))
			return
		}
		var (
			rep parser.FieldReport
			err error
		)
		if live {
			rep, err = h.Prober.ProbeFieldSelectorLive(ctx, req.ContainerSelector, req.FieldName, req.FieldSelector)
		} else {
			rep, err = parser.ProbeFieldSelector(req.HTML, req.ContainerSelector, req.FieldName, req.FieldSelector)
		}
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, rep)
		return
	}

	selector := req.Selector
	if selector == "" {
		selector = req.ContainerSelector
	}
	if selector == "" {
		badRequest(c, errors.New("selector is required"))
		return
	}
	var (
		rep parser.SelectorReport
		err error
	)
	if live {
		rep, err = h.Prober.ProbeSelectorLive(ctx, selector)
	} else {
		rep, err = parser.ProbeSelector(req.HTML, selector)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (h *handler) testExtraction(c *gin.Context) {
	if h.Pipeline == nil {
		unavailable(c, "pipeline")
		return
	}
	job, ok := h.decodeJob(c)
	if !ok {
		return
	}
	if raw := c.Query("job_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			badRequest(c, fmt.Errorf("invalid job_id %q", raw))
			return
		}
		job.ID = id
	}
	preview, err := h.Pipeline.DryRun(c.Request.Context(), job)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "preview": preview})
		return
	}
	c.JSON(http.StatusOK, preview)
}

type suggestRequest struct {
	HTML    string            `json:"html"`
	Example map[string]string `json:"example"`
	APIKey  string            `json:"api_key"`
}

func (h *handler) suggestSelectors(c *gin.Context) {
	if h.Suggester == nil {
		unavailable(c, "selector suggestions")
		return
	}
	var req suggestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	if req.HTML == "" {
		if h.Prober == nil {
			badRequest(c, errors.New("html is required when no browser is connected"))
			return
		}
		html, err := h.Prober.PageHTML(ctx)
		if err != nil {
			h.fail(c, err)
			return
		}
		req.HTML = html
	}
	suggester, err := h.Suggester(req.APIKey)
	if err != nil {
		h.fail(c, err)
		return
	}
	suggestion, err := suggester.SuggestSelectors(ctx, req.HTML, req.Example)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, suggestion)
}

func (h *handler) decodeJob(c *gin.Context) (domain.Job, bool) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		badRequest(c, err)
		return domain.Job{}, false
	}
	job, err := jobspec.DecodeJSON(body)
	if err != nil {
		badRequest(c, err)
		return domain.Job{}, false
	}
	return job, true
}

func (h *handler) reload(ctx context.Context, id int64) {
	if h.Scheduler == nil {
		return
	}
	if err := h.Scheduler.ReloadJob(ctx, id); err != nil {
		h.logger.Error("reload job schedule", "job_id", id, "error", err)
	}
}

func (h *handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ports.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ports.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, context.Canceled):
		return 499
	}
	switch domain.KindOf(err) {
	case domain.KindConfig:
		return http.StatusBadRequest
	case domain.KindExtractionEmpty:
		return http.StatusUnprocessableEntity
	case domain.KindTransient, domain.KindDelivery:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func jobID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return 0, false
	}
	return id, true
}

func queryLimit(c *gin.Context, def int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return 0, false
	}
	return n, true
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func unavailable(c *gin.Context, what string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": what + " is not configured"})
}
