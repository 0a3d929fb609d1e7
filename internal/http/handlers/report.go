package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/lifeprint-backend/internal/domain/growth"
	"github.com/yungbote/lifeprint-backend/internal/http/response"
	"github.com/yungbote/lifeprint-backend/internal/modules/report"
	"github.com/yungbote/lifeprint-backend/internal/platform/apierr"
	"github.com/yungbote/lifeprint-backend/internal/platform/dbctx"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
	"github.com/yungbote/lifeprint-backend/internal/services"
)

// defaultTimelineMonths is the window shown when no range is requested.
const defaultTimelineMonths = 12

type ReportHandler struct {
	log     *logger.Logger
	reports services.ReportService
	now     func() time.Time
}

func NewReportHandler(log *logger.Logger, reports services.ReportService) *ReportHandler {
	return &ReportHandler{
		log:     logger.OrNop(log).With("handler", "ReportHandler"),
		reports: reports,
		now:     time.Now,
	}
}

type generateReportRequest struct {
	Month string `json:"month" form:"month"`
}

// POST /api/children/:id/reports
func (h *ReportHandler) Generate(c *gin.Context) {
	childID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req generateReportRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
			return
		}
	}
	if req.Month == "" {
		req.Month = c.Query("month")
	}
	month, err := monthValue(req.Month)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	res, err := h.reports.Generate(dbctx.Context{Ctx: c.Request.Context()}, childID, month)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	if res.InProgress {
		response.RespondAccepted(c, res)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	c.JSON(status, res)
}

// GET /api/children/:id/reports
func (h *ReportHandler) List(c *gin.Context) {
	childID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	list, err := h.reports.List(dbctx.Context{Ctx: c.Request.Context()}, childID)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"reports": list})
}

// GET /api/children/:id/reports/:month
func (h *ReportHandler) Get(c *gin.Context) {
	childID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	month, err := monthValue(c.Param("month"))
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	v, err := h.reports.Get(dbctx.Context{Ctx: c.Request.Context()}, childID, month)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, v)
}

// GET /api/children/:id/timeline?from=YYYY-MM&to=YYYY-MM
func (h *ReportHandler) Timeline(c *gin.Context) {
	childID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	from, err := monthValue(c.Query("from"))
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	to, err := monthValue(c.Query("to"))
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	if to.IsZero() {
		to = growth.MonthStart(h.now())
	}
	if from.IsZero() {
		from = to.AddDate(0, -(defaultTimelineMonths - 1), 0)
	}
	if from.After(to) {
		response.RespondErr(c, apierr.Invalid("from %s is after to %s", growth.MonthKey(from), growth.MonthKey(to)))
		return
	}
	months, err := h.reports.Timeline(dbctx.Context{Ctx: c.Request.Context()}, childID, from, to)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"months": months})
}

// GET /api/children/:id/metrics?type=focus_motor
func (h *ReportHandler) Metrics(c *gin.Context) {
	childID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	rows, err := h.reports.Metrics(dbctx.Context{Ctx: c.Request.Context()}, childID, strings.TrimSpace(c.Query("type")))
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"metrics": rows})
}

type recordMetricRequest struct {
	MetricType string     `json:"metric_type" binding:"required"`
	Value      float64    `json:"value"`
	MeasuredAt *time.Time `json:"measured_at"`
}

// POST /api/children/:id/metrics
func (h *ReportHandler) RecordMetric(c *gin.Context) {
	childID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req recordMetricRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	in := report.RecordMetricInput{ChildID: childID, MetricType: req.MetricType, Value: req.Value}
	if req.MeasuredAt != nil {
		in.MeasuredAt = *req.MeasuredAt
	}
	row, err := h.reports.RecordMetric(dbctx.Context{Ctx: c.Request.Context()}, in)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"metric": row})
}

// GET /api/children/:id/sparks
func (h *ReportHandler) Sparks(c *gin.Context) {
	childID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	cards, err := h.reports.Sparks(dbctx.Context{Ctx: c.Request.Context()}, childID)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"spark_cards": cards})
}

// GET /api/children/:id/initiative
func (h *ReportHandler) Initiative(c *gin.Context) {
	childID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	points, err := h.reports.Initiative(dbctx.Context{Ctx: c.Request.Context()}, childID)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"initiative": points})
}

// POST /api/reports/batch?month=YYYY-MM
func (h *ReportHandler) Batch(c *gin.Context) {
	month, err := monthValue(c.Query("month"))
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	job, err := h.reports.Batch(dbctx.Context{Ctx: c.Request.Context()}, month)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondAccepted(c, gin.H{"job": job})
}
