package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"rollbook/internal/model"
	"rollbook/internal/report"
)

type generateRequest struct {
	CourseID   string           `json:"course_id"`
	StartDate  string           `json:"start_date" binding:"required"`
	EndDate    string           `json:"end_date" binding:"required"`
	ReportType model.ReportType `json:"report_type" binding:"report_type"`
	Format     string           `json:"format" binding:"omitempty,oneof=csv excel pdf"`
}

func (h *Handler) dailySummary(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	sum, err := h.Reports.Daily(c.Request.Context(), p, c.Query("date"), c.Query("course_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (h *Handler) monthlySummary(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	sum, err := h.Reports.Monthly(c.Request.Context(), p, c.Query("year"), c.Query("month"), c.Query("course_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (h *Handler) generateReport(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, bindError(err))
		return
	}
	exp, err := h.Reports.Generate(c.Request.Context(), p, report.Request{
		CourseID:   req.CourseID,
		StartDate:  req.StartDate,
		EndDate:    req.EndDate,
		ReportType: req.ReportType,
		Format:     req.Format,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exp.Filename))
	c.Header("X-Report-ID", exp.Report.ID)
	c.Data(http.StatusOK, exp.ContentType, exp.Body)
}

func (h *Handler) listReports(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	reports, err := h.Reports.List(c.Request.Context(), p)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, reports)
}

func (h *Handler) getReport(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	r, err := h.Reports.Get(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *Handler) deleteReport(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	if err := h.Reports.Delete(c.Request.Context(), p, c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
