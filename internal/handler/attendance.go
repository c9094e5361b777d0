package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"rollbook/internal/apperr"
	"rollbook/internal/attendance"
	"rollbook/internal/model"
)

type recordRequest struct {
	User    string       `json:"user" binding:"required"`
	Course  string       `json:"course" binding:"required"`
	Date    string       `json:"date" binding:"required"`
	Status  model.Status `json:"status" binding:"required,attendance_status"`
	Remarks string       `json:"remarks" binding:"max=1000"`
}

type recordUpdate struct {
	Date    *string       `json:"date"`
	Status  *model.Status `json:"status" binding:"required,attendance_status"`
	Remarks *string       `json:"remarks" binding:"omitempty,max=1000"`
}

type bulkRequest struct {
	Course         string            `json:"course" binding:"required"`
	Date           string            `json:"date" binding:"required"`
	AttendanceData []json.RawMessage `json:"attendance_data" binding:"required,min=1"`
}

type bulkResponse struct {
	Message string `json:"message"`
	attendance.BulkResult
}

func (h *Handler) listAttendance(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	q := attendance.Query{
		UserID:    c.Query("user"),
		CourseID:  c.Query("course"),
		Date:      c.Query("date"),
		StartDate: c.Query("start_date"),
		EndDate:   c.Query("end_date"),
	}
	var verr apperr.ValidationError
	q.Limit = intQuery(c, &verr, "limit")
	q.Offset = intQuery(c, &verr, "offset")
	if err := verr.OrNil(); err != nil {
		h.respondError(c, err)
		return
	}
	records, err := h.Attendance.List(c.Request.Context(), p, q)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

func (h *Handler) getAttendance(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	rec, err := h.Attendance.Get(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) createAttendance(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req recordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, bindError(err))
		return
	}
	rec, err := h.Attendance.Create(c.Request.Context(), p, attendance.Input{
		UserID:   req.User,
		CourseID: req.Course,
		Date:     req.Date,
		Status:   req.Status,
		Remarks:  req.Remarks,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (h *Handler) updateAttendance(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req recordUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, bindError(err))
		return
	}
	rec, err := h.Attendance.Update(c.Request.Context(), p, c.Param("id"), attendance.Patch{
		Date:    req.Date,
		Status:  req.Status,
		Remarks: req.Remarks,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) deleteAttendance(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	if err := h.Attendance.Delete(c.Request.Context(), p, c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) bulkAttendance(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, bindError(err))
		return
	}
	items := make([]attendance.BulkItem, len(req.AttendanceData))
	for i, raw := range req.AttendanceData {
		items[i] = attendance.DecodeBulkItem(raw)
	}
	res, err := h.Attendance.BulkUpsert(c.Request.Context(), p, attendance.BulkRequest{
		CourseID: req.Course,
		Date:     req.Date,
		Items:    items,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, bulkResponse{Message: "Bulk attendance processed", BulkResult: res})
}

func (h *Handler) attendanceStats(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	st, err := h.Attendance.Stats(c.Request.Context(), p, c.Query("user_id"), c.Query("course_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func intQuery(c *gin.Context, verr *apperr.ValidationError, key string) int {
	raw := c.Query(key)
	if raw == "" {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		verr.Add(key, "A valid integer is required.")
	}
	return v
}
