package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"rollbook/internal/apperr"
	"rollbook/internal/course"
)

type courseRequest struct {
	Code        string   `json:"code"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Teacher     string   `json:"teacher"`
	Students    []string `json:"students"`
	IsActive    *bool    `json:"is_active"`
}

func (r courseRequest) input() course.Input {
	return course.Input{
		Code:        r.Code,
		Name:        r.Name,
		Description: r.Description,
		TeacherID:   r.Teacher,
		StudentIDs:  r.Students,
		IsActive:    r.IsActive,
	}
}

func (h *Handler) listCourses(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	includeInactive := false
	if raw := c.Query("include_inactive"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			h.respondError(c, apperr.Field("include_inactive", "Must be a boolean."))
			return
		}
		includeInactive = v
	}
	courses, err := h.Courses.List(c.Request.Context(), p, includeInactive)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, courses)
}

func (h *Handler) getCourse(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	crs, err := h.Courses.Get(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, crs)
}

func (h *Handler) createCourse(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req courseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, bindError(err))
		return
	}
	crs, err := h.Courses.Create(c.Request.Context(), p, req.input())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, crs)
}

func (h *Handler) updateCourse(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req courseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, bindError(err))
		return
	}
	crs, err := h.Courses.Update(c.Request.Context(), p, c.Param("id"), req.input())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, crs)
}

func (h *Handler) deleteCourse(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	if err := h.Courses.Delete(c.Request.Context(), p, c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
