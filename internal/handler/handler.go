// Package handler exposes the services over HTTP with gin.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"rollbook/internal/apperr"
	"rollbook/internal/attendance"
	"rollbook/internal/auth"
	"rollbook/internal/course"
	"rollbook/internal/model"
	"rollbook/internal/report"
	"rollbook/internal/store"
)

// Handler holds the services behind the API routes.
type Handler struct {
	Courses    *course.Service
	Attendance *attendance.Service
	Reports    *report.Service
	Users      store.Directory
	Log        *zap.Logger
}

// Register mounts the API routes on g. g must already run auth.Bearer.
func (h *Handler) Register(g gin.IRouter) {
	g.GET("/courses/", h.listCourses)
	g.POST("/courses/", h.createCourse)
	g.GET("/courses/:id/", h.getCourse)
	g.PUT("/courses/:id/", h.updateCourse)
	g.DELETE("/courses/:id/", h.deleteCourse)

	g.GET("/attendance/", h.listAttendance)
	g.POST("/attendance/", h.createAttendance)
	g.POST("/attendance/bulk/", h.bulkAttendance)
	g.GET("/attendance/stats/", h.attendanceStats)
	g.GET("/attendance/:id/", h.getAttendance)
	g.PUT("/attendance/:id/", h.updateAttendance)
	g.DELETE("/attendance/:id/", h.deleteAttendance)

	// Students never reach the report or user directory handlers.
	staff := auth.RequireRoles(model.RoleAdmin, model.RoleClassTeacher)

	reports := g.Group("/reports", staff)
	reports.GET("/", h.listReports)
	reports.GET("/daily-summary/", h.dailySummary)
	reports.GET("/monthly-summary/", h.monthlySummary)
	reports.POST("/generate/", h.generateReport)
	reports.GET("/:id/", h.getReport)
	reports.DELETE("/:id/", h.deleteReport)

	g.GET("/users/", staff, h.listUsers)
}

// principal returns the caller or aborts with 401.
func principal(c *gin.Context) (auth.Principal, bool) {
	p, ok := auth.PrincipalFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
	}
	return p, ok
}

// respondError renders err with the status of its apperr class. Unexpected
// errors are logged and hidden from the caller.
func (h *Handler) respondError(c *gin.Context, err error) {
	status := apperr.Status(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		h.Log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}
	body := gin.H{"error": err.Error()}
	if fields := apperr.Fields(err); len(fields) > 0 {
		body["fields"] = fields
	}
	c.JSON(status, body)
}

// Check is a named dependency probe for /healthz.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// Health reports each check as a boolean and answers 503 when any fails.
func Health(checks ...Check) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		body := gin.H{"status": "ok"}
		status := http.StatusOK
		for _, chk := range checks {
			healthy := chk.Probe(ctx) == nil
			body[chk.Name] = healthy
			if !healthy {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
			}
		}
		c.JSON(status, body)
	}
}
