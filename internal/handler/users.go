package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rollbook/internal/apperr"
	"rollbook/internal/model"
)

// listUsers serves the mirrored directory. Admins see everyone; class
// teachers see students and themselves.
func (h *Handler) listUsers(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var role model.Role
	if raw := c.Query("role"); raw != "" {
		r, ok := model.ParseRole(raw)
		if !ok {
			h.respondError(c, apperr.Field("role", "Unknown role."))
			return
		}
		role = r
	}
	ctx := c.Request.Context()

	switch p.Role {
	case model.RoleAdmin:
		users, err := h.Users.ListUsers(ctx, role)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, users)
	case model.RoleClassTeacher:
		users := []model.User{}
		if role == "" || role == model.RoleClassTeacher {
			self, err := h.Users.GetUser(ctx, p.ID)
			if err != nil {
				h.respondError(c, err)
				return
			}
			users = append(users, self)
		}
		if role == "" || role == model.RoleStudent {
			students, err := h.Users.ListUsers(ctx, model.RoleStudent)
			if err != nil {
				h.respondError(c, err)
				return
			}
			users = append(users, students...)
		}
		c.JSON(http.StatusOK, users)
	default:
		h.respondError(c, apperr.Forbidden("only admins and class teachers can list users"))
	}
}
