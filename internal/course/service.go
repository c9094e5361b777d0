// Package course manages the course registry and its enrollment sets.
package course

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"rollbook/internal/apperr"
	"rollbook/internal/auth"
	"rollbook/internal/model"
	"rollbook/internal/store"
)

// Input is the writable part of a course.
type Input struct {
	Code        string
	Name        string
	Description string
	TeacherID   string
	StudentIDs  []string
	IsActive    *bool
}

// Service applies role rules on top of the course store.
type Service struct {
	store store.Store
	log   *zap.Logger
}

// NewService creates a course service.
func NewService(s store.Store, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: s, log: log}
}

// NormalizeCode trims and upper-cases a course code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Visible reports whether p may see c.
func Visible(p auth.Principal, c model.Course) bool {
	switch p.Role {
	case model.RoleAdmin:
		return true
	case model.RoleClassTeacher:
		return c.TeacherID == p.ID
	case model.RoleStudent:
		return c.Enrolled(p.ID)
	default:
		return false
	}
}

// List returns the courses visible to p.
func (s *Service) List(ctx context.Context, p auth.Principal, includeInactive bool) ([]model.Course, error) {
	f := model.CourseFilter{IncludeInactive: includeInactive}
	switch p.Role {
	case model.RoleAdmin:
	case model.RoleClassTeacher:
		f.TeacherID = p.ID
	case model.RoleStudent:
		f.StudentID = p.ID
	default:
		return nil, apperr.Forbidden("unknown role")
	}
	return s.store.ListCourses(ctx, f)
}

// Get returns a course when p may see it.
func (s *Service) Get(ctx context.Context, p auth.Principal, id string) (model.Course, error) {
	c, err := s.store.GetCourse(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.Course{}, apperr.NotFound("course")
	}
	if err != nil {
		return model.Course{}, err
	}
	if !Visible(p, c) {
		return model.Course{}, apperr.NotFound("course")
	}
	return c, nil
}

// Create registers a new course. Admin only.
func (s *Service) Create(ctx context.Context, p auth.Principal, in Input) (model.Course, error) {
	if !p.Is(model.RoleAdmin) {
		return model.Course{}, apperr.Forbidden("only admins can create courses")
	}
	c := model.Course{IsActive: true}
	if err := s.apply(ctx, &c, in); err != nil {
		return model.Course{}, err
	}
	created, err := s.store.CreateCourse(ctx, c)
	if err != nil {
		return model.Course{}, s.translate(err)
	}
	s.log.Info("course created", zap.String("course_id", created.ID), zap.String("code", created.Code), zap.String("by", p.ID))
	return created, nil
}

// Update replaces a course's fields and enrollment set. Admin only.
func (s *Service) Update(ctx context.Context, p auth.Principal, id string, in Input) (model.Course, error) {
	if !p.Is(model.RoleAdmin) {
		return model.Course{}, apperr.Forbidden("only admins can update courses")
	}
	c, err := s.store.GetCourse(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.Course{}, apperr.NotFound("course")
	}
	if err != nil {
		return model.Course{}, err
	}
	if err := s.apply(ctx, &c, in); err != nil {
		return model.Course{}, err
	}
	updated, err := s.store.UpdateCourse(ctx, c)
	if err != nil {
		return model.Course{}, s.translate(err)
	}
	s.log.Info("course updated", zap.String("course_id", id), zap.String("by", p.ID))
	return updated, nil
}

// Delete removes a course and, through the store, its attendance rows.
func (s *Service) Delete(ctx context.Context, p auth.Principal, id string) error {
	if !p.Is(model.RoleAdmin) {
		return apperr.Forbidden("only admins can delete courses")
	}
	if err := s.store.DeleteCourse(ctx, id); err != nil {
		return s.translate(err)
	}
	s.log.Info("course deleted", zap.String("course_id", id), zap.String("by", p.ID))
	return nil
}

// apply validates in and copies it onto c.
func (s *Service) apply(ctx context.Context, c *model.Course, in Input) error {
	var verr apperr.ValidationError

	code := NormalizeCode(in.Code)
	switch {
	case code == "":
		verr.Add("code", "This field is required.")
	case len(code) > 20:
		verr.Add("code", "Ensure this field has no more than 20 characters.")
	default:
		taken, err := s.store.CourseCodeTaken(ctx, code, c.ID)
		if err != nil {
			return err
		}
		if taken {
			verr.Add("code", "A course with this code already exists.")
		}
	}

	name := strings.TrimSpace(in.Name)
	switch {
	case name == "":
		verr.Add("name", "This field is required.")
	case len(name) > 200:
		verr.Add("name", "Ensure this field has no more than 200 characters.")
	}

	if in.TeacherID == "" {
		verr.Add("teacher", "This field is required.")
	} else if err := s.expectRole(ctx, in.TeacherID, model.RoleClassTeacher); err != nil {
		if !errors.As(err, new(*apperr.ValidationError)) {
			return err
		}
		verr.Add("teacher", "Teacher must have class_teacher role.")
	}

	students := dedupe(in.StudentIDs)
	for _, id := range students {
		if err := s.expectRole(ctx, id, model.RoleStudent); err != nil {
			if !errors.As(err, new(*apperr.ValidationError)) {
				return err
			}
			verr.Add("students", fmt.Sprintf("User %s is not a student.", id))
		}
	}

	if err := verr.OrNil(); err != nil {
		return err
	}
	c.Code = code
	c.Name = name
	c.Description = strings.TrimSpace(in.Description)
	c.TeacherID = in.TeacherID
	c.StudentIDs = students
	if in.IsActive != nil {
		c.IsActive = *in.IsActive
	}
	return nil
}

// expectRole returns a ValidationError when id is unknown or holds another role.
func (s *Service) expectRole(ctx context.Context, id string, role model.Role) error {
	u, err := s.store.GetUser(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.Validation("unknown user")
	}
	if err != nil {
		return err
	}
	if u.Role != role {
		return apperr.Validation("wrong role")
	}
	return nil
}

func (s *Service) translate(err error) error {
	switch {
	case errors.Is(err, store.ErrDuplicate):
		return apperr.Field("code", "A course with this code already exists.")
	case errors.Is(err, store.ErrNotFound):
		return apperr.NotFound("course")
	default:
		return err
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
