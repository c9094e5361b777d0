package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"validation", Field("status", "invalid"), http.StatusBadRequest},
		{"wrapped validation", fmt.Errorf("create: %w", Validation("bad date")), http.StatusBadRequest},
		{"forbidden", Forbidden("students cannot mark attendance"), http.StatusForbidden},
		{"not found", NotFound("course"), http.StatusNotFound},
		{"conflict", Conflict("duplicate"), http.StatusConflict},
		{"unsupported format", ErrUnsupportedFormat, http.StatusBadRequest},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Status(tt.err))
		})
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Fields: []FieldError{
		{Field: "start_date", Error: "required"},
		{Field: "end_date", Error: "must not be before start_date"},
	}}
	assert.Equal(t, "start_date: required; end_date: must not be before start_date", err.Error())
	assert.Len(t, Fields(fmt.Errorf("wrap: %w", err)), 2)
	assert.Nil(t, Fields(errors.New("plain")))
	assert.Equal(t, "course not found", NotFound("course").Error())
}
