package store

import (
	"context"
	"errors"

	"rollbook/internal/model"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique constraint rejects a write.
	ErrDuplicate = errors.New("duplicate key")
)

// Directory mirrors users owned by the identity provider.
type Directory interface {
	SyncUser(ctx context.Context, u model.User) error
	GetUser(ctx context.Context, id string) (model.User, error)
	ListUsers(ctx context.Context, role model.Role) ([]model.User, error)
}

// Courses persists the course registry and enrollment sets.
type Courses interface {
	CreateCourse(ctx context.Context, c model.Course) (model.Course, error)
	UpdateCourse(ctx context.Context, c model.Course) (model.Course, error)
	DeleteCourse(ctx context.Context, id string) error
	GetCourse(ctx context.Context, id string) (model.Course, error)
	ListCourses(ctx context.Context, f model.CourseFilter) ([]model.Course, error)
	CourseCodeTaken(ctx context.Context, code, exceptID string) (bool, error)
}

// Ledger persists attendance records. UpsertRecord is atomic per
// (user, course, date) key and reports whether a row was created.
type Ledger interface {
	InsertRecord(ctx context.Context, r model.Record) (model.Record, error)
	UpsertRecord(ctx context.Context, r model.Record) (model.Record, bool, error)
	UpdateRecord(ctx context.Context, r model.Record) (model.Record, error)
	GetRecord(ctx context.Context, id string) (model.Record, error)
	DeleteRecord(ctx context.Context, id string) error
	ListRecords(ctx context.Context, f model.RecordFilter) ([]model.Record, error)
}

// Reports persists report metadata.
type Reports interface {
	CreateReport(ctx context.Context, r model.Report) (model.Report, error)
	GetReport(ctx context.Context, id string) (model.Report, error)
	ListReports(ctx context.Context, f model.ReportFilter) ([]model.Report, error)
	DeleteReport(ctx context.Context, id string) error
	SetReportFile(ctx context.Context, id, ref string) error
}

// Store is the full persistence surface used by the services.
type Store interface {
	Directory
	Courses
	Ledger
	Reports
	Ping(ctx context.Context) error
}
