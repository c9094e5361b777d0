// Package model holds the domain entities shared by the store and services.
package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Role is the closed set of capabilities a principal can carry.
type Role string

const (
	RoleAdmin        Role = "admin"
	RoleClassTeacher Role = "class_teacher"
	RoleStudent      Role = "student"
)

// ParseRole maps a role claim to a Role. Legacy spellings of the teacher
// role are accepted.
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "admin":
		return RoleAdmin, true
	case "class_teacher", "class teacher", "teacher":
		return RoleClassTeacher, true
	case "student":
		return RoleStudent, true
	default:
		return "", false
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleClassTeacher, RoleStudent:
		return true
	default:
		return false
	}
}

// Status is the attendance state of a student on a day.
type Status string

const (
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
	StatusLate    Status = "late"
	StatusExcused Status = "excused"
)

// Statuses lists every valid status in display order.
var Statuses = []Status{StatusPresent, StatusAbsent, StatusLate, StatusExcused}

// Valid returns true when the status is a supported value.
func (s Status) Valid() bool {
	switch s {
	case StatusPresent, StatusAbsent, StatusLate, StatusExcused:
		return true
	default:
		return false
	}
}

// Display returns the human readable label.
func (s Status) Display() string {
	switch s {
	case StatusPresent:
		return "Present"
	case StatusAbsent:
		return "Absent"
	case StatusLate:
		return "Late"
	case StatusExcused:
		return "Excused"
	default:
		return string(s)
	}
}

// DateLayout is the wire format of calendar dates.
const DateLayout = "2006-01-02"

// Date is a calendar day without a time component.
type Date struct {
	time.Time
}

// NewDate builds a calendar day at UTC midnight.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, err
	}
	return Date{t}, nil
}

// DateOf returns the calendar day of t, keeping its wall clock date.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

func (d Date) String() string { return d.Format(DateLayout) }

// MarshalJSON renders the date as "YYYY-MM-DD".
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON parses "YYYY-MM-DD".
func (d *Date) UnmarshalJSON(b []byte) error {
	parsed, err := ParseDate(strings.Trim(string(b), `"`))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// User mirrors an identity owned by the external provider.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email,omitempty"`
	Role      Role      `json:"role"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DisplayName falls back to the username when no full name is known.
func (u User) DisplayName() string {
	if strings.TrimSpace(u.FullName) != "" {
		return u.FullName
	}
	return u.Username
}

// Course is a class students enroll in.
type Course struct {
	ID          string    `json:"id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	TeacherID   string    `json:"teacher"`
	TeacherName string    `json:"teacher_name"`
	StudentIDs  []string  `json:"students"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// StudentCount is derived from the enrollment set.
func (c Course) StudentCount() int { return len(c.StudentIDs) }

// Enrolled reports whether userID is in the course's student set.
func (c Course) Enrolled(userID string) bool {
	for _, id := range c.StudentIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Record is one ledger row: a student's status in a course on a date.
type Record struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user"`
	UserName     string    `json:"user_name"`
	Username     string    `json:"username"`
	CourseID     string    `json:"course"`
	CourseCode   string    `json:"course_code"`
	CourseName   string    `json:"course_name"`
	Date         Date      `json:"date"`
	Status       Status    `json:"status"`
	Remarks      string    `json:"remarks"`
	MarkedBy     *string   `json:"marked_by"`
	MarkedByName *string   `json:"marked_by_name"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RecordFilter scopes ledger queries. Empty fields do not filter.
// TeacherID restricts rows to courses taught by that user.
type RecordFilter struct {
	UserID    string
	CourseID  string
	TeacherID string
	Date      *Date
	From      *Date
	To        *Date
	Ascending bool
	Limit     int
	Offset    int
}

// CourseFilter scopes course listings.
type CourseFilter struct {
	TeacherID       string
	StudentID       string
	IncludeInactive bool
}

// ReportType classifies generated reports.
type ReportType string

const (
	ReportDaily   ReportType = "daily"
	ReportWeekly  ReportType = "weekly"
	ReportMonthly ReportType = "monthly"
	ReportCustom  ReportType = "custom"
)

// Valid returns true when the report type is known.
func (t ReportType) Valid() bool {
	switch t {
	case ReportDaily, ReportWeekly, ReportMonthly, ReportCustom:
		return true
	default:
		return false
	}
}

// Report is the metadata of a generated export.
type Report struct {
	ID              string     `json:"id"`
	GeneratedBy     *string    `json:"generated_by"`
	GeneratedByName *string    `json:"generated_by_name"`
	CourseID        *string    `json:"course"`
	ReportType      ReportType `json:"report_type"`
	Format          string     `json:"format"`
	StartDate       Date       `json:"start_date"`
	EndDate         Date       `json:"end_date"`
	FileRef         *string    `json:"file_path"`
	CreatedAt       time.Time  `json:"created_at"`
}

// ReportFilter scopes report metadata listings.
type ReportFilter struct {
	GeneratedBy string
}

// MarshalJSON adds the derived student_count.
func (c Course) MarshalJSON() ([]byte, error) {
	type plain Course
	return json.Marshal(struct {
		plain
		StudentCount int `json:"student_count"`
	}{plain(c), c.StudentCount()})
}

// MarshalJSON adds the derived status_display.
func (r Record) MarshalJSON() ([]byte, error) {
	type plain Record
	return json.Marshal(struct {
		plain
		StatusDisplay string `json:"status_display"`
	}{plain(r), r.Status.Display()})
}
