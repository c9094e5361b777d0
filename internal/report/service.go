// Package report computes daily and monthly summaries, renders exports and
// keeps the metadata of generated reports.
package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"rollbook/internal/apperr"
	"rollbook/internal/attendance"
	"rollbook/internal/auth"
	"rollbook/internal/metrics"
	"rollbook/internal/model"
	"rollbook/internal/queue"
	"rollbook/internal/stats"
	"rollbook/internal/store"
)

// DailySummary counts one day's records.
type DailySummary struct {
	Date           string  `json:"date"`
	TotalStudents  int     `json:"total_students"`
	Present        int     `json:"present"`
	Absent         int     `json:"absent"`
	Late           int     `json:"late"`
	Excused        int     `json:"excused"`
	AttendanceRate float64 `json:"attendance_rate"`
}

// MonthlySummary counts one calendar month's records.
type MonthlySummary struct {
	Year           int     `json:"year"`
	Month          int     `json:"month"`
	TotalRecords   int     `json:"total_records"`
	UniqueDays     int     `json:"unique_days"`
	Present        int     `json:"present"`
	Absent         int     `json:"absent"`
	Late           int     `json:"late"`
	Excused        int     `json:"excused"`
	AttendanceRate float64 `json:"attendance_rate"`
}

// Request asks for an export over a date range.
type Request struct {
	CourseID   string
	StartDate  string
	EndDate    string
	ReportType model.ReportType
	Format     string
}

// Export is a rendered report and the metadata stored for it.
type Export struct {
	Report      model.Report
	Filename    string
	ContentType string
	Body        []byte
}

// publishTimeout bounds how long Generate waits to queue an archive job.
const publishTimeout = 2 * time.Second

// Publisher enqueues background jobs.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// Uploader stores a rendered export and returns its public reference.
type Uploader interface {
	UploadRaw(ctx context.Context, data []byte, filename string) (string, error)
}

// Service serves summaries and exports. Students are denied throughout.
type Service struct {
	store store.Store
	pub   Publisher
	log   *zap.Logger
	now   func() time.Time
}

// NewService creates a report service. pub may be nil, in which case no
// archive jobs are queued.
func NewService(s store.Store, pub Publisher, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: s, pub: pub, log: log, now: time.Now}
}

func requireStaff(p auth.Principal) error {
	if !p.Is(model.RoleAdmin, model.RoleClassTeacher) {
		return apperr.Forbidden("only admins and class teachers can view reports")
	}
	return nil
}

// Daily summarises the records of one date, today when date is empty.
func (s *Service) Daily(ctx context.Context, p auth.Principal, date, courseID string) (DailySummary, error) {
	if err := requireStaff(p); err != nil {
		return DailySummary{}, err
	}
	day := model.DateOf(s.now())
	if date != "" {
		d, err := model.ParseDate(date)
		if err != nil {
			return DailySummary{}, apperr.Field("date", "Invalid date format. Use YYYY-MM-DD")
		}
		day = d
	}
	f, err := attendance.Scope(p)
	if err != nil {
		return DailySummary{}, err
	}
	f.Date = &day
	f.CourseID = courseID
	rows, err := s.store.ListRecords(ctx, f)
	if err != nil {
		return DailySummary{}, err
	}
	t := stats.Count(rows)
	return DailySummary{
		Date:           day.String(),
		TotalStudents:  t.Total,
		Present:        t.Present,
		Absent:         t.Absent,
		Late:           t.Late,
		Excused:        t.Excused,
		AttendanceRate: t.Rate(),
	}, nil
}

// Monthly summarises a calendar month, the current one when year or month
// is empty.
func (s *Service) Monthly(ctx context.Context, p auth.Principal, year, month, courseID string) (MonthlySummary, error) {
	if err := requireStaff(p); err != nil {
		return MonthlySummary{}, err
	}
	now := s.now()
	y, m := now.Year(), int(now.Month())
	var verr apperr.ValidationError
	if year != "" {
		v, err := strconv.Atoi(year)
		if err != nil || v < 1 || v > 9999 {
			verr.Add("year", "A valid year is required.")
		}
		y = v
	}
	if month != "" {
		v, err := strconv.Atoi(month)
		if err != nil || v < 1 || v > 12 {
			verr.Add("month", "Month must be between 1 and 12.")
		}
		m = v
	}
	if err := verr.OrNil(); err != nil {
		return MonthlySummary{}, err
	}

	from := model.NewDate(y, time.Month(m), 1)
	to := model.DateOf(from.AddDate(0, 1, -1))
	f, err := attendance.Scope(p)
	if err != nil {
		return MonthlySummary{}, err
	}
	f.From, f.To = &from, &to
	f.CourseID = courseID
	rows, err := s.store.ListRecords(ctx, f)
	if err != nil {
		return MonthlySummary{}, err
	}
	t := stats.Count(rows)
	return MonthlySummary{
		Year:           y,
		Month:          m,
		TotalRecords:   t.Total,
		UniqueDays:     t.UniqueDays,
		Present:        t.Present,
		Absent:         t.Absent,
		Late:           t.Late,
		Excused:        t.Excused,
		AttendanceRate: t.Rate(),
	}, nil
}

// Generate renders an export for the range, stores its metadata and queues
// an archive job.
func (s *Service) Generate(ctx context.Context, p auth.Principal, req Request) (Export, error) {
	if err := requireStaff(p); err != nil {
		return Export{}, err
	}
	var verr apperr.ValidationError
	start, errStart := model.ParseDate(req.StartDate)
	if errStart != nil {
		verr.Add("start_date", "Date has wrong format. Use YYYY-MM-DD.")
	}
	end, errEnd := model.ParseDate(req.EndDate)
	if errEnd != nil {
		verr.Add("end_date", "Date has wrong format. Use YYYY-MM-DD.")
	}
	if errStart == nil && errEnd == nil && end.Before(start.Time) {
		verr.Add("end_date", "End date must be on or after start date.")
	}
	if req.ReportType == "" {
		req.ReportType = model.ReportCustom
	}
	if !req.ReportType.Valid() {
		verr.Add("report_type", fmt.Sprintf("%q is not a valid choice.", req.ReportType))
	}
	if req.Format == "" {
		req.Format = "csv"
	}
	if err := verr.OrNil(); err != nil {
		return Export{}, err
	}
	formatter, err := Lookup(req.Format)
	if err != nil {
		return Export{}, err
	}
	if req.CourseID != "" {
		if err := s.checkCourse(ctx, p, req.CourseID); err != nil {
			return Export{}, err
		}
	}

	body, err := s.render(ctx, p, formatter, start, end, req.CourseID)
	if err != nil {
		return Export{}, err
	}

	meta := model.Report{
		GeneratedBy: &p.ID,
		ReportType:  req.ReportType,
		Format:      req.Format,
		StartDate:   start,
		EndDate:     end,
	}
	if req.CourseID != "" {
		meta.CourseID = &req.CourseID
	}
	meta, err = s.store.CreateReport(ctx, meta)
	if errors.Is(err, store.ErrNotFound) {
		return Export{}, apperr.NotFound("course")
	}
	if err != nil {
		return Export{}, err
	}
	metrics.ReportsGenerated.WithLabelValues(req.Format).Inc()
	s.log.Info("report generated",
		zap.String("report_id", meta.ID), zap.String("by", p.ID),
		zap.String("start", start.String()), zap.String("end", end.String()))

	if s.pub != nil {
		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		err := s.pub.Publish(pubCtx, queue.Message{Type: queue.TypeReportArchive, Body: meta.ID})
		cancel()
		if err != nil {
			s.log.Warn("queue archive job failed", zap.String("report_id", meta.ID), zap.Error(err))
		}
	}

	return Export{
		Report:      meta,
		Filename:    Filename(start, end, formatter.Extension()),
		ContentType: formatter.ContentType(),
		Body:        body,
	}, nil
}

// checkCourse fails with NotFound unless p can see the course. Teachers only
// see the courses they teach.
func (s *Service) checkCourse(ctx context.Context, p auth.Principal, id string) error {
	c, err := s.store.GetCourse(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound("course")
	}
	if err != nil {
		return err
	}
	if p.Is(model.RoleClassTeacher) && c.TeacherID != p.ID {
		return apperr.NotFound("course")
	}
	return nil
}

// Filename is the attachment name of an export.
func Filename(start, end model.Date, ext string) string {
	return fmt.Sprintf("attendance_report_%s_%s.%s", start, end, ext)
}

// render lists p's visible records in the range in ascending date order and
// formats them.
func (s *Service) render(ctx context.Context, p auth.Principal, f Formatter, start, end model.Date, courseID string) ([]byte, error) {
	filter, err := attendance.Scope(p)
	if err != nil {
		return nil, err
	}
	filter.From, filter.To = &start, &end
	filter.CourseID = courseID
	filter.Ascending = true
	rows, err := s.store.ListRecords(ctx, filter)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := f.Format(&buf, rows, stats.Count(rows)); err != nil {
		return nil, fmt.Errorf("format report: %w", err)
	}
	return buf.Bytes(), nil
}

// List returns report metadata: all for admins, own for teachers.
func (s *Service) List(ctx context.Context, p auth.Principal) ([]model.Report, error) {
	if err := requireStaff(p); err != nil {
		return nil, err
	}
	var f model.ReportFilter
	if p.Is(model.RoleClassTeacher) {
		f.GeneratedBy = p.ID
	}
	return s.store.ListReports(ctx, f)
}

// Get returns one report's metadata when visible to p.
func (s *Service) Get(ctx context.Context, p auth.Principal, id string) (model.Report, error) {
	if err := requireStaff(p); err != nil {
		return model.Report{}, err
	}
	r, err := s.store.GetReport(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.Report{}, apperr.NotFound("report")
	}
	if err != nil {
		return model.Report{}, err
	}
	if p.Is(model.RoleClassTeacher) && (r.GeneratedBy == nil || *r.GeneratedBy != p.ID) {
		return model.Report{}, apperr.NotFound("report")
	}
	return r, nil
}

// Delete removes a report's metadata.
func (s *Service) Delete(ctx context.Context, p auth.Principal, id string) error {
	if _, err := s.Get(ctx, p, id); err != nil {
		return err
	}
	if err := s.store.DeleteReport(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("report")
		}
		return err
	}
	return nil
}

// Archive re-renders a stored report with its generator's visibility,
// uploads it and records the returned reference.
func (s *Service) Archive(ctx context.Context, id string, up Uploader) (string, error) {
	r, err := s.store.GetReport(ctx, id)
	if err != nil {
		return "", fmt.Errorf("load report %s: %w", id, err)
	}
	if r.GeneratedBy == nil {
		return "", fmt.Errorf("report %s has no generator", id)
	}
	u, err := s.store.GetUser(ctx, *r.GeneratedBy)
	if err != nil {
		return "", fmt.Errorf("load generator of %s: %w", id, err)
	}
	formatter, err := Lookup(r.Format)
	if err != nil {
		return "", err
	}
	courseID := ""
	if r.CourseID != nil {
		courseID = *r.CourseID
	}
	p := auth.Principal{ID: u.ID, Username: u.Username, Name: u.FullName, Role: u.Role}
	body, err := s.render(ctx, p, formatter, r.StartDate, r.EndDate, courseID)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s_%s", r.ID, Filename(r.StartDate, r.EndDate, formatter.Extension()))
	ref, err := up.UploadRaw(ctx, body, name)
	if err != nil {
		return "", fmt.Errorf("upload report %s: %w", id, err)
	}
	if err := s.store.SetReportFile(ctx, id, ref); err != nil {
		return "", fmt.Errorf("store file ref for %s: %w", id, err)
	}
	return ref, nil
}
