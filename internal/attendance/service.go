// Package attendance owns the attendance ledger: single-record marking,
// batch upserts for a class session, listings and per-student statistics.
package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"rollbook/internal/apperr"
	"rollbook/internal/auth"
	"rollbook/internal/metrics"
	"rollbook/internal/model"
	"rollbook/internal/stats"
	"rollbook/internal/store"
)

// Input creates a single record.
type Input struct {
	UserID   string
	CourseID string
	Date     string
	Status   model.Status
	Remarks  string
}

// Patch changes an existing record. Nil fields are left alone.
type Patch struct {
	Date    *string
	Status  *model.Status
	Remarks *string
}

// Query filters a listing. Dates are YYYY-MM-DD.
type Query struct {
	UserID    string
	CourseID  string
	Date      string
	StartDate string
	EndDate   string
	Limit     int
	Offset    int
}

// BulkItem is one student's mark inside a batch.
type BulkItem struct {
	UserID  string       `json:"user_id"`
	Status  model.Status `json:"status"`
	Remarks string       `json:"remarks"`

	// invalid is set by DecodeBulkItem when the entry did not decode.
	invalid string
}

// DecodeBulkItem decodes one raw batch entry. An entry that does not decode
// still yields an item, so the failure is reported against it instead of
// rejecting the whole batch.
func DecodeBulkItem(raw json.RawMessage) BulkItem {
	var item BulkItem
	err := json.Unmarshal(raw, &item)
	if err == nil {
		return item
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		item.invalid = fmt.Sprintf("%s must be a %s", typeErr.Field, typeErr.Type.Kind())
		if typeErr.Field == "user_id" {
			var loose map[string]any
			if json.Unmarshal(raw, &loose) == nil && loose["user_id"] != nil {
				item.UserID = fmt.Sprint(loose["user_id"])
			}
		}
		return item
	}
	return BulkItem{invalid: "item must be an object"}
}

// BulkRequest marks a whole class session.
type BulkRequest struct {
	CourseID string
	Date     string
	Items    []BulkItem
}

// ItemError reports why one batch item was skipped.
type ItemError struct {
	UserID string `json:"user_id"`
	Error  string `json:"error"`
}

// BulkResult summarises a batch. Created+Updated+len(Errors) equals the
// number of submitted items.
type BulkResult struct {
	Created int         `json:"created"`
	Updated int         `json:"updated"`
	Errors  []ItemError `json:"errors"`
}

// Stats is a per-student attendance summary.
type Stats struct {
	TotalDays            int     `json:"total_days"`
	PresentCount         int     `json:"present_count"`
	AbsentCount          int     `json:"absent_count"`
	LateCount            int     `json:"late_count"`
	ExcusedCount         int     `json:"excused_count"`
	AttendancePercentage float64 `json:"attendance_percentage"`
}

// Service coordinates ledger writes and reads under role rules.
type Service struct {
	store store.Store
	log   *zap.Logger
}

// NewService creates a service backed by a store.
func NewService(s store.Store, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: s, log: log}
}

// Scope returns the record filter every ledger read by p must carry.
func Scope(p auth.Principal) (model.RecordFilter, error) {
	switch p.Role {
	case model.RoleAdmin:
		return model.RecordFilter{}, nil
	case model.RoleClassTeacher:
		return model.RecordFilter{TeacherID: p.ID}, nil
	case model.RoleStudent:
		return model.RecordFilter{UserID: p.ID}, nil
	default:
		return model.RecordFilter{}, apperr.Forbidden("unknown role")
	}
}

// List returns the records visible to p that match q.
func (s *Service) List(ctx context.Context, p auth.Principal, q Query) ([]model.Record, error) {
	f, err := Scope(p)
	if err != nil {
		return nil, err
	}
	if q.UserID != "" {
		if f.UserID != "" && f.UserID != q.UserID {
			return []model.Record{}, nil
		}
		f.UserID = q.UserID
	}
	f.CourseID = q.CourseID

	var verr apperr.ValidationError
	f.Date = optionalDate(&verr, "date", q.Date)
	f.From = optionalDate(&verr, "start_date", q.StartDate)
	f.To = optionalDate(&verr, "end_date", q.EndDate)
	if q.Limit < 0 {
		verr.Add("limit", "Ensure this value is greater than or equal to 0.")
	}
	if q.Offset < 0 {
		verr.Add("offset", "Ensure this value is greater than or equal to 0.")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	f.Limit, f.Offset = q.Limit, q.Offset
	return s.store.ListRecords(ctx, f)
}

// Get returns a record when p may see it.
func (s *Service) Get(ctx context.Context, p auth.Principal, id string) (model.Record, error) {
	rec, err := s.store.GetRecord(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.Record{}, apperr.NotFound("attendance record")
	}
	if err != nil {
		return model.Record{}, err
	}
	ok, err := s.canSee(ctx, p, rec)
	if err != nil {
		return model.Record{}, err
	}
	if !ok {
		return model.Record{}, apperr.NotFound("attendance record")
	}
	return rec, nil
}

// Create marks a single record. A second record for the same
// (user, course, date) is a conflict.
func (s *Service) Create(ctx context.Context, p auth.Principal, in Input) (model.Record, error) {
	if err := requireMarker(p); err != nil {
		return model.Record{}, err
	}
	var verr apperr.ValidationError
	day := requiredDate(&verr, "date", in.Date)
	if !in.Status.Valid() {
		verr.Add("status", fmt.Sprintf("%q is not a valid choice.", in.Status))
	}
	if in.UserID == "" {
		verr.Add("user", "This field is required.")
	}
	if in.CourseID == "" {
		verr.Add("course", "This field is required.")
	}
	if err := verr.OrNil(); err != nil {
		return model.Record{}, err
	}

	course, err := s.markableCourse(ctx, p, in.CourseID)
	if err != nil {
		return model.Record{}, err
	}
	if err := s.checkStudent(ctx, course, in.UserID); err != nil {
		return model.Record{}, apperr.Field("user", err.Error())
	}

	rec, err := s.store.InsertRecord(ctx, model.Record{
		UserID:   in.UserID,
		CourseID: course.ID,
		Date:     day,
		Status:   in.Status,
		Remarks:  in.Remarks,
		MarkedBy: &p.ID,
	})
	switch {
	case errors.Is(err, store.ErrDuplicate):
		metrics.RecordsMarked.WithLabelValues("single", "conflict").Inc()
		return model.Record{}, apperr.Conflict("attendance for this student, course and date already exists")
	case err != nil:
		return model.Record{}, err
	}
	metrics.RecordsMarked.WithLabelValues("single", "created").Inc()
	s.log.Info("attendance marked",
		zap.String("record_id", rec.ID), zap.String("course", course.Code),
		zap.String("user_id", rec.UserID), zap.String("status", string(rec.Status)))
	return rec, nil
}

// Update changes status, remarks or date of a record.
func (s *Service) Update(ctx context.Context, p auth.Principal, id string, patch Patch) (model.Record, error) {
	if err := requireMarker(p); err != nil {
		return model.Record{}, err
	}
	rec, err := s.Get(ctx, p, id)
	if err != nil {
		return model.Record{}, err
	}

	var verr apperr.ValidationError
	if patch.Date != nil {
		rec.Date = requiredDate(&verr, "date", *patch.Date)
	}
	if patch.Status != nil {
		if !patch.Status.Valid() {
			verr.Add("status", fmt.Sprintf("%q is not a valid choice.", *patch.Status))
		}
		rec.Status = *patch.Status
	}
	if patch.Remarks != nil {
		rec.Remarks = *patch.Remarks
	}
	if err := verr.OrNil(); err != nil {
		return model.Record{}, err
	}
	rec.MarkedBy = &p.ID

	updated, err := s.store.UpdateRecord(ctx, rec)
	switch {
	case errors.Is(err, store.ErrDuplicate):
		return model.Record{}, apperr.Conflict("attendance for this student, course and date already exists")
	case errors.Is(err, store.ErrNotFound):
		return model.Record{}, apperr.NotFound("attendance record")
	case err != nil:
		return model.Record{}, err
	}
	metrics.RecordsMarked.WithLabelValues("single", "updated").Inc()
	return updated, nil
}

// Delete removes a record.
func (s *Service) Delete(ctx context.Context, p auth.Principal, id string) error {
	if err := requireMarker(p); err != nil {
		return err
	}
	if _, err := s.Get(ctx, p, id); err != nil {
		return err
	}
	if err := s.store.DeleteRecord(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("attendance record")
		}
		return err
	}
	s.log.Info("attendance deleted", zap.String("record_id", id), zap.String("by", p.ID))
	return nil
}

// BulkUpsert marks every item for one course and date. Items are applied in
// order; one failing item is reported in the result and does not stop the
// rest. Resubmitting the same batch updates rows instead of duplicating them.
func (s *Service) BulkUpsert(ctx context.Context, p auth.Principal, req BulkRequest) (BulkResult, error) {
	if err := requireMarker(p); err != nil {
		return BulkResult{}, err
	}
	var verr apperr.ValidationError
	if req.CourseID == "" {
		verr.Add("course", "This field is required.")
	}
	day := requiredDate(&verr, "date", req.Date)
	if len(req.Items) == 0 {
		verr.Add("attendance_data", "This list may not be empty.")
	}
	if err := verr.OrNil(); err != nil {
		return BulkResult{}, err
	}

	course, err := s.markableCourse(ctx, p, req.CourseID)
	if err != nil {
		return BulkResult{}, err
	}

	res := BulkResult{Errors: []ItemError{}}
	for _, item := range req.Items {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		created, err := s.upsertItem(ctx, p, course, day, item)
		switch {
		case err != nil:
			res.Errors = append(res.Errors, ItemError{UserID: item.UserID, Error: err.Error()})
			metrics.RecordsMarked.WithLabelValues("bulk", "error").Inc()
			s.log.Debug("bulk item rejected", zap.String("user_id", item.UserID), zap.Error(err))
		case created:
			res.Created++
			metrics.RecordsMarked.WithLabelValues("bulk", "created").Inc()
		default:
			res.Updated++
			metrics.RecordsMarked.WithLabelValues("bulk", "updated").Inc()
		}
	}
	s.log.Info("bulk attendance applied",
		zap.String("course", course.Code), zap.String("date", day.String()),
		zap.Int("created", res.Created), zap.Int("updated", res.Updated), zap.Int("errors", len(res.Errors)))
	return res, nil
}

func (s *Service) upsertItem(ctx context.Context, p auth.Principal, course model.Course, day model.Date, item BulkItem) (bool, error) {
	if item.invalid != "" {
		return false, errors.New(item.invalid)
	}
	if item.UserID == "" {
		return false, errors.New("user_id is required")
	}
	if !item.Status.Valid() {
		return false, fmt.Errorf("%q is not a valid status", item.Status)
	}
	if err := s.checkStudent(ctx, course, item.UserID); err != nil {
		return false, err
	}
	_, created, err := s.store.UpsertRecord(ctx, model.Record{
		UserID:   item.UserID,
		CourseID: course.ID,
		Date:     day,
		Status:   item.Status,
		Remarks:  item.Remarks,
		MarkedBy: &p.ID,
	})
	if err != nil {
		s.log.Warn("bulk item upsert failed", zap.String("user_id", item.UserID), zap.Error(err))
		return false, errors.New("could not save record")
	}
	return created, nil
}

// Stats summarises one student's records visible to p. Students may only
// ask about themselves; other roles must name the student.
func (s *Service) Stats(ctx context.Context, p auth.Principal, userID, courseID string) (Stats, error) {
	f, err := Scope(p)
	if err != nil {
		return Stats{}, err
	}
	switch {
	case p.Is(model.RoleStudent):
		if userID != "" && userID != p.ID {
			return Stats{}, apperr.Forbidden("students can only view their own statistics")
		}
	case userID == "":
		return Stats{}, apperr.Field("user_id", "This parameter is required.")
	default:
		f.UserID = userID
	}
	f.CourseID = courseID

	rows, err := s.store.ListRecords(ctx, f)
	if err != nil {
		return Stats{}, err
	}
	t := stats.Count(rows)
	return Stats{
		TotalDays:            t.Total,
		PresentCount:         t.Present,
		AbsentCount:          t.Absent,
		LateCount:            t.Late,
		ExcusedCount:         t.Excused,
		AttendancePercentage: t.Rate(),
	}, nil
}

func requireMarker(p auth.Principal) error {
	if !p.Is(model.RoleAdmin, model.RoleClassTeacher) {
		return apperr.Forbidden("only admins and class teachers can mark attendance")
	}
	return nil
}

// markableCourse loads a course p is allowed to mark. Teachers get NotFound
// for courses they do not teach.
func (s *Service) markableCourse(ctx context.Context, p auth.Principal, id string) (model.Course, error) {
	c, err := s.store.GetCourse(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.Course{}, apperr.NotFound("course")
	}
	if err != nil {
		return model.Course{}, err
	}
	if p.Is(model.RoleClassTeacher) && c.TeacherID != p.ID {
		return model.Course{}, apperr.NotFound("course")
	}
	return c, nil
}

// checkStudent fails when userID is not a student enrolled in c. The error
// text is caller facing.
func (s *Service) checkStudent(ctx context.Context, c model.Course, userID string) error {
	u, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return errors.New("user not found")
	}
	if err != nil {
		return err
	}
	if u.Role != model.RoleStudent {
		return errors.New("attendance can only be marked for students")
	}
	if !c.Enrolled(userID) {
		return fmt.Errorf("%s is not enrolled in %s", u.DisplayName(), c.Code)
	}
	return nil
}

func (s *Service) canSee(ctx context.Context, p auth.Principal, rec model.Record) (bool, error) {
	switch p.Role {
	case model.RoleAdmin:
		return true, nil
	case model.RoleStudent:
		return rec.UserID == p.ID, nil
	case model.RoleClassTeacher:
		c, err := s.store.GetCourse(ctx, rec.CourseID)
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return c.TeacherID == p.ID, nil
	default:
		return false, nil
	}
}

func requiredDate(verr *apperr.ValidationError, field, raw string) model.Date {
	if raw == "" {
		verr.Add(field, "This field is required.")
		return model.Date{}
	}
	d, err := model.ParseDate(raw)
	if err != nil {
		verr.Add(field, "Date has wrong format. Use YYYY-MM-DD.")
	}
	return d
}

func optionalDate(verr *apperr.ValidationError, field, raw string) *model.Date {
	if raw == "" {
		return nil
	}
	d, err := model.ParseDate(raw)
	if err != nil {
		verr.Add(field, "Date has wrong format. Use YYYY-MM-DD.")
		return nil
	}
	return &d
}
