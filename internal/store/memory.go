package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"rollbook/internal/model"
)

type recordKey struct {
	userID   string
	courseID string
	date     string
}

// Memory is a mutex-guarded store for development and tests.
type Memory struct {
	mu      sync.RWMutex
	users   map[string]model.User
	courses map[string]model.Course
	records map[string]model.Record
	keys    map[recordKey]string
	reports map[string]model.Report
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:   make(map[string]model.User),
		courses: make(map[string]model.Course),
		records: make(map[string]model.Record),
		keys:    make(map[recordKey]string),
		reports: make(map[string]model.Report),
	}
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

func keyOf(r model.Record) recordKey {
	return recordKey{userID: r.UserID, courseID: r.CourseID, date: r.Date.String()}
}

// -------- Directory --------

// SyncUser upserts a mirrored identity.
func (m *Memory) SyncUser(_ context.Context, u model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.users[u.ID]; ok {
		if u.FullName == "" {
			u.FullName = prev.FullName
		}
		if u.Email == "" {
			u.Email = prev.Email
		}
	}
	u.UpdatedAt = time.Now().UTC()
	m.users[u.ID] = u
	return nil
}

// GetUser returns a mirrored identity by id.
func (m *Memory) GetUser(_ context.Context, id string) (model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return u, nil
}

// ListUsers returns mirrored identities, optionally by role.
func (m *Memory) ListUsers(_ context.Context, role model.Role) ([]model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.User, 0)
	for _, u := range m.users {
		if role == "" || u.Role == role {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// -------- Courses --------

func (m *Memory) hydrateCourse(c model.Course) model.Course {
	if t, ok := m.users[c.TeacherID]; ok {
		c.TeacherName = t.DisplayName()
	}
	c.StudentIDs = append([]string(nil), c.StudentIDs...)
	sort.Strings(c.StudentIDs)
	return c
}

func (m *Memory) checkCourseRefs(c model.Course) error {
	if _, ok := m.users[c.TeacherID]; !ok {
		return ErrNotFound
	}
	for _, sid := range c.StudentIDs {
		if _, ok := m.users[sid]; !ok {
			return ErrNotFound
		}
	}
	for id, other := range m.courses {
		if id != c.ID && strings.EqualFold(other.Code, c.Code) {
			return ErrDuplicate
		}
	}
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// CreateCourse inserts a course and its enrollment set.
func (m *Memory) CreateCourse(_ context.Context, c model.Course) (model.Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if err := m.checkCourseRefs(c); err != nil {
		return model.Course{}, err
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	c.StudentIDs = dedupe(c.StudentIDs)
	m.courses[c.ID] = c
	return m.hydrateCourse(c), nil
}

// UpdateCourse overwrites course fields and its enrollment set.
func (m *Memory) UpdateCourse(_ context.Context, c model.Course) (model.Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.courses[c.ID]
	if !ok {
		return model.Course{}, ErrNotFound
	}
	if err := m.checkCourseRefs(c); err != nil {
		return model.Course{}, err
	}
	c.CreatedAt = prev.CreatedAt
	c.UpdatedAt = time.Now().UTC()
	c.StudentIDs = dedupe(c.StudentIDs)
	m.courses[c.ID] = c
	return m.hydrateCourse(c), nil
}

// DeleteCourse removes a course and cascades to its records and reports.
func (m *Memory) DeleteCourse(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.courses[id]; !ok {
		return ErrNotFound
	}
	delete(m.courses, id)
	for rid, r := range m.records {
		if r.CourseID == id {
			delete(m.records, rid)
			delete(m.keys, keyOf(r))
		}
	}
	for rid, r := range m.reports {
		if r.CourseID != nil && *r.CourseID == id {
			delete(m.reports, rid)
		}
	}
	return nil
}

// GetCourse returns a course with its enrollment set.
func (m *Memory) GetCourse(_ context.Context, id string) (model.Course, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.courses[id]
	if !ok {
		return model.Course{}, ErrNotFound
	}
	return m.hydrateCourse(c), nil
}

// ListCourses returns courses ordered by code.
func (m *Memory) ListCourses(_ context.Context, f model.CourseFilter) ([]model.Course, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Course, 0)
	for _, c := range m.courses {
		if !f.IncludeInactive && !c.IsActive {
			continue
		}
		if f.TeacherID != "" && c.TeacherID != f.TeacherID {
			continue
		}
		if f.StudentID != "" && !c.Enrolled(f.StudentID) {
			continue
		}
		out = append(out, m.hydrateCourse(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// CourseCodeTaken reports whether another course already uses code, ignoring case.
func (m *Memory) CourseCodeTaken(_ context.Context, code, exceptID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, c := range m.courses {
		if id != exceptID && strings.EqualFold(c.Code, code) {
			return true, nil
		}
	}
	return false, nil
}

// -------- Ledger --------

func (m *Memory) hydrateRecord(r model.Record) model.Record {
	if u, ok := m.users[r.UserID]; ok {
		r.Username = u.Username
		r.UserName = u.DisplayName()
	}
	if c, ok := m.courses[r.CourseID]; ok {
		r.CourseCode = c.Code
		r.CourseName = c.Name
	}
	r.MarkedByName = nil
	if r.MarkedBy != nil {
		if u, ok := m.users[*r.MarkedBy]; ok {
			name := u.DisplayName()
			r.MarkedByName = &name
		} else {
			r.MarkedBy = nil
		}
	}
	return r
}

func (m *Memory) checkRecordRefs(r model.Record) error {
	if _, ok := m.users[r.UserID]; !ok {
		return ErrNotFound
	}
	if _, ok := m.courses[r.CourseID]; !ok {
		return ErrNotFound
	}
	return nil
}

// InsertRecord creates a record; an existing (user, course, date) row yields ErrDuplicate.
func (m *Memory) InsertRecord(_ context.Context, r model.Record) (model.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkRecordRefs(r); err != nil {
		return model.Record{}, err
	}
	if _, exists := m.keys[keyOf(r)]; exists {
		return model.Record{}, ErrDuplicate
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now
	m.records[r.ID] = r
	m.keys[keyOf(r)] = r.ID
	return m.hydrateRecord(r), nil
}

// UpsertRecord creates or overwrites the row for (user, course, date) under
// the store lock.
func (m *Memory) UpsertRecord(_ context.Context, r model.Record) (model.Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkRecordRefs(r); err != nil {
		return model.Record{}, false, err
	}
	now := time.Now().UTC()
	if id, exists := m.keys[keyOf(r)]; exists {
		cur := m.records[id]
		cur.Status = r.Status
		cur.Remarks = r.Remarks
		cur.MarkedBy = r.MarkedBy
		cur.UpdatedAt = now
		m.records[id] = cur
		return m.hydrateRecord(cur), false, nil
	}
	r.ID = uuid.NewString()
	r.CreatedAt, r.UpdatedAt = now, now
	m.records[r.ID] = r
	m.keys[keyOf(r)] = r.ID
	return m.hydrateRecord(r), true, nil
}

// UpdateRecord overwrites the mutable fields of an existing record.
func (m *Memory) UpdateRecord(_ context.Context, r model.Record) (model.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.records[r.ID]
	if !ok {
		return model.Record{}, ErrNotFound
	}
	next := cur
	next.Date = r.Date
	next.Status = r.Status
	next.Remarks = r.Remarks
	next.MarkedBy = r.MarkedBy
	if id, exists := m.keys[keyOf(next)]; exists && id != cur.ID {
		return model.Record{}, ErrDuplicate
	}
	next.UpdatedAt = time.Now().UTC()
	delete(m.keys, keyOf(cur))
	m.keys[keyOf(next)] = next.ID
	m.records[next.ID] = next
	return m.hydrateRecord(next), nil
}

// GetRecord returns a single record by id.
func (m *Memory) GetRecord(_ context.Context, id string) (model.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return model.Record{}, ErrNotFound
	}
	return m.hydrateRecord(r), nil
}

// DeleteRecord removes a record.
func (m *Memory) DeleteRecord(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.records, id)
	delete(m.keys, keyOf(r))
	return nil
}

func matches(f model.RecordFilter, r model.Record, c model.Course) bool {
	switch {
	case f.UserID != "" && r.UserID != f.UserID:
		return false
	case f.CourseID != "" && r.CourseID != f.CourseID:
		return false
	case f.TeacherID != "" && c.TeacherID != f.TeacherID:
		return false
	case f.Date != nil && !r.Date.Equal(f.Date.Time):
		return false
	case f.From != nil && r.Date.Before(f.From.Time):
		return false
	case f.To != nil && r.Date.After(f.To.Time):
		return false
	}
	return true
}

// ListRecords returns records matching f, newest first unless f.Ascending.
func (m *Memory) ListRecords(_ context.Context, f model.RecordFilter) ([]model.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Record, 0)
	for _, r := range m.records {
		if matches(f, r, m.courses[r.CourseID]) {
			out = append(out, m.hydrateRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Date.Equal(b.Date.Time) {
			if f.Ascending {
				return a.Date.Before(b.Date.Time)
			}
			return a.Date.After(b.Date.Time)
		}
		if a.CourseCode != b.CourseCode {
			return a.CourseCode < b.CourseCode
		}
		return a.Username < b.Username
	})
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []model.Record{}, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// -------- Reports --------

func (m *Memory) hydrateReport(r model.Report) model.Report {
	r.GeneratedByName = nil
	if r.GeneratedBy != nil {
		if u, ok := m.users[*r.GeneratedBy]; ok {
			name := u.DisplayName()
			r.GeneratedByName = &name
		}
	}
	return r
}

// CreateReport stores report metadata.
func (m *Memory) CreateReport(_ context.Context, r model.Report) (model.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CourseID != nil {
		if _, ok := m.courses[*r.CourseID]; !ok {
			return model.Report{}, ErrNotFound
		}
	}
	r.CreatedAt = time.Now().UTC()
	m.reports[r.ID] = r
	return m.hydrateReport(r), nil
}

// GetReport returns report metadata by id.
func (m *Memory) GetReport(_ context.Context, id string) (model.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reports[id]
	if !ok {
		return model.Report{}, ErrNotFound
	}
	return m.hydrateReport(r), nil
}

// ListReports returns report metadata, newest first.
func (m *Memory) ListReports(_ context.Context, f model.ReportFilter) ([]model.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Report, 0)
	for _, r := range m.reports {
		if f.GeneratedBy != "" && (r.GeneratedBy == nil || *r.GeneratedBy != f.GeneratedBy) {
			continue
		}
		out = append(out, m.hydrateReport(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// DeleteReport removes report metadata.
func (m *Memory) DeleteReport(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reports[id]; !ok {
		return ErrNotFound
	}
	delete(m.reports, id)
	return nil
}

// SetReportFile records where the archived export lives.
func (m *Memory) SetReportFile(_ context.Context, id, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok {
		return ErrNotFound
	}
	r.FileRef = &ref
	m.reports[id] = r
	return nil
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*Postgres)(nil)
)
