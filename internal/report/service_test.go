package report

import (
	"context"
	"encoding/csv"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollbook/internal/apperr"
	"rollbook/internal/auth"
	"rollbook/internal/model"
	"rollbook/internal/queue"
	"rollbook/internal/store"
)

var (
	admin   = auth.Principal{ID: "admin-1", Username: "admin", Role: model.RoleAdmin}
	teacher = auth.Principal{ID: "t-1", Username: "teacher1", Name: "Teacher One", Role: model.RoleClassTeacher}
	other   = auth.Principal{ID: "t-2", Username: "teacher2", Role: model.RoleClassTeacher}
	alice   = auth.Principal{ID: "s-1", Username: "alice", Name: "Alice Smith", Role: model.RoleStudent}
	bob     = auth.Principal{ID: "s-2", Username: "bob", Role: model.RoleStudent}
)

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []queue.Message
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, m queue.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, m)
	return p.err
}

type fakeUploader struct {
	name string
	data []byte
}

func (u *fakeUploader) UploadRaw(_ context.Context, data []byte, name string) (string, error) {
	u.name, u.data = name, data
	return "https://files.example/" + name, nil
}

type fixture struct {
	svc  *Service
	st   *store.Memory
	pub  *recordingPublisher
	math model.Course
	art  model.Course
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()
	for _, p := range []auth.Principal{admin, teacher, other, alice, bob} {
		require.NoError(t, st.SyncUser(ctx, p.User()))
	}
	math, err := st.CreateCourse(ctx, model.Course{Code: "MATH101", Name: "Mathematics", TeacherID: teacher.ID, StudentIDs: []string{alice.ID, bob.ID}, IsActive: true})
	require.NoError(t, err)
	art, err := st.CreateCourse(ctx, model.Course{Code: "ART200", Name: "Art", TeacherID: other.ID, StudentIDs: []string{alice.ID}, IsActive: true})
	require.NoError(t, err)

	pub := &recordingPublisher{}
	svc := NewService(st, pub, nil)
	svc.now = func() time.Time { return time.Date(2025, time.January, 15, 9, 0, 0, 0, time.UTC) }
	return fixture{svc: svc, st: st, pub: pub, math: math, art: art}
}

func (f fixture) mark(t *testing.T, by auth.Principal, c model.Course, user string, day model.Date, s model.Status) {
	t.Helper()
	_, err := f.st.InsertRecord(context.Background(), model.Record{UserID: user, CourseID: c.ID, Date: day, Status: s, MarkedBy: &by.ID})
	require.NoError(t, err)
}

func TestDailySummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := model.NewDate(2025, time.January, 15)
	f.mark(t, teacher, f.math, alice.ID, day, model.StatusPresent)
	f.mark(t, teacher, f.math, bob.ID, day, model.StatusPresent)
	f.mark(t, other, f.art, alice.ID, day, model.StatusAbsent)

	got, err := f.svc.Daily(ctx, admin, "", f.math.ID)
	require.NoError(t, err)
	assert.Equal(t, DailySummary{Date: "2025-01-15", TotalStudents: 2, Present: 2, AttendanceRate: 100}, got)

	all, err := f.svc.Daily(ctx, admin, "2025-01-15", "")
	require.NoError(t, err)
	assert.Equal(t, 3, all.TotalStudents)
	assert.Equal(t, 66.67, all.AttendanceRate)

	mine, err := f.svc.Daily(ctx, teacher, "2025-01-15", "")
	require.NoError(t, err)
	assert.Equal(t, 2, mine.TotalStudents)

	cross, err := f.svc.Daily(ctx, teacher, "2025-01-15", f.art.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, cross.TotalStudents)
	assert.Equal(t, 0.0, cross.AttendanceRate)

	_, err = f.svc.Daily(ctx, alice, "2025-01-15", "")
	assert.Equal(t, 403, apperr.Status(err))
	_, err = f.svc.Daily(ctx, admin, "15-01-2025", "")
	assert.Equal(t, 400, apperr.Status(err))
}

func TestMonthlySummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mark(t, teacher, f.math, alice.ID, model.NewDate(2025, time.January, 1), model.StatusPresent)
	f.mark(t, teacher, f.math, bob.ID, model.NewDate(2025, time.January, 1), model.StatusLate)
	f.mark(t, teacher, f.math, alice.ID, model.NewDate(2025, time.January, 31), model.StatusExcused)
	f.mark(t, teacher, f.math, alice.ID, model.NewDate(2025, time.February, 1), model.StatusPresent)

	got, err := f.svc.Monthly(ctx, teacher, "2025", "1", "")
	require.NoError(t, err)
	assert.Equal(t, MonthlySummary{
		Year: 2025, Month: 1, TotalRecords: 3, UniqueDays: 2,
		Present: 1, Late: 1, Excused: 1, AttendanceRate: 33.33,
	}, got)

	current, err := f.svc.Monthly(ctx, admin, "", "", "")
	require.NoError(t, err)
	assert.Equal(t, 3, current.TotalRecords)

	empty, err := f.svc.Monthly(ctx, admin, "2024", "7", "")
	require.NoError(t, err)
	assert.Equal(t, MonthlySummary{Year: 2024, Month: 7}, empty)

	_, err = f.svc.Monthly(ctx, admin, "2025", "13", "")
	assert.Equal(t, 400, apperr.Status(err))
	assert.Equal(t, "month", apperr.Fields(err)[0].Field)
	_, err = f.svc.Monthly(ctx, bob, "2025", "1", "")
	assert.Equal(t, 403, apperr.Status(err))
}

func readCSV(t *testing.T, body []byte) [][]string {
	t.Helper()
	r := csv.NewReader(strings.NewReader(string(body)))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	require.NoError(t, err)
	return rows
}

func TestGenerateCSV(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mark(t, teacher, f.math, bob.ID, model.NewDate(2025, time.January, 16), model.StatusAbsent)
	f.mark(t, teacher, f.math, alice.ID, model.NewDate(2025, time.January, 15), model.StatusPresent)
	_, err := f.st.InsertRecord(ctx, model.Record{UserID: alice.ID, CourseID: f.math.ID, Date: model.NewDate(2025, time.January, 17), Status: model.StatusLate, Remarks: "bus, again"})
	require.NoError(t, err)
	f.mark(t, other, f.art, alice.ID, model.NewDate(2025, time.January, 15), model.StatusExcused)

	exp, err := f.svc.Generate(ctx, teacher, Request{StartDate: "2025-01-01", EndDate: "2025-01-31"})
	require.NoError(t, err)
	assert.Equal(t, "attendance_report_2025-01-01_2025-01-31.csv", exp.Filename)
	assert.Equal(t, "text/csv", exp.ContentType)
	assert.Equal(t, model.ReportCustom, exp.Report.ReportType)
	assert.Equal(t, "csv", exp.Report.Format)

	rows := readCSV(t, exp.Body)
	require.Len(t, rows, 10)
	assert.Equal(t, CSVHeader, rows[0])
	assert.Equal(t, []string{"2025-01-15", "MATH101", "Mathematics", "alice", "Alice Smith", "Present", "", "Teacher One"}, rows[1])
	assert.Equal(t, []string{"2025-01-16", "MATH101", "Mathematics", "bob", "bob", "Absent", "", "Teacher One"}, rows[2])
	assert.Equal(t, []string{"2025-01-17", "MATH101", "Mathematics", "alice", "Alice Smith", "Late", "bus, again", "N/A"}, rows[3])
	assert.Equal(t, []string{"SUMMARY"}, rows[4])
	assert.Equal(t, []string{"Total Records", "3"}, rows[5])
	assert.Equal(t, []string{"Present", "1"}, rows[6])
	assert.Equal(t, []string{"Absent", "1"}, rows[7])
	assert.Equal(t, []string{"Late", "1"}, rows[8])
	assert.Equal(t, []string{"Excused", "0"}, rows[9])

	require.Len(t, f.pub.msgs, 1)
	assert.Equal(t, queue.Message{Type: queue.TypeReportArchive, Body: exp.Report.ID}, f.pub.msgs[0])
}

func TestGenerateEmptyRangeKeepsHeaderAndSummary(t *testing.T) {
	f := newFixture(t)
	exp, err := f.svc.Generate(context.Background(), admin, Request{
		StartDate: "2030-01-01", EndDate: "2030-01-31", CourseID: f.math.ID, ReportType: model.ReportMonthly,
	})
	require.NoError(t, err)
	body := string(exp.Body)
	assert.True(t, strings.HasPrefix(body, strings.Join(CSVHeader, ",")+"\n"))
	assert.Contains(t, body, "\n\nSUMMARY\nTotal Records,0\nPresent,0\nAbsent,0\nLate,0\nExcused,0\n")
	require.NotNil(t, exp.Report.CourseID)
	assert.Equal(t, f.math.ID, *exp.Report.CourseID)
}

func TestGenerateRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := Request{StartDate: "2025-01-01", EndDate: "2025-01-31"}

	for _, format := range []string{"excel", "pdf"} {
		req := base
		req.Format = format
		_, err := f.svc.Generate(ctx, admin, req)
		assert.True(t, errors.Is(err, apperr.ErrUnsupportedFormat), format)
		assert.Equal(t, 400, apperr.Status(err))
	}

	req := base
	req.Format = "docx"
	_, err := f.svc.Generate(ctx, admin, req)
	assert.Equal(t, 400, apperr.Status(err))

	_, err = f.svc.Generate(ctx, admin, Request{StartDate: "2025-02-01", EndDate: "2025-01-01"})
	assert.Equal(t, "end_date", apperr.Fields(err)[0].Field)

	req = base
	req.ReportType = "yearly"
	_, err = f.svc.Generate(ctx, admin, req)
	assert.Equal(t, "report_type", apperr.Fields(err)[0].Field)

	_, err = f.svc.Generate(ctx, alice, base)
	assert.Equal(t, 403, apperr.Status(err))

	req = base
	req.CourseID = "missing"
	_, err = f.svc.Generate(ctx, admin, req)
	assert.Equal(t, 404, apperr.Status(err))

	assert.Empty(t, f.pub.msgs)
	reports, err := f.svc.List(ctx, admin)
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestGenerateHidesOtherTeachersCourses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mark(t, other, f.art, alice.ID, model.NewDate(2025, time.January, 15), model.StatusPresent)

	_, err := f.svc.Generate(ctx, teacher, Request{CourseID: f.art.ID, StartDate: "2025-01-01", EndDate: "2025-01-31"})
	assert.Equal(t, 404, apperr.Status(err))
	assert.Empty(t, f.pub.msgs)
	reports, err := f.svc.List(ctx, admin)
	require.NoError(t, err)
	assert.Empty(t, reports)

	exp, err := f.svc.Generate(ctx, other, Request{CourseID: f.art.ID, StartDate: "2025-01-01", EndDate: "2025-01-31"})
	require.NoError(t, err)
	require.NotNil(t, exp.Report.CourseID)
	assert.Equal(t, f.art.ID, *exp.Report.CourseID)
}

func TestGenerateSurvivesQueueFailure(t *testing.T) {
	f := newFixture(t)
	f.pub.err = errors.New("redis down")
	_, err := f.svc.Generate(context.Background(), admin, Request{StartDate: "2025-01-01", EndDate: "2025-01-31"})
	assert.NoError(t, err)
}

func TestGenerateDoesNotWaitOnFullQueue(t *testing.T) {
	f := newFixture(t)
	q := queue.NewInMemory(1)
	svc := NewService(f.st, q, nil)
	req := Request{StartDate: "2025-01-01", EndDate: "2025-01-31"}

	_, err := svc.Generate(context.Background(), admin, req)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	start := time.Now()
	_, err = svc.Generate(ctx, admin, req)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, q.Len())

	reports, err := svc.List(context.Background(), admin)
	require.NoError(t, err)
	assert.Len(t, reports, 2)
}

func TestReportMetadataVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := Request{StartDate: "2025-01-01", EndDate: "2025-01-31"}
	mine, err := f.svc.Generate(ctx, teacher, req)
	require.NoError(t, err)
	theirs, err := f.svc.Generate(ctx, other, req)
	require.NoError(t, err)

	all, err := f.svc.List(ctx, admin)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	own, err := f.svc.List(ctx, teacher)
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, mine.Report.ID, own[0].ID)

	_, err = f.svc.Get(ctx, teacher, theirs.Report.ID)
	assert.Equal(t, 404, apperr.Status(err))
	_, err = f.svc.List(ctx, alice)
	assert.Equal(t, 403, apperr.Status(err))

	assert.Equal(t, 404, apperr.Status(f.svc.Delete(ctx, teacher, theirs.Report.ID)))
	require.NoError(t, f.svc.Delete(ctx, teacher, mine.Report.ID))
	_, err = f.svc.Get(ctx, admin, mine.Report.ID)
	assert.Equal(t, 404, apperr.Status(err))
}

func TestArchive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mark(t, teacher, f.math, alice.ID, model.NewDate(2025, time.January, 15), model.StatusPresent)
	f.mark(t, other, f.art, alice.ID, model.NewDate(2025, time.January, 15), model.StatusPresent)

	exp, err := f.svc.Generate(ctx, teacher, Request{StartDate: "2025-01-01", EndDate: "2025-01-31"})
	require.NoError(t, err)

	up := &fakeUploader{}
	ref, err := f.svc.Archive(ctx, exp.Report.ID, up)
	require.NoError(t, err)
	assert.Equal(t, exp.Body, up.data)
	assert.Equal(t, exp.Report.ID+"_attendance_report_2025-01-01_2025-01-31.csv", up.name)

	stored, err := f.svc.Get(ctx, admin, exp.Report.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.FileRef)
	assert.Equal(t, ref, *stored.FileRef)

	_, err = f.svc.Archive(ctx, "missing", up)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
