package store

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollbook/internal/model"
)

// stores returns every backend the contract runs against. Postgres joins when
// TEST_DATABASE_URL points at a scratch database.
func stores(t *testing.T) map[string]func(t *testing.T) Store {
	out := map[string]func(t *testing.T) Store{
		"memory": func(*testing.T) Store { return NewMemory() },
	}
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		out["postgres"] = func(t *testing.T) Store {
			db, err := NewDB(context.Background(), dsn)
			require.NoError(t, err)
			t.Cleanup(func() { _ = db.Close() })
			ctx := context.Background()
			require.NoError(t, db.Migrate(ctx))
			_, err = db.Client.ExecContext(ctx, `TRUNCATE attendance_reports, attendance_records, course_students, courses, users`)
			require.NoError(t, err)
			return NewPostgres(db.Client)
		}
	}
	return out
}

func seed(t *testing.T, s Store) (teacher, s1, s2 model.User, course model.Course) {
	ctx := context.Background()
	teacher = model.User{ID: "t-1", Username: "teacher1", FullName: "Teacher One", Role: model.RoleClassTeacher}
	s1 = model.User{ID: "s-1", Username: "student1", FullName: "Student One", Role: model.RoleStudent}
	s2 = model.User{ID: "s-2", Username: "student2", Role: model.RoleStudent}
	for _, u := range []model.User{teacher, s1, s2} {
		require.NoError(t, s.SyncUser(ctx, u))
	}
	course, err := s.CreateCourse(ctx, model.Course{
		Code: "MATH101", Name: "Mathematics", TeacherID: teacher.ID,
		StudentIDs: []string{s2.ID, s1.ID}, IsActive: true,
	})
	require.NoError(t, err)
	return teacher, s1, s2, course
}

func TestStoreContract(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("courses", func(t *testing.T) { testCourses(t, open(t)) })
			t.Run("ledger", func(t *testing.T) { testLedger(t, open(t)) })
			t.Run("concurrent upsert", func(t *testing.T) { testConcurrentUpsert(t, open(t)) })
			t.Run("reports", func(t *testing.T) { testReports(t, open(t)) })
		})
	}
}

func testCourses(t *testing.T, s Store) {
	ctx := context.Background()
	teacher, s1, s2, course := seed(t, s)

	assert.Equal(t, "Teacher One", course.TeacherName)
	assert.Equal(t, []string{s1.ID, s2.ID}, course.StudentIDs)

	taken, err := s.CourseCodeTaken(ctx, "math101", "")
	require.NoError(t, err)
	assert.True(t, taken)
	taken, err = s.CourseCodeTaken(ctx, "math101", course.ID)
	require.NoError(t, err)
	assert.False(t, taken)

	_, err = s.CreateCourse(ctx, model.Course{Code: "Math101", Name: "dup", TeacherID: teacher.ID, IsActive: true})
	assert.True(t, errors.Is(err, ErrDuplicate), "got %v", err)

	course.IsActive = false
	course.StudentIDs = []string{s1.ID}
	updated, err := s.UpdateCourse(ctx, course)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.StudentCount())

	active, err := s.ListCourses(ctx, model.CourseFilter{})
	require.NoError(t, err)
	assert.Empty(t, active)
	all, err := s.ListCourses(ctx, model.CourseFilter{IncludeInactive: true, StudentID: s1.ID})
	require.NoError(t, err)
	require.Len(t, all, 1)
	none, err := s.ListCourses(ctx, model.CourseFilter{IncludeInactive: true, StudentID: s2.ID})
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, s.DeleteCourse(ctx, course.ID))
	_, err = s.GetCourse(ctx, course.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteCourse(ctx, course.ID), ErrNotFound)
}

func testLedger(t *testing.T, s Store) {
	ctx := context.Background()
	teacher, s1, s2, course := seed(t, s)
	day := model.NewDate(2025, time.January, 15)

	rec, err := s.InsertRecord(ctx, model.Record{
		UserID: s1.ID, CourseID: course.ID, Date: day, Status: model.StatusPresent, MarkedBy: &teacher.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, "MATH101", rec.CourseCode)
	assert.Equal(t, "Student One", rec.UserName)
	require.NotNil(t, rec.MarkedByName)
	assert.Equal(t, "Teacher One", *rec.MarkedByName)

	_, err = s.InsertRecord(ctx, model.Record{UserID: s1.ID, CourseID: course.ID, Date: day, Status: model.StatusLate})
	assert.ErrorIs(t, err, ErrDuplicate)

	up, created, err := s.UpsertRecord(ctx, model.Record{
		UserID: s1.ID, CourseID: course.ID, Date: day, Status: model.StatusLate, Remarks: "bus", MarkedBy: &teacher.ID,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, rec.ID, up.ID)
	assert.Equal(t, model.StatusLate, up.Status)

	_, created, err = s.UpsertRecord(ctx, model.Record{UserID: s2.ID, CourseID: course.ID, Date: day, Status: model.StatusAbsent})
	require.NoError(t, err)
	assert.True(t, created)

	next := model.NewDate(2025, time.January, 16)
	_, err = s.InsertRecord(ctx, model.Record{UserID: s1.ID, CourseID: course.ID, Date: next, Status: model.StatusExcused})
	require.NoError(t, err)

	list, err := s.ListRecords(ctx, model.RecordFilter{CourseID: course.ID})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, next, list[0].Date)
	assert.Equal(t, "student1", list[1].Username)
	assert.Equal(t, "student2", list[2].Username)
	assert.Nil(t, list[2].MarkedBy)

	asc, err := s.ListRecords(ctx, model.RecordFilter{TeacherID: teacher.ID, Ascending: true, Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, asc, 2)
	assert.Equal(t, "student2", asc[0].Username)
	assert.Equal(t, next, asc[1].Date)

	ranged, err := s.ListRecords(ctx, model.RecordFilter{From: &next, To: &next})
	require.NoError(t, err)
	assert.Len(t, ranged, 1)

	none, err := s.ListRecords(ctx, model.RecordFilter{TeacherID: "someone-else"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	past, err := s.ListRecords(ctx, model.RecordFilter{CourseID: course.ID, Offset: 10})
	require.NoError(t, err)
	assert.NotNil(t, past)
	assert.Empty(t, past)

	rec.Date = next
	_, err = s.UpdateRecord(ctx, rec)
	assert.ErrorIs(t, err, ErrDuplicate)

	require.NoError(t, s.DeleteCourse(ctx, course.ID))
	_, err = s.GetRecord(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func testConcurrentUpsert(t *testing.T, s Store) {
	ctx := context.Background()
	teacher, s1, _, course := seed(t, s)
	day := model.NewDate(2025, time.February, 3)

	const writers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, c, err := s.UpsertRecord(ctx, model.Record{
				UserID: s1.ID, CourseID: course.ID, Date: day, Status: model.StatusPresent, MarkedBy: &teacher.ID,
			})
			assert.NoError(t, err)
			if c {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	list, err := s.ListRecords(ctx, model.RecordFilter{UserID: s1.ID, Date: &day})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func testReports(t *testing.T, s Store) {
	ctx := context.Background()
	teacher, _, _, course := seed(t, s)

	r, err := s.CreateReport(ctx, model.Report{
		GeneratedBy: &teacher.ID, CourseID: &course.ID, ReportType: model.ReportMonthly, Format: "csv",
		StartDate: model.NewDate(2025, time.January, 1), EndDate: model.NewDate(2025, time.January, 31),
	})
	require.NoError(t, err)
	require.NotNil(t, r.GeneratedByName)
	assert.Equal(t, "Teacher One", *r.GeneratedByName)
	assert.Nil(t, r.FileRef)

	require.NoError(t, s.SetReportFile(ctx, r.ID, "https://cdn.example/report.csv"))
	got, err := s.GetReport(ctx, r.ID)
	require.NoError(t, err)
	require.NotNil(t, got.FileRef)
	assert.Equal(t, "https://cdn.example/report.csv", *got.FileRef)

	mine, err := s.ListReports(ctx, model.ReportFilter{GeneratedBy: teacher.ID})
	require.NoError(t, err)
	assert.Len(t, mine, 1)
	theirs, err := s.ListReports(ctx, model.ReportFilter{GeneratedBy: "nobody"})
	require.NoError(t, err)
	assert.Empty(t, theirs)

	require.NoError(t, s.DeleteReport(ctx, r.ID))
	assert.ErrorIs(t, s.DeleteReport(ctx, r.ID), ErrNotFound)
}
