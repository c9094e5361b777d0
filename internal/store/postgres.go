package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"rollbook/internal/model"
)

// Postgres persists the registry, ledger and report metadata.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a store over an open pgx-backed sql.DB.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Ping checks database connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// translate maps driver errors onto the store sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
		case "23503":
			return fmt.Errorf("%w: %s", ErrNotFound, pgErr.ConstraintName)
		}
	}
	return err
}

// where accumulates positional predicates.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(expr string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, strings.ReplaceAll(expr, "?", "$"+strconv.Itoa(len(w.args))))
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// -------- Directory --------

// SyncUser upserts a mirrored identity.
func (p *Postgres) SyncUser(ctx context.Context, u model.User) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO users (id, username, full_name, email, role)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			username = EXCLUDED.username,
			full_name = COALESCE(NULLIF(EXCLUDED.full_name, ''), users.full_name),
			email = COALESCE(NULLIF(EXCLUDED.email, ''), users.email),
			role = EXCLUDED.role,
			updated_at = NOW()
	`, u.ID, u.Username, u.FullName, u.Email, string(u.Role))
	return translate(err)
}

// GetUser returns a mirrored identity by id.
func (p *Postgres) GetUser(ctx context.Context, id string) (model.User, error) {
	var u model.User
	var role string
	err := p.db.QueryRowContext(ctx, `
		SELECT id, username, full_name, email, role, updated_at FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Username, &u.FullName, &u.Email, &role, &u.UpdatedAt)
	if err != nil {
		return model.User{}, translate(err)
	}
	u.Role = model.Role(role)
	return u, nil
}

// ListUsers returns mirrored identities, optionally by role.
func (p *Postgres) ListUsers(ctx context.Context, role model.Role) ([]model.User, error) {
	var w where
	if role != "" {
		w.add("role = ?", string(role))
	}
	rows, err := p.db.QueryContext(ctx, `SELECT id, username, full_name, email, role, updated_at FROM users`+w.String()+` ORDER BY username`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	users := make([]model.User, 0)
	for rows.Next() {
		var u model.User
		var r string
		if err := rows.Scan(&u.ID, &u.Username, &u.FullName, &u.Email, &r, &u.UpdatedAt); err != nil {
			return nil, err
		}
		u.Role = model.Role(r)
		users = append(users, u)
	}
	return users, rows.Err()
}

// -------- Courses --------

const courseColumns = `c.id, c.code, c.name, c.description, c.teacher_id,
	COALESCE(NULLIF(t.full_name, ''), t.username, ''), c.is_active, c.created_at, c.updated_at`

func scanCourse(row interface{ Scan(...any) error }) (model.Course, error) {
	var c model.Course
	err := row.Scan(&c.ID, &c.Code, &c.Name, &c.Description, &c.TeacherID, &c.TeacherName, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// CreateCourse inserts a course and its enrollment set in one transaction.
func (p *Postgres) CreateCourse(ctx context.Context, c model.Course) (model.Course, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Course{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO courses (id, code, name, description, teacher_id, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, c.ID, c.Code, c.Name, c.Description, c.TeacherID, c.IsActive); err != nil {
		return model.Course{}, translate(err)
	}
	if err := replaceStudents(ctx, tx, c.ID, c.StudentIDs); err != nil {
		return model.Course{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Course{}, err
	}
	return p.GetCourse(ctx, c.ID)
}

// UpdateCourse overwrites course fields and its enrollment set.
func (p *Postgres) UpdateCourse(ctx context.Context, c model.Course) (model.Course, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Course{}, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE courses
		SET code = $2, name = $3, description = $4, teacher_id = $5, is_active = $6, updated_at = NOW()
		WHERE id = $1
	`, c.ID, c.Code, c.Name, c.Description, c.TeacherID, c.IsActive)
	if err != nil {
		return model.Course{}, translate(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Course{}, ErrNotFound
	}
	if err := replaceStudents(ctx, tx, c.ID, c.StudentIDs); err != nil {
		return model.Course{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Course{}, err
	}
	return p.GetCourse(ctx, c.ID)
}

func replaceStudents(ctx context.Context, tx *sql.Tx, courseID string, studentIDs []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM course_students WHERE course_id = $1`, courseID); err != nil {
		return err
	}
	for _, sid := range studentIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO course_students (course_id, user_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, courseID, sid); err != nil {
			return translate(err)
		}
	}
	return nil
}

// DeleteCourse removes a course; its records cascade.
func (p *Postgres) DeleteCourse(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM courses WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetCourse returns a course with its enrollment set.
func (p *Postgres) GetCourse(ctx context.Context, id string) (model.Course, error) {
	c, err := scanCourse(p.db.QueryRowContext(ctx, `
		SELECT `+courseColumns+`
		FROM courses c LEFT JOIN users t ON t.id = c.teacher_id
		WHERE c.id = $1
	`, id))
	if err != nil {
		return model.Course{}, translate(err)
	}
	students, err := p.enrollments(ctx, []string{c.ID})
	if err != nil {
		return model.Course{}, err
	}
	c.StudentIDs = students[c.ID]
	return c, nil
}

// ListCourses returns courses ordered by code.
func (p *Postgres) ListCourses(ctx context.Context, f model.CourseFilter) ([]model.Course, error) {
	var w where
	if !f.IncludeInactive {
		w.clauses = append(w.clauses, "c.is_active")
	}
	if f.TeacherID != "" {
		w.add("c.teacher_id = ?", f.TeacherID)
	}
	if f.StudentID != "" {
		w.add("EXISTS (SELECT 1 FROM course_students cs WHERE cs.course_id = c.id AND cs.user_id = ?)", f.StudentID)
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+courseColumns+`
		FROM courses c LEFT JOIN users t ON t.id = c.teacher_id`+w.String()+`
		ORDER BY c.code
	`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	courses := make([]model.Course, 0)
	var ids []string
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, err
		}
		courses = append(courses, c)
		ids = append(ids, c.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return courses, nil
	}
	students, err := p.enrollments(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range courses {
		courses[i].StudentIDs = students[courses[i].ID]
	}
	return courses, nil
}

func (p *Postgres) enrollments(ctx context.Context, courseIDs []string) (map[string][]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT course_id, user_id FROM course_students
		WHERE course_id = ANY($1)
		ORDER BY user_id
	`, courseIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string][]string, len(courseIDs))
	for rows.Next() {
		var cid, uid string
		if err := rows.Scan(&cid, &uid); err != nil {
			return nil, err
		}
		out[cid] = append(out[cid], uid)
	}
	return out, rows.Err()
}

// CourseCodeTaken reports whether another course already uses code, ignoring case.
func (p *Postgres) CourseCodeTaken(ctx context.Context, code, exceptID string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM courses WHERE UPPER(code) = UPPER($1) AND id <> $2)
	`, code, exceptID).Scan(&exists)
	return exists, err
}

// -------- Ledger --------

const recordSelect = `
	SELECT a.id, a.user_id, u.username, COALESCE(NULLIF(u.full_name, ''), u.username),
		a.course_id, c.code, c.name, a.date, a.status, a.remarks,
		a.marked_by, COALESCE(NULLIF(m.full_name, ''), m.username),
		a.created_at, a.updated_at
	FROM attendance_records a
	JOIN users u ON u.id = a.user_id
	JOIN courses c ON c.id = a.course_id
	LEFT JOIN users m ON m.id = a.marked_by`

func scanRecord(row interface{ Scan(...any) error }) (model.Record, error) {
	var (
		r          model.Record
		day        time.Time
		status     string
		markedBy   sql.NullString
		markedName sql.NullString
	)
	if err := row.Scan(&r.ID, &r.UserID, &r.Username, &r.UserName, &r.CourseID, &r.CourseCode, &r.CourseName,
		&day, &status, &r.Remarks, &markedBy, &markedName, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return model.Record{}, err
	}
	r.Date = model.DateOf(day)
	r.Status = model.Status(status)
	if markedBy.Valid {
		r.MarkedBy = &markedBy.String
	}
	if markedName.Valid {
		r.MarkedByName = &markedName.String
	}
	return r, nil
}

// InsertRecord creates a record; an existing (user, course, date) row yields ErrDuplicate.
func (p *Postgres) InsertRecord(ctx context.Context, r model.Record) (model.Record, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, user_id, course_id, date, status, remarks, marked_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, r.ID, r.UserID, r.CourseID, r.Date.Time, string(r.Status), r.Remarks, r.MarkedBy)
	if err != nil {
		return model.Record{}, translate(err)
	}
	return p.GetRecord(ctx, r.ID)
}

// UpsertRecord creates or overwrites the row for (user, course, date) in a
// single statement, so concurrent writers for one key serialize on the
// unique constraint.
func (p *Postgres) UpsertRecord(ctx context.Context, r model.Record) (model.Record, bool, error) {
	var (
		id       string
		inserted bool
	)
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (id, user_id, course_id, date, status, remarks, marked_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, course_id, date) DO UPDATE SET
			status = EXCLUDED.status,
			remarks = EXCLUDED.remarks,
			marked_by = EXCLUDED.marked_by,
			updated_at = NOW()
		RETURNING id, (xmax = 0)
	`, uuid.NewString(), r.UserID, r.CourseID, r.Date.Time, string(r.Status), r.Remarks, r.MarkedBy).Scan(&id, &inserted)
	if err != nil {
		return model.Record{}, false, translate(err)
	}
	rec, err := p.GetRecord(ctx, id)
	return rec, inserted, err
}

// UpdateRecord overwrites the mutable fields of an existing record.
func (p *Postgres) UpdateRecord(ctx context.Context, r model.Record) (model.Record, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE attendance_records
		SET date = $2, status = $3, remarks = $4, marked_by = $5, updated_at = NOW()
		WHERE id = $1
	`, r.ID, r.Date.Time, string(r.Status), r.Remarks, r.MarkedBy)
	if err != nil {
		return model.Record{}, translate(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Record{}, ErrNotFound
	}
	return p.GetRecord(ctx, r.ID)
}

// GetRecord returns a single record by id.
func (p *Postgres) GetRecord(ctx context.Context, id string) (model.Record, error) {
	r, err := scanRecord(p.db.QueryRowContext(ctx, recordSelect+` WHERE a.id = $1`, id))
	if err != nil {
		return model.Record{}, translate(err)
	}
	return r, nil
}

// DeleteRecord removes a record.
func (p *Postgres) DeleteRecord(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM attendance_records WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRecords returns records matching f, newest first unless f.Ascending.
func (p *Postgres) ListRecords(ctx context.Context, f model.RecordFilter) ([]model.Record, error) {
	var w where
	if f.UserID != "" {
		w.add("a.user_id = ?", f.UserID)
	}
	if f.CourseID != "" {
		w.add("a.course_id = ?", f.CourseID)
	}
	if f.TeacherID != "" {
		w.add("c.teacher_id = ?", f.TeacherID)
	}
	if f.Date != nil {
		w.add("a.date = ?", f.Date.Time)
	}
	if f.From != nil {
		w.add("a.date >= ?", f.From.Time)
	}
	if f.To != nil {
		w.add("a.date <= ?", f.To.Time)
	}
	query := recordSelect + w.String()
	if f.Ascending {
		query += " ORDER BY a.date ASC, c.code, u.username"
	} else {
		query += " ORDER BY a.date DESC, c.code, u.username"
	}
	if f.Limit > 0 {
		w.args = append(w.args, f.Limit)
		query += " LIMIT $" + strconv.Itoa(len(w.args))
	}
	if f.Offset > 0 {
		w.args = append(w.args, f.Offset)
		query += " OFFSET $" + strconv.Itoa(len(w.args))
	}

	rows, err := p.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := make([]model.Record, 0)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

// -------- Reports --------

const reportSelect = `
	SELECT r.id, r.generated_by, COALESCE(NULLIF(g.full_name, ''), g.username),
		r.course_id, r.report_type, r.format, r.start_date, r.end_date, r.file_ref, r.created_at
	FROM attendance_reports r
	LEFT JOIN users g ON g.id = r.generated_by`

func scanReport(row interface{ Scan(...any) error }) (model.Report, error) {
	var (
		r          model.Report
		genBy      sql.NullString
		genByName  sql.NullString
		courseID   sql.NullString
		fileRef    sql.NullString
		reportType string
		start, end time.Time
	)
	if err := row.Scan(&r.ID, &genBy, &genByName, &courseID, &reportType, &r.Format, &start, &end, &fileRef, &r.CreatedAt); err != nil {
		return model.Report{}, err
	}
	r.ReportType = model.ReportType(reportType)
	r.StartDate = model.DateOf(start)
	r.EndDate = model.DateOf(end)
	r.GeneratedBy = nullable(genBy)
	r.GeneratedByName = nullable(genByName)
	r.CourseID = nullable(courseID)
	r.FileRef = nullable(fileRef)
	return r, nil
}

func nullable(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

// CreateReport stores report metadata.
func (p *Postgres) CreateReport(ctx context.Context, r model.Report) (model.Report, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO attendance_reports (id, generated_by, course_id, report_type, format, start_date, end_date, file_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, r.ID, r.GeneratedBy, r.CourseID, string(r.ReportType), r.Format, r.StartDate.Time, r.EndDate.Time, r.FileRef)
	if err != nil {
		return model.Report{}, translate(err)
	}
	return p.GetReport(ctx, r.ID)
}

// GetReport returns report metadata by id.
func (p *Postgres) GetReport(ctx context.Context, id string) (model.Report, error) {
	r, err := scanReport(p.db.QueryRowContext(ctx, reportSelect+` WHERE r.id = $1`, id))
	if err != nil {
		return model.Report{}, translate(err)
	}
	return r, nil
}

// ListReports returns report metadata, newest first.
func (p *Postgres) ListReports(ctx context.Context, f model.ReportFilter) ([]model.Report, error) {
	var w where
	if f.GeneratedBy != "" {
		w.add("r.generated_by = ?", f.GeneratedBy)
	}
	rows, err := p.db.QueryContext(ctx, reportSelect+w.String()+` ORDER BY r.created_at DESC`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := make([]model.Report, 0)
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

// DeleteReport removes report metadata.
func (p *Postgres) DeleteReport(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM attendance_reports WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetReportFile records where the archived export lives.
func (p *Postgres) SetReportFile(ctx context.Context, id, ref string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE attendance_reports SET file_ref = $2 WHERE id = $1`, id, ref)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
