package report

import (
	"encoding/csv"
	"io"
	"strconv"

	"rollbook/internal/apperr"
	"rollbook/internal/model"
	"rollbook/internal/stats"
)

// Formatter turns ledger rows and their tally into an export file.
type Formatter interface {
	Extension() string
	ContentType() string
	Format(w io.Writer, rows []model.Record, t stats.Tally) error
}

// Formats lists every format a request may name. Only those with a
// registered Formatter can be produced.
var Formats = []string{"csv", "excel", "pdf"}

var formatters = map[string]Formatter{
	"csv": CSV{},
}

// Lookup returns the formatter for name. Known formats without an
// implementation yield apperr.ErrUnsupportedFormat.
func Lookup(name string) (Formatter, error) {
	if f, ok := formatters[name]; ok {
		return f, nil
	}
	for _, known := range Formats {
		if known == name {
			return nil, apperr.ErrUnsupportedFormat
		}
	}
	return nil, apperr.Field("format", strconv.Quote(name)+" is not a valid choice.")
}

// CSVHeader is the column order of CSV exports.
var CSVHeader = []string{
	"Date", "Course Code", "Course Name", "Student Username", "Student Name",
	"Status", "Remarks", "Marked By",
}

// CSV writes one row per record followed by a summary block.
type CSV struct{}

func (CSV) Extension() string   { return "csv" }
func (CSV) ContentType() string { return "text/csv" }

func (CSV) Format(w io.Writer, rows []model.Record, t stats.Tally) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, r := range rows {
		markedBy := "N/A"
		if r.MarkedByName != nil {
			markedBy = *r.MarkedByName
		}
		if err := cw.Write([]string{
			r.Date.String(), r.CourseCode, r.CourseName, r.Username, r.UserName,
			r.Status.Display(), r.Remarks, markedBy,
		}); err != nil {
			return err
		}
	}
	summary := [][]string{
		{},
		{"SUMMARY"},
		{"Total Records", strconv.Itoa(t.Total)},
		{"Present", strconv.Itoa(t.Present)},
		{"Absent", strconv.Itoa(t.Absent)},
		{"Late", strconv.Itoa(t.Late)},
		{"Excused", strconv.Itoa(t.Excused)},
	}
	if err := cw.WriteAll(summary); err != nil {
		return err
	}
	return cw.Error()
}
