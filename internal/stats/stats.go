// Package stats derives attendance counts from ledger rows. Nothing here is
// stored; every figure is recomputed from the rows it is given.
package stats

import (
	"strconv"

	"rollbook/internal/model"
)

// Tally holds per-status counts over a set of records.
type Tally struct {
	Total      int
	Present    int
	Absent     int
	Late       int
	Excused    int
	UniqueDays int
}

// Count folds records into a Tally.
func Count(records []model.Record) Tally {
	var t Tally
	days := make(map[string]struct{})
	for _, r := range records {
		t.Total++
		switch r.Status {
		case model.StatusPresent:
			t.Present++
		case model.StatusAbsent:
			t.Absent++
		case model.StatusLate:
			t.Late++
		case model.StatusExcused:
			t.Excused++
		}
		days[r.Date.String()] = struct{}{}
	}
	t.UniqueDays = len(days)
	return t
}

// Rate is present/total as a percentage rounded to two decimals; zero when
// total is zero. Rounding is decimal and ties go to even, so 0.125 becomes
// 0.12 and 3.125 becomes 3.12.
func Rate(present, total int) float64 {
	if total <= 0 {
		return 0
	}
	pct := float64(present) / float64(total) * 100
	rounded, err := strconv.ParseFloat(strconv.FormatFloat(pct, 'f', 2, 64), 64)
	if err != nil {
		return pct
	}
	return rounded
}

// Rate returns the attendance rate of the tally.
func (t Tally) Rate() float64 { return Rate(t.Present, t.Total) }
