package results

import (
	"sort"
	"time"
)

// Set is the ordered output of a job: one record per combination, placed at
// its combination index regardless of completion order.
type Set struct {
	JobID      string    `json:"job_id"`
	Records    []Record  `json:"records"`
	Cancelled  bool      `json:"cancelled"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// NewSet allocates a set with n empty slots.
func NewSet(jobID string, n int) *Set {
	return &Set{JobID: jobID, Records: make([]Record, n)}
}

// Place stores rec at its combination index.
func (s *Set) Place(rec Record) {
	i := rec.Index()
	if i < 0 || i >= len(s.Records) {
		return
	}
	s.Records[i] = rec
}

// Len returns the number of records.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Records)
}

// Columns returns the sorted union of every record's keys.
func (s *Set) Columns() []string {
	seen := make(map[string]struct{})
	for _, r := range s.Records {
		for k := range r {
			seen[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// Rows returns record values in Columns order, one row per record. Missing
// keys are nil.
func (s *Set) Rows() [][]any {
	cols := s.Columns()
	rows := make([][]any, 0, len(s.Records))
	for _, r := range s.Records {
		row := make([]any, len(cols))
		for i, c := range cols {
			row[i] = r[c]
		}
		rows = append(rows, row)
	}
	return rows
}

// Summary counts records per terminal status.
func (s *Set) Summary() map[string]int {
	out := map[string]int{
		StatusCompleted: 0,
		StatusStopped:   0,
		StatusFailed:    0,
	}
	for _, r := range s.Records {
		if r == nil {
			continue
		}
		out[r.Status()]++
	}
	return out
}

// Failed returns the records whose interview failed.
func (s *Set) Failed() []Record {
	var out []Record
	for _, r := range s.Records {
		if r.Status() == StatusFailed {
			out = append(out, r)
		}
	}
	return out
}

// Duration returns how long the job ran.
func (s *Set) Duration() time.Duration {
	if s.StartedAt.IsZero() || s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
