// Package metrics is the process-wide metrics facade. Pipeline code records
// through the package functions; the binary picks a Backend at startup. With
// no backend set every call is a no-op.
package metrics

import (
	"sync/atomic"
	"time"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric events. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

// Metric names understood by the backends.
const (
	StepTotal         = "import_step_total"
	StepDuration      = "import_step_duration_seconds"
	RowsTotal         = "import_rows_total"
	BatchesTotal      = "import_batches_total"
	JobsTotal         = "import_jobs_total"
	JobDuration       = "import_job_duration_seconds"
	DecodeIssuesTotal = "import_decode_issues_total"
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

type holder struct{ b Backend }

var current atomic.Pointer[holder]

func init() {
	current.Store(&holder{b: nopBackend{}})
}

// SetBackend installs b. A nil b restores the no-op backend.
func SetBackend(b Backend) {
	if b == nil {
		b = nopBackend{}
	}
	current.Store(&holder{b: b})
}

func backend() Backend { return current.Load().b }

func IncCounter(name string, delta float64, labels Labels) {
	backend().IncCounter(name, delta, labels)
}

func ObserveHistogram(name string, value float64, labels Labels) {
	backend().ObserveHistogram(name, value, labels)
}

// Flush forwards to the installed backend.
func Flush() error { return backend().Flush() }

// RecordStep counts one pipeline stage and records how long it took.
// status is "ok" or "error".
func RecordStep(step, status string, d time.Duration) {
	l := Labels{"step": step, "status": status}
	IncCounter(StepTotal, 1, l)
	ObserveHistogram(StepDuration, d.Seconds(), l)
}

// RecordBatch counts one decoded batch of n rows.
func RecordBatch(n int) {
	IncCounter(BatchesTotal, 1, nil)
	IncCounter(RowsTotal, float64(n), nil)
}

// RecordJob counts a finished job by terminal status and its wall time.
func RecordJob(status string, d time.Duration) {
	l := Labels{"status": status}
	IncCounter(JobsTotal, 1, l)
	ObserveHistogram(JobDuration, d.Seconds(), l)
}

// StatusOf maps an error to the status label used by RecordStep.
func StatusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
