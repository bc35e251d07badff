package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type recorded struct {
	name   string
	value  float64
	labels Labels
}

type recordingBackend struct {
	mu       sync.Mutex
	counters []recorded
	hists    []recorded
	flushes  int
}

func (r *recordingBackend) IncCounter(name string, delta float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters = append(r.counters, recorded{name, delta, labels})
}

func (r *recordingBackend) ObserveHistogram(name string, value float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hists = append(r.hists, recorded{name, value, labels})
}

func (r *recordingBackend) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushes++
	return nil
}

// Tests in this file swap the global backend and must not run in parallel.

func TestHelpersReachBackend(t *testing.T) {
	rb := &recordingBackend{}
	SetBackend(rb)
	t.Cleanup(func() { SetBackend(nil) })

	RecordStep("decode", "ok", 1500*time.Millisecond)
	RecordBatch(250)
	RecordJob("completed", 2*time.Second)
	if err := Flush(); err != nil {
		t.Fatal(err)
	}

	wantCounters := []recorded{
		{StepTotal, 1, Labels{"step": "decode", "status": "ok"}},
		{BatchesTotal, 1, nil},
		{RowsTotal, 250, nil},
		{JobsTotal, 1, Labels{"status": "completed"}},
	}
	if len(rb.counters) != len(wantCounters) {
		t.Fatalf("counters = %+v", rb.counters)
	}
	for i, w := range wantCounters {
		got := rb.counters[i]
		if got.name != w.name || got.value != w.value || got.labels["status"] != w.labels["status"] {
			t.Fatalf("counter[%d] = %+v; want %+v", i, got, w)
		}
	}
	if len(rb.hists) != 2 || rb.hists[0].value != 1.5 || rb.hists[1].name != JobDuration {
		t.Fatalf("hists = %+v", rb.hists)
	}
	if rb.flushes != 1 {
		t.Fatalf("flushes = %d", rb.flushes)
	}
}

func TestNilBackendIsNop(t *testing.T) {
	SetBackend(nil)
	IncCounter(RowsTotal, 1, nil)
	if err := Flush(); err != nil {
		t.Fatalf("nop Flush err = %v", err)
	}
}

func TestStatusOf(t *testing.T) {
	if StatusOf(nil) != "ok" || StatusOf(errors.New("x")) != "error" {
		t.Fatal("StatusOf mismatch")
	}
}
