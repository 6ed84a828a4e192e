package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"
)

type fakeJob struct {
	name     string
	schedule string
	err      error
	runs     int
}

func (f *fakeJob) Name() string     { return f.name }
func (f *fakeJob) Schedule() string { return f.schedule }
func (f *fakeJob) Run(context.Context) error {
	f.runs++
	return f.err
}

func TestAddJobRejectsDuplicates(t *testing.T) {
	s := New(nil)
	job := &fakeJob{name: "nightly", schedule: "@daily"}

	if err := s.AddJob(job); err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}
	if err := s.AddJob(job); err == nil {
		t.Fatal("expected duplicate job error")
	}
}

func TestAddJobRejectsBadSchedule(t *testing.T) {
	s := New(nil)
	if err := s.AddJob(&fakeJob{name: "broken", schedule: "not a cron expr"}); err == nil {
		t.Fatal("expected schedule parse error")
	}
	if _, err := s.History("broken"); err == nil {
		t.Fatal("job with bad schedule must not be registered")
	}
}

func TestJobNamesSorted(t *testing.T) {
	s := New(nil)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := s.AddJob(&fakeJob{name: name, schedule: "@daily"}); err != nil {
			t.Fatalf("AddJob(%s): %v", name, err)
		}
	}

	names := s.JobNames()
	want := []string{"alpha", "mid", "zeta"}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %s, want %s", i, names[i], want[i])
		}
	}
}

func TestRunJobUnknown(t *testing.T) {
	s := New(nil)
	if err := s.RunJob("ghost"); err == nil {
		t.Fatal("expected unknown job error")
	}
}

func TestJobHistoryCap(t *testing.T) {
	h := &JobHistory{}
	for i := 0; i < historyLimit+20; i++ {
		h.AddResult(JobResult{JobName: "x", Success: i%2 == 0, Error: fmt.Sprintf("run %d", i)})
	}

	if len(h.Results) != historyLimit {
		t.Fatalf("expected %d retained results, got %d", historyLimit, len(h.Results))
	}
	if got := h.SuccessRate(); got != 0.5 {
		t.Errorf("success rate = %v, want 0.5", got)
	}
	if got := len(h.Latest(10)); got != 10 {
		t.Errorf("Latest(10) returned %d results", got)
	}
	if got := len(h.Failed()); got != historyLimit/2 {
		t.Errorf("Failed() returned %d results", got)
	}
}

func TestJobHistoryEmpty(t *testing.T) {
	h := &JobHistory{}
	if h.SuccessRate() != 0 {
		t.Error("empty history success rate must be 0")
	}
	if len(h.Latest(5)) != 0 {
		t.Error("Latest on empty history must be empty")
	}
}

func TestRetryCountsAttempts(t *testing.T) {
	s := New(nil)
	s.retryDelay = time.Millisecond

	job := &fakeJob{name: "failing", schedule: "@daily", err: fmt.Errorf("boom")}
	s.runJob(job)

	if job.runs != s.maxRetries+1 {
		t.Errorf("expected %d attempts, got %d", s.maxRetries+1, job.runs)
	}
}
