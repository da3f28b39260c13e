package types

import "testing"

func TestJobStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		want     bool
	}{
		{JobQueued, JobRunning, true},
		{JobQueued, JobFailed, true},
		{JobQueued, JobCompleted, false},
		{JobRunning, JobCompleted, true},
		{JobRunning, JobFailed, true},
		{JobRunning, JobQueued, false},
		{JobCompleted, JobRunning, false},
		{JobFailed, JobRunning, false},
		{JobCompleted, JobCompleted, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSplitBatches(t *testing.T) {
	batches := SplitBatches("j1", PageRange{Start: 3, End: 14}, 5)
	if len(batches) != 3 {
		t.Fatalf("len = %d, want 3", len(batches))
	}
	want := [][2]int{{3, 7}, {8, 12}, {13, 14}}
	for i, b := range batches {
		if b.Index != i || b.PageStart != want[i][0] || b.PageEnd != want[i][1] {
			t.Errorf("batch %d = %+v, want pages %v", i, b, want[i])
		}
		if b.Status != BatchPending || b.JobID != "j1" {
			t.Errorf("batch %d = %+v", i, b)
		}
	}
	if got := batches[2].Pages(); len(got) != 2 || got[0] != 13 || got[1] != 14 {
		t.Errorf("Pages() = %v", got)
	}
}

func TestBatchCount(t *testing.T) {
	tests := []struct {
		r    PageRange
		size int
	}{
		{PageRange{Start: 3, End: 14}, 5},
		{PageRange{Start: 1, End: 10}, 5},
		{PageRange{Start: 1, End: 1}, 4},
		{PageRange{Start: 2, End: 9}, 0},
		{PageRange{Start: 5, End: 4}, 3},
	}
	for _, tt := range tests {
		want := len(SplitBatches("j", tt.r, tt.size))
		if got := BatchCount(tt.r, tt.size); got != want {
			t.Errorf("BatchCount(%+v, %d) = %d, want %d", tt.r, tt.size, got, want)
		}
	}
	if got := BatchCount(PageRange{Start: 1, End: 20_000_000}, 1); got != 20_000_000 {
		t.Errorf("BatchCount(huge) = %d", got)
	}
}

func TestJob_Progress(t *testing.T) {
	j := &Job{TotalBatches: 3, ProcessedBatches: 1}
	j.UpdateProgress()
	if j.ProgressPercent != 33 {
		t.Errorf("ProgressPercent = %d, want 33", j.ProgressPercent)
	}
	if j.Remaining() != 2 {
		t.Errorf("Remaining() = %d, want 2", j.Remaining())
	}
	j.ProcessedBatches = 3
	j.UpdateProgress()
	if j.ProgressPercent != 100 || j.Remaining() != 0 {
		t.Errorf("progress = %d remaining = %d", j.ProgressPercent, j.Remaining())
	}
}

func TestParseSeverity(t *testing.T) {
	tests := map[string]Severity{
		"Critical": SeverityCritical,
		"high":     SeverityHigh,
		"MEDIUM":   SeverityMedium,
		"low":      SeverityLow,
		"info":     SeverityInfo,
		"":         SeverityMedium,
		"weird":    SeverityMedium,
	}
	for in, want := range tests {
		if got := ParseSeverity(in); got != want {
			t.Errorf("ParseSeverity(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestParseJobMode(t *testing.T) {
	if m, ok := ParseJobMode(""); !ok || m != ModeTakeoff {
		t.Errorf("ParseJobMode(\"\") = %s, %v", m, ok)
	}
	if m, ok := ParseJobMode("full"); !ok || m != ModeFull {
		t.Errorf("ParseJobMode(full) = %s, %v", m, ok)
	}
	if _, ok := ParseJobMode("bogus"); ok {
		t.Error("expected bogus mode to be rejected")
	}
}
