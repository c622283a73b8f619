package bench

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestReportSummaries(t *testing.T) {
	report := &Report{}
	report.Add(Sample{Backend: "redis", Mode: ModePush, Tasks: 1000, Elapsed: 100 * time.Millisecond})
	report.Add(Sample{Backend: "redis", Mode: ModePush, Tasks: 1000, Elapsed: 300 * time.Millisecond})
	report.Add(Sample{Backend: "redis", Mode: ModePush, Tasks: 1000, Err: errors.New("timeout")})
	report.Add(Sample{Backend: "memory", Mode: ModeConsume, Tasks: 1000, Elapsed: 10 * time.Millisecond})

	summaries := report.Summaries()
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}
	redis := summaries[0]
	if redis.Backend != "redis" || redis.Runs != 2 || redis.Failed != 1 {
		t.Fatalf("unexpected redis summary %+v", redis)
	}
	if redis.Min != 100*time.Millisecond || redis.Max != 300*time.Millisecond || redis.Mean != 200*time.Millisecond {
		t.Fatalf("unexpected redis timings %+v", redis)
	}
	if redis.Throughput != 5000 {
		t.Fatalf("expected 5000 tasks/s, got %v", redis.Throughput)
	}
	if redis.LastError == nil {
		t.Fatal("expected last error to be kept")
	}
	if report.Failed() != 1 {
		t.Fatalf("expected 1 failed sample, got %d", report.Failed())
	}
}

func TestReportRender(t *testing.T) {
	report := &Report{}
	report.Add(Sample{Backend: "sqlite_in_memory", Mode: ModeConsume, Tasks: 10, Elapsed: time.Millisecond})
	report.Add(Sample{Backend: "postgres_basic", Mode: ModePush, Tasks: 10, Err: errors.New("refused")})

	var buf bytes.Buffer
	report.Render(&buf)
	out := buf.String()
	for _, want := range []string{"backend", "sqlite_in_memory", "postgres_basic", "tasks/s", "1ms"} {
		if !strings.Contains(out, want) {
			t.Fatalf("rendered table missing %q:\n%s", want, out)
		}
	}
}

func TestSampleThroughput(t *testing.T) {
	if (Sample{Tasks: 10}).Throughput() != 0 {
		t.Fatal("zero elapsed must not divide by zero")
	}
	if got := (Sample{Tasks: 10, Elapsed: time.Second}).Throughput(); got != 10 {
		t.Fatalf("expected 10 tasks/s, got %v", got)
	}
}
