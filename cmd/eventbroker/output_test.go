package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/eventbroker/internal/dispatch"
	"github.com/alfredjeanlab/eventbroker/internal/model"
	"github.com/alfredjeanlab/eventbroker/internal/queue"
	"github.com/alfredjeanlab/eventbroker/internal/ui"
	"github.com/alfredjeanlab/eventbroker/internal/watchdog"
)

func init() {
	ui.ForceNoColor()
}

func TestPrintResult(t *testing.T) {
	res := &dispatch.Result{
		Event:   model.Event{EventID: "evt-1", CorrelationID: "corr-1", EventName: "signup", Environment: "live"},
		Skipped: []string{"ghost"},
		Jobs: []dispatch.JobResult{{
			JobID:      "job-1",
			ModuleName: "welcome",
			Acks:       []queue.Ack{{Backend: "sqs", Queue: "run_module_application_event-app"}},
			Outcome:    "completed",
		}},
	}

	var buf bytes.Buffer
	printResult(&buf, res)
	out := buf.String()

	for _, want := range []string{"evt-1", "corr-1", "Status:      done", "Skipped:     ghost", "sqs:run_module_application_event-app", "completed"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintResult_NoWork(t *testing.T) {
	var buf bytes.Buffer
	printResult(&buf, &dispatch.Result{Event: model.Event{EventID: "evt-1"}, NoWork: true})
	out := buf.String()
	if !strings.Contains(out, "no_work") {
		t.Fatalf("expected no_work status:\n%s", out)
	}
	if strings.Contains(out, "JOB") {
		t.Fatalf("expected no jobs table:\n%s", out)
	}
}

func TestPrintJobsTable(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	jobs := []watchdog.Job{
		{JobID: "job-1", ModuleName: "welcome", TrackedAt: now.Add(-time.Minute), Deadline: now.Add(time.Minute)},
		{JobID: "job-2", ModuleName: "billing", TrackedAt: now.Add(-3 * time.Minute), Deadline: now.Add(-time.Minute)},
	}

	var buf bytes.Buffer
	printJobsTable(&buf, jobs, now)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")

	if !strings.Contains(lines[1], "waiting") || !strings.Contains(lines[1], "1m0s") {
		t.Errorf("job-1 line = %q", lines[1])
	}
	if !strings.Contains(lines[2], "overdue") {
		t.Errorf("job-2 line = %q", lines[2])
	}
	if !strings.Contains(buf.String(), "2 outstanding") {
		t.Errorf("missing count:\n%s", buf.String())
	}
}

func TestPrintJobsTable_Empty(t *testing.T) {
	var buf bytes.Buffer
	printJobsTable(&buf, nil, time.Now())
	if got := strings.TrimSpace(buf.String()); got != "No outstanding jobs." {
		t.Fatalf("got %q", got)
	}
}

func TestPrintExecutionsTable_TruncatesMessage(t *testing.T) {
	var buf bytes.Buffer
	printExecutionsTable(&buf, []*model.ExecutionLog{{
		ID:      1,
		Type:    model.ExecutionLogModule,
		Message: strings.Repeat("x", 80),
	}})
	if !strings.Contains(buf.String(), strings.Repeat("x", 57)+"...") {
		t.Fatalf("message not truncated:\n%s", buf.String())
	}
}

func TestEventFromFlags(t *testing.T) {
	cmd := emitCmd
	t.Cleanup(func() {
		for _, f := range []string{"app", "env", "session", "bucket"} {
			_ = cmd.Flags().Set(f, "")
		}
	})
	_ = cmd.Flags().Set("app", "app-1")
	_ = cmd.Flags().Set("session", "sess-1")

	ev, err := eventFromFlags(cmd, "signup")
	if err != nil {
		t.Fatalf("eventFromFlags: %v", err)
	}
	if ev.ApplicationID != "app-1" || ev.EventName != "signup" || ev.SessionID != "sess-1" {
		t.Fatalf("event = %+v", ev)
	}

	_ = cmd.Flags().Set("app", "")
	if _, err := eventFromFlags(cmd, "signup"); err == nil {
		t.Fatal("expected error without --app")
	}
}

func TestNewLogger(t *testing.T) {
	if _, err := newLogger("debug"); err != nil {
		t.Fatalf("debug: %v", err)
	}
	if _, err := newLogger("chatty"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNewLogger_AlertLevel(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  string
	}{
		{level: watchdog.LevelAlert, want: "level=ALERT"},
		{level: slog.LevelError, want: "level=ERROR"},
		{level: slog.LevelWarn, want: "level=WARN"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := newLoggerTo(&buf, "info")
			if err != nil {
				t.Fatalf("newLoggerTo: %v", err)
			}
			logger.Log(context.Background(), tt.level, "watchdog: job stuck past deadline")
			if !strings.Contains(buf.String(), tt.want+" ") {
				t.Errorf("output = %q, want %s", buf.String(), tt.want)
			}
		})
	}
}

func TestColorizeHelpOutput_Plain(t *testing.T) {
	in := "Jobs:\n  job         Acknowledge jobs\n"
	if got := colorizeHelpOutput(in); got != in {
		t.Fatalf("colorizeHelpOutput with color disabled = %q", got)
	}
}
