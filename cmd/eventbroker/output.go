package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/alfredjeanlab/eventbroker/internal/dispatch"
	"github.com/alfredjeanlab/eventbroker/internal/model"
	"github.com/alfredjeanlab/eventbroker/internal/ui"
	"github.com/alfredjeanlab/eventbroker/internal/watchdog"
)

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func printResult(w io.Writer, res *dispatch.Result) {
	fmt.Fprintf(w, "Event:       %s\n", res.Event.EventID)
	fmt.Fprintf(w, "Correlation: %s\n", res.Event.CorrelationID)
	fmt.Fprintf(w, "Name:        %s\n", res.Event.EventName)
	fmt.Fprintf(w, "Environment: %s\n", res.Event.Environment)
	if res.NoWork {
		fmt.Fprintf(w, "Status:      %s\n", ui.RenderOutcome("no_work"))
	} else {
		fmt.Fprintf(w, "Status:      %s\n", ui.RenderOutcome("done"))
	}
	if len(res.Skipped) > 0 {
		fmt.Fprintf(w, "Skipped:     %s\n", strings.Join(res.Skipped, ", "))
	}
	if len(res.Jobs) == 0 {
		return
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tMODULE\tQUEUES\tOUTCOME")
	for _, j := range res.Jobs {
		queues := make([]string, 0, len(j.Acks))
		for _, a := range j.Acks {
			queues = append(queues, a.Backend+":"+a.Queue)
		}
		outcome := j.Outcome
		if outcome == "" {
			outcome = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", j.JobID, j.ModuleName, strings.Join(queues, ","), ui.RenderOutcome(outcome))
	}
	tw.Flush()
}

func printJobsTable(w io.Writer, jobs []watchdog.Job, now time.Time) {
	if len(jobs) == 0 {
		fmt.Fprintln(w, "No outstanding jobs.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tMODULE\tEVENT\tAPPLICATION\tAGE\tSTATUS")
	for _, j := range jobs {
		status := "waiting"
		if now.After(j.Deadline) {
			status = "overdue"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			j.JobID,
			j.ModuleName,
			j.EventName,
			j.ApplicationID,
			now.Sub(j.TrackedAt).Truncate(time.Second),
			ui.RenderOutcome(status),
		)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d outstanding\n", len(jobs))
}

func printExecutionsTable(w io.Writer, logs []*model.ExecutionLog) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tTYPE\tEVENT\tMODULE\tMESSAGE")
	for _, l := range logs {
		msg := l.Message
		if len(msg) > 60 {
			msg = msg[:57] + "..."
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			l.ID,
			l.CreatedAt.Format("2006-01-02 15:04:05"),
			l.Type,
			l.EventID,
			l.ModuleName,
			msg,
		)
	}
	tw.Flush()
}
