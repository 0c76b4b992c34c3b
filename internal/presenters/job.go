package presenters

import (
	"fmt"
	"path"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/glizzus/opuskit/internal/pipeline"
	"github.com/glizzus/opuskit/internal/repository"
)

const noJobsFound = "No jobs found.\n"

// BuildJobList renders jobs as an aligned table, newest first as given.
func BuildJobList(jobs []repository.JobRecord) string {
	if len(jobs) == 0 {
		return noJobsFound
	}

	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tSTATUS\tDURATION\tINPUT\tOUTPUT\tERROR")
	for _, job := range jobs {
		duration := "-"
		if job.Status == repository.StatusCompleted {
			duration = fmt.Sprintf("%d ms", job.DurationMs)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			job.ID, job.Kind, job.Status, duration, job.Input, orDash(job.Output), orDash(job.Error))
	}
	tw.Flush()
	return b.String()
}

// BuildResult summarizes a finished run.
func BuildResult(res pipeline.Result, took time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Wrote %s: %d ms, %d Hz, %d channels", res.OutputPath, res.DurationMs, res.SampleRate, res.Channels)
	if res.PreSkip > 0 {
		fmt.Fprintf(&b, ", pre-skip %d", res.PreSkip)
	}
	if res.Concealed > 0 {
		fmt.Fprintf(&b, ", %d concealed frames", res.Concealed)
	}
	fmt.Fprintf(&b, " (took %s)", took.Round(time.Millisecond))
	return b.String()
}

// BuildFramesHint tells how to decode a .frames output, which keeps no
// header. It is empty for any other output.
func BuildFramesHint(res pipeline.Result) string {
	if !strings.EqualFold(path.Ext(res.OutputPath), pipeline.FramesExt) {
		return ""
	}
	return fmt.Sprintf("Decode %s with --frames-channels %d --pre-skip %d", res.OutputPath, res.Channels, res.PreSkip)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
