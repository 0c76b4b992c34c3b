package presenters_test

import (
	"strings"
	"testing"
	"time"

	"github.com/glizzus/opuskit/internal/pipeline"
	"github.com/glizzus/opuskit/internal/presenters"
	"github.com/glizzus/opuskit/internal/repository"
	"github.com/google/go-cmp/cmp"
)

func TestBuildJobList(t *testing.T) {
	tests := []struct {
		name  string
		input []repository.JobRecord
		want  [][]string
	}{
		{
			name:  "no jobs",
			input: []repository.JobRecord{},
			want:  [][]string{{"No", "jobs", "found."}},
		},
		{
			name: "any jobs",
			input: []repository.JobRecord{
				{
					ID:         "job-2",
					Kind:       "encode",
					Input:      "in.wav",
					Output:     "s3://media/in.opus",
					Status:     repository.StatusCompleted,
					DurationMs: 1500,
				},
				{
					ID:     "job-1",
					Kind:   "decode",
					Input:  "broken.opus",
					Status: repository.StatusFailed,
					Error:  "corrupt",
				},
			},
			want: [][]string{
				{"ID", "KIND", "STATUS", "DURATION", "INPUT", "OUTPUT", "ERROR"},
				{"job-2", "encode", "completed", "1500", "ms", "in.wav", "s3://media/in.opus", "-"},
				{"job-1", "decode", "failed", "-", "broken.opus", "-", "corrupt"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := presenters.BuildJobList(tt.input)
			var got [][]string
			for line := range strings.Lines(out) {
				got = append(got, strings.Fields(line))
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("BuildJobList() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBuildJobListAligned(t *testing.T) {
	out := presenters.BuildJobList([]repository.JobRecord{
		{ID: "a", Kind: "remux", Status: repository.StatusQueued, Input: "x.ogg"},
		{ID: "a-much-longer-id", Kind: "remux", Status: repository.StatusQueued, Input: "y.ogg"},
	})
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	col := strings.Index(lines[0], "KIND")
	for _, line := range lines[1:] {
		if strings.Index(line, "remux") != col {
			t.Errorf("KIND column not aligned in %q", line)
		}
	}
}

func TestBuildResult(t *testing.T) {
	tests := []struct {
		name string
		res  pipeline.Result
		took time.Duration
		want string
	}{
		{
			name: "decode",
			res:  pipeline.Result{OutputPath: "out.wav", DurationMs: 2000, SampleRate: 48000, Channels: 2},
			took: 1234567 * time.Microsecond,
			want: "Wrote out.wav: 2000 ms, 48000 Hz, 2 channels (took 1.235s)",
		},
		{
			name: "encode with concealment",
			res:  pipeline.Result{OutputPath: "out.opus", DurationMs: 20, SampleRate: 16000, Channels: 1, PreSkip: 312, Concealed: 2},
			took: 5 * time.Millisecond,
			want: "Wrote out.opus: 20 ms, 16000 Hz, 1 channels, pre-skip 312, 2 concealed frames (took 5ms)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := presenters.BuildResult(tt.res, tt.took); got != tt.want {
				t.Errorf("BuildResult() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildFramesHint(t *testing.T) {
	tests := []struct {
		name string
		res  pipeline.Result
		want string
	}{
		{
			name: "frames",
			res:  pipeline.Result{OutputPath: "s3://media/talk.frames", SampleRate: 48000, Channels: 1, PreSkip: 312},
			want: "Decode s3://media/talk.frames with --frames-channels 1 --pre-skip 312",
		},
		{
			name: "ogg",
			res:  pipeline.Result{OutputPath: "talk.opus", Channels: 2, PreSkip: 312},
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := presenters.BuildFramesHint(tt.res); got != tt.want {
				t.Errorf("BuildFramesHint() = %q, want %q", got, tt.want)
			}
		})
	}
}
