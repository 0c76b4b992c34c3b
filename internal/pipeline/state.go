package pipeline

import "time"

// Phase is the lifecycle position of a pipeline.
type Phase int32

const (
	Idle Phase = iota
	Opening
	Running
	Draining
	Completed
	Failed
	Cancelled
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Opening:
		return "opening"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

// Terminal reports whether no further transitions can happen.
func (p Phase) Terminal() bool {
	return p == Completed || p == Failed || p == Cancelled
}

// State is a point-in-time snapshot of a pipeline.
type State struct {
	Phase            Phase
	BytesProcessed   int64
	SamplesProcessed int64
	StartedAt        time.Time
}

// Result is what a successful pipeline reports.
type Result struct {
	OutputPath string
	DurationMs int32
	// Samples is the per-channel length of the output at SampleRate.
	Samples    int64
	SampleRate int
	Channels   int
	// PreSkip is the encoder delay of the Opus stream in 48 kHz samples.
	PreSkip uint32
	// Concealed counts frames synthesized for damaged packets.
	Concealed int
}

// durationMs is floor(samples * 1000 / rate).
func durationMs(samples int64, rate int) int32 {
	if rate <= 0 || samples <= 0 {
		return 0
	}
	return int32(samples * 1000 / int64(rate))
}
