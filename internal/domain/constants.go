package domain

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobType selects the acquisition pipeline a worker runs.
type JobType string

const (
	JobTypePlatformVideo JobType = "youtube"
	JobTypeMediaUpload   JobType = "media_upload"
	JobTypeMediaURL      JobType = "media_url"
)

// Source identifies what produced a transcription.
type Source string

const (
	SourceCaptions Source = "youtube_captions"
	SourceLocal    Source = "asr_local"
	SourceOpenAI   Source = "asr_openai"
	SourceRunpod   Source = "asr_runpod"
)

// Format is an output rendering of a segment sequence.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
	FormatSRT  Format = "srt"
	FormatVTT  Format = "vtt"
)

// ParseFormat maps a request value to a Format. Empty selects JSON.
func ParseFormat(s string) (Format, bool) {
	switch Format(s) {
	case "", FormatJSON:
		return FormatJSON, true
	case FormatText, FormatSRT, FormatVTT:
		return Format(s), true
	}
	return "", false
}

// MaxActiveProgress caps progress for jobs that have not completed.
const MaxActiveProgress = 99.0
