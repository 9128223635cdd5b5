package pipeline

import "time"

// Stage is the last state an attachment reached.
type Stage string

const (
	StageDiscovered  Stage = "discovered"
	StageDownloaded  Stage = "downloaded"
	StageNormalized  Stage = "normalized"
	StageTranscribed Stage = "transcribed"
	StageDelivered   Stage = "delivered"
	StageDropped     Stage = "dropped"
)

// TranscriptionResult is produced for every attachment that was transcribed.
type TranscriptionResult struct {
	SourceURL      string    `json:"source_url"`
	TranscriptText string    `json:"transcript_text"`
	ProducedAt     time.Time `json:"produced_at"`
}

// DeliveryFailure is a CRM write that failed after transcription succeeded.
type DeliveryFailure struct {
	Write string `json:"write"`
	Err   error  `json:"-"`
}

// AttachmentResult is the outcome of one attachment.
type AttachmentResult struct {
	Index      int                  `json:"index"`
	URL        string               `json:"url"`
	Stage      Stage                `json:"stage"`
	MimeType   string               `json:"mime_type,omitempty"`
	Result     *TranscriptionResult `json:"result,omitempty"`
	DropReason string               `json:"drop_reason,omitempty"`
	Err        error                `json:"-"`
	Failures   []DeliveryFailure    `json:"delivery_failures,omitempty"`
}

// Report collects the per-attachment outcomes of one event, in input order.
type Report struct {
	EventID string             `json:"event_id"`
	Results []AttachmentResult `json:"results"`
}

func (r *Report) Transcriptions() []TranscriptionResult {
	var out []TranscriptionResult
	for _, res := range r.Results {
		if res.Result != nil {
			out = append(out, *res.Result)
		}
	}
	return out
}

func (r *Report) Dropped() []AttachmentResult {
	var out []AttachmentResult
	for _, res := range r.Results {
		if res.Stage == StageDropped {
			out = append(out, res)
		}
	}
	return out
}

func (r *Report) DeliveryFailures() int {
	n := 0
	for _, res := range r.Results {
		n += len(res.Failures)
	}
	return n
}
