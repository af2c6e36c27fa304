package dto

// YouTubeTranscriptionRequest is the body of POST /v1/transcriptions/youtube.
type YouTubeTranscriptionRequest struct {
	URL         string `json:"url" binding:"required"`
	Language    string `json:"language"`
	TranslateTo string `json:"translateTo"`
	Diarise     bool   `json:"diarise"`
	ForceASR    bool   `json:"forceAsr"`
	Format      string `json:"format"`
	WebhookURL  string `json:"webhookUrl"`
}

// MediaTranscriptionForm holds the non-file fields of
// POST /v1/transcriptions/media.
type MediaTranscriptionForm struct {
	URL         string `form:"url"`
	Language    string `form:"language"`
	TranslateTo string `form:"translateTo"`
	Diarise     bool   `form:"diarise"`
	Format      string `form:"format"`
	WebhookURL  string `form:"webhookUrl"`
}

// ErrorBody is the envelope of every error response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type ComponentHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type HealthResponse struct {
	Status      string                     `json:"status"`
	Version     string                     `json:"version"`
	Environment string                     `json:"environment"`
	Components  map[string]ComponentHealth `json:"components"`
}
