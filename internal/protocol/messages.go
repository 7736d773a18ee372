package protocol

import "time"

// RecognitionRequest asks the daemon to transcribe a media file.
type RecognitionRequest struct {
	RequestID  string    `json:"request_id"`
	SourcePath string    `json:"source_path"`
	OutputPath string    `json:"output_path,omitempty"`
	Language   string    `json:"language,omitempty"`
	Backend    string    `json:"backend,omitempty"` // "local", "remote", empty = configured preference
	Timestamp  time.Time `json:"timestamp"`
}

// RecognitionProgress reports coarse milestones for an in-flight request.
type RecognitionProgress struct {
	RequestID string    `json:"request_id"`
	Stage     string    `json:"stage"`
	Percent   int       `json:"percent"`
	Timestamp time.Time `json:"timestamp"`
}

// RecognitionTranscript is the terminal success event for a request.
type RecognitionTranscript struct {
	RequestID  string    `json:"request_id"`
	SourcePath string    `json:"source_path"`
	Backend    string    `json:"backend"`
	Language   string    `json:"language"`
	Text       string    `json:"text"`
	DurationMS int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// RecognitionError is the terminal failure event for a request.
type RecognitionError struct {
	RequestID string    `json:"request_id"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail"`
	Timestamp time.Time `json:"timestamp"`
}

// RecognitionStop asks the daemon to abandon the in-flight request.
// RequestID, when set, limits the stop to that request.
type RecognitionStop struct {
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SettingsUpdate carries recognizer settings changes at runtime.
type SettingsUpdate struct {
	ModelPath     *string `json:"model_path,omitempty"`
	ModelSizeHint *string `json:"model_size_hint,omitempty"`
	Language      *string `json:"language,omitempty"`
	PreferRemote  *bool   `json:"prefer_remote,omitempty"`
	Endpoint      *string `json:"endpoint,omitempty"`
}

const (
	SubjectRecognitionRequest    = "recognition.request"
	SubjectRecognitionProgress   = "recognition.progress"
	SubjectRecognitionTranscript = "recognition.transcript"
	SubjectRecognitionError      = "recognition.error"
	SubjectRecognitionStop       = "recognition.stop"
	SubjectRecognitionSettings   = "recognition.settings"
)
