package model

type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

type HealthResponse struct {
	OK bool `json:"ok"`
}

type ReadyResponse struct {
	OK     bool              `json:"ok"`
	Checks map[string]string `json:"checks,omitempty"`
}

type ClassifyResponse struct {
	DetectedLanguage      string             `json:"detected_language"`
	Confidence            float64            `json:"confidence"`
	LanguageProbabilities map[string]float64 `json:"language_probabilities"`
}

type TranscribeResponse struct {
	Transcription         string             `json:"transcription"`
	DetectedLanguage      string             `json:"detected_language"`
	Confidence            float64            `json:"confidence"`
	LanguageProbabilities map[string]float64 `json:"language_probabilities"`
	Translation           *string            `json:"translation,omitempty"`
}
