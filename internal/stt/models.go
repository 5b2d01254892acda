package stt

// Word is a single transcribed word with timing and confidence.
type Word struct {
	Text       string  `json:"text"`
	StartMs    int     `json:"start_ms"`
	EndMs      int     `json:"end_ms"`
	Confidence float64 `json:"confidence"`
}

// Sentence is a sentence with timing information.
type Sentence struct {
	Text    string `json:"text"`
	StartMs int    `json:"start_ms"`
	EndMs   int    `json:"end_ms"`
}

// TranscriptionResult is the complete output of a transcription. It is
// constructed once, never mutated, and serialized verbatim into the cache.
// Word and sentence sequences preserve temporal order (non-decreasing
// start_ms) as reported by the provider.
type TranscriptionResult struct {
	Text         string     `json:"text"`
	Words        []Word     `json:"words"`
	Sentences    []Sentence `json:"sentences"`
	LanguageCode string     `json:"language_code"`
	Confidence   float64    `json:"confidence"`
	DurationMs   int        `json:"duration_ms"`
	AudioURL     string     `json:"audio_url"`
}
