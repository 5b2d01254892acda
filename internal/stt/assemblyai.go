package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/contentops/stt-pipeline/internal/config"
	"github.com/contentops/stt-pipeline/pkg/logger"
)

// DefaultAssemblyAIBase is the upstream API endpoint, overridable via config
// (e.g. for proxies).
const DefaultAssemblyAIBase = "https://api.assemblyai.com"

// Transcript job statuses reported by the provider.
const (
	statusQueued     = "queued"
	statusProcessing = "processing"
	statusCompleted  = "completed"
	statusError      = "error"
)

// AssemblyAIClient handles communication with the AssemblyAI transcription
// API: one submission plus polling until the job reaches a terminal status.
type AssemblyAIClient struct {
	apiKey       string
	baseURL      string
	cfg          config.STTConfig
	pollInterval time.Duration
	httpClient   *http.Client
	logger       *logger.Logger
}

// NewAssemblyAIClient creates a new AssemblyAI client from configuration.
func NewAssemblyAIClient(cfg config.STTConfig, log *logger.Logger) *AssemblyAIClient {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultAssemblyAIBase
	}

	if cfg.APIKey == "" {
		log.Warn("AssemblyAI API key is empty - transcription requests will be rejected by the provider")
	}

	return &AssemblyAIClient{
		apiKey:       cfg.APIKey,
		baseURL:      base,
		cfg:          cfg,
		pollInterval: time.Duration(cfg.PollIntervalMs) * time.Millisecond,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		logger: log.Named("assemblyai"),
	}
}

type transcriptRequest struct {
	AudioURL      string `json:"audio_url"`
	LanguageCode  string `json:"language_code,omitempty"`
	SpeakerLabels bool   `json:"speaker_labels"`
	Punctuate     bool   `json:"punctuate"`
	FormatText    bool   `json:"format_text"`
}

type transcriptResponse struct {
	ID            string  `json:"id"`
	Status        string  `json:"status"`
	Error         string  `json:"error"`
	Text          string  `json:"text"`
	LanguageCode  string  `json:"language_code"`
	Confidence    float64 `json:"confidence"`
	AudioDuration float64 `json:"audio_duration"` // seconds
	Words         []struct {
		Text       string  `json:"text"`
		Start      int     `json:"start"`
		End        int     `json:"end"`
		Confidence float64 `json:"confidence"`
	} `json:"words"`
}

type sentencesResponse struct {
	Sentences []struct {
		Text  string `json:"text"`
		Start int    `json:"start"`
		End   int    `json:"end"`
	} `json:"sentences"`
}

// Transcribe submits the audio URL and polls until the job completes. One
// call is one provider attempt; retry policy belongs to the caller.
func (c *AssemblyAIClient) Transcribe(ctx context.Context, audioURL string) (*TranscriptionResult, error) {
	job, err := c.submit(ctx, audioURL)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Transcript job submitted",
		logger.String("job_id", job),
		logger.String("audio_url", truncateURL(audioURL)))

	transcript, err := c.poll(ctx, job)
	if err != nil {
		return nil, err
	}

	if transcript.Status == statusError {
		msg := transcript.Error
		if msg == "" {
			msg = "unknown provider error"
		}
		return nil, NewError(Classify(msg), msg)
	}

	// Provider can report success with nothing transcribed. That is a
	// terminal condition, never retried.
	if strings.TrimSpace(transcript.Text) == "" {
		return nil, NewError(CodeNoSpeechDetected, "No speech detected in audio")
	}

	sentences, err := c.fetchSentences(ctx, job)
	if err != nil {
		// Sentences are derived data; word-level output already covers
		// timing, so a failed fetch degrades to an empty sentence list.
		c.logger.Warn("Failed to fetch sentences for transcript",
			logger.String("job_id", job),
			logger.Error(err))
		sentences = nil
	}

	return buildResult(transcript, sentences, audioURL), nil
}

// submit creates the transcript job and returns its ID.
func (c *AssemblyAIClient) submit(ctx context.Context, audioURL string) (string, error) {
	reqBody := transcriptRequest{
		AudioURL:      audioURL,
		LanguageCode:  c.cfg.LanguageCode,
		SpeakerLabels: c.cfg.SpeakerLabels,
		Punctuate:     c.cfg.Punctuate,
		FormatText:    c.cfg.FormatText,
	}

	var resp transcriptResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v2/transcript", &reqBody, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", NewError(CodeSTTFailed, "provider returned no transcript ID")
	}
	return resp.ID, nil
}

// poll fetches the job until it reaches a terminal status.
func (c *AssemblyAIClient) poll(ctx context.Context, jobID string) (*transcriptResponse, error) {
	for {
		var resp transcriptResponse
		if err := c.doJSON(ctx, http.MethodGet, "/v2/transcript/"+jobID, nil, &resp); err != nil {
			return nil, err
		}

		switch resp.Status {
		case statusCompleted, statusError:
			return &resp, nil
		case statusQueued, statusProcessing:
		default:
			return nil, NewError(CodeSTTFailed, fmt.Sprintf("unexpected transcript status %q", resp.Status))
		}

		select {
		case <-ctx.Done():
			return nil, NewError(CodeTimeout, "timeout waiting for transcript: "+ctx.Err().Error())
		case <-time.After(c.pollInterval):
		}
	}
}

func (c *AssemblyAIClient) fetchSentences(ctx context.Context, jobID string) (*sentencesResponse, error) {
	var resp sentencesResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v2/transcript/"+jobID+"/sentences", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// doJSON executes one API request and decodes the JSON response into out.
// Transport and HTTP-level failures are run through the same message based
// classification as provider-reported errors, so an upstream 429 or a client
// timeout surfaces as a retryable typed failure.
func (c *AssemblyAIClient) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return NewError(Classify(err.Error()), err.Error())
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return NewError(CodeRateLimited, "provider rate limit exceeded: "+string(bodyBytes))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := fmt.Sprintf("unexpected status code: %d, response: %s", resp.StatusCode, string(bodyBytes))
		return NewError(Classify(msg), msg)
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// buildResult converts the provider transcript into the internal model.
func buildResult(t *transcriptResponse, sentences *sentencesResponse, audioURL string) *TranscriptionResult {
	words := make([]Word, 0, len(t.Words))
	for _, w := range t.Words {
		words = append(words, Word{
			Text:       w.Text,
			StartMs:    w.Start,
			EndMs:      w.End,
			Confidence: w.Confidence,
		})
	}

	var sents []Sentence
	if sentences != nil {
		sents = make([]Sentence, 0, len(sentences.Sentences))
		for _, s := range sentences.Sentences {
			sents = append(sents, Sentence{
				Text:    s.Text,
				StartMs: s.Start,
				EndMs:   s.End,
			})
		}
	}

	languageCode := t.LanguageCode
	if languageCode == "" {
		languageCode = "en"
	}

	return &TranscriptionResult{
		Text:         t.Text,
		Words:        words,
		Sentences:    sents,
		LanguageCode: languageCode,
		Confidence:   t.Confidence,
		DurationMs:   int(t.AudioDuration * 1000),
		AudioURL:     audioURL,
	}
}

// truncateURL shortens long audio URLs for log lines.
func truncateURL(u string) string {
	if len(u) > 50 {
		return u[:50]
	}
	return u
}
