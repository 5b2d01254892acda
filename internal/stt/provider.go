package stt

import "context"

// Provider is the external transcription capability. Implementations submit
// the audio at the given URL and return a complete result, or a typed
// *Error describing why the submission failed. Providers do their own
// transport-level work; retry policy lives in the Service around them.
type Provider interface {
	Transcribe(ctx context.Context, audioURL string) (*TranscriptionResult, error)
}
