package dispatch

import (
	"context"
	"encoding/json"
)

// Envelope is the unit of work routed across every transport. It carries
// identifiers only; audio URLs and status live in the item store.
type Envelope struct {
	CampaignID string `json:"campaign_id"`
	ItemID     string `json:"item_id"`
}

// Result is the transport-independent acknowledgment: an HTTP-shaped status
// code and a JSON-encoded body.
type Result struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// NewResult builds a Result with payload serialized into the body.
func NewResult(statusCode int, payload interface{}) Result {
	body, err := json.Marshal(payload)
	if err != nil {
		// Payloads are maps and small structs; a marshal failure here is
		// a programming error worth surfacing loudly in the body.
		return Result{
			StatusCode: 500,
			Body:       `{"error":"INTERNAL_ERROR","message":"failed to encode response body"}`,
		}
	}
	return Result{StatusCode: statusCode, Body: string(body)}
}

// ErrorResult builds a Result carrying an error code and message.
func ErrorResult(statusCode int, errorCode, message string) Result {
	return NewResult(statusCode, map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// Handler processes one envelope wherever the orchestrator runs.
type Handler interface {
	Invoke(ctx context.Context, env Envelope) Result
}

// Dispatcher delivers a process-item request over the configured transport.
// Implementations never return transport faults as errors; every outcome is
// a Result the caller can record.
type Dispatcher interface {
	Dispatch(ctx context.Context, env Envelope) Result
}
