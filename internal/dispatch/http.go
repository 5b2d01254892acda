package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/contentops/stt-pipeline/pkg/logger"
)

// HTTPTransport delivers envelopes to a sibling process over HTTP. The
// timeout is generous because the receiving side transcribes synchronously.
type HTTPTransport struct {
	baseURL    string
	httpClient *http.Client
	logger     *logger.Logger
}

// NewHTTPTransport creates the HTTP transport for the given base URL.
func NewHTTPTransport(baseURL string, timeout time.Duration, log *logger.Logger) *HTTPTransport {
	return &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: log.Named("dispatch-http"),
	}
}

// Dispatch POSTs the envelope to the sibling's /invoke endpoint. Network
// faults become a SERVICE_UNAVAILABLE result, never an error.
func (t *HTTPTransport) Dispatch(ctx context.Context, env Envelope) Result {
	url := t.baseURL + "/invoke"

	t.logger.Info("Invoking handler via HTTP",
		logger.String("url", url),
		logger.String("item_id", env.ItemID))

	body, err := json.Marshal(env)
	if err != nil {
		return ErrorResult(http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return ErrorResult(http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		t.logger.Error("HTTP dispatch failed",
			logger.String("url", url),
			logger.Error(err))
		return ErrorResult(http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.logger.Error("Failed to read HTTP dispatch response", logger.Error(err))
		return ErrorResult(http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", err.Error())
	}

	return Result{
		StatusCode: resp.StatusCode,
		Body:       string(respBody),
	}
}
