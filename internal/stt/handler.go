package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/contentops/stt-pipeline/internal/cache"
	"github.com/contentops/stt-pipeline/internal/dispatch"
	"github.com/contentops/stt-pipeline/internal/storage/sqlite"
	"github.com/contentops/stt-pipeline/pkg/logger"
)

// failureStage marks where in the pipeline a failure record originated.
const failureStage = "stt"

// ItemStore is the slice of the item store the handler needs.
// *sqlite.Store satisfies it.
type ItemStore interface {
	GetItem(id string) (*sqlite.Item, error)
	UpdateItemStatus(id, status string) error
	CreateFailure(itemID, campaignID, stage, errorCode, message string) (*sqlite.Failure, error)
}

// StatusNotifier receives item status transitions as they happen. May be
// nil when no event feed is wired.
type StatusNotifier interface {
	BroadcastItemStatus(itemID, campaignID, status string)
}

// Handler processes one envelope end to end: resolve the item, run the
// transcription orchestrator, persist status and failure records, and shape
// the HTTP-status-coded result every transport shares. A failed
// transcription always produces a failure record and a "failed" item
// status; an item is never left stuck in "processing" silently.
type Handler struct {
	service  *Service
	store    ItemStore
	cache    *cache.Cache
	notifier StatusNotifier
	logger   *logger.Logger
}

// NewHandler creates the envelope handler.
func NewHandler(service *Service, store ItemStore, c *cache.Cache, notifier StatusNotifier, log *logger.Logger) *Handler {
	return &Handler{
		service:  service,
		store:    store,
		cache:    c,
		notifier: notifier,
		logger:   log.Named("stt-handler"),
	}
}

// Invoke processes the envelope and returns a transport-independent result.
func (h *Handler) Invoke(ctx context.Context, env dispatch.Envelope) (res dispatch.Result) {
	// The outermost boundary: whatever goes wrong below, the caller gets a
	// typed INTERNAL_ERROR result rather than a crash.
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Panic during item processing",
				logger.String("item_id", env.ItemID),
				logger.Any("panic", r))
			h.recordFailure(env.ItemID, env.CampaignID, CodeInternalError, fmt.Sprintf("panic: %v", r))
			h.markFailed(env.ItemID, env.CampaignID)
			res = errorResult(http.StatusInternalServerError, CodeInternalError, fmt.Sprintf("panic: %v", r), env)
		}
	}()

	if env.CampaignID == "" || env.ItemID == "" {
		return errorResult(http.StatusBadRequest, CodeInvalidInput, "campaign_id and item_id required", dispatch.Envelope{})
	}

	item, err := h.store.GetItem(env.ItemID)
	if err != nil {
		h.logger.Error("Failed to load item", logger.String("item_id", env.ItemID), logger.Error(err))
		return errorResult(http.StatusInternalServerError, CodeInternalError, err.Error(), env)
	}
	if item == nil {
		return errorResult(http.StatusNotFound, CodeItemNotFound, fmt.Sprintf("Item %s not found", env.ItemID), dispatch.Envelope{})
	}
	if item.CampaignID != env.CampaignID {
		return errorResult(http.StatusBadRequest, CodeInvalidInput, "Item does not belong to campaign", dispatch.Envelope{})
	}

	if item.AudioURL == "" {
		h.recordFailure(env.ItemID, env.CampaignID, CodeNoAudioURL, "Item has no audio_url set")
		h.markFailed(env.ItemID, env.CampaignID)
		return errorResult(http.StatusUnprocessableEntity, CodeNoAudioURL, "Item has no audio_url set", dispatch.Envelope{})
	}

	h.setStatus(env.ItemID, env.CampaignID, sqlite.StatusProcessing)

	result, err := h.service.Transcribe(ctx, item.AudioURL)
	if err != nil {
		typed := AsError(err)
		if typed == nil {
			typed = NewError(CodeInternalError, err.Error())
		}

		h.logger.Error("Transcription failed",
			logger.String("item_id", env.ItemID),
			logger.String("error_code", string(typed.Code)),
			logger.Error(err))
		h.recordFailure(env.ItemID, env.CampaignID, typed.Code, typed.Message)
		h.markFailed(env.ItemID, env.CampaignID)
		return errorResult(statusForCode(typed.Code), typed.Code, typed.Message, env)
	}

	h.cacheItemResult(ctx, env.ItemID, result)
	h.setStatus(env.ItemID, env.CampaignID, sqlite.StatusCompleted)

	h.logger.Info("Transcription completed",
		logger.String("item_id", env.ItemID),
		logger.Int("duration_ms", result.DurationMs),
		logger.Float64("confidence", result.Confidence))

	return dispatch.NewResult(http.StatusOK, map[string]interface{}{
		"item_id":     env.ItemID,
		"campaign_id": env.CampaignID,
		"status":      "completed",
		"duration_ms": result.DurationMs,
		"confidence":  result.Confidence,
	})
}

// cacheItemResult stores a per-item copy of the result so campaign listings
// can attach transcripts without recomputing cache keys from audio URLs.
func (h *Handler) cacheItemResult(ctx context.Context, itemID string, result *TranscriptionResult) {
	data, err := json.Marshal(result)
	if err != nil {
		h.logger.Error("Failed to serialize item result", logger.Error(err))
		return
	}
	key := cache.ItemResultPrefix + ":" + itemID
	if err := h.cache.Set(ctx, key, string(data), 0); err != nil {
		h.logger.Warn("Failed to cache item result", logger.String("item_id", itemID), logger.Error(err))
	}
}

func (h *Handler) setStatus(itemID, campaignID, status string) {
	if err := h.store.UpdateItemStatus(itemID, status); err != nil {
		h.logger.Error("Failed to update item status",
			logger.String("item_id", itemID),
			logger.String("status", status),
			logger.Error(err))
		return
	}
	if h.notifier != nil {
		h.notifier.BroadcastItemStatus(itemID, campaignID, status)
	}
}

func (h *Handler) markFailed(itemID, campaignID string) {
	h.setStatus(itemID, campaignID, sqlite.StatusFailed)
}

// recordFailure writes a failure record, best-effort: a failed write is
// logged so it can never mask the primary error response.
func (h *Handler) recordFailure(itemID, campaignID string, code Code, message string) {
	if _, err := h.store.CreateFailure(itemID, campaignID, failureStage, string(code), message); err != nil {
		h.logger.Error("Failed to write failure record",
			logger.String("item_id", itemID),
			logger.String("error_code", string(code)),
			logger.Error(err))
	}
}

// errorResult shapes an error body. Item and campaign IDs are attached only
// when the envelope cleared validation.
func errorResult(status int, code Code, message string, env dispatch.Envelope) dispatch.Result {
	body := map[string]string{
		"error":   string(code),
		"message": message,
	}
	if env.ItemID != "" {
		body["item_id"] = env.ItemID
	}
	if env.CampaignID != "" {
		body["campaign_id"] = env.CampaignID
	}
	return dispatch.NewResult(status, body)
}

// statusForCode maps a failure code to its HTTP status. The mapping is the
// same regardless of which transport delivered the request.
func statusForCode(code Code) int {
	switch code {
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeItemNotFound:
		return http.StatusNotFound
	case CodeNoAudioURL, CodeNoSpeechDetected:
		return http.StatusUnprocessableEntity
	case CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
