package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/contentops/stt-pipeline/internal/cache"
	"github.com/contentops/stt-pipeline/internal/config"
	"github.com/contentops/stt-pipeline/internal/dispatch"
	"github.com/contentops/stt-pipeline/internal/storage/sqlite"
	"github.com/contentops/stt-pipeline/internal/websocket"
	"github.com/contentops/stt-pipeline/pkg/logger"
)

// Handler contains the API handlers
type Handler struct {
	store      *sqlite.Store
	dispatcher dispatch.Dispatcher
	invoker    dispatch.Handler
	cache      *cache.Cache
	wsServer   *websocket.Server
	config     *config.Config
	logger     *logger.Logger
}

// NewHandler creates a new API handler
func NewHandler(store *sqlite.Store, dispatcher dispatch.Dispatcher, invoker dispatch.Handler, c *cache.Cache, wsServer *websocket.Server, cfg *config.Config, log *logger.Logger) *Handler {
	return &Handler{
		store:      store,
		dispatcher: dispatcher,
		invoker:    invoker,
		cache:      c,
		wsServer:   wsServer,
		config:     cfg,
		logger:     log.Named("api-handler"),
	}
}

type createItemRequest struct {
	SourceURL string `json:"source_url"`
	Type      string `json:"type"`
	AudioURL  string `json:"audio_url"`
}

type createCampaignRequest struct {
	Name  string              `json:"name"`
	Items []createItemRequest `json:"items"`
}

type itemResponse struct {
	*sqlite.Item
	Transcript json.RawMessage `json:"transcript,omitempty"`
}

// CreateCampaign creates a campaign with its content items and dispatches
// transcription for every item that already carries an audio URL.
func (h *Handler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		WriteError(w, http.StatusBadRequest, "name is required")
		return
	}

	campaign, err := h.store.CreateCampaign(req.Name)
	if err != nil {
		h.logger.Error("Failed to create campaign", logger.Error(err))
		WriteError(w, http.StatusInternalServerError, "failed to create campaign")
		return
	}

	items := make([]*sqlite.Item, 0, len(req.Items))
	for _, ir := range req.Items {
		item, err := h.store.CreateItem(campaign.ID, ir.SourceURL, ir.Type, ir.AudioURL)
		if err != nil {
			h.logger.Error("Failed to create item",
				logger.String("campaign_id", campaign.ID),
				logger.Error(err))
			WriteError(w, http.StatusInternalServerError, "failed to create item")
			return
		}
		items = append(items, item)
	}

	dispatched := 0
	for _, item := range items {
		if item.AudioURL == "" {
			continue
		}
		dispatched++
		go h.dispatchItem(campaign.ID, item.ID)
	}

	if dispatched > 0 {
		if err := h.store.UpdateCampaignStatus(campaign.ID, sqlite.StatusProcessing); err != nil {
			h.logger.Error("Failed to update campaign status",
				logger.String("campaign_id", campaign.ID),
				logger.Error(err))
		} else {
			campaign.Status = sqlite.StatusProcessing
		}
	}

	h.logger.Info("Campaign created",
		logger.String("campaign_id", campaign.ID),
		logger.Int("item_count", len(items)),
		logger.Int("dispatched", dispatched))

	WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"campaign":   campaign,
		"items":      items,
		"dispatched": dispatched,
	})
}

// dispatchItem sends one item through the configured transport. Runs in its
// own goroutine; outcomes are visible via item status and the failures table.
func (h *Handler) dispatchItem(campaignID, itemID string) {
	timeout := time.Duration(h.config.Dispatch.HTTPTimeoutSeconds) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	result := h.dispatcher.Dispatch(ctx, dispatch.Envelope{
		CampaignID: campaignID,
		ItemID:     itemID,
	})
	if result.StatusCode >= 400 {
		h.logger.Warn("Item dispatch returned error",
			logger.String("item_id", itemID),
			logger.Int("status_code", result.StatusCode),
			logger.String("body", result.Body))
		return
	}
	h.logger.Debug("Item dispatch completed",
		logger.String("item_id", itemID),
		logger.Int("status_code", result.StatusCode))
}

// GetCampaign returns a campaign with its items. Completed items are enriched
// with the cached transcription result when one is still available.
func (h *Handler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	campaign, err := h.store.GetCampaign(id)
	if err != nil {
		h.logger.Error("Failed to load campaign", logger.String("campaign_id", id), logger.Error(err))
		WriteError(w, http.StatusInternalServerError, "failed to load campaign")
		return
	}
	if campaign == nil {
		WriteError(w, http.StatusNotFound, "campaign not found")
		return
	}

	items, err := h.store.GetCampaignItems(id)
	if err != nil {
		h.logger.Error("Failed to load campaign items", logger.String("campaign_id", id), logger.Error(err))
		WriteError(w, http.StatusInternalServerError, "failed to load campaign items")
		return
	}

	responses := make([]*itemResponse, 0, len(items))
	for _, item := range items {
		resp := &itemResponse{Item: item}
		if item.Status == sqlite.StatusCompleted {
			if raw, ok, _ := h.cache.Get(r.Context(), cache.ItemResultPrefix+":"+item.ID); ok {
				resp.Transcript = json.RawMessage(raw)
			}
		}
		responses = append(responses, resp)
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"campaign": campaign,
		"items":    responses,
	})
}

// Invoke accepts a transcription envelope over HTTP. This is the receiving
// end of the http transport and doubles as a manual re-drive endpoint.
func (h *Handler) Invoke(w http.ResponseWriter, r *http.Request) {
	var env dispatch.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result := h.invoker.Invoke(r.Context(), env)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.StatusCode)
	if _, err := w.Write([]byte(result.Body)); err != nil {
		h.logger.Error("Failed to write invoke response", logger.Error(err))
	}
}

// GetItemFailures returns the failure records for one item, newest first.
func (h *Handler) GetItemFailures(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	item, err := h.store.GetItem(id)
	if err != nil {
		h.logger.Error("Failed to load item", logger.String("item_id", id), logger.Error(err))
		WriteError(w, http.StatusInternalServerError, "failed to load item")
		return
	}
	if item == nil {
		WriteError(w, http.StatusNotFound, "item not found")
		return
	}

	failures, err := h.store.GetItemFailures(id)
	if err != nil {
		h.logger.Error("Failed to load item failures", logger.String("item_id", id), logger.Error(err))
		WriteError(w, http.StatusInternalServerError, "failed to load item failures")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"item_id":  id,
		"failures": failures,
	})
}

// GetHealth returns the health status
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"cache":     h.cache != nil,
	}
	WriteJSON(w, http.StatusOK, response)
}

// HandleWebSocket handles WebSocket connections
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsServer.HandleWebSocket(w, r)
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// WriteError writes a JSON error response
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}
