package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/contentops/stt-pipeline/internal/cache"
	"github.com/contentops/stt-pipeline/internal/config"
	"github.com/contentops/stt-pipeline/internal/dispatch"
	"github.com/contentops/stt-pipeline/internal/storage/sqlite"
	"github.com/contentops/stt-pipeline/internal/websocket"
	"github.com/contentops/stt-pipeline/pkg/logger"
)

type recordingDispatcher struct {
	mu        sync.Mutex
	envelopes []dispatch.Envelope
	result    dispatch.Result
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, env dispatch.Envelope) dispatch.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.envelopes = append(d.envelopes, env)
	return d.result
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.envelopes)
}

type fixedInvoker struct {
	result dispatch.Result
	got    dispatch.Envelope
}

func (h *fixedInvoker) Invoke(ctx context.Context, env dispatch.Envelope) dispatch.Result {
	h.got = env
	return h.result
}

type testEnv struct {
	router     *Router
	store      *sqlite.Store
	cache      *cache.Cache
	dispatcher *recordingDispatcher
	invoker    *fixedInvoker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := sqlite.NewStore(filepath.Join(t.TempDir(), "test.db"), logger.NewNop())
	if err != nil {
		t.Fatalf("NewStore returned error: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := cache.NewWithClient(client, time.Hour, logger.NewNop())
	t.Cleanup(func() { c.Close() })

	dispatcher := &recordingDispatcher{result: dispatch.NewResult(http.StatusOK, map[string]string{"status": "completed"})}
	invoker := &fixedInvoker{result: dispatch.NewResult(http.StatusOK, map[string]string{"status": "completed"})}

	wsServer := websocket.NewServer(logger.NewNop())
	go wsServer.Run()

	cfg := &config.Config{}
	cfg.Server.Port = 8080
	cfg.Storage.SQLitePath = "unused"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}

	return &testEnv{
		router:     NewRouter(store, dispatcher, invoker, c, wsServer, cfg, logger.NewNop()),
		store:      store,
		cache:      c,
		dispatcher: dispatcher,
		invoker:    invoker,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request body: %v", err)
		}
		reader = bytes.NewBuffer(data)
	} else {
		reader = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.Routes().ServeHTTP(rec, req)
	return rec
}

func waitForDispatches(t *testing.T, d *recordingDispatcher, want int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if d.count() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Expected %d dispatches, got %d", want, d.count())
}

func TestCreateCampaign(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/campaigns", map[string]interface{}{
		"name": "Q3 launch",
		"items": []map[string]string{
			{"source_url": "https://example.com/v1", "type": "video", "audio_url": "https://example.com/a1.mp3"},
			{"source_url": "https://example.com/v2", "type": "video"},
		},
	})

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", rec.Code, rec.Body.String())
	}

	var resp struct {
		Campaign   *sqlite.Campaign `json:"campaign"`
		Items      []*sqlite.Item   `json:"items"`
		Dispatched int              `json:"dispatched"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Campaign == nil || resp.Campaign.Name != "Q3 launch" {
		t.Errorf("Unexpected campaign: %+v", resp.Campaign)
	}
	if len(resp.Items) != 2 {
		t.Errorf("Expected 2 items, got %d", len(resp.Items))
	}
	if resp.Dispatched != 1 {
		t.Errorf("Dispatched = %d, want 1 (only items with audio URLs)", resp.Dispatched)
	}
	if resp.Campaign.Status != sqlite.StatusProcessing {
		t.Errorf("Campaign status = %q, want %q once items dispatch", resp.Campaign.Status, sqlite.StatusProcessing)
	}

	// The item carrying an audio URL gets dispatched asynchronously.
	waitForDispatches(t, env.dispatcher, 1)
	got := env.dispatcher.envelopes[0]
	if got.CampaignID != resp.Campaign.ID {
		t.Errorf("Dispatched campaign ID = %q, want %q", got.CampaignID, resp.Campaign.ID)
	}
}

func TestCreateCampaignValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/campaigns", map[string]interface{}{"items": []map[string]string{}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Missing name: status = %d, want 400", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/campaigns", bytes.NewBufferString("{not json"))
	rec2 := httptest.NewRecorder()
	env.router.Routes().ServeHTTP(rec2, req)
	if rec2.Code != http.StatusBadRequest {
		t.Errorf("Bad JSON: status = %d, want 400", rec2.Code)
	}
}

func TestGetCampaignNotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/campaigns/no-such-id", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestGetCampaignEnrichesCompletedItems(t *testing.T) {
	env := newTestEnv(t)

	campaign, err := env.store.CreateCampaign("batch")
	if err != nil {
		t.Fatalf("CreateCampaign returned error: %v", err)
	}
	item, err := env.store.CreateItem(campaign.ID, "https://example.com/v", "video", "https://example.com/a.mp3")
	if err != nil {
		t.Fatalf("CreateItem returned error: %v", err)
	}
	if err := env.store.UpdateItemStatus(item.ID, sqlite.StatusCompleted); err != nil {
		t.Fatalf("UpdateItemStatus returned error: %v", err)
	}

	transcript := `{"text":"hello","duration_ms":2000}`
	if err := env.cache.Set(context.Background(), cache.ItemResultPrefix+":"+item.ID, transcript, 0); err != nil {
		t.Fatalf("Failed to seed cache: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/api/v1/campaigns/"+campaign.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}

	var resp struct {
		Items []struct {
			ID         string          `json:"id"`
			Status     string          `json:"status"`
			Transcript json.RawMessage `json:"transcript"`
		} `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(resp.Items) != 1 {
		t.Fatalf("Expected 1 item, got %d", len(resp.Items))
	}
	if string(resp.Items[0].Transcript) != transcript {
		t.Errorf("Transcript = %s, want %s", resp.Items[0].Transcript, transcript)
	}
}

func TestGetCampaignPendingItemsNotEnriched(t *testing.T) {
	env := newTestEnv(t)

	campaign, _ := env.store.CreateCampaign("batch")
	env.store.CreateItem(campaign.ID, "https://example.com/v", "video", "")

	rec := env.do(t, http.MethodGet, "/api/v1/campaigns/"+campaign.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Items []map[string]interface{} `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(resp.Items) != 1 {
		t.Fatalf("Expected 1 item, got %d", len(resp.Items))
	}
	if _, ok := resp.Items[0]["transcript"]; ok {
		t.Error("Pending item should not carry a transcript")
	}
}

func TestInvokeEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.invoker.result = dispatch.NewResult(http.StatusUnprocessableEntity, map[string]string{
		"error":   "NO_AUDIO_URL",
		"message": "Item has no audio_url set",
	})

	rec := env.do(t, http.MethodPost, "/invoke", dispatch.Envelope{CampaignID: "c1", ItemID: "i1"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}
	if env.invoker.got.ItemID != "i1" || env.invoker.got.CampaignID != "c1" {
		t.Errorf("Invoker received %+v", env.invoker.got)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Response is not valid JSON: %v", err)
	}
	if body["error"] != "NO_AUDIO_URL" {
		t.Errorf("error = %q, want NO_AUDIO_URL", body["error"])
	}
}

func TestInvokeEndpointUnderAPIPrefix(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/invoke", dispatch.Envelope{CampaignID: "c1", ItemID: "i1"})
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestGetItemFailures(t *testing.T) {
	env := newTestEnv(t)

	campaign, _ := env.store.CreateCampaign("batch")
	item, _ := env.store.CreateItem(campaign.ID, "https://example.com/v", "video", "")
	env.store.CreateFailure(item.ID, campaign.ID, "stt", "NO_AUDIO_URL", "Item has no audio_url set")

	rec := env.do(t, http.MethodGet, "/api/v1/items/"+item.ID+"/failures", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Failures []*sqlite.Failure `json:"failures"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(resp.Failures) != 1 || resp.Failures[0].Error != "NO_AUDIO_URL" {
		t.Errorf("Unexpected failures: %+v", resp.Failures)
	}
}

func TestGetItemFailuresMissingItem(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/items/no-such-id/failures", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestGetHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Response is not valid JSON: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
	if body["cache"] != true {
		t.Errorf("cache field = %v, want true", body["cache"])
	}
}
