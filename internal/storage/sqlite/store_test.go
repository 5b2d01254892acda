package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/contentops/stt-pipeline/pkg/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	store, err := NewStore(path, logger.NewNop())
	if err != nil {
		t.Fatalf("NewStore returned error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateAndGetCampaign(t *testing.T) {
	store := newTestStore(t)

	created, err := store.CreateCampaign("Q3 product launches")
	if err != nil {
		t.Fatalf("CreateCampaign returned error: %v", err)
	}
	if created.ID == "" {
		t.Fatal("Campaign ID is empty")
	}
	if created.Status != StatusPending {
		t.Errorf("Status = %q, want %q", created.Status, StatusPending)
	}

	got, err := store.GetCampaign(created.ID)
	if err != nil {
		t.Fatalf("GetCampaign returned error: %v", err)
	}
	if got == nil {
		t.Fatal("GetCampaign returned nil for existing campaign")
	}
	if got.Name != "Q3 product launches" {
		t.Errorf("Name = %q", got.Name)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not round-tripped")
	}
}

func TestGetCampaignMissing(t *testing.T) {
	store := newTestStore(t)

	got, err := store.GetCampaign("no-such-id")
	if err != nil {
		t.Fatalf("GetCampaign returned error: %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil for missing campaign, got %+v", got)
	}
}

func TestUpdateCampaignStatus(t *testing.T) {
	store := newTestStore(t)

	campaign, err := store.CreateCampaign("batch")
	if err != nil {
		t.Fatalf("CreateCampaign returned error: %v", err)
	}

	if err := store.UpdateCampaignStatus(campaign.ID, StatusProcessing); err != nil {
		t.Fatalf("UpdateCampaignStatus returned error: %v", err)
	}

	got, _ := store.GetCampaign(campaign.ID)
	if got.Status != StatusProcessing {
		t.Errorf("Status = %q, want %q", got.Status, StatusProcessing)
	}
}

func TestCreateAndGetItem(t *testing.T) {
	store := newTestStore(t)
	campaign, _ := store.CreateCampaign("batch")

	created, err := store.CreateItem(campaign.ID, "https://example.com/video", "", "https://example.com/a.mp3")
	if err != nil {
		t.Fatalf("CreateItem returned error: %v", err)
	}
	if created.Type != "video" {
		t.Errorf("Empty type should default to video, got %q", created.Type)
	}

	got, err := store.GetItem(created.ID)
	if err != nil {
		t.Fatalf("GetItem returned error: %v", err)
	}
	if got == nil {
		t.Fatal("GetItem returned nil for existing item")
	}
	if got.CampaignID != campaign.ID {
		t.Errorf("CampaignID = %q, want %q", got.CampaignID, campaign.ID)
	}
	if got.AudioURL != "https://example.com/a.mp3" {
		t.Errorf("AudioURL = %q", got.AudioURL)
	}
	if got.Status != StatusPending {
		t.Errorf("Status = %q, want %q", got.Status, StatusPending)
	}
}

func TestGetItemMissing(t *testing.T) {
	store := newTestStore(t)

	got, err := store.GetItem("no-such-id")
	if err != nil {
		t.Fatalf("GetItem returned error: %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil for missing item, got %+v", got)
	}
}

func TestItemWithoutAudioURL(t *testing.T) {
	store := newTestStore(t)
	campaign, _ := store.CreateCampaign("batch")

	created, err := store.CreateItem(campaign.ID, "https://example.com/video", "video", "")
	if err != nil {
		t.Fatalf("CreateItem returned error: %v", err)
	}

	got, _ := store.GetItem(created.ID)
	if got.AudioURL != "" {
		t.Errorf("AudioURL = %q, want empty", got.AudioURL)
	}
}

func TestGetCampaignItems(t *testing.T) {
	store := newTestStore(t)
	campaign, _ := store.CreateCampaign("batch")
	other, _ := store.CreateCampaign("other")

	for i := 0; i < 3; i++ {
		if _, err := store.CreateItem(campaign.ID, "https://example.com/v", "video", ""); err != nil {
			t.Fatalf("CreateItem returned error: %v", err)
		}
	}
	store.CreateItem(other.ID, "https://example.com/v", "video", "")

	items, err := store.GetCampaignItems(campaign.ID)
	if err != nil {
		t.Fatalf("GetCampaignItems returned error: %v", err)
	}
	if len(items) != 3 {
		t.Errorf("Expected 3 items, got %d", len(items))
	}
	for _, item := range items {
		if item.CampaignID != campaign.ID {
			t.Errorf("Item %s belongs to campaign %q", item.ID, item.CampaignID)
		}
	}
}

func TestUpdateItemStatus(t *testing.T) {
	store := newTestStore(t)
	campaign, _ := store.CreateCampaign("batch")
	item, _ := store.CreateItem(campaign.ID, "https://example.com/v", "video", "")

	for _, status := range []string{StatusProcessing, StatusCompleted} {
		if err := store.UpdateItemStatus(item.ID, status); err != nil {
			t.Fatalf("UpdateItemStatus(%s) returned error: %v", status, err)
		}
		got, _ := store.GetItem(item.ID)
		if got.Status != status {
			t.Errorf("Status = %q, want %q", got.Status, status)
		}
	}
}

func TestCreateAndGetFailures(t *testing.T) {
	store := newTestStore(t)
	campaign, _ := store.CreateCampaign("batch")
	item, _ := store.CreateItem(campaign.ID, "https://example.com/v", "video", "")

	_, err := store.CreateFailure(item.ID, campaign.ID, "stt", "NO_AUDIO_URL", "Item has no audio_url set")
	if err != nil {
		t.Fatalf("CreateFailure returned error: %v", err)
	}
	_, err = store.CreateFailure(item.ID, campaign.ID, "stt", "STT_FAILED", "decode failure")
	if err != nil {
		t.Fatalf("CreateFailure returned error: %v", err)
	}

	failures, err := store.GetItemFailures(item.ID)
	if err != nil {
		t.Fatalf("GetItemFailures returned error: %v", err)
	}
	if len(failures) != 2 {
		t.Fatalf("Expected 2 failure records, got %d", len(failures))
	}
	for _, f := range failures {
		if f.ItemID != item.ID || f.Stage != "stt" {
			t.Errorf("Unexpected failure record: %+v", f)
		}
		if f.FailedAt.IsZero() {
			t.Error("FailedAt not round-tripped")
		}
	}
}

func TestSchemaIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	store, err := NewStore(path, logger.NewNop())
	if err != nil {
		t.Fatalf("NewStore returned error: %v", err)
	}
	campaign, _ := store.CreateCampaign("survives reopen")
	store.Close()

	reopened, err := NewStore(path, logger.NewNop())
	if err != nil {
		t.Fatalf("Reopening store returned error: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.GetCampaign(campaign.ID)
	if err != nil {
		t.Fatalf("GetCampaign after reopen returned error: %v", err)
	}
	if got == nil || got.Name != "survives reopen" {
		t.Errorf("Campaign not preserved across reopen: %+v", got)
	}
}
