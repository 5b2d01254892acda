package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/contentops/stt-pipeline/pkg/logger"
)

// Item statuses
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Campaign is a batch of content items submitted together.
type Campaign struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Item is a single piece of content to be transcribed.
type Item struct {
	ID         string    `json:"id"`
	CampaignID string    `json:"campaign_id"`
	SourceURL  string    `json:"source_url"`
	Type       string    `json:"type"`
	Status     string    `json:"status"`
	AudioURL   string    `json:"audio_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Failure is a pipeline failure record tied to an item.
type Failure struct {
	ID         string    `json:"id"`
	ItemID     string    `json:"item_id"`
	CampaignID string    `json:"campaign_id"`
	Stage      string    `json:"stage"`
	Error      string    `json:"error"`
	Message    string    `json:"message"`
	FailedAt   time.Time `json:"failed_at"`
}

// Store handles persistence of campaigns, items, and failure records.
type Store struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewStore opens (or creates) the SQLite database at path and ensures the
// schema exists.
func NewStore(path string, log *logger.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{
		db:     db,
		logger: log.Named("sqlite-store"),
	}

	if err := store.initDB(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initDB initializes the database tables
func (s *Store) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS campaigns (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create campaigns table: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS items (
			id TEXT PRIMARY KEY,
			campaign_id TEXT NOT NULL,
			source_url TEXT NOT NULL,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			audio_url TEXT,
			created_at TIMESTAMP NOT NULL,
			FOREIGN KEY (campaign_id) REFERENCES campaigns(id)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create items table: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS failures (
			id TEXT PRIMARY KEY,
			item_id TEXT NOT NULL,
			campaign_id TEXT NOT NULL,
			stage TEXT NOT NULL,
			error TEXT NOT NULL,
			message TEXT NOT NULL,
			failed_at TIMESTAMP NOT NULL,
			FOREIGN KEY (item_id) REFERENCES items(id)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create failures table: %w", err)
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_items_campaign_id ON items(campaign_id)`)
	if err != nil {
		return fmt.Errorf("failed to create campaign_id index: %w", err)
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_failures_item_id ON failures(item_id)`)
	if err != nil {
		return fmt.Errorf("failed to create item_id index: %w", err)
	}

	return nil
}

// CreateCampaign inserts a new campaign with a generated ID.
func (s *Store) CreateCampaign(name string) (*Campaign, error) {
	campaign := &Campaign{
		ID:        uuid.NewString(),
		Name:      name,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.Exec(
		`INSERT INTO campaigns (id, name, status, created_at) VALUES (?, ?, ?, ?)`,
		campaign.ID, campaign.Name, campaign.Status, campaign.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert campaign: %w", err)
	}

	return campaign, nil
}

// GetCampaign returns the campaign with the given ID, or nil if not found.
func (s *Store) GetCampaign(id string) (*Campaign, error) {
	row := s.db.QueryRow(
		`SELECT id, name, status, created_at FROM campaigns WHERE id = ?`, id,
	)

	var campaign Campaign
	var createdAt string
	if err := row.Scan(&campaign.ID, &campaign.Name, &campaign.Status, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query campaign: %w", err)
	}
	campaign.CreatedAt = parseTime(createdAt)

	return &campaign, nil
}

// UpdateCampaignStatus sets the status of the given campaign.
func (s *Store) UpdateCampaignStatus(id, status string) error {
	_, err := s.db.Exec(`UPDATE campaigns SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update campaign status: %w", err)
	}
	return nil
}

// CreateItem inserts a new content item with a generated ID.
func (s *Store) CreateItem(campaignID, sourceURL, itemType, audioURL string) (*Item, error) {
	if itemType == "" {
		itemType = "video"
	}

	item := &Item{
		ID:         uuid.NewString(),
		CampaignID: campaignID,
		SourceURL:  sourceURL,
		Type:       itemType,
		Status:     StatusPending,
		AudioURL:   audioURL,
		CreatedAt:  time.Now().UTC(),
	}

	_, err := s.db.Exec(
		`INSERT INTO items (id, campaign_id, source_url, type, status, audio_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.CampaignID, item.SourceURL, item.Type, item.Status, item.AudioURL,
		item.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert item: %w", err)
	}

	return item, nil
}

// GetItem returns the item with the given ID, or nil if not found.
func (s *Store) GetItem(id string) (*Item, error) {
	row := s.db.QueryRow(
		`SELECT id, campaign_id, source_url, type, status, audio_url, created_at
		FROM items WHERE id = ?`, id,
	)

	item, err := scanItem(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query item: %w", err)
	}
	return item, nil
}

// GetCampaignItems returns all items belonging to a campaign.
func (s *Store) GetCampaignItems(campaignID string) ([]*Item, error) {
	rows, err := s.db.Query(
		`SELECT id, campaign_id, source_url, type, status, audio_url, created_at
		FROM items WHERE campaign_id = ? ORDER BY created_at`, campaignID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// UpdateItemStatus sets the status of the given item.
func (s *Store) UpdateItemStatus(id, status string) error {
	_, err := s.db.Exec(`UPDATE items SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update item status: %w", err)
	}
	return nil
}

// CreateFailure records a pipeline failure for an item.
func (s *Store) CreateFailure(itemID, campaignID, stage, errorCode, message string) (*Failure, error) {
	failure := &Failure{
		ID:         uuid.NewString(),
		ItemID:     itemID,
		CampaignID: campaignID,
		Stage:      stage,
		Error:      errorCode,
		Message:    message,
		FailedAt:   time.Now().UTC(),
	}

	_, err := s.db.Exec(
		`INSERT INTO failures (id, item_id, campaign_id, stage, error, message, failed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		failure.ID, failure.ItemID, failure.CampaignID, failure.Stage, failure.Error,
		failure.Message, failure.FailedAt.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert failure: %w", err)
	}

	return failure, nil
}

// GetItemFailures returns all failure records for an item, newest first.
func (s *Store) GetItemFailures(itemID string) ([]*Failure, error) {
	rows, err := s.db.Query(
		`SELECT id, item_id, campaign_id, stage, error, message, failed_at
		FROM failures WHERE item_id = ? ORDER BY failed_at DESC`, itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query failures: %w", err)
	}
	defer rows.Close()

	var failures []*Failure
	for rows.Next() {
		var f Failure
		var failedAt string
		if err := rows.Scan(&f.ID, &f.ItemID, &f.CampaignID, &f.Stage, &f.Error, &f.Message, &failedAt); err != nil {
			return nil, fmt.Errorf("failed to scan failure: %w", err)
		}
		f.FailedAt = parseTime(failedAt)
		failures = append(failures, &f)
	}
	return failures, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (*Item, error) {
	var item Item
	var audioURL sql.NullString
	var createdAt string
	if err := row.Scan(&item.ID, &item.CampaignID, &item.SourceURL, &item.Type, &item.Status, &audioURL, &createdAt); err != nil {
		return nil, err
	}
	item.AudioURL = audioURL.String
	item.CreatedAt = parseTime(createdAt)
	return &item, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
