package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"arena-ledger-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AccountSyncClient polls the profile service for onboarded holders and makes
// sure each has an Account row. Balances are never touched here — they move
// only through the ledger — so the upsert updates the denormalized holder
// name and nothing else.
type AccountSyncClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	DB         *gorm.DB
}

func NewAccountSyncClient(db *gorm.DB) *AccountSyncClient {
	baseURL := os.Getenv("PROFILE_SERVICE_URL")
	if baseURL == "" {
		log.Fatal("PROFILE_SERVICE_URL environment variable is required")
	}
	token := os.Getenv("LEDGER_SERVICE_TOKEN")
	if token == "" {
		log.Fatal("LEDGER_SERVICE_TOKEN environment variable is required for account sync")
	}

	return &AccountSyncClient{
		BaseURL: baseURL,
		Token:   token,
		DB:      db,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// changedHolder matches the JSON of the profile service's public profiles feed.
type changedHolder struct {
	ExternalID string    `json:"external_id"`
	Username   string    `json:"username"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (c *AccountSyncClient) GetChangedHolders(ctx context.Context, since time.Time) ([]changedHolder, error) {
	since = since.UTC()

	u, err := url.Parse(fmt.Sprintf("%s/api/v1/public/profiles", c.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}

	q := u.Query()
	q.Set("since", since.Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call profile service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("profile service returned status %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Users []changedHolder `json:"users"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode profile service response: %w", err)
	}

	return response.Users, nil
}

// UpsertAccounts ensures an Account row exists for each holder, touching only
// the denormalized name on conflict. The assignment list deliberately excludes
// credits, xp and version: a re-onboarded holder keeps their balances, and
// balances change only via the ledger's locked write path. Holders without an
// external id are skipped; returns how many rows were written.
func (c *AccountSyncClient) UpsertAccounts(holders []changedHolder) (int, error) {
	accounts := make([]models.Account, 0, len(holders))
	for _, h := range holders {
		if h.ExternalID == "" {
			continue
		}
		accounts = append(accounts, models.Account{
			ID:         uuid.NewString(),
			HolderID:   h.ExternalID,
			HolderName: h.Username,
		})
	}
	if len(accounts) == 0 {
		return 0, nil
	}

	if err := c.DB.Clauses(
		clause.OnConflict{
			Columns:   []clause.Column{{Name: "holder_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"holder_name", "updated_at"}),
		},
	).Create(&accounts).Error; err != nil {
		return 0, err
	}
	return len(accounts), nil
}

// PollAccounts keeps the accounts table in step with holder onboarding.
func PollAccounts(ctx context.Context, client *AccountSyncClient, pollInterval time.Duration) {
	log.Println("Starting account onboarding sync...")
	lastSyncTime := time.Now().UTC().Add(-24 * time.Hour)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Account sync stopped.")
			return
		case <-ticker.C:
			tickTime := time.Now().UTC()

			holders, err := client.GetChangedHolders(ctx, lastSyncTime)
			if err != nil {
				log.Printf("Error polling holders: %v", err)
				continue
			}
			if len(holders) == 0 {
				continue
			}

			count, err := client.UpsertAccounts(holders)
			if err != nil {
				log.Printf("Failed to upsert account(s): %v", err)
				// Do NOT advance lastSyncTime on failure — retry same window next tick
				continue
			}

			lastSyncTime = tickTime
			if count > 0 {
				log.Printf("Synced %d account(s) from profile service.", count)
			}
		}
	}
}
