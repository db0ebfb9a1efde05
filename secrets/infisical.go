// Package secrets fetches secrets and envelope keys from Infisical. Every
// retrieval is appended to an audit trail so access to restricted material is
// reconstructable.
package secrets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// Config for the Infisical client.
type Config struct {
	// BaseURL of the Infisical instance, e.g. http://localhost:8085.
	BaseURL string
	// Token is the service token used as bearer auth.
	Token string
	// WorkspaceID and Environment scope every secret path.
	WorkspaceID string
	Environment string
}

// AuditEntry records one secret retrieval.
type AuditEntry struct {
	Path        string    `json:"path"`
	Key         string    `json:"key"`
	RetrievedAt time.Time `json:"retrieved_at"`
}

// Client is an Infisical HTTP API client.
type Client struct {
	config Config
	http   *http.Client

	mu    sync.Mutex
	audit []AuditEntry
}

func NewClient(config Config) *Client {
	return &Client{
		config: config,
		http:   &http.Client{Timeout: 10 * time.Second},
	}
}

type secretResponse struct {
	Secret struct {
		SecretKey   string `json:"secretKey"`
		SecretValue string `json:"secretValue"`
	} `json:"secret"`
}

// GetSecret fetches one secret by key under a path.
func (c *Client) GetSecret(ctx context.Context, path, key string) (string, error) {
	endpoint := fmt.Sprintf("%s/api/v3/secrets/raw/%s?workspaceId=%s&environment=%s&secretPath=%s",
		c.config.BaseURL, url.PathEscape(key),
		url.QueryEscape(c.config.WorkspaceID), url.QueryEscape(c.config.Environment),
		url.QueryEscape(path))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.config.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch secret %s, details: %v", key, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch secret %s: status %d", key, resp.StatusCode)
	}

	var parsed secretResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode secret %s, details: %v", key, err)
	}

	c.recordAccess(path, key)
	return parsed.Secret.SecretValue, nil
}

// SetSecret creates or updates a secret under a path.
func (c *Client) SetSecret(ctx context.Context, path, key, value string) error {
	endpoint := fmt.Sprintf("%s/api/v3/secrets/raw/%s", c.config.BaseURL, url.PathEscape(key))
	body, err := json.Marshal(map[string]string{
		"workspaceId": c.config.WorkspaceID,
		"environment": c.config.Environment,
		"secretPath":  path,
		"secretValue": value,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.config.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("store secret %s, details: %v", key, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("store secret %s: status %d", key, resp.StatusCode)
	}
	return nil
}

func (c *Client) recordAccess(path, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audit = append(c.audit, AuditEntry{
		Path:        path,
		Key:         key,
		RetrievedAt: time.Now().UTC(),
	})
}

// AuditTrail returns a copy of the recorded retrievals.
func (c *Client) AuditTrail() []AuditEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]AuditEntry(nil), c.audit...)
}
