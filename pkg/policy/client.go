// Package policy provides a client for the external policy service that
// gates which derived alerts may be released to downstream consumers.
package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/poseidon-mda/poseidon/pkg/messages"
)

// Client is a policy service API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new policy client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Decision is the policy service's verdict on releasing an alert.
type Decision struct {
	Allowed  bool           `json:"allowed"`
	Reasons  []string       `json:"reasons,omitempty"`
	Warnings []string       `json:"warnings,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type queryInput struct {
	Input any `json:"input"`
}

type queryResult struct {
	Result map[string]any `json:"result"`
}

// Query evaluates a policy path against arbitrary input.
func (c *Client) Query(ctx context.Context, path string, input any) (map[string]any, error) {
	url := fmt.Sprintf("%s/v1/data/%s", c.baseURL, path)

	body, err := json.Marshal(queryInput{Input: input})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal input: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("policy service returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result queryResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return result.Result, nil
}

// ReleaseAlert asks whether a dark-vessel alert may be published. The gate
// fails open: if the policy service is unreachable the alert is released,
// since suppressing maritime safety alerts on an outage is worse than
// over-publishing.
func (c *Client) ReleaseAlert(ctx context.Context, alert *messages.DarkAlert) Decision {
	result, err := c.Query(ctx, "poseidon/alerts/release", map[string]any{
		"vessel_id":        alert.VesselID,
		"status":           string(alert.Status),
		"gap_hours":        alert.GapHours,
		"search_radius_nm": alert.SearchRadiusNM,
	})
	if err != nil {
		return Decision{
			Allowed:  true,
			Warnings: []string{fmt.Sprintf("policy service unavailable, failing open: %v", err)},
		}
	}

	decision := Decision{Metadata: make(map[string]any)}
	if allowed, ok := result["allow"].(bool); ok {
		decision.Allowed = allowed
	}
	if reasons, ok := result["reasons"].([]any); ok {
		for _, r := range reasons {
			if s, ok := r.(string); ok {
				decision.Reasons = append(decision.Reasons, s)
			}
		}
	}
	for k, v := range result {
		if k != "allow" && k != "reasons" {
			decision.Metadata[k] = v
		}
	}
	return decision
}

// Health checks if the policy engine is reachable
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("policy engine unhealthy: status %d", resp.StatusCode)
	}

	return nil
}
