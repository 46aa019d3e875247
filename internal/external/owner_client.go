package external

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"account-api/internal/models"
)

// OwnerClient verifies that the prospective owner of an account exists in the
// service that owns it (user service for USER owners, project service for
// PROJECT owners).
type OwnerClient interface {
	VerifyOwner(ctx context.Context, owner models.Owner) error
}

type ownerClient struct {
	httpClient *http.Client
	config     *OwnerClientConfig
}

type OwnerClientConfig struct {
	UserServiceURL    string
	ProjectServiceURL string
	Timeout           time.Duration
}

func NewOwnerClient(config *OwnerClientConfig) OwnerClient {
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}
	return &ownerClient{
		httpClient: &http.Client{Timeout: config.Timeout},
		config:     config,
	}
}

type ownerInfo struct {
	ID     int64  `json:"id"`
	Active bool   `json:"active"`
	Name   string `json:"name"`
}

func (c *ownerClient) VerifyOwner(ctx context.Context, owner models.Owner) error {
	var url string
	switch owner.Type {
	case models.OwnerTypeUser:
		url = fmt.Sprintf("%s/api/users/%d", c.config.UserServiceURL, owner.ExternalID)
	case models.OwnerTypeProject:
		url = fmt.Sprintf("%s/api/projects/%d", c.config.ProjectServiceURL, owner.ExternalID)
	default:
		return fmt.Errorf("%w: unknown owner type %s", models.ErrInvalidArgument, owner.Type)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create owner request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("owner lookup failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s %d does not exist", models.ErrNotFound, owner.Type, owner.ExternalID)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("owner service returned status %d", resp.StatusCode)
	}

	var info ownerInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return fmt.Errorf("failed to decode owner response: %w", err)
	}
	if !info.Active {
		return fmt.Errorf("%w: %s %d is not active", models.ErrInvalidState, owner.Type, owner.ExternalID)
	}
	return nil
}
