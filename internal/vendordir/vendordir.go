// Package vendordir is a bearer-token HTTP client for the vendor
// directory service consulted when opening a streaming session.
package vendordir

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mbd888/zecmeter/internal/security"
	"github.com/mbd888/zecmeter/internal/validation"
)

const maxResponseSize = 1 << 20 // 1MB

var (
	ErrVendorNotFound = errors.New("vendordir: vendor not found")
	ErrInvalidVendor  = errors.New("vendordir: vendor record failed validation")
)

// Vendor is the directory's record for one billable service.
type Vendor struct {
	ID            string  `json:"id"`
	WalletAddress string  `json:"wallet_address"`
	RatePerHour   float64 `json:"rate_per_hour"`
	Currency      string  `json:"currency"`
}

// Client resolves vendor wallet/rate pairs from the external directory.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func New(baseURL, token string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Client{baseURL: baseURL, token: token, httpClient: &http.Client{Timeout: timeout}}
}

// Get resolves a vendor by ID, validating the directory's own response
// against the same address/rate invariants the session engine enforces.
func (c *Client) Get(ctx context.Context, vendorID string) (*Vendor, error) {
	endpoint := fmt.Sprintf("%s/internal/vendors/%s", c.baseURL, vendorID)
	if err := security.ValidateEndpointURL(endpoint); err != nil {
		return nil, fmt.Errorf("blocked vendor directory endpoint: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrVendorNotFound
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("vendordir: directory returned HTTP %d", resp.StatusCode)
	}

	var v Vendor
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("vendordir: decode response: %w", err)
	}

	if !isHexEthAddress(v.WalletAddress) {
		return nil, ErrInvalidVendor
	}
	if v.RatePerHour <= 0 || v.RatePerHour > 1000 {
		return nil, ErrInvalidVendor
	}
	return &v, nil
}

func isHexEthAddress(addr string) bool {
	return validation.IsValidEthAddress(addr)
}
