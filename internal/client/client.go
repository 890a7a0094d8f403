// Package client is a Go client for the qrtrack JSON API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/qrtrack/internal/lifecycle"
	"github.com/wolfeidau/qrtrack/internal/models"
	"github.com/wolfeidau/qrtrack/internal/server"
)

// Config holds common client configuration
type Config struct {
	ServerURL string
	Token     string
	Timeout   time.Duration

	// CacheDir keeps revalidatable GET responses on disk; empty uses memory.
	CacheDir string
}

// DefaultConfig returns a default client configuration
func DefaultConfig() Config {
	return Config{
		ServerURL: "http://localhost:8080",
		Timeout:   30 * time.Second,
	}
}

// APIError is a failure envelope returned by the server.
type APIError struct {
	StatusCode int
	Reason     lifecycle.Reason
	Message    string
	Codes      []string // set for duplicate_code on bulk create
}

func (e *APIError) Error() string {
	if len(e.Codes) > 0 {
		return fmt.Sprintf("%s (%d): %s [%s]", e.Reason, e.StatusCode, e.Message, strings.Join(e.Codes, ", "))
	}
	return fmt.Sprintf("%s (%d): %s", e.Reason, e.StatusCode, e.Message)
}

// IsReason reports whether err is an APIError with reason.
func IsReason(err error, reason lifecycle.Reason) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Reason == reason
}

type envelope struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	Reason  lifecycle.Reason `json:"reason"`
	Data    json.RawMessage  `json:"data"`
}

// Client calls the asset API.
type Client struct {
	baseURL *url.URL
	http    *http.Client
}

// New creates a client with a caching, token-bearing transport.
func New(cfg Config) (*Client, error) {
	if cfg.ServerURL == "" {
		return nil, errors.New("server url is required")
	}
	base, err := url.Parse(strings.TrimSuffix(cfg.ServerURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported server url scheme %q", base.Scheme)
	}

	httpClient := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &bearerTransport{
			token: cfg.Token,
			base:  newCachingTransport(cfg.CacheDir, http.DefaultTransport),
		},
	}

	return &Client{baseURL: base, http: httpClient}, nil
}

// Health checks the server and its store.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, nil)
}

// Create registers a new asset code.
func (c *Client) Create(ctx context.Context, code string) (*models.Asset, error) {
	var asset models.Asset
	if err := c.do(ctx, http.MethodPost, "/api/assets", nil, server.CreateRequest{Code: code}, &asset); err != nil {
		return nil, err
	}
	return &asset, nil
}

// CreateBulk registers every code or none.
func (c *Client) CreateBulk(ctx context.Context, codes []string) ([]*models.Asset, error) {
	var assets []*models.Asset
	if err := c.do(ctx, http.MethodPost, "/api/assets/bulk", nil, server.CreateBulkRequest{Codes: codes}, &assets); err != nil {
		return nil, err
	}
	return assets, nil
}

// Activate takes custody of the inactive asset with code.
func (c *Client) Activate(ctx context.Context, code string) (*models.Asset, error) {
	var asset models.Asset
	if err := c.do(ctx, http.MethodPost, "/api/assets/activate", nil, server.ActivateRequest{Code: code}, &asset); err != nil {
		return nil, err
	}
	return &asset, nil
}

// Complete finishes an active asset.
func (c *Client) Complete(ctx context.Context, id uuid.UUID, notes string) (*models.Asset, error) {
	var asset models.Asset
	req := server.CompleteRequest{AssetID: id.String(), Notes: notes}
	if err := c.do(ctx, http.MethodPost, "/api/assets/complete", nil, req, &asset); err != nil {
		return nil, err
	}
	return &asset, nil
}

// ListAll returns one page of every asset.
func (c *Client) ListAll(ctx context.Context, limit, offset int) (*lifecycle.Page, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		query.Set("offset", strconv.Itoa(offset))
	}

	var page lifecycle.Page
	if err := c.do(ctx, http.MethodGet, "/api/assets", query, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// ListInactive returns the assets available for activation.
func (c *Client) ListInactive(ctx context.Context) ([]*models.Asset, error) {
	return c.list(ctx, "/api/assets/inactive")
}

// ListMine returns the assets in the caller's custody.
func (c *Client) ListMine(ctx context.Context) ([]*models.Asset, error) {
	return c.list(ctx, "/api/assets/mine")
}

// ListByStatus returns the assets in status.
func (c *Client) ListByStatus(ctx context.Context, status models.Status) ([]*models.Asset, error) {
	return c.list(ctx, "/api/assets/status/"+url.PathEscape(status.String()))
}

// GetByCode looks an asset up by code.
func (c *Client) GetByCode(ctx context.Context, code string) (*models.Asset, error) {
	var asset models.Asset
	if err := c.do(ctx, http.MethodGet, "/api/assets/code/"+url.PathEscape(code), nil, nil, &asset); err != nil {
		return nil, err
	}
	return &asset, nil
}

// Details returns an asset with its history.
func (c *Client) Details(ctx context.Context, id uuid.UUID) (*lifecycle.AssetDetails, error) {
	var details lifecycle.AssetDetails
	if err := c.do(ctx, http.MethodGet, "/api/assets/id/"+id.String(), nil, nil, &details); err != nil {
		return nil, err
	}
	return &details, nil
}

// History returns an asset's audit trail, most recent first.
func (c *Client) History(ctx context.Context, id uuid.UUID) ([]*models.HistoryEntry, error) {
	var history []*models.HistoryEntry
	if err := c.do(ctx, http.MethodGet, "/api/assets/id/"+id.String()+"/history", nil, nil, &history); err != nil {
		return nil, err
	}
	return history, nil
}

func (c *Client) list(ctx context.Context, path string) ([]*models.Asset, error) {
	var assets []*models.Asset
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &assets); err != nil {
		return nil, err
	}
	return assets, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	// path is already escaped by the caller
	u, err := url.Parse(c.baseURL.String() + path)
	if err != nil {
		return fmt.Errorf("invalid request path %q: %w", path, err)
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	// Read to EOF so the caching transport stores the response
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: failed to read response: %w", method, path, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%s %s: unexpected response (%d): %w", method, path, resp.StatusCode, err)
	}

	if !env.Success {
		apiErr := &APIError{StatusCode: resp.StatusCode, Reason: env.Reason, Message: env.Message}
		if env.Reason == lifecycle.ReasonDuplicateCode && len(env.Data) > 0 {
			var dup server.DuplicateCodes
			if err := json.Unmarshal(env.Data, &dup); err == nil {
				apiErr.Codes = dup.Codes
			}
		}
		return apiErr
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s %s: failed to decode data: %w", method, path, err)
	}
	return nil
}
