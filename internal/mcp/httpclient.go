package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/claude/splits/internal/models"
	"github.com/claude/splits/internal/storage"
)

// HTTPClient implements DataSource by calling the Splits REST API.
// Used for remote MCP mode where the binary runs locally (stdio) but
// data lives on the timer host (accessed over Tailscale).
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// Compile-time check: HTTPClient satisfies DataSource.
var _ DataSource = (*HTTPClient)(nil)

// NewHTTPClient creates an HTTPClient targeting the given base URL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPClient) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("httpclient: create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpclient: %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("httpclient: read body: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return body, nil
	case http.StatusNotFound:
		return nil, fmt.Errorf("httpclient: %s: %w", path, storage.ErrNotFound)
	default:
		return nil, fmt.Errorf("httpclient: %s returned %d: %s", path, resp.StatusCode, body)
	}
}

func (c *HTTPClient) QueryWorkouts(ctx context.Context, f models.WorkoutFilter) ([]models.WorkoutRecord, error) {
	params := url.Values{}
	if !f.Since.IsZero() {
		params.Set("since", f.Since.Format(time.RFC3339))
	}
	if !f.Until.IsZero() {
		params.Set("until", f.Until.Format(time.RFC3339))
	}
	if f.Mode != "" {
		params.Set("mode", string(f.Mode))
	}
	if f.Category != "" {
		params.Set("category", string(f.Category))
	}
	if f.Limit > 0 {
		params.Set("limit", strconv.Itoa(f.Limit))
	}

	body, err := c.get(ctx, "/api/v1/workouts", params)
	if err != nil {
		return nil, err
	}

	var workouts []models.WorkoutRecord
	if err := json.Unmarshal(body, &workouts); err != nil {
		return nil, fmt.Errorf("httpclient: decode workouts: %w", err)
	}
	return workouts, nil
}

func (c *HTTPClient) GetWorkout(ctx context.Context, id uuid.UUID) (models.WorkoutRecord, error) {
	body, err := c.get(ctx, "/api/v1/workouts/"+id.String(), nil)
	if err != nil {
		return models.WorkoutRecord{}, err
	}

	var rec models.WorkoutRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return models.WorkoutRecord{}, fmt.Errorf("httpclient: decode workout: %w", err)
	}
	return rec, nil
}

func (c *HTTPClient) ListPersonalBests(ctx context.Context, category models.Category) ([]models.PersonalBest, error) {
	params := url.Values{}
	if category != "" {
		params.Set("category", string(category))
	}

	body, err := c.get(ctx, "/api/v1/personal-bests", params)
	if err != nil {
		return nil, err
	}

	var bests []models.PersonalBest
	if err := json.Unmarshal(body, &bests); err != nil {
		return nil, fmt.Errorf("httpclient: decode personal bests: %w", err)
	}
	return bests, nil
}

func (c *HTTPClient) GetDashboard(ctx context.Context, category models.Category) (models.Dashboard, error) {
	params := url.Values{}
	params.Set("category", string(category))

	body, err := c.get(ctx, "/api/v1/dashboard", params)
	if err != nil {
		return models.Dashboard{}, err
	}

	var dash models.Dashboard
	if err := json.Unmarshal(body, &dash); err != nil {
		return models.Dashboard{}, fmt.Errorf("httpclient: decode dashboard: %w", err)
	}
	return dash, nil
}

// LoadSessionState reads the engine's live state rather than the
// persisted row, so it is never behind by a debounce window.
func (c *HTTPClient) LoadSessionState(ctx context.Context) (*models.SessionState, error) {
	body, err := c.get(ctx, "/api/v1/session", nil)
	if err != nil {
		return nil, err
	}

	s, err := models.DecodeSessionState(body)
	if err != nil {
		return nil, fmt.Errorf("httpclient: %w", err)
	}
	return s, nil
}
