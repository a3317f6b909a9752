package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kimhsiao/spiritlog/backend/internal/errors"
	"github.com/kimhsiao/spiritlog/backend/internal/models"
	"github.com/kimhsiao/spiritlog/backend/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// maxErrorBody bounds how much of a failed response is kept in the error.
const maxErrorBody = 512

// HTTPConfig holds remote API connection settings.
type HTTPConfig struct {
	BaseURL string
	Token   string
	// Timeout bounds every request. A hung request would otherwise hold the
	// drain guard forever.
	Timeout time.Duration
}

// HTTPClient implements API over REST and JSON.
type HTTPClient struct {
	config     HTTPConfig
	baseURL    *url.URL
	httpClient *http.Client
}

// NewHTTPClient creates a new HTTPClient.
func NewHTTPClient(config HTTPConfig) (*HTTPClient, error) {
	base, err := url.Parse(strings.TrimRight(config.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errors.New(errors.ErrInvalid, fmt.Sprintf("invalid remote url %q", config.BaseURL))
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &HTTPClient{
		config:  config,
		baseURL: base,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}, nil
}

// CreateGame creates a game owned by owner and returns the remote record.
func (c *HTTPClient) CreateGame(ctx context.Context, owner string, payload models.GamePayload) (*models.Game, error) {
	body := struct {
		OwnerID string `json:"owner_id"`
		models.GamePayload
	}{owner, payload}

	var game models.Game
	if err := c.do(ctx, http.MethodPost, "games", nil, body, &game); err != nil {
		return nil, err
	}
	return &game, nil
}

// UpdateGame applies a partial patch to an existing game.
func (c *HTTPClient) UpdateGame(ctx context.Context, gameID string, patch models.GamePatch) error {
	return c.do(ctx, http.MethodPatch, "games/"+url.PathEscape(gameID), nil, patch, nil)
}

// DeleteGame removes a game.
func (c *HTTPClient) DeleteGame(ctx context.Context, gameID string) error {
	return c.do(ctx, http.MethodDelete, "games/"+url.PathEscape(gameID), nil, nil, nil)
}

// ListGames lists the games owned by owner.
func (c *HTTPClient) ListGames(ctx context.Context, owner string) ([]models.Game, error) {
	var games []models.Game
	query := url.Values{"owner": {owner}}
	if err := c.do(ctx, http.MethodGet, "games", query, nil, &games); err != nil {
		return nil, err
	}
	return games, nil
}

// GetGame fetches a single game.
func (c *HTTPClient) GetGame(ctx context.Context, gameID string) (*models.Game, error) {
	var game models.Game
	if err := c.do(ctx, http.MethodGet, "games/"+url.PathEscape(gameID), nil, nil, &game); err != nil {
		return nil, err
	}
	return &game, nil
}

// ListSpirits lists the spirit reference data.
func (c *HTTPClient) ListSpirits(ctx context.Context) ([]models.Spirit, error) {
	var out []models.Spirit
	if err := c.do(ctx, http.MethodGet, "spirits", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) ListAdversaries(ctx context.Context) ([]models.Adversary, error) {
	var out []models.Adversary
	if err := c.do(ctx, http.MethodGet, "adversaries", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) ListScenarios(ctx context.Context) ([]models.Scenario, error) {
	var out []models.Scenario
	if err := c.do(ctx, http.MethodGet, "scenarios", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) GetSpirit(ctx context.Context, id string) (*models.Spirit, error) {
	var out models.Spirit
	if err := c.do(ctx, http.MethodGet, "spirits/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) GetAdversary(ctx context.Context, id string) (*models.Adversary, error) {
	var out models.Adversary
	if err := c.do(ctx, http.MethodGet, "adversaries/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) GetScenario(ctx context.Context, id string) (*models.Scenario, error) {
	var out models.Scenario
	if err := c.do(ctx, http.MethodGet, "scenarios/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) GetSpiritAspect(ctx context.Context, spiritID, aspect string) (*models.SpiritAspect, error) {
	var out models.SpiritAspect
	path := "spirits/" + url.PathEscape(spiritID) + "/aspects/" + url.PathEscape(aspect)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) GetAdversaryLevel(ctx context.Context, adversaryID string, level int) (*models.AdversaryLevel, error) {
	var out models.AdversaryLevel
	path := "adversaries/" + url.PathEscape(adversaryID) + "/levels/" + strconv.Itoa(level)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do performs a request and decodes a JSON response into out when out is non-nil.
func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, in, out interface{}) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "remote."+strings.ToLower(method),
		attribute.String("http.path", path))
	defer func() { telemetry.EndSpan(span, err) }()

	req, err := c.createRequest(ctx, method, path, query, in)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(errors.ErrRemoteFailed, method+" "+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errors.New(errors.ErrRemoteNotFound, method+" "+path)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return errors.New(errors.ErrNotAuthenticated, method+" "+path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return errors.Wrap(errors.ErrRemoteFailed, method+" "+path,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(errors.ErrRemoteFailed, "decode "+path, err)
	}
	return nil
}

// createRequest builds an authenticated request for path under the base URL.
func (c *HTTPClient) createRequest(ctx context.Context, method, path string, query url.Values, in interface{}) (*http.Request, error) {
	u := c.baseURL.JoinPath(path)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, errors.Wrap(errors.ErrInvalid, "encode request", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "create request", err)
	}

	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}
	return req, nil
}
