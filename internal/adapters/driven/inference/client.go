package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/custodia-labs/foldline/internal/core/domain"
	"github.com/custodia-labs/foldline/internal/core/ports/driven"
	"github.com/custodia-labs/foldline/internal/logger"
)

// Ensure Client implements the model-side ports.
var (
	_ driven.Predictor         = (*Client)(nil)
	_ driven.AlignmentService  = (*Client)(nil)
	_ driven.WeightsRegistry   = (*Client)(nil)
	_ driven.ConstraintChecker = (*Client)(nil)
)

// Default configuration values.
const (
	DefaultBaseURL = "http://localhost:8808"

	// DefaultTimeout is a transport backstop; per-call deadlines come from
	// the orchestrator's context.
	DefaultTimeout = 2 * time.Hour

	maxErrorBody = 64 << 10
)

// Config holds configuration for the model service client.
type Config struct {
	// BaseURL is the model service base URL (default: http://localhost:8808).
	BaseURL string

	// Timeout is the HTTP client timeout (default: 2h).
	Timeout time.Duration
}

// ConfigFromSettings maps inference settings to a Config.
func ConfigFromSettings(s domain.InferenceSettings) Config {
	return Config{BaseURL: s.URL}
}

// Client talks to the model service over HTTP.
type Client struct {
	client  *http.Client
	baseURL string
}

// NewClient creates a new model service client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}
}

// inferRequest is the /v1/infer request format.
type inferRequest struct {
	Features    domain.Features              `json:"features"`
	Constraints domain.ResolvedConstraintSet `json:"constraints"`
	Precision   domain.EffectivePrecision    `json:"precision"`
	Config      domain.ModelConfig           `json:"config"`
	Seed        int64                        `json:"seed"`
}

// msaRequest is the /v1/msa request format.
type msaRequest struct {
	Sequence string `json:"sequence"`
}

// checkRequest is the /v1/check request format.
type checkRequest struct {
	Structure domain.Structure            `json:"structure"`
	Hard      []domain.ResolvedConstraint `json:"hard"`
}

// checkResponse is the /v1/check response format.
type checkResponse struct {
	Violated []domain.ResolvedConstraint `json:"violated"`
}

// Infer runs structure inference for one item.
func (c *Client) Infer(
	ctx context.Context,
	features domain.Features,
	constraints domain.ResolvedConstraintSet,
	precision domain.EffectivePrecision,
	config domain.ModelConfig,
	seed int64,
) (domain.Prediction, error) {
	// Dropped constraints are diagnostics for the caller, not model input.
	constraints.Dropped = nil

	var out domain.Prediction
	err := c.do(ctx, http.MethodPost, "/v1/infer", inferRequest{
		Features:    features,
		Constraints: constraints,
		Precision:   precision,
		Config:      config,
		Seed:        seed,
	}, &out)
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("infer (%s, seed %d): %w", config.Variant, seed, err)
	}
	return out, nil
}

// Search runs an MSA search for one sequence.
func (c *Client) Search(ctx context.Context, sequence string) (domain.Alignment, error) {
	var out domain.Alignment
	if err := c.do(ctx, http.MethodPost, "/v1/msa", msaRequest{Sequence: sequence}, &out); err != nil {
		return domain.Alignment{}, fmt.Errorf("msa search: %w", err)
	}
	if out.Sequence == "" {
		out.Sequence = sequence
	}
	return out, nil
}

// Resolve returns the checkpoint manifest for a model version and variant.
func (c *Client) Resolve(
	ctx context.Context, modelVersion string, variant domain.ModelVariant,
) (domain.WeightsManifest, error) {
	path := "/v1/weights/" + url.PathEscape(modelVersion) + "/" + url.PathEscape(string(variant))
	var out domain.WeightsManifest
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return domain.WeightsManifest{}, fmt.Errorf("resolving weights %s/%s: %w", modelVersion, variant, err)
	}
	return out, nil
}

// Check validates a structure against hard constraints.
func (c *Client) Check(
	ctx context.Context, structure domain.Structure, hard []domain.ResolvedConstraint,
) ([]domain.ResolvedConstraint, error) {
	if len(hard) == 0 {
		return nil, nil
	}
	var out checkResponse
	if err := c.do(ctx, http.MethodPost, "/v1/check", checkRequest{Structure: structure, Hard: hard}, &out); err != nil {
		return nil, fmt.Errorf("checking constraints: %w", err)
	}
	return out.Violated, nil
}

// do sends a JSON request and decodes a JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		jsonBody, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	logger.Debug("inference: %s %s -> %d in %s", method, path, resp.StatusCode, time.Since(start).Round(time.Millisecond))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return decodeError(resp, errBody)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
