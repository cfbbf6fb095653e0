package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/foldline/internal/core/domain"
)

const (
	// uriScheme is the custom URI scheme for foldline resources.
	uriScheme = "foldline://"
)

// registerResources registers all resource handlers with the MCP server.
func (s *Server) registerResources() {
	s.server.AddResource(&mcp.Resource{
		URI:         uriScheme + "cache/stats",
		Name:        "cache-stats",
		Description: "Hit, miss and store counters for every cache tier",
		MIMEType:    "application/json",
	}, s.handleCacheStatsResource)

	// Template for a single tier.
	s.server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: uriScheme + "cache/tiers/{tier}/stats",
		Name:        "cache-tier-stats",
		Description: "Counters for one cache tier (result, feature, alignment, weights)",
		MIMEType:    "application/json",
	}, s.handleTierStatsResource)

	s.server.AddResource(&mcp.Resource{
		URI:         uriScheme + "settings",
		Name:        "settings",
		Description: "Active orchestration settings (credentials omitted)",
		MIMEType:    "application/json",
	}, s.handleSettingsResource)
}

// handleCacheStatsResource returns counters for every tier.
func (s *Server) handleCacheStatsResource(
	_ context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	if s.ports.Cache == nil {
		return jsonResult(req.Params.URI, []domain.TierStats{})
	}
	return jsonResult(req.Params.URI, s.ports.Cache.Stats())
}

// handleTierStatsResource returns counters for the tier named in the URI.
func (s *Server) handleTierStatsResource(
	_ context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	if s.ports.Cache == nil {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	// Extract tier from URI: foldline://cache/tiers/{tier}/stats
	tier := extractTier(req.Params.URI)
	if !tier.IsValid() {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	for _, st := range s.ports.Cache.Stats() {
		if st.Tier == tier {
			return jsonResult(req.Params.URI, st)
		}
	}
	return nil, mcp.ResourceNotFoundError(req.Params.URI)
}

// settingsView is the published shape of domain.Settings.
type settingsView struct {
	ModelVersion string `json:"model_version"`
	Mode         struct {
		ScreeningThreshold       int     `json:"screening_threshold"`
		ValidationTokenThreshold int     `json:"validation_token_threshold"`
		AccuracyThreshold        float64 `json:"accuracy_threshold"`
	} `json:"mode"`
	Precision struct {
		Screening  string            `json:"screening"`
		Validation string            `json:"validation"`
		Floors     map[string]string `json:"floors"`
	} `json:"precision"`
	Cache struct {
		Tiers      map[string]string `json:"tiers"`
		ResultTTL  string            `json:"result_ttl"`
		FeatureTTL string            `json:"feature_ttl"`
	} `json:"cache"`
	Timeouts struct {
		Alignment string `json:"alignment"`
		Inference string `json:"inference"`
	} `json:"timeouts"`
	Inference struct {
		URL   string  `json:"url"`
		Rate  float64 `json:"rate"`
		Burst int     `json:"burst"`
	} `json:"inference"`
	MiniBatchSize    int      `json:"mini_batch_size"`
	MaxParallel      int      `json:"max_parallel"`
	RetryWeightBoost float64  `json:"retry_weight_boost"`
	ScheduledTasks   []string `json:"scheduled_tasks"`
}

func newSettingsView(cfg domain.Settings) settingsView {
	var v settingsView
	v.ModelVersion = cfg.ModelVersion

	v.Mode.ScreeningThreshold = cfg.Mode.ScreeningThreshold
	v.Mode.ValidationTokenThreshold = cfg.Mode.ValidationTokenThreshold
	v.Mode.AccuracyThreshold = cfg.Mode.AccuracyThreshold

	v.Precision.Screening = cfg.Precision.Screening.String()
	v.Precision.Validation = cfg.Precision.Validation.String()
	v.Precision.Floors = make(map[string]string, len(cfg.Precision.Floors))
	for stage, p := range cfg.Precision.Floors {
		v.Precision.Floors[string(stage)] = p.String()
	}

	v.Cache.Tiers = make(map[string]string)
	for _, tier := range domain.TierOrder() {
		v.Cache.Tiers[string(tier)] = string(cfg.Cache.BackendFor(tier))
	}
	v.Cache.ResultTTL = cfg.Cache.ResultTTL.String()
	v.Cache.FeatureTTL = cfg.Cache.FeatureTTL.String()

	v.Timeouts.Alignment = cfg.Timeouts.Alignment.String()
	v.Timeouts.Inference = cfg.Timeouts.Inference.String()

	v.Inference.URL = cfg.Inference.URL
	v.Inference.Rate = cfg.Inference.Rate
	v.Inference.Burst = cfg.Inference.Burst

	v.MiniBatchSize = cfg.MiniBatchSize
	v.MaxParallel = cfg.MaxParallel
	v.RetryWeightBoost = cfg.RetryWeightBoost

	v.ScheduledTasks = []string{}
	if cfg.Scheduler.Enabled {
		for id, tc := range cfg.Scheduler.TaskConfigs {
			if tc.Enabled {
				v.ScheduledTasks = append(v.ScheduledTasks, id)
			}
		}
		sort.Strings(v.ScheduledTasks)
	}
	return v
}

// handleSettingsResource returns the active settings.
func (s *Server) handleSettingsResource(
	_ context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	if s.ports.Settings == nil {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}
	return jsonResult(req.Params.URI, newSettingsView(s.ports.Settings.Current()))
}

func jsonResult(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshalling %s: %w", uri, err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}

// extractTier extracts the tier from a URI like foldline://cache/tiers/{tier}/stats.
func extractTier(uri string) domain.TierID {
	const prefix = uriScheme + "cache/tiers/"
	const suffix = "/stats"

	if !strings.HasPrefix(uri, prefix) {
		return ""
	}

	uri = strings.TrimPrefix(uri, prefix)
	if !strings.HasSuffix(uri, suffix) {
		return ""
	}

	return domain.TierID(strings.TrimSuffix(uri, suffix))
}
