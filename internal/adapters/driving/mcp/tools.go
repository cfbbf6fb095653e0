package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/foldline/internal/core/domain"
)

// PredictInput is the input schema for the predict tool.
type PredictInput struct {
	Structures             []domain.StructureInput `json:"structures" jsonschema:"the complexes to predict, each a list of chains"`
	Constraints            []domain.Constraint     `json:"constraints,omitempty" jsonschema:"optional structural constraints"`
	Seeds                  []int64                 `json:"seeds,omitempty" jsonschema:"diffusion seeds (default a single seed 0)"`
	Mode                   string                  `json:"mode,omitempty" jsonschema:"screening or validation; empty lets foldline decide"`
	Precision              string                  `json:"precision,omitempty" jsonschema:"requested numeric precision: fp32, bf16 or fp16"`
	Urgency                string                  `json:"urgency,omitempty" jsonschema:"normal or high"`
	AccuracyRequired       float64                 `json:"accuracy_required,omitempty" jsonschema:"required accuracy between 0 and 1"`
	HighConfidenceRequired bool                    `json:"high_confidence_required,omitempty" jsonschema:"force the validation mode"`
	IncludeStructures      bool                    `json:"include_structures,omitempty" jsonschema:"return predicted coordinates (large)"`
}

// PredictOutput is the output schema for the predict tool.
type PredictOutput struct {
	RequestID    string             `json:"request_id"`
	Mode         string             `json:"mode"`
	ModeRule     string             `json:"mode_rule"`
	Precision    string             `json:"precision"`
	ModelVersion string             `json:"model_version"`
	Dropped      []DroppedOutput    `json:"dropped_constraints,omitempty"`
	Results      []PredictionOutput `json:"results"`
	Failed       int                `json:"failed"`
}

// DroppedOutput names a soft constraint removed during resolution.
type DroppedOutput struct {
	Scope     string   `json:"scope"`
	TargetIDs []string `json:"target_ids"`
	Reason    string   `json:"reason"`
}

// PredictionOutput represents a single (structure, seed) result.
type PredictionOutput struct {
	StructureIndex int     `json:"structure_index"`
	Name           string  `json:"name,omitempty"`
	Seed           int64   `json:"seed"`
	CacheHit       bool    `json:"cache_hit"`
	Degradation    string  `json:"degradation"`
	PLDDT          float64 `json:"plddt"`
	PTM            float64 `json:"ptm"`
	IPTM           float64 `json:"iptm,omitempty"`
	Format         string  `json:"format,omitempty"`
	Structure      string  `json:"structure,omitempty"`
	ErrorClass     string  `json:"error_class,omitempty"`
	Error          string  `json:"error,omitempty"`
}

// registerTools registers all tool handlers with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "predict",
		Description: "Predict 3D structures for one or more biomolecular complexes",
	}, s.handlePredict)
}

// handlePredict handles the predict tool invocation.
func (s *Server) handlePredict(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input PredictInput,
) (*mcp.CallToolResult, PredictOutput, error) {
	req := domain.PredictionRequest{
		Structures:             input.Structures,
		Constraints:            input.Constraints,
		Seeds:                  input.Seeds,
		ModeHint:               domain.Mode(input.Mode),
		PrecisionHint:          input.Precision,
		Urgency:                domain.Urgency(input.Urgency),
		AccuracyRequired:       input.AccuracyRequired,
		HighConfidenceRequired: input.HighConfidenceRequired,
	}

	resp, err := s.ports.Prediction.Orchestrate(ctx, req)
	if err != nil {
		return nil, PredictOutput{}, err
	}

	return nil, toPredictOutput(resp, input.IncludeStructures), nil
}

func toPredictOutput(resp *domain.PredictionResponse, withStructures bool) PredictOutput {
	output := PredictOutput{
		RequestID:    resp.RequestID,
		Mode:         resp.Mode.Mode.String(),
		ModeRule:     resp.Mode.Rule,
		Precision:    resp.Precision.String(),
		ModelVersion: resp.ModelVersion,
		Results:      make([]PredictionOutput, len(resp.Results)),
		Failed:       resp.Failed(),
	}

	for _, d := range resp.Dropped {
		output.Dropped = append(output.Dropped, DroppedOutput{
			Scope:     string(d.Constraint.Scope),
			TargetIDs: d.Constraint.TargetIDs,
			Reason:    d.Reason,
		})
	}

	for i := range resp.Results {
		r := &resp.Results[i]
		out := PredictionOutput{
			StructureIndex: r.StructureIndex,
			Name:           r.Name,
			Seed:           r.Seed,
			CacheHit:       r.CacheHit,
			Degradation:    r.Degradation.String(),
			PLDDT:          r.Confidence.PLDDT,
			PTM:            r.Confidence.PTM,
			IPTM:           r.Confidence.IPTM,
			ErrorClass:     r.ErrorClass,
			Error:          r.Error,
		}
		if r.Err != nil && out.Error == "" {
			out.Error = r.Err.Error()
		}
		if withStructures && r.Err == nil {
			out.Format = r.Structure.Format
			out.Structure = string(r.Structure.Data)
		}
		output.Results[i] = out
	}

	return output
}
