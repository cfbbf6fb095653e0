package domain

import "time"

// Alignment is the MSA found for one sequence. Opaque to the core beyond
// its depth, which is reported in diagnostics.
type Alignment struct {
	Sequence string `json:"sequence"`
	Depth    int    `json:"depth"`
	Data     []byte `json:"data,omitempty"`
}

// ChainFeatures pairs a chain with its alignment, if any.
type ChainFeatures struct {
	Chain     Chain      `json:"chain"`
	Alignment *Alignment `json:"alignment,omitempty"`
}

// Features is the model input assembled for one structure.
type Features struct {
	Chains []ChainFeatures `json:"chains"`

	// EmbeddingOnly marks features built without MSAs; the predictor falls
	// back to language-model embeddings.
	EmbeddingOnly bool `json:"embedding_only"`
}

// ModelVariant selects a checkpoint family.
type ModelVariant string

// Model variants.
const (
	VariantFull ModelVariant = "full"
	VariantMini ModelVariant = "mini"
)

// WeightsManifest locates a checkpoint for a model version and variant.
type WeightsManifest struct {
	ModelVersion string       `json:"model_version"`
	Variant      ModelVariant `json:"variant"`
	URI          string       `json:"uri"`
	Digest       string       `json:"digest,omitempty"`
}

// ModelConfig is everything about the model invocation except its inputs.
type ModelConfig struct {
	Mode           Mode            `json:"mode"`
	Variant        ModelVariant    `json:"variant"`
	Weights        WeightsManifest `json:"weights"`
	BatchSize      int             `json:"batch_size"`
	DiffusionSteps int             `json:"diffusion_steps"`
	Samples        int             `json:"samples"`
}

// Structure is the predicted coordinates, opaque to the core.
type Structure struct {
	Format string `json:"format"`
	Data   []byte `json:"data"`
}

// ConfidenceMetrics summarises model confidence.
type ConfidenceMetrics struct {
	PLDDT float64 `json:"plddt"`
	PTM   float64 `json:"ptm"`
	IPTM  float64 `json:"iptm,omitempty"`
}

// Prediction is what the predictor returns for one item.
type Prediction struct {
	Structure  Structure         `json:"structure"`
	Confidence ConfidenceMetrics `json:"confidence"`
}

// PredictionResult is the outcome of one (structure, seed) item.
type PredictionResult struct {
	StructureIndex int               `json:"structure_index"`
	Name           string            `json:"name,omitempty"`
	Seed           int64             `json:"seed"`
	CacheKey       string            `json:"cache_key"`
	Structure      Structure         `json:"structure"`
	Confidence     ConfidenceMetrics `json:"confidence"`
	Degradation    DegradationState  `json:"degradation"`
	CacheHit       bool              `json:"cache_hit"`
	Shared         bool              `json:"shared,omitempty"`

	// Err is set when this item failed; ErrorClass names its taxonomy class.
	Err        error  `json:"-"`
	ErrorClass string `json:"error_class,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Succeeded reports whether the item produced a structure.
func (r PredictionResult) Succeeded() bool {
	return r.Err == nil
}

// PredictionResponse is returned by the orchestrator for a whole request.
type PredictionResponse struct {
	RequestID    string              `json:"request_id"`
	Mode         ModeDecision        `json:"mode"`
	Precision    EffectivePrecision  `json:"precision"`
	ModelVersion string              `json:"model_version"`
	Dropped      []DroppedConstraint `json:"dropped_constraints,omitempty"`
	Results      []PredictionResult  `json:"results"`
	Duration     time.Duration       `json:"duration"`
}

// Failed returns the number of failed items.
func (r *PredictionResponse) Failed() int {
	n := 0
	for i := range r.Results {
		if r.Results[i].Err != nil {
			n++
		}
	}
	return n
}
