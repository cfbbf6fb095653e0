package services

import (
	"fmt"

	"github.com/custodia-labs/foldline/internal/core/domain"
	"github.com/custodia-labs/foldline/internal/digest"
)

// ResultKey derives the result-tier key of one (structure, seed) item.
// Chain order and request field order never affect it.
func ResultKey(s domain.StructureInput, r *domain.ResolvedRequest, seed int64) (domain.CacheKey, error) {
	return sumKey(domain.KeyMaterial{
		FormatVersion:    digest.KeyFormatVersion,
		Sequences:        s.CanonicalSequences(),
		ModelVersion:     r.ModelVersion,
		Mode:             r.Mode.Mode,
		Precision:        r.Precision,
		ConstraintDigest: r.ConstraintDigest,
		Seed:             seed,
	})
}

// FeatureKey derives the feature-tier key of a structure's model input.
func FeatureKey(s domain.StructureInput, modelVersion string, embeddingOnly bool) (domain.CacheKey, error) {
	return sumKey(struct {
		FormatVersion int      `json:"format_version"`
		Tier          string   `json:"tier"`
		Sequences     []string `json:"sequences"`
		ModelVersion  string   `json:"model_version"`
		EmbeddingOnly bool     `json:"embedding_only"`
	}{digest.KeyFormatVersion, string(domain.TierFeature), s.CanonicalSequences(), modelVersion, embeddingOnly})
}

// AlignmentKey derives the alignment-tier key of one chain. Alignments do
// not depend on the model, so the key holds only the chain's identity.
func AlignmentKey(c domain.Chain) (domain.CacheKey, error) {
	return sumKey(struct {
		FormatVersion int    `json:"format_version"`
		Tier          string `json:"tier"`
		Kind          string `json:"kind"`
		Sequence      string `json:"sequence"`
	}{digest.KeyFormatVersion, string(domain.TierAlignment), string(c.Kind), c.Normalized()})
}

// WeightsKey derives the weights-tier key of a checkpoint.
func WeightsKey(modelVersion string, variant domain.ModelVariant) (domain.CacheKey, error) {
	return sumKey(struct {
		FormatVersion int    `json:"format_version"`
		Tier          string `json:"tier"`
		ModelVersion  string `json:"model_version"`
		Variant       string `json:"variant"`
	}{digest.KeyFormatVersion, string(domain.TierWeights), modelVersion, string(variant)})
}

func sumKey(material any) (domain.CacheKey, error) {
	sum, err := digest.Sum(material)
	if err != nil {
		return domain.CacheKey{}, fmt.Errorf("derive cache key: %w", err)
	}
	return domain.CacheKey(sum), nil
}
