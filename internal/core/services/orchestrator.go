package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/foldline/internal/core/domain"
	"github.com/custodia-labs/foldline/internal/core/ports/driven"
	"github.com/custodia-labs/foldline/internal/core/ports/driving"
	"github.com/custodia-labs/foldline/internal/logger"
)

// Ensure Orchestrator implements the interface.
var _ driving.PredictionService = (*Orchestrator)(nil)

// resultRecord is the result-tier payload.
type resultRecord struct {
	Structure   domain.Structure         `json:"structure"`
	Confidence  domain.ConfidenceMetrics `json:"confidence"`
	Degradation domain.DegradationState  `json:"degradation"`
}

// workItem is one (structure, seed) pair of a request.
type workItem struct {
	index     int
	structure domain.StructureInput
	seed      int64
}

// Orchestrator drives a request through mode selection, the cache
// hierarchy, constraint resolution, precision routing and the predictor.
type Orchestrator struct {
	policies    PolicySource
	cache       *CacheHierarchy
	constraints *ConstraintResolver
	predictor   driven.Predictor
	alignment   driven.AlignmentService
	weights     driven.WeightsRegistry
	checker     driven.ConstraintChecker
}

// NewOrchestrator creates an orchestrator. The weights registry and
// constraint checker are optional; see the Set methods.
func NewOrchestrator(
	policies PolicySource,
	cache *CacheHierarchy,
	predictor driven.Predictor,
	alignment driven.AlignmentService,
) *Orchestrator {
	return &Orchestrator{
		policies:    policies,
		cache:       cache,
		constraints: NewConstraintResolver(),
		predictor:   predictor,
		alignment:   alignment,
	}
}

// SetWeightsRegistry enables checkpoint resolution through the weights tier.
func (o *Orchestrator) SetWeightsRegistry(r driven.WeightsRegistry) {
	o.weights = r
}

// SetConstraintChecker enables the hard-constraint gate.
func (o *Orchestrator) SetConstraintChecker(c driven.ConstraintChecker) {
	o.checker = c
}

// Resolve derives mode, constraints and precision for req under policy.
// It performs no I/O.
func (o *Orchestrator) Resolve(policy *Policy, req *domain.PredictionRequest) (*domain.ResolvedRequest, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	decision := policy.Modes.Select(req.Shape())

	constraints, err := o.constraints.Merge(req.Constraints)
	if err != nil {
		return nil, err
	}
	constraintDigest, err := o.constraints.Digest(constraints)
	if err != nil {
		return nil, err
	}

	requested, err := domain.ParsePrecision(req.PrecisionHint)
	if err != nil {
		return nil, err
	}
	if requested == domain.PrecisionUnset {
		requested = policy.Settings.Precision.DefaultFor(decision.Mode)
	}

	return &domain.ResolvedRequest{
		Request:          req,
		Mode:             decision,
		Precision:        policy.Precision.ResolveAll(requested),
		Constraints:      constraints,
		ConstraintDigest: constraintDigest,
		Seeds:            req.EffectiveSeeds(),
		ModelVersion:     policy.Settings.ModelVersion,
	}, nil
}

// Orchestrate runs every (structure, seed) item of req. Items run
// concurrently up to the configured parallelism and fail independently.
func (o *Orchestrator) Orchestrate(ctx context.Context, req domain.PredictionRequest) (*domain.PredictionResponse, error) {
	started := time.Now()
	policy := o.policies.Policy()

	logger.Section("Prediction Request")

	resolved, err := o.Resolve(policy, &req)
	if err != nil {
		logger.Warn("Request rejected: %v", err)
		return nil, err
	}

	requestID := req.ID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	logger.Info("Request %s: mode=%s (rule %s), precision=%s, constraints=%d",
		requestID, resolved.Mode.Mode, resolved.Mode.Rule, resolved.Precision.Requested, len(resolved.Constraints.Constraints))

	var items []workItem
	for i, s := range req.Structures {
		for _, seed := range resolved.Seeds {
			items = append(items, workItem{index: i, structure: s, seed: seed})
		}
	}

	results := make([]domain.PredictionResult, len(items))
	var g errgroup.Group
	g.SetLimit(policy.Settings.MaxParallel)
	for i, item := range items {
		g.Go(func() error {
			results[i] = o.runItem(ctx, policy, resolved, item)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp := &domain.PredictionResponse{
		RequestID:    requestID,
		Mode:         resolved.Mode,
		Precision:    resolved.Precision,
		ModelVersion: resolved.ModelVersion,
		Dropped:      resolved.Constraints.Dropped,
		Results:      results,
		Duration:     time.Since(started),
	}
	logger.Info("Request %s finished: %d item(s), %d failed, %s",
		requestID, len(results), resp.Failed(), resp.Duration.Round(time.Millisecond))
	return resp, nil
}

func (o *Orchestrator) runItem(
	ctx context.Context, policy *Policy, resolved *domain.ResolvedRequest, item workItem,
) domain.PredictionResult {
	res := domain.PredictionResult{
		StructureIndex: item.index,
		Name:           item.structure.Name,
		Seed:           item.seed,
		Degradation:    domain.FullFidelity(),
	}

	key, err := ResultKey(item.structure, resolved, item.seed)
	if err != nil {
		return failed(res, err)
	}
	res.CacheKey = key.String()
	logger.Debug("Item %d seed %d: key %s", item.index, item.seed, key.Short())

	payload, source, err := o.cache.Fetch(ctx, domain.TierResult, key, func(fctx context.Context) ([]byte, bool, error) {
		record, cacheable, err := o.predict(fctx, policy, resolved, item)
		if err != nil {
			return nil, false, err
		}
		b, err := json.Marshal(record)
		if err != nil {
			return nil, false, fmt.Errorf("encode result: %w", err)
		}
		return b, cacheable, nil
	})
	if err != nil {
		return failed(res, err)
	}

	var record resultRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		// A corrupt entry is dropped so the next request recomputes it.
		_ = o.cache.Invalidate(ctx, domain.TierResult, key.String())
		return failed(res, fmt.Errorf("decode cached result: %w", err))
	}

	res.Structure = record.Structure
	res.Confidence = record.Confidence
	res.Degradation = record.Degradation
	res.CacheHit = source == domain.FetchCached
	res.Shared = source == domain.FetchShared
	return res
}

func failed(res domain.PredictionResult, err error) domain.PredictionResult {
	var unavailable *domain.PredictionUnavailableError
	if errors.As(err, &unavailable) {
		res.Degradation = unavailable.State
	}
	res.Err = err
	res.ErrorClass = domain.ErrorClass(err)
	res.Error = err.Error()
	logger.Warn("Item %d seed %d failed (%s): %v", res.StructureIndex, res.Seed, res.ErrorClass, err)
	return res
}

// predict runs one item under the degradation controller. Only
// full-fidelity results are reported cacheable.
func (o *Orchestrator) predict(
	ctx context.Context, policy *Policy, resolved *domain.ResolvedRequest, item workItem,
) (resultRecord, bool, error) {
	outcome := RunWithFallback(ctx, policy.Fallbacks, domain.FullFidelity(),
		func(ctx context.Context, state domain.DegradationState) (domain.Prediction, error) {
			return o.attempt(ctx, policy, resolved, item, state)
		})

	if outcome.Err != nil {
		err := outcome.Err
		if ctx.Err() == nil && !isTerminal(err) {
			err = &domain.PredictionUnavailableError{Cause: err, State: outcome.State}
		}
		return resultRecord{}, false, err
	}

	return resultRecord{
		Structure:   outcome.Value.Structure,
		Confidence:  outcome.Value.Confidence,
		Degradation: outcome.State,
	}, outcome.Status == domain.OutcomeFull, nil
}

// isTerminal reports errors that already name their class for the caller.
func isTerminal(err error) bool {
	return errors.Is(err, domain.ErrPredictionUnavailable) ||
		errors.Is(err, domain.ErrConstraintViolation) ||
		errors.Is(err, domain.ErrInvalidInput) ||
		errors.Is(err, context.Canceled)
}

// attempt is one complete pass: weights, features, inference and the
// hard-constraint gate, all under the given degradation state.
func (o *Orchestrator) attempt(
	ctx context.Context,
	policy *Policy,
	resolved *domain.ResolvedRequest,
	item workItem,
	state domain.DegradationState,
) (domain.Prediction, error) {
	profile := policy.Settings.Profile(resolved.Mode.Mode)
	config := domain.ModelConfig{
		Mode:           resolved.Mode.Mode,
		Variant:        state.Variant(),
		BatchSize:      profile.BatchSize,
		DiffusionSteps: profile.DiffusionSteps,
		Samples:        profile.Samples,
	}
	if state.BatchSize > 0 {
		config.BatchSize = state.BatchSize
	}

	weights, err := o.resolveWeights(ctx, resolved.ModelVersion, config.Variant)
	if err != nil {
		return domain.Prediction{}, err
	}
	config.Weights = weights

	features, err := o.features(ctx, policy, resolved.ModelVersion, item.structure, state.EmbeddingOnly)
	if err != nil {
		return domain.Prediction{}, err
	}

	constraints := resolved.Constraints
	prediction, err := o.infer(ctx, policy, features, constraints, resolved.Precision, config, item.seed)
	if err != nil {
		return domain.Prediction{}, err
	}

	hard := constraints.Hard()
	if o.checker == nil || len(hard) == 0 {
		return prediction, nil
	}

	violated, err := o.checker.Check(ctx, prediction.Structure, hard)
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("check constraints: %w", err)
	}
	if len(violated) == 0 {
		return prediction, nil
	}

	boosted := constraints.WithStrength(constraints.Strength * policy.Settings.RetryWeightBoost)
	logger.Info("Item %d seed %d violated %d hard constraint(s); retrying with strength %.2f",
		item.index, item.seed, len(violated), boosted.Strength)

	prediction, err = o.infer(ctx, policy, features, boosted, resolved.Precision, config, item.seed)
	if err != nil {
		return domain.Prediction{}, err
	}
	violated, err = o.checker.Check(ctx, prediction.Structure, hard)
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("check constraints: %w", err)
	}
	if len(violated) > 0 {
		return domain.Prediction{}, &domain.ConstraintViolationError{Violated: violated, Attempts: 2}
	}
	return prediction, nil
}

func (o *Orchestrator) infer(
	ctx context.Context,
	policy *Policy,
	features domain.Features,
	constraints domain.ResolvedConstraintSet,
	precision domain.EffectivePrecision,
	config domain.ModelConfig,
	seed int64,
) (domain.Prediction, error) {
	timeout := policy.Settings.Timeouts.Inference
	ictx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	prediction, err := o.predictor.Infer(ictx, features, constraints, precision, config, seed)
	if err != nil {
		if ctx.Err() == nil && errors.Is(ictx.Err(), context.DeadlineExceeded) {
			return domain.Prediction{}, fmt.Errorf("inference timed out after %s: %w", timeout, err)
		}
		return domain.Prediction{}, err
	}
	return prediction, nil
}

// resolveWeights returns the checkpoint manifest through the weights tier.
// Without a registry the predictor's default weights are used.
func (o *Orchestrator) resolveWeights(
	ctx context.Context, version string, variant domain.ModelVariant,
) (domain.WeightsManifest, error) {
	manifest := domain.WeightsManifest{ModelVersion: version, Variant: variant}
	if o.weights == nil {
		return manifest, nil
	}

	key, err := WeightsKey(version, variant)
	if err != nil {
		return manifest, err
	}
	payload, _, err := o.cache.Fetch(ctx, domain.TierWeights, key, func(fctx context.Context) ([]byte, bool, error) {
		m, err := o.weights.Resolve(fctx, version, variant)
		if err != nil {
			return nil, false, fmt.Errorf("resolve weights %s/%s: %w", version, variant, err)
		}
		b, err := json.Marshal(m)
		return b, err == nil, err
	})
	if err != nil {
		return manifest, err
	}
	if err := json.Unmarshal(payload, &manifest); err != nil {
		return manifest, fmt.Errorf("decode weights manifest: %w", err)
	}
	return manifest, nil
}

// features assembles model input through the feature tier. Alignments for
// all chains are searched in parallel; the first failure cancels the rest.
func (o *Orchestrator) features(
	ctx context.Context, policy *Policy, version string, s domain.StructureInput, embeddingOnly bool,
) (domain.Features, error) {
	key, err := FeatureKey(s, version, embeddingOnly)
	if err != nil {
		return domain.Features{}, err
	}

	payload, _, err := o.cache.Fetch(ctx, domain.TierFeature, key, func(fctx context.Context) ([]byte, bool, error) {
		features := domain.Features{
			Chains:        make([]domain.ChainFeatures, len(s.Chains)),
			EmbeddingOnly: embeddingOnly,
		}
		g, gctx := errgroup.WithContext(fctx)
		for i, chain := range s.Chains {
			features.Chains[i] = domain.ChainFeatures{Chain: chain}
			if embeddingOnly || !chain.Kind.NeedsAlignment() {
				continue
			}
			g.Go(func() error {
				aln, err := o.align(gctx, policy, chain)
				if err != nil {
					return err
				}
				features.Chains[i].Alignment = &aln
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, false, err
		}
		b, err := json.Marshal(features)
		return b, err == nil, err
	})
	if err != nil {
		return domain.Features{}, err
	}

	var features domain.Features
	if err := json.Unmarshal(payload, &features); err != nil {
		return domain.Features{}, fmt.Errorf("decode features: %w", err)
	}
	return features, nil
}

// align returns the chain's MSA through the alignment tier. A search that
// hits its deadline is reported as domain.ErrMSATimeout.
func (o *Orchestrator) align(ctx context.Context, policy *Policy, chain domain.Chain) (domain.Alignment, error) {
	key, err := AlignmentKey(chain)
	if err != nil {
		return domain.Alignment{}, err
	}

	payload, _, err := o.cache.Fetch(ctx, domain.TierAlignment, key, func(fctx context.Context) ([]byte, bool, error) {
		timeout := policy.Settings.Timeouts.Alignment
		actx, cancel := withTimeout(fctx, timeout)
		defer cancel()

		aln, err := o.alignment.Search(actx, chain.Normalized())
		if err != nil {
			if fctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
				return nil, false, fmt.Errorf("%w: chain %s after %s", domain.ErrMSATimeout, chain.ID, timeout)
			}
			return nil, false, fmt.Errorf("search chain %s: %w", chain.ID, err)
		}
		b, err := json.Marshal(aln)
		return b, err == nil, err
	})
	if err != nil {
		return domain.Alignment{}, err
	}

	var aln domain.Alignment
	if err := json.Unmarshal(payload, &aln); err != nil {
		return domain.Alignment{}, fmt.Errorf("decode alignment: %w", err)
	}
	return aln, nil
}

// withTimeout applies d when positive.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
