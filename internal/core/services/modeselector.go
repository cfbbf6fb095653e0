package services

import (
	"github.com/custodia-labs/foldline/internal/core/domain"
)

// ModeRulesVersion identifies the rule table below. Reordering or changing
// a rule changes observable behaviour and must bump it.
const ModeRulesVersion = "2"

// Mode rule identifiers, reported in response metadata.
const (
	RuleLargeBatch     = "large-batch"
	RuleLongStructure  = "long-structure"
	RuleUrgentLowBar   = "urgent-low-accuracy"
	RuleHighConfidence = "constraints-or-high-confidence"
	RuleDefault        = "default"
	RuleHint           = "hint"
)

// ModeSelector picks screening or validation from a request's shape.
// It is a stateless decision function.
type ModeSelector struct {
	thresholds domain.ModeSettings
}

// NewModeSelector creates a selector with the given thresholds.
func NewModeSelector(thresholds domain.ModeSettings) *ModeSelector {
	return &ModeSelector{thresholds: thresholds}
}

// Select evaluates the rules in order; the first match wins.
//
//  1. more structures than the screening threshold, none of them long → screening
//  2. any structure longer than the token threshold → validation
//  3. high urgency with an accuracy requirement below threshold → screening
//  4. constraints present or high confidence required → validation
//  5. the caller's mode hint, else validation
//
// Rule 5 extends the plain "default to validation" rule: a hint only decides
// requests that rules 1-4 leave open, so a screening hint can never downgrade
// a long, constrained or high-confidence request. With no hint (ModeAuto) the
// fallback is always validation.
func (m *ModeSelector) Select(shape domain.RequestShape) domain.ModeDecision {
	long := shape.MaxTokenCount > m.thresholds.ValidationTokenThreshold

	switch {
	case shape.NumStructures > m.thresholds.ScreeningThreshold && !long:
		return domain.ModeDecision{Mode: domain.ModeScreening, Rule: RuleLargeBatch}
	case long:
		return domain.ModeDecision{Mode: domain.ModeValidation, Rule: RuleLongStructure}
	case shape.Urgency == domain.UrgencyHigh && shape.AccuracyRequired < m.thresholds.AccuracyThreshold:
		return domain.ModeDecision{Mode: domain.ModeScreening, Rule: RuleUrgentLowBar}
	case shape.HasConstraints || shape.HighConfidenceRequired:
		return domain.ModeDecision{Mode: domain.ModeValidation, Rule: RuleHighConfidence}
	case shape.ModeHint != domain.ModeAuto:
		return domain.ModeDecision{Mode: shape.ModeHint, Rule: RuleHint}
	default:
		return domain.ModeDecision{Mode: domain.ModeValidation, Rule: RuleDefault}
	}
}
