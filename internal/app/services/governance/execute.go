package governance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/stellar-swipe/oracle-layer/internal/app/domain/governance"
	"github.com/stellar-swipe/oracle-layer/internal/app/domain/oracle"
)

// Tunable parameter names accepted by update_param proposals.
const (
	ParamMinSources      = "min_sources"
	ParamPriceTTLSeconds = "price_ttl_seconds"
	ParamMaxDeviationBps = "max_deviation_bps"
)

// validatePayload rejects malformed payloads at creation time so a proposal
// can never pass a vote and then turn out to be unexecutable for syntactic
// reasons.
func validatePayload(kind governance.ProposalType, payload []byte) error {
	switch kind {
	case governance.ProposalAddSource, governance.ProposalRemoveSource:
		if gjson.GetBytes(payload, "source_id").String() == "" {
			return fmt.Errorf("%w: source_id is required", governance.ErrInvalidPayload)
		}
	case governance.ProposalUpdateParam:
		param := gjson.GetBytes(payload, "param").String()
		switch param {
		case ParamMinSources, ParamPriceTTLSeconds, ParamMaxDeviationBps:
		default:
			return fmt.Errorf("%w: unknown param %q", governance.ErrInvalidPayload, param)
		}
		if gjson.GetBytes(payload, "value").Int() <= 0 {
			return fmt.Errorf("%w: value must be positive", governance.ErrInvalidPayload)
		}
	case governance.ProposalEmergencyPause:
		// No payload.
	}
	return nil
}

// execute applies an approved proposal to the registry or the consensus
// core.
func (s *Service) execute(ctx context.Context, proposal governance.Proposal) error {
	switch proposal.Type {
	case governance.ProposalAddSource:
		sourceID := gjson.GetBytes(proposal.Payload, "source_id").String()
		_, err := s.registry.Register(ctx, s.caller, sourceID)
		if errors.Is(err, oracle.ErrAlreadyRegistered) {
			// Re-admission of a suspended source.
			_, err = s.registry.Reinstate(ctx, s.caller, sourceID)
		}
		return err

	case governance.ProposalRemoveSource:
		sourceID := gjson.GetBytes(proposal.Payload, "source_id").String()
		return s.registry.Remove(ctx, s.caller, sourceID)

	case governance.ProposalUpdateParam:
		params, err := s.consensus.Params(ctx)
		if err != nil {
			return fmt.Errorf("read params: %w", err)
		}
		value := gjson.GetBytes(proposal.Payload, "value").Int()
		switch gjson.GetBytes(proposal.Payload, "param").String() {
		case ParamMinSources:
			if value < oracle.MinActiveSources {
				return fmt.Errorf("min_sources below the quorum floor")
			}
			params.MinSources = int(value)
		case ParamPriceTTLSeconds:
			params.PriceTTL = time.Duration(value) * time.Second
		case ParamMaxDeviationBps:
			params.MaxDeviationBps = value
		}
		return s.consensus.SetParams(ctx, params)

	case governance.ProposalEmergencyPause:
		return s.consensus.SetPaused(ctx, true)
	}
	return fmt.Errorf("unexecutable proposal type %q", proposal.Type)
}
