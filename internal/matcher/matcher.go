package matcher

import (
	"context"
	"fmt"

	"creditmemo-reconciliation-service/internal/ledger"
	"creditmemo-reconciliation-service/internal/models"
	"creditmemo-reconciliation-service/pkg/errors"
	"creditmemo-reconciliation-service/pkg/logger"
)

// CandidateSynthesizer turns one candidate and its matched pairs into a ledger outcome
type CandidateSynthesizer interface {
	Synthesize(ctx context.Context, group *models.BillNumberGroup, candidate *models.AuthorizationCandidate, pairs []models.MatchedPair) models.Outcome
}

// MatchingEngine is the core engine responsible for authorization matching
type MatchingEngine struct {
	Config  *MatchingConfig
	queries ledger.QueryService
	logger  logger.Logger
}

// NewMatchingEngine creates a new matching engine with the specified configuration
func NewMatchingEngine(config *MatchingConfig, queries ledger.QueryService, log logger.Logger) *MatchingEngine {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &MatchingEngine{
		Config:  config,
		queries: queries,
		logger:  log.WithComponent("matcher"),
	}
}

// Candidates fetches and indexes the authorizations whose lines mention the bill
func (me *MatchingEngine) Candidates(ctx context.Context, billNumber string) (*CandidateIndex, error) {
	lines, err := me.queries.FindAuthorizationLinesByMemo(ctx, billNumber)
	if err != nil {
		return nil, errors.ReconciliationError(errors.CodeSearchError,
			fmt.Sprintf("authorization search for bill %s", billNumber), err).
			WithContext("bill_number", billNumber)
	}
	return NewCandidateIndex(billNumber, lines, me.Config.RecheckMemo), nil
}

// Match searches the bill's candidates in order and returns the first terminal outcome.
// Business skips from one candidate move the search on; a creation, a failure or a
// duplicate-number skip ends it, since the latter holds for every candidate alike.
func (me *MatchingEngine) Match(ctx context.Context, group *models.BillNumberGroup, synth CandidateSynthesizer) models.Outcome {
	scope := models.ScopeOfBill(group)
	log := me.logger.WithFields(logger.Fields{
		"bill_number": group.BillNumber,
		"codes":       group.Codes,
	})

	index, err := me.Candidates(ctx, group.BillNumber)
	if err != nil {
		log.WithError(err).Error("Authorization search failed")
		return models.Failed(scope, err)
	}
	if index.Len() == 0 {
		log.WithField("filtered", index.Filtered()).Info("No authorization references bill")
		return models.Skipped(scope, models.ReasonNoVRMAMatch,
			fmt.Sprintf("no authorization references bill %s", group.BillNumber))
	}

	var last *models.Outcome
	tried := 0
	for _, candidate := range index.Candidates {
		if me.Config.MaxCandidates > 0 && tried >= me.Config.MaxCandidates {
			log.WithField("max_candidates", me.Config.MaxCandidates).Warn("Candidate limit reached")
			break
		}
		tried++

		result := Pair(group.Items, candidate, me.Config)
		clog := log.WithFields(logger.Fields{
			"authorization": candidate.DocumentNumber,
			"pairs":         len(result.Pairs),
			"unmatched":     len(result.Unmatched),
		})
		if len(result.Pairs) == 0 {
			clog.Debug("Candidate has no matching lines")
			continue
		}

		outcome := synth.Synthesize(ctx, group, candidate, result.Pairs)
		switch {
		case outcome.IsCreated():
			if len(result.Unmatched) > 0 {
				outcome.Message = fmt.Sprintf("%s; %d line(s) left unmatched", outcome.Message, len(result.Unmatched))
			}
			clog.Info("Vendor credit synthesized")
			return outcome
		case outcome.IsFailed():
			clog.WithField("error", outcome.Error).Error("Synthesis failed")
			return outcome
		case outcome.Reason.IsDuplicate():
			clog.Info("Vendor credit number already used, stopping candidate search")
			return outcome
		default:
			clog.WithField("reason", outcome.Reason).Info("Candidate skipped, trying next")
			o := outcome
			last = &o
		}
	}

	if last != nil {
		return *last
	}
	return models.Skipped(scope, models.ReasonCandidatesExhausted,
		fmt.Sprintf("none of %d authorization(s) for bill %s matched the document lines", index.Len(), group.BillNumber))
}
