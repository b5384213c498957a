package matcher

import (
	"strings"

	"creditmemo-reconciliation-service/internal/models"
)

// CandidateIndex groups authorization lines by their parent authorization
type CandidateIndex struct {
	// Candidates are ordered by first encounter in the query result.
	Candidates []*models.AuthorizationCandidate

	byID     map[string]*models.AuthorizationCandidate
	filtered int
}

// NewCandidateIndex builds the index for one bill reference. When recheck is set,
// lines whose memo does not literally contain the reference are dropped first.
func NewCandidateIndex(billNumber string, lines []models.AuthorizationLine, recheck bool) *CandidateIndex {
	index := &CandidateIndex{
		byID: make(map[string]*models.AuthorizationCandidate),
	}

	for _, line := range lines {
		if recheck && !strings.Contains(line.Memo, billNumber) {
			index.filtered++
			continue
		}
		candidate, ok := index.byID[line.AuthorizationID]
		if !ok {
			candidate = &models.AuthorizationCandidate{
				ID:             line.AuthorizationID,
				DocumentNumber: line.DocumentNumber,
				Status:         line.Status,
			}
			index.byID[line.AuthorizationID] = candidate
			index.Candidates = append(index.Candidates, candidate)
		}
		candidate.Lines = append(candidate.Lines, line)
	}
	return index
}

// Len returns the number of distinct candidates
func (ci *CandidateIndex) Len() int {
	return len(ci.Candidates)
}

// Filtered returns how many lines the memo re-check dropped
func (ci *CandidateIndex) Filtered() int {
	return ci.filtered
}

// Get returns a candidate by authorization id
func (ci *CandidateIndex) Get(id string) (*models.AuthorizationCandidate, bool) {
	c, ok := ci.byID[id]
	return c, ok
}

// PairResult is the outcome of pairing one bill group against one candidate
type PairResult struct {
	Pairs     []models.MatchedPair
	Unmatched []models.LineItem
}

// Pair matches items, in input order, to the first unused candidate line with an
// equal absolute amount (within tolerance) and, where the item has a part, the same part.
// Each candidate line is used at most once. Pair does not mutate its inputs, so
// repeated calls on the same inputs return the same pairs.
func Pair(items []models.LineItem, candidate *models.AuthorizationCandidate, config *MatchingConfig) PairResult {
	used := make([]bool, len(candidate.Lines))
	var result PairResult

	for _, item := range items {
		matched := false
		for i, line := range candidate.Lines {
			if used[i] {
				continue
			}
			if !models.CompareAmountsWithTolerance(item.Amount, line.Amount, config.AmountTolerance) {
				continue
			}
			if config.RequirePartMatch && item.HasPartNumber() && !line.MatchesPart(item.PartNumber) {
				continue
			}
			used[i] = true
			result.Pairs = append(result.Pairs, models.MatchedPair{Item: item, Line: line})
			matched = true
			break
		}
		if !matched {
			result.Unmatched = append(result.Unmatched, item)
		}
	}
	return result
}
