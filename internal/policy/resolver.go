package policy

import (
	"github.com/procurio/be-po-approvals/internal/apperrors"
)

// Snapshot is an immutable, versioned view of the configured approval
// policies. It is built once at startup (or on explicit reload) and injected
// into the orchestrator; in-flight requests keep their own policy copies.
type Snapshot struct {
	Version  string
	Policies []ApprovalPolicy

	eval *ConditionEvaluator
}

// NewSnapshot builds a snapshot and its condition evaluator.
func NewSnapshot(version string, policies []ApprovalPolicy) (*Snapshot, error) {
	eval, err := NewConditionEvaluator()
	if err != nil {
		return nil, err
	}
	return &Snapshot{Version: version, Policies: policies, eval: eval}, nil
}

// Resolve selects the applicable policy for the order. Candidates are
// filtered by amount range and condition; the most specific match wins,
// tie-broken by narrowest amount range, then highest priority. Remaining ties
// fail closed with NO_UNIQUE_POLICY; no candidate at all is POLICY_NOT_FOUND
// and the caller decides the fallback.
//
// The returned policy is a copy: the snapshot stays immutable.
func (s *Snapshot) Resolve(orderCtx OrderContext) (*ApprovalPolicy, error) {
	var candidates []*ApprovalPolicy
	for i := range s.Policies {
		p := &s.Policies[i]
		if !p.matchesAmount(orderCtx.Total) {
			continue
		}
		if p.Condition != "" {
			ok, err := s.eval.Evaluate(p.Condition, orderCtx)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		candidates = append(candidates, p)
	}

	if len(candidates) == 0 {
		return nil, apperrors.Newf(apperrors.CodePolicyNotFound,
			"no approval policy matches amount %d", orderCtx.Total)
	}

	best := candidates[0]
	ambiguous := false
	for _, c := range candidates[1:] {
		switch compare(c, best) {
		case 1:
			best = c
			ambiguous = false
		case 0:
			ambiguous = true
		}
	}
	if ambiguous {
		return nil, apperrors.Newf(apperrors.CodeNoUniquePolicy,
			"multiple approval policies tie for amount %d; configuration must be disambiguated", orderCtx.Total)
	}

	out := *best
	return &out, nil
}

// compare ranks candidate a against b: 1 when a is more specific, -1 when
// less, 0 on a full tie. A conditioned policy beats an unconditioned one,
// then the narrower amount range, then the higher declared priority.
func compare(a, b *ApprovalPolicy) int {
	aCond, bCond := a.Condition != "", b.Condition != ""
	if aCond != bCond {
		if aCond {
			return 1
		}
		return -1
	}
	if aw, bw := a.rangeWidth(), b.rangeWidth(); aw != bw {
		if aw < bw {
			return 1
		}
		return -1
	}
	if a.Priority != b.Priority {
		if a.Priority > b.Priority {
			return 1
		}
		return -1
	}
	return 0
}
