// Package policy implements the approval threshold resolver: given an order's
// amount and attributes it selects the applicable approval policy from a
// versioned configuration snapshot, failing closed when configuration is
// ambiguous.
package policy

import (
	"math"
	"time"
)

// ApprovalPolicy is one configured approval rule. Policies are configuration
// data; once a policy is matched to a request the request keeps its own copy,
// so later configuration edits never alter in-flight approvals.
type ApprovalPolicy struct {
	Name                string   `yaml:"name" json:"name"`
	MinAmount           int64    `yaml:"min_amount" json:"min_amount"` // cents, inclusive
	MaxAmount           *int64   `yaml:"max_amount" json:"max_amount"` // cents, exclusive; nil = unbounded
	RequiredRoles       []string `yaml:"required_roles" json:"required_roles"`
	RequiredApprovers   int      `yaml:"required_approvers" json:"required_approvers"`
	EscalationHours     int      `yaml:"escalation_hours" json:"escalation_hours"` // 0 = no deadline
	Priority            int      `yaml:"priority" json:"priority"`                 // higher wins ties
	AutoApprove         bool     `yaml:"auto_approve" json:"auto_approve"`
	Condition           string   `yaml:"condition" json:"condition"` // optional CEL expression over order attributes
	SkipNonBusinessDays bool     `yaml:"skip_non_business_days" json:"skip_non_business_days"`
	// EscalationRoles is the ladder of role tiers added on successive
	// escalations, most senior last.
	EscalationRoles []string `yaml:"escalation_roles" json:"escalation_roles"`
}

// EscalationTimeout returns the policy deadline duration, or 0 when unset.
func (p *ApprovalPolicy) EscalationTimeout() time.Duration {
	return time.Duration(p.EscalationHours) * time.Hour
}

// rangeWidth is the policy's amount-range width, used for tie-breaking.
// Unbounded policies are the widest possible.
func (p *ApprovalPolicy) rangeWidth() int64 {
	if p.MaxAmount == nil {
		return math.MaxInt64
	}
	return *p.MaxAmount - p.MinAmount
}

// matchesAmount reports whether amount falls inside [MinAmount, MaxAmount).
func (p *ApprovalPolicy) matchesAmount(amount int64) bool {
	if amount < p.MinAmount {
		return false
	}
	if p.MaxAmount != nil && amount >= *p.MaxAmount {
		return false
	}
	return true
}

// OrderContext carries the order attributes visible to policy conditions.
type OrderContext struct {
	OrderID    string
	SupplierID string
	Total      int64
	LineCount  int
	Initiator  string
}

// celInput converts the context into the CEL evaluation input.
func (c OrderContext) celInput() map[string]any {
	return map[string]any{
		"order": map[string]any{
			"id":          c.OrderID,
			"supplier_id": c.SupplierID,
			"total":       c.Total,
			"line_count":  c.LineCount,
			"initiator":   c.Initiator,
		},
	}
}
