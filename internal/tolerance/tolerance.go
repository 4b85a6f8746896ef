// Package tolerance judges received quantities against ordered quantities
// under a configurable tolerance policy. Everything here is pure: no I/O, no
// clock, no state.
package tolerance

// Mode selects how variance is computed.
type Mode string

const (
	// ModePercent computes variance as (received-ordered)/ordered.
	ModePercent Mode = "percent"
	// ModeFixed computes variance as received-ordered in units.
	ModeFixed Mode = "fixed"
)

// Condition flags a receipt line's physical state.
type Condition string

const (
	ConditionGood     Condition = "good"
	ConditionDamaged  Condition = "damaged"
	ConditionRejected Condition = "rejected"
)

// Config is the tolerance policy, part of the injected configuration snapshot.
// Thresholds are expressed in the selected mode's unit: fractions for percent
// (0.05 = 5%), absolute units for fixed. Over-receipt is judged against
// ToleranceValue and hard-blocks past BlockThreshold. Under-receipt is judged
// against UnderReceiptTolerance, which defaults to ToleranceValue when zero;
// past that bound it requires approval but never hard-blocks.
type Config struct {
	Mode                  Mode     `yaml:"mode" json:"mode"`
	ToleranceValue        float64  `yaml:"tolerance_value" json:"tolerance_value"`
	WarningThreshold      float64  `yaml:"warning_threshold" json:"warning_threshold"`
	BlockThreshold        float64  `yaml:"block_threshold" json:"block_threshold"`
	UnderReceiptTolerance float64  `yaml:"under_receipt_tolerance" json:"under_receipt_tolerance"`
	ApprovalRoles         []string `yaml:"approval_roles" json:"approval_roles"`
}

// DefaultConfig is the policy applied when none is configured.
func DefaultConfig() Config {
	return Config{
		Mode:                  ModePercent,
		ToleranceValue:        0.05,
		WarningThreshold:      0.03,
		BlockThreshold:        0.10,
		UnderReceiptTolerance: 0.25,
		ApprovalRoles:         []string{"PURCHASING_MANAGER"},
	}
}

// ReceiptItem is one line of a goods-received report. Transient: it exists
// only for the duration of a validation call.
type ReceiptItem struct {
	LineID            string    `json:"line_id"`
	ProductID         string    `json:"product_id"`
	OrderedQty        float64   `json:"ordered_qty"`
	PreviouslyRcvdQty float64   `json:"previously_received_qty"`
	ReceivedQty       float64   `json:"received_qty"`
	Condition         Condition `json:"condition"`
}

// Issue describes one item-level finding.
type Issue struct {
	LineID    string  `json:"line_id"`
	ProductID string  `json:"product_id"`
	Variance  float64 `json:"variance"`
	Message   string  `json:"message"`
}

// Result is the outcome of validating one receipt.
type Result struct {
	IsValid           bool     `json:"is_valid"`
	CanProceed        bool     `json:"can_proceed"`
	RequiresApproval  bool     `json:"requires_approval"`
	ApprovalRoles     []string `json:"approval_roles,omitempty"`
	Errors            []Issue  `json:"errors,omitempty"`
	Warnings          []Issue  `json:"warnings,omitempty"`
	QualityExceptions []Issue  `json:"quality_exceptions,omitempty"`
}

// Validate judges every receipt item against the policy. Damaged and rejected
// items are excluded from quantity variance and reported as quality
// exceptions. A blocking variance anywhere makes the whole receipt
// non-committable.
func Validate(items []ReceiptItem, cfg Config) Result {
	res := Result{IsValid: true, CanProceed: true}

	underTolerance := cfg.UnderReceiptTolerance
	if underTolerance == 0 {
		underTolerance = cfg.ToleranceValue
	}

	for _, item := range items {
		if item.Condition == ConditionDamaged || item.Condition == ConditionRejected {
			res.QualityExceptions = append(res.QualityExceptions, Issue{
				LineID:    item.LineID,
				ProductID: item.ProductID,
				Message:   "item reported " + string(item.Condition) + "; excluded from quantity variance",
			})
			continue
		}

		if item.OrderedQty <= 0 {
			res.IsValid = false
			res.CanProceed = false
			res.Errors = append(res.Errors, Issue{
				LineID:    item.LineID,
				ProductID: item.ProductID,
				Message:   "ordered quantity must be positive",
			})
			continue
		}

		totalReceived := item.PreviouslyRcvdQty + item.ReceivedQty
		variance := variance(totalReceived, item.OrderedQty, cfg.Mode)

		// Under-receipt is judged against its own bound only; BlockThreshold
		// applies to over-receipt. A shortfall past the bound escalates to
		// approval, not a hard block.
		if variance < 0 {
			switch {
			case -variance > underTolerance:
				res.RequiresApproval = true
				res.ApprovalRoles = cfg.ApprovalRoles
				res.Warnings = append(res.Warnings, Issue{
					LineID:    item.LineID,
					ProductID: item.ProductID,
					Variance:  variance,
					Message:   "under-receipt beyond tolerance; approval required",
				})
			case -variance > cfg.WarningThreshold:
				res.Warnings = append(res.Warnings, Issue{
					LineID:    item.LineID,
					ProductID: item.ProductID,
					Variance:  variance,
					Message:   "under-receipt above warning threshold",
				})
			}
			continue
		}

		switch {
		case variance > cfg.BlockThreshold:
			res.IsValid = false
			res.CanProceed = false
			res.Errors = append(res.Errors, Issue{
				LineID:    item.LineID,
				ProductID: item.ProductID,
				Variance:  variance,
				Message:   "quantity variance exceeds block threshold",
			})
		case variance > cfg.ToleranceValue:
			res.RequiresApproval = true
			res.ApprovalRoles = cfg.ApprovalRoles
			res.Warnings = append(res.Warnings, Issue{
				LineID:    item.LineID,
				ProductID: item.ProductID,
				Variance:  variance,
				Message:   "quantity variance exceeds tolerance; approval required",
			})
		case variance > cfg.WarningThreshold:
			res.Warnings = append(res.Warnings, Issue{
				LineID:    item.LineID,
				ProductID: item.ProductID,
				Variance:  variance,
				Message:   "quantity variance above warning threshold",
			})
		}
	}

	if len(res.Errors) > 0 {
		res.IsValid = false
	}
	return res
}

func variance(received, ordered float64, mode Mode) float64 {
	if mode == ModeFixed {
		return received - ordered
	}
	return (received - ordered) / ordered
}
