// Package status defines the purchase-order lifecycle: the canonical status
// vocabulary, the legal transitions between statuses, and the bidirectional
// mapping to the coarse legacy vocabulary still spoken by external consumers.
package status

import (
	"github.com/procurio/be-po-approvals/internal/apperrors"
)

// Status is the canonical purchase-order lifecycle status.
type Status string

const (
	Draft             Status = "draft"
	PendingApproval   Status = "pending_approval"
	Approved          Status = "approved"
	SentToSupplier    Status = "sent_to_supplier"
	PartiallyReceived Status = "partially_received"
	FullyReceived     Status = "fully_received"
	Cancelled         Status = "cancelled"
	Closed            Status = "closed"
)

// LegacyStatus is the coarse five-value vocabulary used by external consumers.
type LegacyStatus string

const (
	LegacyDraft     LegacyStatus = "draft"
	LegacySent      LegacyStatus = "sent"
	LegacyPartial   LegacyStatus = "partial"
	LegacyReceived  LegacyStatus = "received"
	LegacyCancelled LegacyStatus = "cancelled"
)

// All returns every canonical status.
func All() []Status {
	return []Status{
		Draft, PendingApproval, Approved, SentToSupplier,
		PartiallyReceived, FullyReceived, Cancelled, Closed,
	}
}

// transitions holds the legal forward edges. Cancelled is additionally
// reachable from every non-terminal status (handled in CanTransition).
var transitions = map[Status][]Status{
	Draft:             {PendingApproval, Approved},
	PendingApproval:   {Approved, Draft},
	Approved:          {SentToSupplier},
	SentToSupplier:    {PartiallyReceived, FullyReceived},
	PartiallyReceived: {FullyReceived},
	FullyReceived:     {Closed},
}

// Parse validates a raw status string.
func Parse(raw string) (Status, error) {
	s := Status(raw)
	for _, known := range All() {
		if s == known {
			return s, nil
		}
	}
	return "", apperrors.Newf(apperrors.CodeValidation, "unknown status %q", raw)
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == Cancelled || s == Closed
}

// RequiresApproval reports whether entering target is gated by the approval
// workflow. Only the draft → pending_approval submission opens a request.
func RequiresApproval(target Status) bool {
	return target == PendingApproval
}

// CanTransition reports whether current → target is a legal transition.
func CanTransition(current, target Status) bool {
	if current == target {
		return false
	}
	if target == Cancelled {
		return !current.IsTerminal()
	}
	for _, next := range transitions[current] {
		if next == target {
			return true
		}
	}
	return false
}

// Transition validates current → target and returns target, or an
// INVALID_TRANSITION error. It never panics past the caller.
func Transition(current, target Status) (Status, error) {
	if !CanTransition(current, target) {
		return current, apperrors.Newf(apperrors.CodeInvalidTransition,
			"cannot transition purchase order from %q to %q", current, target)
	}
	return target, nil
}

// ReceivableStatuses is the exact status set the receiving projection mirrors.
func ReceivableStatuses() []Status {
	return []Status{Approved, SentToSupplier, PartiallyReceived}
}

// IsReceivable reports membership in ReceivableStatuses.
func (s Status) IsReceivable() bool {
	switch s {
	case Approved, SentToSupplier, PartiallyReceived:
		return true
	}
	return false
}

// ToLegacy maps a canonical status onto the coarse legacy vocabulary. The
// mapping is total: every pre-send status coarsens to legacy draft.
func ToLegacy(s Status) LegacyStatus {
	switch s {
	case Draft, PendingApproval, Approved:
		return LegacyDraft
	case SentToSupplier:
		return LegacySent
	case PartiallyReceived:
		return LegacyPartial
	case FullyReceived, Closed:
		return LegacyReceived
	case Cancelled:
		return LegacyCancelled
	}
	return LegacyDraft
}

// FromLegacy maps a legacy status onto the canonical vocabulary. Unknown
// values default to Draft rather than failing, matching consumer expectations.
func FromLegacy(l LegacyStatus) Status {
	switch l {
	case LegacyDraft:
		return Draft
	case LegacySent:
		return SentToSupplier
	case LegacyPartial:
		return PartiallyReceived
	case LegacyReceived:
		return FullyReceived
	case LegacyCancelled:
		return Cancelled
	}
	return Draft
}
