package tolerance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cfg() Config {
	return Config{
		Mode:                  ModePercent,
		ToleranceValue:        0.05,
		WarningThreshold:      0.03,
		BlockThreshold:        0.10,
		UnderReceiptTolerance: 0.25,
		ApprovalRoles:         []string{"PURCHASING_MANAGER"},
	}
}

func TestValidateWithinTolerance(t *testing.T) {
	res := Validate([]ReceiptItem{
		{LineID: "l1", ProductID: "p1", OrderedQty: 100, ReceivedQty: 103, Condition: ConditionGood},
	}, cfg())

	assert.True(t, res.IsValid)
	assert.True(t, res.CanProceed)
	assert.False(t, res.RequiresApproval)
	assert.Empty(t, res.Errors)
	assert.Empty(t, res.Warnings)
}

func TestValidateOverReceiptBlocked(t *testing.T) {
	res := Validate([]ReceiptItem{
		{LineID: "l1", ProductID: "p1", OrderedQty: 100, ReceivedQty: 112, Condition: ConditionGood},
	}, cfg())

	assert.False(t, res.IsValid)
	assert.False(t, res.CanProceed)
	require.Len(t, res.Errors, 1)
	assert.InDelta(t, 0.12, res.Errors[0].Variance, 1e-9)
}

func TestValidateOverReceiptRequiresApproval(t *testing.T) {
	res := Validate([]ReceiptItem{
		{LineID: "l1", ProductID: "p1", OrderedQty: 100, ReceivedQty: 107, Condition: ConditionGood},
	}, cfg())

	assert.True(t, res.IsValid)
	assert.True(t, res.CanProceed)
	assert.True(t, res.RequiresApproval)
	assert.Equal(t, []string{"PURCHASING_MANAGER"}, res.ApprovalRoles)
	require.Len(t, res.Warnings, 1)
}

func TestValidateWarningBand(t *testing.T) {
	res := Validate([]ReceiptItem{
		{LineID: "l1", ProductID: "p1", OrderedQty: 100, ReceivedQty: 104, Condition: ConditionGood},
	}, cfg())

	assert.True(t, res.CanProceed)
	assert.False(t, res.RequiresApproval)
	require.Len(t, res.Warnings, 1)
}

func TestValidateUnderReceiptUsesOwnTolerance(t *testing.T) {
	// 20% under: beyond both the 5% over-tolerance and the 10% block
	// threshold, but inside the 25% under-receipt tolerance. Partial
	// delivery is normal business and must not trip the over-receipt bounds.
	res := Validate([]ReceiptItem{
		{LineID: "l1", ProductID: "p1", OrderedQty: 100, ReceivedQty: 80, Condition: ConditionGood},
	}, cfg())

	assert.True(t, res.IsValid)
	assert.True(t, res.CanProceed)
	assert.False(t, res.RequiresApproval)
	assert.Empty(t, res.Errors)
}

func TestValidateSevereUnderReceiptRequiresApproval(t *testing.T) {
	// 40% under: past the 25% under-receipt tolerance. The shortfall needs
	// approval but never hard-blocks.
	res := Validate([]ReceiptItem{
		{LineID: "l1", ProductID: "p1", OrderedQty: 100, ReceivedQty: 60, Condition: ConditionGood},
	}, cfg())

	assert.True(t, res.CanProceed)
	assert.True(t, res.RequiresApproval)
	assert.Empty(t, res.Errors)
	require.Len(t, res.Warnings, 1)
	assert.InDelta(t, -0.4, res.Warnings[0].Variance, 1e-9)
}

func TestValidateUnderReceiptDefaultsToMainTolerance(t *testing.T) {
	c := cfg()
	c.UnderReceiptTolerance = 0
	c.BlockThreshold = 0.50

	res := Validate([]ReceiptItem{
		{LineID: "l1", ProductID: "p1", OrderedQty: 100, ReceivedQty: 92, Condition: ConditionGood},
	}, c)

	assert.True(t, res.CanProceed)
	assert.True(t, res.RequiresApproval)
}

func TestValidateCumulativeAcrossDeliveries(t *testing.T) {
	// 60 previously received plus 52 now makes 112 against 100 ordered.
	res := Validate([]ReceiptItem{
		{LineID: "l1", ProductID: "p1", OrderedQty: 100, PreviouslyRcvdQty: 60, ReceivedQty: 52, Condition: ConditionGood},
	}, cfg())

	assert.False(t, res.CanProceed)
	require.Len(t, res.Errors, 1)
}

func TestValidateDamagedExcludedFromVariance(t *testing.T) {
	res := Validate([]ReceiptItem{
		{LineID: "l1", ProductID: "p1", OrderedQty: 100, ReceivedQty: 150, Condition: ConditionDamaged},
		{LineID: "l2", ProductID: "p2", OrderedQty: 50, ReceivedQty: 50, Condition: ConditionGood},
	}, cfg())

	assert.True(t, res.CanProceed)
	assert.Empty(t, res.Errors)
	require.Len(t, res.QualityExceptions, 1)
	assert.Equal(t, "l1", res.QualityExceptions[0].LineID)
}

func TestValidateRejectedCondition(t *testing.T) {
	res := Validate([]ReceiptItem{
		{LineID: "l1", ProductID: "p1", OrderedQty: 10, ReceivedQty: 10, Condition: ConditionRejected},
	}, cfg())

	assert.True(t, res.CanProceed)
	require.Len(t, res.QualityExceptions, 1)
}

func TestValidateZeroOrderedQty(t *testing.T) {
	res := Validate([]ReceiptItem{
		{LineID: "l1", ProductID: "p1", OrderedQty: 0, ReceivedQty: 5, Condition: ConditionGood},
	}, cfg())

	assert.False(t, res.IsValid)
	assert.False(t, res.CanProceed)
	require.Len(t, res.Errors, 1)
}

func TestValidateFixedMode(t *testing.T) {
	c := Config{
		Mode:             ModeFixed,
		ToleranceValue:   5,
		WarningThreshold: 3,
		BlockThreshold:   10,
		ApprovalRoles:    []string{"PURCHASING_MANAGER"},
	}

	res := Validate([]ReceiptItem{
		{LineID: "l1", ProductID: "p1", OrderedQty: 100, ReceivedQty: 104, Condition: ConditionGood},
	}, c)
	assert.True(t, res.CanProceed)
	require.Len(t, res.Warnings, 1)

	res = Validate([]ReceiptItem{
		{LineID: "l1", ProductID: "p1", OrderedQty: 100, ReceivedQty: 111, Condition: ConditionGood},
	}, c)
	assert.False(t, res.CanProceed)
}

func TestValidateMixedLinesWorstFindingWins(t *testing.T) {
	res := Validate([]ReceiptItem{
		{LineID: "l1", ProductID: "p1", OrderedQty: 100, ReceivedQty: 100, Condition: ConditionGood},
		{LineID: "l2", ProductID: "p2", OrderedQty: 100, ReceivedQty: 120, Condition: ConditionGood},
	}, cfg())

	assert.False(t, res.CanProceed, "a blocking line makes the whole receipt non-committable")
}
