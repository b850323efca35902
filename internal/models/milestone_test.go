package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestMilestone_RecalculateCommission(t *testing.T) {
	m := &Milestone{GrossAmount: decimal.RequireFromString("1000.00")}
	m.RecalculateCommission()

	assert.Equal(t, "70.00", m.Commission.StringFixed(2))
	assert.Equal(t, "930.00", m.NetAmount.StringFixed(2))
	assert.True(t, m.Commission.Add(m.NetAmount).Equal(m.GrossAmount))
}

func TestMilestone_RecalculateCommission_RoundsHalfUp(t *testing.T) {
	// 7% от 100.50 = 7.035 → округляется вверх до 7.04
	m := &Milestone{GrossAmount: decimal.RequireFromString("100.50")}
	m.RecalculateCommission()

	assert.Equal(t, "7.04", m.Commission.StringFixed(2))
	assert.Equal(t, "93.46", m.NetAmount.StringFixed(2))
	assert.True(t, m.Commission.Add(m.NetAmount).Equal(m.GrossAmount))
}

func TestMilestone_RecalculateCommission_AfterAmountChange(t *testing.T) {
	m := &Milestone{GrossAmount: decimal.RequireFromString("200.00")}
	m.RecalculateCommission()
	assert.Equal(t, "14.00", m.Commission.StringFixed(2))

	m.GrossAmount = decimal.RequireFromString("350.00")
	m.RecalculateCommission()
	assert.Equal(t, "24.50", m.Commission.StringFixed(2))
	assert.Equal(t, "325.50", m.NetAmount.StringFixed(2))
}

func TestMilestone_IsTerminal(t *testing.T) {
	assert.True(t, (&Milestone{Status: MilestoneStatusPaid}).IsTerminal())
	assert.True(t, (&Milestone{Status: MilestoneStatusRejected}).IsTerminal())
	assert.False(t, (&Milestone{Status: MilestoneStatusFundsHeld}).IsTerminal())
	assert.False(t, (&Milestone{Status: MilestoneStatusCaptureError}).IsTerminal())
}
