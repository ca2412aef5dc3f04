package service

import (
	"testing"
	"time"

	"timebank/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedPolicy = SupportPolicy{
	Mode:     SupportModeFixed,
	Amount:   5,
	Cooldown: 168 * time.Hour,
}

var tieredPolicy = SupportPolicy{
	Mode:           SupportModeTiered,
	Cooldown:       168 * time.Hour,
	TierTarget:     6,
	TierMaxBalance: 4,
}

func TestEvaluateEligibility_Fixed_NeverClaimed(t *testing.T) {
	now := time.Now().UTC()
	w := &domain.Wallet{Balance: 0}

	d := EvaluateEligibility(w, now, fixedPolicy)

	assert.True(t, d.Eligible)
	assert.Equal(t, int64(5), d.Amount)
}

func TestEvaluateEligibility_Fixed_CooldownActive(t *testing.T) {
	now := time.Now().UTC()
	claimed := now.Add(-24 * time.Hour)
	w := &domain.Wallet{Balance: 0, LastSupportClaimAt: &claimed}

	d := EvaluateEligibility(w, now, fixedPolicy)

	assert.False(t, d.Eligible)
	require.NotNil(t, d.NextEligibleAt)
	assert.Equal(t, claimed.Add(168*time.Hour), *d.NextEligibleAt)
	assert.Contains(t, d.Reason, "6 days")
}

func TestEvaluateEligibility_Fixed_CooldownExpired(t *testing.T) {
	now := time.Now().UTC()
	claimed := now.Add(-169 * time.Hour)
	w := &domain.Wallet{Balance: 100, LastSupportClaimAt: &claimed}

	d := EvaluateEligibility(w, now, fixedPolicy)

	assert.True(t, d.Eligible)
	assert.Equal(t, int64(5), d.Amount)
}

func TestEvaluateEligibility_Fixed_CooldownBoundaryExact(t *testing.T) {
	now := time.Now().UTC()
	claimed := now.Add(-168 * time.Hour)
	w := &domain.Wallet{Balance: 0, LastSupportClaimAt: &claimed}

	// elapsed == cooldown is eligible again
	d := EvaluateEligibility(w, now, fixedPolicy)

	assert.True(t, d.Eligible)
}

func TestEvaluateEligibility_Tiered_Amounts(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		balance  int64
		eligible bool
		amount   int64
	}{
		{0, true, 6},
		{1, true, 4}, // gap 5 rounds down to even
		{2, true, 4},
		{3, true, 2},
		{4, false, 0},
		{10, false, 0},
	}
	for _, tt := range tests {
		w := &domain.Wallet{Balance: tt.balance}
		d := EvaluateEligibility(w, now, tieredPolicy)
		assert.Equal(t, tt.eligible, d.Eligible, "balance %d", tt.balance)
		assert.Equal(t, tt.amount, d.Amount, "balance %d", tt.balance)
	}
}

func TestEvaluateEligibility_Tiered_HighBalanceBeatsCooldown(t *testing.T) {
	now := time.Now().UTC()
	claimed := now.Add(-time.Hour)
	w := &domain.Wallet{Balance: 50, LastSupportClaimAt: &claimed}

	d := EvaluateEligibility(w, now, tieredPolicy)

	assert.False(t, d.Eligible)
	assert.Nil(t, d.NextEligibleAt)
	assert.Contains(t, d.Reason, "Balance too high")
}

func TestFormatRemaining(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{6*24*time.Hour + 3*time.Hour, "6 days"},
		{47 * time.Hour, "47 hours"},
		{90 * time.Minute, "90 minutes"},
		{30 * time.Second, "1 minute"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatRemaining(tt.d))
	}
}
