package service

import (
	"fmt"
	"time"

	"timebank/config"
	"timebank/internal/core/domain"
)

// Support policy modes.
const (
	SupportModeFixed  = "fixed"
	SupportModeTiered = "tiered"
)

// SupportPolicy is the support-grant policy, lifted out of config so the
// evaluator stays a pure function of (wallet, now, policy).
type SupportPolicy struct {
	Mode           string
	Amount         int64
	Cooldown       time.Duration
	TierTarget     int64
	TierMaxBalance int64
}

// SupportPolicyFromConfig builds the policy from loaded configuration.
func SupportPolicyFromConfig(cfg config.SupportConfig) SupportPolicy {
	return SupportPolicy{
		Mode:           cfg.Mode,
		Amount:         cfg.Amount,
		Cooldown:       cfg.Cooldown,
		TierTarget:     cfg.TierTarget,
		TierMaxBalance: cfg.TierMaxBalance,
	}
}

// EvaluateEligibility decides whether the wallet can claim a support grant at
// instant now. No I/O, no side effects: callers that need the decision to
// hold must evaluate under the wallet row lock.
func EvaluateEligibility(w *domain.Wallet, now time.Time, p SupportPolicy) domain.EligibilityDecision {
	amount := grantAmount(w.Balance, p)

	if p.Mode == SupportModeTiered && amount <= 0 {
		return domain.EligibilityDecision{
			Eligible: false,
			Reason:   "Balance too high for support credits.",
		}
	}

	if w.LastSupportClaimAt != nil {
		elapsed := now.Sub(*w.LastSupportClaimAt)
		if elapsed < p.Cooldown {
			next := w.LastSupportClaimAt.Add(p.Cooldown)
			return domain.EligibilityDecision{
				Eligible:       false,
				Reason:         fmt.Sprintf("Cooldown active. Next claim in %s.", formatRemaining(next.Sub(now))),
				NextEligibleAt: &next,
			}
		}
	}

	return domain.EligibilityDecision{
		Eligible: true,
		Amount:   amount,
	}
}

// grantAmount computes the grant size for a given balance. Fixed mode pays a
// flat amount; tiered mode tops the balance up toward the target, rounded
// down to an even number of credits, and pays nothing at or above the
// low-balance threshold.
func grantAmount(balance int64, p SupportPolicy) int64 {
	if p.Mode != SupportModeTiered {
		return p.Amount
	}
	if balance >= p.TierMaxBalance {
		return 0
	}
	gap := p.TierTarget - balance
	if gap <= 0 {
		return 0
	}
	return (gap / 2) * 2
}

// formatRemaining renders a duration the way the cooldown message needs it:
// largest whole unit, floor, never below one minute.
func formatRemaining(d time.Duration) string {
	switch {
	case d >= 48*time.Hour:
		return fmt.Sprintf("%d days", int(d.Hours())/24)
	case d >= 2*time.Hour:
		return fmt.Sprintf("%d hours", int(d.Hours()))
	case d >= 2*time.Minute:
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	default:
		return "1 minute"
	}
}
