package ledger

import (
	"fmt"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is well-formed and balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidatePotMatches verifies the pot account holds exactly the amount the
// lottery record says it does.
func (v *InvariantValidator) ValidatePotMatches(lotteryID string, assetID AssetID, potAmount uint64) error {
	balance := v.tracker.GetPotBalance(lotteryID, assetID)
	if balance < 0 || uint64(balance) != potAmount {
		return fmt.Errorf("pot for %s holds %d, record says %d", lotteryID, balance, potAmount)
	}
	return nil
}

// ValidateTouchedNonNegative checks every non-boundary account a batch moved
// is still >= 0.
func (v *InvariantValidator) ValidateTouchedNonNegative(batch *Batch) error {
	if batch.Empty() {
		return nil
	}
	for _, j := range batch.Journals {
		for _, key := range []AccountKey{j.DebitAccount, j.CreditAccount} {
			if key.MayGoNegative() {
				continue
			}
			if err := v.tracker.ValidateNonNegative(key); err != nil {
				return err
			}
		}
	}
	return nil
}

// ValidateGlobalBalance verifies system is zero-sum
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for assetID, total := range totals {
		if total != 0 {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("global balance for %s is non-zero: %d", assetName, total)
		}
	}

	return nil
}
