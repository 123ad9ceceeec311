package books

import (
	"context"

	"github.com/avoronin/potledger/internal/ledger"
	"github.com/avoronin/potledger/internal/saga"
	"github.com/shopspring/decimal"
)

// AdjustPot posts a manual correction to the owner pot: positive for
// found money, negative for write-offs. Returns the entry id.
func (s *Service) AdjustPot(ctx context.Context, amount decimal.Decimal, note string, date ledger.Date) (int64, error) {
	var entryID int64

	op := saga.Operation{
		Name: "adjust_pot",
		Validate: func() error {
			if amount.IsZero() {
				return precondition("adjustment amount must not be zero")
			}
			if note == "" {
				return precondition("a pot adjustment needs a note")
			}
			return nil
		},
		Steps: []saga.Step{
			{
				Name: "post_adjustment",
				Do: func() error {
					var err error
					entryID, err = s.postEntry(ctx, ledger.Entry{
						AccountType: ledger.AccountOwner,
						AccountID:   ledger.PotAccountID,
						EntryType:   ledger.EntryPotAdjustment,
						Amount:      amount,
						Currency:    "USD",
						Note:        note,
						Date:        date,
					})
					return err
				},
				Undo: func() error { return s.ledger.Delete(ctx, entryID) },
			},
		},
	}

	if err := s.saga.Run(ctx, op); err != nil {
		return 0, err
	}
	return entryID, nil
}

// PotBalance is the owner pot's derived balance.
func (s *Service) PotBalance() (decimal.Decimal, error) {
	return s.ledger.Balance(ledger.OwnerPot())
}
