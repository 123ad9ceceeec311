package books

import (
	"context"
	"time"

	"github.com/avoronin/potledger/internal/ledger"
	"github.com/avoronin/potledger/internal/saga"
	"github.com/avoronin/potledger/internal/store"
	"github.com/shopspring/decimal"
)

// CreditDividends moves an amount off a partner's regular account into
// their dividends account: a payout entry on the partner side, a
// dividend_credit on the dividends side, and the partner row's cached
// balance bumped. The first entry's id is the correlation id. The cached
// balance is display sugar; the dividends ledger account stays the source
// of truth.
func (s *Service) CreditDividends(ctx context.Context, partnerID int64, amount decimal.Decimal, note string, date ledger.Date) error {
	var (
		partner  *Partner
		oldRec   store.Record
		payoutID int64
		creditID int64
	)

	if date.IsZero() {
		date = ledger.Today()
	}
	now := time.Now().UTC()

	op := saga.Operation{
		Name: "credit_dividends",
		Validate: func() error {
			if !amount.IsPositive() {
				return precondition("amount must be positive")
			}
			var err error
			if partner, err = s.Partner(partnerID); err != nil {
				return wrapRead(err)
			}
			if !partner.HasDividends {
				return precondition("partner %d has no dividends account", partnerID)
			}
			if oldRec, err = s.store.Get(TablePartners, partnerID); err != nil {
				return wrapRead(err)
			}
			return nil
		},
		Steps: []saga.Step{
			{
				Name: "update_cached_balance",
				Do: func() error {
					_, err := s.store.Update(TablePartners, []int64{partnerID}, store.Record{
						"dividends_account": store.Record{
							"balance": partner.DividendsBalance.Add(amount),
						},
					})
					return err
				},
				Undo: func() error { return s.store.Replace(TablePartners, partnerID, oldRec) },
			},
			{
				Name: "post_partner_payout",
				Do: func() error {
					var err error
					payoutID, err = s.postEntry(ctx, ledger.Entry{
						AccountType: ledger.AccountPartner,
						AccountID:   partnerAccount(partnerID).ID,
						EntryType:   ledger.EntryPayout,
						Amount:      amount.Neg(),
						Currency:    partner.Currency,
						Note:        note,
						Date:        date,
						Timestamp:   now,
					})
					return err
				},
				Undo: func() error { return s.ledger.Delete(ctx, payoutID) },
			},
			{
				Name: "post_dividend_credit",
				Do: func() error {
					var err error
					creditID, err = s.postEntry(ctx, ledger.Entry{
						AccountType: ledger.AccountPartnerDividends,
						AccountID:   partnerDividendsAccount(partnerID).ID,
						EntryType:   ledger.EntryDividendCredit,
						RelatedID:   payoutID,
						Amount:      amount,
						Currency:    partner.Currency,
						Note:        note,
						Date:        date,
						Timestamp:   now,
					})
					return err
				},
				Undo: func() error { return s.ledger.Delete(ctx, creditID) },
			},
		},
	}

	return s.saga.Run(ctx, op)
}

// WithdrawInput describes a dividends withdrawal. Amount is in the
// partner's currency; FeeAmt (same currency) and USDAmt describe the
// transfer out of the pot. The effective rate is (amount − fee) / usd.
type WithdrawInput struct {
	PartnerID int64
	Amount    decimal.Decimal
	FeeAmt    decimal.Decimal
	USDAmt    decimal.Decimal
	Note      string
	Date      ledger.Date
}

// WithdrawDividends pays accumulated dividends out: dividends account
// down by the local amount, owner pot down by the USD sent, an optional
// fee entry on the pot, and the cached balance decremented. Fails
// precondition when the dividends ledger balance cannot cover the amount.
func (s *Service) WithdrawDividends(ctx context.Context, in WithdrawInput) error {
	var (
		partner *Partner
		oldRec  store.Record

		withdrawalID int64
		ownerID      int64
		feeID        int64
	)

	date := in.Date
	if date.IsZero() {
		date = ledger.Today()
	}
	now := time.Now().UTC()

	var fx *decimal.Decimal
	if !in.USDAmt.IsZero() {
		v := in.Amount.Sub(in.FeeAmt).Div(in.USDAmt)
		fx = &v
	}

	op := saga.Operation{
		Name: "withdraw_dividends",
		Validate: func() error {
			if !in.Amount.IsPositive() {
				return precondition("amount must be positive")
			}
			if in.FeeAmt.IsNegative() || in.USDAmt.IsNegative() {
				return precondition("fee and usd amount must not be negative")
			}
			var err error
			if partner, err = s.Partner(in.PartnerID); err != nil {
				return wrapRead(err)
			}
			if !partner.HasDividends {
				return precondition("partner %d has no dividends account", in.PartnerID)
			}
			balance, err := s.ledger.Balance(partnerDividendsAccount(in.PartnerID))
			if err != nil {
				return err
			}
			if balance.LessThan(in.Amount) {
				return precondition("dividends balance %s cannot cover %s", balance, in.Amount)
			}
			if oldRec, err = s.store.Get(TablePartners, in.PartnerID); err != nil {
				return wrapRead(err)
			}
			return nil
		},
	}

	steps := []saga.Step{
		{
			Name: "update_cached_balance",
			Do: func() error {
				_, err := s.store.Update(TablePartners, []int64{in.PartnerID}, store.Record{
					"dividends_account": store.Record{
						"balance": partner.DividendsBalance.Sub(in.Amount),
					},
				})
				return err
			},
			Undo: func() error { return s.store.Replace(TablePartners, in.PartnerID, oldRec) },
		},
		{
			Name: "post_withdrawal_entry",
			Do: func() error {
				var err error
				withdrawalID, err = s.postEntry(ctx, ledger.Entry{
					AccountType: ledger.AccountPartnerDividends,
					AccountID:   partnerDividendsAccount(in.PartnerID).ID,
					EntryType:   ledger.EntryDividendWithdrawal,
					Amount:      in.Amount.Neg(),
					Currency:    partner.Currency,
					Note:        in.Note,
					Date:        date,
					Timestamp:   now,
				})
				return err
			},
			Undo: func() error { return s.ledger.Delete(ctx, withdrawalID) },
		},
		{
			Name: "post_owner_entry",
			Do: func() error {
				var err error
				ownerID, err = s.postEntry(ctx, ledger.Entry{
					AccountType: ledger.AccountOwner,
					AccountID:   ledger.PotAccountID,
					EntryType:   ledger.EntryPayoutSent,
					RelatedID:   withdrawalID,
					Amount:      in.USDAmt.Neg(),
					Currency:    "USD",
					Note:        in.Note,
					Date:        date,
					Timestamp:   now,
					FeeAmt:      &in.FeeAmt,
					FxRate:      fx,
					USDAmt:      &in.USDAmt,
				})
				return err
			},
			Undo: func() error { return s.ledger.Delete(ctx, ownerID) },
		},
	}

	if in.FeeAmt.IsPositive() {
		steps = append(steps, saga.Step{
			Name: "post_fee_entry",
			Do: func() error {
				var err error
				feeID, err = s.postEntry(ctx, ledger.Entry{
					AccountType: ledger.AccountOwner,
					AccountID:   ledger.PotAccountID,
					EntryType:   ledger.EntryFee,
					RelatedID:   withdrawalID,
					Amount:      in.FeeAmt.Neg(),
					Currency:    partner.Currency,
					Date:        date,
					Timestamp:   now,
					FeeAmt:      &in.FeeAmt,
				})
				return err
			},
			Undo: func() error { return s.ledger.Delete(ctx, feeID) },
		})
	}

	op.Steps = steps
	return s.saga.Run(ctx, op)
}
