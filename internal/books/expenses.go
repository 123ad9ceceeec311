package books

import (
	"context"
	"time"

	"github.com/avoronin/potledger/internal/ledger"
	"github.com/avoronin/potledger/internal/saga"
	"github.com/avoronin/potledger/internal/store"
	"github.com/shopspring/decimal"
)

// ExpenseInput describes money spent from one of the accounts. Amount is
// in the account's local currency; FeePerc is the transfer fee percentage
// and USDAmt the USD equivalent actually spent. The effective exchange
// rate is derived, never supplied.
type ExpenseInput struct {
	Account  ledger.Account
	Amount   decimal.Decimal
	FeePerc  decimal.Decimal
	USDAmt   decimal.Decimal
	Currency string
	Category string
	Note     string
	Date     ledger.Date
}

var hundred = decimal.NewFromInt(100)

// expenseFx derives the effective rate: the amount net of the percentage
// fee, divided by the USD spent. Nil when no USD amount was given.
func expenseFx(amount, feePerc, usd decimal.Decimal) *decimal.Decimal {
	if usd.IsZero() {
		return nil
	}
	net := amount.Sub(amount.Mul(feePerc).Div(hundred))
	fx := net.Div(usd)
	return &fx
}

// PayExpense records an expense: one row in the expenses table and one
// negative entry on the paying account, correlated by the row id.
func (s *Service) PayExpense(ctx context.Context, in ExpenseInput) (int64, error) {
	var (
		expenseID int64
		entryID   int64
	)

	date := in.Date
	if date.IsZero() {
		date = ledger.Today()
	}
	now := time.Now().UTC()
	fx := expenseFx(in.Amount, in.FeePerc, in.USDAmt)

	op := saga.Operation{
		Name: "pay_expense",
		Validate: func() error {
			if !in.Amount.IsPositive() {
				return precondition("amount must be positive")
			}
			if in.FeePerc.IsNegative() || in.USDAmt.IsNegative() {
				return precondition("fee percentage and usd amount must not be negative")
			}
			if in.Account.Type == "" || in.Account.ID == "" {
				return precondition("paying account required")
			}
			return nil
		},
		Steps: []saga.Step{
			{
				Name: "insert_expense",
				Do: func() error {
					rec := store.Record{
						"account_type": string(in.Account.Type),
						"account_id":   in.Account.ID,
						"amount":       in.Amount,
						"fee_perc":     in.FeePerc,
						"usd_amt":      in.USDAmt,
						"currency":     in.Currency,
						"category":     in.Category,
						"note":         in.Note,
						"date":         date.String(),
						"timestamp":    now.Format(time.RFC3339Nano),
					}
					if fx != nil {
						rec["fx_rate"] = *fx
					}
					var err error
					expenseID, err = s.store.Insert(TableExpenses, rec)
					return err
				},
				Undo: func() error {
					_, err := s.store.Remove(TableExpenses, expenseID)
					return err
				},
			},
			{
				Name: "post_expense_entry",
				Do: func() error {
					var err error
					entryID, err = s.postEntry(ctx, expenseEntry(in, expenseID, date, now, fx))
					return err
				},
				Undo: func() error { return s.ledger.Delete(ctx, entryID) },
			},
		},
	}

	if err := s.saga.Run(ctx, op); err != nil {
		return 0, err
	}
	return expenseID, nil
}

// EditExpense replaces an expense's amount, fee, usd amount and note. The
// old entry is deleted by correlation and re-posted with the rate
// recalculated from the new figures.
func (s *Service) EditExpense(ctx context.Context, expenseID int64, in ExpenseInput) error {
	var (
		oldRec     store.Record
		acct       ledger.Account
		oldEntries []ledger.Entry
		newEntryID int64
	)

	date := in.Date
	if date.IsZero() {
		date = ledger.Today()
	}
	now := time.Now().UTC()
	fx := expenseFx(in.Amount, in.FeePerc, in.USDAmt)

	op := saga.Operation{
		Name: "edit_expense",
		Validate: func() error {
			if !in.Amount.IsPositive() {
				return precondition("amount must be positive")
			}
			var err error
			if oldRec, err = s.store.Get(TableExpenses, expenseID); err != nil {
				return wrapRead(err)
			}
			acct = ledger.Account{
				Type: ledger.AccountType(recString(oldRec, "account_type")),
				ID:   recString(oldRec, "account_id"),
			}
			if oldEntries, err = s.relatedEntries(expenseID, acct); err != nil {
				return err
			}
			return nil
		},
		Steps: []saga.Step{
			{
				Name: "update_expense_row",
				Do: func() error {
					patch := store.Record{
						"amount":   in.Amount,
						"fee_perc": in.FeePerc,
						"usd_amt":  in.USDAmt,
						"note":     in.Note,
					}
					if fx != nil {
						patch["fx_rate"] = *fx
					}
					_, err := s.store.Update(TableExpenses, []int64{expenseID}, patch)
					return err
				},
				Undo: func() error { return s.store.Replace(TableExpenses, expenseID, oldRec) },
			},
			{
				Name: "delete_old_entry",
				Do: func() error {
					_, err := s.ledger.DeleteByRelated(ctx, acct, expenseID)
					return err
				},
				Undo: func() error { return s.repostEntries(ctx, oldEntries) },
			},
			{
				Name: "post_new_entry",
				Do: func() error {
					e := in
					e.Account = acct
					if e.Currency == "" {
						e.Currency = recString(oldRec, "currency")
					}
					var err error
					newEntryID, err = s.postEntry(ctx, expenseEntry(e, expenseID, date, now, fx))
					return err
				},
				Undo: func() error { return s.ledger.Delete(ctx, newEntryID) },
			},
		},
	}

	return s.saga.Run(ctx, op)
}

// DeleteExpense removes the expense row and its correlated entry.
func (s *Service) DeleteExpense(ctx context.Context, expenseID int64) error {
	var (
		oldRec     store.Record
		acct       ledger.Account
		oldEntries []ledger.Entry
	)

	op := saga.Operation{
		Name: "delete_expense",
		Validate: func() error {
			var err error
			if oldRec, err = s.store.Get(TableExpenses, expenseID); err != nil {
				return wrapRead(err)
			}
			acct = ledger.Account{
				Type: ledger.AccountType(recString(oldRec, "account_type")),
				ID:   recString(oldRec, "account_id"),
			}
			if oldEntries, err = s.relatedEntries(expenseID, acct); err != nil {
				return err
			}
			return nil
		},
		Steps: []saga.Step{
			{
				Name: "delete_ledger_entry",
				Do: func() error {
					_, err := s.ledger.DeleteByRelated(ctx, acct, expenseID)
					return err
				},
				Undo: func() error { return s.repostEntries(ctx, oldEntries) },
			},
			{
				Name: "remove_expense_row",
				Do: func() error {
					_, err := s.store.Remove(TableExpenses, expenseID)
					return err
				},
				Undo: func() error { return s.store.Restore(TableExpenses, expenseID, oldRec) },
			},
		},
	}

	return s.saga.Run(ctx, op)
}

func expenseEntry(in ExpenseInput, expenseID int64, date ledger.Date, ts time.Time, fx *decimal.Decimal) ledger.Entry {
	e := ledger.Entry{
		AccountType: in.Account.Type,
		AccountID:   in.Account.ID,
		EntryType:   ledger.EntryExpense,
		RelatedID:   expenseID,
		Amount:      in.Amount.Neg(),
		Currency:    in.Currency,
		Note:        in.Note,
		Date:        date,
		Timestamp:   ts,
		FxRate:      fx,
	}
	if !in.FeePerc.IsZero() {
		fee := in.FeePerc
		e.FeePerc = &fee
	}
	if !in.USDAmt.IsZero() {
		usd := in.USDAmt
		e.USDAmt = &usd
	}
	return e
}
