package books

import (
	"context"
	"time"

	"github.com/avoronin/potledger/internal/ledger"
	"github.com/avoronin/potledger/internal/saga"
	"github.com/avoronin/potledger/internal/store"
	"github.com/shopspring/decimal"
)

// PaymentInput describes a customer paying down their balance. Amount is
// in the customer's currency; USDAmt is what actually landed in the pot
// after conversion and transfer fees.
type PaymentInput struct {
	CustomerID int64
	Amount     decimal.Decimal
	FeeAmt     decimal.Decimal
	FxRate     decimal.Decimal
	USDAmt     decimal.Decimal
	Note       string
	Date       ledger.Date
}

// RecordPayment credits the customer with the local amount and the owner
// pot with the received USD amount, correlated to the payment row.
func (s *Service) RecordPayment(ctx context.Context, in PaymentInput) (int64, error) {
	var (
		customer  *Customer
		paymentID int64
		custID    int64
		ownerID   int64
	)

	date := in.Date
	if date.IsZero() {
		date = ledger.Today()
	}
	now := time.Now().UTC()

	op := saga.Operation{
		Name: "record_payment",
		Validate: func() error {
			if !in.Amount.IsPositive() {
				return precondition("amount must be positive")
			}
			if in.USDAmt.IsNegative() || in.FeeAmt.IsNegative() {
				return precondition("usd amount and fee must not be negative")
			}
			var err error
			if customer, err = s.Customer(in.CustomerID); err != nil {
				return wrapRead(err)
			}
			return nil
		},
		Steps: []saga.Step{
			{
				Name: "insert_payment",
				Do: func() error {
					var err error
					paymentID, err = s.store.Insert(TablePayments, store.Record{
						"customer_id": in.CustomerID,
						"amount":      in.Amount,
						"fee_amt":     in.FeeAmt,
						"fx_rate":     in.FxRate,
						"usd_amt":     in.USDAmt,
						"currency":    customer.Currency,
						"note":        in.Note,
						"date":        date.String(),
						"timestamp":   now.Format(time.RFC3339Nano),
					})
					return err
				},
				Undo: func() error {
					_, err := s.store.Remove(TablePayments, paymentID)
					return err
				},
			},
			{
				Name: "post_customer_entry",
				Do: func() error {
					var err error
					custID, err = s.postEntry(ctx, ledger.Entry{
						AccountType: ledger.AccountCustomer,
						AccountID:   customerAccount(in.CustomerID).ID,
						EntryType:   ledger.EntryPayment,
						RelatedID:   paymentID,
						Amount:      in.Amount,
						Currency:    customer.Currency,
						Note:        in.Note,
						Date:        date,
						Timestamp:   now,
					})
					return err
				},
				Undo: func() error { return s.ledger.Delete(ctx, custID) },
			},
			{
				Name: "post_owner_entry",
				Do: func() error {
					var err error
					ownerID, err = s.postEntry(ctx, ledger.Entry{
						AccountType: ledger.AccountOwner,
						AccountID:   ledger.PotAccountID,
						EntryType:   ledger.EntryPaymentRecv,
						RelatedID:   paymentID,
						Amount:      in.USDAmt,
						Currency:    "USD",
						Note:        in.Note,
						Date:        date,
						Timestamp:   now,
						FeeAmt:      &in.FeeAmt,
						FxRate:      &in.FxRate,
						USDAmt:      &in.USDAmt,
					})
					return err
				},
				Undo: func() error { return s.ledger.Delete(ctx, ownerID) },
			},
		},
	}

	if err := s.saga.Run(ctx, op); err != nil {
		return 0, err
	}
	return paymentID, nil
}

// PayoutInput describes money sent out to a partner: Amount in the
// partner's currency, USDAmt what left the pot.
type PayoutInput struct {
	PartnerID int64
	Amount    decimal.Decimal
	FeeAmt    decimal.Decimal
	FxRate    decimal.Decimal
	USDAmt    decimal.Decimal
	Note      string
	Date      ledger.Date
}

// RecordPayout credits the partner with the local amount and debits the
// owner pot with the USD amount sent, correlated to the payout row.
func (s *Service) RecordPayout(ctx context.Context, in PayoutInput) (int64, error) {
	var (
		partner   *Partner
		payoutID  int64
		partnerID int64
		ownerID   int64
	)

	date := in.Date
	if date.IsZero() {
		date = ledger.Today()
	}
	now := time.Now().UTC()

	op := saga.Operation{
		Name: "record_payout",
		Validate: func() error {
			if !in.Amount.IsPositive() {
				return precondition("amount must be positive")
			}
			if in.USDAmt.IsNegative() || in.FeeAmt.IsNegative() {
				return precondition("usd amount and fee must not be negative")
			}
			var err error
			if partner, err = s.Partner(in.PartnerID); err != nil {
				return wrapRead(err)
			}
			return nil
		},
		Steps: []saga.Step{
			{
				Name: "insert_payout",
				Do: func() error {
					var err error
					payoutID, err = s.store.Insert(TablePayouts, store.Record{
						"partner_id": in.PartnerID,
						"amount":     in.Amount,
						"fee_amt":    in.FeeAmt,
						"fx_rate":    in.FxRate,
						"usd_amt":    in.USDAmt,
						"currency":   partner.Currency,
						"note":       in.Note,
						"date":       date.String(),
						"timestamp":  now.Format(time.RFC3339Nano),
					})
					return err
				},
				Undo: func() error {
					_, err := s.store.Remove(TablePayouts, payoutID)
					return err
				},
			},
			{
				Name: "post_partner_entry",
				Do: func() error {
					var err error
					partnerID, err = s.postEntry(ctx, ledger.Entry{
						AccountType: ledger.AccountPartner,
						AccountID:   partnerAccount(in.PartnerID).ID,
						EntryType:   ledger.EntryPayment,
						RelatedID:   payoutID,
						Amount:      in.Amount,
						Currency:    partner.Currency,
						Note:        in.Note,
						Date:        date,
						Timestamp:   now,
					})
					return err
				},
				Undo: func() error { return s.ledger.Delete(ctx, partnerID) },
			},
			{
				Name: "post_owner_entry",
				Do: func() error {
					var err error
					ownerID, err = s.postEntry(ctx, ledger.Entry{
						AccountType: ledger.AccountOwner,
						AccountID:   ledger.PotAccountID,
						EntryType:   ledger.EntryPayoutSent,
						RelatedID:   payoutID,
						Amount:      in.USDAmt.Neg(),
						Currency:    "USD",
						Note:        in.Note,
						Date:        date,
						Timestamp:   now,
						FeeAmt:      &in.FeeAmt,
						FxRate:      &in.FxRate,
						USDAmt:      &in.USDAmt,
					})
					return err
				},
				Undo: func() error { return s.ledger.Delete(ctx, ownerID) },
			},
		},
	}

	if err := s.saga.Run(ctx, op); err != nil {
		return 0, err
	}
	return payoutID, nil
}
